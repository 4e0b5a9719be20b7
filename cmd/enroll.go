package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/facewatch/internal/config"
	"github.com/kozaktomas/facewatch/internal/constants"
	"github.com/kozaktomas/facewatch/internal/database"
	"github.com/kozaktomas/facewatch/internal/embedding"
	"github.com/kozaktomas/facewatch/internal/enroll"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll <data-file>",
	Short: "Build identity embeddings from an identity source file",
	Long: `Read an identity source file from DATA_DIR, compute one averaged face
embedding per person through the embedding server and replace the stored
identities with the result.

The file lists the image folder and the images of every person:

  {"img_folder_path": "people", "details": [{"name": "Alice", "images": ["a1.jpg"]}]}

Examples:
  facewatch enroll people.json
  facewatch enroll people.json --dry-run --json`,
	Args: cobra.ExactArgs(1),
	RunE: runEnroll,
}

func init() {
	rootCmd.AddCommand(enrollCmd)

	enrollCmd.Flags().Int("concurrency", constants.EnrollConcurrency, "Number of people processed in parallel")
	enrollCmd.Flags().Bool("dry-run", false, "Compute embeddings without saving them")
	enrollCmd.Flags().Bool("json", false, "Output stats as JSON")
	enrollCmd.Flags().String("index", "", "Also write the HNSW index to this path (defaults to HNSW_INDEX_PATH)")
}

func runEnroll(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	cfg := config.Load()
	dryRun := mustGetBool(cmd, "dry-run")
	jsonOutput := mustGetBool(cmd, "json")

	log, err := logs.NewLog()
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer log.Close()

	path, err := enroll.ResolveSource(cfg.Paths.DataDir, args[0])
	if err != nil {
		return err
	}
	src, err := enroll.ReadSource(cfg.Paths.DataDir, path)
	if err != nil {
		return err
	}

	e := &enroll.Enroller{
		Detector:     embedding.NewClient(cfg.Embedding.URL, cfg.Embedding.Dim, cfg.Embedding.Timeout),
		DataDir:      cfg.Paths.DataDir,
		Log:          log,
		Concurrency:  mustGetInt(cmd, "concurrency"),
		MaxImageSize: constants.MaxImageSize,
	}
	if !jsonOutput {
		e.Progress = os.Stderr
	}

	var stats enroll.Stats
	if dryRun {
		_, stats, err = e.BuildRecords(ctx, src)
		if err != nil {
			return err
		}
	} else {
		store, closeStore, err := requireRecordStore(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer closeStore()

		e.Store = store
		e.Gallery = database.NewGallery(database.NewIndexFactory(cfg.Database.IndexKind))
		stats, err = e.Enroll(ctx, src)
		if err != nil {
			return err
		}

		indexPath := mustGetString(cmd, "index")
		if indexPath == "" {
			indexPath = cfg.Database.HNSWIndexPath
		}
		cache := database.IndexCache{Path: indexPath}
		if err := cache.Save(e.Gallery.Index(), e.Gallery.Records()); err != nil {
			log.Warnf("Saving HNSW index: %v", err)
		}
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	}
	printEnrollStats(stats, dryRun)
	return nil
}

func printEnrollStats(stats enroll.Stats, dryRun bool) {
	fmt.Println()
	if dryRun {
		fmt.Println("Dry run, nothing was saved")
	}
	fmt.Printf("People:         %d\n", stats.People)
	fmt.Printf("Enrolled:       %d\n", stats.Enrolled)
	fmt.Printf("Images used:    %d\n", stats.ImagesUsed)
	fmt.Printf("Images skipped: %d\n", stats.SkippedImages)
	if len(stats.SkippedPeople) > 0 {
		fmt.Printf("Skipped people: %s\n", strings.Join(stats.SkippedPeople, ", "))
	}
	fmt.Printf("Duration:       %s\n", stats.Duration.Round(time.Millisecond))
}
