package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/cyclopcam/logs"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/facewatch/internal/config"
	"github.com/kozaktomas/facewatch/internal/database"
)

var identitiesCmd = &cobra.Command{
	Use:   "identities",
	Short: "Inspect and manage stored identities",
}

var identitiesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored identities",
	Args:  cobra.NoArgs,
	RunE:  runIdentitiesList,
}

var identitiesRemoveCmd = &cobra.Command{
	Use:   "remove <name>...",
	Short: "Remove stored identities by name",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runIdentitiesRemove,
}

func init() {
	rootCmd.AddCommand(identitiesCmd)
	identitiesCmd.AddCommand(identitiesListCmd)
	identitiesCmd.AddCommand(identitiesRemoveCmd)

	identitiesListCmd.Flags().Bool("json", false, "Output as JSON")
}

// IdentityListItem is one row of `identities list --json`.
type IdentityListItem struct {
	Name string `json:"name"`
	Dim  int    `json:"dim"`
}

func runIdentitiesList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	cfg := config.Load()

	log, err := logs.NewLog()
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer log.Close()

	store, closeStore, err := requireRecordStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	records, err := store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("loading identities: %w", err)
	}

	if mustGetBool(cmd, "json") {
		items := make([]IdentityListItem, len(records))
		for i, r := range records {
			items[i] = IdentityListItem{Name: r.Name, Dim: r.Dim()}
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(items)
	}

	if len(records) == 0 {
		fmt.Println("No identities enrolled")
		return nil
	}
	fmt.Printf("%-4s %-40s %s\n", "#", "NAME", "DIM")
	for i, r := range records {
		fmt.Printf("%-4d %-40s %d\n", i+1, r.Name, r.Dim())
	}
	fmt.Printf("\nTotal: %d (fingerprint %s)\n", len(records), shortFingerprint(records))
	return nil
}

func runIdentitiesRemove(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	cfg := config.Load()

	log, err := logs.NewLog()
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer log.Close()

	store, closeStore, err := requireRecordStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	removed, err := store.Remove(ctx, args)
	if err != nil {
		return fmt.Errorf("removing identities: %w", err)
	}
	fmt.Printf("Removed %d identities\n", removed)
	if removed > 0 && cfg.Database.HNSWIndexPath != "" {
		fmt.Println("The persisted HNSW index no longer matches and will be rebuilt on the next load")
	}
	return nil
}

func shortFingerprint(records []database.IdentityRecord) string {
	fp := database.GalleryFingerprint(records)
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}
