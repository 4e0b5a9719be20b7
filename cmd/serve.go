package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/facewatch/internal/attendance"
	"github.com/kozaktomas/facewatch/internal/config"
	"github.com/kozaktomas/facewatch/internal/constants"
	"github.com/kozaktomas/facewatch/internal/database"
	"github.com/kozaktomas/facewatch/internal/embedding"
	"github.com/kozaktomas/facewatch/internal/enroll"
	"github.com/kozaktomas/facewatch/internal/logging"
	"github.com/kozaktomas/facewatch/internal/session"
	"github.com/kozaktomas/facewatch/internal/settings"
	"github.com/kozaktomas/facewatch/internal/stream"
	"github.com/kozaktomas/facewatch/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server",
	Long: `Start the facewatch web server.
The server accepts stream start/stop requests, serves the live MJPEG feed
and publishes recognition results as NDJSON, server-sent events and
WebSocket messages. It also hosts the attendance collator.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "Port to listen on (overrides WEB_PORT)")
	serveCmd.Flags().String("host", "", "Host to bind to (overrides WEB_HOST)")
	serveCmd.Flags().String("roster", "", "Identity source file (inside DATA_DIR) used as the attendance roster")
	serveCmd.Flags().Bool("collate", false, "Collate attendance from the local stream from startup")
}

// resolveServeHostPort applies --host and --port on top of the environment.
func resolveServeHostPort(cmd *cobra.Command, cfg *config.Config) {
	if port := mustGetInt(cmd, "port"); port > 0 {
		cfg.Web.Port = port
	}
	if host := mustGetString(cmd, "host"); host != "" {
		cfg.Web.Host = host
	}
}

// openDetectionLog returns the log that receives "<name> detected" lines and
// a function that closes it. The prefixed fallback shares the service log,
// so its close is a no-op.
func openDetectionLog(path string, log logs.Log) (logs.Log, func(), error) {
	if path == "" {
		return logging.NewPrefixLogger(log, "[detection]"), func() {}, nil
	}
	fileLog, err := logging.OpenFileLog(path)
	if err != nil {
		return nil, nil, err
	}
	log.Infof("Writing detections to %s", path)
	return fileLog, fileLog.Close, nil
}

// loadRoster fills the attendance store from the previous output and, when
// given, an identity source file. The source wins over the previous output.
func loadRoster(cfg *config.Config, store *attendance.Store, roster string) error {
	if cfg.Attendance.OutputPath != "" {
		if err := store.LoadPrevOutput(cfg.Attendance.OutputPath); err != nil {
			return err
		}
	}
	if roster == "" {
		return nil
	}

	path, err := enroll.ResolveSource(cfg.Paths.DataDir, roster)
	if err != nil {
		return err
	}
	src, err := enroll.ReadSource(cfg.Paths.DataDir, path)
	if err != nil {
		return err
	}
	store.LoadSource(src)
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	resolveServeHostPort(cmd, cfg)

	log, err := logs.NewLog()
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer log.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, closeStore, err := openRecordStore(ctx, cfg, log)
	if err != nil && !errors.Is(err, database.ErrNoBackend) {
		return fmt.Errorf("failed to initialize identity store: %w", err)
	}
	defer closeStore()
	if store == nil {
		log.Warnf("No DATABASE_URL or MARIADB_DSN set, identities must be enrolled from a data file on every start")
	}

	settingsStore, err := settings.NewStore(cfg.Paths.SettingsPath)
	if err != nil {
		return fmt.Errorf("loading settings: %w", err)
	}

	detectionLog, closeDetectionLog, err := openDetectionLog(cfg.Paths.DetectionLog, log)
	if err != nil {
		return fmt.Errorf("opening detection log: %w", err)
	}
	defer closeDetectionLog()

	embedder := embedding.NewClient(cfg.Embedding.URL, cfg.Embedding.Dim, cfg.Embedding.Timeout)
	if err := embedder.Health(ctx); err != nil {
		log.Warnf("Embedding server at %s is not reachable yet: %v", embedder.BaseURL(), err)
	}

	gallery := database.NewGallery(database.NewIndexFactory(cfg.Database.IndexKind))
	indexCache := database.IndexCache{Path: cfg.Database.HNSWIndexPath}

	sess := session.New(session.Config{
		Source: stream.Router{
			FFmpeg: stream.NewFFmpegSource(cfg.Stream, log),
			Camera: stream.NewCameraSource(cfg.Stream.Width, cfg.Stream.Height, log),
		},
		Detector:     embedder,
		Store:        store,
		Gallery:      gallery,
		Settings:     settingsStore,
		DataDir:      cfg.Paths.DataDir,
		IndexCache:   indexCache,
		Log:          log,
		Detection:    detectionLog,
		Interval:     cfg.Recognition.Interval,
		IdleSleep:    cfg.Recognition.IdleSleep,
		MaxImageSize: constants.MaxImageSize,
		Progress:     os.Stderr,
	})

	rosterStore := attendance.NewStore(log)
	if err := loadRoster(cfg, rosterStore, mustGetString(cmd, "roster")); err != nil {
		return fmt.Errorf("loading attendance roster: %w", err)
	}
	collator := attendance.NewCollator(rosterStore, log)
	defer collator.Close()

	if mustGetBool(cmd, "collate") {
		err := collator.Follow(ctx, attendance.LocalSource, cfg.Attendance.UpdateInterval, time.Second, sess.StreamResults)
		if err != nil {
			return fmt.Errorf("starting local collation: %w", err)
		}
		log.Infof("Collating attendance from the local stream every %s", cfg.Attendance.UpdateInterval)
	}

	var identityReader database.RecordReader
	if store != nil {
		identityReader = store
	}
	server := web.NewServer(cfg, web.Dependencies{
		Session:  sess,
		Gallery:  gallery,
		Store:    identityReader,
		Collator: collator,
		Embedder: embedder,
		Log:      log,
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Infof("Shutting down...")

		// the engine empties the gallery when the run ends
		if gallery.Len() > 0 {
			if err := indexCache.Save(gallery.Index(), gallery.Records()); err != nil {
				log.Warnf("Failed to save HNSW index: %v", err)
			}
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Errorf("Error during shutdown: %v", err)
		}
	}()

	fmt.Printf("Starting facewatch on http://%s:%d\n", cfg.Web.Host, cfg.Web.Port)
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}
