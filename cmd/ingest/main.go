package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"

	"dialogger/internal/authcache"
	"dialogger/internal/config"
	"dialogger/internal/db"
	"dialogger/internal/httpserver"
	"dialogger/internal/storage"
)

const (
	orphanSweepInterval = time.Hour
	orphanSweepCutoff   = time.Hour
)

func main() {
	// Setting up logger
	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportCaller:    true,
		ReportTimestamp: true,
		TimeFormat:      "2006-01-02 15:04:05",
		Level:           log.InfoLevel,
	})

	// Initializing global context instance
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c, err := config.Load()
	if err != nil {
		logger.Error("Error loading configuration", "error", err)
		os.Exit(1)
	}

	// Validating configuration
	if err := c.ValidateIngest(); err != nil {
		logger.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	if level, err := log.ParseLevel(c.GeneralParams.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	addr := fmt.Sprintf("%s:%d", c.IngestParams.Host, c.IngestParams.Port)

	logger.Info(
		"Configuration loaded",
		"http_addr", addr,
		"storage_dir", c.GeneralParams.AudioStorageDir,
		"max_upload_bytes", c.IngestParams.MaxUploadSizeBytes,
	)

	// The ingest service owns the schema
	if err := db.RunMigrations(c.GeneralParams.DatabaseURL); err != nil {
		logger.Error("Failed to apply migrations", "error", err)
		os.Exit(1)
	}

	logger.Info("Migrations applied")

	// Creating database connection pool
	pool, err := db.CreatePostgresPool(ctx, c.GeneralParams.DatabaseURL)
	if err != nil {
		logger.Error("Failed to create postgres pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	logger.Info("Database connection established")

	// Creates database store
	store := db.NewPostgresStore(pool)

	// Audio volume
	audioStore := storage.New(c.GeneralParams.AudioStorageDir, logger)
	if !audioStore.CheckWritable() {
		logger.Error("Audio storage dir is not writable", "dir", c.GeneralParams.AudioStorageDir)
		os.Exit(1)
	}

	// Optional device-token cache
	var cache *authcache.Cache
	if c.IngestParams.RedisURL != "" {
		cache, err = authcache.New(c.IngestParams.RedisURL)
		if err != nil {
			logger.Error("Failed to create auth cache", "error", err)
			os.Exit(1)
		}
		defer cache.Close()

		logger.Info("Device auth cache initialized")
	}

	// Creates HTTP server
	HTTPserver := httpserver.New(
		addr,
		store,
		store,
		store,
		audioStore,
		cache,
		c.IngestParams,
		logger,
	)

	// Periodic cleanup of files that never got a chunk row
	go orphanSweepLoop(ctx, audioStore, store, logger)

	// Channel to listen for errors coming from the server
	serverErrors := make(chan error, 1)

	// Start the HTTP server in a gorutine
	go func() {
		serverErrors <- HTTPserver.Start()
	}()

	// Channel to listen for interrupt signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Block until we recieve a signal or error
	select {
	case err := <-serverErrors:
		logger.Error("Server error", "error", err)
		os.Exit(1)

	case sig := <-shutdown:
		logger.Info("Shutdown signal received", "signal", sig)

		// Give outstanding uploads 10s to complete
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		logger.Info("Shutting down HTTP server...")
		if err := HTTPserver.Shutdown(shutdownCtx); err != nil {
			logger.Error("Graceful shutdown failed", "error", err)
		}

		logger.Info("Server stopped gracefully")
	}
}

// orphanSweepLoop removes stale temp files and audio files with no chunk row.
// Only files older than an hour are touched so in-flight uploads stay safe.
func orphanSweepLoop(ctx context.Context, audioStore *storage.Store, store *db.PostgresStore, logger *log.Logger) {
	ticker := time.NewTicker(orphanSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		removed, err := audioStore.SweepOrphans(ctx, orphanSweepCutoff, store.ChunkExistsForPath)
		if err != nil {
			logger.Error("Orphan sweep failed", "error", err)
			continue
		}
		if removed > 0 {
			logger.Info("Orphan sweep complete", "removed", removed)
		}
	}
}
