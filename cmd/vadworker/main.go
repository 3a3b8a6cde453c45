package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"

	"dialogger/internal/config"
	"dialogger/internal/db"
	"dialogger/internal/dialogue"
	"dialogger/internal/vad"
	"dialogger/internal/worker"
)

func main() {
	// Setting up logger
	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportCaller:    true,
		ReportTimestamp: true,
		TimeFormat:      "2006-01-02 15:04:05",
		Level:           log.InfoLevel,
	})

	c, err := config.Load()
	if err != nil {
		logger.Error("Error loading configuration", "error", err)
		os.Exit(1)
	}

	// Validating configuration
	if err := c.ValidateWorker(); err != nil {
		logger.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	if level, err := log.ParseLevel(c.GeneralParams.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	logger.Info(
		"Configuration loaded",
		"storage_dir", c.GeneralParams.AudioStorageDir,
		"vad_aggressiveness", c.VADParams.Aggressiveness,
		"vad_frame_ms", c.VADParams.FrameMs,
	)

	// Interrupt handling: first signal cancels the run context, the worker
	// then finishes its in-flight batch within the grace window.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	// VAD pipeline: opus decode, frame classification, smoothing
	classifier, err := vad.NewWebRTCClassifier(c.VADParams.Aggressiveness)
	if err != nil {
		logger.Error("Failed to create VAD classifier", "error", err)
		os.Exit(1)
	}

	detector := vad.NewProcessor(
		vad.OpusDecoder{},
		classifier,
		vad.DefaultSegmenterConfig(c.VADParams.FrameMs),
	)

	w := worker.New(
		store,
		detector,
		c.GeneralParams.AudioStorageDir,
		c.WorkerParams,
		dialogue.Config{
			SilenceGap:  c.DialogueParams.SilenceGap,
			MaxDialogue: c.DialogueParams.MaxDialogue,
		},
		logger,
	)

	done := make(chan error, 1)
	go func() {
		done <- w.Run(ctx)
	}()

	select {
	case err := <-done:
		if err != nil {
			logger.Error("Worker error", "error", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		logger.Info("Shutdown signal received")

		// Bound the drain of the in-flight batch
		select {
		case err := <-done:
			if err != nil {
				logger.Error("Worker error during shutdown", "error", err)
				os.Exit(1)
			}
		case <-time.After(c.WorkerParams.ShutdownGrace):
			logger.Warn("Shutdown grace expired, exiting", "grace", c.WorkerParams.ShutdownGrace)
			os.Exit(1)
		}
	}
}
