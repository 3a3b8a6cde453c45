// Package worker is the headless VAD/dialogue worker: it claims QUEUED
// chunks, detects speech, stitches dialogues, and recovers stuck chunks.
package worker

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"dialogger/internal/config"
	"dialogger/internal/db"
	"dialogger/internal/dialogue"
	"dialogger/internal/vad"
)

// Store is the persistence surface the worker needs.
type Store interface {
	ClaimChunks(ctx context.Context, batchSize int) ([]*db.AudioChunk, error)
	MarkChunkError(ctx context.Context, chunkID uuid.UUID, reason string) error
	RequeueStuckChunks(ctx context.Context, stuckTimeout time.Duration) ([]uuid.UUID, error)
	CloseStaleDialogueStates(ctx context.Context, olderThan time.Duration) (int, error)
	CommitChunkResults(ctx context.Context, chunk *db.AudioChunk, segments []dialogue.Segment, cfg dialogue.Config) (*db.CommitResult, error)
	Ping(ctx context.Context) bool
}

// SegmentDetector runs VAD over one audio file.
type SegmentDetector interface {
	ProcessFile(path string, durationMs int) ([]vad.Segment, error)
}

type Worker struct {
	store       Store
	detector    SegmentDetector
	metrics     *Metrics
	logger      *log.Logger
	storageDir  string
	workerCfg   config.WorkerParams
	dialogueCfg dialogue.Config
}

func New(
	store Store,
	detector SegmentDetector,
	storageDir string,
	workerCfg config.WorkerParams,
	dialogueCfg dialogue.Config,
	logger *log.Logger,
) *Worker {
	return &Worker{
		store:       store,
		detector:    detector,
		metrics:     NewMetrics(),
		logger:      logger,
		storageDir:  storageDir,
		workerCfg:   workerCfg,
		dialogueCfg: dialogueCfg,
	}
}

// Run drives the worker until ctx is cancelled. It returns after the
// in-flight batch finished committing; callers bound that wait with the
// shutdown grace window.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.waitForDB(ctx); err != nil {
		return err
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		w.recoveryLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		w.metricsLoop(ctx)
	}()

	w.logger.Info(
		"Worker started",
		"poll_interval", w.workerCfg.PollInterval,
		"batch_size", w.workerCfg.BatchSize,
		"stuck_timeout", w.workerCfg.StuckTimeout,
		"silence_gap", w.dialogueCfg.SilenceGap,
		"max_dialogue", w.dialogueCfg.MaxDialogue,
	)

	for ctx.Err() == nil {
		processed, err := w.processBatch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			w.logger.Error("Batch failed", "error", err)
			sleepCtx(ctx, 5*time.Second)
			continue
		}

		if processed == 0 {
			sleepCtx(ctx, w.workerCfg.PollInterval)
		}
	}

	wg.Wait()
	w.metrics.Log(w.logger)
	w.logger.Info("Worker shutdown complete")

	return nil
}

// waitForDB blocks until the database answers, so the worker survives being
// started before Postgres.
func (w *Worker) waitForDB(ctx context.Context) error {
	for attempt := 1; attempt <= 30; attempt++ {
		if w.store.Ping(ctx) {
			w.logger.Info("Database connection established")
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		w.logger.Warn("Database not ready, retrying in 2s", "attempt", attempt)
		sleepCtx(ctx, 2*time.Second)
	}

	return errors.New("database did not become ready")
}

type vadResult struct {
	segments []vad.Segment
	vadTime  time.Duration
	err      error
}

// processBatch claims up to BatchSize chunks, runs VAD in parallel on a
// CPU-bound pool, then commits results sequentially in (device_id, start_ts)
// order so dialogue stitching sees each device's chunks in time order.
func (w *Worker) processBatch(ctx context.Context) (int, error) {
	chunks, err := w.store.ClaimChunks(ctx, w.workerCfg.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(chunks) == 0 {
		return 0, nil
	}

	w.logger.Info("Claimed chunks", "count", len(chunks))

	sort.Slice(chunks, func(i, j int) bool {
		if chunks[i].DeviceID != chunks[j].DeviceID {
			return bytes.Compare(chunks[i].DeviceID[:], chunks[j].DeviceID[:]) < 0
		}
		return chunks[i].StartTs.Before(chunks[j].StartTs)
	})

	results := make([]vadResult, len(chunks))
	g, gctx := errgroup.WithContext(context.WithoutCancel(ctx))
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, chunk := range chunks {
		g.Go(func() error {
			results[i] = w.runVAD(gctx, chunk)
			return nil
		})
	}
	g.Wait()

	// Claimed chunks are always driven to a terminal state or left for
	// recovery, even mid-shutdown, so commits run on an uncancelled
	// context with their own timeout.
	processed := 0
	for i, chunk := range chunks {
		commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		w.finishChunk(commitCtx, chunk, results[i])
		cancel()
		processed++
	}

	return processed, nil
}

func (w *Worker) finishChunk(ctx context.Context, chunk *db.AudioChunk, res vadResult) {
	if res.err != nil {
		w.logger.Error("Chunk processing failed", "chunk_id", chunk.ChunkID, "error", res.err)
		w.metrics.RecordChunkError()
		if err := w.store.MarkChunkError(ctx, chunk.ChunkID, res.err.Error()); err != nil {
			// Left in PROCESSING; the recovery loop requeues it.
			w.logger.Error("Failed to mark chunk error", "chunk_id", chunk.ChunkID, "error", err)
		}
		return
	}

	segments := make([]dialogue.Segment, len(res.segments))
	for i, seg := range res.segments {
		segments[i] = dialogue.Segment{StartMs: seg.StartMs, EndMs: seg.EndMs}
	}

	result, err := w.store.CommitChunkResults(ctx, chunk, segments, w.dialogueCfg)
	if err != nil {
		// Chunk stays PROCESSING and will be requeued after the stuck
		// timeout; nothing was persisted.
		w.logger.Error("Chunk commit failed", "chunk_id", chunk.ChunkID, "error", err)
		w.metrics.RecordChunkError()
		return
	}

	w.metrics.RecordChunkProcessed(res.vadTime, result.SegmentsCreated, result.DialoguesCreated)
	w.logger.Info(
		"Chunk processed",
		"chunk_id", chunk.ChunkID,
		"segments", result.SegmentsCreated,
		"dialogues_created", result.DialoguesCreated,
		"vad_time", res.vadTime,
	)
}

// runVAD decodes and classifies one chunk, retrying transient file errors
// with exponential backoff.
func (w *Worker) runVAD(ctx context.Context, chunk *db.AudioChunk) vadResult {
	fullPath := filepath.Join(w.storageDir, filepath.FromSlash(chunk.FilePath))
	durationMs := chunk.DurationSec * 1000

	delay := w.workerCfg.RetryDelay
	started := time.Now()

	var segments []vad.Segment
	var err error
	for attempt := 1; attempt <= w.workerCfg.MaxRetries; attempt++ {
		segments, err = w.detector.ProcessFile(fullPath, durationMs)
		if err == nil {
			break
		}
		if !errors.Is(err, fs.ErrNotExist) || attempt == w.workerCfg.MaxRetries {
			break
		}

		w.logger.Warn(
			"Audio file not readable, retrying",
			"chunk_id", chunk.ChunkID,
			"attempt", attempt,
			"delay", delay,
		)
		sleepCtx(ctx, delay)
		delay *= 2
	}

	return vadResult{
		segments: segments,
		vadTime:  time.Since(started),
		err:      err,
	}
}

// recoveryLoop requeues chunks stuck in PROCESSING and forgets open-dialogue
// state for devices that went silent long ago.
func (w *Worker) recoveryLoop(ctx context.Context) {
	ticker := time.NewTicker(w.workerCfg.RecoveryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		requeued, err := w.store.RequeueStuckChunks(ctx, w.workerCfg.StuckTimeout)
		if err != nil {
			w.logger.Error("Recovery failed", "error", err)
		} else if len(requeued) > 0 {
			w.metrics.RecordChunksRequeued(len(requeued))
			w.logger.Warn("Requeued stuck chunks", "count", len(requeued))
		}

		closed, err := w.store.CloseStaleDialogueStates(ctx, w.workerCfg.StuckTimeout)
		if err != nil {
			w.logger.Error("Stale dialogue sweep failed", "error", err)
		} else if closed > 0 {
			w.logger.Info("Closed stale dialogue states", "count", closed)
		}
	}
}

func (w *Worker) metricsLoop(ctx context.Context) {
	ticker := time.NewTicker(w.workerCfg.MetricsLogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.metrics.Log(w.logger)
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
