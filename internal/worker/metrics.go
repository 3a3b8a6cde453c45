package worker

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
)

// Metrics collects per-window counters for the worker. Counters reset at
// every log interval; lifecycle is the process.
type Metrics struct {
	chunksProcessed  atomic.Int64
	chunksErrors     atomic.Int64
	chunksRequeued   atomic.Int64
	segmentsCreated  atomic.Int64
	dialoguesCreated atomic.Int64
	vadNanos         atomic.Int64

	mu          sync.Mutex
	windowStart time.Time
}

func NewMetrics() *Metrics {
	return &Metrics{windowStart: time.Now()}
}

func (m *Metrics) RecordChunkProcessed(vadTime time.Duration, segments, dialogues int) {
	m.chunksProcessed.Add(1)
	m.segmentsCreated.Add(int64(segments))
	m.dialoguesCreated.Add(int64(dialogues))
	m.vadNanos.Add(int64(vadTime))
}

func (m *Metrics) RecordChunkError() {
	m.chunksErrors.Add(1)
}

func (m *Metrics) RecordChunksRequeued(count int) {
	m.chunksRequeued.Add(int64(count))
}

type MetricsSnapshot struct {
	Window           time.Duration
	ChunksProcessed  int64
	ChunksErrors     int64
	ChunksRequeued   int64
	SegmentsCreated  int64
	DialoguesCreated int64
	AvgVADTime       time.Duration
}

// SnapshotAndReset returns the current window's counters and starts a new
// window.
func (m *Metrics) SnapshotAndReset() MetricsSnapshot {
	m.mu.Lock()
	now := time.Now()
	window := now.Sub(m.windowStart)
	m.windowStart = now
	m.mu.Unlock()

	snap := MetricsSnapshot{
		Window:           window,
		ChunksProcessed:  m.chunksProcessed.Swap(0),
		ChunksErrors:     m.chunksErrors.Swap(0),
		ChunksRequeued:   m.chunksRequeued.Swap(0),
		SegmentsCreated:  m.segmentsCreated.Swap(0),
		DialoguesCreated: m.dialoguesCreated.Swap(0),
	}

	vadNanos := m.vadNanos.Swap(0)
	if snap.ChunksProcessed > 0 {
		snap.AvgVADTime = time.Duration(vadNanos / snap.ChunksProcessed)
	}

	return snap
}

// Log emits the window's counters and resets them.
func (m *Metrics) Log(logger *log.Logger) {
	snap := m.SnapshotAndReset()

	if snap.ChunksProcessed == 0 && snap.ChunksErrors == 0 && snap.ChunksRequeued == 0 {
		logger.Info("Metrics: idle", "window_sec", snap.Window.Seconds())
		return
	}

	perMin := 0.0
	if snap.Window > 0 {
		perMin = float64(snap.ChunksProcessed) / snap.Window.Minutes()
	}

	logger.Info(
		"Metrics",
		"window_sec", snap.Window.Seconds(),
		"chunks_processed", snap.ChunksProcessed,
		"chunks_per_min", perMin,
		"chunks_errors", snap.ChunksErrors,
		"chunks_requeued", snap.ChunksRequeued,
		"segments_created", snap.SegmentsCreated,
		"dialogues_created", snap.DialoguesCreated,
		"avg_vad_time_sec", snap.AvgVADTime.Seconds(),
	)
}
