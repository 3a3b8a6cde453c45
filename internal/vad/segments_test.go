package vad

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flags builds per-frame speech flags from a pattern string:
// 's' is speech, '.' is silence.
func flags(pattern string) []bool {
	out := make([]bool, len(pattern))
	for i, c := range pattern {
		out[i] = c == 's'
	}
	return out
}

func repeat(c byte, n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = c
	}
	return string(b)
}

func TestSmoothFramesEmpty(t *testing.T) {
	cfg := DefaultSegmenterConfig(30)

	assert.Nil(t, SmoothFrames(nil, cfg))
	assert.Empty(t, SmoothFrames(flags("........"), cfg))
}

func TestSmoothFramesOnsetRequiresConsecutiveSpeech(t *testing.T) {
	cfg := DefaultSegmenterConfig(30)

	// Isolated one- and two-frame blips never commit a segment.
	assert.Empty(t, SmoothFrames(flags("..s..ss..s.."), cfg))
}

func TestSmoothFramesBackdatesSegmentStart(t *testing.T) {
	cfg := DefaultSegmenterConfig(30)

	// Speech starts at frame 2; the segment must start there, not at the
	// frame where the onset threshold was reached.
	segs := SmoothFrames(flags(".."+repeat('s', 10)), cfg)

	require.Len(t, segs, 1)
	assert.Equal(t, 60, segs[0].StartMs)
	assert.Equal(t, 360, segs[0].EndMs)
}

func TestSmoothFramesBridgesShortSilence(t *testing.T) {
	cfg := DefaultSegmenterConfig(30)

	// 150ms of silence inside a segment is under the 300ms close threshold.
	pattern := repeat('s', 10) + repeat('.', 5) + repeat('s', 5)
	segs := SmoothFrames(flags(pattern), cfg)

	require.Len(t, segs, 1)
	assert.Equal(t, 0, segs[0].StartMs)
	assert.Equal(t, 600, segs[0].EndMs)
}

func TestSmoothFramesSplitsOnLongSilence(t *testing.T) {
	cfg := DefaultSegmenterConfig(30)

	// 360ms of silence closes the first segment; the tail silence is
	// trimmed so end_ms is the last speech frame's end.
	pattern := repeat('s', 10) + repeat('.', 12) + repeat('s', 10)
	segs := SmoothFrames(flags(pattern), cfg)

	require.Len(t, segs, 2)
	assert.Equal(t, Segment{StartMs: 0, EndMs: 300}, segs[0])
	assert.Equal(t, Segment{StartMs: 660, EndMs: 960}, segs[1])
}

func TestSmoothFramesDropsShortSegments(t *testing.T) {
	cfg := DefaultSegmenterConfig(30)

	// 4 speech frames pass the onset threshold but make a 120ms segment,
	// under the 200ms minimum.
	pattern := repeat('.', 5) + repeat('s', 4) + repeat('.', 15)
	assert.Empty(t, SmoothFrames(flags(pattern), cfg))
}

func TestSmoothFramesTrimsTrailingSilenceAtEnd(t *testing.T) {
	cfg := DefaultSegmenterConfig(30)

	// Audio ends during tolerated silence: the open segment closes at the
	// last speech frame.
	pattern := repeat('s', 10) + repeat('.', 3)
	segs := SmoothFrames(flags(pattern), cfg)

	require.Len(t, segs, 1)
	assert.Equal(t, 300, segs[0].EndMs)
}

func TestSmoothFramesTenMsFrames(t *testing.T) {
	cfg := DefaultSegmenterConfig(10)

	// Same tuning scales with frame length: 30 silence frames = 300ms.
	pattern := repeat('s', 30) + repeat('.', 30) + repeat('s', 30)
	segs := SmoothFrames(flags(pattern), cfg)

	require.Len(t, segs, 2)
	assert.Equal(t, Segment{StartMs: 0, EndMs: 300}, segs[0])
	assert.Equal(t, Segment{StartMs: 600, EndMs: 900}, segs[1])
}
