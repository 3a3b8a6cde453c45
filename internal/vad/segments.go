package vad

// Segment is a detected speech interval, in milliseconds from chunk start,
// aligned to frame boundaries.
type Segment struct {
	StartMs int
	EndMs   int
}

// SegmenterConfig controls the hysteresis that turns raw frame flags into
// segments.
type SegmenterConfig struct {
	FrameMs int
	// Speech frames required before a candidate segment commits.
	MinSpeechFrames int
	// Silence tolerated inside an open segment before it closes.
	SilenceWithinSegmentMs int
	// Segments shorter than this are dropped.
	MinSegmentMs int
}

// DefaultSegmenterConfig returns the tuning used in production.
func DefaultSegmenterConfig(frameMs int) SegmenterConfig {
	return SegmenterConfig{
		FrameMs:                frameMs,
		MinSpeechFrames:        3,
		SilenceWithinSegmentMs: 300,
		MinSegmentMs:           200,
	}
}

// SmoothFrames converts per-frame speech flags into ordered, disjoint
// segments. Onset requires MinSpeechFrames consecutive speech frames (the
// segment start is backdated to the first of them); offset closes after
// SilenceWithinSegmentMs of silence, with the tail silence trimmed so end_ms
// is the end of the last speech frame.
func SmoothFrames(flags []bool, cfg SegmenterConfig) []Segment {
	if len(flags) == 0 {
		return nil
	}

	minSpeech := cfg.MinSpeechFrames
	if minSpeech < 1 {
		minSpeech = 1
	}
	silenceFrames := cfg.SilenceWithinSegmentMs / cfg.FrameMs
	if silenceFrames < 1 {
		silenceFrames = 1
	}

	var segments []Segment
	appendSegment := func(startMs, endMs int) {
		if endMs-startMs >= cfg.MinSegmentMs {
			segments = append(segments, Segment{StartMs: startMs, EndMs: endMs})
		}
	}

	inSpeech := false
	segStartMs := 0
	lastSpeechEndMs := 0
	consecSpeech := 0
	consecSilence := 0

	for i, speech := range flags {
		frameStartMs := i * cfg.FrameMs

		if !inSpeech {
			if speech {
				consecSpeech++
				if consecSpeech >= minSpeech {
					inSpeech = true
					segStartMs = frameStartMs - (consecSpeech-1)*cfg.FrameMs
					lastSpeechEndMs = frameStartMs + cfg.FrameMs
					consecSilence = 0
				}
			} else {
				consecSpeech = 0
			}
			continue
		}

		if speech {
			consecSilence = 0
			lastSpeechEndMs = frameStartMs + cfg.FrameMs
		} else {
			consecSilence++
			if consecSilence >= silenceFrames {
				appendSegment(segStartMs, lastSpeechEndMs)
				inSpeech = false
				consecSpeech = 0
				consecSilence = 0
			}
		}
	}

	if inSpeech {
		appendSegment(segStartMs, lastSpeechEndMs)
	}

	return segments
}
