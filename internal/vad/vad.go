// Package vad detects speech intervals in audio chunks: decode to PCM,
// classify fixed-length frames, smooth the flags into segments.
package vad

import (
	"fmt"
)

// Processor runs the full per-chunk VAD pipeline.
type Processor struct {
	decoder    Decoder
	classifier FrameClassifier
	cfg        SegmenterConfig
}

func NewProcessor(decoder Decoder, classifier FrameClassifier, cfg SegmenterConfig) *Processor {
	return &Processor{
		decoder:    decoder,
		classifier: classifier,
		cfg:        cfg,
	}
}

// ProcessFile detects speech segments in an audio file. durationMs bounds
// the output: segments are clamped so end_ms never exceeds the chunk's
// declared duration. Pass 0 to skip clamping.
func (p *Processor) ProcessFile(path string, durationMs int) ([]Segment, error) {
	pcm, sampleRate, err := p.decoder.DecodeFile(path)
	if err != nil {
		return nil, err
	}

	samplesPerFrame := sampleRate * p.cfg.FrameMs / 1000
	if samplesPerFrame == 0 {
		return nil, fmt.Errorf("invalid frame size: %d ms at %d Hz", p.cfg.FrameMs, sampleRate)
	}

	flags := make([]bool, 0, len(pcm)/samplesPerFrame)
	for off := 0; off+samplesPerFrame <= len(pcm); off += samplesPerFrame {
		speech, err := p.classifier.IsSpeech(pcm[off:off+samplesPerFrame], sampleRate)
		if err != nil {
			return nil, fmt.Errorf("classify frame at %d ms: %w", off/samplesPerFrame*p.cfg.FrameMs, err)
		}
		flags = append(flags, speech)
	}

	segments := SmoothFrames(flags, p.cfg)

	if durationMs > 0 {
		segments = clampSegments(segments, durationMs)
	}

	return segments, nil
}

func clampSegments(segments []Segment, durationMs int) []Segment {
	out := segments[:0]
	for _, seg := range segments {
		if seg.StartMs >= durationMs {
			continue
		}
		if seg.EndMs > durationMs {
			seg.EndMs = durationMs
		}
		out = append(out, seg)
	}
	return out
}
