package vad

import (
	"encoding/binary"
	"fmt"

	webrtcvad "github.com/maxhawkins/go-webrtcvad"
)

// FrameClassifier labels one fixed-length PCM frame as speech or not.
// The production implementation wraps the WebRTC VAD engine; tests script
// their own flags.
type FrameClassifier interface {
	IsSpeech(frame []int16, sampleRate int) (bool, error)
}

type webrtcClassifier struct {
	vad *webrtcvad.VAD
}

// NewWebRTCClassifier builds a classifier with the given aggressiveness
// (0-3, higher filters more non-speech).
func NewWebRTCClassifier(aggressiveness int) (FrameClassifier, error) {
	v, err := webrtcvad.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create vad: %w", err)
	}
	if err := v.SetMode(aggressiveness); err != nil {
		return nil, fmt.Errorf("failed to set vad aggressiveness %d: %w", aggressiveness, err)
	}

	return &webrtcClassifier{vad: v}, nil
}

func (c *webrtcClassifier) IsSpeech(frame []int16, sampleRate int) (bool, error) {
	buf := make([]byte, len(frame)*2)
	for i, s := range frame {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}

	active, err := c.vad.Process(sampleRate, buf)
	if err != nil {
		return false, fmt.Errorf("vad frame failed: %w", err)
	}

	return active, nil
}
