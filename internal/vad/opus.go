package vad

import (
	"fmt"
	"io"
	"os"

	opus "gopkg.in/hraban/opus.v2"
)

// Recorder chunks are ogg/opus; libopusfile always decodes at 48 kHz, which
// the WebRTC VAD engine accepts directly, so no resampling is needed.
const decodeSampleRate = 48000

// Decoder turns an audio file into mono PCM.
type Decoder interface {
	DecodeFile(path string) (pcm []int16, sampleRate int, err error)
}

// OpusDecoder decodes ogg/opus chunk files.
type OpusDecoder struct{}

func (OpusDecoder) DecodeFile(path string) ([]int16, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open audio file: %w", err)
	}
	defer f.Close()

	stream, err := opus.NewStream(f)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open opus stream: %w", err)
	}
	defer stream.Close()

	pcm := make([]int16, 0, decodeSampleRate*10)
	buf := make([]int16, 11520)

	for {
		n, err := stream.Read(buf)
		if err == io.EOF || (err == nil && n == 0) {
			break
		}
		if err != nil {
			return nil, 0, fmt.Errorf("failed to decode opus stream: %w", err)
		}
		pcm = append(pcm, buf[:n]...)
	}

	return pcm, decodeSampleRate, nil
}
