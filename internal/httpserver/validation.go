package httpserver

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
)

const maxChunkDuration = 10 * time.Minute

var allowedSampleRates = map[int]bool{
	8000:  true,
	16000: true,
	24000: true,
	32000: true,
	48000: true,
}

// chunkUpload carries the parsed multipart metadata of one upload.
type chunkUpload struct {
	PointID    uuid.UUID
	RegisterID uuid.UUID
	DeviceID   uuid.UUID
	StartTs    time.Time
	EndTs      time.Time
	Codec      string
	SampleRate int
	Channels   int
}

// parseChunkUpload reads the multipart form fields. Field-level parse errors
// are validation errors; the payload itself is read separately.
func parseChunkUpload(r *http.Request) (*chunkUpload, error) {
	up := &chunkUpload{}

	var err error
	if up.PointID, err = parseUUIDField(r, "point_id"); err != nil {
		return nil, err
	}
	if up.RegisterID, err = parseUUIDField(r, "register_id"); err != nil {
		return nil, err
	}
	if up.DeviceID, err = parseUUIDField(r, "device_id"); err != nil {
		return nil, err
	}
	if up.StartTs, err = parseTimeField(r, "start_ts"); err != nil {
		return nil, err
	}
	if up.EndTs, err = parseTimeField(r, "end_ts"); err != nil {
		return nil, err
	}

	up.Codec = r.FormValue("codec")
	if up.Codec == "" {
		return nil, NewValidationError("codec is required")
	}

	if up.SampleRate, err = parseIntField(r, "sample_rate"); err != nil {
		return nil, err
	}
	if up.Channels, err = parseIntField(r, "channels"); err != nil {
		return nil, err
	}

	return up, nil
}

// validate enforces the metadata checks in their contract order: timestamps,
// then codec parameters. Identity matching happens in the handler first.
func (up *chunkUpload) validate() error {
	if !up.EndTs.After(up.StartTs) {
		return NewValidationError("end_ts must be after start_ts")
	}
	if up.EndTs.Sub(up.StartTs) > maxChunkDuration {
		return NewValidationError("chunk duration exceeds 10 minutes")
	}

	if up.Codec != "opus" {
		return NewValidationError(fmt.Sprintf("unsupported codec %q", up.Codec))
	}
	if !allowedSampleRates[up.SampleRate] {
		return NewValidationError(fmt.Sprintf("unsupported sample_rate %d", up.SampleRate))
	}
	if up.Channels != 1 {
		return NewValidationError("channels must be 1")
	}

	return nil
}

// DurationSec is the chunk length rounded to whole seconds.
func (up *chunkUpload) DurationSec() int {
	return int(up.EndTs.Sub(up.StartTs).Round(time.Second) / time.Second)
}

func parseUUIDField(r *http.Request, field string) (uuid.UUID, error) {
	raw := r.FormValue(field)
	if raw == "" {
		return uuid.Nil, NewValidationError(field + " is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, NewValidationError(field + " is not a valid uuid")
	}
	return id, nil
}

// parseTimeField accepts RFC3339 only, which makes a timezone offset
// mandatory.
func parseTimeField(r *http.Request, field string) (time.Time, error) {
	raw := r.FormValue(field)
	if raw == "" {
		return time.Time{}, NewValidationError(field + " is required")
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, NewValidationError(field + " must be an RFC3339 timestamp with timezone")
	}
	return ts, nil
}

func parseIntField(r *http.Request, field string) (int, error) {
	raw := r.FormValue(field)
	if raw == "" {
		return 0, NewValidationError(field + " is required")
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, NewValidationError(field + " must be an integer")
	}
	return n, nil
}
