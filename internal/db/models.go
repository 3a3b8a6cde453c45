package db

import (
	"time"

	"github.com/google/uuid"
)

type Device struct {
	DeviceID   uuid.UUID  `json:"device_id"`
	PointID    uuid.UUID  `json:"point_id"`
	RegisterID uuid.UUID  `json:"register_id"`
	TokenHash  string     `json:"-"`
	IsEnabled  bool       `json:"is_enabled"`
	CreatedAt  time.Time  `json:"created_at"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
}

type AudioChunk struct {
	ChunkID             uuid.UUID  `json:"chunk_id"`
	DeviceID            uuid.UUID  `json:"device_id"`
	PointID             uuid.UUID  `json:"point_id"`
	RegisterID          uuid.UUID  `json:"register_id"`
	StartTs             time.Time  `json:"start_ts"`
	EndTs               time.Time  `json:"end_ts"`
	DurationSec         int        `json:"duration_sec"`
	Codec               string     `json:"codec"`
	SampleRate          int        `json:"sample_rate"`
	Channels            int        `json:"channels"`
	FilePath            string     `json:"file_path"`
	FileSizeBytes       int64      `json:"file_size_bytes"`
	FileHash            string     `json:"-"`
	Status              string     `json:"status"`
	ErrorMessage        *string    `json:"error_message,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	ProcessingStartedAt *time.Time `json:"processing_started_at,omitempty"`
}

const (
	ChunkStatusQueued     = "QUEUED"
	ChunkStatusProcessing = "PROCESSING"
	ChunkStatusDone       = "DONE"
	ChunkStatusError      = "ERROR"
)

type SpeechSegment struct {
	SegmentID uuid.UUID `json:"segment_id"`
	ChunkID   uuid.UUID `json:"chunk_id"`
	StartMs   int       `json:"start_ms"`
	EndMs     int       `json:"end_ms"`
	CreatedAt time.Time `json:"created_at"`
}

type Dialogue struct {
	DialogueID uuid.UUID `json:"dialogue_id"`
	DeviceID   uuid.UUID `json:"device_id"`
	PointID    uuid.UUID `json:"point_id"`
	RegisterID uuid.UUID `json:"register_id"`
	StartTs    time.Time `json:"start_ts"`
	EndTs      time.Time `json:"end_ts"`
	Source     string    `json:"source"`
	CreatedAt  time.Time `json:"created_at"`
}

// DialogueSegment links one speech segment into a dialogue.
type DialogueSegment struct {
	DialogueID uuid.UUID `json:"dialogue_id"`
	ChunkID    uuid.UUID `json:"chunk_id"`
	SegmentID  uuid.UUID `json:"segment_id"`
}

// DeviceDialogueState tracks the currently open dialogue for one device.
// A row exists iff a dialogue is open.
type DeviceDialogueState struct {
	DeviceID          uuid.UUID `json:"device_id"`
	OpenDialogueID    uuid.UUID `json:"open_dialogue_id"`
	DialogueStartedAt time.Time `json:"dialogue_started_at"`
	LastSpeechEndTs   time.Time `json:"last_speech_end_ts"`
	UpdatedAt         time.Time `json:"updated_at"`
}
