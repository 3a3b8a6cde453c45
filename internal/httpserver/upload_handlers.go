package httpserver

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"

	"dialogger/internal/db"
	"dialogger/internal/storage"
)

// formOverheadBytes leaves room for multipart boundaries and metadata fields
// on top of the audio payload limit.
const formOverheadBytes = 1 << 20

type uploadResponse struct {
	Status     string    `json:"status"`
	ChunkID    uuid.UUID `json:"chunk_id"`
	StoredPath string    `json:"stored_path"`
	Queued     bool      `json:"queued"`
}

// HandleUploadChunk terminates one recorder upload: authenticate, validate
// metadata, write the file durably, then commit the chunk row in QUEUED.
func (s *Server) HandleUploadChunk(w http.ResponseWriter, r *http.Request) {
	device, err := s.authenticateDevice(r)
	if err != nil {
		s.handleError(w, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.params.MaxUploadSizeBytes+formOverheadBytes)
	if err := r.ParseMultipartForm(s.params.MaxUploadSizeBytes + formOverheadBytes); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			s.handleError(w, NewTooLargeError("Payload too large"))
			return
		}
		s.handleError(w, NewValidationError("Invalid multipart form"))
		return
	}

	up, err := parseChunkUpload(r)
	if err != nil {
		s.handleError(w, err)
		return
	}

	// The form's identity triple must match the authenticated device.
	if up.DeviceID != device.DeviceID ||
		up.PointID != device.PointID ||
		up.RegisterID != device.RegisterID {
		s.handleError(w, NewValidationError("Device identity mismatch"))
		return
	}

	if err := up.validate(); err != nil {
		s.handleError(w, err)
		return
	}

	payload, err := readChunkFile(r)
	if err != nil {
		s.handleError(w, err)
		return
	}
	if int64(len(payload)) > s.params.MaxUploadSizeBytes {
		s.handleError(w, NewTooLargeError("Payload too large"))
		return
	}

	sum := sha256.Sum256(payload)
	fileHash := hex.EncodeToString(sum[:])

	// Recorder retries resend the same chunk; collapse them onto the
	// already-stored row instead of storing twice.
	existing, err := s.chunkStore.FindDuplicateChunk(r.Context(), device.DeviceID, up.StartTs, fileHash)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		s.handleError(w, err)
		return
	}
	if existing != nil {
		s.log.Info("Duplicate chunk upload", "chunk_id", existing.ChunkID, "device_id", device.DeviceID)
		s.respondJSON(w, http.StatusOK, uploadResponse{
			Status:     "ok",
			ChunkID:    existing.ChunkID,
			StoredPath: existing.FilePath,
			Queued:     true,
		})
		return
	}

	chunkID := uuid.New()
	relPath := storage.ChunkPath(device.PointID, device.RegisterID, up.StartTs, chunkID)

	if _, err := s.storage.SaveChunk(relPath, payload); err != nil {
		s.log.Error("Chunk file write failed", "chunk_id", chunkID, "error", err)
		s.handleError(w, err)
		return
	}

	chunk := &db.AudioChunk{
		ChunkID:       chunkID,
		DeviceID:      device.DeviceID,
		PointID:       device.PointID,
		RegisterID:    device.RegisterID,
		StartTs:       up.StartTs,
		EndTs:         up.EndTs,
		DurationSec:   up.DurationSec(),
		Codec:         up.Codec,
		SampleRate:    up.SampleRate,
		Channels:      up.Channels,
		FilePath:      relPath,
		FileSizeBytes: int64(len(payload)),
		FileHash:      fileHash,
		Status:        db.ChunkStatusQueued,
	}

	if err := s.chunkStore.CreateChunk(r.Context(), chunk); err != nil {
		// File stays on disk; a recorder retry resolves through the
		// duplicate check, otherwise the orphan sweep collects it.
		s.log.Error("Chunk row insert failed", "chunk_id", chunkID, "error", err)
		s.handleError(w, err)
		return
	}

	if err := s.deviceStore.TouchDeviceLastSeen(r.Context(), device.DeviceID); err != nil {
		s.log.Warn("Failed to stamp device last_seen_at", "device_id", device.DeviceID, "error", err)
	}

	s.log.Info(
		"Chunk ingested",
		"chunk_id", chunkID,
		"device_id", device.DeviceID,
		"duration_sec", chunk.DurationSec,
		"size_bytes", chunk.FileSizeBytes,
	)

	s.respondJSON(w, http.StatusOK, uploadResponse{
		Status:     "ok",
		ChunkID:    chunkID,
		StoredPath: relPath,
		Queued:     true,
	})
}

func readChunkFile(r *http.Request) ([]byte, error) {
	file, _, err := r.FormFile("chunk_file")
	if err != nil {
		return nil, NewValidationError("chunk_file is required")
	}
	defer file.Close()

	payload, err := io.ReadAll(file)
	if err != nil {
		return nil, NewValidationError("failed to read chunk_file")
	}
	if len(payload) == 0 {
		return nil, NewValidationError("chunk_file is empty")
	}

	return payload, nil
}
