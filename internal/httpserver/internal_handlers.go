package httpserver

import (
	"errors"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"dialogger/internal/db"
)

// HandleChunkAudio streams a chunk's OGG bytes to internal consumers. Range
// requests are honored so the ASR worker can fetch partial content.
func (s *Server) HandleChunkAudio(w http.ResponseWriter, r *http.Request) {
	chunkID, err := uuid.Parse(chi.URLParam(r, "chunkID"))
	if err != nil {
		s.handleError(w, NewValidationError("Invalid chunk id"))
		return
	}

	chunk, err := s.chunkStore.GetChunkByID(r.Context(), chunkID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			s.handleError(w, NewNotFoundError("Chunk not found"))
			return
		}
		s.handleError(w, err)
		return
	}

	file, err := os.Open(s.storage.FullPath(chunk.FilePath))
	if err != nil {
		if os.IsNotExist(err) {
			s.handleError(w, NewNotFoundError("Chunk file missing from storage"))
			return
		}
		s.handleError(w, err)
		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		s.handleError(w, err)
		return
	}

	w.Header().Set("Content-Type", "audio/ogg")
	w.Header().Set("X-Sample-Rate", strconv.Itoa(chunk.SampleRate))
	w.Header().Set("X-Channels", strconv.Itoa(chunk.Channels))
	w.Header().Set("X-Duration-Sec", strconv.Itoa(chunk.DurationSec))
	w.Header().Set("X-Start-Ts", chunk.StartTs.UTC().Format(time.RFC3339))

	http.ServeContent(w, r, "", info.ModTime(), file)
}

type healthResponse struct {
	Status          string    `json:"status"`
	DB              bool      `json:"db"`
	StorageWritable bool      `json:"storage_writable"`
	Time            time.Time `json:"time"`
}

// HandleHealth reports process, database and storage health. Unauthenticated;
// load balancers poll it.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	dbOK := s.pinger.Ping(r.Context())
	storageOK := s.storage.CheckWritable()

	status := "ok"
	code := http.StatusOK
	if !dbOK || !storageOK {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	s.respondJSON(w, code, healthResponse{
		Status:          status,
		DB:              dbOK,
		StorageWritable: storageOK,
		Time:            time.Now().UTC(),
	})
}
