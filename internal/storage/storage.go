// Package storage manages the shared audio volume: content-addressed chunk
// paths, durable writes, and the orphan-file sweep.
package storage

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

// Store wraps the audio storage directory.
type Store struct {
	baseDir string
	log     *log.Logger
}

func New(baseDir string, logger *log.Logger) *Store {
	return &Store{
		baseDir: baseDir,
		log:     logger,
	}
}

// ChunkPath builds the relative storage path for a chunk. The layout is part
// of the external interface and must not change:
//
//	audio/<point_id>/<register_id>/<YYYY-MM-DD>/<HH>/chunk_<YYYYMMDD_HHMMSS>_<chunk_id>.ogg
func ChunkPath(pointID, registerID uuid.UUID, startTs time.Time, chunkID uuid.UUID) string {
	ts := startTs.UTC()
	return fmt.Sprintf(
		"audio/%s/%s/%s/%s/chunk_%s_%s.ogg",
		pointID,
		registerID,
		ts.Format("2006-01-02"),
		ts.Format("15"),
		ts.Format("20060102_150405"),
		chunkID,
	)
}

// FullPath resolves a relative chunk path against the storage root.
func (s *Store) FullPath(relPath string) string {
	return filepath.Join(s.baseDir, filepath.FromSlash(relPath))
}

// SaveChunk writes the payload durably: temp file in the final directory,
// fsync, then atomic rename. The caller commits the DB row only after this
// returns, so a crash leaves at worst an orphan file for the sweep.
func (s *Store) SaveChunk(relPath string, content []byte) (string, error) {
	fullPath := s.FullPath(relPath)
	dir := filepath.Dir(fullPath)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create chunk directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "chunk_*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	cleanup := func() {
		tmp.Close()
		os.Remove(tmpPath)
	}

	if _, err := tmp.Write(content); err != nil {
		cleanup()
		return "", fmt.Errorf("failed to write chunk: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return "", fmt.Errorf("failed to sync chunk: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("failed to close chunk: %w", err)
	}

	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("failed to rename chunk into place: %w", err)
	}

	s.log.Debug("Chunk file saved", "path", relPath, "size_bytes", len(content))

	return fullPath, nil
}

// CheckWritable probes the storage root for the health endpoint.
func (s *Store) CheckWritable() bool {
	if err := os.MkdirAll(s.baseDir, 0o755); err != nil {
		s.log.Error("Storage write check failed", "dir", s.baseDir, "error", err)
		return false
	}

	testFile := filepath.Join(s.baseDir, ".write_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o644); err != nil {
		s.log.Error("Storage write check failed", "dir", s.baseDir, "error", err)
		return false
	}
	os.Remove(testFile)

	return true
}

// ChunkExistsFunc answers whether a DB row references the relative path.
type ChunkExistsFunc func(ctx context.Context, relPath string) (bool, error)

// SweepOrphans removes leftovers under audio/: temp files older than the
// cutoff, and audio files older than the cutoff with no matching chunk row.
// Such files appear when a DB insert fails after the file write.
func (s *Store) SweepOrphans(ctx context.Context, olderThan time.Duration, exists ChunkExistsFunc) (int, error) {
	root := filepath.Join(s.baseDir, "audio")
	cutoff := time.Now().Add(-olderThan)

	removed := 0
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			return nil
		}

		info, err := d.Info()
		if err != nil || info.ModTime().After(cutoff) {
			return nil
		}

		if strings.HasSuffix(path, ".tmp") {
			if rmErr := os.Remove(path); rmErr == nil {
				removed++
				s.log.Info("Removed stale temp file", "path", path)
			}
			return nil
		}

		rel, err := filepath.Rel(s.baseDir, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		ok, err := exists(ctx, rel)
		if err != nil {
			// DB hiccup: skip this file, the next sweep gets it.
			s.log.Warn("Orphan check failed", "path", rel, "error", err)
			return nil
		}
		if !ok {
			if rmErr := os.Remove(path); rmErr == nil {
				removed++
				s.log.Info("Removed orphan chunk file", "path", rel)
			}
		}

		return nil
	})
	if err != nil {
		return removed, fmt.Errorf("orphan sweep failed: %w", err)
	}

	return removed, nil
}
