package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const chunkColumns = `chunk_id, device_id, point_id, register_id, start_ts, end_ts,
		duration_sec, codec, sample_rate, channels, file_path, file_size_bytes,
		file_hash, status, error_message, created_at, processing_started_at`

func scanChunk(row pgx.Row) (*AudioChunk, error) {
	c := &AudioChunk{}
	err := row.Scan(
		&c.ChunkID,
		&c.DeviceID,
		&c.PointID,
		&c.RegisterID,
		&c.StartTs,
		&c.EndTs,
		&c.DurationSec,
		&c.Codec,
		&c.SampleRate,
		&c.Channels,
		&c.FilePath,
		&c.FileSizeBytes,
		&c.FileHash,
		&c.Status,
		&c.ErrorMessage,
		&c.CreatedAt,
		&c.ProcessingStartedAt,
	)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// CreateChunk records a freshly uploaded chunk in QUEUED.
func (s *PostgresStore) CreateChunk(ctx context.Context, chunk *AudioChunk) error {
	query := `
		INSERT INTO audio_chunks (
			chunk_id, device_id, point_id, register_id, start_ts, end_ts,
			duration_sec, codec, sample_rate, channels, file_path,
			file_size_bytes, file_hash, status
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING created_at
	`

	if chunk.ChunkID == uuid.Nil {
		chunk.ChunkID = uuid.New()
	}
	if chunk.Status == "" {
		chunk.Status = ChunkStatusQueued
	}

	err := s.db.QueryRow(ctx, query,
		chunk.ChunkID,
		chunk.DeviceID,
		chunk.PointID,
		chunk.RegisterID,
		chunk.StartTs,
		chunk.EndTs,
		chunk.DurationSec,
		chunk.Codec,
		chunk.SampleRate,
		chunk.Channels,
		chunk.FilePath,
		chunk.FileSizeBytes,
		chunk.FileHash,
		chunk.Status,
	).Scan(&chunk.CreatedAt)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("operation cancelled: %w", ctx.Err())
		}
		return fmt.Errorf("failed to create chunk: %w", err)
	}

	return nil
}

func (s *PostgresStore) GetChunkByID(ctx context.Context, chunkID uuid.UUID) (*AudioChunk, error) {
	query := `SELECT ` + chunkColumns + ` FROM audio_chunks WHERE chunk_id = $1`

	chunk, err := scanChunk(s.db.QueryRow(ctx, query, chunkID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get chunk: %w", err)
	}

	return chunk, nil
}

// FindDuplicateChunk looks for an earlier upload of the same audio: same
// device, start_ts within one second, same payload hash. Recorder retries
// across network blips collapse onto the original row.
func (s *PostgresStore) FindDuplicateChunk(ctx context.Context, deviceID uuid.UUID, startTs time.Time, fileHash string) (*AudioChunk, error) {
	query := `
		SELECT ` + chunkColumns + `
		FROM audio_chunks
		WHERE device_id = $1
		  AND start_ts BETWEEN $2::timestamptz - INTERVAL '1 second'
		                   AND $2::timestamptz + INTERVAL '1 second'
		  AND file_hash = $3
		ORDER BY created_at ASC
		LIMIT 1
	`

	chunk, err := scanChunk(s.db.QueryRow(ctx, query, deviceID, startTs, fileHash))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to look up duplicate chunk: %w", err)
	}

	return chunk, nil
}

// ChunkExistsForPath reports whether any chunk row references the given
// storage path. Used by the orphan-file sweep.
func (s *PostgresStore) ChunkExistsForPath(ctx context.Context, filePath string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM audio_chunks WHERE file_path = $1)`,
		filePath,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check chunk path: %w", err)
	}
	return exists, nil
}

// ClaimChunks atomically moves up to batchSize QUEUED chunks to PROCESSING
// and returns them. SKIP LOCKED keeps concurrent workers from claiming the
// same rows; the subquery ordering keeps claims roughly FIFO.
func (s *PostgresStore) ClaimChunks(ctx context.Context, batchSize int) ([]*AudioChunk, error) {
	query := `
		UPDATE audio_chunks
		SET status = 'PROCESSING', processing_started_at = NOW()
		WHERE chunk_id IN (
			SELECT chunk_id FROM audio_chunks
			WHERE status = 'QUEUED'
			ORDER BY created_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + chunkColumns

	rows, err := s.db.Query(ctx, query, batchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to claim chunks: %w", err)
	}
	defer rows.Close()

	chunks := []*AudioChunk{}
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan claimed chunk: %w", err)
		}
		chunks = append(chunks, chunk)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating claimed chunks: %w", err)
	}

	return chunks, nil
}

// MarkChunkError puts a chunk into the terminal ERROR state with a short
// reason. ERROR chunks are never retried automatically.
func (s *PostgresStore) MarkChunkError(ctx context.Context, chunkID uuid.UUID, reason string) error {
	if len(reason) > 1000 {
		reason = reason[:1000]
	}

	query := `
		UPDATE audio_chunks
		SET status = 'ERROR', error_message = $2, processing_started_at = NULL
		WHERE chunk_id = $1
	`

	result, err := s.db.Exec(ctx, query, chunkID, reason)
	if err != nil {
		return fmt.Errorf("failed to mark chunk error: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// RequeueStuckChunks resets chunks left in PROCESSING longer than the stuck
// timeout back to QUEUED. Returns the requeued chunk IDs.
func (s *PostgresStore) RequeueStuckChunks(ctx context.Context, stuckTimeout time.Duration) ([]uuid.UUID, error) {
	query := `
		UPDATE audio_chunks
		SET status = 'QUEUED', processing_started_at = NULL
		WHERE status = 'PROCESSING'
		  AND processing_started_at < NOW() - make_interval(secs => $1)
		RETURNING chunk_id
	`

	rows, err := s.db.Query(ctx, query, stuckTimeout.Seconds())
	if err != nil {
		return nil, fmt.Errorf("failed to requeue stuck chunks: %w", err)
	}
	defer rows.Close()

	ids := []uuid.UUID{}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan requeued chunk: %w", err)
		}
		ids = append(ids, id)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating requeued chunks: %w", err)
	}

	return ids, nil
}
