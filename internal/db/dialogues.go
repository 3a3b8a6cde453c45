package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"dialogger/internal/dialogue"
)

// CommitResult summarizes one chunk commit for metrics.
type CommitResult struct {
	SegmentsCreated  int
	DialoguesCreated int
}

// CommitChunkResults persists everything one processed chunk produces in a
// single transaction: speech segments, dialogue creations/extensions,
// dialogue-segment links, the device's open-dialogue state, and the chunk's
// flip to DONE. Readers never observe a DONE chunk with partial segments.
//
// A per-device advisory lock serializes commits of the same device across
// worker processes, so dialogue stitching always sees chunks in start_ts
// order even when claims interleave.
func (s *PostgresStore) CommitChunkResults(
	ctx context.Context,
	chunk *AudioChunk,
	segments []dialogue.Segment,
	cfg dialogue.Config,
) (*CommitResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin commit tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Held until commit/rollback; keyed on the device UUID.
	_, err = tx.Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtextextended($1::text, 0))`,
		chunk.DeviceID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to take device lock: %w", err)
	}

	state, err := getDialogueStateForUpdate(ctx, tx, chunk.DeviceID)
	if err != nil {
		return nil, err
	}

	plan := dialogue.Stitch(state, chunk.StartTs, segments, cfg)

	segmentIDs := make([]uuid.UUID, len(segments))
	for i, seg := range segments {
		err := tx.QueryRow(ctx,
			`INSERT INTO speech_segments (chunk_id, start_ms, end_ms)
			 VALUES ($1, $2, $3)
			 RETURNING segment_id`,
			chunk.ChunkID, seg.StartMs, seg.EndMs,
		).Scan(&segmentIDs[i])
		if err != nil {
			return nil, fmt.Errorf("failed to insert speech segment: %w", err)
		}
	}

	for _, d := range plan.Dialogues {
		_, err := tx.Exec(ctx,
			`INSERT INTO dialogues (dialogue_id, device_id, point_id, register_id, start_ts, end_ts, source)
			 VALUES ($1, $2, $3, $4, $5, $6, 'vad')`,
			d.DialogueID, chunk.DeviceID, chunk.PointID, chunk.RegisterID, d.StartTs, d.EndTs,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to insert dialogue: %w", err)
		}
	}

	if plan.Extend != nil {
		_, err := tx.Exec(ctx,
			`UPDATE dialogues SET end_ts = $2 WHERE dialogue_id = $1`,
			plan.Extend.DialogueID, plan.Extend.EndTs,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to extend dialogue: %w", err)
		}
	}

	for _, link := range plan.Links {
		_, err := tx.Exec(ctx,
			`INSERT INTO dialogue_segments (dialogue_id, chunk_id, segment_id)
			 VALUES ($1, $2, $3)
			 ON CONFLICT DO NOTHING`,
			link.DialogueID, chunk.ChunkID, segmentIDs[link.SegmentIndex],
		)
		if err != nil {
			return nil, fmt.Errorf("failed to link dialogue segment: %w", err)
		}
	}

	if plan.State != nil {
		_, err := tx.Exec(ctx,
			`INSERT INTO device_dialogue_state (device_id, open_dialogue_id, dialogue_started_at, last_speech_end_ts, updated_at)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (device_id) DO UPDATE SET
				open_dialogue_id = EXCLUDED.open_dialogue_id,
				dialogue_started_at = EXCLUDED.dialogue_started_at,
				last_speech_end_ts = EXCLUDED.last_speech_end_ts,
				updated_at = EXCLUDED.updated_at`,
			chunk.DeviceID,
			plan.State.OpenDialogueID,
			plan.State.DialogueStartedAt,
			plan.State.LastSpeechEndTs,
			time.Now().UTC(),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to upsert dialogue state: %w", err)
		}
	} else {
		_, err := tx.Exec(ctx,
			`DELETE FROM device_dialogue_state WHERE device_id = $1`,
			chunk.DeviceID,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to delete dialogue state: %w", err)
		}
	}

	_, err = tx.Exec(ctx,
		`UPDATE audio_chunks
		 SET status = 'DONE', processing_started_at = NULL
		 WHERE chunk_id = $1`,
		chunk.ChunkID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to mark chunk done: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit chunk results: %w", err)
	}

	return &CommitResult{
		SegmentsCreated:  len(segments),
		DialoguesCreated: len(plan.Dialogues),
	}, nil
}

func getDialogueStateForUpdate(ctx context.Context, tx pgx.Tx, deviceID uuid.UUID) (*dialogue.State, error) {
	row := tx.QueryRow(ctx,
		`SELECT open_dialogue_id, dialogue_started_at, last_speech_end_ts
		 FROM device_dialogue_state
		 WHERE device_id = $1
		 FOR UPDATE`,
		deviceID,
	)

	state := &dialogue.State{}
	err := row.Scan(&state.OpenDialogueID, &state.DialogueStartedAt, &state.LastSpeechEndTs)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get dialogue state: %w", err)
	}

	return state, nil
}

// CloseStaleDialogueStates forgets open-dialogue rows whose last speech is
// older than the given age. Without this, a device that goes quiet for hours
// would keep its last dialogue "open" until its next chunk arrives.
func (s *PostgresStore) CloseStaleDialogueStates(ctx context.Context, olderThan time.Duration) (int, error) {
	result, err := s.db.Exec(ctx,
		`DELETE FROM device_dialogue_state
		 WHERE last_speech_end_ts < NOW() - make_interval(secs => $1)`,
		olderThan.Seconds(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to close stale dialogue states: %w", err)
	}

	return int(result.RowsAffected()), nil
}

// GetSegmentsByChunk returns a chunk's speech segments ordered by start.
func (s *PostgresStore) GetSegmentsByChunk(ctx context.Context, chunkID uuid.UUID) ([]*SpeechSegment, error) {
	rows, err := s.db.Query(ctx,
		`SELECT segment_id, chunk_id, start_ms, end_ms, created_at
		 FROM speech_segments
		 WHERE chunk_id = $1
		 ORDER BY start_ms, end_ms`,
		chunkID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get segments: %w", err)
	}
	defer rows.Close()

	segments := []*SpeechSegment{}
	for rows.Next() {
		seg := &SpeechSegment{}
		if err := rows.Scan(&seg.SegmentID, &seg.ChunkID, &seg.StartMs, &seg.EndMs, &seg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan segment: %w", err)
		}
		segments = append(segments, seg)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating segments: %w", err)
	}

	return segments, nil
}
