// Package dialogue stitches per-chunk speech segments into cross-chunk
// dialogues. The stitcher is pure: it reads the device's open-dialogue state
// and a chunk's segment list and produces a Plan of row mutations, which the
// store applies inside the chunk's commit transaction.
package dialogue

import (
	"time"

	"github.com/google/uuid"
)

type Config struct {
	// Max silence between segments of one dialogue.
	SilenceGap time.Duration
	// Max dialogue duration before splitting.
	MaxDialogue time.Duration
}

// Segment is a speech interval relative to its chunk start.
type Segment struct {
	StartMs int
	EndMs   int
}

// State mirrors the device_dialogue_state row: the open dialogue of one
// device. A nil *State means no dialogue is open.
type State struct {
	OpenDialogueID    uuid.UUID
	DialogueStartedAt time.Time
	LastSpeechEndTs   time.Time
}

// NewDialogue is a dialogue row to insert. The ID is allocated by the
// stitcher so links can reference it before the insert happens.
type NewDialogue struct {
	DialogueID uuid.UUID
	StartTs    time.Time
	EndTs      time.Time
}

// Extension bumps end_ts of a dialogue that was opened by an earlier chunk.
type Extension struct {
	DialogueID uuid.UUID
	EndTs      time.Time
}

// Link ties the chunk's i-th segment to a dialogue. Segment IDs are not
// known until the segment rows are inserted, so links carry the index.
type Link struct {
	DialogueID   uuid.UUID
	SegmentIndex int
}

// Plan is the set of mutations one chunk contributes.
type Plan struct {
	Dialogues []NewDialogue
	Extend    *Extension
	Links     []Link
	// Final open-dialogue state for the device; nil means the state row
	// must not exist after the commit.
	State *State
}

// Stitch runs the per-chunk dialogue state machine.
//
// Chunks of one device must be stitched in start_ts order; the caller
// guarantees that with a per-device advisory lock. Closing a dialogue is
// pure forgetting: the dialogue row already holds its final end_ts, only the
// state row goes away.
func Stitch(prev *State, chunkStart time.Time, segments []Segment, cfg Config) Plan {
	plan := Plan{}

	var open *State
	if prev != nil {
		cp := *prev
		open = &cp
	}

	// A long silent stretch (possibly spanning empty chunks) closes the
	// open dialogue before any of this chunk's speech is considered.
	if open != nil && chunkStart.Sub(open.LastSpeechEndTs) >= cfg.SilenceGap {
		open = nil
	}

	// Index into plan.Dialogues of the open dialogue, or -1 when the open
	// dialogue predates this chunk.
	openIdx := -1

	for i, seg := range segments {
		absStart := chunkStart.Add(time.Duration(seg.StartMs) * time.Millisecond)
		absEnd := chunkStart.Add(time.Duration(seg.EndMs) * time.Millisecond)

		switch {
		case open == nil:
			open, openIdx = startDialogue(&plan, absStart, absEnd)

		case absStart.Sub(open.LastSpeechEndTs) >= cfg.SilenceGap,
			absEnd.Sub(open.DialogueStartedAt) > cfg.MaxDialogue:
			open, openIdx = startDialogue(&plan, absStart, absEnd)

		default:
			open.LastSpeechEndTs = absEnd
			if openIdx >= 0 {
				plan.Dialogues[openIdx].EndTs = absEnd
			} else {
				plan.Extend = &Extension{DialogueID: open.OpenDialogueID, EndTs: absEnd}
			}
		}

		plan.Links = append(plan.Links, Link{DialogueID: open.OpenDialogueID, SegmentIndex: i})
	}

	plan.State = open
	return plan
}

func startDialogue(plan *Plan, absStart, absEnd time.Time) (*State, int) {
	d := NewDialogue{
		DialogueID: uuid.New(),
		StartTs:    absStart,
		EndTs:      absEnd,
	}
	plan.Dialogues = append(plan.Dialogues, d)

	state := &State{
		OpenDialogueID:    d.DialogueID,
		DialogueStartedAt: absStart,
		LastSpeechEndTs:   absEnd,
	}
	return state, len(plan.Dialogues) - 1
}
