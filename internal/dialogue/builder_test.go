package dialogue

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testCfg = Config{
	SilenceGap:  12 * time.Second,
	MaxDialogue: 120 * time.Second,
}

func ts(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestStitchEmptyChunkNoState(t *testing.T) {
	plan := Stitch(nil, ts("2026-01-10T12:00:00Z"), nil, testCfg)

	assert.Empty(t, plan.Dialogues)
	assert.Nil(t, plan.Extend)
	assert.Empty(t, plan.Links)
	assert.Nil(t, plan.State)
}

func TestStitchEmptyChunkKeepsRecentState(t *testing.T) {
	chunkStart := ts("2026-01-10T12:00:00Z")
	prev := &State{
		OpenDialogueID:    uuid.New(),
		DialogueStartedAt: chunkStart.Add(-30 * time.Second),
		LastSpeechEndTs:   chunkStart.Add(-5 * time.Second),
	}

	plan := Stitch(prev, chunkStart, nil, testCfg)

	require.NotNil(t, plan.State)
	assert.Equal(t, prev.OpenDialogueID, plan.State.OpenDialogueID)
	assert.Equal(t, prev.LastSpeechEndTs, plan.State.LastSpeechEndTs)
	assert.Empty(t, plan.Dialogues)
	assert.Nil(t, plan.Extend)
}

func TestStitchEmptyChunkClosesStaleState(t *testing.T) {
	chunkStart := ts("2026-01-10T12:00:00Z")
	prev := &State{
		OpenDialogueID:    uuid.New(),
		DialogueStartedAt: chunkStart.Add(-60 * time.Second),
		LastSpeechEndTs:   chunkStart.Add(-15 * time.Second),
	}

	plan := Stitch(prev, chunkStart, nil, testCfg)

	assert.Nil(t, plan.State, "silence gap elapsed before the chunk, state must be dropped")
	assert.Empty(t, plan.Dialogues)
}

func TestStitchSingleChunkOneDialogue(t *testing.T) {
	chunkStart := ts("2026-01-10T12:00:00Z")
	segments := []Segment{
		{StartMs: 0, EndMs: 2000},
		{StartMs: 5000, EndMs: 8000},
	}

	plan := Stitch(nil, chunkStart, segments, testCfg)

	require.Len(t, plan.Dialogues, 1)
	d := plan.Dialogues[0]
	assert.Equal(t, chunkStart, d.StartTs)
	assert.Equal(t, chunkStart.Add(8*time.Second), d.EndTs)

	require.Len(t, plan.Links, 2)
	assert.Equal(t, d.DialogueID, plan.Links[0].DialogueID)
	assert.Equal(t, d.DialogueID, plan.Links[1].DialogueID)
	assert.Equal(t, 0, plan.Links[0].SegmentIndex)
	assert.Equal(t, 1, plan.Links[1].SegmentIndex)

	require.NotNil(t, plan.State)
	assert.Equal(t, d.DialogueID, plan.State.OpenDialogueID)
	assert.Equal(t, chunkStart.Add(8*time.Second), plan.State.LastSpeechEndTs)
}

func TestStitchSilenceGapSplits(t *testing.T) {
	chunkStart := ts("2026-01-10T12:00:00Z")
	segments := []Segment{
		{StartMs: 0, EndMs: 2000},
		{StartMs: 15000, EndMs: 17000}, // 13s after previous speech end
	}

	plan := Stitch(nil, chunkStart, segments, testCfg)

	require.Len(t, plan.Dialogues, 2)
	assert.Equal(t, chunkStart, plan.Dialogues[0].StartTs)
	assert.Equal(t, chunkStart.Add(2*time.Second), plan.Dialogues[0].EndTs)
	assert.Equal(t, chunkStart.Add(15*time.Second), plan.Dialogues[1].StartTs)
	assert.Equal(t, chunkStart.Add(17*time.Second), plan.Dialogues[1].EndTs)

	require.Len(t, plan.Links, 2)
	assert.Equal(t, plan.Dialogues[0].DialogueID, plan.Links[0].DialogueID)
	assert.Equal(t, plan.Dialogues[1].DialogueID, plan.Links[1].DialogueID)

	require.NotNil(t, plan.State)
	assert.Equal(t, plan.Dialogues[1].DialogueID, plan.State.OpenDialogueID)
}

func TestStitchGapJustUnderLimitExtends(t *testing.T) {
	chunkStart := ts("2026-01-10T12:00:00Z")
	segments := []Segment{
		{StartMs: 0, EndMs: 2000},
		{StartMs: 13900, EndMs: 15000}, // 11.9s gap, still one dialogue
	}

	plan := Stitch(nil, chunkStart, segments, testCfg)

	require.Len(t, plan.Dialogues, 1)
	assert.Equal(t, chunkStart.Add(15*time.Second), plan.Dialogues[0].EndTs)
}

func TestStitchCrossChunkExtension(t *testing.T) {
	chunkStart := ts("2026-01-10T12:00:00Z")
	prev := &State{
		OpenDialogueID:    uuid.New(),
		DialogueStartedAt: chunkStart.Add(-30 * time.Second),
		LastSpeechEndTs:   chunkStart.Add(-5 * time.Second),
	}
	segments := []Segment{{StartMs: 0, EndMs: 1000}}

	plan := Stitch(prev, chunkStart, segments, testCfg)

	assert.Empty(t, plan.Dialogues)
	require.NotNil(t, plan.Extend)
	assert.Equal(t, prev.OpenDialogueID, plan.Extend.DialogueID)
	assert.Equal(t, chunkStart.Add(time.Second), plan.Extend.EndTs)

	require.Len(t, plan.Links, 1)
	assert.Equal(t, prev.OpenDialogueID, plan.Links[0].DialogueID)

	require.NotNil(t, plan.State)
	assert.Equal(t, prev.OpenDialogueID, plan.State.OpenDialogueID)
	assert.Equal(t, prev.DialogueStartedAt, plan.State.DialogueStartedAt)
	assert.Equal(t, chunkStart.Add(time.Second), plan.State.LastSpeechEndTs)
}

func TestStitchMaxDurationSplits(t *testing.T) {
	chunkStart := ts("2026-01-10T12:00:00Z")
	prev := &State{
		OpenDialogueID:    uuid.New(),
		DialogueStartedAt: chunkStart.Add(-119 * time.Second),
		LastSpeechEndTs:   chunkStart.Add(-2 * time.Second),
	}
	// Would stretch the open dialogue to 122s, past the 120s cap.
	segments := []Segment{{StartMs: 0, EndMs: 3000}}

	plan := Stitch(prev, chunkStart, segments, testCfg)

	require.Len(t, plan.Dialogues, 1)
	assert.Nil(t, plan.Extend)
	assert.NotEqual(t, prev.OpenDialogueID, plan.Dialogues[0].DialogueID)
	assert.Equal(t, chunkStart, plan.Dialogues[0].StartTs)

	require.NotNil(t, plan.State)
	assert.Equal(t, plan.Dialogues[0].DialogueID, plan.State.OpenDialogueID)
	assert.Equal(t, chunkStart, plan.State.DialogueStartedAt)
}

func TestStitchExtendThenSplitWithinChunk(t *testing.T) {
	chunkStart := ts("2026-01-10T12:00:00Z")
	prev := &State{
		OpenDialogueID:    uuid.New(),
		DialogueStartedAt: chunkStart.Add(-20 * time.Second),
		LastSpeechEndTs:   chunkStart.Add(-3 * time.Second),
	}
	segments := []Segment{
		{StartMs: 0, EndMs: 1000},      // extends the open dialogue
		{StartMs: 20000, EndMs: 22000}, // 19s gap, opens a new one
	}

	plan := Stitch(prev, chunkStart, segments, testCfg)

	require.NotNil(t, plan.Extend)
	assert.Equal(t, chunkStart.Add(time.Second), plan.Extend.EndTs)

	require.Len(t, plan.Dialogues, 1)
	assert.Equal(t, chunkStart.Add(20*time.Second), plan.Dialogues[0].StartTs)

	require.Len(t, plan.Links, 2)
	assert.Equal(t, prev.OpenDialogueID, plan.Links[0].DialogueID)
	assert.Equal(t, plan.Dialogues[0].DialogueID, plan.Links[1].DialogueID)
}

func TestStitchDoesNotMutateInput(t *testing.T) {
	chunkStart := ts("2026-01-10T12:00:00Z")
	prev := &State{
		OpenDialogueID:    uuid.New(),
		DialogueStartedAt: chunkStart.Add(-10 * time.Second),
		LastSpeechEndTs:   chunkStart.Add(-2 * time.Second),
	}
	before := *prev

	Stitch(prev, chunkStart, []Segment{{StartMs: 0, EndMs: 1000}}, testCfg)

	assert.Equal(t, before, *prev, "caller's state must stay untouched until the commit applies the plan")
}
