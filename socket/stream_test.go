package socket

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamChunkAfterEnd(t *testing.T) {
	sr := NewStreamRegistry()
	defer sr.Close()

	s := sr.Start("document:doc-1", "agent", "Claude", "claude", 0)
	_, err := sr.End(s.ID)
	require.NoError(t, err)

	_, err = sr.Chunk(s.ID, "late", -1)
	assert.ErrorIs(t, err, ErrNoStream)
}

func TestStreamExplicitPositionWins(t *testing.T) {
	sr := NewStreamRegistry()
	defer sr.Close()

	s := sr.Start("document:doc-1", "agent", "Claude", "claude", 100)
	got, err := sr.Chunk(s.ID, "abc", 240)
	require.NoError(t, err)
	assert.Equal(t, 240, got.CurrentPos)
}

func TestStreamEndAllFor(t *testing.T) {
	sr := NewStreamRegistry()
	defer sr.Close()

	sr.Start("document:doc-1", "agent", "Claude", "claude", 0)
	sr.Start("task:task-1", "agent", "Claude", "claude", 0)
	sr.Start("task:task-2", "other", "Other", "cursor", 0)

	ended := sr.EndAllFor("agent")
	assert.Len(t, ended, 2)

	remaining := sr.EndAllFor("other")
	require.Len(t, remaining, 1)
	assert.Equal(t, "task:task-2", remaining[0].Room)
}
