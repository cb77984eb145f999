package presence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinThenLeaveRestoresMembership(t *testing.T) {
	tr := NewTracker()

	tr.Join("document:doc-1", "sess-1", User{ID: "userA", Username: "Alice"})
	before := tr.Members("document:doc-1")

	tr.Join("document:doc-1", "sess-2", User{ID: "userB", Username: "Bob"})
	require.True(t, tr.Leave("document:doc-1", "sess-2"))

	after := tr.Members("document:doc-1")
	require.Len(t, after, len(before))
	assert.Equal(t, "userA", after[0].UserID)
}

func TestJoinIsIdempotent(t *testing.T) {
	tr := NewTracker()

	tr.Join("document:doc-1", "sess-1", User{ID: "userA", Username: "Alice"})
	members := tr.Join("document:doc-1", "sess-1", User{ID: "userA", Username: "Alice"})

	assert.Len(t, members, 1)
}

func TestGhostSessionReplaced(t *testing.T) {
	tr := NewTracker()

	tr.Join("document:doc-1", "sess-old", User{ID: "userA", Username: "Alice"})
	// Same user reconnects under a new session id (page refresh).
	members := tr.Join("document:doc-1", "sess-new", User{ID: "userA", Username: "Alice"})

	require.Len(t, members, 1)
	assert.False(t, tr.Leave("document:doc-1", "sess-old"), "ghost session should already be gone")
}

func TestUserAndAgentCoexist(t *testing.T) {
	tr := NewTracker()

	tr.Join("document:doc-1", "sess-1", User{ID: "userA", Username: "Alice"})
	members := tr.Join("document:doc-1", "mcp_sess", User{ID: "userA", Username: "Alice", IsAgent: true, AgentName: "claude"})

	assert.Len(t, members, 2)
}

func TestColorStableAcrossRejoin(t *testing.T) {
	tr := NewTracker()

	tr.Join("document:doc-1", "sess-1", User{ID: "userA", Username: "Alice"})
	first := tr.Members("document:doc-1")[0].Color

	tr.Join("document:doc-1", "sess-2", User{ID: "userA", Username: "Alice"})
	assert.Equal(t, first, tr.Members("document:doc-1")[0].Color)
}

func TestAgentColorByName(t *testing.T) {
	tr := NewTracker()

	members := tr.Join("document:doc-1", "mcp_sess", User{ID: "agent", Username: "Claude", IsAgent: true, AgentName: "Claude"})
	require.Len(t, members, 1)
	assert.Equal(t, "#FF6B35", members[0].Color)
}

func TestLeaveAllOnDisconnect(t *testing.T) {
	tr := NewTracker()

	tr.Join("document:doc-1", "sess-1", User{ID: "userA", Username: "Alice"})
	tr.Join("task:task-9", "sess-1", User{ID: "userA", Username: "Alice"})
	tr.Join("task:task-9", "sess-2", User{ID: "userB", Username: "Bob"})

	affected := tr.LeaveAll("sess-1")
	assert.ElementsMatch(t, []string{"document:doc-1", "task:task-9"}, affected)
	assert.Empty(t, tr.Members("document:doc-1"))
	assert.Len(t, tr.Members("task:task-9"), 1)
}

func TestUpdateCursor(t *testing.T) {
	tr := NewTracker()

	tr.Join("document:doc-1", "sess-1", User{ID: "userA", Username: "Alice"})
	s := tr.UpdateCursor("document:doc-1", "sess-1", CursorUpdate{Line: 4, Column: 12, SelectionStart: 10, SelectionEnd: 20, IsTyping: true})

	require.NotNil(t, s)
	assert.Equal(t, 4, s.CursorLine)
	assert.Equal(t, 12, s.CursorColumn)
	assert.True(t, s.IsTyping)

	assert.Nil(t, tr.UpdateCursor("document:doc-1", "unknown", CursorUpdate{}))
}

func TestSweepStale(t *testing.T) {
	tr := NewTracker()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return base }

	tr.Join("document:doc-1", "sess-1", User{ID: "userA", Username: "Alice"})
	tr.now = func() time.Time { return base.Add(10 * time.Second) }
	tr.Join("document:doc-1", "sess-2", User{ID: "userB", Username: "Bob"})

	tr.now = func() time.Time { return base.Add(20 * time.Second) }
	affected := tr.SweepStale(15 * time.Second)

	require.Equal(t, []string{"document:doc-1"}, affected)
	members := tr.Members("document:doc-1")
	require.Len(t, members, 1)
	assert.Equal(t, "userB", members[0].UserID)
}
