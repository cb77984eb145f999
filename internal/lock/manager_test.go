package lock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kolab/internal/resource/model"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestManager() (*Manager, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	return NewManager(WithTTL(5*time.Minute), WithClock(clock.now)), clock
}

func TestAcquireConflictReportsHolder(t *testing.T) {
	m, _ := newTestManager()

	_, err := m.Acquire(model.DomainDocument, "doc-1", "userA", "Alice")
	require.NoError(t, err)

	held, err := m.Acquire(model.DomainDocument, "doc-1", "userB", "Bob")
	assert.ErrorIs(t, err, ErrHeld)
	require.NotNil(t, held)
	assert.Equal(t, "userA", held.HolderID)
	assert.Equal(t, "Alice", held.HolderName)
}

func TestAcquireIsIdempotentForHolder(t *testing.T) {
	m, clock := newTestManager()

	first, err := m.Acquire(model.DomainDocument, "doc-1", "userA", "Alice")
	require.NoError(t, err)

	clock.advance(time.Minute)
	again, err := m.Acquire(model.DomainDocument, "doc-1", "userA", "Alice")
	require.NoError(t, err)
	assert.Equal(t, first.AcquiredAt, again.AcquiredAt)
	assert.True(t, again.LastHeartbeatAt.After(first.LastHeartbeatAt))
}

func TestAbandonedLockTakeover(t *testing.T) {
	m, clock := newTestManager()

	_, err := m.Acquire(model.DomainDocument, "doc-1", "userA", "Alice")
	require.NoError(t, err)

	clock.advance(5*time.Minute + time.Second)

	taken, err := m.Acquire(model.DomainDocument, "doc-1", "userB", "Bob")
	require.NoError(t, err)
	assert.Equal(t, "userB", taken.HolderID)
}

func TestHeartbeatKeepsLockAlive(t *testing.T) {
	m, clock := newTestManager()

	_, err := m.Acquire(model.DomainDocument, "doc-1", "userA", "Alice")
	require.NoError(t, err)

	clock.advance(4 * time.Minute)
	require.NoError(t, m.Heartbeat(model.DomainDocument, "doc-1", "userA"))

	clock.advance(4 * time.Minute)
	// 8 minutes since acquire but only 4 since the heartbeat: still held.
	_, err = m.Acquire(model.DomainDocument, "doc-1", "userB", "Bob")
	assert.ErrorIs(t, err, ErrHeld)
}

func TestHeartbeatFromNonHolder(t *testing.T) {
	m, _ := newTestManager()

	_, err := m.Acquire(model.DomainDocument, "doc-1", "userA", "Alice")
	require.NoError(t, err)

	assert.ErrorIs(t, m.Heartbeat(model.DomainDocument, "doc-1", "userB"), ErrNotHolder)
	assert.ErrorIs(t, m.Heartbeat(model.DomainDocument, "doc-2", "userA"), ErrNotLocked)
}

func TestReleaseByNonHolderKeepsLock(t *testing.T) {
	m, _ := newTestManager()

	_, err := m.Acquire(model.DomainDocument, "doc-1", "userA", "Alice")
	require.NoError(t, err)

	assert.ErrorIs(t, m.Release(model.DomainDocument, "doc-1", "userB"), ErrNotHolder)

	still := m.Get(model.DomainDocument, "doc-1")
	require.NotNil(t, still)
	assert.Equal(t, "userA", still.HolderID)
}

func TestReleaseThenReacquire(t *testing.T) {
	m, _ := newTestManager()

	_, err := m.Acquire(model.DomainDocument, "doc-1", "userA", "Alice")
	require.NoError(t, err)

	_, err = m.Acquire(model.DomainDocument, "doc-1", "userB", "Bob")
	assert.ErrorIs(t, err, ErrHeld)

	require.NoError(t, m.Release(model.DomainDocument, "doc-1", "userA"))

	granted, err := m.Acquire(model.DomainDocument, "doc-1", "userB", "Bob")
	require.NoError(t, err)
	assert.Equal(t, "userB", granted.HolderID)
}

func TestReleaseAllHeldBy(t *testing.T) {
	m, _ := newTestManager()

	_, _ = m.Acquire(model.DomainDocument, "doc-1", "userA", "Alice")
	_, _ = m.Acquire(model.DomainTask, "task-1", "userA", "Alice")
	_, _ = m.Acquire(model.DomainVault, "vault-1", "userB", "Bob")

	released := m.ReleaseAllHeldBy("userA")
	assert.Len(t, released, 2)
	assert.Nil(t, m.Get(model.DomainDocument, "doc-1"))
	assert.Nil(t, m.Get(model.DomainTask, "task-1"))
	assert.NotNil(t, m.Get(model.DomainVault, "vault-1"))
}

func TestSweepRemovesOnlyExpired(t *testing.T) {
	m, clock := newTestManager()

	_, _ = m.Acquire(model.DomainDocument, "doc-1", "userA", "Alice")
	clock.advance(3 * time.Minute)
	_, _ = m.Acquire(model.DomainDocument, "doc-2", "userB", "Bob")
	clock.advance(3 * time.Minute)

	// doc-1 is 6 minutes stale, doc-2 only 3.
	expired := m.Sweep()
	require.Len(t, expired, 1)
	assert.Equal(t, "doc-1", expired[0].ResourceID)
	assert.NotNil(t, m.Get(model.DomainDocument, "doc-2"))
}

func TestSnapshotFiltersExpired(t *testing.T) {
	m, clock := newTestManager()

	_, _ = m.Acquire(model.DomainFile, "f-1", "userA", "Alice")
	_, _ = m.Acquire(model.DomainFile, "f-2", "userB", "Bob")
	clock.advance(6 * time.Minute)
	require.NoError(t, m.Heartbeat(model.DomainFile, "f-2", "userB"))

	// f-1 is 6 minutes stale; f-2 was just renewed.
	snap := m.Snapshot(model.DomainFile)
	require.Len(t, snap, 1)
	assert.Equal(t, "f-2", snap[0].ResourceID)
}
