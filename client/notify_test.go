package client

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kolab/internal/resource/model"
	"kolab/internal/tree"
)

type fetchStub struct {
	snapshots [][]model.ResourceNode
	err       error
	calls     int
}

func (f *fetchStub) fetch(model.Domain) ([]model.ResourceNode, error) {
	if f.err != nil {
		return nil, f.err
	}
	snap := f.snapshots[f.calls]
	if f.calls < len(f.snapshots)-1 {
		f.calls++
	}
	return snap, nil
}

func nodes(ids ...string) []model.ResourceNode {
	out := make([]model.ResourceNode, 0, len(ids))
	for _, id := range ids {
		out = append(out, model.ResourceNode{ID: id, Name: id, Kind: model.KindLeaf, Revision: "r1"})
	}
	return out
}

type captured struct {
	changes []tree.Change
	total   int
}

func newTestNotifier(f *fetchStub) (*Notifier, *[]captured) {
	var got []captured
	n := NewNotifier(NewHub("ws://unused", "user1"), []model.Domain{model.DomainDocument},
		f.fetch, func(_ model.Domain, changes []tree.Change, total int) {
			got = append(got, captured{changes: changes, total: total})
		})
	return n, &got
}

func TestNotifierSurfacesClassifiedChanges(t *testing.T) {
	f := &fetchStub{snapshots: [][]model.ResourceNode{
		nodes("a", "b"),
		nodes("a", "b", "c"),
	}}
	n, got := newTestNotifier(f)
	defer n.Close()

	require.NoError(t, n.Prime(model.DomainDocument))
	n.handleTreeChanged(model.DomainDocument)

	require.Len(t, *got, 1)
	require.Len(t, (*got)[0].changes, 1)
	assert.Equal(t, tree.ChangeCreated, (*got)[0].changes[0].Kind)
	assert.Equal(t, "c", (*got)[0].changes[0].ResourceID)
	assert.Equal(t, 1, (*got)[0].total)
}

func TestNotifierCapsBatch(t *testing.T) {
	big := nodes("a")
	for i := 0; i < 9; i++ {
		big = append(big, model.ResourceNode{ID: fmt.Sprintf("n%d", i), Name: "n", Kind: model.KindLeaf, Revision: "r1"})
	}
	f := &fetchStub{snapshots: [][]model.ResourceNode{nodes("a"), big}}
	n, got := newTestNotifier(f)
	defer n.Close()

	require.NoError(t, n.Prime(model.DomainDocument))
	n.handleTreeChanged(model.DomainDocument)

	require.Len(t, *got, 1)
	assert.Len(t, (*got)[0].changes, 5, "at most 5 surfaced per batch")
	assert.Equal(t, 9, (*got)[0].total)
}

func TestNotifierSelfSuppression(t *testing.T) {
	f := &fetchStub{snapshots: [][]model.ResourceNode{
		nodes("a"),
		nodes("a", "b"),
		nodes("a", "b", "c"),
	}}
	n, got := newTestNotifier(f)
	defer n.Close()

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	now := base
	n.now = func() time.Time { return now }

	require.NoError(t, n.Prime(model.DomainDocument))

	// Our own mutation comes back: classified but not surfaced, and the
	// baseline still advances.
	n.MarkOwnChange()
	now = now.Add(time.Second)
	n.handleTreeChanged(model.DomainDocument)
	assert.Empty(t, *got)

	// A later remote change diffs against the advanced baseline.
	now = now.Add(5 * time.Second)
	n.handleTreeChanged(model.DomainDocument)
	require.Len(t, *got, 1)
	require.Len(t, (*got)[0].changes, 1)
	assert.Equal(t, "c", (*got)[0].changes[0].ResourceID)
}

func TestNotifierKeepsBaselineOnFetchFailure(t *testing.T) {
	f := &fetchStub{snapshots: [][]model.ResourceNode{
		nodes("a"),
		nodes("a", "b"),
	}}
	n, got := newTestNotifier(f)
	defer n.Close()

	require.NoError(t, n.Prime(model.DomainDocument))

	f.err = errors.New("storage unavailable")
	n.handleTreeChanged(model.DomainDocument)
	assert.Empty(t, *got, "failed fetch surfaces nothing")

	// Recovery merges the missed diff into the next one.
	f.err = nil
	n.handleTreeChanged(model.DomainDocument)
	require.Len(t, *got, 1)
	assert.Equal(t, "b", (*got)[0].changes[0].ResourceID)
}

func TestNotifierIdenticalSnapshotsSilent(t *testing.T) {
	f := &fetchStub{snapshots: [][]model.ResourceNode{nodes("a", "b")}}
	n, got := newTestNotifier(f)
	defer n.Close()

	require.NoError(t, n.Prime(model.DomainDocument))
	n.handleTreeChanged(model.DomainDocument)
	assert.Empty(t, *got)
}
