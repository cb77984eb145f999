package tree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kolab/internal/resource/model"
)

func baseTree() []model.ResourceNode {
	return []model.ResourceNode{
		{ID: "root", Name: "root", Kind: model.KindFolder, Revision: "r1"},
		{ID: "folderX", Name: "folderX", Kind: model.KindFolder, ParentID: "root", Revision: "r1"},
		{ID: "fileY", Name: "fileY", Kind: model.KindLeaf, ParentID: "folderX", Revision: "r1"},
	}
}

func TestClassifyIdenticalSnapshots(t *testing.T) {
	tr := baseTree()
	assert.Empty(t, Classify(tr, tr))
}

func TestClassifyDeleteYieldsPath(t *testing.T) {
	prev := baseTree()
	next := []model.ResourceNode{prev[0], prev[1]} // fileY removed

	changes := Classify(prev, next)
	require.Len(t, changes, 1)
	assert.Equal(t, ChangeDeleted, changes[0].Kind)
	assert.Equal(t, "fileY", changes[0].ResourceID)
	assert.Equal(t, "root/folderX/fileY", changes[0].Path)
}

func TestClassifyRenameIsSingleRecord(t *testing.T) {
	prev := baseTree()
	next := baseTree()
	next[2].Name = "fileZ"

	changes := Classify(prev, next)
	require.Len(t, changes, 1)
	assert.Equal(t, ChangeMovedOrRenamed, changes[0].Kind)
	assert.Equal(t, "fileY", changes[0].ResourceID)
	assert.Equal(t, "fileZ", changes[0].Name)
}

func TestClassifyReparent(t *testing.T) {
	prev := baseTree()
	next := baseTree()
	next[2].ParentID = "root"

	changes := Classify(prev, next)
	require.Len(t, changes, 1)
	assert.Equal(t, ChangeMovedOrRenamed, changes[0].Kind)
	assert.Equal(t, "fileY", changes[0].ResourceID)
}

func TestClassifyCreated(t *testing.T) {
	prev := baseTree()
	next := append(baseTree(), model.ResourceNode{
		ID: "fileW", Name: "fileW", Kind: model.KindLeaf, ParentID: "root", Revision: "r1",
	})

	changes := Classify(prev, next)
	require.Len(t, changes, 1)
	assert.Equal(t, ChangeCreated, changes[0].Kind)
	assert.Equal(t, "fileW", changes[0].ResourceID)
}

func TestClassifyRevisionChange(t *testing.T) {
	prev := baseTree()
	next := baseTree()
	next[2].Revision = "r2"

	changes := Classify(prev, next)
	require.Len(t, changes, 1)
	assert.Equal(t, ChangeContentUpdated, changes[0].Kind)
}

// A node that is both renamed and touched must classify as moved_or_renamed
// only; rename takes precedence over the revision check.
func TestClassifyRenamePrecedesRevision(t *testing.T) {
	prev := baseTree()
	next := baseTree()
	next[2].Name = "fileZ"
	next[2].Revision = "r9"

	changes := Classify(prev, next)
	require.Len(t, changes, 1)
	assert.Equal(t, ChangeMovedOrRenamed, changes[0].Kind)
}

func TestClassifyOrderingIsDeterministic(t *testing.T) {
	prev := baseTree()
	next := []model.ResourceNode{
		prev[0],
		{ID: "b-new", Name: "b", Kind: model.KindLeaf, ParentID: "root", Revision: "r1"},
		{ID: "a-new", Name: "a", Kind: model.KindLeaf, ParentID: "root", Revision: "r1"},
	}

	changes := Classify(prev, next)
	require.Len(t, changes, 4)
	// created sorted by id first, then the two deletions.
	assert.Equal(t, "a-new", changes[0].ResourceID)
	assert.Equal(t, "b-new", changes[1].ResourceID)
	assert.Equal(t, ChangeDeleted, changes[2].Kind)
	assert.Equal(t, ChangeDeleted, changes[3].Kind)
}

func TestClassifyDoesNotMutateInputs(t *testing.T) {
	prev := baseTree()
	next := baseTree()
	next[2].Name = "renamed"

	prevCopy := baseTree()
	Classify(prev, next)
	assert.Equal(t, prevCopy, prev)
}
