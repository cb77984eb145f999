// Package tree compares two full-tree snapshots of a domain and classifies
// every changed node. The output is strictly the minimal changed set; nodes
// that did not change are dropped.
package tree

import (
	"sort"
	"strings"

	"kolab/internal/resource/model"
)

// ChangeKind classifies a single changed node.
type ChangeKind string

const (
	ChangeCreated        ChangeKind = "created"
	ChangeMovedOrRenamed ChangeKind = "moved_or_renamed"
	ChangeContentUpdated ChangeKind = "content_updated"
	ChangeDeleted        ChangeKind = "deleted"
)

// Change is one classified difference between two snapshots. Path is set only
// for deletions, captured from the pre-change snapshot since the node no
// longer exists in the next one.
type Change struct {
	ResourceID string     `json:"resource_id"`
	Kind       ChangeKind `json:"kind"`
	Name       string     `json:"name"`
	Path       string     `json:"path,omitempty"`
}

// Classify flattens both snapshots into id-keyed maps and classifies each id:
// present only in next is created; present only in prev is deleted; present in
// both with a different name or parent is moved_or_renamed; present in both
// with the same name/parent but a different revision is content_updated.
// Classification is exclusive per id. Neither snapshot is mutated.
//
// Output order is deterministic: created, moved_or_renamed, content_updated,
// deleted, each class sorted by resource id.
func Classify(prev, next []model.ResourceNode) []Change {
	prevByID := flatten(prev)
	nextByID := flatten(next)

	var created, moved, updated, deleted []Change

	for id, node := range nextByID {
		old, ok := prevByID[id]
		if !ok {
			created = append(created, Change{ResourceID: id, Kind: ChangeCreated, Name: node.Name})
			continue
		}
		switch {
		case old.Name != node.Name || old.ParentID != node.ParentID:
			moved = append(moved, Change{ResourceID: id, Kind: ChangeMovedOrRenamed, Name: node.Name})
		case old.Revision != node.Revision:
			updated = append(updated, Change{ResourceID: id, Kind: ChangeContentUpdated, Name: node.Name})
		}
	}

	for id, node := range prevByID {
		if _, ok := nextByID[id]; ok {
			continue
		}
		deleted = append(deleted, Change{
			ResourceID: id,
			Kind:       ChangeDeleted,
			Name:       node.Name,
			Path:       pathOf(prevByID, id),
		})
	}

	for _, class := range [][]Change{created, moved, updated, deleted} {
		sort.Slice(class, func(i, j int) bool { return class[i].ResourceID < class[j].ResourceID })
	}

	out := make([]Change, 0, len(created)+len(moved)+len(updated)+len(deleted))
	out = append(out, created...)
	out = append(out, moved...)
	out = append(out, updated...)
	out = append(out, deleted...)
	return out
}

func flatten(nodes []model.ResourceNode) map[string]model.ResourceNode {
	m := make(map[string]model.ResourceNode, len(nodes))
	for _, n := range nodes {
		m[n.ID] = n
	}
	return m
}

// pathOf walks parent links in the snapshot to build a human-readable path,
// root first, names joined with "/". The walk is bounded by the snapshot size
// so a corrupt parent cycle cannot spin forever.
func pathOf(byID map[string]model.ResourceNode, id string) string {
	var names []string
	cur, ok := byID[id]
	for steps := 0; ok && steps <= len(byID); steps++ {
		names = append(names, cur.Name)
		if cur.ParentID == "" {
			break
		}
		cur, ok = byID[cur.ParentID]
	}
	// Reverse into root-first order.
	for i, j := 0, len(names)-1; i < j; i, j = i+1, j-1 {
		names[i], names[j] = names[j], names[i]
	}
	return strings.Join(names, "/")
}
