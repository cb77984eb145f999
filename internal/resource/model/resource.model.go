package model

import "time"

// Domain is one of the independent resource families sharing the
// coordination layer's mechanisms but not its data.
type Domain string

const (
	DomainDocument Domain = "document"
	DomainTask     Domain = "task"
	DomainVault    Domain = "vault"
	DomainFile     Domain = "file"
	DomainSchema   Domain = "schema"
)

// Valid reports whether d is a known domain.
func (d Domain) Valid() bool {
	switch d {
	case DomainDocument, DomainTask, DomainVault, DomainFile, DomainSchema:
		return true
	}
	return false
}

// NodeKind distinguishes containers from leaves in a domain tree.
type NodeKind string

const (
	KindFolder NodeKind = "folder"
	KindLeaf   NodeKind = "leaf"
)

// ResourceNode is one node of a domain tree snapshot. The coordination layer
// holds only transient copies of these for diffing; the resource store owns
// the authoritative rows.
type ResourceNode struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Kind     NodeKind `json:"kind"`
	ParentID string   `json:"parent_id,omitempty"` // empty for roots
	Revision string   `json:"revision"`            // opaque, e.g. last-modified timestamp
	Domain   Domain   `json:"domain"`
}

// Resource is an opaque content blob plus its revision marker.
type Resource struct {
	ID       string `json:"id"`
	Content  []byte `json:"content"`
	Revision string `json:"revision"`
}

// LockInfo is the wire shape of a lock holder, sent with lock_updated events
// and conflict responses.
type LockInfo struct {
	UserID   string    `json:"user_id"`
	Username string    `json:"user_name"`
	LockedAt time.Time `json:"locked_at"`
}
