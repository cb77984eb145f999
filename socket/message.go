package socket

import (
	"encoding/json"

	"kolab/internal/presence"
	"kolab/internal/resource/model"
)

// EventType is the closed set of wire event kinds. New kinds are added here
// and in Valid; nothing dispatches on raw strings.
type EventType string

const (
	EventJoin           EventType = "join"            // client -> server: join a resource room
	EventLeave          EventType = "leave"           // client -> server: leave a resource room
	EventPresence       EventType = "presence_updated" // server -> room: full membership snapshot
	EventCursor         EventType = "cursor"          // both ways: cursor/selection movement
	EventContent        EventType = "content"         // both ways: opaque content delta
	EventContentSync    EventType = "content_sync"    // client asks, server answers with full content+revision
	EventLockAcquire    EventType = "lock_acquire"    // client -> server
	EventLockRelease    EventType = "lock_release"    // client -> server
	EventLockHeartbeat  EventType = "lock_heartbeat"  // client -> server
	EventLockUpdated    EventType = "lock_updated"    // server -> room: holder changed or cleared
	EventTreeChanged    EventType = "tree_changed"    // server -> all: re-fetch and re-diff the domain tree
	EventContentUpdated EventType = "content_updated" // server -> all: one resource's revision moved
	EventStreamStart    EventType = "stream_start"    // agent streaming session opened
	EventStreamChunk    EventType = "stream_chunk"    // incremental agent text
	EventStreamEnd      EventType = "stream_end"      // agent streaming session closed
	EventError          EventType = "error"           // server -> client: request-level failure
)

// Valid reports whether t is a known event kind.
func (t EventType) Valid() bool {
	switch t {
	case EventJoin, EventLeave, EventPresence, EventCursor, EventContent,
		EventContentSync, EventLockAcquire, EventLockRelease, EventLockHeartbeat,
		EventLockUpdated, EventTreeChanged, EventContentUpdated,
		EventStreamStart, EventStreamChunk, EventStreamEnd, EventError:
		return true
	}
	return false
}

// Message is the single frame shape multiplexed over the connection. UserID
// and Username are server-authoritative: the read pump overwrites whatever
// the client sent. ReqID correlates a request with its direct reply.
type Message struct {
	Type       EventType       `json:"type"`
	Domain     model.Domain    `json:"domain,omitempty"`
	ResourceID string          `json:"resource_id,omitempty"`
	UserID     string          `json:"user_id,omitempty"`
	Username   string          `json:"username,omitempty"`
	ReqID      string          `json:"req_id,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// JoinPayload carries agent identity on join; plain users send it empty.
type JoinPayload struct {
	IsAgent   bool   `json:"is_agent,omitempty"`
	AgentName string `json:"agent_name,omitempty"`
}

// PresencePayload is the full deduplicated membership of one resource.
type PresencePayload struct {
	Users []presence.Session `json:"users"`
}

// LockResult answers a lock_acquire/release/heartbeat request. LockedBy is
// set on conflict so the caller can show "being edited by X".
type LockResult struct {
	Granted  bool            `json:"granted"`
	LockedBy *model.LockInfo `json:"locked_by,omitempty"`
}

// LockUpdatedPayload fans out a lock transition to the room. LockedBy is nil
// after release or expiry.
type LockUpdatedPayload struct {
	LockedBy *model.LockInfo `json:"locked_by"`
}

// ContentPayload is an opaque content delta plus the sender's cursor.
type ContentPayload struct {
	Content   json.RawMessage `json:"content"`
	CursorPos int             `json:"cursor_pos"`
}

// ContentSyncPayload is the full-snapshot answer clients reconcile against.
type ContentSyncPayload struct {
	Content  json.RawMessage `json:"content"`
	Revision string          `json:"revision"`
}

// ContentUpdatedPayload announces that a resource's revision moved.
type ContentUpdatedPayload struct {
	Revision string `json:"revision"`
}

// TreeChangedPayload tells clients to reload the domain tree.
type TreeChangedPayload struct {
	Action string `json:"action"`
}

// StreamStartRequest opens an agent streaming session.
type StreamStartRequest struct {
	AgentName string `json:"agent_name"`
	Position  int    `json:"position"`
}

// StreamStartPayload is fanned out when a streaming session opens.
type StreamStartPayload struct {
	SessionID string `json:"session_id"`
	AgentName string `json:"agent_name"`
	Position  int    `json:"position"`
	Color     string `json:"color"`
}

// StreamChunkPayload carries one incremental chunk. Position is the running
// cursor after this chunk; when the sender omits it the server advances by
// the chunk length.
type StreamChunkPayload struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
	Position  int    `json:"position,omitempty"`
}

// StreamEndPayload closes a streaming session.
type StreamEndPayload struct {
	SessionID     string `json:"session_id"`
	FinalPosition int    `json:"final_position"`
}

// ErrorPayload describes a rejected request.
type ErrorPayload struct {
	Reason string `json:"reason"`
}
