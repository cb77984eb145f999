package client

import (
	"encoding/json"
	"sync"
	"time"

	"kolab/internal/presence"
	"kolab/internal/resource/model"
	"kolab/pkg/logger"
	"kolab/socket"
)

const (
	// localEditDebounce protects in-flight keystrokes: remote content is not
	// applied while a local edit happened inside this window.
	localEditDebounce = 500 * time.Millisecond

	// remoteOriginWindow tags freshly applied remote content so the local
	// editor's change detection does not re-broadcast it (echo loop).
	remoteOriginWindow = 100 * time.Millisecond

	// DefaultHeartbeatInterval matches the server's expectation for lock
	// renewal while an editor stays open.
	DefaultHeartbeatInterval = 2 * time.Minute
)

// StreamIndicator is the single "currently streaming" badge per resource.
type StreamIndicator struct {
	SessionID string
	AgentName string
	Color     string
}

// ResourceSession is one joined resource. It owns every timer attached to
// that resource (lock heartbeat, echo windows) and cancels them on Close, so
// nothing leaks across resource switches.
type ResourceSession struct {
	hub        *Hub
	domain     model.Domain
	resourceID string

	mu                sync.Mutex
	holdingLock       bool
	heartbeatStop     chan struct{}
	heartbeatInterval time.Duration
	lastLocalEdit     time.Time
	remoteOriginUntil time.Time
	streaming         *StreamIndicator
	closed            bool
	unsubs            []func()
	now               func() time.Time
}

// JoinOptions carries optional agent identity.
type JoinOptions struct {
	IsAgent   bool
	AgentName string
}

// Join enters a resource room and returns its session. Presence join is
// optimistic (assumed to succeed); lock acquisition never is.
func (h *Hub) Join(domain model.Domain, resourceID string, opts JoinOptions) (*ResourceSession, error) {
	s := &ResourceSession{
		hub:               h,
		domain:            domain,
		resourceID:        resourceID,
		heartbeatInterval: DefaultHeartbeatInterval,
		now:               time.Now,
	}

	// Track the one streaming indicator for this resource.
	unsubStart := h.Subscribe(domain, socket.EventStreamStart, func(msg socket.Message) {
		if msg.ResourceID != resourceID {
			return
		}
		var p socket.StreamStartPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return
		}
		s.mu.Lock()
		s.streaming = &StreamIndicator{SessionID: p.SessionID, AgentName: p.AgentName, Color: p.Color}
		s.mu.Unlock()
	})
	unsubEnd := h.Subscribe(domain, socket.EventStreamEnd, func(msg socket.Message) {
		if msg.ResourceID != resourceID {
			return
		}
		var p socket.StreamEndPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return
		}
		s.mu.Lock()
		if s.streaming != nil && s.streaming.SessionID == p.SessionID {
			s.streaming = nil
		}
		s.mu.Unlock()
	})
	s.unsubs = append(s.unsubs, unsubStart, unsubEnd)

	err := h.Send(socket.Message{
		Type:       socket.EventJoin,
		Domain:     domain,
		ResourceID: resourceID,
		Payload:    mustMarshal(socket.JoinPayload{IsAgent: opts.IsAgent, AgentName: opts.AgentName}),
	})
	if err != nil && err != ErrNotConnected {
		for _, unsub := range s.unsubs {
			unsub()
		}
		return nil, err
	}
	return s, nil
}

// Lock requests the soft lock. No optimistic local state: the caller must
// wait for this confirmation before editing. On grant a heartbeat ticker is
// started; on conflict the current holder is returned.
func (s *ResourceSession) Lock() (granted bool, holder *model.LockInfo, err error) {
	reply, err := s.hub.Request(socket.Message{
		Type:       socket.EventLockAcquire,
		Domain:     s.domain,
		ResourceID: s.resourceID,
	})
	if err != nil {
		return false, nil, err
	}

	var result socket.LockResult
	if err := json.Unmarshal(reply.Payload, &result); err != nil {
		return false, nil, err
	}
	if !result.Granted {
		return false, result.LockedBy, nil
	}

	s.mu.Lock()
	s.holdingLock = true
	s.startHeartbeatLocked()
	s.mu.Unlock()
	return true, result.LockedBy, nil
}

// Unlock releases the soft lock and stops the heartbeat.
func (s *ResourceSession) Unlock() error {
	s.mu.Lock()
	s.holdingLock = false
	s.stopHeartbeatLocked()
	s.mu.Unlock()

	_, err := s.hub.Request(socket.Message{
		Type:       socket.EventLockRelease,
		Domain:     s.domain,
		ResourceID: s.resourceID,
	})
	return err
}

// HoldingLock reports whether this session currently holds the soft lock.
func (s *ResourceSession) HoldingLock() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.holdingLock
}

func (s *ResourceSession) startHeartbeatLocked() {
	if s.heartbeatStop != nil {
		return
	}
	stop := make(chan struct{})
	s.heartbeatStop = stop

	go func() {
		ticker := time.NewTicker(s.heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				err := s.hub.Send(socket.Message{
					Type:       socket.EventLockHeartbeat,
					Domain:     s.domain,
					ResourceID: s.resourceID,
				})
				if err != nil {
					// Disconnected: the TTL is the backstop now.
					logger.Sugar.Debugf("Lock heartbeat skipped for %s/%s: %v", s.domain, s.resourceID, err)
				}
			}
		}
	}()
}

func (s *ResourceSession) stopHeartbeatLocked() {
	if s.heartbeatStop != nil {
		close(s.heartbeatStop)
		s.heartbeatStop = nil
	}
}

// BroadcastCursor sends a cursor/selection movement, fire-and-forget.
func (s *ResourceSession) BroadcastCursor(line, column, selectionStart, selectionEnd int, typing bool) {
	err := s.hub.Send(socket.Message{
		Type:       socket.EventCursor,
		Domain:     s.domain,
		ResourceID: s.resourceID,
		Payload: mustMarshal(presence.CursorUpdate{
			Line:           line,
			Column:         column,
			SelectionStart: selectionStart,
			SelectionEnd:   selectionEnd,
			IsTyping:       typing,
		}),
	})
	if err != nil && err != ErrNotConnected {
		logger.Sugar.Warnf("Cursor broadcast failed: %v", err)
	}
}

// BroadcastContent sends an opaque content delta, fire-and-forget. Echoes of
// just-applied remote content are suppressed.
func (s *ResourceSession) BroadcastContent(content json.RawMessage, cursorPos int) {
	if !s.ShouldRebroadcast() {
		return
	}
	err := s.hub.Send(socket.Message{
		Type:       socket.EventContent,
		Domain:     s.domain,
		ResourceID: s.resourceID,
		Payload:    mustMarshal(socket.ContentPayload{Content: content, CursorPos: cursorPos}),
	})
	if err != nil && err != ErrNotConnected {
		logger.Sugar.Warnf("Content broadcast failed: %v", err)
	}
}

// RequestSync fetches the full authoritative content plus revision, the
// reconciliation path after reconnects or suspected divergence.
func (s *ResourceSession) RequestSync() (*socket.ContentSyncPayload, error) {
	reply, err := s.hub.Request(socket.Message{
		Type:       socket.EventContentSync,
		Domain:     s.domain,
		ResourceID: s.resourceID,
	})
	if err != nil {
		return nil, err
	}
	var p socket.ContentSyncPayload
	if err := json.Unmarshal(reply.Payload, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// MarkLocalEdit stamps a local keystroke; remote applications are rejected
// for the debounce window that follows.
func (s *ResourceSession) MarkLocalEdit() {
	s.mu.Lock()
	s.lastLocalEdit = s.now()
	s.mu.Unlock()
}

// ApplyRemote decides whether incoming remote content may be applied. It
// refuses while a local edit is in flight; on acceptance it opens the
// remote-origin window so the editor's own change detection stays quiet.
func (s *ResourceSession) ApplyRemote() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if now.Sub(s.lastLocalEdit) < localEditDebounce {
		return false
	}
	s.remoteOriginUntil = now.Add(remoteOriginWindow)
	return true
}

// ShouldRebroadcast reports whether a detected change is locally originated
// (true) or just the tail of an applied remote change (false).
func (s *ResourceSession) ShouldRebroadcast() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now().After(s.remoteOriginUntil)
}

// Streaming returns the current streaming indicator, or nil.
func (s *ResourceSession) Streaming() *StreamIndicator {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streaming
}

// Close leaves the resource, releases a held lock, stops every timer, and
// removes the session's subscriptions. Best-effort: on an abrupt disconnect
// the server-side TTLs are the backstop.
func (s *ResourceSession) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	holding := s.holdingLock
	s.holdingLock = false
	s.stopHeartbeatLocked()
	unsubs := s.unsubs
	s.unsubs = nil
	s.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}

	if holding {
		_, _ = s.hub.Request(socket.Message{
			Type:       socket.EventLockRelease,
			Domain:     s.domain,
			ResourceID: s.resourceID,
		})
	}
	_ = s.hub.Send(socket.Message{
		Type:       socket.EventLeave,
		Domain:     s.domain,
		ResourceID: s.resourceID,
	})
}

func mustMarshal(v interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		logger.Sugar.Errorf("Error marshalling payload: %v", err)
		return nil
	}
	return b
}
