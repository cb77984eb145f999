// Package presence tracks which users are currently joined to each resource,
// along with their cursor activity. State is ephemeral: sessions exist only
// as long as a live connection backs them.
package presence

import (
	"sync"
	"time"
)

// Session is one user's presence in a resource room. Cursor fields mutate on
// every cursor broadcast from that user.
type Session struct {
	UserID         string    `json:"user_id"`
	Username       string    `json:"username"`
	Color          string    `json:"color"`
	IsAgent        bool      `json:"is_agent"`
	AgentName      string    `json:"agent_name,omitempty"`
	CursorLine     int       `json:"cursor_line"`
	CursorColumn   int       `json:"cursor_column"`
	SelectionStart int       `json:"selection_start"`
	SelectionEnd   int       `json:"selection_end"`
	IsTyping       bool      `json:"is_typing"`
	LastActivity   time.Time `json:"last_activity"`
}

// CursorUpdate carries one cursor movement.
type CursorUpdate struct {
	Line           int  `json:"line"`
	Column         int  `json:"column"`
	SelectionStart int  `json:"selection_start"`
	SelectionEnd   int  `json:"selection_end"`
	IsTyping       bool `json:"is_typing"`
}

// User identifies a joining participant.
type User struct {
	ID        string
	Username  string
	IsAgent   bool
	AgentName string
}

type room struct {
	sessions   map[string]*Session // session id -> presence
	colorIndex int
}

// Tracker maintains per-room session sets keyed by connection session id,
// deduplicated per user for membership snapshots.
type Tracker struct {
	mu    sync.Mutex
	rooms map[string]*room
	now   func() time.Time
}

func NewTracker() *Tracker {
	return &Tracker{rooms: make(map[string]*room), now: time.Now}
}

// Join adds a session to a room and returns the updated membership. Joining
// again from the same session id is idempotent; an older session from the
// same user (a ghost left by a refresh or re-render) is replaced, not
// duplicated.
func (t *Tracker) Join(roomID, sessionID string, u User) []Session {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := t.rooms[roomID]
	if !ok {
		r = &room{sessions: make(map[string]*Session)}
		t.rooms[roomID] = r
	}

	// Resolve the color before ghost cleanup so a refreshed session keeps it.
	color := t.colorFor(r, u)

	// Drop ghost sessions for the same identity under a different session id.
	for sid, s := range r.sessions {
		if sid != sessionID && s.UserID == u.ID && s.IsAgent == u.IsAgent {
			delete(r.sessions, sid)
		}
	}

	r.sessions[sessionID] = &Session{
		UserID:       u.ID,
		Username:     u.Username,
		Color:        color,
		IsAgent:      u.IsAgent,
		AgentName:    u.AgentName,
		LastActivity: t.now(),
	}
	return r.membership()
}

// Leave removes a session from a room. Returns false if the session was not
// present, so leave after disconnect-cleanup stays a no-op.
func (t *Tracker) Leave(roomID, sessionID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := t.rooms[roomID]
	if !ok {
		return false
	}
	if _, ok := r.sessions[sessionID]; !ok {
		return false
	}
	delete(r.sessions, sessionID)
	if len(r.sessions) == 0 {
		delete(t.rooms, roomID)
	}
	return true
}

// LeaveAll removes the session from every room it joined and returns the
// affected room ids. This is the disconnect path: the tracker never assumes
// a graceful leave was received.
func (t *Tracker) LeaveAll(sessionID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var affected []string
	for roomID, r := range t.rooms {
		if _, ok := r.sessions[sessionID]; !ok {
			continue
		}
		delete(r.sessions, sessionID)
		affected = append(affected, roomID)
		if len(r.sessions) == 0 {
			delete(t.rooms, roomID)
		}
	}
	return affected
}

// UpdateCursor records a cursor movement and refreshes activity. Returns the
// updated session for fan-out, or nil if the session is unknown.
func (t *Tracker) UpdateCursor(roomID, sessionID string, c CursorUpdate) *Session {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := t.rooms[roomID]
	if !ok {
		return nil
	}
	s, ok := r.sessions[sessionID]
	if !ok {
		return nil
	}
	s.CursorLine = c.Line
	s.CursorColumn = c.Column
	s.SelectionStart = c.SelectionStart
	s.SelectionEnd = c.SelectionEnd
	s.IsTyping = c.IsTyping
	s.LastActivity = t.now()
	cp := *s
	return &cp
}

// Touch refreshes the session's activity timestamp.
func (t *Tracker) Touch(roomID, sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if r, ok := t.rooms[roomID]; ok {
		if s, ok := r.sessions[sessionID]; ok {
			s.LastActivity = t.now()
		}
	}
}

// Members returns the room membership deduplicated by (user id, is_agent),
// so a human and their agent can both appear.
func (t *Tracker) Members(roomID string) []Session {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := t.rooms[roomID]
	if !ok {
		return nil
	}
	return r.membership()
}

// SweepStale removes sessions idle beyond maxAge and returns the affected
// room ids so callers can re-broadcast membership.
func (t *Tracker) SweepStale(maxAge time.Duration) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	var affected []string
	for roomID, r := range t.rooms {
		removed := false
		for sid, s := range r.sessions {
			if now.Sub(s.LastActivity) > maxAge {
				delete(r.sessions, sid)
				removed = true
			}
		}
		if removed {
			affected = append(affected, roomID)
			if len(r.sessions) == 0 {
				delete(t.rooms, roomID)
			}
		}
	}
	return affected
}

func (r *room) membership() []Session {
	byKey := make(map[string]*Session, len(r.sessions))
	for _, s := range r.sessions {
		k := s.UserID
		if s.IsAgent {
			k += "_agent"
		}
		byKey[k] = s
	}
	out := make([]Session, 0, len(byKey))
	for _, s := range byKey {
		out = append(out, *s)
	}
	return out
}

// colorFor keeps a user's color stable across rejoins within a room and
// otherwise hands out the next palette entry.
func (t *Tracker) colorFor(r *room, u User) string {
	if u.IsAgent {
		return AgentColor(u.AgentName)
	}
	for _, s := range r.sessions {
		if s.UserID == u.ID && !s.IsAgent {
			return s.Color
		}
	}
	c := userColors[r.colorIndex%len(userColors)]
	r.colorIndex++
	return c
}
