package socket

import (
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ErrNoStream is returned for chunk/end operations on an unknown or already
// closed session.
var ErrNoStream = errors.New("no active streaming session")

// streamCleanupDelay keeps a finished session around briefly so late chunks
// from the agent fail cleanly instead of resurrecting it.
const streamCleanupDelay = 5 * time.Second

// StreamSession is one agent's in-progress streamed insertion into a
// resource.
type StreamSession struct {
	ID         string
	Room       string
	UserID     string
	Username   string
	AgentName  string
	StartPos   int
	CurrentPos int
	StartedAt  time.Time
	Active     bool
}

// StreamRegistry tracks active agent streaming sessions. Cleanup timers are
// owned here and cancelled when the registry shuts down.
type StreamRegistry struct {
	mu       sync.Mutex
	sessions map[string]*StreamSession
	timers   map[string]*time.Timer
	entropy  *ulid.MonotonicEntropy
}

func NewStreamRegistry() *StreamRegistry {
	return &StreamRegistry{
		sessions: make(map[string]*StreamSession),
		timers:   make(map[string]*time.Timer),
		entropy:  ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}
}

// Start opens a session and returns it with a freshly minted ULID.
func (sr *StreamRegistry) Start(room, userID, username, agentName string, startPos int) *StreamSession {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	now := time.Now()
	s := &StreamSession{
		ID:         ulid.MustNew(ulid.Timestamp(now), sr.entropy).String(),
		Room:       room,
		UserID:     userID,
		Username:   username,
		AgentName:  agentName,
		StartPos:   startPos,
		CurrentPos: startPos,
		StartedAt:  now,
		Active:     true,
	}
	sr.sessions[s.ID] = s
	return s
}

// Chunk advances the session position. When pos is negative the position
// advances by the chunk length.
func (sr *StreamRegistry) Chunk(sessionID, text string, pos int) (*StreamSession, error) {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	s, ok := sr.sessions[sessionID]
	if !ok || !s.Active {
		return nil, ErrNoStream
	}
	if pos >= 0 {
		s.CurrentPos = pos
	} else {
		s.CurrentPos += len(text)
	}
	cp := *s
	return &cp, nil
}

// End deactivates the session and schedules its removal.
func (sr *StreamRegistry) End(sessionID string) (*StreamSession, error) {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	s, ok := sr.sessions[sessionID]
	if !ok || !s.Active {
		return nil, ErrNoStream
	}
	s.Active = false
	sr.timers[sessionID] = time.AfterFunc(streamCleanupDelay, func() {
		sr.mu.Lock()
		delete(sr.sessions, sessionID)
		delete(sr.timers, sessionID)
		sr.mu.Unlock()
	})
	cp := *s
	return &cp, nil
}

// EndAllFor closes every active session owned by the user, returning them for
// stream_end fan-out. Used on disconnect.
func (sr *StreamRegistry) EndAllFor(userID string) []StreamSession {
	sr.mu.Lock()
	var ids []string
	for id, s := range sr.sessions {
		if s.UserID == userID && s.Active {
			ids = append(ids, id)
		}
	}
	sr.mu.Unlock()

	var ended []StreamSession
	for _, id := range ids {
		if s, err := sr.End(id); err == nil {
			ended = append(ended, *s)
		}
	}
	return ended
}

// Close cancels all pending cleanup timers.
func (sr *StreamRegistry) Close() {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	for id, t := range sr.timers {
		t.Stop()
		delete(sr.timers, id)
	}
}
