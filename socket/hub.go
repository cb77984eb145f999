package socket

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"kolab/internal/lock"
	"kolab/internal/presence"
	"kolab/internal/resource/model"
	"kolab/internal/resource/repository"
	"kolab/pkg/logger"
)

// staleSessionAge is the backstop for sessions whose leave was never
// received; live connections refresh it via the ping handler.
const staleSessionAge = 90 * time.Second

type inboundMessage struct {
	client *Client
	msg    Message
}

// Hub multiplexes every resource room of every domain over the connected
// clients. One hub per process; all room, lock, and presence transitions go
// through its Run loop.
type Hub struct {
	Register   chan *Client
	Unregister chan *Client
	Inbound    chan inboundMessage

	Locks    *lock.Manager
	Presence *presence.Tracker
	Streams  *StreamRegistry

	repo *repository.ResourceRepository

	mu        sync.Mutex
	rooms     map[string]map[*Client]bool
	clients   map[*Client]bool
	userConns map[string]int // userID -> live connection count
}

func NewHub(repo *repository.ResourceRepository, locks *lock.Manager) *Hub {
	return &Hub{
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		Inbound:    make(chan inboundMessage),
		Locks:      locks,
		Presence:   presence.NewTracker(),
		Streams:    NewStreamRegistry(),
		repo:       repo,
		rooms:      make(map[string]map[*Client]bool),
		clients:    make(map[*Client]bool),
		userConns:  make(map[string]int),
	}
}

func roomKey(domain model.Domain, resourceID string) string {
	return string(domain) + ":" + resourceID
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.Register:
			h.mu.Lock()
			h.clients[client] = true
			h.userConns[client.UserID]++
			h.mu.Unlock()
			logger.Sugar.Infof("Client connected: user=%s session=%s", client.UserID, client.SessionID)

		case client := <-h.Unregister:
			h.dropClient(client)

		case in := <-h.Inbound:
			h.handleMessage(in.client, in.msg)
		}
	}
}

// dropClient tears down everything an abruptly departed connection backed:
// room membership, presence, streams, and (for the user's last connection)
// any held locks.
func (h *Hub) dropClient(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, client)
	for roomID := range client.rooms {
		if members, ok := h.rooms[roomID]; ok {
			delete(members, client)
			if len(members) == 0 {
				delete(h.rooms, roomID)
			}
		}
	}
	h.userConns[client.UserID]--
	lastConn := h.userConns[client.UserID] <= 0
	if lastConn {
		delete(h.userConns, client.UserID)
	}
	// Send stays open: cross-goroutine broadcasts (sweepers, tree
	// notifications) may still hold a reference. The done channel stops the
	// write pump instead.
	close(client.done)
	h.mu.Unlock()

	for _, roomID := range h.Presence.LeaveAll(client.SessionID) {
		h.broadcastPresence(roomID)
	}

	for _, s := range h.Streams.EndAllFor(client.UserID) {
		h.broadcastStreamEnd(s)
	}

	// Implicit release: don't strand locks until the TTL elapses. Only when
	// the user's last connection is gone; another tab may still be editing.
	if lastConn {
		for _, l := range h.Locks.ReleaseAllHeldBy(client.UserID) {
			h.broadcastLockUpdate(l.Domain, l.ResourceID, nil)
			h.logLockActivity(client, l.Domain, l.ResourceID, "lock_released_on_disconnect")
		}
	}
	logger.Sugar.Infof("Client disconnected: user=%s session=%s", client.UserID, client.SessionID)
}

func (h *Hub) handleMessage(c *Client, msg Message) {
	switch msg.Type {
	case EventJoin:
		h.handleJoin(c, msg)
	case EventLeave:
		h.handleLeave(c, msg)
	case EventCursor:
		h.handleCursor(c, msg)
	case EventContent:
		h.handleContent(c, msg)
	case EventContentSync:
		h.handleContentSync(c, msg)
	case EventLockAcquire, EventLockRelease, EventLockHeartbeat:
		h.handleLock(c, msg)
	case EventStreamStart, EventStreamChunk, EventStreamEnd:
		h.handleStream(c, msg)
	default:
		// Join/leave/broadcast kinds only; server-originated kinds
		// (presence_updated, tree_changed, ...) are not accepted inbound.
		h.replyError(c, msg, "unsupported event type")
	}
}

func (h *Hub) handleJoin(c *Client, msg Message) {
	var p JoinPayload
	_ = json.Unmarshal(msg.Payload, &p)

	roomID := roomKey(msg.Domain, msg.ResourceID)
	h.mu.Lock()
	if h.rooms[roomID] == nil {
		h.rooms[roomID] = make(map[*Client]bool)
	}
	h.rooms[roomID][c] = true
	c.rooms[roomID] = true
	h.mu.Unlock()

	h.Presence.Join(roomID, c.SessionID, presence.User{
		ID:        c.UserID,
		Username:  c.Username,
		IsAgent:   p.IsAgent,
		AgentName: p.AgentName,
	})
	h.broadcastPresence(roomID)

	// Tell the joiner who holds the lock, if anyone.
	var info *model.LockInfo
	if l := h.Locks.Get(msg.Domain, msg.ResourceID); l != nil {
		li := l.Info()
		info = &li
	}
	h.sendTo(c, Message{
		Type:       EventLockUpdated,
		Domain:     msg.Domain,
		ResourceID: msg.ResourceID,
		Payload:    marshalPayload(LockUpdatedPayload{LockedBy: info}),
	})
}

func (h *Hub) handleLeave(c *Client, msg Message) {
	roomID := roomKey(msg.Domain, msg.ResourceID)
	h.mu.Lock()
	if members, ok := h.rooms[roomID]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, roomID)
		}
	}
	delete(c.rooms, roomID)
	h.mu.Unlock()

	if h.Presence.Leave(roomID, c.SessionID) {
		h.broadcastPresence(roomID)
	}
}

func (h *Hub) handleCursor(c *Client, msg Message) {
	roomID := roomKey(msg.Domain, msg.ResourceID)

	var cu presence.CursorUpdate
	if err := json.Unmarshal(msg.Payload, &cu); err != nil {
		logger.Sugar.Warnf("Bad cursor payload from %s: %v", c.UserID, err)
		return
	}
	s := h.Presence.UpdateCursor(roomID, c.SessionID, cu)
	if s == nil {
		return
	}

	// Relay the enriched session (color, agent identity) rather than the raw
	// payload so receivers can render without a presence lookup.
	h.broadcastRoom(roomID, Message{
		Type:       EventCursor,
		Domain:     msg.Domain,
		ResourceID: msg.ResourceID,
		UserID:     c.UserID,
		Username:   c.Username,
		Payload:    marshalPayload(s),
	}, c)
}

func (h *Hub) handleContent(c *Client, msg Message) {
	roomID := roomKey(msg.Domain, msg.ResourceID)
	h.Presence.Touch(roomID, c.SessionID)
	h.broadcastRoom(roomID, msg, c)
}

func (h *Hub) handleContentSync(c *Client, msg Message) {
	if h.repo == nil {
		h.replyError(c, msg, "resource unavailable")
		return
	}
	res, err := h.repo.GetResource(msg.ResourceID)
	if err != nil {
		h.replyError(c, msg, "resource unavailable")
		return
	}
	h.sendTo(c, Message{
		Type:       EventContentSync,
		Domain:     msg.Domain,
		ResourceID: msg.ResourceID,
		ReqID:      msg.ReqID,
		Payload:    marshalPayload(ContentSyncPayload{Content: res.Content, Revision: res.Revision}),
	})
}

func (h *Hub) handleLock(c *Client, msg Message) {
	var result LockResult

	switch msg.Type {
	case EventLockAcquire:
		l, err := h.Locks.Acquire(msg.Domain, msg.ResourceID, c.UserID, c.Username)
		if errors.Is(err, lock.ErrHeld) {
			// A conflict is a normal outcome, not an error: report the holder.
			li := l.Info()
			result = LockResult{Granted: false, LockedBy: &li}
		} else {
			li := l.Info()
			result = LockResult{Granted: true, LockedBy: &li}
			h.broadcastLockUpdate(msg.Domain, msg.ResourceID, &li)
			h.logLockActivity(c, msg.Domain, msg.ResourceID, "lock_acquired")
		}

	case EventLockRelease:
		err := h.Locks.Release(msg.Domain, msg.ResourceID, c.UserID)
		result = LockResult{Granted: err == nil}
		if err == nil {
			h.broadcastLockUpdate(msg.Domain, msg.ResourceID, nil)
			h.logLockActivity(c, msg.Domain, msg.ResourceID, "lock_released")
		}

	case EventLockHeartbeat:
		err := h.Locks.Heartbeat(msg.Domain, msg.ResourceID, c.UserID)
		result = LockResult{Granted: err == nil}
	}

	h.sendTo(c, Message{
		Type:       msg.Type,
		Domain:     msg.Domain,
		ResourceID: msg.ResourceID,
		ReqID:      msg.ReqID,
		Payload:    marshalPayload(result),
	})
}

func (h *Hub) handleStream(c *Client, msg Message) {
	roomID := roomKey(msg.Domain, msg.ResourceID)

	switch msg.Type {
	case EventStreamStart:
		var req StreamStartRequest
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			h.replyError(c, msg, "bad stream_start payload")
			return
		}
		s := h.Streams.Start(roomID, c.UserID, c.Username, req.AgentName, req.Position)
		out := Message{
			Type:       EventStreamStart,
			Domain:     msg.Domain,
			ResourceID: msg.ResourceID,
			UserID:     c.UserID,
			Username:   c.Username,
			ReqID:      msg.ReqID,
			Payload: marshalPayload(StreamStartPayload{
				SessionID: s.ID,
				AgentName: s.AgentName,
				Position:  s.StartPos,
				Color:     presence.AgentColor(s.AgentName),
			}),
		}
		// The sender needs the session id too, so no sender exclusion here.
		h.broadcastRoom(roomID, out, nil)

	case EventStreamChunk:
		var p StreamChunkPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return
		}
		pos := p.Position
		if pos == 0 {
			pos = -1 // advance by chunk length
		}
		s, err := h.Streams.Chunk(p.SessionID, p.Text, pos)
		if err != nil {
			h.replyError(c, msg, "unknown streaming session")
			return
		}
		p.Position = s.CurrentPos
		h.broadcastRoom(roomID, Message{
			Type:       EventStreamChunk,
			Domain:     msg.Domain,
			ResourceID: msg.ResourceID,
			UserID:     c.UserID,
			Username:   c.Username,
			Payload:    marshalPayload(p),
		}, c)

	case EventStreamEnd:
		var p StreamEndPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return
		}
		s, err := h.Streams.End(p.SessionID)
		if err != nil {
			return
		}
		h.broadcastStreamEnd(*s)
	}
}

// NotifyTreeChanged fans a domain-wide tree_changed event out to every
// connected client; each client re-fetches and re-diffs on receipt.
func (h *Hub) NotifyTreeChanged(domain model.Domain) {
	h.broadcastAll(Message{
		Type:    EventTreeChanged,
		Domain:  domain,
		Payload: marshalPayload(TreeChangedPayload{Action: "reload"}),
	})
}

// NotifyContentUpdated announces a revision move for one resource.
func (h *Hub) NotifyContentUpdated(domain model.Domain, resourceID, revision string) {
	h.broadcastAll(Message{
		Type:       EventContentUpdated,
		Domain:     domain,
		ResourceID: resourceID,
		Payload:    marshalPayload(ContentUpdatedPayload{Revision: revision}),
	})
}

// SweepWorker periodically expires abandoned locks and stale presence
// sessions, broadcasting each transition.
func (h *Hub) SweepWorker(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		for _, l := range h.Locks.Sweep() {
			logger.Sugar.Infof("Lock expired: %s/%s held by %s", l.Domain, l.ResourceID, l.HolderID)
			h.broadcastLockUpdate(l.Domain, l.ResourceID, nil)
		}
		for _, roomID := range h.Presence.SweepStale(staleSessionAge) {
			h.broadcastPresence(roomID)
		}
	}
}

// touchAll refreshes presence across every room the client joined. Driven by
// the transport ping handler so idle viewers are not swept.
func (h *Hub) touchAll(c *Client) {
	h.mu.Lock()
	roomIDs := make([]string, 0, len(c.rooms))
	for roomID := range c.rooms {
		roomIDs = append(roomIDs, roomID)
	}
	h.mu.Unlock()

	for _, roomID := range roomIDs {
		h.Presence.Touch(roomID, c.SessionID)
	}
}

func (h *Hub) broadcastPresence(roomID string) {
	members := h.Presence.Members(roomID)
	domain, resourceID := splitRoomKey(roomID)
	h.broadcastRoom(roomID, Message{
		Type:       EventPresence,
		Domain:     domain,
		ResourceID: resourceID,
		Payload:    marshalPayload(PresencePayload{Users: members}),
	}, nil)
}

func (h *Hub) broadcastLockUpdate(domain model.Domain, resourceID string, info *model.LockInfo) {
	h.broadcastRoom(roomKey(domain, resourceID), Message{
		Type:       EventLockUpdated,
		Domain:     domain,
		ResourceID: resourceID,
		Payload:    marshalPayload(LockUpdatedPayload{LockedBy: info}),
	}, nil)
}

func (h *Hub) broadcastStreamEnd(s StreamSession) {
	domain, resourceID := splitRoomKey(s.Room)
	h.broadcastRoom(s.Room, Message{
		Type:       EventStreamEnd,
		Domain:     domain,
		ResourceID: resourceID,
		UserID:     s.UserID,
		Username:   s.Username,
		Payload:    marshalPayload(StreamEndPayload{SessionID: s.ID, FinalPosition: s.CurrentPos}),
	}, nil)
}

// broadcastRoom sends to every client in the room, excluding sender when set.
// Marshals once, copies the recipient list under the lock, writes outside it.
func (h *Hub) broadcastRoom(roomID string, msg Message, sender *Client) {
	payload, err := json.Marshal(msg)
	if err != nil {
		logger.Sugar.Errorf("Error marshalling broadcast message: %v", err)
		return
	}

	h.mu.Lock()
	clientsToSend := make([]*Client, 0, len(h.rooms[roomID]))
	for client := range h.rooms[roomID] {
		if client != sender {
			clientsToSend = append(clientsToSend, client)
		}
	}
	h.mu.Unlock()

	h.deliver(clientsToSend, payload)
}

func (h *Hub) broadcastAll(msg Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		logger.Sugar.Errorf("Error marshalling broadcast message: %v", err)
		return
	}

	h.mu.Lock()
	clientsToSend := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clientsToSend = append(clientsToSend, client)
	}
	h.mu.Unlock()

	h.deliver(clientsToSend, payload)
}

func (h *Hub) deliver(clients []*Client, payload []byte) {
	for _, client := range clients {
		select {
		case client.Send <- payload:
		default:
			// Full send buffer means the client is lagging badly; evict it
			// rather than blocking the hub.
			logger.Sugar.Warnf("Client %s's send buffer is full. Unregistering.", client.UserID)
			go func(c *Client) { h.Unregister <- c }(client)
		}
	}
}

func (h *Hub) sendTo(c *Client, msg Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		logger.Sugar.Errorf("Error marshalling direct message: %v", err)
		return
	}
	select {
	case c.Send <- payload:
	default:
		logger.Sugar.Warnf("Client %s's send buffer was full for a direct reply.", c.UserID)
	}
}

func (h *Hub) replyError(c *Client, msg Message, reason string) {
	h.sendTo(c, Message{
		Type:       EventError,
		Domain:     msg.Domain,
		ResourceID: msg.ResourceID,
		ReqID:      msg.ReqID,
		Payload:    marshalPayload(ErrorPayload{Reason: reason}),
	})
}

func (h *Hub) logLockActivity(c *Client, domain model.Domain, resourceID, action string) {
	if h.repo == nil {
		return
	}
	// Audit only; failures are logged inside the repository and not surfaced.
	_ = h.repo.LogActivity(ulid.Make().String(), c.UserID, domain, resourceID, action, "")
}

func marshalPayload(v interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		logger.Sugar.Errorf("Error marshalling payload: %v", err)
		return nil
	}
	return b
}

func splitRoomKey(roomID string) (model.Domain, string) {
	for i := 0; i < len(roomID); i++ {
		if roomID[i] == ':' {
			return model.Domain(roomID[:i]), roomID[i+1:]
		}
	}
	return "", roomID
}
