// Package client is the in-process half of the coordination layer: one
// multiplexed websocket per process shared by every feature, with
// subscriptions, soft locks, presence, and change notifications layered on
// top. Nothing here is a package global; construct a Hub and inject it into
// whatever owns the application session.
package client

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"

	"kolab/pkg/logger"
	"kolab/socket"
)

// ErrNotConnected is the steady-state result of sending while the transport
// is down. Callers treat it as "single-player mode", not a fatal error.
var ErrNotConnected = errors.New("transport is not connected")

// ErrRequestTimeout is returned when the server does not answer a
// request/reply exchange in time.
var ErrRequestTimeout = errors.New("request timed out")

const (
	reconnectDelay    = 2 * time.Second
	reconnectMaxDelay = 10 * time.Second
	reconnectAttempts = 3

	requestTimeout = 5 * time.Second
	pingInterval   = 30 * time.Second
)

type connState int

const (
	stateDisconnected connState = iota
	stateConnecting
	stateConnected
	stateDisconnecting
)

// Hub owns the single shared connection. Connect/Disconnect are
// reference-counted: many independent features each "connect", but the
// physical channel is dialed once and torn down only when the last one
// releases it.
type Hub struct {
	url   string
	token string

	mu          sync.Mutex
	refs        int
	state       connState
	conn        *websocket.Conn
	connDone    chan struct{}
	pending     map[string]chan socket.Message
	onReconnect []func()

	writeMu sync.Mutex

	registry *registry
}

// NewHub prepares a transport hub for the given ws endpoint. Nothing is
// dialed until the first Connect.
func NewHub(wsURL, token string) *Hub {
	return &Hub{
		url:      wsURL,
		token:    token,
		pending:  make(map[string]chan socket.Message),
		registry: newRegistry(),
	}
}

// Connect establishes (or reuses) the underlying channel and increments the
// reference count. Only the transition 0 -> 1 dials.
func (h *Hub) Connect() error {
	h.mu.Lock()
	if h.refs > 0 {
		h.refs++
		if h.state != stateDisconnected {
			h.mu.Unlock()
			return nil
		}
		// The channel gave up reconnecting earlier; a fresh Connect is the
		// caller's cue to try again.
		h.state = stateConnecting
		h.mu.Unlock()

		conn, err := h.dial()
		h.mu.Lock()
		if err != nil {
			h.state = stateDisconnected
			h.mu.Unlock()
			return err
		}
		if h.refs == 0 {
			h.state = stateDisconnected
			h.mu.Unlock()
			conn.Close()
			return nil
		}
		h.startConnLocked(conn)
		h.mu.Unlock()
		return nil
	}
	h.state = stateConnecting
	h.mu.Unlock()

	conn, err := h.dial()
	if err != nil {
		h.mu.Lock()
		h.state = stateDisconnected
		h.mu.Unlock()
		return err
	}

	h.mu.Lock()
	h.refs = 1
	h.startConnLocked(conn)
	h.mu.Unlock()
	return nil
}

// Disconnect decrements the reference count and tears the channel down when
// it reaches zero. Extra disconnects are no-ops.
func (h *Hub) Disconnect() {
	h.mu.Lock()
	if h.refs == 0 {
		h.mu.Unlock()
		return
	}
	h.refs--
	if h.refs > 0 {
		h.mu.Unlock()
		return
	}
	h.state = stateDisconnecting
	conn := h.conn
	h.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

// Connected reports whether the channel is currently live.
func (h *Hub) Connected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state == stateConnected
}

// OnReconnect registers a hook fired after an automatic reconnect succeeds.
// Missed events are never replayed, so owners should re-issue a full
// snapshot fetch from the hook.
func (h *Hub) OnReconnect(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onReconnect = append(h.onReconnect, fn)
}

func (h *Hub) dial() (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.Dial(h.url+"?token="+h.token, nil)
	return conn, err
}

// startConnLocked installs a freshly dialed connection and starts its pumps.
// Caller holds h.mu.
func (h *Hub) startConnLocked(conn *websocket.Conn) {
	h.conn = conn
	h.state = stateConnected
	h.connDone = make(chan struct{})
	go h.readLoop(conn, h.connDone)
	go h.pingLoop(conn, h.connDone)
}

func (h *Hub) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			h.mu.Lock()
			deliberate := h.state == stateDisconnecting
			h.state = stateDisconnected
			h.conn = nil
			h.failPendingLocked()
			h.mu.Unlock()

			if !deliberate {
				go h.reconnectLoop()
			}
			return
		}

		var msg socket.Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			logger.Sugar.Errorf("Error unmarshalling server message: %v", err)
			continue
		}
		h.dispatch(msg)
	}
}

func (h *Hub) pingLoop(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			h.writeMu.Lock()
			err := conn.WriteMessage(websocket.PingMessage, nil)
			h.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// reconnectLoop retries with a fixed starting delay, a bounded ceiling, and a
// bounded attempt count, then gives up silently: "not connected" is a steady
// state, not an error.
func (h *Hub) reconnectLoop() {
	delay := reconnectDelay
	for attempt := 1; attempt <= reconnectAttempts; attempt++ {
		time.Sleep(delay)

		h.mu.Lock()
		if h.refs == 0 || h.state != stateDisconnected {
			h.mu.Unlock()
			return
		}
		h.state = stateConnecting
		h.mu.Unlock()

		conn, err := h.dial()
		if err != nil {
			logger.Sugar.Warnf("Reconnect attempt %d/%d failed: %v", attempt, reconnectAttempts, err)
			h.mu.Lock()
			h.state = stateDisconnected
			h.mu.Unlock()
			if delay *= 2; delay > reconnectMaxDelay {
				delay = reconnectMaxDelay
			}
			continue
		}

		h.mu.Lock()
		h.startConnLocked(conn)
		hooks := make([]func(), len(h.onReconnect))
		copy(hooks, h.onReconnect)
		h.mu.Unlock()

		logger.Sugar.Info("Transport reconnected")
		for _, fn := range hooks {
			fn()
		}
		return
	}
	logger.Sugar.Warn("Giving up on reconnection; staying disconnected")
}

// Send writes a fire-and-forget message. Nothing is queued while
// disconnected.
func (h *Hub) Send(msg socket.Message) error {
	h.mu.Lock()
	conn := h.conn
	live := h.state == stateConnected
	h.mu.Unlock()

	if !live || conn == nil {
		return ErrNotConnected
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, raw)
}

// Request performs a request/reply exchange correlated by ReqID.
func (h *Hub) Request(msg socket.Message) (socket.Message, error) {
	msg.ReqID = ulid.Make().String()
	ch := make(chan socket.Message, 1)

	h.mu.Lock()
	h.pending[msg.ReqID] = ch
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.pending, msg.ReqID)
		h.mu.Unlock()
	}()

	if err := h.Send(msg); err != nil {
		return socket.Message{}, err
	}

	select {
	case reply, ok := <-ch:
		if !ok {
			return socket.Message{}, ErrNotConnected
		}
		return reply, nil
	case <-time.After(requestTimeout):
		return socket.Message{}, ErrRequestTimeout
	}
}

// failPendingLocked wakes every in-flight request with a closed channel.
// Caller holds h.mu.
func (h *Hub) failPendingLocked() {
	for id, ch := range h.pending {
		close(ch)
		delete(h.pending, id)
	}
}

func (h *Hub) dispatch(msg socket.Message) {
	if msg.ReqID != "" {
		h.mu.Lock()
		ch, ok := h.pending[msg.ReqID]
		if ok {
			delete(h.pending, msg.ReqID)
		}
		h.mu.Unlock()
		if ok {
			ch <- msg
			return
		}
	}
	h.registry.dispatch(msg)
}
