package client

import (
	"sync"

	"kolab/internal/resource/model"
	"kolab/socket"
)

// Callback receives one dispatched event.
type Callback func(socket.Message)

type subKey struct {
	domain model.Domain
	kind   socket.EventType
}

// registry fans incoming events out to every callback registered for the
// (domain, event kind) pair. One dispatch entry exists per pair no matter how
// many features subscribe, so independent UI features never double-register
// transport listeners.
type registry struct {
	mu       sync.Mutex
	nextID   int
	handlers map[subKey]map[int]Callback
}

func newRegistry() *registry {
	return &registry{handlers: make(map[subKey]map[int]Callback)}
}

func (r *registry) subscribe(domain model.Domain, kind socket.EventType, cb Callback) func() {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := subKey{domain: domain, kind: kind}
	if r.handlers[k] == nil {
		r.handlers[k] = make(map[int]Callback)
	}
	id := r.nextID
	r.nextID++
	r.handlers[k][id] = cb

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.handlers[k], id)
	}
}

func (r *registry) dispatch(msg socket.Message) {
	k := subKey{domain: msg.Domain, kind: msg.Type}

	r.mu.Lock()
	cbs := make([]Callback, 0, len(r.handlers[k]))
	for _, cb := range r.handlers[k] {
		cbs = append(cbs, cb)
	}
	r.mu.Unlock()

	for _, cb := range cbs {
		cb(msg)
	}
}

// Subscribe registers a callback for one (domain, event kind) pair and
// returns its unsubscribe function. Subscribing before Connect is fine:
// registration and connection establishment are decoupled, events simply do
// not arrive until the transport is live.
func (h *Hub) Subscribe(domain model.Domain, kind socket.EventType, cb Callback) func() {
	return h.registry.subscribe(domain, kind, cb)
}
