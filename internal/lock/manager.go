// Package lock implements the advisory soft-lock protocol: per-resource
// exclusive claims with heartbeat renewal and expiry. Locks are ephemeral;
// they live only as long as an active connection backs them and are rebuilt
// from live connections after a restart.
package lock

import (
	"errors"
	"sync"
	"time"

	"kolab/internal/resource/model"
)

// Sentinel errors returned by manager operations.
var (
	// ErrHeld is returned when a resource is locked by a different holder.
	ErrHeld = errors.New("resource is locked by another user")

	// ErrNotHolder is returned when a user operates on a lock they do not hold.
	ErrNotHolder = errors.New("user does not hold this lock")

	// ErrNotLocked is returned when a resource has no live lock.
	ErrNotLocked = errors.New("resource is not locked")
)

const (
	// DefaultHeartbeatInterval is how often holders are expected to renew.
	DefaultHeartbeatInterval = 2 * time.Minute

	// DefaultTTL is 2.5x the heartbeat interval, tolerating one missed
	// heartbeat without falsely reclaiming an active lock.
	DefaultTTL = 5 * time.Minute
)

// Lock is a live advisory claim on one resource.
type Lock struct {
	Domain          model.Domain
	ResourceID      string
	HolderID        string
	HolderName      string
	AcquiredAt      time.Time
	LastHeartbeatAt time.Time
}

// Info converts the lock to its wire shape.
func (l *Lock) Info() model.LockInfo {
	return model.LockInfo{UserID: l.HolderID, Username: l.HolderName, LockedAt: l.AcquiredAt}
}

// Manager tracks at most one live lock per resource. All state is in memory;
// expiry is the failure-recovery path for crashed clients.
type Manager struct {
	mu    sync.Mutex
	locks map[string]*Lock // domain:resourceID -> lock
	ttl   time.Duration
	now   func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithTTL overrides the abandoned-lock timeout.
func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) { m.ttl = ttl }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func NewManager(opts ...Option) *Manager {
	m := &Manager{
		locks: make(map[string]*Lock),
		ttl:   DefaultTTL,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func key(domain model.Domain, resourceID string) string {
	return string(domain) + ":" + resourceID
}

// Acquire claims the resource for the given user. It succeeds if the resource
// is unlocked, already held by the same user (the claim is refreshed), or the
// existing lock has gone past its TTL with no heartbeat (treated as
// abandoned). On conflict it returns the current lock alongside ErrHeld so
// the caller can surface "being edited by X".
func (m *Manager) Acquire(domain model.Domain, resourceID, userID, username string) (*Lock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	k := key(domain, resourceID)

	if existing, ok := m.locks[k]; ok {
		if existing.HolderID == userID {
			existing.LastHeartbeatAt = now
			cp := *existing
			return &cp, nil
		}
		if now.Sub(existing.LastHeartbeatAt) <= m.ttl {
			cp := *existing
			return &cp, ErrHeld
		}
		// Abandoned: fall through and take it over.
	}

	l := &Lock{
		Domain:          domain,
		ResourceID:      resourceID,
		HolderID:        userID,
		HolderName:      username,
		AcquiredAt:      now,
		LastHeartbeatAt: now,
	}
	m.locks[k] = l
	cp := *l
	return &cp, nil
}

// Heartbeat refreshes the holder's claim. A heartbeat from a non-holder is a
// no-op failure and never disturbs the live lock.
func (m *Manager) Heartbeat(domain model.Domain, resourceID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.locks[key(domain, resourceID)]
	if !ok {
		return ErrNotLocked
	}
	if existing.HolderID != userID {
		return ErrNotHolder
	}
	existing.LastHeartbeatAt = m.now()
	return nil
}

// Release deletes the lock if the user is the current holder. An out-of-order
// release from a non-holder is rejected without removing the live lock.
func (m *Manager) Release(domain model.Domain, resourceID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key(domain, resourceID)
	existing, ok := m.locks[k]
	if !ok {
		return ErrNotLocked
	}
	if existing.HolderID != userID {
		return ErrNotHolder
	}
	delete(m.locks, k)
	return nil
}

// ReleaseAllHeldBy drops every lock held by the user. Called when the holder's
// last connection goes away so locks are not stranded until the TTL elapses.
// Returns the released locks for lock_updated fan-out.
func (m *Manager) ReleaseAllHeldBy(userID string) []Lock {
	m.mu.Lock()
	defer m.mu.Unlock()

	var released []Lock
	for k, l := range m.locks {
		if l.HolderID == userID {
			released = append(released, *l)
			delete(m.locks, k)
		}
	}
	return released
}

// Get returns the live (non-expired) lock for a resource, or nil.
func (m *Manager) Get(domain model.Domain, resourceID string) *Lock {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.locks[key(domain, resourceID)]
	if !ok || m.now().Sub(existing.LastHeartbeatAt) > m.ttl {
		return nil
	}
	cp := *existing
	return &cp
}

// Snapshot returns all live locks in a domain, expired ones filtered out.
func (m *Manager) Snapshot(domain model.Domain) []Lock {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var out []Lock
	for _, l := range m.locks {
		if l.Domain == domain && now.Sub(l.LastHeartbeatAt) <= m.ttl {
			out = append(out, *l)
		}
	}
	return out
}

// Sweep removes every expired lock and returns them so the caller can
// broadcast the expiries to presence members.
func (m *Manager) Sweep() []Lock {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var expired []Lock
	for k, l := range m.locks {
		if now.Sub(l.LastHeartbeatAt) > m.ttl {
			expired = append(expired, *l)
			delete(m.locks, k)
		}
	}
	return expired
}
