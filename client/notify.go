package client

import (
	"sync"
	"time"

	"kolab/internal/resource/model"
	"kolab/internal/tree"
	"kolab/pkg/logger"
	"kolab/socket"
)

const (
	// maxSurfacedChanges caps how many records one change event may surface;
	// a bulk import should not bury the UI in toasts.
	maxSurfacedChanges = 5

	// DefaultSuppressWindow covers the round trip of a local mutation to the
	// server and back, so users are not told about their own change.
	DefaultSuppressWindow = 2 * time.Second
)

// TreeFetcher returns the authoritative snapshot of a domain tree. The
// coordination layer never derives a snapshot locally.
type TreeFetcher func(domain model.Domain) ([]model.ResourceNode, error)

// ChangeHandler receives the surfaced changes of one batch plus the total
// change count; total > len(changes) means the batch was capped.
type ChangeHandler func(domain model.Domain, changes []tree.Change, total int)

// Notifier turns tree_changed events into minimal classified change
// notifications. It owns the previous-snapshot baseline per domain.
type Notifier struct {
	hub     *Hub
	fetch   TreeFetcher
	handler ChangeHandler

	mu            sync.Mutex
	baselines     map[model.Domain][]model.ResourceNode
	suppressUntil time.Time
	window        time.Duration
	now           func() time.Time
	unsubs        []func()
}

// NewNotifier wires a notifier to the hub for the given domains and primes no
// baselines; the first tree_changed (or an explicit Prime) establishes them.
// On reconnect every baseline is re-primed, since missed events are gone.
func NewNotifier(hub *Hub, domains []model.Domain, fetch TreeFetcher, handler ChangeHandler) *Notifier {
	n := &Notifier{
		hub:       hub,
		fetch:     fetch,
		handler:   handler,
		baselines: make(map[model.Domain][]model.ResourceNode),
		window:    DefaultSuppressWindow,
		now:       time.Now,
	}

	for _, d := range domains {
		domain := d
		n.unsubs = append(n.unsubs, hub.Subscribe(domain, socket.EventTreeChanged, func(socket.Message) {
			n.handleTreeChanged(domain)
		}))
	}
	hub.OnReconnect(func() {
		for _, d := range domains {
			if err := n.Prime(d); err != nil {
				logger.Sugar.Warnf("Baseline re-prime failed for %s: %v", d, err)
			}
		}
	})
	return n
}

// Prime fetches a fresh baseline without surfacing anything.
func (n *Notifier) Prime(domain model.Domain) error {
	next, err := n.fetch(domain)
	if err != nil {
		return err
	}
	n.mu.Lock()
	n.baselines[domain] = next
	n.mu.Unlock()
	return nil
}

// MarkOwnChange arms the self-suppression window: the next batches within it
// are classified (the baseline still advances) but not surfaced.
func (n *Notifier) MarkOwnChange() {
	n.mu.Lock()
	n.suppressUntil = n.now().Add(n.window)
	n.mu.Unlock()
}

// Close removes the notifier's subscriptions.
func (n *Notifier) Close() {
	n.mu.Lock()
	unsubs := n.unsubs
	n.unsubs = nil
	n.mu.Unlock()
	for _, unsub := range unsubs {
		unsub()
	}
}

func (n *Notifier) handleTreeChanged(domain model.Domain) {
	next, err := n.fetch(domain)
	if err != nil {
		// Self-healing: keep the old baseline, the next successful fetch
		// merges this diff into its own.
		logger.Sugar.Warnf("Tree fetch failed for %s, keeping baseline: %v", domain, err)
		return
	}

	n.mu.Lock()
	prev, hadBaseline := n.baselines[domain]
	n.baselines[domain] = next
	suppressed := n.now().Before(n.suppressUntil)
	n.mu.Unlock()

	if !hadBaseline || suppressed {
		return
	}

	changes := tree.Classify(prev, next)
	if len(changes) == 0 {
		return
	}

	total := len(changes)
	if len(changes) > maxSurfacedChanges {
		changes = changes[:maxSurfacedChanges]
	}
	n.handler(domain, changes, total)
}
