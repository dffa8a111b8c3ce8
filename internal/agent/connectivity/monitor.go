// Package connectivity tracks whether the remote backend is reachable and
// notifies listeners on online/offline transitions.
//
// A Monitor is fed by its own probe loop (Run) or by explicit Report calls.
// Edge events fire once per transition. The wasOffline flag survives the
// offline->online transition until ConsumeRestored is called, so a UI can show
// a one-shot "connection restored" notice. Going offline never touches
// attachments; it only pauses listeners such as the upload queue.
package connectivity

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrijs2005/propcheck/internal/logging"
)

// Pinger checks backend reachability. *sql.DB satisfies it.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PingerFunc adapts a function to Pinger.
type PingerFunc func(ctx context.Context) error

func (f PingerFunc) PingContext(ctx context.Context) error { return f(ctx) }

// Listener receives transition edges. Callbacks run outside the monitor's
// lock and must not call Report.
type Listener interface {
	OnOffline()
	OnOnline()
}

type Monitor struct {
	pinger       Pinger
	interval     time.Duration
	probeTimeout time.Duration
	log          logging.Logger

	mu         sync.Mutex
	online     bool
	wasOffline bool
	listeners  map[uint64]Listener
	nextID     uint64

	// serialises listener notification so edges are delivered in order
	notifyMu sync.Mutex
}

// New creates a Monitor that starts in the online state.
func New(pinger Pinger, interval, probeTimeout time.Duration, log logging.Logger) *Monitor {
	if log == nil {
		log = logging.Nop()
	}
	return &Monitor{
		pinger:       pinger,
		interval:     interval,
		probeTimeout: probeTimeout,
		log:          log.With("component", "connectivity"),
		online:       true,
		listeners:    make(map[uint64]Listener),
	}
}

func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// WasOffline reports whether an offline period happened that has not been
// acknowledged with ConsumeRestored yet.
func (m *Monitor) WasOffline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.wasOffline
}

// ConsumeRestored returns true exactly once after connectivity came back.
func (m *Monitor) ConsumeRestored() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.online && m.wasOffline {
		m.wasOffline = false
		return true
	}
	return false
}

// Subscribe registers l and returns a function removing it.
func (m *Monitor) Subscribe(l Listener) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	id := m.nextID
	m.listeners[id] = l

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.listeners, id)
	}
}

// Report records an observation and fires an edge event if the state changed.
func (m *Monitor) Report(online bool) {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	if !online {
		m.wasOffline = true
	}
	listeners := make([]Listener, 0, len(m.listeners))
	for _, l := range m.listeners {
		listeners = append(listeners, l)
	}
	m.mu.Unlock()

	ctx := context.Background()
	if online {
		m.log.Info(ctx, "connection restored", "listeners", len(listeners))
	} else {
		m.log.Warn(ctx, "connection lost", "listeners", len(listeners))
	}

	for _, l := range listeners {
		if online {
			l.OnOnline()
		} else {
			l.OnOffline()
		}
	}
}

// Probe pings the backend once and reports the outcome.
func (m *Monitor) Probe(ctx context.Context) bool {
	pctx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	err := m.pinger.PingContext(pctx)
	cancel()

	if err != nil {
		m.log.Debug(ctx, "probe failed", "error", err)
	}
	m.Report(err == nil)
	return err == nil
}

// Run probes immediately and then every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	m.Probe(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Probe(ctx)
		case <-ctx.Done():
			return
		}
	}
}
