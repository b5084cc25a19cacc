// Package subscription owns the desired symbol set and converges the live
// streaming connection onto it. The venue multiplexes all streams onto one
// connection and applying a new set means a full close-then-reopen cycle,
// so rapid subscribe/unsubscribe bursts are debounced into a single rebuild
// per quiet period.
package subscription

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gelinger777/binancelink/internal/domain"
)

// DefaultQuietPeriod is how long the desired set must stay unchanged before
// a rebuild is performed.
const DefaultQuietPeriod = 250 * time.Millisecond

// defaultStreamKinds are the per-symbol venue streams opened for every
// subscribed symbol.
var defaultStreamKinds = []string{"trade", "bookTicker"}

// StreamOpener is the slice of the streaming session the manager drives.
type StreamOpener interface {
	Connect(ctx context.Context, streams []string) error
	Close() error
	State() domain.SessionState
}

// Manager serializes all subscription-set mutations and rebuild decisions.
// At most one convergence loop runs at a time; mutations arriving while one
// is in flight update the desired set and extend the debounce window
// instead of spawning a second loop.
type Manager struct {
	session     StreamOpener
	mapper      domain.SymbolMapper
	streamKinds []string
	quiet       time.Duration
	logger      *slog.Logger

	// rootCtx bounds rebuild connects to the manager's lifetime.
	rootCtx context.Context

	mu           sync.Mutex
	desired      map[string]struct{}
	applied      map[string]struct{} // set live on the current connection
	lastMutation time.Time
	pending      bool // a convergence loop is active
	force        bool // rebuild even when desired == applied
}

// NewManager creates a subscription manager. streamKinds selects the venue
// stream suffixes opened per symbol; nil picks the defaults. quiet <= 0
// selects DefaultQuietPeriod.
func NewManager(ctx context.Context, session StreamOpener, mapper domain.SymbolMapper, streamKinds []string, quiet time.Duration, logger *slog.Logger) *Manager {
	if quiet <= 0 {
		quiet = DefaultQuietPeriod
	}
	if len(streamKinds) == 0 {
		streamKinds = defaultStreamKinds
	}
	return &Manager{
		session:     session,
		mapper:      mapper,
		streamKinds: streamKinds,
		quiet:       quiet,
		logger:      logger.With(slog.String("component", "subscription")),
		rootCtx:     ctx,
		desired:     make(map[string]struct{}),
		applied:     make(map[string]struct{}),
	}
}

// Add puts symbols into the desired set and triggers convergence. Adding
// symbols that are already present (and already live) causes no rebuild.
func (m *Manager) Add(symbols ...string) {
	m.mutate(symbols, true)
}

// Remove drops symbols from the desired set and triggers convergence.
func (m *Manager) Remove(symbols ...string) {
	m.mutate(symbols, false)
}

// Subscribed returns a snapshot of the desired set.
func (m *Manager) Subscribed() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.desired))
	for s := range m.desired {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Apply synchronously connects the session with the current desired set,
// bypassing the debounce. It is the initial-connect path; when a
// convergence loop is already in flight it is left to finish the job.
func (m *Manager) Apply(ctx context.Context) error {
	m.mu.Lock()
	if m.pending {
		m.mu.Unlock()
		return nil
	}
	m.pending = true
	snapshot := make([]string, 0, len(m.desired))
	for s := range m.desired {
		snapshot = append(snapshot, s)
	}
	sort.Strings(snapshot)
	m.mu.Unlock()

	err := m.session.Connect(ctx, m.streamsFor(snapshot))

	m.mu.Lock()
	if err == nil {
		m.applied = make(map[string]struct{}, len(snapshot))
		for _, s := range snapshot {
			m.applied[s] = struct{}{}
		}
	}
	m.pending = false
	if !setsEqual(m.desired, m.applied) || m.force {
		m.lastMutation = time.Now()
		m.startLoopLocked()
	}
	m.mu.Unlock()

	if err != nil {
		return fmt.Errorf("subscription: apply: %w", err)
	}
	return nil
}

// Rebuild forces a close-then-reopen with the current desired set even when
// nothing changed. The streaming session requests this on its scheduled
// reconnect, since the venue forgets subscriptions across connections.
func (m *Manager) Rebuild() {
	m.mu.Lock()
	m.force = true
	m.lastMutation = time.Now()
	m.startLoopLocked()
	m.mu.Unlock()
}

func (m *Manager) mutate(symbols []string, add bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	changed := false
	for _, s := range symbols {
		if add {
			if _, ok := m.desired[s]; !ok {
				m.desired[s] = struct{}{}
				changed = true
			}
		} else {
			if _, ok := m.desired[s]; ok {
				delete(m.desired, s)
				changed = true
			}
		}
	}

	// Nothing to do when the intent already matches the live connection.
	if !changed && setsEqual(m.desired, m.applied) {
		return
	}

	m.lastMutation = time.Now()
	m.startLoopLocked()
}

// startLoopLocked spawns the convergence loop unless one is already
// running. Caller holds m.mu.
func (m *Manager) startLoopLocked() {
	if m.pending {
		return
	}
	m.pending = true
	go m.converge()
}

// converge waits out the debounce window, performs one rebuild from a
// snapshot of the desired set, and repeats until the set stops moving. It
// is the only goroutine that touches the streaming connection.
func (m *Manager) converge() {
	for {
		if !m.waitQuiet() {
			m.finish()
			return
		}

		m.mu.Lock()
		snapshot := make([]string, 0, len(m.desired))
		for s := range m.desired {
			snapshot = append(snapshot, s)
		}
		sort.Strings(snapshot)
		m.force = false
		m.mu.Unlock()

		if !m.rebuild(snapshot) {
			// Connection stays down until the next mutation or an explicit
			// rebuild retriggers convergence.
			m.finish()
			return
		}

		m.mu.Lock()
		m.applied = make(map[string]struct{}, len(snapshot))
		for _, s := range snapshot {
			m.applied[s] = struct{}{}
		}
		done := setsEqual(m.desired, m.applied) && !m.force
		if done {
			m.pending = false
		}
		m.mu.Unlock()

		if done {
			return
		}
	}
}

// waitQuiet sleeps until the quiet period has elapsed since the last
// mutation. It returns false when the manager's context died.
func (m *Manager) waitQuiet() bool {
	for {
		m.mu.Lock()
		remaining := m.quiet - time.Since(m.lastMutation)
		m.mu.Unlock()

		if remaining <= 0 {
			return true
		}

		select {
		case <-m.rootCtx.Done():
			return false
		case <-time.After(remaining):
		}
	}
}

// rebuild applies one snapshot: full close, wait for closure, reopen with
// the new multiplexed stream set, wait for open.
func (m *Manager) rebuild(snapshot []string) bool {
	if err := m.session.Close(); err != nil {
		m.logger.Warn("closing stream before rebuild", slog.String("error", err.Error()))
	}

	streams := m.streamsFor(snapshot)
	if err := m.session.Connect(m.rootCtx, streams); err != nil {
		m.logger.Error("stream rebuild failed",
			slog.Int("symbols", len(snapshot)),
			slog.String("error", err.Error()),
		)
		return false
	}

	m.logger.Info("stream rebuilt",
		slog.Int("symbols", len(snapshot)),
		slog.String("symbols_list", strings.Join(snapshot, ",")),
	)
	return true
}

func (m *Manager) finish() {
	m.mu.Lock()
	m.pending = false
	m.mu.Unlock()
}

// streamsFor expands local symbols into venue stream names, one per
// configured stream kind, e.g. "BTC-USDT" -> "btcusdt@trade".
func (m *Manager) streamsFor(symbols []string) []string {
	streams := make([]string, 0, len(symbols)*len(m.streamKinds))
	for _, sym := range symbols {
		venue := strings.ToLower(m.mapper.ToVenue(sym))
		for _, kind := range m.streamKinds {
			streams = append(streams, venue+"@"+kind)
		}
	}
	return streams
}

func setsEqual(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}
