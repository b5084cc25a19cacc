// Package clock maintains the offset between local time and the venue's
// server time. Signed requests are timestamped with localTime + offset so
// that moderate local clock drift does not trip the venue's recv window.
package clock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gelinger777/binancelink/internal/domain"
)

const (
	// jitterThreshold is the offset magnitude below which a measurement is
	// attributed to network jitter and zeroed instead of adopted.
	jitterThreshold = 500 * time.Millisecond

	// DefaultRecalcInterval bounds how stale an adopted offset may get
	// before the next signed request forces a resync.
	DefaultRecalcInterval = 3 * time.Hour
)

// ServerClock reports the venue's current time. The REST client implements
// this with its unsigned server-time endpoint.
type ServerClock interface {
	ServerTime(ctx context.Context) (time.Time, error)
}

// Synchronizer measures and caches the local-to-venue clock offset.
type Synchronizer struct {
	server         ServerClock
	recalcInterval time.Duration
	logger         *slog.Logger

	mu       sync.Mutex
	offset   time.Duration
	lastSync time.Time
	synced   bool
}

// NewSynchronizer creates a Synchronizer probing the given server clock.
// recalcInterval <= 0 selects DefaultRecalcInterval.
func NewSynchronizer(server ServerClock, recalcInterval time.Duration, logger *slog.Logger) *Synchronizer {
	if recalcInterval <= 0 {
		recalcInterval = DefaultRecalcInterval
	}
	return &Synchronizer{
		server:         server,
		recalcInterval: recalcInterval,
		logger:         logger.With(slog.String("component", "clock")),
	}
}

// Timestamp returns the request timestamp basis (local time plus the adopted
// offset), resynchronizing first when the offset has never been measured or
// has gone stale.
func (s *Synchronizer) Timestamp(ctx context.Context) (time.Time, error) {
	s.mu.Lock()
	needsSync := !s.synced || time.Since(s.lastSync) > s.recalcInterval
	s.mu.Unlock()

	if needsSync {
		if err := s.Resync(ctx); err != nil {
			return time.Time{}, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Now().Add(s.offset), nil
}

// Resync measures the offset against the venue. On the very first
// synchronization the probe is issued twice and the first round trip
// discarded as a cold-start outlier. A probe failure after a successful
// earlier sync degrades to the previous offset; a failure with no offset
// basis at all is fatal.
func (s *Synchronizer) Resync(ctx context.Context) error {
	s.mu.Lock()
	firstSync := !s.synced
	s.mu.Unlock()

	if firstSync {
		// Cold connections skew the first round trip (DNS, TLS handshake).
		if _, err := s.probe(ctx); err != nil {
			return fmt.Errorf("clock: first sync probe: %w (%w)", err, domain.ErrClockUnsynced)
		}
	}

	offset, err := s.probe(ctx)
	if err != nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		if !s.synced {
			return fmt.Errorf("clock: first sync probe: %w (%w)", err, domain.ErrClockUnsynced)
		}
		s.logger.Warn("server time probe failed, keeping previous offset",
			slog.Duration("offset", s.offset),
			slog.String("error", err.Error()),
		)
		return nil
	}

	if offset.Abs() < jitterThreshold {
		offset = 0
	}

	s.mu.Lock()
	s.offset = offset
	s.lastSync = time.Now()
	s.synced = true
	s.mu.Unlock()

	s.logger.Info("clock synchronized", slog.Duration("offset", offset))
	return nil
}

// probe measures serverTime - localTimeAtRequest for one round trip.
func (s *Synchronizer) probe(ctx context.Context) (time.Duration, error) {
	before := time.Now()
	serverTime, err := s.server.ServerTime(ctx)
	if err != nil {
		return 0, err
	}
	return serverTime.Sub(before), nil
}

// Offset returns the currently adopted offset and whether any sync has
// succeeded yet.
func (s *Synchronizer) Offset() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offset, s.synced
}
