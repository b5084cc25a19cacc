// Package stream owns the persistent streaming connection against the
// venue: dialing, keep-alive, the scheduled forced reconnect the venue
// imposes on long-lived connections, and the listen-key authorization token
// for the user-data stream. It never decides what to subscribe to; the
// subscription manager drives rebuilds and replays the desired set after
// every reconnect because the venue does not persist subscriptions.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gelinger777/binancelink/internal/domain"
	"github.com/gelinger777/binancelink/internal/ratelimit"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the venue's idle timeout on the read side.
	pongWait = 60 * time.Second

	// pingPeriod keeps the session alive from safely inside the idle
	// timeout (half of it).
	pingPeriod = pongWait / 2

	// connectionLifetime is the venue's maximum streaming-connection
	// lifetime; forcedReconnectPeriod reconnects at ~98% of it so the
	// rebuild happens on our schedule, not the venue's.
	connectionLifetime    = 24 * time.Hour
	forcedReconnectPeriod = connectionLifetime * 98 / 100

	// listenKeyRefreshPeriod keeps the user-data authorization token valid;
	// the venue expires it after roughly an hour without a refresh.
	listenKeyRefreshPeriod = 30 * time.Minute
)

// ListenKeyManager is the REST slice the session needs for the user-data
// stream token. The venue client implements it.
type ListenKeyManager interface {
	CreateListenKey(ctx context.Context) (string, error)
	KeepAliveListenKey(ctx context.Context, listenKey string) error
	CloseListenKey(ctx context.Context, listenKey string) error
}

// Session is one logical streaming connection per subscription generation.
// A rebuild always fully closes the previous connection and waits for its
// read loop to exit before dialing again, so two live connections for the
// same stream set cannot exist.
type Session struct {
	wsBase  string
	rest    ListenKeyManager
	limiter *ratelimit.Limiter
	onFrame func([]byte)
	events  chan domain.SessionEvent
	logger  *slog.Logger

	mu        sync.Mutex
	writeMu   sync.Mutex
	conn      *websocket.Conn
	state     domain.SessionState
	listenKey string
	readDone  chan struct{}
	stopTimer context.CancelFunc
}

// NewSession creates a streaming session. wsBase is the streaming root,
// e.g. "wss://stream.binance.com:9443". rest may be nil when no user-data
// stream is wanted (market data only). onFrame receives every raw inbound
// frame; it is invoked from the read goroutine.
func NewSession(wsBase string, rest ListenKeyManager, limiter *ratelimit.Limiter, onFrame func([]byte), logger *slog.Logger) *Session {
	return &Session{
		wsBase:  wsBase,
		rest:    rest,
		limiter: limiter,
		onFrame: onFrame,
		events:  make(chan domain.SessionEvent, 16),
		logger:  logger.With(slog.String("component", "stream")),
	}
}

// Events exposes session lifecycle notifications: connected, disconnected,
// and reconnect-requested (the forced-reconnect schedule).
func (s *Session) Events() <-chan domain.SessionEvent {
	return s.events
}

// State returns the current lifecycle state.
func (s *Session) State() domain.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connect dials the venue with the given stream names multiplexed onto one
// connection. It is a no-op when already connected. On success the
// keep-alive, forced-reconnect, and listen-key refresh timers are armed and
// the read loop started; Connect returns only after the connection reports
// open.
func (s *Session) Connect(ctx context.Context, streams []string) error {
	s.mu.Lock()
	if s.state == domain.SessionConnected {
		s.mu.Unlock()
		return nil
	}
	s.state = domain.SessionConnecting
	s.mu.Unlock()

	listenKey := ""
	if s.rest != nil {
		key, err := s.rest.CreateListenKey(ctx)
		if err != nil {
			s.setState(domain.SessionDisconnected)
			return fmt.Errorf("stream: create listen key: %w", err)
		}
		listenKey = key
	}

	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.streamURL(streams, listenKey), nil)
	if err != nil {
		s.setState(domain.SessionDisconnected)
		return fmt.Errorf("stream: connect: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	timerCtx, stopTimers := context.WithCancel(context.Background())
	readDone := make(chan struct{})

	s.mu.Lock()
	s.conn = conn
	s.listenKey = listenKey
	s.readDone = readDone
	s.stopTimer = stopTimers
	s.state = domain.SessionConnected
	s.mu.Unlock()

	go s.readLoop(conn, readDone)
	go s.pingLoop(timerCtx, conn)
	go s.reconnectTimer(timerCtx)
	if s.rest != nil && listenKey != "" {
		go s.listenKeyLoop(timerCtx, listenKey)
	}

	s.logger.Info("stream connected", slog.Int("streams", len(streams)))
	s.emit(domain.SessionEvent{Kind: domain.SessionEventConnected})
	return nil
}

// Close tears the connection down and blocks until the read loop has fully
// exited. Safe to call when already disconnected.
func (s *Session) Close() error {
	s.mu.Lock()
	conn := s.conn
	readDone := s.readDone
	listenKey := s.listenKey
	stopTimers := s.stopTimer
	s.conn = nil
	s.readDone = nil
	s.listenKey = ""
	s.stopTimer = nil
	s.state = domain.SessionDisconnected
	s.mu.Unlock()

	if stopTimers != nil {
		stopTimers()
	}

	if conn == nil {
		return nil
	}

	// The authorization token dies with the connection.
	s.invalidateListenKey(listenKey)

	s.writeMu.Lock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteMessage(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
	)
	s.writeMu.Unlock()
	err := conn.Close()

	if readDone != nil {
		<-readDone
	}

	s.logger.Info("stream disconnected")
	return err
}

// Send writes a text frame, gated by the streaming-send rate budget.
func (s *Session) Send(ctx context.Context, payload []byte) error {
	if err := s.limiter.Acquire(ctx, ratelimit.ChannelStreamSend); err != nil {
		return fmt.Errorf("stream: acquire send token: %w", err)
	}

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return domain.ErrNotConnected
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, payload)
}

// --------------------------------------------------------------------------
// Internal loops
// --------------------------------------------------------------------------

// readLoop delivers frames until the connection dies. An unexpected close
// only reports the loss; reconnection stays with the subscription owner so
// a flapping network cannot cause a reconnect storm.
func (s *Session) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if listenKey, live := s.markDisconnected(conn); live {
				s.logger.Warn("stream read failed", slog.String("error", err.Error()))
				s.invalidateListenKey(listenKey)
				s.emit(domain.SessionEvent{Kind: domain.SessionEventDisconnected, Err: err})
			}
			return
		}
		s.onFrame(raw)
	}
}

// markDisconnected transitions to Disconnected if conn is still the live
// connection, handing back the outstanding listen key for invalidation. It
// reports false when the loss was an intentional Close (or a newer
// connection already took over), which must not be reported.
func (s *Session) markDisconnected(conn *websocket.Conn) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != conn {
		return "", false
	}
	listenKey := s.listenKey
	s.conn = nil
	s.listenKey = ""
	s.state = domain.SessionDisconnected
	if s.stopTimer != nil {
		s.stopTimer()
		s.stopTimer = nil
	}
	return listenKey, true
}

// invalidateListenKey closes the user-data token with a short deadline.
// Failures are logged only; the venue expires abandoned keys on its own.
func (s *Session) invalidateListenKey(listenKey string) {
	if s.rest == nil || listenKey == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.rest.CloseListenKey(ctx, listenKey); err != nil {
		s.logger.Warn("close listen key failed", slog.String("error", err.Error()))
	}
}

func (s *Session) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			s.writeMu.Unlock()
			if err != nil {
				s.logger.Warn("keep-alive ping failed", slog.String("error", err.Error()))
				return
			}
		}
	}
}

// reconnectTimer requests a full rebuild shortly before the venue would
// drop the connection itself.
func (s *Session) reconnectTimer(ctx context.Context) {
	timer := time.NewTimer(forcedReconnectPeriod)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
		s.logger.Info("scheduled reconnect due")
		s.emit(domain.SessionEvent{Kind: domain.SessionEventReconnectRequested})
	}
}

func (s *Session) listenKeyLoop(ctx context.Context, listenKey string) {
	ticker := time.NewTicker(listenKeyRefreshPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			refreshCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := s.rest.KeepAliveListenKey(refreshCtx, listenKey)
			cancel()
			if err != nil {
				s.logger.Warn("listen key refresh failed", slog.String("error", err.Error()))
			}
		}
	}
}

// streamURL builds the multiplexed combined-stream path, appending the
// user-data listen key as one more stream when present.
func (s *Session) streamURL(streams []string, listenKey string) string {
	all := make([]string, 0, len(streams)+1)
	all = append(all, streams...)
	if listenKey != "" {
		all = append(all, listenKey)
	}
	return s.wsBase + "/stream?streams=" + strings.Join(all, "/")
}

// emit delivers a session event without ever blocking the emitter; a full
// channel drops the event and logs it.
func (s *Session) emit(ev domain.SessionEvent) {
	select {
	case s.events <- ev:
	default:
		s.logger.Warn("session event dropped", slog.Int("kind", int(ev.Kind)))
	}
}

func (s *Session) setState(state domain.SessionState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}
