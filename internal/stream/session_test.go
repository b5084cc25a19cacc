package stream

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gelinger777/binancelink/internal/domain"
	"github.com/gelinger777/binancelink/internal/ratelimit"
)

// wsTestServer upgrades inbound connections and pushes the given payloads,
// then keeps the connection open until the client closes it.
type wsTestServer struct {
	srv      *httptest.Server
	upgrades atomic.Int32
	path     atomic.Value // string
	inbound  chan []byte
}

func newWSTestServer(t *testing.T, payloads ...string) *wsTestServer {
	t.Helper()
	ws := &wsTestServer{inbound: make(chan []byte, 8)}
	upgrader := websocket.Upgrader{}

	ws.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws.upgrades.Add(1)
		ws.path.Store(r.URL.Path + "?" + r.URL.RawQuery)

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for _, p := range payloads {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(p)); err != nil {
				return
			}
		}
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			ws.inbound <- msg
		}
	}))
	t.Cleanup(ws.srv.Close)
	return ws
}

func (ws *wsTestServer) base() string {
	return "ws" + strings.TrimPrefix(ws.srv.URL, "http")
}

func newTestSession(t *testing.T, wsBase string, onFrame func([]byte)) *Session {
	t.Helper()
	if onFrame == nil {
		onFrame = func([]byte) {}
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewSession(wsBase, nil, ratelimit.NewDefault(), onFrame, logger)
}

func TestSession_ConnectDeliversFrames(t *testing.T) {
	server := newWSTestServer(t, `{"stream":"btcusdt@trade","data":{}}`)

	frames := make(chan []byte, 8)
	s := newTestSession(t, server.base(), func(raw []byte) { frames <- raw })

	require.NoError(t, s.Connect(context.Background(), []string{"btcusdt@trade", "ethusdt@trade"}))
	assert.Equal(t, domain.SessionConnected, s.State())

	select {
	case ev := <-s.Events():
		assert.Equal(t, domain.SessionEventConnected, ev.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("no connected event")
	}

	select {
	case raw := <-frames:
		assert.JSONEq(t, `{"stream":"btcusdt@trade","data":{}}`, string(raw))
	case <-time.After(2 * time.Second):
		t.Fatal("no frame delivered")
	}

	// All requested streams are multiplexed onto one connection.
	assert.Equal(t, "/stream?streams=btcusdt@trade/ethusdt@trade", server.path.Load())

	require.NoError(t, s.Close())
	assert.Equal(t, domain.SessionDisconnected, s.State())
}

func TestSession_ConnectIsIdempotent(t *testing.T) {
	server := newWSTestServer(t)
	s := newTestSession(t, server.base(), nil)

	ctx := context.Background()
	require.NoError(t, s.Connect(ctx, []string{"btcusdt@trade"}))
	require.NoError(t, s.Connect(ctx, []string{"btcusdt@trade"}))

	assert.Equal(t, int32(1), server.upgrades.Load())
	require.NoError(t, s.Close())
}

func TestSession_CloseWithoutConnect(t *testing.T) {
	s := newTestSession(t, "ws://127.0.0.1:0", nil)
	assert.NoError(t, s.Close())
	assert.Equal(t, domain.SessionDisconnected, s.State())
}

func TestSession_Send(t *testing.T) {
	server := newWSTestServer(t)
	s := newTestSession(t, server.base(), nil)

	ctx := context.Background()
	require.NoError(t, s.Connect(ctx, []string{"btcusdt@trade"}))
	defer s.Close()

	require.NoError(t, s.Send(ctx, []byte(`{"method":"LIST_SUBSCRIPTIONS"}`)))

	select {
	case msg := <-server.inbound:
		assert.JSONEq(t, `{"method":"LIST_SUBSCRIPTIONS"}`, string(msg))
	case <-time.After(2 * time.Second):
		t.Fatal("server did not receive the message")
	}
}

func TestSession_SendWhileDisconnected(t *testing.T) {
	s := newTestSession(t, "ws://127.0.0.1:0", nil)
	err := s.Send(context.Background(), []byte("x"))
	assert.ErrorIs(t, err, domain.ErrNotConnected)
}

func TestSession_UnexpectedDropEmitsDisconnected(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		// Drop the connection immediately without a close handshake.
		conn.UnderlyingConn().Close()
	}))
	defer srv.Close()

	s := newTestSession(t, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, s.Connect(context.Background(), []string{"btcusdt@trade"}))

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-s.Events():
			if ev.Kind == domain.SessionEventDisconnected {
				assert.Equal(t, domain.SessionDisconnected, s.State())
				return
			}
		case <-deadline:
			t.Fatal("no disconnected event")
		}
	}
}

// fakeListenKeys scripts the listen-key REST surface.
type fakeListenKeys struct {
	mu      sync.Mutex
	created int
	closed  []string
}

func (f *fakeListenKeys) CreateListenKey(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created++
	return "lk-1", nil
}

func (f *fakeListenKeys) KeepAliveListenKey(ctx context.Context, listenKey string) error {
	return nil
}

func (f *fakeListenKeys) CloseListenKey(ctx context.Context, listenKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, listenKey)
	return nil
}

func (f *fakeListenKeys) closedKeys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.closed))
	copy(out, f.closed)
	return out
}

func TestSession_CloseInvalidatesListenKey(t *testing.T) {
	server := newWSTestServer(t)
	keys := &fakeListenKeys{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := NewSession(server.base(), keys, ratelimit.NewDefault(), func([]byte) {}, logger)

	require.NoError(t, s.Connect(context.Background(), []string{"btcusdt@trade"}))
	require.NoError(t, s.Close())

	assert.Equal(t, []string{"lk-1"}, keys.closedKeys())
}

func TestSession_UnexpectedDropInvalidatesListenKey(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		// Drop the connection immediately without a close handshake.
		conn.UnderlyingConn().Close()
	}))
	defer srv.Close()

	keys := &fakeListenKeys{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := NewSession("ws"+strings.TrimPrefix(srv.URL, "http"), keys, ratelimit.NewDefault(), func([]byte) {}, logger)

	require.NoError(t, s.Connect(context.Background(), []string{"btcusdt@trade"}))

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-s.Events():
			if ev.Kind == domain.SessionEventDisconnected {
				assert.Equal(t, []string{"lk-1"}, keys.closedKeys())

				// The key is already gone; a follow-up Close must not
				// invalidate it a second time.
				require.NoError(t, s.Close())
				assert.Equal(t, []string{"lk-1"}, keys.closedKeys())
				return
			}
		case <-deadline:
			t.Fatal("no disconnected event")
		}
	}
}

func TestSession_IntentionalCloseDoesNotReportLoss(t *testing.T) {
	server := newWSTestServer(t)
	s := newTestSession(t, server.base(), nil)

	require.NoError(t, s.Connect(context.Background(), []string{"btcusdt@trade"}))
	<-s.Events() // connected
	require.NoError(t, s.Close())

	select {
	case ev := <-s.Events():
		t.Fatalf("unexpected event after intentional close: %v", ev.Kind)
	case <-time.After(200 * time.Millisecond):
	}
}
