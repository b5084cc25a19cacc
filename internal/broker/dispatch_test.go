package broker

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gelinger777/binancelink/internal/crypto"
	"github.com/gelinger777/binancelink/internal/domain"
	"github.com/gelinger777/binancelink/internal/ratelimit"
	"github.com/gelinger777/binancelink/internal/venue/binance"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testLimiter() *ratelimit.Limiter {
	return ratelimit.New(map[ratelimit.Channel]ratelimit.Budget{
		ratelimit.ChannelRest:       {PerSecond: 10_000, Burst: 100},
		ratelimit.ChannelStreamSend: {PerSecond: 10_000, Burst: 100},
	})
}

// newTestBrokerage builds a brokerage around the given REST base URL without
// starting the dispatcher or the streaming session.
func newTestBrokerage(t *testing.T, restBase string) *Brokerage {
	t.Helper()
	limiter := testLimiter()
	auth := &crypto.HMACAuth{Key: "k", Secret: "s"}
	venue := binance.NewClient(restBase, auth, limiter, testLogger())

	b := New(venue, nil, limiter, Options{
		WSBase:   "ws://127.0.0.1:0",
		UserData: false,
	}, testLogger())
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestHandleFrame_RoutesMarketData(t *testing.T) {
	b := newTestBrokerage(t, "http://127.0.0.1:0")

	var gotStream string
	var gotPayload []byte
	b.OnMarketData(func(stream string, payload []byte) {
		gotStream = stream
		gotPayload = payload
	})

	b.handleFrame([]byte(`{"stream":"btcusdt@trade","data":{"e":"trade","s":"BTCUSDT","p":"50000.00"}}`))

	assert.Equal(t, "btcusdt@trade", gotStream)
	assert.JSONEq(t, `{"e":"trade","s":"BTCUSDT","p":"50000.00"}`, string(gotPayload))
}

func TestHandleFrame_MalformedFrameDropped(t *testing.T) {
	b := newTestBrokerage(t, "http://127.0.0.1:0")

	called := false
	b.OnMarketData(func(string, []byte) { called = true })

	assert.NotPanics(t, func() {
		b.handleFrame([]byte(`not json`))
		b.handleFrame([]byte(`{"stream":"x"}`))
		b.handleFrame([]byte(``))
	})
	assert.False(t, called)
}

func TestHandleFrame_ExecutionReportForUnknownOrder(t *testing.T) {
	b := newTestBrokerage(t, "http://127.0.0.1:0")

	b.handleFrame([]byte(`{"stream":"lkey123","data":{
		"e":"executionReport","E":1700000000000,"s":"BTCUSDT",
		"c":"local-1","X":"FILLED","i":555,
		"l":"1.0","L":"50000.0","z":"1.0","n":"0.001","N":"BNB"
	}}`))

	// An unknown venue order must surface as an informational message, not
	// an error or a dropped frame.
	select {
	case msg := <-b.messages:
		assert.Equal(t, "unknown_execution_report", msg.Code)
		assert.Equal(t, domain.MessageInfo, msg.Level)
	case <-time.After(time.Second):
		t.Fatal("no message enqueued")
	}
}

func TestHandleFrame_ListenKeyExpiredWarns(t *testing.T) {
	b := newTestBrokerage(t, "http://127.0.0.1:0")

	b.handleFrame([]byte(`{"stream":"lkey123","data":{"e":"listenKeyExpired","E":1700000000000}}`))

	select {
	case msg := <-b.messages:
		assert.Equal(t, "listen_key_expired", msg.Code)
		assert.Equal(t, domain.MessageWarn, msg.Level)
	case <-time.After(time.Second):
		t.Fatal("no message enqueued")
	}
}

func TestHandleFrame_BalancePushIgnored(t *testing.T) {
	b := newTestBrokerage(t, "http://127.0.0.1:0")

	called := false
	b.OnMarketData(func(string, []byte) { called = true })

	b.handleFrame([]byte(`{"stream":"lkey123","data":{"e":"outboundAccountPosition","E":1}}`))

	assert.False(t, called)
	select {
	case msg := <-b.messages:
		t.Fatalf("unexpected message %q", msg.Code)
	default:
	}
}

type fixedClock struct{}

func (fixedClock) Timestamp(ctx context.Context) (time.Time, error) {
	return time.UnixMilli(1_700_000_000_000), nil
}
func (fixedClock) Resync(ctx context.Context) error { return nil }

func TestSubmitThenExecutionReport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/order" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"symbol":"BTCUSDT","orderId":555,"status":"NEW"}`))
	}))
	defer srv.Close()

	b := newTestBrokerage(t, srv.URL)
	b.venue.SetClock(fixedClock{})

	order := &domain.Order{
		Symbol:   "BTC-USDT",
		Side:     domain.OrderSideBuy,
		Type:     domain.OrderTypeLimit,
		Quantity: 1,
		Price:    50_000,
	}
	require.NoError(t, b.SubmitOrder(context.Background(), order))
	require.Equal(t, []string{"555"}, order.BrokerIDs)

	// Drain the submission event.
	select {
	case ev := <-b.orderEvents:
		assert.Equal(t, domain.OrderStatusSubmitted, ev.Status)
	case <-time.After(time.Second):
		t.Fatal("no submission event")
	}

	// The streamed fill correlates by the venue order id assigned above.
	b.handleFrame([]byte(`{"stream":"lkey123","data":{
		"e":"executionReport","E":1700000000123,"s":"BTCUSDT",
		"c":"` + order.LocalID + `","X":"FILLED","i":555,
		"l":"1.0","L":"50000.0","z":"1.0","n":"0.05","N":"BNB"
	}}`))

	select {
	case ev := <-b.orderEvents:
		assert.Equal(t, domain.OrderStatusFilled, ev.Status)
		assert.Equal(t, "555", ev.BrokerID)
		assert.Equal(t, 1.0, ev.FillQty)
		assert.Equal(t, 0.05, ev.Fee)
		assert.Equal(t, "BNB", ev.FeeAsset)
	case <-time.After(time.Second):
		t.Fatal("no fill event")
	}

	cached, err := b.CachedOrder(order.LocalID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFilled, cached.Status)
	assert.Equal(t, 1.0, cached.FilledQuantity)
}
