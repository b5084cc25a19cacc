// Package broker is the public surface of the connectivity core. It wires
// the request executor, streaming session, subscription manager, stream
// gate, and order reconciliation cache behind one facade and runs a single
// dispatcher loop that fans typed events out to host callbacks.
package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gelinger777/binancelink/internal/domain"
	"github.com/gelinger777/binancelink/internal/orders"
	"github.com/gelinger777/binancelink/internal/ratelimit"
	"github.com/gelinger777/binancelink/internal/stream"
	"github.com/gelinger777/binancelink/internal/subscription"
	"github.com/gelinger777/binancelink/internal/venue/binance"
)

// KlineCache accelerates History with previously fetched closed candles.
// Nil disables caching.
type KlineCache interface {
	GetBars(ctx context.Context, symbol, interval string, start, end time.Time, step time.Duration) ([]domain.Bar, error)
	PutBars(ctx context.Context, bars []domain.Bar) error
}

// Options tunes the brokerage construction.
type Options struct {
	// WSBase is the streaming root, e.g. "wss://stream.binance.com:9443".
	WSBase string
	// StreamKinds are the per-symbol streams to open; nil selects defaults.
	StreamKinds []string
	// QuietPeriod is the subscription debounce window; 0 selects the default.
	QuietPeriod time.Duration
	// UserData enables the authenticated user-data stream (execution
	// reports). Disable for market-data-only deployments.
	UserData bool
	// Klines optionally caches history candles.
	Klines KlineCache
}

// Brokerage is the connectivity core facade exposed to the host.
type Brokerage struct {
	venue  *binance.Client
	mapper domain.SymbolMapper
	logger *slog.Logger

	gate    *stream.Gate
	session *stream.Session
	subs    *subscription.Manager
	cache   *orders.Cache
	klines  KlineCache

	orderEvents chan domain.OrderEvent
	messages    chan domain.Message

	cbMu      sync.RWMutex
	orderCbs  []func(domain.OrderEvent)
	msgCbs    []func(domain.Message)
	marketCbs []func(streamName string, payload []byte)

	lifetime context.Context
	cancel   context.CancelFunc

	runOnce  sync.Once
	stopOnce sync.Once
	done     chan struct{}
}

// New assembles a Brokerage around a configured venue REST client. The
// returned brokerage is idle until Connect.
func New(venue *binance.Client, mapper domain.SymbolMapper, limiter *ratelimit.Limiter, opts Options, logger *slog.Logger) *Brokerage {
	if mapper == nil {
		mapper = domain.PassthroughMapper{}
	}

	lifetime, cancel := context.WithCancel(context.Background())

	b := &Brokerage{
		venue:       venue,
		mapper:      mapper,
		logger:      logger.With(slog.String("component", "broker")),
		klines:      opts.Klines,
		orderEvents: make(chan domain.OrderEvent, 256),
		messages:    make(chan domain.Message, 256),
		lifetime:    lifetime,
		cancel:      cancel,
		done:        make(chan struct{}),
	}

	b.gate = stream.NewGate(b.handleFrame)

	var listenKeys stream.ListenKeyManager
	if opts.UserData {
		listenKeys = venue
	}
	b.session = stream.NewSession(opts.WSBase, listenKeys, limiter, b.gate.Dispatch, logger)

	b.subs = subscription.NewManager(lifetime, b.session, mapper, opts.StreamKinds, opts.QuietPeriod, logger)

	b.cache = orders.NewCache(venue, mapper, b.gate, b.enqueueOrderEvent, b.enqueueMessage, logger)

	return b
}

// Connect starts the dispatcher and establishes the streaming connection
// with the current (possibly empty) desired set.
func (b *Brokerage) Connect(ctx context.Context) error {
	b.runOnce.Do(func() {
		go b.dispatch()
	})

	if err := b.subs.Apply(ctx); err != nil {
		return fmt.Errorf("broker: connect: %w", err)
	}
	return nil
}

// Close tears down the streaming connection and stops the dispatcher.
func (b *Brokerage) Close() error {
	var err error
	b.stopOnce.Do(func() {
		b.cancel()
		err = b.session.Close()
		close(b.done)
	})
	return err
}

// Subscribe adds symbols to the desired streaming set. The change is
// applied by the debounced rebuild, not immediately.
func (b *Brokerage) Subscribe(symbols ...string) {
	b.subs.Add(symbols...)
}

// Unsubscribe removes symbols from the desired streaming set.
func (b *Brokerage) Unsubscribe(symbols ...string) {
	b.subs.Remove(symbols...)
}

// SubmitOrder places an order. A nil return means the venue accepted the
// submission; any error has already been mirrored as an Invalid order
// event.
func (b *Brokerage) SubmitOrder(ctx context.Context, order *domain.Order) error {
	return b.cache.Submit(ctx, order)
}

// CancelOrder cancels every venue id of a previously submitted order. It
// returns ErrNotCanceled when any venue id failed to acknowledge.
func (b *Brokerage) CancelOrder(ctx context.Context, localID string) error {
	return b.cache.Cancel(ctx, localID)
}

// GetOpenOrders queries the venue's authoritative list of open orders.
func (b *Brokerage) GetOpenOrders(ctx context.Context) ([]*domain.Order, error) {
	return b.venue.OpenOrders(ctx, b.mapper)
}

// GetBalances queries current per-asset balances.
func (b *Brokerage) GetBalances(ctx context.Context) ([]domain.Balance, error) {
	return b.venue.Account(ctx)
}

// CachedOrder returns the locally reconciled view of an order.
func (b *Brokerage) CachedOrder(localID string) (*domain.Order, error) {
	return b.cache.Get(localID)
}

// OnOrderEvent registers a callback for order-status transitions.
// Callbacks run on the dispatcher goroutine and must not block.
func (b *Brokerage) OnOrderEvent(fn func(domain.OrderEvent)) {
	b.cbMu.Lock()
	defer b.cbMu.Unlock()
	b.orderCbs = append(b.orderCbs, fn)
}

// OnMessage registers a callback for best-effort informational and error
// reports.
func (b *Brokerage) OnMessage(fn func(domain.Message)) {
	b.cbMu.Lock()
	defer b.cbMu.Unlock()
	b.msgCbs = append(b.msgCbs, fn)
}

// OnMarketData registers a callback receiving raw market-data payloads by
// stream name. Decoding them into typed records is the host's concern.
func (b *Brokerage) OnMarketData(fn func(streamName string, payload []byte)) {
	b.cbMu.Lock()
	defer b.cbMu.Unlock()
	b.marketCbs = append(b.marketCbs, fn)
}
