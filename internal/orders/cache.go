// Package orders reconciles locally issued orders with the venue's
// asynchronous view of them. It correlates local order ids with
// venue-assigned broker ids and merges the REST submission path with the
// streaming execution-report path, using the stream gate to keep the two
// ordered relative to each other.
package orders

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gelinger777/binancelink/internal/domain"
	"github.com/gelinger777/binancelink/internal/venue/binance"
)

// VenueTrader is the REST slice the cache mutates order state through.
type VenueTrader interface {
	NewOrder(ctx context.Context, order *domain.Order, mapper domain.SymbolMapper) (*binance.OrderAck, error)
	CancelOrder(ctx context.Context, venueSymbol, brokerID string) error
}

// EventGate defers streaming delivery while a REST order mutation is in
// flight. stream.Gate implements it.
type EventGate interface {
	Lock()
	Unlock()
}

// Cache is the order reconciliation cache. All mutations happen under one
// mutex; readers get deep copies.
type Cache struct {
	venue  VenueTrader
	mapper domain.SymbolMapper
	gate   EventGate
	logger *slog.Logger

	onEvent   func(domain.OrderEvent)
	onMessage func(domain.Message)

	mu       sync.Mutex
	byLocal  map[string]*domain.Order
	byBroker map[string]string // broker id -> local id
}

// NewCache creates an order cache. onEvent receives every order-status
// transition; onMessage receives best-effort informational reports. Either
// may be nil.
func NewCache(venue VenueTrader, mapper domain.SymbolMapper, gate EventGate, onEvent func(domain.OrderEvent), onMessage func(domain.Message), logger *slog.Logger) *Cache {
	if onEvent == nil {
		onEvent = func(domain.OrderEvent) {}
	}
	if onMessage == nil {
		onMessage = func(domain.Message) {}
	}
	return &Cache{
		venue:     venue,
		mapper:    mapper,
		gate:      gate,
		logger:    logger.With(slog.String("component", "orders")),
		onEvent:   onEvent,
		onMessage: onMessage,
		byLocal:   make(map[string]*domain.Order),
		byBroker:  make(map[string]string),
	}
}

// Submit places an order with the venue. The stream gate is engaged for the
// whole REST round trip so an execution report for a not-yet-cached broker
// id cannot overtake the response that establishes the mapping. Every
// terminal failure produces an observable Invalid event; nothing fails
// silently.
func (c *Cache) Submit(ctx context.Context, order *domain.Order) error {
	if order.LocalID == "" {
		order.LocalID = uuid.NewString()
	}
	order.CreatedAt = time.Now()

	if err := validate(order); err != nil {
		c.reject(order, err.Error())
		return err
	}

	// Cache before the round trip so a report correlated by client order id
	// resolves even if it beats our bookkeeping below.
	order.Status = domain.OrderStatusNew
	c.mu.Lock()
	c.byLocal[order.LocalID] = order.Clone()
	c.mu.Unlock()

	c.gate.Lock()
	defer c.gate.Unlock()

	ack, err := c.venue.NewOrder(ctx, order, c.mapper)
	if err != nil {
		c.reject(order, err.Error())
		return fmt.Errorf("orders: submit %s: %w", order.LocalID, err)
	}

	c.mu.Lock()
	rec := c.byLocal[order.LocalID]
	for _, old := range rec.BrokerIDs {
		delete(c.byBroker, old)
	}
	// A resubmission supersedes the prior attempt: replace, never append.
	rec.BrokerIDs = []string{ack.BrokerID}
	rec.Status = domain.OrderStatusSubmitted
	rec.UpdatedAt = time.Now()
	c.byBroker[ack.BrokerID] = order.LocalID
	c.mu.Unlock()

	order.BrokerIDs = []string{ack.BrokerID}
	order.Status = domain.OrderStatusSubmitted

	c.onEvent(domain.OrderEvent{
		LocalID:  order.LocalID,
		BrokerID: ack.BrokerID,
		Symbol:   order.Symbol,
		Status:   domain.OrderStatusSubmitted,
		Time:     time.Now(),
	})
	return nil
}

// Cancel cancels every broker id associated with the order, under the same
// gate discipline as Submit. The order counts as canceled only when every
// broker id acknowledges; a partial acknowledgement leaves the status
// unchanged and returns ErrNotCanceled.
func (c *Cache) Cancel(ctx context.Context, localID string) error {
	c.mu.Lock()
	rec, ok := c.byLocal[localID]
	if !ok || len(rec.BrokerIDs) == 0 {
		c.mu.Unlock()
		c.onMessage(domain.Message{
			Level: domain.MessageWarn,
			Code:  "cancel_unknown_order",
			Text:  "cancel requested for order with no venue identifier: " + localID,
			Time:  time.Now(),
		})
		return domain.ErrNotFound
	}
	brokerIDs := make([]string, len(rec.BrokerIDs))
	copy(brokerIDs, rec.BrokerIDs)
	venueSymbol := c.mapper.ToVenue(rec.Symbol)
	symbol := rec.Symbol
	prior := rec.Status
	c.mu.Unlock()

	c.gate.Lock()
	defer c.gate.Unlock()

	var failed []string
	for _, id := range brokerIDs {
		if err := c.venue.CancelOrder(ctx, venueSymbol, id); err != nil {
			c.logger.Warn("cancel not acknowledged",
				slog.String("local_id", localID),
				slog.String("broker_id", id),
				slog.String("error", err.Error()),
			)
			failed = append(failed, id)
		}
	}

	if len(failed) > 0 {
		// Status stays where it was; the caller sees an explicit event
		// rather than a silent no-op.
		c.onEvent(domain.OrderEvent{
			LocalID: localID,
			Symbol:  symbol,
			Status:  prior,
			Message: fmt.Sprintf("cancel unacknowledged for %d of %d venue ids", len(failed), len(brokerIDs)),
			Time:    time.Now(),
		})
		return fmt.Errorf("orders: cancel %s: %w", localID, domain.ErrNotCanceled)
	}

	c.mu.Lock()
	rec = c.byLocal[localID]
	rec.Status = domain.OrderStatusPendingCancel
	rec.UpdatedAt = time.Now()
	c.mu.Unlock()

	c.onEvent(domain.OrderEvent{
		LocalID: localID,
		Symbol:  symbol,
		Status:  domain.OrderStatusPendingCancel,
		Time:    time.Now(),
	})
	return nil
}

// ApplyExecutionReport merges one streaming execution report into the
// cached order it belongs to. Reports for unknown broker ids produce an
// informational message, never a failure, because the venue may legitimately
// report orders placed outside this session.
func (c *Cache) ApplyExecutionReport(rep domain.ExecutionReport) {
	c.mu.Lock()
	localID, ok := c.byBroker[rep.BrokerID]
	if !ok {
		// Fall back to the client order id round-tripped through the venue.
		if _, found := c.byLocal[rep.ClientOrderID]; found {
			localID = rep.ClientOrderID
			ok = true
			if rep.BrokerID != "" {
				rec := c.byLocal[localID]
				if !rec.HasBrokerID(rep.BrokerID) {
					rec.BrokerIDs = append(rec.BrokerIDs, rep.BrokerID)
				}
				c.byBroker[rep.BrokerID] = localID
			}
		}
	}
	if !ok {
		c.mu.Unlock()
		c.onMessage(domain.Message{
			Level: domain.MessageInfo,
			Code:  "unknown_execution_report",
			Text:  "execution report for unknown venue order " + rep.BrokerID,
			Time:  time.Now(),
		})
		return
	}

	rec := c.byLocal[localID]
	// Terminal states never regress, and a report whose venue status token
	// did not map to a known state carries nothing to merge.
	if rec.Status.IsTerminal() || rep.Status == domain.OrderStatusNone {
		prior := rec.Status
		c.mu.Unlock()
		c.logger.Debug("stale execution report ignored",
			slog.String("local_id", localID),
			slog.String("reported", string(rep.Status)),
			slog.String("current", string(prior)),
		)
		return
	}
	rec.Status = rep.Status
	if rep.CumFillQty > 0 {
		rec.FilledQuantity = rep.CumFillQty
	}
	rec.UpdatedAt = rep.Time
	symbol := rec.Symbol
	c.mu.Unlock()

	c.onEvent(domain.OrderEvent{
		LocalID:   localID,
		BrokerID:  rep.BrokerID,
		Symbol:    symbol,
		Status:    rep.Status,
		FillQty:   rep.LastFillQty,
		FillPrice: rep.LastFillPrice,
		Fee:       rep.Fee,
		FeeAsset:  rep.FeeAsset,
		Time:      rep.Time,
	})
}

// Get returns a copy of the cached order, or ErrNotFound.
func (c *Cache) Get(localID string) (*domain.Order, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.byLocal[localID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return rec.Clone(), nil
}

// Open returns copies of every cached order not in a terminal state.
func (c *Cache) Open() []*domain.Order {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*domain.Order, 0, len(c.byLocal))
	for _, rec := range c.byLocal {
		if !rec.Status.IsTerminal() {
			out = append(out, rec.Clone())
		}
	}
	return out
}

// reject marks the order invalid and emits the mandatory observable event.
func (c *Cache) reject(order *domain.Order, reason string) {
	order.Status = domain.OrderStatusInvalid

	c.mu.Lock()
	if rec, ok := c.byLocal[order.LocalID]; ok {
		rec.Status = domain.OrderStatusInvalid
		rec.UpdatedAt = time.Now()
	}
	c.mu.Unlock()

	c.onEvent(domain.OrderEvent{
		LocalID: order.LocalID,
		Symbol:  order.Symbol,
		Status:  domain.OrderStatusInvalid,
		Message: reason,
		Time:    time.Now(),
	})
}

func validate(order *domain.Order) error {
	switch {
	case order.Symbol == "":
		return fmt.Errorf("%w: missing symbol", domain.ErrInvalidOrder)
	case order.Quantity <= 0:
		return fmt.Errorf("%w: quantity must be positive", domain.ErrInvalidOrder)
	case order.Type != domain.OrderTypeMarket && order.Price <= 0:
		return fmt.Errorf("%w: price must be positive", domain.ErrInvalidOrder)
	case order.Type == domain.OrderTypeStopLimit && order.StopPrice <= 0:
		return fmt.Errorf("%w: stop price must be positive", domain.ErrInvalidOrder)
	}
	return nil
}
