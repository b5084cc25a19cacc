package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gelinger777/binancelink/internal/domain"
)

// orderResyncPeriod is the interval between reconciliations against the
// venue's authoritative open-order list.
const orderResyncPeriod = 15 * time.Minute

// openOrderLister is the brokerage slice the resync loop reads.
type openOrderLister interface {
	GetOpenOrders(ctx context.Context) ([]*domain.Order, error)
}

// TradeMode runs the full connectivity stack: clock synchronization, the
// authenticated streaming session, order-event forwarding to the
// notification channels, and periodic open-order reconciliation.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode")

	// A working clock offset is a precondition for any signed request.
	if err := deps.Clock.Resync(ctx); err != nil {
		return fmt.Errorf("app: initial clock sync: %w", err)
	}

	a.registerCallbacks(ctx, deps)

	if err := deps.Brokerage.Connect(ctx); err != nil {
		return fmt.Errorf("app: connect: %w", err)
	}

	if len(a.cfg.Subscription.Symbols) > 0 {
		deps.Brokerage.Subscribe(a.cfg.Subscription.Symbols...)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.resyncLoop(ctx, deps.Brokerage, orderResyncPeriod)
	})
	return g.Wait()
}

// MonitorMode runs market-data streaming only. No credentials are required
// unless the user-data stream is enabled in config.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	a.registerCallbacks(ctx, deps)

	if err := deps.Brokerage.Connect(ctx); err != nil {
		return fmt.Errorf("app: connect: %w", err)
	}

	if len(a.cfg.Subscription.Symbols) > 0 {
		deps.Brokerage.Subscribe(a.cfg.Subscription.Symbols...)
	}

	<-ctx.Done()
	return ctx.Err()
}

// resyncLoop reconciles the local order view against the venue's open-order
// list, once immediately and then on a fixed timer, so a restart or a missed
// execution report cannot orphan working orders.
func (a *App) resyncLoop(ctx context.Context, venue openOrderLister, period time.Duration) error {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	a.reconcileOpenOrders(ctx, venue)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			a.reconcileOpenOrders(ctx, venue)
		}
	}
}

// reconcileOpenOrders is best-effort; a failed pass is retried on the next
// tick rather than taking the mode down.
func (a *App) reconcileOpenOrders(ctx context.Context, venue openOrderLister) {
	open, err := venue.GetOpenOrders(ctx)
	if err != nil {
		a.logger.WarnContext(ctx, "open-order reconciliation failed",
			slog.String("error", err.Error()),
		)
		return
	}
	a.logger.InfoContext(ctx, "open orders reconciled", slog.Int("count", len(open)))
}

// registerCallbacks fans brokerage events into the log and the notification
// channels.
func (a *App) registerCallbacks(ctx context.Context, deps *Dependencies) {
	deps.Brokerage.OnOrderEvent(func(ev domain.OrderEvent) {
		a.logger.InfoContext(ctx, "order event",
			slog.String("local_id", ev.LocalID),
			slog.String("broker_id", ev.BrokerID),
			slog.String("symbol", ev.Symbol),
			slog.String("status", string(ev.Status)),
			slog.Float64("fill_qty", ev.FillQty),
		)
		deps.Notifier.OrderEvent(ctx, ev)
	})

	deps.Brokerage.OnMessage(func(msg domain.Message) {
		switch msg.Level {
		case domain.MessageError:
			a.logger.ErrorContext(ctx, msg.Text, slog.String("code", msg.Code))
		case domain.MessageWarn:
			a.logger.WarnContext(ctx, msg.Text, slog.String("code", msg.Code))
		default:
			a.logger.InfoContext(ctx, msg.Text, slog.String("code", msg.Code))
		}
		deps.Notifier.Message(ctx, msg)
	})
}
