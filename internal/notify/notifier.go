// Package notify forwards connection and order events to operator channels
// (Telegram, Discord). Delivery is best effort: sender failures are logged
// and never propagate into the trading path.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gelinger777/binancelink/internal/domain"
)

// Sender is one delivery channel.
type Sender interface {
	Send(ctx context.Context, title, body string) error
	Name() string
}

// Notifier fans domain events out to the configured senders. Only terminal
// order states are forwarded so operators are not flooded by partial fills.
type Notifier struct {
	senders []Sender
	logger  *slog.Logger
}

// NewNotifier creates a Notifier delivering to the given senders. A nil or
// empty sender list yields a no-op notifier.
func NewNotifier(senders []Sender, logger *slog.Logger) *Notifier {
	return &Notifier{
		senders: senders,
		logger:  logger.With(slog.String("component", "notify")),
	}
}

// OrderEvent forwards a terminal order-status transition.
func (n *Notifier) OrderEvent(ctx context.Context, ev domain.OrderEvent) {
	if !ev.Status.IsTerminal() {
		return
	}
	title := fmt.Sprintf("Order %s: %s", ev.Status, ev.Symbol)
	body := fmt.Sprintf("local=%s venue=%s", ev.LocalID, ev.BrokerID)
	if ev.Message != "" {
		body += "\n" + ev.Message
	}
	n.dispatch(ctx, title, body)
}

// Message forwards a warning-or-worse informational report.
func (n *Notifier) Message(ctx context.Context, msg domain.Message) {
	if msg.Level == domain.MessageInfo {
		return
	}
	n.dispatch(ctx, "binancelink: "+msg.Code, msg.Text)
}

func (n *Notifier) dispatch(ctx context.Context, title, body string) {
	for _, s := range n.senders {
		if err := s.Send(ctx, title, body); err != nil {
			n.logger.Warn("notification delivery failed",
				slog.String("sender", s.Name()),
				slog.String("title", strings.TrimSpace(title)),
				slog.String("error", err.Error()),
			)
		}
	}
}
