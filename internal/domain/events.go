package domain

import "time"

// OrderEvent reports an order-status transition to the host. Every terminal
// failure on submission or cancellation produces one of these; nothing fails
// silently.
type OrderEvent struct {
	LocalID   string
	BrokerID  string
	Symbol    string
	Status    OrderStatus
	FillQty   float64
	FillPrice float64
	Fee       float64
	FeeAsset  string
	Message   string
	Time      time.Time
}

// SessionState enumerates the streaming connection lifecycle.
type SessionState int32

const (
	SessionDisconnected SessionState = iota
	SessionConnecting
	SessionConnected
)

func (s SessionState) String() string {
	switch s {
	case SessionConnecting:
		return "connecting"
	case SessionConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// SessionEventKind classifies streaming-session notifications.
type SessionEventKind int

const (
	SessionEventConnected SessionEventKind = iota
	SessionEventDisconnected
	SessionEventReconnectRequested
)

// SessionEvent is emitted by the streaming session on lifecycle changes.
// ReconnectRequested asks the subscription owner to rebuild; the session
// never resubscribes on its own because the venue does not persist
// subscriptions across connections.
type SessionEvent struct {
	Kind SessionEventKind
	Err  error
}

// ExecutionReport is the typed form of a streaming execution report, the
// venue's asynchronous answer to order submissions and cancellations.
type ExecutionReport struct {
	BrokerID      string
	ClientOrderID string
	Symbol        string
	Status        OrderStatus
	LastFillQty   float64
	LastFillPrice float64
	CumFillQty    float64
	Fee           float64
	FeeAsset      string
	Time          time.Time
}

// MessageLevel grades best-effort informational messages.
type MessageLevel int

const (
	MessageInfo MessageLevel = iota
	MessageWarn
	MessageError
)

// Message is a best-effort informational or error report surfaced to the
// host. It carries no delivery guarantee and must never block the emitter.
type Message struct {
	Level MessageLevel
	Code  string
	Text  string
	Time  time.Time
}
