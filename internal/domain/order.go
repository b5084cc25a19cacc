package domain

import "time"

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderType selects the venue order type.
type OrderType string

const (
	OrderTypeMarket    OrderType = "market"
	OrderTypeLimit     OrderType = "limit"
	OrderTypeStopLimit OrderType = "stop_limit"
)

// OrderStatus tracks the order lifecycle as reported by the venue.
type OrderStatus string

const (
	OrderStatusNone            OrderStatus = "none"
	OrderStatusNew             OrderStatus = "new"
	OrderStatusSubmitted       OrderStatus = "submitted"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusPendingCancel   OrderStatus = "pending_cancel"
	OrderStatusCanceled        OrderStatus = "canceled"
	OrderStatusInvalid         OrderStatus = "invalid"
)

// IsTerminal reports whether no further status transitions are expected.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusInvalid:
		return true
	}
	return false
}

// Order is a locally tracked order. LocalID is assigned at creation and never
// changes; BrokerIDs are attached asynchronously once the venue acknowledges
// the submission. A resubmission replaces the broker-id list rather than
// appending to it.
type Order struct {
	LocalID        string
	BrokerIDs      []string
	Symbol         string
	Side           OrderSide
	Type           OrderType
	Status         OrderStatus
	Quantity       float64
	FilledQuantity float64
	Price          float64
	StopPrice      float64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// HasBrokerID reports whether id is one of the order's venue identifiers.
func (o *Order) HasBrokerID(id string) bool {
	for _, b := range o.BrokerIDs {
		if b == id {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so readers never share the cached record's
// broker-id slice with a concurrent mutator.
func (o *Order) Clone() *Order {
	cp := *o
	cp.BrokerIDs = make([]string, len(o.BrokerIDs))
	copy(cp.BrokerIDs, o.BrokerIDs)
	return &cp
}
