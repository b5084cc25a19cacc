package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOrderStatus_IsTerminal(t *testing.T) {
	terminal := []OrderStatus{OrderStatusFilled, OrderStatusCanceled, OrderStatusInvalid}
	for _, s := range terminal {
		assert.True(t, s.IsTerminal(), string(s))
	}

	open := []OrderStatus{
		OrderStatusNone, OrderStatusNew, OrderStatusSubmitted,
		OrderStatusPartiallyFilled, OrderStatusPendingCancel,
	}
	for _, s := range open {
		assert.False(t, s.IsTerminal(), string(s))
	}
}

func TestOrder_CloneIsDeep(t *testing.T) {
	orig := &Order{
		LocalID:   "local-1",
		BrokerIDs: []string{"555", "556"},
		Symbol:    "BTC-USDT",
		Status:    OrderStatusSubmitted,
	}

	clone := orig.Clone()
	clone.BrokerIDs[0] = "mutated"
	clone.Status = OrderStatusFilled

	assert.Equal(t, "555", orig.BrokerIDs[0])
	assert.Equal(t, OrderStatusSubmitted, orig.Status)
}

func TestOrder_HasBrokerID(t *testing.T) {
	o := &Order{BrokerIDs: []string{"555"}}
	assert.True(t, o.HasBrokerID("555"))
	assert.False(t, o.HasBrokerID("777"))
}

func TestPassthroughMapper(t *testing.T) {
	m := PassthroughMapper{}
	assert.Equal(t, "BTCUSDT", m.ToVenue("btc-usdt"))
	assert.Equal(t, "BTCUSDT", m.ToVenue("BTC_USDT"))
	assert.Equal(t, "BTCUSDT", m.ToLocal("BTCUSDT"))
}
