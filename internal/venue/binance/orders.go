package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gelinger777/binancelink/internal/domain"
)

// NewOrder submits an order. The caller's local id travels as the venue's
// client order id so execution reports can be correlated even before the
// broker id is cached. The returned ack carries the venue-assigned broker
// id and initial status.
func (c *Client) NewOrder(ctx context.Context, order *domain.Order, mapper domain.SymbolMapper) (*OrderAck, error) {
	params := url.Values{}
	params.Set("symbol", mapper.ToVenue(order.Symbol))
	params.Set("side", venueSide(order.Side))
	params.Set("type", venueType(order.Type))
	params.Set("quantity", formatQty(order.Quantity))
	params.Set("newClientOrderId", order.LocalID)
	params.Set("newOrderRespType", "ACK")

	switch order.Type {
	case domain.OrderTypeLimit:
		params.Set("timeInForce", "GTC")
		params.Set("price", formatQty(order.Price))
	case domain.OrderTypeStopLimit:
		params.Set("timeInForce", "GTC")
		params.Set("price", formatQty(order.Price))
		params.Set("stopPrice", formatQty(order.StopPrice))
	}

	body, err := c.do(ctx, http.MethodPost, "/api/v3/order", params, authSigned)
	if err != nil {
		return nil, fmt.Errorf("binance: new order: %w", err)
	}

	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("binance: decode order ack: %w", err)
	}
	if resp.OrderID == 0 {
		return nil, fmt.Errorf("binance: order ack missing venue order id")
	}

	return &OrderAck{
		BrokerID: resp.BrokerID(),
		Status:   StatusFromVenue(resp.Status),
	}, nil
}

// CancelOrder cancels one broker id of an order. Orders that were split
// across several broker ids need one call per id; the caller owns the
// all-or-nothing accounting.
func (c *Client) CancelOrder(ctx context.Context, venueSymbol, brokerID string) error {
	id, err := strconv.ParseInt(brokerID, 10, 64)
	if err != nil {
		return fmt.Errorf("binance: malformed broker id %q: %w", brokerID, err)
	}

	params := url.Values{}
	params.Set("symbol", venueSymbol)
	params.Set("orderId", strconv.FormatInt(id, 10))

	if _, err := c.do(ctx, http.MethodDelete, "/api/v3/order", params, authSigned); err != nil {
		return fmt.Errorf("binance: cancel order %s: %w", brokerID, err)
	}
	return nil
}

// OrderAck is the trimmed submission acknowledgement handed to the order
// cache.
type OrderAck struct {
	BrokerID string
	Status   domain.OrderStatus
}

// formatQty renders quantities and prices without scientific notation.
func formatQty(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
