package binance

import (
	"strconv"
	"time"

	"github.com/gelinger777/binancelink/internal/domain"
)

type serverTimeResponse struct {
	ServerTime int64 `json:"serverTime"`
}

type listenKeyResponse struct {
	ListenKey string `json:"listenKey"`
}

type accountResponse struct {
	Balances []struct {
		Asset  string `json:"asset"`
		Free   string `json:"free"`
		Locked string `json:"locked"`
	} `json:"balances"`
}

// orderResponse covers both the order-placement ACK and the open-orders
// query; the venue uses the same shape for both.
type orderResponse struct {
	Symbol            string `json:"symbol"`
	OrderID           int64  `json:"orderId"`
	ClientOrderID     string `json:"clientOrderId"`
	Price             string `json:"price"`
	OrigQty           string `json:"origQty"`
	ExecutedQty       string `json:"executedQty"`
	Status            string `json:"status"`
	Type              string `json:"type"`
	Side              string `json:"side"`
	StopPrice         string `json:"stopPrice"`
	TransactTime      int64  `json:"transactTime"`
	Time              int64  `json:"time"`
	OrigClientOrderID string `json:"origClientOrderId"`
}

// BrokerID returns the venue order identifier as a string. Broker ids are
// treated as opaque strings everywhere above this package.
func (r *orderResponse) BrokerID() string {
	return strconv.FormatInt(r.OrderID, 10)
}

// StatusFromVenue maps the venue's order-state tokens onto the local
// lifecycle. Unknown tokens map to OrderStatusNone.
func StatusFromVenue(s string) domain.OrderStatus {
	switch s {
	case "NEW":
		return domain.OrderStatusNew
	case "PARTIALLY_FILLED":
		return domain.OrderStatusPartiallyFilled
	case "FILLED":
		return domain.OrderStatusFilled
	case "PENDING_CANCEL":
		return domain.OrderStatusPendingCancel
	case "CANCELED", "EXPIRED":
		return domain.OrderStatusCanceled
	case "REJECTED":
		return domain.OrderStatusInvalid
	default:
		return domain.OrderStatusNone
	}
}

// venueSide and venueType translate local enumerations into venue request
// parameters. Order-type translation is a boundary conversion only; the
// connectivity logic does not branch on it.
func venueSide(s domain.OrderSide) string {
	if s == domain.OrderSideSell {
		return "SELL"
	}
	return "BUY"
}

func venueType(t domain.OrderType) string {
	switch t {
	case domain.OrderTypeMarket:
		return "MARKET"
	case domain.OrderTypeStopLimit:
		return "STOP_LOSS_LIMIT"
	default:
		return "LIMIT"
	}
}

func localSide(s string) domain.OrderSide {
	if s == "SELL" {
		return domain.OrderSideSell
	}
	return domain.OrderSideBuy
}

func localType(t string) domain.OrderType {
	switch t {
	case "MARKET":
		return domain.OrderTypeMarket
	case "STOP_LOSS_LIMIT", "STOP_LOSS", "TAKE_PROFIT_LIMIT":
		return domain.OrderTypeStopLimit
	default:
		return domain.OrderTypeLimit
	}
}

// parseFloat converts the venue's decimal strings; malformed values decode
// to zero rather than failing the whole payload.
func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func (r *orderResponse) toDomain(mapper domain.SymbolMapper) *domain.Order {
	created := r.Time
	if created == 0 {
		created = r.TransactTime
	}
	return &domain.Order{
		LocalID:        r.ClientOrderID,
		BrokerIDs:      []string{r.BrokerID()},
		Symbol:         mapper.ToLocal(r.Symbol),
		Side:           localSide(r.Side),
		Type:           localType(r.Type),
		Status:         StatusFromVenue(r.Status),
		Quantity:       parseFloat(r.OrigQty),
		FilledQuantity: parseFloat(r.ExecutedQty),
		Price:          parseFloat(r.Price),
		StopPrice:      parseFloat(r.StopPrice),
		CreatedAt:      time.UnixMilli(created),
		UpdatedAt:      time.UnixMilli(created),
	}
}
