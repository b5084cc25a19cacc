package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/gelinger777/binancelink/internal/domain"
)

// Account returns the current per-asset balances. Assets with zero free and
// zero locked amounts are omitted.
func (c *Client) Account(ctx context.Context) ([]domain.Balance, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/v3/account", nil, authSigned)
	if err != nil {
		return nil, fmt.Errorf("binance: get account: %w", err)
	}

	var resp accountResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("binance: decode account: %w", err)
	}

	balances := make([]domain.Balance, 0, len(resp.Balances))
	for _, b := range resp.Balances {
		free := parseFloat(b.Free)
		locked := parseFloat(b.Locked)
		if free == 0 && locked == 0 {
			continue
		}
		balances = append(balances, domain.Balance{
			Asset:  b.Asset,
			Free:   free,
			Locked: locked,
		})
	}
	return balances, nil
}

// OpenOrders returns every currently open order across all symbols.
func (c *Client) OpenOrders(ctx context.Context, mapper domain.SymbolMapper) ([]*domain.Order, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/v3/openOrders", nil, authSigned)
	if err != nil {
		return nil, fmt.Errorf("binance: get open orders: %w", err)
	}

	var resp []orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("binance: decode open orders: %w", err)
	}

	orders := make([]*domain.Order, 0, len(resp))
	for i := range resp {
		orders = append(orders, resp[i].toDomain(mapper))
	}
	return orders, nil
}

// --------------------------------------------------------------------------
// User data stream (listen key) endpoints
// --------------------------------------------------------------------------

// CreateListenKey opens a user-data stream authorization token. The token
// expires unless kept alive roughly every thirty minutes.
func (c *Client) CreateListenKey(ctx context.Context) (string, error) {
	body, err := c.do(ctx, http.MethodPost, "/api/v3/userDataStream", nil, authAPIKey)
	if err != nil {
		return "", fmt.Errorf("binance: create listen key: %w", err)
	}

	var resp listenKeyResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("binance: decode listen key: %w", err)
	}
	return resp.ListenKey, nil
}

// KeepAliveListenKey extends the lifetime of an existing listen key.
func (c *Client) KeepAliveListenKey(ctx context.Context, listenKey string) error {
	params := url.Values{}
	params.Set("listenKey", listenKey)

	if _, err := c.do(ctx, http.MethodPut, "/api/v3/userDataStream", params, authAPIKey); err != nil {
		return fmt.Errorf("binance: keep alive listen key: %w", err)
	}
	return nil
}

// CloseListenKey explicitly invalidates a listen key on disconnect.
func (c *Client) CloseListenKey(ctx context.Context, listenKey string) error {
	params := url.Values{}
	params.Set("listenKey", listenKey)

	if _, err := c.do(ctx, http.MethodDelete, "/api/v3/userDataStream", params, authAPIKey); err != nil {
		return fmt.Errorf("binance: close listen key: %w", err)
	}
	return nil
}
