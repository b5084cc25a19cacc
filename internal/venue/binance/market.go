package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gelinger777/binancelink/internal/domain"
)

// maxKlinesPerRequest is the venue's page-size ceiling for the klines
// endpoint.
const maxKlinesPerRequest = 1000

// Klines fetches one page of candles for a venue symbol. start and end are
// inclusive millisecond bounds; limit is clamped to the venue maximum.
// Results arrive ordered by open time ascending.
func (c *Client) Klines(ctx context.Context, venueSymbol, interval string, start, end time.Time, limit int) ([]domain.Bar, error) {
	if limit <= 0 || limit > maxKlinesPerRequest {
		limit = maxKlinesPerRequest
	}

	params := url.Values{}
	params.Set("symbol", venueSymbol)
	params.Set("interval", interval)
	params.Set("startTime", strconv.FormatInt(start.UnixMilli(), 10))
	params.Set("endTime", strconv.FormatInt(end.UnixMilli(), 10))
	params.Set("limit", strconv.Itoa(limit))

	body, err := c.do(ctx, http.MethodGet, "/api/v3/klines", params, authNone)
	if err != nil {
		return nil, fmt.Errorf("binance: get klines %s: %w", venueSymbol, err)
	}

	// Each kline is a positional array:
	// [openTime, open, high, low, close, volume, closeTime, ...].
	var rows [][]any
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("binance: decode klines: %w", err)
	}

	bars := make([]domain.Bar, 0, len(rows))
	for _, row := range rows {
		if len(row) < 6 {
			continue
		}
		openTime, ok := row[0].(float64)
		if !ok {
			continue
		}
		bars = append(bars, domain.Bar{
			Symbol:   venueSymbol,
			Interval: interval,
			OpenTime: time.UnixMilli(int64(openTime)),
			Open:     parseFloatAny(row[1]),
			High:     parseFloatAny(row[2]),
			Low:      parseFloatAny(row[3]),
			Close:    parseFloatAny(row[4]),
			Volume:   parseFloatAny(row[5]),
		})
	}
	return bars, nil
}

// parseFloatAny handles the venue's habit of encoding decimals as JSON
// strings inside positional arrays.
func parseFloatAny(v any) float64 {
	switch x := v.(type) {
	case string:
		return parseFloat(x)
	case float64:
		return x
	default:
		return 0
	}
}
