package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gelinger777/binancelink/internal/domain"
)

// klineTTL bounds how long closed candles stay cached. Closed candles are
// immutable, so the TTL only caps memory, not staleness.
const klineTTL = 7 * 24 * time.Hour

// KlineCache stores closed candles so repeated history requests skip the
// venue's REST budget. Keys are "kline:{symbol}:{interval}:{openTimeMillis}"
// holding the JSON-encoded bar.
type KlineCache struct {
	rdb *redis.Client
}

// NewKlineCache creates a KlineCache backed by the given Client.
func NewKlineCache(c *Client) *KlineCache {
	return &KlineCache{rdb: c.Underlying()}
}

func klineKey(symbol, interval string, openTime time.Time) string {
	return "kline:" + symbol + ":" + interval + ":" + strconv.FormatInt(openTime.UnixMilli(), 10)
}

// PutBars stores a batch of closed bars using a pipeline.
func (kc *KlineCache) PutBars(ctx context.Context, bars []domain.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	pipe := kc.rdb.Pipeline()
	for _, bar := range bars {
		data, err := json.Marshal(bar)
		if err != nil {
			return fmt.Errorf("redis: encode kline: %w", err)
		}
		pipe.Set(ctx, klineKey(bar.Symbol, bar.Interval, bar.OpenTime), data, klineTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: put klines: %w", err)
	}
	return nil
}

// GetBars retrieves the contiguous run of cached bars starting at `start`
// stepping by `step`, stopping at the first miss or at `end`. The caller
// fetches the remainder from the venue.
func (kc *KlineCache) GetBars(ctx context.Context, symbol, interval string, start, end time.Time, step time.Duration) ([]domain.Bar, error) {
	var bars []domain.Bar
	for t := start; !t.After(end); t = t.Add(step) {
		data, err := kc.rdb.Get(ctx, klineKey(symbol, interval, t)).Bytes()
		if err == redis.Nil {
			break
		}
		if err != nil {
			return bars, fmt.Errorf("redis: get kline: %w", err)
		}
		var bar domain.Bar
		if err := json.Unmarshal(data, &bar); err != nil {
			// A corrupt entry ends the cached run; REST fills the rest.
			break
		}
		bars = append(bars, bar)
	}
	return bars, nil
}
