package broker

import (
	"context"
	"log/slog"
	"time"

	"github.com/gelinger777/binancelink/internal/domain"
)

// intervalDurations maps the venue's candle-interval tokens to their step.
var intervalDurations = map[string]time.Duration{
	"1m":  time.Minute,
	"3m":  3 * time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"2h":  2 * time.Hour,
	"4h":  4 * time.Hour,
	"6h":  6 * time.Hour,
	"8h":  8 * time.Hour,
	"12h": 12 * time.Hour,
	"1d":  24 * time.Hour,
	"3d":  72 * time.Hour,
	"1w":  7 * 24 * time.Hour,
}

// History streams historical candles for [start, end] on the returned
// channel, oldest first. Pages are fetched lazily as the consumer drains the
// channel, so abandoning the context stops further venue requests. The
// channel is closed when the range is exhausted or on the first fetch error
// (reported as a Message).
func (b *Brokerage) History(ctx context.Context, symbol, interval string, start, end time.Time) <-chan domain.Bar {
	out := make(chan domain.Bar)

	step, ok := intervalDurations[interval]
	if !ok {
		b.logger.Error("unknown candle interval", slog.String("interval", interval))
		close(out)
		return out
	}

	go b.streamHistory(ctx, out, symbol, interval, start.Truncate(step), end, step)
	return out
}

func (b *Brokerage) streamHistory(ctx context.Context, out chan<- domain.Bar, symbol, interval string, start, end time.Time, step time.Duration) {
	defer close(out)

	venueSymbol := b.mapper.ToVenue(symbol)
	cursor := start

	// Serve the cached prefix first; the cache holds only closed candles so
	// anything it returns is final.
	if b.klines != nil {
		cached, err := b.klines.GetBars(ctx, venueSymbol, interval, cursor, end, step)
		if err != nil {
			b.logger.Warn("kline cache read failed", slog.String("error", err.Error()))
		}
		for _, bar := range cached {
			if !b.emitBar(ctx, out, symbol, bar) {
				return
			}
			cursor = bar.OpenTime.Add(step)
		}
	}

	for !cursor.After(end) {
		bars, err := b.venue.Klines(ctx, venueSymbol, interval, cursor, end, 0)
		if err != nil {
			b.enqueueMessage(domain.Message{
				Level: domain.MessageError,
				Code:  "history_fetch_failed",
				Text:  "history fetch for " + symbol + " aborted: " + err.Error(),
				Time:  time.Now(),
			})
			return
		}
		if len(bars) == 0 {
			return
		}

		if b.klines != nil {
			if closed := closedBars(bars, step); len(closed) > 0 {
				if err := b.klines.PutBars(ctx, closed); err != nil {
					b.logger.Warn("kline cache write failed", slog.String("error", err.Error()))
				}
			}
		}

		for _, bar := range bars {
			if bar.OpenTime.After(end) {
				return
			}
			if !b.emitBar(ctx, out, symbol, bar) {
				return
			}
		}
		cursor = bars[len(bars)-1].OpenTime.Add(step)
	}
}

// emitBar rewrites the venue symbol back to the local one and delivers the
// bar, honoring consumer cancellation.
func (b *Brokerage) emitBar(ctx context.Context, out chan<- domain.Bar, symbol string, bar domain.Bar) bool {
	bar.Symbol = symbol
	select {
	case out <- bar:
		return true
	case <-ctx.Done():
		return false
	}
}

// closedBars trims a page down to candles whose window has fully elapsed.
// The venue includes the still-forming candle at the tail of a page and that
// one must never be cached.
func closedBars(bars []domain.Bar, step time.Duration) []domain.Bar {
	now := time.Now()
	n := len(bars)
	for n > 0 && bars[n-1].OpenTime.Add(step).After(now) {
		n--
	}
	return bars[:n]
}
