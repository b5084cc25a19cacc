package domain

import "time"

// Bar is a single OHLCV candle for one symbol at one resolution.
type Bar struct {
	Symbol   string
	Interval string // venue interval token, e.g. "1m", "1h", "1d"
	OpenTime time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}

// Balance is a per-asset account balance snapshot.
type Balance struct {
	Asset  string
	Free   float64
	Locked float64
}

// SymbolMapper translates between local symbol naming and the venue's
// naming. It is consulted only when building request paths and stream names;
// none of the connectivity logic depends on the mapping itself.
type SymbolMapper interface {
	// ToVenue converts a local symbol (e.g. "BTC-USDT") to the venue form.
	ToVenue(local string) string
	// ToLocal converts a venue symbol (e.g. "BTCUSDT") back to the local form.
	ToLocal(venue string) string
}
