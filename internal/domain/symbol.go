package domain

import "strings"

// PassthroughMapper is the default SymbolMapper: it upper-cases and strips
// the separators commonly used in local naming ("BTC-USDT" -> "BTCUSDT").
// The reverse direction cannot recover the separator, so venue symbols map
// back to themselves upper-cased.
type PassthroughMapper struct{}

func (PassthroughMapper) ToVenue(local string) string {
	s := strings.ToUpper(local)
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, "/", "")
	s = strings.ReplaceAll(s, "_", "")
	return s
}

func (PassthroughMapper) ToLocal(venue string) string {
	return strings.ToUpper(venue)
}

var _ SymbolMapper = PassthroughMapper{}
