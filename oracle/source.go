// Package oracle implements the oracle consensus component (C3): per-source
// price fetching, TWAP, the graduated circuit breaker, and cross-rate
// derivation into a currency.Table.
package oracle

import (
	"context"
	"time"

	"bitstable/currency"
)

// Source resolves a snapshot of BTC prices across whatever currencies it
// supports. Implementations wrap the per-exchange HTTP parse formats named
// in the spec (Coinbase, Binance, Kraken, CoinGecko); this package is
// agnostic to the wire format, matching the teacher's own split between
// PriceOracle implementations and the aggregator that consumes them.
type Source interface {
	Name() string
	Fetch(ctx context.Context) (map[currency.Code]float64, error)
}

// Sample is one accepted observation feeding a source's TWAP window.
type Sample struct {
	Timestamp time.Time
	Price     float64
}
