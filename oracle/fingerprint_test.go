package oracle

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"bitstable/currency"
)

type nameOnlySource string

func (s nameOnlySource) Name() string { return string(s) }
func (s nameOnlySource) Fetch(ctx context.Context) (map[currency.Code]float64, error) {
	return nil, nil
}

func TestFingerprintIsStableForTheSameSourceSet(t *testing.T) {
	a := NewAggregator(DefaultBreakerConfig())
	a.Register(nameOnlySource("coinbase"))
	a.Register(nameOnlySource("binance"))

	b := NewAggregator(DefaultBreakerConfig())
	b.Register(nameOnlySource("binance"))
	b.Register(nameOnlySource("coinbase"))

	require.Equal(t, a.Fingerprint(), b.Fingerprint())
}

func TestFingerprintChangesWhenSourceSetChanges(t *testing.T) {
	a := NewAggregator(DefaultBreakerConfig())
	a.Register(nameOnlySource("coinbase"))

	b := NewAggregator(DefaultBreakerConfig())
	b.Register(nameOnlySource("coinbase"))
	b.Register(nameOnlySource("kraken"))

	require.NotEqual(t, a.Fingerprint(), b.Fingerprint())
}

func TestSourceNamesIsSorted(t *testing.T) {
	a := NewAggregator(DefaultBreakerConfig())
	a.Register(nameOnlySource("kraken"))
	a.Register(nameOnlySource("binance"))
	a.Register(nameOnlySource("coingecko"))

	require.Equal(t, []string{"binance", "coingecko", "kraken"}, a.SourceNames())
}
