package oracle

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"bitstable/currency"
)

type fakeSource struct {
	name  string
	price float64
	err   error
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Fetch(ctx context.Context) (map[currency.Code]float64, error) {
	if f.err != nil {
		return nil, f.err
	}
	return map[currency.Code]float64{currency.USD: f.price}, nil
}

func TestMedianThreeSources(t *testing.T) {
	// Scenario 3: three sources report 50000, 50020, 50030 -> median 50020.
	agg := NewAggregator(DefaultBreakerConfig())
	agg.Register(&fakeSource{name: "a", price: 50000})
	agg.Register(&fakeSource{name: "b", price: 50020})
	agg.Register(&fakeSource{name: "c", price: 50030})

	rates, err := agg.GetConsensusPrices(context.Background())
	require.NoError(t, err)
	price, err := rates.BTCPriceIn(currency.USD)
	require.NoError(t, err)
	require.Equal(t, float64(50020), price)
}

func TestMedianFourSourcesAverages(t *testing.T) {
	agg := NewAggregator(DefaultBreakerConfig())
	agg.Register(&fakeSource{name: "a", price: 50000})
	agg.Register(&fakeSource{name: "b", price: 50010})
	agg.Register(&fakeSource{name: "c", price: 50020})
	agg.Register(&fakeSource{name: "d", price: 50030})

	rates, err := agg.GetConsensusPrices(context.Background())
	require.NoError(t, err)
	price, err := rates.BTCPriceIn(currency.USD)
	require.NoError(t, err)
	require.Equal(t, float64(50015), price)
}

func TestCircuitBreakerRejectsLargeMoveWithoutOverride(t *testing.T) {
	cfg := DefaultBreakerConfig()
	agg := NewAggregator(cfg)
	for i := 0; i < 5; i++ {
		agg.Register(&fakeSource{name: string(rune('a' + i)), price: 50000})
	}
	_, err := agg.GetConsensusPrices(context.Background())
	require.NoError(t, err)

	// Replace sources with ones reporting an 60% jump; circuit breaker must
	// reject and the previous consensus must be retained.
	agg2 := NewAggregator(cfg)
	for i := 0; i < 5; i++ {
		agg2.Register(&fakeSource{name: string(rune('a' + i)), price: 50000})
	}
	_, err = agg2.GetConsensusPrices(context.Background())
	require.NoError(t, err)

	agg2.mu.Lock()
	for name, src := range agg2.sources {
		fs := src.(*fakeSource)
		fs.price = 80000
		agg2.sources[name] = fs
	}
	agg2.mu.Unlock()

	before := agg2.RatesSnapshot()
	beforePrice, _ := before.BTCPriceIn(currency.USD)

	_, err = agg2.GetConsensusPrices(context.Background())
	require.Error(t, err)

	after := agg2.RatesSnapshot()
	afterPrice, _ := after.BTCPriceIn(currency.USD)
	require.Equal(t, beforePrice, afterPrice)
}

func TestInsufficientSourcesRejected(t *testing.T) {
	agg := NewAggregator(DefaultBreakerConfig())
	agg.Register(&fakeSource{name: "a", price: 50000})
	agg.Register(&fakeSource{name: "b", price: 50010})

	_, err := agg.GetConsensusPrices(context.Background())
	require.Error(t, err)
	var ic *ErrInsufficientConsensus
	require.ErrorAs(t, err, &ic)
}

func TestConsensusTimestampSetAfterAcceptance(t *testing.T) {
	agg := NewAggregator(DefaultBreakerConfig())
	agg.Register(&fakeSource{name: "a", price: 50000})
	agg.Register(&fakeSource{name: "b", price: 50000})
	agg.Register(&fakeSource{name: "c", price: 50000})

	rates, err := agg.GetConsensusPrices(context.Background())
	require.NoError(t, err)
	require.NotZero(t, rates.Timestamp)
}
