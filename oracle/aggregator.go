package oracle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"bitstable/currency"
)

// ErrInsufficientConsensus is returned when too few sources succeed for a
// currency to reach oracle_threshold.
type ErrInsufficientConsensus struct {
	Got      int
	Required int
}

func (e *ErrInsufficientConsensus) Error() string {
	return fmt.Sprintf("oracle: insufficient consensus: got %d, required %d", e.Got, e.Required)
}

const sourceFetchTimeout = 10 * time.Second
const historyCapacity = 1000

// Snapshot is one accepted consensus round, retained in a bounded ring
// buffer per §4.1's "keep the last 1000 consensus snapshots".
type Snapshot struct {
	Rates     *currency.Table
	Timestamp time.Time
}

// Aggregator is the oracle consensus engine (C3). It owns a rate table
// snapshot, a history ring, and per-source health records, matching the
// teacher's OracleAggregator (native/swap/oracle.go) generalised from a
// single best-priority oracle to a multi-source median consensus across
// every configured currency.
type Aggregator struct {
	mu       sync.RWMutex
	sources  map[string]Source
	records  map[string]*sourceRecord
	limiters map[string]*rate.Limiter
	breaker  *breakerState
	cfg      BreakerConfig
	rates    *currency.Table
	history  []Snapshot
	twapWin  time.Duration
}

// NewAggregator constructs an aggregator with no sources registered yet.
func NewAggregator(cfg BreakerConfig) *Aggregator {
	return &Aggregator{
		sources:  map[string]Source{},
		records:  map[string]*sourceRecord{},
		limiters: map[string]*rate.Limiter{},
		breaker:  newBreakerState(),
		cfg:      cfg,
		rates:    currency.NewTable(),
		twapWin:  defaultTWAPWindow,
	}
}

// Register adds a price source, rate-limited to one fetch per second with a
// burst of 1 to bound outbound request volume, matching the teacher's
// ratelimit middleware pattern applied per-source instead of per-client.
func (a *Aggregator) Register(src Source) {
	a.mu.Lock()
	defer a.mu.Unlock()
	name := src.Name()
	a.sources[name] = src
	rec := newSourceRecord(name)
	rec.twapWindow = a.twapWin
	a.records[name] = rec
	a.limiters[name] = rate.NewLimiter(rate.Limit(1), 1)
}

// SetTWAPWindow overrides the default 24h TWAP window.
func (a *Aggregator) SetTWAPWindow(window time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.twapWin = window
	for _, rec := range a.records {
		rec.twapWindow = window
	}
}

// RatesSnapshot returns a copy of the currently accepted rate table.
func (a *Aggregator) RatesSnapshot() *currency.Table {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.rates.Clone()
}

// History returns the retained consensus snapshots, oldest first.
func (a *Aggregator) History() []Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]Snapshot, len(a.history))
	copy(out, a.history)
	return out
}

// Refresh fetches every configured source once, with a per-source timeout,
// and feeds each success into that source's TWAP window. It returns the
// per-currency set of successful raw observations gathered this round.
func (a *Aggregator) Refresh(ctx context.Context) map[currency.Code][]float64 {
	a.mu.RLock()
	sources := make([]Source, 0, len(a.sources))
	for _, s := range a.sources {
		sources = append(sources, s)
	}
	a.mu.RUnlock()

	observations := map[currency.Code][]float64{}
	now := time.Now().UTC()

	for _, src := range sources {
		name := src.Name()
		a.mu.Lock()
		limiter := a.limiters[name]
		a.mu.Unlock()
		if limiter != nil {
			_ = limiter.Wait(ctx)
		}

		fetchCtx, cancel := context.WithTimeout(ctx, sourceFetchTimeout)
		prices, err := src.Fetch(fetchCtx)
		cancel()

		a.mu.Lock()
		rec := a.records[name]
		if rec == nil {
			rec = newSourceRecord(name)
			a.records[name] = rec
		}
		if err != nil {
			rec.recordFailure(err.Error())
			a.mu.Unlock()
			continue
		}
		for c, price := range prices {
			if price <= 0 {
				continue
			}
			rec.recordSuccess(c, price, now)
			observations[c] = append(observations[c], price)
		}
		a.mu.Unlock()
	}
	return observations
}

// GetConsensusPrices runs Refresh, aggregates per currency by median across
// successful sources, enforces the circuit breaker and oracle_threshold, and
// on acceptance derives cross rates and commits a new snapshot.
func (a *Aggregator) GetConsensusPrices(ctx context.Context) (*currency.Table, error) {
	observations := a.Refresh(ctx)
	if len(observations) == 0 {
		return nil, &ErrInsufficientConsensus{Got: 0, Required: a.cfg.OracleThreshold}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	now := time.Now().UTC()
	next := a.rates.Clone()
	anyAccepted := false
	var firstErr error

	for c, prices := range observations {
		if len(prices) < a.cfg.OracleThreshold {
			if firstErr == nil {
				firstErr = &ErrInsufficientConsensus{Got: len(prices), Required: a.cfg.OracleThreshold}
			}
			continue
		}
		candidate := medianOf(prices)
		accept, _ := a.breaker.evaluate(a.cfg, c, candidate, len(prices), now)
		if !accept {
			continue
		}
		if err := next.SetBTCPrice(c, candidate); err != nil {
			continue
		}
		a.breaker.commit(c, candidate, now)
		anyAccepted = true
	}

	if !anyAccepted {
		if firstErr != nil {
			return a.rates.Clone(), firstErr
		}
		return a.rates.Clone(), errors.New("oracle: no currency passed the circuit breaker this round")
	}

	if err := deriveCrossRates(next); err != nil {
		return a.rates.Clone(), err
	}
	next.Timestamp = now
	a.rates = next
	a.appendHistory(Snapshot{Rates: next.Clone(), Timestamp: now})

	if firstErr != nil {
		return a.rates.Clone(), firstErr
	}
	return a.rates.Clone(), nil
}

// deriveCrossRates computes to_usd[c] = btc_price[USD] / btc_price[c] for
// every currency present in btc_price other than USD, per §4.1.
func deriveCrossRates(t *currency.Table) error {
	usdPrice, ok := t.BTCPrice[currency.USD]
	if !ok {
		return errors.New("oracle: cannot derive cross rates without a USD price")
	}
	for c, price := range t.BTCPrice {
		if c == currency.USD || price <= 0 {
			continue
		}
		if err := t.SetToUSD(c, usdPrice/price); err != nil {
			return err
		}
	}
	return nil
}

func (a *Aggregator) appendHistory(s Snapshot) {
	a.history = append(a.history, s)
	if len(a.history) > historyCapacity {
		a.history = a.history[len(a.history)-historyCapacity:]
	}
}

// TWAP returns the time-weighted average and median price for currency c
// over window, aggregated across every registered source's rolling window.
func (a *Aggregator) TWAP(c currency.Code, window time.Duration) (avg, median float64, sampleCount int, err error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	now := time.Now().UTC()
	var avgs, medians []float64
	total := 0
	for _, rec := range a.records {
		av, md, n, ok := rec.twap(c, window, now)
		if !ok {
			continue
		}
		avgs = append(avgs, av)
		medians = append(medians, md)
		total += n
	}
	if len(avgs) == 0 {
		return 0, 0, 0, fmt.Errorf("oracle: no TWAP samples for %s", c)
	}
	return medianOf(avgs), medianOf(medians), total, nil
}

// SourceQualityScore exposes a source's composite quality score for
// observability (§C.1): not consulted by the breaker's admission rule,
// which stays purely count-based per §4.1.
func (a *Aggregator) SourceQualityScore(name string) (float64, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	rec, ok := a.records[name]
	if !ok {
		return 0, false
	}
	return rec.compositeScore(), true
}
