// Package liquidation implements the liquidation engine (C7): a priority
// queue of eligible vaults, re-verified eligibility at execute-time, seizure
// math, and per-liquidator statistics.
package liquidation

import (
	"container/heap"
	"sync"
	"time"

	"bitstable/currency"
	"bitstable/vault"
)

// Opportunity is one scan result: a vault eligible for liquidation and its
// potential bonus at scan time.
type Opportunity struct {
	VaultID        vault.ID
	PotentialBonus float64
	DiscoveredAt   time.Time
}

// Record is a completed liquidation, appended to history, per §4.5.
type Record struct {
	VaultID            vault.ID
	Liquidator         []byte
	Seized             float64
	DebtCovered        float64
	Bonus              float64
	RatioAtLiquidation float64
	Timestamp          time.Time
}

// LiquidatorStats accumulates per-liquidator totals, the supplemented
// feature described in SPEC_FULL.md §C.2.
type LiquidatorStats struct {
	TotalSeizures int
	TotalBonus    float64
	LastAt        time.Time
}

// VaultView is the narrow read shape the engine needs from the vault
// manager, matching §9's "interface polymorphism over inheritance" note.
type VaultView interface {
	Get(id vault.ID) (*vault.Vault, error)
	List() ([]*vault.Vault, error)
}

// opportunityHeap is a max-heap ordered by PotentialBonus, breaking ties by
// earliest discovery time, per §4.5.
type opportunityHeap []Opportunity

func (h opportunityHeap) Len() int { return len(h) }
func (h opportunityHeap) Less(i, j int) bool {
	if h[i].PotentialBonus != h[j].PotentialBonus {
		return h[i].PotentialBonus > h[j].PotentialBonus
	}
	return h[i].DiscoveredAt.Before(h[j].DiscoveredAt)
}
func (h opportunityHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *opportunityHeap) Push(x any)   { *h = append(*h, x.(Opportunity)) }
func (h *opportunityHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Engine is the liquidation engine (C7).
type Engine struct {
	mu        sync.Mutex
	vaults    VaultView
	registry  *currency.Registry
	queue     opportunityHeap
	history   []Record
	stats     map[string]*LiquidatorStats
}

// NewEngine constructs a liquidation engine reading vault state through v.
func NewEngine(v VaultView, registry *currency.Registry) *Engine {
	return &Engine{
		vaults:   v,
		registry: registry,
		stats:    map[string]*LiquidatorStats{},
	}
}

// ScanForLiquidations rebuilds the queue from current eligibility across
// every vault, per §4.5. It is idempotent: two successive scans over the
// same underlying state produce the same set of opportunities.
func (e *Engine) ScanForLiquidations(rates *currency.Table) ([]Opportunity, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	vaults, err := e.vaults.List()
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	var found opportunityHeap
	for _, v := range vaults {
		eligible, err := v.IsLiquidatable(rates, e.registry)
		if err != nil {
			return nil, err
		}
		if !eligible {
			continue
		}
		bonus, err := potentialBonus(v, rates, e.registry)
		if err != nil {
			return nil, err
		}
		found = append(found, Opportunity{VaultID: v.ID, PotentialBonus: bonus, DiscoveredAt: now})
	}
	heap.Init(&found)
	e.queue = found

	out := make([]Opportunity, len(found))
	copy(out, found)
	return out, nil
}

// potentialBonus estimates the bonus across every currency the vault owes,
// used purely to rank the priority queue; execute-time seizure recomputes
// exact figures against the currency actually being liquidated.
func potentialBonus(v *vault.Vault, rates *currency.Table, registry *currency.Registry) (float64, error) {
	var total float64
	for _, c := range v.Debts.Currencies() {
		cfg, ok := registry.Get(c)
		if !ok {
			continue
		}
		btcPrice, err := rates.BTCPriceIn(c)
		if err != nil {
			return 0, err
		}
		debtUSD, err := debtInUSD(v, c, rates)
		if err != nil {
			return 0, err
		}
		debtBTC := debtUSD / btcPrice
		total += debtBTC * cfg.LiquidationPenalty
	}
	return total, nil
}

func debtInUSD(v *vault.Vault, c currency.Code, rates *currency.Table) (float64, error) {
	rate, err := rates.ToUSDRate(c)
	if err != nil {
		return 0, err
	}
	return v.Debts.Get(c) * rate, nil
}

// Execute re-verifies eligibility (race-safe) and performs the seizure
// math for currency c against btcPrice, per §4.5:
//
//	debt_btc = debt_usd / btc_price
//	bonus = debt_btc * liquidation_penalty
//	total_seized = min(debt_btc + bonus, collateral)
//	actual_bonus = total_seized - debt_btc
func (e *Engine) Execute(v *vault.Vault, c currency.Code, liquidator []byte, rates *currency.Table) (*Record, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	eligible, err := v.IsLiquidatable(rates, e.registry)
	if err != nil {
		return nil, err
	}
	if !eligible {
		ratio, _ := v.CollateralRatio(c, rates)
		return nil, &vault.LiquidationNotPossible{Ratio: ratio}
	}

	cfg, err := e.registry.MustEnabled(c)
	if err != nil {
		return nil, err
	}
	btcPrice, err := rates.BTCPriceIn(c)
	if err != nil {
		return nil, err
	}
	debtUSD, err := debtInUSD(v, c, rates)
	if err != nil {
		return nil, err
	}

	debtBTC := debtUSD / btcPrice
	bonus := debtBTC * cfg.LiquidationPenalty
	collateralBTC := v.CollateralBTC()

	totalSeized := debtBTC + bonus
	if totalSeized > collateralBTC {
		totalSeized = collateralBTC
	}
	actualBonus := totalSeized - debtBTC
	if actualBonus < 0 {
		actualBonus = 0
	}

	ratio, err := v.CollateralRatio(c, rates)
	if err != nil {
		return nil, err
	}

	record := &Record{
		VaultID:            v.ID,
		Liquidator:         append([]byte(nil), liquidator...),
		Seized:             totalSeized,
		DebtCovered:        debtBTC,
		Bonus:              actualBonus,
		RatioAtLiquidation: ratio,
		Timestamp:          time.Now().UTC(),
	}
	e.history = append(e.history, *record)
	e.removeFromQueue(v.ID)
	e.updateStats(liquidator, actualBonus, record.Timestamp)
	return record, nil
}

func (e *Engine) removeFromQueue(id vault.ID) {
	remaining := e.queue[:0]
	for _, o := range e.queue {
		if o.VaultID != id {
			remaining = append(remaining, o)
		}
	}
	heap.Init(&remaining)
	e.queue = remaining
}

func (e *Engine) updateStats(liquidator []byte, bonus float64, at time.Time) {
	key := string(liquidator)
	s, ok := e.stats[key]
	if !ok {
		s = &LiquidatorStats{}
		e.stats[key] = s
	}
	s.TotalSeizures++
	s.TotalBonus += bonus
	s.LastAt = at
}

// LiquidatorStatsFor returns the tracked statistics for liquidator, exposed
// read-only for external reputation/leaderboard consumers per §C.2.
func (e *Engine) LiquidatorStatsFor(liquidator []byte) (LiquidatorStats, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.stats[string(liquidator)]
	if !ok {
		return LiquidatorStats{}, false
	}
	return *s, true
}

// History returns the full liquidation record history.
func (e *Engine) History() []Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Record, len(e.history))
	copy(out, e.history)
	return out
}

// EstimateProfit returns bonus - gasCost, or false when non-positive, per
// §4.5's profitability estimator.
func EstimateProfit(bonusBTC, gasCostBTC float64) (float64, bool) {
	profit := bonusBTC - gasCostBTC
	if profit <= 0 {
		return 0, false
	}
	return profit, true
}

// HealthScore computes 1 - min(pending/100, 1) - min(riskValueUSD/1e6, 0.5),
// clipped to [0,1], per §4.5.
func HealthScore(pending int, riskValueUSD float64) float64 {
	score := 1 - minF(float64(pending)/100, 1) - minF(riskValueUSD/1_000_000, 0.5)
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// QueueLen reports the current queue size, mostly useful for tests and
// observability.
func (e *Engine) QueueLen() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}
