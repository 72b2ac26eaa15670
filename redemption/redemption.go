// Package redemption implements the redemption engine (C8): direct
// BTC-for-stable swap against the lowest-CR vault carrying debt in the
// requested currency, with a dynamic utilization-based fee and daily
// per-currency limits.
package redemption

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"bitstable/currency"
	"bitstable/vault"
)

// ErrDailyLimitExceeded is returned when a redemption would push the
// currency's daily usage above its configured ceiling.
var ErrDailyLimitExceeded = errors.New("redemption: would exceed daily limit")

// ErrNoEligibleVault is returned when no active vault carries debt in the
// requested currency at or above the minimum collateral ratio.
var ErrNoEligibleVault = errors.New("redemption: no eligible vault for currency")

const (
	defaultBaseFee  = 0.005
	maxFee          = 0.02
	recentWindow    = 100
	recentThreshold = 100_000.0
)

// Record is one completed redemption, retained for the fee-demand feedback
// loop and for audit purposes, per §4.6.
type Record struct {
	Redeemer  []byte
	Currency  currency.Code
	Stable    float64
	BTCOut    float64
	Fee       float64
	VaultID   vault.ID
	Price     float64
	Timestamp time.Time
}

// VaultView is the narrow shape the engine needs from the vault manager.
type VaultView interface {
	List() ([]*vault.Vault, error)
	ProcessRedemption(id vault.ID, c currency.Code, amount float64, rates *currency.Table) (*vault.Vault, error)
}

// Engine is the redemption engine (C8).
type Engine struct {
	mu         sync.Mutex
	vaults     VaultView
	registry   *currency.Registry
	dailyLimit map[currency.Code]float64
	dailyUsed  map[currency.Code]float64
	lastReset  time.Time
	history    []Record
	baseFee    float64
	multiplier float64
}

// NewEngine constructs a redemption engine with the spec's default base fee
// (0.5%) and per-currency daily limits.
func NewEngine(v VaultView, registry *currency.Registry, dailyLimits map[currency.Code]float64) *Engine {
	limits := make(map[currency.Code]float64, len(dailyLimits))
	for c, l := range dailyLimits {
		limits[c] = l
	}
	return &Engine{
		vaults:     v,
		registry:   registry,
		dailyLimit: limits,
		dailyUsed:  map[currency.Code]float64{},
		lastReset:  time.Now().UTC(),
		baseFee:    defaultBaseFee,
		multiplier: 1.0,
	}
}

func (e *Engine) resetDailyLimitsIfNeeded(now time.Time) {
	if now.UTC().Format("2006-01-02") != e.lastReset.UTC().Format("2006-01-02") {
		e.dailyUsed = map[currency.Code]float64{}
		e.lastReset = now
	}
}

func (e *Engine) dailyLimitFor(c currency.Code) float64 {
	if l, ok := e.dailyLimit[c]; ok {
		return l
	}
	return 1_000_000
}

// findTarget selects the active vault with debt in currency c and CR at
// least the currency's minimum collateral ratio, sorted ascending by CR;
// the head is the target, per §4.6.
func (e *Engine) findTarget(c currency.Code, rates *currency.Table) (*vault.Vault, error) {
	cfg, err := e.registry.MustEnabled(c)
	if err != nil {
		return nil, err
	}
	vaults, err := e.vaults.List()
	if err != nil {
		return nil, err
	}

	var candidates []*vault.Vault
	ratios := map[vault.ID]float64{}
	for _, v := range vaults {
		if v.State != vault.Active || v.Debts.Get(c) <= 0 {
			continue
		}
		ratio, err := v.CollateralRatio(c, rates)
		if err != nil {
			return nil, err
		}
		if ratio < cfg.MinCollateralRatio {
			continue
		}
		candidates = append(candidates, v)
		ratios[v.ID] = ratio
	}
	if len(candidates) == 0 {
		return nil, ErrNoEligibleVault
	}
	sort.Slice(candidates, func(i, j int) bool {
		return ratios[candidates[i].ID] < ratios[candidates[j].ID]
	})
	return candidates[0], nil
}

// fee returns the dynamic fee: base_fee * (1 + utilization^2 * multiplier),
// capped at 2%, per §4.6.
func (e *Engine) fee(c currency.Code) float64 {
	utilization := e.dailyUsed[c] / e.dailyLimitFor(c)
	dynamic := e.baseFee * (1 + utilization*utilization*e.multiplier)
	if dynamic > maxFee {
		return maxFee
	}
	return dynamic
}

// updateMultiplier adapts the fee multiplier based on the last 100
// redemptions for currency c: x1.1 (capped 3.0) if their combined volume
// exceeds 100k, x0.99 (floored 1.0) otherwise.
func (e *Engine) updateMultiplier(c currency.Code) {
	start := 0
	if len(e.history) > recentWindow {
		start = len(e.history) - recentWindow
	}
	var recent float64
	for _, r := range e.history[start:] {
		if r.Currency == c {
			recent += r.Stable
		}
	}
	if recent > recentThreshold {
		e.multiplier = minF(e.multiplier*1.1, 3.0)
	} else {
		e.multiplier = maxF(e.multiplier*0.99, 1.0)
	}
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// Redeem executes a direct redemption: selects the target vault, computes
// the dynamic fee, calls ProcessRedemption on the vault manager, and
// records/updates the daily counters and fee multiplier, per §4.6.
func (e *Engine) Redeem(redeemer []byte, c currency.Code, stableAmount float64, rates *currency.Table) (*Record, error) {
	if stableAmount <= 0 {
		return nil, fmt.Errorf("redemption: amount must be positive")
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now().UTC()
	e.resetDailyLimitsIfNeeded(now)

	if e.dailyUsed[c]+stableAmount > e.dailyLimitFor(c) {
		return nil, ErrDailyLimitExceeded
	}

	feeRate := e.fee(c)
	net := stableAmount * (1 - feeRate)

	target, err := e.findTarget(c, rates)
	if err != nil {
		return nil, err
	}

	btcPrice, err := rates.BTCPriceIn(c)
	if err != nil {
		return nil, err
	}
	btcOut := net / btcPrice

	if _, err := e.vaults.ProcessRedemption(target.ID, c, net, rates); err != nil {
		return nil, err
	}

	record := Record{
		Redeemer:  append([]byte(nil), redeemer...),
		Currency:  c,
		Stable:    stableAmount,
		BTCOut:    btcOut,
		Fee:       feeRate,
		VaultID:   target.ID,
		Price:     btcPrice,
		Timestamp: now,
	}
	e.history = append(e.history, record)
	e.dailyUsed[c] += stableAmount
	e.updateMultiplier(c)
	return &record, nil
}

// FeeAt exposes the current dynamic fee for currency c, used by callers that
// want a quote before calling Redeem.
func (e *Engine) FeeAt(c currency.Code) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fee(c)
}

// History returns the recorded redemption history.
func (e *Engine) History() []Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Record, len(e.history))
	copy(out, e.history)
	return out
}
