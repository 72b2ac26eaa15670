// Package stabilitypool implements the stability pool (C9): a pre-committed
// absorber that covers a share of liquidated debt in exchange for
// discounted collateral, distributed pro-rata across depositors.
package stabilitypool

import (
	"errors"
	"sync"
	"time"

	"bitstable/currency"
)

// ErrBelowMinDeposit is returned when a deposit is smaller than the pool's
// configured minimum.
var ErrBelowMinDeposit = errors.New("stabilitypool: amount below minimum deposit")

// ErrNoDeposit is returned when a depositor has no entry in the pool.
var ErrNoDeposit = errors.New("stabilitypool: no deposit found for depositor")

// ErrInsufficientBalance is returned when a withdrawal exceeds the
// depositor's balance in that currency.
var ErrInsufficientBalance = errors.New("stabilitypool: insufficient balance")

// Config holds the pool's tunables, defaulted per §4.7 / original_source.
type Config struct {
	MinDepositAmount       float64
	WithdrawalDelay        time.Duration
	MaximumPoolUtilization float64
	EarlyWithdrawalPenalty float64
}

// DefaultConfig returns the spec's defaults.
func DefaultConfig() Config {
	return Config{
		MinDepositAmount:       100,
		WithdrawalDelay:        24 * time.Hour,
		MaximumPoolUtilization: 0.5,
		EarlyWithdrawalPenalty: 0.01,
	}
}

// Deposit is one depositor's position across every currency they've
// committed, per §3's "Stability deposit".
type Deposit struct {
	DepositedByCurrency map[currency.Code]float64
	RewardsEarned       map[currency.Code]float64
	DepositTimestamp    time.Time
	LastClaim           time.Time
	TotalLiquidationGains float64
	LiquidationCount    int
	ClaimHistory        []ClaimRecord
}

// ClaimRecord is the supplemented audit trail described in SPEC_FULL.md §C.3.
type ClaimRecord struct {
	Currency  currency.Code
	Amount    float64
	Timestamp time.Time
}

func newDeposit(now time.Time) *Deposit {
	return &Deposit{
		DepositedByCurrency: map[currency.Code]float64{},
		RewardsEarned:       map[currency.Code]float64{},
		DepositTimestamp:    now,
		LastClaim:           now,
	}
}

// Participant records one depositor's share of a liquidation absorption.
type Participant struct {
	Depositor       string
	DebtAbsorbed    map[currency.Code]float64
	CollateralBTC   float64
	SharePercentage float64
}

// Liquidation records one absorbed liquidation event.
type Liquidation struct {
	VaultKey            string
	LiquidatedDebt       map[currency.Code]float64
	CollateralDistributed float64
	Participants         []Participant
	Timestamp            time.Time
}

// Pool is the stability pool (C9).
type Pool struct {
	mu         sync.Mutex
	cfg        Config
	deposits   map[string]*Deposit
	total      map[currency.Code]float64
	history    []Liquidation
}

// New constructs an empty pool.
func New(cfg Config) *Pool {
	return &Pool{
		cfg:      cfg,
		deposits: map[string]*Deposit{},
		total:    map[currency.Code]float64{},
	}
}

// Deposit adds amount of currency c to depositor's position, rejecting
// deposits below the configured minimum.
func (p *Pool) Deposit(depositor string, c currency.Code, amount float64, now time.Time) error {
	if amount < p.cfg.MinDepositAmount {
		return ErrBelowMinDeposit
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	d, ok := p.deposits[depositor]
	if !ok {
		d = newDeposit(now)
		p.deposits[depositor] = d
	}
	d.DepositedByCurrency[c] += amount
	p.total[c] += amount
	return nil
}

// WithdrawResult reports the gross/net amounts and any early-withdrawal
// penalty applied.
type WithdrawResult struct {
	Gross   float64
	Penalty float64
	Net     float64
}

// Withdraw removes amount of currency c from depositor's position. If the
// withdrawal occurs within the configured delay window of the deposit
// timestamp, the early withdrawal penalty is applied to the gross amount.
func (p *Pool) Withdraw(depositor string, c currency.Code, amount float64, now time.Time) (*WithdrawResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	d, ok := p.deposits[depositor]
	if !ok {
		return nil, ErrNoDeposit
	}
	available := d.DepositedByCurrency[c]
	if amount > available {
		return nil, ErrInsufficientBalance
	}

	var penalty float64
	if now.Sub(d.DepositTimestamp) < p.cfg.WithdrawalDelay {
		penalty = amount * p.cfg.EarlyWithdrawalPenalty
	}
	net := amount - penalty

	d.DepositedByCurrency[c] -= amount
	if d.DepositedByCurrency[c] <= 0 {
		delete(d.DepositedByCurrency, c)
	}
	p.total[c] -= amount

	return &WithdrawResult{Gross: amount, Penalty: penalty, Net: net}, nil
}

// AbsorbLiquidation distributes a share of liquidatedDebt across
// depositors, pro-rata to each depositor's balance in that currency versus
// the pool's total for that currency (capped by maximum_pool_utilization),
// and credits collateral in proportion to each depositor's aggregate share
// summed ACROSS currencies. That cross-currency sum is preserved
// deliberately even though it can exceed 1.0 for a depositor touched by a
// multi-currency liquidation — see DESIGN.md's Open Question record; this
// matches original_source/src/stability_pool.rs's process_liquidation
// exactly and is not a defect to silently fix.
func (p *Pool) AbsorbLiquidation(vaultKey string, liquidatedDebt map[currency.Code]float64, collateralBTC float64, now time.Time) (*Liquidation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	poolShares := map[currency.Code]float64{}
	absorbed := map[currency.Code]float64{}
	for c, debt := range liquidatedDebt {
		poolSize := p.total[c]
		maxAbsorb := poolSize * p.cfg.MaximumPoolUtilization
		toAbsorb := debt
		if toAbsorb > maxAbsorb {
			toAbsorb = maxAbsorb
		}
		if toAbsorb > 0 {
			poolShares[c] = poolSize
			absorbed[c] = toAbsorb
		}
	}

	var participants []Participant
	for depositorKey, d := range p.deposits {
		totalShare := 0.0
		debtAbsorbed := map[currency.Code]float64{}

		for c, debtAmount := range absorbed {
			totalPool, ok := poolShares[c]
			if !ok || totalPool <= 0 {
				continue
			}
			balance, ok := d.DepositedByCurrency[c]
			if !ok || balance <= 0 {
				continue
			}
			share := balance / totalPool
			thisAbsorbed := debtAmount * share
			if thisAbsorbed <= 0 {
				continue
			}
			debtAbsorbed[c] = thisAbsorbed
			totalShare += share
			d.DepositedByCurrency[c] -= thisAbsorbed
			p.total[c] -= thisAbsorbed
		}

		if totalShare <= 0 {
			continue
		}
		collateralShare := collateralBTC * totalShare
		d.TotalLiquidationGains += collateralShare
		d.LiquidationCount++
		d.RewardsEarned[currency.USD] += collateralShare

		participants = append(participants, Participant{
			Depositor:       depositorKey,
			DebtAbsorbed:    debtAbsorbed,
			CollateralBTC:   collateralShare,
			SharePercentage: totalShare,
		})
	}

	record := &Liquidation{
		VaultKey:              vaultKey,
		LiquidatedDebt:         liquidatedDebt,
		CollateralDistributed:  collateralBTC,
		Participants:           participants,
		Timestamp:              now,
	}
	p.history = append(p.history, *record)
	return record, nil
}

// Claim transfers depositor's accumulated rewards in currency c out and
// zeroes the counter, recording a ClaimRecord for audit per §C.3.
func (p *Pool) Claim(depositor string, c currency.Code, now time.Time) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	d, ok := p.deposits[depositor]
	if !ok {
		return 0, ErrNoDeposit
	}
	amount := d.RewardsEarned[c]
	if amount == 0 {
		return 0, nil
	}
	delete(d.RewardsEarned, c)
	d.LastClaim = now
	d.ClaimHistory = append(d.ClaimHistory, ClaimRecord{Currency: c, Amount: amount, Timestamp: now})
	return amount, nil
}

// TotalDeposited returns the pool-wide total for currency c.
func (p *Pool) TotalDeposited(c currency.Code) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.total[c]
}

// DepositBalance returns depositor's balance in currency c.
func (p *Pool) DepositBalance(depositor string, c currency.Code) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	d, ok := p.deposits[depositor]
	if !ok {
		return 0
	}
	return d.DepositedByCurrency[c]
}

// History returns the recorded liquidation-absorption history.
func (p *Pool) History() []Liquidation {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Liquidation, len(p.history))
	copy(out, p.history)
	return out
}
