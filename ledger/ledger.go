// Package ledger implements the stable-value ledger (C6): per-holder,
// per-currency balances tracked as an ordered sequence of FIFO lots, each
// attributed to the vault that backs it.
package ledger

import (
	"errors"
	"sync"
	"time"

	"bitstable/currency"
	"bitstable/vault"
)

// ErrInsufficientFunds is returned when a burn or transfer would draw down
// more than the holder's balance in that currency.
var ErrInsufficientFunds = errors.New("ledger: insufficient funds")

// Lot is one FIFO-ordered minting record.
type Lot struct {
	Amount        float64
	BackingVault  vault.ID
	MintedAt      time.Time
}

// StableTransfer records one transfer for audit purposes.
type StableTransfer struct {
	From, To   string
	Currency   currency.Code
	Amount     float64
	VaultIDs   []vault.ID
	Timestamp  time.Time
}

// Ledger is the stable-value ledger (C6). It owns every holder's lots
// exclusively; callers reference a holder by an opaque string key (typically
// a hex-encoded pubkey hash).
type Ledger struct {
	mu        sync.Mutex
	positions map[string]map[currency.Code][]Lot
	supply    map[currency.Code]float64
	transfers []StableTransfer
}

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{
		positions: map[string]map[currency.Code][]Lot{},
		supply:    map[currency.Code]float64{},
	}
}

func (l *Ledger) lotsFor(holder string, c currency.Code) []Lot {
	byCurrency, ok := l.positions[holder]
	if !ok {
		return nil
	}
	return byCurrency[c]
}

func (l *Ledger) setLots(holder string, c currency.Code, lots []Lot) {
	byCurrency, ok := l.positions[holder]
	if !ok {
		byCurrency = map[currency.Code][]Lot{}
		l.positions[holder] = byCurrency
	}
	if len(lots) == 0 {
		delete(byCurrency, c)
		return
	}
	byCurrency[c] = lots
}

// Balance returns holder's total balance in currency c: the sum of lot
// amounts.
func (l *Ledger) Balance(holder string, c currency.Code) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	var total float64
	for _, lot := range l.lotsFor(holder, c) {
		total += lot.Amount
	}
	return total
}

// Supply returns the global outstanding supply for currency c.
func (l *Ledger) Supply(c currency.Code) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.supply[c]
}

// Mint appends a new lot of amount backed by vaultID to holder's sequence
// for currency c and increments global supply.
func (l *Ledger) Mint(holder string, c currency.Code, amount float64, vaultID vault.ID, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.mintLocked(holder, c, amount, vaultID, now)
}

func (l *Ledger) mintLocked(holder string, c currency.Code, amount float64, vaultID vault.ID, now time.Time) {
	if amount <= 0 {
		return
	}
	lots := append(l.lotsFor(holder, c), Lot{Amount: amount, BackingVault: vaultID, MintedAt: now})
	l.setLots(holder, c, lots)
	l.supply[c] += amount
}

// burnPlan describes how a FIFO burn would consume a holder's lots, without
// mutating state, so the caller can verify sufficiency before committing
// (the spec's "atomic across the lot sequence" requirement).
type burnPlan struct {
	remainingLots []Lot
	consumed      []consumedLot
}

type consumedLot struct {
	vaultID vault.ID
	amount  float64
}

func planBurn(lots []Lot, amount float64) (*burnPlan, error) {
	var total float64
	for _, lot := range lots {
		total += lot.Amount
	}
	if total < amount {
		return nil, ErrInsufficientFunds
	}

	plan := &burnPlan{}
	remaining := amount
	idx := 0
	for idx < len(lots) && remaining > 0 {
		lot := lots[idx]
		if lot.Amount <= remaining {
			plan.consumed = append(plan.consumed, consumedLot{vaultID: lot.BackingVault, amount: lot.Amount})
			remaining -= lot.Amount
			idx++
			continue
		}
		plan.consumed = append(plan.consumed, consumedLot{vaultID: lot.BackingVault, amount: remaining})
		lots[idx].Amount -= remaining
		remaining = 0
	}
	plan.remainingLots = append([]Lot(nil), lots[idx:]...)
	return plan, nil
}

// Burn consumes amount from holder's currency c balance oldest-lot-first and
// returns the list of distinct vault ids touched, in FIFO order, per §4.4.
func (l *Ledger) Burn(holder string, c currency.Code, amount float64) ([]vault.ID, error) {
	if amount <= 0 {
		return nil, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.burnLocked(holder, c, amount)
}

func (l *Ledger) burnLocked(holder string, c currency.Code, amount float64) ([]vault.ID, error) {
	lots := append([]Lot(nil), l.lotsFor(holder, c)...)
	plan, err := planBurn(lots, amount)
	if err != nil {
		return nil, err
	}
	l.setLots(holder, c, plan.remainingLots)
	l.supply[c] -= amount

	touched := make([]vault.ID, 0, len(plan.consumed))
	seen := map[vault.ID]bool{}
	for _, cl := range plan.consumed {
		if !seen[cl.vaultID] {
			seen[cl.vaultID] = true
			touched = append(touched, cl.vaultID)
		}
	}
	return touched, nil
}

// Transfer burns amount from "from"'s currency c balance (FIFO) and mints
// equivalent lots onto "to", split evenly across the distinct vault ids the
// burn touched — not proportional to each lot's consumed amount, matching
// the original implementation's transfer_stable semantics.
func (l *Ledger) Transfer(from, to string, c currency.Code, amount float64, now time.Time) (*StableTransfer, error) {
	if amount <= 0 {
		return nil, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	touched, err := l.burnLocked(from, c, amount)
	if err != nil {
		return nil, err
	}

	share := amount / float64(len(touched))
	for _, vid := range touched {
		l.mintLocked(to, c, share, vid, now)
	}

	record := StableTransfer{
		From:      from,
		To:        to,
		Currency:  c,
		Amount:    amount,
		VaultIDs:  touched,
		Timestamp: now,
	}
	l.transfers = append(l.transfers, record)
	return &record, nil
}

// Transfers returns the recorded transfer history.
func (l *Ledger) Transfers() []StableTransfer {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]StableTransfer, len(l.transfers))
	copy(out, l.transfers)
	return out
}

// CollateralBacking computes, for holder and currency c, the sum over every
// lot of amount · position_ratio · vault.collateral_usd, where
// position_ratio = lot.amount / vault.debt(currency), per §4.4. vaultLookup
// resolves a vault id to its current state.
func (l *Ledger) CollateralBacking(holder string, c currency.Code, rates *currency.Table, vaultLookup func(vault.ID) (*vault.Vault, error)) (float64, error) {
	l.mu.Lock()
	lots := append([]Lot(nil), l.lotsFor(holder, c)...)
	l.mu.Unlock()

	var total float64
	for _, lot := range lots {
		v, err := vaultLookup(lot.BackingVault)
		if err != nil {
			return 0, err
		}
		debt := v.Debts.Get(c)
		if debt == 0 {
			continue
		}
		collUSD, err := v.CollateralValueUSD(rates)
		if err != nil {
			return 0, err
		}
		positionRatio := lot.Amount / debt
		total += positionRatio * collUSD
	}
	return total, nil
}
