package vault

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"bitstable/currency"
)

// Store is the narrow persistence shape the manager depends on, matching the
// teacher's "interface polymorphism over inheritance" convention: a
// consumer-defined interface naming only the operations it needs, satisfied
// by the storage package's bbolt-backed implementation or an in-memory test
// double interchangeably.
type Store interface {
	GetVault(id ID) (*Vault, error)
	PutVault(v *Vault) error
	ListVaults() ([]*Vault, error)
	DeleteVault(id ID) error
}

// Manager is the vault manager (C5). It is single-writer: callers are
// expected to serialize mutating calls (the facade does so at its boundary),
// matching §5's "single-writer per component" scheduling model. The internal
// mutex guards against accidental concurrent access from outside that
// boundary rather than implementing fine-grained internal locking.
type Manager struct {
	mu       sync.Mutex
	store    Store
	registry *currency.Registry
}

// NewManager constructs a vault manager backed by store and configured with
// registry's per-currency parameters.
func NewManager(store Store, registry *currency.Registry) *Manager {
	return &Manager{store: store, registry: registry}
}

func newVaultID() (ID, error) {
	var id ID
	if _, err := rand.Read(id[:]); err != nil {
		return ID{}, fmt.Errorf("vault: generating id: %w", err)
	}
	return id, nil
}

// CreateVault opens a new vault for owner, locking collateralSats of BTC
// and minting amount of currency c, subject to the currency's minimum
// collateral ratio.
func (m *Manager) CreateVault(owner []byte, collateralSats uint64, c currency.Code, amount float64, rates *currency.Table) (*Vault, error) {
	if m == nil || m.store == nil {
		return nil, ErrNilState
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	cfg, err := m.registry.MustEnabled(c)
	if err != nil {
		return nil, err
	}
	if amount < cfg.MinMintAmount {
		return nil, ErrBelowMinMint
	}

	btcPrice, err := rates.BTCPriceIn(c)
	if err != nil {
		return nil, err
	}
	collateralBTC := float64(collateralSats) / 1e8
	collateralValue := collateralBTC * btcPrice
	required := amount * cfg.MinCollateralRatio
	if collateralValue < required {
		return nil, &InsufficientCollateral{Required: required, Provided: collateralValue}
	}

	id, err := newVaultID()
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	v := &Vault{
		ID:             id,
		Owner:          append([]byte(nil), owner...),
		CollateralSats: collateralSats,
		Debts:          currency.NewDebt(),
		CreatedAt:      now,
		LastFeeUpdate:  now,
		State:          Active,
	}
	v.Debts.Set(c, amount)
	if err := m.store.PutVault(v); err != nil {
		return nil, err
	}
	return v.Clone(), nil
}

// Get returns a copy of the vault identified by id.
func (m *Manager) Get(id ID) (*Vault, error) {
	if m == nil || m.store == nil {
		return nil, ErrNilState
	}
	v, err := m.store.GetVault(id)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, ErrVaultNotFound
	}
	return v.Clone(), nil
}

// List returns a copy of every vault.
func (m *Manager) List() ([]*Vault, error) {
	if m == nil || m.store == nil {
		return nil, ErrNilState
	}
	vs, err := m.store.ListVaults()
	if err != nil {
		return nil, err
	}
	out := make([]*Vault, len(vs))
	for i, v := range vs {
		out[i] = v.Clone()
	}
	return out, nil
}

// MintAdditional simulates adding debt in currency c to vault id and rejects
// the change if the resulting per-currency CR would drop below the
// currency's minimum collateral ratio.
func (m *Manager) MintAdditional(id ID, c currency.Code, amount float64, rates *currency.Table) (*Vault, error) {
	if m == nil || m.store == nil {
		return nil, ErrNilState
	}
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	v, err := m.store.GetVault(id)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, ErrVaultNotFound
	}
	if v.State != Active {
		return nil, ErrNotActive
	}
	cfg, err := m.registry.MustEnabled(c)
	if err != nil {
		return nil, err
	}

	trial := v.Clone()
	trial.Debts.Add(c, amount)
	ratio, err := trial.CollateralRatio(c, rates)
	if err != nil {
		return nil, err
	}
	if ratio < cfg.MinCollateralRatio {
		collUSD, _ := trial.CollateralValueUSD(rates)
		required := trial.Debts.Get(c) * cfg.MinCollateralRatio
		return nil, &InsufficientCollateral{Required: required, Provided: collUSD}
	}

	v.Debts.Add(c, amount)
	if err := m.store.PutVault(v); err != nil {
		return nil, err
	}
	return v.Clone(), nil
}

// BurnStable reduces vault id's debt in currency c by amount, never below
// zero, dropping the currency key once it reaches zero.
func (m *Manager) BurnStable(id ID, c currency.Code, amount float64) (*Vault, error) {
	if m == nil || m.store == nil {
		return nil, ErrNilState
	}
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	v, err := m.store.GetVault(id)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, ErrVaultNotFound
	}
	if v.State != Active {
		return nil, ErrNotActive
	}
	v.Debts.Add(c, -amount)
	if err := m.store.PutVault(v); err != nil {
		return nil, err
	}
	return v.Clone(), nil
}

// ProcessRedemption is invoked by the redemption engine (C8): it reduces
// vault id's debt in currency c and its collateral by amount/btc_price(c)
// atomically.
func (m *Manager) ProcessRedemption(id ID, c currency.Code, amount float64, rates *currency.Table) (*Vault, error) {
	if m == nil || m.store == nil {
		return nil, ErrNilState
	}
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	v, err := m.store.GetVault(id)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, ErrVaultNotFound
	}
	if v.State != Active {
		return nil, ErrNotActive
	}
	btcPrice, err := rates.BTCPriceIn(c)
	if err != nil {
		return nil, err
	}
	btcOut := amount / btcPrice
	satsOut := uint64(btcOut * 1e8)
	if satsOut > v.CollateralSats {
		satsOut = v.CollateralSats
	}

	v.Debts.Add(c, -amount)
	v.CollateralSats -= satsOut
	if err := m.store.PutVault(v); err != nil {
		return nil, err
	}
	return v.Clone(), nil
}

// UpdateAllStabilityFees sweeps every Active vault and, for each currency
// with outstanding debt, accrues debt · apr · Δyears since LastFeeUpdate. The
// registry snapshot is taken once at the start of the sweep so concurrent
// configuration changes do not affect an in-flight sweep.
func (m *Manager) UpdateAllStabilityFees(now time.Time) error {
	if m == nil || m.store == nil {
		return ErrNilState
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	configs := m.registry.Snapshot()
	vaults, err := m.store.ListVaults()
	if err != nil {
		return err
	}
	for _, v := range vaults {
		if v.State != Active {
			continue
		}
		elapsedYears := now.Sub(v.LastFeeUpdate).Hours() / (24 * 365)
		if elapsedYears <= 0 {
			continue
		}
		for _, c := range v.Debts.Currencies() {
			cfg, ok := configs[c]
			if !ok {
				continue
			}
			debt := v.Debts.Get(c)
			v.Debts.Add(c, debt*cfg.StabilityFeeAPR*elapsedYears)
		}
		v.LastFeeUpdate = now
		if err := m.store.PutVault(v); err != nil {
			return err
		}
	}
	return nil
}

// LiquidateVault transitions vault id from Active to Liquidated via
// Liquidating, requiring current eligibility under rates.
func (m *Manager) LiquidateVault(id ID, liquidator []byte, rates *currency.Table) (*Vault, error) {
	if m == nil || m.store == nil {
		return nil, ErrNilState
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	v, err := m.store.GetVault(id)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, ErrVaultNotFound
	}
	liquidatable, err := v.IsLiquidatable(rates, m.registry)
	if err != nil {
		return nil, err
	}
	if !liquidatable {
		ratio, _ := v.AggregateCollateralRatio(rates)
		return nil, &LiquidationNotPossible{Ratio: ratio}
	}
	v.State = Liquidating
	if err := m.store.PutVault(v); err != nil {
		return nil, err
	}
	v.State = Liquidated
	if err := m.store.PutVault(v); err != nil {
		return nil, err
	}
	return v.Clone(), nil
}

// CloseVault requires the caller to be the owner of an Active vault with no
// outstanding debt; it zeroes the collateral, transitions to Closed, and
// returns the previous collateral amount in satoshis.
func (m *Manager) CloseVault(id ID, owner []byte) (uint64, error) {
	if m == nil || m.store == nil {
		return 0, ErrNilState
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	v, err := m.store.GetVault(id)
	if err != nil {
		return 0, err
	}
	if v == nil {
		return 0, ErrVaultNotFound
	}
	if v.State != Active {
		return 0, &InvalidConfig{Msg: "Vault is not active"}
	}
	if !bytesEqual(v.Owner, owner) {
		return 0, ErrNotOwner
	}
	if !v.Debts.Empty() {
		return 0, ErrDebtsNotEmpty
	}
	prev := v.CollateralSats
	v.CollateralSats = 0
	v.State = Closed
	if err := m.store.PutVault(v); err != nil {
		return 0, err
	}
	return prev, nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
