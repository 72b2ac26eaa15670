package vault

import (
	"math"
	"time"

	"bitstable/currency"
)

// State is the vault lifecycle state (C5).
type State int

const (
	Active State = iota
	Liquidating
	Liquidated
	Closed
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case Liquidating:
		return "liquidating"
	case Liquidated:
		return "liquidated"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// ID is a 32-byte opaque vault identifier, treated as a Bitcoin txid shape.
type ID [32]byte

// Vault is the core C5 record pairing BTC collateral with multi-currency
// debt.
type Vault struct {
	ID             ID
	Owner          []byte // secp256k1 compressed public key, 33 bytes
	CollateralSats uint64
	Debts          *currency.Debt
	CreatedAt      time.Time
	LastFeeUpdate  time.Time
	State          State
}

// Clone returns a deep copy of the vault.
func (v *Vault) Clone() *Vault {
	if v == nil {
		return nil
	}
	out := &Vault{
		ID:             v.ID,
		CollateralSats: v.CollateralSats,
		CreatedAt:      v.CreatedAt,
		LastFeeUpdate:  v.LastFeeUpdate,
		State:          v.State,
		Owner:          append([]byte(nil), v.Owner...),
	}
	out.Debts = v.Debts.Clone()
	return out
}

// CollateralBTC returns the collateral amount in whole BTC.
func (v *Vault) CollateralBTC() float64 {
	return float64(v.CollateralSats) / 1e8
}

// CollateralValueUSD values the vault's collateral in USD using rates.
func (v *Vault) CollateralValueUSD(rates *currency.Table) (float64, error) {
	price, err := rates.BTCPriceIn(currency.USD)
	if err != nil {
		return 0, err
	}
	return v.CollateralBTC() * price, nil
}

// AggregateCollateralRatio returns Σcollateral_usd / Σdebt_usd, +Inf when the
// vault carries no debt.
func (v *Vault) AggregateCollateralRatio(rates *currency.Table) (float64, error) {
	collUSD, err := v.CollateralValueUSD(rates)
	if err != nil {
		return 0, err
	}
	debtUSD, err := v.Debts.TotalInUSD(rates)
	if err != nil {
		return 0, err
	}
	if debtUSD == 0 {
		return math.Inf(1), nil
	}
	return collUSD / debtUSD, nil
}

// CollateralRatio returns the per-currency ratio: collateral·btc_price(c) /
// debt(c). Returns +Inf if the vault owes nothing in c.
func (v *Vault) CollateralRatio(c currency.Code, rates *currency.Table) (float64, error) {
	debt := v.Debts.Get(c)
	if debt == 0 {
		return math.Inf(1), nil
	}
	price, err := rates.BTCPriceIn(c)
	if err != nil {
		return 0, err
	}
	return v.CollateralBTC() * price / debt, nil
}

// IsLiquidatable reports whether the vault is Active and any currency with
// debt has fallen below its liquidation threshold.
func (v *Vault) IsLiquidatable(rates *currency.Table, registry *currency.Registry) (bool, error) {
	if v.State != Active {
		return false, nil
	}
	for _, c := range v.Debts.Currencies() {
		cfg, ok := registry.Get(c)
		if !ok {
			continue
		}
		ratio, err := v.CollateralRatio(c, rates)
		if err != nil {
			return false, err
		}
		if ratio < cfg.LiquidationThreshold {
			return true, nil
		}
	}
	return false, nil
}

// LiquidationPrice returns, for currency c, the BTC price at which the
// vault's per-currency CR falls exactly to the liquidation threshold:
// P_liq = debt(c)_usd · liquidation_threshold / collateral_btc.
func (v *Vault) LiquidationPrice(c currency.Code, rates *currency.Table, cfg currency.Config) (float64, error) {
	debtUSD, err := debtInUSDFor(v, c, rates)
	if err != nil {
		return 0, err
	}
	collBTC := v.CollateralBTC()
	if collBTC == 0 {
		return math.Inf(1), nil
	}
	return debtUSD * cfg.LiquidationThreshold / collBTC, nil
}

func debtInUSDFor(v *Vault, c currency.Code, rates *currency.Table) (float64, error) {
	amount := v.Debts.Get(c)
	rate, err := rates.ToUSDRate(c)
	if err != nil {
		return 0, err
	}
	return amount * rate, nil
}
