package liquidation

import (
	"testing"

	"github.com/stretchr/testify/require"

	"bitstable/currency"
	"bitstable/vault"
)

type fakeVaultView struct {
	vaults []*vault.Vault
}

func (f *fakeVaultView) Get(id vault.ID) (*vault.Vault, error) {
	for _, v := range f.vaults {
		if v.ID == id {
			return v, nil
		}
	}
	return nil, vault.ErrVaultNotFound
}

func (f *fakeVaultView) List() ([]*vault.Vault, error) {
	return f.vaults, nil
}

func registry(t *testing.T, penalty float64) *currency.Registry {
	t.Helper()
	r := currency.NewRegistry()
	cfg := currency.DefaultConfig()
	cfg.LiquidationPenalty = penalty
	// Scenario 1's drop to 75000 leaves a CR of ~1.136, which is only
	// eligible under a threshold above the 1.1 default.
	cfg.LiquidationThreshold = 1.2
	require.NoError(t, r.Set(currency.USD, cfg))
	return r
}

func rates(t *testing.T, btcUSD float64) *currency.Table {
	t.Helper()
	tbl := currency.NewTable()
	require.NoError(t, tbl.SetBTCPrice(currency.USD, btcUSD))
	return tbl
}

func TestExecuteSeizureMath(t *testing.T) {
	// Scenario 1: 0.1 BTC collateral, 6600 USD debt, price drops to 75000.
	// debt_btc = 6600/75000 = 0.088; bonus = 0.088*0.05 = 0.0044;
	// total_seized = min(0.0924, 0.1) = 0.0924; actual_bonus = 0.0044.
	d := currency.NewDebt()
	d.Set(currency.USD, 6600)
	v := &vault.Vault{CollateralSats: 10_000_000, Debts: d, State: vault.Active}

	r := registry(t, 0.05)
	rt := rates(t, 75000)

	eng := NewEngine(&fakeVaultView{vaults: []*vault.Vault{v}}, r)
	record, err := eng.Execute(v, currency.USD, []byte("liquidator"), rt)
	require.NoError(t, err)

	require.InDelta(t, 0.088, record.DebtCovered, 1e-9)
	require.InDelta(t, 0.0924, record.Seized, 1e-9)
	require.InDelta(t, 0.0044, record.Bonus, 1e-9)
	require.LessOrEqual(t, record.Seized, v.CollateralBTC())
}

func TestExecuteRejectsWhenNotEligible(t *testing.T) {
	d := currency.NewDebt()
	d.Set(currency.USD, 1000)
	v := &vault.Vault{CollateralSats: 10_000_000, Debts: d, State: vault.Active}

	r := registry(t, 0.05)
	rt := rates(t, 100000) // CR is very healthy; not liquidatable.

	eng := NewEngine(&fakeVaultView{vaults: []*vault.Vault{v}}, r)
	_, err := eng.Execute(v, currency.USD, []byte("liquidator"), rt)
	require.Error(t, err)
}

func TestScanIsIdempotent(t *testing.T) {
	d := currency.NewDebt()
	d.Set(currency.USD, 6600)
	v := &vault.Vault{CollateralSats: 10_000_000, Debts: d, State: vault.Active}

	r := registry(t, 0.05)
	rt := rates(t, 75000)

	eng := NewEngine(&fakeVaultView{vaults: []*vault.Vault{v}}, r)
	first, err := eng.ScanForLiquidations(rt)
	require.NoError(t, err)
	second, err := eng.ScanForLiquidations(rt)
	require.NoError(t, err)

	require.Len(t, first, 1)
	require.Len(t, second, 1)
	require.Equal(t, first[0].VaultID, second[0].VaultID)
}

func TestLiquidatorStatsAccumulate(t *testing.T) {
	d := currency.NewDebt()
	d.Set(currency.USD, 6600)
	v := &vault.Vault{CollateralSats: 10_000_000, Debts: d, State: vault.Active}

	r := registry(t, 0.05)
	rt := rates(t, 75000)

	eng := NewEngine(&fakeVaultView{vaults: []*vault.Vault{v}}, r)
	liquidator := []byte("liquidator")
	_, err := eng.Execute(v, currency.USD, liquidator, rt)
	require.NoError(t, err)

	stats, ok := eng.LiquidatorStatsFor(liquidator)
	require.True(t, ok)
	require.Equal(t, 1, stats.TotalSeizures)
	require.InDelta(t, 0.0044, stats.TotalBonus, 1e-9)
}

func TestEstimateProfit(t *testing.T) {
	profit, ok := EstimateProfit(0.01, 0.002)
	require.True(t, ok)
	require.InDelta(t, 0.008, profit, 1e-9)

	_, ok = EstimateProfit(0.001, 0.002)
	require.False(t, ok)
}
