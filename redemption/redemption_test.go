package redemption

import (
	"testing"

	"github.com/stretchr/testify/require"

	"bitstable/currency"
	"bitstable/vault"
)

type fakeVaultView struct {
	vaults []*vault.Vault
}

func (f *fakeVaultView) List() ([]*vault.Vault, error) { return f.vaults, nil }

func (f *fakeVaultView) ProcessRedemption(id vault.ID, c currency.Code, amount float64, rates *currency.Table) (*vault.Vault, error) {
	for _, v := range f.vaults {
		if v.ID == id {
			v.Debts.Add(c, -amount)
			return v, nil
		}
	}
	return nil, vault.ErrVaultNotFound
}

func testRegistry(t *testing.T) *currency.Registry {
	t.Helper()
	r := currency.NewRegistry()
	require.NoError(t, r.Set(currency.USD, currency.DefaultConfig()))
	return r
}

func TestFeeCurveMatchesUtilizationScenario(t *testing.T) {
	// Scenario 4: daily_limit=1_000_000, base_fee=0.005, multiplier=1.0.
	eng := NewEngine(&fakeVaultView{}, testRegistry(t), map[currency.Code]float64{currency.USD: 1_000_000})

	require.InDelta(t, 0.005, eng.FeeAt(currency.USD), 1e-9)

	eng.dailyUsed[currency.USD] = 500_000
	require.InDelta(t, 0.00625, eng.FeeAt(currency.USD), 1e-9)

	eng.dailyUsed[currency.USD] = 1_000_000
	require.InDelta(t, 0.01, eng.FeeAt(currency.USD), 1e-9)

	eng.multiplier = 10
	require.InDelta(t, 0.02, eng.FeeAt(currency.USD), 1e-9)
}

func TestRedeemRejectsOverDailyLimit(t *testing.T) {
	d := currency.NewDebt()
	d.Set(currency.USD, 100000)
	v := &vault.Vault{ID: vault.ID{1}, CollateralSats: 10_000_000, Debts: d, State: vault.Active}

	eng := NewEngine(&fakeVaultView{vaults: []*vault.Vault{v}}, testRegistry(t), map[currency.Code]float64{currency.USD: 1000})
	rates := currency.NewTable()
	require.NoError(t, rates.SetBTCPrice(currency.USD, 100000))

	_, err := eng.Redeem([]byte("r"), currency.USD, 2000, rates)
	require.ErrorIs(t, err, ErrDailyLimitExceeded)
}

func TestRedeemSelectsLowestCRVault(t *testing.T) {
	d1 := currency.NewDebt()
	d1.Set(currency.USD, 10000)
	low := &vault.Vault{ID: vault.ID{1}, CollateralSats: 15_000_000, Debts: d1, State: vault.Active} // CR 1.5

	d2 := currency.NewDebt()
	d2.Set(currency.USD, 10000)
	high := &vault.Vault{ID: vault.ID{2}, CollateralSats: 30_000_000, Debts: d2, State: vault.Active} // CR 3.0

	eng := NewEngine(&fakeVaultView{vaults: []*vault.Vault{high, low}}, testRegistry(t), nil)
	rates := currency.NewTable()
	require.NoError(t, rates.SetBTCPrice(currency.USD, 100000))

	record, err := eng.Redeem([]byte("r"), currency.USD, 1000, rates)
	require.NoError(t, err)
	require.Equal(t, low.ID, record.VaultID)
}

func TestMultiplierAdapts(t *testing.T) {
	eng := NewEngine(&fakeVaultView{}, testRegistry(t), nil)
	for i := 0; i < 3; i++ {
		eng.history = append(eng.history, Record{Currency: currency.USD, Stable: 60000})
	}
	eng.updateMultiplier(currency.USD)
	require.InDelta(t, 1.1, eng.multiplier, 1e-9)

	eng.history = nil
	eng.updateMultiplier(currency.USD)
	require.InDelta(t, 1.1*0.99, eng.multiplier, 1e-9)
}
