package vault

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"bitstable/currency"
)

type memStore struct {
	vaults map[ID]*Vault
}

func newMemStore() *memStore {
	return &memStore{vaults: map[ID]*Vault{}}
}

func (s *memStore) GetVault(id ID) (*Vault, error) {
	v, ok := s.vaults[id]
	if !ok {
		return nil, nil
	}
	return v, nil
}

func (s *memStore) PutVault(v *Vault) error {
	s.vaults[v.ID] = v.Clone()
	return nil
}

func (s *memStore) ListVaults() ([]*Vault, error) {
	out := make([]*Vault, 0, len(s.vaults))
	for _, v := range s.vaults {
		out = append(out, v)
	}
	return out, nil
}

func (s *memStore) DeleteVault(id ID) error {
	delete(s.vaults, id)
	return nil
}

func testRegistry(t *testing.T) *currency.Registry {
	t.Helper()
	r := currency.NewRegistry()
	cfg := currency.DefaultConfig()
	cfg.MinMintAmount = 1
	// Scenario 1's drop to 75000 leaves a CR of ~1.136, which is only
	// eligible under a threshold above the 1.1 default.
	cfg.LiquidationThreshold = 1.2
	require.NoError(t, r.Set(currency.USD, cfg))
	return r
}

func testRates(t *testing.T, btcUSD float64) *currency.Table {
	t.Helper()
	tbl := currency.NewTable()
	require.NoError(t, tbl.SetBTCPrice(currency.USD, btcUSD))
	return tbl
}

func TestCreateVaultRejectsInsufficientCollateral(t *testing.T) {
	m := NewManager(newMemStore(), testRegistry(t))
	rates := testRates(t, 100000)

	_, err := m.CreateVault([]byte("owner"), 1000, currency.USD, 10000, rates)
	require.Error(t, err)
	var ic *InsufficientCollateral
	require.ErrorAs(t, err, &ic)
}

func TestCreateVaultAndLiquidateOnPriceDrop(t *testing.T) {
	// Scenario 1: BTC/USD=100000, 0.1 BTC collateral, debt 6600 USD -> CR 151.5%.
	m := NewManager(newMemStore(), testRegistry(t))
	rates := testRates(t, 100000)

	v, err := m.CreateVault([]byte("owner"), 10_000_000, currency.USD, 6600, rates)
	require.NoError(t, err)
	require.Equal(t, Active, v.State)

	ratio, err := v.CollateralRatio(currency.USD, rates)
	require.NoError(t, err)
	require.InDelta(t, 1.5151, ratio, 1e-3)

	dropped := testRates(t, 75000)
	liquidatable, err := v.IsLiquidatable(dropped, m.registry)
	require.NoError(t, err)
	require.True(t, liquidatable)

	out, err := m.LiquidateVault(v.ID, []byte("liquidator"), dropped)
	require.NoError(t, err)
	require.Equal(t, Liquidated, out.State)
}

func TestMintAdditionalRejectsBelowMCR(t *testing.T) {
	m := NewManager(newMemStore(), testRegistry(t))
	rates := testRates(t, 100000)

	v, err := m.CreateVault([]byte("owner"), 10_000_000, currency.USD, 6600, rates)
	require.NoError(t, err)

	_, err = m.MintAdditional(v.ID, currency.USD, 3400, rates)
	require.Error(t, err)
}

func TestBurnStableDropsEmptyCurrency(t *testing.T) {
	m := NewManager(newMemStore(), testRegistry(t))
	rates := testRates(t, 100000)

	v, err := m.CreateVault([]byte("owner"), 10_000_000, currency.USD, 6600, rates)
	require.NoError(t, err)

	out, err := m.BurnStable(v.ID, currency.USD, 6600)
	require.NoError(t, err)
	require.True(t, out.Debts.Empty())
}

func TestCloseVaultRequiresEmptyDebtsAndOwner(t *testing.T) {
	m := NewManager(newMemStore(), testRegistry(t))
	rates := testRates(t, 100000)

	v, err := m.CreateVault([]byte("owner"), 10_000_000, currency.USD, 6600, rates)
	require.NoError(t, err)

	_, err = m.CloseVault(v.ID, []byte("owner"))
	require.ErrorIs(t, err, ErrDebtsNotEmpty)

	_, err = m.BurnStable(v.ID, currency.USD, 6600)
	require.NoError(t, err)

	_, err = m.CloseVault(v.ID, []byte("someone-else"))
	require.ErrorIs(t, err, ErrNotOwner)

	prevSats, err := m.CloseVault(v.ID, []byte("owner"))
	require.NoError(t, err)
	require.Equal(t, uint64(10_000_000), prevSats)

	closed, err := m.Get(v.ID)
	require.NoError(t, err)
	require.Equal(t, Closed, closed.State)
	require.Equal(t, uint64(0), closed.CollateralSats)

	// scenario 6: second close_vault is rejected with InvalidConfig.
	_, err = m.CloseVault(v.ID, []byte("owner"))
	var invalidConfig *InvalidConfig
	require.ErrorAs(t, err, &invalidConfig)
	require.Equal(t, "Vault is not active", invalidConfig.Msg)
}

func TestUpdateAllStabilityFeesAccrues(t *testing.T) {
	r := currency.NewRegistry()
	cfg := currency.DefaultConfig()
	cfg.MinMintAmount = 1
	cfg.StabilityFeeAPR = 0.1
	require.NoError(t, r.Set(currency.USD, cfg))

	m := NewManager(newMemStore(), r)
	rates := testRates(t, 100000)

	v, err := m.CreateVault([]byte("owner"), 10_000_000, currency.USD, 6600, rates)
	require.NoError(t, err)

	future := v.LastFeeUpdate.Add(365 * 24 * time.Hour)
	require.NoError(t, m.UpdateAllStabilityFees(future))

	updated, err := m.Get(v.ID)
	require.NoError(t, err)
	require.InDelta(t, 6600*1.1, updated.Debts.Get(currency.USD), 1e-6)
}
