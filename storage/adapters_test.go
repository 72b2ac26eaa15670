package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"bitstable/currency"
	"bitstable/custody"
	"bitstable/vault"
)

func TestVaultStoreRoundTripsDebts(t *testing.T) {
	store := openTestStore(t)
	vs := NewVaultStore(store)

	var id vault.ID
	id[0] = 0x42

	debts := currency.NewDebt()
	debts.Set(currency.USD, 1000)
	debts.Set(currency.EUR, 250)

	v := &vault.Vault{
		ID:             id,
		Owner:          []byte{0x01, 0x02, 0x03},
		CollateralSats: 5_000_000,
		Debts:          debts,
		CreatedAt:      time.Unix(1_700_000_000, 0).UTC(),
		State:          vault.Active,
	}

	require.NoError(t, vs.PutVault(v))

	got, err := vs.GetVault(id)
	require.NoError(t, err)
	require.Equal(t, v.CollateralSats, got.CollateralSats)
	require.Equal(t, 1000.0, got.Debts.Get(currency.USD))
	require.Equal(t, 250.0, got.Debts.Get(currency.EUR))
}

func TestVaultStoreGetMissingReturnsVaultNotFound(t *testing.T) {
	store := openTestStore(t)
	vs := NewVaultStore(store)

	var id vault.ID
	_, err := vs.GetVault(id)
	require.ErrorIs(t, err, vault.ErrVaultNotFound)
}

func TestVaultStoreListVaultsReturnsAll(t *testing.T) {
	store := openTestStore(t)
	vs := NewVaultStore(store)

	for i := byte(0); i < 3; i++ {
		var id vault.ID
		id[0] = i
		v := &vault.Vault{ID: id, Debts: currency.NewDebt()}
		require.NoError(t, vs.PutVault(v))
	}

	list, err := vs.ListVaults()
	require.NoError(t, err)
	require.Len(t, list, 3)
}

func TestVaultStoreDeleteVault(t *testing.T) {
	store := openTestStore(t)
	vs := NewVaultStore(store)

	var id vault.ID
	v := &vault.Vault{ID: id, Debts: currency.NewDebt()}
	require.NoError(t, vs.PutVault(v))
	require.NoError(t, vs.DeleteVault(id))

	_, err := vs.GetVault(id)
	require.ErrorIs(t, err, vault.ErrVaultNotFound)
}

func TestEscrowStoreRoundTrips(t *testing.T) {
	store := openTestStore(t)
	es := NewEscrowStore(store)

	var id vault.ID
	id[0] = 0x07

	e := &custody.Escrow{
		VaultID:              id,
		OwnerPubKey:          []byte{0x01},
		CollateralAmountSats: 100_000,
		MultisigAddress:      "bc1qexampleaddress",
		CreatedAt:            time.Unix(1_700_000_000, 0).UTC(),
	}
	require.NoError(t, es.PutEscrow(e))

	got, err := es.GetEscrow(id)
	require.NoError(t, err)
	require.Equal(t, e.MultisigAddress, got.MultisigAddress)
	require.Equal(t, e.CollateralAmountSats, got.CollateralAmountSats)
}

func TestEscrowStoreGetMissingReturnsNilNoError(t *testing.T) {
	store := openTestStore(t)
	es := NewEscrowStore(store)

	var id vault.ID
	got, err := es.GetEscrow(id)
	require.NoError(t, err)
	require.Nil(t, got)
}
