package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"bitstable/currency"
	"bitstable/vault"
)

func TestFIFOBurnAcrossTwoVaults(t *testing.T) {
	// Scenario 2: Alice mints 50000 from V1, then 20000 from V2. Burn
	// 30000 reduces V1 to 20000, touching only V1. Burn 25000 more
	// consumes the remaining 20000 of V1 and 5000 of V2, touching both.
	l := New()
	var v1, v2 vault.ID
	v1[0] = 1
	v2[0] = 2
	now := time.Now()

	l.Mint("alice", currency.USD, 50000, v1, now)
	l.Mint("alice", currency.USD, 20000, v2, now)

	touched, err := l.Burn("alice", currency.USD, 30000)
	require.NoError(t, err)
	require.Equal(t, []vault.ID{v1}, touched)
	require.InDelta(t, 40000, l.Balance("alice", currency.USD), 1e-9)

	touched, err = l.Burn("alice", currency.USD, 25000)
	require.NoError(t, err)
	require.Equal(t, []vault.ID{v1, v2}, touched)
	require.InDelta(t, 15000, l.Balance("alice", currency.USD), 1e-9)
}

func TestBurnRejectsInsufficientFunds(t *testing.T) {
	l := New()
	var v1 vault.ID
	l.Mint("alice", currency.USD, 100, v1, time.Now())

	_, err := l.Burn("alice", currency.USD, 200)
	require.ErrorIs(t, err, ErrInsufficientFunds)
	require.InDelta(t, 100, l.Balance("alice", currency.USD), 1e-9)
}

func TestMintBurnRoundTripPreservesBalance(t *testing.T) {
	l := New()
	var v vault.ID
	v[0] = 9
	before := l.Balance("alice", currency.USD)

	l.Mint("alice", currency.USD, 500, v, time.Now())
	touched, err := l.Burn("alice", currency.USD, 500)
	require.NoError(t, err)
	require.Contains(t, touched, v)
	require.Equal(t, before, l.Balance("alice", currency.USD))
}

func TestTransferSplitsEvenlyAcrossTouchedVaults(t *testing.T) {
	l := New()
	var v1, v2 vault.ID
	v1[0] = 1
	v2[0] = 2
	now := time.Now()

	l.Mint("alice", currency.USD, 10000, v1, now)
	l.Mint("alice", currency.USD, 10000, v2, now)

	record, err := l.Transfer("alice", "bob", currency.USD, 15000, now)
	require.NoError(t, err)
	require.ElementsMatch(t, []vault.ID{v1, v2}, record.VaultIDs)

	require.InDelta(t, 5000, l.Balance("alice", currency.USD), 1e-9)
	require.InDelta(t, 15000, l.Balance("bob", currency.USD), 1e-9)

	// Even split: bob's two lots should each carry half of 15000.
	bobLots := l.lotsFor("bob", currency.USD)
	require.Len(t, bobLots, 2)
	require.InDelta(t, 7500, bobLots[0].Amount, 1e-9)
	require.InDelta(t, 7500, bobLots[1].Amount, 1e-9)
}

func TestSupplyTracksMintAndBurn(t *testing.T) {
	l := New()
	var v vault.ID
	l.Mint("alice", currency.USD, 1000, v, time.Now())
	require.Equal(t, float64(1000), l.Supply(currency.USD))

	_, err := l.Burn("alice", currency.USD, 400)
	require.NoError(t, err)
	require.Equal(t, float64(600), l.Supply(currency.USD))
}
