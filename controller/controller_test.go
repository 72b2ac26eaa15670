package controller

import (
	"testing"

	"github.com/stretchr/testify/require"

	"bitstable/currency"
)

func testRates(t *testing.T) *currency.Table {
	t.Helper()
	rates := currency.NewTable()
	require.NoError(t, rates.SetBTCPrice(currency.USD, 100000))
	return rates
}

func TestCalculateRebalanceMintsWhenBelowTarget(t *testing.T) {
	ctrl := New("alice", currency.USD, 1000.0)
	action := ctrl.CalculateRebalance(800.0, 1.0, testRates(t))
	require.Equal(t, ActionMint, action.Kind)
	require.InDelta(t, 200.0, action.Amount, 1e-9)
}

func TestCalculateRebalanceBurnsWhenAboveTarget(t *testing.T) {
	ctrl := New("alice", currency.USD, 1000.0)
	action := ctrl.CalculateRebalance(1200.0, 1.0, testRates(t))
	require.Equal(t, ActionBurn, action.Kind)
	require.InDelta(t, 200.0, action.Amount, 1e-9)
}

func TestCalculateRebalanceNoneWithinThreshold(t *testing.T) {
	ctrl := New("alice", currency.USD, 1000.0)
	action := ctrl.CalculateRebalance(1010.0, 1.0, testRates(t))
	require.Equal(t, ActionNone, action.Kind)
}

func TestPercentageBasedController(t *testing.T) {
	// Portfolio: 1 BTC ($100k) + $50k stable = $150k total.
	// Target: 40% of $150k = $60k stable.
	ctrl := NewPercentage("alice", currency.USD, 40.0)
	action := ctrl.CalculateRebalance(50000.0, 1.0, testRates(t))
	require.Equal(t, ActionMint, action.Kind)
	require.InDelta(t, 10000.0, action.Amount, 1e-9)
}

func TestDisabledControllerNeverRebalances(t *testing.T) {
	ctrl := New("alice", currency.USD, 1000.0)
	ctrl.Enabled = false
	action := ctrl.CalculateRebalance(0, 1.0, testRates(t))
	require.Equal(t, ActionNone, action.Kind)
}

func TestPortfolioManagerProcessRebalancing(t *testing.T) {
	m := NewPortfolioManager()
	m.Add(New("alice", currency.USD, 1000.0))
	m.Add(New("bob", currency.EUR, 500.0))

	balances := map[string]HolderBalance{
		"alice": {BTCBalance: 1.0, StableBalances: map[currency.Code]float64{currency.USD: 800.0}},
		"bob":   {BTCBalance: 0.5, StableBalances: map[currency.Code]float64{currency.EUR: 500.0}},
	}

	actions := m.ProcessRebalancing(balances, testRates(t))
	require.Len(t, actions, 1)
	require.Equal(t, "alice", actions[0].Holder)
	require.Equal(t, ActionMint, actions[0].Action.Kind)
}

func TestPortfolioManagerAddReplacesExisting(t *testing.T) {
	m := NewPortfolioManager()
	m.Add(New("alice", currency.USD, 1000.0))
	m.Add(New("alice", currency.USD, 2000.0))

	ctrl, ok := m.Get("alice", currency.USD)
	require.True(t, ok)
	require.InDelta(t, 2000.0, ctrl.TargetAmount, 1e-9)
}

func TestPortfolioManagerRemove(t *testing.T) {
	m := NewPortfolioManager()
	m.Add(New("alice", currency.USD, 1000.0))
	m.Remove("alice", currency.USD)

	_, ok := m.Get("alice", currency.USD)
	require.False(t, ok)
}
