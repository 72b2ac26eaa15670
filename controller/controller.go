// Package controller implements the stability controller (C10): a "keep X
// stable" autopilot that compares a holder's current stable balance against
// a fixed-amount or percentage-of-portfolio target and emits mint/burn
// intents when the deviation exceeds a threshold.
package controller

import (
	"sync"

	"bitstable/currency"
)

// ActionKind distinguishes the rebalance intents.
type ActionKind int

const (
	// ActionNone means no rebalance is required.
	ActionNone ActionKind = iota
	// ActionMint means stable supply should be minted for the holder.
	ActionMint
	// ActionBurn means stable supply should be burned for the holder.
	ActionBurn
)

// Action is the mint/burn intent a Controller emits.
type Action struct {
	Kind     ActionKind
	Currency currency.Code
	Amount   float64
}

// Controller is a single holder's autopilot configuration for one currency.
type Controller struct {
	Holder             string
	TargetCurrency     currency.Code
	TargetAmount       float64
	TargetPercentage   *float64
	RebalanceThreshold float64
	Enabled            bool
}

// New constructs a fixed-amount controller with the spec's default 2%
// rebalance threshold.
func New(holder string, c currency.Code, amount float64) *Controller {
	return &Controller{
		Holder:             holder,
		TargetCurrency:     c,
		TargetAmount:       amount,
		RebalanceThreshold: 0.02,
		Enabled:            true,
	}
}

// NewPercentage constructs a controller that targets percentage% of the
// holder's total portfolio value (BTC + stable) held in c.
func NewPercentage(holder string, c currency.Code, percentage float64) *Controller {
	return &Controller{
		Holder:             holder,
		TargetCurrency:     c,
		TargetPercentage:   &percentage,
		RebalanceThreshold: 0.02,
		Enabled:            true,
	}
}

// CalculateRebalance compares currentStableBalance against the controller's
// target and returns the action required to close the gap, or ActionNone if
// the deviation is within threshold or the controller is disabled.
func (c *Controller) CalculateRebalance(currentStableBalance, btcBalance float64, rates *currency.Table) Action {
	if !c.Enabled {
		return Action{Kind: ActionNone}
	}

	var target float64
	if c.TargetPercentage != nil {
		btcPrice, err := rates.BTCPriceIn(c.TargetCurrency)
		if err != nil {
			btcPrice = 0
		}
		btcValue := btcBalance * btcPrice
		totalValue := btcValue + currentStableBalance
		target = totalValue * (*c.TargetPercentage / 100.0)
	} else {
		target = c.TargetAmount
	}

	denom := target
	if denom < 1.0 {
		denom = 1.0
	}
	deviation := absF(currentStableBalance-target) / denom
	if deviation < c.RebalanceThreshold {
		return Action{Kind: ActionNone}
	}

	switch {
	case currentStableBalance < target:
		return Action{Kind: ActionMint, Currency: c.TargetCurrency, Amount: target - currentStableBalance}
	case currentStableBalance > target:
		return Action{Kind: ActionBurn, Currency: c.TargetCurrency, Amount: currentStableBalance - target}
	default:
		return Action{Kind: ActionNone}
	}
}

func absF(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// HolderBalance is the portfolio snapshot a PortfolioManager needs per
// holder to evaluate every registered controller.
type HolderBalance struct {
	BTCBalance     float64
	StableBalances map[currency.Code]float64
}

// PendingAction pairs an emitted Action with the holder it applies to.
type PendingAction struct {
	Holder string
	Action Action
}

// PortfolioManager tracks every holder's stability controllers and
// evaluates them in bulk against a portfolio snapshot.
type PortfolioManager struct {
	mu          sync.Mutex
	controllers []*Controller
}

// NewPortfolioManager constructs an empty manager.
func NewPortfolioManager() *PortfolioManager {
	return &PortfolioManager{}
}

// Add registers a controller, replacing any existing one for the same
// holder and currency.
func (m *PortfolioManager) Add(ctrl *Controller) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.controllers {
		if existing.Holder == ctrl.Holder && existing.TargetCurrency == ctrl.TargetCurrency {
			m.controllers[i] = ctrl
			return
		}
	}
	m.controllers = append(m.controllers, ctrl)
}

// Remove deletes the holder's controller for currency c, if any.
func (m *PortfolioManager) Remove(holder string, c currency.Code) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.controllers[:0]
	for _, ctrl := range m.controllers {
		if ctrl.Holder == holder && ctrl.TargetCurrency == c {
			continue
		}
		kept = append(kept, ctrl)
	}
	m.controllers = kept
}

// Get returns the holder's controller for currency c, if registered.
func (m *PortfolioManager) Get(holder string, c currency.Code) (*Controller, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ctrl := range m.controllers {
		if ctrl.Holder == holder && ctrl.TargetCurrency == c {
			return ctrl, true
		}
	}
	return nil, false
}

// ForHolder returns every controller registered for holder.
func (m *PortfolioManager) ForHolder(holder string) []*Controller {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Controller
	for _, ctrl := range m.controllers {
		if ctrl.Holder == holder {
			out = append(out, ctrl)
		}
	}
	return out
}

// ProcessRebalancing evaluates every registered controller against
// balances and rates, returning one PendingAction per controller whose
// deviation exceeded threshold.
func (m *PortfolioManager) ProcessRebalancing(balances map[string]HolderBalance, rates *currency.Table) []PendingAction {
	m.mu.Lock()
	controllers := make([]*Controller, len(m.controllers))
	copy(controllers, m.controllers)
	m.mu.Unlock()

	var actions []PendingAction
	for _, ctrl := range controllers {
		bal, ok := balances[ctrl.Holder]
		if !ok {
			continue
		}
		stable := bal.StableBalances[ctrl.TargetCurrency]
		action := ctrl.CalculateRebalance(stable, bal.BTCBalance, rates)
		if action.Kind == ActionNone {
			continue
		}
		actions = append(actions, PendingAction{Holder: ctrl.Holder, Action: action})
	}
	return actions
}
