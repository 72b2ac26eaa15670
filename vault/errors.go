package vault

import (
	"errors"
	"strconv"
)

// Sentinel errors for conditions that carry no payload, matching the
// teacher's convention of package-level errors.New values for unparameterised
// failures (see native/lending/engine.go's errNilState family).
var (
	ErrNilState          = errors.New("vault: state not configured")
	ErrVaultNotFound     = errors.New("vault: not found")
	ErrVaultAlreadyExists = errors.New("vault: already exists")
	ErrCurrencyDisabled  = errors.New("vault: currency is disabled")
	ErrBelowMinMint      = errors.New("vault: amount below minimum mint")
	ErrNotOwner          = errors.New("vault: caller is not the owner")
	ErrNotActive         = errors.New("vault: not active")
	ErrDebtsNotEmpty     = errors.New("vault: debts must be repaid before closing")
	ErrInvalidAmount     = errors.New("vault: amount must be positive")
	ErrLiquidationNotPossible = errors.New("vault: liquidation conditions not met")
)

// InsufficientCollateral is raised when a mint or funding check fails the
// collateral ratio requirement. It carries the values needed for a
// caller-facing diagnostic, matching §7's tagged-error-with-payload design.
type InsufficientCollateral struct {
	Required float64
	Provided float64
}

func (e *InsufficientCollateral) Error() string {
	return "vault: insufficient collateral: required " + formatFloat(e.Required) + ", provided " + formatFloat(e.Provided)
}

// LiquidationNotPossible is raised when an eligibility check fails at
// execute-time, carrying the vault's current ratio for diagnostics.
type LiquidationNotPossible struct {
	Ratio float64
}

func (e *LiquidationNotPossible) Error() string {
	return "vault: liquidation not possible at ratio " + formatFloat(e.Ratio)
}

// InvalidConfig is the §7 InvalidConfig(msg) error kind: a mutator call
// rejected because of the vault's own state rather than caller input, e.g.
// closing an already-closed vault.
type InvalidConfig struct {
	Msg string
}

func (e *InvalidConfig) Error() string {
	return "vault: invalid config: " + e.Msg
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
