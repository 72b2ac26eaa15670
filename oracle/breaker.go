package oracle

import (
	"time"

	"bitstable/currency"
)

// BreakerConfig holds the graduated circuit breaker's tunables, per §4.1.
type BreakerConfig struct {
	OracleThreshold   int           // default 3
	MinOraclesTier1   int           // default 5, 10%-20% moves
	MinOraclesTier2   int           // default 7, 20%-30% moves
	EmergencyOverride bool          // required for >=30% moves
	CooldownWindow    time.Duration // default 15m
}

// DefaultBreakerConfig returns the spec's default thresholds.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		OracleThreshold: 3,
		MinOraclesTier1: 5,
		MinOraclesTier2: 7,
		CooldownWindow:  15 * time.Minute,
	}
}

const cooldownTriggerPct = 0.05

// breakerState tracks, per currency, the last accepted price and the time of
// the last accepted "large" move (>= the cooldown trigger), used to enforce
// the cooldown window independent of the tier check.
type breakerState struct {
	lastAccepted     map[currency.Code]float64
	lastLargeMoveAt  map[currency.Code]time.Time
}

func newBreakerState() *breakerState {
	return &breakerState{
		lastAccepted:    map[currency.Code]float64{},
		lastLargeMoveAt: map[currency.Code]time.Time{},
	}
}

// evaluate decides whether the candidate median for currency c, backed by
// sourceCount successful sources, should be accepted. It returns the
// acceptance decision and, when rejected, a reason string suitable for
// logging (circuit-breaker rejections are not a fatal error per §7).
func (b *breakerState) evaluate(cfg BreakerConfig, c currency.Code, candidate float64, sourceCount int, now time.Time) (accept bool, reason string) {
	prev, known := b.lastAccepted[c]
	if !known {
		// First price for this currency is always valid, per the
		// original implementation's bootstrap rule.
		return true, ""
	}

	changePct := pctChange(prev, candidate)

	if last, ok := b.lastLargeMoveAt[c]; ok && changePct > cooldownTriggerPct {
		if now.Sub(last) < cfg.CooldownWindow {
			return false, "cooldown window active after prior large move"
		}
	}

	switch {
	case changePct < 0.10:
		return true, ""
	case changePct < 0.20:
		if sourceCount < cfg.MinOraclesTier1 {
			return false, "tier1 move requires more oracle agreement"
		}
		return true, ""
	case changePct < 0.30:
		if sourceCount < cfg.MinOraclesTier2 {
			return false, "tier2 move requires more oracle agreement"
		}
		return true, ""
	default:
		if !cfg.EmergencyOverride {
			return false, "tier3 move rejected without emergency override"
		}
		return true, ""
	}
}

func (b *breakerState) commit(c currency.Code, price float64, now time.Time) {
	prev, known := b.lastAccepted[c]
	if known && pctChange(prev, price) >= cooldownTriggerPct {
		b.lastLargeMoveAt[c] = now
	}
	b.lastAccepted[c] = price
}

func pctChange(prev, next float64) float64 {
	if prev == 0 {
		return 0
	}
	d := next - prev
	if d < 0 {
		d = -d
	}
	return d / prev
}
