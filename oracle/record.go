package oracle

import (
	"sort"
	"time"

	"bitstable/currency"
)

// defaultTWAPWindow matches the spec's 24h default rolling window.
const defaultTWAPWindow = 24 * time.Hour

// sourceRecord tracks per-source health and rolling TWAP windows, one per
// currency, as named in §3's "Oracle record".
type sourceRecord struct {
	name         string
	failures     int
	qualityScore float64
	lastError    string
	totalCalls   int
	totalSuccess int
	windows      map[currency.Code][]Sample
	twapWindow   time.Duration
}

func newSourceRecord(name string) *sourceRecord {
	return &sourceRecord{
		name:         name,
		qualityScore: 1,
		windows:      map[currency.Code][]Sample{},
		twapWindow:   defaultTWAPWindow,
	}
}

// recordSuccess appends a sample to currency c's window, evicts samples
// older than the TWAP window, and applies the quality-score recovery law
// from the supplemented oracle-health feature (§C.1 of SPEC_FULL.md):
// linear recovery of 0.02 per success, capped at 1.
func (r *sourceRecord) recordSuccess(c currency.Code, price float64, now time.Time) {
	r.totalCalls++
	r.totalSuccess++
	r.qualityScore = min1(r.qualityScore + 0.02)

	samples := append(r.windows[c], Sample{Timestamp: now, Price: price})
	cutoff := now.Add(-r.twapWindow)
	trimmed := samples[:0]
	for _, s := range samples {
		if s.Timestamp.After(cutoff) {
			trimmed = append(trimmed, s)
		}
	}
	r.windows[c] = trimmed
}

// recordFailure increments the failure counter and applies exponential
// quality-score decay (§C.1): score *= 0.85 on every failure.
func (r *sourceRecord) recordFailure(errMsg string) {
	r.totalCalls++
	r.failures++
	r.lastError = errMsg
	r.qualityScore *= 0.85
}

// successRate returns the fraction of calls that succeeded, used by the
// quality-score derivation referenced in §C.1:
// score = success_rate*0.7 + (1 - min(total_failures/100,1))*0.3.
func (r *sourceRecord) successRate() float64 {
	if r.totalCalls == 0 {
		return 1
	}
	return float64(r.totalSuccess) / float64(r.totalCalls)
}

// compositeScore blends the exponential-decay score with the original
// source's success-rate/failure-count formula, both grounded on
// original_source/src/oracle.rs.
func (r *sourceRecord) compositeScore() float64 {
	failurePenalty := min1(float64(r.failures) / 100)
	formula := r.successRate()*0.7 + (1-failurePenalty)*0.3
	return (r.qualityScore + formula) / 2
}

func min1(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < 0 {
		return 0
	}
	return v
}

// twap computes the time-weighted average and median of currency c's
// rolling window within the given trailing window duration, weighting
// adjacent samples by the time delta between them.
func (r *sourceRecord) twap(c currency.Code, window time.Duration, now time.Time) (avg, median float64, count int, ok bool) {
	cutoff := now.Add(-window)
	var kept []Sample
	for _, s := range r.windows[c] {
		if s.Timestamp.After(cutoff) {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		return 0, 0, 0, false
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].Timestamp.Before(kept[j].Timestamp) })
	if len(kept) == 1 {
		return kept[0].Price, kept[0].Price, 1, true
	}

	var weightedSum, totalWeight float64
	for i := 1; i < len(kept); i++ {
		dt := kept[i].Timestamp.Sub(kept[i-1].Timestamp).Seconds()
		if dt <= 0 {
			continue
		}
		weightedSum += kept[i-1].Price * dt
		totalWeight += dt
	}
	if totalWeight == 0 {
		avg = kept[len(kept)-1].Price
	} else {
		avg = weightedSum / totalWeight
	}

	prices := make([]float64, len(kept))
	for i, s := range kept {
		prices[i] = s.Price
	}
	median = medianOf(prices)
	return avg, median, len(kept), true
}

func medianOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
