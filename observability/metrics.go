package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type facadeMetrics struct {
	vaultOps     *prometheus.CounterVec
	liquidations *prometheus.CounterVec
	redemptions  *prometheus.CounterVec
	oracleRounds *prometheus.CounterVec
	broadcasts   *prometheus.CounterVec
	opLatency    *prometheus.HistogramVec
	reserveCR    prometheus.Gauge
}

var (
	facadeMetricsOnce sync.Once
	facadeRegistry    *facadeMetrics
)

// FacadeMetrics returns the lazily-initialised protocol-facade metrics
// registry, recording every primary C12 entry point plus the consensus
// price and reserve-commitment feedback loops.
func FacadeMetrics() *facadeMetrics {
	facadeMetricsOnce.Do(func() {
		facadeRegistry = &facadeMetrics{
			vaultOps: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "bitstable",
				Subsystem: "vault",
				Name:      "operations_total",
				Help:      "Total vault lifecycle operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			liquidations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "bitstable",
				Subsystem: "liquidation",
				Name:      "executions_total",
				Help:      "Total executed liquidations segmented by currency and outcome.",
			}, []string{"currency", "outcome"}),
			redemptions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "bitstable",
				Subsystem: "redemption",
				Name:      "executions_total",
				Help:      "Total executed redemptions segmented by currency and outcome.",
			}, []string{"currency", "outcome"}),
			oracleRounds: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "bitstable",
				Subsystem: "oracle",
				Name:      "consensus_rounds_total",
				Help:      "Total consensus-price rounds segmented by outcome (accepted, rejected, breaker_tripped).",
			}, []string{"outcome"}),
			broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "bitstable",
				Subsystem: "custody",
				Name:      "broadcasts_total",
				Help:      "Total Bitcoin transaction broadcasts segmented by kind (liquidation, closure, anchor) and outcome.",
			}, []string{"kind", "outcome"}),
			opLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "bitstable",
				Subsystem: "facade",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for facade entry points.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			reserveCR: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "bitstable",
				Subsystem: "reserves",
				Name:      "system_collateral_ratio",
				Help:      "System-wide collateral ratio at the most recent proof-of-reserves commitment.",
			}),
		}
		prometheus.MustRegister(
			facadeRegistry.vaultOps,
			facadeRegistry.liquidations,
			facadeRegistry.redemptions,
			facadeRegistry.oracleRounds,
			facadeRegistry.broadcasts,
			facadeRegistry.opLatency,
			facadeRegistry.reserveCR,
		)
	})
	return facadeRegistry
}

// ObserveVaultOp records one vault lifecycle operation (open, fund,
// liquidate, close, mint, burn, redeem) and its outcome.
func (m *facadeMetrics) ObserveVaultOp(operation, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.vaultOps.WithLabelValues(operation, outcome).Inc()
	m.opLatency.WithLabelValues(operation).Observe(duration.Seconds())
}

// ObserveLiquidation records one liquidation attempt's outcome for currency c.
func (m *facadeMetrics) ObserveLiquidation(currency, outcome string) {
	if m == nil {
		return
	}
	m.liquidations.WithLabelValues(currency, outcome).Inc()
}

// ObserveRedemption records one redemption attempt's outcome for currency c.
func (m *facadeMetrics) ObserveRedemption(currency, outcome string) {
	if m == nil {
		return
	}
	m.redemptions.WithLabelValues(currency, outcome).Inc()
}

// ObserveOracleRound records one consensus-price refresh round's outcome.
func (m *facadeMetrics) ObserveOracleRound(outcome string) {
	if m == nil {
		return
	}
	m.oracleRounds.WithLabelValues(outcome).Inc()
}

// ObserveBroadcast records one Bitcoin transaction broadcast attempt.
func (m *facadeMetrics) ObserveBroadcast(kind, outcome string) {
	if m == nil {
		return
	}
	m.broadcasts.WithLabelValues(kind, outcome).Inc()
}

// SetReserveCR updates the system-wide collateral ratio gauge, called after
// each proof-of-reserves commitment.
func (m *facadeMetrics) SetReserveCR(cr float64) {
	if m == nil {
		return
	}
	m.reserveCR.Set(cr)
}
