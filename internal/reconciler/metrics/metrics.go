package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the chain reconciler.
type Metrics struct {
	// Addresses reconciled by outcome ("confirmed", "revoked", "conflict",
	// "unchanged", "rejected", "error")
	Reconciled *prometheus.CounterVec

	// Conflicts resolved by losing side ("cache", "incoming")
	Conflicts *prometheus.CounterVec

	// Last block the scanner has fully processed
	LastSyncedBlock prometheus.Gauge

	// Head minus last synced block, in blocks
	Lag prometheus.Gauge

	// Full pass latency
	PassDuration prometheus.Histogram
}

// New registers and returns the reconciler metrics.
func New() *Metrics {
	return &Metrics{
		Reconciled: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "namedir_reconciler_addresses_total",
			Help: "Addresses reconciled by outcome",
		}, []string{"outcome"}),

		Conflicts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "namedir_reconciler_conflicts_total",
			Help: "Nickname conflicts resolved by losing side",
		}, []string{"loser"}),

		LastSyncedBlock: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "namedir_reconciler_last_synced_block",
			Help: "Last block fully processed by the scanner",
		}),

		Lag: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "namedir_reconciler_lag_blocks",
			Help: "Blocks between chain head and last synced block",
		}),

		PassDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "namedir_reconciler_pass_duration_seconds",
			Help:    "Duration of full reconciliation passes",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
	}
}

// RecordOutcome counts one reconciled address.
func (m *Metrics) RecordOutcome(outcome string) {
	if m != nil {
		m.Reconciled.WithLabelValues(outcome).Inc()
	}
}

// RecordConflict counts one resolved conflict.
func (m *Metrics) RecordConflict(loser string) {
	if m != nil {
		m.Conflicts.WithLabelValues(loser).Inc()
	}
}

// RecordSync updates the scanner position gauges.
func (m *Metrics) RecordSync(lastSynced, head uint64) {
	if m != nil {
		m.LastSyncedBlock.Set(float64(lastSynced))
		if head >= lastSynced {
			m.Lag.Set(float64(head - lastSynced))
		}
	}
}

// RecordPass observes one full pass duration.
func (m *Metrics) RecordPass(seconds float64) {
	if m != nil {
		m.PassDuration.Observe(seconds)
	}
}
