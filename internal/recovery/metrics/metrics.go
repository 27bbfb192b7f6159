package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for recovery authorization.
type Metrics struct {
	// Requests by operation ("initiate", "submit") and outcome ("ok",
	// "rejected", "expired", "replay", "conflict", "unavailable", "error")
	Requests *prometheus.CounterVec

	// Signature verification latency
	VerifyDuration prometheus.Histogram
}

// New registers and returns the recovery metrics.
func New() *Metrics {
	return &Metrics{
		Requests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "namedir_recovery_requests_total",
			Help: "Recovery operations by outcome",
		}, []string{"op", "outcome"}),

		VerifyDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "namedir_recovery_verify_duration_seconds",
			Help:    "Duration of recovery signature verification",
			Buckets: []float64{0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01},
		}),
	}
}

// Record counts one operation outcome.
func (m *Metrics) Record(op, outcome string) {
	if m != nil {
		m.Requests.WithLabelValues(op, outcome).Inc()
	}
}

// ObserveVerify records one verification duration.
func (m *Metrics) ObserveVerify(seconds float64) {
	if m != nil {
		m.VerifyDuration.Observe(seconds)
	}
}
