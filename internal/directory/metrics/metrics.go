package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the directory cache.
type Metrics struct {
	// Lookup outcomes by index ("address", "nickname") and result ("hit", "miss")
	Lookups *prometheus.CounterVec

	// Writes by operation ("upsert", "revoke") and result ("ok", "conflict", "error")
	Writes *prometheus.CounterVec

	// Lookup latency
	LookupDuration prometheus.Histogram
}

// New registers and returns the directory metrics.
func New() *Metrics {
	return &Metrics{
		Lookups: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "namedir_directory_lookups_total",
			Help: "Directory lookups by index and outcome",
		}, []string{"index", "result"}),

		Writes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "namedir_directory_writes_total",
			Help: "Directory writes by operation and outcome",
		}, []string{"op", "result"}),

		LookupDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "namedir_directory_lookup_duration_seconds",
			Help:    "Duration of directory lookups",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1},
		}),
	}
}

// RecordLookup counts one lookup outcome.
func (m *Metrics) RecordLookup(index, result string, seconds float64) {
	if m != nil {
		m.Lookups.WithLabelValues(index, result).Inc()
		m.LookupDuration.Observe(seconds)
	}
}

// RecordWrite counts one write outcome.
func (m *Metrics) RecordWrite(op, result string) {
	if m != nil {
		m.Writes.WithLabelValues(op, result).Inc()
	}
}
