// Package metrics holds the HTTP-level Prometheus metrics; domain packages
// register their own under internal/<domain>/metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Request latency by route pattern and status class
	RequestDuration *prometheus.HistogramVec

	// In-flight requests
	Inflight prometheus.Gauge
}

func New() *Metrics {
	return &Metrics{
		RequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "namedir_http_request_duration_seconds",
			Help:    "HTTP request latency by route and status class",
			Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"route", "status"}),

		Inflight: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "namedir_http_inflight_requests",
			Help: "Requests currently being served",
		}),
	}
}

// ObserveRequest records one served request.
func (m *Metrics) ObserveRequest(route, status string, seconds float64) {
	if m != nil {
		m.RequestDuration.WithLabelValues(route, status).Observe(seconds)
	}
}

// TrackInflight adjusts the in-flight gauge by delta.
func (m *Metrics) TrackInflight(delta float64) {
	if m != nil {
		m.Inflight.Add(delta)
	}
}
