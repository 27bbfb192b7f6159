// Package httptransport wires the HTTP surface: public lookups, the recovery
// flow, the owner review channel and version administration.
package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"namedir/internal/platform/metrics"
	"namedir/internal/platform/middleware"
	"namedir/internal/platform/ratelimit"
)

// Deps collects everything the router mounts.
type Deps struct {
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
	Directory DirectoryService
	Recovery  RecoveryService
	Sweeper   Sweeper
	Validator middleware.TokenValidator
	RateLimit *ratelimit.Middleware
}

// NewRouter builds the full HTTP handler.
func NewRouter(d Deps) http.Handler {
	if d.RateLimit == nil {
		d.RateLimit = ratelimit.NewMiddleware(ratelimit.NewMemoryStore(), d.Logger)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recovery(d.Logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(d.Logger))
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(middleware.Latency(d.Metrics))

	NewDirectoryHandler(d.Directory, d.Sweeper, d.Validator, d.RateLimit, d.Logger).Register(r)
	NewRecoveryHandler(d.Recovery, d.Validator, d.RateLimit, d.Logger).Register(r)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	return r
}
