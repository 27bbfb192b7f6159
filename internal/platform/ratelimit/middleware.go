package ratelimit

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	dErrors "namedir/pkg/domain-errors"
)

// Limit is a per-key budget for one endpoint class.
type Limit struct {
	Requests int
	Window   time.Duration
}

// Sensible defaults for the two public endpoint classes.
var (
	LookupLimit   = Limit{Requests: 120, Window: time.Minute}
	RecoveryLimit = Limit{Requests: 5, Window: time.Minute}
)

// Middleware applies per-client-IP limits. On a store failure it fails open:
// degraded limiting is preferable to a self-inflicted outage.
type Middleware struct {
	store  Store
	logger *slog.Logger
}

func NewMiddleware(store Store, logger *slog.Logger) *Middleware {
	return &Middleware{store: store, logger: logger}
}

// Limit enforces the budget for one endpoint class.
func (m *Middleware) Limit(class string, limit Limit) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := class + ":" + clientIP(r)
			res, err := m.store.Allow(r.Context(), key, limit.Requests, limit.Window)
			if err != nil {
				m.logger.Error("rate limit check failed, allowing request",
					"class", class, "error", err)
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))

			if !res.Allowed {
				retryAfter := int(time.Until(res.ResetAt).Seconds()) + 1
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]string{
					"error":   string(dErrors.CodeRateLimited),
					"message": "rate limit exceeded, retry later",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP prefers the first X-Forwarded-For hop set by the edge proxy, then
// falls back to the connection peer.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if first, _, ok := strings.Cut(fwd, ","); ok {
			return strings.TrimSpace(first)
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
