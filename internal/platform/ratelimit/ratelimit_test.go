package ratelimit

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreEnforcesLimit(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	for i := 0; i < 3; i++ {
		res, err := store.Allow(ctx, "ip:1.2.3.4", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, 2-i, res.Remaining)
	}

	res, err := store.Allow(ctx, "ip:1.2.3.4", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	// A different key has its own budget.
	res, err = store.Allow(ctx, "ip:5.6.7.8", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestMemoryStoreWindowSlides(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	store := NewMemoryStore().WithClock(func() time.Time { return now })

	res, err := store.Allow(ctx, "k", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = store.Allow(ctx, "k", 1, time.Minute)
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	now = now.Add(61 * time.Second)
	res, err = store.Allow(ctx, "k", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestMiddlewareReturns429WithHeaders(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := NewMiddleware(NewMemoryStore(), logger)

	handler := m.Limit("recovery", Limit{Requests: 1, Window: time.Minute})(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, httptest.NewRequest(http.MethodPost, "/v1/recovery", nil))
	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "1", first.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", first.Header().Get("X-RateLimit-Remaining"))

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, httptest.NewRequest(http.MethodPost, "/v1/recovery", nil))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.NotEmpty(t, second.Header().Get("Retry-After"))
	assert.Contains(t, second.Body.String(), "rate_limited")
}

func TestMiddlewareSeparatesClients(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := NewMiddleware(NewMemoryStore(), logger)

	handler := m.Limit("lookup", Limit{Requests: 1, Window: time.Minute})(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

	reqA := httptest.NewRequest(http.MethodGet, "/v1/names/x", nil)
	reqA.Header.Set("X-Forwarded-For", "10.0.0.1, 172.16.0.1")
	reqB := httptest.NewRequest(http.MethodGet, "/v1/names/x", nil)
	reqB.Header.Set("X-Forwarded-For", "10.0.0.2")

	for _, req := range []*http.Request{reqA, reqB} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, reqA)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}
