// Package ratelimit provides sliding-window request limiting for the public
// HTTP surface. Recovery initiation is the sensitive path: without a limit an
// attacker could cheaply enumerate which addresses carry recovery keys.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Result reports one limit check.
type Result struct {
	Allowed   bool
	Remaining int
	Limit     int
	ResetAt   time.Time
}

// Store tracks request counts per key. Implementations must be safe for
// concurrent use.
type Store interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*Result, error)
}

// MemoryStore is a per-replica sliding window. The window is exact, not
// bucketed, so bursts straddling a bucket boundary cannot sneak through.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]*window
	clock   func() time.Time
}

type window struct {
	timestamps []time.Time
	span       time.Duration
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		windows: make(map[string]*window),
		clock:   time.Now,
	}
}

// WithClock sets the time source for testability.
func (s *MemoryStore) WithClock(clock func() time.Time) *MemoryStore {
	if clock != nil {
		s.clock = clock
	}
	return s
}

func (s *MemoryStore) Allow(_ context.Context, key string, limit int, span time.Duration) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	w := s.windows[key]
	if w == nil {
		w = &window{span: span}
		s.windows[key] = w
	}
	w.expire(now)

	if len(w.timestamps) >= limit {
		return &Result{
			Allowed: false,
			Limit:   limit,
			ResetAt: w.timestamps[0].Add(span),
		}, nil
	}

	w.timestamps = append(w.timestamps, now)
	return &Result{
		Allowed:   true,
		Remaining: limit - len(w.timestamps),
		Limit:     limit,
		ResetAt:   w.timestamps[0].Add(span),
	}, nil
}

func (w *window) expire(now time.Time) {
	cutoff := now.Add(-w.span)
	i := 0
	for ; i < len(w.timestamps); i++ {
		if w.timestamps[i].After(cutoff) {
			break
		}
	}
	w.timestamps = w.timestamps[i:]
}
