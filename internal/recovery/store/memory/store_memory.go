// Package memory provides in-memory recovery stores for tests and
// single-process deploys.
package memory

import (
	"context"
	"sync"
	"time"

	"namedir/internal/recovery"
	"namedir/pkg/domain"
	"namedir/pkg/platform/sentinel"
)

// Store implements store.RequestStore with map indexes under one mutex, so
// the single-pending check and the insert are a single critical section.
type Store struct {
	mu      sync.RWMutex
	byID    map[domain.RequestID]*recovery.Request
	pending map[domain.Address]domain.RequestID
}

func New() *Store {
	return &Store{
		byID:    make(map[domain.RequestID]*recovery.Request),
		pending: make(map[domain.Address]domain.RequestID),
	}
}

func (s *Store) Create(_ context.Context, req *recovery.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.pending[req.Address]; ok {
		if existing := s.byID[id]; existing != nil && existing.Pending() {
			return sentinel.ErrAlreadyPending
		}
	}
	cp := *req
	s.byID[req.ID] = &cp
	if req.Pending() {
		s.pending[req.Address] = req.ID
	}
	return nil
}

func (s *Store) Get(_ context.Context, id domain.RequestID) (*recovery.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	req, ok := s.byID[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *req
	return &cp, nil
}

func (s *Store) Update(_ context.Context, req *recovery.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[req.ID]; !ok {
		return sentinel.ErrNotFound
	}
	cp := *req
	s.byID[req.ID] = &cp
	if !req.Pending() {
		if id, ok := s.pending[req.Address]; ok && id == req.ID {
			delete(s.pending, req.Address)
		}
	}
	return nil
}

func (s *Store) PendingByAddress(_ context.Context, addr domain.Address) (*recovery.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.pending[addr]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	req := s.byID[id]
	if req == nil || !req.Pending() {
		return nil, sentinel.ErrNotFound
	}
	cp := *req
	return &cp, nil
}

func (s *Store) ListByAddress(_ context.Context, addr domain.Address) ([]recovery.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []recovery.Request
	for _, req := range s.byID {
		if req.Address == addr {
			out = append(out, *req)
		}
	}
	return out, nil
}

// NonceStore implements store.NonceStore in memory. Entries are pruned
// lazily on access once expired.
type NonceStore struct {
	mu    sync.Mutex
	used  map[string]time.Time
	clock func() time.Time
}

func NewNonceStore() *NonceStore {
	return &NonceStore{used: make(map[string]time.Time), clock: time.Now}
}

func (s *NonceStore) Consume(_ context.Context, nonce string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	if deadline, ok := s.used[nonce]; ok && now.Before(deadline) {
		return sentinel.ErrAlreadyUsed
	}
	s.used[nonce] = now.Add(ttl)
	for n, deadline := range s.used {
		if now.After(deadline) {
			delete(s.used, n)
		}
	}
	return nil
}
