// Package memory provides the in-memory directory store used by unit tests
// and single-process deployments.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"namedir/internal/directory"
	"namedir/pkg/domain"
	"namedir/pkg/platform/sentinel"
)

// Store keeps bindings in two indexes guarded by one RWMutex, which gives the
// same atomic-uniqueness behavior as the postgres constraints: concurrent
// upserts against the same normalized nickname serialize on the write lock.
type Store struct {
	mu       sync.RWMutex
	byAddr   map[domain.Address]*directory.NicknameBinding
	byNorm   map[string]domain.Address
	versions map[domain.VersionTag]*directory.RegistryVersion
}

func New() *Store {
	return &Store{
		byAddr:   make(map[domain.Address]*directory.NicknameBinding),
		byNorm:   make(map[string]domain.Address),
		versions: make(map[domain.VersionTag]*directory.RegistryVersion),
	}
}

func (s *Store) Get(_ context.Context, addr domain.Address) (*directory.NicknameBinding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.byAddr[addr]
	if !ok || b.Revoked {
		return nil, sentinel.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (s *Store) GetByNickname(_ context.Context, normalized string) (*directory.NicknameBinding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	addr, ok := s.byNorm[normalized]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	b := s.byAddr[addr]
	if b == nil || b.Revoked {
		return nil, sentinel.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (s *Store) Upsert(_ context.Context, binding *directory.NicknameBinding) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if owner, ok := s.byNorm[binding.NicknameNormalized]; ok && owner != binding.Address {
		if existing := s.byAddr[owner]; existing != nil && existing.Active() {
			return sentinel.ErrConflict
		}
		// Stale index entry for a revoked binding; safe to reclaim.
		delete(s.byNorm, binding.NicknameNormalized)
	}

	if prev, ok := s.byAddr[binding.Address]; ok && prev.Active() && prev.NicknameNormalized != binding.NicknameNormalized {
		delete(s.byNorm, prev.NicknameNormalized)
	}

	cp := *binding
	s.byAddr[binding.Address] = &cp
	if cp.Active() {
		s.byNorm[cp.NicknameNormalized] = cp.Address
	}
	return nil
}

func (s *Store) Revoke(_ context.Context, addr domain.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.byAddr[addr]
	if !ok || b.Revoked {
		return sentinel.ErrNotFound
	}
	b.Revoked = true
	b.PendingRevocation = false
	b.RevokedAt = time.Now().UTC()
	delete(s.byNorm, b.NicknameNormalized)
	return nil
}

func (s *Store) MarkPendingRevocation(_ context.Context, addr domain.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.byAddr[addr]
	if !ok || b.Revoked {
		return sentinel.ErrNotFound
	}
	b.PendingRevocation = true
	return nil
}

func (s *Store) ListStale(_ context.Context, current domain.VersionTag) ([]directory.NicknameBinding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []directory.NicknameBinding
	for _, b := range s.byAddr {
		if b.Active() && b.StaleAgainst(current) {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Address.String() < out[j].Address.String()
	})
	return out, nil
}

func (s *Store) PutVersion(_ context.Context, v directory.RegistryVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.versions[v.Tag]; ok {
		// Append-only: the contract address of a recorded deployment never
		// changes, only its authoritative flag may.
		if existing.ContractAddress != v.ContractAddress {
			return sentinel.ErrInvalidState
		}
		return nil
	}
	cp := v
	s.versions[v.Tag] = &cp
	return nil
}

func (s *Store) SetAuthoritative(_ context.Context, tag domain.VersionTag) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	target, ok := s.versions[tag]
	if !ok {
		return sentinel.ErrNotFound
	}
	for _, v := range s.versions {
		v.IsAuthoritative = false
	}
	target.IsAuthoritative = true
	if target.ActivatedAt.IsZero() {
		target.ActivatedAt = time.Now().UTC()
	}
	return nil
}

func (s *Store) Authoritative(_ context.Context) (directory.RegistryVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, v := range s.versions {
		if v.IsAuthoritative {
			return *v, nil
		}
	}
	return directory.RegistryVersion{}, sentinel.ErrNotFound
}

func (s *Store) Versions(_ context.Context) ([]directory.RegistryVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]directory.RegistryVersion, 0, len(s.versions))
	for _, v := range s.versions {
		out = append(out, *v)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Tag.Before(out[j].Tag)
	})
	return out, nil
}
