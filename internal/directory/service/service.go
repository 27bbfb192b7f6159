// Package service implements the directory cache operations on top of a
// binding store, canonicalizing queries and re-deriving the normalized form
// on every write so the derivation invariant cannot be bypassed.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"namedir/internal/directory"
	"namedir/internal/directory/metrics"
	"namedir/internal/directory/store"
	"namedir/pkg/domain"
	dErrors "namedir/pkg/domain-errors"
	"namedir/pkg/normalize"
	"namedir/pkg/platform/sentinel"
)

type Service struct {
	store   store.Store
	logger  *slog.Logger
	metrics *metrics.Metrics
	clock   func() time.Time
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithClock sets the time source for testability.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

func New(st store.Store, opts ...Option) (*Service, error) {
	if st == nil {
		return nil, fmt.Errorf("directory store is required")
	}
	svc := &Service{
		store:  st,
		logger: slog.Default(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Get returns the active binding for an address. A missing binding is a
// normal negative result, reported as CodeNotFound without internal detail.
func (s *Service) Get(ctx context.Context, addr domain.Address) (*directory.NicknameBinding, error) {
	start := s.clock()
	b, err := s.store.Get(ctx, addr)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			s.metrics.RecordLookup("address", "miss", time.Since(start).Seconds())
			return nil, dErrors.New(dErrors.CodeNotFound, "no binding for address")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load binding")
	}
	s.metrics.RecordLookup("address", "hit", time.Since(start).Seconds())
	return b, nil
}

// GetByNickname canonicalizes the raw query through the normalizer before the
// index lookup, so callers never need to know the normalization rules.
func (s *Service) GetByNickname(ctx context.Context, rawNickname string) (*directory.NicknameBinding, error) {
	start := s.clock()
	normalized := normalize.Normalize(rawNickname)
	if normalized == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "nickname is empty after normalization")
	}
	b, err := s.store.GetByNickname(ctx, normalized)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			s.metrics.RecordLookup("nickname", "miss", time.Since(start).Seconds())
			return nil, dErrors.New(dErrors.CodeNotFound, "no binding for nickname")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load binding")
	}
	s.metrics.RecordLookup("nickname", "hit", time.Since(start).Seconds())
	return b, nil
}

// Upsert validates the derivation invariant and writes the binding. The
// normalized form is always re-derived here; a caller-supplied form that does
// not match is an invariant violation, not a storage problem.
func (s *Service) Upsert(ctx context.Context, b *directory.NicknameBinding) error {
	if b == nil {
		return dErrors.New(dErrors.CodeBadRequest, "binding is required")
	}
	if b.Address.IsZero() {
		return dErrors.New(dErrors.CodeInvalidInput, "binding address is required")
	}
	derived := normalize.Normalize(b.Nickname.String())
	if b.NicknameNormalized == "" {
		b.NicknameNormalized = derived
	} else if b.NicknameNormalized != derived {
		s.metrics.RecordWrite("upsert", "error")
		return dErrors.New(dErrors.CodeInvariantViolation, "normalized form does not match nickname")
	}
	if !b.SourceVersion.IsValid() {
		return dErrors.New(dErrors.CodeInvalidInput, "binding source version is required")
	}
	if b.ConfirmedAt.IsZero() {
		b.ConfirmedAt = s.clock().UTC()
	}

	if err := s.store.Upsert(ctx, b); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			s.metrics.RecordWrite("upsert", "conflict")
			return dErrors.Wrap(err, dErrors.CodeConflict, "nickname already bound to another address")
		}
		s.metrics.RecordWrite("upsert", "error")
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to upsert binding")
	}
	s.metrics.RecordWrite("upsert", "ok")
	return nil
}

// Revoke logically deletes the binding; the record stays for audit.
func (s *Service) Revoke(ctx context.Context, addr domain.Address) error {
	if err := s.store.Revoke(ctx, addr); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			s.metrics.RecordWrite("revoke", "error")
			return dErrors.New(dErrors.CodeNotFound, "no active binding for address")
		}
		s.metrics.RecordWrite("revoke", "error")
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to revoke binding")
	}
	s.metrics.RecordWrite("revoke", "ok")
	return nil
}

// MarkPendingRevocation flags a binding for refresh after its account key was
// rotated. A missing binding is not an error: the address may never have
// registered a nickname.
func (s *Service) MarkPendingRevocation(ctx context.Context, addr domain.Address) error {
	err := s.store.MarkPendingRevocation(ctx, addr)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to flag binding")
	}
	return nil
}

// StaleBindings lists active bindings last confirmed by a contract generation
// older than current. The reconciler sweeps these after a version activation.
func (s *Service) StaleBindings(ctx context.Context, current domain.VersionTag) ([]directory.NicknameBinding, error) {
	if !current.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "unknown version tag")
	}
	stale, err := s.store.ListStale(ctx, current)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list stale bindings")
	}
	return stale, nil
}

// ActivateVersion records a deployment (append-only) and promotes it to the
// single authoritative version. Callers kick off a reconciler sweep after a
// successful activation.
func (s *Service) ActivateVersion(ctx context.Context, tag domain.VersionTag, contract domain.Address) (directory.RegistryVersion, error) {
	if !tag.IsValid() {
		return directory.RegistryVersion{}, dErrors.New(dErrors.CodeInvalidInput, "unknown version tag")
	}
	if contract.IsZero() {
		return directory.RegistryVersion{}, dErrors.New(dErrors.CodeInvalidInput, "contract address is required")
	}

	v := directory.RegistryVersion{Tag: tag, ContractAddress: contract}
	if err := s.store.PutVersion(ctx, v); err != nil {
		if errors.Is(err, sentinel.ErrInvalidState) {
			return directory.RegistryVersion{}, dErrors.Wrap(err, dErrors.CodeConflict, "version already recorded with a different contract")
		}
		return directory.RegistryVersion{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record version")
	}
	if err := s.store.SetAuthoritative(ctx, tag); err != nil {
		return directory.RegistryVersion{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to promote version")
	}

	activated, err := s.store.Authoritative(ctx)
	if err != nil {
		return directory.RegistryVersion{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load authoritative version")
	}
	s.logger.Info("registry version activated",
		"tag", activated.Tag,
		"contract", activated.ContractAddress,
	)
	return activated, nil
}

// Authoritative returns the version currently trusted for writes.
func (s *Service) Authoritative(ctx context.Context) (directory.RegistryVersion, error) {
	v, err := s.store.Authoritative(ctx)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return directory.RegistryVersion{}, dErrors.New(dErrors.CodeNotFound, "no authoritative version configured")
		}
		return directory.RegistryVersion{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load authoritative version")
	}
	return v, nil
}

// Versions lists all recorded deployments, archived ones included.
func (s *Service) Versions(ctx context.Context) ([]directory.RegistryVersion, error) {
	versions, err := s.store.Versions(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list versions")
	}
	return versions, nil
}
