// Package service implements the recovery authorization flow. The recovery
// key is always read fresh from the authoritative contract at submission
// time; nothing about authorization trusts the off-chain cache.
package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mr-tron/base58"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"namedir/internal/audit"
	"namedir/internal/directory"
	"namedir/internal/recovery"
	"namedir/internal/recovery/metrics"
	"namedir/internal/recovery/store"
	"namedir/internal/registry"
	"namedir/pkg/domain"
	dErrors "namedir/pkg/domain-errors"
	"namedir/pkg/platform/sentinel"
)

var tracer = otel.Tracer("namedir/internal/recovery")

// defaultChallengeTTL is the window a signed challenge stays valid.
const defaultChallengeTTL = 10 * time.Minute

// Registry is the slice of the registry adapter recovery depends on.
type Registry interface {
	RecoveryKey(ctx context.Context, addr domain.Address) ([]byte, error)
	SubmitKeyRotation(ctx context.Context, v directory.RegistryVersion, addr domain.Address, newKey, proof []byte) (registry.TxReceipt, error)
}

// Directory is the slice of the directory service recovery writes through
// after a successful rotation.
type Directory interface {
	Authoritative(ctx context.Context) (directory.RegistryVersion, error)
	MarkPendingRevocation(ctx context.Context, addr domain.Address) error
}

type Service struct {
	requests  store.RequestStore
	nonces    store.NonceStore
	registry  Registry
	directory Directory
	verifier  recovery.Verifier
	auditor   *audit.Publisher
	logger    *slog.Logger
	metrics   *metrics.Metrics
	clock     func() time.Time
	ttl       time.Duration
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

func WithAuditor(p *audit.Publisher) Option {
	return func(s *Service) {
		s.auditor = p
	}
}

func WithVerifier(v recovery.Verifier) Option {
	return func(s *Service) {
		if v != nil {
			s.verifier = v
		}
	}
}

func WithChallengeTTL(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.ttl = d
		}
	}
}

func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

func New(requests store.RequestStore, nonces store.NonceStore, reg Registry, dir Directory, opts ...Option) (*Service, error) {
	if requests == nil {
		return nil, fmt.Errorf("request store is required")
	}
	if nonces == nil {
		return nil, fmt.Errorf("nonce store is required")
	}
	if reg == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if dir == nil {
		return nil, fmt.Errorf("directory is required")
	}
	s := &Service{
		requests:  requests,
		nonces:    nonces,
		registry:  reg,
		directory: dir,
		verifier:  recovery.Ed25519Verifier{},
		logger:    slog.Default(),
		clock:     time.Now,
		ttl:       defaultChallengeTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Initiate opens a recovery request for an address and issues its challenge
// nonce. The address must have a recovery key registered on the
// authoritative contract; at most one request per address is pending.
func (s *Service) Initiate(ctx context.Context, addr domain.Address, userAgent string) (*recovery.Request, error) {
	ctx, span := tracer.Start(ctx, "recovery.initiate")
	defer span.End()

	if addr.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "address is required")
	}

	if _, err := s.registry.RecoveryKey(ctx, addr); err != nil {
		switch {
		case errors.Is(err, sentinel.ErrNotFound):
			s.metrics.Record("initiate", "rejected")
			return nil, dErrors.New(dErrors.CodeNotFound, "no recovery key registered for address")
		case errors.Is(err, sentinel.ErrUnavailable):
			s.metrics.Record("initiate", "unavailable")
			return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "registry unreachable")
		default:
			s.metrics.Record("initiate", "error")
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read recovery key")
		}
	}

	nonce, err := newChallenge()
	if err != nil {
		s.metrics.Record("initiate", "error")
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to issue challenge")
	}

	now := s.clock().UTC()
	req := &recovery.Request{
		ID:             domain.NewRequestID(),
		Address:        addr,
		ChallengeNonce: nonce,
		Device:         recovery.ParseDevice(userAgent),
		Status:         recovery.StatusPending,
		CreatedAt:      now,
		ExpiresAt:      now.Add(s.ttl),
	}
	createErr := s.requests.Create(ctx, req)
	if errors.Is(createErr, sentinel.ErrAlreadyPending) {
		// Only an unexpired request blocks re-initiation. A lapsed pending
		// request is finalized here, the same transition Status applies.
		if s.expireLapsedPending(ctx, addr) {
			createErr = s.requests.Create(ctx, req)
		}
	}
	if createErr != nil {
		if errors.Is(createErr, sentinel.ErrAlreadyPending) {
			s.metrics.Record("initiate", "conflict")
			return nil, dErrors.Wrap(createErr, dErrors.CodeConflict, "a recovery request is already pending for this address")
		}
		s.metrics.Record("initiate", "error")
		return nil, dErrors.Wrap(createErr, dErrors.CodeInternal, "failed to create recovery request")
	}

	span.SetAttributes(attribute.String("recovery.request_id", req.ID.String()))
	s.metrics.Record("initiate", "ok")
	s.auditor.Emit(ctx, audit.Event{
		Kind:      audit.KindRecoveryInitiated,
		Address:   addr.String(),
		RequestID: req.ID.String(),
	})
	s.logger.Info("recovery initiated", "request_id", req.ID, "address", addr)
	return req, nil
}

// Submit verifies a signed challenge and, on success, relays the key
// rotation. Validation order is fixed: request state, fresh on-chain key,
// signature, nonce consumption, rotation. The nonce is consumed before the
// rotation is sent, so a failed relay rejects the request rather than
// leaving a replayable signature behind.
func (s *Service) Submit(ctx context.Context, id domain.RequestID, signature, newKey []byte) (*recovery.Request, error) {
	ctx, span := tracer.Start(ctx, "recovery.submit")
	defer span.End()
	span.SetAttributes(attribute.String("recovery.request_id", id.String()))

	req, err := s.requests.Get(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "unknown recovery request")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load recovery request")
	}
	if !req.Pending() {
		// Resubmitting an already authorized request is a replay of its
		// consumed challenge, not a state conflict.
		if req.Status == recovery.StatusAuthorized {
			s.metrics.Record("submit", "replay")
			return nil, dErrors.Wrap(sentinel.ErrAlreadyUsed, dErrors.CodeUnauthorized, "challenge already used")
		}
		s.metrics.Record("submit", "conflict")
		return nil, dErrors.New(dErrors.CodeConflict, "recovery request already decided")
	}
	if req.Expired(s.clock()) {
		s.decide(ctx, req, recovery.StatusExpired, "challenge window closed")
		s.metrics.Record("submit", "expired")
		return nil, dErrors.New(dErrors.CodeExpired, "recovery challenge expired")
	}
	if len(newKey) == 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "replacement key is required")
	}

	key, err := s.registry.RecoveryKey(ctx, req.Address)
	if err != nil {
		switch {
		case errors.Is(err, sentinel.ErrNotFound):
			s.decide(ctx, req, recovery.StatusRejected, "recovery key no longer registered")
			s.metrics.Record("submit", "rejected")
			return nil, dErrors.New(dErrors.CodeUnauthorized, "recovery key no longer registered")
		case errors.Is(err, sentinel.ErrUnavailable):
			s.metrics.Record("submit", "unavailable")
			return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "registry unreachable")
		default:
			s.metrics.Record("submit", "error")
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read recovery key")
		}
	}

	verifyStart := s.clock()
	verifyErr := s.verifier.Verify(key, []byte(req.ChallengeNonce), signature)
	s.metrics.ObserveVerify(time.Since(verifyStart).Seconds())
	if verifyErr != nil {
		s.decide(ctx, req, recovery.StatusRejected, "signature verification failed")
		s.metrics.Record("submit", "rejected")
		return nil, dErrors.New(dErrors.CodeUnauthorized, "signature does not verify against registered recovery key")
	}

	if err := s.nonces.Consume(ctx, req.ChallengeNonce, s.ttl); err != nil {
		switch {
		case errors.Is(err, sentinel.ErrAlreadyUsed):
			s.metrics.Record("submit", "replay")
			return nil, dErrors.Wrap(err, dErrors.CodeUnauthorized, "challenge already used")
		case errors.Is(err, sentinel.ErrUnavailable):
			s.metrics.Record("submit", "unavailable")
			return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "nonce store unreachable")
		default:
			s.metrics.Record("submit", "error")
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to consume challenge")
		}
	}

	v, err := s.directory.Authoritative(ctx)
	if err != nil {
		s.decide(ctx, req, recovery.StatusRejected, "no authoritative registry version")
		s.metrics.Record("submit", "error")
		return nil, err
	}
	receipt, err := s.registry.SubmitKeyRotation(ctx, v, req.Address, newKey, signature)
	if err != nil {
		if errors.Is(err, sentinel.ErrStaleVersion) {
			s.decide(ctx, req, recovery.StatusRejected, "registry version changed during authorization")
			s.metrics.Record("submit", "conflict")
			return nil, dErrors.Wrap(err, dErrors.CodeConflict, "registry version changed, re-initiate recovery")
		}
		s.decide(ctx, req, recovery.StatusRejected, "key rotation relay failed")
		s.metrics.Record("submit", "error")
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to relay key rotation")
	}

	req.Status = recovery.StatusAuthorized
	req.TxHash = receipt.TxHash
	req.DecidedAt = s.clock().UTC()
	req.Reason = ""
	if err := s.requests.Update(ctx, req); err != nil {
		// The rotation is on chain; surface the request state failure loudly
		// but report the authorization.
		s.logger.Error("recovery authorized but request update failed", "request_id", req.ID, "error", err)
	}

	// The rotated account key invalidates the cached binding until the
	// reconciler re-confirms it.
	if err := s.directory.MarkPendingRevocation(ctx, req.Address); err != nil {
		s.logger.Warn("failed to flag binding after rotation", "address", req.Address, "error", err)
	}

	s.metrics.Record("submit", "ok")
	s.auditor.Emit(ctx, audit.Event{
		Kind:      audit.KindRecoveryAuthorized,
		Address:   req.Address.String(),
		RequestID: req.ID.String(),
		Version:   receipt.Version,
	})
	s.auditor.Emit(ctx, audit.Event{
		Kind:      audit.KindRotationSubmitted,
		Address:   req.Address.String(),
		RequestID: req.ID.String(),
		Version:   receipt.Version,
		TxHash:    receipt.TxHash,
	})
	s.logger.Info("recovery authorized", "request_id", req.ID, "address", req.Address, "tx", receipt.TxHash)
	return req, nil
}

// Status returns the request as stored. The transport layer decides how much
// detail each caller may see.
func (s *Service) Status(ctx context.Context, id domain.RequestID) (*recovery.Request, error) {
	req, err := s.requests.Get(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "unknown recovery request")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load recovery request")
	}
	if req.Pending() && req.Expired(s.clock()) {
		s.decide(ctx, req, recovery.StatusExpired, "challenge window closed")
	}
	return req, nil
}

// History lists every recovery attempt against an address, for the owner's
// review channel.
func (s *Service) History(ctx context.Context, addr domain.Address) ([]recovery.Request, error) {
	reqs, err := s.requests.ListByAddress(ctx, addr)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list recovery requests")
	}
	return reqs, nil
}

// expireLapsedPending expires the address's pending request if its challenge
// window has closed, and reports whether the pending slot was freed.
func (s *Service) expireLapsedPending(ctx context.Context, addr domain.Address) bool {
	pending, err := s.requests.PendingByAddress(ctx, addr)
	if err != nil {
		return false
	}
	if !pending.Expired(s.clock()) {
		return false
	}
	s.decide(ctx, pending, recovery.StatusExpired, "challenge window closed")
	return true
}

// decide finalizes a request. Persistence failures are logged, not
// propagated: the caller's error describes the decision itself.
func (s *Service) decide(ctx context.Context, req *recovery.Request, status recovery.Status, reason string) {
	req.Status = status
	req.Reason = reason
	req.DecidedAt = s.clock().UTC()
	if err := s.requests.Update(ctx, req); err != nil {
		s.logger.Error("failed to persist recovery decision", "request_id", req.ID, "status", status, "error", err)
	}
	if status == recovery.StatusRejected || status == recovery.StatusExpired {
		s.auditor.Emit(ctx, audit.Event{
			Kind:      audit.KindRecoveryRejected,
			Address:   req.Address.String(),
			RequestID: req.ID.String(),
			Outcome:   string(status),
			Reason:    reason,
		})
	}
}

// newChallenge issues a 256-bit random nonce, base58 encoded for transport.
func newChallenge() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read entropy: %w", err)
	}
	return base58.Encode(buf), nil
}
