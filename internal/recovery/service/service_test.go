package service

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"namedir/internal/audit"
	"namedir/internal/directory"
	dirservice "namedir/internal/directory/service"
	dirmemory "namedir/internal/directory/store/memory"
	"namedir/internal/recovery"
	recmemory "namedir/internal/recovery/store/memory"
	"namedir/internal/registry"
	"namedir/pkg/domain"
	dErrors "namedir/pkg/domain-errors"
	"namedir/pkg/platform/sentinel"
)

// fakeRegistry serves recovery keys from a map and records rotations.
type fakeRegistry struct {
	mu        sync.Mutex
	keys      map[domain.Address][]byte
	keyErr    error
	rotateErr error
	rotations int
}

func (f *fakeRegistry) RecoveryKey(_ context.Context, addr domain.Address) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.keyErr != nil {
		return nil, f.keyErr
	}
	key, ok := f.keys[addr]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return key, nil
}

func (f *fakeRegistry) SubmitKeyRotation(_ context.Context, v directory.RegistryVersion, _ domain.Address, _, _ []byte) (registry.TxReceipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rotateErr != nil {
		return registry.TxReceipt{}, f.rotateErr
	}
	f.rotations++
	return registry.TxReceipt{TxHash: "0xrotation", Version: v.Tag, SubmittedAt: time.Now()}, nil
}

func (f *fakeRegistry) setKey(addr domain.Address, key []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys[addr] = key
}

type RecoverySuite struct {
	suite.Suite
	registry *fakeRegistry
	dir      *dirservice.Service
	dirStore *dirmemory.Store
	sink     *audit.MemorySink
	svc      *Service

	now time.Time

	pub  ed25519.PublicKey
	priv ed25519.PrivateKey
}

func TestRecoverySuite(t *testing.T) {
	suite.Run(t, new(RecoverySuite))
}

func (s *RecoverySuite) SetupTest() {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	s.Require().NoError(err)
	s.pub, s.priv = pub, priv

	s.registry = &fakeRegistry{keys: make(map[domain.Address][]byte)}
	s.dirStore = dirmemory.New()
	s.sink = audit.NewMemorySink()
	s.now = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	dir, err := dirservice.New(s.dirStore)
	s.Require().NoError(err)
	s.dir = dir
	_, err = dir.ActivateVersion(context.Background(), domain.VersionV3, s.addr(0xcc))
	s.Require().NoError(err)

	svc, err := New(recmemory.New(), recmemory.NewNonceStore(), s.registry, dir,
		WithAuditor(audit.NewPublisher(s.sink)),
		WithClock(func() time.Time { return s.now }),
	)
	s.Require().NoError(err)
	s.svc = svc
}

func (s *RecoverySuite) addr(n byte) domain.Address {
	var a domain.Address
	a[19] = n
	return a
}

func (s *RecoverySuite) initiate(addr domain.Address) *recovery.Request {
	s.registry.setKey(addr, s.pub)
	req, err := s.svc.Initiate(context.Background(), addr, "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X)")
	s.Require().NoError(err)
	return req
}

func (s *RecoverySuite) sign(req *recovery.Request) []byte {
	return ed25519.Sign(s.priv, []byte(req.ChallengeNonce))
}

func (s *RecoverySuite) TestInitiate() {
	ctx := context.Background()

	s.Run("issues a pending challenge", func() {
		req := s.initiate(s.addr(1))
		s.Equal(recovery.StatusPending, req.Status)
		s.NotEmpty(req.ChallengeNonce)
		s.True(req.ExpiresAt.After(s.now))
		s.True(req.Device.Mobile)
		s.Len(s.sink.ByKind(audit.KindRecoveryInitiated), 1)
	})

	s.Run("requires a registered recovery key", func() {
		_, err := s.svc.Initiate(ctx, s.addr(9), "")
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("rejects a second pending request", func() {
		s.initiate(s.addr(2))
		_, err := s.svc.Initiate(ctx, s.addr(2), "")
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("lapsed pending request does not block re-initiation", func() {
		first := s.initiate(s.addr(4))

		// The challenge window closes with no submit and no status poll;
		// initiating again must expire the old request and issue a fresh one.
		s.now = s.now.Add(defaultChallengeTTL + time.Minute)
		fresh, err := s.svc.Initiate(ctx, s.addr(4), "")
		s.Require().NoError(err)
		s.Equal(recovery.StatusPending, fresh.Status)
		s.NotEqual(first.ID, fresh.ID)
		s.NotEqual(first.ChallengeNonce, fresh.ChallengeNonce)

		got, err := s.svc.Status(ctx, first.ID)
		s.Require().NoError(err)
		s.Equal(recovery.StatusExpired, got.Status)
	})

	s.Run("reports chain outage as retryable", func() {
		s.registry.keyErr = fmt.Errorf("eth_call: %w", sentinel.ErrUnavailable)
		_, err := s.svc.Initiate(ctx, s.addr(3), "")
		s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
		s.registry.keyErr = nil
	})
}

func (s *RecoverySuite) TestSubmitAuthorizes() {
	ctx := context.Background()
	addr := s.addr(1)
	s.Require().NoError(s.dir.Upsert(ctx, &directory.NicknameBinding{
		Address:       addr,
		Nickname:      "Neo",
		SourceVersion: domain.VersionV3,
	}))
	req := s.initiate(addr)

	got, err := s.svc.Submit(ctx, req.ID, s.sign(req), []byte("new-recovery-key"))
	s.Require().NoError(err)
	s.Equal(recovery.StatusAuthorized, got.Status)
	s.Equal("0xrotation", got.TxHash)
	s.Equal(1, s.registry.rotations)

	// The cached binding is flagged until the reconciler re-confirms it.
	b, err := s.dir.Get(ctx, addr)
	s.Require().NoError(err)
	s.True(b.PendingRevocation)

	s.Len(s.sink.ByKind(audit.KindRecoveryAuthorized), 1)
	s.Len(s.sink.ByKind(audit.KindRotationSubmitted), 1)
}

func (s *RecoverySuite) TestSubmitRejectsBadSignature() {
	ctx := context.Background()
	req := s.initiate(s.addr(1))

	badSig := make([]byte, ed25519.SignatureSize)
	_, err := s.svc.Submit(ctx, req.ID, badSig, []byte("new-key"))
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	s.Zero(s.registry.rotations)

	got, err := s.svc.Status(ctx, req.ID)
	s.Require().NoError(err)
	s.Equal(recovery.StatusRejected, got.Status)
	s.Len(s.sink.ByKind(audit.KindRecoveryRejected), 1)

	// A decided request cannot be resubmitted, even with a valid signature.
	_, err = s.svc.Submit(ctx, req.ID, s.sign(req), []byte("new-key"))
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
}

func (s *RecoverySuite) TestSubmitReplayAfterAuthorization() {
	ctx := context.Background()
	req := s.initiate(s.addr(1))
	sig := s.sign(req)

	_, err := s.svc.Submit(ctx, req.ID, sig, []byte("new-key"))
	s.Require().NoError(err)
	s.Equal(1, s.registry.rotations)

	// Replaying the consumed challenge is rejected as a replay and must not
	// rotate the key a second time or disturb the recorded decision.
	_, err = s.svc.Submit(ctx, req.ID, sig, []byte("other-key"))
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	s.True(errors.Is(err, sentinel.ErrAlreadyUsed))
	s.Equal(1, s.registry.rotations)

	got, err := s.svc.Status(ctx, req.ID)
	s.Require().NoError(err)
	s.Equal(recovery.StatusAuthorized, got.Status)
}

func (s *RecoverySuite) TestSubmitReadsKeyFresh() {
	ctx := context.Background()
	addr := s.addr(1)
	req := s.initiate(addr)
	sig := s.sign(req)

	// The key on chain rotates between initiation and submission; the stale
	// signature must not authorize against the old key.
	newPub, _, err := ed25519.GenerateKey(rand.Reader)
	s.Require().NoError(err)
	s.registry.setKey(addr, newPub)

	_, err = s.svc.Submit(ctx, req.ID, sig, []byte("new-key"))
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	s.Zero(s.registry.rotations)
}

func (s *RecoverySuite) TestSubmitExpiredChallenge() {
	ctx := context.Background()
	req := s.initiate(s.addr(1))

	s.now = s.now.Add(defaultChallengeTTL + time.Minute)
	_, err := s.svc.Submit(ctx, req.ID, s.sign(req), []byte("new-key"))
	s.True(dErrors.HasCode(err, dErrors.CodeExpired))

	got, err := s.svc.Status(ctx, req.ID)
	s.Require().NoError(err)
	s.Equal(recovery.StatusExpired, got.Status)
}

func (s *RecoverySuite) TestSubmitRotationFailureRejects() {
	ctx := context.Background()
	req := s.initiate(s.addr(1))
	s.registry.rotateErr = fmt.Errorf("submit: %w", sentinel.ErrStaleVersion)

	_, err := s.svc.Submit(ctx, req.ID, s.sign(req), []byte("new-key"))
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))

	got, err := s.svc.Status(ctx, req.ID)
	s.Require().NoError(err)
	s.Equal(recovery.StatusRejected, got.Status)
}

func (s *RecoverySuite) TestStatusExpiresLazily() {
	ctx := context.Background()
	req := s.initiate(s.addr(1))

	s.now = s.now.Add(defaultChallengeTTL + time.Minute)
	got, err := s.svc.Status(ctx, req.ID)
	s.Require().NoError(err)
	s.Equal(recovery.StatusExpired, got.Status)

	// A fresh request can now be opened.
	_, err = s.svc.Initiate(ctx, s.addr(1), "")
	s.NoError(err)
}

func (s *RecoverySuite) TestHistory() {
	ctx := context.Background()
	addr := s.addr(1)
	req := s.initiate(addr)
	_, err := s.svc.Submit(ctx, req.ID, s.sign(req), []byte("new-key"))
	s.Require().NoError(err)

	req2 := s.initiate(addr)
	_, err = s.svc.Submit(ctx, req2.ID, make([]byte, ed25519.SignatureSize), []byte("new-key"))
	s.Error(err)

	history, err := s.svc.History(ctx, addr)
	s.Require().NoError(err)
	s.Len(history, 2)
}
