//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	platformpg "namedir/internal/platform/postgres"
	"namedir/internal/recovery"
	"namedir/pkg/domain"
	"namedir/pkg/platform/sentinel"
	"namedir/pkg/testutil/containers"
)

type PostgresRequestSuite struct {
	suite.Suite
	pg    *containers.PostgresContainer
	store *Store
}

func TestPostgresRequestSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	suite.Run(t, new(PostgresRequestSuite))
}

func (s *PostgresRequestSuite) SetupSuite() {
	s.pg = containers.NewPostgresContainer(s.T())
	s.Require().NoError(platformpg.ApplySchema(context.Background(), s.pg.DB, Schema))
	s.store = New(s.pg.DB)
}

func (s *PostgresRequestSuite) SetupTest() {
	s.Require().NoError(s.pg.Truncate(context.Background(), "recovery_requests"))
}

func (s *PostgresRequestSuite) addr(n byte) domain.Address {
	var a domain.Address
	a[19] = n
	return a
}

func (s *PostgresRequestSuite) request(n byte) *recovery.Request {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &recovery.Request{
		ID:             domain.NewRequestID(),
		Address:        s.addr(n),
		ChallengeNonce: "nonce-" + domain.NewRequestID().String(),
		Device: recovery.DeviceInfo{
			UserAgent: "Mozilla/5.0 (iPhone)",
			Platform:  "iPhone",
			OS:        "iOS",
			Browser:   "Safari/17.0",
			Mobile:    true,
		},
		Status:    recovery.StatusPending,
		CreatedAt: now,
		ExpiresAt: now.Add(10 * time.Minute),
	}
}

func (s *PostgresRequestSuite) TestRoundTrip() {
	ctx := context.Background()
	req := s.request(1)
	s.Require().NoError(s.store.Create(ctx, req))

	got, err := s.store.Get(ctx, req.ID)
	s.Require().NoError(err)
	s.Equal(req.Address, got.Address)
	s.Equal(req.ChallengeNonce, got.ChallengeNonce)
	s.Equal(recovery.StatusPending, got.Status)
	s.Equal(req.Device, got.Device)
	s.WithinDuration(req.ExpiresAt, got.ExpiresAt, time.Second)
	s.True(got.DecidedAt.IsZero())
}

func (s *PostgresRequestSuite) TestSinglePendingPerAddress() {
	ctx := context.Background()
	first := s.request(1)
	s.Require().NoError(s.store.Create(ctx, first))

	// The partial unique index rejects a second pending request.
	err := s.store.Create(ctx, s.request(1))
	s.ErrorIs(err, sentinel.ErrAlreadyPending)

	// Deciding the first frees the slot.
	first.Status = recovery.StatusRejected
	first.Reason = "signature verification failed"
	first.DecidedAt = time.Now().UTC()
	s.Require().NoError(s.store.Update(ctx, first))

	s.Require().NoError(s.store.Create(ctx, s.request(1)))
}

func (s *PostgresRequestSuite) TestUpdatePersistsDecision() {
	ctx := context.Background()
	req := s.request(1)
	s.Require().NoError(s.store.Create(ctx, req))

	req.Status = recovery.StatusAuthorized
	req.TxHash = "0xrotation"
	req.DecidedAt = time.Now().UTC().Truncate(time.Millisecond)
	s.Require().NoError(s.store.Update(ctx, req))

	got, err := s.store.Get(ctx, req.ID)
	s.Require().NoError(err)
	s.Equal(recovery.StatusAuthorized, got.Status)
	s.Equal("0xrotation", got.TxHash)
	s.WithinDuration(req.DecidedAt, got.DecidedAt, time.Second)

	_, err = s.store.PendingByAddress(ctx, req.Address)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresRequestSuite) TestUpdateUnknownRequest() {
	req := s.request(1)
	s.ErrorIs(s.store.Update(context.Background(), req), sentinel.ErrNotFound)
}

func (s *PostgresRequestSuite) TestPendingByAddress() {
	ctx := context.Background()
	req := s.request(1)
	s.Require().NoError(s.store.Create(ctx, req))

	got, err := s.store.PendingByAddress(ctx, req.Address)
	s.Require().NoError(err)
	s.Equal(req.ID, got.ID)

	_, err = s.store.PendingByAddress(ctx, s.addr(9))
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresRequestSuite) TestListByAddressOrdersByCreation() {
	ctx := context.Background()
	first := s.request(1)
	first.CreatedAt = first.CreatedAt.Add(-time.Hour)
	first.Status = recovery.StatusExpired
	first.DecidedAt = first.CreatedAt.Add(10 * time.Minute)
	s.Require().NoError(s.store.Create(ctx, first))

	second := s.request(1)
	s.Require().NoError(s.store.Create(ctx, second))
	s.Require().NoError(s.store.Create(ctx, s.request(2)))

	history, err := s.store.ListByAddress(ctx, s.addr(1))
	s.Require().NoError(err)
	s.Require().Len(history, 2)
	s.Equal(first.ID, history[0].ID)
	s.Equal(second.ID, history[1].ID)
}
