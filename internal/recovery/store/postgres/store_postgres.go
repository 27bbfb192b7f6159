// Package postgres persists recovery requests in PostgreSQL. The partial
// unique index on pending requests is the storage-layer backstop for the
// single-pending invariant.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"namedir/internal/recovery"
	"namedir/pkg/domain"
	"namedir/pkg/platform/sentinel"
	txcontext "namedir/pkg/platform/tx"
)

// Schema is applied by deployment tooling and by integration tests.
const Schema = `
CREATE TABLE IF NOT EXISTS recovery_requests (
	id              UUID PRIMARY KEY,
	address         TEXT NOT NULL,
	challenge_nonce TEXT NOT NULL,
	user_agent      TEXT NOT NULL DEFAULT '',
	platform        TEXT NOT NULL DEFAULT '',
	os              TEXT NOT NULL DEFAULT '',
	browser         TEXT NOT NULL DEFAULT '',
	mobile          BOOLEAN NOT NULL DEFAULT FALSE,
	bot             BOOLEAN NOT NULL DEFAULT FALSE,
	status          TEXT NOT NULL,
	reason          TEXT NOT NULL DEFAULT '',
	tx_hash         TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL,
	expires_at      TIMESTAMPTZ NOT NULL,
	decided_at      TIMESTAMPTZ
);

CREATE UNIQUE INDEX IF NOT EXISTS recovery_requests_single_pending
	ON recovery_requests (address) WHERE status = 'pending';
`

const uniqueViolation = "23505"

// Store implements store.RequestStore on PostgreSQL via the pgx stdlib driver.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// executor is satisfied by both *sql.DB and *sql.Tx; queries join a
// caller-owned transaction when one rides the context.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) execer(ctx context.Context) executor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

const requestColumns = `id, address, challenge_nonce, user_agent, platform, os, browser, mobile, bot, status, reason, tx_hash, created_at, expires_at, decided_at`

func (s *Store) Create(ctx context.Context, req *recovery.Request) error {
	var decidedAt sql.NullTime
	if !req.DecidedAt.IsZero() {
		decidedAt = sql.NullTime{Time: req.DecidedAt, Valid: true}
	}
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO recovery_requests (`+requestColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, req.ID.String(), req.Address.String(), req.ChallengeNonce,
		req.Device.UserAgent, req.Device.Platform, req.Device.OS, req.Device.Browser,
		req.Device.Mobile, req.Device.Bot,
		string(req.Status), req.Reason, req.TxHash,
		req.CreatedAt, req.ExpiresAt, decidedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return sentinel.ErrAlreadyPending
		}
		return fmt.Errorf("create recovery request: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id domain.RequestID) (*recovery.Request, error) {
	row := s.execer(ctx).QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM recovery_requests WHERE id = $1`, id.String())
	return scanRequest(row)
}

func (s *Store) Update(ctx context.Context, req *recovery.Request) error {
	var decidedAt sql.NullTime
	if !req.DecidedAt.IsZero() {
		decidedAt = sql.NullTime{Time: req.DecidedAt, Valid: true}
	}
	res, err := s.execer(ctx).ExecContext(ctx, `
		UPDATE recovery_requests
		SET status = $2, reason = $3, tx_hash = $4, decided_at = $5
		WHERE id = $1
	`, req.ID.String(), string(req.Status), req.Reason, req.TxHash, decidedAt)
	if err != nil {
		return fmt.Errorf("update recovery request: %w", err)
	}
	return requireRow(res)
}

func (s *Store) PendingByAddress(ctx context.Context, addr domain.Address) (*recovery.Request, error) {
	row := s.execer(ctx).QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM recovery_requests WHERE address = $1 AND status = 'pending'`,
		addr.String())
	return scanRequest(row)
}

func (s *Store) ListByAddress(ctx context.Context, addr domain.Address) ([]recovery.Request, error) {
	rows, err := s.execer(ctx).QueryContext(ctx,
		`SELECT `+requestColumns+` FROM recovery_requests WHERE address = $1 ORDER BY created_at`,
		addr.String())
	if err != nil {
		return nil, fmt.Errorf("list recovery requests: %w", err)
	}
	defer rows.Close()

	var out []recovery.Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *req)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRequest(row scanner) (*recovery.Request, error) {
	var (
		idS, addrS, nonce, status, reason, txHash string
		ua, platform, osName, browser             string
		mobile, bot                               bool
		createdAt, expiresAt                      time.Time
		decidedAt                                 sql.NullTime
	)
	err := row.Scan(&idS, &addrS, &nonce, &ua, &platform, &osName, &browser, &mobile, &bot,
		&status, &reason, &txHash, &createdAt, &expiresAt, &decidedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan recovery request: %w", err)
	}
	id, err := domain.ParseRequestID(idS)
	if err != nil {
		return nil, fmt.Errorf("stored request id invalid: %w", err)
	}
	addr, err := domain.ParseAddress(addrS)
	if err != nil {
		return nil, fmt.Errorf("stored address invalid: %w", err)
	}
	req := &recovery.Request{
		ID:             id,
		Address:        addr,
		ChallengeNonce: nonce,
		Device: recovery.DeviceInfo{
			UserAgent: ua,
			Platform:  platform,
			OS:        osName,
			Browser:   browser,
			Mobile:    mobile,
			Bot:       bot,
		},
		Status:    recovery.Status(status),
		Reason:    reason,
		TxHash:    txHash,
		CreatedAt: createdAt,
		ExpiresAt: expiresAt,
	}
	if decidedAt.Valid {
		req.DecidedAt = decidedAt.Time
	}
	return req, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}
