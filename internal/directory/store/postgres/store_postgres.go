// Package postgres persists the directory cache in PostgreSQL. The partial
// unique index on the normalized nickname is the storage-layer backstop for
// the uniqueness invariant the cache enforces.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"namedir/internal/directory"
	"namedir/pkg/domain"
	"namedir/pkg/platform/sentinel"
	txcontext "namedir/pkg/platform/tx"
)

// Schema is applied by deployment tooling and by integration tests. Kept next
// to the queries so the two cannot drift silently.
const Schema = `
CREATE TABLE IF NOT EXISTS nickname_bindings (
	address             TEXT PRIMARY KEY,
	nickname            TEXT NOT NULL,
	nickname_normalized TEXT NOT NULL,
	source_version      TEXT NOT NULL,
	confirmed_at        TIMESTAMPTZ NOT NULL,
	pending_revocation  BOOLEAN NOT NULL DEFAULT FALSE,
	revoked             BOOLEAN NOT NULL DEFAULT FALSE,
	revoked_at          TIMESTAMPTZ
);

CREATE UNIQUE INDEX IF NOT EXISTS nickname_bindings_normalized_active
	ON nickname_bindings (nickname_normalized) WHERE NOT revoked;

CREATE TABLE IF NOT EXISTS registry_versions (
	version_tag      TEXT PRIMARY KEY,
	contract_address TEXT NOT NULL,
	is_authoritative BOOLEAN NOT NULL DEFAULT FALSE,
	activated_at     TIMESTAMPTZ
);
`

const uniqueViolation = "23505"

// Store implements store.Store on PostgreSQL via the pgx stdlib driver.
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

const bindingColumns = `address, nickname, nickname_normalized, source_version, confirmed_at, pending_revocation, revoked, revoked_at`

func (s *Store) Get(ctx context.Context, addr domain.Address) (*directory.NicknameBinding, error) {
	row := s.execer(ctx).QueryRowContext(ctx,
		`SELECT `+bindingColumns+` FROM nickname_bindings WHERE address = $1 AND NOT revoked`,
		addr.String())
	return scanBinding(row)
}

func (s *Store) GetByNickname(ctx context.Context, normalized string) (*directory.NicknameBinding, error) {
	row := s.execer(ctx).QueryRowContext(ctx,
		`SELECT `+bindingColumns+` FROM nickname_bindings WHERE nickname_normalized = $1 AND NOT revoked`,
		normalized)
	return scanBinding(row)
}

// Upsert writes the full binding atomically. The ON CONFLICT target covers
// re-registration under the same address; a collision on the active
// normalized-nickname index surfaces as a unique violation and maps to
// sentinel.ErrConflict for the reconciler to resolve.
func (s *Store) Upsert(ctx context.Context, b *directory.NicknameBinding) error {
	var revokedAt sql.NullTime
	if !b.RevokedAt.IsZero() {
		revokedAt = sql.NullTime{Time: b.RevokedAt, Valid: true}
	}
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO nickname_bindings (`+bindingColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (address) DO UPDATE SET
			nickname            = EXCLUDED.nickname,
			nickname_normalized = EXCLUDED.nickname_normalized,
			source_version      = EXCLUDED.source_version,
			confirmed_at        = EXCLUDED.confirmed_at,
			pending_revocation  = EXCLUDED.pending_revocation,
			revoked             = EXCLUDED.revoked,
			revoked_at          = EXCLUDED.revoked_at
	`, b.Address.String(), b.Nickname.String(), b.NicknameNormalized, b.SourceVersion.String(),
		b.ConfirmedAt, b.PendingRevocation, b.Revoked, revokedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("upsert binding: %w", err)
	}
	return nil
}

func (s *Store) Revoke(ctx context.Context, addr domain.Address) error {
	res, err := s.execer(ctx).ExecContext(ctx, `
		UPDATE nickname_bindings
		SET revoked = TRUE, pending_revocation = FALSE, revoked_at = $2
		WHERE address = $1 AND NOT revoked
	`, addr.String(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("revoke binding: %w", err)
	}
	return requireRow(res)
}

func (s *Store) MarkPendingRevocation(ctx context.Context, addr domain.Address) error {
	res, err := s.execer(ctx).ExecContext(ctx, `
		UPDATE nickname_bindings
		SET pending_revocation = TRUE
		WHERE address = $1 AND NOT revoked
	`, addr.String())
	if err != nil {
		return fmt.Errorf("mark pending revocation: %w", err)
	}
	return requireRow(res)
}

func (s *Store) ListStale(ctx context.Context, current domain.VersionTag) ([]directory.NicknameBinding, error) {
	older := domain.VersionTagsBefore(current)
	if len(older) == 0 {
		return nil, nil
	}
	tags := make([]string, len(older))
	for i, t := range older {
		tags[i] = t.String()
	}
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT `+bindingColumns+` FROM nickname_bindings
		WHERE NOT revoked AND source_version = ANY($1)
		ORDER BY address
	`, pq.Array(tags))
	if err != nil {
		return nil, fmt.Errorf("list stale bindings: %w", err)
	}
	defer rows.Close()

	var out []directory.NicknameBinding
	for rows.Next() {
		b, err := scanBinding(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func (s *Store) PutVersion(ctx context.Context, v directory.RegistryVersion) error {
	var activatedAt sql.NullTime
	if !v.ActivatedAt.IsZero() {
		activatedAt = sql.NullTime{Time: v.ActivatedAt, Valid: true}
	}
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO registry_versions (version_tag, contract_address, is_authoritative, activated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (version_tag) DO NOTHING
	`, v.Tag.String(), v.ContractAddress.String(), v.IsAuthoritative, activatedAt)
	if err != nil {
		return fmt.Errorf("put version: %w", err)
	}

	// Append-only: a recorded deployment never moves to another contract.
	var existing string
	err = s.execer(ctx).QueryRowContext(ctx,
		`SELECT contract_address FROM registry_versions WHERE version_tag = $1`,
		v.Tag.String()).Scan(&existing)
	if err != nil {
		return fmt.Errorf("verify version: %w", err)
	}
	if existing != v.ContractAddress.String() {
		return sentinel.ErrInvalidState
	}
	return nil
}

func (s *Store) SetAuthoritative(ctx context.Context, tag domain.VersionTag) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin set authoritative: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE registry_versions
		SET is_authoritative = TRUE, activated_at = COALESCE(activated_at, $2)
		WHERE version_tag = $1
	`, tag.String(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("promote version: %w", err)
	}
	if err := requireRow(res); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE registry_versions SET is_authoritative = FALSE WHERE version_tag <> $1
	`, tag.String()); err != nil {
		return fmt.Errorf("demote versions: %w", err)
	}
	return tx.Commit()
}

func (s *Store) Authoritative(ctx context.Context) (directory.RegistryVersion, error) {
	row := s.execer(ctx).QueryRowContext(ctx, `
		SELECT version_tag, contract_address, is_authoritative, activated_at
		FROM registry_versions WHERE is_authoritative
	`)
	v, err := scanVersion(row)
	if err != nil {
		return directory.RegistryVersion{}, err
	}
	return *v, nil
}

func (s *Store) Versions(ctx context.Context) ([]directory.RegistryVersion, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT version_tag, contract_address, is_authoritative, activated_at
		FROM registry_versions ORDER BY version_tag
	`)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	var out []directory.RegistryVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBinding(row scanner) (*directory.NicknameBinding, error) {
	var (
		addrS, nick, norm, tagS string
		confirmedAt             time.Time
		pending, revoked        bool
		revokedAt               sql.NullTime
	)
	err := row.Scan(&addrS, &nick, &norm, &tagS, &confirmedAt, &pending, &revoked, &revokedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan binding: %w", err)
	}
	addr, err := domain.ParseAddress(addrS)
	if err != nil {
		return nil, fmt.Errorf("stored address invalid: %w", err)
	}
	tag, err := domain.ParseVersionTag(tagS)
	if err != nil {
		return nil, fmt.Errorf("stored version invalid: %w", err)
	}
	b := &directory.NicknameBinding{
		Address:            addr,
		Nickname:           domain.Nickname(nick),
		NicknameNormalized: norm,
		SourceVersion:      tag,
		ConfirmedAt:        confirmedAt,
		PendingRevocation:  pending,
		Revoked:            revoked,
	}
	if revokedAt.Valid {
		b.RevokedAt = revokedAt.Time
	}
	return b, nil
}

func scanVersion(row scanner) (*directory.RegistryVersion, error) {
	var (
		tagS, addrS string
		auth        bool
		activatedAt sql.NullTime
	)
	err := row.Scan(&tagS, &addrS, &auth, &activatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan version: %w", err)
	}
	tag, err := domain.ParseVersionTag(tagS)
	if err != nil {
		return nil, fmt.Errorf("stored version invalid: %w", err)
	}
	addr, err := domain.ParseAddress(addrS)
	if err != nil {
		return nil, fmt.Errorf("stored contract address invalid: %w", err)
	}
	v := &directory.RegistryVersion{
		Tag:             tag,
		ContractAddress: addr,
		IsAuthoritative: auth,
	}
	if activatedAt.Valid {
		v.ActivatedAt = activatedAt.Time
	}
	return v, nil
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
