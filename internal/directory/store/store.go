// Package store defines the persistence ports for the directory cache.
// Implementations live in the memory and postgres subpackages; both enforce
// the same uniqueness contract so services and the reconciler can stay
// storage-agnostic.
package store

import (
	"context"

	"namedir/internal/directory"
	"namedir/pkg/domain"
)

// BindingStore persists nickname bindings.
//
// Upsert is the single write path and enforces uniqueness atomically: if the
// incoming normalized nickname collides with a different address's active
// binding it returns sentinel.ErrConflict without touching state. Reads never
// mutate and never block writers. Revoked bindings are retained; Get and
// GetByNickname return sentinel.ErrNotFound for them.
type BindingStore interface {
	Get(ctx context.Context, addr domain.Address) (*directory.NicknameBinding, error)
	GetByNickname(ctx context.Context, normalized string) (*directory.NicknameBinding, error)
	Upsert(ctx context.Context, binding *directory.NicknameBinding) error
	Revoke(ctx context.Context, addr domain.Address) error
	MarkPendingRevocation(ctx context.Context, addr domain.Address) error

	// ListStale returns active bindings whose source version is older than
	// current. The reconciler re-derives these from the new contract after a
	// version activation.
	ListStale(ctx context.Context, current domain.VersionTag) ([]directory.NicknameBinding, error)
}

// VersionStore records deployed resolver versions. PutVersion is append-only;
// SetAuthoritative atomically demotes the previous authoritative version so
// exactly one is trusted for writes at any time.
type VersionStore interface {
	PutVersion(ctx context.Context, v directory.RegistryVersion) error
	SetAuthoritative(ctx context.Context, tag domain.VersionTag) error
	Authoritative(ctx context.Context) (directory.RegistryVersion, error)
	Versions(ctx context.Context) ([]directory.RegistryVersion, error)
}

// Store combines both ports; the postgres and memory implementations satisfy
// it with a single backing resource.
type Store interface {
	BindingStore
	VersionStore
}
