// Package directory holds the off-chain cache of address↔nickname bindings
// and the record of deployed resolver contract versions.
package directory

import (
	"time"

	"namedir/pkg/domain"
)

// NicknameBinding is one address↔nickname pairing as currently known
// off-chain.
//
// Invariants: Address is unique; NicknameNormalized is unique across all
// non-revoked bindings; NicknameNormalized is always derivable from Nickname
// via pkg/normalize and is re-checked on every write. Bindings are logically
// revoked, never physically deleted, so the audit trail survives.
type NicknameBinding struct {
	Address            domain.Address
	Nickname           domain.Nickname
	NicknameNormalized string
	SourceVersion      domain.VersionTag
	ConfirmedAt        time.Time
	PendingRevocation  bool
	Revoked            bool
	RevokedAt          time.Time
}

// Active reports whether the binding participates in uniqueness checks and
// lookups.
func (b *NicknameBinding) Active() bool {
	return !b.Revoked
}

// StaleAgainst reports whether the binding was last confirmed by an older
// contract generation than current and therefore needs re-validation.
func (b *NicknameBinding) StaleAgainst(current domain.VersionTag) bool {
	return b.SourceVersion.Before(current)
}

// RegistryVersion is one deployed resolver contract. The set is append-only:
// archived versions stay queryable for historical reads and are only ever
// marked non-authoritative.
//
// Invariant: exactly one version is authoritative at a time.
type RegistryVersion struct {
	Tag             domain.VersionTag
	ContractAddress domain.Address
	IsAuthoritative bool
	ActivatedAt     time.Time
}
