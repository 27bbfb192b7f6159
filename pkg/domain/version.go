package domain

import (
	"fmt"

	dErrors "namedir/pkg/domain-errors"
)

// VersionTag identifies a deployed resolver contract generation. Tags are
// ordinal: a higher tag supersedes a lower one when marked authoritative.
type VersionTag string

// Deployed resolver generations. V1 is the legacy single-method resolver, V2
// added reverse resolution, V3 is the current contract carrying the recovery
// signer extension.
const (
	VersionV1 VersionTag = "v1"
	VersionV2 VersionTag = "v2"
	VersionV3 VersionTag = "v3"
)

// versionOrder is the single source of truth for tag ordering.
var versionOrder = map[VersionTag]int{
	VersionV1: 1,
	VersionV2: 2,
	VersionV3: 3,
}

// ParseVersionTag constructs a VersionTag from external input.
//
// Errors: returns CodeInvalidInput for unknown tags; deployments are
// append-only so the set here only ever grows.
func ParseVersionTag(s string) (VersionTag, error) {
	v := VersionTag(s)
	if _, ok := versionOrder[v]; !ok {
		return "", dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("unknown registry version: %q", s))
	}
	return v, nil
}

// VersionTagsBefore returns every known tag older than current, oldest first.
// Stores use it to select bindings needing re-validation after an upgrade.
func VersionTagsBefore(current VersionTag) []VersionTag {
	all := []VersionTag{VersionV1, VersionV2, VersionV3}
	var out []VersionTag
	for _, v := range all {
		if v.Before(current) {
			out = append(out, v)
		}
	}
	return out
}

// Before reports whether v is an older generation than other.
func (v VersionTag) Before(other VersionTag) bool {
	return versionOrder[v] < versionOrder[other]
}

// IsValid checks that the tag names a known generation.
func (v VersionTag) IsValid() bool {
	return versionOrder[v] != 0
}

// String returns the string representation of the tag.
func (v VersionTag) String() string {
	return string(v)
}
