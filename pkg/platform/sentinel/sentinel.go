package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores, the chain client and the
// registry adapter return these (optionally wrapped) so services can translate
// them into domain errors.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: binding, version or request does not exist
// - ErrConflict: a different active binding already owns the normalized nickname
// - ErrExpired: recovery request past its deadline
// - ErrAlreadyUsed: challenge nonce already consumed
// - ErrAlreadyPending: an unexpired recovery request exists for the address
// - ErrInvalidState: entity in wrong state for the requested transition
// - ErrStaleVersion: write attempted against a non-authoritative registry version
// - ErrUnavailable: chain RPC or store temporarily unreachable (retryable)
//
// For validation errors (bad input, missing fields), use pkg/domain-errors
// directly.
var (
	ErrNotFound       = errors.New("not found")
	ErrConflict       = errors.New("conflict")
	ErrExpired        = errors.New("expired")
	ErrAlreadyUsed    = errors.New("already used")
	ErrAlreadyPending = errors.New("already pending")
	ErrInvalidState   = errors.New("invalid state")
	ErrStaleVersion   = errors.New("stale version")
	ErrUnavailable    = errors.New("unavailable")
)
