// Package store defines the persistence ports for recovery requests and
// challenge nonces. Requests are durable records; nonces are consumable
// one-shot marks whose only job is replay protection.
package store

import (
	"context"
	"time"

	"namedir/internal/recovery"
	"namedir/pkg/domain"
)

// RequestStore persists recovery requests.
//
// Create enforces the single-pending invariant atomically: a second pending
// request for the same address returns sentinel.ErrAlreadyPending. Decided
// requests are retained indefinitely.
type RequestStore interface {
	Create(ctx context.Context, req *recovery.Request) error
	Get(ctx context.Context, id domain.RequestID) (*recovery.Request, error)
	Update(ctx context.Context, req *recovery.Request) error
	PendingByAddress(ctx context.Context, addr domain.Address) (*recovery.Request, error)
	ListByAddress(ctx context.Context, addr domain.Address) ([]recovery.Request, error)
}

// NonceStore marks challenge nonces as consumed. Consume is atomic: exactly
// one caller wins, every later call gets sentinel.ErrAlreadyUsed. The TTL
// only needs to outlive the challenge window.
type NonceStore interface {
	Consume(ctx context.Context, nonce string, ttl time.Duration) error
}
