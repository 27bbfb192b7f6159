// Package redis implements the challenge nonce store on Redis, so replay
// protection holds across service replicas.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"namedir/pkg/platform/sentinel"
)

const noncePrefix = "recovery:nonce:"

// NonceStore marks consumed nonces with SET NX, which is the atomic
// exactly-one-winner primitive Redis provides.
type NonceStore struct {
	client *redis.Client
}

func NewNonceStore(client *redis.Client) *NonceStore {
	return &NonceStore{client: client}
}

func (s *NonceStore) Consume(ctx context.Context, nonce string, ttl time.Duration) error {
	ok, err := s.client.SetNX(ctx, noncePrefix+nonce, 1, ttl).Result()
	if err != nil {
		return fmt.Errorf("consume nonce: %w: %w", sentinel.ErrUnavailable, err)
	}
	if !ok {
		return sentinel.ErrAlreadyUsed
	}
	return nil
}
