package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// TokenBlocklist stores revoked access-token IDs in redis until they would
// have expired anyway.
type TokenBlocklist struct {
	client *redis.Client
}

// NewTokenBlocklist constructs the blocklist.
func NewTokenBlocklist(client *redis.Client) *TokenBlocklist {
	return &TokenBlocklist{client: client}
}

func blocklistKey(jti string) string {
	return fmt.Sprintf("auth:blocklist:%s", jti)
}

// Revoke marks a token id as revoked for the given TTL.
func (b *TokenBlocklist) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := b.client.Set(ctx, blocklistKey(jti), "1", ttl).Err(); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

// IsRevoked reports whether a token id has been revoked.
func (b *TokenBlocklist) IsRevoked(ctx context.Context, jti string) (bool, error) {
	result, err := b.client.Exists(ctx, blocklistKey(jti)).Result()
	if err != nil {
		return false, fmt.Errorf("check token blocklist: %w", err)
	}
	return result > 0, nil
}
