package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/otpcore/keyspace"
)

// Blacklist records revoked access tokens until their natural expiry.
// Entries are tenant-scoped and keyed by token hash.
type Blacklist struct {
	redis redis.UniversalClient
}

func NewBlacklist(redisClient redis.UniversalClient) *Blacklist {
	return &Blacklist{redis: redisClient}
}

func blacklistKey(customerID, tokenID string) string {
	return keyspace.Key(customerID, "blacklist_"+keyspace.Hash(tokenID))
}

// Revoke inserts the token with a TTL matching its remaining validity.
// A token already past expiry needs no entry.
func (b *Blacklist) Revoke(ctx context.Context, customerID, tokenID string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	if err := b.redis.Set(ctx, blacklistKey(customerID, tokenID), "1", ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// IsRevoked reports whether the token has been revoked. Storage errors
// propagate so the caller can fail closed instead of honoring a
// possibly revoked token.
func (b *Blacklist) IsRevoked(ctx context.Context, customerID, tokenID string) (bool, error) {
	n, err := b.redis.Exists(ctx, blacklistKey(customerID, tokenID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return n > 0, nil
}
