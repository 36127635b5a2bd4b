package auth

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const refreshKeyPrefix = "auth:refresh:"

// RefreshStore tracks valid refresh token hashes. Backed by redis with TTL
// so revocation and expiry need no sweep job. With no redis configured,
// refresh tokens are validated by signature alone (single-use rotation is
// then best effort).
type RefreshStore struct {
	redis *redis.Client
}

func NewRefreshStore(rdb *redis.Client) *RefreshStore {
	return &RefreshStore{redis: rdb}
}

// Save records a refresh token hash until its expiry
func (s *RefreshStore) Save(ctx context.Context, userID, tokenHash string, ttl time.Duration) error {
	if s.redis == nil {
		return nil
	}
	return s.redis.Set(ctx, refreshKeyPrefix+tokenHash, userID, ttl).Err()
}

// Consume validates and removes a refresh token hash (rotation)
func (s *RefreshStore) Consume(ctx context.Context, tokenHash string) error {
	if s.redis == nil {
		return nil
	}
	n, err := s.redis.Del(ctx, refreshKeyPrefix+tokenHash).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	if n == 0 {
		return ErrRefreshRevoked
	}
	return nil
}
