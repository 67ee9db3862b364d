package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache implements ConversationCache on a Redis client.
type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisCache wraps an existing client. A non-positive TTL defaults to one
// hour.
func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisCache{rdb: rdb, ttl: ttl}
}

func key(phone string) string { return "conv:phone:" + phone }

// GetConversationID returns the cached conversation id for the phone number.
func (c *RedisCache) GetConversationID(ctx context.Context, phone string) (string, error) {
	id, err := c.rdb.Get(ctx, key(phone)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrMiss
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

// StoreConversationID records the mapping with the configured TTL.
func (c *RedisCache) StoreConversationID(ctx context.Context, phone, conversationID string) error {
	return c.rdb.Set(ctx, key(phone), conversationID, c.ttl).Err()
}

// Invalidate drops the mapping.
func (c *RedisCache) Invalidate(ctx context.Context, phone string) error {
	return c.rdb.Del(ctx, key(phone)).Err()
}
