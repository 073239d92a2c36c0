package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const keyPrefix = "lavanderia:views:"

type RedisViewCache struct {
	client *redis.Client
}

func NewRedisViewCache(addr string, password string, db int) *RedisViewCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisViewCache{client: client}
}

func (c *RedisViewCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisViewCache) Close() error {
	return c.client.Close()
}

func (c *RedisViewCache) Generation(ctx context.Context, ownerID string) (int64, error) {
	gen, err := c.client.Get(ctx, generationKey(ownerID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

func (c *RedisViewCache) Get(ctx context.Context, ownerID string, generation int64, view string, dest any) (bool, error) {
	val, err := c.client.Get(ctx, viewKey(ownerID, generation, view)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(val, dest); err != nil {
		return false, err
	}
	return true, nil
}

func (c *RedisViewCache) Set(ctx context.Context, ownerID string, generation int64, view string, value any, ttl time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, viewKey(ownerID, generation, view), payload, ttl).Err()
}

// Invalidate bumps the owner's generation. Entries of older generations are
// never read again and expire with their TTL.
func (c *RedisViewCache) Invalidate(ctx context.Context, ownerID string) error {
	return c.client.Incr(ctx, generationKey(ownerID)).Err()
}

func generationKey(ownerID string) string {
	return keyPrefix + ownerID + ":gen"
}

func viewKey(ownerID string, generation int64, view string) string {
	return fmt.Sprintf("%s%s:%d:%s", keyPrefix, ownerID, generation, view)
}
