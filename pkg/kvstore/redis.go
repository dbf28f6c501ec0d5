package kvstore

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a Store backed by go-redis, for multi-instance deployments where
// C8 pinning and C9 caching must be shared across proxy replicas.
type Redis struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedis wraps an existing *redis.Client. keyPrefix namespaces all keys
// (e.g. "adbreak:" or "chconfig:") so callers sharing one Redis instance
// don't collide.
func NewRedis(client *redis.Client, keyPrefix string) *Redis {
	return &Redis{client: client, keyPrefix: keyPrefix}
}

func (r *Redis) fullKey(key string) string {
	return r.keyPrefix + key
}

func (r *Redis) Get(ctx context.Context, key string, dst interface{}) error {
	data, err := r.client.Get(ctx, r.fullKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		return err
	}
	return unmarshal(data, dst)
}

func (r *Redis) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := marshal(value)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.fullKey(key), data, ttl).Err()
}

func (r *Redis) SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	data, err := marshal(value)
	if err != nil {
		return false, err
	}
	return r.client.SetNX(ctx, r.fullKey(key), data, ttl).Result()
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.fullKey(key)).Err()
}

func (r *Redis) Keys(ctx context.Context, prefix string) ([]string, error) {
	pattern := r.fullKey(prefix) + "*"
	var keys []string
	iter := r.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val()[len(r.keyPrefix):])
	}
	return keys, iter.Err()
}
