package utils

import (
	"context"
	"errors"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// RedisClient is a thin wrapper over the Redis client used for counters
type RedisClient struct {
	client redis.UniversalClient
}

// NewRedisClient wraps an existing client
func NewRedisClient(client redis.UniversalClient) *RedisClient {
	return &RedisClient{client: client}
}

// Increment increases key by 1 atomically and returns the new value
func (r *RedisClient) Increment(ctx context.Context, key string) (int64, error) {
	return r.client.Incr(ctx, key).Result()
}

// GetInt returns the integer at key, or 0 when the key does not exist
func (r *RedisClient) GetInt(ctx context.Context, key string) (int64, error) {
	raw, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(raw, 10, 64)
}

// Ping checks the connection
func (r *RedisClient) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
