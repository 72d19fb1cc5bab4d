package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRateLimitStore implements RateLimitStore on Redis, for deployments
// running more than one API instance behind a load balancer.
type RedisRateLimitStore struct {
	client *redis.Client
}

// NewRedisRateLimitStore connects to Redis and returns a rate limit store.
func NewRedisRateLimitStore(addr, password string, db int) (*RedisRateLimitStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisRateLimitStore{client: client}, nil
}

// Increment increments the counter for a key, setting the expiry on first use.
func (s *RedisRateLimitStore) Increment(ctx context.Context, key string, window time.Duration) (int64, error) {
	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redis increment failed: %w", err)
	}
	return incr.Val(), nil
}

// IsHealthy reports whether Redis is reachable.
func (s *RedisRateLimitStore) IsHealthy() bool {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return s.client.Ping(ctx).Err() == nil
}

// Close closes the Redis connection.
func (s *RedisRateLimitStore) Close() error {
	return s.client.Close()
}
