package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Compile-time interface check.
var _ Store = (*Redis)(nil)

// RedisOption configures the Redis store.
type RedisOption func(*Redis)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) RedisOption {
	return func(r *Redis) { r.logger = l }
}

// WithScanCount overrides the SCAN batch size used by DeleteByPrefix.
func WithScanCount(n int64) RedisOption {
	return func(r *Redis) { r.scanCount = n }
}

// Redis implements Store backed by Redis. The caller owns the Redis client
// lifecycle.
type Redis struct {
	client    redis.Cmdable
	logger    *slog.Logger
	scanCount int64
}

// NewRedis creates a new Redis-backed cache store.
func NewRedis(client redis.Cmdable, opts ...RedisOption) *Redis {
	r := &Redis{client: client, logger: slog.Default(), scanCount: 256}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Client returns the underlying Redis client.
func (r *Redis) Client() redis.Cmdable { return r.client }

// Ping verifies the Redis connection is alive.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return val, true, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// DeleteByPrefix scans for matching keys in batches and deletes them.
// Unlike KEYS, SCAN does not block the server on large keyspaces.
func (r *Redis) DeleteByPrefix(ctx context.Context, prefix string) error {
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, prefix+"*", r.scanCount).Result()
		if err != nil {
			return fmt.Errorf("redis scan %s*: %w", prefix, err)
		}
		if len(keys) > 0 {
			if err := r.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("redis del batch: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}
