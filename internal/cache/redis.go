package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisClient implements Client on a shared Redis instance.
type RedisClient struct {
	client *redis.Client
	prefix string
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
	Prefix   string
}

// NewRedisClient connects and pings Redis.
func NewRedisClient(cfg RedisConfig) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "impact:"
	}
	return &RedisClient{client: client, prefix: prefix}, nil
}

// Get retrieves a value from cache.
func (c *RedisClient) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return val, nil
}

// Set stores a value in cache with TTL.
func (c *RedisClient) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.prefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Delete removes a value from cache.
func (c *RedisClient) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis delete: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (c *RedisClient) Close() error {
	return c.client.Close()
}

// Limiter returns a rolling-window limiter sharing this connection.
func (c *RedisClient) Limiter() *RedisLimiter {
	return &RedisLimiter{client: c.client, prefix: c.prefix + "quota:"}
}

// slidingWindow trims the sorted set to the window, then admits the event
// if the count is below the limit. Returns {allowed, count, oldest_ms}.
var slidingWindow = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count >= limit then
  local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
  local ts = now
  if oldest[2] then ts = tonumber(oldest[2]) end
  return {0, count, ts}
end
redis.call('ZADD', key, now, ARGV[4])
redis.call('PEXPIRE', key, window)
return {1, count + 1, 0}
`)

// RedisLimiter counts events per identity in a Redis sorted set so the
// quota holds across every process sharing the instance.
type RedisLimiter struct {
	client *redis.Client
	prefix string
}

// Allow records one event for identity if the quota permits it.
func (l *RedisLimiter) Allow(ctx context.Context, identity string, q Quota) (Decision, error) {
	now := time.Now().UnixMilli()
	window := q.Window.Milliseconds()

	vals, err := slidingWindow.Run(ctx, l.client, []string{l.prefix + identity},
		now, window, q.Limit, uuid.NewString()).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("redis quota: %w", err)
	}
	if len(vals) != 3 {
		return Decision{}, fmt.Errorf("redis quota: unexpected reply %v", vals)
	}

	if vals[0] == 0 {
		retry := time.Duration(vals[2]+window-now) * time.Millisecond
		if retry < 0 {
			retry = 0
		}
		return Decision{Allowed: false, Remaining: 0, RetryAfter: retry}, nil
	}
	remaining := q.Limit - int(vals[1])
	if remaining < 0 {
		remaining = 0
	}
	return Decision{Allowed: true, Remaining: remaining}, nil
}
