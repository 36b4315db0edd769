// Package cache provides the key/value cache used for external factor lookups,
// search results and suggestion lists, plus rolling-window quota accounting.
package cache

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrCacheMiss indicates a cache miss or an expired entry.
var ErrCacheMiss = errors.New("cache miss")

// DefaultTTL is the lifetime of lookup, search and suggestion entries.
const DefaultTTL = 24 * time.Hour

// Client defines the cache interface.
type Client interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Normalize lower-cases and trims a search term for use in a cache key.
func Normalize(term string) string {
	return strings.ToLower(strings.TrimSpace(term))
}

// Key joins key parts with ':'.
func Key(parts ...string) string {
	return strings.Join(parts, ":")
}

// Quota is a fixed number of events allowed per rolling window.
type Quota struct {
	Limit  int
	Window time.Duration
}

// Decision is the outcome of one quota check.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}
