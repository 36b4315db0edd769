package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryClient implements an in-process cache. Expired entries are dropped
// lazily on read and when the size bound is reached.
type MemoryClient struct {
	mu      sync.RWMutex
	data    map[string]cacheEntry
	maxSize int
	now     func() time.Time
}

type cacheEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryClient creates a new in-memory cache client.
func NewMemoryClient(maxSize int) *MemoryClient {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &MemoryClient{
		data:    make(map[string]cacheEntry),
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Get retrieves a value from cache.
func (c *MemoryClient) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.RLock()
	entry, ok := c.data[key]
	c.mu.RUnlock()

	if !ok || !c.now().Before(entry.expiresAt) {
		return nil, ErrCacheMiss
	}
	out := make([]byte, len(entry.value))
	copy(out, entry.value)
	return out, nil
}

// Set stores a value in cache with TTL.
func (c *MemoryClient) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.data[key]; !exists && len(c.data) >= c.maxSize {
		c.evictLocked()
	}

	stored := make([]byte, len(value))
	copy(stored, value)
	c.data[key] = cacheEntry{
		value:     stored,
		expiresAt: c.now().Add(ttl),
	}
	return nil
}

// Delete removes a value from cache.
func (c *MemoryClient) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

// Close is a no-op for memory cache.
func (c *MemoryClient) Close() error {
	return nil
}

// Len reports the number of stored entries, expired or not.
func (c *MemoryClient) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

// evictLocked drops expired entries, then the entry closest to expiry if still full.
func (c *MemoryClient) evictLocked() {
	now := c.now()
	for key, entry := range c.data {
		if !now.Before(entry.expiresAt) {
			delete(c.data, key)
		}
	}
	if len(c.data) < c.maxSize {
		return
	}

	var oldestKey string
	var oldestTime time.Time
	for key, entry := range c.data {
		if oldestKey == "" || entry.expiresAt.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.expiresAt
		}
	}
	if oldestKey != "" {
		delete(c.data, oldestKey)
	}
}

// MemoryLimiter is a process-local rolling-window quota counter.
type MemoryLimiter struct {
	mu     sync.Mutex
	events map[string][]time.Time
	now    func() time.Time
}

// NewMemoryLimiter creates an empty limiter.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{events: make(map[string][]time.Time), now: time.Now}
}

// Allow records one event for identity if the quota permits it.
func (l *MemoryLimiter) Allow(ctx context.Context, identity string, q Quota) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-q.Window)
	kept := l.events[identity][:0]
	for _, ts := range l.events[identity] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= q.Limit {
		l.events[identity] = kept
		retry := time.Duration(0)
		if len(kept) > 0 {
			retry = kept[0].Add(q.Window).Sub(now)
		}
		return Decision{Allowed: false, Remaining: 0, RetryAfter: retry}, nil
	}

	kept = append(kept, now)
	l.events[identity] = kept
	return Decision{Allowed: true, Remaining: q.Limit - len(kept)}, nil
}
