package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hurttlocker/impact/internal/cache"
)

// sqliteCache implements cache.Client on the lookup_cache table.
type sqliteCache struct {
	s *SQLiteStore
}

// Cache returns a cache.Client persisted in this store.
func (s *SQLiteStore) Cache() cache.Client {
	return sqliteCache{s: s}
}

func (c sqliteCache) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	var expires int64
	err := c.s.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM lookup_cache WHERE key = ?`, key,
	).Scan(&value, &expires)
	if err == sql.ErrNoRows {
		return nil, cache.ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("reading cache entry: %w", err)
	}
	if c.s.now().UnixMilli() >= expires {
		return nil, cache.ErrCacheMiss
	}
	return value, nil
}

func (c sqliteCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	expires := c.s.now().Add(ttl).UnixMilli()
	_, err := c.s.db.ExecContext(ctx,
		`INSERT INTO lookup_cache (key, value, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, value, expires,
	)
	if err != nil {
		return fmt.Errorf("writing cache entry: %w", err)
	}
	return nil
}

func (c sqliteCache) Delete(ctx context.Context, key string) error {
	if _, err := c.s.db.ExecContext(ctx, `DELETE FROM lookup_cache WHERE key = ?`, key); err != nil {
		return fmt.Errorf("deleting cache entry: %w", err)
	}
	return nil
}

// Close is a no-op; the store owns the connection.
func (c sqliteCache) Close() error { return nil }

// PurgeExpired drops expired cache entries and rate events past retention.
func (s *SQLiteStore) PurgeExpired(ctx context.Context) (int64, error) {
	now := s.now()
	res, err := s.db.ExecContext(ctx, `DELETE FROM lookup_cache WHERE expires_at <= ?`, now.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("purging cache: %w", err)
	}
	n, _ := res.RowsAffected()

	res, err = s.db.ExecContext(ctx, `DELETE FROM rate_events WHERE created_at <= ?`, now.Add(-rateEventRetention).UnixMilli())
	if err != nil {
		return n, fmt.Errorf("purging rate events: %w", err)
	}
	m, _ := res.RowsAffected()
	return n + m, nil
}
