package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hurttlocker/impact/internal/cache"
)

// rateEventRetention bounds how long rate events are kept by PurgeExpired.
const rateEventRetention = 7 * 24 * time.Hour

// Allow records one suggestion event for identity if fewer than q.Limit
// events fall inside the rolling window. Check and insert share a transaction.
func (s *SQLiteStore) Allow(ctx context.Context, identity string, q cache.Quota) (cache.Decision, error) {
	now := s.now()
	cutoff := now.Add(-q.Window).UnixMilli()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return cache.Decision{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var count int
	var oldest sql.NullInt64
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*), MIN(created_at) FROM rate_events WHERE identity = ? AND created_at > ?`,
		identity, cutoff,
	).Scan(&count, &oldest)
	if err != nil {
		return cache.Decision{}, fmt.Errorf("counting rate events: %w", err)
	}

	if count >= q.Limit {
		retry := time.Duration(0)
		if oldest.Valid {
			retry = time.UnixMilli(oldest.Int64).Add(q.Window).Sub(now)
			if retry < 0 {
				retry = 0
			}
		}
		return cache.Decision{Allowed: false, Remaining: 0, RetryAfter: retry}, nil
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO rate_events (identity, created_at) VALUES (?, ?)`, identity, now.UnixMilli(),
	); err != nil {
		return cache.Decision{}, fmt.Errorf("recording rate event: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return cache.Decision{}, fmt.Errorf("committing rate event: %w", err)
	}
	return cache.Decision{Allowed: true, Remaining: q.Limit - count - 1}, nil
}
