// Package store provides the SQLite storage layer for the impact engine.
//
// All mutable state lives in a single SQLite database file:
// - Factor lookup cache entries with expiry
// - Facility intensities and per-product site allocations
// - PRN obligations per organization, year and material
// - Suggestion rate-limit events
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hurttlocker/impact/internal/allocation"
	"github.com/hurttlocker/impact/internal/cache"
	prn "github.com/hurttlocker/impact/internal/recovery"
)

// DefaultDBPath is the default database location.
const DefaultDBPath = "~/.impact/impact.db"

var (
	ErrSiteExists         = errors.New("site already linked to product")
	ErrSiteNotFound       = errors.New("site not found")
	ErrObligationNotFound = errors.New("obligation not found")
	ErrMissingID          = errors.New("identifier is required")
)

// StoreStats holds row counts and file size.
type StoreStats struct {
	CacheEntries int64 `json:"cache_entries"`
	Facilities   int64 `json:"facilities"`
	Sites        int64 `json:"sites"`
	Obligations  int64 `json:"obligations"`
	RateEvents   int64 `json:"rate_events"`
	DBSizeBytes  int64 `json:"db_size_bytes"`
}

// StoreConfig holds configuration for NewStore.
type StoreConfig struct {
	DBPath string
}

// Store defines the persistence interface.
type Store interface {
	// Facilities
	SetFacilityIntensity(ctx context.Context, f allocation.Facility) error
	GetFacility(ctx context.Context, facilityID string) (*allocation.Facility, error)

	// Site allocations; every write recomputes all sibling shares atomically.
	AddSite(ctx context.Context, productID, facilityID string, volume float64) ([]allocation.Site, error)
	UpdateSiteVolume(ctx context.Context, productID, facilityID string, volume float64) ([]allocation.Site, error)
	RemoveSite(ctx context.Context, productID, facilityID string) ([]allocation.Site, error)
	ListSites(ctx context.Context, productID string) ([]allocation.Site, error)

	// PRN obligations
	SaveObligations(ctx context.Context, obligations []prn.Obligation) error
	GetObligation(ctx context.Context, orgID string, year int, material string) (*prn.Obligation, error)
	ListObligations(ctx context.Context, orgID string, year int) ([]prn.Obligation, error)
	RecordPurchase(ctx context.Context, orgID string, year int, material string, tonnes, costPerTonne float64) (*prn.Obligation, error)

	// Rate limiting
	Allow(ctx context.Context, identity string, q cache.Quota) (cache.Decision, error)

	// Lookup cache
	Cache() cache.Client

	// Observability
	Stats(ctx context.Context) (*StoreStats, error)

	// Maintenance
	PurgeExpired(ctx context.Context) (int64, error)
	Vacuum(ctx context.Context) error
	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
	now    func() time.Time
}

// NewStore creates a new SQLite-backed Store.
// Pass ":memory:" for in-memory databases (testing).
func NewStore(cfg StoreConfig) (*SQLiteStore, error) {
	if cfg.DBPath == "" {
		cfg.DBPath = ExpandPath(DefaultDBPath)
	}

	if cfg.DBPath != ":memory:" {
		dir := filepath.Dir(cfg.DBPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", sqliteDSN(cfg.DBPath))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if cfg.DBPath == ":memory:" {
		// each connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma %q: %w", p, err)
		}
	}

	s := &SQLiteStore{db: db, dbPath: cfg.DBPath, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// sqliteDSN sets the per-connection pragmas for every pooled connection and
// makes BEGIN take the write lock immediately.
func sqliteDSN(path string) string {
	return path + "?_txlock=immediate&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Vacuum runs VACUUM on the database. Manual only, never automatic.
func (s *SQLiteStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// Stats returns row counts per table and the database file size.
func (s *SQLiteStore) Stats(ctx context.Context) (*StoreStats, error) {
	st := &StoreStats{}
	counts := []struct {
		table string
		dst   *int64
	}{
		{"lookup_cache", &st.CacheEntries},
		{"facilities", &st.Facilities},
		{"site_allocations", &st.Sites},
		{"prn_obligations", &st.Obligations},
		{"rate_events", &st.RateEvents},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+c.table).Scan(c.dst); err != nil {
			return nil, fmt.Errorf("counting %s: %w", c.table, err)
		}
	}
	if s.dbPath != ":memory:" {
		if fi, err := os.Stat(s.dbPath); err == nil {
			st.DBSizeBytes = fi.Size()
		}
	}
	return st, nil
}

// ExpandPath expands ~ to home directory.
func ExpandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
