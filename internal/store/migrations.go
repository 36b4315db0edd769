package store

import (
	"database/sql"
	"fmt"
	"time"
)

// migrate creates all tables if they don't exist and seeds metadata.
func (s *SQLiteStore) migrate() error {
	bootstrapDone, err := s.isMetaFlagEnabled("schema_bootstrap_complete")
	if err != nil {
		return fmt.Errorf("checking bootstrap state: %w", err)
	}

	if !bootstrapDone {
		if err := s.runBootstrapDDL(); err != nil {
			return err
		}
	}

	// meta table exists from here on
	if err := s.seedMeta(); err != nil {
		return fmt.Errorf("seeding metadata: %w", err)
	}

	if !bootstrapDone {
		if err := s.setMetaFlag("schema_bootstrap_complete"); err != nil {
			return fmt.Errorf("marking bootstrap complete: %w", err)
		}
	}

	if err := s.migrateRateEventIndex(); err != nil {
		return fmt.Errorf("migrating rate event index: %w", err)
	}
	return nil
}

func (s *SQLiteStore) runBootstrapDDL() error {
	statements := []string{
		// External factor lookups keyed by normalized term
		`CREATE TABLE IF NOT EXISTS lookup_cache (
			key        TEXT PRIMARY KEY,
			value      BLOB NOT NULL,
			expires_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_lookup_cache_expiry ON lookup_cache(expires_at)`,

		// Facility-level intensity rollups (sourced externally)
		`CREATE TABLE IF NOT EXISTS facilities (
			facility_id     TEXT PRIMARY KEY,
			intensity       REAL NOT NULL DEFAULT 0,
			primary_metered INTEGER NOT NULL DEFAULT 0,
			updated_at      DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		// Production site allocations, one row per (product, facility)
		`CREATE TABLE IF NOT EXISTS site_allocations (
			id                              TEXT PRIMARY KEY,
			product_id                      TEXT NOT NULL,
			facility_id                     TEXT NOT NULL,
			production_volume               REAL NOT NULL DEFAULT 0,
			share_of_production             REAL NOT NULL DEFAULT 0,
			facility_intensity              REAL NOT NULL DEFAULT 0,
			attributable_emissions_per_unit REAL NOT NULL DEFAULT 0,
			data_source                     TEXT NOT NULL DEFAULT 'Industry_Average',
			updated_at                      DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(product_id, facility_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_site_allocations_product ON site_allocations(product_id)`,

		// PRN obligations
		`CREATE TABLE IF NOT EXISTS prn_obligations (
			organization_id        TEXT NOT NULL,
			obligation_year        INTEGER NOT NULL,
			material_code          TEXT NOT NULL,
			total_tonnage_placed   REAL NOT NULL DEFAULT 0,
			recycling_target_pct   REAL NOT NULL DEFAULT 0,
			obligation_tonnage     REAL NOT NULL DEFAULT 0,
			prns_purchased_tonnage REAL NOT NULL DEFAULT 0,
			prn_cost_per_tonne     REAL NOT NULL DEFAULT 0,
			total_prn_cost         REAL NOT NULL DEFAULT 0,
			status                 TEXT NOT NULL,
			updated_at             DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (organization_id, obligation_year, material_code)
		)`,

		// Suggestion rate-limit events
		`CREATE TABLE IF NOT EXISTS rate_events (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			identity   TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,

		// Metadata
		`CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value TEXT
		)`,
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning migration transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range statements {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("executing migration %q: %w", truncate(stmt, 80), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing migration: %w", err)
	}
	return nil
}

func (s *SQLiteStore) isMetaFlagEnabled(key string) (bool, error) {
	var exists int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='meta'`).Scan(&exists); err != nil {
		return false, err
	}
	if exists == 0 {
		return false, nil
	}

	var value string
	err := s.db.QueryRow("SELECT value FROM meta WHERE key = ?", key).Scan(&value)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, err
	}
	return value == "true", nil
}

func (s *SQLiteStore) setMetaFlag(key string) error {
	_, err := s.db.Exec("INSERT OR REPLACE INTO meta (key, value) VALUES (?, 'true')", key)
	return err
}

// seedMeta initializes the meta table with defaults if not already set.
func (s *SQLiteStore) seedMeta() error {
	defaults := map[string]string{
		"schema_version": "1",
		"created_at":     time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range defaults {
		if _, err := s.db.Exec("INSERT OR IGNORE INTO meta (key, value) VALUES (?, ?)", k, v); err != nil {
			return fmt.Errorf("seeding meta key %q: %w", k, err)
		}
	}
	return nil
}

// migrateRateEventIndex adds the (identity, created_at) index used by the
// rolling-window count.
func (s *SQLiteStore) migrateRateEventIndex() error {
	done, err := s.isMetaFlagEnabled("rate_events_index_v1")
	if err != nil {
		return err
	}
	if done {
		return nil
	}
	if _, err := s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_rate_events_identity ON rate_events(identity, created_at)`); err != nil {
		return fmt.Errorf("creating rate event index: %w", err)
	}
	return s.setMetaFlag("rate_events_index_v1")
}

// GetDB returns the underlying *sql.DB.
func (s *SQLiteStore) GetDB() *sql.DB {
	return s.db
}

// truncate shortens a string for error messages.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
