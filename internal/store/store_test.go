package store

import (
	"context"
	"path/filepath"
	"testing"
)

// newTestStore creates an in-memory store for testing.
func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewStore(StoreConfig{DBPath: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// --- Database Initialization ---

func TestNewStore(t *testing.T) {
	s := newTestStore(t)

	tables := []string{"lookup_cache", "facilities", "site_allocations", "prn_obligations", "rate_events", "meta"}
	for _, table := range tables {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found: %v", table, err)
		}
	}

	done, err := s.isMetaFlagEnabled("schema_bootstrap_complete")
	if err != nil || !done {
		t.Fatalf("bootstrap flag = %v, %v", done, err)
	}
}

func TestMigrationsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "impact.db")
	for i := 0; i < 3; i++ {
		s, err := NewStore(StoreConfig{DBPath: path})
		if err != nil {
			t.Fatalf("open %d: %v", i, err)
		}
		if i == 0 {
			if err := s.SetFacilityIntensity(context.Background(), facility("f1", 1, false)); err != nil {
				t.Fatal(err)
			}
		}
		s.Close()
	}

	s, err := NewStore(StoreConfig{DBPath: path})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	st, err := s.Stats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if st.Facilities != 1 || st.DBSizeBytes <= 0 {
		t.Fatalf("stats after reopen = %+v", st)
	}
}

func TestExpandPath(t *testing.T) {
	if got := ExpandPath("/abs/path.db"); got != "/abs/path.db" {
		t.Errorf("absolute path changed: %q", got)
	}
	if got := ExpandPath("~/x.db"); got == "~/x.db" || filepath.Base(got) != "x.db" {
		t.Errorf("home path not expanded: %q", got)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("abcdef", 3); got != "abc..." {
		t.Errorf("truncate = %q", got)
	}
	if got := truncate("ab", 3); got != "ab" {
		t.Errorf("truncate short = %q", got)
	}
}
