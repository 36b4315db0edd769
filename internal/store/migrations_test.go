package store

import "testing"

func TestRateEventIndexMigration(t *testing.T) {
	s := newTestStore(t)

	enabled, err := s.isMetaFlagEnabled("rate_events_index_v1")
	if err != nil || !enabled {
		t.Fatalf("index flag = %v, %v", enabled, err)
	}

	var name string
	err = s.db.QueryRow(
		"SELECT name FROM sqlite_master WHERE type='index' AND tbl_name='rate_events'",
	).Scan(&name)
	if err != nil {
		t.Fatalf("rate_events index missing: %v", err)
	}

	// second run is a no-op
	if err := s.migrateRateEventIndex(); err != nil {
		t.Fatalf("rerun: %v", err)
	}
}

func TestMetaFlagUnknownKey(t *testing.T) {
	s := newTestStore(t)
	enabled, err := s.isMetaFlagEnabled("never_set")
	if err != nil {
		t.Fatal(err)
	}
	if enabled {
		t.Fatal("unset flag reported enabled")
	}
}
