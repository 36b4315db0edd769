package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/hurttlocker/impact/internal/allocation"
	"github.com/hurttlocker/impact/internal/metrics"
)

// beforeCommitHook runs after the sibling rows are rewritten and before the
// transaction commits. Tests use it to force a failed fan-out.
var beforeCommitHook func(productID string) error

// SetFacilityIntensity caches a facility's externally aggregated intensity and
// refreshes every allocation row that references it.
func (s *SQLiteStore) SetFacilityIntensity(ctx context.Context, f allocation.Facility) error {
	f.ID = strings.TrimSpace(f.ID)
	if f.ID == "" {
		return fmt.Errorf("%w: facility id", ErrMissingID)
	}
	now := s.now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO facilities (facility_id, intensity, primary_metered, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(facility_id) DO UPDATE SET
		   intensity = excluded.intensity,
		   primary_metered = excluded.primary_metered,
		   updated_at = excluded.updated_at`,
		f.ID, f.Intensity, boolInt(f.PrimaryMetered), now,
	)
	if err != nil {
		return fmt.Errorf("saving facility %s: %w", f.ID, err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE site_allocations
		 SET facility_intensity = ?, attributable_emissions_per_unit = ?, data_source = ?, updated_at = ?
		 WHERE facility_id = ?`,
		f.Intensity, f.Intensity, string(f.Source()), now, f.ID,
	)
	if err != nil {
		return fmt.Errorf("refreshing sites for facility %s: %w", f.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing facility: %w", err)
	}
	return nil
}

// GetFacility returns a cached facility, or nil when unknown.
func (s *SQLiteStore) GetFacility(ctx context.Context, facilityID string) (*allocation.Facility, error) {
	f := &allocation.Facility{}
	var metered int
	err := s.db.QueryRowContext(ctx,
		`SELECT facility_id, intensity, primary_metered, updated_at FROM facilities WHERE facility_id = ?`,
		facilityID,
	).Scan(&f.ID, &f.Intensity, &metered, &f.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting facility %s: %w", facilityID, err)
	}
	f.PrimaryMetered = metered != 0
	return f, nil
}

// AddSite links a facility to a product and recomputes every sibling share.
func (s *SQLiteStore) AddSite(ctx context.Context, productID, facilityID string, volume float64) ([]allocation.Site, error) {
	if err := validateSiteKey(productID, facilityID); err != nil {
		return nil, err
	}
	if err := allocation.ValidateVolume(volume); err != nil {
		return nil, err
	}
	return s.mutateSites(ctx, productID, metrics.TriggerInsert, func(tx *sql.Tx) error {
		exists, err := siteExists(ctx, tx, productID, facilityID)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: %s/%s", ErrSiteExists, productID, facilityID)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO site_allocations (id, product_id, facility_id, production_volume, updated_at)
			 VALUES (?, ?, ?, ?, ?)`,
			uuid.NewString(), productID, facilityID, volume, s.now().UTC(),
		)
		if err != nil {
			return fmt.Errorf("inserting site: %w", err)
		}
		return nil
	})
}

// UpdateSiteVolume changes one site's volume and recomputes every sibling share.
func (s *SQLiteStore) UpdateSiteVolume(ctx context.Context, productID, facilityID string, volume float64) ([]allocation.Site, error) {
	if err := validateSiteKey(productID, facilityID); err != nil {
		return nil, err
	}
	if err := allocation.ValidateVolume(volume); err != nil {
		return nil, err
	}
	return s.mutateSites(ctx, productID, metrics.TriggerUpdate, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE site_allocations SET production_volume = ?, updated_at = ?
			 WHERE product_id = ? AND facility_id = ?`,
			volume, s.now().UTC(), productID, facilityID,
		)
		if err != nil {
			return fmt.Errorf("updating site: %w", err)
		}
		return requireAffected(res, productID, facilityID)
	})
}

// RemoveSite unlinks a facility and recomputes the remaining siblings.
func (s *SQLiteStore) RemoveSite(ctx context.Context, productID, facilityID string) ([]allocation.Site, error) {
	if err := validateSiteKey(productID, facilityID); err != nil {
		return nil, err
	}
	return s.mutateSites(ctx, productID, metrics.TriggerDelete, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM site_allocations WHERE product_id = ? AND facility_id = ?`,
			productID, facilityID,
		)
		if err != nil {
			return fmt.Errorf("deleting site: %w", err)
		}
		return requireAffected(res, productID, facilityID)
	})
}

// ListSites returns a product's sites ordered by facility id.
func (s *SQLiteStore) ListSites(ctx context.Context, productID string) ([]allocation.Site, error) {
	return querySites(ctx, s.db, productID)
}

// mutateSites applies mutate and the full sibling recompute in one
// transaction. On any failure nothing is written.
func (s *SQLiteStore) mutateSites(ctx context.Context, productID, trigger string, mutate func(tx *sql.Tx) error) ([]allocation.Site, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := mutate(tx); err != nil {
		return nil, err
	}

	sites, err := querySites(ctx, tx, productID)
	if err != nil {
		return nil, err
	}
	facilities, err := facilitiesFor(ctx, tx, sites)
	if err != nil {
		return nil, err
	}
	sites = allocation.Recompute(sites, facilities)

	now := s.now().UTC()
	stmt, err := tx.PrepareContext(ctx,
		`UPDATE site_allocations
		 SET share_of_production = ?, facility_intensity = ?, attributable_emissions_per_unit = ?,
		     data_source = ?, updated_at = ?
		 WHERE id = ?`,
	)
	if err != nil {
		return nil, fmt.Errorf("preparing recompute: %w", err)
	}
	defer stmt.Close()

	for i := range sites {
		sites[i].UpdatedAt = now
		st := sites[i]
		if _, err := stmt.ExecContext(ctx,
			st.ShareOfProduction, st.FacilityIntensity, st.AttributableEmissionsPerUnit,
			string(st.DataSource), now, st.ID,
		); err != nil {
			return nil, fmt.Errorf("recomputing site %s: %w", st.FacilityID, err)
		}
	}

	if beforeCommitHook != nil {
		if err := beforeCommitHook(productID); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing recompute: %w", err)
	}

	metrics.RecordRecompute(trigger)
	return sites, nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func querySites(ctx context.Context, q queryer, productID string) ([]allocation.Site, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, product_id, facility_id, production_volume, share_of_production,
		        facility_intensity, attributable_emissions_per_unit, data_source, updated_at
		 FROM site_allocations WHERE product_id = ? ORDER BY facility_id`,
		productID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing sites for %s: %w", productID, err)
	}
	defer rows.Close()

	sites := []allocation.Site{}
	for rows.Next() {
		var st allocation.Site
		var source string
		if err := rows.Scan(&st.ID, &st.ProductID, &st.FacilityID, &st.ProductionVolume,
			&st.ShareOfProduction, &st.FacilityIntensity, &st.AttributableEmissionsPerUnit,
			&source, &st.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning site: %w", err)
		}
		st.DataSource = allocation.DataSource(source)
		sites = append(sites, st)
	}
	return sites, rows.Err()
}

func facilitiesFor(ctx context.Context, q queryer, sites []allocation.Site) (map[string]allocation.Facility, error) {
	out := make(map[string]allocation.Facility, len(sites))
	for _, st := range sites {
		var f allocation.Facility
		var metered int
		err := q.QueryRowContext(ctx,
			`SELECT facility_id, intensity, primary_metered FROM facilities WHERE facility_id = ?`,
			st.FacilityID,
		).Scan(&f.ID, &f.Intensity, &metered)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("loading facility %s: %w", st.FacilityID, err)
		}
		f.PrimaryMetered = metered != 0
		out[f.ID] = f
	}
	return out, nil
}

func siteExists(ctx context.Context, tx *sql.Tx, productID, facilityID string) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM site_allocations WHERE product_id = ? AND facility_id = ?`,
		productID, facilityID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking site: %w", err)
	}
	return n > 0, nil
}

func requireAffected(res sql.Result, productID, facilityID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s/%s", ErrSiteNotFound, productID, facilityID)
	}
	return nil
}

func validateSiteKey(productID, facilityID string) error {
	if strings.TrimSpace(productID) == "" {
		return fmt.Errorf("%w: product id", ErrMissingID)
	}
	if strings.TrimSpace(facilityID) == "" {
		return fmt.Errorf("%w: facility id", ErrMissingID)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
