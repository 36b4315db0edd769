package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	prn "github.com/hurttlocker/impact/internal/recovery"
)

// SaveObligations upserts a built obligation set in one transaction.
// Existing purchases on a row are kept; the obligation and status are
// re-derived from the new tonnage and target.
func (s *SQLiteStore) SaveObligations(ctx context.Context, obligations []prn.Obligation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	now := s.now().UTC()
	for _, o := range obligations {
		if strings.TrimSpace(o.OrganizationID) == "" || strings.TrimSpace(o.MaterialCode) == "" {
			return fmt.Errorf("%w: obligation requires organization id and material code", ErrMissingID)
		}
		existing, err := getObligation(ctx, tx, o.OrganizationID, o.Year, o.MaterialCode)
		if err != nil {
			return err
		}
		if existing != nil {
			o.PurchasedTonnage = existing.PurchasedTonnage
			o.CostPerTonne = existing.CostPerTonne
			o.TotalCost = existing.TotalCost
		}
		o = prn.Recalculate(o)

		_, err = tx.ExecContext(ctx,
			`INSERT INTO prn_obligations (organization_id, obligation_year, material_code,
			   total_tonnage_placed, recycling_target_pct, obligation_tonnage,
			   prns_purchased_tonnage, prn_cost_per_tonne, total_prn_cost, status, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(organization_id, obligation_year, material_code) DO UPDATE SET
			   total_tonnage_placed = excluded.total_tonnage_placed,
			   recycling_target_pct = excluded.recycling_target_pct,
			   obligation_tonnage = excluded.obligation_tonnage,
			   status = excluded.status,
			   updated_at = excluded.updated_at`,
			o.OrganizationID, o.Year, o.MaterialCode,
			o.TotalTonnagePlaced, o.RecyclingTargetPct, o.ObligationTonnage,
			o.PurchasedTonnage, o.CostPerTonne, o.TotalCost, string(o.Status), now,
		)
		if err != nil {
			return fmt.Errorf("saving obligation %s/%d/%s: %w", o.OrganizationID, o.Year, o.MaterialCode, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing obligations: %w", err)
	}
	return nil
}

// GetObligation returns one obligation, or nil when absent.
func (s *SQLiteStore) GetObligation(ctx context.Context, orgID string, year int, material string) (*prn.Obligation, error) {
	return getObligation(ctx, s.db, orgID, year, material)
}

// ListObligations returns an organization's obligations for a year ordered by material.
func (s *SQLiteStore) ListObligations(ctx context.Context, orgID string, year int) ([]prn.Obligation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+obligationColumns+` FROM prn_obligations
		 WHERE organization_id = ? AND obligation_year = ? ORDER BY material_code`,
		orgID, year,
	)
	if err != nil {
		return nil, fmt.Errorf("listing obligations: %w", err)
	}
	defer rows.Close()

	out := []prn.Obligation{}
	for rows.Next() {
		o, err := scanObligation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

// RecordPurchase adds a PRN purchase to an obligation and re-derives its status.
func (s *SQLiteStore) RecordPurchase(ctx context.Context, orgID string, year int, material string, tonnes, costPerTonne float64) (*prn.Obligation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	o, err := getObligation(ctx, tx, orgID, year, material)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, fmt.Errorf("%w: %s/%d/%s", ErrObligationNotFound, orgID, year, material)
	}

	updated, err := prn.ApplyPurchase(*o, tonnes, costPerTonne)
	if err != nil {
		return nil, err
	}
	updated.UpdatedAt = s.now().UTC()

	_, err = tx.ExecContext(ctx,
		`UPDATE prn_obligations
		 SET prns_purchased_tonnage = ?, prn_cost_per_tonne = ?, total_prn_cost = ?, status = ?, updated_at = ?
		 WHERE organization_id = ? AND obligation_year = ? AND material_code = ?`,
		updated.PurchasedTonnage, updated.CostPerTonne, updated.TotalCost, string(updated.Status),
		updated.UpdatedAt, orgID, year, material,
	)
	if err != nil {
		return nil, fmt.Errorf("recording purchase: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing purchase: %w", err)
	}
	return &updated, nil
}

const obligationColumns = `organization_id, obligation_year, material_code, total_tonnage_placed,
	recycling_target_pct, obligation_tonnage, prns_purchased_tonnage, prn_cost_per_tonne,
	total_prn_cost, status, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanObligation(r rowScanner) (*prn.Obligation, error) {
	var o prn.Obligation
	var status string
	if err := r.Scan(&o.OrganizationID, &o.Year, &o.MaterialCode, &o.TotalTonnagePlaced,
		&o.RecyclingTargetPct, &o.ObligationTonnage, &o.PurchasedTonnage, &o.CostPerTonne,
		&o.TotalCost, &status, &o.UpdatedAt); err != nil {
		return nil, err
	}
	o.Status = prn.Status(status)
	return &o, nil
}

func getObligation(ctx context.Context, q queryer, orgID string, year int, material string) (*prn.Obligation, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+obligationColumns+` FROM prn_obligations
		 WHERE organization_id = ? AND obligation_year = ? AND material_code = ?`,
		orgID, year, material,
	)
	o, err := scanObligation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting obligation %s/%d/%s: %w", orgID, year, material, err)
	}
	return o, nil
}
