// Package engine bundles the resolution, suggestion, aggregation, allocation
// and obligation components behind one façade shared by the CLI, the HTTP
// API and the MCP server.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/hurttlocker/impact/internal/allocation"
	"github.com/hurttlocker/impact/internal/impact"
	prn "github.com/hurttlocker/impact/internal/recovery"
	"github.com/hurttlocker/impact/internal/search"
	"github.com/hurttlocker/impact/internal/store"
	"github.com/hurttlocker/impact/internal/suggest"
)

// ErrUnavailable is returned when a component the call needs was not configured.
var ErrUnavailable = errors.New("component not configured")

// Engine is the set of configured components. Any field may be nil; calls
// that need a missing one return ErrUnavailable.
type Engine struct {
	Search  *search.Service
	Suggest *suggest.Service
	Lookup  *impact.Lookup
	Store   store.Store
	Targets prn.Targets
	Logger  zerolog.Logger
}

// AggregateResult is a report plus the lookup terms served from placeholders.
type AggregateResult struct {
	impact.Report
	MockTerms []string `json:"mock_terms,omitempty"`
}

// SearchProcesses runs one search request.
func (e *Engine) SearchProcesses(ctx context.Context, req search.Request) (*search.Response, error) {
	if e.Search == nil {
		return nil, fmt.Errorf("%w: search", ErrUnavailable)
	}
	return e.Search.Search(ctx, req)
}

// SuggestProxies runs one suggestion request.
func (e *Engine) SuggestProxies(ctx context.Context, req suggest.Request) (*suggest.Response, error) {
	if e.Suggest == nil {
		return nil, fmt.Errorf("%w: suggest", ErrUnavailable)
	}
	return e.Suggest.Suggest(ctx, req)
}

// Aggregate resolves unresolved items and totals them.
func (e *Engine) Aggregate(ctx context.Context, items []impact.Item) (*AggregateResult, error) {
	if e.Lookup == nil {
		return nil, fmt.Errorf("%w: factor lookup", ErrUnavailable)
	}
	lines, err := e.Lookup.Resolve(ctx, items)
	if err != nil {
		return nil, err
	}
	out := &AggregateResult{Report: impact.Aggregate(lines)}
	seen := map[string]bool{}
	for _, l := range lines {
		if l.Factor.Mock && !seen[l.Material] {
			seen[l.Material] = true
			out.MockTerms = append(out.MockTerms, l.Material)
		}
	}
	return out, nil
}

// SetFacility caches a facility's aggregated intensity and refreshes its sites.
func (e *Engine) SetFacility(ctx context.Context, f allocation.Facility) error {
	if e.Store == nil {
		return fmt.Errorf("%w: store", ErrUnavailable)
	}
	return e.Store.SetFacilityIntensity(ctx, f)
}

// SetSite links a facility to a product or changes its volume, and returns
// the product's recomputed allocation.
func (e *Engine) SetSite(ctx context.Context, productID, facilityID string, volume float64) (*allocation.Summary, error) {
	if e.Store == nil {
		return nil, fmt.Errorf("%w: store", ErrUnavailable)
	}
	sites, err := e.Store.UpdateSiteVolume(ctx, productID, facilityID, volume)
	if errors.Is(err, store.ErrSiteNotFound) {
		sites, err = e.Store.AddSite(ctx, productID, facilityID, volume)
	}
	if err != nil {
		return nil, err
	}
	sum := allocation.Summarize(productID, sites)
	return &sum, nil
}

// RemoveSite unlinks a facility and returns the remaining allocation.
func (e *Engine) RemoveSite(ctx context.Context, productID, facilityID string) (*allocation.Summary, error) {
	if e.Store == nil {
		return nil, fmt.Errorf("%w: store", ErrUnavailable)
	}
	sites, err := e.Store.RemoveSite(ctx, productID, facilityID)
	if err != nil {
		return nil, err
	}
	sum := allocation.Summarize(productID, sites)
	return &sum, nil
}

// Allocation returns a product's current allocation.
func (e *Engine) Allocation(ctx context.Context, productID string) (*allocation.Summary, error) {
	if e.Store == nil {
		return nil, fmt.Errorf("%w: store", ErrUnavailable)
	}
	if strings.TrimSpace(productID) == "" {
		return nil, fmt.Errorf("%w: product id", store.ErrMissingID)
	}
	sites, err := e.Store.ListSites(ctx, productID)
	if err != nil {
		return nil, err
	}
	sum := allocation.Summarize(productID, sites)
	return &sum, nil
}

// ObligationReport is an organization's obligations for one year.
type ObligationReport struct {
	OrganizationID string           `json:"organization_id"`
	Year           int              `json:"obligation_year"`
	Obligations    []prn.Obligation `json:"obligations"`
	Summary        prn.Summary      `json:"summary"`
}

// BuildObligations derives obligations from a tonnage snapshot, persists
// them (keeping recorded purchases) and returns the stored set.
func (e *Engine) BuildObligations(ctx context.Context, orgID string, year int, tonnage map[string]float64) (*ObligationReport, error) {
	if e.Store == nil {
		return nil, fmt.Errorf("%w: store", ErrUnavailable)
	}
	if strings.TrimSpace(orgID) == "" {
		return nil, fmt.Errorf("%w: organization id", store.ErrMissingID)
	}
	targets := e.Targets
	if targets == nil {
		targets = prn.DefaultTargets()
	}
	byCode := make(map[string]float64, len(tonnage))
	for code, t := range tonnage {
		byCode[strings.ToUpper(strings.TrimSpace(code))] += t
	}
	obligations, err := prn.Build(orgID, year, byCode, targets)
	if err != nil {
		return nil, err
	}
	if err := e.Store.SaveObligations(ctx, obligations); err != nil {
		return nil, err
	}
	e.Logger.Info().Str("organization_id", orgID).Int("year", year).Int("materials", len(obligations)).Msg("obligations built")
	return e.Obligations(ctx, orgID, year)
}

// RecordPurchase applies a PRN purchase to one obligation.
func (e *Engine) RecordPurchase(ctx context.Context, orgID string, year int, material string, tonnes, costPerTonne float64) (*prn.Obligation, error) {
	if e.Store == nil {
		return nil, fmt.Errorf("%w: store", ErrUnavailable)
	}
	return e.Store.RecordPurchase(ctx, orgID, year, strings.ToUpper(strings.TrimSpace(material)), tonnes, costPerTonne)
}

// Obligations returns the stored obligations and their summary.
func (e *Engine) Obligations(ctx context.Context, orgID string, year int) (*ObligationReport, error) {
	if e.Store == nil {
		return nil, fmt.Errorf("%w: store", ErrUnavailable)
	}
	obligations, err := e.Store.ListObligations(ctx, orgID, year)
	if err != nil {
		return nil, err
	}
	return &ObligationReport{
		OrganizationID: orgID,
		Year:           year,
		Obligations:    obligations,
		Summary:        prn.Summarize(obligations),
	}, nil
}
