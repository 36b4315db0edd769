// Package prn computes packaging recovery obligations and tracks their
// fulfilment against purchased Packaging Recovery Notes.
//
// All arithmetic runs in decimal: tonnages round to 3 dp, currency to 2 dp,
// fulfilment percentages to whole numbers.
package prn

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

const (
	tonnagePlaces  = 3
	currencyPlaces = 2
)

// Tolerance bands around the obligation. Purchases within ±0.1% count as
// fulfilled; anything more than 0.1% over counts as exceeded.
var (
	FulfilledThreshold = decimal.RequireFromString("0.999")
	ExceededThreshold  = decimal.RequireFromString("1.001")
)

var hundred = decimal.NewFromInt(100)

// Status is the fulfilment state of one obligation.
type Status string

const (
	NotStarted Status = "not_started"
	Partial    Status = "partial"
	Fulfilled  Status = "fulfilled"
	Exceeded   Status = "exceeded"
)

var (
	// ErrNoTargets is returned when the target table has no entry for a year.
	ErrNoTargets = errors.New("no recycling targets for year")
	// ErrInvalidPurchase is returned for non-positive tonnage or negative cost.
	ErrInvalidPurchase = errors.New("invalid purchase")
)

// Obligation is one (organization, year, material) recovery obligation.
// ObligationTonnage and Status are derived; use Recalculate after changing inputs.
type Obligation struct {
	OrganizationID     string    `json:"organization_id"`
	Year               int       `json:"obligation_year"`
	MaterialCode       string    `json:"material_code"`
	TotalTonnagePlaced float64   `json:"total_tonnage_placed"`
	RecyclingTargetPct float64   `json:"recycling_target_pct"`
	ObligationTonnage  float64   `json:"obligation_tonnage"`
	PurchasedTonnage   float64   `json:"prns_purchased_tonnage"`
	CostPerTonne       float64   `json:"prn_cost_per_tonne"`
	TotalCost          float64   `json:"total_prn_cost"`
	Status             Status    `json:"status"`
	UpdatedAt          time.Time `json:"updated_at,omitempty"`
}

// Remaining is the tonnage still to be covered.
func (o Obligation) Remaining() float64 {
	return RemainingObligation(o.ObligationTonnage, o.PurchasedTonnage)
}

func d(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func f64(x decimal.Decimal) float64 {
	v, _ := x.Float64()
	return v
}

// ObligationTonnage is round(tonnage × targetPct / 100, 3).
func ObligationTonnage(tonnage, targetPct float64) float64 {
	return f64(d(tonnage).Mul(d(targetPct)).Div(hundred).Round(tonnagePlaces))
}

// RemainingObligation is max(0, round(obligation − purchased, 3)).
func RemainingObligation(obligation, purchased float64) float64 {
	return f64(decimal.Max(decimal.Zero, d(obligation).Sub(d(purchased)).Round(tonnagePlaces)))
}

// Cost is round(tonnage × costPerTonne, 2).
func Cost(tonnage, costPerTonne float64) float64 {
	return f64(d(tonnage).Mul(d(costPerTonne)).Round(currencyPlaces))
}

// DeriveStatus maps (obligation, purchased) onto the fulfilment states:
// not_started → partial → fulfilled (within 0.1%) → exceeded (more than 0.1% over).
// A non-positive obligation is always fulfilled.
func DeriveStatus(obligation, purchased float64) Status {
	ob, bought := d(obligation), d(purchased)
	switch {
	case !ob.IsPositive():
		return Fulfilled
	case !bought.IsPositive():
		return NotStarted
	case bought.GreaterThanOrEqual(ob.Mul(ExceededThreshold)):
		return Exceeded
	case bought.GreaterThanOrEqual(ob.Mul(FulfilledThreshold)):
		return Fulfilled
	default:
		return Partial
	}
}

// Recalculate re-derives the obligation tonnage and status from the row's inputs.
func Recalculate(o Obligation) Obligation {
	o.ObligationTonnage = ObligationTonnage(o.TotalTonnagePlaced, o.RecyclingTargetPct)
	o.Status = DeriveStatus(o.ObligationTonnage, o.PurchasedTonnage)
	return o
}

// OverallFulfilmentPct is min(100, round(Σpurchased / Σobligation × 100)),
// or 100 when the collection is empty or carries no obligation.
func OverallFulfilmentPct(obligations []Obligation) int {
	var ob, bought decimal.Decimal
	for _, o := range obligations {
		ob = ob.Add(d(o.ObligationTonnage))
		bought = bought.Add(d(o.PurchasedTonnage))
	}
	if !ob.IsPositive() {
		return 100
	}
	pct := bought.Div(ob).Mul(hundred).Round(0)
	pct = decimal.Min(hundred, decimal.Max(decimal.Zero, pct))
	return int(pct.IntPart())
}

// Build emits one obligation per material in the year's target table.
// Materials missing from tonnage get zero tonnage, which makes them fulfilled.
// Purchases and costs start at zero. Rows are ordered by material code.
func Build(organizationID string, year int, tonnage map[string]float64, targets Targets) ([]Obligation, error) {
	yearTargets, ok := targets[year]
	if !ok || len(yearTargets) == 0 {
		return nil, fmt.Errorf("%w %d", ErrNoTargets, year)
	}

	codes := make([]string, 0, len(yearTargets))
	for code := range yearTargets {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	out := make([]Obligation, 0, len(codes))
	for _, code := range codes {
		o := Obligation{
			OrganizationID:     organizationID,
			Year:               year,
			MaterialCode:       code,
			TotalTonnagePlaced: tonnage[code],
			RecyclingTargetPct: yearTargets[code],
		}
		out = append(out, Recalculate(o))
	}
	return out, nil
}

// ApplyPurchase records tonnes of PRNs bought at costPerTonne. Total cost is
// additive; the row's cost per tonne becomes the weighted average.
func ApplyPurchase(o Obligation, tonnes, costPerTonne float64) (Obligation, error) {
	if !d(tonnes).IsPositive() {
		return o, fmt.Errorf("%w: tonnage must be > 0 (got %v)", ErrInvalidPurchase, tonnes)
	}
	if d(costPerTonne).IsNegative() {
		return o, fmt.Errorf("%w: cost per tonne must be >= 0 (got %v)", ErrInvalidPurchase, costPerTonne)
	}

	purchased := d(o.PurchasedTonnage).Add(d(tonnes)).Round(tonnagePlaces)
	total := d(o.TotalCost).Add(d(Cost(tonnes, costPerTonne))).Round(currencyPlaces)

	o.PurchasedTonnage = f64(purchased)
	o.TotalCost = f64(total)
	o.CostPerTonne = f64(total.DivRound(purchased, currencyPlaces))
	o.Status = DeriveStatus(o.ObligationTonnage, o.PurchasedTonnage)
	return o, nil
}

// Summary aggregates a collection of obligations.
type Summary struct {
	TotalObligation float64        `json:"total_obligation"`
	TotalPurchased  float64        `json:"total_purchased"`
	TotalRemaining  float64        `json:"total_remaining"`
	TotalCost       float64        `json:"total_cost"`
	FulfilmentPct   int            `json:"overall_fulfilment_pct"`
	ByStatus        map[Status]int `json:"by_status"`
}

// Summarize totals a collection of obligations.
func Summarize(obligations []Obligation) Summary {
	var ob, bought, remaining, cost decimal.Decimal
	byStatus := map[Status]int{}
	for _, o := range obligations {
		ob = ob.Add(d(o.ObligationTonnage))
		bought = bought.Add(d(o.PurchasedTonnage))
		remaining = remaining.Add(d(o.Remaining()))
		cost = cost.Add(d(o.TotalCost))
		byStatus[o.Status]++
	}
	return Summary{
		TotalObligation: f64(ob.Round(tonnagePlaces)),
		TotalPurchased:  f64(bought.Round(tonnagePlaces)),
		TotalRemaining:  f64(remaining.Round(tonnagePlaces)),
		TotalCost:       f64(cost.Round(currencyPlaces)),
		FulfilmentPct:   OverallFulfilmentPct(obligations),
		ByStatus:        byStatus,
	}
}
