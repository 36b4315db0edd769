// Package allocation computes production-volume-weighted emission intensity
// for products made at more than one facility.
//
// A site's share is a function of every sibling's volume, so any insert,
// update or delete of one site row recomputes the whole product. Recompute
// is pure; the store applies its output inside one transaction.
package allocation

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"
)

// DataSource tags where a cached facility intensity came from.
type DataSource string

const (
	Verified        DataSource = "Verified"
	IndustryAverage DataSource = "Industry_Average"
)

// ShareTolerance is the allowed drift of Σ share from 100.
const ShareTolerance = 1e-6

// ErrInvalidVolume is returned for negative, NaN or infinite volumes.
var ErrInvalidVolume = errors.New("production volume must be a finite number >= 0")

// Site is one production-site allocation row.
type Site struct {
	ID                           string     `json:"id"`
	ProductID                    string     `json:"product_id"`
	FacilityID                   string     `json:"facility_id"`
	ProductionVolume             float64    `json:"production_volume"`
	ShareOfProduction            float64    `json:"share_of_production"` // percent
	FacilityIntensity            float64    `json:"facility_intensity"`
	AttributableEmissionsPerUnit float64    `json:"attributable_emissions_per_unit"`
	DataSource                   DataSource `json:"data_source"`
	UpdatedAt                    time.Time  `json:"updated_at"`
}

// Facility is the externally aggregated emissions intensity of one facility.
type Facility struct {
	ID             string    `json:"facility_id"`
	Intensity      float64   `json:"intensity"`
	PrimaryMetered bool      `json:"primary_metered"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Source reports Verified for primary-metered facilities.
func (f Facility) Source() DataSource {
	if f.PrimaryMetered {
		return Verified
	}
	return IndustryAverage
}

// ValidateVolume rejects volumes that cannot take part in a share.
func ValidateVolume(v float64) error {
	if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("%w (got %v)", ErrInvalidVolume, v)
	}
	return nil
}

// Shares returns each volume as a percentage of the total, or all zeros
// when the total is not positive.
func Shares(volumes []float64) []float64 {
	total := 0.0
	for _, v := range volumes {
		total += v
	}
	out := make([]float64, len(volumes))
	if total <= 0 {
		return out
	}
	for i, v := range volumes {
		out[i] = v / total * 100
	}
	return out
}

// Recompute returns a copy of sites with every share recomputed and the
// cached intensity and data source refreshed from facilities. Sites whose
// facility is unknown keep their cached intensity. Output is ordered by
// facility id.
func Recompute(sites []Site, facilities map[string]Facility) []Site {
	out := make([]Site, len(sites))
	copy(out, sites)
	sort.SliceStable(out, func(i, j int) bool { return out[i].FacilityID < out[j].FacilityID })

	volumes := make([]float64, len(out))
	for i, s := range out {
		volumes[i] = s.ProductionVolume
	}
	shares := Shares(volumes)

	for i := range out {
		out[i].ShareOfProduction = shares[i]
		if f, ok := facilities[out[i].FacilityID]; ok {
			out[i].FacilityIntensity = f.Intensity
			out[i].DataSource = f.Source()
		}
		if out[i].DataSource == "" {
			out[i].DataSource = IndustryAverage
		}
		out[i].AttributableEmissionsPerUnit = out[i].FacilityIntensity
	}
	return out
}

// ShareTotal sums the shares of a product's sites.
func ShareTotal(sites []Site) float64 {
	total := 0.0
	for _, s := range sites {
		total += s.ShareOfProduction
	}
	return total
}

// ProductIntensity is Σ share × facility intensity, the product's per-unit
// emissions across every site.
func ProductIntensity(sites []Site) float64 {
	total := 0.0
	for _, s := range sites {
		total += s.ShareOfProduction / 100 * s.AttributableEmissionsPerUnit
	}
	return total
}

// Summary describes a product's allocation.
type Summary struct {
	ProductID        string  `json:"product_id"`
	Sites            []Site  `json:"sites"`
	TotalVolume      float64 `json:"total_volume"`
	ShareTotal       float64 `json:"share_total"`
	ProductIntensity float64 `json:"product_intensity"`
	VerifiedShare    float64 `json:"verified_share"` // percent of volume at primary-metered sites
}

// Summarize builds a Summary from already recomputed sites.
func Summarize(productID string, sites []Site) Summary {
	sum := Summary{ProductID: productID, Sites: sites}
	if sum.Sites == nil {
		sum.Sites = []Site{}
	}
	for _, s := range sites {
		sum.TotalVolume += s.ProductionVolume
		if s.DataSource == Verified {
			sum.VerifiedShare += s.ShareOfProduction
		}
	}
	sum.ShareTotal = ShareTotal(sites)
	sum.ProductIntensity = ProductIntensity(sites)
	return sum
}
