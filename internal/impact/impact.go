// Package impact aggregates per-material impact factors into product totals
// and fronts external factor lookups with a TTL cache.
//
// The four categories are independent. No category is derived from another,
// and data quality is reported beside the totals rather than folded into them.
package impact

import "sort"

// Quality tags a factor's provenance.
type Quality string

const (
	PrimaryVerified   Quality = "primary_verified"
	SecondaryModelled Quality = "secondary_modelled"
	HybridProxy       Quality = "hybrid_proxy"
)

// Uncertainty is optional spread metadata. Any subset may be set.
type Uncertainty struct {
	Low      *float64 `json:"low,omitempty"`
	High     *float64 `json:"high,omitempty"`
	StdDev   *float64 `json:"std_dev,omitempty"`
	Pedigree []int    `json:"pedigree,omitempty"` // reliability, completeness, temporal, geographic, technological
}

// Factor is the per-unit impact of one material.
type Factor struct {
	Climate     float64      `json:"climate"` // kg CO2e
	Water       float64      `json:"water"`   // m3 world-eq
	Land        float64      `json:"land"`    // m2a
	Waste       float64      `json:"waste"`   // kg
	Quality     Quality      `json:"quality"`
	Uncertainty *Uncertainty `json:"uncertainty,omitempty"`
	ProcessID   string       `json:"process_id,omitempty"`
	Source      string       `json:"source,omitempty"`
	Mock        bool         `json:"mock,omitempty"`
}

// Totals holds one value per impact category.
type Totals struct {
	Climate float64 `json:"climate"`
	Water   float64 `json:"water"`
	Land    float64 `json:"land"`
	Waste   float64 `json:"waste"`
}

func (t Totals) add(o Totals) Totals {
	return Totals{
		Climate: t.Climate + o.Climate,
		Water:   t.Water + o.Water,
		Land:    t.Land + o.Land,
		Waste:   t.Waste + o.Waste,
	}
}

// Line is one material of a product with its resolved factor.
type Line struct {
	Material string  `json:"material"`
	Quantity float64 `json:"quantity"`
	Factor   Factor  `json:"factor"`
}

// Contribution is one line's share of the product totals.
type Contribution struct {
	Material string  `json:"material"`
	Quantity float64 `json:"quantity"`
	Impacts  Totals  `json:"impacts"`
	Quality  Quality `json:"quality"`
	Mock     bool    `json:"mock,omitempty"`
}

// QualityShare reports how much of the product rests on one quality level.
type QualityShare struct {
	Quality      Quality `json:"quality"`
	Lines        int     `json:"lines"`
	ClimateShare float64 `json:"climate_share"` // percent of total climate impact
}

// Report is the aggregated product impact.
type Report struct {
	Totals  Totals         `json:"totals"`
	Lines   []Contribution `json:"lines"`
	Quality []QualityShare `json:"quality"`
	Mock    bool           `json:"mock"` // at least one line used a placeholder factor
}

// Aggregate computes total_c = Σ quantity × factor_c for every category.
func Aggregate(lines []Line) Report {
	rep := Report{Lines: make([]Contribution, 0, len(lines)), Quality: []QualityShare{}}
	byQuality := map[Quality]*QualityShare{}
	climateByQuality := map[Quality]float64{}

	for _, l := range lines {
		c := Totals{
			Climate: l.Quantity * l.Factor.Climate,
			Water:   l.Quantity * l.Factor.Water,
			Land:    l.Quantity * l.Factor.Land,
			Waste:   l.Quantity * l.Factor.Waste,
		}
		rep.Totals = rep.Totals.add(c)
		rep.Lines = append(rep.Lines, Contribution{
			Material: l.Material,
			Quantity: l.Quantity,
			Impacts:  c,
			Quality:  l.Factor.Quality,
			Mock:     l.Factor.Mock,
		})
		if l.Factor.Mock {
			rep.Mock = true
		}

		q := l.Factor.Quality
		if q == "" {
			q = HybridProxy
		}
		if byQuality[q] == nil {
			byQuality[q] = &QualityShare{Quality: q}
		}
		byQuality[q].Lines++
		climateByQuality[q] += c.Climate
	}

	for q, share := range byQuality {
		if rep.Totals.Climate != 0 {
			share.ClimateShare = climateByQuality[q] / rep.Totals.Climate * 100
		}
		rep.Quality = append(rep.Quality, *share)
	}
	sort.Slice(rep.Quality, func(i, j int) bool { return rep.Quality[i].Quality < rep.Quality[j].Quality })
	return rep
}
