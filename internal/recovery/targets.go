package prn

import (
	"fmt"
	"sort"
	"strings"
)

// Material codes.
const (
	Aluminium      = "AL"
	FibreComposite = "FC"
	Glass          = "GL"
	PaperCard      = "PC"
	Plastic        = "PL"
	Steel          = "ST"
	Wood           = "WD"
	Other          = "OT"
)

// MaterialNames describes each material code.
var MaterialNames = map[string]string{
	Aluminium:      "Aluminium",
	FibreComposite: "Fibre-based composite",
	Glass:          "Glass",
	PaperCard:      "Paper/card",
	Plastic:        "Plastic",
	Steel:          "Steel",
	Wood:           "Wood",
	Other:          "Other",
}

// Targets maps obligation year → material code → recycling target percent.
type Targets map[int]map[string]float64

// DefaultTargets returns the recycling target table shipped with the engine.
// Config may replace it per year.
func DefaultTargets() Targets {
	return Targets{
		2024: {Aluminium: 61, FibreComposite: 0, Glass: 75, PaperCard: 79, Plastic: 57, Steel: 87, Wood: 45, Other: 0},
		2025: {Aluminium: 67, FibreComposite: 75, Glass: 80, PaperCard: 83, Plastic: 59, Steel: 88, Wood: 46, Other: 0},
		2026: {Aluminium: 69, FibreComposite: 77, Glass: 82, PaperCard: 85, Plastic: 61, Steel: 89, Wood: 47, Other: 0},
	}
}

// Merge overlays other onto t, year by year and material by material.
func (t Targets) Merge(other Targets) Targets {
	out := Targets{}
	for year, row := range t {
		out[year] = make(map[string]float64, len(row))
		for code, pct := range row {
			out[year][code] = pct
		}
	}
	for year, row := range other {
		if out[year] == nil {
			out[year] = make(map[string]float64, len(row))
		}
		for code, pct := range row {
			out[year][strings.ToUpper(code)] = pct
		}
	}
	return out
}

// Validate checks every percent lies in [0, 100].
func (t Targets) Validate() error {
	years := make([]int, 0, len(t))
	for y := range t {
		years = append(years, y)
	}
	sort.Ints(years)
	for _, y := range years {
		for code, pct := range t[y] {
			if pct < 0 || pct > 100 {
				return fmt.Errorf("target %d/%s = %v: must be within [0, 100]", y, code, pct)
			}
		}
	}
	return nil
}
