package catalog

import "strings"

// Reason explains a classifier decision.
type Reason string

const (
	ReasonPrefix   Reason = "prefix"    // category gate passed, no exclusion matched
	ReasonKeep     Reason = "keep"      // category gate passed, name matched a keep pattern
	ReasonExcluded Reason = "excluded"  // category gate passed, name matched an exclusion
	ReasonNoPrefix Reason = "no_prefix" // category outside the allow-list
)

// Rules configures the category classifier. Every entry is matched
// case-insensitively as a literal substring (Keep, Exclude) or prefix (Prefixes).
type Rules struct {
	Prefixes []string `yaml:"prefixes" json:"prefixes"`
	Keep     []string `yaml:"keep" json:"keep"`
	Exclude  []string `yaml:"exclude" json:"exclude"`
}

// DefaultRules returns the food, beverage and packaging rule set.
// Category prefixes follow ISIC section/division codes as they appear in
// inventory category paths ("C:Manufacturing/11:Manufacture of beverages/...").
func DefaultRules() Rules {
	return Rules{
		Prefixes: []string{
			"a:agriculture",          // crops, livestock, forestry, fishing
			"c:manufacturing/10:",    // food products
			"c:manufacturing/11:",    // beverages
			"c:manufacturing/16:",    // wood and cork
			"c:manufacturing/17:",    // paper and paper products
			"c:manufacturing/20:",    // chemicals
			"c:manufacturing/22:",    // rubber and plastics
			"c:manufacturing/23:",    // glass and other non-metallic minerals
			"c:manufacturing/24:",    // basic metals
			"c:manufacturing/25:",    // fabricated metal products
			"d:electricity",          // electricity, gas, steam
			"e:water supply",         // water, sewerage, materials recovery
			"h:transportation",       // freight transport
			"i:accommodation and food service",
			"recycled content",
		},
		Keep: []string{
			"beverage",
			"bottle",
			"carton",
			"aluminium can",
			"aluminum can",
			"packaging glass",
			"container glass",
			"recycled paper",
			"recycled pet",
			"recycling of pet",
			"recycling of aluminium",
			"recycling of glass",
		},
		Exclude: []string{
			// heavy industry
			"blast furnace",
			"ferroalloy",
			"mining",
			"smelting",
			"oil refinery",
			// vehicles
			"passenger car",
			"lorry production",
			"vehicle",
			"aircraft",
			// construction
			"building",
			"construction",
			"cement",
			"concrete",
			// electronics
			"electronic",
			"printed wiring board",
			"semiconductor",
			"integrated circuit",
			// agrochemicals
			"pesticide",
			"herbicide",
			"insecticide",
			"fungicide",
			// waste treatment
			"incineration",
			"landfill",
			"hazardous waste",
			"wastewater treatment",
			// livestock for slaughter
			"for slaughtering",
			"live weight",
		},
	}
}

// Explain reports the classifier decision for one record.
// The category gate applies first; keep patterns only override the exclusion list.
func (r Rules) Explain(p Process) (bool, Reason) {
	if !hasAnyPrefix(strings.ToLower(strings.TrimSpace(p.Category)), r.Prefixes) {
		return false, ReasonNoPrefix
	}
	name := strings.ToLower(p.Name)
	if containsAny(name, r.Keep) {
		return true, ReasonKeep
	}
	if containsAny(name, r.Exclude) {
		return false, ReasonExcluded
	}
	return true, ReasonPrefix
}

// Keeps reports whether a record survives classification.
func (r Rules) Keeps(p Process) bool {
	ok, _ := r.Explain(p)
	return ok
}

// Classify returns the records that survive the rules, in input order.
// It never modifies the input slice.
func Classify(records []Process, r Rules) []Process {
	out := make([]Process, 0, len(records))
	for _, p := range records {
		if r.Keeps(p) {
			out = append(out, p)
		}
	}
	return out
}

func containsAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if p == "" {
			continue
		}
		if strings.Contains(s, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if p == "" {
			continue
		}
		if strings.HasPrefix(s, strings.ToLower(p)) {
			return true
		}
	}
	return false
}
