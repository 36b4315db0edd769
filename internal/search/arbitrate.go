package search

import (
	"sort"

	"github.com/hurttlocker/impact/internal/catalog"
)

// Strategy decides the order in which inventories are preferred for a query.
// Inventories it omits are tried after the ones it names, in name order.
type Strategy interface {
	Order(q *Query, available []catalog.Inventory) []catalog.Inventory
}

// FoodFirst prefers the agricultural inventory for food-like queries and the
// industrial inventory for everything else.
type FoodFirst struct {
	Food    catalog.Inventory // default catalog.InventoryB
	General catalog.Inventory // default catalog.InventoryA
}

// Order implements Strategy.
func (s FoodFirst) Order(q *Query, available []catalog.Inventory) []catalog.Inventory {
	food, general := s.Food, s.General
	if food == "" {
		food = catalog.InventoryB
	}
	if general == "" {
		general = catalog.InventoryA
	}
	if q.Food {
		return []catalog.Inventory{food, general}
	}
	return []catalog.Inventory{general, food}
}

// Arbitration is the outcome of ranking one query against every inventory.
type Arbitration struct {
	Preferred         []Ranked          `json:"preferred"`
	PreferredDatabase catalog.Inventory `json:"preferred_database,omitempty"`
	Secondary         []Ranked          `json:"secondary"`
	SecondaryDatabase catalog.Inventory `json:"secondary_database,omitempty"`
}

// Arbitrator ranks a query against several inventories and picks which one
// answers it.
type Arbitrator struct {
	Ranker   *Ranker
	Strategy Strategy
}

// NewArbitrator returns an arbitrator with the default ranker and FoodFirst.
func NewArbitrator() *Arbitrator {
	return &Arbitrator{Ranker: NewRanker(nil), Strategy: FoodFirst{}}
}

// Arbitrate ranks query against each inventory's (already classified)
// candidates. The first non-empty inventory in strategy order is preferred;
// the next non-empty one is secondary. When every inventory is empty both
// sets are empty.
func (a *Arbitrator) Arbitrate(query string, candidates map[catalog.Inventory][]catalog.Process) Arbitration {
	q := ParseQuery(query, a.Ranker.Aliases)

	available := make([]catalog.Inventory, 0, len(candidates))
	for inv := range candidates {
		available = append(available, inv)
	}
	sort.Slice(available, func(i, j int) bool { return available[i] < available[j] })

	strategy := a.Strategy
	if strategy == nil {
		strategy = FoodFirst{}
	}
	order := completeOrder(strategy.Order(&q, available), available)

	out := Arbitration{Preferred: []Ranked{}, Secondary: []Ranked{}}
	for _, inv := range order {
		ranked := a.Ranker.RankQuery(&q, candidates[inv])
		if len(ranked) == 0 {
			continue
		}
		if out.PreferredDatabase == "" {
			out.Preferred = ranked
			out.PreferredDatabase = inv
			continue
		}
		out.Secondary = ranked
		out.SecondaryDatabase = inv
		break
	}
	return out
}

// completeOrder keeps the strategy's order, drops duplicates, and appends
// inventories the strategy did not name.
func completeOrder(preferred, available []catalog.Inventory) []catalog.Inventory {
	seen := make(map[catalog.Inventory]bool, len(available))
	order := make([]catalog.Inventory, 0, len(available))
	for _, inv := range preferred {
		if !seen[inv] {
			seen[inv] = true
			order = append(order, inv)
		}
	}
	for _, inv := range available {
		if !seen[inv] {
			seen[inv] = true
			order = append(order, inv)
		}
	}
	return order
}
