// Package catalog holds life-cycle inventory process records and the
// category classifier that narrows a raw catalogue to the food, beverage and
// packaging subset the resolver searches.
//
// Two independent inventories feed the resolver:
//   - InventoryA: broad industrial and energy coverage
//   - InventoryB: agricultural and food coverage, bilingual naming
//
// No identity linkage exists between them. Matching is by name and category only.
package catalog

// Inventory names a source catalogue.
type Inventory string

const (
	InventoryA Inventory = "inventory_a"
	InventoryB Inventory = "inventory_b"
)

// Process is one immutable inventory process record.
type Process struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Category  string    `json:"category"`
	Unit      string    `json:"unit"`
	Inventory Inventory `json:"inventory,omitempty"`
}

// ParseInventory accepts the canonical names plus the short forms "a" and "b".
func ParseInventory(s string) (Inventory, bool) {
	switch s {
	case "a", "A", string(InventoryA):
		return InventoryA, true
	case "b", "B", string(InventoryB):
		return InventoryB, true
	}
	return "", false
}
