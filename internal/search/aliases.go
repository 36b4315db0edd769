package search

import "strings"

// Alias maps a common term to literal substrings expected in canonical
// inventory names. Food marks agricultural or food-ingredient terms.
type Alias struct {
	Patterns []string `yaml:"patterns" json:"patterns"`
	Food     bool     `yaml:"food" json:"food"`
}

// Aliases is a synonym table keyed by lower-case term.
type Aliases map[string]Alias

// DefaultAliases covers common ingredients and packaging materials.
// Inventory B names carry French equivalents, so those are listed too.
func DefaultAliases() Aliases {
	return Aliases{
		// ingredients
		"sugar":         {Patterns: []string{"sugar", "sucre", "sugarcane", "sugar beet"}, Food: true},
		"barley":        {Patterns: []string{"barley", "orge"}, Food: true},
		"malt":          {Patterns: []string{"malt", "barley"}, Food: true},
		"wheat":         {Patterns: []string{"wheat", "blé", "ble tendre"}, Food: true},
		"flour":         {Patterns: []string{"flour", "farine"}, Food: true},
		"milk":          {Patterns: []string{"milk", "lait", "cow milk"}, Food: true},
		"cream":         {Patterns: []string{"cream", "crème"}, Food: true},
		"butter":        {Patterns: []string{"butter", "beurre"}, Food: true},
		"cheese":        {Patterns: []string{"cheese", "fromage"}, Food: true},
		"egg":           {Patterns: []string{"egg", "oeuf"}, Food: true},
		"apple":         {Patterns: []string{"apple", "pomme"}, Food: true},
		"orange":        {Patterns: []string{"orange"}, Food: true},
		"lemon":         {Patterns: []string{"lemon", "citron"}, Food: true},
		"coffee":        {Patterns: []string{"coffee", "café"}, Food: true},
		"cocoa":         {Patterns: []string{"cocoa", "cacao"}, Food: true},
		"tea":           {Patterns: []string{"tea leaves", "thé"}, Food: true},
		"hops":          {Patterns: []string{"hop", "houblon"}, Food: true},
		"hop":           {Patterns: []string{"hop", "houblon"}, Food: true},
		"oats":          {Patterns: []string{"oat", "avoine"}, Food: true},
		"maize":         {Patterns: []string{"maize", "corn", "maïs"}, Food: true},
		"corn":          {Patterns: []string{"maize", "corn", "maïs"}, Food: true},
		"rice":          {Patterns: []string{"rice", "riz"}, Food: true},
		"potato":        {Patterns: []string{"potato", "pomme de terre"}, Food: true},
		"tomato":        {Patterns: []string{"tomato", "tomate"}, Food: true},
		"salt":          {Patterns: []string{"sodium chloride", "salt", "sel"}, Food: true},
		"yeast":         {Patterns: []string{"yeast", "levure"}, Food: true},
		"soy":           {Patterns: []string{"soybean", "soja"}, Food: true},
		"rapeseed":      {Patterns: []string{"rapeseed", "colza"}, Food: true},
		"vegetable oil": {Patterns: []string{"vegetable oil", "rapeseed oil", "sunflower oil", "huile"}, Food: true},
		"water":         {Patterns: []string{"tap water", "eau du robinet"}},

		// packaging and materials
		"glass":       {Patterns: []string{"packaging glass", "container glass", "glass"}},
		"aluminium":   {Patterns: []string{"aluminium", "aluminum"}},
		"aluminum":    {Patterns: []string{"aluminium", "aluminum"}},
		"can":         {Patterns: []string{"aluminium can", "aluminum can", "beverage can"}},
		"pet":         {Patterns: []string{"polyethylene terephthalate"}},
		"hdpe":        {Patterns: []string{"polyethylene, high density"}},
		"ldpe":        {Patterns: []string{"polyethylene, low density"}},
		"pp":          {Patterns: []string{"polypropylene"}},
		"plastic":     {Patterns: []string{"polyethylene", "polypropylene", "polystyrene"}},
		"cardboard":   {Patterns: []string{"corrugated board", "carton board", "cardboard"}},
		"paper":       {Patterns: []string{"paper", "kraft"}},
		"label":       {Patterns: []string{"paper, woodfree", "label"}},
		"steel":       {Patterns: []string{"tinplate", "steel"}},
		"cork":        {Patterns: []string{"cork"}},
		"wood":        {Patterns: []string{"sawnwood", "wood"}},
		"pallet":      {Patterns: []string{"pallet"}},
		"electricity": {Patterns: []string{"electricity"}},
	}
}

// Lookup returns the alias patterns for the whole query and for each word,
// de-duplicated in first-seen order, and whether any matched entry is a food term.
func (a Aliases) Lookup(text string, words []string) ([]string, bool) {
	var patterns []string
	food := false
	seen := map[string]bool{}

	add := func(key string) {
		entry, ok := a[key]
		if !ok {
			return
		}
		if entry.Food {
			food = true
		}
		for _, p := range entry.Patterns {
			p = strings.ToLower(strings.TrimSpace(p))
			if p == "" || seen[p] {
				continue
			}
			seen[p] = true
			patterns = append(patterns, p)
		}
	}

	add(text)
	for _, w := range words {
		add(w)
	}
	return patterns, food
}

// foodWords mark a query as food-like even when no alias entry covers it.
var foodWords = map[string]bool{
	"almond": true, "apricot": true, "banana": true, "bean": true, "beef": true,
	"berry": true, "cereal": true, "cherry": true, "chicken": true, "chocolate": true,
	"cinnamon": true, "coconut": true, "fish": true, "fruit": true, "garlic": true,
	"ginger": true, "grape": true, "hazelnut": true, "herb": true, "honey": true,
	"juice": true, "lamb": true, "lentil": true, "mango": true, "meat": true,
	"nut": true, "olive": true, "onion": true, "pea": true, "peach": true,
	"peanut": true, "pear": true, "pineapple": true, "pork": true, "pulse": true,
	"raspberry": true, "spice": true, "strawberry": true, "syrup": true, "vanilla": true,
	"vegetable": true, "vinegar": true, "walnut": true,
}

// looksLikeFood reports whether any query word, singularized, is a food word
// or names a berry ("blueberries").
func looksLikeFood(words []string) bool {
	for _, w := range words {
		w = singular(w)
		if foodWords[w] || strings.HasSuffix(w, "berry") {
			return true
		}
	}
	return false
}

func singular(w string) string {
	switch {
	case strings.HasSuffix(w, "ies") && len(w) > 4:
		return strings.TrimSuffix(w, "ies") + "y"
	case strings.HasSuffix(w, "oes") && len(w) > 4:
		return strings.TrimSuffix(w, "es")
	case strings.HasSuffix(w, "s") && !strings.HasSuffix(w, "ss") && len(w) > 3:
		return strings.TrimSuffix(w, "s")
	}
	return w
}
