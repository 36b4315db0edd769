package search

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/hurttlocker/impact/internal/catalog"
)

// Rule weights.
const (
	WeightAlias          = 100
	WeightRepresentative = 50
	WeightWholeWord      = 20
	WeightAllWords       = 10
	WeightContext        = 15
	WeightEndOfLife      = -20
	WeightChemical       = -15
	WeightLongName       = -10

	longNameRunes = 120
)

var (
	// representativeMarkers open the names of averaged market processes.
	representativeMarkers = []string{"market for ", "market group for "}

	contextPattern = regexp.MustCompile(wholeWord(`packaging|packed|bottle|bottled|beverage|drink|container|can|cans|carton|glass|pet`))

	endOfLifeTerms = []string{"treatment of", "waste", "disposal", "incineration", "landfill", "sewage"}

	chemicalTerms = []string{"oxide", "fluoride", "chloride", "sulfate", "sulphate", "nitrate", "nitrite", "hydroxide", "cyanide", "phosphide"}
)

// Query is a normalized search query with its alias expansion.
type Query struct {
	Raw     string
	Text    string   // lower-cased and trimmed
	Words   []string // words longer than one character
	Aliases []string // alias patterns for Text and each word
	Food    bool     // an alias entry or a food word marked the query as food-like

	whole *regexp.Regexp
}

// ParseQuery normalizes raw and expands it through the alias table.
func ParseQuery(raw string, aliases Aliases) Query {
	q := Query{Raw: raw, Text: strings.ToLower(strings.TrimSpace(raw))}
	for _, w := range strings.Fields(q.Text) {
		if utf8.RuneCountInString(w) > 1 {
			q.Words = append(q.Words, w)
		}
	}
	q.Aliases, q.Food = aliases.Lookup(q.Text, q.Words)
	if !q.Food {
		q.Food = looksLikeFood(q.Words)
	}
	if q.Text != "" {
		q.whole = regexp.MustCompile(wholeWord(regexp.QuoteMeta(q.Text)))
	}
	return q
}

// wholeWord wraps expr in word boundaries that treat any Unicode letter or
// digit as a word character. RE2's \b only knows ASCII, so "blé" would never
// end on a boundary.
func wholeWord(expr string) string {
	return `(?:^|[^\p{L}\p{N}_])(?:` + expr + `)(?:$|[^\p{L}\p{N}_])`
}

// recalled reports whether name contains a query word or an alias pattern.
func (q *Query) recalled(name string) bool {
	return containsAny(name, q.Words) || containsAny(name, q.Aliases)
}

// Rule is one named scoring heuristic. name is the lower-cased candidate name.
type Rule struct {
	Name  string
	Score func(name string, q *Query) int
}

// DefaultRules returns the ranking heuristics in evaluation order.
func DefaultRules() []Rule {
	return []Rule{
		{Name: "alias", Score: func(name string, q *Query) int {
			if containsAny(name, q.Aliases) {
				return WeightAlias
			}
			return 0
		}},
		{Name: "representative", Score: func(name string, q *Query) int {
			for _, m := range representativeMarkers {
				if strings.HasPrefix(name, m) {
					return WeightRepresentative
				}
			}
			return 0
		}},
		{Name: "whole_word", Score: func(name string, q *Query) int {
			if q.whole != nil && q.whole.MatchString(name) {
				return WeightWholeWord
			}
			return 0
		}},
		{Name: "all_words", Score: func(name string, q *Query) int {
			if len(q.Words) == 0 {
				return 0
			}
			for _, w := range q.Words {
				if !strings.Contains(name, w) {
					return 0
				}
			}
			return WeightAllWords
		}},
		{Name: "context", Score: func(name string, q *Query) int {
			if contextPattern.MatchString(name) {
				return WeightContext
			}
			return 0
		}},
		{Name: "end_of_life", Score: func(name string, q *Query) int {
			if containsAny(name, endOfLifeTerms) {
				return WeightEndOfLife
			}
			return 0
		}},
		{Name: "chemical", Score: func(name string, q *Query) int {
			if containsAny(name, chemicalTerms) {
				return WeightChemical
			}
			return 0
		}},
		{Name: "long_name", Score: func(name string, q *Query) int {
			if utf8.RuneCountInString(name) > longNameRunes {
				return WeightLongName
			}
			return 0
		}},
	}
}

// Ranked is a candidate with its relevance score and the rules that fired.
type Ranked struct {
	catalog.Process
	Score int      `json:"score"`
	Fired []string `json:"rules,omitempty"`
}

// Ranker scores candidates against a query.
type Ranker struct {
	Rules   []Rule
	Aliases Aliases
	Limit   int // 0 = unlimited
}

// NewRanker returns a ranker with the default rules.
func NewRanker(aliases Aliases) *Ranker {
	if aliases == nil {
		aliases = DefaultAliases()
	}
	return &Ranker{Rules: DefaultRules(), Aliases: aliases}
}

// Rank returns the recalled candidates ordered by descending score, ties
// broken alphabetically by name. Candidates matching neither a query word
// nor an alias pattern are never scored.
func (r *Ranker) Rank(query string, candidates []catalog.Process) []Ranked {
	q := ParseQuery(query, r.Aliases)
	return r.RankQuery(&q, candidates)
}

// RankQuery ranks against an already parsed query.
func (r *Ranker) RankQuery(q *Query, candidates []catalog.Process) []Ranked {
	out := make([]Ranked, 0)
	for _, c := range candidates {
		name := strings.ToLower(c.Name)
		if !q.recalled(name) {
			continue
		}
		ranked := Ranked{Process: c}
		for _, rule := range r.Rules {
			if s := rule.Score(name, q); s != 0 {
				ranked.Score += s
				ranked.Fired = append(ranked.Fired, rule.Name)
			}
		}
		out = append(out, ranked)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Name < out[j].Name
	})

	if r.Limit > 0 && len(out) > r.Limit {
		out = out[:r.Limit]
	}
	return out
}

func containsAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if p != "" && strings.Contains(s, p) {
			return true
		}
	}
	return false
}
