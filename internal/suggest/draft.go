package suggest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/hurttlocker/impact/internal/llm"
	"github.com/hurttlocker/impact/internal/search"
)

const (
	// DefaultLLMTimeout bounds one drafting call.
	DefaultLLMTimeout = 15 * time.Second

	// maxSuggestions caps a drafted batch.
	maxSuggestions = 5
)

const draftSystemPrompt = `You help match product ingredients and packaging to life-cycle inventory datasets.

Two databases are searched by keyword:
- a general industrial inventory with English process names such as "market for barley" or "packaging glass production, brown"
- an agri-food inventory whose names are often French, e.g. "Orge, grain" or "Sucre, de betterave"

Given an item the user could not find, propose up to 5 short keyword queries (1-4 words) naming the closest real
commodity, base material or process. Prefer generic commodities over brands, blends or finished products.

Return ONLY a JSON array, nothing else:
[{"search_query": "...", "confidence": "high|medium|low", "reasoning": "one sentence"}]`

// typeDefaults are last-resort queries when nothing in the item name is usable.
var typeDefaults = map[ItemType][]string{
	Ingredient: {"market for", "production"},
	Packaging:  {"packaging", "packaging glass"},
}

// fillerWords never become fallback queries on their own.
var fillerWords = map[string]bool{
	"and": true, "the": true, "with": true, "for": true, "from": true,
	"organic": true, "natural": true, "fresh": true, "dried": true, "mixed": true,
	"premium": true, "extract": true, "blend": true, "flavour": true, "flavor": true,
}

// Drafter produces candidate suggestions, from the LLM when one is
// configured and from the alias table otherwise.
type Drafter struct {
	Provider llm.Provider
	Aliases  search.Aliases
	Timeout  time.Duration
	Logger   zerolog.Logger
}

// Draft returns candidate suggestions and whether they came from the
// rule-based fallback. LLM errors, timeouts and unparseable replies fall back.
func (d *Drafter) Draft(ctx context.Context, name string, itemType ItemType, productContext string) ([]Suggestion, bool) {
	if d.Provider != nil {
		out, err := d.fromLLM(ctx, name, itemType, productContext)
		if err == nil && len(out) > 0 {
			return out, false
		}
		if err == nil {
			err = fmt.Errorf("no usable suggestions")
		}
		d.Logger.Warn().Err(err).Str("provider", d.Provider.Name()).Str("ingredient", name).Msg("llm drafting failed, using fallback")
	}
	return d.Fallback(name, itemType), true
}

func (d *Drafter) fromLLM(ctx context.Context, name string, itemType ItemType, productContext string) ([]Suggestion, error) {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = DefaultLLMTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := d.Provider.Complete(ctx, buildPrompt(name, itemType, productContext), llm.CompletionOpts{
		System:      draftSystemPrompt,
		MaxTokens:   600,
		Temperature: 0.2,
		// JSON mode is left off; thinking models return empty bodies with it.
	})
	if err != nil {
		return nil, err
	}
	return parseDraftResponse(resp)
}

func buildPrompt(name string, itemType ItemType, productContext string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Item: %s\nType: %s\n", name, itemType)
	if c := strings.TrimSpace(productContext); c != "" {
		fmt.Fprintf(&sb, "Product: %s\n", c)
	}
	return sb.String()
}

// parseDraftResponse accepts a bare JSON array, an object with a
// "suggestions" array, and either wrapped in markdown fences.
func parseDraftResponse(resp string) ([]Suggestion, error) {
	resp = stripFences(strings.TrimSpace(resp))

	var raw []Suggestion
	if strings.HasPrefix(resp, "{") {
		var wrapped struct {
			Suggestions []Suggestion `json:"suggestions"`
		}
		if err := json.Unmarshal([]byte(resp), &wrapped); err != nil {
			return nil, fmt.Errorf("parsing suggestion object: %w", err)
		}
		raw = wrapped.Suggestions
	} else {
		start := strings.Index(resp, "[")
		end := strings.LastIndex(resp, "]")
		if start < 0 || end < start {
			return nil, fmt.Errorf("no JSON array in response")
		}
		if err := json.Unmarshal([]byte(resp[start:end+1]), &raw); err != nil {
			return nil, fmt.Errorf("parsing suggestion array: %w", err)
		}
	}

	out := make([]Suggestion, 0, len(raw))
	seen := map[string]bool{}
	for _, s := range raw {
		q := strings.TrimSpace(s.SearchQuery)
		key := strings.ToLower(q)
		if utf8.RuneCountInString(q) < search.MinQueryLength || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, Suggestion{
			SearchQuery: q,
			Confidence:  normalizeConfidence(s.Confidence),
			Reasoning:   strings.TrimSpace(s.Reasoning),
		})
		if len(out) == maxSuggestions {
			break
		}
	}
	return out, nil
}

func stripFences(resp string) string {
	if !strings.HasPrefix(resp, "```") {
		return resp
	}
	var kept []string
	for _, line := range strings.Split(resp, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

func normalizeConfidence(c Confidence) Confidence {
	switch Confidence(strings.ToLower(strings.TrimSpace(string(c)))) {
	case High:
		return High
	case Medium:
		return Medium
	}
	return Low
}

// Fallback builds suggestions without an LLM: alias patterns first
// (medium), then significant words from the name (low), then type defaults.
func (d *Drafter) Fallback(name string, itemType ItemType) []Suggestion {
	aliases := d.Aliases
	if aliases == nil {
		aliases = search.DefaultAliases()
	}
	q := search.ParseQuery(name, aliases)

	var out []Suggestion
	seen := map[string]bool{}
	add := func(query string, c Confidence, why string) {
		if len(out) >= maxSuggestions || seen[query] || utf8.RuneCountInString(query) < search.MinQueryLength {
			return
		}
		seen[query] = true
		out = append(out, Suggestion{SearchQuery: query, Confidence: c, Reasoning: why})
	}

	for _, p := range q.Aliases {
		add(p, Medium, "known synonym for "+q.Text)
	}
	for _, w := range q.Words {
		w = strings.Trim(w, ",.;:()[]\"'")
		if len(w) >= 3 && !fillerWords[w] {
			add(w, Low, "keyword from item name")
		}
	}
	if len(out) == 0 {
		for _, def := range typeDefaults[itemType] {
			add(def, Low, "generic "+string(itemType)+" proxy")
		}
	}
	return out
}
