package impact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/hurttlocker/impact/internal/cache"
	"github.com/hurttlocker/impact/internal/metrics"
)

// LookupResult is one resolved factor.
type LookupResult struct {
	Term   string `json:"term"`
	Factor Factor `json:"factor"`
	Cached bool   `json:"cached"`
	Mock   bool   `json:"mock"`
}

// Lookup fronts a Provider with a cache keyed by normalized search term.
// Provider failures degrade to placeholder factors, which are never cached.
type Lookup struct {
	provider Provider
	cache    cache.Client
	ttl      time.Duration
	log      zerolog.Logger
}

// LookupConfig configures NewLookup.
type LookupConfig struct {
	Provider Provider      // nil = MockProvider
	Cache    cache.Client  // nil = no caching
	TTL      time.Duration // 0 = cache.DefaultTTL
	Logger   zerolog.Logger
}

// NewLookup builds a Lookup.
func NewLookup(cfg LookupConfig) *Lookup {
	p := cfg.Provider
	if p == nil {
		p = MockProvider{}
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = cache.DefaultTTL
	}
	return &Lookup{provider: p, cache: cfg.Cache, ttl: ttl, log: cfg.Logger}
}

// Get returns the factor for term. A cache hit skips the provider entirely.
func (l *Lookup) Get(ctx context.Context, term string) (*LookupResult, error) {
	norm := cache.Normalize(term)
	if norm == "" {
		return nil, fmt.Errorf("%w: search term is required", ErrInvalidItem)
	}
	key := cache.Key("lookup", norm)

	if l.cache != nil {
		data, err := l.cache.Get(ctx, key)
		switch {
		case err == nil:
			var f Factor
			if jerr := json.Unmarshal(data, &f); jerr == nil {
				metrics.RecordLookupCache(true)
				l.log.Debug().Str("term", norm).Msg("factor cache hit")
				return &LookupResult{Term: norm, Factor: f, Cached: true, Mock: f.Mock}, nil
			}
			l.log.Warn().Str("term", norm).Msg("discarding corrupt factor cache entry")
		case !errors.Is(err, cache.ErrCacheMiss):
			l.log.Warn().Err(err).Str("term", norm).Msg("factor cache read failed")
		}
		metrics.RecordLookupCache(false)
	}

	f, err := l.provider.Lookup(ctx, norm)
	if err != nil {
		if errors.Is(err, ErrNoProvider) {
			l.log.Debug().Str("term", norm).Msg("no factor provider, using placeholder")
		} else {
			l.log.Warn().Err(err).Str("term", norm).Str("provider", l.provider.Name()).Msg("factor provider unavailable, using placeholder")
		}
		p := Placeholder()
		return &LookupResult{Term: norm, Factor: p, Mock: true}, nil
	}

	if l.cache != nil && !f.Mock {
		if data, err := json.Marshal(f); err == nil {
			if err := l.cache.Set(ctx, key, data, l.ttl); err != nil {
				l.log.Warn().Err(err).Str("term", norm).Msg("factor cache write failed")
			}
		}
	}
	return &LookupResult{Term: norm, Factor: f, Mock: f.Mock}, nil
}

// Item is one material line before resolution. A nil Factor is resolved
// through the Lookup using SearchTerm (or Material when SearchTerm is empty).
type Item struct {
	Material   string  `json:"material"`
	SearchTerm string  `json:"search_term,omitempty"`
	Quantity   float64 `json:"quantity"`
	Factor     *Factor `json:"factor,omitempty"`
}

// Resolve looks up every unresolved item, each distinct term once, and
// returns lines ready for Aggregate.
func (l *Lookup) Resolve(ctx context.Context, items []Item) ([]Line, error) {
	resolved := map[string]Factor{}
	lines := make([]Line, 0, len(items))
	for i, it := range items {
		if strings.TrimSpace(it.Material) == "" {
			return nil, fmt.Errorf("%w: item %d: material is required", ErrInvalidItem, i)
		}
		if it.Quantity < 0 {
			return nil, fmt.Errorf("%w: item %d (%s): quantity must be >= 0", ErrInvalidItem, i, it.Material)
		}
		if it.Factor != nil {
			lines = append(lines, Line{Material: it.Material, Quantity: it.Quantity, Factor: *it.Factor})
			continue
		}

		term := it.SearchTerm
		if strings.TrimSpace(term) == "" {
			term = it.Material
		}
		norm := cache.Normalize(term)
		f, ok := resolved[norm]
		if !ok {
			res, err := l.Get(ctx, norm)
			if err != nil {
				return nil, fmt.Errorf("item %d (%s): %w", i, it.Material, err)
			}
			f = res.Factor
			resolved[norm] = f
		}
		lines = append(lines, Line{Material: it.Material, Quantity: it.Quantity, Factor: f})
	}
	return lines, nil
}
