// Package search resolves free-text ingredient and packaging descriptions to
// inventory process records.
//
// Resolution runs in three steps, all pure once the catalogues are loaded:
//   - the Ranker scores classified candidates with alias expansion and signed rules
//   - the Arbitrator ranks every inventory and picks the authoritative one
//   - the Service validates input and caches arbitration results for 24h
package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/hurttlocker/impact/internal/cache"
	"github.com/hurttlocker/impact/internal/catalog"
	"github.com/hurttlocker/impact/internal/metrics"
)

// MinQueryLength is the shortest accepted query after trimming.
const MinQueryLength = 2

// ErrQueryTooShort is returned for empty or one-character queries.
var ErrQueryTooShort = errors.New("query too short")

// Request is one search call.
type Request struct {
	Query          string `json:"query"`
	OrganizationID string `json:"organization_id,omitempty"`
}

// Response is the ordered preferred result set plus the secondary one.
type Response struct {
	Query             string            `json:"query"`
	Results           []Ranked          `json:"results"`
	PreferredDatabase catalog.Inventory `json:"preferred_database,omitempty"`
	Secondary         []Ranked          `json:"secondary"`
	SecondaryDatabase catalog.Inventory `json:"secondary_database,omitempty"`
	Cached            bool              `json:"cached"`
	Mock              bool              `json:"mock"` // always false; search never uses placeholder factors
}

// Config configures a Service.
type Config struct {
	// Inventories holds each catalogue's raw records; the Service classifies them.
	Inventories map[catalog.Inventory][]catalog.Process
	Rules       *catalog.Rules // nil = catalog.DefaultRules()
	Arbitrator  *Arbitrator    // nil = NewArbitrator()
	Cache       cache.Client   // nil = no caching
	TTL         time.Duration  // 0 = cache.DefaultTTL
	Logger      zerolog.Logger
}

// Service is the search entry point.
type Service struct {
	candidates map[catalog.Inventory][]catalog.Process
	arb        *Arbitrator
	cache      cache.Client
	ttl        time.Duration
	log        zerolog.Logger
}

// NewService classifies the configured inventories once and returns a Service.
func NewService(cfg Config) *Service {
	rules := catalog.DefaultRules()
	if cfg.Rules != nil {
		rules = *cfg.Rules
	}
	candidates := make(map[catalog.Inventory][]catalog.Process, len(cfg.Inventories))
	for inv, records := range cfg.Inventories {
		candidates[inv] = catalog.Classify(records, rules)
	}

	arb := cfg.Arbitrator
	if arb == nil {
		arb = NewArbitrator()
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = cache.DefaultTTL
	}
	return &Service{
		candidates: candidates,
		arb:        arb,
		cache:      cfg.Cache,
		ttl:        ttl,
		log:        cfg.Logger,
	}
}

// CandidateCount reports how many classified records each inventory holds.
func (s *Service) CandidateCount() map[catalog.Inventory]int {
	out := make(map[catalog.Inventory]int, len(s.candidates))
	for inv, records := range s.candidates {
		out[inv] = len(records)
	}
	return out
}

// Search validates the query, then serves it from cache or runs arbitration.
func (s *Service) Search(ctx context.Context, req Request) (*Response, error) {
	query := strings.TrimSpace(req.Query)
	if utf8.RuneCountInString(query) < MinQueryLength {
		return nil, fmt.Errorf("%w: need at least %d characters", ErrQueryTooShort, MinQueryLength)
	}
	key := cache.Key("search", cache.Normalize(query))

	if s.cache != nil {
		if resp, ok := s.fromCache(ctx, key); ok {
			metrics.RecordSearchCache(true)
			s.log.Debug().Str("query", query).Msg("search cache hit")
			resp.Query = query
			resp.Cached = true
			return resp, nil
		}
		metrics.RecordSearchCache(false)
	}

	arb := s.arb.Arbitrate(query, s.candidates)
	resp := &Response{
		Query:             query,
		Results:           arb.Preferred,
		PreferredDatabase: arb.PreferredDatabase,
		Secondary:         arb.Secondary,
		SecondaryDatabase: arb.SecondaryDatabase,
	}

	if s.cache != nil {
		if data, err := json.Marshal(resp); err == nil {
			if err := s.cache.Set(ctx, key, data, s.ttl); err != nil {
				s.log.Warn().Err(err).Str("query", query).Msg("search cache write failed")
			}
		}
	}
	return resp, nil
}

func (s *Service) fromCache(ctx context.Context, key string) (*Response, bool) {
	data, err := s.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.log.Warn().Err(err).Str("key", key).Msg("search cache read failed")
		}
		return nil, false
	}
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("discarding corrupt search cache entry")
		return nil, false
	}
	return &resp, true
}
