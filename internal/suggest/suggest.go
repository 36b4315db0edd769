// Package suggest drafts proxy search queries for ingredients and packaging
// that direct search could not match, then checks each draft against the
// live resolution pipeline before handing it back.
package suggest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hurttlocker/impact/internal/cache"
	"github.com/hurttlocker/impact/internal/llm"
	"github.com/hurttlocker/impact/internal/metrics"
	"github.com/hurttlocker/impact/internal/search"
)

// ItemType distinguishes recipe ingredients from packaging components.
type ItemType string

const (
	Ingredient ItemType = "ingredient"
	Packaging  ItemType = "packaging"
)

// Confidence is the drafter's own label for a suggestion.
type Confidence string

const (
	High   Confidence = "high"
	Medium Confidence = "medium"
	Low    Confidence = "low"
)

// AnonymousIdentity is the rate-limit identity for requests without an organization.
const AnonymousIdentity = "anonymous"

// DefaultQuota allows ten suggestion runs per identity per hour.
var DefaultQuota = cache.Quota{Limit: 10, Window: time.Hour}

var (
	// ErrInvalidRequest is returned for a missing name or unknown item type.
	ErrInvalidRequest = errors.New("invalid suggestion request")
	// ErrRateLimited is wrapped by every *RateLimitError.
	ErrRateLimited = errors.New("suggestion rate limit exceeded")
)

// RateLimitError reports a rejected request with quota context.
type RateLimitError struct {
	Remaining  int
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%v: %d remaining, retry after %s", ErrRateLimited, e.Remaining, e.RetryAfter.Round(time.Second))
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// Limiter enforces a per-identity quota over a rolling window.
// cache.MemoryLimiter, cache.RedisLimiter and store.SQLiteStore satisfy it.
type Limiter interface {
	Allow(ctx context.Context, identity string, q cache.Quota) (cache.Decision, error)
}

// Suggestion is one proxy search query. Validation fields are filled in by
// the Validator.
type Suggestion struct {
	SearchQuery  string     `json:"search_query"`
	Confidence   Confidence `json:"confidence"`
	Reasoning    string     `json:"reasoning,omitempty"`
	Validated    bool       `json:"validated"`
	ResultCount  int        `json:"result_count"`
	TopMatchName string     `json:"top_match_name,omitempty"`
}

// Request asks for proxies for one unmatched item.
type Request struct {
	IngredientName string   `json:"ingredient_name"`
	IngredientType ItemType `json:"ingredient_type"`
	ProductContext string   `json:"product_context,omitempty"`
	OrganizationID string   `json:"organization_id,omitempty"`
}

// Response is the suggestion entry point's result.
type Response struct {
	Success      bool         `json:"success"`
	Suggestions  []Suggestion `json:"suggestions"`
	Cached       bool         `json:"cached"`
	FromFallback bool         `json:"from_fallback"`
	Remaining    int          `json:"remaining"`
	RequestID    string       `json:"request_id"`
}

// Config configures a Service.
type Config struct {
	Provider          llm.Provider   // nil = rule-based drafts only
	Searcher          Searcher       // required; validation re-queries go here
	Limiter           Limiter        // nil = unlimited
	Quota             cache.Quota    // zero = DefaultQuota
	Cache             cache.Client   // nil = no caching
	TTL               time.Duration  // 0 = cache.DefaultTTL
	Aliases           search.Aliases // nil = search.DefaultAliases()
	LLMTimeout        time.Duration  // 0 = DefaultLLMTimeout
	ValidationTimeout time.Duration  // 0 = DefaultValidationTimeout
	Logger            zerolog.Logger
}

// Service is the suggestion entry point.
type Service struct {
	drafter   *Drafter
	validator *Validator
	limiter   Limiter
	quota     cache.Quota
	cache     cache.Client
	ttl       time.Duration
	log       zerolog.Logger
}

// cachedSuggestions is what a cache entry holds.
type cachedSuggestions struct {
	Suggestions  []Suggestion `json:"suggestions"`
	FromFallback bool         `json:"from_fallback"`
}

// NewService wires drafting, validation, rate limiting and caching.
func NewService(cfg Config) *Service {
	quota := cfg.Quota
	if quota.Limit <= 0 || quota.Window <= 0 {
		quota = DefaultQuota
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = cache.DefaultTTL
	}
	return &Service{
		drafter: &Drafter{
			Provider: cfg.Provider,
			Aliases:  cfg.Aliases,
			Timeout:  cfg.LLMTimeout,
			Logger:   cfg.Logger,
		},
		validator: &Validator{
			Searcher: cfg.Searcher,
			Timeout:  cfg.ValidationTimeout,
			Logger:   cfg.Logger,
		},
		limiter: cfg.Limiter,
		quota:   quota,
		cache:   cfg.Cache,
		ttl:     ttl,
		log:     cfg.Logger,
	}
}

// Suggest checks the caller's quota, then serves cached suggestions or
// drafts, validates and retains a fresh batch. A cache hit still consumes quota.
func (s *Service) Suggest(ctx context.Context, req Request) (*Response, error) {
	name := strings.TrimSpace(req.IngredientName)
	if name == "" {
		return nil, fmt.Errorf("%w: ingredient_name is required", ErrInvalidRequest)
	}
	itemType, err := parseItemType(req.IngredientType)
	if err != nil {
		return nil, err
	}
	identity := strings.TrimSpace(req.OrganizationID)
	if identity == "" {
		identity = AnonymousIdentity
	}

	resp := &Response{RequestID: uuid.NewString(), Remaining: s.quota.Limit}
	log := s.log.With().Str("request_id", resp.RequestID).Str("ingredient", name).Logger()

	if s.limiter != nil {
		d, err := s.limiter.Allow(ctx, identity, s.quota)
		switch {
		case err != nil:
			log.Warn().Err(err).Msg("rate limiter unavailable, allowing request")
		case !d.Allowed:
			metrics.RecordRateLimited()
			log.Info().Str("identity", identity).Dur("retry_after", d.RetryAfter).Msg("suggestion rate limited")
			return nil, &RateLimitError{Remaining: d.Remaining, RetryAfter: d.RetryAfter}
		default:
			resp.Remaining = d.Remaining
		}
	}

	key := cache.Key("suggest", string(itemType), cache.Normalize(name))
	if hit, ok := s.fromCache(ctx, key); ok {
		log.Debug().Msg("suggestion cache hit")
		resp.Success = true
		resp.Cached = true
		resp.Suggestions = hit.Suggestions
		resp.FromFallback = hit.FromFallback
		return resp, nil
	}

	drafts, fromFallback := s.drafter.Draft(ctx, name, itemType, req.ProductContext)
	checked := s.validator.Validate(ctx, req.OrganizationID, drafts)

	resp.Success = true
	resp.Suggestions = Retain(checked)
	resp.FromFallback = fromFallback
	log.Debug().Int("drafted", len(drafts)).Int("returned", len(resp.Suggestions)).Bool("fallback", fromFallback).Msg("suggestions ready")

	// fallback drafts are not cached so a recovered provider is used next time
	if s.cache != nil && !fromFallback {
		data, err := json.Marshal(cachedSuggestions{Suggestions: resp.Suggestions})
		if err == nil {
			if err := s.cache.Set(ctx, key, data, s.ttl); err != nil {
				log.Warn().Err(err).Msg("suggestion cache write failed")
			}
		}
	}
	return resp, nil
}

func (s *Service) fromCache(ctx context.Context, key string) (*cachedSuggestions, bool) {
	if s.cache == nil {
		return nil, false
	}
	data, err := s.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.log.Warn().Err(err).Str("key", key).Msg("suggestion cache read failed")
		}
		return nil, false
	}
	var hit cachedSuggestions
	if err := json.Unmarshal(data, &hit); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("discarding corrupt suggestion cache entry")
		return nil, false
	}
	return &hit, true
}

func parseItemType(t ItemType) (ItemType, error) {
	switch ItemType(strings.ToLower(strings.TrimSpace(string(t)))) {
	case "", Ingredient:
		return Ingredient, nil
	case Packaging:
		return Packaging, nil
	}
	return "", fmt.Errorf("%w: ingredient_type must be %q or %q, got %q", ErrInvalidRequest, Ingredient, Packaging, t)
}
