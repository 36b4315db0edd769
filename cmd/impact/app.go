package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/hurttlocker/impact/internal/cache"
	"github.com/hurttlocker/impact/internal/catalog"
	"github.com/hurttlocker/impact/internal/config"
	"github.com/hurttlocker/impact/internal/engine"
	"github.com/hurttlocker/impact/internal/impact"
	"github.com/hurttlocker/impact/internal/llm"
	"github.com/hurttlocker/impact/internal/logging"
	"github.com/hurttlocker/impact/internal/search"
	"github.com/hurttlocker/impact/internal/store"
	"github.com/hurttlocker/impact/internal/suggest"
)

// app is everything a command needs, built from the resolved configuration.
type app struct {
	cfg    config.ResolvedConfig
	log    zerolog.Logger
	store  *store.SQLiteStore
	redis  *cache.RedisClient
	engine *engine.Engine
}

func resolveConfig() (config.ResolvedConfig, error) {
	level := globalLogLevel
	if globalVerbose {
		level = "debug"
	}
	return config.ResolveConfig(config.ResolveOptions{
		ConfigPath:    globalConfigPath,
		CLILLM:        globalLLM,
		CLIDBPath:     globalDBPath,
		CLILogLevel:   level,
		CLIInventoryA: globalInventoryA,
		CLIInventoryB: globalInventoryB,
	})
}

func openApp() (*app, error) {
	cfg, err := resolveConfig()
	if err != nil {
		return nil, err
	}
	return buildApp(cfg)
}

// buildApp wires every component. Optional backends (Redis, the LLM, the
// factor endpoint) degrade with a warning instead of failing startup.
func buildApp(cfg config.ResolvedConfig) (*app, error) {
	log := logging.New(logging.Options{Level: cfg.LogLevel.Value, Format: cfg.LogFormat.Value})

	s, err := store.NewStore(store.StoreConfig{DBPath: cfg.DBPath.Value})
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	a := &app{cfg: cfg, log: log, store: s}

	var (
		c       cache.Client    = s.Cache()
		limiter suggest.Limiter = s
	)
	if addr := cfg.RedisAddr.Value; addr != "" {
		rc, err := cache.NewRedisClient(cache.RedisConfig{Addr: addr})
		if err != nil {
			log.Warn().Err(err).Str("addr", addr).Msg("redis unavailable, using sqlite cache")
		} else {
			a.redis = rc
			c = rc
			limiter = rc.Limiter()
		}
	}

	quota, err := cfg.Quota()
	if err != nil {
		a.Close()
		return nil, err
	}
	ttl := cfg.CacheTTLDuration()

	inventories, err := loadInventories(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	e := &engine.Engine{
		Store:   s,
		Targets: cfg.PRNTargets,
		Logger:  log,
	}

	aliases := search.DefaultAliases()
	for name, alias := range cfg.Aliases {
		aliases[name] = alias
	}

	if len(inventories) == 0 {
		log.Warn().Msg("no inventories configured; search and suggest are disabled")
	} else {
		e.Search = search.NewService(search.Config{
			Inventories: inventories,
			Rules:       cfg.Classifier,
			Arbitrator:  &search.Arbitrator{Ranker: search.NewRanker(aliases), Strategy: search.FoodFirst{}},
			Cache:       c,
			TTL:         ttl,
			Logger:      log,
		})
		for inv, n := range e.Search.CandidateCount() {
			log.Info().Str("inventory", string(inv)).Int("candidates", n).Msg("inventory classified")
		}
		e.Suggest = suggest.NewService(suggest.Config{
			Provider:          newLLMProvider(cfg, log),
			Searcher:          e.Search,
			Limiter:           limiter,
			Quota:             quota,
			Cache:             c,
			TTL:               ttl,
			Aliases:           aliases,
			ValidationTimeout: cfg.ValidationTimeoutDuration(),
			Logger:            log,
		})
	}

	var factors impact.Provider
	if endpoint := cfg.FactorEndpoint.Value; endpoint != "" {
		factors = impact.NewHTTPProvider(endpoint, cfg.FactorAPIKey.Value)
	} else {
		log.Debug().Msg("no factor endpoint configured; unresolved items use placeholder factors")
	}
	e.Lookup = impact.NewLookup(impact.LookupConfig{Provider: factors, Cache: c, TTL: ttl, Logger: log})

	a.engine = e
	return a, nil
}

// newLLMProvider returns nil when drafting is disabled or the provider cannot
// be built; suggestions then come from the rule-based fallback.
func newLLMProvider(cfg config.ResolvedConfig, log zerolog.Logger) llm.Provider {
	spec, err := llm.ParseSpec(cfg.LLM.Value)
	if err != nil {
		log.Warn().Err(err).Msg("invalid llm setting, using rule-based suggestions")
		return nil
	}
	spec.APIKey = cfg.APIKeyForProvider(cfg.LLM.Value).Value
	p, err := llm.NewProvider(spec)
	if errors.Is(err, llm.ErrDisabled) {
		return nil
	}
	if err != nil {
		log.Warn().Err(err).Msg("llm unavailable, using rule-based suggestions")
		return nil
	}
	return p
}

func loadInventories(cfg config.ResolvedConfig) (map[catalog.Inventory][]catalog.Process, error) {
	out := map[catalog.Inventory][]catalog.Process{}
	for inv, path := range map[catalog.Inventory]string{
		catalog.InventoryA: cfg.InventoryA.Value,
		catalog.InventoryB: cfg.InventoryB.Value,
	} {
		if path == "" {
			continue
		}
		records, err := catalog.LoadFile(path, inv)
		if err != nil {
			return nil, fmt.Errorf("loading %s inventory: %w", inv, err)
		}
		out[inv] = records
	}
	return out, nil
}

func (a *app) Close() {
	if a.redis != nil {
		a.redis.Close()
	}
	if err := a.store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: closing store: %v\n", err)
	}
}
