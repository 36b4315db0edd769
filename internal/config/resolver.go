// Package config resolves engine settings from a YAML file, environment
// variables and CLI flags, remembering where each value came from.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hurttlocker/impact/internal/cache"
	"github.com/hurttlocker/impact/internal/catalog"
	prn "github.com/hurttlocker/impact/internal/recovery"
	"github.com/hurttlocker/impact/internal/search"
)

type ValueSource string

const (
	SourceUnknown ValueSource = "unknown"
	SourceConfig  ValueSource = "config"
	SourceEnv     ValueSource = "env"
	SourceCLI     ValueSource = "cli"
	SourceDefault ValueSource = "default"
)

// Built-in defaults.
const (
	DefaultDBPath            = "~/.impact/impact.db"
	DefaultLLM               = "google/gemini-2.5-flash"
	DefaultHTTPAddr          = ":8080"
	DefaultLogLevel          = "info"
	DefaultSuggestLimit      = 10
	DefaultSuggestWindow     = time.Hour
	DefaultValidationTimeout = 5 * time.Second
	DefaultCacheTTL          = 24 * time.Hour
)

type ResolvedValue struct {
	Value  string      `json:"value"`
	Source ValueSource `json:"source"`
	From   string      `json:"from,omitempty"`
}

type ResolveOptions struct {
	ConfigPath    string
	CLILLM        string
	CLIDBPath     string
	CLIHTTPAddr   string
	CLILogLevel   string
	CLIInventoryA string
	CLIInventoryB string
}

type ResolvedConfig struct {
	ConfigPath string `json:"config_path"`

	DBPath     ResolvedValue `json:"db_path"`
	LLM        ResolvedValue `json:"llm"`
	RedisAddr  ResolvedValue `json:"redis_addr"`
	HTTPAddr   ResolvedValue `json:"http_addr"`
	LogLevel   ResolvedValue `json:"log_level"`
	LogFormat  ResolvedValue `json:"log_format"`
	InventoryA ResolvedValue `json:"inventory_a"`
	InventoryB ResolvedValue `json:"inventory_b"`

	FactorEndpoint ResolvedValue `json:"factor_endpoint"`
	FactorAPIKey   ResolvedValue `json:"factor_api_key"`

	SuggestLimit      ResolvedValue `json:"suggest_limit"`
	SuggestWindow     ResolvedValue `json:"suggest_window"`
	ValidationTimeout ResolvedValue `json:"validation_timeout"`
	CacheTTL          ResolvedValue `json:"cache_ttl"`

	LLMKeys map[string]ResolvedValue `json:"llm_keys,omitempty"`

	// PRNTargets is the built-in table overlaid with any file entries.
	PRNTargets prn.Targets    `json:"prn_targets"`
	Classifier *catalog.Rules `json:"classifier,omitempty"`
	Aliases    search.Aliases `json:"aliases,omitempty"`
}

type fileConfig struct {
	DBPath    string `yaml:"db_path"`
	RedisAddr string `yaml:"redis_addr"`
	HTTPAddr  string `yaml:"http_addr"`
	Log       struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	LLM struct {
		Provider string `yaml:"provider"`
		APIKey   string `yaml:"api_key"`
	} `yaml:"llm"`
	Factors struct {
		Endpoint string `yaml:"endpoint"`
		APIKey   string `yaml:"api_key"`
	} `yaml:"factors"`
	Inventories struct {
		A string `yaml:"a"`
		B string `yaml:"b"`
	} `yaml:"inventories"`
	Suggest struct {
		Limit             string `yaml:"limit"`
		Window            string `yaml:"window"`
		ValidationTimeout string `yaml:"validation_timeout"`
	} `yaml:"suggest"`
	CacheTTL   string         `yaml:"cache_ttl"`
	PRNTargets prn.Targets    `yaml:"prn_targets"`
	Classifier *catalog.Rules `yaml:"classifier"`
	Aliases    search.Aliases `yaml:"aliases"`
}

func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".impact", "config.yaml")
}

func ResolveConfig(opts ResolveOptions) (ResolvedConfig, error) {
	path := strings.TrimSpace(opts.ConfigPath)
	if path == "" {
		path = DefaultConfigPath()
	}

	out := ResolvedConfig{
		ConfigPath: path,
		LLMKeys:    map[string]ResolvedValue{},
		PRNTargets: prn.DefaultTargets(),
	}
	applyDefault(&out.DBPath, DefaultDBPath)
	applyDefault(&out.LLM, DefaultLLM)
	applyDefault(&out.HTTPAddr, DefaultHTTPAddr)
	applyDefault(&out.LogLevel, DefaultLogLevel)
	applyDefault(&out.SuggestLimit, strconv.Itoa(DefaultSuggestLimit))
	applyDefault(&out.SuggestWindow, DefaultSuggestWindow.String())
	applyDefault(&out.ValidationTimeout, DefaultValidationTimeout.String())
	applyDefault(&out.CacheTTL, DefaultCacheTTL.String())

	cfg, err := loadConfig(path)
	if err != nil {
		return out, err
	}

	if cfg != nil {
		apply(&out.DBPath, cfg.DBPath, SourceConfig, path)
		apply(&out.LLM, cfg.LLM.Provider, SourceConfig, path)
		apply(&out.RedisAddr, cfg.RedisAddr, SourceConfig, path)
		apply(&out.HTTPAddr, cfg.HTTPAddr, SourceConfig, path)
		apply(&out.LogLevel, cfg.Log.Level, SourceConfig, path)
		apply(&out.LogFormat, cfg.Log.Format, SourceConfig, path)
		apply(&out.InventoryA, cfg.Inventories.A, SourceConfig, path)
		apply(&out.InventoryB, cfg.Inventories.B, SourceConfig, path)
		apply(&out.FactorEndpoint, cfg.Factors.Endpoint, SourceConfig, path)
		apply(&out.FactorAPIKey, cfg.Factors.APIKey, SourceConfig, path)
		apply(&out.SuggestLimit, cfg.Suggest.Limit, SourceConfig, path)
		apply(&out.SuggestWindow, cfg.Suggest.Window, SourceConfig, path)
		apply(&out.ValidationTimeout, cfg.Suggest.ValidationTimeout, SourceConfig, path)
		apply(&out.CacheTTL, cfg.CacheTTL, SourceConfig, path)

		if key := strings.TrimSpace(cfg.LLM.APIKey); key != "" {
			provider := providerOf(cfg.LLM.Provider)
			if provider == "" {
				provider = "default"
			}
			out.LLMKeys[provider] = ResolvedValue{Value: key, Source: SourceConfig, From: path}
		}

		if len(cfg.PRNTargets) > 0 {
			out.PRNTargets = out.PRNTargets.Merge(cfg.PRNTargets)
		}
		out.Classifier = cfg.Classifier
		out.Aliases = cfg.Aliases
	}

	applyEnv(&out.DBPath, "IMPACT_DB")
	applyEnv(&out.LLM, "IMPACT_LLM")
	applyEnv(&out.RedisAddr, "IMPACT_REDIS_ADDR")
	applyEnv(&out.HTTPAddr, "IMPACT_HTTP_ADDR")
	applyEnv(&out.LogLevel, "IMPACT_LOG_LEVEL")
	applyEnv(&out.LogFormat, "IMPACT_LOG_FORMAT")
	applyEnv(&out.InventoryA, "IMPACT_INVENTORY_A")
	applyEnv(&out.InventoryB, "IMPACT_INVENTORY_B")
	applyEnv(&out.FactorEndpoint, "IMPACT_FACTOR_ENDPOINT")
	applyEnv(&out.FactorAPIKey, "IMPACT_FACTOR_API_KEY")
	applyEnv(&out.SuggestLimit, "IMPACT_SUGGEST_LIMIT")
	applyEnv(&out.SuggestWindow, "IMPACT_SUGGEST_WINDOW")
	applyEnv(&out.ValidationTimeout, "IMPACT_VALIDATION_TIMEOUT")
	applyEnv(&out.CacheTTL, "IMPACT_CACHE_TTL")

	for _, env := range []struct{ name, provider string }{
		{"GOOGLE_API_KEY", "google"},
		{"GEMINI_API_KEY", "google"},
		{"OPENROUTER_API_KEY", "openrouter"},
	} {
		if v := strings.TrimSpace(os.Getenv(env.name)); v != "" {
			out.LLMKeys[env.provider] = ResolvedValue{Value: v, Source: SourceEnv, From: env.name}
		}
	}

	apply(&out.LLM, opts.CLILLM, SourceCLI, "--llm")
	apply(&out.DBPath, opts.CLIDBPath, SourceCLI, "--db")
	apply(&out.HTTPAddr, opts.CLIHTTPAddr, SourceCLI, "--addr")
	apply(&out.LogLevel, opts.CLILogLevel, SourceCLI, "--log-level")
	apply(&out.InventoryA, opts.CLIInventoryA, SourceCLI, "--inventory-a")
	apply(&out.InventoryB, opts.CLIInventoryB, SourceCLI, "--inventory-b")

	for _, v := range []*ResolvedValue{&out.DBPath, &out.InventoryA, &out.InventoryB} {
		if v.Value != "" {
			v.Value = expandUserPath(v.Value)
		}
	}

	if err := out.validate(); err != nil {
		return out, err
	}
	return out, nil
}

func (r ResolvedConfig) validate() error {
	if _, err := r.Quota(); err != nil {
		return err
	}
	if _, err := durationValue(r.ValidationTimeout, "validation_timeout"); err != nil {
		return err
	}
	if _, err := durationValue(r.CacheTTL, "cache_ttl"); err != nil {
		return err
	}
	if err := r.PRNTargets.Validate(); err != nil {
		return fmt.Errorf("prn_targets: %w", err)
	}
	return nil
}

// Quota returns the suggestion rate-limit quota.
func (r ResolvedConfig) Quota() (cache.Quota, error) {
	limit, err := strconv.Atoi(strings.TrimSpace(r.SuggestLimit.Value))
	if err != nil || limit <= 0 {
		return cache.Quota{}, fmt.Errorf("suggest_limit %q (from %s): must be a positive integer", r.SuggestLimit.Value, r.SuggestLimit.Source)
	}
	window, err := durationValue(r.SuggestWindow, "suggest_window")
	if err != nil {
		return cache.Quota{}, err
	}
	return cache.Quota{Limit: limit, Window: window}, nil
}

// ValidationTimeoutDuration returns the per-suggestion validation bound.
func (r ResolvedConfig) ValidationTimeoutDuration() time.Duration {
	d, err := durationValue(r.ValidationTimeout, "validation_timeout")
	if err != nil {
		return DefaultValidationTimeout
	}
	return d
}

// CacheTTLDuration returns the lookup/search/suggestion cache TTL.
func (r ResolvedConfig) CacheTTLDuration() time.Duration {
	d, err := durationValue(r.CacheTTL, "cache_ttl")
	if err != nil {
		return DefaultCacheTTL
	}
	return d
}

func (r ResolvedConfig) APIKeyForProvider(providerOrModel string) ResolvedValue {
	provider := providerOf(providerOrModel)
	if provider == "" {
		return ResolvedValue{}
	}
	if v, ok := r.LLMKeys[provider]; ok && strings.TrimSpace(v.Value) != "" {
		return v
	}
	if v, ok := r.LLMKeys["default"]; ok && strings.TrimSpace(v.Value) != "" {
		return v
	}
	return ResolvedValue{}
}

// Redacted returns a copy safe to print, with every secret masked.
func (r ResolvedConfig) Redacted() ResolvedConfig {
	out := r
	out.FactorAPIKey.Value = mask(r.FactorAPIKey.Value)
	out.LLMKeys = make(map[string]ResolvedValue, len(r.LLMKeys))
	for k, v := range r.LLMKeys {
		v.Value = mask(v.Value)
		out.LLMKeys[k] = v
	}
	return out
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 8 {
		return "****"
	}
	return secret[:4] + "****"
}

func durationValue(v ResolvedValue, name string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(v.Value))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%s %q (from %s): must be a positive duration like 5s or 1h", name, v.Value, v.Source)
	}
	return d, nil
}

func providerOf(providerOrModel string) string {
	v := strings.ToLower(strings.TrimSpace(providerOrModel))
	if v == "" {
		return ""
	}
	if idx := strings.Index(v, "/"); idx > 0 {
		return v[:idx]
	}
	return v
}

func applyDefault(dst *ResolvedValue, v string) {
	*dst = ResolvedValue{Value: v, Source: SourceDefault, From: "built-in default"}
}

func apply(dst *ResolvedValue, raw string, source ValueSource, from string) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return
	}
	*dst = ResolvedValue{Value: v, Source: source, From: from}
}

func applyEnv(dst *ResolvedValue, envKey string) {
	if v := strings.TrimSpace(os.Getenv(envKey)); v != "" {
		*dst = ResolvedValue{Value: v, Source: SourceEnv, From: envKey}
	}
}

func loadConfig(path string) (*fileConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &cfg, nil
}

func expandUserPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
