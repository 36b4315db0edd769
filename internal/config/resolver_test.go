package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestResolveConfig_Defaults(t *testing.T) {
	resolved, err := ResolveConfig(ResolveOptions{ConfigPath: filepath.Join(t.TempDir(), "missing.yaml")})
	if err != nil {
		t.Fatalf("ResolveConfig: %v", err)
	}
	if resolved.LLM.Value != DefaultLLM || resolved.LLM.Source != SourceDefault {
		t.Fatalf("llm = %+v", resolved.LLM)
	}
	if strings.HasPrefix(resolved.DBPath.Value, "~") {
		t.Fatalf("db path not expanded: %q", resolved.DBPath.Value)
	}
	q, err := resolved.Quota()
	if err != nil || q.Limit != 10 || q.Window != time.Hour {
		t.Fatalf("quota = %+v, %v", q, err)
	}
	if resolved.ValidationTimeoutDuration() != 5*time.Second || resolved.CacheTTLDuration() != 24*time.Hour {
		t.Fatalf("durations = %s / %s", resolved.ValidationTimeoutDuration(), resolved.CacheTTLDuration())
	}
	if resolved.PRNTargets[2025]["GL"] != 80 {
		t.Fatalf("default targets missing: %+v", resolved.PRNTargets[2025])
	}
}

func TestResolveConfig_Precedence_ConfigEnvCLI(t *testing.T) {
	cfgPath := writeConfig(t, `db_path: ~/.impact/from-config.db
redis_addr: localhost:6379
llm:
  provider: openrouter/openai/gpt-4o-mini
suggest:
  limit: 25
  window: 30m
inventories:
  a: /data/a.csv
  b: /data/b.csv
`)

	t.Setenv("IMPACT_DB", "~/from-env.db")
	t.Setenv("IMPACT_LLM", "google/gemini-2.5-flash")
	t.Setenv("IMPACT_INVENTORY_B", "/env/b.json")

	resolved, err := ResolveConfig(ResolveOptions{
		ConfigPath: cfgPath,
		CLILLM:     "none",
		CLIDBPath:  "~/from-cli.db",
	})
	if err != nil {
		t.Fatalf("ResolveConfig: %v", err)
	}

	if resolved.DBPath.Source != SourceCLI {
		t.Fatalf("expected DB path source cli, got %s", resolved.DBPath.Source)
	}
	if resolved.LLM.Source != SourceCLI || resolved.LLM.Value != "none" {
		t.Fatalf("expected llm from cli, got %+v", resolved.LLM)
	}
	if resolved.InventoryA.Source != SourceConfig || resolved.InventoryB.Source != SourceEnv {
		t.Fatalf("inventories = %+v / %+v", resolved.InventoryA, resolved.InventoryB)
	}
	if resolved.RedisAddr.Value != "localhost:6379" {
		t.Fatalf("redis addr = %+v", resolved.RedisAddr)
	}
	q, err := resolved.Quota()
	if err != nil || q.Limit != 25 || q.Window != 30*time.Minute {
		t.Fatalf("quota = %+v, %v", q, err)
	}
}

func TestResolveConfig_DomainTables(t *testing.T) {
	cfgPath := writeConfig(t, `prn_targets:
  2025:
    gl: 85
  2030:
    PL: 65
classifier:
  prefixes: ["c:manufacturing/11:"]
  keep: ["bottle"]
  exclude: ["mining"]
aliases:
  stevia:
    patterns: ["stevia", "steviol"]
    food: true
`)
	resolved, err := ResolveConfig(ResolveOptions{ConfigPath: cfgPath})
	if err != nil {
		t.Fatalf("ResolveConfig: %v", err)
	}
	if resolved.PRNTargets[2025]["GL"] != 85 || resolved.PRNTargets[2025]["PL"] != 59 {
		t.Fatalf("2025 targets = %+v", resolved.PRNTargets[2025])
	}
	if resolved.PRNTargets[2030]["PL"] != 65 {
		t.Fatalf("2030 targets = %+v", resolved.PRNTargets[2030])
	}
	if resolved.Classifier == nil || resolved.Classifier.Keep[0] != "bottle" {
		t.Fatalf("classifier = %+v", resolved.Classifier)
	}
	if a, ok := resolved.Aliases["stevia"]; !ok || !a.Food || len(a.Patterns) != 2 {
		t.Fatalf("aliases = %+v", resolved.Aliases)
	}
}

func TestResolveConfig_InvalidValues(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		env  map[string]string
	}{
		{"zero limit", "suggest:\n  limit: 0\n", nil},
		{"bad window", "", map[string]string{"IMPACT_SUGGEST_WINDOW": "soon"}},
		{"bad ttl", "cache_ttl: -1h\n", nil},
		{"target over 100", "prn_targets:\n  2025:\n    GL: 120\n", nil},
		{"malformed yaml", "llm: [", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := ResolveConfig(ResolveOptions{ConfigPath: writeConfig(t, tt.yaml)}); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestAPIKeyForProvider_EnvOverridesConfig(t *testing.T) {
	cfgPath := writeConfig(t, `llm:
  provider: openrouter/openai/gpt-4o-mini
  api_key: config-key
`)
	t.Setenv("OPENROUTER_API_KEY", "env-key")

	resolved, err := ResolveConfig(ResolveOptions{ConfigPath: cfgPath})
	if err != nil {
		t.Fatalf("ResolveConfig: %v", err)
	}
	k := resolved.APIKeyForProvider("openrouter/some-model")
	if k.Value != "env-key" || k.Source != SourceEnv {
		t.Fatalf("expected env key, got %+v", k)
	}
	if k := resolved.APIKeyForProvider(""); k.Value != "" {
		t.Fatalf("empty provider should have no key, got %+v", k)
	}
}

func TestRedacted(t *testing.T) {
	r := ResolvedConfig{
		FactorAPIKey: ResolvedValue{Value: "sk-factor-123456"},
		LLMKeys:      map[string]ResolvedValue{"google": {Value: "short"}},
	}
	red := r.Redacted()
	if red.FactorAPIKey.Value != "sk-f****" || red.LLMKeys["google"].Value != "****" {
		t.Fatalf("redacted = %+v / %+v", red.FactorAPIKey, red.LLMKeys)
	}
	if r.LLMKeys["google"].Value != "short" {
		t.Fatal("Redacted mutated the original")
	}
}
