// Package llm is a small completion adapter used to draft proxy search
// queries for unmatched ingredients and packaging. Two REST backends are
// supported: Google AI Studio (Gemini) and OpenRouter.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// ErrDisabled is returned by NewProvider when the configuration turns
// suggestion drafting off ("none" or "off").
var ErrDisabled = errors.New("llm provider disabled")

// DefaultTimeout bounds a single completion when Config.Timeout is zero.
const DefaultTimeout = 20 * time.Second

// Provider is the interface for LLM completions.
type Provider interface {
	// Complete sends a prompt and returns the response text.
	Complete(ctx context.Context, prompt string, opts CompletionOpts) (string, error)
	// Name returns provider/model, e.g. "google/gemini-2.5-flash".
	Name() string
}

// CompletionOpts configures a single completion request.
type CompletionOpts struct {
	MaxTokens   int     // 0 = provider default
	Temperature float64 // 0.0-2.0
	Model       string  // overrides the provider default
	JSON        bool    // ask for a JSON response body
	System      string
}

// Config holds provider configuration.
type Config struct {
	Provider string // "google", "openrouter", "none"
	Model    string
	APIKey   string // empty = read from env
	BaseURL  string
	Timeout  time.Duration
}

type backend struct {
	envKeys        []string
	defaultModel   string
	defaultBaseURL string
}

var backends = map[string]backend{
	"google": {
		envKeys:        []string{"GEMINI_API_KEY", "GOOGLE_API_KEY"},
		defaultModel:   "gemini-2.5-flash",
		defaultBaseURL: "https://generativelanguage.googleapis.com/v1beta",
	},
	"openrouter": {
		envKeys:        []string{"OPENROUTER_API_KEY"},
		defaultModel:   "openai/gpt-4o-mini",
		defaultBaseURL: "https://openrouter.ai/api/v1",
	},
}

// NewProvider creates an LLM provider from the given config.
func NewProvider(cfg Config) (Provider, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if name == "none" || name == "off" || name == "" {
		return nil, ErrDisabled
	}
	b, ok := backends[name]
	if !ok {
		return nil, fmt.Errorf("unknown LLM provider: %q (supported: google, openrouter)", cfg.Provider)
	}

	key := cfg.APIKey
	for _, env := range b.envKeys {
		if key != "" {
			break
		}
		key = os.Getenv(env)
	}
	if key == "" {
		return nil, fmt.Errorf("%s provider requires %s", name, strings.Join(b.envKeys, " or "))
	}

	h := httpBackend{
		apiKey:  key,
		model:   firstNonEmpty(cfg.Model, b.defaultModel),
		baseURL: strings.TrimRight(firstNonEmpty(cfg.BaseURL, b.defaultBaseURL), "/"),
		client:  &http.Client{Timeout: durationOr(cfg.Timeout, DefaultTimeout)},
	}
	if name == "google" {
		return &googleProvider{h}, nil
	}
	return &openrouterProvider{h}, nil
}

// ParseSpec parses a "provider/model" value such as "google/gemini-2.5-flash"
// or "openrouter/openai/gpt-4o-mini". "none" disables drafting.
func ParseSpec(spec string) (Config, error) {
	spec = strings.TrimSpace(spec)
	switch strings.ToLower(spec) {
	case "":
		return Config{Provider: "google", Model: backends["google"].defaultModel}, nil
	case "none", "off":
		return Config{Provider: "none"}, nil
	}

	provider, model, ok := strings.Cut(spec, "/")
	if !ok || model == "" {
		return Config{}, fmt.Errorf("invalid llm spec %q: expected provider/model", spec)
	}
	provider = strings.ToLower(provider)
	if _, known := backends[provider]; !known {
		return Config{}, fmt.Errorf("unknown provider %q in llm spec (supported: google, openrouter)", provider)
	}
	return Config{Provider: provider, Model: model}, nil
}

// httpBackend carries what both REST providers share.
type httpBackend struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

func (h httpBackend) modelFor(opts CompletionOpts) string {
	return firstNonEmpty(opts.Model, h.model)
}

// post sends payload as JSON and decodes a 200 response into out.
func (h httpBackend) post(ctx context.Context, vendor, url string, headers map[string]string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	client := h.client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s API error (status %d): %s", vendor, resp.StatusCode, truncate(string(raw), 300))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	return nil
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func durationOr(d, def time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return def
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
