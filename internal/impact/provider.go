package impact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrNoProvider is returned when no external factor endpoint is configured.
var ErrNoProvider = errors.New("no factor provider configured")

// ErrInvalidItem is returned for material lines that cannot be resolved.
var ErrInvalidItem = errors.New("invalid material line")

// Provider fetches the impact factor for one search term.
type Provider interface {
	Lookup(ctx context.Context, term string) (Factor, error)
	Name() string
}

// HTTPProvider queries a JSON factor endpoint: GET {Endpoint}?q={term}.
type HTTPProvider struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewHTTPProvider returns a provider for endpoint. An empty endpoint yields a
// provider whose every lookup fails with ErrNoProvider.
func NewHTTPProvider(endpoint, apiKey string) *HTTPProvider {
	return &HTTPProvider{
		endpoint: strings.TrimSpace(endpoint),
		apiKey:   apiKey,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// Name implements Provider.
func (p *HTTPProvider) Name() string { return "http" }

type factorResponse struct {
	Climate     *float64     `json:"climate"`
	Water       *float64     `json:"water"`
	Land        *float64     `json:"land"`
	Waste       *float64     `json:"waste"`
	Quality     Quality      `json:"quality"`
	Uncertainty *Uncertainty `json:"uncertainty,omitempty"`
	ProcessID   string       `json:"process_id"`
	Error       string       `json:"error,omitempty"`
}

// Lookup implements Provider.
func (p *HTTPProvider) Lookup(ctx context.Context, term string) (Factor, error) {
	if p.endpoint == "" {
		return Factor{}, ErrNoProvider
	}

	u, err := url.Parse(p.endpoint)
	if err != nil {
		return Factor{}, fmt.Errorf("parsing factor endpoint: %w", err)
	}
	q := u.Query()
	q.Set("q", term)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Factor{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return Factor{}, fmt.Errorf("factor request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Factor{}, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Factor{}, fmt.Errorf("factor endpoint returned %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var fr factorResponse
	if err := json.Unmarshal(body, &fr); err != nil {
		return Factor{}, fmt.Errorf("parsing factor response: %w", err)
	}
	if fr.Error != "" {
		return Factor{}, fmt.Errorf("factor endpoint error: %s", fr.Error)
	}
	if fr.Climate == nil || fr.Water == nil || fr.Land == nil || fr.Waste == nil {
		return Factor{}, fmt.Errorf("factor response for %q is missing a category", term)
	}

	quality := fr.Quality
	switch quality {
	case PrimaryVerified, SecondaryModelled, HybridProxy:
	default:
		quality = SecondaryModelled
	}
	return Factor{
		Climate:     *fr.Climate,
		Water:       *fr.Water,
		Land:        *fr.Land,
		Waste:       *fr.Waste,
		Quality:     quality,
		Uncertainty: fr.Uncertainty,
		ProcessID:   fr.ProcessID,
		Source:      p.Name(),
	}, nil
}

// MockProvider returns zero placeholder factors so callers always receive a
// usable shape when no real provider is available.
type MockProvider struct{}

// Name implements Provider.
func (MockProvider) Name() string { return "mock" }

// Lookup implements Provider.
func (MockProvider) Lookup(ctx context.Context, term string) (Factor, error) {
	return Placeholder(), nil
}

// Placeholder is the zero factor used for degraded lookups.
func Placeholder() Factor {
	return Factor{Quality: HybridProxy, Source: "mock", Mock: true}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
