package suggest

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hurttlocker/impact/internal/cache"
	"github.com/hurttlocker/impact/internal/catalog"
	"github.com/hurttlocker/impact/internal/llm"
	"github.com/hurttlocker/impact/internal/search"
)

// mockProvider implements llm.Provider for testing.
type mockProvider struct {
	response string
	err      error
	calls    atomic.Int32
}

func (m *mockProvider) Complete(ctx context.Context, prompt string, opts llm.CompletionOpts) (string, error) {
	m.calls.Add(1)
	return m.response, m.err
}

func (m *mockProvider) Name() string { return "mock/test" }

// fakeSearcher answers from a fixed table; queries in slow block until ctx ends.
type fakeSearcher struct {
	results map[string][]string
	slow    map[string]bool
	fail    map[string]bool
	calls   atomic.Int32
}

func (f *fakeSearcher) Search(ctx context.Context, req search.Request) (*search.Response, error) {
	f.calls.Add(1)
	if f.slow[req.Query] {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.fail[req.Query] {
		return nil, errors.New("backend down")
	}
	resp := &search.Response{Query: req.Query, Results: []search.Ranked{}}
	for i, name := range f.results[req.Query] {
		resp.Results = append(resp.Results, search.Ranked{
			Process: catalog.Process{ID: string(rune('a' + i)), Name: name},
		})
	}
	return resp, nil
}

const llmReply = "```json\n" + `[
  {"search_query": "barley grain", "confidence": "HIGH", "reasoning": "malt is germinated barley"},
  {"search_query": "malt", "confidence": "medium"},
  {"search_query": "unobtainium", "confidence": "sure"},
  {"search_query": "malt", "confidence": "low"},
  {"search_query": "x"}
]` + "\n```"

func TestParseDraftResponse(t *testing.T) {
	got, err := parseDraftResponse(llmReply)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 suggestions after dedup/short filter, got %+v", got)
	}
	if got[0].Confidence != High || got[1].Confidence != Medium || got[2].Confidence != Low {
		t.Errorf("confidence normalization: %+v", got)
	}

	wrapped, err := parseDraftResponse(`{"suggestions":[{"search_query":"cane sugar","confidence":"high"}]}`)
	if err != nil || len(wrapped) != 1 || wrapped[0].SearchQuery != "cane sugar" {
		t.Fatalf("wrapped object = %+v, %v", wrapped, err)
	}

	if _, err := parseDraftResponse("I cannot help with that"); err == nil {
		t.Error("expected error for prose reply")
	}
}

func TestFallbackDrafts(t *testing.T) {
	d := &Drafter{}

	got := d.Fallback("Organic barley malt", Ingredient)
	if len(got) == 0 || got[0].SearchQuery != "barley" || got[0].Confidence != Medium {
		t.Fatalf("alias patterns should lead: %+v", got)
	}
	for _, s := range got {
		if s.SearchQuery == "organic" {
			t.Errorf("filler word suggested: %+v", got)
		}
	}
	if len(got) > maxSuggestions {
		t.Errorf("fallback exceeded cap: %d", len(got))
	}

	generic := d.Fallback("zz", Packaging)
	if len(generic) == 0 || generic[0].SearchQuery != "packaging" {
		t.Fatalf("type default expected, got %+v", generic)
	}
}

func TestDraftFallsBackOnLLMFailure(t *testing.T) {
	p := &mockProvider{err: errors.New("503")}
	d := &Drafter{Provider: p}
	got, fallback := d.Draft(context.Background(), "sugar", Ingredient, "")
	if !fallback || len(got) == 0 {
		t.Fatalf("expected fallback drafts, got %+v (fallback=%v)", got, fallback)
	}

	p = &mockProvider{response: "[]"}
	d = &Drafter{Provider: p}
	if _, fallback := d.Draft(context.Background(), "sugar", Ingredient, ""); !fallback {
		t.Fatal("empty LLM batch should fall back")
	}
}

func TestValidatorAnnotatesAndSurvivesFailures(t *testing.T) {
	fs := &fakeSearcher{
		results: map[string][]string{"barley grain": {"market for barley grain", "barley production"}},
		slow:    map[string]bool{"slow": true},
		fail:    map[string]bool{"broken": true},
	}
	v := &Validator{Searcher: fs, Timeout: 50 * time.Millisecond}

	in := []Suggestion{
		{SearchQuery: "barley grain"},
		{SearchQuery: "slow"},
		{SearchQuery: "broken"},
		{SearchQuery: "nothing"},
	}
	start := time.Now()
	out := v.Validate(context.Background(), "org-1", in)
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("slow validation blocked the batch for %s", elapsed)
	}

	if len(out) != len(in) {
		t.Fatalf("validator dropped suggestions: %+v", out)
	}
	if !out[0].Validated || out[0].ResultCount != 2 || out[0].TopMatchName != "market for barley grain" {
		t.Errorf("validated annotation = %+v", out[0])
	}
	for _, s := range out[1:] {
		if s.Validated || s.ResultCount != 0 {
			t.Errorf("%q should be unvalidated: %+v", s.SearchQuery, s)
		}
	}
	if in[0].Validated {
		t.Error("input slice was mutated")
	}
}

func TestRetain(t *testing.T) {
	none := []Suggestion{{SearchQuery: "a"}, {SearchQuery: "b"}}
	if got := Retain(none); len(got) != 2 {
		t.Fatalf("none validated: expected all back, got %+v", got)
	}

	some := []Suggestion{{SearchQuery: "a"}, {SearchQuery: "b", Validated: true}, {SearchQuery: "c", Validated: true}}
	got := Retain(some)
	if len(got) != 2 || got[0].SearchQuery != "b" || got[1].SearchQuery != "c" {
		t.Fatalf("some validated: %+v", got)
	}
}

func newTestService(p llm.Provider, fs *fakeSearcher, limit int) (*Service, *cache.MemoryClient) {
	c := cache.NewMemoryClient(100)
	return NewService(Config{
		Provider: p,
		Searcher: fs,
		Limiter:  cache.NewMemoryLimiter(),
		Quota:    cache.Quota{Limit: limit, Window: time.Hour},
		Cache:    c,
	}), c
}

func TestSuggestEndToEnd(t *testing.T) {
	p := &mockProvider{response: llmReply}
	fs := &fakeSearcher{results: map[string][]string{"malt": {"Malt, barley"}}}
	svc, _ := newTestService(p, fs, 10)
	ctx := context.Background()

	resp, err := svc.Suggest(ctx, Request{IngredientName: "Barley Malt Extract", IngredientType: Ingredient, OrganizationID: "org-1"})
	if err != nil {
		t.Fatal(err)
	}
	if !resp.Success || resp.Cached || resp.FromFallback || resp.Remaining != 9 || resp.RequestID == "" {
		t.Fatalf("response flags = %+v", resp)
	}
	if len(resp.Suggestions) != 1 || resp.Suggestions[0].SearchQuery != "malt" || !resp.Suggestions[0].Validated {
		t.Fatalf("only validated suggestions should remain: %+v", resp.Suggestions)
	}

	// normalized name hits the cache, skips the LLM and still spends quota
	again, err := svc.Suggest(ctx, Request{IngredientName: "  barley malt extract ", OrganizationID: "org-1"})
	if err != nil {
		t.Fatal(err)
	}
	if !again.Cached || again.Remaining != 8 || len(again.Suggestions) != 1 {
		t.Fatalf("cached response = %+v", again)
	}
	if p.calls.Load() != 1 {
		t.Errorf("LLM called %d times, want 1", p.calls.Load())
	}

	// packaging is a separate cache entry
	if r, _ := svc.Suggest(ctx, Request{IngredientName: "barley malt extract", IngredientType: Packaging, OrganizationID: "org-1"}); r.Cached {
		t.Error("item type must be part of the cache key")
	}
}

func TestSuggestFallbackWithoutProvider(t *testing.T) {
	fs := &fakeSearcher{}
	svc, c := newTestService(nil, fs, 10)

	resp, err := svc.Suggest(context.Background(), Request{IngredientName: "glass bottle", IngredientType: Packaging})
	if err != nil {
		t.Fatal(err)
	}
	if !resp.FromFallback || len(resp.Suggestions) == 0 {
		t.Fatalf("expected fallback suggestions: %+v", resp)
	}
	for _, s := range resp.Suggestions {
		if s.Validated {
			t.Errorf("nothing should validate against an empty searcher: %+v", s)
		}
	}
	if c.Len() != 0 {
		t.Errorf("fallback drafts should not be cached, cache holds %d", c.Len())
	}
}

func TestSuggestRateLimit(t *testing.T) {
	svc, _ := newTestService(nil, &fakeSearcher{}, 2)
	ctx := context.Background()
	req := Request{IngredientName: "sugar", OrganizationID: "org-9"}

	for i := 0; i < 2; i++ {
		if _, err := svc.Suggest(ctx, req); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	_, err := svc.Suggest(ctx, req)
	var rle *RateLimitError
	if !errors.As(err, &rle) || !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected RateLimitError, got %v", err)
	}
	if rle.Remaining != 0 || rle.RetryAfter <= 0 {
		t.Errorf("rate limit context = %+v", rle)
	}
	if !strings.Contains(err.Error(), "0 remaining") {
		t.Errorf("error message = %q", err.Error())
	}

	// other identities are unaffected
	if _, err := svc.Suggest(ctx, Request{IngredientName: "sugar"}); err != nil {
		t.Fatalf("anonymous identity: %v", err)
	}
}

func TestSuggestInvalidRequest(t *testing.T) {
	svc, _ := newTestService(nil, &fakeSearcher{}, 10)
	tests := []Request{
		{IngredientName: "   "},
		{IngredientName: "sugar", IngredientType: "pallet"},
	}
	for _, req := range tests {
		if _, err := svc.Suggest(context.Background(), req); !errors.Is(err, ErrInvalidRequest) {
			t.Errorf("%+v: err = %v", req, err)
		}
	}
}
