package impact

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/hurttlocker/impact/internal/cache"
)

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestAggregateIndependentCategories(t *testing.T) {
	lines := []Line{
		{Material: "barley", Quantity: 2, Factor: Factor{Climate: 0.5, Water: 0.1, Land: 1.2, Waste: 0, Quality: SecondaryModelled}},
		{Material: "glass", Quantity: 0.4, Factor: Factor{Climate: 1.0, Water: 0, Land: 0.01, Waste: 0.2, Quality: PrimaryVerified}},
		{Material: "label", Quantity: 0.01, Factor: Factor{Climate: 2, Quality: SecondaryModelled}},
	}
	rep := Aggregate(lines)

	want := Totals{Climate: 1.0 + 0.4 + 0.02, Water: 0.2, Land: 2.4 + 0.004, Waste: 0.08}
	if !approx(rep.Totals.Climate, want.Climate) || !approx(rep.Totals.Water, want.Water) ||
		!approx(rep.Totals.Land, want.Land) || !approx(rep.Totals.Waste, want.Waste) {
		t.Fatalf("totals = %+v, want %+v", rep.Totals, want)
	}
	if len(rep.Lines) != 3 || !approx(rep.Lines[1].Impacts.Climate, 0.4) {
		t.Fatalf("lines = %+v", rep.Lines)
	}

	if len(rep.Quality) != 2 {
		t.Fatalf("quality breakdown = %+v", rep.Quality)
	}
	// sorted by quality name
	if rep.Quality[0].Quality != PrimaryVerified || rep.Quality[0].Lines != 1 {
		t.Errorf("quality[0] = %+v", rep.Quality[0])
	}
	if rep.Quality[1].Lines != 2 || !approx(rep.Quality[1].ClimateShare, 1.02/1.42*100) {
		t.Errorf("quality[1] = %+v", rep.Quality[1])
	}
	if rep.Mock {
		t.Error("no line was mock")
	}
}

func TestAggregateEmpty(t *testing.T) {
	rep := Aggregate(nil)
	if rep.Totals != (Totals{}) || rep.Lines == nil || rep.Quality == nil {
		t.Fatalf("empty report = %+v", rep)
	}
}

type countingProvider struct {
	calls  int32
	factor Factor
	err    error
}

func (p *countingProvider) Name() string { return "counting" }

func (p *countingProvider) Lookup(ctx context.Context, term string) (Factor, error) {
	atomic.AddInt32(&p.calls, 1)
	return p.factor, p.err
}

func TestLookupCachesByNormalizedTerm(t *testing.T) {
	p := &countingProvider{factor: Factor{Climate: 1.5, Quality: SecondaryModelled}}
	l := NewLookup(LookupConfig{Provider: p, Cache: cache.NewMemoryClient(10)})
	ctx := context.Background()

	first, err := l.Get(ctx, "Barley ")
	if err != nil {
		t.Fatal(err)
	}
	if first.Cached || first.Factor.Climate != 1.5 {
		t.Fatalf("first = %+v", first)
	}
	second, err := l.Get(ctx, " barley")
	if err != nil {
		t.Fatal(err)
	}
	if !second.Cached || second.Factor != first.Factor {
		t.Fatalf("second = %+v", second)
	}
	if p.calls != 1 {
		t.Fatalf("provider called %d times, want 1", p.calls)
	}
}

func TestLookupDegradesToPlaceholder(t *testing.T) {
	p := &countingProvider{err: errors.New("connection refused")}
	c := cache.NewMemoryClient(10)
	l := NewLookup(LookupConfig{Provider: p, Cache: c})
	ctx := context.Background()

	res, err := l.Get(ctx, "glass")
	if err != nil {
		t.Fatalf("provider failure should not surface: %v", err)
	}
	if !res.Mock || res.Factor.Quality != HybridProxy || res.Factor.Climate != 0 {
		t.Fatalf("placeholder = %+v", res)
	}
	if c.Len() != 0 {
		t.Fatal("placeholder factors must not be cached")
	}
	if _, err := l.Get(ctx, "glass"); err != nil || p.calls != 2 {
		t.Fatalf("second lookup should retry provider: calls=%d err=%v", p.calls, err)
	}
}

func TestLookupRejectsEmptyTerm(t *testing.T) {
	if _, err := NewLookup(LookupConfig{}).Get(context.Background(), "  "); err == nil {
		t.Fatal("expected error for empty term")
	}
}

func TestResolveDeduplicatesTerms(t *testing.T) {
	p := &countingProvider{factor: Factor{Climate: 2, Quality: SecondaryModelled}}
	l := NewLookup(LookupConfig{Provider: p})
	given := Factor{Climate: 9, Quality: PrimaryVerified}

	lines, err := l.Resolve(context.Background(), []Item{
		{Material: "malt A", SearchTerm: "barley", Quantity: 1},
		{Material: "malt B", SearchTerm: "BARLEY", Quantity: 2},
		{Material: "supplier bottle", Quantity: 1, Factor: &given},
	})
	if err != nil {
		t.Fatal(err)
	}
	if p.calls != 1 {
		t.Fatalf("provider calls = %d, want 1", p.calls)
	}
	if len(lines) != 3 || lines[2].Factor.Climate != 9 {
		t.Fatalf("lines = %+v", lines)
	}
	rep := Aggregate(lines)
	if rep.Totals.Climate != 2+4+9 {
		t.Errorf("climate total = %v", rep.Totals.Climate)
	}

	if _, err := l.Resolve(context.Background(), []Item{{Material: "", Quantity: 1}}); err == nil {
		t.Error("expected error for missing material")
	}
	if _, err := l.Resolve(context.Background(), []Item{{Material: "x", Quantity: -1}}); err == nil {
		t.Error("expected error for negative quantity")
	}
}

func TestHTTPProvider(t *testing.T) {
	var gotAuth, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotQuery = r.URL.Query().Get("q")
		if gotQuery == "missing" {
			fmt.Fprint(w, `{"climate": 1}`)
			return
		}
		if gotQuery == "boom" {
			w.WriteHeader(http.StatusBadGateway)
			fmt.Fprint(w, "upstream down")
			return
		}
		fmt.Fprint(w, `{"climate":0.82,"water":0.01,"land":0.3,"waste":0.05,"quality":"primary_verified","process_id":"abc","uncertainty":{"std_dev":0.1}}`)
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL+"/factors", "secret")
	f, err := p.Lookup(context.Background(), "green glass")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if gotAuth != "Bearer secret" || gotQuery != "green glass" {
		t.Errorf("request auth=%q q=%q", gotAuth, gotQuery)
	}
	if f.Climate != 0.82 || f.Quality != PrimaryVerified || f.ProcessID != "abc" || f.Uncertainty == nil || *f.Uncertainty.StdDev != 0.1 {
		t.Errorf("factor = %+v", f)
	}

	if _, err := p.Lookup(context.Background(), "missing"); err == nil {
		t.Error("expected error for incomplete factor")
	}
	if _, err := p.Lookup(context.Background(), "boom"); err == nil {
		t.Error("expected error for non-200")
	}
	if _, err := NewHTTPProvider("", "").Lookup(context.Background(), "x"); !errors.Is(err, ErrNoProvider) {
		t.Errorf("empty endpoint err = %v", err)
	}
}

func TestMockProvider(t *testing.T) {
	l := NewLookup(LookupConfig{})
	res, err := l.Get(context.Background(), "anything")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Mock || res.Factor.Quality != HybridProxy {
		t.Fatalf("mock lookup = %+v", res)
	}
}
