package mcp

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hurttlocker/impact/internal/allocation"
	"github.com/hurttlocker/impact/internal/cache"
	"github.com/hurttlocker/impact/internal/catalog"
	"github.com/hurttlocker/impact/internal/engine"
	"github.com/hurttlocker/impact/internal/impact"
	prn "github.com/hurttlocker/impact/internal/recovery"
	"github.com/hurttlocker/impact/internal/search"
	"github.com/hurttlocker/impact/internal/store"
	"github.com/hurttlocker/impact/internal/suggest"
)

// helper: an engine over an in-memory store and two tiny inventories
func setupTestEngine(t *testing.T) *engine.Engine {
	t.Helper()
	s, err := store.NewStore(store.StoreConfig{DBPath: ":memory:"})
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	svc := search.NewService(search.Config{
		Inventories: map[catalog.Inventory][]catalog.Process{
			catalog.InventoryA: {
				{ID: "a1", Name: "market for barley grain", Category: "a:agriculture, forestry and fishing/01:crop", Unit: "kg"},
				{ID: "a2", Name: "packaging glass production, brown", Category: "c:manufacturing/23:glass", Unit: "kg"},
			},
			catalog.InventoryB: {
				{ID: "b1", Name: "Orge, grain", Category: "a:agriculture/cereals", Unit: "kg"},
			},
		},
	})
	return &engine.Engine{
		Search: svc,
		Suggest: suggest.NewService(suggest.Config{
			Searcher: svc,
			Limiter:  s,
			Quota:    cache.Quota{Limit: 2, Window: time.Hour},
		}),
		Lookup:  impact.NewLookup(impact.LookupConfig{Cache: s.Cache()}),
		Store:   s,
		Targets: prn.Targets{2025: {prn.Glass: 80, prn.Plastic: 59}},
	}
}

func TestNewServer(t *testing.T) {
	if srv := NewServer(ServerConfig{Engine: setupTestEngine(t)}); srv == nil {
		t.Fatal("NewServer returned nil")
	}
	if srv := NewServer(ServerConfig{}); srv == nil {
		t.Fatal("NewServer without engine returned nil")
	}
}

// callTool is a helper that invokes an MCP tool through JSON-RPC.
func callTool(t *testing.T, srv *server.MCPServer, name string, args map[string]interface{}) *mcplib.CallToolResult {
	t.Helper()

	result := srv.HandleMessage(context.Background(), mustMarshal(t, map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "tools/call",
		"params": map[string]interface{}{
			"name":      name,
			"arguments": args,
		},
	}))

	respBytes, err := json.Marshal(result)
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}

	var resp struct {
		Result struct {
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
			IsError bool `json:"isError"`
		} `json:"result"`
		Error *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(respBytes, &resp); err != nil {
		t.Fatalf("unmarshal response: %v\nraw: %s", err, string(respBytes))
	}
	if resp.Error != nil {
		t.Fatalf("JSON-RPC error: %d %s", resp.Error.Code, resp.Error.Message)
	}

	callResult := &mcplib.CallToolResult{IsError: resp.Result.IsError}
	for _, c := range resp.Result.Content {
		if c.Type == "text" {
			callResult.Content = append(callResult.Content, mcplib.NewTextContent(c.Text))
		}
	}
	return callResult
}

func mustMarshal(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func getTextContent(t *testing.T, result *mcplib.CallToolResult) string {
	t.Helper()
	for _, c := range result.Content {
		if tc, ok := c.(mcplib.TextContent); ok {
			return tc.Text
		}
	}
	t.Fatal("no text content found")
	return ""
}

func decode(t *testing.T, result *mcplib.CallToolResult, out interface{}) {
	t.Helper()
	if result.IsError {
		t.Fatalf("tool returned error: %s", getTextContent(t, result))
	}
	if err := json.Unmarshal([]byte(getTextContent(t, result)), out); err != nil {
		t.Fatalf("parsing tool result: %v", err)
	}
}

func TestSearchTool(t *testing.T) {
	srv := NewServer(ServerConfig{Engine: setupTestEngine(t)})

	var resp search.Response
	decode(t, callTool(t, srv, "impact_search", map[string]interface{}{"query": "glass"}), &resp)
	if resp.PreferredDatabase != catalog.InventoryA || len(resp.Results) == 0 || resp.Results[0].ID != "a2" {
		t.Fatalf("unexpected search response: %+v", resp)
	}

	short := callTool(t, srv, "impact_search", map[string]interface{}{"query": "g"})
	if !short.IsError {
		t.Fatal("expected error for one-character query")
	}
}

func TestSuggestToolAndRateLimit(t *testing.T) {
	srv := NewServer(ServerConfig{Engine: setupTestEngine(t)})
	args := map[string]interface{}{"ingredient_name": "barley", "organization_id": "org-1"}

	var resp suggest.Response
	decode(t, callTool(t, srv, "impact_suggest", args), &resp)
	if !resp.Success || !resp.FromFallback || resp.Remaining != 1 {
		t.Fatalf("unexpected suggest response: %+v", resp)
	}
	for _, s := range resp.Suggestions {
		if !s.Validated {
			t.Errorf("unvalidated suggestion kept alongside validated ones: %+v", s)
		}
	}

	callTool(t, srv, "impact_suggest", args)
	limited := callTool(t, srv, "impact_suggest", args)
	if !limited.IsError || !strings.Contains(getTextContent(t, limited), "0 remaining") {
		t.Fatalf("expected rate limit error, got %+v", limited)
	}
}

func TestAggregateTool(t *testing.T) {
	srv := NewServer(ServerConfig{Engine: setupTestEngine(t)})

	var res engine.AggregateResult
	decode(t, callTool(t, srv, "impact_aggregate", map[string]interface{}{
		"items": []interface{}{
			map[string]interface{}{"material": "glass", "quantity": 2, "factor": map[string]interface{}{"climate": 1.5, "water": 1, "quality": "primary_verified"}},
			map[string]interface{}{"material": "sugar", "quantity": 1},
		},
	}), &res)
	if res.Totals.Climate != 3 || res.Totals.Water != 2 || !res.Mock {
		t.Fatalf("unexpected report: %+v", res.Report)
	}

	if r := callTool(t, srv, "impact_aggregate", map[string]interface{}{}); !r.IsError {
		t.Fatal("expected error without items")
	}
}

func TestAllocationTools(t *testing.T) {
	srv := NewServer(ServerConfig{Engine: setupTestEngine(t)})

	callTool(t, srv, "allocation_set_facility", map[string]interface{}{"facility_id": "f1", "intensity": 0.4, "primary_metered": true})
	callTool(t, srv, "allocation_set_site", map[string]interface{}{"product_id": "p1", "facility_id": "f1", "production_volume": 600})

	var sum allocation.Summary
	decode(t, callTool(t, srv, "allocation_set_site", map[string]interface{}{"product_id": "p1", "facility_id": "f2", "production_volume": 400}), &sum)
	if len(sum.Sites) != 2 || sum.Sites[0].ShareOfProduction != 60 || sum.Sites[0].DataSource != allocation.Verified {
		t.Fatalf("unexpected allocation: %+v", sum)
	}

	decode(t, callTool(t, srv, "allocation_remove_site", map[string]interface{}{"product_id": "p1", "facility_id": "f1"}), &sum)
	if len(sum.Sites) != 1 || sum.Sites[0].ShareOfProduction != 100 {
		t.Fatalf("after removal: %+v", sum)
	}

	decode(t, callTool(t, srv, "allocation_list", map[string]interface{}{"product_id": "p1"}), &sum)
	if sum.ShareTotal != 100 {
		t.Fatalf("listed share total = %v", sum.ShareTotal)
	}

	missing := callTool(t, srv, "allocation_remove_site", map[string]interface{}{"product_id": "p1", "facility_id": "nope"})
	if !missing.IsError {
		t.Fatal("expected error removing an unknown site")
	}
}

func TestPRNTools(t *testing.T) {
	srv := NewServer(ServerConfig{Engine: setupTestEngine(t)})

	var rep engine.ObligationReport
	decode(t, callTool(t, srv, "prn_build", map[string]interface{}{
		"organization_id": "org-1",
		"year":            2025,
		"tonnage":         map[string]interface{}{"GL": 100, "PL": 10},
	}), &rep)
	if len(rep.Obligations) != 2 || rep.Summary.TotalObligation != 85.9 {
		t.Fatalf("unexpected build: %+v", rep)
	}

	var o prn.Obligation
	decode(t, callTool(t, srv, "prn_purchase", map[string]interface{}{
		"organization_id": "org-1", "year": 2025, "material_code": "GL", "tonnes": 85, "cost_per_tonne": 40,
	}), &o)
	if o.Status != prn.Exceeded || o.TotalCost != 3400 {
		t.Fatalf("unexpected purchase result: %+v", o)
	}

	decode(t, callTool(t, srv, "prn_status", map[string]interface{}{"organization_id": "org-1", "year": 2025}), &rep)
	if rep.Summary.ByStatus[prn.Exceeded] != 1 || rep.Summary.ByStatus[prn.NotStarted] != 1 {
		t.Fatalf("unexpected status: %+v", rep.Summary)
	}

	bad := callTool(t, srv, "prn_status", map[string]interface{}{"organization_id": "org-1", "year": 2025.5})
	if !bad.IsError {
		t.Fatal("expected error for fractional year")
	}
}
