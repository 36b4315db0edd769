// Package mcp provides a Model Context Protocol server for the impact engine.
//
// It exposes search, proxy suggestion, impact aggregation, facility
// allocation and PRN obligation tracking as MCP tools, plus store statistics
// and the PRN target table as resources. The server runs over stdio.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hurttlocker/impact/internal/allocation"
	"github.com/hurttlocker/impact/internal/engine"
	"github.com/hurttlocker/impact/internal/impact"
	"github.com/hurttlocker/impact/internal/search"
	"github.com/hurttlocker/impact/internal/suggest"
)

// ServerConfig holds configuration for the MCP server.
type ServerConfig struct {
	Engine  *engine.Engine
	Version string
}

// NewServer creates a configured MCP server with every impact tool and resource.
func NewServer(cfg ServerConfig) *server.MCPServer {
	ver := cfg.Version
	if ver == "" {
		ver = "dev"
	}

	s := server.NewMCPServer(
		"Impact",
		ver,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(true, false),
	)

	e := cfg.Engine
	if e == nil {
		e = &engine.Engine{}
	}

	registerSearchTool(s, e)
	registerSuggestTool(s, e)
	registerAggregateTool(s, e)
	registerSetFacilityTool(s, e)
	registerSetSiteTool(s, e)
	registerRemoveSiteTool(s, e)
	registerListSitesTool(s, e)
	registerPRNBuildTool(s, e)
	registerPRNPurchaseTool(s, e)
	registerPRNStatusTool(s, e)

	registerStatsResource(s, e)
	registerTargetsResource(s, e)

	return s
}

// ServeStdio runs the server on stdin/stdout until the client disconnects.
func ServeStdio(s *server.MCPServer) error {
	return server.ServeStdio(s)
}

// --- Tools ---

func registerSearchTool(s *server.MCPServer, e *engine.Engine) {
	tool := mcp.NewTool("impact_search",
		mcp.WithDescription("Resolve a free-text ingredient or packaging description to ranked life-cycle inventory processes. Returns the preferred database's results plus the secondary database's."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Description to resolve, at least 2 characters (e.g. 'glass bottle', 'barley malt')"),
		),
		mcp.WithString("organization_id",
			mcp.Description("Calling organization (optional)"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcp.NewToolResultError("query is required"), nil
		}
		resp, err := e.SearchProcesses(ctx, search.Request{Query: query, OrganizationID: optString(req, "organization_id")})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("search error: %v", err)), nil
		}
		return jsonResult(resp), nil
	})
}

func registerSuggestTool(s *server.MCPServer, e *engine.Engine) {
	tool := mcp.NewTool("impact_suggest",
		mcp.WithDescription("Propose proxy search queries for an item direct search could not match. Each suggestion is re-checked against the inventories; validated ones are returned when any exist. Rate limited per organization."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("ingredient_name",
			mcp.Required(),
			mcp.Description("The unmatched item name"),
		),
		mcp.WithString("ingredient_type",
			mcp.Description("Item type (default: ingredient)"),
			mcp.Enum(string(suggest.Ingredient), string(suggest.Packaging)),
		),
		mcp.WithString("product_context",
			mcp.Description("What the product is, to steer suggestions (optional)"),
		),
		mcp.WithString("organization_id",
			mcp.Description("Calling organization; the rate limit is tracked per organization"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, err := req.RequireString("ingredient_name")
		if err != nil {
			return mcp.NewToolResultError("ingredient_name is required"), nil
		}
		resp, err := e.SuggestProxies(ctx, suggest.Request{
			IngredientName: name,
			IngredientType: suggest.ItemType(optString(req, "ingredient_type")),
			ProductContext: optString(req, "product_context"),
			OrganizationID: optString(req, "organization_id"),
		})
		var rle *suggest.RateLimitError
		if errors.As(err, &rle) {
			return mcp.NewToolResultError(fmt.Sprintf("rate limited: %d remaining, retry after %s", rle.Remaining, rle.RetryAfter.Round(time.Second))), nil
		}
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("suggest error: %v", err)), nil
		}
		return jsonResult(resp), nil
	})
}

func registerAggregateTool(s *server.MCPServer, e *engine.Engine) {
	tool := mcp.NewTool("impact_aggregate",
		mcp.WithDescription("Total climate, water, land and waste impacts for a product's material list. Items without a factor are looked up by search term (cached 24h); placeholder factors are flagged as mock."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithArray("items",
			mcp.Required(),
			mcp.Description(`Material lines: [{"material": "glass", "search_term": "packaging glass", "quantity": 0.35, "factor": {...}}]`),
			mcp.Items(map[string]any{"type": "object"}),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var items []impact.Item
		if err := decodeArg(req, "items", &items); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		res, err := e.Aggregate(ctx, items)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("aggregate error: %v", err)), nil
		}
		return jsonResult(res), nil
	})
}

func registerSetFacilityTool(s *server.MCPServer, e *engine.Engine) {
	tool := mcp.NewTool("allocation_set_facility",
		mcp.WithDescription("Record a facility's aggregated emission intensity and whether it is primary-metered. Every site linked to the facility is refreshed."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("facility_id", mcp.Required(), mcp.Description("Facility identifier")),
		mcp.WithNumber("intensity", mcp.Required(), mcp.Description("Emissions per unit produced")),
		mcp.WithBoolean("primary_metered", mcp.Description("True when the intensity comes from primary metered data (default: false)")),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("facility_id")
		if err != nil {
			return mcp.NewToolResultError("facility_id is required"), nil
		}
		intensity, err := req.RequireFloat("intensity")
		if err != nil {
			return mcp.NewToolResultError("intensity is required"), nil
		}
		metered, _ := req.RequireBool("primary_metered")

		f := allocation.Facility{ID: id, Intensity: intensity, PrimaryMetered: metered}
		if err := e.SetFacility(ctx, f); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("facility error: %v", err)), nil
		}
		return jsonResult(map[string]any{"facility_id": id, "intensity": intensity, "data_source": f.Source()}), nil
	})
}

func registerSetSiteTool(s *server.MCPServer, e *engine.Engine) {
	tool := mcp.NewTool("allocation_set_site",
		mcp.WithDescription("Link a manufacturing site to a product, or change its production volume. All sibling shares are recomputed in one transaction."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("product_id", mcp.Required(), mcp.Description("Product identifier")),
		mcp.WithString("facility_id", mcp.Required(), mcp.Description("Facility identifier")),
		mcp.WithNumber("production_volume", mcp.Required(), mcp.Description("Units produced at this site (>= 0)")),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		productID, facilityID, err := siteKey(req)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		volume, err := req.RequireFloat("production_volume")
		if err != nil {
			return mcp.NewToolResultError("production_volume is required"), nil
		}
		sum, err := e.SetSite(ctx, productID, facilityID, volume)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("allocation error: %v", err)), nil
		}
		return jsonResult(sum), nil
	})
}

func registerRemoveSiteTool(s *server.MCPServer, e *engine.Engine) {
	tool := mcp.NewTool("allocation_remove_site",
		mcp.WithDescription("Unlink a manufacturing site from a product. Remaining sites are re-weighted to 100%."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(true),
		mcp.WithString("product_id", mcp.Required(), mcp.Description("Product identifier")),
		mcp.WithString("facility_id", mcp.Required(), mcp.Description("Facility identifier")),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		productID, facilityID, err := siteKey(req)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		sum, err := e.RemoveSite(ctx, productID, facilityID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("allocation error: %v", err)), nil
		}
		return jsonResult(sum), nil
	})
}

func registerListSitesTool(s *server.MCPServer, e *engine.Engine) {
	tool := mcp.NewTool("allocation_list",
		mcp.WithDescription("Show a product's sites with production shares, attributable emissions and the volume-weighted product intensity."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("product_id", mcp.Required(), mcp.Description("Product identifier")),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		productID, err := req.RequireString("product_id")
		if err != nil {
			return mcp.NewToolResultError("product_id is required"), nil
		}
		sum, err := e.Allocation(ctx, productID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("allocation error: %v", err)), nil
		}
		return jsonResult(sum), nil
	})
}

func registerPRNBuildTool(s *server.MCPServer, e *engine.Engine) {
	tool := mcp.NewTool("prn_build",
		mcp.WithDescription("Build packaging recovery obligations for one year from tonnage placed on market per material code (AL, FC, GL, PC, PL, ST, WD, OT). Recorded purchases are kept."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("organization_id", mcp.Required(), mcp.Description("Obligated organization")),
		mcp.WithNumber("year", mcp.Required(), mcp.Description("Obligation year")),
		mcp.WithObject("tonnage",
			mcp.Required(),
			mcp.Description(`Tonnes placed on market by material code, e.g. {"GL": 120.5, "PL": 33}`),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		orgID, year, err := orgYear(req)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		var tonnage map[string]float64
		if err := decodeArg(req, "tonnage", &tonnage); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		rep, err := e.BuildObligations(ctx, orgID, year, tonnage)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("prn error: %v", err)), nil
		}
		return jsonResult(rep), nil
	})
}

func registerPRNPurchaseTool(s *server.MCPServer, e *engine.Engine) {
	tool := mcp.NewTool("prn_purchase",
		mcp.WithDescription("Record a PRN purchase against one obligation and return its new fulfilment status."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("organization_id", mcp.Required(), mcp.Description("Obligated organization")),
		mcp.WithNumber("year", mcp.Required(), mcp.Description("Obligation year")),
		mcp.WithString("material_code", mcp.Required(), mcp.Description("Material code, e.g. GL")),
		mcp.WithNumber("tonnes", mcp.Required(), mcp.Description("Tonnes of PRNs bought (> 0)")),
		mcp.WithNumber("cost_per_tonne", mcp.Description("Price paid per tonne (default: 0)")),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		orgID, year, err := orgYear(req)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		material, err := req.RequireString("material_code")
		if err != nil {
			return mcp.NewToolResultError("material_code is required"), nil
		}
		tonnes, err := req.RequireFloat("tonnes")
		if err != nil {
			return mcp.NewToolResultError("tonnes is required"), nil
		}
		cpt, _ := req.RequireFloat("cost_per_tonne")

		o, err := e.RecordPurchase(ctx, orgID, year, material, tonnes, cpt)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("prn error: %v", err)), nil
		}
		return jsonResult(o), nil
	})
}

func registerPRNStatusTool(s *server.MCPServer, e *engine.Engine) {
	tool := mcp.NewTool("prn_status",
		mcp.WithDescription("Show an organization's obligations for one year with remaining tonnage, costs and overall fulfilment percent."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("organization_id", mcp.Required(), mcp.Description("Obligated organization")),
		mcp.WithNumber("year", mcp.Required(), mcp.Description("Obligation year")),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		orgID, year, err := orgYear(req)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		rep, err := e.Obligations(ctx, orgID, year)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("prn error: %v", err)), nil
		}
		return jsonResult(rep), nil
	})
}

// --- Helpers ---

func jsonResult(v any) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encoding result: %v", err))
	}
	return mcp.NewToolResultText(string(data))
}

func optString(req mcp.CallToolRequest, key string) string {
	v, err := req.RequireString(key)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(v)
}

// decodeArg round-trips one structured argument through JSON into out.
func decodeArg(req mcp.CallToolRequest, key string, out any) error {
	raw, ok := req.GetArguments()[key]
	if !ok || raw == nil {
		return fmt.Errorf("%s is required", key)
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %v", key, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("invalid %s: %v", key, err)
	}
	return nil
}

func siteKey(req mcp.CallToolRequest) (string, string, error) {
	productID, err := req.RequireString("product_id")
	if err != nil {
		return "", "", fmt.Errorf("product_id is required")
	}
	facilityID, err := req.RequireString("facility_id")
	if err != nil {
		return "", "", fmt.Errorf("facility_id is required")
	}
	return productID, facilityID, nil
}

func orgYear(req mcp.CallToolRequest) (string, int, error) {
	orgID, err := req.RequireString("organization_id")
	if err != nil || strings.TrimSpace(orgID) == "" {
		return "", 0, fmt.Errorf("organization_id is required")
	}
	year, err := req.RequireFloat("year")
	if err != nil || year < 1 || year != float64(int(year)) {
		return "", 0, fmt.Errorf("year must be a whole number")
	}
	return orgID, int(year), nil
}
