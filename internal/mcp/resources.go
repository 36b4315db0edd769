package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hurttlocker/impact/internal/engine"
	prn "github.com/hurttlocker/impact/internal/recovery"
)

func registerStatsResource(s *server.MCPServer, e *engine.Engine) {
	resource := mcp.NewResource(
		"impact://stats",
		"Store Statistics",
		mcp.WithResourceDescription("Row counts for facilities, site allocations, obligations and cached lookups, plus database size."),
		mcp.WithMIMEType("application/json"),
	)

	s.AddResource(resource, func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		if e.Store == nil {
			return nil, fmt.Errorf("stats resource requires a store")
		}
		stats, err := e.Store.Stats(ctx)
		if err != nil {
			return nil, fmt.Errorf("getting stats: %w", err)
		}
		return jsonContents(req.Params.URI, stats), nil
	})
}

func registerTargetsResource(s *server.MCPServer, e *engine.Engine) {
	resource := mcp.NewResource(
		"impact://prn/targets",
		"PRN Recycling Targets",
		mcp.WithResourceDescription("Recycling target percent by obligation year and material code."),
		mcp.WithMIMEType("application/json"),
	)

	s.AddResource(resource, func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		targets := e.Targets
		if targets == nil {
			targets = prn.DefaultTargets()
		}
		payload := map[string]any{
			"targets":   targets,
			"materials": prn.MaterialNames,
		}
		return jsonContents(req.Params.URI, payload), nil
	})
}

func jsonContents(uri string, v any) []mcp.ResourceContents {
	data, _ := json.MarshalIndent(v, "", "  ")
	return []mcp.ResourceContents{
		mcp.TextResourceContents{URI: uri, MIMEType: "application/json", Text: string(data)},
	}
}
