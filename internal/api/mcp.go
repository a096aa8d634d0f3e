package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/dexterai/traingen/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store *storage.Store
	// Pipeline is optional; generation_stats omits live counters without it.
	Pipeline PipelineInfo
}

// NewMCPServer creates an MCP server exposing the generated dataset to
// agents.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"traingen",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("traingen — synthetic trading-decision training data generator. Query progress and inspect generated examples."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("generation_stats",
			mcp.WithDescription("Return dataset totals and, when a run is active, live pipeline and queue counters."),
		),
		mcpGenerationStats(deps),
	)

	s.AddTool(
		mcp.NewTool("latest_examples",
			mcp.WithDescription("Return the most recent valid training examples as scenario/reasoning pairs."),
			mcp.WithNumber("limit", mcp.Description("Maximum number of examples (default 5)")),
		),
		mcpLatestExamples(deps),
	)

	return s
}

func mcpGenerationStats(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		stats, err := deps.Store.GetStats()
		if err != nil {
			return mcpError(fmt.Sprintf("failed to read stats: %v", err)), nil
		}

		payload := map[string]any{"stats": stats}
		if deps.Pipeline != nil {
			payload["pipeline"] = deps.Pipeline.Metrics()
			payload["pools"] = deps.Pipeline.PoolMetrics()
			payload["queue"] = deps.Pipeline.QueueStats()
		}

		b, err := json.Marshal(payload)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal stats: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpLatestExamples(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", 5)
		if limit <= 0 {
			limit = 5
		}
		if limit > 50 {
			limit = 50
		}

		pairs, err := deps.Store.ValidExamples(limit)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to read examples: %v", err)), nil
		}
		if len(pairs) == 0 {
			return mcpText("[]"), nil
		}

		b, err := json.Marshal(pairs)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal examples: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
