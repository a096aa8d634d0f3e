package api

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dexterai/traingen/internal/example"
	"github.com/dexterai/traingen/internal/pipeline"
	"github.com/dexterai/traingen/internal/storage"
)

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func TestMCPGenerationStats(t *testing.T) {
	s := newTestStore(t)
	seedExample(t, s, "a", example.StatusValid)
	seedExample(t, s, "b", example.StatusInvalid)

	deps := MCPDeps{
		Store:    s,
		Pipeline: &fakePipeline{metrics: pipeline.Metrics{CompleteExamples: 1}},
	}
	result, err := mcpGenerationStats(deps)(context.Background(), makeCallToolRequest("generation_stats", nil))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool error: %s", toolText(t, result))
	}

	var payload struct {
		Stats    storage.Stats    `json:"stats"`
		Pipeline pipeline.Metrics `json:"pipeline"`
	}
	if err := json.Unmarshal([]byte(toolText(t, result)), &payload); err != nil {
		t.Fatal(err)
	}
	if payload.Stats.Total != 2 || payload.Stats.Valid != 1 {
		t.Errorf("stats = %+v", payload.Stats)
	}
	if payload.Pipeline.CompleteExamples != 1 {
		t.Errorf("pipeline = %+v", payload.Pipeline)
	}
}

func TestMCPGenerationStats_WithoutPipeline(t *testing.T) {
	deps := MCPDeps{Store: newTestStore(t)}

	result, err := mcpGenerationStats(deps)(context.Background(), makeCallToolRequest("generation_stats", nil))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	var payload map[string]json.RawMessage
	if err := json.Unmarshal([]byte(toolText(t, result)), &payload); err != nil {
		t.Fatal(err)
	}
	if _, ok := payload["pipeline"]; ok {
		t.Error("pipeline counters present without a running pipeline")
	}
}

func TestMCPLatestExamples(t *testing.T) {
	s := newTestStore(t)
	for _, id := range []string{"a", "b", "c"} {
		seedExample(t, s, id, example.StatusValid)
	}
	seedExample(t, s, "bad", example.StatusInvalid)

	result, err := mcpLatestExamples(MCPDeps{Store: s})(context.Background(),
		makeCallToolRequest("latest_examples", map[string]interface{}{"limit": 2}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}

	var pairs []storage.Pair
	if err := json.Unmarshal([]byte(toolText(t, result)), &pairs); err != nil {
		t.Fatal(err)
	}
	if len(pairs) != 2 {
		t.Fatalf("len = %d, want 2", len(pairs))
	}
	if pairs[0].Scenario == nil || pairs[0].Reasoning == nil {
		t.Error("pair payloads not decoded")
	}
}

func TestMCPLatestExamples_Empty(t *testing.T) {
	result, err := mcpLatestExamples(MCPDeps{Store: newTestStore(t)})(context.Background(),
		makeCallToolRequest("latest_examples", nil))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if got := toolText(t, result); got != "[]" {
		t.Errorf("text = %q, want empty array", got)
	}
}
