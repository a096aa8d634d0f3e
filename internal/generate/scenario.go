// Package generate produces the two LLM-backed payloads of the pipeline:
// synthetic trading scenarios and reasoning traces for them. Generators are
// thin prompt/parse layers over the OpenRouter client; they do no validation
// beyond getting the payload into its typed form.
package generate

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dexterai/traingen/internal/example"
	"github.com/dexterai/traingen/internal/openrouter"
)

const (
	scenarioTemperature  = 0.8
	reasoningTemperature = 0.7
	generationMaxTokens  = 2000
)

// Completer is the slice of the OpenRouter client the generators need.
type Completer interface {
	Generate(ctx context.Context, model string, messages []openrouter.Message, opts openrouter.GenerateOptions) (string, error)
}

// ScenarioGenerator produces synthetic trading scenarios by prompting one of
// a roster of models with a randomly chosen scenario type.
type ScenarioGenerator struct {
	client Completer
	models []string
}

// NewScenarioGenerator builds a generator over the given model roster.
func NewScenarioGenerator(client Completer, models []string) *ScenarioGenerator {
	return &ScenarioGenerator{client: client, models: models}
}

// Generate prompts a model for one scenario and parses the JSON payload.
// The returned scenario carries a fresh scenario ID and generation metadata.
func (g *ScenarioGenerator) Generate(ctx context.Context) (*example.Scenario, error) {
	st := ScenarioTypes[rand.IntN(len(ScenarioTypes))]
	model := g.models[rand.IntN(len(g.models))]

	messages := []openrouter.Message{
		{Role: "system", Content: scenarioSystemPrompt},
		{Role: "user", Content: scenarioPrompt(st)},
	}
	text, err := g.client.Generate(ctx, model, messages, openrouter.GenerateOptions{
		Temperature: scenarioTemperature,
		MaxTokens:   generationMaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("generating scenario: %w", err)
	}

	raw, err := extractJSON(text)
	if err != nil {
		return nil, fmt.Errorf("parsing scenario response: %w", err)
	}
	var sc example.Scenario
	if err := json.Unmarshal(raw, &sc); err != nil {
		return nil, fmt.Errorf("decoding scenario: %w", err)
	}
	if sc.ScenarioType == "" {
		sc.ScenarioType = st.Name
	}
	sc.Metadata = example.Metadata{
		GeneratedAt: time.Now().UTC(),
		ModelID:     model,
		ScenarioID:  uuid.NewString(),
	}
	return &sc, nil
}

// extractJSON pulls the first JSON object out of a model response, tolerating
// markdown fences and prose around the payload.
func extractJSON(text string) ([]byte, error) {
	text = stripFences(text)

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		candidate := []byte(text[start : end+1])
		if json.Valid(candidate) {
			return candidate, nil
		}
	}

	trimmed := []byte(strings.TrimSpace(text))
	if json.Valid(trimmed) {
		return trimmed, nil
	}
	return nil, fmt.Errorf("no JSON object in response (%s)", snippet(text, 200))
}

// stripFences removes a surrounding markdown code fence, if present.
func stripFences(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return text
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	if i := strings.Index(trimmed, "\n"); i >= 0 {
		trimmed = trimmed[i+1:] // drop the language tag line
	}
	if i := strings.LastIndex(trimmed, "```"); i >= 0 {
		trimmed = trimmed[:i]
	}
	return trimmed
}

func snippet(text string, n int) string {
	text = strings.TrimSpace(text)
	if len(text) <= n {
		return text
	}
	return text[:n] + "..."
}
