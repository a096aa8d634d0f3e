package generate

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"regexp"
	"strings"

	"github.com/dexterai/traingen/internal/example"
	"github.com/dexterai/traingen/internal/openrouter"
)

var (
	reasoningTagRe = regexp.MustCompile(`(?is)<reasoning>(.*?)</reasoning>`)
	decisionTagRe  = regexp.MustCompile(`(?is)<decision>(.*?)</decision>`)
)

// ReasoningGenerator produces a reasoning trace plus structured decision for
// a given scenario.
type ReasoningGenerator struct {
	client Completer
	models []string
}

// NewReasoningGenerator builds a generator over the given model roster.
func NewReasoningGenerator(client Completer, models []string) *ReasoningGenerator {
	return &ReasoningGenerator{client: client, models: models}
}

// Generate prompts a model to reason about sc and parses the tagged
// <reasoning>/<decision> sections out of the response. Responses without tags
// degrade gracefully: the reasoning falls back to the text preceding any
// decision block, and an unparseable decision to a neutral analyze/0.5
// placeholder so the validation gate can reject it with a concrete reason.
func (g *ReasoningGenerator) Generate(ctx context.Context, sc *example.Scenario) (*example.Reasoning, error) {
	model := g.models[rand.IntN(len(g.models))]

	prompt, err := reasoningPrompt(sc)
	if err != nil {
		return nil, err
	}
	messages := []openrouter.Message{
		{Role: "system", Content: reasoningSystemPrompt},
		{Role: "user", Content: prompt},
	}
	text, err := g.client.Generate(ctx, model, messages, openrouter.GenerateOptions{
		Temperature: reasoningTemperature,
		MaxTokens:   generationMaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("generating reasoning: %w", err)
	}

	return &example.Reasoning{
		Reasoning:    extractReasoning(text),
		Decision:     extractDecision(text),
		FullResponse: text,
		Metadata:     example.ReasoningMetadata{ModelID: model},
	}, nil
}

// extractReasoning returns the <reasoning> block, or everything before the
// <decision> block when the model skipped the tags.
func extractReasoning(text string) string {
	if m := reasoningTagRe.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	if i := strings.Index(strings.ToLower(text), "<decision>"); i >= 0 {
		return strings.TrimSpace(text[:i])
	}
	return strings.TrimSpace(text)
}

// extractDecision parses the <decision> JSON block. Unparseable decisions
// yield a neutral placeholder rather than an error.
func extractDecision(text string) example.Decision {
	if m := decisionTagRe.FindStringSubmatch(text); m != nil {
		body := strings.TrimSpace(m[1])
		var d example.Decision
		if err := json.Unmarshal([]byte(body), &d); err == nil {
			return d
		}
		if raw, err := extractJSON(body); err == nil {
			if err := json.Unmarshal(raw, &d); err == nil {
				return d
			}
		}
	}
	return example.Decision{
		Action:           "analyze",
		Parameters:       map[string]any{},
		Confidence:       0.5,
		ReasoningSummary: "Unable to parse structured decision",
	}
}
