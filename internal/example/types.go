// Package example defines the typed payloads flowing through the generation
// pipeline: scenarios, reasoning traces, and the persisted pairing of the
// two. The structs carry validator tags for the structural validation stage;
// payloads from the model are parsed into them at the boundary and treated
// as plain data downstream.
package example

import "time"

// Risk levels an account state may carry.
const (
	RiskLow      = "LOW"
	RiskMedium   = "MEDIUM"
	RiskHigh     = "HIGH"
	RiskCritical = "CRITICAL"
)

// Validation statuses persisted with every example.
const (
	StatusValid   = "VALID"
	StatusInvalid = "INVALID"
)

// Indicator is the per-asset technical indicator set.
type Indicator struct {
	Momentum24h float64 `json:"momentum_24h"`
	RSI         float64 `json:"rsi"`
	ATRPct      float64 `json:"atr_pct"`
}

// MarketContext is the market snapshot a scenario is set in.
type MarketContext struct {
	Mids             map[string]float64   `json:"mids" validate:"required,min=1"`
	KeyIndicators    map[string]Indicator `json:"key_indicators" validate:"required,min=1"`
	MarketConditions map[string]string    `json:"market_conditions,omitempty"`
}

// AccountState describes the trading account at decision time.
type AccountState struct {
	Equity        float64          `json:"equity" validate:"required,gt=0"`
	Leverage      float64          `json:"leverage"`
	OpenPositions []map[string]any `json:"open_positions"`
	RiskLevel     string           `json:"risk_level" validate:"required,oneof=LOW MEDIUM HIGH CRITICAL"`
}

// Metadata stamps a scenario with its provenance. ScenarioID is the unique
// key every downstream write is keyed by.
type Metadata struct {
	GeneratedAt time.Time `json:"generated_at"`
	ModelID     string    `json:"model_id"`
	ScenarioID  string    `json:"scenario_id"`
}

// Scenario is a synthetic situation fed to the reasoning stage. Immutable
// once produced by a scenario worker.
type Scenario struct {
	ScenarioType   string        `json:"scenario_type" validate:"required"`
	MarketContext  MarketContext `json:"market_context" validate:"required"`
	AccountState   AccountState  `json:"account_state" validate:"required"`
	DecisionPrompt string        `json:"decision_prompt" validate:"required,min=10"`
	Complexity     string        `json:"complexity,omitempty"`
	Metadata       Metadata      `json:"metadata"`
}

// Decision is the structured outcome of a reasoning trace.
type Decision struct {
	Action           string         `json:"action" validate:"required,min=1"`
	Parameters       map[string]any `json:"parameters"`
	Confidence       float64        `json:"confidence" validate:"gte=0,lte=1"`
	ReasoningSummary string         `json:"reasoning_summary" validate:"required,min=10"`
}

// ReasoningMetadata records which model produced a reasoning trace.
type ReasoningMetadata struct {
	ModelID string `json:"model_id"`
}

// Reasoning is the generated rationale plus decision for one scenario,
// paired 1:1 with its source scenario for storage.
type Reasoning struct {
	Reasoning    string            `json:"reasoning" validate:"required,min=50"`
	Decision     Decision          `json:"decision" validate:"required"`
	FullResponse string            `json:"full_response"`
	Metadata     ReasoningMetadata `json:"metadata"`
}
