package generate

import (
	"encoding/json"
	"fmt"

	"github.com/dexterai/traingen/internal/example"
)

// ScenarioType names one of the situation families the scenario stage is
// asked to produce, with the description injected into the prompt.
type ScenarioType struct {
	Name        string
	Description string
}

// ScenarioTypes is the fixed roster of situation families. Each generated
// scenario is seeded from one of these, chosen uniformly.
var ScenarioTypes = []ScenarioType{
	{
		Name:        "liquidation_risk",
		Description: "Account equity is dangerously close to liquidation threshold (< 2x liabilities). Bot must reduce risk immediately.",
	},
	{
		Name:        "conflicting_signals",
		Description: "High momentum suggests bullish move, but sentiment indicators are negative. Bot must resolve conflict.",
	},
	{
		Name:        "goal_pacing",
		Description: "Deadline approaching, need significant return (e.g., 20% in 2 days). Bot must adjust aggressiveness.",
	},
	{
		Name:        "funding_rate_spike",
		Description: "Funding rate suddenly spikes, making capital expensive. Bot must decide on position reduction.",
	},
	{
		Name:        "research_conflict",
		Description: "Breaking news contradicts technical analysis. Bot must resolve trust and make decision.",
	},
	{
		Name:        "volatility_breakout",
		Description: "Sudden volatility spike breaks normal patterns. Bot must adapt strategy.",
	},
	{
		Name:        "position_sizing",
		Description: "Optimal position size calculation given risk constraints and opportunity.",
	},
	{
		Name:        "exit_timing",
		Description: "When to exit profitable position - take profit or let it run?",
	},
}

const scenarioSystemPrompt = "You are an expert at creating realistic crypto trading scenarios for AI training."

const reasoningSystemPrompt = "You are Dexter, a crypto trading bot assistant. Provide structured trading reasoning with decisions."

const scenarioTemplate = `You are generating realistic crypto trading scenarios for training a trading bot.

Generate a synthetic but realistic crypto trading scenario with the following structure:

**Scenario Type:** %[1]s

**Description:** %[2]s

Create a complete scenario JSON with:

1. **Market Context:**
   - Current prices (mids) for major crypto assets (BTC, ETH, etc.)
   - Key technical indicators (momentum_24h, rsi, atr_pct) for each asset
   - Market conditions (volatility, trend direction)

2. **Account State:**
   - Current equity
   - Leverage ratio
   - Open positions (if any)
   - Risk level (LOW, MEDIUM, HIGH, CRITICAL)

3. **Decision Prompt:**
   - A clear question or decision point the trading bot needs to make
   - Context about goals, constraints, or deadlines

4. **Expected Complexity:**
   - What makes this scenario challenging or edge-case worthy

Output ONLY valid JSON in this exact format:
{
  "scenario_type": "%[1]s",
  "market_context": {
    "mids": {"BTC": 43500, "ETH": 2300},
    "key_indicators": {
      "BTC": {"momentum_24h": 0.05, "rsi": 65, "atr_pct": 2.1},
      "ETH": {"momentum_24h": -0.02, "rsi": 45, "atr_pct": 3.2}
    },
    "market_conditions": {
      "volatility": "medium",
      "trend": "bullish"
    }
  },
  "account_state": {
    "equity": 10000,
    "leverage": 2.5,
    "open_positions": [],
    "risk_level": "MEDIUM"
  },
  "decision_prompt": "Should we open a long position on BTC given the current momentum?",
  "complexity": "Balancing momentum signal with RSI overbought condition"
}
`

const reasoningTemplate = `You are Dexter, a crypto trading bot assistant. Analyze the following trading scenario and provide detailed reasoning.

**Market Context:**
%s

**Account State:**
%s

**Decision Required:**
%s

**Task:**
Generate a detailed reasoning trace that explains:
1. Analysis of current market conditions
2. Evaluation of key indicators and signals
3. Risk assessment given account state
4. Decision rationale
5. Expected outcome and confidence

Format your response as:
<reasoning>
[Step-by-step reasoning process]
</reasoning>

<decision>
{
  "action": "[specific action to take]",
  "parameters": {"asset": "...", "size": ..., "leverage": ...},
  "confidence": 0.85,
  "reasoning_summary": "[brief summary]"
}
</decision>
`

func scenarioPrompt(st ScenarioType) string {
	return fmt.Sprintf(scenarioTemplate, st.Name, st.Description)
}

func reasoningPrompt(sc *example.Scenario) (string, error) {
	market, err := json.MarshalIndent(sc.MarketContext, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshalling market context: %w", err)
	}
	account, err := json.MarshalIndent(sc.AccountState, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshalling account state: %w", err)
	}
	return fmt.Sprintf(reasoningTemplate, market, account, sc.DecisionPrompt), nil
}
