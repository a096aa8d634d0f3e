package validate

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/dexterai/traingen/internal/config"
	"github.com/dexterai/traingen/internal/example"
)

var sentenceSplit = regexp.MustCompile(`[.!?]+`)

// contentValidator is stage 3: cross-field coherence. It checks that the
// reasoning reads like an actual analysis, that the decision talks about the
// scenario it was given, and that a critically risky account gets a
// risk-reducing decision.
type contentValidator struct {
	rules config.Rules
}

func newContentValidator(rules config.Rules) *contentValidator {
	return &contentValidator{rules: rules}
}

// checkScenario verifies market data realism: cross-asset price ordering
// where both majors are present.
func (c *contentValidator) checkScenario(sc *example.Scenario) (bool, string) {
	mids := sc.MarketContext.Mids
	btc, hasBTC := mids["BTC"]
	eth, hasETH := mids["ETH"]
	if hasBTC && hasETH {
		if eth > btc {
			return false, "ETH price cannot be higher than BTC price"
		}
		if btc < 1000 || eth < 10 {
			return false, "prices seem unrealistically low"
		}
	}
	return true, ""
}

// checkReasoning verifies coherence of the reasoning text and consistency
// between the decision and the scenario context.
func (c *contentValidator) checkReasoning(r *example.Reasoning, sc *example.Scenario) (bool, string) {
	if ok, reason := c.checkCoherence(r.Reasoning); !ok {
		return false, reason
	}
	if r.Decision.Confidence < 0 || r.Decision.Confidence > 1 {
		return false, fmt.Sprintf("confidence out of range: %g", r.Decision.Confidence)
	}
	if sc != nil {
		if ok, reason := c.checkDecisionMatchesScenario(&r.Decision, sc); !ok {
			return false, reason
		}
	}
	return true, ""
}

// checkCoherence requires sentence structure and domain vocabulary in the
// reasoning text.
func (c *contentValidator) checkCoherence(text string) (bool, string) {
	if text == "" {
		return false, "reasoning is empty"
	}

	sentences := 0
	for _, s := range sentenceSplit.Split(text, -1) {
		if len(strings.TrimSpace(s)) > 10 {
			sentences++
		}
	}
	if sentences < c.rules.MinSentences {
		return false, fmt.Sprintf("reasoning lacks structure: %d sentences (min %d)",
			sentences, c.rules.MinSentences)
	}

	lower := strings.ToLower(text)
	for _, kw := range c.rules.DomainKeywords {
		if strings.Contains(lower, kw) {
			return true, ""
		}
	}
	return false, "reasoning lacks trading-related content"
}

// checkDecisionMatchesScenario requires the decision to reference at least
// one asset present in the scenario's market data, and a CRITICAL-risk
// account to get a risk-reducing action. The risk rule is deliberately
// strict: a critically leveraged account that gets anything but a
// de-risking decision is a bad training signal.
func (c *contentValidator) checkDecisionMatchesScenario(d *example.Decision, sc *example.Scenario) (bool, string) {
	if len(sc.MarketContext.Mids) > 0 {
		blob, _ := json.Marshal(d)
		decisionText := strings.ToLower(string(blob))
		found := false
		for asset := range sc.MarketContext.Mids {
			if strings.Contains(decisionText, strings.ToLower(asset)) {
				found = true
				break
			}
		}
		if !found {
			return false, "decision does not reference any assets from scenario"
		}
	}

	if strings.EqualFold(sc.AccountState.RiskLevel, example.RiskCritical) {
		action := strings.ToLower(d.Action)
		reducing := false
		for _, verb := range c.rules.RiskReducingVerbs {
			if strings.Contains(action, verb) {
				reducing = true
				break
			}
		}
		if !reducing {
			return false, "critical risk scenario requires a risk-reducing action"
		}
	}

	return true, ""
}
