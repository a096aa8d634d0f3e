package validate

import (
	"fmt"

	"github.com/dexterai/traingen/internal/config"
	"github.com/dexterai/traingen/internal/example"
)

// formatValidator is stage 2: numeric-range sanity checks and required-field
// presence beyond what the schema stage expresses. All bounds come from the
// configured rule table.
type formatValidator struct {
	rules config.Rules
}

func newFormatValidator(rules config.Rules) *formatValidator {
	return &formatValidator{rules: rules}
}

// checkScenario verifies prices, indicators, and account numbers sit inside
// sane bounds.
func (f *formatValidator) checkScenario(sc *example.Scenario) (bool, string) {
	for asset, price := range sc.MarketContext.Mids {
		if price <= 0 {
			return false, fmt.Sprintf("invalid price for %s: %g", asset, price)
		}
		if price > f.rules.PriceCeiling {
			return false, fmt.Sprintf("unrealistic price for %s: %g", asset, price)
		}
	}

	for asset, ind := range sc.MarketContext.KeyIndicators {
		if ind.RSI < 0 || ind.RSI > 100 {
			return false, fmt.Sprintf("invalid RSI for %s: %g", asset, ind.RSI)
		}
	}

	eq := sc.AccountState.Equity
	if eq <= 0 || eq > f.rules.EquityCeiling {
		return false, fmt.Sprintf("invalid equity: %g", eq)
	}

	lev := sc.AccountState.Leverage
	if lev < f.rules.MinLeverage || lev > f.rules.MaxLeverage {
		return false, fmt.Sprintf("invalid leverage: %g", lev)
	}

	return true, ""
}

// checkReasoning verifies the decision carries an action and the reasoning
// text meets the minimum length.
func (f *formatValidator) checkReasoning(r *example.Reasoning) (bool, string) {
	if r.Decision.Action == "" {
		return false, "decision is missing an action"
	}
	if n := len(r.Reasoning); n < f.rules.MinReasoningLen {
		return false, fmt.Sprintf("reasoning too short: %d chars (min %d)", n, f.rules.MinReasoningLen)
	}
	if n := len(r.Reasoning); f.rules.MaxReasoningLen > 0 && n > f.rules.MaxReasoningLen {
		return false, fmt.Sprintf("reasoning too long: %d chars (max %d)", n, f.rules.MaxReasoningLen)
	}
	return true, ""
}
