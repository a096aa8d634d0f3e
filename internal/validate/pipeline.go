// Package validate implements the three-stage validation gate applied to
// every generated payload: structural schema, numeric-range format, and
// cross-field content coherence. Stages run in order and short-circuit; a
// rejection reason is prefixed with the stage that produced it. All entry
// points are pure: same input, same verdict, no mutation.
package validate

import (
	"github.com/dexterai/traingen/internal/config"
	"github.com/dexterai/traingen/internal/example"
)

// Pipeline runs the ordered validation stages.
type Pipeline struct {
	schema  *schemaValidator
	format  *formatValidator
	content *contentValidator
}

// New builds a Pipeline from the configured rule table.
func New(rules config.Rules) *Pipeline {
	return &Pipeline{
		schema:  newSchemaValidator(),
		format:  newFormatValidator(rules),
		content: newContentValidator(rules),
	}
}

// ValidateScenario runs all three stages against a scenario payload.
func (p *Pipeline) ValidateScenario(sc *example.Scenario) (bool, string) {
	if ok, reason := p.schema.checkScenario(sc); !ok {
		return false, "stage 1 (schema): " + reason
	}
	if ok, reason := p.format.checkScenario(sc); !ok {
		return false, "stage 2 (format): " + reason
	}
	if ok, reason := p.content.checkScenario(sc); !ok {
		return false, "stage 3 (content): " + reason
	}
	return true, ""
}

// ValidateReasoning runs all three stages against a reasoning payload. When
// sc is non-nil the content stage also checks decision/scenario consistency.
func (p *Pipeline) ValidateReasoning(r *example.Reasoning, sc *example.Scenario) (bool, string) {
	if ok, reason := p.schema.checkReasoning(r); !ok {
		return false, "stage 1 (schema): " + reason
	}
	if ok, reason := p.format.checkReasoning(r); !ok {
		return false, "stage 2 (format): " + reason
	}
	if ok, reason := p.content.checkReasoning(r, sc); !ok {
		return false, "stage 3 (content): " + reason
	}
	return true, ""
}

// ValidateCompleteExample validates the scenario and then the reasoning with
// scenario context. It holds the conjunction law: a complete example is
// valid iff both parts independently validate.
func (p *Pipeline) ValidateCompleteExample(sc *example.Scenario, r *example.Reasoning) (bool, string) {
	if ok, reason := p.ValidateScenario(sc); !ok {
		return false, reason
	}
	return p.ValidateReasoning(r, sc)
}
