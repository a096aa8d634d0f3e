package validate

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/dexterai/traingen/internal/example"
)

// schemaValidator is stage 1: structural checks against the payload shape
// (required fields, enum membership, basic numeric constraints) expressed as
// struct tags on the example types.
type schemaValidator struct {
	v *validator.Validate
}

func newSchemaValidator() *schemaValidator {
	return &schemaValidator{v: validator.New(validator.WithRequiredStructEnabled())}
}

// checkScenario validates the scenario shape. The reason is field-path
// qualified so rejections point at the offending field.
func (s *schemaValidator) checkScenario(sc *example.Scenario) (bool, string) {
	if err := s.v.Struct(sc); err != nil {
		return false, formatSchemaError(err)
	}
	return true, ""
}

// checkReasoning validates the reasoning trace shape, including the nested
// decision.
func (s *schemaValidator) checkReasoning(r *example.Reasoning) (bool, string) {
	if err := s.v.Struct(r); err != nil {
		return false, formatSchemaError(err)
	}
	return true, ""
}

// formatSchemaError renders validator errors as "path: constraint" pairs,
// matching the field-path-qualified rejection contract.
func formatSchemaError(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return fmt.Sprintf("schema validation failed: %v", err)
	}

	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		path := fieldPath(fe)
		switch fe.Tag() {
		case "required":
			parts = append(parts, fmt.Sprintf("%s: field is required", path))
		case "min":
			parts = append(parts, fmt.Sprintf("%s: below minimum %s", path, fe.Param()))
		case "oneof":
			parts = append(parts, fmt.Sprintf("%s: must be one of [%s]", path, fe.Param()))
		case "gt":
			parts = append(parts, fmt.Sprintf("%s: must be greater than %s", path, fe.Param()))
		case "gte":
			parts = append(parts, fmt.Sprintf("%s: must be >= %s", path, fe.Param()))
		case "lte":
			parts = append(parts, fmt.Sprintf("%s: must be <= %s", path, fe.Param()))
		default:
			parts = append(parts, fmt.Sprintf("%s: failed %s constraint", path, fe.Tag()))
		}
	}
	return "schema validation failed: " + strings.Join(parts, "; ")
}

// fieldPath strips the root struct name and lowers the path to the JSON-ish
// form used in rejection reasons (e.g. "decision_prompt",
// "account_state.risk_level").
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		ns = ns[i+1:]
	}
	return camelPathToSnake(ns)
}

func camelPathToSnake(path string) string {
	var b strings.Builder
	for i, r := range path {
		if r >= 'A' && r <= 'Z' {
			if i > 0 && path[i-1] != '.' && path[i-1] != '[' && !(path[i-1] >= 'A' && path[i-1] <= 'Z') {
				b.WriteByte('_')
			}
			b.WriteRune(r + ('a' - 'A'))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
