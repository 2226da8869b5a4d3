package standard

import (
	"fmt"
	"log/slog"

	"github.com/cadenzahq/cadenza/pkg/models"
)

// FieldSpec describes one configuration field for structural checks.
type FieldSpec struct {
	Name     string
	Kind     string // "string", "number", "bool", "list", "map"
	Required bool
}

// Validator checks a trigger instance's stored configuration for
// required fields and sane types. A failing validation short-circuits
// processing with no workflow execution and no stat update.
type Validator struct {
	logger *slog.Logger
	fields []FieldSpec
}

func NewValidator(logger *slog.Logger, fields []FieldSpec) *Validator {
	return &Validator{
		logger: logger.With("module", "standard_validator"),
		fields: fields,
	}
}

func (v *Validator) Validate(instance *models.TriggerInstance, tctx *models.TriggerContext) models.ValidationResult {
	result := models.ValidationResult{Valid: true}

	for _, spec := range v.fields {
		value, present := instance.Config[spec.Name]

		if !present {
			if spec.Required {
				result.Valid = false
				result.Errors = append(result.Errors, fmt.Sprintf("missing required field: %s", spec.Name))
			}

			continue
		}

		if spec.Kind != "" && !kindMatches(value, spec.Kind) {
			result.Valid = false
			result.Errors = append(result.Errors,
				fmt.Sprintf("field %s: expected %s, got %T", spec.Name, spec.Kind, value))
		}
	}

	if instance.MaxExecutionsPerMinute < 0 || instance.MaxExecutionsPerHour < 0 || instance.MaxExecutionsPerDay < 0 {
		result.Valid = false
		result.Errors = append(result.Errors, "rate limits must not be negative")
	}

	return result
}

func kindMatches(value any, kind string) bool {
	switch kind {
	case "string":
		_, ok := value.(string)

		return ok
	case "number":
		switch value.(type) {
		case int, int32, int64, float32, float64:
			return true
		default:
			return false
		}
	case "bool":
		_, ok := value.(bool)

		return ok
	case "list":
		_, ok := value.([]any)

		return ok
	case "map":
		_, ok := value.(map[string]any)

		return ok
	default:
		return true
	}
}
