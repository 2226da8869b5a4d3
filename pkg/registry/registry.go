// Package registry holds the process-wide catalog of trigger type
// definitions and the factories that create their handlers,
// processors, and validators.
package registry

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/cadenzahq/cadenza/pkg/models"
	"github.com/cadenzahq/cadenza/pkg/protocol"
	"github.com/cadenzahq/cadenza/pkg/triggers/basic"
)

// Registry is populated once at startup, single-threaded, and read-only
// for the rest of the process lifetime. Reads are safe concurrently.
type Registry struct {
	logger             *slog.Logger
	definitions        map[string]models.TriggerDefinition
	order              []string
	handlerFactories   map[string]protocol.HandlerFactory
	processorFactories map[string]protocol.ProcessorFactory
	validatorFactories map[string]protocol.ValidatorFactory
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:             logger.With("module", "trigger_registry"),
		definitions:        make(map[string]models.TriggerDefinition),
		handlerFactories:   make(map[string]protocol.HandlerFactory),
		processorFactories: make(map[string]protocol.ProcessorFactory),
		validatorFactories: make(map[string]protocol.ValidatorFactory),
	}
}

// Register adds or overwrites a trigger definition keyed by its type.
func (r *Registry) Register(def models.TriggerDefinition) {
	if _, exists := r.definitions[def.TriggerType]; !exists {
		r.order = append(r.order, def.TriggerType)
	}

	r.definitions[def.TriggerType] = def
}

// RegisterHandler binds a handler factory to a trigger type.
func (r *Registry) RegisterHandler(triggerType string, factory protocol.HandlerFactory) {
	r.handlerFactories[triggerType] = factory
}

// RegisterProcessor binds a processor factory to a trigger type.
func (r *Registry) RegisterProcessor(triggerType string, factory protocol.ProcessorFactory) {
	r.processorFactories[triggerType] = factory
}

// RegisterValidator binds a validator factory to a trigger type.
func (r *Registry) RegisterValidator(triggerType string, factory protocol.ValidatorFactory) {
	r.validatorFactories[triggerType] = factory
}

// Get returns the definition for a trigger type, if registered.
func (r *Registry) Get(triggerType string) (models.TriggerDefinition, bool) {
	def, ok := r.definitions[triggerType]

	return def, ok
}

// All returns every registered definition in registration order.
func (r *Registry) All() []models.TriggerDefinition {
	defs := make([]models.TriggerDefinition, 0, len(r.order))
	for _, t := range r.order {
		defs = append(defs, r.definitions[t])
	}

	return defs
}

// GetByCategory returns the definitions in the given category.
func (r *Registry) GetByCategory(category models.TriggerCategory) []models.TriggerDefinition {
	var defs []models.TriggerDefinition

	for _, t := range r.order {
		if r.definitions[t].Category == category {
			defs = append(defs, r.definitions[t])
		}
	}

	return defs
}

// RealTimeTriggers returns definitions that fire on live events.
func (r *Registry) RealTimeTriggers() []models.TriggerDefinition {
	var defs []models.TriggerDefinition

	for _, t := range r.order {
		if r.definitions[t].IsRealTime {
			defs = append(defs, r.definitions[t])
		}
	}

	return defs
}

// ScheduledTriggers returns definitions that fire on a schedule.
func (r *Registry) ScheduledTriggers() []models.TriggerDefinition {
	var defs []models.TriggerDefinition

	for _, t := range r.order {
		if !r.definitions[t].IsRealTime {
			defs = append(defs, r.definitions[t])
		}
	}

	return defs
}

// TriggerTypesForEvent returns the trigger types declared for the given
// event type, in registration order.
func (r *Registry) TriggerTypesForEvent(eventType models.EventType) []string {
	var types []string

	for _, t := range r.order {
		if r.definitions[t].EventType == eventType {
			types = append(types, t)
		}
	}

	return types
}

// Priority returns the declared priority for a trigger type, defaulting
// to medium for unknown types.
func (r *Registry) Priority(triggerType string) models.TriggerPriority {
	if def, ok := r.definitions[triggerType]; ok && def.Priority != "" {
		return def.Priority
	}

	return models.PriorityMedium
}

// HandlerFor resolves the handler for a trigger type, falling back to
// the basic generic handler for unknown types.
func (r *Registry) HandlerFor(triggerType string) protocol.TriggerHandler {
	if factory, ok := r.handlerFactories[triggerType]; ok {
		return factory(r.logger)
	}

	return basic.NewHandler(triggerType, r.eventTypeFor(triggerType), r.logger)
}

// ProcessorFor resolves the processor for a trigger type, falling back
// to the basic pass-through processor for unknown types.
func (r *Registry) ProcessorFor(triggerType string, counter protocol.ExecutionCounter) protocol.TriggerProcessor {
	if factory, ok := r.processorFactories[triggerType]; ok {
		return factory(r.logger, counter)
	}

	return basic.NewProcessor(triggerType, r.logger)
}

// ValidatorFor resolves the validator for a trigger type, falling back
// to a required-fields-only validator for unknown types.
func (r *Registry) ValidatorFor(triggerType string) protocol.TriggerValidator {
	if factory, ok := r.validatorFactories[triggerType]; ok {
		return factory(r.logger)
	}

	def, _ := r.Get(triggerType)

	return basic.NewValidator(triggerType, def.RequiredFields, r.logger)
}

func (r *Registry) eventTypeFor(triggerType string) models.EventType {
	if def, ok := r.definitions[triggerType]; ok {
		return def.EventType
	}

	return ""
}

// ValidateConfig checks a trigger configuration against the registered
// definition: errors for missing required fields, warnings for fields
// the schema does not recognize, and an example suggestion when the
// config is empty.
func (r *Registry) ValidateConfig(triggerType string, config map[string]any) models.ValidationResult {
	def, ok := r.definitions[triggerType]
	if !ok {
		return models.ValidationResult{
			Valid:  false,
			Errors: []string{fmt.Sprintf("unknown trigger type: %s", triggerType)},
		}
	}

	result := models.ValidationResult{Valid: true}

	if len(config) == 0 {
		if len(def.Examples) > 0 {
			result.Suggestions = append(result.Suggestions,
				fmt.Sprintf("configuration is empty; see example: %v", def.Examples[0]))
		}
	}

	for _, field := range def.RequiredFields {
		if _, present := config[field]; !present {
			result.Valid = false
			result.Errors = append(result.Errors, fmt.Sprintf("missing required field: %s", field))
		}
	}

	if props, ok := def.ConfigSchema["properties"].(map[string]any); ok {
		for key := range config {
			if _, known := props[key]; !known {
				result.Warnings = append(result.Warnings, fmt.Sprintf("unrecognized field: %s", key))
			}
		}
	}

	if schemaErrs := r.validateSchema(def, config); len(schemaErrs) > 0 {
		result.Valid = false
		result.Errors = append(result.Errors, schemaErrs...)
	}

	return result
}

func (r *Registry) validateSchema(def models.TriggerDefinition, config map[string]any) []string {
	if len(config) == 0 || len(def.ConfigSchema) == 0 {
		return nil
	}

	if _, ok := def.ConfigSchema["type"]; !ok {
		return nil
	}

	schemaLoader := gojsonschema.NewGoLoader(def.ConfigSchema)
	dataLoader := gojsonschema.NewGoLoader(config)

	validation, err := gojsonschema.Validate(schemaLoader, dataLoader)
	if err != nil {
		r.logger.Warn("Config schema validation failed to run",
			"trigger_type", def.TriggerType, "error", err)

		return nil
	}

	if validation.Valid() {
		return nil
	}

	errs := make([]string, 0, len(validation.Errors()))
	for _, desc := range validation.Errors() {
		if strings.HasPrefix(desc.String(), "(root): ") && strings.Contains(desc.String(), "is required") {
			// Required-field errors are already reported above.
			continue
		}

		errs = append(errs, desc.String())
	}

	return errs
}
