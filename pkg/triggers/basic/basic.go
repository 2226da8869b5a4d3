// Package basic provides the fallback handler, processor, and
// validator used for trigger types with no registered implementation.
package basic

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cadenzahq/cadenza/pkg/models"
)

// Handler is the generic fallback: it matches any event of its declared
// event type and passes the payload through untouched.
type Handler struct {
	triggerType string
	eventType   models.EventType
	logger      *slog.Logger
}

func NewHandler(triggerType string, eventType models.EventType, logger *slog.Logger) *Handler {
	return &Handler{
		triggerType: triggerType,
		eventType:   eventType,
		logger:      logger.With("handler", "basic", "trigger_type", triggerType),
	}
}

func (h *Handler) MatchesEvent(instance *models.TriggerInstance, event models.Event) bool {
	if h.eventType == "" {
		return false
	}

	return event.EventType == h.eventType
}

func (h *Handler) ExtractData(instance *models.TriggerInstance, event models.Event) map[string]any {
	data := make(map[string]any, len(event.EventData)+3)
	for k, v := range event.EventData {
		data[k] = v
	}

	data["handler_type"] = "basic_" + h.triggerType
	data["event_type"] = string(event.EventType)
	data["event_source"] = event.Source

	return data
}

// Processor is the fallback pass-through processor: no gates, the
// context metadata becomes the result data.
type Processor struct {
	triggerType string
	logger      *slog.Logger
}

func NewProcessor(triggerType string, logger *slog.Logger) *Processor {
	return &Processor{
		triggerType: triggerType,
		logger:      logger.With("processor", "basic", "trigger_type", triggerType),
	}
}

func (p *Processor) Process(ctx context.Context, instance *models.TriggerInstance, tctx *models.TriggerContext) (*models.TriggerResult, error) {
	started := time.Now()

	return &models.TriggerResult{
		Success:          true,
		TriggerID:        tctx.TriggerID,
		WorkflowID:       tctx.WorkflowID,
		Message:          "processed by basic processor",
		Data:             tctx.Metadata,
		ProcessingTimeMs: time.Since(started).Milliseconds(),
		CreatedAt:        time.Now().UTC(),
	}, nil
}

// Validator is the fallback validator: only the definition's required
// fields are checked.
type Validator struct {
	triggerType    string
	requiredFields []string
	logger         *slog.Logger
}

func NewValidator(triggerType string, requiredFields []string, logger *slog.Logger) *Validator {
	return &Validator{
		triggerType:    triggerType,
		requiredFields: requiredFields,
		logger:         logger.With("validator", "basic", "trigger_type", triggerType),
	}
}

func (v *Validator) Validate(instance *models.TriggerInstance, tctx *models.TriggerContext) models.ValidationResult {
	result := models.ValidationResult{Valid: true}

	for _, field := range v.requiredFields {
		if _, present := instance.Config[field]; !present {
			result.Valid = false
			result.Errors = append(result.Errors, fmt.Sprintf("missing required field: %s", field))
		}
	}

	return result
}
