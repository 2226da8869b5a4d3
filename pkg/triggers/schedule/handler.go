// Package schedule implements the trigger handler and validator for
// cron-scheduled triggers.
package schedule

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/cadenzahq/cadenza/pkg/models"
)

const Type = "scheduled"

// Handler matches schedule_due events addressed to its trigger
// instance. The scheduler emits one event per due instance, so
// matching is by trigger identity.
type Handler struct {
	logger *slog.Logger
}

func NewHandler(logger *slog.Logger) *Handler {
	return &Handler{logger: logger.With("module", "schedule_handler")}
}

func (h *Handler) MatchesEvent(instance *models.TriggerInstance, event models.Event) bool {
	if event.EventType != models.EventScheduleDue {
		return false
	}

	triggerID, _ := event.EventData["trigger_id"].(string)

	return triggerID == instance.ID
}

func (h *Handler) ExtractData(instance *models.TriggerInstance, event models.Event) map[string]any {
	data := map[string]any{
		"scheduled_at": event.Timestamp,
		"event_source": event.Source,
	}

	if expr, ok := instance.Config["cron"].(string); ok {
		data["cron"] = expr

		if next, err := NextRun(expr, event.Timestamp); err == nil {
			data["next_run_at"] = next
		}
	}

	return data
}

// Validator checks that the configured cron expression parses.
type Validator struct {
	logger *slog.Logger
}

func NewValidator(logger *slog.Logger) *Validator {
	return &Validator{logger: logger.With("module", "schedule_validator")}
}

func (v *Validator) Validate(instance *models.TriggerInstance, tctx *models.TriggerContext) models.ValidationResult {
	result := models.ValidationResult{Valid: true}

	expr, ok := instance.Config["cron"].(string)
	if !ok || expr == "" {
		result.Valid = false
		result.Errors = append(result.Errors, "missing required field: cron")

		return result
	}

	if _, err := cron.ParseStandard(expr); err != nil {
		result.Valid = false
		result.Errors = append(result.Errors, fmt.Sprintf("invalid cron expression: %v", err))
	}

	return result
}

// NextRun computes the next fire time of a standard 5-field cron
// expression after the given instant.
func NextRun(expr string, after time.Time) (time.Time, error) {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression: %w", err)
	}

	return sched.Next(after), nil
}
