// Package record implements trigger handlers for record lifecycle
// events (created, updated, deleted).
package record

import (
	"log/slog"
	"reflect"

	"github.com/cadenzahq/cadenza/pkg/conditions"
	"github.com/cadenzahq/cadenza/pkg/models"
)

const (
	TypeCreated = "record_created"
	TypeUpdated = "record_updated"
	TypeDeleted = "record_deleted"
)

// Handler matches record events against pipeline allow-lists and field
// conditions. For update events it supports change detection against
// the record's pre-save values.
type Handler struct {
	eventType models.EventType
	evaluator *conditions.Evaluator
	logger    *slog.Logger
}

func NewCreatedHandler(logger *slog.Logger) *Handler {
	return newHandler(models.EventRecordCreated, logger)
}

func NewUpdatedHandler(logger *slog.Logger) *Handler {
	return newHandler(models.EventRecordUpdated, logger)
}

func NewDeletedHandler(logger *slog.Logger) *Handler {
	return newHandler(models.EventRecordDeleted, logger)
}

func newHandler(eventType models.EventType, logger *slog.Logger) *Handler {
	l := logger.With("module", "record_handler", "event_type", string(eventType))

	return &Handler{
		eventType: eventType,
		evaluator: conditions.NewEvaluator(l),
		logger:    l,
	}
}

func (h *Handler) MatchesEvent(instance *models.TriggerInstance, event models.Event) bool {
	if event.EventType != h.eventType {
		return false
	}

	record, _ := event.EventData["record"].(map[string]any)

	if !h.pipelineAllowed(instance, record) {
		return false
	}

	previous, _ := event.EventData["original_values"].(map[string]any)

	if h.eventType == models.EventRecordUpdated {
		if requireChanges, _ := instance.Config["require_actual_changes"].(bool); requireChanges {
			if len(changedFields(instance, record, previous)) == 0 {
				// No-op save, nothing actually changed.
				return false
			}
		}
	}

	return h.fieldConditionsMatch(instance, record, previous)
}

func (h *Handler) ExtractData(instance *models.TriggerInstance, event models.Event) map[string]any {
	record, _ := event.EventData["record"].(map[string]any)
	previous, _ := event.EventData["original_values"].(map[string]any)

	data := map[string]any{
		"record":       record,
		"event_type":   string(event.EventType),
		"event_source": event.Source,
	}

	if id, ok := record["id"]; ok {
		data["record_id"] = id
	}

	if pipelineID, ok := record["pipeline_id"]; ok {
		data["pipeline_id"] = pipelineID
	}

	if h.eventType == models.EventRecordUpdated {
		changed := changedFields(instance, record, previous)
		data["changed_fields"] = changed
		data["previous_values"] = previous
	}

	return data
}

// pipelineAllowed checks the configured pipeline_ids allow-list. An
// absent or empty list allows every pipeline.
func (h *Handler) pipelineAllowed(instance *models.TriggerInstance, record map[string]any) bool {
	raw, ok := instance.Config["pipeline_ids"].([]any)
	if !ok || len(raw) == 0 {
		return true
	}

	pipelineID, _ := record["pipeline_id"].(string)
	if pipelineID == "" {
		return false
	}

	for _, entry := range raw {
		if id, ok := entry.(string); ok && id == pipelineID {
			return true
		}
	}

	return false
}

func (h *Handler) fieldConditionsMatch(instance *models.TriggerInstance, record, previous map[string]any) bool {
	input := conditions.Input{Data: record, Previous: previous}

	switch raw := instance.Config["field_conditions"].(type) {
	case nil:
		return true
	case []any:
		conds := decodeConditions(raw)
		if len(conds) == 0 {
			return true
		}

		if hasGroupIDs(conds) {
			return h.evaluator.EvaluateGrouped(conds, input)
		}

		logic := conditions.LogicAnd
		if l, ok := instance.Config["condition_logic"].(string); ok && l != "" {
			logic = conditions.LogicOperator(l)
		}

		return h.evaluator.EvaluateList(conds, logic, input)
	case map[string]any:
		return h.evaluator.EvaluateRaw(raw, input)
	default:
		h.logger.Warn("Unrecognized field_conditions shape", "trigger_id", instance.ID)

		return false
	}
}

// changedFields diffs new vs previous values per watched field. With no
// watched_fields configured every field of the record is watched.
func changedFields(instance *models.TriggerInstance, record, previous map[string]any) []string {
	if previous == nil {
		return nil
	}

	watched := watchedFields(instance, record, previous)

	var changed []string

	for _, field := range watched {
		if !reflect.DeepEqual(record[field], previous[field]) {
			changed = append(changed, field)
		}
	}

	return changed
}

func watchedFields(instance *models.TriggerInstance, record, previous map[string]any) []string {
	if raw, ok := instance.Config["watched_fields"].([]any); ok && len(raw) > 0 {
		fields := make([]string, 0, len(raw))
		for _, entry := range raw {
			if f, ok := entry.(string); ok {
				fields = append(fields, f)
			}
		}

		return fields
	}

	seen := make(map[string]bool, len(record)+len(previous))
	fields := make([]string, 0, len(record)+len(previous))

	for k := range record {
		if !seen[k] {
			seen[k] = true

			fields = append(fields, k)
		}
	}

	for k := range previous {
		if !seen[k] {
			seen[k] = true

			fields = append(fields, k)
		}
	}

	return fields
}

func decodeConditions(raw []any) []conditions.Condition {
	conds := make([]conditions.Condition, 0, len(raw))

	for _, entry := range raw {
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}

		cond := conditions.Condition{Value: m["value"]}
		cond.Field, _ = m["field"].(string)
		cond.Operator, _ = m["operator"].(string)
		cond.GroupID, _ = m["groupId"].(string)

		if logic, ok := m["logic"].(string); ok {
			cond.Logic = conditions.LogicOperator(logic)
		}

		conds = append(conds, cond)
	}

	return conds
}

func hasGroupIDs(conds []conditions.Condition) bool {
	for _, c := range conds {
		if c.GroupID != "" {
			return true
		}
	}

	return false
}
