// Package webhook implements the trigger handler for inbound webhook
// events.
package webhook

import (
	"log/slog"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/cadenzahq/cadenza/pkg/models"
)

const Type = "webhook"

// Handler matches webhook events routed to the trigger's workflow and
// optionally validates the payload against a configured JSON schema.
type Handler struct {
	logger *slog.Logger
}

func NewHandler(logger *slog.Logger) *Handler {
	return &Handler{logger: logger.With("module", "webhook_handler")}
}

func (h *Handler) MatchesEvent(instance *models.TriggerInstance, event models.Event) bool {
	if event.EventType != models.EventWebhookReceived {
		return false
	}

	// Webhook calls carry their target workflow; only that workflow's
	// webhook triggers fire.
	if workflowID, ok := event.EventData["workflow_id"].(string); ok && workflowID != "" {
		if workflowID != instance.WorkflowID {
			return false
		}
	}

	payload, _ := event.EventData["payload"].(map[string]any)

	return h.payloadValid(instance, payload)
}

func (h *Handler) ExtractData(instance *models.TriggerInstance, event models.Event) map[string]any {
	payload, _ := event.EventData["payload"].(map[string]any)
	headers, _ := event.EventData["headers"].(map[string]any)

	return map[string]any{
		"payload":      payload,
		"headers":      headers,
		"event_source": event.Source,
	}
}

func (h *Handler) payloadValid(instance *models.TriggerInstance, payload map[string]any) bool {
	schema, ok := instance.Config["payload_schema"].(map[string]any)
	if !ok || len(schema) == 0 {
		return true
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(schema),
		gojsonschema.NewGoLoader(payload),
	)
	if err != nil {
		h.logger.Warn("Payload schema validation failed to run",
			"trigger_id", instance.ID, "error", err)

		return false
	}

	if !result.Valid() {
		descs := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			descs = append(descs, desc.String())
		}

		h.logger.Debug("Webhook payload rejected by schema",
			"trigger_id", instance.ID, "errors", strings.Join(descs, "; "))

		return false
	}

	return true
}
