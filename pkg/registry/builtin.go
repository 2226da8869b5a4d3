package registry

import (
	"log/slog"

	"github.com/cadenzahq/cadenza/pkg/models"
	"github.com/cadenzahq/cadenza/pkg/protocol"
	"github.com/cadenzahq/cadenza/pkg/triggers/communication"
	"github.com/cadenzahq/cadenza/pkg/triggers/record"
	"github.com/cadenzahq/cadenza/pkg/triggers/schedule"
	"github.com/cadenzahq/cadenza/pkg/triggers/standard"
	"github.com/cadenzahq/cadenza/pkg/triggers/webhook"
)

// RegisterBuiltins populates the registry with every built-in trigger
// type and its handler/processor/validator factories.
func RegisterBuiltins(r *Registry) {
	registerRecordTriggers(r)
	registerCommunicationTriggers(r)
	registerIntegrationTriggers(r)
	registerScheduleTriggers(r)
	registerManualTrigger(r)
}

func registerRecordTriggers(r *Registry) {
	recordSchema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"pipeline_ids":           map[string]any{"type": "array", "description": "Pipelines this trigger fires for; empty allows all"},
			"field_conditions":       map[string]any{"description": "Flat, grouped, or nested field conditions"},
			"condition_logic":        map[string]any{"type": "string", "enum": []string{"AND", "OR"}},
			"watched_fields":         map[string]any{"type": "array", "description": "Fields diffed for change detection"},
			"require_actual_changes": map[string]any{"type": "boolean", "description": "Skip no-op saves"},
			"time_conditions":        map[string]any{"type": "object"},
		},
	}

	types := []struct {
		triggerType string
		eventType   models.EventType
		displayName string
		description string
		priority    models.TriggerPriority
		handler     protocol.HandlerFactory
	}{
		{
			record.TypeCreated, models.EventRecordCreated,
			"Record Created", "Fires when a record is created in a monitored pipeline",
			models.PriorityHigh,
			func(l *slog.Logger) protocol.TriggerHandler { return record.NewCreatedHandler(l) },
		},
		{
			record.TypeUpdated, models.EventRecordUpdated,
			"Record Updated", "Fires when a record changes, with field-level change detection",
			models.PriorityHigh,
			func(l *slog.Logger) protocol.TriggerHandler { return record.NewUpdatedHandler(l) },
		},
		{
			record.TypeDeleted, models.EventRecordDeleted,
			"Record Deleted", "Fires when a record is deleted",
			models.PriorityMedium,
			func(l *slog.Logger) protocol.TriggerHandler { return record.NewDeletedHandler(l) },
		},
	}

	for _, t := range types {
		r.Register(models.TriggerDefinition{
			TriggerType:          t.triggerType,
			DisplayName:          t.displayName,
			Description:          t.description,
			Category:             models.CategoryRecord,
			EventType:            t.eventType,
			ConfigSchema:         recordSchema,
			SupportsConditions:   true,
			SupportsRateLimiting: true,
			IsRealTime:           true,
			Priority:             t.priority,
			Examples: []map[string]any{
				{
					"pipeline_ids": []any{"sales"},
					"field_conditions": []any{
						map[string]any{"field": "status", "operator": "equals", "value": "new"},
					},
				},
			},
		})
		r.RegisterHandler(t.triggerType, t.handler)
		r.RegisterProcessor(t.triggerType, standardProcessorFactory())
		r.RegisterValidator(t.triggerType, standardValidatorFactory([]standard.FieldSpec{
			{Name: "pipeline_ids", Kind: "list"},
			{Name: "watched_fields", Kind: "list"},
			{Name: "require_actual_changes", Kind: "bool"},
			{Name: "time_conditions", Kind: "map"},
		}))
	}
}

func registerCommunicationTriggers(r *Registry) {
	r.Register(models.TriggerDefinition{
		TriggerType: communication.TypeEmailReceived,
		DisplayName: "Email Received",
		Description: "Fires when an email arrives on a monitored account",
		Category:    models.CategoryCommunication,
		EventType:   models.EventEmailReceived,
		ConfigSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"monitored_accounts": map[string]any{"type": "array"},
				"allowed_senders":    map[string]any{"type": "array"},
				"thread_id":          map[string]any{"type": "string"},
				"time_conditions":    map[string]any{"type": "object"},
			},
		},
		SupportsConditions:   true,
		SupportsRateLimiting: true,
		IsRealTime:           true,
		Priority:             models.PriorityHigh,
		Examples: []map[string]any{
			{"monitored_accounts": []any{"acct-1"}},
		},
	})
	r.RegisterHandler(communication.TypeEmailReceived, func(l *slog.Logger) protocol.TriggerHandler {
		return communication.NewEmailHandler(l)
	})
	r.RegisterProcessor(communication.TypeEmailReceived, standardProcessorFactory())
	r.RegisterValidator(communication.TypeEmailReceived, standardValidatorFactory([]standard.FieldSpec{
		{Name: "monitored_accounts", Kind: "list"},
		{Name: "allowed_senders", Kind: "list"},
		{Name: "thread_id", Kind: "string"},
	}))

	r.Register(models.TriggerDefinition{
		TriggerType: communication.TypeMessageReceived,
		DisplayName: "Message Received",
		Description: "Fires when a chat message arrives (whatsapp, linkedin, sms)",
		Category:    models.CategoryCommunication,
		EventType:   models.EventMessageReceived,
		ConfigSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"channel":           map[string]any{"type": "string", "enum": []string{"whatsapp", "linkedin", "sms"}},
				"monitored_numbers": map[string]any{"type": "array"},
				"allowed_senders":   map[string]any{"type": "array"},
				"thread_id":         map[string]any{"type": "string"},
				"time_conditions":   map[string]any{"type": "object"},
			},
		},
		SupportsConditions:   true,
		SupportsRateLimiting: true,
		IsRealTime:           true,
		Priority:             models.PriorityHigh,
		Examples: []map[string]any{
			{"channel": "whatsapp", "monitored_numbers": []any{"+15550100"}},
		},
	})
	r.RegisterHandler(communication.TypeMessageReceived, func(l *slog.Logger) protocol.TriggerHandler {
		return communication.NewMessageHandler(l)
	})
	r.RegisterProcessor(communication.TypeMessageReceived, standardProcessorFactory())
	r.RegisterValidator(communication.TypeMessageReceived, standardValidatorFactory([]standard.FieldSpec{
		{Name: "channel", Kind: "string"},
		{Name: "monitored_numbers", Kind: "list"},
		{Name: "allowed_senders", Kind: "list"},
	}))
}

func registerIntegrationTriggers(r *Registry) {
	r.Register(models.TriggerDefinition{
		TriggerType: webhook.Type,
		DisplayName: "Webhook",
		Description: "Fires on inbound webhook calls addressed to the workflow",
		Category:    models.CategoryIntegration,
		EventType:   models.EventWebhookReceived,
		ConfigSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"payload_schema":  map[string]any{"type": "object", "description": "JSON schema the payload must satisfy"},
				"time_conditions": map[string]any{"type": "object"},
			},
		},
		SupportsRateLimiting: true,
		IsRealTime:           true,
		Priority:             models.PriorityCritical,
		Examples: []map[string]any{
			{"payload_schema": map[string]any{"type": "object", "required": []string{"order_id"}}},
		},
	})
	r.RegisterHandler(webhook.Type, func(l *slog.Logger) protocol.TriggerHandler {
		return webhook.NewHandler(l)
	})
	r.RegisterProcessor(webhook.Type, standardProcessorFactory())
	r.RegisterValidator(webhook.Type, standardValidatorFactory([]standard.FieldSpec{
		{Name: "payload_schema", Kind: "map"},
	}))
}

func registerScheduleTriggers(r *Registry) {
	r.Register(models.TriggerDefinition{
		TriggerType: schedule.Type,
		DisplayName: "Scheduled",
		Description: "Fires on a cron schedule",
		Category:    models.CategorySchedule,
		EventType:   models.EventScheduleDue,
		ConfigSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"cron": map[string]any{"type": "string", "description": "Standard 5-field cron expression"},
			},
			"required": []string{"cron"},
		},
		RequiredFields:       []string{"cron"},
		SupportsRateLimiting: true,
		IsRealTime:           false,
		Priority:             models.PriorityLow,
		Examples: []map[string]any{
			{"cron": "0 9 * * 1-5"},
		},
	})
	r.RegisterHandler(schedule.Type, func(l *slog.Logger) protocol.TriggerHandler {
		return schedule.NewHandler(l)
	})
	r.RegisterProcessor(schedule.Type, standardProcessorFactory())
	r.RegisterValidator(schedule.Type, func(l *slog.Logger) protocol.TriggerValidator {
		return schedule.NewValidator(l)
	})
}

func registerManualTrigger(r *Registry) {
	// Manual triggers bypass matching and the queues entirely; the
	// definition exists for catalog completeness and config validation.
	r.Register(models.TriggerDefinition{
		TriggerType:  "manual",
		DisplayName:  "Manual",
		Description:  "Fired explicitly through the API",
		Category:     models.CategoryManual,
		ConfigSchema: map[string]any{"type": "object", "properties": map[string]any{}},
		IsRealTime:   true,
		Priority:     models.PriorityCritical,
	})
}

func standardProcessorFactory() protocol.ProcessorFactory {
	return func(l *slog.Logger, counter protocol.ExecutionCounter) protocol.TriggerProcessor {
		return standard.NewProcessor(l, counter)
	}
}

func standardValidatorFactory(fields []standard.FieldSpec) protocol.ValidatorFactory {
	return func(l *slog.Logger) protocol.TriggerValidator {
		return standard.NewValidator(l, fields)
	}
}
