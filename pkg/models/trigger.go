package models

import "time"

// TriggerPriority orders trigger processing across the dispatch queues.
type TriggerPriority string

const (
	PriorityLow      TriggerPriority = "low"
	PriorityMedium   TriggerPriority = "medium"
	PriorityHigh     TriggerPriority = "high"
	PriorityCritical TriggerPriority = "critical"
)

// Priorities lists all priorities from highest to lowest.
var Priorities = []TriggerPriority{PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow}

// TriggerCategory groups trigger types for catalog browsing.
type TriggerCategory string

const (
	CategoryRecord        TriggerCategory = "record"
	CategoryCommunication TriggerCategory = "communication"
	CategoryIntegration   TriggerCategory = "integration"
	CategorySchedule      TriggerCategory = "schedule"
	CategoryManual        TriggerCategory = "manual"
)

// TriggerDefinition is a static catalog entry describing a trigger type.
// Definitions are registered once at process start and read-only afterward.
type TriggerDefinition struct {
	TriggerType          string          `json:"trigger_type"          validate:"required"`
	DisplayName          string          `json:"display_name"          validate:"required"`
	Description          string          `json:"description"`
	Category             TriggerCategory `json:"category"              validate:"required"`
	EventType            EventType       `json:"event_type"`
	ConfigSchema         map[string]any  `json:"config_schema"`
	RequiredFields       []string        `json:"required_fields"`
	SupportsConditions   bool            `json:"supports_conditions"`
	SupportsRateLimiting bool            `json:"supports_rate_limiting"`
	IsRealTime           bool            `json:"is_real_time"`
	Priority             TriggerPriority `json:"priority"`
	Examples             []map[string]any `json:"examples,omitempty"`
}

// TriggerInstance is a configured rule attached to a workflow, watching
// for a class of events. Instances are persisted.
type TriggerInstance struct {
	ID          string         `json:"id"`
	WorkflowID  string         `json:"workflow_id"  validate:"required"`
	TriggerType string         `json:"trigger_type" validate:"required"`
	Name        string         `json:"name"         validate:"required,min=3"`
	IsActive    bool           `json:"is_active"`
	Config      map[string]any `json:"config"`

	MaxExecutionsPerMinute int `json:"max_executions_per_minute"`
	MaxExecutionsPerHour   int `json:"max_executions_per_hour"`
	MaxExecutionsPerDay    int `json:"max_executions_per_day"`

	ExecutionCount  int        `json:"execution_count"`
	FailureCount    int        `json:"failure_count"`
	LastTriggeredAt *time.Time `json:"last_triggered_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TriggerContext flows through validation and processing for a single
// matched event x trigger pair. It is ephemeral and never persisted.
type TriggerContext struct {
	TriggerID         string         `json:"trigger_id"`
	WorkflowID        string         `json:"workflow_id"`
	TenantSchema      string         `json:"tenant_schema"`
	TriggeredByUserID string         `json:"triggered_by_user_id,omitempty"`
	ExecutionID       string         `json:"execution_id,omitempty"`
	ParentExecutionID string         `json:"parent_execution_id,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
}

// TriggerResult is the terminal outcome of processing one TriggerContext.
type TriggerResult struct {
	Success          bool           `json:"success"`
	TriggerID        string         `json:"trigger_id"`
	WorkflowID       string         `json:"workflow_id"`
	ExecutionID      string         `json:"execution_id,omitempty"`
	Message          string         `json:"message,omitempty"`
	Error            string         `json:"error,omitempty"`
	Data             map[string]any `json:"data,omitempty"`
	ProcessingTimeMs int64          `json:"processing_time_ms"`
	CreatedAt        time.Time      `json:"created_at"`
}

// ValidationResult reports the outcome of validating a trigger
// configuration against its registered definition.
type ValidationResult struct {
	Valid       bool     `json:"valid"`
	Errors      []string `json:"errors,omitempty"`
	Warnings    []string `json:"warnings,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}
