// Package web provides HTTP request and response types for the
// trigger and recovery management API.
package web

import "github.com/cadenzahq/cadenza/pkg/models"

// CreateTriggerRequest is the request body for registering a trigger
// instance on a workflow.
type CreateTriggerRequest struct {
	WorkflowID  string         `json:"workflow_id"  validate:"required"`
	TriggerType string         `json:"trigger_type" validate:"required"`
	Name        string         `json:"name"         validate:"required,min=3"`
	IsActive    *bool          `json:"is_active,omitempty"`
	Config      map[string]any `json:"config"`

	MaxExecutionsPerMinute int `json:"max_executions_per_minute" validate:"gte=0"`
	MaxExecutionsPerHour   int `json:"max_executions_per_hour"   validate:"gte=0"`
	MaxExecutionsPerDay    int `json:"max_executions_per_day"    validate:"gte=0"`
}

// UpdateTriggerRequest supports partial updates of a trigger instance.
type UpdateTriggerRequest struct {
	Name     *string        `json:"name,omitempty" validate:"omitempty,min=3"`
	IsActive *bool          `json:"is_active,omitempty"`
	Config   map[string]any `json:"config,omitempty"`

	MaxExecutionsPerMinute *int `json:"max_executions_per_minute,omitempty" validate:"omitempty,gte=0"`
	MaxExecutionsPerHour   *int `json:"max_executions_per_hour,omitempty"   validate:"omitempty,gte=0"`
	MaxExecutionsPerDay    *int `json:"max_executions_per_day,omitempty"    validate:"omitempty,gte=0"`
}

// ValidateConfigRequest asks for a dry-run validation of a trigger
// configuration.
type ValidateConfigRequest struct {
	TriggerType string         `json:"trigger_type" validate:"required"`
	Config      map[string]any `json:"config"`
}

// ManualTriggerRequest fires a workflow on behalf of a user.
type ManualTriggerRequest struct {
	UserID string         `json:"user_id" validate:"required"`
	Data   map[string]any `json:"data,omitempty"`
}

// CreateStrategyRequest is the request body for a recovery strategy.
type CreateStrategyRequest struct {
	Name          string              `json:"name"          validate:"required,min=3"`
	StrategyType  models.StrategyType `json:"strategy_type" validate:"required,oneof=retry rollback skip manual restart"`
	WorkflowID    string              `json:"workflow_id,omitempty"`
	NodeType      string              `json:"node_type,omitempty"`
	ErrorPatterns []string            `json:"error_patterns,omitempty"`

	MaxRetryAttempts  int     `json:"max_retry_attempts"  validate:"gte=0"`
	RetryDelaySeconds int     `json:"retry_delay_seconds" validate:"gte=0"`
	BackoffMultiplier float64 `json:"backoff_multiplier"  validate:"gte=0"`

	RecoveryActions []map[string]any `json:"recovery_actions,omitempty"`

	IsActive *bool `json:"is_active,omitempty"`
	Priority int   `json:"priority" validate:"gte=0,lte=100"`
}

// UpdateStrategyRequest supports partial updates of a recovery strategy.
type UpdateStrategyRequest struct {
	Name          *string              `json:"name,omitempty" validate:"omitempty,min=3"`
	StrategyType  *models.StrategyType `json:"strategy_type,omitempty" validate:"omitempty,oneof=retry rollback skip manual restart"`
	NodeType      *string              `json:"node_type,omitempty"`
	ErrorPatterns []string             `json:"error_patterns,omitempty"`

	MaxRetryAttempts  *int     `json:"max_retry_attempts,omitempty"  validate:"omitempty,gte=0"`
	RetryDelaySeconds *int     `json:"retry_delay_seconds,omitempty" validate:"omitempty,gte=0"`
	BackoffMultiplier *float64 `json:"backoff_multiplier,omitempty"  validate:"omitempty,gte=0"`

	RecoveryActions []map[string]any `json:"recovery_actions,omitempty"`

	IsActive *bool `json:"is_active,omitempty"`
	Priority *int  `json:"priority,omitempty" validate:"omitempty,gte=0,lte=100"`
}

// RecoverExecutionRequest starts a recovery attempt for a failed
// execution.
type RecoverExecutionRequest struct {
	Reason models.RecoveryTriggerReason `json:"reason,omitempty" validate:"omitempty,oneof=node_failure execution_timeout manual_request system_restart"`
}

// CreateReplayRequest is the request body for a replay session.
type CreateReplayRequest struct {
	OriginalExecutionID string            `json:"original_execution_id" validate:"required"`
	FromCheckpointID    string            `json:"from_checkpoint_id,omitempty"`
	ReplayType          models.ReplayType `json:"replay_type,omitempty" validate:"omitempty,oneof=full partial debug test"`
	ModifiedInputs      map[string]any    `json:"modified_inputs,omitempty"`
	ModifiedContext     map[string]any    `json:"modified_context,omitempty"`
	SkipNodes           []string          `json:"skip_nodes,omitempty"`
	DebugMode           bool              `json:"debug_mode"`
}

// CleanupRequest controls a checkpoint cleanup pass.
type CleanupRequest struct {
	DryRun bool `json:"dry_run"`
}
