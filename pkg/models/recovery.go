package models

import (
	"strings"
	"time"
)

// StrategyType is the remediation action a recovery strategy applies.
type StrategyType string

const (
	StrategyRetry    StrategyType = "retry"
	StrategyRollback StrategyType = "rollback"
	StrategySkip     StrategyType = "skip"
	StrategyManual   StrategyType = "manual"
	StrategyRestart  StrategyType = "restart"
)

// RecoveryStrategy maps failure characteristics to a remediation
// action. Strategies are global when WorkflowID is empty.
type RecoveryStrategy struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"          validate:"required,min=3"`
	StrategyType StrategyType `json:"strategy_type" validate:"required"`
	WorkflowID   string       `json:"workflow_id,omitempty"`
	NodeType     string       `json:"node_type,omitempty"`

	// ErrorPatterns are matched as case-insensitive substrings of the
	// failure message. An empty list matches every error.
	ErrorPatterns []string `json:"error_patterns"`

	MaxRetryAttempts  int     `json:"max_retry_attempts"`
	RetryDelaySeconds int     `json:"retry_delay_seconds"`
	BackoffMultiplier float64 `json:"backoff_multiplier"`

	RecoveryActions []map[string]any `json:"recovery_actions,omitempty"`

	IsActive bool `json:"is_active"`
	Priority int  `json:"priority" validate:"gte=0,lte=100"`

	UsageCount   int        `json:"usage_count"`
	SuccessCount int        `json:"success_count"`
	LastUsedAt   *time.Time `json:"last_used_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SuccessRate returns the percentage of recovery attempts with this
// strategy that succeeded, or 0 when it has never been used.
func (s *RecoveryStrategy) SuccessRate() float64 {
	if s.UsageCount == 0 {
		return 0
	}

	return float64(s.SuccessCount) / float64(s.UsageCount) * 100
}

// MatchesError reports whether this strategy applies to a failure with
// the given error message and failed node type. With no patterns
// configured the strategy matches every error, scoped only by node
// type when one is set.
func (s *RecoveryStrategy) MatchesError(errorMessage, nodeType string) bool {
	if s.NodeType != "" && nodeType != "" && s.NodeType != nodeType {
		return false
	}

	if len(s.ErrorPatterns) == 0 {
		return true
	}

	lowered := strings.ToLower(errorMessage)
	for _, pattern := range s.ErrorPatterns {
		if pattern == "" {
			continue
		}

		if strings.Contains(lowered, strings.ToLower(pattern)) {
			return true
		}
	}

	return false
}

// RecoveryStatus is the lifecycle state of one recovery attempt.
type RecoveryStatus string

const (
	RecoveryPending    RecoveryStatus = "pending"
	RecoveryInProgress RecoveryStatus = "in_progress"
	RecoveryCompleted  RecoveryStatus = "completed"
	RecoveryFailed     RecoveryStatus = "failed"
	RecoveryCancelled  RecoveryStatus = "cancelled"
)

// RecoveryTriggerReason records what prompted a recovery attempt.
type RecoveryTriggerReason string

const (
	RecoveryReasonNodeFailure      RecoveryTriggerReason = "node_failure"
	RecoveryReasonExecutionTimeout RecoveryTriggerReason = "execution_timeout"
	RecoveryReasonManualRequest    RecoveryTriggerReason = "manual_request"
	RecoveryReasonSystemRestart    RecoveryTriggerReason = "system_restart"
)

// RecoveryLog is the durable audit row for one recovery attempt.
// Logs are mutated to a terminal status and never deleted.
type RecoveryLog struct {
	ID             string                `json:"id"`
	WorkflowID     string                `json:"workflow_id"`
	ExecutionID    string                `json:"execution_id"`
	CheckpointID   string                `json:"checkpoint_id,omitempty"`
	StrategyID     string                `json:"strategy_id,omitempty"`
	RecoveryType   StrategyType          `json:"recovery_type"`
	TriggerReason  RecoveryTriggerReason `json:"trigger_reason"`
	OriginalError  string                `json:"original_error"`
	FailedNodeID   string                `json:"failed_node_id,omitempty"`
	FailedNodeName string                `json:"failed_node_name,omitempty"`
	Status         RecoveryStatus        `json:"status"`
	AttemptNumber  int                   `json:"attempt_number"`
	RecoveryError  string                `json:"recovery_error,omitempty"`

	ActionsTaken []map[string]any `json:"recovery_actions_taken,omitempty"`

	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	DurationSeconds float64    `json:"duration_seconds,omitempty"`
	WasSuccessful   *bool      `json:"was_successful,omitempty"`
	NewExecutionID  string     `json:"new_execution_id,omitempty"`
}

// ReplayType selects how much of an execution a replay re-runs.
type ReplayType string

const (
	ReplayFull    ReplayType = "full"
	ReplayPartial ReplayType = "partial"
	ReplayDebug   ReplayType = "debug"
	ReplayTest    ReplayType = "test"
)

// ReplayStatus is the lifecycle state of a replay session.
type ReplayStatus string

const (
	ReplayStatusCreated   ReplayStatus = "created"
	ReplayStatusRunning   ReplayStatus = "running"
	ReplayStatusCompleted ReplayStatus = "completed"
	ReplayStatusFailed    ReplayStatus = "failed"
	ReplayStatusCancelled ReplayStatus = "cancelled"
)

// ReplaySession is a sandboxed re-run of a past execution, optionally
// from a checkpoint, with modified inputs, for debugging/comparison.
type ReplaySession struct {
	ID                     string         `json:"id"`
	WorkflowID             string         `json:"workflow_id"`
	OriginalExecutionID    string         `json:"original_execution_id" validate:"required"`
	ReplayFromCheckpointID string         `json:"replay_from_checkpoint_id,omitempty"`
	ReplayType             ReplayType     `json:"replay_type"`
	ModifiedInputs         map[string]any `json:"modified_inputs,omitempty"`
	ModifiedContext        map[string]any `json:"modified_context,omitempty"`
	SkipNodes              []string       `json:"skip_nodes,omitempty"`
	DebugMode              bool           `json:"debug_mode"`
	Status                 ReplayStatus   `json:"status"`
	ReplayExecutionID      string         `json:"replay_execution_id,omitempty"`
	CreatedAt              time.Time      `json:"created_at"`
	StartedAt              *time.Time     `json:"started_at,omitempty"`
	CompletedAt            *time.Time     `json:"completed_at,omitempty"`
}
