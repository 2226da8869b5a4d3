// Package events defines event types and structures for workflow
// lifecycle notifications published on the event bus.
package events

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

// Kafka topic for all workflow lifecycle events.
const Topic = "cadenza.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// WorkflowTriggeredEvent is the hand-off to the execution engine:
	// publishing it submits the workflow for asynchronous execution.
	WorkflowTriggeredEvent EventType = "workflow.triggered"

	// Trigger pipeline lifecycle events.
	TriggerFiredEvent    EventType = "trigger.fired"
	TriggerRejectedEvent EventType = "trigger.rejected"
	TriggerFailedEvent   EventType = "trigger.failed"

	// Execution lifecycle events, emitted by the execution engine and
	// consumed by recovery.
	WorkflowExecutionStartedEvent   EventType = "workflow.execution.started"
	WorkflowExecutionCompletedEvent EventType = "workflow.execution.completed"
	WorkflowExecutionFailedEvent    EventType = "workflow.execution.failed"

	// Recovery lifecycle events.
	RecoveryStartedEvent   EventType = "recovery.started"
	RecoveryCompletedEvent EventType = "recovery.completed"
	ReplayStartedEvent     EventType = "replay.started"
)

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	WorkflowID string         `json:"workflow_id"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType, workflowID string) BaseEvent {
	return BaseEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		WorkflowID: workflowID,
		Metadata:   make(map[string]any),
	}
}

// WorkflowTriggered submits a workflow for asynchronous execution.
type WorkflowTriggered struct {
	BaseEvent

	TriggerID     string         `json:"trigger_id"`
	TenantSchema  string         `json:"tenant_schema"`
	TriggeredByID string         `json:"triggered_by_id,omitempty"`
	ExecutionID   string         `json:"execution_id,omitempty"`
	TriggerData   map[string]any `json:"trigger_data,omitempty"`
}

func (w WorkflowTriggered) GetType() EventType {
	return WorkflowTriggeredEvent
}

// TriggerFired records a successful trigger processing outcome.
type TriggerFired struct {
	BaseEvent

	TriggerID        string `json:"trigger_id"`
	TriggerType      string `json:"trigger_type"`
	TaskID           string `json:"task_id,omitempty"`
	ProcessingTimeMs int64  `json:"processing_time_ms"`
}

func (t TriggerFired) GetType() EventType {
	return TriggerFiredEvent
}

// TriggerRejected records a validation or gate rejection; not an error.
type TriggerRejected struct {
	BaseEvent

	TriggerID   string `json:"trigger_id"`
	TriggerType string `json:"trigger_type"`
	Reason      string `json:"reason"`
}

func (t TriggerRejected) GetType() EventType {
	return TriggerRejectedEvent
}

// TriggerFailed records an unexpected processing failure.
type TriggerFailed struct {
	BaseEvent

	TriggerID   string `json:"trigger_id"`
	TriggerType string `json:"trigger_type"`
	Error       string `json:"error"`
}

func (t TriggerFailed) GetType() EventType {
	return TriggerFailedEvent
}

type WorkflowExecutionStarted struct {
	BaseEvent

	ExecutionID string         `json:"execution_id"`
	TriggerType string         `json:"trigger_type"`
	TriggerData map[string]any `json:"trigger_data,omitempty"`
}

func (w WorkflowExecutionStarted) GetType() EventType {
	return WorkflowExecutionStartedEvent
}

type WorkflowExecutionCompleted struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	DurationMs  int64  `json:"duration_ms"`
}

func (w WorkflowExecutionCompleted) GetType() EventType {
	return WorkflowExecutionCompletedEvent
}

type WorkflowExecutionFailed struct {
	BaseEvent

	ExecutionID  string `json:"execution_id"`
	Error        string `json:"error"`
	FailedNodeID string `json:"failed_node_id,omitempty"`
	DurationMs   int64  `json:"duration_ms"`
}

func (w WorkflowExecutionFailed) GetType() EventType {
	return WorkflowExecutionFailedEvent
}

type RecoveryStarted struct {
	BaseEvent

	ExecutionID   string `json:"execution_id"`
	RecoveryLogID string `json:"recovery_log_id"`
	StrategyID    string `json:"strategy_id,omitempty"`
	RecoveryType  string `json:"recovery_type"`
}

func (r RecoveryStarted) GetType() EventType {
	return RecoveryStartedEvent
}

type RecoveryCompleted struct {
	BaseEvent

	ExecutionID    string `json:"execution_id"`
	RecoveryLogID  string `json:"recovery_log_id"`
	WasSuccessful  bool   `json:"was_successful"`
	NewExecutionID string `json:"new_execution_id,omitempty"`
}

func (r RecoveryCompleted) GetType() EventType {
	return RecoveryCompletedEvent
}

type ReplayStarted struct {
	BaseEvent

	SessionID         string `json:"session_id"`
	OriginalExecution string `json:"original_execution_id"`
	ReplayExecutionID string `json:"replay_execution_id"`
}

func (r ReplayStarted) GetType() EventType {
	return ReplayStartedEvent
}
