package models

import "time"

// ExecutionStatus is the lifecycle state of a workflow execution.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// Execution is a persisted record of one workflow run. Recovery and
// replay operate on these records; the node-execution engine owns the
// status transitions.
type Execution struct {
	ID                string          `json:"id"`
	WorkflowID        string          `json:"workflow_id" validate:"required"`
	ParentExecutionID string          `json:"parent_execution_id,omitempty"`
	Status            ExecutionStatus `json:"status"`
	TriggerData       map[string]any  `json:"trigger_data,omitempty"`
	ContextData       map[string]any  `json:"context_data,omitempty"`
	ErrorMessage      string          `json:"error_message,omitempty"`
	FailedNodeID      string          `json:"failed_node_id,omitempty"`
	TriggeredByID     string          `json:"triggered_by_id,omitempty"`
	StartedAt         time.Time       `json:"started_at"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty"`
}

// IsTerminal reports whether the execution has reached a final state.
func (e *Execution) IsTerminal() bool {
	switch e.Status {
	case ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusCancelled:
		return true
	default:
		return false
	}
}

// NodeStatus is the lifecycle state of a single node within an execution.
type NodeStatus string

const (
	NodeStatusPending   NodeStatus = "pending"
	NodeStatusRunning   NodeStatus = "running"
	NodeStatusCompleted NodeStatus = "completed"
	NodeStatusFailed    NodeStatus = "failed"
	NodeStatusSkipped   NodeStatus = "skipped"
)

// ExecutionLog is the per-node audit row of an execution. Recovery
// infers the failed and current nodes from these rows, and replay
// comparison diffs them between runs.
type ExecutionLog struct {
	ID           string         `json:"id"`
	ExecutionID  string         `json:"execution_id"`
	NodeID       string         `json:"node_id"`
	NodeName     string         `json:"node_name"`
	NodeType     string         `json:"node_type"`
	Status       NodeStatus     `json:"status"`
	Output       map[string]any `json:"output,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	StartedAt    time.Time      `json:"started_at"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	DurationMs   int64          `json:"duration_ms"`
}
