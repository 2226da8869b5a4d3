package models

import "time"

// CheckpointType classifies why a checkpoint was taken.
type CheckpointType string

const (
	CheckpointAuto           CheckpointType = "auto"
	CheckpointManual         CheckpointType = "manual"
	CheckpointNodeCompletion CheckpointType = "node_completion"
	CheckpointErrorBoundary  CheckpointType = "error_boundary"
	CheckpointMilestone      CheckpointType = "milestone"
)

// Checkpoint is an immutable snapshot of an execution's state at a
// point in time. Sequence numbers are strictly increasing per
// execution and never reused.
type Checkpoint struct {
	ID             string         `json:"id"`
	WorkflowID     string         `json:"workflow_id"`
	ExecutionID    string         `json:"execution_id" validate:"required"`
	CheckpointType CheckpointType `json:"checkpoint_type"`
	NodeID         string         `json:"node_id,omitempty"`
	SequenceNumber int            `json:"sequence_number"`
	ExecutionState map[string]any `json:"execution_state,omitempty"`
	ContextData    map[string]any `json:"context_data,omitempty"`
	NodeOutputs    map[string]any `json:"node_outputs,omitempty"`
	Description    string         `json:"description,omitempty"`
	IsRecoverable  bool           `json:"is_recoverable"`
	IsMilestone    bool           `json:"is_milestone"`
	SizeBytes      int            `json:"checkpoint_size_bytes"`
	CreatedAt      time.Time      `json:"created_at"`
	ExpiresAt      time.Time      `json:"expires_at"`
}

// IsExpired reports whether the checkpoint has passed its retention window.
func (c *Checkpoint) IsExpired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt)
}

// CheckpointStatistics summarizes checkpoint storage for an execution
// or workflow, surfaced by the management API.
type CheckpointStatistics struct {
	TotalCount       int            `json:"total_count"`
	RecoverableCount int            `json:"recoverable_count"`
	MilestoneCount   int            `json:"milestone_count"`
	TotalSizeBytes   int64          `json:"total_size_bytes"`
	CountByType      map[string]int `json:"count_by_type"`
	OldestCreatedAt  *time.Time     `json:"oldest_created_at,omitempty"`
	NewestCreatedAt  *time.Time     `json:"newest_created_at,omitempty"`
}
