package models

import "time"

// WorkflowStatus represents the lifecycle state of a workflow.
type WorkflowStatus string

const (
	WorkflowStatusDraft    WorkflowStatus = "draft"    // Editable, not executable
	WorkflowStatusActive   WorkflowStatus = "active"   // Executable, triggers fire
	WorkflowStatusArchived WorkflowStatus = "archived" // Historical, not executable
)

// Workflow is the owning aggregate for trigger instances and executions.
// The node graph itself is interpreted by the execution engine and is
// not modeled here beyond what dispatch and recovery need.
type Workflow struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"        validate:"required,min=3"`
	Description    string         `json:"description"`
	Status         WorkflowStatus `json:"status"      validate:"required"`
	TenantSchema   string         `json:"tenant_schema"`
	Variables      map[string]any `json:"variables,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	TimeoutMinutes int            `json:"timeout_minutes"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// IsActive reports whether the workflow can be triggered.
func (w *Workflow) IsActive() bool {
	return w.Status == WorkflowStatusActive
}
