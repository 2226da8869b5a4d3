package models

import (
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTriggerInstance_Validation(t *testing.T) {
	validate := validator.New()

	instance := &TriggerInstance{
		ID:          "trigger-1",
		WorkflowID:  "workflow-1",
		TriggerType: "record_created",
		Name:        "new deals",
	}

	assert.NoError(t, validate.Struct(instance))
}

func TestTriggerInstance_Validation_MissingWorkflow(t *testing.T) {
	validate := validator.New()

	instance := &TriggerInstance{
		ID:          "trigger-1",
		TriggerType: "record_created",
		Name:        "new deals",
	}

	err := validate.Struct(instance)
	require.Error(t, err)
}

func TestTriggerInstance_Validation_ShortName(t *testing.T) {
	validate := validator.New()

	instance := &TriggerInstance{
		ID:          "trigger-1",
		WorkflowID:  "workflow-1",
		TriggerType: "record_created",
		Name:        "ab",
	}

	assert.Error(t, validate.Struct(instance))
}

func TestWorkflow_IsActive(t *testing.T) {
	tests := []struct {
		status WorkflowStatus
		want   bool
	}{
		{WorkflowStatusDraft, false},
		{WorkflowStatusActive, true},
		{WorkflowStatusArchived, false},
	}

	for _, tt := range tests {
		workflow := &Workflow{Status: tt.status}
		assert.Equal(t, tt.want, workflow.IsActive(), "status %s", tt.status)
	}
}

func TestExecution_IsTerminal(t *testing.T) {
	tests := []struct {
		status ExecutionStatus
		want   bool
	}{
		{ExecutionStatusPending, false},
		{ExecutionStatusRunning, false},
		{ExecutionStatusCompleted, true},
		{ExecutionStatusFailed, true},
		{ExecutionStatusCancelled, true},
	}

	for _, tt := range tests {
		execution := &Execution{Status: tt.status}
		assert.Equal(t, tt.want, execution.IsTerminal(), "status %s", tt.status)
	}
}

func TestEvent_EntityID(t *testing.T) {
	event := NewEvent(EventRecordUpdated, "test", map[string]any{
		"record_id": "rec-42",
		"record":    map[string]any{"name": "Acme"},
	})
	assert.Equal(t, "rec-42", event.EntityID())

	event = NewEvent(EventMessageReceived, "test", map[string]any{
		"message_id": "msg-7",
	})
	assert.Equal(t, "msg-7", event.EntityID())

	event = NewEvent(EventWebhookReceived, "test", map[string]any{
		"payload": map[string]any{"a": 1},
	})
	assert.Empty(t, event.EntityID())
}

func TestCheckpoint_IsExpired(t *testing.T) {
	now := time.Now()

	checkpoint := &Checkpoint{ExpiresAt: now.Add(time.Hour)}
	assert.False(t, checkpoint.IsExpired(now))

	checkpoint = &Checkpoint{ExpiresAt: now.Add(-time.Hour)}
	assert.True(t, checkpoint.IsExpired(now))

	// Zero expiry means the checkpoint never expires.
	checkpoint = &Checkpoint{}
	assert.False(t, checkpoint.IsExpired(now))
}

func TestRecoveryStrategy_SuccessRate(t *testing.T) {
	strategy := &RecoveryStrategy{}
	assert.Zero(t, strategy.SuccessRate())

	strategy = &RecoveryStrategy{UsageCount: 4, SuccessCount: 3}
	assert.InDelta(t, 75.0, strategy.SuccessRate(), 0.001)
}

func TestRecoveryStrategy_MatchesError(t *testing.T) {
	strategy := &RecoveryStrategy{
		ErrorPatterns: []string{"timeout", "connection refused"},
	}

	assert.True(t, strategy.MatchesError("Request TIMEOUT after 30s", ""))
	assert.True(t, strategy.MatchesError("dial tcp: connection refused", "http"))
	assert.False(t, strategy.MatchesError("invalid credentials", ""))
}

func TestRecoveryStrategy_MatchesError_NodeTypeScope(t *testing.T) {
	strategy := &RecoveryStrategy{
		NodeType:      "http_request",
		ErrorPatterns: []string{"timeout"},
	}

	assert.True(t, strategy.MatchesError("timeout", "http_request"))
	assert.False(t, strategy.MatchesError("timeout", "send_email"))

	// Unknown node type falls back to pattern matching alone.
	assert.True(t, strategy.MatchesError("timeout", ""))
}

func TestRecoveryStrategy_MatchesError_EmptyPatterns(t *testing.T) {
	strategy := &RecoveryStrategy{}

	assert.True(t, strategy.MatchesError("anything at all", ""))
	assert.True(t, strategy.MatchesError("", ""))
}
