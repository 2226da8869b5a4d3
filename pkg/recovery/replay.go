package recovery

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"

	"github.com/cadenzahq/cadenza/pkg/events"
	"github.com/cadenzahq/cadenza/pkg/models"
	"github.com/cadenzahq/cadenza/pkg/persistence"
)

// ReplayInput describes a replay session to create.
type ReplayInput struct {
	OriginalExecutionID string
	FromCheckpointID    string
	ReplayType          models.ReplayType
	ModifiedInputs      map[string]any
	ModifiedContext     map[string]any
	SkipNodes           []string
	DebugMode           bool
}

// CreateReplaySession registers a replay of a past execution without
// starting it. The original execution must exist and be terminal so
// the replay has a complete run to compare against.
func (m *Manager) CreateReplaySession(ctx context.Context, input ReplayInput) (*models.ReplaySession, error) {
	execution, err := m.store.ExecutionRepository().GetByID(ctx, input.OriginalExecutionID)
	if err != nil {
		return nil, fmt.Errorf("load execution %s: %w", input.OriginalExecutionID, err)
	}

	if !execution.IsTerminal() {
		return nil, fmt.Errorf("execution %s is still %s, replay requires a finished run", execution.ID, execution.Status)
	}

	if input.FromCheckpointID != "" {
		checkpoint, err := m.store.CheckpointRepository().GetByID(ctx, input.FromCheckpointID)
		if err != nil {
			return nil, fmt.Errorf("load checkpoint %s: %w", input.FromCheckpointID, err)
		}

		if checkpoint.ExecutionID != execution.ID {
			return nil, fmt.Errorf("checkpoint %s belongs to execution %s, not %s",
				checkpoint.ID, checkpoint.ExecutionID, execution.ID)
		}
	}

	replayType := input.ReplayType
	if replayType == "" {
		replayType = models.ReplayFull
	}

	session := &models.ReplaySession{
		ID:                     uuid.New().String(),
		WorkflowID:             execution.WorkflowID,
		OriginalExecutionID:    execution.ID,
		ReplayFromCheckpointID: input.FromCheckpointID,
		ReplayType:             replayType,
		ModifiedInputs:         input.ModifiedInputs,
		ModifiedContext:        input.ModifiedContext,
		SkipNodes:              input.SkipNodes,
		DebugMode:              input.DebugMode,
		Status:                 models.ReplayStatusCreated,
		CreatedAt:              m.now().UTC(),
	}

	if err := m.store.ReplayRepository().Save(ctx, session); err != nil {
		return nil, fmt.Errorf("save replay session: %w", err)
	}

	m.logger.Info("Replay session created",
		"session_id", session.ID,
		"original_execution_id", session.OriginalExecutionID,
		"replay_type", session.ReplayType)

	return session, nil
}

// StartReplay launches the replay execution for a created session.
// Inputs are the original trigger data overlaid with the session's
// modifications; replay provenance travels in the context data.
func (m *Manager) StartReplay(ctx context.Context, sessionID string) (*models.ReplaySession, error) {
	session, err := m.store.ReplayRepository().GetByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load replay session %s: %w", sessionID, err)
	}

	if session.Status != models.ReplayStatusCreated {
		return nil, fmt.Errorf("replay session %s is %s, only created sessions can start", sessionID, session.Status)
	}

	original, err := m.store.ExecutionRepository().GetByID(ctx, session.OriginalExecutionID)
	if err != nil {
		return nil, fmt.Errorf("load execution %s: %w", session.OriginalExecutionID, err)
	}

	triggerData := overlay(original.TriggerData, session.ModifiedInputs)

	contextData := overlay(nil, session.ModifiedContext)

	if session.ReplayFromCheckpointID != "" {
		checkpoint, err := m.store.CheckpointRepository().GetByID(ctx, session.ReplayFromCheckpointID)
		if err != nil {
			return nil, fmt.Errorf("load checkpoint %s: %w", session.ReplayFromCheckpointID, err)
		}

		contextData = overlay(checkpoint.ContextData, session.ModifiedContext)
		contextData["_resumed_from_checkpoint"] = checkpoint.ID
	}

	contextData["_replay_session_id"] = session.ID
	contextData["_debug_mode"] = session.DebugMode

	if len(session.SkipNodes) > 0 {
		contextData["_skip_nodes"] = session.SkipNodes
	}

	replayExecution := &models.Execution{
		ID:                uuid.New().String(),
		WorkflowID:        original.WorkflowID,
		ParentExecutionID: original.ID,
		Status:            models.ExecutionStatusPending,
		TriggerData:       triggerData,
		ContextData:       contextData,
		TriggeredByID:     original.TriggeredByID,
		StartedAt:         m.now().UTC(),
	}

	if err := m.store.ExecutionRepository().Save(ctx, replayExecution); err != nil {
		return nil, fmt.Errorf("save replay execution: %w", err)
	}

	now := m.now().UTC()
	session.Status = models.ReplayStatusRunning
	session.ReplayExecutionID = replayExecution.ID
	session.StartedAt = &now

	if err := m.store.ReplayRepository().Save(ctx, session); err != nil {
		return nil, fmt.Errorf("update replay session: %w", err)
	}

	started := events.ReplayStarted{
		BaseEvent:         events.NewBaseEvent(events.ReplayStartedEvent, session.WorkflowID),
		SessionID:         session.ID,
		OriginalExecution: session.OriginalExecutionID,
		ReplayExecutionID: replayExecution.ID,
	}
	if _, err := m.bus.Publish(ctx, session.WorkflowID, started); err != nil {
		m.logger.Warn("Failed to publish replay started event", "session_id", session.ID, "error", err)
	}

	if err := m.submit(ctx, replayExecution); err != nil {
		return nil, err
	}

	m.logger.Info("Replay started",
		"session_id", session.ID, "replay_execution_id", replayExecution.ID)

	return session, nil
}

// CancelReplay aborts a session that has not finished.
func (m *Manager) CancelReplay(ctx context.Context, sessionID string) (*models.ReplaySession, error) {
	session, err := m.store.ReplayRepository().GetByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load replay session %s: %w", sessionID, err)
	}

	switch session.Status {
	case models.ReplayStatusCompleted, models.ReplayStatusFailed, models.ReplayStatusCancelled:
		return nil, fmt.Errorf("replay session %s already finished as %s", sessionID, session.Status)
	}

	now := m.now().UTC()
	session.Status = models.ReplayStatusCancelled
	session.CompletedAt = &now

	if err := m.store.ReplayRepository().Save(ctx, session); err != nil {
		return nil, fmt.Errorf("update replay session: %w", err)
	}

	return session, nil
}

// NodeDifference is one divergence between the original and replay
// run of a node.
type NodeDifference struct {
	NodeID      string `json:"node_id"`
	Kind        string `json:"kind"`
	Description string `json:"description"`
}

// ReplayComparison contrasts the original execution with its replay,
// node by node.
type ReplayComparison struct {
	SessionID           string           `json:"session_id"`
	OriginalExecutionID string           `json:"original_execution_id"`
	ReplayExecutionID   string           `json:"replay_execution_id"`
	NodesCompared       int              `json:"nodes_compared"`
	Differences         []NodeDifference `json:"differences"`
	Identical           bool             `json:"identical"`
}

// GetReplayComparison diffs the per-node logs of the original and
// replay executions: nodes missing from either run, status changes,
// output changes and timing shifts over one second.
func (m *Manager) GetReplayComparison(ctx context.Context, sessionID string) (*ReplayComparison, error) {
	session, err := m.store.ReplayRepository().GetByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load replay session %s: %w", sessionID, err)
	}

	if session.ReplayExecutionID == "" {
		return nil, persistence.ErrExecutionNotFound
	}

	originalLogs, err := m.store.ExecutionRepository().Logs(ctx, session.OriginalExecutionID)
	if err != nil {
		return nil, fmt.Errorf("load original logs: %w", err)
	}

	replayLogs, err := m.store.ExecutionRepository().Logs(ctx, session.ReplayExecutionID)
	if err != nil {
		return nil, fmt.Errorf("load replay logs: %w", err)
	}

	comparison := &ReplayComparison{
		SessionID:           session.ID,
		OriginalExecutionID: session.OriginalExecutionID,
		ReplayExecutionID:   session.ReplayExecutionID,
	}

	replayByNode := make(map[string]*models.ExecutionLog, len(replayLogs))
	for _, log := range replayLogs {
		replayByNode[log.NodeID] = log
	}

	for _, original := range originalLogs {
		replay, ok := replayByNode[original.NodeID]
		if !ok {
			comparison.Differences = append(comparison.Differences, NodeDifference{
				NodeID:      original.NodeID,
				Kind:        "missing_in_replay",
				Description: "node ran in the original execution but not in the replay",
			})

			continue
		}

		comparison.NodesCompared++

		delete(replayByNode, original.NodeID)

		if original.Status != replay.Status {
			comparison.Differences = append(comparison.Differences, NodeDifference{
				NodeID:      original.NodeID,
				Kind:        "status_changed",
				Description: fmt.Sprintf("status %s in original, %s in replay", original.Status, replay.Status),
			})
		}

		if !reflect.DeepEqual(original.Output, replay.Output) {
			comparison.Differences = append(comparison.Differences, NodeDifference{
				NodeID:      original.NodeID,
				Kind:        "output_changed",
				Description: "node output differs between runs",
			})
		}

		if delta := time.Duration(replay.DurationMs-original.DurationMs) * time.Millisecond; delta > time.Second || delta < -time.Second {
			comparison.Differences = append(comparison.Differences, NodeDifference{
				NodeID:      original.NodeID,
				Kind:        "timing_changed",
				Description: fmt.Sprintf("duration %dms in original, %dms in replay", original.DurationMs, replay.DurationMs),
			})
		}
	}

	for _, replay := range replayLogs {
		if _, stillPending := replayByNode[replay.NodeID]; stillPending {
			comparison.Differences = append(comparison.Differences, NodeDifference{
				NodeID:      replay.NodeID,
				Kind:        "missing_in_original",
				Description: "node ran in the replay but not in the original execution",
			})
		}
	}

	comparison.Identical = len(comparison.Differences) == 0

	return comparison, nil
}

// overlay copies base and applies overrides on top.
func overlay(base, overrides map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(overrides))

	for key, value := range base {
		merged[key] = value
	}

	for key, value := range overrides {
		merged[key] = value
	}

	return merged
}
