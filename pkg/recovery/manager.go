// Package recovery implements checkpoint capture, failure recovery and
// execution replay for workflow executions.
package recovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/cadenzahq/cadenza/pkg/eventbus"
	"github.com/cadenzahq/cadenza/pkg/events"
	"github.com/cadenzahq/cadenza/pkg/models"
	"github.com/cadenzahq/cadenza/pkg/persistence"
)

const (
	defaultRetentionDays              = 30
	defaultMaxCheckpointsPerExecution = 20
)

// Manager coordinates checkpoints, recovery strategies and replay
// sessions for workflow executions.
type Manager struct {
	logger *slog.Logger
	store  persistence.Persistence
	bus    eventbus.EventPublisher

	retentionDays  int
	maxCheckpoints int
	now            func() time.Time
}

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

// WithRetentionDays sets how long checkpoints live before expiry.
func WithRetentionDays(days int) ManagerOption {
	return func(m *Manager) { m.retentionDays = days }
}

// WithMaxCheckpoints caps how many checkpoints one execution keeps.
func WithMaxCheckpoints(limit int) ManagerOption {
	return func(m *Manager) { m.maxCheckpoints = limit }
}

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

func NewManager(logger *slog.Logger, store persistence.Persistence, bus eventbus.EventPublisher, opts ...ManagerOption) *Manager {
	m := &Manager{
		logger:         logger.With("module", "recovery"),
		store:          store,
		bus:            bus,
		retentionDays:  defaultRetentionDays,
		maxCheckpoints: defaultMaxCheckpointsPerExecution,
		now:            time.Now,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// CheckpointInput describes one checkpoint to capture.
type CheckpointInput struct {
	WorkflowID     string
	ExecutionID    string
	CheckpointType models.CheckpointType
	NodeID         string
	ExecutionState map[string]any
	ContextData    map[string]any
	NodeOutputs    map[string]any
	Description    string
	IsRecoverable  bool
	IsMilestone    bool
}

// CreateCheckpoint captures an execution state snapshot. Sequence
// numbers are assigned from the stored maximum, so they stay strictly
// increasing per execution even across deletions; concurrent creators
// racing for the same number retry on the store's sequence conflict.
// When an execution exceeds its checkpoint cap the oldest non-milestone
// checkpoints are pruned (milestones never count toward the cap).
func (m *Manager) CreateCheckpoint(ctx context.Context, input CheckpointInput) (*models.Checkpoint, error) {
	if input.ExecutionID == "" {
		return nil, fmt.Errorf("checkpoint requires an execution id")
	}

	checkpoint, err := m.saveWithNextSequence(ctx, input)
	if err != nil {
		return nil, err
	}

	if err := m.pruneCheckpoints(ctx, input.ExecutionID); err != nil {
		m.logger.Warn("Checkpoint pruning failed", "execution_id", input.ExecutionID, "error", err)
	}

	m.logger.Debug("Checkpoint created",
		"checkpoint_id", checkpoint.ID,
		"execution_id", checkpoint.ExecutionID,
		"sequence", checkpoint.SequenceNumber,
		"type", checkpoint.CheckpointType)

	return checkpoint, nil
}

// saveWithNextSequence assigns the next sequence number and persists
// the checkpoint. Concurrent creators can collide on the same number;
// every collision means another writer got its checkpoint in, so
// re-reading the maximum and retrying always makes progress.
func (m *Manager) saveWithNextSequence(ctx context.Context, input CheckpointInput) (*models.Checkpoint, error) {
	repo := m.store.CheckpointRepository()

	for ctx.Err() == nil {
		maxSeq, err := repo.MaxSequence(ctx, input.ExecutionID)
		if err != nil {
			return nil, fmt.Errorf("next sequence number: %w", err)
		}

		now := m.now().UTC()

		checkpoint := &models.Checkpoint{
			ID:             uuid.New().String(),
			WorkflowID:     input.WorkflowID,
			ExecutionID:    input.ExecutionID,
			CheckpointType: input.CheckpointType,
			NodeID:         input.NodeID,
			SequenceNumber: maxSeq + 1,
			ExecutionState: input.ExecutionState,
			ContextData:    input.ContextData,
			NodeOutputs:    input.NodeOutputs,
			Description:    input.Description,
			IsRecoverable:  input.IsRecoverable,
			IsMilestone:    input.IsMilestone,
			CreatedAt:      now,
			ExpiresAt:      now.AddDate(0, 0, m.retentionDays),
		}

		if serialized, err := json.Marshal(checkpoint); err == nil {
			checkpoint.SizeBytes = len(serialized)
		}

		err = repo.Save(ctx, checkpoint)
		if err == nil {
			return checkpoint, nil
		}

		if !errors.Is(err, persistence.ErrSequenceConflict) {
			return nil, fmt.Errorf("save checkpoint: %w", err)
		}
	}

	return nil, fmt.Errorf("save checkpoint: %w", ctx.Err())
}

// pruneCheckpoints enforces the per-execution cap on non-milestone
// checkpoints. Milestones never count toward the cap and are retained
// regardless, so an execution keeps at most max regular checkpoints
// plus every milestone.
func (m *Manager) pruneCheckpoints(ctx context.Context, executionID string) error {
	checkpoints, err := m.store.CheckpointRepository().ByExecution(ctx, executionID)
	if err != nil {
		return err
	}

	// Listing is newest-first, so regular checkpoints seen past the
	// cap are the oldest surplus.
	regular := 0

	for _, checkpoint := range checkpoints {
		if checkpoint.IsMilestone {
			continue
		}

		regular++
		if regular <= m.maxCheckpoints {
			continue
		}

		if err := m.store.CheckpointRepository().Delete(ctx, checkpoint.ID); err != nil {
			return err
		}
	}

	return nil
}

// LatestRecoverableCheckpoint returns the newest recoverable,
// unexpired checkpoint of an execution. skip ignores that many of the
// newest candidates, which rollback uses to step one checkpoint back.
func (m *Manager) LatestRecoverableCheckpoint(ctx context.Context, executionID string, skip int) (*models.Checkpoint, error) {
	checkpoints, err := m.store.CheckpointRepository().ByExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}

	now := m.now()

	for _, checkpoint := range checkpoints {
		if !checkpoint.IsRecoverable || checkpoint.IsExpired(now) {
			continue
		}

		if skip > 0 {
			skip--

			continue
		}

		return checkpoint, nil
	}

	return nil, persistence.ErrCheckpointNotFound
}

// RecoverExecution runs one recovery attempt for a failed execution.
// The strategy is selected from the active strategy catalog by error
// pattern, node type and workflow scope; when nothing matches, a
// retry from the latest recoverable checkpoint is the default.
func (m *Manager) RecoverExecution(ctx context.Context, executionID string, reason models.RecoveryTriggerReason) (*models.RecoveryLog, error) {
	execution, err := m.store.ExecutionRepository().GetByID(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("load execution %s: %w", executionID, err)
	}

	if execution.Status != models.ExecutionStatusFailed {
		return nil, fmt.Errorf("execution %s is %s, only failed executions are recoverable", executionID, execution.Status)
	}

	attempt, err := m.store.RecoveryRepository().MaxAttemptNumber(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("attempt number: %w", err)
	}

	failedNodeType, failedNodeName := m.failedNodeInfo(ctx, execution)

	strategy, err := m.findStrategy(ctx, execution, failedNodeType)
	if err != nil {
		return nil, err
	}

	now := m.now().UTC()

	log := &models.RecoveryLog{
		ID:             uuid.New().String(),
		WorkflowID:     execution.WorkflowID,
		ExecutionID:    execution.ID,
		RecoveryType:   strategy.StrategyType,
		TriggerReason:  reason,
		OriginalError:  execution.ErrorMessage,
		FailedNodeID:   execution.FailedNodeID,
		FailedNodeName: failedNodeName,
		Status:         models.RecoveryPending,
		AttemptNumber:  attempt + 1,
		StartedAt:      now,
	}

	if strategy.ID != "" {
		log.StrategyID = strategy.ID
	}

	if err := m.store.RecoveryRepository().SaveLog(ctx, log); err != nil {
		return nil, fmt.Errorf("save recovery log: %w", err)
	}

	started := events.RecoveryStarted{
		BaseEvent:     events.NewBaseEvent(events.RecoveryStartedEvent, execution.WorkflowID),
		ExecutionID:   execution.ID,
		RecoveryLogID: log.ID,
		StrategyID:    strategy.ID,
		RecoveryType:  string(strategy.StrategyType),
	}
	if _, err := m.bus.Publish(ctx, execution.WorkflowID, started); err != nil {
		m.logger.Warn("Failed to publish recovery started event", "recovery_log_id", log.ID, "error", err)
	}

	log.Status = models.RecoveryInProgress
	if err := m.store.RecoveryRepository().SaveLog(ctx, log); err != nil {
		return nil, fmt.Errorf("update recovery log: %w", err)
	}

	newExecutionID, recoveryErr := m.applyStrategy(ctx, execution, strategy, log)

	m.completeLog(ctx, log, newExecutionID, recoveryErr)
	m.recordStrategyOutcome(ctx, strategy, recoveryErr == nil)

	completed := events.RecoveryCompleted{
		BaseEvent:      events.NewBaseEvent(events.RecoveryCompletedEvent, execution.WorkflowID),
		ExecutionID:    execution.ID,
		RecoveryLogID:  log.ID,
		WasSuccessful:  recoveryErr == nil,
		NewExecutionID: newExecutionID,
	}
	if _, err := m.bus.Publish(ctx, execution.WorkflowID, completed); err != nil {
		m.logger.Warn("Failed to publish recovery completed event", "recovery_log_id", log.ID, "error", err)
	}

	if recoveryErr != nil {
		m.logger.Error("Recovery failed",
			"execution_id", execution.ID, "strategy", strategy.StrategyType, "error", recoveryErr)
	} else {
		m.logger.Info("Recovery completed",
			"execution_id", execution.ID, "strategy", strategy.StrategyType, "new_execution_id", newExecutionID)
	}

	return log, nil
}

func (m *Manager) completeLog(ctx context.Context, log *models.RecoveryLog, newExecutionID string, recoveryErr error) {
	now := m.now().UTC()
	success := recoveryErr == nil

	log.CompletedAt = &now
	log.DurationSeconds = now.Sub(log.StartedAt).Seconds()
	log.WasSuccessful = &success
	log.NewExecutionID = newExecutionID

	if recoveryErr != nil {
		log.Status = models.RecoveryFailed
		log.RecoveryError = recoveryErr.Error()
	} else {
		log.Status = models.RecoveryCompleted
	}

	if err := m.store.RecoveryRepository().SaveLog(ctx, log); err != nil {
		m.logger.Error("Failed to finalize recovery log", "recovery_log_id", log.ID, "error", err)
	}
}

func (m *Manager) recordStrategyOutcome(ctx context.Context, strategy *models.RecoveryStrategy, success bool) {
	if strategy.ID == "" {
		return
	}

	stored, err := m.store.RecoveryRepository().StrategyByID(ctx, strategy.ID)
	if err != nil {
		m.logger.Warn("Failed to load strategy for bookkeeping", "strategy_id", strategy.ID, "error", err)

		return
	}

	now := m.now().UTC()
	stored.UsageCount++

	if success {
		stored.SuccessCount++
	}

	stored.LastUsedAt = &now

	if err := m.store.RecoveryRepository().SaveStrategy(ctx, stored); err != nil {
		m.logger.Warn("Failed to update strategy counters", "strategy_id", strategy.ID, "error", err)
	}
}

// failedNodeInfo resolves the type and name of the node the execution
// failed on, from its per-node logs.
func (m *Manager) failedNodeInfo(ctx context.Context, execution *models.Execution) (nodeType, nodeName string) {
	if execution.FailedNodeID == "" {
		return "", ""
	}

	logs, err := m.store.ExecutionRepository().Logs(ctx, execution.ID)
	if err != nil {
		return "", ""
	}

	for _, log := range logs {
		if log.NodeID == execution.FailedNodeID {
			return log.NodeType, log.NodeName
		}
	}

	return "", ""
}

// findStrategy picks the highest-ranked active strategy matching the
// failure. Strategies scoped to another workflow are skipped. With no
// match, a built-in retry strategy applies.
func (m *Manager) findStrategy(ctx context.Context, execution *models.Execution, failedNodeType string) (*models.RecoveryStrategy, error) {
	strategies, err := m.store.RecoveryRepository().ActiveStrategies(ctx)
	if err != nil {
		return nil, fmt.Errorf("load strategies: %w", err)
	}

	for _, strategy := range strategies {
		if strategy.WorkflowID != "" && strategy.WorkflowID != execution.WorkflowID {
			continue
		}

		if strategy.MatchesError(execution.ErrorMessage, failedNodeType) {
			return strategy, nil
		}
	}

	return &models.RecoveryStrategy{
		Name:         "default retry",
		StrategyType: models.StrategyRetry,
	}, nil
}

// applyStrategy executes the remediation and returns the ID of the
// new execution it produced, when the strategy produces one.
func (m *Manager) applyStrategy(ctx context.Context, execution *models.Execution, strategy *models.RecoveryStrategy, log *models.RecoveryLog) (string, error) {
	switch strategy.StrategyType {
	case models.StrategyRetry:
		return m.resumeFromCheckpoint(ctx, execution, log, 0, nil)
	case models.StrategyRollback:
		return m.resumeFromCheckpoint(ctx, execution, log, 1, nil)
	case models.StrategySkip:
		return m.resumeFromCheckpoint(ctx, execution, log, 0, []string{execution.FailedNodeID})
	case models.StrategyRestart:
		return m.restart(ctx, execution, log)
	case models.StrategyManual:
		return "", fmt.Errorf("manual intervention required")
	default:
		return "", fmt.Errorf("unknown strategy type %q", strategy.StrategyType)
	}
}

// resumeFromCheckpoint creates a child execution seeded from a
// recoverable checkpoint. skip steps back past the newest candidates;
// skipNodes marks nodes the new run must not re-execute.
func (m *Manager) resumeFromCheckpoint(ctx context.Context, execution *models.Execution, log *models.RecoveryLog, skip int, skipNodes []string) (string, error) {
	checkpoint, err := m.LatestRecoverableCheckpoint(ctx, execution.ID, skip)
	if err != nil {
		return "", fmt.Errorf("no recoverable checkpoint for execution %s: %w", execution.ID, err)
	}

	log.CheckpointID = checkpoint.ID

	contextData := make(map[string]any, len(checkpoint.ContextData)+2)
	for key, value := range checkpoint.ContextData {
		contextData[key] = value
	}

	contextData["_resumed_from_checkpoint"] = checkpoint.ID
	contextData["_resume_sequence"] = checkpoint.SequenceNumber

	if len(skipNodes) > 0 {
		contextData["_skip_nodes"] = skipNodes
	}

	newExecution := &models.Execution{
		ID:                uuid.New().String(),
		WorkflowID:        execution.WorkflowID,
		ParentExecutionID: execution.ID,
		Status:            models.ExecutionStatusPending,
		TriggerData:       execution.TriggerData,
		ContextData:       contextData,
		TriggeredByID:     execution.TriggeredByID,
		StartedAt:         m.now().UTC(),
	}

	if err := m.store.ExecutionRepository().Save(ctx, newExecution); err != nil {
		return "", fmt.Errorf("save resumed execution: %w", err)
	}

	log.ActionsTaken = append(log.ActionsTaken, map[string]any{
		"action":        "resume_from_checkpoint",
		"checkpoint_id": checkpoint.ID,
		"sequence":      checkpoint.SequenceNumber,
		"skip_nodes":    skipNodes,
	})

	return newExecution.ID, m.submit(ctx, newExecution)
}

// restart creates a child execution from the original trigger data,
// discarding all intermediate state.
func (m *Manager) restart(ctx context.Context, execution *models.Execution, log *models.RecoveryLog) (string, error) {
	newExecution := &models.Execution{
		ID:                uuid.New().String(),
		WorkflowID:        execution.WorkflowID,
		ParentExecutionID: execution.ID,
		Status:            models.ExecutionStatusPending,
		TriggerData:       execution.TriggerData,
		TriggeredByID:     execution.TriggeredByID,
		StartedAt:         m.now().UTC(),
	}

	if err := m.store.ExecutionRepository().Save(ctx, newExecution); err != nil {
		return "", fmt.Errorf("save restarted execution: %w", err)
	}

	log.ActionsTaken = append(log.ActionsTaken, map[string]any{"action": "restart_from_beginning"})

	return newExecution.ID, m.submit(ctx, newExecution)
}

// submit hands a recovery-created execution to the execution engine.
func (m *Manager) submit(ctx context.Context, execution *models.Execution) error {
	triggered := events.WorkflowTriggered{
		BaseEvent:     events.NewBaseEvent(events.WorkflowTriggeredEvent, execution.WorkflowID),
		TenantSchema:  tenantSchema(execution.ContextData),
		TriggeredByID: execution.TriggeredByID,
		ExecutionID:   execution.ID,
		TriggerData:   execution.TriggerData,
	}

	if _, err := m.bus.Publish(ctx, execution.WorkflowID, triggered); err != nil {
		return fmt.Errorf("submit execution %s: %w", execution.ID, err)
	}

	return nil
}

func tenantSchema(contextData map[string]any) string {
	schema, _ := contextData["tenant_schema"].(string)

	return schema
}
