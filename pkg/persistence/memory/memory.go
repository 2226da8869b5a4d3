// Package memory provides an in-memory persistence implementation for
// tests and local development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cadenzahq/cadenza/pkg/models"
	"github.com/cadenzahq/cadenza/pkg/persistence"
)

// Persistence keeps all state in process memory behind a single lock.
// Not intended for production use.
type Persistence struct {
	mu sync.RWMutex

	workflows map[string]*models.Workflow
	triggers  map[string]*models.TriggerInstance
	// triggerOrder preserves insertion order for deterministic listings.
	triggerOrder []string

	executions     map[string]*models.Execution
	executionOrder []string
	executionLogs  map[string][]*models.ExecutionLog

	checkpoints     map[string]*models.Checkpoint
	checkpointOrder []string

	strategies    map[string]*models.RecoveryStrategy
	strategyOrder []string

	recoveryLogs     map[string]*models.RecoveryLog
	recoveryLogOrder []string

	replaySessions map[string]*models.ReplaySession
	replayOrder    []string
}

func NewPersistence() *Persistence {
	return &Persistence{
		workflows:      make(map[string]*models.Workflow),
		triggers:       make(map[string]*models.TriggerInstance),
		executions:     make(map[string]*models.Execution),
		executionLogs:  make(map[string][]*models.ExecutionLog),
		checkpoints:    make(map[string]*models.Checkpoint),
		strategies:     make(map[string]*models.RecoveryStrategy),
		recoveryLogs:   make(map[string]*models.RecoveryLog),
		replaySessions: make(map[string]*models.ReplaySession),
	}
}

func (p *Persistence) WorkflowRepository() persistence.WorkflowRepository { return (*workflowRepo)(p) }

func (p *Persistence) TriggerRepository() persistence.TriggerRepository { return (*triggerRepo)(p) }

func (p *Persistence) ExecutionRepository() persistence.ExecutionRepository {
	return (*executionRepo)(p)
}

func (p *Persistence) CheckpointRepository() persistence.CheckpointRepository {
	return (*checkpointRepo)(p)
}

func (p *Persistence) RecoveryRepository() persistence.RecoveryRepository { return (*recoveryRepo)(p) }

func (p *Persistence) ReplayRepository() persistence.ReplayRepository { return (*replayRepo)(p) }

func (p *Persistence) HealthCheck(_ context.Context) error { return nil }
func (p *Persistence) Close(_ context.Context) error       { return nil }

// workflows

type workflowRepo Persistence

func (r *workflowRepo) Save(_ context.Context, workflow *models.Workflow) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cloned := *workflow
	r.workflows[workflow.ID] = &cloned

	return nil
}

func (r *workflowRepo) GetByID(_ context.Context, id string) (*models.Workflow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	workflow, ok := r.workflows[id]
	if !ok {
		return nil, persistence.ErrWorkflowNotFound
	}

	cloned := *workflow

	return &cloned, nil
}

func (r *workflowRepo) GetAll(_ context.Context) ([]*models.Workflow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	workflows := make([]*models.Workflow, 0, len(r.workflows))
	for _, w := range r.workflows {
		cloned := *w
		workflows = append(workflows, &cloned)
	}

	sort.Slice(workflows, func(i, j int) bool { return workflows[i].ID < workflows[j].ID })

	return workflows, nil
}

func (r *workflowRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.workflows[id]; !ok {
		return persistence.ErrWorkflowNotFound
	}

	delete(r.workflows, id)

	return nil
}

// trigger instances

type triggerRepo Persistence

func (r *triggerRepo) Save(_ context.Context, instance *models.TriggerInstance) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.triggers[instance.ID]; !exists {
		r.triggerOrder = append(r.triggerOrder, instance.ID)
	}

	cloned := *instance
	r.triggers[instance.ID] = &cloned

	return nil
}

func (r *triggerRepo) GetByID(_ context.Context, id string) (*models.TriggerInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	instance, ok := r.triggers[id]
	if !ok {
		return nil, persistence.ErrTriggerNotFound
	}

	cloned := *instance

	return &cloned, nil
}

func (r *triggerRepo) ActiveByType(_ context.Context, triggerType string) ([]*models.TriggerInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var instances []*models.TriggerInstance

	for _, id := range r.triggerOrder {
		instance := r.triggers[id]
		if instance != nil && instance.IsActive && instance.TriggerType == triggerType {
			cloned := *instance
			instances = append(instances, &cloned)
		}
	}

	return instances, nil
}

func (r *triggerRepo) GetByWorkflow(_ context.Context, workflowID string) ([]*models.TriggerInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var instances []*models.TriggerInstance

	for _, id := range r.triggerOrder {
		instance := r.triggers[id]
		if instance != nil && instance.WorkflowID == workflowID {
			cloned := *instance
			instances = append(instances, &cloned)
		}
	}

	return instances, nil
}

func (r *triggerRepo) RecordExecution(_ context.Context, triggerID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	instance, ok := r.triggers[triggerID]
	if !ok {
		return persistence.ErrTriggerNotFound
	}

	instance.ExecutionCount++
	instance.LastTriggeredAt = &at

	return nil
}

func (r *triggerRepo) RecordFailure(_ context.Context, triggerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	instance, ok := r.triggers[triggerID]
	if !ok {
		return persistence.ErrTriggerNotFound
	}

	instance.FailureCount++

	return nil
}

func (r *triggerRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.triggers[id]; !ok {
		return persistence.ErrTriggerNotFound
	}

	delete(r.triggers, id)

	return nil
}

// executions

type executionRepo Persistence

func (r *executionRepo) Save(_ context.Context, execution *models.Execution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.executions[execution.ID]; !exists {
		r.executionOrder = append(r.executionOrder, execution.ID)
	}

	cloned := *execution
	r.executions[execution.ID] = &cloned

	return nil
}

func (r *executionRepo) GetByID(_ context.Context, id string) (*models.Execution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	execution, ok := r.executions[id]
	if !ok {
		return nil, persistence.ErrExecutionNotFound
	}

	cloned := *execution

	return &cloned, nil
}

func (r *executionRepo) CountSince(_ context.Context, workflowID string, since time.Time) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0

	for _, execution := range r.executions {
		if execution.WorkflowID == workflowID && !execution.StartedAt.Before(since) {
			count++
		}
	}

	return count, nil
}

func (r *executionRepo) FailedSince(_ context.Context, workflowID string, since time.Time) ([]*models.Execution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var failed []*models.Execution

	for _, id := range r.executionOrder {
		execution := r.executions[id]
		if execution == nil || execution.Status != models.ExecutionStatusFailed {
			continue
		}

		if workflowID != "" && execution.WorkflowID != workflowID {
			continue
		}

		if execution.StartedAt.Before(since) {
			continue
		}

		cloned := *execution
		failed = append(failed, &cloned)
	}

	return failed, nil
}

func (r *executionRepo) SaveLog(_ context.Context, log *models.ExecutionLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cloned := *log
	logs := r.executionLogs[log.ExecutionID]

	for i, existing := range logs {
		if existing.ID == log.ID {
			logs[i] = &cloned

			return nil
		}
	}

	r.executionLogs[log.ExecutionID] = append(logs, &cloned)

	return nil
}

func (r *executionRepo) Logs(_ context.Context, executionID string) ([]*models.ExecutionLog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	logs := make([]*models.ExecutionLog, 0, len(r.executionLogs[executionID]))
	for _, log := range r.executionLogs[executionID] {
		cloned := *log
		logs = append(logs, &cloned)
	}

	return logs, nil
}

// checkpoints

type checkpointRepo Persistence

func (r *checkpointRepo) Save(_ context.Context, checkpoint *models.Checkpoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.checkpoints[checkpoint.ID]; !exists {
		for _, existing := range r.checkpoints {
			if existing.ExecutionID == checkpoint.ExecutionID && existing.SequenceNumber == checkpoint.SequenceNumber {
				return persistence.ErrSequenceConflict
			}
		}

		r.checkpointOrder = append(r.checkpointOrder, checkpoint.ID)
	}

	cloned := *checkpoint
	r.checkpoints[checkpoint.ID] = &cloned

	return nil
}

func (r *checkpointRepo) GetByID(_ context.Context, id string) (*models.Checkpoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	checkpoint, ok := r.checkpoints[id]
	if !ok {
		return nil, persistence.ErrCheckpointNotFound
	}

	cloned := *checkpoint

	return &cloned, nil
}

func (r *checkpointRepo) ByExecution(_ context.Context, executionID string) ([]*models.Checkpoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var checkpoints []*models.Checkpoint

	for _, id := range r.checkpointOrder {
		checkpoint := r.checkpoints[id]
		if checkpoint != nil && checkpoint.ExecutionID == executionID {
			cloned := *checkpoint
			checkpoints = append(checkpoints, &cloned)
		}
	}

	sort.Slice(checkpoints, func(i, j int) bool {
		return checkpoints[i].SequenceNumber > checkpoints[j].SequenceNumber
	})

	return checkpoints, nil
}

func (r *checkpointRepo) MaxSequence(_ context.Context, executionID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	maximum := 0

	for _, checkpoint := range r.checkpoints {
		if checkpoint.ExecutionID == executionID && checkpoint.SequenceNumber > maximum {
			maximum = checkpoint.SequenceNumber
		}
	}

	return maximum, nil
}

func (r *checkpointRepo) OlderThan(_ context.Context, cutoff time.Time) ([]*models.Checkpoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var checkpoints []*models.Checkpoint

	for _, id := range r.checkpointOrder {
		checkpoint := r.checkpoints[id]
		if checkpoint != nil && checkpoint.CreatedAt.Before(cutoff) {
			cloned := *checkpoint
			checkpoints = append(checkpoints, &cloned)
		}
	}

	return checkpoints, nil
}

func (r *checkpointRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.checkpoints[id]; !ok {
		return persistence.ErrCheckpointNotFound
	}

	delete(r.checkpoints, id)

	return nil
}

// recovery strategies and logs

type recoveryRepo Persistence

func (r *recoveryRepo) SaveStrategy(_ context.Context, strategy *models.RecoveryStrategy) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.strategies[strategy.ID]; !exists {
		r.strategyOrder = append(r.strategyOrder, strategy.ID)
	}

	cloned := *strategy
	r.strategies[strategy.ID] = &cloned

	return nil
}

func (r *recoveryRepo) StrategyByID(_ context.Context, id string) (*models.RecoveryStrategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	strategy, ok := r.strategies[id]
	if !ok {
		return nil, persistence.ErrStrategyNotFound
	}

	cloned := *strategy

	return &cloned, nil
}

func (r *recoveryRepo) ActiveStrategies(_ context.Context) ([]*models.RecoveryStrategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var strategies []*models.RecoveryStrategy

	for _, id := range r.strategyOrder {
		strategy := r.strategies[id]
		if strategy != nil && strategy.IsActive {
			cloned := *strategy
			strategies = append(strategies, &cloned)
		}
	}

	// Priority descending, then success rate descending; sort is
	// stable so insertion order breaks remaining ties.
	sort.SliceStable(strategies, func(i, j int) bool {
		if strategies[i].Priority != strategies[j].Priority {
			return strategies[i].Priority > strategies[j].Priority
		}

		return strategies[i].SuccessRate() > strategies[j].SuccessRate()
	})

	return strategies, nil
}

func (r *recoveryRepo) AllStrategies(_ context.Context) ([]*models.RecoveryStrategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	strategies := make([]*models.RecoveryStrategy, 0, len(r.strategyOrder))

	for _, id := range r.strategyOrder {
		if strategy := r.strategies[id]; strategy != nil {
			cloned := *strategy
			strategies = append(strategies, &cloned)
		}
	}

	return strategies, nil
}

func (r *recoveryRepo) DeleteStrategy(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.strategies[id]; !ok {
		return persistence.ErrStrategyNotFound
	}

	delete(r.strategies, id)

	return nil
}

func (r *recoveryRepo) SaveLog(_ context.Context, log *models.RecoveryLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.recoveryLogs[log.ID]; !exists {
		r.recoveryLogOrder = append(r.recoveryLogOrder, log.ID)
	}

	cloned := *log
	r.recoveryLogs[log.ID] = &cloned

	return nil
}

func (r *recoveryRepo) LogByID(_ context.Context, id string) (*models.RecoveryLog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	log, ok := r.recoveryLogs[id]
	if !ok {
		return nil, persistence.ErrRecoveryLogNotFound
	}

	cloned := *log

	return &cloned, nil
}

func (r *recoveryRepo) LogsByExecution(_ context.Context, executionID string) ([]*models.RecoveryLog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var logs []*models.RecoveryLog

	for _, id := range r.recoveryLogOrder {
		log := r.recoveryLogs[id]
		if log != nil && log.ExecutionID == executionID {
			cloned := *log
			logs = append(logs, &cloned)
		}
	}

	return logs, nil
}

func (r *recoveryRepo) LogsSince(_ context.Context, workflowID string, since time.Time) ([]*models.RecoveryLog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var logs []*models.RecoveryLog

	for _, id := range r.recoveryLogOrder {
		log := r.recoveryLogs[id]
		if log == nil || log.StartedAt.Before(since) {
			continue
		}

		if workflowID != "" && log.WorkflowID != workflowID {
			continue
		}

		cloned := *log
		logs = append(logs, &cloned)
	}

	return logs, nil
}

func (r *recoveryRepo) MaxAttemptNumber(_ context.Context, executionID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	maximum := 0

	for _, log := range r.recoveryLogs {
		if log.ExecutionID == executionID && log.AttemptNumber > maximum {
			maximum = log.AttemptNumber
		}
	}

	return maximum, nil
}

// replay sessions

type replayRepo Persistence

func (r *replayRepo) Save(_ context.Context, session *models.ReplaySession) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.replaySessions[session.ID]; !exists {
		r.replayOrder = append(r.replayOrder, session.ID)
	}

	cloned := *session
	r.replaySessions[session.ID] = &cloned

	return nil
}

func (r *replayRepo) GetByID(_ context.Context, id string) (*models.ReplaySession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, ok := r.replaySessions[id]
	if !ok {
		return nil, persistence.ErrReplaySessionNotFound
	}

	cloned := *session

	return &cloned, nil
}

func (r *replayRepo) GetAll(_ context.Context) ([]*models.ReplaySession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := make([]*models.ReplaySession, 0, len(r.replayOrder))

	for _, id := range r.replayOrder {
		if session := r.replaySessions[id]; session != nil {
			cloned := *session
			sessions = append(sessions, &cloned)
		}
	}

	return sessions, nil
}
