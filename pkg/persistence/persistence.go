// Package persistence provides the data storage abstraction for
// workflows, trigger instances, executions, checkpoints, and recovery
// state.
package persistence

import (
	"context"
	"time"

	"github.com/cadenzahq/cadenza/pkg/models"
)

// Persistence is the single source of truth for all durable state.
type Persistence interface {
	WorkflowRepository() WorkflowRepository
	TriggerRepository() TriggerRepository
	ExecutionRepository() ExecutionRepository
	CheckpointRepository() CheckpointRepository
	RecoveryRepository() RecoveryRepository
	ReplayRepository() ReplayRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// WorkflowRepository stores workflow aggregates.
type WorkflowRepository interface {
	Save(ctx context.Context, workflow *models.Workflow) error
	GetByID(ctx context.Context, id string) (*models.Workflow, error)
	GetAll(ctx context.Context) ([]*models.Workflow, error)
	Delete(ctx context.Context, id string) error
}

// TriggerRepository stores configured trigger instances.
type TriggerRepository interface {
	Save(ctx context.Context, instance *models.TriggerInstance) error
	GetByID(ctx context.Context, id string) (*models.TriggerInstance, error)
	// ActiveByType returns active instances of the given trigger type.
	ActiveByType(ctx context.Context, triggerType string) ([]*models.TriggerInstance, error)
	GetByWorkflow(ctx context.Context, workflowID string) ([]*models.TriggerInstance, error)
	// RecordExecution increments the execution counter and stamps
	// last_triggered_at.
	RecordExecution(ctx context.Context, triggerID string, at time.Time) error
	// RecordFailure increments the failure counter.
	RecordFailure(ctx context.Context, triggerID string) error
	Delete(ctx context.Context, id string) error
}

// ExecutionRepository stores workflow execution records and their
// per-node logs.
type ExecutionRepository interface {
	Save(ctx context.Context, execution *models.Execution) error
	GetByID(ctx context.Context, id string) (*models.Execution, error)
	// CountSince counts executions of a workflow started at or after
	// the given instant; rate-limit gates rely on it.
	CountSince(ctx context.Context, workflowID string, since time.Time) (int, error)
	// FailedSince returns failed executions started in the trailing
	// window; an empty workflowID spans all workflows.
	FailedSince(ctx context.Context, workflowID string, since time.Time) ([]*models.Execution, error)

	SaveLog(ctx context.Context, log *models.ExecutionLog) error
	Logs(ctx context.Context, executionID string) ([]*models.ExecutionLog, error)
}

// CheckpointRepository stores execution state snapshots. Indexes must
// answer "latest recoverable checkpoint for execution X" efficiently.
type CheckpointRepository interface {
	Save(ctx context.Context, checkpoint *models.Checkpoint) error
	GetByID(ctx context.Context, id string) (*models.Checkpoint, error)
	// ByExecution returns the execution's checkpoints ordered by
	// sequence number descending.
	ByExecution(ctx context.Context, executionID string) ([]*models.Checkpoint, error)
	// MaxSequence returns the highest sequence number recorded for the
	// execution, or 0 when none exist. Callers increment under the
	// store's transactional guarantees.
	MaxSequence(ctx context.Context, executionID string) (int, error)
	// OlderThan returns checkpoints created before the cutoff.
	OlderThan(ctx context.Context, cutoff time.Time) ([]*models.Checkpoint, error)
	Delete(ctx context.Context, id string) error
}

// RecoveryRepository stores strategies and recovery audit logs.
type RecoveryRepository interface {
	SaveStrategy(ctx context.Context, strategy *models.RecoveryStrategy) error
	StrategyByID(ctx context.Context, id string) (*models.RecoveryStrategy, error)
	// ActiveStrategies returns active strategies ordered by priority
	// descending, then success rate descending, then insertion order.
	ActiveStrategies(ctx context.Context) ([]*models.RecoveryStrategy, error)
	AllStrategies(ctx context.Context) ([]*models.RecoveryStrategy, error)
	DeleteStrategy(ctx context.Context, id string) error

	SaveLog(ctx context.Context, log *models.RecoveryLog) error
	LogByID(ctx context.Context, id string) (*models.RecoveryLog, error)
	LogsByExecution(ctx context.Context, executionID string) ([]*models.RecoveryLog, error)
	LogsSince(ctx context.Context, workflowID string, since time.Time) ([]*models.RecoveryLog, error)
	// MaxAttemptNumber returns the highest attempt number recorded for
	// the execution, or 0 when none exist.
	MaxAttemptNumber(ctx context.Context, executionID string) (int, error)
}

// ReplayRepository stores replay sessions.
type ReplayRepository interface {
	Save(ctx context.Context, session *models.ReplaySession) error
	GetByID(ctx context.Context, id string) (*models.ReplaySession, error)
	GetAll(ctx context.Context) ([]*models.ReplaySession, error)
}
