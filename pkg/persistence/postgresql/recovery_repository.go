package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cadenzahq/cadenza/pkg/models"
	"github.com/cadenzahq/cadenza/pkg/persistence"
)

// RecoveryRepository handles recovery strategy and recovery log
// database operations.
type RecoveryRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

const strategyColumns = `
		id
	  , name
	  , strategy_type
	  , workflow_id
	  , node_type
	  , error_patterns
	  , max_retry_attempts
	  , retry_delay_seconds
	  , backoff_multiplier
	  , recovery_actions
	  , is_active
	  , priority
	  , usage_count
	  , success_count
	  , last_used_at
	  , created_at
	  , updated_at
`

func (r *RecoveryRepository) SaveStrategy(ctx context.Context, strategy *models.RecoveryStrategy) error {
	errorPatterns, err := toJSONB(strategy.ErrorPatterns)
	if err != nil {
		return err
	}

	recoveryActions, err := toJSONB(strategy.RecoveryActions)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO recovery_strategies (
			id, name, strategy_type, workflow_id, node_type, error_patterns,
			max_retry_attempts, retry_delay_seconds, backoff_multiplier, recovery_actions,
			is_active, priority, usage_count, success_count, last_used_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name
		  , strategy_type = EXCLUDED.strategy_type
		  , workflow_id = EXCLUDED.workflow_id
		  , node_type = EXCLUDED.node_type
		  , error_patterns = EXCLUDED.error_patterns
		  , max_retry_attempts = EXCLUDED.max_retry_attempts
		  , retry_delay_seconds = EXCLUDED.retry_delay_seconds
		  , backoff_multiplier = EXCLUDED.backoff_multiplier
		  , recovery_actions = EXCLUDED.recovery_actions
		  , is_active = EXCLUDED.is_active
		  , priority = EXCLUDED.priority
		  , usage_count = EXCLUDED.usage_count
		  , success_count = EXCLUDED.success_count
		  , last_used_at = EXCLUDED.last_used_at
		  , updated_at = NOW()
	`

	_, err = r.db.ExecContext(ctx, query,
		strategy.ID, strategy.Name, strategy.StrategyType,
		stringOrNil(strategy.WorkflowID), stringOrNil(strategy.NodeType), errorPatterns,
		strategy.MaxRetryAttempts, strategy.RetryDelaySeconds, strategy.BackoffMultiplier,
		recoveryActions, strategy.IsActive, strategy.Priority,
		strategy.UsageCount, strategy.SuccessCount, timeOrNil(strategy.LastUsedAt),
		strategy.CreatedAt, strategy.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save recovery strategy: %w", err)
	}

	return nil
}

func (r *RecoveryRepository) StrategyByID(ctx context.Context, id string) (*models.RecoveryStrategy, error) {
	query := `SELECT ` + strategyColumns + ` FROM recovery_strategies WHERE id = $1`

	strategy, err := scanStrategy(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrStrategyNotFound
		}

		return nil, fmt.Errorf("failed to scan recovery strategy: %w", err)
	}

	return strategy, nil
}

// ActiveStrategies returns active strategies ranked by priority, then
// observed success rate, then creation order.
func (r *RecoveryRepository) ActiveStrategies(ctx context.Context) ([]*models.RecoveryStrategy, error) {
	query := `
		SELECT ` + strategyColumns + `
		FROM recovery_strategies
		WHERE is_active
		ORDER BY priority DESC
		  , CASE WHEN usage_count = 0 THEN 0
		         ELSE success_count::float / usage_count END DESC
		  , created_at
	`

	return r.queryStrategies(ctx, query)
}

func (r *RecoveryRepository) AllStrategies(ctx context.Context) ([]*models.RecoveryStrategy, error) {
	query := `SELECT ` + strategyColumns + ` FROM recovery_strategies ORDER BY created_at`

	return r.queryStrategies(ctx, query)
}

func (r *RecoveryRepository) DeleteStrategy(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM recovery_strategies WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete recovery strategy: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check deleted rows: %w", err)
	}

	if affected == 0 {
		return persistence.ErrStrategyNotFound
	}

	return nil
}

const recoveryLogColumns = `
		id
	  , workflow_id
	  , execution_id
	  , checkpoint_id
	  , strategy_id
	  , recovery_type
	  , trigger_reason
	  , original_error
	  , failed_node_id
	  , failed_node_name
	  , status
	  , attempt_number
	  , recovery_error
	  , recovery_actions_taken
	  , started_at
	  , completed_at
	  , duration_seconds
	  , was_successful
	  , new_execution_id
`

func (r *RecoveryRepository) SaveLog(ctx context.Context, log *models.RecoveryLog) error {
	actionsTaken, err := toJSONB(log.ActionsTaken)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO recovery_logs (
			id, workflow_id, execution_id, checkpoint_id, strategy_id,
			recovery_type, trigger_reason, original_error, failed_node_id, failed_node_name,
			status, attempt_number, recovery_error, recovery_actions_taken,
			started_at, completed_at, duration_seconds, was_successful, new_execution_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		ON CONFLICT (id) DO UPDATE SET
			checkpoint_id = EXCLUDED.checkpoint_id
		  , status = EXCLUDED.status
		  , recovery_error = EXCLUDED.recovery_error
		  , recovery_actions_taken = EXCLUDED.recovery_actions_taken
		  , completed_at = EXCLUDED.completed_at
		  , duration_seconds = EXCLUDED.duration_seconds
		  , was_successful = EXCLUDED.was_successful
		  , new_execution_id = EXCLUDED.new_execution_id
	`

	var wasSuccessful any
	if log.WasSuccessful != nil {
		wasSuccessful = *log.WasSuccessful
	}

	_, err = r.db.ExecContext(ctx, query,
		log.ID, stringOrNil(log.WorkflowID), log.ExecutionID,
		stringOrNil(log.CheckpointID), stringOrNil(log.StrategyID),
		log.RecoveryType, log.TriggerReason, stringOrNil(log.OriginalError),
		stringOrNil(log.FailedNodeID), stringOrNil(log.FailedNodeName),
		log.Status, log.AttemptNumber, stringOrNil(log.RecoveryError), actionsTaken,
		log.StartedAt, timeOrNil(log.CompletedAt), log.DurationSeconds,
		wasSuccessful, stringOrNil(log.NewExecutionID))
	if err != nil {
		return fmt.Errorf("failed to save recovery log: %w", err)
	}

	return nil
}

func (r *RecoveryRepository) LogByID(ctx context.Context, id string) (*models.RecoveryLog, error) {
	query := `SELECT ` + recoveryLogColumns + ` FROM recovery_logs WHERE id = $1`

	log, err := scanRecoveryLog(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrRecoveryLogNotFound
		}

		return nil, fmt.Errorf("failed to scan recovery log: %w", err)
	}

	return log, nil
}

func (r *RecoveryRepository) LogsByExecution(ctx context.Context, executionID string) ([]*models.RecoveryLog, error) {
	query := `
		SELECT ` + recoveryLogColumns + `
		FROM recovery_logs
		WHERE execution_id = $1
		ORDER BY started_at
	`

	return r.queryLogs(ctx, query, executionID)
}

// LogsSince returns recovery logs started at or after the given
// moment. An empty workflowID spans all workflows.
func (r *RecoveryRepository) LogsSince(ctx context.Context, workflowID string, since time.Time) ([]*models.RecoveryLog, error) {
	query := `
		SELECT ` + recoveryLogColumns + `
		FROM recovery_logs
		WHERE started_at >= $1
		  AND ($2 = '' OR workflow_id::text = $2)
		ORDER BY started_at
	`

	return r.queryLogs(ctx, query, since, workflowID)
}

// MaxAttemptNumber returns the highest recovery attempt recorded for
// the execution, 0 when none exist.
func (r *RecoveryRepository) MaxAttemptNumber(ctx context.Context, executionID string) (int, error) {
	var maximum int

	query := `SELECT COALESCE(MAX(attempt_number), 0) FROM recovery_logs WHERE execution_id = $1`

	err := r.db.QueryRowContext(ctx, query, executionID).Scan(&maximum)
	if err != nil {
		return 0, fmt.Errorf("failed to query max attempt number: %w", err)
	}

	return maximum, nil
}

func (r *RecoveryRepository) queryStrategies(ctx context.Context, query string, args ...any) ([]*models.RecoveryStrategy, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query recovery strategies: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	strategies := make([]*models.RecoveryStrategy, 0)

	for rows.Next() {
		strategy, err := scanStrategy(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan recovery strategy: %w", err)
		}

		strategies = append(strategies, strategy)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating recovery strategies: %w", err)
	}

	return strategies, nil
}

func (r *RecoveryRepository) queryLogs(ctx context.Context, query string, args ...any) ([]*models.RecoveryLog, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query recovery logs: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	logs := make([]*models.RecoveryLog, 0)

	for rows.Next() {
		log, err := scanRecoveryLog(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan recovery log: %w", err)
		}

		logs = append(logs, log)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating recovery logs: %w", err)
	}

	return logs, nil
}

func scanStrategy(row rowScanner) (*models.RecoveryStrategy, error) {
	var (
		strategy        models.RecoveryStrategy
		workflowID      sql.NullString
		nodeType        sql.NullString
		errorPatterns   []byte
		recoveryActions []byte
		lastUsedAt      sql.NullTime
	)

	err := row.Scan(
		&strategy.ID, &strategy.Name, &strategy.StrategyType, &workflowID, &nodeType,
		&errorPatterns, &strategy.MaxRetryAttempts, &strategy.RetryDelaySeconds,
		&strategy.BackoffMultiplier, &recoveryActions, &strategy.IsActive, &strategy.Priority,
		&strategy.UsageCount, &strategy.SuccessCount, &lastUsedAt,
		&strategy.CreatedAt, &strategy.UpdatedAt)
	if err != nil {
		return nil, err
	}

	strategy.WorkflowID = nullableString(workflowID)
	strategy.NodeType = nullableString(nodeType)
	strategy.LastUsedAt = nullableTime(lastUsedAt)

	if err := fromJSONB(errorPatterns, &strategy.ErrorPatterns); err != nil {
		return nil, err
	}

	if err := fromJSONB(recoveryActions, &strategy.RecoveryActions); err != nil {
		return nil, err
	}

	return &strategy, nil
}

func scanRecoveryLog(row rowScanner) (*models.RecoveryLog, error) {
	var (
		log            models.RecoveryLog
		workflowID     sql.NullString
		checkpointID   sql.NullString
		strategyID     sql.NullString
		originalError  sql.NullString
		failedNodeID   sql.NullString
		failedNodeName sql.NullString
		recoveryError  sql.NullString
		actionsTaken   []byte
		completedAt    sql.NullTime
		wasSuccessful  sql.NullBool
		newExecutionID sql.NullString
	)

	err := row.Scan(
		&log.ID, &workflowID, &log.ExecutionID, &checkpointID, &strategyID,
		&log.RecoveryType, &log.TriggerReason, &originalError, &failedNodeID, &failedNodeName,
		&log.Status, &log.AttemptNumber, &recoveryError, &actionsTaken,
		&log.StartedAt, &completedAt, &log.DurationSeconds, &wasSuccessful, &newExecutionID)
	if err != nil {
		return nil, err
	}

	log.WorkflowID = nullableString(workflowID)
	log.CheckpointID = nullableString(checkpointID)
	log.StrategyID = nullableString(strategyID)
	log.OriginalError = nullableString(originalError)
	log.FailedNodeID = nullableString(failedNodeID)
	log.FailedNodeName = nullableString(failedNodeName)
	log.RecoveryError = nullableString(recoveryError)
	log.CompletedAt = nullableTime(completedAt)
	log.NewExecutionID = nullableString(newExecutionID)

	if wasSuccessful.Valid {
		value := wasSuccessful.Bool
		log.WasSuccessful = &value
	}

	if err := fromJSONB(actionsTaken, &log.ActionsTaken); err != nil {
		return nil, err
	}

	return &log, nil
}
