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

// ExecutionRepository handles execution and execution log database
// operations.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

const executionColumns = `
		id
	  , workflow_id
	  , parent_execution_id
	  , status
	  , trigger_data
	  , context_data
	  , error_message
	  , failed_node_id
	  , triggered_by_id
	  , started_at
	  , completed_at
`

func (r *ExecutionRepository) Save(ctx context.Context, execution *models.Execution) error {
	triggerData, err := toJSONB(execution.TriggerData)
	if err != nil {
		return err
	}

	contextData, err := toJSONB(execution.ContextData)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO executions (
			id, workflow_id, parent_execution_id, status, trigger_data, context_data,
			error_message, failed_node_id, triggered_by_id, started_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status
		  , context_data = EXCLUDED.context_data
		  , error_message = EXCLUDED.error_message
		  , failed_node_id = EXCLUDED.failed_node_id
		  , completed_at = EXCLUDED.completed_at
	`

	_, err = r.db.ExecContext(ctx, query,
		execution.ID, execution.WorkflowID, stringOrNil(execution.ParentExecutionID),
		execution.Status, triggerData, contextData,
		stringOrNil(execution.ErrorMessage), stringOrNil(execution.FailedNodeID),
		stringOrNil(execution.TriggeredByID), execution.StartedAt, timeOrNil(execution.CompletedAt))
	if err != nil {
		return fmt.Errorf("failed to save execution: %w", err)
	}

	return nil
}

func (r *ExecutionRepository) GetByID(ctx context.Context, id string) (*models.Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM executions WHERE id = $1`

	execution, err := scanExecution(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrExecutionNotFound
		}

		return nil, fmt.Errorf("failed to scan execution: %w", err)
	}

	return execution, nil
}

// CountSince counts executions of a workflow started at or after the
// given moment, for rate-limit windows.
func (r *ExecutionRepository) CountSince(ctx context.Context, workflowID string, since time.Time) (int, error) {
	var amount int

	query := `SELECT COUNT(*) FROM executions WHERE workflow_id = $1 AND started_at >= $2`

	err := r.db.QueryRowContext(ctx, query, workflowID, since).Scan(&amount)
	if err != nil {
		return 0, fmt.Errorf("failed to count executions: %w", err)
	}

	return amount, nil
}

// FailedSince returns failed executions started at or after the given
// moment. An empty workflowID spans all workflows.
func (r *ExecutionRepository) FailedSince(ctx context.Context, workflowID string, since time.Time) ([]*models.Execution, error) {
	query := `
		SELECT ` + executionColumns + `
		FROM executions
		WHERE status = 'failed' AND started_at >= $1
		  AND ($2 = '' OR workflow_id::text = $2)
		ORDER BY started_at
	`

	rows, err := r.db.QueryContext(ctx, query, since, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to query failed executions: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	executions := make([]*models.Execution, 0)

	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		executions = append(executions, execution)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	return executions, nil
}

func (r *ExecutionRepository) SaveLog(ctx context.Context, log *models.ExecutionLog) error {
	output, err := toJSONB(log.Output)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO execution_logs (
			id, execution_id, node_id, node_name, node_type, status,
			output, error_message, started_at, completed_at, duration_ms
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status
		  , output = EXCLUDED.output
		  , error_message = EXCLUDED.error_message
		  , completed_at = EXCLUDED.completed_at
		  , duration_ms = EXCLUDED.duration_ms
	`

	_, err = r.db.ExecContext(ctx, query,
		log.ID, log.ExecutionID, log.NodeID, log.NodeName, log.NodeType, log.Status,
		output, stringOrNil(log.ErrorMessage), log.StartedAt, timeOrNil(log.CompletedAt), log.DurationMs)
	if err != nil {
		return fmt.Errorf("failed to save execution log: %w", err)
	}

	return nil
}

// Logs returns the per-node rows of an execution ordered by start time.
func (r *ExecutionRepository) Logs(ctx context.Context, executionID string) ([]*models.ExecutionLog, error) {
	query := `
		SELECT
			id
		  , execution_id
		  , node_id
		  , node_name
		  , node_type
		  , status
		  , output
		  , error_message
		  , started_at
		  , completed_at
		  , duration_ms
		FROM execution_logs
		WHERE execution_id = $1
		ORDER BY started_at
	`

	rows, err := r.db.QueryContext(ctx, query, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query execution logs: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	logs := make([]*models.ExecutionLog, 0)

	for rows.Next() {
		var (
			log          models.ExecutionLog
			output       []byte
			errorMessage sql.NullString
			completedAt  sql.NullTime
		)

		err := rows.Scan(
			&log.ID, &log.ExecutionID, &log.NodeID, &log.NodeName, &log.NodeType, &log.Status,
			&output, &errorMessage, &log.StartedAt, &completedAt, &log.DurationMs)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution log: %w", err)
		}

		log.ErrorMessage = nullableString(errorMessage)
		log.CompletedAt = nullableTime(completedAt)

		if err := fromJSONB(output, &log.Output); err != nil {
			return nil, err
		}

		logs = append(logs, &log)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating execution logs: %w", err)
	}

	return logs, nil
}

func scanExecution(row rowScanner) (*models.Execution, error) {
	var (
		execution    models.Execution
		parentID     sql.NullString
		triggerData  []byte
		contextData  []byte
		errorMessage sql.NullString
		failedNodeID sql.NullString
		triggeredBy  sql.NullString
		completedAt  sql.NullTime
	)

	err := row.Scan(
		&execution.ID, &execution.WorkflowID, &parentID, &execution.Status,
		&triggerData, &contextData, &errorMessage, &failedNodeID, &triggeredBy,
		&execution.StartedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	execution.ParentExecutionID = nullableString(parentID)
	execution.ErrorMessage = nullableString(errorMessage)
	execution.FailedNodeID = nullableString(failedNodeID)
	execution.TriggeredByID = nullableString(triggeredBy)
	execution.CompletedAt = nullableTime(completedAt)

	if err := fromJSONB(triggerData, &execution.TriggerData); err != nil {
		return nil, err
	}

	if err := fromJSONB(contextData, &execution.ContextData); err != nil {
		return nil, err
	}

	return &execution, nil
}
