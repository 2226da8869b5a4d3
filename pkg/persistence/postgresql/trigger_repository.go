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

// TriggerRepository handles trigger instance database operations.
type TriggerRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

const triggerColumns = `
		id
	  , workflow_id
	  , trigger_type
	  , name
	  , is_active
	  , config
	  , max_executions_per_minute
	  , max_executions_per_hour
	  , max_executions_per_day
	  , execution_count
	  , failure_count
	  , last_triggered_at
	  , created_at
	  , updated_at
`

func (r *TriggerRepository) Save(ctx context.Context, instance *models.TriggerInstance) error {
	config, err := toJSONB(instance.Config)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO trigger_instances (
			id, workflow_id, trigger_type, name, is_active, config,
			max_executions_per_minute, max_executions_per_hour, max_executions_per_day,
			execution_count, failure_count, last_triggered_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name
		  , is_active = EXCLUDED.is_active
		  , config = EXCLUDED.config
		  , max_executions_per_minute = EXCLUDED.max_executions_per_minute
		  , max_executions_per_hour = EXCLUDED.max_executions_per_hour
		  , max_executions_per_day = EXCLUDED.max_executions_per_day
		  , updated_at = NOW()
	`

	_, err = r.db.ExecContext(ctx, query,
		instance.ID, instance.WorkflowID, instance.TriggerType, instance.Name,
		instance.IsActive, config,
		instance.MaxExecutionsPerMinute, instance.MaxExecutionsPerHour, instance.MaxExecutionsPerDay,
		instance.ExecutionCount, instance.FailureCount, timeOrNil(instance.LastTriggeredAt),
		instance.CreatedAt, instance.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save trigger instance: %w", err)
	}

	return nil
}

func (r *TriggerRepository) GetByID(ctx context.Context, id string) (*models.TriggerInstance, error) {
	query := `SELECT ` + triggerColumns + ` FROM trigger_instances WHERE id = $1`

	instance, err := scanTrigger(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrTriggerNotFound
		}

		return nil, fmt.Errorf("failed to scan trigger instance: %w", err)
	}

	return instance, nil
}

// ActiveByType returns active instances of one trigger type, oldest
// first so dispatch order is stable.
func (r *TriggerRepository) ActiveByType(ctx context.Context, triggerType string) ([]*models.TriggerInstance, error) {
	query := `
		SELECT ` + triggerColumns + `
		FROM trigger_instances
		WHERE trigger_type = $1 AND is_active
		ORDER BY created_at
	`

	return r.queryTriggers(ctx, query, triggerType)
}

func (r *TriggerRepository) GetByWorkflow(ctx context.Context, workflowID string) ([]*models.TriggerInstance, error) {
	query := `
		SELECT ` + triggerColumns + `
		FROM trigger_instances
		WHERE workflow_id = $1
		ORDER BY created_at
	`

	return r.queryTriggers(ctx, query, workflowID)
}

// RecordExecution bumps the execution counter and last-triggered
// timestamp in one statement.
func (r *TriggerRepository) RecordExecution(ctx context.Context, triggerID string, at time.Time) error {
	query := `
		UPDATE trigger_instances
		SET execution_count = execution_count + 1
		  , last_triggered_at = $2
		  , updated_at = NOW()
		WHERE id = $1
	`

	return r.recordCounter(ctx, query, triggerID, at)
}

// RecordFailure bumps the failure counter.
func (r *TriggerRepository) RecordFailure(ctx context.Context, triggerID string) error {
	query := `
		UPDATE trigger_instances
		SET failure_count = failure_count + 1
		  , updated_at = NOW()
		WHERE id = $1
	`

	return r.recordCounter(ctx, query, triggerID)
}

func (r *TriggerRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM trigger_instances WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete trigger instance: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check deleted rows: %w", err)
	}

	if affected == 0 {
		return persistence.ErrTriggerNotFound
	}

	return nil
}

func (r *TriggerRepository) recordCounter(ctx context.Context, query, triggerID string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, append([]any{triggerID}, args...)...)
	if err != nil {
		return fmt.Errorf("failed to update trigger counters: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check updated rows: %w", err)
	}

	if affected == 0 {
		return persistence.ErrTriggerNotFound
	}

	return nil
}

func (r *TriggerRepository) queryTriggers(ctx context.Context, query string, args ...any) ([]*models.TriggerInstance, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trigger instances: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	instances := make([]*models.TriggerInstance, 0)

	for rows.Next() {
		instance, err := scanTrigger(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trigger instance: %w", err)
		}

		instances = append(instances, instance)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating trigger instances: %w", err)
	}

	return instances, nil
}

func scanTrigger(row rowScanner) (*models.TriggerInstance, error) {
	var (
		instance      models.TriggerInstance
		config        []byte
		lastTriggered sql.NullTime
	)

	err := row.Scan(
		&instance.ID, &instance.WorkflowID, &instance.TriggerType, &instance.Name,
		&instance.IsActive, &config,
		&instance.MaxExecutionsPerMinute, &instance.MaxExecutionsPerHour, &instance.MaxExecutionsPerDay,
		&instance.ExecutionCount, &instance.FailureCount, &lastTriggered,
		&instance.CreatedAt, &instance.UpdatedAt)
	if err != nil {
		return nil, err
	}

	instance.LastTriggeredAt = nullableTime(lastTriggered)

	if err := fromJSONB(config, &instance.Config); err != nil {
		return nil, err
	}

	return &instance, nil
}
