package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/cadenzahq/cadenza/pkg/models"
	"github.com/cadenzahq/cadenza/pkg/persistence"
)

// CheckpointRepository handles checkpoint database operations.
type CheckpointRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

const checkpointColumns = `
		id
	  , workflow_id
	  , execution_id
	  , checkpoint_type
	  , node_id
	  , sequence_number
	  , execution_state
	  , context_data
	  , node_outputs
	  , description
	  , is_recoverable
	  , is_milestone
	  , checkpoint_size_bytes
	  , created_at
	  , expires_at
`

func (r *CheckpointRepository) Save(ctx context.Context, checkpoint *models.Checkpoint) error {
	executionState, err := toJSONB(checkpoint.ExecutionState)
	if err != nil {
		return err
	}

	contextData, err := toJSONB(checkpoint.ContextData)
	if err != nil {
		return err
	}

	nodeOutputs, err := toJSONB(checkpoint.NodeOutputs)
	if err != nil {
		return err
	}

	// Checkpoints are immutable. A sequence collision surfaces as
	// ErrSequenceConflict so the caller can re-read the maximum and
	// retry with the next number.
	query := `
		INSERT INTO checkpoints (
			id, workflow_id, execution_id, checkpoint_type, node_id, sequence_number,
			execution_state, context_data, node_outputs, description,
			is_recoverable, is_milestone, checkpoint_size_bytes, created_at, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	_, err = r.db.ExecContext(ctx, query,
		checkpoint.ID, stringOrNil(checkpoint.WorkflowID), checkpoint.ExecutionID,
		checkpoint.CheckpointType, stringOrNil(checkpoint.NodeID), checkpoint.SequenceNumber,
		executionState, contextData, nodeOutputs, stringOrNil(checkpoint.Description),
		checkpoint.IsRecoverable, checkpoint.IsMilestone, checkpoint.SizeBytes,
		checkpoint.CreatedAt, checkpoint.ExpiresAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return persistence.ErrSequenceConflict
		}

		return fmt.Errorf("failed to save checkpoint: %w", err)
	}

	return nil
}

func (r *CheckpointRepository) GetByID(ctx context.Context, id string) (*models.Checkpoint, error) {
	query := `SELECT ` + checkpointColumns + ` FROM checkpoints WHERE id = $1`

	checkpoint, err := scanCheckpoint(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrCheckpointNotFound
		}

		return nil, fmt.Errorf("failed to scan checkpoint: %w", err)
	}

	return checkpoint, nil
}

// ByExecution returns an execution's checkpoints newest-first by
// sequence number.
func (r *CheckpointRepository) ByExecution(ctx context.Context, executionID string) ([]*models.Checkpoint, error) {
	query := `
		SELECT ` + checkpointColumns + `
		FROM checkpoints
		WHERE execution_id = $1
		ORDER BY sequence_number DESC
	`

	return r.queryCheckpoints(ctx, query, executionID)
}

// MaxSequence returns the highest sequence number recorded for the
// execution, 0 when it has no checkpoints.
func (r *CheckpointRepository) MaxSequence(ctx context.Context, executionID string) (int, error) {
	var maximum int

	query := `SELECT COALESCE(MAX(sequence_number), 0) FROM checkpoints WHERE execution_id = $1`

	err := r.db.QueryRowContext(ctx, query, executionID).Scan(&maximum)
	if err != nil {
		return 0, fmt.Errorf("failed to query max sequence number: %w", err)
	}

	return maximum, nil
}

// OlderThan returns checkpoints created before the cutoff.
func (r *CheckpointRepository) OlderThan(ctx context.Context, cutoff time.Time) ([]*models.Checkpoint, error) {
	query := `
		SELECT ` + checkpointColumns + `
		FROM checkpoints
		WHERE created_at < $1
		ORDER BY created_at
	`

	return r.queryCheckpoints(ctx, query, cutoff)
}

func (r *CheckpointRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check deleted rows: %w", err)
	}

	if affected == 0 {
		return persistence.ErrCheckpointNotFound
	}

	return nil
}

func (r *CheckpointRepository) queryCheckpoints(ctx context.Context, query string, args ...any) ([]*models.Checkpoint, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query checkpoints: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	checkpoints := make([]*models.Checkpoint, 0)

	for rows.Next() {
		checkpoint, err := scanCheckpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint: %w", err)
		}

		checkpoints = append(checkpoints, checkpoint)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating checkpoints: %w", err)
	}

	return checkpoints, nil
}

func scanCheckpoint(row rowScanner) (*models.Checkpoint, error) {
	var (
		checkpoint     models.Checkpoint
		workflowID     sql.NullString
		nodeID         sql.NullString
		executionState []byte
		contextData    []byte
		nodeOutputs    []byte
		description    sql.NullString
	)

	err := row.Scan(
		&checkpoint.ID, &workflowID, &checkpoint.ExecutionID, &checkpoint.CheckpointType,
		&nodeID, &checkpoint.SequenceNumber, &executionState, &contextData, &nodeOutputs,
		&description, &checkpoint.IsRecoverable, &checkpoint.IsMilestone, &checkpoint.SizeBytes,
		&checkpoint.CreatedAt, &checkpoint.ExpiresAt)
	if err != nil {
		return nil, err
	}

	checkpoint.WorkflowID = nullableString(workflowID)
	checkpoint.NodeID = nullableString(nodeID)
	checkpoint.Description = nullableString(description)

	if err := fromJSONB(executionState, &checkpoint.ExecutionState); err != nil {
		return nil, err
	}

	if err := fromJSONB(contextData, &checkpoint.ContextData); err != nil {
		return nil, err
	}

	if err := fromJSONB(nodeOutputs, &checkpoint.NodeOutputs); err != nil {
		return nil, err
	}

	return &checkpoint, nil
}
