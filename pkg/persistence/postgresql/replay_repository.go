package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cadenzahq/cadenza/pkg/models"
	"github.com/cadenzahq/cadenza/pkg/persistence"
)

// ReplayRepository handles replay session database operations.
type ReplayRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

const replayColumns = `
		id
	  , workflow_id
	  , original_execution_id
	  , replay_from_checkpoint_id
	  , replay_type
	  , modified_inputs
	  , modified_context
	  , skip_nodes
	  , debug_mode
	  , status
	  , replay_execution_id
	  , created_at
	  , started_at
	  , completed_at
`

func (r *ReplayRepository) Save(ctx context.Context, session *models.ReplaySession) error {
	modifiedInputs, err := toJSONB(session.ModifiedInputs)
	if err != nil {
		return err
	}

	modifiedContext, err := toJSONB(session.ModifiedContext)
	if err != nil {
		return err
	}

	skipNodes, err := toJSONB(session.SkipNodes)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO replay_sessions (
			id, workflow_id, original_execution_id, replay_from_checkpoint_id, replay_type,
			modified_inputs, modified_context, skip_nodes, debug_mode, status,
			replay_execution_id, created_at, started_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status
		  , replay_execution_id = EXCLUDED.replay_execution_id
		  , started_at = EXCLUDED.started_at
		  , completed_at = EXCLUDED.completed_at
	`

	_, err = r.db.ExecContext(ctx, query,
		session.ID, stringOrNil(session.WorkflowID), session.OriginalExecutionID,
		stringOrNil(session.ReplayFromCheckpointID), session.ReplayType,
		modifiedInputs, modifiedContext, skipNodes, session.DebugMode, session.Status,
		stringOrNil(session.ReplayExecutionID), session.CreatedAt,
		timeOrNil(session.StartedAt), timeOrNil(session.CompletedAt))
	if err != nil {
		return fmt.Errorf("failed to save replay session: %w", err)
	}

	return nil
}

func (r *ReplayRepository) GetByID(ctx context.Context, id string) (*models.ReplaySession, error) {
	query := `SELECT ` + replayColumns + ` FROM replay_sessions WHERE id = $1`

	session, err := scanReplaySession(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrReplaySessionNotFound
		}

		return nil, fmt.Errorf("failed to scan replay session: %w", err)
	}

	return session, nil
}

func (r *ReplayRepository) GetAll(ctx context.Context) ([]*models.ReplaySession, error) {
	query := `SELECT ` + replayColumns + ` FROM replay_sessions ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query replay sessions: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	sessions := make([]*models.ReplaySession, 0)

	for rows.Next() {
		session, err := scanReplaySession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan replay session: %w", err)
		}

		sessions = append(sessions, session)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating replay sessions: %w", err)
	}

	return sessions, nil
}

func scanReplaySession(row rowScanner) (*models.ReplaySession, error) {
	var (
		session           models.ReplaySession
		workflowID        sql.NullString
		fromCheckpointID  sql.NullString
		modifiedInputs    []byte
		modifiedContext   []byte
		skipNodes         []byte
		replayExecutionID sql.NullString
		startedAt         sql.NullTime
		completedAt       sql.NullTime
	)

	err := row.Scan(
		&session.ID, &workflowID, &session.OriginalExecutionID, &fromCheckpointID,
		&session.ReplayType, &modifiedInputs, &modifiedContext, &skipNodes,
		&session.DebugMode, &session.Status, &replayExecutionID,
		&session.CreatedAt, &startedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	session.WorkflowID = nullableString(workflowID)
	session.ReplayFromCheckpointID = nullableString(fromCheckpointID)
	session.ReplayExecutionID = nullableString(replayExecutionID)
	session.StartedAt = nullableTime(startedAt)
	session.CompletedAt = nullableTime(completedAt)

	if err := fromJSONB(modifiedInputs, &session.ModifiedInputs); err != nil {
		return nil, err
	}

	if err := fromJSONB(modifiedContext, &session.ModifiedContext); err != nil {
		return nil, err
	}

	if err := fromJSONB(skipNodes, &session.SkipNodes); err != nil {
		return nil, err
	}

	return &session, nil
}
