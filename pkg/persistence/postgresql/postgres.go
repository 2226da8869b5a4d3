// Package postgresql provides the PostgreSQL persistence layer for
// triggers, executions, checkpoints and recovery state.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq"

	"github.com/cadenzahq/cadenza/pkg/persistence"
	"github.com/cadenzahq/cadenza/pkg/persistence/sqlbase"
)

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db     *sql.DB
	logger *slog.Logger

	workflows   *WorkflowRepository
	triggers    *TriggerRepository
	executions  *ExecutionRepository
	checkpoints *CheckpointRepository
	recovery    *RecoveryRepository
	replay      *ReplayRepository
}

// NewPersistence connects to PostgreSQL and runs pending migrations.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{
		db:          database,
		logger:      logger,
		workflows:   &WorkflowRepository{db: database, logger: logger},
		triggers:    &TriggerRepository{db: database, logger: logger},
		executions:  &ExecutionRepository{db: database, logger: logger},
		checkpoints: &CheckpointRepository{db: database, logger: logger},
		recovery:    &RecoveryRepository{db: database, logger: logger},
		replay:      &ReplayRepository{db: database, logger: logger},
	}, nil
}

func (p *Persistence) WorkflowRepository() persistence.WorkflowRepository { return p.workflows }

func (p *Persistence) TriggerRepository() persistence.TriggerRepository { return p.triggers }

func (p *Persistence) ExecutionRepository() persistence.ExecutionRepository { return p.executions }

func (p *Persistence) CheckpointRepository() persistence.CheckpointRepository { return p.checkpoints }

func (p *Persistence) RecoveryRepository() persistence.RecoveryRepository { return p.recovery }

func (p *Persistence) ReplayRepository() persistence.ReplayRepository { return p.replay }

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (p *Persistence) Close(_ context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}
