package postgresql_test

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/cadenzahq/cadenza/pkg/models"
	"github.com/cadenzahq/cadenza/pkg/persistence"
	"github.com/cadenzahq/cadenza/pkg/persistence/postgresql"
)

var postgresContainer *postgres.PostgresContainer

func dropDb(ctx context.Context, t *testing.T, databaseURL string) {
	t.Helper()

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	// Drop tables in reverse dependency order (children first, parents last)
	for _, table := range []string{
		"replay_sessions", "recovery_logs", "recovery_strategies",
		"checkpoints", "execution_logs", "executions",
		"trigger_instances", "workflows", "schema_migrations",
	} {
		_, err = db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE")
		require.NoError(t, err)
	}

	err = db.Close()
	require.NoError(t, err)
}

func setupTestDB(t *testing.T) (*postgresql.Persistence, context.Context, string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)

	if postgresContainer == nil || !postgresContainer.IsRunning() {
		var err error

		postgresContainer, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("cadenza_test"),
			postgres.WithUsername("cadenza"),
			postgres.WithPassword("cadenza"),
			postgres.BasicWaitStrategies(),
		)
		require.NoError(t, err)
	}

	databaseURL, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	dropDb(ctx, t, databaseURL)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	store, err := postgresql.NewPersistence(ctx, logger, databaseURL)
	require.NoError(t, err)

	t.Cleanup(func() {
		dropDb(ctx, t, databaseURL)

		err = store.Close(ctx)
		require.NoError(t, err)

		cancel()
	})

	return store, ctx, databaseURL
}

func seedWorkflow(ctx context.Context, t *testing.T, store *postgresql.Persistence) *models.Workflow {
	t.Helper()

	workflow := &models.Workflow{
		ID:           uuid.New().String(),
		Name:         "Deal pipeline automation",
		Description:  "Fires on pipeline changes",
		Status:       models.WorkflowStatusActive,
		TenantSchema: "tenant_a",
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}
	require.NoError(t, store.WorkflowRepository().Save(ctx, workflow))

	return workflow
}

func TestNewPersistence_Migrations(t *testing.T) {
	_, ctx, databaseURL := setupTestDB(t)

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	defer func() {
		err := db.Close()
		require.NoError(t, err)
	}()

	var exists bool

	for _, table := range []string{"workflows", "trigger_instances", "checkpoints", "recovery_strategies", "replay_sessions"} {
		err = db.QueryRowContext(ctx, `SELECT EXISTS (SELECT FROM
information_schema.tables WHERE table_name = $1)`, table).Scan(&exists)
		require.NoError(t, err)
		assert.True(t, exists, "%s table should exist", table)
	}

	var version int

	err = db.QueryRowContext(ctx, "SELECT version FROM schema_migrations WHERE version = 1").Scan(&version)
	require.NoError(t, err)
	assert.Equal(t, 1, version)
}

func TestNewPersistence_HealthCheck(t *testing.T) {
	store, ctx, _ := setupTestDB(t)

	err := store.HealthCheck(ctx)
	assert.NoError(t, err)
}

func TestWorkflowRepository_RoundTrip(t *testing.T) {
	store, ctx, _ := setupTestDB(t)

	workflow := seedWorkflow(ctx, t, store)

	loaded, err := store.WorkflowRepository().GetByID(ctx, workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.Name, loaded.Name)
	assert.Equal(t, models.WorkflowStatusActive, loaded.Status)
	assert.Equal(t, "tenant_a", loaded.TenantSchema)

	all, err := store.WorkflowRepository().GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	err = store.WorkflowRepository().Delete(ctx, workflow.ID)
	require.NoError(t, err)

	_, err = store.WorkflowRepository().GetByID(ctx, workflow.ID)
	assert.ErrorIs(t, err, persistence.ErrWorkflowNotFound)
}

func TestTriggerRepository_Lifecycle(t *testing.T) {
	store, ctx, _ := setupTestDB(t)

	workflow := seedWorkflow(ctx, t, store)
	now := time.Now().UTC()

	instance := &models.TriggerInstance{
		ID:          uuid.New().String(),
		WorkflowID:  workflow.ID,
		TriggerType: "record_created",
		Name:        "new lead created",
		IsActive:    true,
		Config: map[string]any{
			"pipeline_ids": []any{"p1"},
			"conditions":   map[string]any{"field": "status", "operator": "equals", "value": "open"},
		},
		MaxExecutionsPerHour: 100,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	require.NoError(t, store.TriggerRepository().Save(ctx, instance))

	loaded, err := store.TriggerRepository().GetByID(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, "new lead created", loaded.Name)
	assert.Equal(t, 100, loaded.MaxExecutionsPerHour)
	assert.Equal(t, []any{"p1"}, loaded.Config["pipeline_ids"])

	active, err := store.TriggerRepository().ActiveByType(ctx, "record_created")
	require.NoError(t, err)
	require.Len(t, active, 1)

	// Deactivated instances drop out of the active set.
	instance.IsActive = false
	require.NoError(t, store.TriggerRepository().Save(ctx, instance))

	active, err = store.TriggerRepository().ActiveByType(ctx, "record_created")
	require.NoError(t, err)
	assert.Empty(t, active)

	byWorkflow, err := store.TriggerRepository().GetByWorkflow(ctx, workflow.ID)
	require.NoError(t, err)
	assert.Len(t, byWorkflow, 1)

	require.NoError(t, store.TriggerRepository().RecordExecution(ctx, instance.ID, now))
	require.NoError(t, store.TriggerRepository().RecordExecution(ctx, instance.ID, now.Add(time.Minute)))
	require.NoError(t, store.TriggerRepository().RecordFailure(ctx, instance.ID))

	loaded, err = store.TriggerRepository().GetByID(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.ExecutionCount)
	assert.Equal(t, 1, loaded.FailureCount)
	require.NotNil(t, loaded.LastTriggeredAt)
	assert.WithinDuration(t, now.Add(time.Minute), *loaded.LastTriggeredAt, time.Second)

	require.NoError(t, store.TriggerRepository().Delete(ctx, instance.ID))

	_, err = store.TriggerRepository().GetByID(ctx, instance.ID)
	assert.ErrorIs(t, err, persistence.ErrTriggerNotFound)
}

func TestExecutionRepository_CountsAndLogs(t *testing.T) {
	store, ctx, _ := setupTestDB(t)

	workflow := seedWorkflow(ctx, t, store)
	now := time.Now().UTC()

	recent := &models.Execution{
		ID:          uuid.New().String(),
		WorkflowID:  workflow.ID,
		Status:      models.ExecutionStatusCompleted,
		TriggerData: map[string]any{"record_id": "r1"},
		StartedAt:   now.Add(-10 * time.Minute),
	}
	require.NoError(t, store.ExecutionRepository().Save(ctx, recent))

	failed := &models.Execution{
		ID:           uuid.New().String(),
		WorkflowID:   workflow.ID,
		Status:       models.ExecutionStatusFailed,
		ErrorMessage: "node timed out",
		FailedNodeID: "node-3",
		StartedAt:    now.Add(-5 * time.Minute),
	}
	require.NoError(t, store.ExecutionRepository().Save(ctx, failed))

	old := &models.Execution{
		ID:         uuid.New().String(),
		WorkflowID: workflow.ID,
		Status:     models.ExecutionStatusCompleted,
		StartedAt:  now.Add(-48 * time.Hour),
	}
	require.NoError(t, store.ExecutionRepository().Save(ctx, old))

	count, err := store.ExecutionRepository().CountSince(ctx, workflow.ID, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	failures, err := store.ExecutionRepository().FailedSince(ctx, workflow.ID, now.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, failed.ID, failures[0].ID)
	assert.Equal(t, "node timed out", failures[0].ErrorMessage)

	completed := now.Add(-9 * time.Minute)
	log := &models.ExecutionLog{
		ID:          uuid.New().String(),
		ExecutionID: recent.ID,
		NodeID:      "node-1",
		NodeName:    "Send email",
		NodeType:    "email",
		Status:      models.NodeStatusCompleted,
		Output:      map[string]any{"message_id": "m1"},
		StartedAt:   now.Add(-10 * time.Minute),
		CompletedAt: &completed,
		DurationMs:  60000,
	}
	require.NoError(t, store.ExecutionRepository().SaveLog(ctx, log))

	logs, err := store.ExecutionRepository().Logs(ctx, recent.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "node-1", logs[0].NodeID)
	assert.Equal(t, map[string]any{"message_id": "m1"}, logs[0].Output)
}

func TestCheckpointRepository_SequencesAndRetention(t *testing.T) {
	store, ctx, _ := setupTestDB(t)

	workflow := seedWorkflow(ctx, t, store)
	executionID := uuid.New().String()
	now := time.Now().UTC()

	for seq := 1; seq <= 3; seq++ {
		checkpoint := &models.Checkpoint{
			ID:             uuid.New().String(),
			WorkflowID:     workflow.ID,
			ExecutionID:    executionID,
			CheckpointType: models.CheckpointAuto,
			SequenceNumber: seq,
			ExecutionState: map[string]any{"step": seq},
			IsRecoverable:  seq > 1,
			SizeBytes:      128,
			CreatedAt:      now.Add(time.Duration(seq) * time.Second),
			ExpiresAt:      now.AddDate(0, 0, 30),
		}
		require.NoError(t, store.CheckpointRepository().Save(ctx, checkpoint))
	}

	maxSeq, err := store.CheckpointRepository().MaxSequence(ctx, executionID)
	require.NoError(t, err)
	assert.Equal(t, 3, maxSeq)

	// A second insert on an already taken sequence number surfaces the
	// conflict sentinel rather than a raw constraint error.
	duplicate := &models.Checkpoint{
		ID:             uuid.New().String(),
		WorkflowID:     workflow.ID,
		ExecutionID:    executionID,
		CheckpointType: models.CheckpointAuto,
		SequenceNumber: 3,
		CreatedAt:      now,
		ExpiresAt:      now.AddDate(0, 0, 30),
	}
	assert.ErrorIs(t, store.CheckpointRepository().Save(ctx, duplicate), persistence.ErrSequenceConflict)

	checkpoints, err := store.CheckpointRepository().ByExecution(ctx, executionID)
	require.NoError(t, err)
	require.Len(t, checkpoints, 3)
	assert.Equal(t, 3, checkpoints[0].SequenceNumber)
	assert.Equal(t, 1, checkpoints[2].SequenceNumber)
	assert.Equal(t, map[string]any{"step": float64(3)}, checkpoints[0].ExecutionState)

	older, err := store.CheckpointRepository().OlderThan(ctx, now.Add(2500*time.Millisecond))
	require.NoError(t, err)
	assert.Len(t, older, 2)

	require.NoError(t, store.CheckpointRepository().Delete(ctx, checkpoints[0].ID))

	maxSeq, err = store.CheckpointRepository().MaxSequence(ctx, executionID)
	require.NoError(t, err)
	assert.Equal(t, 2, maxSeq)

	_, err = store.CheckpointRepository().GetByID(ctx, checkpoints[0].ID)
	assert.ErrorIs(t, err, persistence.ErrCheckpointNotFound)
}

func TestRecoveryRepository_StrategiesAndLogs(t *testing.T) {
	store, ctx, _ := setupTestDB(t)

	now := time.Now().UTC()

	saveStrategy := func(name string, priority int, active bool) *models.RecoveryStrategy {
		strategy := &models.RecoveryStrategy{
			ID:            uuid.New().String(),
			Name:          name,
			StrategyType:  models.StrategyRetry,
			ErrorPatterns: []string{"timeout"},
			IsActive:      active,
			Priority:      priority,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		require.NoError(t, store.RecoveryRepository().SaveStrategy(ctx, strategy))

		return strategy
	}

	low := saveStrategy("low priority", 10, true)
	high := saveStrategy("high priority", 90, true)
	saveStrategy("disabled", 100, false)

	active, err := store.RecoveryRepository().ActiveStrategies(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, high.ID, active[0].ID)
	assert.Equal(t, low.ID, active[1].ID)

	all, err := store.RecoveryRepository().AllStrategies(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	executionID := uuid.New().String()
	workflowID := uuid.New().String()

	for attempt := 1; attempt <= 2; attempt++ {
		log := &models.RecoveryLog{
			ID:            uuid.New().String(),
			WorkflowID:    workflowID,
			ExecutionID:   executionID,
			StrategyID:    high.ID,
			RecoveryType:  models.StrategyRetry,
			TriggerReason: models.RecoveryReasonNodeFailure,
			OriginalError: "node timed out",
			Status:        models.RecoveryCompleted,
			AttemptNumber: attempt,
			StartedAt:     now.Add(time.Duration(attempt) * time.Minute),
		}
		require.NoError(t, store.RecoveryRepository().SaveLog(ctx, log))
	}

	maxAttempt, err := store.RecoveryRepository().MaxAttemptNumber(ctx, executionID)
	require.NoError(t, err)
	assert.Equal(t, 2, maxAttempt)

	logs, err := store.RecoveryRepository().LogsByExecution(ctx, executionID)
	require.NoError(t, err)
	assert.Len(t, logs, 2)

	since, err := store.RecoveryRepository().LogsSince(ctx, workflowID, now)
	require.NoError(t, err)
	assert.Len(t, since, 2)

	since, err = store.RecoveryRepository().LogsSince(ctx, uuid.New().String(), now)
	require.NoError(t, err)
	assert.Empty(t, since)

	require.NoError(t, store.RecoveryRepository().DeleteStrategy(ctx, low.ID))

	_, err = store.RecoveryRepository().StrategyByID(ctx, low.ID)
	assert.ErrorIs(t, err, persistence.ErrStrategyNotFound)
}

func TestReplayRepository_RoundTrip(t *testing.T) {
	store, ctx, _ := setupTestDB(t)

	now := time.Now().UTC()

	session := &models.ReplaySession{
		ID:                  uuid.New().String(),
		WorkflowID:          uuid.New().String(),
		OriginalExecutionID: uuid.New().String(),
		ReplayType:          models.ReplayDebug,
		ModifiedInputs:      map[string]any{"amount": float64(500)},
		SkipNodes:           []string{"node-2"},
		DebugMode:           true,
		Status:              models.ReplayStatusCreated,
		CreatedAt:           now,
	}
	require.NoError(t, store.ReplayRepository().Save(ctx, session))

	loaded, err := store.ReplayRepository().GetByID(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReplayDebug, loaded.ReplayType)
	assert.Equal(t, map[string]any{"amount": float64(500)}, loaded.ModifiedInputs)
	assert.Equal(t, []string{"node-2"}, loaded.SkipNodes)

	started := now.Add(time.Minute)
	session.Status = models.ReplayStatusRunning
	session.ReplayExecutionID = uuid.New().String()
	session.StartedAt = &started
	require.NoError(t, store.ReplayRepository().Save(ctx, session))

	loaded, err = store.ReplayRepository().GetByID(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReplayStatusRunning, loaded.Status)
	assert.Equal(t, session.ReplayExecutionID, loaded.ReplayExecutionID)

	all, err := store.ReplayRepository().GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	_, err = store.ReplayRepository().GetByID(ctx, uuid.New().String())
	assert.ErrorIs(t, err, persistence.ErrReplaySessionNotFound)
}
