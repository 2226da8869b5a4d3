package recovery_test

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadenzahq/cadenza/pkg/eventbus"
	"github.com/cadenzahq/cadenza/pkg/events"
	"github.com/cadenzahq/cadenza/pkg/models"
	"github.com/cadenzahq/cadenza/pkg/persistence"
	"github.com/cadenzahq/cadenza/pkg/persistence/memory"
	"github.com/cadenzahq/cadenza/pkg/recovery"
)

// fakePublisher records what recovery publishes.
type fakePublisher struct {
	mu        sync.Mutex
	published []eventbus.Event
	next      int
}

func (p *fakePublisher) Publish(_ context.Context, _ string, event eventbus.Event) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.published = append(p.published, event)
	p.next++

	return fmt.Sprintf("msg-%d", p.next), nil
}

func (p *fakePublisher) byType(eventType events.EventType) []eventbus.Event {
	p.mu.Lock()
	defer p.mu.Unlock()

	var matched []eventbus.Event

	for _, event := range p.published {
		if event.GetType() == eventType {
			matched = append(matched, event)
		}
	}

	return matched
}

type recoveryFixture struct {
	manager *recovery.Manager
	store   *memory.Persistence
	bus     *fakePublisher
}

func newRecoveryFixture(t *testing.T, opts ...recovery.ManagerOption) *recoveryFixture {
	t.Helper()

	store := memory.NewPersistence()
	bus := &fakePublisher{}

	return &recoveryFixture{
		manager: recovery.NewManager(slog.Default(), store, bus, opts...),
		store:   store,
		bus:     bus,
	}
}

func (f *recoveryFixture) seedFailedExecution(t *testing.T, id, errorMessage string) *models.Execution {
	t.Helper()

	execution := &models.Execution{
		ID:           id,
		WorkflowID:   "wf-1",
		Status:       models.ExecutionStatusFailed,
		TriggerData:  map[string]any{"record_id": "r1"},
		ErrorMessage: errorMessage,
		FailedNodeID: "node-3",
		StartedAt:    time.Now().UTC().Add(-time.Hour),
	}
	require.NoError(t, f.store.ExecutionRepository().Save(context.Background(), execution))

	return execution
}

func (f *recoveryFixture) seedCheckpoint(t *testing.T, executionID string, input recovery.CheckpointInput) *models.Checkpoint {
	t.Helper()

	input.ExecutionID = executionID
	input.WorkflowID = "wf-1"

	checkpoint, err := f.manager.CreateCheckpoint(context.Background(), input)
	require.NoError(t, err)

	return checkpoint
}

func TestCreateCheckpointAssignsSequence(t *testing.T) {
	f := newRecoveryFixture(t)
	ctx := context.Background()

	first, err := f.manager.CreateCheckpoint(ctx, recovery.CheckpointInput{
		WorkflowID:  "wf-1",
		ExecutionID: "exec-1",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, first.SequenceNumber)

	second, err := f.manager.CreateCheckpoint(ctx, recovery.CheckpointInput{
		WorkflowID:  "wf-1",
		ExecutionID: "exec-1",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, second.SequenceNumber)

	// Another execution gets its own counter.
	other, err := f.manager.CreateCheckpoint(ctx, recovery.CheckpointInput{
		WorkflowID:  "wf-1",
		ExecutionID: "exec-2",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, other.SequenceNumber)
}

func TestCreateCheckpointConcurrentSequences(t *testing.T) {
	const writers = 20

	f := newRecoveryFixture(t, recovery.WithMaxCheckpoints(writers))
	ctx := context.Background()

	var wg sync.WaitGroup

	errs := make([]error, writers)

	for i := 0; i < writers; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, errs[i] = f.manager.CreateCheckpoint(ctx, recovery.CheckpointInput{
				WorkflowID:  "wf-1",
				ExecutionID: "exec-1",
			})
		}()
	}

	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	checkpoints, err := f.store.CheckpointRepository().ByExecution(ctx, "exec-1")
	require.NoError(t, err)
	require.Len(t, checkpoints, writers)

	// Every writer must land on its own number with no gaps.
	seen := make(map[int]bool, writers)
	for _, checkpoint := range checkpoints {
		assert.False(t, seen[checkpoint.SequenceNumber],
			"duplicate sequence %d", checkpoint.SequenceNumber)
		seen[checkpoint.SequenceNumber] = true
	}

	for sequence := 1; sequence <= writers; sequence++ {
		assert.True(t, seen[sequence], "missing sequence %d", sequence)
	}
}

func TestCreateCheckpointRequiresExecutionID(t *testing.T) {
	f := newRecoveryFixture(t)

	_, err := f.manager.CreateCheckpoint(context.Background(), recovery.CheckpointInput{
		WorkflowID: "wf-1",
	})

	assert.Error(t, err)
}

func TestCreateCheckpointSetsExpiry(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	f := newRecoveryFixture(t,
		recovery.WithRetentionDays(7),
		recovery.WithClock(func() time.Time { return now }))

	checkpoint, err := f.manager.CreateCheckpoint(context.Background(), recovery.CheckpointInput{
		WorkflowID:  "wf-1",
		ExecutionID: "exec-1",
	})

	require.NoError(t, err)
	assert.Equal(t, now.AddDate(0, 0, 7), checkpoint.ExpiresAt)
	assert.Positive(t, checkpoint.SizeBytes)
}

func TestCheckpointPruningKeepsCapAndMilestones(t *testing.T) {
	f := newRecoveryFixture(t, recovery.WithMaxCheckpoints(3))
	ctx := context.Background()

	milestone := f.seedCheckpoint(t, "exec-1", recovery.CheckpointInput{IsMilestone: true})

	for i := 0; i < 5; i++ {
		f.seedCheckpoint(t, "exec-1", recovery.CheckpointInput{})
	}

	checkpoints, err := f.store.CheckpointRepository().ByExecution(ctx, "exec-1")
	require.NoError(t, err)

	// Cap of 3 plus the milestone that pruning never drops.
	require.Len(t, checkpoints, 4)

	// Listing is newest-first; sequence numbers keep increasing even
	// though older checkpoints were pruned.
	assert.Equal(t, 6, checkpoints[0].SequenceNumber)

	ids := make(map[string]bool, len(checkpoints))
	for _, checkpoint := range checkpoints {
		ids[checkpoint.ID] = true
	}

	assert.True(t, ids[milestone.ID])
}

func TestCheckpointPruningMilestonesOutsideCap(t *testing.T) {
	f := newRecoveryFixture(t, recovery.WithMaxCheckpoints(2))
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		f.seedCheckpoint(t, "exec-1", recovery.CheckpointInput{})
	}

	// A milestone at the head of the listing must not push a regular
	// checkpoint out of the cap.
	milestone := f.seedCheckpoint(t, "exec-1", recovery.CheckpointInput{IsMilestone: true})

	checkpoints, err := f.store.CheckpointRepository().ByExecution(ctx, "exec-1")
	require.NoError(t, err)
	require.Len(t, checkpoints, 3)

	regular := 0

	for _, checkpoint := range checkpoints {
		if checkpoint.ID == milestone.ID {
			continue
		}

		regular++
		assert.False(t, checkpoint.IsMilestone)
	}

	assert.Equal(t, 2, regular)
	assert.Equal(t, 4, checkpoints[1].SequenceNumber)
	assert.Equal(t, 3, checkpoints[2].SequenceNumber)
}

func TestLatestRecoverableCheckpoint(t *testing.T) {
	f := newRecoveryFixture(t)
	ctx := context.Background()

	f.seedCheckpoint(t, "exec-1", recovery.CheckpointInput{IsRecoverable: true})
	second := f.seedCheckpoint(t, "exec-1", recovery.CheckpointInput{IsRecoverable: true})
	f.seedCheckpoint(t, "exec-1", recovery.CheckpointInput{IsRecoverable: false})

	latest, err := f.manager.LatestRecoverableCheckpoint(ctx, "exec-1", 0)
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)

	// skip steps back past the newest recoverable candidate.
	previous, err := f.manager.LatestRecoverableCheckpoint(ctx, "exec-1", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, previous.SequenceNumber)

	_, err = f.manager.LatestRecoverableCheckpoint(ctx, "exec-1", 2)
	assert.ErrorIs(t, err, persistence.ErrCheckpointNotFound)
}

func TestRecoverExecutionRejectsNonFailed(t *testing.T) {
	f := newRecoveryFixture(t)
	ctx := context.Background()

	require.NoError(t, f.store.ExecutionRepository().Save(ctx, &models.Execution{
		ID:         "exec-1",
		WorkflowID: "wf-1",
		Status:     models.ExecutionStatusRunning,
		StartedAt:  time.Now().UTC(),
	}))

	_, err := f.manager.RecoverExecution(ctx, "exec-1", models.RecoveryReasonManualRequest)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "only failed executions")
}

func TestRecoverExecutionDefaultRetry(t *testing.T) {
	f := newRecoveryFixture(t)
	ctx := context.Background()

	f.seedFailedExecution(t, "exec-1", "connection refused")
	checkpoint := f.seedCheckpoint(t, "exec-1", recovery.CheckpointInput{
		IsRecoverable: true,
		ContextData:   map[string]any{"tenant_schema": "tenant_a", "step": 3},
	})

	log, err := f.manager.RecoverExecution(ctx, "exec-1", models.RecoveryReasonNodeFailure)

	require.NoError(t, err)
	assert.Equal(t, models.RecoveryCompleted, log.Status)
	assert.Equal(t, models.StrategyRetry, log.RecoveryType)
	assert.Equal(t, checkpoint.ID, log.CheckpointID)
	assert.Equal(t, 1, log.AttemptNumber)
	require.NotNil(t, log.WasSuccessful)
	assert.True(t, *log.WasSuccessful)
	require.NotEmpty(t, log.NewExecutionID)

	// The resumed child execution carries checkpoint provenance.
	child, err := f.store.ExecutionRepository().GetByID(ctx, log.NewExecutionID)
	require.NoError(t, err)
	assert.Equal(t, "exec-1", child.ParentExecutionID)
	assert.Equal(t, models.ExecutionStatusPending, child.Status)
	assert.Equal(t, checkpoint.ID, child.ContextData["_resumed_from_checkpoint"])
	assert.Equal(t, map[string]any{"record_id": "r1"}, child.TriggerData)

	assert.Len(t, f.bus.byType(events.RecoveryStartedEvent), 1)
	assert.Len(t, f.bus.byType(events.RecoveryCompletedEvent), 1)

	triggered := f.bus.byType(events.WorkflowTriggeredEvent)
	require.Len(t, triggered, 1)
	submission, ok := triggered[0].(events.WorkflowTriggered)
	require.True(t, ok)
	assert.Equal(t, child.ID, submission.ExecutionID)
	assert.Equal(t, "tenant_a", submission.TenantSchema)
}

func TestRecoverExecutionWithoutCheckpointFails(t *testing.T) {
	f := newRecoveryFixture(t)
	ctx := context.Background()

	f.seedFailedExecution(t, "exec-1", "connection refused")

	log, err := f.manager.RecoverExecution(ctx, "exec-1", models.RecoveryReasonNodeFailure)

	require.NoError(t, err)
	assert.Equal(t, models.RecoveryFailed, log.Status)
	require.NotNil(t, log.WasSuccessful)
	assert.False(t, *log.WasSuccessful)
	assert.Contains(t, log.RecoveryError, "no recoverable checkpoint")
	assert.Empty(t, log.NewExecutionID)

	completed := f.bus.byType(events.RecoveryCompletedEvent)
	require.Len(t, completed, 1)
	payload, ok := completed[0].(events.RecoveryCompleted)
	require.True(t, ok)
	assert.False(t, payload.WasSuccessful)
}

func TestRecoverExecutionSkipStrategy(t *testing.T) {
	f := newRecoveryFixture(t)
	ctx := context.Background()

	f.seedFailedExecution(t, "exec-1", "timeout waiting for api")
	f.seedCheckpoint(t, "exec-1", recovery.CheckpointInput{IsRecoverable: true})

	strategy := &models.RecoveryStrategy{
		ID:            "strat-1",
		Name:          "skip flaky node",
		StrategyType:  models.StrategySkip,
		ErrorPatterns: []string{"timeout"},
		IsActive:      true,
		Priority:      80,
	}
	require.NoError(t, f.store.RecoveryRepository().SaveStrategy(ctx, strategy))

	log, err := f.manager.RecoverExecution(ctx, "exec-1", models.RecoveryReasonNodeFailure)

	require.NoError(t, err)
	assert.Equal(t, models.StrategySkip, log.RecoveryType)
	assert.Equal(t, "strat-1", log.StrategyID)

	child, err := f.store.ExecutionRepository().GetByID(ctx, log.NewExecutionID)
	require.NoError(t, err)
	assert.Equal(t, []string{"node-3"}, child.ContextData["_skip_nodes"])

	// Strategy bookkeeping after a successful application.
	stored, err := f.store.RecoveryRepository().StrategyByID(ctx, "strat-1")
	require.NoError(t, err)
	assert.Equal(t, 1, stored.UsageCount)
	assert.Equal(t, 1, stored.SuccessCount)
	assert.NotNil(t, stored.LastUsedAt)
}

func TestRecoverExecutionManualStrategy(t *testing.T) {
	f := newRecoveryFixture(t)
	ctx := context.Background()

	f.seedFailedExecution(t, "exec-1", "invalid credentials")

	require.NoError(t, f.store.RecoveryRepository().SaveStrategy(ctx, &models.RecoveryStrategy{
		ID:            "strat-1",
		Name:          "escalate auth failures",
		StrategyType:  models.StrategyManual,
		ErrorPatterns: []string{"credentials"},
		IsActive:      true,
		Priority:      90,
	}))

	log, err := f.manager.RecoverExecution(ctx, "exec-1", models.RecoveryReasonNodeFailure)

	require.NoError(t, err)
	assert.Equal(t, models.RecoveryFailed, log.Status)
	assert.Contains(t, log.RecoveryError, "manual intervention")

	stored, err := f.store.RecoveryRepository().StrategyByID(ctx, "strat-1")
	require.NoError(t, err)
	assert.Equal(t, 1, stored.UsageCount)
	assert.Equal(t, 0, stored.SuccessCount)
}

func TestRecoverExecutionRestartStrategy(t *testing.T) {
	f := newRecoveryFixture(t)
	ctx := context.Background()

	f.seedFailedExecution(t, "exec-1", "node exploded")

	require.NoError(t, f.store.RecoveryRepository().SaveStrategy(ctx, &models.RecoveryStrategy{
		ID:           "strat-1",
		Name:         "start over",
		StrategyType: models.StrategyRestart,
		IsActive:     true,
		Priority:     50,
	}))

	log, err := f.manager.RecoverExecution(ctx, "exec-1", models.RecoveryReasonManualRequest)

	require.NoError(t, err)
	assert.Equal(t, models.RecoveryCompleted, log.Status)
	assert.Empty(t, log.CheckpointID)

	child, err := f.store.ExecutionRepository().GetByID(ctx, log.NewExecutionID)
	require.NoError(t, err)
	assert.NotContains(t, child.ContextData, "_resumed_from_checkpoint")
	assert.Equal(t, map[string]any{"record_id": "r1"}, child.TriggerData)
}

func TestRecoverExecutionSkipsOtherWorkflowsStrategies(t *testing.T) {
	f := newRecoveryFixture(t)
	ctx := context.Background()

	f.seedFailedExecution(t, "exec-1", "timeout waiting for api")
	f.seedCheckpoint(t, "exec-1", recovery.CheckpointInput{IsRecoverable: true})

	require.NoError(t, f.store.RecoveryRepository().SaveStrategy(ctx, &models.RecoveryStrategy{
		ID:            "strat-other",
		Name:          "other workflow only",
		StrategyType:  models.StrategySkip,
		WorkflowID:    "wf-other",
		ErrorPatterns: []string{"timeout"},
		IsActive:      true,
		Priority:      99,
	}))

	log, err := f.manager.RecoverExecution(ctx, "exec-1", models.RecoveryReasonNodeFailure)

	require.NoError(t, err)
	assert.Equal(t, models.StrategyRetry, log.RecoveryType)
	assert.Empty(t, log.StrategyID)
}

func TestRecoverExecutionAttemptNumbersIncrement(t *testing.T) {
	f := newRecoveryFixture(t)
	ctx := context.Background()

	f.seedFailedExecution(t, "exec-1", "boom")
	f.seedCheckpoint(t, "exec-1", recovery.CheckpointInput{IsRecoverable: true})

	first, err := f.manager.RecoverExecution(ctx, "exec-1", models.RecoveryReasonNodeFailure)
	require.NoError(t, err)
	assert.Equal(t, 1, first.AttemptNumber)

	second, err := f.manager.RecoverExecution(ctx, "exec-1", models.RecoveryReasonManualRequest)
	require.NoError(t, err)
	assert.Equal(t, 2, second.AttemptNumber)
}

func TestCleanupExpiredCheckpoints(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	clock := now.AddDate(0, 0, -40)
	f := newRecoveryFixture(t, recovery.WithClock(func() time.Time { return clock }))
	ctx := context.Background()

	// Created 40 days in the past, so both are expired by now.
	f.seedCheckpoint(t, "exec-1", recovery.CheckpointInput{})
	f.seedCheckpoint(t, "exec-1", recovery.CheckpointInput{IsMilestone: true})

	// A fresh checkpoint that must survive.
	clock = now
	fresh := f.seedCheckpoint(t, "exec-1", recovery.CheckpointInput{})

	report, err := f.manager.CleanupExpiredCheckpoints(ctx, false)

	require.NoError(t, err)
	assert.Equal(t, 1, report.Deleted)
	assert.Equal(t, 1, report.KeptMilestones)
	assert.Positive(t, report.FreedBytes)
	assert.False(t, report.DryRun)

	remaining, err := f.store.CheckpointRepository().ByExecution(ctx, "exec-1")
	require.NoError(t, err)
	require.Len(t, remaining, 2)

	ids := map[string]bool{}
	for _, checkpoint := range remaining {
		ids[checkpoint.ID] = true
	}

	assert.True(t, ids[fresh.ID])
}

func TestCleanupDryRunDeletesNothing(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	clock := now.AddDate(0, 0, -40)
	f := newRecoveryFixture(t, recovery.WithClock(func() time.Time { return clock }))
	ctx := context.Background()

	f.seedCheckpoint(t, "exec-1", recovery.CheckpointInput{})

	clock = now

	report, err := f.manager.CleanupExpiredCheckpoints(ctx, true)

	require.NoError(t, err)
	assert.Equal(t, 1, report.Deleted)
	assert.True(t, report.DryRun)

	remaining, err := f.store.CheckpointRepository().ByExecution(ctx, "exec-1")
	require.NoError(t, err)
	assert.Len(t, remaining, 1)
}

func TestCheckpointStatistics(t *testing.T) {
	f := newRecoveryFixture(t)

	f.seedCheckpoint(t, "exec-1", recovery.CheckpointInput{
		CheckpointType: models.CheckpointAuto,
		IsRecoverable:  true,
	})
	f.seedCheckpoint(t, "exec-1", recovery.CheckpointInput{
		CheckpointType: models.CheckpointMilestone,
		IsRecoverable:  true,
		IsMilestone:    true,
	})
	f.seedCheckpoint(t, "exec-1", recovery.CheckpointInput{
		CheckpointType: models.CheckpointAuto,
	})

	stats, err := f.manager.CheckpointStatistics(context.Background(), "exec-1")

	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalCount)
	assert.Equal(t, 2, stats.RecoverableCount)
	assert.Equal(t, 1, stats.MilestoneCount)
	assert.Equal(t, 2, stats.CountByType["auto"])
	assert.Equal(t, 1, stats.CountByType["milestone"])
	assert.Positive(t, stats.TotalSizeBytes)
	require.NotNil(t, stats.OldestCreatedAt)
	require.NotNil(t, stats.NewestCreatedAt)
}
