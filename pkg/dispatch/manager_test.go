package dispatch_test

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadenzahq/cadenza/pkg/dispatch"
	"github.com/cadenzahq/cadenza/pkg/eventbus"
	"github.com/cadenzahq/cadenza/pkg/events"
	"github.com/cadenzahq/cadenza/pkg/models"
	"github.com/cadenzahq/cadenza/pkg/persistence/memory"
	"github.com/cadenzahq/cadenza/pkg/registry"
)

// fakeBus records published events so tests can assert on what
// dispatch emits without a running broker.
type fakeBus struct {
	mu        sync.Mutex
	published []eventbus.Event
	next      int
}

func (b *fakeBus) Publish(_ context.Context, _ string, event eventbus.Event) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.published = append(b.published, event)
	b.next++

	return fmt.Sprintf("msg-%d", b.next), nil
}

func (b *fakeBus) Handle(_ events.EventType, _ eventbus.EventHandler) error { return nil }
func (b *fakeBus) Subscribe(_ context.Context) error                       { return nil }
func (b *fakeBus) Close() error                                            { return nil }
func (b *fakeBus) GenerateID() string                                      { return "generated" }

func (b *fakeBus) byType(eventType events.EventType) []eventbus.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	var matched []eventbus.Event

	for _, event := range b.published {
		if event.GetType() == eventType {
			matched = append(matched, event)
		}
	}

	return matched
}

type managerFixture struct {
	manager *dispatch.Manager
	store   *memory.Persistence
	bus     *fakeBus
}

func newManagerFixture(t *testing.T, opts ...dispatch.ManagerOption) *managerFixture {
	t.Helper()

	logger := slog.Default()
	reg := registry.NewRegistry(logger)
	registry.RegisterBuiltins(reg)

	store := memory.NewPersistence()
	bus := &fakeBus{}

	return &managerFixture{
		manager: dispatch.NewManager(logger, reg, store, bus, opts...),
		store:   store,
		bus:     bus,
	}
}

func (f *managerFixture) seedWorkflow(t *testing.T, id string, status models.WorkflowStatus) {
	t.Helper()

	err := f.store.WorkflowRepository().Save(context.Background(), &models.Workflow{
		ID:           id,
		Name:         "test workflow",
		Status:       status,
		TenantSchema: "tenant_a",
	})
	require.NoError(t, err)
}

func (f *managerFixture) seedTrigger(t *testing.T, instance *models.TriggerInstance) {
	t.Helper()

	require.NoError(t, f.store.TriggerRepository().Save(context.Background(), instance))
}

func recordCreatedTrigger(id, workflowID string) *models.TriggerInstance {
	return &models.TriggerInstance{
		ID:          id,
		WorkflowID:  workflowID,
		TriggerType: "record_created",
		Name:        "on record created",
		IsActive:    true,
	}
}

func TestHandleEventDispatchesMatchedTrigger(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	f.seedWorkflow(t, "wf-1", models.WorkflowStatusActive)
	f.seedTrigger(t, recordCreatedTrigger("trig-1", "wf-1"))

	f.manager.Start(ctx)
	defer f.manager.Stop()

	event := models.NewEvent(models.EventRecordCreated, "test", map[string]any{
		"record": map[string]any{"id": "r1", "pipeline_id": "sales"},
	})

	require.NoError(t, f.manager.HandleEvent(ctx, event))

	require.Eventually(t, func() bool {
		return len(f.bus.byType(events.WorkflowTriggeredEvent)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	triggered, ok := f.bus.byType(events.WorkflowTriggeredEvent)[0].(events.WorkflowTriggered)
	require.True(t, ok)
	assert.Equal(t, "trig-1", triggered.TriggerID)
	assert.Equal(t, "tenant_a", triggered.TenantSchema)
	assert.Equal(t, "r1", triggered.TriggerData["record_id"])

	require.Eventually(t, func() bool {
		return len(f.bus.byType(events.TriggerFiredEvent)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	fired, ok := f.bus.byType(events.TriggerFiredEvent)[0].(events.TriggerFired)
	require.True(t, ok)
	assert.Equal(t, "trig-1", fired.TriggerID)
	assert.NotEmpty(t, fired.TaskID)

	// Trigger statistics follow the successful dispatch.
	require.Eventually(t, func() bool {
		instance, err := f.store.TriggerRepository().GetByID(ctx, "trig-1")
		require.NoError(t, err)

		return instance.ExecutionCount == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHandleEventSkipsInactiveWorkflow(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	f.seedWorkflow(t, "wf-1", models.WorkflowStatusDraft)
	f.seedTrigger(t, recordCreatedTrigger("trig-1", "wf-1"))

	event := models.NewEvent(models.EventRecordCreated, "test", map[string]any{
		"record": map[string]any{"id": "r1"},
	})

	require.NoError(t, f.manager.HandleEvent(ctx, event))

	for _, depth := range f.manager.QueueDepths() {
		assert.Zero(t, depth)
	}
}

func TestHandleEventSkipsInactiveTrigger(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	f.seedWorkflow(t, "wf-1", models.WorkflowStatusActive)

	instance := recordCreatedTrigger("trig-1", "wf-1")
	instance.IsActive = false
	f.seedTrigger(t, instance)

	event := models.NewEvent(models.EventRecordCreated, "test", map[string]any{
		"record": map[string]any{"id": "r1"},
	})

	require.NoError(t, f.manager.HandleEvent(ctx, event))

	for _, depth := range f.manager.QueueDepths() {
		assert.Zero(t, depth)
	}
}

func TestHandleEventQueueFullDropsOverflow(t *testing.T) {
	f := newManagerFixture(t, dispatch.WithQueueCapacity(1))
	ctx := context.Background()

	f.seedWorkflow(t, "wf-1", models.WorkflowStatusActive)
	f.seedTrigger(t, recordCreatedTrigger("trig-1", "wf-1"))
	f.seedTrigger(t, recordCreatedTrigger("trig-2", "wf-1"))

	// Consumers are not started, so the second match overflows the tier.
	event := models.NewEvent(models.EventRecordCreated, "test", map[string]any{
		"record": map[string]any{"id": "r1"},
	})

	require.NoError(t, f.manager.HandleEvent(ctx, event))

	assert.Equal(t, 1, f.manager.QueueDepths()[models.PriorityHigh])
}

func TestHandleEventDeduplicates(t *testing.T) {
	f := newManagerFixture(t, dispatch.WithDeduper(dispatch.NewMemoryDeduper(time.Minute)))
	ctx := context.Background()

	f.seedWorkflow(t, "wf-1", models.WorkflowStatusActive)
	f.seedTrigger(t, recordCreatedTrigger("trig-1", "wf-1"))

	event := models.NewEvent(models.EventRecordCreated, "test", map[string]any{
		"record_id": "r1",
		"record":    map[string]any{"id": "r1"},
	})

	require.NoError(t, f.manager.HandleEvent(ctx, event))
	require.NoError(t, f.manager.HandleEvent(ctx, event))

	assert.Equal(t, 1, f.manager.QueueDepths()[models.PriorityHigh])
}

func TestTriggerManual(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	f.seedWorkflow(t, "wf-1", models.WorkflowStatusActive)
	f.seedTrigger(t, &models.TriggerInstance{
		ID:          "trig-1",
		WorkflowID:  "wf-1",
		TriggerType: "manual",
		Name:        "manual run",
		IsActive:    true,
	})

	result, err := f.manager.TriggerManual(ctx, "trig-1", "user-1", map[string]any{"note": "go"})

	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.NotEmpty(t, result.ExecutionID)

	triggered := f.bus.byType(events.WorkflowTriggeredEvent)
	require.Len(t, triggered, 1)

	payload, ok := triggered[0].(events.WorkflowTriggered)
	require.True(t, ok)
	assert.Equal(t, "user-1", payload.TriggeredByID)
	assert.Equal(t, true, payload.TriggerData["triggered_manually"])
	assert.Equal(t, "go", payload.TriggerData["note"])
}

func TestTriggerManualInactiveTrigger(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	f.seedWorkflow(t, "wf-1", models.WorkflowStatusActive)

	instance := recordCreatedTrigger("trig-1", "wf-1")
	instance.IsActive = false
	f.seedTrigger(t, instance)

	_, err := f.manager.TriggerManual(ctx, "trig-1", "user-1", nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "not active")
}

func TestTriggerManualUnknownTrigger(t *testing.T) {
	f := newManagerFixture(t)

	_, err := f.manager.TriggerManual(context.Background(), "missing", "user-1", nil)

	assert.Error(t, err)
}

func TestTriggerManualValidationFailurePublishesRejection(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	f.seedWorkflow(t, "wf-1", models.WorkflowStatusActive)
	f.seedTrigger(t, &models.TriggerInstance{
		ID:          "trig-1",
		WorkflowID:  "wf-1",
		TriggerType: "scheduled",
		Name:        "broken schedule",
		IsActive:    true,
		Config:      map[string]any{},
	})

	result, err := f.manager.TriggerManual(ctx, "trig-1", "user-1", nil)

	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "trigger validation failed", result.Message)
	assert.Contains(t, result.Error, "cron")

	// The per-check list marks this as a validation failure, not a
	// gate rejection.
	require.Contains(t, result.Data, "validation_errors")
	assert.NotEmpty(t, result.Data["validation_errors"])

	rejected := f.bus.byType(events.TriggerRejectedEvent)
	require.Len(t, rejected, 1)
	assert.Empty(t, f.bus.byType(events.WorkflowTriggeredEvent))
}

func TestTriggerManualRateLimited(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	f.seedWorkflow(t, "wf-1", models.WorkflowStatusActive)

	instance := recordCreatedTrigger("trig-1", "wf-1")
	instance.MaxExecutionsPerHour = 1
	f.seedTrigger(t, instance)

	// One recent execution exhausts the hourly budget.
	require.NoError(t, f.store.ExecutionRepository().Save(ctx, &models.Execution{
		ID:         "exec-1",
		WorkflowID: "wf-1",
		Status:     models.ExecutionStatusCompleted,
		StartedAt:  time.Now().UTC().Add(-time.Minute),
	}))

	result, err := f.manager.TriggerManual(ctx, "trig-1", "user-1", nil)

	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "rate limit")
}

func TestBridgeRecordSavedCarriesOriginalValues(t *testing.T) {
	f := newManagerFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f.seedWorkflow(t, "wf-1", models.WorkflowStatusActive)
	f.seedTrigger(t, &models.TriggerInstance{
		ID:          "trig-1",
		WorkflowID:  "wf-1",
		TriggerType: "record_updated",
		Name:        "on status change",
		IsActive:    true,
		Config: map[string]any{
			"field_conditions": []any{
				map[string]any{"field": "status", "operator": "changed_to", "value": "won"},
			},
		},
	})

	f.manager.Start(ctx)
	defer f.manager.Stop()

	bridge := dispatch.NewBridge(slog.Default(), f.manager, f.manager.Snapshots(), 16)
	go bridge.Run(ctx)

	bridge.BeforeRecordSave("r1", map[string]any{"id": "r1", "status": "open"})
	bridge.RecordSaved("r1", map[string]any{"id": "r1", "status": "won"}, false)

	require.Eventually(t, func() bool {
		return len(f.bus.byType(events.WorkflowTriggeredEvent)) == 1
	}, 2*time.Second, 10*time.Millisecond)
}
