// Package dispatch matches incoming events against active trigger
// instances and routes matched pairs through priority queues into
// validation, processing and workflow submission.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cadenzahq/cadenza/pkg/eventbus"
	"github.com/cadenzahq/cadenza/pkg/events"
	"github.com/cadenzahq/cadenza/pkg/models"
	"github.com/cadenzahq/cadenza/pkg/persistence"
	"github.com/cadenzahq/cadenza/pkg/registry"
)

const defaultQueueCapacity = 1024

// Manager is the central trigger dispatcher. It receives events,
// finds the trigger instances they match, queues the matches by
// priority and drives each through validation, gating and workflow
// submission.
type Manager struct {
	logger    *slog.Logger
	registry  *registry.Registry
	store     persistence.Persistence
	bus       eventbus.EventBus
	deduper   Deduper
	queues    *priorityQueues
	snapshots *SnapshotStore
	tracer    trace.Tracer

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

// WithDeduper enables duplicate-event suppression. Dispatch runs
// without deduplication unless one is installed.
func WithDeduper(d Deduper) ManagerOption {
	return func(m *Manager) { m.deduper = d }
}

// WithQueueCapacity sets the per-tier queue buffer size.
func WithQueueCapacity(capacity int) ManagerOption {
	return func(m *Manager) { m.queues = newPriorityQueues(capacity) }
}

func NewManager(
	logger *slog.Logger,
	reg *registry.Registry,
	store persistence.Persistence,
	bus eventbus.EventBus,
	opts ...ManagerOption,
) *Manager {
	m := &Manager{
		logger:    logger.With("module", "dispatch"),
		registry:  reg,
		store:     store,
		bus:       bus,
		queues:    newPriorityQueues(defaultQueueCapacity),
		snapshots: NewSnapshotStore(),
		tracer:    otel.Tracer("cadenza/dispatch"),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Snapshots exposes the pre-save snapshot store so the save path can
// capture original record values before mutating them.
func (m *Manager) Snapshots() *SnapshotStore {
	return m.snapshots
}

// QueueDepths reports the number of queued items per priority tier.
func (m *Manager) QueueDepths() map[models.TriggerPriority]int {
	return m.queues.depth()
}

// Start launches one consumer goroutine per priority tier. Tiers
// drain independently so a low-priority backlog cannot delay
// critical triggers.
func (m *Manager) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)

	for _, priority := range models.Priorities {
		m.wg.Add(1)

		go m.consume(ctx, priority)
	}

	m.logger.Info("Trigger dispatch started", "tiers", len(models.Priorities))
}

// Stop cancels the consumers and waits for in-flight items to finish.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}

	m.wg.Wait()
	m.logger.Info("Trigger dispatch stopped")
}

// HandleEvent matches an event against all active trigger instances
// whose type listens for it, and enqueues every match at its
// registered priority. Matching is read-only and fast; the heavy work
// happens in the consumers.
func (m *Manager) HandleEvent(ctx context.Context, event models.Event) error {
	ctx, span := m.tracer.Start(ctx, "dispatch.handle_event",
		trace.WithAttributes(attribute.String("event.type", string(event.EventType))))
	defer span.End()

	if m.deduper != nil {
		if key := DedupKey(event); key != "" {
			seen, err := m.deduper.Seen(ctx, key)
			if err != nil {
				m.logger.Warn("Deduplication check failed, processing anyway", "error", err)
			} else if seen {
				m.logger.Debug("Duplicate event suppressed", "event_type", event.EventType, "key", key)

				return nil
			}
		}
	}

	matched := 0

	for _, triggerType := range m.registry.TriggerTypesForEvent(event.EventType) {
		instances, err := m.store.TriggerRepository().ActiveByType(ctx, triggerType)
		if err != nil {
			return fmt.Errorf("load active triggers for %s: %w", triggerType, err)
		}

		handler := m.registry.HandlerFor(triggerType)
		priority := m.registry.Priority(triggerType)

		for _, instance := range instances {
			workflow, err := m.store.WorkflowRepository().GetByID(ctx, instance.WorkflowID)
			if err != nil {
				if persistence.IsNotFound(err) {
					continue
				}

				return fmt.Errorf("load workflow %s: %w", instance.WorkflowID, err)
			}

			if !workflow.IsActive() {
				continue
			}

			if !handler.MatchesEvent(instance, event) {
				continue
			}

			tctx := &models.TriggerContext{
				TriggerID:    instance.ID,
				WorkflowID:   workflow.ID,
				TenantSchema: workflow.TenantSchema,
				Metadata:     handler.ExtractData(instance, event),
			}

			item := queuedTrigger{instance: instance, context: tctx, event: event}

			if err := m.queues.enqueue(priority, item); err != nil {
				m.logger.Error("Dropping matched trigger, queue full",
					"trigger_id", instance.ID, "priority", priority)

				continue
			}

			matched++
		}
	}

	span.SetAttributes(attribute.Int("dispatch.matched", matched))
	m.logger.Debug("Event matched", "event_type", event.EventType, "matched", matched)

	return nil
}

// TriggerManual fires a workflow on behalf of a user, bypassing the
// queues. It still runs the validation and processing pipeline so
// rate limits apply to manual runs too.
func (m *Manager) TriggerManual(ctx context.Context, triggerID, userID string, data map[string]any) (*models.TriggerResult, error) {
	instance, err := m.store.TriggerRepository().GetByID(ctx, triggerID)
	if err != nil {
		return nil, fmt.Errorf("load trigger %s: %w", triggerID, err)
	}

	if !instance.IsActive {
		return nil, fmt.Errorf("trigger %s is not active", triggerID)
	}

	workflow, err := m.store.WorkflowRepository().GetByID(ctx, instance.WorkflowID)
	if err != nil {
		return nil, fmt.Errorf("load workflow %s: %w", instance.WorkflowID, err)
	}

	if !workflow.IsActive() {
		return nil, fmt.Errorf("workflow %s is not active", workflow.ID)
	}

	metadata := make(map[string]any, len(data)+1)
	for key, value := range data {
		metadata[key] = value
	}

	metadata["triggered_manually"] = true

	tctx := &models.TriggerContext{
		TriggerID:         instance.ID,
		WorkflowID:        workflow.ID,
		TenantSchema:      workflow.TenantSchema,
		TriggeredByUserID: userID,
		Metadata:          metadata,
	}

	return m.process(ctx, queuedTrigger{instance: instance, context: tctx})
}

func (m *Manager) consume(ctx context.Context, priority models.TriggerPriority) {
	defer m.wg.Done()

	tier := m.queues.tier(priority)

	for {
		select {
		case <-ctx.Done():
			return
		case item := <-tier:
			m.processSafe(ctx, item)
		}
	}
}

// processSafe isolates each queued item so one panicking trigger
// cannot take down a consumer.
func (m *Manager) processSafe(ctx context.Context, item queuedTrigger) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Panic while processing trigger",
				"trigger_id", item.instance.ID, "panic", r)
			m.recordFailure(ctx, item, fmt.Sprintf("panic: %v", r))
		}
	}()

	if _, err := m.process(ctx, item); err != nil {
		m.logger.Error("Trigger processing failed",
			"trigger_id", item.instance.ID, "workflow_id", item.context.WorkflowID, "error", err)
	}
}

func (m *Manager) process(ctx context.Context, item queuedTrigger) (*models.TriggerResult, error) {
	ctx, span := m.tracer.Start(ctx, "dispatch.process",
		trace.WithAttributes(
			attribute.String("trigger.id", item.instance.ID),
			attribute.String("trigger.type", item.instance.TriggerType),
			attribute.String("workflow.id", item.context.WorkflowID),
		))
	defer span.End()

	started := time.Now()

	validator := m.registry.ValidatorFor(item.instance.TriggerType)
	if validation := validator.Validate(item.instance, item.context); !validation.Valid {
		reason := strings.Join(validation.Errors, "; ")
		m.publishRejected(ctx, item, reason)

		// Error and the per-check list distinguish a validation
		// failure from a processor gate rejection, which only
		// carries a Message.
		return &models.TriggerResult{
			Success:    false,
			TriggerID:  item.instance.ID,
			WorkflowID: item.context.WorkflowID,
			Message:    "trigger validation failed",
			Error:      reason,
			Data:       map[string]any{"validation_errors": validation.Errors},
		}, nil
	}

	processor := m.registry.ProcessorFor(item.instance.TriggerType, m.counter())

	result, err := processor.Process(ctx, item.instance, item.context)
	if err != nil {
		m.recordFailure(ctx, item, err.Error())

		return nil, fmt.Errorf("process trigger %s: %w", item.instance.ID, err)
	}

	if !result.Success {
		m.publishRejected(ctx, item, result.Message)

		return result, nil
	}

	taskID, err := m.submit(ctx, item, result)
	if err != nil {
		m.recordFailure(ctx, item, err.Error())

		return nil, fmt.Errorf("submit workflow %s: %w", item.context.WorkflowID, err)
	}

	if err := m.store.TriggerRepository().RecordExecution(ctx, item.instance.ID, time.Now().UTC()); err != nil {
		m.logger.Warn("Failed to record trigger execution", "trigger_id", item.instance.ID, "error", err)
	}

	fired := events.TriggerFired{
		BaseEvent:        events.NewBaseEvent(events.TriggerFiredEvent, item.context.WorkflowID),
		TriggerID:        item.instance.ID,
		TriggerType:      item.instance.TriggerType,
		TaskID:           taskID,
		ProcessingTimeMs: time.Since(started).Milliseconds(),
	}
	if _, err := m.bus.Publish(ctx, item.context.WorkflowID, fired); err != nil {
		m.logger.Warn("Failed to publish trigger fired event", "trigger_id", item.instance.ID, "error", err)
	}

	result.ExecutionID = taskID
	span.SetAttributes(attribute.String("task.id", taskID))

	m.logger.Info("Trigger fired",
		"trigger_id", item.instance.ID,
		"trigger_type", item.instance.TriggerType,
		"workflow_id", item.context.WorkflowID,
		"task_id", taskID)

	return result, nil
}

// submit hands the workflow off for asynchronous execution and
// returns the message ID of the submission as an opaque task handle.
func (m *Manager) submit(ctx context.Context, item queuedTrigger, result *models.TriggerResult) (string, error) {
	triggered := events.WorkflowTriggered{
		BaseEvent:     events.NewBaseEvent(events.WorkflowTriggeredEvent, item.context.WorkflowID),
		TriggerID:     item.instance.ID,
		TenantSchema:  item.context.TenantSchema,
		TriggeredByID: item.context.TriggeredByUserID,
		TriggerData:   result.Data,
	}

	return m.bus.Publish(ctx, item.context.WorkflowID, triggered)
}

func (m *Manager) publishRejected(ctx context.Context, item queuedTrigger, reason string) {
	rejected := events.TriggerRejected{
		BaseEvent:   events.NewBaseEvent(events.TriggerRejectedEvent, item.context.WorkflowID),
		TriggerID:   item.instance.ID,
		TriggerType: item.instance.TriggerType,
		Reason:      reason,
	}

	if _, err := m.bus.Publish(ctx, item.context.WorkflowID, rejected); err != nil {
		m.logger.Warn("Failed to publish trigger rejected event", "trigger_id", item.instance.ID, "error", err)
	}
}

func (m *Manager) recordFailure(ctx context.Context, item queuedTrigger, errorMessage string) {
	if err := m.store.TriggerRepository().RecordFailure(ctx, item.instance.ID); err != nil {
		m.logger.Warn("Failed to record trigger failure", "trigger_id", item.instance.ID, "error", err)
	}

	failed := events.TriggerFailed{
		BaseEvent:   events.NewBaseEvent(events.TriggerFailedEvent, item.context.WorkflowID),
		TriggerID:   item.instance.ID,
		TriggerType: item.instance.TriggerType,
		Error:       errorMessage,
	}

	if _, err := m.bus.Publish(ctx, item.context.WorkflowID, failed); err != nil {
		m.logger.Warn("Failed to publish trigger failed event", "trigger_id", item.instance.ID, "error", err)
	}
}

func (m *Manager) counter() *executionCounter {
	return &executionCounter{executions: m.store.ExecutionRepository()}
}

// executionCounter adapts the execution repository to the rate-limit
// counter the processors consume.
type executionCounter struct {
	executions persistence.ExecutionRepository
}

func (c *executionCounter) CountExecutionsSince(ctx context.Context, workflowID string, since time.Time) (int, error) {
	return c.executions.CountSince(ctx, workflowID, since)
}
