package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/cadenzahq/cadenza/pkg/models"
	"github.com/cadenzahq/cadenza/pkg/persistence"
)

const scheduledTriggerType = "scheduled"

// Scheduler turns cron expressions on scheduled trigger instances
// into schedule_due events. Instances are reloaded periodically so
// newly saved schedules start firing without a restart.
type Scheduler struct {
	logger         *slog.Logger
	triggers       persistence.TriggerRepository
	sink           EventSink
	reloadInterval time.Duration

	mu   sync.Mutex
	cron *cron.Cron
	ids  map[string]cron.EntryID
}

func NewScheduler(logger *slog.Logger, triggers persistence.TriggerRepository, sink EventSink) *Scheduler {
	return &Scheduler{
		logger:         logger.With("module", "scheduler"),
		triggers:       triggers,
		sink:           sink,
		reloadInterval: time.Minute,
		cron:           cron.New(),
		ids:            make(map[string]cron.EntryID),
	}
}

// Start begins firing schedules and keeps the entry set in sync with
// the store until the context is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.reload(ctx); err != nil {
		return err
	}

	s.cron.Start()

	go func() {
		ticker := time.NewTicker(s.reloadInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				readyCtx := s.cron.Stop()
				<-readyCtx.Done()

				return
			case <-ticker.C:
				if err := s.reload(ctx); err != nil {
					s.logger.Error("Schedule reload failed", "error", err)
				}
			}
		}
	}()

	return nil
}

// reload reconciles cron entries with the active scheduled trigger
// instances: new instances are added, removed ones unscheduled.
func (s *Scheduler) reload(ctx context.Context) error {
	instances, err := s.triggers.ActiveByType(ctx, scheduledTriggerType)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	active := make(map[string]bool, len(instances))

	for _, instance := range instances {
		active[instance.ID] = true

		if _, scheduled := s.ids[instance.ID]; scheduled {
			continue
		}

		expr, _ := instance.Config["cron"].(string)
		if expr == "" {
			s.logger.Warn("Scheduled trigger missing cron expression", "trigger_id", instance.ID)

			continue
		}

		triggerID := instance.ID

		entryID, err := s.cron.AddFunc(expr, func() { s.fire(triggerID) })
		if err != nil {
			s.logger.Error("Invalid cron expression", "trigger_id", instance.ID, "cron", expr, "error", err)

			continue
		}

		s.ids[instance.ID] = entryID
		s.logger.Info("Schedule registered", "trigger_id", instance.ID, "cron", expr)
	}

	for id, entryID := range s.ids {
		if !active[id] {
			s.cron.Remove(entryID)
			delete(s.ids, id)
			s.logger.Info("Schedule removed", "trigger_id", id)
		}
	}

	return nil
}

func (s *Scheduler) fire(triggerID string) {
	event := models.NewEvent(models.EventScheduleDue, "scheduler", map[string]any{
		"trigger_id": triggerID,
		"due_at":     time.Now().UTC().Format(time.RFC3339),
	})

	if err := s.sink.HandleEvent(context.Background(), event); err != nil {
		s.logger.Error("Schedule dispatch failed", "trigger_id", triggerID, "error", err)
	}
}
