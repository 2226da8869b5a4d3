// Package standard implements the default trigger processor and
// validator shared by all built-in trigger types.
package standard

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cadenzahq/cadenza/pkg/models"
	"github.com/cadenzahq/cadenza/pkg/protocol"
)

// PrepareDataFunc shapes the payload handed to workflow execution.
// The default passes the trigger context metadata through.
type PrepareDataFunc func(instance *models.TriggerInstance, tctx *models.TriggerContext) map[string]any

// PostProcessFunc runs after a successful gate pass, before the result
// is returned.
type PostProcessFunc func(instance *models.TriggerInstance, result *models.TriggerResult)

// Processor applies the standard processing pipeline: prepare data,
// rate-limit gate, time-window gate, post-process hook. A gate
// rejection is a legitimate "should not execute now" outcome, not an
// error.
type Processor struct {
	logger      *slog.Logger
	counter     protocol.ExecutionCounter
	prepareData PrepareDataFunc
	postProcess PostProcessFunc
	now         func() time.Time
}

// Option customizes a Processor.
type Option func(*Processor)

// WithPrepareData overrides the default pass-through data preparation.
func WithPrepareData(fn PrepareDataFunc) Option {
	return func(p *Processor) { p.prepareData = fn }
}

// WithPostProcess installs a post-process hook.
func WithPostProcess(fn PostProcessFunc) Option {
	return func(p *Processor) { p.postProcess = fn }
}

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

func NewProcessor(logger *slog.Logger, counter protocol.ExecutionCounter, opts ...Option) *Processor {
	p := &Processor{
		logger:  logger.With("module", "standard_processor"),
		counter: counter,
		now:     time.Now,
	}

	p.prepareData = func(_ *models.TriggerInstance, tctx *models.TriggerContext) map[string]any {
		return tctx.Metadata
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

func (p *Processor) Process(ctx context.Context, instance *models.TriggerInstance, tctx *models.TriggerContext) (*models.TriggerResult, error) {
	started := p.now()

	data := p.prepareData(instance, tctx)

	if reason, ok, err := p.checkRateLimits(ctx, instance); err != nil {
		return nil, fmt.Errorf("rate limit check: %w", err)
	} else if !ok {
		return p.rejected(tctx, started, reason), nil
	}

	if reason, ok := p.checkTimeConditions(instance); !ok {
		return p.rejected(tctx, started, reason), nil
	}

	result := &models.TriggerResult{
		Success:          true,
		TriggerID:        tctx.TriggerID,
		WorkflowID:       tctx.WorkflowID,
		Message:          "trigger processed",
		Data:             data,
		ProcessingTimeMs: p.now().Sub(started).Milliseconds(),
		CreatedAt:        p.now().UTC(),
	}

	if p.postProcess != nil {
		p.postProcess(instance, result)
	}

	return result, nil
}

func (p *Processor) rejected(tctx *models.TriggerContext, started time.Time, reason string) *models.TriggerResult {
	p.logger.Info("Trigger gated, skipping execution",
		"trigger_id", tctx.TriggerID, "workflow_id", tctx.WorkflowID, "reason", reason)

	return &models.TriggerResult{
		Success:    false,
		TriggerID:  tctx.TriggerID,
		WorkflowID: tctx.WorkflowID,
		Message:    reason,
		Data: map[string]any{
			"should_execute": false,
			"reason":         reason,
		},
		ProcessingTimeMs: p.now().Sub(started).Milliseconds(),
		CreatedAt:        p.now().UTC(),
	}
}

// checkRateLimits compares executions started in the trailing windows
// against the instance's configured maxima. Zero maxima disable the
// corresponding gate.
func (p *Processor) checkRateLimits(ctx context.Context, instance *models.TriggerInstance) (string, bool, error) {
	if p.counter == nil {
		return "", true, nil
	}

	now := p.now()

	windows := []struct {
		max    int
		window time.Duration
		label  string
	}{
		{instance.MaxExecutionsPerMinute, time.Minute, "minute"},
		{instance.MaxExecutionsPerHour, time.Hour, "hour"},
		{instance.MaxExecutionsPerDay, 24 * time.Hour, "day"},
	}

	for _, w := range windows {
		if w.max <= 0 {
			continue
		}

		count, err := p.counter.CountExecutionsSince(ctx, instance.WorkflowID, now.Add(-w.window))
		if err != nil {
			return "", false, err
		}

		if count >= w.max {
			return fmt.Sprintf("rate limit reached: %d executions in the last %s (max %d)",
				count, w.label, w.max), false, nil
		}
	}

	return "", true, nil
}

// checkTimeConditions enforces the configured HH:MM window, which may
// cross midnight, and the allowed days of week.
func (p *Processor) checkTimeConditions(instance *models.TriggerInstance) (string, bool) {
	raw, ok := instance.Config["time_conditions"].(map[string]any)
	if !ok {
		return "", true
	}

	now := p.now()

	if days, ok := raw["days_of_week"].([]any); ok && len(days) > 0 {
		if !dayAllowed(now.Weekday(), days) {
			return fmt.Sprintf("outside allowed days of week (today is %s)", now.Weekday()), false
		}
	}

	start, startOK := parseClock(raw["start_time"])
	end, endOK := parseClock(raw["end_time"])

	if !startOK || !endOK {
		return "", true
	}

	minuteOfDay := now.Hour()*60 + now.Minute()

	inWindow := false
	if start <= end {
		inWindow = minuteOfDay >= start && minuteOfDay <= end
	} else {
		// Window crosses midnight, e.g. 22:00-06:00.
		inWindow = minuteOfDay >= start || minuteOfDay <= end
	}

	if !inWindow {
		return fmt.Sprintf("outside allowed time window %02d:%02d-%02d:%02d",
			start/60, start%60, end/60, end%60), false
	}

	return "", true
}

func dayAllowed(day time.Weekday, allowed []any) bool {
	for _, entry := range allowed {
		switch v := entry.(type) {
		case float64:
			if int(v) == int(day) {
				return true
			}
		case int:
			if v == int(day) {
				return true
			}
		case string:
			if strings.EqualFold(v, day.String()) {
				return true
			}
		}
	}

	return false
}

// parseClock converts an "HH:MM" string into minutes after midnight.
func parseClock(v any) (int, bool) {
	s, ok := v.(string)
	if !ok {
		return 0, false
	}

	var hour, minute int
	if _, err := fmt.Sscanf(s, "%d:%d", &hour, &minute); err != nil {
		return 0, false
	}

	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, false
	}

	return hour*60 + minute, true
}
