// Package protocol defines the interfaces implemented by trigger
// handlers, processors, and validators, and the minimal collaborator
// interfaces they depend on.
package protocol

import (
	"context"
	"log/slog"
	"time"

	"github.com/cadenzahq/cadenza/pkg/models"
)

// TriggerHandler decides whether a configured trigger instance matches
// an event, and extracts normalized context data from it. MatchesEvent
// must be side-effect-free and fast; it runs for every candidate
// trigger on every event.
type TriggerHandler interface {
	MatchesEvent(instance *models.TriggerInstance, event models.Event) bool
	ExtractData(instance *models.TriggerInstance, event models.Event) map[string]any
}

// TriggerProcessor applies rate-limiting and time-window checks and
// prepares the final payload handed to workflow execution. A gate
// rejection is a non-error result with Success=false.
type TriggerProcessor interface {
	Process(ctx context.Context, instance *models.TriggerInstance, tctx *models.TriggerContext) (*models.TriggerResult, error)
}

// TriggerValidator checks the structural correctness of a trigger's
// stored configuration before it is allowed to run.
type TriggerValidator interface {
	Validate(instance *models.TriggerInstance, tctx *models.TriggerContext) models.ValidationResult
}

// ExecutionCounter answers trailing-window execution count queries for
// rate-limit gates.
type ExecutionCounter interface {
	CountExecutionsSince(ctx context.Context, workflowID string, since time.Time) (int, error)
}

// Factories are registered per trigger type; unknown types resolve to
// the basic fallback implementations.
type (
	HandlerFactory   func(logger *slog.Logger) TriggerHandler
	ProcessorFactory func(logger *slog.Logger, counter ExecutionCounter) TriggerProcessor
	ValidatorFactory func(logger *slog.Logger) TriggerValidator
)
