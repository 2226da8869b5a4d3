// Package persistence provides standardized error types for storage
// operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	ErrWorkflowNotFound      = errors.New("workflow not found")
	ErrTriggerNotFound       = errors.New("trigger instance not found")
	ErrExecutionNotFound     = errors.New("execution not found")
	ErrCheckpointNotFound    = errors.New("checkpoint not found")
	ErrStrategyNotFound      = errors.New("recovery strategy not found")
	ErrRecoveryLogNotFound   = errors.New("recovery log not found")
	ErrReplaySessionNotFound = errors.New("replay session not found")

	// ErrSequenceConflict is returned when a checkpoint insert collides
	// with an existing (execution_id, sequence_number) pair. Callers
	// re-read the maximum and retry with the next number.
	ErrSequenceConflict = errors.New("checkpoint sequence number already taken")
)

// StoreError wraps storage errors with operation context.
type StoreError struct {
	Op     string // Operation being performed (e.g. "GetByID", "Save")
	Entity string // Entity kind (e.g. "checkpoint", "strategy")
	ID     string // Entity ID if applicable
	Err    error  // Underlying error
}

func (e *StoreError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s %s %s: %v", e.Op, e.Entity, e.ID, e.Err)
	}

	return fmt.Sprintf("%s %s: %v", e.Op, e.Entity, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func (e *StoreError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewStoreError creates a storage error with context.
func NewStoreError(op, entity, id string, err error) *StoreError {
	return &StoreError{Op: op, Entity: entity, ID: id, Err: err}
}

// IsNotFound reports whether the error is any of the not-found
// sentinels.
func IsNotFound(err error) bool {
	for _, sentinel := range []error{
		ErrWorkflowNotFound,
		ErrTriggerNotFound,
		ErrExecutionNotFound,
		ErrCheckpointNotFound,
		ErrStrategyNotFound,
		ErrRecoveryLogNotFound,
		ErrReplaySessionNotFound,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}

	return false
}
