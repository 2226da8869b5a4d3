// Package eventbus provides event-driven communication infrastructure
// for trigger dispatch and recovery.
package eventbus

import (
	"context"

	"github.com/cadenzahq/cadenza/pkg/events"
)

type Event interface {
	GetType() events.EventType
}

// EventPublisher publishes an event and returns the opaque message ID
// usable as a task handle for fire-and-forget submissions.
type EventPublisher interface {
	Publish(ctx context.Context, key string, event Event) (string, error)
}

type EventSubscriber interface {
	Handle(eventType events.EventType, handler EventHandler) error
	Subscribe(ctx context.Context) error
}

type EventHandler func(ctx context.Context, event any) error

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
	GenerateID() string
}
