// Package models defines the core domain models for the trigger and
// recovery orchestration engine.
package models

import "time"

// EventType identifies the class of occurrence an Event describes.
type EventType string

const (
	EventRecordCreated   EventType = "record_created"
	EventRecordUpdated   EventType = "record_updated"
	EventRecordDeleted   EventType = "record_deleted"
	EventEmailReceived   EventType = "email_received"
	EventMessageReceived EventType = "message_received"
	EventWebhookReceived EventType = "webhook_received"
	EventScheduleDue     EventType = "schedule_due"
)

// Event is an immutable record describing something that happened.
// Events are created at the moment of occurrence and never mutated;
// trigger handlers only read them.
type Event struct {
	EventType EventType      `json:"event_type" validate:"required"`
	EventData map[string]any `json:"event_data"`
	Source    string         `json:"source"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// NewEvent builds an Event stamped with the current UTC time.
func NewEvent(eventType EventType, source string, data map[string]any) Event {
	return Event{
		EventType: eventType,
		EventData: data,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Metadata:  make(map[string]any),
	}
}

// EntityID returns the identifier of the entity the event is about, if
// the payload carries one. Used for dedup keying.
func (e Event) EntityID() string {
	for _, key := range []string{"record_id", "message_id", "entity_id", "workflow_id"} {
		if v, ok := e.EventData[key].(string); ok && v != "" {
			return v
		}
	}

	return ""
}
