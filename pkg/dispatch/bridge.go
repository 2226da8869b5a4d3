package dispatch

import (
	"context"
	"log/slog"

	"github.com/cadenzahq/cadenza/pkg/models"
)

// EventSink receives events for trigger matching. Manager satisfies it.
type EventSink interface {
	HandleEvent(ctx context.Context, event models.Event) error
}

// Bridge turns synchronous application callbacks, record saves and
// deletes and inbound messages, into events on a bounded channel so
// the caller's save path never blocks on trigger matching. When the
// channel is full the event is dropped with a log line rather than
// stalling the producer.
type Bridge struct {
	logger    *slog.Logger
	sink      EventSink
	snapshots *SnapshotStore
	ch        chan models.Event
}

func NewBridge(logger *slog.Logger, sink EventSink, snapshots *SnapshotStore, capacity int) *Bridge {
	if capacity <= 0 {
		capacity = 256
	}

	return &Bridge{
		logger:    logger.With("module", "dispatch_bridge"),
		sink:      sink,
		snapshots: snapshots,
		ch:        make(chan models.Event, capacity),
	}
}

// Run drains the channel into the sink until the context is
// cancelled.
func (b *Bridge) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-b.ch:
			if err := b.sink.HandleEvent(ctx, event); err != nil {
				b.logger.Error("Event handling failed", "event_type", event.EventType, "error", err)
			}
		}
	}
}

// Emit queues an arbitrary event without blocking.
func (b *Bridge) Emit(event models.Event) {
	select {
	case b.ch <- event:
	default:
		b.logger.Warn("Event dropped, bridge channel full", "event_type", event.EventType)
	}
}

// BeforeRecordSave captures the record's current values so the
// post-save event can report what changed.
func (b *Bridge) BeforeRecordSave(recordID string, values map[string]any) {
	b.snapshots.Capture(recordID, values)
}

// RecordSaved emits a record_created or record_updated event. For
// updates, the snapshot captured before the save becomes the
// original_values block trigger handlers compare against.
func (b *Bridge) RecordSaved(recordID string, record map[string]any, created bool) {
	data := map[string]any{
		"record_id": recordID,
		"record":    record,
	}

	eventType := models.EventRecordCreated

	if !created {
		eventType = models.EventRecordUpdated

		if original, ok := b.snapshots.Take(recordID); ok {
			data["original_values"] = original
		}
	} else {
		b.snapshots.Discard(recordID)
	}

	b.Emit(models.NewEvent(eventType, "record_bridge", data))
}

// RecordDeleted emits a record_deleted event carrying the final state
// of the record.
func (b *Bridge) RecordDeleted(recordID string, record map[string]any) {
	b.snapshots.Discard(recordID)

	b.Emit(models.NewEvent(models.EventRecordDeleted, "record_bridge", map[string]any{
		"record_id": recordID,
		"record":    record,
	}))
}

// MessageReceived emits a communication event for an inbound email or
// chat message.
func (b *Bridge) MessageReceived(eventType models.EventType, message map[string]any) {
	b.Emit(models.NewEvent(eventType, "message_bridge", map[string]any{
		"message":    message,
		"message_id": message["id"],
	}))
}
