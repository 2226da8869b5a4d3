package dispatch

import (
	"errors"

	"github.com/cadenzahq/cadenza/pkg/models"
)

// ErrQueueFull is returned when a priority tier's buffer is exhausted.
var ErrQueueFull = errors.New("trigger queue full")

// queuedTrigger is one matched event x trigger pair awaiting
// validation and processing.
type queuedTrigger struct {
	instance *models.TriggerInstance
	context  *models.TriggerContext
	event    models.Event
}

// priorityQueues holds four independent FIFO queues, one per priority
// tier, so lower-priority backlogs never block higher-priority
// processing. Ordering within a tier is FIFO; across tiers it is
// priority-first.
type priorityQueues struct {
	queues map[models.TriggerPriority]chan queuedTrigger
}

func newPriorityQueues(capacity int) *priorityQueues {
	queues := make(map[models.TriggerPriority]chan queuedTrigger, len(models.Priorities))
	for _, priority := range models.Priorities {
		queues[priority] = make(chan queuedTrigger, capacity)
	}

	return &priorityQueues{queues: queues}
}

// enqueue adds the item to its tier without blocking; a full tier
// rejects the item rather than stalling event intake.
func (pq *priorityQueues) enqueue(priority models.TriggerPriority, item queuedTrigger) error {
	queue, ok := pq.queues[priority]
	if !ok {
		queue = pq.queues[models.PriorityMedium]
	}

	select {
	case queue <- item:
		return nil
	default:
		return ErrQueueFull
	}
}

// tier returns the channel for one priority level.
func (pq *priorityQueues) tier(priority models.TriggerPriority) <-chan queuedTrigger {
	return pq.queues[priority]
}

// depth reports the current number of queued items per tier.
func (pq *priorityQueues) depth() map[models.TriggerPriority]int {
	depths := make(map[models.TriggerPriority]int, len(pq.queues))
	for priority, queue := range pq.queues {
		depths[priority] = len(queue)
	}

	return depths
}
