package link

import (
	"sync/atomic"
	"time"
)

// EventQueue is the ordered event channel behind a Transport's Events.
//
// EventMessage events wait up to the send timeout for space and are then
// dropped and counted. Connection lifecycle events are never dropped; Push
// waits until the consumer takes them.
type EventQueue struct {
	ch          chan Event
	sendTimeout time.Duration
	dropped     atomic.Uint64
	logger      Logger
}

// NewEventQueue creates a queue holding up to size events. logger may be nil.
func NewEventQueue(size int, sendTimeout time.Duration, logger Logger) *EventQueue {
	if logger == nil {
		logger = nopLogger{}
	}
	return &EventQueue{
		ch:          make(chan Event, size),
		sendTimeout: sendTimeout,
		logger:      logger,
	}
}

// Events returns the receive side of the queue.
func (q *EventQueue) Events() <-chan Event {
	return q.ch
}

// Push appends ev.
func (q *EventQueue) Push(ev Event) {
	select {
	case q.ch <- ev:
		return
	default:
	}

	if ev.Kind != EventMessage {
		q.logger.Warn("event queue full, waiting to deliver lifecycle event", "kind", ev.Kind.String())
		q.ch <- ev
		return
	}

	timer := time.NewTimer(q.sendTimeout)
	defer timer.Stop()
	select {
	case q.ch <- ev:
	case <-timer.C:
		n := q.dropped.Add(1)
		q.logger.Warn("event queue full, dropping message", "topic", ev.Topic, "dropped_total", n)
	}
}

// Dropped returns how many message events were discarded.
func (q *EventQueue) Dropped() uint64 {
	return q.dropped.Load()
}
