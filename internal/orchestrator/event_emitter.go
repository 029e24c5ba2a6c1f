package orchestrator

import (
	"sync"
	"sync/atomic"

	"github.com/ShayCichocki/fleet/internal/logging"
)

// EventEmitter publishes events on a buffered channel. Emit never blocks:
// when the buffer is full the event is dropped and counted.
type EventEmitter struct {
	events       chan Event
	droppedCount atomic.Uint64
	logger       *logging.Logger
	closeOnce    sync.Once
	mu           sync.RWMutex
	closed       bool
}

// NewEventEmitter creates an EventEmitter with the given buffer size.
func NewEventEmitter(bufferSize int, logger *logging.Logger) *EventEmitter {
	if bufferSize < 0 {
		bufferSize = 0
	}
	return &EventEmitter{
		events: make(chan Event, bufferSize),
		logger: logging.OrNop(logger),
	}
}

// Emit sends an event, dropping it if no buffer space is free.
func (e *EventEmitter) Emit(event Event) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return
	}

	select {
	case e.events <- event:
	default:
		count := e.droppedCount.Add(1)
		if count%10 == 1 {
			e.logger.Warn("event channel full, dropped event", "type", string(event.Type), "dropped", count)
		}
	}
}

// DroppedCount returns the number of dropped events.
func (e *EventEmitter) DroppedCount() uint64 {
	return e.droppedCount.Load()
}

// Events returns the read side of the event channel.
func (e *EventEmitter) Events() <-chan Event {
	return e.events
}

// Close closes the event channel. Later Emit calls are ignored.
func (e *EventEmitter) Close() {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.closed = true
		close(e.events)
		e.mu.Unlock()
	})
}
