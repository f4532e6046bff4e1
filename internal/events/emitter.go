package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Emitter is a thread-safe, buffered event fan-out point. Emission never
// blocks callers indefinitely: when the buffer is full the emitter waits
// briefly for the subscriber to drain and then drops the event, counting
// the drop.
type Emitter struct {
	events       chan Event
	droppedCount atomic.Uint64

	closeOnce sync.Once
}

// NewEmitter creates an Emitter with the given buffer size.
func NewEmitter(bufferSize int) *Emitter {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &Emitter{events: make(chan Event, bufferSize)}
}

// Emit sends an event to the channel. If the channel is full it retries
// with a short timeout before dropping the event.
func (e *Emitter) Emit(event Event) {
	// Try immediate send first.
	select {
	case e.events <- event:
		return
	default:
	}

	// Channel full; give the receiver a chance to drain.
	select {
	case e.events <- event:
	case <-time.After(100 * time.Millisecond):
		e.droppedCount.Add(1)
	}
}

// DroppedCount returns the total number of events dropped so far.
func (e *Emitter) DroppedCount() uint64 {
	return e.droppedCount.Load()
}

// Events returns the read-only channel subscribers consume from.
func (e *Emitter) Events() <-chan Event {
	return e.events
}

// Close closes the event channel. Safe to call more than once.
func (e *Emitter) Close() {
	e.closeOnce.Do(func() { close(e.events) })
}
