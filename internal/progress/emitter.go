package progress

import (
	"fmt"
	"sync"
)

// Emitter fans progress and log events out to an observer channel. Sends
// never block: when the observer falls behind, events are dropped rather
// than stalling the orchestrator. A nil *Emitter is valid and discards
// everything, so orchestrators never nil-check.
type Emitter struct {
	mu     sync.Mutex
	events chan Event
	logs   chan string
	closed bool
}

// NewEmitter creates an emitter whose channels buffer up to size events.
func NewEmitter(size int) *Emitter {
	if size <= 0 {
		size = 64
	}
	return &Emitter{
		events: make(chan Event, size),
		logs:   make(chan string, size),
	}
}

// Events is the ordered stream of progress events for observers.
func (e *Emitter) Events() <-chan Event {
	if e == nil {
		return nil
	}
	return e.events
}

// Logs is the stream of log lines for observers.
func (e *Emitter) Logs() <-chan string {
	if e == nil {
		return nil
	}
	return e.logs
}

// Progress emits a phase event. Dropped silently when the buffer is full.
func (e *Emitter) Progress(phase Phase, current, total int, message string) {
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	select {
	case e.events <- Event{Phase: phase, Current: current, Total: total, Message: message}:
	default:
	}
}

// Logf emits a formatted log line. Dropped silently when the buffer is full.
func (e *Emitter) Logf(format string, args ...interface{}) {
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	select {
	case e.logs <- fmt.Sprintf(format, args...):
	default:
	}
}

// Close ends both streams. Safe to call more than once.
func (e *Emitter) Close() {
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	close(e.events)
	close(e.logs)
}
