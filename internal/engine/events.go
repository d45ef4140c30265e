package engine

import (
	"time"

	"github.com/micro-ha/intercom-bridge/addon/internal/model"
)

type EventType string

const (
	// EventRing fires once per doorbell press (rising edge into ringing).
	EventRing EventType = "ring"
	// EventAvailability fires when the device transitions up or down.
	EventAvailability EventType = "availability"
	// EventActuation fires after every relay actuation attempt.
	EventActuation EventType = "actuation"
)

// Event is pushed to subscribers outside the poll lock.
type Event struct {
	Type      EventType         `json:"type"`
	At        time.Time         `json:"at"`
	Caller    *model.CallerInfo `json:"caller,omitempty"`
	Available bool              `json:"available,omitempty"`

	Relay      int    `json:"relay,omitempty"`
	Action     string `json:"action,omitempty"`
	DurationMs int    `json:"duration_ms,omitempty"`
	Success    bool   `json:"success,omitempty"`
}

// Subscribe registers a callback for engine events and returns its
// unsubscribe function. Callbacks run synchronously on the emitting
// goroutine and must not block.
func (e *Engine) Subscribe(fn func(Event)) func() {
	e.mu.Lock()
	id := e.nextSubID
	e.nextSubID++
	e.subscribers[id] = fn
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		delete(e.subscribers, id)
		e.mu.Unlock()
	}
}

func (e *Engine) emit(event Event) {
	e.mu.Lock()
	fns := make([]func(Event), 0, len(e.subscribers))
	for _, fn := range e.subscribers {
		fns = append(fns, fn)
	}
	e.mu.Unlock()

	for _, fn := range fns {
		fn(event)
	}
}
