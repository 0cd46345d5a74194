package events

import (
	"sync"

	"escrowd/core/types"
)

// Event represents a structured state change emitted by the ledger.
type Event interface {
	EventType() string
}

// Emitter broadcasts events to downstream subscribers (e.g. RPC, indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter satisfies the Emitter interface while discarding all events. It
// is used when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// TypedEvent is the Event implementation carried by the escrow engines: a
// wrapped types.Event payload.
type TypedEvent struct {
	Evt *types.Event
}

func (e TypedEvent) EventType() string {
	if e.Evt == nil {
		return ""
	}
	return e.Evt.Type
}

// Capture buffers events so a caller can collect everything emitted during a
// single ledger call and either publish the batch or discard it when the call
// rolls back.
type Capture struct {
	mu     sync.Mutex
	events []types.Event
}

// Emit implements the Emitter interface.
func (c *Capture) Emit(evt Event) {
	typed, ok := evt.(TypedEvent)
	if !ok || typed.Evt == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, *typed.Evt)
}

// Drain returns the buffered events and resets the capture.
func (c *Capture) Drain() []types.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	drained := c.events
	c.events = nil
	return drained
}
