// Package memory records capture events in-process. It stands in for the
// Pub/Sub publisher during development and in tests.
package memory

import (
	"context"
	"fmt"
	"sync"
)

// Publisher keeps every published capture event for later inspection.
type Publisher struct {
	mu     sync.RWMutex
	events []CaptureEvent
}

// CaptureEvent is one recorded publish: the event name, such as
// capture.completed or capture.failed, and the payload handed to Publish.
type CaptureEvent struct {
	Event   string
	Payload any
}

// New returns an empty in-process publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish records the capture event and returns a pseudo message ID.
func (p *Publisher) Publish(_ context.Context, event string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, CaptureEvent{Event: event, Payload: payload})
	return fmt.Sprintf("memory-%d", len(p.events)), nil
}

// Events returns a copy of the recorded capture events in publish order.
func (p *Publisher) Events() []CaptureEvent {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]CaptureEvent, len(p.events))
	copy(out, p.events)
	return out
}
