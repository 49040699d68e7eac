// Package memory contains an in-memory event publisher for tests and local runs.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/rankyak-pipeline/internal/content"
)

// Publisher stores published events for inspection.
type Publisher struct {
	mu     sync.RWMutex
	events []content.Event
	closed bool
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish records the event.
func (p *Publisher) Publish(_ context.Context, ev content.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return content.Errorf(content.CodeInternal, "publish event", "publisher closed")
	}
	p.events = append(p.events, ev)
	return nil
}

// Events returns the recorded events, optionally filtered by type.
func (p *Publisher) Events(types ...string) []content.Event {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]content.Event, 0, len(p.events))
	for _, ev := range p.events {
		if len(types) == 0 || contains(types, ev.Type) {
			out = append(out, ev)
		}
	}
	return out
}

// Close stops accepting events.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
