// Package memory implements an in-process completion event publisher.
package memory

import (
	"context"
	"sync"

	"github.com/loferreiranuno/momarq-crawler/internal/crawler"
)

// Publisher records published events for inspection. Used by tests and
// by deployments without a message broker.
type Publisher struct {
	mu     sync.Mutex
	events []crawler.CompletionEvent
}

// New constructs an empty publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish appends the event to the in-memory log.
func (p *Publisher) Publish(_ context.Context, event crawler.CompletionEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

// Events returns a copy of everything published so far.
func (p *Publisher) Events() []crawler.CompletionEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]crawler.CompletionEvent, len(p.events))
	copy(out, p.events)
	return out
}
