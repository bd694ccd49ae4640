package mocks

import (
	"sync"

	"github.com/speedrun-hq/speedrun-solver/pkg/models"
)

// Publisher records published events
type Publisher struct {
	mu     sync.Mutex
	events []models.Event
	Err    error
}

func (p *Publisher) Publish(event models.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.Err
}

// Events returns a copy of everything published so far
func (p *Publisher) Events() []models.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.Event(nil), p.events...)
}

// Kinds returns the kinds published for an order, in order
func (p *Publisher) Kinds(orderID string) []models.EventKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	var kinds []models.EventKind
	for _, e := range p.events {
		if e.OrderID == orderID {
			kinds = append(kinds, e.Kind)
		}
	}
	return kinds
}

// Count returns how many events of kind were published
func (p *Publisher) Count(kind models.EventKind) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

// Last returns the most recent event of kind
func (p *Publisher) Last(kind models.EventKind) (models.Event, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.events) - 1; i >= 0; i-- {
		if p.events[i].Kind == kind {
			return p.events[i], true
		}
	}
	return models.Event{}, false
}

// Reset forgets recorded events
func (p *Publisher) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = nil
}
