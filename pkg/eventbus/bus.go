// Package eventbus carries lifecycle events between solver components.
//
// Every subscriber owns an unbounded FIFO, so Publish never blocks and each
// subscriber observes events in publish order. There is no ordering guarantee
// across subscribers. Sinks are fed from their own FIFO in the same way, so a
// slow broker never stalls a publisher.
package eventbus

import (
	"errors"
	"sync"

	"github.com/speedrun-hq/speedrun-solver/pkg/logger"
	"github.com/speedrun-hq/speedrun-solver/pkg/models"
)

var (
	// ErrNoSubscribers is returned when no subscription accepted a published event
	ErrNoSubscribers = errors.New("event has no subscribers")

	// ErrClosed is returned when publishing on a closed bus
	ErrClosed = errors.New("event bus closed")
)

// Sink receives a copy of every published event, e.g. to mirror it to an external broker
type Sink interface {
	Publish(event models.Event) error
}

// Bus is a process-wide multi-producer, multi-consumer event channel
type Bus struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	sinks  []*Subscription
	closed bool
	mirror sync.WaitGroup
	logger logger.Logger
}

// New creates an empty bus
func New(log logger.Logger) *Bus {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	return &Bus{
		subs:   make(map[*Subscription]struct{}),
		logger: log,
	}
}

// AddSink registers a mirror for published events. The sink is called from
// its own goroutine in publish order.
func (b *Bus) AddSink(sink Sink) {
	sub := newSubscription("sink", nil)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.sinks = append(b.sinks, sub)
	b.mirror.Add(1)
	b.mu.Unlock()

	go sub.pump()
	go func() {
		defer b.mirror.Done()
		for event := range sub.C() {
			if err := sink.Publish(event); err != nil {
				b.logger.Error("Failed to mirror event %s for order %s: %v", event.Kind, event.OrderID, err)
			}
		}
	}()
}

// Subscribe registers a subscriber. With no kinds it receives every event.
func (b *Bus) Subscribe(name string, kinds ...models.EventKind) *Subscription {
	sub := newSubscription(name, kinds)

	b.mu.Lock()
	if b.closed {
		sub.close()
	} else {
		b.subs[sub] = struct{}{}
	}
	b.mu.Unlock()

	go sub.pump()
	return sub
}

// Unsubscribe removes a subscriber and closes its channel
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	delete(b.subs, sub)
	b.mu.Unlock()
	sub.close()
}

// Publish delivers the event to every matching subscriber
func (b *Bus) Publish(event models.Event) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}

	delivered := 0
	for sub := range b.subs {
		if sub.accepts(event.Kind) {
			sub.enqueue(event)
			delivered++
		}
	}
	for _, sink := range b.sinks {
		sink.enqueue(event)
	}
	b.mu.RUnlock()

	if delivered == 0 {
		return ErrNoSubscribers
	}
	return nil
}

// SubscriberCount returns the number of registered subscribers
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes every subscription and stops the sinks. Events not yet
// mirrored are dropped. Further publishes fail with ErrClosed.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[*Subscription]struct{})
	sinks := b.sinks
	b.sinks = nil
	b.mu.Unlock()

	for sub := range subs {
		sub.close()
	}
	for _, sink := range sinks {
		sink.close()
	}
	b.mirror.Wait()
}

// Subscription is one subscriber's ordered view of the bus
type Subscription struct {
	name  string
	kinds map[models.EventKind]struct{}

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []models.Event
	closed bool

	out  chan models.Event
	done chan struct{}
	once sync.Once
}

func newSubscription(name string, kinds []models.EventKind) *Subscription {
	s := &Subscription{
		name: name,
		out:  make(chan models.Event),
		done: make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	if len(kinds) > 0 {
		s.kinds = make(map[models.EventKind]struct{}, len(kinds))
		for _, k := range kinds {
			s.kinds[k] = struct{}{}
		}
	}
	return s
}

// Name returns the subscriber name
func (s *Subscription) Name() string {
	return s.name
}

// C returns the channel events are delivered on. It is closed when the subscription ends.
func (s *Subscription) C() <-chan models.Event {
	return s.out
}

// Pending returns the number of queued events not yet received
func (s *Subscription) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *Subscription) accepts(kind models.EventKind) bool {
	if s.kinds == nil {
		return true
	}
	_, ok := s.kinds[kind]
	return ok
}

func (s *Subscription) enqueue(event models.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.queue = append(s.queue, event)
	s.cond.Signal()
}

func (s *Subscription) close() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.queue = nil
		s.cond.Broadcast()
		s.mu.Unlock()
		close(s.done)
	})
}

// pump moves queued events to the output channel one at a time
func (s *Subscription) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			s.mu.Unlock()
			return
		}
		event := s.queue[0]
		s.queue[0] = models.Event{}
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- event:
		case <-s.done:
			return
		}
	}
}
