package eventbus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// EventType represents the type of event
type EventType string

const (
	EventTypeStatus       EventType = "status"
	EventTypeOverlay      EventType = "overlay"
	EventTypeNotification EventType = "notification"
)

// DefaultQueueSize is the default event queue size
const DefaultQueueSize = 100

// Event represents an event in the system
type Event struct {
	Type EventType
	At   time.Time
	Data any
}

// Handler is a function that handles events
type Handler func(Event)

type subscription struct {
	handler Handler
	active  atomic.Bool
}

// work represents a unit of work for the delivery worker
type work struct {
	event Event
	sub   *subscription
}

// Bus fans events out to subscribers without blocking publishers.
//
// A single worker drains the queue, so every subscriber sees events in
// publish order. The latest event of each type is retained and replayed to
// new subscribers of that type.
type Bus struct {
	mu       sync.Mutex
	handlers map[EventType][]*subscription
	latest   map[EventType]Event
	closed   bool

	workQueue chan work
	wg        sync.WaitGroup

	closing   chan struct{}
	closeOnce sync.Once
}

// New creates a new event bus with default settings
func New() *Bus {
	return NewWithQueueSize(DefaultQueueSize)
}

// NewWithQueueSize creates a new event bus with a custom queue size
func NewWithQueueSize(queueSize int) *Bus {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	b := &Bus{
		handlers:  make(map[EventType][]*subscription),
		latest:    make(map[EventType]Event),
		workQueue: make(chan work, queueSize),
		closing:   make(chan struct{}),
	}

	b.wg.Add(1)
	go b.worker()

	log.Debug().Int("queue_size", queueSize).Msg("Event bus worker started")
	return b
}

// worker delivers queued events
func (b *Bus) worker() {
	defer b.wg.Done()

	for w := range b.workQueue {
		if !w.sub.active.Load() {
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error().
						Interface("panic", r).
						Str("event_type", string(w.event.Type)).
						Msg("Event handler panicked")
				}
			}()
			w.sub.handler(w.event)
		}()
	}
}

// Subscribe registers a handler for a specific event type and returns a
// function that removes it. If an event of that type was published before,
// the latest one is delivered to the new handler first.
func (b *Bus) Subscribe(eventType EventType, handler Handler) (unsubscribe func()) {
	sub := &subscription{handler: handler}
	sub.active.Store(true)

	b.mu.Lock()
	b.handlers[eventType] = append(b.handlers[eventType], sub)
	if last, ok := b.latest[eventType]; ok && !b.closed {
		b.enqueue(work{event: last, sub: sub})
	}
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.unsubscribe(eventType, sub) })
	}
}

func (b *Bus) unsubscribe(eventType EventType, sub *subscription) {
	sub.active.Store(false)

	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.handlers[eventType]
	for i, s := range subs {
		if s == sub {
			b.handlers[eventType] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
}

// Publish sends an event to all subscribed handlers.
// Non-blocking: if the work queue is full or bus is closed, events are dropped.
func (b *Bus) Publish(event Event) {
	if event.At.IsZero() {
		event.At = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		log.Warn().Str("event_type", string(event.Type)).Msg("Event bus closing, dropping event")
		return
	}

	b.latest[event.Type] = event
	for _, sub := range b.handlers[event.Type] {
		b.enqueue(work{event: event, sub: sub})
	}
}

// enqueue must be called with mu held.
func (b *Bus) enqueue(w work) {
	select {
	case b.workQueue <- w:
	default:
		log.Warn().
			Str("event_type", string(w.event.Type)).
			Msg("Event bus queue full, dropping event")
	}
}

// Latest returns the most recently published event of a type.
func (b *Bus) Latest(eventType EventType) (Event, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.latest[eventType]
	return e, ok
}

// Subscribers returns the number of handlers registered for a type.
func (b *Bus) Subscribers(eventType EventType) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handlers[eventType])
}

// Close stops accepting events and waits for queued deliveries to finish.
func (b *Bus) Close(ctx context.Context) {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		close(b.closing)
		close(b.workQueue)
		b.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Debug().Msg("Event bus worker stopped gracefully")
	case <-ctx.Done():
		log.Warn().Msg("Event bus shutdown timed out, some events may be lost")
	}
}

// Done is closed once the bus starts shutting down.
func (b *Bus) Done() <-chan struct{} {
	return b.closing
}
