// Package bus provides multicast delivery of pipeline lifecycle events.
//
// Delivery is at-most-once and best-effort per subscriber: a subscriber with
// a full queue has the new event dropped (drop-newest) so that publishing
// never blocks the orchestrator. Late subscribers receive no history.
package bus

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// EventType tags a lifecycle event.
type EventType string

const (
	EventStageStarted   EventType = "stage_started"
	EventStageCompleted EventType = "stage_completed"
	EventStageFailed    EventType = "stage_failed"
	EventToolStarted    EventType = "tool_started"
	EventToolCompleted  EventType = "tool_completed"
	EventRunCompleted   EventType = "run_completed"
	EventError          EventType = "error"
)

// Severity indicates how serious an error event is.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Event is one lifecycle notification. SessionID correlates events across
// observers.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id"`
	Stage     string    `json:"stage,omitempty"`
	Tool      string    `json:"tool,omitempty"`
	Message   string    `json:"message,omitempty"`
	Severity  Severity  `json:"severity,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// subscriber is one bounded delivery queue.
type subscriber struct {
	id string
	ch chan Event
}

// Bus multicasts events to any number of subscribers.
//
// Bus is safe for concurrent use. Publish never blocks.
type Bus struct {
	mu      sync.RWMutex
	subs    map[string]*subscriber
	dropped atomic.Uint64
	onDrop  func()
}

// Option configures a Bus.
type Option func(*Bus)

// WithDropHook installs a callback invoked once per dropped event.
func WithDropHook(fn func()) Option {
	return func(b *Bus) { b.onDrop = fn }
}

// New creates an event bus.
func New(opts ...Option) *Bus {
	b := &Bus{subs: make(map[string]*subscriber)}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a new observer with the given queue capacity and
// returns its receive channel plus a cancel function. Cancelling closes the
// channel; pending events remain readable until drained.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	sub := &subscriber{
		id: uuid.NewString(),
		ch: make(chan Event, buffer),
	}

	b.mu.Lock()
	b.subs[sub.id] = sub
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[sub.id]; ok {
			delete(b.subs, sub.id)
			close(sub.ch)
		}
	}
	return sub.ch, cancel
}

// Publish delivers an event to every subscriber whose queue has room.
// A missing ID or timestamp is filled in.
func (b *Bus) Publish(event Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		select {
		case sub.ch <- event:
		default:
			b.dropped.Add(1)
			if b.onDrop != nil {
				b.onDrop()
			}
		}
	}
}

// Dropped returns the total number of events dropped across all subscribers.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
