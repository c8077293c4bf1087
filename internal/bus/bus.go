// Package bus provides an in-process event bus that decouples turn
// processing from metrics and journaling.
package bus

import (
	"sync"
	"time"
)

// EventType identifies different event types
type EventType string

const (
	// Connection events
	EventTypeConnectionOpened EventType = "connection.opened"
	EventTypeConnectionClosed EventType = "connection.closed"

	// Turn lifecycle events
	EventTypeTurnStarted   EventType = "turn.started"
	EventTypeTurnCompleted EventType = "turn.completed"
	EventTypeTurnFailed    EventType = "turn.failed"

	// Cache events
	EventTypeCacheHit  EventType = "cache.hit"
	EventTypeCacheMiss EventType = "cache.miss"

	// EventTypeAdapterFallback fires when an emotion, llm or tts call failed
	// and a local fallback was used.
	EventTypeAdapterFallback EventType = "adapter.fallback"
)

// AllEventTypes lists every event the service publishes.
var AllEventTypes = []EventType{
	EventTypeConnectionOpened,
	EventTypeConnectionClosed,
	EventTypeTurnStarted,
	EventTypeTurnCompleted,
	EventTypeTurnFailed,
	EventTypeCacheHit,
	EventTypeCacheMiss,
	EventTypeAdapterFallback,
}

// Event represents a bus event
type Event struct {
	Type         EventType
	ConnectionID string
	Time         time.Time
	Data         map[string]any
}

// NewEvent creates an event stamped with the current time.
func NewEvent(t EventType, connID string, data map[string]any) Event {
	return Event{Type: t, ConnectionID: connID, Time: time.Now(), Data: data}
}

// String returns Data[key] as a string, or "".
func (e Event) String(key string) string {
	s, _ := e.Data[key].(string)
	return s
}

// Float returns Data[key] as a float64, or 0.
func (e Event) Float(key string) float64 {
	switch v := e.Data[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case time.Duration:
		return v.Seconds()
	}
	return 0
}

// Bool returns Data[key] as a bool, or false.
func (e Event) Bool(key string) bool {
	b, _ := e.Data[key].(bool)
	return b
}

// Handler is a function that handles events
type Handler func(Event)

// EventBus is a simple pub/sub event bus
type EventBus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	wg       sync.WaitGroup
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		handlers: make(map[EventType][]Handler),
	}
}

// Subscribe adds a handler for an event type
func (b *EventBus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// SubscribeMultiple adds a handler for multiple event types
func (b *EventBus) SubscribeMultiple(eventTypes []EventType, handler Handler) {
	for _, et := range eventTypes {
		b.Subscribe(et, handler)
	}
}

func (b *EventBus) snapshot(t EventType) []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	handlers := make([]Handler, len(b.handlers[t]))
	copy(handlers, b.handlers[t])
	return handlers
}

// Publish sends an event to all subscribed handlers without blocking.
// A nil bus drops the event.
func (b *EventBus) Publish(event Event) {
	if b == nil {
		return
	}
	for _, handler := range b.snapshot(event.Type) {
		b.wg.Add(1)
		go func(h Handler) {
			defer b.wg.Done()
			h(event)
		}(handler)
	}
}

// PublishSync sends an event and waits for all handlers to complete
func (b *EventBus) PublishSync(event Event) {
	if b == nil {
		return
	}
	var wg sync.WaitGroup
	for _, handler := range b.snapshot(event.Type) {
		wg.Add(1)
		go func(h Handler) {
			defer wg.Done()
			h(event)
		}(handler)
	}
	wg.Wait()
}

// Wait blocks until every handler started by Publish has returned.
func (b *EventBus) Wait() {
	if b == nil {
		return
	}
	b.wg.Wait()
}

// Clear removes all handlers
func (b *EventBus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = make(map[EventType][]Handler)
}
