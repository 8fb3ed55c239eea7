package runtime

import (
	"sync"
	"time"
)

// EventType represents the type of narrative event.
type EventType string

const (
	EventUploadRequired    EventType = "upload_required"
	EventSceneEntered      EventType = "scene_entered"
	EventGateSatisfied     EventType = "gate_satisfied"
	EventGestureProgress   EventType = "gesture_progress"
	EventTransitionStarted EventType = "transition_started"
	EventMediaSettled      EventType = "media_settled"
	EventControllerReset   EventType = "controller_reset"
	EventControllerClosed  EventType = "controller_closed"
)

// Event represents a narrative event with associated data.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Scene     int
	Data      map[string]interface{}
}

// EventHandler is a function that handles events.
type EventHandler func(Event)

// EventBus manages event publication and subscription.
// It lets the presentation layer follow the controller without polling.
type EventBus struct {
	mu          sync.RWMutex
	handlers    map[EventType][]EventHandler
	allHandlers []EventHandler
}

// NewEventBus creates a new event bus.
func NewEventBus() *EventBus {
	return &EventBus{
		handlers: make(map[EventType][]EventHandler),
	}
}

// Subscribe registers a handler for a specific event type.
func (eb *EventBus) Subscribe(eventType EventType, handler EventHandler) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.handlers[eventType] = append(eb.handlers[eventType], handler)
}

// SubscribeAll registers a handler for all event types.
func (eb *EventBus) SubscribeAll(handler EventHandler) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.allHandlers = append(eb.allHandlers, handler)
}

// Publish sends an event to all registered handlers.
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	// Set timestamp if not already set
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	// Notify specific handlers
	if handlers, ok := eb.handlers[event.Type]; ok {
		for _, handler := range handlers {
			handler(event)
		}
	}

	// Notify all-event handlers
	for _, handler := range eb.allHandlers {
		handler(event)
	}
}

// PublishSimple is a convenience method for publishing events without additional data.
func (eb *EventBus) PublishSimple(eventType EventType, scene int) {
	eb.Publish(Event{
		Type:  eventType,
		Scene: scene,
	})
}

// PublishWithData publishes an event with associated data.
func (eb *EventBus) PublishWithData(eventType EventType, scene int, data map[string]interface{}) {
	eb.Publish(Event{
		Type:  eventType,
		Scene: scene,
		Data:  data,
	})
}
