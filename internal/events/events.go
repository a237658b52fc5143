package events

import (
	"sync"
	"time"
)

// Settings lifecycle topics published by the session controller.
const (
	TypeLoaded     = "settings.loaded"
	TypeLoadFailed = "settings.load_failed"
	TypeEdited     = "settings.edited"
	TypeSaved      = "settings.saved"
	TypeSaveFailed = "settings.save_failed"
)

// Save triggers, carried on saved/save_failed events.
const (
	TriggerAuto   = "auto"
	TriggerManual = "manual"
)

// Event is one step of a settings session lifecycle.
type Event struct {
	Type        string
	WorkspaceID string
	UserID      string
	Trigger     string   // auto or manual, save events only
	Fields      []string // wire names of changed fields, edit and save events
	Detail      string   // error message on *_failed events
	RequestID   string
	Payload     []byte // JSON snapshot of the record, when one exists
	CreatedAt   time.Time
}

// EventHandler reacts to an event.
type EventHandler func(event Event) error

// EventBus provides in-process pub/sub for session events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type.
func (b *EventBus) Publish(event Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		_ = handler(event)
	}
}
