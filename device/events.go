package device

import "sync"

// Event types observable on a Device.
const (
	EventConnect           = "connect"
	EventClose             = "close"
	EventError             = "error"
	EventDebug             = "debug"
	EventMessage           = "message"
	EventNowPlaying        = "nowPlaying"
	EventSupportedCommands = "supportedCommands"
	EventPlaybackQueue     = "playbackQueue"
)

// Event is one emitted device event.
type Event struct {
	Type string
	Data any
}

// EventHandler is a callback for events.
type EventHandler func(Event)

// eventBus provides pub/sub for device events. Subscriber counts drive the
// now-playing poll timer, so every subscribe/unsubscribe triggers onChange.
type eventBus struct {
	mu       sync.RWMutex
	handlers map[string]map[uint64]EventHandler
	nextID   uint64
	onChange func()
}

func newEventBus(onChange func()) *eventBus {
	return &eventBus{
		handlers: make(map[string]map[uint64]EventHandler),
		onChange: onChange,
	}
}

// on registers a handler for one event type and returns an unsubscribe
// function.
func (b *eventBus) on(eventType string, handler EventHandler) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	if b.handlers[eventType] == nil {
		b.handlers[eventType] = make(map[uint64]EventHandler)
	}
	b.handlers[eventType][id] = handler
	b.mu.Unlock()

	if b.onChange != nil {
		b.onChange()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.handlers[eventType], id)
			b.mu.Unlock()
			if b.onChange != nil {
				b.onChange()
			}
		})
	}
}

// emit delivers an event to its subscribers. Delivery is synchronous on the
// caller's goroutine; ordering across subscribers is not guaranteed.
func (b *eventBus) emit(event Event) {
	b.mu.RLock()
	handlers := make([]EventHandler, 0, len(b.handlers[event.Type]))
	for _, h := range b.handlers[event.Type] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(event)
	}
}

// count returns the total subscriber count across the given event types.
func (b *eventBus) count(eventTypes ...string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	total := 0
	for _, t := range eventTypes {
		total += len(b.handlers[t])
	}
	return total
}
