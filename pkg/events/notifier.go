package events

import (
	"log/slog"
	"sync"
)

// Callback receives one event. Callbacks must not block: they run inline on
// the emitting goroutine.
type Callback func(Event)

// Notifier fans events out to subscribers, fire-and-forget: the core neither
// buffers nor re-delivers missed events, and a panicking subscriber never
// takes down the emitter.
type Notifier struct {
	mu        sync.RWMutex
	callbacks map[int]Callback
	nextID    int
	logger    *slog.Logger
}

// NewNotifier creates an empty notifier.
func NewNotifier() *Notifier {
	return &Notifier{
		callbacks: make(map[int]Callback),
		logger:    slog.With("component", "event_notifier"),
	}
}

// Subscribe registers a callback and returns an unsubscribe function.
func (n *Notifier) Subscribe(cb Callback) func() {
	n.mu.Lock()
	id := n.nextID
	n.nextID++
	n.callbacks[id] = cb
	n.mu.Unlock()

	return func() {
		n.mu.Lock()
		delete(n.callbacks, id)
		n.mu.Unlock()
	}
}

// Emit delivers a state event to every subscriber.
func (n *Notifier) Emit(state string, data map[string]any) {
	event := NewEvent(state, data)

	n.mu.RLock()
	callbacks := make([]Callback, 0, len(n.callbacks))
	for _, cb := range n.callbacks {
		callbacks = append(callbacks, cb)
	}
	n.mu.RUnlock()

	for _, cb := range callbacks {
		n.deliver(cb, event)
	}
}

func (n *Notifier) deliver(cb Callback, event Event) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Warn("Event subscriber panicked", "state", event.State, "panic", r)
		}
	}()
	cb(event)
}
