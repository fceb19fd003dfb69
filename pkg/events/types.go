// Package events carries the conversation state broadcast: named state
// events with JSON payloads, a fire-and-forget notifier, and the WebSocket
// hub that fans events out to connected clients.
package events

import (
	"time"
)

// State names emitted by the conversation executor and the runtime.
const (
	StateListeningStarted = "listening_started"
	StateListeningStopped = "listening_stopped"
	StateWaitingWake      = "waiting_wake"
	StateAwakened         = "awakened"
	StateConversing       = "conversing"
	StateIdle             = "idle"
	StateGoodbye          = "goodbye"
	StateCompleted        = "completed"
	StateMessage          = "message"
	StateMessagesCleared  = "messages_cleared"
	StateStatus           = "status"
)

// Event is one broadcast state change. Data always carries a timestamp plus
// event-specific fields.
type Event struct {
	State string         `json:"state"`
	Data  map[string]any `json:"data"`
}

// NewEvent builds an event, stamping the payload with the current time.
func NewEvent(state string, data map[string]any) Event {
	if data == nil {
		data = make(map[string]any)
	}
	if _, ok := data["timestamp"]; !ok {
		data["timestamp"] = time.Now().Format(time.RFC3339)
	}
	return Event{State: state, Data: data}
}
