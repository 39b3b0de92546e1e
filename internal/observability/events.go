package observability

import (
	"fmt"
	"time"
)

// Routing keys for relay lifecycle events.
const (
	WSEventsRoutingKey   = "ws_events.relay"
	RoomEventsRoutingKey = "room_events.relay"
)

// EventEnvelope is the body of every lifecycle event sent to the exchange.
type EventEnvelope struct {
	EventType  string `json:"event_type"`
	EventName  string `json:"event_name"`
	OccurredAt string `json:"occurred_at"`
	Payload    any    `json:"payload"`
}

// SessionEvent is the payload of ws_events: connect, disconnect and error.
type SessionEvent struct {
	SessionID  string `json:"session_id"`
	IP         string `json:"ip,omitempty"`
	UserAgent  string `json:"user_agent,omitempty"`
	DurationMS int64  `json:"duration_ms"`
	Reason     string `json:"reason,omitempty"`
}

// RoomEvent is the payload of room_events: room_created and room_deleted.
type RoomEvent struct {
	RoomID      string `json:"room_id"`
	ActiveRooms int    `json:"active_rooms"`
}

func NewSessionEvent(name string, ev SessionEvent) EventEnvelope {
	return EventEnvelope{
		EventType:  "ws_events",
		EventName:  name,
		OccurredAt: time.Now().UTC().Format(time.RFC3339Nano),
		Payload:    ev,
	}
}

func NewRoomEvent(name string, ev RoomEvent) EventEnvelope {
	return EventEnvelope{
		EventType:  "room_events",
		EventName:  name,
		OccurredAt: time.Now().UTC().Format(time.RFC3339Nano),
		Payload:    ev,
	}
}

// Summary describes the event in one log line.
func (e EventEnvelope) Summary() string {
	switch p := e.Payload.(type) {
	case SessionEvent:
		return fmt.Sprintf("event=%s session=%s", e.EventName, p.SessionID)
	case RoomEvent:
		return fmt.Sprintf("event=%s room=%s", e.EventName, p.RoomID)
	default:
		return fmt.Sprintf("event=%s", e.EventName)
	}
}

func BuildHeaders(requestID, traceID string) map[string]string {
	headers := map[string]string{}
	if requestID != "" {
		headers["x-request-id"] = requestID
	}
	if traceID != "" {
		headers["trace_id"] = traceID
	}
	return headers
}
