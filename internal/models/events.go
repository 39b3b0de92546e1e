package models

import "encoding/json"

// Client to server events.
const (
	EventJoinRoom    = "join-room"
	EventLeaveRoom   = "leave-room"
	EventSendMessage = "send-message"
	EventTyping      = "typing"
)

// Server to client events. EventTyping is shared by both directions.
const (
	EventUserJoined     = "user-joined"
	EventUserLeft       = "user-left"
	EventReceiveMessage = "receive-message"
	EventJoinDenied     = "join-denied"
)

// User roles carried as advisory metadata on join.
const (
	UserTypeTeacher = "teacher"
	UserTypeStudent = "student"
)

// Frame is the envelope of every websocket text frame.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewFrame encodes payload as the data of a frame named event.
func NewFrame(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Event: event, Data: data})
}

// RawFrame wraps an already encoded payload without re-marshalling it.
func RawFrame(event string, data json.RawMessage) ([]byte, error) {
	return json.Marshal(Frame{Event: event, Data: data})
}

// JoinRoomPayload is sent by a client entering a room.
type JoinRoomPayload struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	UserType string `json:"userType"`
	Token    string `json:"token,omitempty"`
}

// LeaveRoomPayload is sent by a client leaving a room.
type LeaveRoomPayload struct {
	RoomID string `json:"roomId"`
}

// SendMessagePayload carries an application message the relay never inspects.
type SendMessagePayload struct {
	RoomID  string          `json:"roomId"`
	Message json.RawMessage `json:"message"`
}

// TypingPayload is the client side typing signal.
type TypingPayload struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

// PresenceEvent is broadcast on user-joined and user-left.
type PresenceEvent struct {
	UserID   string `json:"userId"`
	UserType string `json:"userType"`
}

// TypingEvent is the typing signal as relayed to the other members.
type TypingEvent struct {
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

// JoinDeniedEvent tells a joiner why it was not admitted.
type JoinDeniedEvent struct {
	RoomID string `json:"roomId"`
	Reason string `json:"reason"`
}
