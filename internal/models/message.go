package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"
)

// MessageType discriminates the chat message variants.
type MessageType string

const (
	MessageText  MessageType = "text"
	MessageImage MessageType = "image"
	MessageVideo MessageType = "video"
	MessageFile  MessageType = "file"
)

const MaxTextLength = 5000

var (
	ErrMessageIDRequired = errors.New("message id is required")
	ErrSenderRequired    = errors.New("sender id is required")
	ErrTextRequired      = errors.New("text message content cannot be empty")
	ErrTextTooLong       = errors.New("text message exceeds maximum length")
	ErrTextInvalid       = errors.New("text message contains invalid characters")
	ErrFileURLRequired   = errors.New("attachment url is required")
	ErrFileNameRequired  = errors.New("attachment file name is required")
	ErrUnknownType       = errors.New("unknown message type")
	ErrUnknownRole       = errors.New("unknown sender role")
)

// ChatMessage is the payload exchanged between the teacher and student chat
// screens. The relay forwards it opaquely; it is validated only at the edges.
type ChatMessage struct {
	ID         string      `json:"id"`
	SenderID   string      `json:"senderId"`
	SenderRole string      `json:"senderRole"`
	Type       MessageType `json:"type"`
	Text       string      `json:"text,omitempty"`
	Timestamp  string      `json:"timestamp"`
	FileURL    string      `json:"fileUrl,omitempty"`
	FileName   string      `json:"fileName,omitempty"`
	FileSize   int64       `json:"fileSize,omitempty"`
	MimeType   string      `json:"mimeType,omitempty"`
}

// Kind returns the message type, treating an absent discriminator as text.
func (m ChatMessage) Kind() MessageType {
	if m.Type == "" {
		return MessageText
	}
	return m.Type
}

// Validate checks the fields required by the message variant.
func (m ChatMessage) Validate() error {
	if m.ID == "" {
		return ErrMessageIDRequired
	}
	if m.SenderID == "" {
		return ErrSenderRequired
	}
	switch m.SenderRole {
	case UserTypeTeacher, UserTypeStudent:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownRole, m.SenderRole)
	}

	switch m.Kind() {
	case MessageText:
		if m.Text == "" {
			return ErrTextRequired
		}
		if len(m.Text) > MaxTextLength {
			return ErrTextTooLong
		}
		if !utf8.ValidString(m.Text) {
			return ErrTextInvalid
		}
	case MessageImage, MessageVideo:
		if m.FileURL == "" {
			return ErrFileURLRequired
		}
	case MessageFile:
		if m.FileURL == "" {
			return ErrFileURLRequired
		}
		if m.FileName == "" {
			return ErrFileNameRequired
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownType, m.Type)
	}
	return nil
}

// DecodeChatMessage parses and validates a relayed payload.
func DecodeChatMessage(raw json.RawMessage) (ChatMessage, error) {
	var msg ChatMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return ChatMessage{}, fmt.Errorf("decode chat message: %w", err)
	}
	if err := msg.Validate(); err != nil {
		return ChatMessage{}, err
	}
	return msg, nil
}
