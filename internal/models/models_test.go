package models

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatMessageValidate(t *testing.T) {
	base := ChatMessage{ID: "m1", SenderID: "teacher-1", SenderRole: UserTypeTeacher}

	tests := []struct {
		name string
		edit func(m *ChatMessage)
		want error
	}{
		{name: "text", edit: func(m *ChatMessage) { m.Text = "hello" }},
		{name: "untyped defaults to text", edit: func(m *ChatMessage) { m.Type = ""; m.Text = "hi" }},
		{name: "missing id", edit: func(m *ChatMessage) { m.ID = ""; m.Text = "x" }, want: ErrMessageIDRequired},
		{name: "missing sender", edit: func(m *ChatMessage) { m.SenderID = ""; m.Text = "x" }, want: ErrSenderRequired},
		{name: "unknown role", edit: func(m *ChatMessage) { m.SenderRole = "parent"; m.Text = "x" }, want: ErrUnknownRole},
		{name: "empty text", edit: func(m *ChatMessage) { m.Type = MessageText }, want: ErrTextRequired},
		{name: "long text", edit: func(m *ChatMessage) { m.Text = strings.Repeat("a", MaxTextLength+1) }, want: ErrTextTooLong},
		{name: "invalid utf8", edit: func(m *ChatMessage) { m.Text = "\xff\xfe" }, want: ErrTextInvalid},
		{name: "image", edit: func(m *ChatMessage) { m.Type = MessageImage; m.FileURL = "https://cdn/a.png" }},
		{name: "video without url", edit: func(m *ChatMessage) { m.Type = MessageVideo }, want: ErrFileURLRequired},
		{name: "file", edit: func(m *ChatMessage) {
			m.Type = MessageFile
			m.FileURL = "https://cdn/a.pdf"
			m.FileName = "a.pdf"
		}},
		{name: "file without name", edit: func(m *ChatMessage) { m.Type = MessageFile; m.FileURL = "https://cdn/a.pdf" }, want: ErrFileNameRequired},
		{name: "unknown type", edit: func(m *ChatMessage) { m.Type = "sticker" }, want: ErrUnknownType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := base
			tt.edit(&m)
			err := m.Validate()
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestDecodeChatMessage(t *testing.T) {
	msg, err := DecodeChatMessage(json.RawMessage(`{"id":"m1","senderId":"42","senderRole":"student","text":"em chào cô","timestamp":"2024-09-05T08:00:00Z"}`))
	require.NoError(t, err)
	assert.Equal(t, MessageText, msg.Kind())
	assert.Equal(t, "em chào cô", msg.Text)

	_, err = DecodeChatMessage(json.RawMessage(`[]`))
	assert.Error(t, err)

	_, err = DecodeChatMessage(json.RawMessage(`{"id":"m1","senderId":"42","senderRole":"student"}`))
	assert.ErrorIs(t, err, ErrTextRequired)
}

func TestClassroomRoomID(t *testing.T) {
	room := ClassroomRoomID("42")
	assert.Equal(t, "teacher-teacher-student-42", room)

	id, ok := StudentFromRoomID(room)
	assert.True(t, ok)
	assert.Equal(t, "42", id)

	_, ok = StudentFromRoomID("teacher-teacher-student-")
	assert.False(t, ok)
	_, ok = StudentFromRoomID("room-42")
	assert.False(t, ok)
}

func TestNewFrame(t *testing.T) {
	frame, err := NewFrame(EventTyping, TypingEvent{UserID: "u1", IsTyping: true})
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"typing","data":{"userId":"u1","isTyping":true}}`, string(frame))

	raw, err := RawFrame(EventReceiveMessage, json.RawMessage(`{"id":"m1","extra":[1,2]}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"receive-message","data":{"id":"m1","extra":[1,2]}}`, string(raw))
}
