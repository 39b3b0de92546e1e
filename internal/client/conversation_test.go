package client

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classroom-relay/internal/models"
	"classroom-relay/internal/ws"
)

type typingCall struct {
	userID   string
	isTyping bool
}

type fakeRelay struct {
	mu       sync.Mutex
	joined   []string
	left     []string
	sent     []json.RawMessage
	typing   []typingCall
	messages registry[json.RawMessage]
	typingCb registry[models.TypingEvent]
	links    registry[bool]
}

func (f *fakeRelay) JoinRoom(roomID, userID, userType string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joined = append(f.joined, roomID+"/"+userID+"/"+userType)
}

func (f *fakeRelay) LeaveRoom(roomID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.left = append(f.left, roomID)
}

func (f *fakeRelay) SendMessage(roomID string, message any) {
	raw, _ := json.Marshal(message)
	f.mu.Lock()
	f.sent = append(f.sent, raw)
	f.mu.Unlock()
	// The relay echoes to the sender.
	f.messages.emit(raw)
}

func (f *fakeRelay) EmitTyping(roomID, userID string, isTyping bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typing = append(f.typing, typingCall{userID: userID, isTyping: isTyping})
}

func (f *fakeRelay) OnMessageReceived(fn func(json.RawMessage)) func() { return f.messages.add(fn) }
func (f *fakeRelay) OnTyping(fn func(models.TypingEvent)) func() { return f.typingCb.add(fn) }
func (f *fakeRelay) OnConnectionChange(fn func(bool)) func() { return f.links.add(fn) }

func (f *fakeRelay) typingCalls() []typingCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]typingCall(nil), f.typing...)
}

var teacher = Participant{ID: "teacher-1", Role: models.UserTypeTeacher}

func TestConversationJoinsAndLeaves(t *testing.T) {
	relay := &fakeRelay{}
	room := models.ClassroomRoomID("7")
	conv := OpenConversation(relay, room, teacher)

	assert.Equal(t, []string{"teacher-teacher-student-7/teacher-1/teacher"}, relay.joined)
	assert.Equal(t, 1, relay.messages.len())
	assert.Equal(t, 1, relay.typingCb.len())
	assert.Equal(t, 1, relay.links.len())

	conv.Close()
	conv.Close()

	assert.Equal(t, []string{room}, relay.left)
	assert.Zero(t, relay.messages.len())
	assert.Zero(t, relay.typingCb.len())
	assert.Zero(t, relay.links.len())
}

func TestConversationJoinsAgainWhenLinkComesUp(t *testing.T) {
	relay := &fakeRelay{}
	conv := OpenConversation(relay, "room-42", teacher)

	relay.links.emit(false)
	relay.links.emit(true)
	assert.Equal(t, []string{"room-42/teacher-1/teacher", "room-42/teacher-1/teacher"}, relay.joined)

	// A callback already in flight when Close runs must not rejoin.
	conv.closed = true
	conv.linkChanged(true)
	assert.Len(t, relay.joined, 2)
}

func TestConversationSendFillsDefaultsAndAbsorbsEcho(t *testing.T) {
	relay := &fakeRelay{}
	conv := OpenConversation(relay, "room-1", teacher)
	defer conv.Close()
	conv.now = func() time.Time { return time.Date(2024, 9, 5, 8, 0, 0, 0, time.UTC) }

	changes := 0
	conv.OnChange(func() { changes++ })

	sent, err := conv.Send(models.ChatMessage{Text: "Xin chào"})
	require.NoError(t, err)

	assert.NotEmpty(t, sent.ID)
	assert.Equal(t, "teacher-1", sent.SenderID)
	assert.Equal(t, models.UserTypeTeacher, sent.SenderRole)
	assert.Equal(t, models.MessageText, sent.Type)
	assert.Equal(t, "2024-09-05T08:00:00Z", sent.Timestamp)

	require.Len(t, relay.sent, 1)
	assert.Equal(t, []models.ChatMessage{sent}, conv.Messages())
	assert.Equal(t, 1, changes)
}

func TestConversationSendRejectsInvalidMessages(t *testing.T) {
	relay := &fakeRelay{}
	conv := OpenConversation(relay, "room-1", teacher)
	defer conv.Close()

	_, err := conv.Send(models.ChatMessage{})
	assert.ErrorIs(t, err, models.ErrTextRequired)

	_, err = conv.Send(models.ChatMessage{Type: models.MessageFile, FileURL: "https://files/x.pdf"})
	assert.ErrorIs(t, err, models.ErrFileNameRequired)

	assert.Empty(t, relay.sent)
	assert.Empty(t, conv.Messages())
}

func TestConversationSendAfterClose(t *testing.T) {
	conv := OpenConversation(&fakeRelay{}, "room-1", teacher)
	conv.Close()

	_, err := conv.Send(models.ChatMessage{Text: "late"})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestConversationDropsDuplicatesAndInvalidPayloads(t *testing.T) {
	relay := &fakeRelay{}
	conv := OpenConversation(relay, "room-1", teacher)
	defer conv.Close()

	msg := json.RawMessage(`{"id":"m1","senderId":"student-7","senderRole":"student","type":"text","text":"em chào cô","timestamp":"2024-09-05T08:00:00Z"}`)
	relay.messages.emit(msg)
	relay.messages.emit(msg)
	relay.messages.emit(json.RawMessage(`{"id":"m2","text":"no sender"}`))
	relay.messages.emit(json.RawMessage(`not json`))

	got := conv.Messages()
	require.Len(t, got, 1)
	assert.Equal(t, "em chào cô", got[0].Text)
}

func TestConversationKeystrokeDebounce(t *testing.T) {
	relay := &fakeRelay{}
	conv := OpenConversation(relay, "room-1", teacher, WithTypingTimeout(50*time.Millisecond))
	defer conv.Close()

	conv.Keystroke()
	conv.Keystroke()

	require.Eventually(t, func() bool { return len(relay.typingCalls()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []typingCall{
		{userID: "teacher-1", isTyping: true},
		{userID: "teacher-1", isTyping: true},
		{userID: "teacher-1", isTyping: false},
	}, relay.typingCalls())

	time.Sleep(100 * time.Millisecond)
	assert.Len(t, relay.typingCalls(), 3)
}

func TestConversationCloseStopsTyping(t *testing.T) {
	relay := &fakeRelay{}
	conv := OpenConversation(relay, "room-1", teacher, WithTypingTimeout(time.Hour))

	conv.Keystroke()
	conv.Close()

	assert.Equal(t, []typingCall{
		{userID: "teacher-1", isTyping: true},
		{userID: "teacher-1", isTyping: false},
	}, relay.typingCalls())
}

func TestConversationPeerTypingAutoClears(t *testing.T) {
	relay := &fakeRelay{}
	conv := OpenConversation(relay, "room-1", teacher, WithTypingTimeout(50*time.Millisecond))
	defer conv.Close()

	relay.typingCb.emit(models.TypingEvent{UserID: "teacher-1", IsTyping: true})
	assert.False(t, conv.PeerTyping())

	relay.typingCb.emit(models.TypingEvent{UserID: "student-7", IsTyping: true})
	assert.True(t, conv.PeerTyping())

	require.Eventually(t, func() bool { return !conv.PeerTyping() }, time.Second, 5*time.Millisecond)

	relay.typingCb.emit(models.TypingEvent{UserID: "student-7", IsTyping: true})
	relay.typingCb.emit(models.TypingEvent{UserID: "student-7", IsTyping: false})
	assert.False(t, conv.PeerTyping())
}

func TestConversationPeerMessageClearsTyping(t *testing.T) {
	relay := &fakeRelay{}
	conv := OpenConversation(relay, "room-1", teacher, WithTypingTimeout(time.Hour))
	defer conv.Close()

	relay.typingCb.emit(models.TypingEvent{UserID: "student-7", IsTyping: true})
	require.True(t, conv.PeerTyping())

	relay.messages.emit(json.RawMessage(`{"id":"m1","senderId":"student-7","senderRole":"student","text":"xong rồi ạ"}`))
	assert.False(t, conv.PeerTyping())
}

func TestConversationOverRelay(t *testing.T) {
	hub := ws.NewHub()
	url := startRelay(t, hub)
	teacherSide := connect(t, url, Options{})
	studentSide := connect(t, url, Options{})

	room := models.ClassroomRoomID("42")
	student := OpenConversation(studentSide, room, Participant{ID: "42", Role: models.UserTypeStudent})
	defer student.Close()
	require.Eventually(t, func() bool { return len(hub.Members(room)) == 1 }, waitFor, 10*time.Millisecond)
	tc := OpenConversation(teacherSide, room, teacher)
	require.Eventually(t, func() bool { return len(hub.Members(room)) == 2 }, waitFor, 10*time.Millisecond)

	sent, err := tc.Send(models.ChatMessage{Text: "Hôm nay em học bài nào?"})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(student.Messages()) == 1 }, waitFor, 10*time.Millisecond)
	assert.Equal(t, sent, student.Messages()[0])

	// Let the echo arrive; it must not duplicate the optimistic copy.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, []models.ChatMessage{sent}, tc.Messages())

	tc.Keystroke()
	require.Eventually(t, student.PeerTyping, waitFor, 10*time.Millisecond)

	tc.Close()
	require.Eventually(t, func() bool { return len(hub.Members(room)) == 1 }, waitFor, 10*time.Millisecond)
	require.Eventually(t, func() bool { return !student.PeerTyping() }, waitFor, 10*time.Millisecond)
}

func TestConversationOpenedBeforeConnectJoinsOnceOnline(t *testing.T) {
	hub := ws.NewHub()
	url := startRelay(t, hub)
	room := models.ClassroomRoomID("42")

	studentSide := New(Options{URL: url, ReconnectDelay: 20 * time.Millisecond})
	t.Cleanup(studentSide.Close)
	student := OpenConversation(studentSide, room, Participant{ID: "42", Role: models.UserTypeStudent})
	defer student.Close()
	assert.Empty(t, hub.Members(room))

	studentSide.Connect(context.Background())
	require.Eventually(t, func() bool { return len(hub.Members(room)) == 1 }, waitFor, 10*time.Millisecond)

	teacherSide := connect(t, url, Options{})
	tc := OpenConversation(teacherSide, room, teacher)
	defer tc.Close()
	require.Eventually(t, func() bool { return len(hub.Members(room)) == 2 }, waitFor, 10*time.Millisecond)

	sent, err := tc.Send(models.ChatMessage{Text: "m1"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(student.Messages()) == 1 }, waitFor, 10*time.Millisecond)
	assert.Equal(t, sent, student.Messages()[0])
}
