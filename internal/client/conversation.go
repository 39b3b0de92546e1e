package client

import (
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"classroom-relay/internal/models"
)

// DefaultTypingTimeout is how long a typing signal lasts without a new keystroke.
const DefaultTypingTimeout = 2 * time.Second

// ErrClosed is returned by Send after the conversation was closed.
var ErrClosed = errors.New("conversation closed")

// Relay is the part of Adapter a Conversation uses.
type Relay interface {
	JoinRoom(roomID, userID, userType string)
	LeaveRoom(roomID string)
	SendMessage(roomID string, message any)
	EmitTyping(roomID, userID string, isTyping bool)
	OnMessageReceived(fn func(json.RawMessage)) func()
	OnTyping(fn func(models.TypingEvent)) func()
	OnConnectionChange(fn func(connected bool)) func()
}

var _ Relay = (*Adapter)(nil)

// Participant is the local side of a conversation.
type Participant struct {
	ID   string
	Role string
}

// ConversationOption tunes a Conversation.
type ConversationOption func(*Conversation)

// WithTypingTimeout overrides DefaultTypingTimeout for both the local
// debounce and the remote auto-clear.
func WithTypingTimeout(d time.Duration) ConversationOption {
	return func(c *Conversation) {
		if d > 0 {
			c.typingTimeout = d
		}
	}
}

// Conversation is one chat screen bound to a room: it joins on open, keeps
// the message list and the peer typing state, and leaves on Close.
//
// The relay echoes a message back to its sender, so messages are keyed by id
// and the optimistic local copy absorbs the echo.
type Conversation struct {
	relay         Relay
	roomID        string
	self          Participant
	typingTimeout time.Duration
	now           func() time.Time

	mu          sync.Mutex
	closed      bool
	messages    []models.ChatMessage
	seen        map[string]struct{}
	peerTyping  bool
	peerTimer   *time.Timer
	peerGen     int
	typingTimer *time.Timer
	typingGen   int

	changes registry[struct{}]
	unsubs  []func()
}

// OpenConversation joins roomID as self and starts tracking it. A join dropped
// while the relay is offline is repeated once the link comes up. Callers must
// Close it when the screen goes away.
func OpenConversation(relay Relay, roomID string, self Participant, opts ...ConversationOption) *Conversation {
	c := &Conversation{
		relay:         relay,
		roomID:        roomID,
		self:          self,
		typingTimeout: DefaultTypingTimeout,
		now:           time.Now,
		seen:          make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.unsubs = append(c.unsubs,
		relay.OnMessageReceived(c.receive),
		relay.OnTyping(c.peerTyped),
		relay.OnConnectionChange(c.linkChanged),
	)
	relay.JoinRoom(roomID, self.ID, self.Role)
	return c
}

func (c *Conversation) linkChanged(connected bool) {
	if !connected {
		return
	}
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}
	c.relay.JoinRoom(c.roomID, c.self.ID, c.self.Role)
}

// RoomID returns the room the conversation is bound to.
func (c *Conversation) RoomID() string {
	return c.roomID
}

// Close stops a pending typing signal, leaves the room and drops every
// callback. It is safe to call more than once.
func (c *Conversation) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	wasTyping := c.typingTimer != nil
	if wasTyping {
		c.typingTimer.Stop()
		c.typingTimer = nil
	}
	if c.peerTimer != nil {
		c.peerTimer.Stop()
	}
	unsubs := c.unsubs
	c.unsubs = nil
	c.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	if wasTyping {
		c.relay.EmitTyping(c.roomID, c.self.ID, false)
	}
	c.relay.LeaveRoom(c.roomID)
}

// OnChange registers fn to run after the messages or the typing state change.
func (c *Conversation) OnChange(fn func()) func() {
	return c.changes.add(func(struct{}) { fn() })
}

// Send completes msg with an id, sender and timestamp where missing, checks
// it, appends it locally and hands it to the relay. The local append happens
// whether or not the relay is reachable.
func (c *Conversation) Send(msg models.ChatMessage) (models.ChatMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.SenderID == "" {
		msg.SenderID = c.self.ID
	}
	if msg.SenderRole == "" {
		msg.SenderRole = c.self.Role
	}
	if msg.Type == "" {
		msg.Type = models.MessageText
	}
	if msg.Timestamp == "" {
		msg.Timestamp = c.now().UTC().Format(time.RFC3339Nano)
	}
	if err := msg.Validate(); err != nil {
		return models.ChatMessage{}, err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return models.ChatMessage{}, ErrClosed
	}
	added := c.appendLocked(msg)
	c.mu.Unlock()

	if added {
		c.changes.emit(struct{}{})
	}
	c.relay.SendMessage(c.roomID, msg)
	return msg, nil
}

// Keystroke reports local typing. A typing=false follows once no keystroke
// arrives for the typing timeout.
func (c *Conversation) Keystroke() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.typingTimer != nil {
		c.typingTimer.Stop()
	}
	c.typingGen++
	gen := c.typingGen
	c.typingTimer = time.AfterFunc(c.typingTimeout, func() { c.stopTyping(gen) })
	c.mu.Unlock()

	c.relay.EmitTyping(c.roomID, c.self.ID, true)
}

func (c *Conversation) stopTyping(gen int) {
	c.mu.Lock()
	if c.closed || c.typingTimer == nil || c.typingGen != gen {
		c.mu.Unlock()
		return
	}
	c.typingTimer = nil
	c.mu.Unlock()

	c.relay.EmitTyping(c.roomID, c.self.ID, false)
}

// Messages returns the conversation so far in arrival order.
func (c *Conversation) Messages() []models.ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.ChatMessage, len(c.messages))
	copy(out, c.messages)
	return out
}

// PeerTyping reports whether the other side is typing.
func (c *Conversation) PeerTyping() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerTyping
}

func (c *Conversation) receive(raw json.RawMessage) {
	msg, err := models.DecodeChatMessage(raw)
	if err != nil {
		log.Printf("conversation dropping message room=%s: %v", c.roomID, err)
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	added := c.appendLocked(msg)
	if added && msg.SenderID != c.self.ID && c.peerTyping {
		c.clearPeerLocked()
	}
	c.mu.Unlock()

	if added {
		c.changes.emit(struct{}{})
	}
}

func (c *Conversation) appendLocked(msg models.ChatMessage) bool {
	if _, dup := c.seen[msg.ID]; dup {
		return false
	}
	c.seen[msg.ID] = struct{}{}
	c.messages = append(c.messages, msg)
	return true
}

func (c *Conversation) peerTyped(ev models.TypingEvent) {
	if ev.UserID == c.self.ID {
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	changed := c.peerTyping != ev.IsTyping
	if ev.IsTyping {
		c.peerTyping = true
		if c.peerTimer != nil {
			c.peerTimer.Stop()
		}
		c.peerGen++
		gen := c.peerGen
		c.peerTimer = time.AfterFunc(c.typingTimeout, func() { c.expirePeer(gen) })
	} else {
		c.clearPeerLocked()
	}
	c.mu.Unlock()

	if changed {
		c.changes.emit(struct{}{})
	}
}

func (c *Conversation) expirePeer(gen int) {
	c.mu.Lock()
	if c.closed || c.peerGen != gen || !c.peerTyping {
		c.mu.Unlock()
		return
	}
	c.clearPeerLocked()
	c.mu.Unlock()

	c.changes.emit(struct{}{})
}

func (c *Conversation) clearPeerLocked() {
	c.peerTyping = false
	if c.peerTimer != nil {
		c.peerTimer.Stop()
		c.peerTimer = nil
	}
}
