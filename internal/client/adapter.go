// Package client is the application side of the room relay: one shared
// connection exposing room, message and typing primitives to chat screens.
package client

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"classroom-relay/internal/models"
)

const (
	defaultReconnectAttempts = 3
	defaultReconnectDelay    = 2 * time.Second
	defaultHandshakeTimeout  = 5 * time.Second
	writeWait                = 10 * time.Second
)

// TokenSource mints the room capability presented on join-room.
type TokenSource func(roomID, userID string) (string, error)

// Options configures an Adapter. Zero values take the defaults.
type Options struct {
	URL               string
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	HandshakeTimeout  time.Duration
	Logger            *log.Logger
	TokenSource       TokenSource
}

// Adapter owns a single relay connection for the lifetime of the process.
// Every operation is best effort: while disconnected, operations are dropped
// and nothing is returned to the caller.
type Adapter struct {
	opts   Options
	dialer *websocket.Dialer
	log    *log.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	rooms     map[string]models.JoinRoomPayload
	started   bool
	cancel    context.CancelFunc
	done      chan struct{}

	writeMu sync.Mutex

	firstFailure sync.Once

	messages    registry[json.RawMessage]
	typing      registry[models.TypingEvent]
	joined      registry[models.PresenceEvent]
	left        registry[models.PresenceEvent]
	connChanges registry[bool]
}

// New builds an Adapter. It does not connect until Connect is called.
func New(opts Options) *Adapter {
	if opts.ReconnectAttempts <= 0 {
		opts.ReconnectAttempts = defaultReconnectAttempts
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = defaultReconnectDelay
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = defaultHandshakeTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Adapter{
		opts:   opts,
		dialer: &websocket.Dialer{HandshakeTimeout: opts.HandshakeTimeout},
		log:    logger,
		rooms:  make(map[string]models.JoinRoomPayload),
		done:   make(chan struct{}),
	}
}

// Connect starts the connection loop in the background and returns at once.
// Calling it more than once has no effect.
func (a *Adapter) Connect(ctx context.Context) {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return
	}
	a.started = true
	ctx, a.cancel = context.WithCancel(ctx)
	a.mu.Unlock()

	go func() {
		<-ctx.Done()
		a.closeConn()
	}()
	go a.run(ctx)
}

// Close stops reconnecting, closes the connection and waits for the loop to exit.
func (a *Adapter) Close() {
	a.mu.Lock()
	started, cancel := a.started, a.cancel
	a.mu.Unlock()
	if !started {
		return
	}
	cancel()
	<-a.done
}

// IsConnected reports whether the relay connection is currently up.
func (a *Adapter) IsConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

// OnConnectionChange registers fn for connection state transitions.
func (a *Adapter) OnConnectionChange(fn func(connected bool)) func() {
	return a.connChanges.add(fn)
}

// OnMessageReceived registers fn for receive-message payloads, passed as relayed.
func (a *Adapter) OnMessageReceived(fn func(json.RawMessage)) func() {
	return a.messages.add(fn)
}

func (a *Adapter) OnTyping(fn func(models.TypingEvent)) func() {
	return a.typing.add(fn)
}

func (a *Adapter) OnUserJoined(fn func(models.PresenceEvent)) func() {
	return a.joined.add(fn)
}

func (a *Adapter) OnUserLeft(fn func(models.PresenceEvent)) func() {
	return a.left.add(fn)
}

// JoinRoom enters roomID. The room is joined again after every reconnect
// until LeaveRoom is called.
func (a *Adapter) JoinRoom(roomID, userID, userType string) {
	if !a.IsConnected() {
		a.log.Printf("relay offline, dropping event=%s room=%s", models.EventJoinRoom, roomID)
		return
	}
	payload := models.JoinRoomPayload{RoomID: roomID, UserID: userID, UserType: userType}
	if a.opts.TokenSource != nil {
		token, err := a.opts.TokenSource(roomID, userID)
		if err != nil {
			a.log.Printf("relay room token failed room=%s: %v", roomID, err)
		}
		payload.Token = token
	}

	a.mu.Lock()
	a.rooms[roomID] = payload
	a.mu.Unlock()

	a.emit(models.EventJoinRoom, payload)
}

// LeaveRoom exits roomID. The room is forgotten even while offline so that a
// later reconnect does not rejoin it.
func (a *Adapter) LeaveRoom(roomID string) {
	a.mu.Lock()
	delete(a.rooms, roomID)
	a.mu.Unlock()

	if !a.IsConnected() {
		a.log.Printf("relay offline, dropping event=%s room=%s", models.EventLeaveRoom, roomID)
		return
	}
	a.emit(models.EventLeaveRoom, models.LeaveRoomPayload{RoomID: roomID})
}

// SendMessage relays message to every member of roomID, the sender included.
func (a *Adapter) SendMessage(roomID string, message any) {
	if !a.IsConnected() {
		a.log.Printf("relay offline, dropping event=%s room=%s", models.EventSendMessage, roomID)
		return
	}
	raw, ok := message.(json.RawMessage)
	if !ok {
		var err error
		raw, err = json.Marshal(message)
		if err != nil {
			a.log.Printf("relay encode message failed room=%s: %v", roomID, err)
			return
		}
	}
	a.emit(models.EventSendMessage, models.SendMessagePayload{RoomID: roomID, Message: raw})
}

// EmitTyping signals typing state to the other members of roomID.
func (a *Adapter) EmitTyping(roomID, userID string, isTyping bool) {
	if !a.IsConnected() {
		a.log.Printf("relay offline, dropping event=%s room=%s", models.EventTyping, roomID)
		return
	}
	a.emit(models.EventTyping, models.TypingPayload{RoomID: roomID, UserID: userID, IsTyping: isTyping})
}

func (a *Adapter) emit(event string, payload any) {
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn == nil {
		return
	}
	if err := a.write(conn, event, payload); err != nil {
		a.log.Printf("relay write failed event=%s: %v", event, err)
	}
}

func (a *Adapter) write(conn *websocket.Conn, event string, payload any) error {
	frame, err := models.NewFrame(event, payload)
	if err != nil {
		return err
	}
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, frame)
}

// run dials until connected, serves the connection, and dials again when it
// drops. ReconnectAttempts bounds consecutive failed dials; once spent the
// adapter stays offline.
func (a *Adapter) run(ctx context.Context) {
	defer close(a.done)

	failures := 0
	for {
		conn, _, err := a.dialer.DialContext(ctx, a.opts.URL, nil)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			a.firstFailure.Do(func() {
				a.log.Printf("relay unreachable url=%s, continuing offline: %v", a.opts.URL, err)
				a.connChanges.emit(false)
			})
			failures++
			if failures > a.opts.ReconnectAttempts {
				a.log.Printf("relay reconnect attempts exhausted url=%s attempts=%d", a.opts.URL, a.opts.ReconnectAttempts)
				return
			}
			if !sleep(ctx, a.opts.ReconnectDelay) {
				return
			}
			continue
		}

		failures = 0
		a.attach(ctx, conn)
		err = a.readLoop(conn)
		a.detach(conn)
		if ctx.Err() != nil {
			return
		}
		a.log.Printf("relay connection lost url=%s: %v", a.opts.URL, err)
		if !sleep(ctx, a.opts.ReconnectDelay) {
			return
		}
	}
}

func (a *Adapter) attach(ctx context.Context, conn *websocket.Conn) {
	a.mu.Lock()
	a.conn = conn
	a.connected = true
	rejoin := make([]models.JoinRoomPayload, 0, len(a.rooms))
	for _, p := range a.rooms {
		rejoin = append(rejoin, p)
	}
	a.mu.Unlock()

	// The caller may have cancelled while the dial was completing.
	if ctx.Err() != nil {
		a.closeConn()
	}

	for _, p := range rejoin {
		if err := a.write(conn, models.EventJoinRoom, p); err != nil {
			a.log.Printf("relay rejoin failed room=%s: %v", p.RoomID, err)
		}
	}
	a.log.Printf("relay connected url=%s rooms=%d", a.opts.URL, len(rejoin))
	a.connChanges.emit(true)
}

func (a *Adapter) detach(conn *websocket.Conn) {
	a.mu.Lock()
	if a.conn == conn {
		a.conn = nil
	}
	a.connected = false
	a.mu.Unlock()

	_ = conn.Close()
	a.connChanges.emit(false)
}

func (a *Adapter) closeConn() {
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn == nil {
		return
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	_ = conn.Close()
}

func (a *Adapter) readLoop(conn *websocket.Conn) error {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		a.dispatch(raw)
	}
}

func (a *Adapter) dispatch(raw []byte) {
	var frame models.Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		a.log.Printf("relay bad frame: %v", err)
		return
	}

	switch frame.Event {
	case models.EventReceiveMessage:
		a.messages.emit(frame.Data)
	case models.EventTyping:
		var ev models.TypingEvent
		if decode(a.log, frame, &ev) {
			a.typing.emit(ev)
		}
	case models.EventUserJoined:
		var ev models.PresenceEvent
		if decode(a.log, frame, &ev) {
			a.joined.emit(ev)
		}
	case models.EventUserLeft:
		var ev models.PresenceEvent
		if decode(a.log, frame, &ev) {
			a.left.emit(ev)
		}
	case models.EventJoinDenied:
		var ev models.JoinDeniedEvent
		if decode(a.log, frame, &ev) {
			a.mu.Lock()
			delete(a.rooms, ev.RoomID)
			a.mu.Unlock()
			a.log.Printf("relay join denied room=%s: %s", ev.RoomID, ev.Reason)
		}
	}
}

func decode(logger *log.Logger, frame models.Frame, dst any) bool {
	if err := json.Unmarshal(frame.Data, dst); err != nil {
		logger.Printf("relay bad payload event=%s: %v", frame.Event, err)
		return false
	}
	return true
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
