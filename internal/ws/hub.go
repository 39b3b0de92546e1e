package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"sync"

	"classroom-relay/internal/models"
	"classroom-relay/internal/observability"
	"classroom-relay/internal/telemetry"
)

// Bridge forwards room frames to other relay instances.
type Bridge interface {
	Publish(ctx context.Context, roomID string, frame []byte, excludeSessionID string) error
}

// Archiver receives every relayed message payload. Record must not block.
type Archiver interface {
	Record(roomID string, payload json.RawMessage)
}

// JoinVerifier decides whether a join-room token admits the user.
type JoinVerifier interface {
	VerifyJoin(token, roomID, userID string) error
}

// HubOption configures optional collaborators of a Hub.
type HubOption func(*Hub)

func WithBridge(b Bridge) HubOption             { return func(h *Hub) { h.bridge = b } }
func WithArchiver(a Archiver) HubOption         { return func(h *Hub) { h.archive = a } }
func WithJoinVerifier(v JoinVerifier) HubOption { return func(h *Hub) { h.verifier = v } }
func WithAudit(e *telemetry.AuditEmitter) HubOption {
	return func(h *Hub) { h.audit = e }
}

type member struct {
	session  *Session
	userID   string
	userType string
}

// Hub maintains room membership and routes events between sessions.
// rooms and memberships are two views of the same index and only change
// together under mu.
type Hub struct {
	mu          sync.RWMutex
	sessions    map[string]*Session
	rooms       map[string]map[string]member
	memberships map[string]map[string]struct{}

	bridge   Bridge
	archive  Archiver
	verifier JoinVerifier
	audit    *telemetry.AuditEmitter
}

// NewHub creates an empty hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		sessions:    make(map[string]*Session),
		rooms:       make(map[string]map[string]member),
		memberships: make(map[string]map[string]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register tracks a newly connected session.
func (h *Hub) Register(s *Session) {
	h.mu.Lock()
	h.sessions[s.ID] = s
	h.mu.Unlock()
	observability.IncWSActive()
}

// Unregister removes a session from every room it joined and closes it.
// Remaining members of those rooms receive user-left.
func (h *Hub) Unregister(s *Session) {
	h.mu.Lock()
	if _, ok := h.sessions[s.ID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.sessions, s.ID)

	type departure struct {
		roomID  string
		m       member
		deleted bool
	}
	var left []departure
	for roomID := range h.memberships[s.ID] {
		m, deleted := h.removeLocked(roomID, s.ID)
		left = append(left, departure{roomID: roomID, m: m, deleted: deleted})
	}
	delete(h.memberships, s.ID)
	roomCount := len(h.rooms)
	h.mu.Unlock()

	s.Close()
	observability.DecWSActive()
	observability.SetRoomsActive(roomCount)

	for _, d := range left {
		log.Printf("relay disconnect leave room=%s session=%s user=%s", d.roomID, s.ID, d.m.userID)
		h.announceLeft(s, d.roomID, d.m)
		if d.deleted {
			h.roomDeleted(d.roomID, roomCount)
		}
	}
}

// Join adds s to roomID and notifies the other members. Joining a room the
// session is already in changes nothing and notifies no one.
func (h *Hub) Join(s *Session, p models.JoinRoomPayload) {
	if p.RoomID == "" {
		return
	}
	if h.verifier != nil {
		if err := h.verifier.VerifyJoin(p.Token, p.RoomID, p.UserID); err != nil {
			log.Printf("relay join denied room=%s session=%s user=%s: %v", p.RoomID, s.ID, p.UserID, err)
			h.sendTo(s, models.EventJoinDenied, models.JoinDeniedEvent{RoomID: p.RoomID, Reason: err.Error()})
			return
		}
	}

	h.mu.Lock()
	if _, ok := h.sessions[s.ID]; !ok {
		h.mu.Unlock()
		return
	}
	members, exists := h.rooms[p.RoomID]
	if !exists {
		members = make(map[string]member)
		h.rooms[p.RoomID] = members
	}
	if _, already := members[s.ID]; already {
		h.mu.Unlock()
		return
	}
	members[s.ID] = member{session: s, userID: p.UserID, userType: p.UserType}
	if h.memberships[s.ID] == nil {
		h.memberships[s.ID] = make(map[string]struct{})
	}
	h.memberships[s.ID][p.RoomID] = struct{}{}
	roomCount := len(h.rooms)
	h.mu.Unlock()

	observability.SetRoomsActive(roomCount)
	if !exists {
		h.roomCreated(p.RoomID, roomCount)
	}
	log.Printf("relay join room=%s session=%s user=%s type=%s", p.RoomID, s.ID, p.UserID, p.UserType)
	h.audit.Emit(context.Background(), telemetry.AuditRecord{
		Level:     "INFO",
		Text:      fmt.Sprintf("%s %s joined room %s", p.UserType, p.UserID, p.RoomID),
		RequestID: s.Info.RequestID,
		UserID:    p.UserID,
		RoomID:    p.RoomID,
		SessionID: s.ID,
	})

	h.broadcast(p.RoomID, models.EventUserJoined, models.PresenceEvent{UserID: p.UserID, UserType: p.UserType}, s.ID)
}

// Leave removes s from roomID. Leaving a room the session is not in is a no-op.
func (h *Hub) Leave(s *Session, roomID string) {
	h.mu.Lock()
	if _, ok := h.memberships[s.ID][roomID]; !ok {
		h.mu.Unlock()
		return
	}
	m, deleted := h.removeLocked(roomID, s.ID)
	delete(h.memberships[s.ID], roomID)
	if len(h.memberships[s.ID]) == 0 {
		delete(h.memberships, s.ID)
	}
	roomCount := len(h.rooms)
	h.mu.Unlock()

	observability.SetRoomsActive(roomCount)
	log.Printf("relay leave room=%s session=%s user=%s", roomID, s.ID, m.userID)
	h.announceLeft(s, roomID, m)
	if deleted {
		h.roomDeleted(roomID, roomCount)
	}
}

// Send relays message unmodified to every member of roomID, the sender included.
func (h *Hub) Send(s *Session, p models.SendMessagePayload) {
	if p.RoomID == "" {
		return
	}
	frame, err := models.RawFrame(models.EventReceiveMessage, p.Message)
	if err != nil {
		log.Printf("relay send encode failed room=%s session=%s: %v", p.RoomID, s.ID, err)
		return
	}
	h.fanOut(p.RoomID, models.EventReceiveMessage, frame, "")
	if h.archive != nil && len(p.Message) > 0 {
		h.archive.Record(p.RoomID, p.Message)
	}
}

// Typing relays a typing signal to the other members of the room.
func (h *Hub) Typing(s *Session, p models.TypingPayload) {
	if p.RoomID == "" {
		return
	}
	h.broadcast(p.RoomID, models.EventTyping, models.TypingEvent{UserID: p.UserID, IsTyping: p.IsTyping}, s.ID)
}

// Dispatch decodes one inbound frame and routes it. Unknown events and
// malformed payloads are dropped.
func (h *Hub) Dispatch(s *Session, raw []byte) {
	var frame models.Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		observability.IncWSEvent("malformed")
		log.Printf("relay malformed frame session=%s: %v", s.ID, err)
		return
	}

	switch frame.Event {
	case models.EventJoinRoom:
		var p models.JoinRoomPayload
		if h.decode(s, frame, &p) {
			h.Join(s, p)
		}
	case models.EventLeaveRoom:
		var p models.LeaveRoomPayload
		if h.decode(s, frame, &p) {
			h.Leave(s, p.RoomID)
		}
	case models.EventSendMessage:
		var p models.SendMessagePayload
		if h.decode(s, frame, &p) {
			h.Send(s, p)
		}
	case models.EventTyping:
		var p models.TypingPayload
		if h.decode(s, frame, &p) {
			h.Typing(s, p)
		}
	default:
		observability.IncWSEvent("unknown")
		log.Printf("relay unknown event=%q session=%s", frame.Event, s.ID)
		return
	}
	observability.IncWSEvent(frame.Event)
}

func (h *Hub) decode(s *Session, frame models.Frame, dst any) bool {
	if err := json.Unmarshal(frame.Data, dst); err != nil {
		log.Printf("relay bad payload event=%s session=%s: %v", frame.Event, s.ID, err)
		return false
	}
	return true
}

// DeliverRemote hands a frame received from another instance to local members.
func (h *Hub) DeliverRemote(roomID string, frame []byte, excludeSessionID string) {
	h.deliverLocal(roomID, "remote", frame, excludeSessionID)
}

// Close disconnects every session.
func (h *Hub) Close() {
	h.mu.RLock()
	sessions := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.RUnlock()

	for _, s := range sessions {
		h.Unregister(s)
	}
}

// Rooms returns a snapshot of the membership index: room id to sorted session ids.
func (h *Hub) Rooms() map[string][]string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string][]string, len(h.rooms))
	for roomID, members := range h.rooms {
		out[roomID] = sortedIDs(members)
	}
	return out
}

// Members returns the sorted session ids currently in roomID.
func (h *Hub) Members(roomID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return sortedIDs(h.rooms[roomID])
}

// SessionCount returns the number of registered sessions.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

func sortedIDs(members map[string]member) []string {
	if len(members) == 0 {
		return nil
	}
	ids := make([]string, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// removeLocked drops sessionID from roomID and deletes the room when it
// becomes empty. Callers hold mu and update memberships themselves.
func (h *Hub) removeLocked(roomID, sessionID string) (member, bool) {
	members, ok := h.rooms[roomID]
	if !ok {
		return member{}, false
	}
	m := members[sessionID]
	delete(members, sessionID)
	if len(members) == 0 {
		delete(h.rooms, roomID)
		return m, true
	}
	return m, false
}

func (h *Hub) announceLeft(s *Session, roomID string, m member) {
	h.broadcast(roomID, models.EventUserLeft, models.PresenceEvent{UserID: m.userID, UserType: m.userType}, s.ID)
}

func (h *Hub) roomCreated(roomID string, active int) {
	ev := observability.NewRoomEvent("room_created", observability.RoomEvent{RoomID: roomID, ActiveRooms: active})
	_ = observability.PublishEvent(context.Background(), observability.RoomEventsRoutingKey, ev, nil)
}

func (h *Hub) roomDeleted(roomID string, active int) {
	log.Printf("relay room deleted room=%s active=%d", roomID, active)
	ev := observability.NewRoomEvent("room_deleted", observability.RoomEvent{RoomID: roomID, ActiveRooms: active})
	_ = observability.PublishEvent(context.Background(), observability.RoomEventsRoutingKey, ev, nil)
}

func (h *Hub) sendTo(s *Session, event string, payload any) {
	frame, err := models.NewFrame(event, payload)
	if err != nil {
		log.Printf("relay encode failed event=%s: %v", event, err)
		return
	}
	if !s.enqueue(frame) {
		h.dropSlow(s)
	}
}

func (h *Hub) broadcast(roomID, event string, payload any, excludeSessionID string) {
	frame, err := models.NewFrame(event, payload)
	if err != nil {
		log.Printf("relay encode failed event=%s room=%s: %v", event, roomID, err)
		return
	}
	h.fanOut(roomID, event, frame, excludeSessionID)
}

func (h *Hub) fanOut(roomID, event string, frame []byte, excludeSessionID string) {
	h.deliverLocal(roomID, event, frame, excludeSessionID)
	if h.bridge != nil {
		if err := h.bridge.Publish(context.Background(), roomID, frame, excludeSessionID); err != nil {
			log.Printf("relay bridge publish failed room=%s event=%s: %v", roomID, event, err)
		}
	}
}

// deliverLocal queues frame to every local member of roomID except
// excludeSessionID. Delivery holds the write lock so that every member sees
// frames in the same order.
func (h *Hub) deliverLocal(roomID, event string, frame []byte, excludeSessionID string) {
	var slow []*Session
	delivered := 0

	h.mu.Lock()
	for id, m := range h.rooms[roomID] {
		if id == excludeSessionID {
			continue
		}
		if m.session.enqueue(frame) {
			delivered++
		} else {
			slow = append(slow, m.session)
		}
	}
	h.mu.Unlock()

	observability.AddRoomDeliveries(event, delivered)
	for _, s := range slow {
		h.dropSlow(s)
	}
}

func (h *Hub) dropSlow(s *Session) {
	select {
	case <-s.Done():
	default:
		observability.IncSlowConsumer()
		log.Printf("relay dropping slow session=%s", s.ID)
	}
	h.Unregister(s)
}
