// Package coordinator owns all live chat state: presence, the
// matchmaking queue, the pairing table and the room directory. Every
// inbound event is handled to completion under one lock, so state
// mutations within a single event are atomic with respect to other
// events. Durable writes leave through the Recorder and never gate
// chat-visible side effects.
package coordinator

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/straymeet/straymeet/internal/application/config"
	"github.com/straymeet/straymeet/internal/application/constant"
	"github.com/straymeet/straymeet/internal/application/metric"
	"github.com/straymeet/straymeet/internal/domain/events"
	"github.com/straymeet/straymeet/internal/domain/models"
	"github.com/straymeet/straymeet/internal/geo"
	"github.com/straymeet/straymeet/internal/limiter"
	"github.com/straymeet/straymeet/internal/roomcode"
)

// Sender delivers outbound events to connections. Sends are
// fire-and-forget per recipient; a failed write must not surface here.
type Sender interface {
	Send(connID string, msg events.Message)
	Broadcast(msg events.Message)
}

// Recorder accepts append-only analytics facts. Implementations enqueue
// and return immediately; write failures stay on their side of the
// boundary.
type Recorder interface {
	RecordSession(rec models.SessionRecord)
	RecordVisitor(rec models.VisitorRecord)
}

const (
	roomNotFoundMessage  = "This room code is invalid or has expired."
	codeExhaustedMessage = "Could not allocate a room code. Try again."
	rateLimitedMessage   = "You are doing that too often. Slow down a little."
)

// connection is the coordinator's view of one live transport session.
type connection struct {
	id         string
	remoteAddr string
	state      models.ConnectionState
	profile    models.Profile
	roomCode   string
	session    *openSession
}

// openSession tracks an in-flight pairing or room membership until it is
// flushed to the durable store.
type openSession struct {
	kind              models.SessionKind
	profile           models.Profile
	roomCode          string
	startedAt         time.Time
	concurrentAtStart int
	location          string
}

// Coordinator orchestrates matchmaking, rooms and presence. All state is
// private to it; collaborators see only the Sender and Recorder seams.
type Coordinator struct {
	mu sync.Mutex

	conns map[string]*connection
	queue *matchQueue
	pairs *pairTable
	rooms *roomDirectory

	codes   *roomcode.Generator
	limiter *limiter.Limiter

	sender   Sender
	recorder Recorder
	locator  geo.Locator

	maxMessageLen int
	now           func() time.Time
}

// New wires a coordinator with its collaborators.
func New(cfg config.ChatConfig, sender Sender, recorder Recorder, locator geo.Locator) *Coordinator {
	return &Coordinator{
		conns:         make(map[string]*connection),
		queue:         newMatchQueue(),
		pairs:         newPairTable(),
		rooms:         newRoomDirectory(),
		codes:         roomcode.New(cfg.CodeReservationTTL),
		limiter:       limiter.New(cfg.RateWindow, nil),
		sender:        sender,
		recorder:      recorder,
		locator:       locator,
		maxMessageLen: cfg.MaxMessageLength,
		now:           time.Now,
	}
}

// Connect registers a fresh transport session.
func (c *Coordinator) Connect(connID, remoteAddr string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.conns[connID] = &connection{
		id:         connID,
		remoteAddr: remoteAddr,
		state:      models.StateIdle,
	}

	metric.IncrementWSActiveConnections()
	c.broadcastCounts()
}

// Disconnect tears down every relation the connection holds: queue
// membership, pairing and room membership, with the same notifications
// an explicit leave would produce.
func (c *Coordinator) Disconnect(connID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	conn, ok := c.conns[connID]
	if !ok {
		return
	}

	c.detach(conn, true)

	c.limiter.Forget(connID)
	delete(c.conns, connID)

	metric.DecrementWSActiveConnections()
	metric.SetQueueLength(c.queue.len())
	c.broadcastCounts()
}

// HandleRegisterIdentity records a first-seen visitor. Idempotence is the
// durable store's problem (one row per user id), not the core's.
func (c *Coordinator) HandleRegisterIdentity(connID string, ev events.RegisterIdentityEvent) {
	if ev.UserID == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	conn, ok := c.conns[connID]
	if !ok {
		return
	}

	c.recorder.RecordVisitor(models.VisitorRecord{
		UserID:      ev.UserID,
		Location:    c.locator.Locate(conn.remoteAddr),
		FirstSeenAt: c.now(),
	})
}

// HandleJoinQueue enters the caller into random matchmaking and attempts
// a match. Incomplete profiles are silently ignored.
func (c *Coordinator) HandleJoinQueue(connID string, ev events.JoinQueueEvent) {
	if !ev.Profile.Valid() {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	conn, ok := c.conns[connID]
	if !ok {
		return
	}

	// A connection in a room or a pairing must leave it before queuing.
	wasRoomMember := conn.roomCode != ""
	c.detach(conn, true)

	conn.profile = ev.Profile
	conn.state = models.StateQueued
	c.queue.enqueue(connID, ev.Profile, c.now())

	c.tryMatch(conn)

	metric.SetQueueLength(c.queue.len())

	if wasRoomMember {
		c.broadcastCounts()
	}
}

// HandleCreateRoom allocates a fresh room and code for the caller.
func (c *Coordinator) HandleCreateRoom(connID string, ev events.CreateRoomEvent) {
	if ev.Profile.Name == "" || ev.RoomName == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	conn, ok := c.conns[connID]
	if !ok {
		return
	}

	if !c.limiter.Allow(connID, limiter.KindRoomCreate) {
		metric.IncrementRateLimited(string(limiter.KindRoomCreate))
		c.send(connID, events.TypeRateLimited, events.ErrorEvent{Message: rateLimitedMessage})
		return
	}

	now := c.now()

	code, err := c.codes.Next(now)
	if err != nil {
		slog.Error("allocate room code", slog.Any(constant.Error, err))
		c.send(connID, events.TypeRoomError, events.ErrorEvent{Message: codeExhaustedMessage})
		return
	}

	c.detach(conn, true)

	c.rooms.create(code, ev.RoomName, ev.Profile.Name, now)
	c.rooms.join(code, connID)

	conn.profile = ev.Profile
	conn.roomCode = code
	conn.state = models.StateRoomPending
	c.openSession(conn, models.SessionPrivate, ev.Profile, code)

	c.send(connID, events.TypeRoomCreated, events.RoomCreatedEvent{
		Code:     code,
		RoomName: ev.RoomName,
	})

	c.broadcastCounts()
}

// HandleGetRoomInfo answers a pre-join preview. Unknown codes are
// silently ignored; only an actual join attempt earns an error notice.
func (c *Coordinator) HandleGetRoomInfo(connID string, ev events.RoomCodeEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.rooms.lookup(ev.Code)
	if !ok {
		return
	}

	c.send(connID, events.TypeRoomInfo, events.RoomInfoEvent{
		Code:        r.code,
		RoomName:    r.name,
		CreatorName: r.creatorName,
	})
}

// HandleJoinRoom joins the caller into an existing room by code.
func (c *Coordinator) HandleJoinRoom(connID string, ev events.JoinRoomEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	conn, ok := c.conns[connID]
	if !ok {
		return
	}

	if !c.limiter.Allow(connID, limiter.KindRoomJoin) {
		metric.IncrementRateLimited(string(limiter.KindRoomJoin))
		c.send(connID, events.TypeRateLimited, events.ErrorEvent{Message: rateLimitedMessage})
		return
	}

	r, ok := c.rooms.lookup(ev.Code)
	if !ok {
		c.send(connID, events.TypeRoomError, events.ErrorEvent{Message: roomNotFoundMessage})
		return
	}

	// A retry with the caller's own code re-confirms membership without
	// detaching: tearing the membership down first would empty and delete
	// the very room being joined.
	if conn.roomCode == ev.Code {
		conn.profile = ev.Profile
		c.send(connID, events.TypeRoomJoined, events.RoomJoinedEvent{
			Code:        r.code,
			RoomName:    r.name,
			CreatorName: r.creatorName,
		})
		return
	}

	c.detach(conn, true)

	if _, ok := c.rooms.join(ev.Code, connID); !ok {
		c.send(connID, events.TypeRoomError, events.ErrorEvent{Message: roomNotFoundMessage})
		return
	}

	// Existing members re-announce their profiles so the newcomer learns
	// who is already here; the directory does not keep member profiles.
	for _, member := range r.membersExcept(connID) {
		c.send(member, events.TypeRequestProfile, nil)
	}

	conn.profile = ev.Profile
	conn.roomCode = ev.Code
	conn.state = models.StateRoomActive

	// The creator stops waiting the moment company arrives.
	for _, member := range r.membersExcept(connID) {
		if other, ok := c.conns[member]; ok && other.state == models.StateRoomPending {
			other.state = models.StateRoomActive
		}
	}

	c.send(connID, events.TypeRoomJoined, events.RoomJoinedEvent{
		Code:        r.code,
		RoomName:    r.name,
		CreatorName: r.creatorName,
	})
	c.send(connID, events.TypeReceiveMessage, c.systemMessage(fmt.Sprintf("Welcome to %s!", r.name)))

	for _, member := range r.membersExcept(connID) {
		c.send(member, events.TypePartnerJoined, events.PartnerJoinedEvent{
			Partner: events.PartnerOf(ev.Profile),
			IsGroup: true,
		})
		c.send(member, events.TypeReceiveMessage, c.systemMessage(fmt.Sprintf("%s joined the room!", ev.Profile.Name)))
	}

	c.openSession(conn, models.SessionPrivate, ev.Profile, ev.Code)

	c.broadcastCounts()
}

// HandleAnnounceProfile forwards a member's profile to the rest of the
// room, completing the newcomer round-trip.
func (c *Coordinator) HandleAnnounceProfile(connID string, ev events.AnnounceProfileEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	conn, ok := c.conns[connID]
	if !ok || conn.roomCode != ev.Code {
		return
	}

	r, ok := c.rooms.lookup(ev.Code)
	if !ok {
		return
	}

	for _, member := range r.membersExcept(connID) {
		c.send(member, events.TypePartnerJoined, events.PartnerJoinedEvent{
			Partner: events.PartnerOf(ev.Profile),
			IsGroup: true,
		})
	}
}

// HandleSendMessage sanitizes and routes a chat message to the partner or
// to every other room member.
func (c *Coordinator) HandleSendMessage(connID string, ev events.SendMessageEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	conn, ok := c.conns[connID]
	if !ok {
		return
	}

	if !c.limiter.Allow(connID, limiter.KindMessage) {
		metric.IncrementRateLimited(string(limiter.KindMessage))
		return
	}

	text := Sanitize(ev.Text, c.maxMessageLen)
	if text == "" {
		return
	}

	if ev.Code != "" {
		r, ok := c.rooms.lookup(ev.Code)
		if !ok || conn.roomCode != ev.Code {
			return
		}

		sender := events.PartnerOf(ev.Profile)
		msg := events.ChatMessage{
			Text:      text,
			Sender:    &sender,
			UserID:    ev.Profile.UserID,
			Timestamp: c.now(),
			ReplyTo:   ev.ReplyTo,
			MessageID: ev.MessageID,
		}
		for _, member := range r.membersExcept(connID) {
			c.send(member, events.TypeReceiveMessage, msg)
		}

		metric.IncrementMessages()
		return
	}

	partner, ok := c.pairs.partnerOf(connID)
	if !ok {
		return
	}

	c.send(partner, events.TypeReceiveMessage, events.ChatMessage{
		Text:      text,
		UserID:    ev.Profile.UserID,
		Timestamp: c.now(),
		ReplyTo:   ev.ReplyTo,
		MessageID: ev.MessageID,
	})

	metric.IncrementMessages()
}

// HandleMessageDelivered echoes a delivery acknowledgement back to the
// original sender, provided the two connections actually share a
// conversation.
func (c *Coordinator) HandleMessageDelivered(connID string, ev events.MessageDeliveredEvent) {
	if ev.MessageID == "" || ev.SenderID == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.sharesConversation(connID, ev.SenderID) {
		return
	}

	c.send(ev.SenderID, events.TypeDeliveryReceipt, events.DeliveryReceipt{MessageID: ev.MessageID})
}

// HandleTyping forwards a typing indicator (or its end) to the other side.
func (c *Coordinator) HandleTyping(connID string, ev events.IndicatorEvent, stopped bool) {
	typ := events.TypePartnerTyping
	if stopped {
		typ = events.TypePartnerStopTyping
	}

	c.forwardIndicator(connID, ev.Code, typ, limiter.KindTyping)
}

// HandleReaction forwards a lightweight reaction to the other side.
func (c *Coordinator) HandleReaction(connID string, ev events.IndicatorEvent) {
	c.forwardIndicator(connID, ev.Code, events.TypePartnerReaction, limiter.KindReaction)
}

// HandleSkip ends the caller's current pairing; the partner is notified
// and both sessions are flushed. The caller typically re-queues right
// after with a fresh join_queue.
func (c *Coordinator) HandleSkip(connID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	conn, ok := c.conns[connID]
	if !ok {
		return
	}

	wasRoomMember := conn.roomCode != ""
	c.detach(conn, true)

	metric.SetQueueLength(c.queue.len())

	if wasRoomMember {
		c.broadcastCounts()
	}
}

// HandleLeave is the explicit return to the home screen: every relation
// ends and the connection goes back to Idle.
func (c *Coordinator) HandleLeave(connID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	conn, ok := c.conns[connID]
	if !ok {
		return
	}

	c.detach(conn, true)

	metric.SetQueueLength(c.queue.len())
	c.broadcastCounts()
}

// tryMatch pairs the caller with the longest-waiting other entry, if any.
func (c *Coordinator) tryMatch(conn *connection) {
	caller, partnerEntry, ok := c.queue.match(conn.id)
	if !ok {
		return
	}

	partner, ok := c.conns[partnerEntry.connID]
	if !ok {
		// Stale entry; disconnect should have removed it. Keep the
		// caller waiting rather than losing them.
		c.queue.enqueue(caller.connID, caller.profile, caller.enqueuedAt)
		return
	}

	c.pairs.pair(caller.connID, partnerEntry.connID)
	conn.state = models.StatePaired
	partner.state = models.StatePaired

	c.openSession(conn, models.SessionRandom, caller.profile, "")
	c.openSession(partner, models.SessionRandom, partnerEntry.profile, "")

	c.send(caller.connID, events.TypeChatStart, events.ChatStartEvent{
		Partner: events.PartnerOf(partnerEntry.profile),
	})
	c.send(partnerEntry.connID, events.TypeChatStart, events.ChatStartEvent{
		Partner: events.PartnerOf(caller.profile),
	})

	metric.IncrementMatches()
}

// detach removes the connection from the queue, its pairing and its room,
// flushing sessions and notifying counterparts. The connection ends Idle.
func (c *Coordinator) detach(conn *connection, notify bool) {
	c.queue.remove(conn.id)

	if partnerID, ok := c.pairs.unpair(conn.id); ok {
		if partner, live := c.conns[partnerID]; live {
			if notify {
				c.send(partnerID, events.TypeReceiveMessage, c.systemMessage(fmt.Sprintf("%s has left the chat.", conn.profile.Name)))
				c.send(partnerID, events.TypePartnerLeft, nil)
			}
			partner.state = models.StateIdle
			c.flushSession(partner)
		}
		c.flushSession(conn)
	}

	if conn.roomCode != "" {
		if r, ok := c.rooms.lookup(conn.roomCode); ok {
			if notify {
				for _, member := range r.membersExcept(conn.id) {
					c.send(member, events.TypeReceiveMessage, c.systemMessage(fmt.Sprintf("%s has left the chat.", conn.profile.Name)))
				}
			}
			c.rooms.leave(conn.roomCode, conn.id)
		}
		conn.roomCode = ""
		c.flushSession(conn)
	}

	conn.state = models.StateIdle
}

func (c *Coordinator) forwardIndicator(connID, code, typ string, kind limiter.Kind) {
	c.mu.Lock()
	defer c.mu.Unlock()

	conn, ok := c.conns[connID]
	if !ok {
		return
	}

	if !c.limiter.Allow(connID, kind) {
		metric.IncrementRateLimited(string(kind))
		return
	}

	if code != "" {
		r, ok := c.rooms.lookup(code)
		if !ok || conn.roomCode != code {
			return
		}
		for _, member := range r.membersExcept(connID) {
			c.send(member, typ, nil)
		}
		return
	}

	if partner, ok := c.pairs.partnerOf(connID); ok {
		c.send(partner, typ, nil)
	}
}

// sharesConversation reports whether a and b are currently paired with
// each other or members of the same room.
func (c *Coordinator) sharesConversation(a, b string) bool {
	if partner, ok := c.pairs.partnerOf(a); ok && partner == b {
		return true
	}

	ca, okA := c.conns[a]
	cb, okB := c.conns[b]

	return okA && okB && ca.roomCode != "" && ca.roomCode == cb.roomCode
}

func (c *Coordinator) openSession(conn *connection, kind models.SessionKind, profile models.Profile, roomCode string) {
	conn.session = &openSession{
		kind:              kind,
		profile:           profile,
		roomCode:          roomCode,
		startedAt:         c.now(),
		concurrentAtStart: len(c.conns),
		location:          c.locator.Locate(conn.remoteAddr),
	}
}

// flushSession closes the connection's open session, if any, and hands
// the record to the write-behind recorder. Flushing is exactly-once:
// the open session is cleared before the recorder is involved.
func (c *Coordinator) flushSession(conn *connection) {
	s := conn.session
	if s == nil {
		return
	}
	conn.session = nil

	now := c.now()

	c.recorder.RecordSession(models.SessionRecord{
		Kind:              s.kind,
		ConnectionID:      conn.id,
		Username:          s.profile.Name,
		Gender:            s.profile.Gender,
		StartedAt:         s.startedAt,
		EndedAt:           now,
		DurationSeconds:   int(now.Sub(s.startedAt) / time.Second),
		ConcurrentAtStart: s.concurrentAtStart,
		RoomCode:          s.roomCode,
		Location:          s.location,
	})

	metric.IncrementSessionsRecorded()
}

// broadcastCounts recomputes presence counts and pushes them out: each
// room gets its own member count, everyone gets the lobby and total
// counts. Lobby = total connections minus private-room members.
func (c *Coordinator) broadcastCounts() {
	total := len(c.conns)

	roomUsers := 0
	for code, r := range c.rooms.rooms {
		count := r.memberCount()
		roomUsers += count

		for member := range r.members {
			c.send(member, events.TypeRoomCount, events.RoomCountEvent{Code: code, Count: count})
		}
	}

	lobby := total - roomUsers
	if lobby < 0 {
		lobby = 0
	}

	c.sender.Broadcast(envelope(events.TypeLobbyCount, events.CountEvent{Count: lobby}))
	c.sender.Broadcast(envelope(events.TypeUserCount, events.CountEvent{Count: total}))

	metric.SetLobbyUsers(lobby)
	metric.SetActiveRooms(c.rooms.len())
}

func (c *Coordinator) systemMessage(text string) events.ChatMessage {
	return events.ChatMessage{
		Text:      text,
		Timestamp: c.now(),
		IsSystem:  true,
	}
}

func (c *Coordinator) send(connID, typ string, payload any) {
	c.sender.Send(connID, envelope(typ, payload))
}

func envelope(typ string, payload any) events.Message {
	if payload == nil {
		return events.Message{Type: typ}
	}

	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal outbound event", slog.String(constant.EventType, typ), slog.Any(constant.Error, err))
		return events.Message{Type: typ}
	}

	return events.Message{Type: typ, Data: data}
}
