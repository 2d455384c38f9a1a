package coordinator

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/straymeet/straymeet/internal/application/config"
	"github.com/straymeet/straymeet/internal/domain/events"
	"github.com/straymeet/straymeet/internal/domain/models"
	"github.com/straymeet/straymeet/internal/geo"
)

type fakeSender struct {
	sent       map[string][]events.Message
	broadcasts []events.Message
}

func newFakeSender() *fakeSender {
	return &fakeSender{sent: make(map[string][]events.Message)}
}

func (f *fakeSender) Send(connID string, msg events.Message) {
	f.sent[connID] = append(f.sent[connID], msg)
}

func (f *fakeSender) Broadcast(msg events.Message) {
	f.broadcasts = append(f.broadcasts, msg)
}

func (f *fakeSender) ofType(connID, typ string) []events.Message {
	var out []events.Message
	for _, m := range f.sent[connID] {
		if m.Type == typ {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeSender) reset() {
	f.sent = make(map[string][]events.Message)
	f.broadcasts = nil
}

type fakeRecorder struct {
	sessions []models.SessionRecord
	visitors []models.VisitorRecord
}

func (f *fakeRecorder) RecordSession(rec models.SessionRecord) {
	f.sessions = append(f.sessions, rec)
}

func (f *fakeRecorder) RecordVisitor(rec models.VisitorRecord) {
	f.visitors = append(f.visitors, rec)
}

func newTestCoordinator(t *testing.T) (*Coordinator, *fakeSender, *fakeRecorder) {
	t.Helper()

	sender := newFakeSender()
	recorder := &fakeRecorder{}

	c := New(config.ChatConfig{
		MaxMessageLength:   500,
		CodeReservationTTL: 24 * time.Hour,
		RateWindow:         time.Minute,
	}, sender, recorder, geo.StaticLocator{})

	return c, sender, recorder
}

func decode[T any](t *testing.T, msg events.Message) T {
	t.Helper()

	var out T
	require.NoError(t, json.Unmarshal(msg.Data, &out))
	return out
}

var (
	ann = models.Profile{Name: "Ann", Gender: "female", AvatarSeed: "seed-ann", UserID: "u-ann"}
	ben = models.Profile{Name: "Ben", Gender: "male", AvatarSeed: "seed-ben", UserID: "u-ben"}
)

func TestCoordinator_RandomMatchFlow(t *testing.T) {
	c, sender, _ := newTestCoordinator(t)

	c.Connect("ann", "203.0.113.10:1234")
	c.Connect("ben", "203.0.113.11:1234")

	c.HandleJoinQueue("ann", events.JoinQueueEvent{Profile: ann})
	require.Empty(t, sender.ofType("ann", events.TypeChatStart), "nobody to match yet")

	c.HandleJoinQueue("ben", events.JoinQueueEvent{Profile: ben})

	annStart := sender.ofType("ann", events.TypeChatStart)
	benStart := sender.ofType("ben", events.TypeChatStart)
	require.Len(t, annStart, 1)
	require.Len(t, benStart, 1)

	assert.Equal(t, "Ben", decode[events.ChatStartEvent](t, annStart[0]).Partner.Name)
	assert.Equal(t, "Ann", decode[events.ChatStartEvent](t, benStart[0]).Partner.Name)

	// Pairing is symmetric and exclusive.
	partner, ok := c.pairs.partnerOf("ann")
	require.True(t, ok)
	assert.Equal(t, "ben", partner)
	partner, ok = c.pairs.partnerOf("ben")
	require.True(t, ok)
	assert.Equal(t, "ann", partner)

	// Ann sends "hi"; Ben receives it.
	c.HandleSendMessage("ann", events.SendMessageEvent{Text: "hi", Profile: ann})

	got := sender.ofType("ben", events.TypeReceiveMessage)
	require.Len(t, got, 1)
	assert.Equal(t, "hi", decode[events.ChatMessage](t, got[0]).Text)
}

func TestCoordinator_MatchingIsFIFO(t *testing.T) {
	c, sender, _ := newTestCoordinator(t)

	c.Connect("a", "")
	c.HandleJoinQueue("a", events.JoinQueueEvent{Profile: models.Profile{Name: "A", Gender: "x"}})

	// A waits alone; B arrives and is matched with A immediately.
	c.Connect("b", "")
	c.HandleJoinQueue("b", events.JoinQueueEvent{Profile: models.Profile{Name: "B", Gender: "y"}})
	require.Len(t, sender.ofType("a", events.TypeChatStart), 1)

	// C then D: D's partner must be C, the earliest still-waiting entry.
	c.Connect("c", "")
	c.Connect("d", "")
	c.HandleJoinQueue("c", events.JoinQueueEvent{Profile: models.Profile{Name: "C", Gender: "x"}})
	c.HandleJoinQueue("d", events.JoinQueueEvent{Profile: models.Profile{Name: "D", Gender: "y"}})

	dStart := sender.ofType("d", events.TypeChatStart)
	require.Len(t, dStart, 1)
	assert.Equal(t, "C", decode[events.ChatStartEvent](t, dStart[0]).Partner.Name)
}

func TestCoordinator_InvalidProfileIsSilentlyIgnored(t *testing.T) {
	c, sender, _ := newTestCoordinator(t)

	c.Connect("a", "")
	c.HandleJoinQueue("a", events.JoinQueueEvent{Profile: models.Profile{Name: "NoGender"}})

	assert.Equal(t, 0, c.queue.len())
	assert.Empty(t, sender.sent["a"], "no error event is surfaced")
	assert.Equal(t, models.StateIdle, c.conns["a"].state)
}

func TestCoordinator_DisconnectWhilePaired(t *testing.T) {
	c, sender, recorder := newTestCoordinator(t)

	c.Connect("ann", "")
	c.Connect("ben", "")
	c.HandleJoinQueue("ann", events.JoinQueueEvent{Profile: ann})
	c.HandleJoinQueue("ben", events.JoinQueueEvent{Profile: ben})

	sender.reset()
	c.Disconnect("ben")

	// Ann gets exactly one departure notice and a disconnect signal.
	notices := sender.ofType("ann", events.TypeReceiveMessage)
	require.Len(t, notices, 1)
	msg := decode[events.ChatMessage](t, notices[0])
	assert.True(t, msg.IsSystem)
	assert.Contains(t, msg.Text, "Ben")
	require.Len(t, sender.ofType("ann", events.TypePartnerLeft), 1)

	// Ben is gone from every registry.
	_, ok := c.pairs.partnerOf("ann")
	assert.False(t, ok)
	_, ok = c.conns["ben"]
	assert.False(t, ok)
	assert.Equal(t, 0, c.queue.len())

	// Both sessions were flushed, exactly once each.
	require.Len(t, recorder.sessions, 2)
	for _, s := range recorder.sessions {
		assert.Equal(t, models.SessionRandom, s.Kind)
	}
}

func gaugeValue(t *testing.T, name string) float64 {
	t.Helper()

	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)

	for _, mf := range families {
		if mf.GetName() == name {
			return mf.GetMetric()[0].GetGauge().GetValue()
		}
	}

	t.Fatalf("gauge %q not registered", name)
	return 0
}

func TestCoordinator_DisconnectUpdatesQueueGauge(t *testing.T) {
	c, _, _ := newTestCoordinator(t)

	c.Connect("ann", "")
	c.HandleJoinQueue("ann", events.JoinQueueEvent{Profile: ann})
	require.Equal(t, float64(1), gaugeValue(t, "chat_matchmaking_queue_length"))

	// A queued connection dropping must not leave the gauge stale.
	c.Disconnect("ann")

	assert.Equal(t, 0, c.queue.len())
	assert.Equal(t, float64(0), gaugeValue(t, "chat_matchmaking_queue_length"))
}

func TestCoordinator_SkipFlushesAndAllowsRequeue(t *testing.T) {
	c, sender, recorder := newTestCoordinator(t)

	c.Connect("ann", "")
	c.Connect("ben", "")
	c.HandleJoinQueue("ann", events.JoinQueueEvent{Profile: ann})
	c.HandleJoinQueue("ben", events.JoinQueueEvent{Profile: ben})

	sender.reset()
	c.HandleSkip("ann")

	require.Len(t, sender.ofType("ben", events.TypePartnerLeft), 1)
	assert.Len(t, recorder.sessions, 2)
	assert.Equal(t, models.StateIdle, c.conns["ann"].state)
	assert.Equal(t, models.StateIdle, c.conns["ben"].state)

	// Both can requeue and be matched again.
	c.HandleJoinQueue("ann", events.JoinQueueEvent{Profile: ann})
	c.HandleJoinQueue("ben", events.JoinQueueEvent{Profile: ben})
	assert.Len(t, sender.ofType("ann", events.TypeChatStart), 1)
}

func TestCoordinator_PrivateRoomFlow(t *testing.T) {
	c, sender, recorder := newTestCoordinator(t)

	cara := models.Profile{Name: "Cara", Gender: "female", AvatarSeed: "seed-cara"}
	dee := models.Profile{Name: "Dee", Gender: "female", AvatarSeed: "seed-dee"}

	c.Connect("cara", "")
	c.Connect("dee", "")

	c.HandleCreateRoom("cara", events.CreateRoomEvent{RoomName: "Study Group", Profile: cara})

	created := sender.ofType("cara", events.TypeRoomCreated)
	require.Len(t, created, 1)
	room := decode[events.RoomCreatedEvent](t, created[0])
	assert.Len(t, room.Code, 8)
	assert.Equal(t, "Study Group", room.RoomName)
	assert.Equal(t, models.StateRoomPending, c.conns["cara"].state)

	// Dee previews, then joins.
	c.HandleGetRoomInfo("dee", events.RoomCodeEvent{Code: room.Code})
	info := sender.ofType("dee", events.TypeRoomInfo)
	require.Len(t, info, 1)
	assert.Equal(t, "Cara", decode[events.RoomInfoEvent](t, info[0]).CreatorName)

	c.HandleJoinRoom("dee", events.JoinRoomEvent{Code: room.Code, Profile: dee})

	joined := sender.ofType("dee", events.TypeRoomJoined)
	require.Len(t, joined, 1)
	assert.Equal(t, "Study Group", decode[events.RoomJoinedEvent](t, joined[0]).RoomName)

	// Cara was asked to re-announce herself and saw the join notice.
	require.Len(t, sender.ofType("cara", events.TypeRequestProfile), 1)

	var joinNotice bool
	for _, m := range sender.ofType("cara", events.TypeReceiveMessage) {
		if decode[events.ChatMessage](t, m).Text == "Dee joined the room!" {
			joinNotice = true
		}
	}
	assert.True(t, joinNotice)

	// Cara announces; Dee receives the partner_joined event.
	c.HandleAnnounceProfile("cara", events.AnnounceProfileEvent{Code: room.Code, Profile: cara})

	deeSaw := sender.ofType("dee", events.TypePartnerJoined)
	require.Len(t, deeSaw, 1)
	assert.Equal(t, "Cara", decode[events.PartnerJoinedEvent](t, deeSaw[0]).Partner.Name)

	assert.Equal(t, models.StateRoomActive, c.conns["cara"].state)
	assert.Equal(t, models.StateRoomActive, c.conns["dee"].state)

	// Room messages broadcast to every other member, with sender profile.
	sender.reset()
	c.HandleSendMessage("dee", events.SendMessageEvent{Text: "hello all", Code: room.Code, Profile: dee})

	got := sender.ofType("cara", events.TypeReceiveMessage)
	require.Len(t, got, 1)
	chat := decode[events.ChatMessage](t, got[0])
	assert.Equal(t, "hello all", chat.Text)
	require.NotNil(t, chat.Sender)
	assert.Equal(t, "Dee", chat.Sender.Name)

	// Everyone leaves; the room vanishes but the code stays reserved.
	c.HandleLeave("dee")
	c.Disconnect("cara")

	_, ok := c.rooms.lookup(room.Code)
	assert.False(t, ok)
	assert.True(t, c.codes.Reserved(room.Code, time.Now()))
	assert.Len(t, recorder.sessions, 2, "one private session per member")
}

func TestCoordinator_RejoinOwnRoomKeepsRoomAlive(t *testing.T) {
	c, sender, _ := newTestCoordinator(t)

	cara := models.Profile{Name: "Cara", Gender: "female"}
	dee := models.Profile{Name: "Dee", Gender: "female"}

	c.Connect("cara", "")
	c.Connect("dee", "")

	c.HandleCreateRoom("cara", events.CreateRoomEvent{RoomName: "Study Group", Profile: cara})
	created := sender.ofType("cara", events.TypeRoomCreated)
	require.Len(t, created, 1)
	code := decode[events.RoomCreatedEvent](t, created[0]).Code

	// A client retry of join_private_room with the caller's own code must
	// re-confirm membership, not tear the room down.
	c.HandleJoinRoom("cara", events.JoinRoomEvent{Code: code, Profile: cara})

	require.Len(t, sender.ofType("cara", events.TypeRoomJoined), 1)
	assert.Empty(t, sender.ofType("cara", events.TypeRoomError))

	r, ok := c.rooms.lookup(code)
	require.True(t, ok, "room must survive its own member's re-join")
	assert.Equal(t, 1, r.memberCount())
	assert.Equal(t, code, c.conns["cara"].roomCode)

	// The code still admits others afterwards.
	c.HandleJoinRoom("dee", events.JoinRoomEvent{Code: code, Profile: dee})
	require.Len(t, sender.ofType("dee", events.TypeRoomJoined), 1)
	assert.Empty(t, sender.ofType("dee", events.TypeRoomError))
	assert.Equal(t, 2, r.memberCount())
}

func TestCoordinator_JoinUnknownRoomCode(t *testing.T) {
	c, sender, _ := newTestCoordinator(t)

	c.Connect("dee", "")
	c.HandleJoinRoom("dee", events.JoinRoomEvent{Code: "@#NOSUCH", Profile: models.Profile{Name: "Dee", Gender: "female"}})

	errs := sender.ofType("dee", events.TypeRoomError)
	require.Len(t, errs, 1)
	assert.Equal(t, roomNotFoundMessage, decode[events.ErrorEvent](t, errs[0]).Message)
	assert.Equal(t, models.StateIdle, c.conns["dee"].state)
	assert.Empty(t, sender.ofType("dee", events.TypeRoomJoined))
}

func TestCoordinator_RoomAndQueueAreMutuallyExclusive(t *testing.T) {
	c, sender, _ := newTestCoordinator(t)

	cara := models.Profile{Name: "Cara", Gender: "female"}

	c.Connect("cara", "")
	c.HandleCreateRoom("cara", events.CreateRoomEvent{RoomName: "Study Group", Profile: cara})

	created := sender.ofType("cara", events.TypeRoomCreated)
	require.Len(t, created, 1)
	code := decode[events.RoomCreatedEvent](t, created[0]).Code

	c.HandleJoinQueue("cara", events.JoinQueueEvent{Profile: cara})

	assert.Equal(t, models.StateQueued, c.conns["cara"].state)
	assert.Empty(t, c.conns["cara"].roomCode)

	_, ok := c.rooms.lookup(code)
	assert.False(t, ok, "the abandoned room empties and is deleted")
}

func TestCoordinator_MessageSanitizationAndDrops(t *testing.T) {
	c, sender, _ := newTestCoordinator(t)

	c.Connect("ann", "")
	c.Connect("ben", "")
	c.HandleJoinQueue("ann", events.JoinQueueEvent{Profile: ann})
	c.HandleJoinQueue("ben", events.JoinQueueEvent{Profile: ben})
	sender.reset()

	c.HandleSendMessage("ann", events.SendMessageEvent{Text: "  <b>hi</b>  there ", Profile: ann})

	got := sender.ofType("ben", events.TypeReceiveMessage)
	require.Len(t, got, 1)
	assert.Equal(t, "bhi/b there", decode[events.ChatMessage](t, got[0]).Text)

	// Markup-only payloads sanitize to nothing and are dropped.
	c.HandleSendMessage("ann", events.SendMessageEvent{Text: " <> ** ", Profile: ann})
	assert.Len(t, sender.ofType("ben", events.TypeReceiveMessage), 1)
}

func TestCoordinator_DeliveryReceiptPlumbing(t *testing.T) {
	c, sender, _ := newTestCoordinator(t)

	c.Connect("ann", "")
	c.Connect("ben", "")
	c.Connect("eve", "")
	c.HandleJoinQueue("ann", events.JoinQueueEvent{Profile: ann})
	c.HandleJoinQueue("ben", events.JoinQueueEvent{Profile: ben})

	c.HandleSendMessage("ann", events.SendMessageEvent{Text: "hi", Profile: ann, MessageID: "m-1"})

	got := sender.ofType("ben", events.TypeReceiveMessage)
	require.Len(t, got, 1)
	assert.Equal(t, "m-1", decode[events.ChatMessage](t, got[0]).MessageID)

	// Ben acknowledges; Ann receives the receipt.
	c.HandleMessageDelivered("ben", events.MessageDeliveredEvent{MessageID: "m-1", SenderID: "ann"})

	receipts := sender.ofType("ann", events.TypeDeliveryReceipt)
	require.Len(t, receipts, 1)
	assert.Equal(t, "m-1", decode[events.DeliveryReceipt](t, receipts[0]).MessageID)

	// A stranger cannot forge receipts into the conversation.
	c.HandleMessageDelivered("eve", events.MessageDeliveredEvent{MessageID: "m-1", SenderID: "ann"})
	assert.Len(t, sender.ofType("ann", events.TypeDeliveryReceipt), 1)
}

func TestCoordinator_TypingIndicators(t *testing.T) {
	c, sender, _ := newTestCoordinator(t)

	c.Connect("ann", "")
	c.Connect("ben", "")
	c.HandleJoinQueue("ann", events.JoinQueueEvent{Profile: ann})
	c.HandleJoinQueue("ben", events.JoinQueueEvent{Profile: ben})

	c.HandleTyping("ann", events.IndicatorEvent{}, false)
	c.HandleTyping("ann", events.IndicatorEvent{}, true)

	assert.Len(t, sender.ofType("ben", events.TypePartnerTyping), 1)
	assert.Len(t, sender.ofType("ben", events.TypePartnerStopTyping), 1)
}

func TestCoordinator_RateLimitedRoomCreation(t *testing.T) {
	c, sender, _ := newTestCoordinator(t)

	cara := models.Profile{Name: "Cara", Gender: "female"}
	c.Connect("cara", "")

	// The room_create ceiling is 5 per window.
	for i := 0; i < 5; i++ {
		c.HandleCreateRoom("cara", events.CreateRoomEvent{RoomName: "Room", Profile: cara})
	}
	require.Len(t, sender.ofType("cara", events.TypeRoomCreated), 5)

	c.HandleCreateRoom("cara", events.CreateRoomEvent{RoomName: "Room", Profile: cara})

	assert.Len(t, sender.ofType("cara", events.TypeRoomCreated), 5)
	assert.Len(t, sender.ofType("cara", events.TypeRateLimited), 1)
}

func TestCoordinator_PresenceCounts(t *testing.T) {
	c, sender, _ := newTestCoordinator(t)

	c.Connect("a", "")
	c.Connect("b", "")
	c.Connect("cara", "")

	sender.reset()
	c.HandleCreateRoom("cara", events.CreateRoomEvent{RoomName: "Study Group", Profile: models.Profile{Name: "Cara", Gender: "female"}})

	// Lobby count excludes the room member; total includes everyone.
	var lobby, total *events.CountEvent
	for _, m := range sender.broadcasts {
		switch m.Type {
		case events.TypeLobbyCount:
			v := decode[events.CountEvent](t, m)
			lobby = &v
		case events.TypeUserCount:
			v := decode[events.CountEvent](t, m)
			total = &v
		}
	}

	require.NotNil(t, lobby)
	require.NotNil(t, total)
	assert.Equal(t, 2, lobby.Count)
	assert.Equal(t, 3, total.Count)

	counts := sender.ofType("cara", events.TypeRoomCount)
	require.NotEmpty(t, counts)
	assert.Equal(t, 1, decode[events.RoomCountEvent](t, counts[len(counts)-1]).Count)
}

func TestCoordinator_RegisterIdentity(t *testing.T) {
	c, _, recorder := newTestCoordinator(t)

	c.Connect("ann", "127.0.0.1:4242")

	c.HandleRegisterIdentity("ann", events.RegisterIdentityEvent{UserID: "u-ann", Profile: ann})
	c.HandleRegisterIdentity("ann", events.RegisterIdentityEvent{})

	require.Len(t, recorder.visitors, 1, "missing user id is ignored")
	assert.Equal(t, "u-ann", recorder.visitors[0].UserID)
	assert.Equal(t, "local", recorder.visitors[0].Location)
}
