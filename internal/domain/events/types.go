package events

import (
	"encoding/json"
	"time"

	"github.com/straymeet/straymeet/internal/domain/models"
)

// Message is the wire envelope for every inbound and outbound event.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Inbound event types.
const (
	TypeRegisterIdentity = "register_identity"
	TypeJoinQueue        = "join_queue"
	TypeCreateRoom       = "create_room"
	TypeGetRoomInfo      = "get_room_info"
	TypeJoinPrivateRoom  = "join_private_room"
	TypeAnnounceProfile  = "announce_profile"
	TypeSendMessage      = "send_message"
	TypeMessageDelivered = "message_delivered"
	TypeTyping           = "typing"
	TypeStopTyping       = "stop_typing"
	TypeReaction         = "reaction"
	TypeSkipChat         = "skip_chat"
	TypeLeaveChat        = "leave_chat"
)

// RegisterIdentityEvent records a first-seen visitor for analytics.
type RegisterIdentityEvent struct {
	UserID  string         `json:"userId"`
	Profile models.Profile `json:"profile"`
}

// JoinQueueEvent enters the caller into random matchmaking.
type JoinQueueEvent struct {
	Profile models.Profile `json:"profile"`
}

// CreateRoomEvent allocates a fresh code-protected room.
type CreateRoomEvent struct {
	RoomName string         `json:"roomName"`
	Profile  models.Profile `json:"profile"`
}

// RoomCodeEvent carries just a room code (get_room_info).
type RoomCodeEvent struct {
	Code string `json:"code"`
}

// JoinRoomEvent joins an existing room by code.
type JoinRoomEvent struct {
	Code    string         `json:"code"`
	Profile models.Profile `json:"profile"`
}

// AnnounceProfileEvent re-broadcasts a member's profile to the room,
// requested when a newcomer joins.
type AnnounceProfileEvent struct {
	Code    string         `json:"code"`
	Profile models.Profile `json:"profile"`
}

// SendMessageEvent routes a chat message to the partner or the room.
type SendMessageEvent struct {
	Text      string         `json:"text"`
	Code      string         `json:"code,omitempty"`
	Profile   models.Profile `json:"profile"`
	ReplyTo   *ReplyRef      `json:"replyTo,omitempty"`
	MessageID string         `json:"messageId,omitempty"`
}

// ReplyRef is client-side reply metadata, forwarded unchanged.
type ReplyRef struct {
	MessageID string `json:"messageId"`
	Preview   string `json:"preview"`
	Sender    string `json:"sender"`
}

// MessageDeliveredEvent acknowledges delivery back to the sender.
type MessageDeliveredEvent struct {
	MessageID string `json:"messageId"`
	SenderID  string `json:"senderId"`
}

// IndicatorEvent covers typing, stop_typing and reaction, which only
// need optional room routing.
type IndicatorEvent struct {
	Code string `json:"code,omitempty"`
}

// Outbound event types.
const (
	TypeLobbyCount        = "lobby_count"
	TypeUserCount         = "user_count"
	TypeRoomCount         = "room_count"
	TypeChatStart         = "chat_start"
	TypeRoomCreated       = "room_created"
	TypeRoomInfo          = "room_info"
	TypeRoomJoined        = "room_joined"
	TypePartnerJoined     = "partner_joined"
	TypeRequestProfile    = "request_profile"
	TypeReceiveMessage    = "receive_message"
	TypeDeliveryReceipt   = "message_delivered"
	TypePartnerTyping     = "partner_typing"
	TypePartnerStopTyping = "partner_stop_typing"
	TypePartnerReaction   = "partner_reaction"
	TypePartnerLeft       = "partner_disconnected"
	TypeRoomError         = "room_error"
	TypeRateLimited       = "rate_limited"
)

// Partner is the subset of a profile shown to the other side.
type Partner struct {
	Name       string `json:"name"`
	AvatarSeed string `json:"avatarSeed"`
}

// PartnerOf trims a profile down to what the other side may see.
func PartnerOf(p models.Profile) Partner {
	return Partner{Name: p.Name, AvatarSeed: p.AvatarSeed}
}

// CountEvent carries a presence count.
type CountEvent struct {
	Count int `json:"count"`
}

// RoomCountEvent carries one room's membership count.
type RoomCountEvent struct {
	Code  string `json:"code"`
	Count int    `json:"count"`
}

// ChatStartEvent notifies both sides of a completed match.
type ChatStartEvent struct {
	Partner Partner `json:"partner"`
}

// RoomCreatedEvent returns the fresh code to the creator.
type RoomCreatedEvent struct {
	Code     string `json:"code"`
	RoomName string `json:"roomName"`
}

// RoomInfoEvent is the pre-join room preview.
type RoomInfoEvent struct {
	Code        string `json:"code"`
	RoomName    string `json:"roomName"`
	CreatorName string `json:"creatorName"`
}

// RoomJoinedEvent confirms a successful private-room join.
type RoomJoinedEvent struct {
	Code        string `json:"code"`
	RoomName    string `json:"roomName"`
	CreatorName string `json:"creatorName"`
}

// PartnerJoinedEvent announces a member's profile inside a room.
type PartnerJoinedEvent struct {
	Partner Partner `json:"partner"`
	IsGroup bool    `json:"isGroup"`
}

// ChatMessage is a delivered chat or system message.
type ChatMessage struct {
	Text      string    `json:"text"`
	Sender    *Partner  `json:"sender,omitempty"`
	UserID    string    `json:"userId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	ReplyTo   *ReplyRef `json:"replyTo,omitempty"`
	MessageID string    `json:"messageId,omitempty"`
	IsSystem  bool      `json:"isSystem,omitempty"`
}

// DeliveryReceipt echoes a client message id back to its sender.
type DeliveryReceipt struct {
	MessageID string `json:"messageId"`
}

// ErrorEvent is a user-visible failure notice (room errors, rate limits).
type ErrorEvent struct {
	Message string `json:"message"`
}
