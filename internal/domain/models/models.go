package models

import "time"

// Profile is the client-declared identity attached to chat events.
// It is untrusted input: the coordinator only checks required fields.
type Profile struct {
	Name       string `json:"name"`
	Gender     string `json:"gender"`
	AvatarSeed string `json:"avatarSeed"`

	// UserID is a stable client-chosen identifier used for visitor
	// deduplication only. It is not an authentication credential.
	UserID string `json:"userId"`
}

// Valid reports whether the profile carries the fields matchmaking needs.
func (p Profile) Valid() bool {
	return p.Name != "" && p.Gender != ""
}

// ConnectionState is the explicit per-connection mode. Exactly one state
// holds at a time, which rules out contradictory membership (queued and
// in a room at once).
type ConnectionState int

const (
	StateIdle ConnectionState = iota
	StateQueued
	StatePaired
	StateRoomPending
	StateRoomActive
)

func (s ConnectionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateQueued:
		return "queued"
	case StatePaired:
		return "paired"
	case StateRoomPending:
		return "room_pending"
	case StateRoomActive:
		return "room_active"
	default:
		return "unknown"
	}
}

// SessionKind distinguishes random pairings from private rooms in the
// analytics store.
type SessionKind string

const (
	SessionRandom  SessionKind = "random"
	SessionPrivate SessionKind = "private"
)

// SessionRecord is one append-only analytics fact: a single connection's
// participation in one pairing or room, from join to departure. The core
// writes these and never reads them back.
type SessionRecord struct {
	Kind              SessionKind
	ConnectionID      string
	Username          string
	Gender            string
	StartedAt         time.Time
	EndedAt           time.Time
	DurationSeconds   int
	ConcurrentAtStart int
	RoomCode          string
	Location          string
}

// VisitorRecord is the one-row-per-user first-seen fact used for
// deduplicated visitor counting.
type VisitorRecord struct {
	UserID      string
	Location    string
	FirstSeenAt time.Time
}
