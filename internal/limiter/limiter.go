// Package limiter implements per-connection, per-event-kind sliding-window
// admission control. It is a best-effort abuse guard: bursts up to the
// ceiling within one window are permitted.
package limiter

import (
	"sync"
	"time"
)

// Kind identifies the class of event being rate limited. Each kind owns
// a distinct ceiling per window.
type Kind string

const (
	KindMessage    Kind = "message"
	KindTyping     Kind = "typing"
	KindRoomJoin   Kind = "room_join"
	KindRoomCreate Kind = "room_create"
	KindReaction   Kind = "reaction"
)

// DefaultCeilings are the per-window admission ceilings.
var DefaultCeilings = map[Kind]int{
	KindMessage:    60,
	KindTyping:     120,
	KindRoomJoin:   10,
	KindRoomCreate: 5,
	KindReaction:   30,
}

type window struct {
	count   int
	resetAt time.Time
}

type key struct {
	connID string
	kind   Kind
}

// Limiter tracks one fixed-length window per (connection, kind) pair.
// Windows reset lazily on the first event after expiry.
type Limiter struct {
	mu       sync.Mutex
	windows  map[key]*window
	ceilings map[Kind]int
	length   time.Duration
	now      func() time.Time
}

// New returns a limiter with the given window length and ceilings.
// A nil ceilings map falls back to DefaultCeilings.
func New(length time.Duration, ceilings map[Kind]int) *Limiter {
	if ceilings == nil {
		ceilings = DefaultCeilings
	}

	return &Limiter{
		windows:  make(map[key]*window),
		ceilings: ceilings,
		length:   length,
		now:      time.Now,
	}
}

// Allow admits or rejects one event of the given kind. Unknown kinds are
// always admitted.
func (l *Limiter) Allow(connID string, kind Kind) bool {
	ceiling, ok := l.ceilings[kind]
	if !ok {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	k := key{connID: connID, kind: kind}

	w, ok := l.windows[k]
	if !ok || !now.Before(w.resetAt) {
		l.windows[k] = &window{count: 1, resetAt: now.Add(l.length)}
		return true
	}

	if w.count >= ceiling {
		return false
	}

	w.count++

	return true
}

// Forget drops every window the connection owns. Called on disconnect.
func (l *Limiter) Forget(connID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for k := range l.windows {
		if k.connID == connID {
			delete(l.windows, k)
		}
	}
}
