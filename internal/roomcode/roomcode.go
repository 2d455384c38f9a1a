// Package roomcode issues short, collision-checked room codes. Each code
// is 8 characters: 2 drawn from a small special-character set and 6 from
// an alphanumeric set, shuffled together. Issued codes are reserved for a
// fixed window to block short-term reuse; the reservation outlives the
// room itself.
package roomcode

import (
	"errors"
	"math/rand"
	"sync"
	"time"
)

const (
	alphanumeric = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	special      = "@#&*"

	specialCount = 2
	totalLength  = 8

	// maxAttempts bounds collision retries so a pathological reservation
	// table cannot spin the generator forever.
	maxAttempts = 100

	// cleanupThreshold triggers amortized eviction of expired reservations.
	cleanupThreshold = 1000
)

// ErrExhausted is returned when every retry collided with a live reservation.
var ErrExhausted = errors.New("roomcode: could not generate a unique code")

// Generator mints codes and tracks their reservations.
type Generator struct {
	mu           sync.Mutex
	reservations map[string]time.Time
	ttl          time.Duration
	rand         *rand.Rand
}

// New returns a generator whose reservations last ttl past issuance.
func New(ttl time.Duration) *Generator {
	return &Generator{
		reservations: make(map[string]time.Time),
		ttl:          ttl,
		rand:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Next issues a fresh code and reserves it until now+ttl.
func (g *Generator) Next(now time.Time) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for attempt := 0; attempt < maxAttempts; attempt++ {
		code := g.mint()

		if expiry, ok := g.reservations[code]; ok && expiry.After(now) {
			continue
		}

		g.reservations[code] = now.Add(g.ttl)

		if len(g.reservations) > cleanupThreshold {
			g.evictExpired(now)
		}

		return code, nil
	}

	return "", ErrExhausted
}

// Reserved reports whether the code is still blocked from reissue.
func (g *Generator) Reserved(code string, now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	expiry, ok := g.reservations[code]

	return ok && expiry.After(now)
}

func (g *Generator) mint() string {
	buf := make([]byte, 0, totalLength)

	for i := 0; i < specialCount; i++ {
		buf = append(buf, special[g.rand.Intn(len(special))])
	}
	for i := specialCount; i < totalLength; i++ {
		buf = append(buf, alphanumeric[g.rand.Intn(len(alphanumeric))])
	}

	g.rand.Shuffle(len(buf), func(i, j int) {
		buf[i], buf[j] = buf[j], buf[i]
	})

	return string(buf)
}

func (g *Generator) evictExpired(now time.Time) {
	for code, expiry := range g.reservations {
		if !expiry.After(now) {
			delete(g.reservations, code)
		}
	}
}
