package coordinator

import (
	"time"

	"github.com/straymeet/straymeet/internal/domain/models"
)

// waitingEntry is one connection parked in the matchmaking queue.
type waitingEntry struct {
	connID     string
	profile    models.Profile
	enqueuedAt time.Time
}

// matchQueue is the FIFO pool of connections awaiting a random pairing.
// It is owned by the Coordinator and is not safe for concurrent use on
// its own.
type matchQueue struct {
	entries []waitingEntry
}

func newMatchQueue() *matchQueue {
	return &matchQueue{}
}

// enqueue appends the connection, or refreshes its profile in place if
// it is already waiting (idempotent re-join after a profile edit).
func (q *matchQueue) enqueue(connID string, profile models.Profile, now time.Time) {
	for i := range q.entries {
		if q.entries[i].connID == connID {
			q.entries[i].profile = profile
			return
		}
	}

	q.entries = append(q.entries, waitingEntry{
		connID:     connID,
		profile:    profile,
		enqueuedAt: now,
	})
}

func (q *matchQueue) remove(connID string) bool {
	for i := range q.entries {
		if q.entries[i].connID == connID {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return true
		}
	}

	return false
}

// match pairs the caller with the longest-waiting other entry. Both
// entries are removed atomically. The caller must currently be queued;
// it is never matched with itself.
func (q *matchQueue) match(connID string) (caller, partner waitingEntry, ok bool) {
	callerIdx := -1
	for i := range q.entries {
		if q.entries[i].connID == connID {
			callerIdx = i
			break
		}
	}
	if callerIdx == -1 {
		return waitingEntry{}, waitingEntry{}, false
	}

	partnerIdx := -1
	for i := range q.entries {
		if q.entries[i].connID != connID {
			partnerIdx = i
			break
		}
	}
	if partnerIdx == -1 {
		return waitingEntry{}, waitingEntry{}, false
	}

	caller = q.entries[callerIdx]
	partner = q.entries[partnerIdx]

	kept := q.entries[:0]
	for i := range q.entries {
		if i != callerIdx && i != partnerIdx {
			kept = append(kept, q.entries[i])
		}
	}
	q.entries = kept

	return caller, partner, true
}

func (q *matchQueue) len() int {
	return len(q.entries)
}
