package coordinator

// pairTable holds the symmetric 1:1 relation created by matchmaking.
// Invariant: if a maps to b then b maps to a, and neither appears in any
// other pair.
type pairTable struct {
	partners map[string]string
}

func newPairTable() *pairTable {
	return &pairTable{partners: make(map[string]string)}
}

// pair links a and b in both directions. Callers must unpair an id
// before pairing it again.
func (t *pairTable) pair(a, b string) {
	t.partners[a] = b
	t.partners[b] = a
}

func (t *pairTable) partnerOf(connID string) (string, bool) {
	partner, ok := t.partners[connID]
	return partner, ok
}

// unpair removes both directions of the relation and returns the evicted
// partner id so the caller can notify them.
func (t *pairTable) unpair(connID string) (string, bool) {
	partner, ok := t.partners[connID]
	if !ok {
		return "", false
	}

	delete(t.partners, connID)
	delete(t.partners, partner)

	return partner, true
}
