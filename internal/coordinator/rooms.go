package coordinator

import "time"

// room is one code-protected group conversation. Membership is the set
// of live connection ids; profiles are not stored per member, newcomers
// learn them through the announce round-trip.
type room struct {
	code        string
	name        string
	creatorName string
	members     map[string]struct{}
	createdAt   time.Time
}

func (r *room) memberCount() int {
	return len(r.members)
}

func (r *room) membersExcept(connID string) []string {
	others := make([]string, 0, len(r.members))
	for id := range r.members {
		if id != connID {
			others = append(others, id)
		}
	}

	return others
}

// roomDirectory maps live room codes to room records. Empty rooms are
// deleted immediately; their code reservations persist independently.
type roomDirectory struct {
	rooms map[string]*room
}

func newRoomDirectory() *roomDirectory {
	return &roomDirectory{rooms: make(map[string]*room)}
}

// create registers an empty room under a freshly reserved code.
func (d *roomDirectory) create(code, name, creatorName string, now time.Time) *room {
	r := &room{
		code:        code,
		name:        name,
		creatorName: creatorName,
		members:     make(map[string]struct{}),
		createdAt:   now,
	}
	d.rooms[code] = r

	return r
}

func (d *roomDirectory) lookup(code string) (*room, bool) {
	r, ok := d.rooms[code]
	return r, ok
}

// join fails when the code has no active room.
func (d *roomDirectory) join(code, connID string) (*room, bool) {
	r, ok := d.rooms[code]
	if !ok {
		return nil, false
	}

	r.members[connID] = struct{}{}

	return r, true
}

// leave removes the connection from the room and deletes the room record
// the moment it empties. Reports whether the room was deleted.
func (d *roomDirectory) leave(code, connID string) (deleted bool) {
	r, ok := d.rooms[code]
	if !ok {
		return false
	}

	delete(r.members, connID)

	if len(r.members) == 0 {
		delete(d.rooms, code)
		return true
	}

	return false
}

func (d *roomDirectory) len() int {
	return len(d.rooms)
}
