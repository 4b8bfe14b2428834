package broker

import (
	"sync"
	"time"
)

// Participant associates a live connection with a room.
type Participant struct {
	Conn     ConnID    `json:"socketId"`
	Username string    `json:"username"`
	JoinedAt time.Time `json:"joinedAt"`
}

// Registry is the authoritative in-memory mapping of room id to roster.
// A connection appears in at most one room at any time; the reverse index
// enforces it. Rooms are evicted as soon as their roster empties.
type Registry struct {
	mu     sync.RWMutex
	rooms  map[string][]Participant
	byConn map[ConnID]string
}

func NewRegistry() *Registry {
	return &Registry{
		rooms:  make(map[string][]Participant),
		byConn: make(map[ConnID]string),
	}
}

// Add inserts the participant, creating the room if absent. Re-adding the
// same connection replaces its roster entry rather than duplicating it.
func (r *Registry) Add(roomID string, p Participant) []Participant {
	r.mu.Lock()
	defer r.mu.Unlock()

	roster := r.rooms[roomID]
	replaced := false
	for i := range roster {
		if roster[i].Conn == p.Conn {
			roster[i] = p
			replaced = true
			break
		}
	}
	if !replaced {
		roster = append(roster, p)
	}
	r.rooms[roomID] = roster
	r.byConn[p.Conn] = roomID
	return append([]Participant(nil), roster...)
}

// SwapConn rebinds an existing roster entry (matched by username) to a new
// connection. Used on reconnect, where the logical user is already present
// under a stale connection. Returns false if no such entry exists.
func (r *Registry) SwapConn(roomID, username string, conn ConnID) ([]Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	roster := r.rooms[roomID]
	for i := range roster {
		if roster[i].Username == username {
			delete(r.byConn, roster[i].Conn)
			roster[i].Conn = conn
			r.byConn[conn] = roomID
			return append([]Participant(nil), roster...), true
		}
	}
	return nil, false
}

// Remove drops the connection from the room. The room is evicted when its
// roster empties. Unknown connections are a no-op, not an error.
func (r *Registry) Remove(roomID string, conn ConnID) (removed Participant, remaining []Participant, evicted bool, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(roomID, conn)
}

func (r *Registry) removeLocked(roomID string, conn ConnID) (removed Participant, remaining []Participant, evicted bool, ok bool) {
	roster := r.rooms[roomID]
	for i := range roster {
		if roster[i].Conn == conn {
			removed = roster[i]
			roster = append(roster[:i], roster[i+1:]...)
			delete(r.byConn, conn)
			if len(roster) == 0 {
				delete(r.rooms, roomID)
				return removed, nil, true, true
			}
			r.rooms[roomID] = roster
			return removed, append([]Participant(nil), roster...), false, true
		}
	}
	return Participant{}, append([]Participant(nil), roster...), false, false
}

// RemoveConn drops the connection from whichever room it is in.
func (r *Registry) RemoveConn(conn ConnID) (roomID string, removed Participant, remaining []Participant, evicted bool, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	roomID, joined := r.byConn[conn]
	if !joined {
		return "", Participant{}, nil, false, false
	}
	removed, remaining, evicted, ok = r.removeLocked(roomID, conn)
	return roomID, removed, remaining, evicted, ok
}

// List returns the current roster, or an empty slice for unknown rooms.
func (r *Registry) List(roomID string) []Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Participant(nil), r.rooms[roomID]...)
}

// RoomOf reports which room the connection is joined to, if any.
func (r *Registry) RoomOf(conn ConnID) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	roomID, ok := r.byConn[conn]
	return roomID, ok
}

// Get returns the participant record for a connection within a room.
func (r *Registry) Get(roomID string, conn ConnID) (Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.rooms[roomID] {
		if p.Conn == conn {
			return p, true
		}
	}
	return Participant{}, false
}

// Counts returns live participant counts per room.
func (r *Registry) Counts() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[string]int, len(r.rooms))
	for id, roster := range r.rooms {
		counts[id] = len(roster)
	}
	return counts
}
