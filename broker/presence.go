package broker

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Outbound presence event names, part of the client wire protocol.
const (
	eventUsersUpdate = "users-update"
	eventUserJoined  = "user-joined"
	eventUserLeft    = "user-left"
)

// Presence turns registry mutations into the externally observable
// presence events: roster updates, join notices and leave notices. It
// distinguishes a first join from a reconnect (same display name, new
// connection) so that reconnects never announce a duplicate join.
type Presence struct {
	reg *Registry
	gw  Gateway

	// onEvict runs after a room's roster empties, before the room is
	// forgotten. The router hooks pending-write flushing here.
	onEvict func(roomID string)

	// Serializes join/leave transitions per process. A connection cannot be
	// mid-join and mid-leave at once, and join churn is low-frequency
	// compared to event fan-out.
	mu chan struct{}
}

func NewPresence(reg *Registry, gw Gateway, onEvict func(roomID string)) *Presence {
	p := &Presence{reg: reg, gw: gw, onEvict: onEvict, mu: make(chan struct{}, 1)}
	p.mu <- struct{}{}
	return p
}

func (p *Presence) lock()   { <-p.mu }
func (p *Presence) unlock() { p.mu <- struct{}{} }

// Join moves the connection into roomID, leaving any previous room first.
// Exactly one roster broadcast goes to the new room per call; a join notice
// goes to the other members only when the display name was not already
// present (reconnects are silent).
func (p *Presence) Join(conn ConnID, roomID, username string) (roster []Participant, reconnect bool) {
	p.lock()
	defer p.unlock()

	log := logrus.WithFields(logrus.Fields{"socket_id": conn, "room_id": roomID, "username": username})

	if prev, ok := p.reg.RoomOf(conn); ok && prev != roomID {
		p.leave(prev, conn)
	}

	// Anonymous joins never match as reconnects; an empty name would bind
	// to any other anonymous participant's roster entry.
	if username != "" {
		roster, reconnect = p.reg.SwapConn(roomID, username, conn)
	}
	if reconnect {
		log.Debug("participant reconnected")
	} else {
		roster = p.reg.Add(roomID, Participant{Conn: conn, Username: username, JoinedAt: time.Now().UTC()})
		log.Debug("participant joined")
		p.gw.ToRoomExcept(roomID, conn, eventUserJoined, map[string]any{
			"username":  username,
			"timestamp": time.Now().UTC(),
		})
	}

	p.gw.ToRoom(roomID, eventUsersUpdate, roster)
	return roster, reconnect
}

// Disconnect removes the connection from whatever room it was in. No-op for
// connections that never joined.
func (p *Presence) Disconnect(conn ConnID) {
	p.lock()
	defer p.unlock()

	roomID, ok := p.reg.RoomOf(conn)
	if !ok {
		return
	}
	p.leave(roomID, conn)
}

// leave removes conn from roomID and notifies the remaining members. Caller
// holds the presence lock.
func (p *Presence) leave(roomID string, conn ConnID) {
	removed, remaining, evicted, ok := p.reg.Remove(roomID, conn)
	if !ok {
		return
	}

	log := logrus.WithFields(logrus.Fields{"socket_id": conn, "room_id": roomID, "username": removed.Username})
	if evicted {
		log.Debug("room emptied, evicting")
		if p.onEvict != nil {
			p.onEvict(roomID)
		}
		return
	}

	log.Debug("participant left")
	p.gw.ToRoom(roomID, eventUsersUpdate, remaining)
	if removed.Username != "" {
		p.gw.ToRoom(roomID, eventUserLeft, map[string]any{
			"username":  removed.Username,
			"timestamp": time.Now().UTC(),
		})
	}
}
