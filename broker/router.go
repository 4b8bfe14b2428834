package broker

import (
	"context"
	"errors"
	"sync"
	"time"

	"collabboard/core"

	"github.com/sirupsen/logrus"
)

// Config carries the tunables the broker takes from the outside world.
type Config struct {
	WhiteboardDebounce time.Duration
	NotesDebounce      time.Duration
}

func (c Config) withDefaults() Config {
	if c.WhiteboardDebounce <= 0 {
		c.WhiteboardDebounce = time.Second
	}
	if c.NotesDebounce <= 0 {
		c.NotesDebounce = 2 * time.Second
	}
	return c
}

// Router is the single entry point for inbound real-time events. It
// resolves the sender's room, fans the event out through the Gateway per
// the routing table, and schedules debounced persistence for the mutating
// kinds. Events from connections that are not in any room are dropped
// silently; that is a normal race with disconnects, not an error.
type Router struct {
	cfg       Config
	gw        Gateway
	store     core.SnapshotStore
	reg       *Registry
	presence  *Presence
	persister *Persister
	features  *Features

	mu        sync.Mutex
	roomLocks map[string]*sync.Mutex
}

func New(gw Gateway, store core.SnapshotStore, cfg Config) *Router {
	rt := &Router{
		cfg:       cfg.withDefaults(),
		gw:        gw,
		store:     store,
		reg:       NewRegistry(),
		persister: NewPersister(store),
		features:  NewFeatures(),
		roomLocks: make(map[string]*sync.Mutex),
	}
	rt.presence = NewPresence(rt.reg, gw, rt.evictRoom)
	return rt
}

// evictRoom runs when the last participant leaves. Pending writes are
// flushed before any room state is forgotten.
func (rt *Router) evictRoom(roomID string) {
	rt.persister.Flush(roomID)
	rt.features.Evict(roomID)

	rt.mu.Lock()
	delete(rt.roomLocks, roomID)
	rt.mu.Unlock()
}

// roomLock serializes dispatch within one room so broadcast order matches
// acceptance order. Different rooms never contend.
func (rt *Router) roomLock(roomID string) *sync.Mutex {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	lock, ok := rt.roomLocks[roomID]
	if !ok {
		lock = &sync.Mutex{}
		rt.roomLocks[roomID] = lock
	}
	return lock
}

// HandleJoin processes a join-room event: presence transition, then the
// stored snapshot is delivered to the joining connection only.
func (rt *Router) HandleJoin(conn ConnID, roomID, username string) {
	roster, reconnect := rt.presence.Join(conn, roomID, username)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	snap, err := rt.store.LoadRoomSnapshot(ctx, roomID)
	if err != nil {
		if !errors.Is(err, core.ErrRoomNotFound) {
			logrus.WithError(err).WithField("room_id", roomID).Warn("failed to load room snapshot")
		}
		// The room lives in memory only until the first persist-worthy
		// event fires; nothing to bootstrap from.
		return
	}

	if len(roster) == 1 && !reconnect {
		rt.features.SetStickyNotes(roomID, snap.StickyNotes)
	}

	rt.gw.ToConnection(conn, "room-data", map[string]any{
		"whiteboardData": snap.Whiteboard,
		"notesData":      snap.Notes,
		"stickyNotes":    snap.StickyNotes,
	})
}

// HandleDisconnect removes the connection from its room, if any.
func (rt *Router) HandleDisconnect(conn ConnID) {
	rt.presence.Disconnect(conn)
}

// Dispatch routes one inbound event from conn.
func (rt *Router) Dispatch(conn ConnID, kind EventKind, payload any) {
	log := logrus.WithFields(logrus.Fields{"socket_id": conn, "event": kind})

	roomID, joined := rt.reg.RoomOf(conn)
	if !joined {
		log.Debug("dropping event from unjoined connection")
		return
	}

	r, known := routes[kind]
	if !known {
		log.Debug("dropping unknown event kind")
		return
	}

	lock := rt.roomLock(roomID)
	lock.Lock()
	defer lock.Unlock()

	sender, _ := rt.reg.Get(roomID, conn)

	out, save := payload, payload
	if r.prepare != nil {
		var ok bool
		var prepared any
		out, prepared, ok = r.prepare(rt, roomID, sender, payload)
		if !ok {
			log.Debug("dropping malformed event payload")
			return
		}
		if prepared != nil {
			save = prepared
		}
	}

	emits := r.emits
	if len(emits) == 0 {
		emits = []string{string(kind)}
	}
	for _, event := range emits {
		if r.roomWide {
			rt.gw.ToRoom(roomID, event, out)
		} else {
			rt.gw.ToRoomExcept(roomID, conn, event, out)
		}
	}

	if r.persist != "" {
		rt.persister.Schedule(roomID, r.persist, save, rt.delayFor(r.persist))
	}
}

func (rt *Router) delayFor(kind PersistKind) time.Duration {
	if kind == PersistNotes {
		return rt.cfg.NotesDebounce
	}
	return rt.cfg.WhiteboardDebounce
}

// ActiveRooms returns live participant counts, for the rooms listing API.
func (rt *Router) ActiveRooms() map[string]int {
	return rt.reg.Counts()
}

// Shutdown flushes every pending write. Call before the process exits.
func (rt *Router) Shutdown() {
	rt.persister.Close()
}
