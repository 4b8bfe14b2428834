package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"collabboard/core"

	"github.com/sirupsen/logrus"
)

// PersistKind names a debounced snapshot field. At most one write is
// pending per (room, kind) pair.
type PersistKind string

const (
	PersistWhiteboard  PersistKind = "whiteboard"
	PersistNotes       PersistKind = "notes"
	PersistStickyNotes PersistKind = "stickyNotes"
)

type pendingKey struct {
	roomID string
	kind   PersistKind
}

type pendingWrite struct {
	timer   *time.Timer
	payload any
}

// Persister coalesces bursts of high-frequency mutations into a single
// delayed write per (room, kind). A new mutation for the same key cancels
// and replaces the pending one; only the latest payload ever reaches
// storage. Writes are best-effort: a failure is logged and dropped, since
// the next mutation re-schedules a fresh write carrying the latest state.
type Persister struct {
	store       core.SnapshotStore
	saveTimeout time.Duration

	mu      sync.Mutex
	pending map[pendingKey]*pendingWrite
}

func NewPersister(store core.SnapshotStore) *Persister {
	return &Persister{
		store:       store,
		saveTimeout: 10 * time.Second,
		pending:     make(map[pendingKey]*pendingWrite),
	}
}

// Schedule queues payload for (roomID, kind) after delay, replacing any
// pending write for the same key. Last write wins.
func (p *Persister) Schedule(roomID string, kind PersistKind, payload any, delay time.Duration) {
	key := pendingKey{roomID: roomID, kind: kind}

	p.mu.Lock()
	defer p.mu.Unlock()

	if w, ok := p.pending[key]; ok {
		w.timer.Stop()
		w.payload = payload
		w.timer = time.AfterFunc(delay, func() { p.fire(key) })
		return
	}
	w := &pendingWrite{payload: payload}
	w.timer = time.AfterFunc(delay, func() { p.fire(key) })
	p.pending[key] = w
}

// Flush force-fires every pending write for the room, synchronously.
// Called on room eviction so the last burst of edits is not lost when the
// final participant leaves.
func (p *Persister) Flush(roomID string) {
	p.flushWhere(func(key pendingKey) bool { return key.roomID == roomID })
}

// Close flushes all pending writes. Called on graceful shutdown.
func (p *Persister) Close() {
	p.flushWhere(func(pendingKey) bool { return true })
}

func (p *Persister) flushWhere(match func(pendingKey) bool) {
	p.mu.Lock()
	type flush struct {
		key     pendingKey
		payload any
	}
	var flushes []flush
	for key, w := range p.pending {
		if match(key) {
			w.timer.Stop()
			flushes = append(flushes, flush{key: key, payload: w.payload})
			delete(p.pending, key)
		}
	}
	p.mu.Unlock()

	for _, f := range flushes {
		p.write(f.key, f.payload)
	}
}

// fire is the timer callback. The entry may already have been flushed or
// replaced; only a still-pending entry is written.
func (p *Persister) fire(key pendingKey) {
	p.mu.Lock()
	w, ok := p.pending[key]
	if !ok {
		p.mu.Unlock()
		return
	}
	delete(p.pending, key)
	payload := w.payload
	p.mu.Unlock()

	p.write(key, payload)
}

func (p *Persister) write(key pendingKey, payload any) {
	log := logrus.WithFields(logrus.Fields{"room_id": key.roomID, "kind": key.kind})

	update, err := snapshotUpdate(key.kind, payload)
	if err != nil {
		log.WithError(err).Warn("dropping unpersistable payload")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.saveTimeout)
	defer cancel()

	if err := p.store.SaveRoomSnapshot(ctx, key.roomID, update); err != nil {
		// Not retried: the next mutation re-schedules with fresher state.
		log.WithError(err).Warn("snapshot save failed")
		return
	}
	log.Debug("snapshot saved")
}

func snapshotUpdate(kind PersistKind, payload any) (*core.SnapshotUpdate, error) {
	switch kind {
	case PersistWhiteboard:
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal whiteboard payload: %w", err)
		}
		rm := json.RawMessage(raw)
		return &core.SnapshotUpdate{Whiteboard: &rm}, nil
	case PersistNotes:
		text, ok := payload.(string)
		if !ok {
			return nil, fmt.Errorf("notes payload is %T, want string", payload)
		}
		return &core.SnapshotUpdate{Notes: &text}, nil
	case PersistStickyNotes:
		notes, ok := payload.([]core.StickyNote)
		if !ok {
			return nil, fmt.Errorf("sticky notes payload is %T", payload)
		}
		return &core.SnapshotUpdate{StickyNotes: &notes}, nil
	}
	return nil, fmt.Errorf("unknown persist kind %q", kind)
}
