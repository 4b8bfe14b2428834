package broker

import (
	"context"
	"sync"
	"testing"
	"time"

	"collabboard/core"
)

// fakeGateway records every emit so tests can assert on fan-out scope and
// outbound event names.
type emitRecord struct {
	scope   string // "conn", "room" or "roomExcept"
	target  string
	except  ConnID
	event   string
	payload any
}

type fakeGateway struct {
	mu    sync.Mutex
	emits []emitRecord
}

func firstPayload(payload []any) any {
	if len(payload) == 0 {
		return nil
	}
	return payload[0]
}

func (g *fakeGateway) ToConnection(conn ConnID, event string, payload ...any) {
	g.record(emitRecord{scope: "conn", target: string(conn), event: event, payload: firstPayload(payload)})
}

func (g *fakeGateway) ToRoom(roomID string, event string, payload ...any) {
	g.record(emitRecord{scope: "room", target: roomID, event: event, payload: firstPayload(payload)})
}

func (g *fakeGateway) ToRoomExcept(roomID string, except ConnID, event string, payload ...any) {
	g.record(emitRecord{scope: "roomExcept", target: roomID, except: except, event: event, payload: firstPayload(payload)})
}

func (g *fakeGateway) record(e emitRecord) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.emits = append(g.emits, e)
}

func (g *fakeGateway) events(name string) []emitRecord {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []emitRecord
	for _, e := range g.emits {
		if e.event == name {
			out = append(out, e)
		}
	}
	return out
}

func (g *fakeGateway) reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.emits = nil
}

// fakeStore records snapshot saves and serves pre-seeded snapshots.
type savedUpdate struct {
	roomID string
	update *core.SnapshotUpdate
}

type fakeStore struct {
	mu        sync.Mutex
	snapshots map[string]*core.RoomSnapshot
	saves     []savedUpdate
}

func newFakeStore() *fakeStore {
	return &fakeStore{snapshots: make(map[string]*core.RoomSnapshot)}
}

func (s *fakeStore) seed(snap *core.RoomSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[snap.RoomID] = snap
}

func (s *fakeStore) CreateRoomIfAbsent(ctx context.Context, roomID string, defaults *core.RoomSnapshot) (*core.RoomSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if snap, ok := s.snapshots[roomID]; ok {
		return snap, nil
	}
	if defaults == nil {
		defaults = core.NewRoomSnapshot(roomID)
	}
	s.snapshots[roomID] = defaults
	return defaults, nil
}

func (s *fakeStore) LoadRoomSnapshot(ctx context.Context, roomID string) (*core.RoomSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snapshots[roomID]
	if !ok {
		return nil, core.ErrRoomNotFound
	}
	copied := *snap
	return &copied, nil
}

func (s *fakeStore) SaveRoomSnapshot(ctx context.Context, roomID string, update *core.SnapshotUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves = append(s.saves, savedUpdate{roomID: roomID, update: update})
	return nil
}

func (s *fakeStore) ListRooms(ctx context.Context) ([]core.RoomInfo, error) {
	return nil, nil
}

func (s *fakeStore) DeleteRoom(ctx context.Context, roomID string) error {
	return nil
}

func (s *fakeStore) savedUpdates() []savedUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]savedUpdate(nil), s.saves...)
}

// waitFor polls cond until it holds or the deadline passes. Timer-driven
// persistence makes some assertions inherently asynchronous.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}
