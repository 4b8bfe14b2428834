package broker

import (
	"encoding/json"
	"testing"
	"time"
)

func TestScheduleCoalescesBursts(t *testing.T) {
	store := newFakeStore()
	p := NewPersister(store)

	p.Schedule("room1", PersistNotes, "draft one", 30*time.Millisecond)
	p.Schedule("room1", PersistNotes, "draft two", 30*time.Millisecond)
	p.Schedule("room1", PersistNotes, "final text", 30*time.Millisecond)

	waitFor(t, func() bool { return len(store.savedUpdates()) > 0 }, "debounced save")

	saves := store.savedUpdates()
	if len(saves) != 1 {
		t.Fatalf("expected a single coalesced save, got %d", len(saves))
	}
	if saves[0].roomID != "room1" {
		t.Fatalf("saved to room %q", saves[0].roomID)
	}
	if saves[0].update.Notes == nil || *saves[0].update.Notes != "final text" {
		t.Fatalf("expected the latest payload to win, got %+v", saves[0].update.Notes)
	}
}

func TestScheduleKeepsKindsIndependent(t *testing.T) {
	store := newFakeStore()
	p := NewPersister(store)

	p.Schedule("room1", PersistNotes, "text", 20*time.Millisecond)
	p.Schedule("room1", PersistWhiteboard, []any{"stroke"}, 20*time.Millisecond)

	waitFor(t, func() bool { return len(store.savedUpdates()) == 2 }, "both kinds to save")

	var sawNotes, sawWhiteboard bool
	for _, s := range store.savedUpdates() {
		if s.update.Notes != nil {
			sawNotes = true
		}
		if s.update.Whiteboard != nil {
			sawWhiteboard = true
		}
	}
	if !sawNotes || !sawWhiteboard {
		t.Fatalf("expected one save per kind, notes=%v whiteboard=%v", sawNotes, sawWhiteboard)
	}
}

func TestFlushWritesPendingImmediately(t *testing.T) {
	store := newFakeStore()
	p := NewPersister(store)

	p.Schedule("room1", PersistNotes, "unsaved", time.Hour)
	p.Schedule("room2", PersistNotes, "other room", time.Hour)

	p.Flush("room1")

	saves := store.savedUpdates()
	if len(saves) != 1 || saves[0].roomID != "room1" {
		t.Fatalf("expected only room1 flushed, got %+v", saves)
	}
	if *saves[0].update.Notes != "unsaved" {
		t.Fatalf("flushed payload = %q", *saves[0].update.Notes)
	}

	// The cancelled timer must not fire a second write later.
	time.Sleep(50 * time.Millisecond)
	if len(store.savedUpdates()) != 1 {
		t.Fatalf("expected no extra writes after flush, got %d", len(store.savedUpdates()))
	}
}

func TestCloseFlushesEveryRoom(t *testing.T) {
	store := newFakeStore()
	p := NewPersister(store)

	p.Schedule("room1", PersistNotes, "a", time.Hour)
	p.Schedule("room2", PersistWhiteboard, []any{}, time.Hour)

	p.Close()

	if len(store.savedUpdates()) != 2 {
		t.Fatalf("expected 2 writes on close, got %d", len(store.savedUpdates()))
	}
}

func TestSnapshotUpdateShapes(t *testing.T) {
	update, err := snapshotUpdate(PersistWhiteboard, []any{map[string]any{"type": "line"}})
	if err != nil {
		t.Fatalf("whiteboard update: %v", err)
	}
	var decoded []map[string]any
	if err := json.Unmarshal(*update.Whiteboard, &decoded); err != nil {
		t.Fatalf("whiteboard update is not valid JSON: %v", err)
	}
	if len(decoded) != 1 || decoded[0]["type"] != "line" {
		t.Fatalf("whiteboard round trip = %+v", decoded)
	}

	if _, err := snapshotUpdate(PersistNotes, 42); err == nil {
		t.Fatal("expected non-string notes payload to be rejected")
	}
}
