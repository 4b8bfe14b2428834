package broker

import (
	"encoding/json"
	"testing"
	"time"

	"collabboard/core"
)

func newTestRouter(cfg Config) (*Router, *fakeGateway, *fakeStore) {
	gw := &fakeGateway{}
	store := newFakeStore()
	return New(gw, store, cfg), gw, store
}

func TestJoinDeliversRoomData(t *testing.T) {
	rt, gw, store := newTestRouter(Config{})

	snap := core.NewRoomSnapshot("room1")
	snap.Whiteboard = json.RawMessage(`[{"type":"line"}]`)
	snap.Notes = "meeting agenda"
	store.seed(snap)

	rt.HandleJoin("a", "room1", "alice")

	var roomData []emitRecord
	for _, e := range gw.events("room-data") {
		if e.scope == "conn" && e.target == "a" {
			roomData = append(roomData, e)
		}
	}
	if len(roomData) != 1 {
		t.Fatalf("expected room-data delivered to the joiner only, got %+v", gw.events("room-data"))
	}
	payload, _ := roomData[0].payload.(map[string]any)
	if payload["notesData"] != "meeting agenda" {
		t.Fatalf("room-data payload = %+v", payload)
	}
}

func TestJoinWithoutStoredSnapshotSendsNothing(t *testing.T) {
	rt, gw, _ := newTestRouter(Config{})

	rt.HandleJoin("a", "brand-new", "alice")

	if len(gw.events("room-data")) != 0 {
		t.Fatal("a never-persisted room has no snapshot to deliver")
	}
	// Presence still ran.
	if len(gw.events(eventUsersUpdate)) != 1 {
		t.Fatal("expected the roster broadcast regardless of storage state")
	}
}

func TestDispatchRelaysToOthers(t *testing.T) {
	rt, gw, _ := newTestRouter(Config{})
	rt.HandleJoin("a", "room1", "alice")
	rt.HandleJoin("b", "room1", "bob")
	gw.reset()

	rt.Dispatch("a", EventCursorMove, map[string]any{"x": 1.0, "y": 2.0})

	for _, name := range []string{"cursor-move", "cursor-position"} {
		emits := gw.events(name)
		if len(emits) != 1 {
			t.Fatalf("expected one %s emit, got %d", name, len(emits))
		}
		if emits[0].scope != "roomExcept" || emits[0].except != "a" {
			t.Fatalf("%s must exclude the sender, got %+v", name, emits[0])
		}
		if emits[0].target != "room1" {
			t.Fatalf("%s must target the sender's room, got %q", name, emits[0].target)
		}
	}
}

func TestDispatchStaysInSenderRoom(t *testing.T) {
	rt, gw, _ := newTestRouter(Config{})
	rt.HandleJoin("a1", "roomA", "alice")
	rt.HandleJoin("a2", "roomA", "adam")
	rt.HandleJoin("b1", "roomB", "bob")
	rt.HandleJoin("b2", "roomB", "bella")
	gw.reset()

	rt.Dispatch("a1", EventDrawing, []any{map[string]any{"id": "s1"}})
	rt.Dispatch("a1", EventChatMessage, map[string]any{"text": "hi"})
	rt.Dispatch("a1", EventVotePoll, map[string]any{"pollId": "p", "voter": "alice", "optionIndex": 0.0})

	gw.mu.Lock()
	defer gw.mu.Unlock()
	if len(gw.emits) == 0 {
		t.Fatal("expected emits in the sender's room")
	}
	for _, e := range gw.emits {
		if e.target != "roomA" {
			t.Fatalf("event %q leaked into %q: %+v", e.event, e.target, e)
		}
	}
}

func TestDispatchFromUnjoinedConnectionIsDropped(t *testing.T) {
	rt, gw, store := newTestRouter(Config{})

	rt.Dispatch("ghost", EventDrawing, []any{"stroke"})

	if len(gw.emits) != 0 {
		t.Fatalf("expected no emits, got %+v", gw.emits)
	}
	if len(store.savedUpdates()) != 0 {
		t.Fatal("expected no persistence for an unjoined sender")
	}
}

func TestDispatchUnknownKindIsDropped(t *testing.T) {
	rt, gw, _ := newTestRouter(Config{})
	rt.HandleJoin("a", "room1", "alice")
	gw.reset()

	rt.Dispatch("a", EventKind("made-up-event"), nil)

	if len(gw.emits) != 0 {
		t.Fatalf("expected unknown kinds to be dropped, got %+v", gw.emits)
	}
}

func TestDrawingPersistsAfterDebounce(t *testing.T) {
	rt, _, store := newTestRouter(Config{WhiteboardDebounce: 20 * time.Millisecond})
	rt.HandleJoin("a", "room1", "alice")

	rt.Dispatch("a", EventDrawing, []any{map[string]any{"id": "s1"}})
	rt.Dispatch("a", EventDrawing, []any{map[string]any{"id": "s1"}, map[string]any{"id": "s2"}})

	waitFor(t, func() bool { return len(store.savedUpdates()) > 0 }, "debounced whiteboard save")

	saves := store.savedUpdates()
	if len(saves) != 1 {
		t.Fatalf("expected one coalesced save, got %d", len(saves))
	}
	var strokes []map[string]any
	if err := json.Unmarshal(*saves[0].update.Whiteboard, &strokes); err != nil {
		t.Fatalf("decode saved whiteboard: %v", err)
	}
	if len(strokes) != 2 {
		t.Fatalf("expected the later board of 2 strokes to win, got %d", len(strokes))
	}
}

func TestClearWhiteboardPersistsEmptyBoard(t *testing.T) {
	rt, gw, store := newTestRouter(Config{WhiteboardDebounce: 20 * time.Millisecond})
	rt.HandleJoin("a", "room1", "alice")
	gw.reset()

	// A stroke followed by a clear: the clear must win.
	rt.Dispatch("a", EventDrawing, []any{map[string]any{"id": "s1"}})
	rt.Dispatch("a", EventClearWhiteboard, nil)

	waitFor(t, func() bool { return len(store.savedUpdates()) > 0 }, "cleared board save")

	saves := store.savedUpdates()
	if len(saves) != 1 {
		t.Fatalf("expected one save, got %d", len(saves))
	}
	if string(*saves[0].update.Whiteboard) != "[]" {
		t.Fatalf("expected the empty board to be persisted, got %s", *saves[0].update.Whiteboard)
	}

	if len(gw.events("clear-whiteboard")) != 1 {
		t.Fatal("clear-whiteboard must still be relayed to the room")
	}
}

func TestNotesChangePersistsContent(t *testing.T) {
	rt, _, store := newTestRouter(Config{NotesDebounce: 20 * time.Millisecond})
	rt.HandleJoin("a", "room1", "alice")

	rt.Dispatch("a", EventNotesChange, map[string]any{"content": "shared text"})

	waitFor(t, func() bool { return len(store.savedUpdates()) > 0 }, "notes save")

	saves := store.savedUpdates()
	if saves[0].update.Notes == nil || *saves[0].update.Notes != "shared text" {
		t.Fatalf("expected the content field persisted, got %+v", saves[0].update)
	}
}

func TestVotePollBroadcastsAggregateRoomWide(t *testing.T) {
	rt, gw, _ := newTestRouter(Config{})
	rt.HandleJoin("a", "room1", "alice")
	rt.HandleJoin("b", "room1", "bob")
	gw.reset()

	rt.Dispatch("a", EventCreatePoll, map[string]any{
		"poll": map[string]any{"id": "p1", "question": "lunch?"},
	})

	newPolls := gw.events("new-poll")
	if len(newPolls) != 1 || newPolls[0].scope != "roomExcept" {
		t.Fatalf("expected new-poll relayed to others, got %+v", newPolls)
	}

	rt.Dispatch("a", EventVotePoll, map[string]any{"pollId": "p1", "voter": "alice", "optionIndex": 1.0})
	rt.Dispatch("b", EventVotePoll, map[string]any{"pollId": "p1", "voter": "bob", "optionIndex": 0.0})

	votes := gw.events("poll-vote")
	if len(votes) != 2 {
		t.Fatalf("expected 2 poll-vote broadcasts, got %d", len(votes))
	}
	for _, v := range votes {
		// The voter must see the updated tally too.
		if v.scope != "room" || v.target != "room1" {
			t.Fatalf("poll-vote must be room-wide within the sender's room, got %+v", v)
		}
	}

	last, _ := votes[1].payload.(map[string]any)
	if last["totalVotes"] != 2 {
		t.Fatalf("expected aggregated tally of 2, got %+v", last)
	}
	tally, _ := last["votes"].(map[string]int)
	if tally["alice"] != 1 || tally["bob"] != 0 {
		t.Fatalf("tally = %+v", tally)
	}
}

func TestVoteOnUnknownPollReturnsEmptyTally(t *testing.T) {
	rt, gw, _ := newTestRouter(Config{})
	rt.HandleJoin("a", "room1", "alice")
	gw.reset()

	rt.Dispatch("a", EventVotePoll, map[string]any{"pollId": "nope", "voter": "alice", "optionIndex": 0.0})

	votes := gw.events("poll-vote")
	if len(votes) != 1 {
		t.Fatalf("expected the broadcast to still go out, got %d", len(votes))
	}
	payload, _ := votes[0].payload.(map[string]any)
	if payload["totalVotes"] != 0 {
		t.Fatalf("expected an empty tally, got %+v", payload)
	}
}

func TestTimerStartEmitsSyncAndTagsSender(t *testing.T) {
	rt, gw, _ := newTestRouter(Config{})
	rt.HandleJoin("a", "room1", "alice")
	rt.HandleJoin("b", "room1", "bob")
	gw.reset()

	// A spoofed username field must not survive; the server decides the
	// sender tag.
	rt.Dispatch("a", EventTimerStart, map[string]any{"duration": 300.0, "username": "mallory"})

	syncs := gw.events("timer-sync")
	if len(syncs) != 1 || syncs[0].except != "a" {
		t.Fatalf("expected timer-sync to the others, got %+v", syncs)
	}

	starts := gw.events("timer-start")
	if len(starts) != 1 {
		t.Fatalf("expected one timer-start, got %d", len(starts))
	}
	payload, _ := starts[0].payload.(map[string]any)
	if payload["username"] != "alice" || payload["duration"] != 300.0 {
		t.Fatalf("timer-start payload = %+v", payload)
	}
}

func TestPresentationEventsAreRenamed(t *testing.T) {
	rt, gw, _ := newTestRouter(Config{})
	rt.HandleJoin("a", "room1", "alice")
	rt.HandleJoin("b", "room1", "bob")
	gw.reset()

	rt.Dispatch("a", EventStartPresentation, map[string]any{"slide": 0.0})
	rt.Dispatch("a", EventChangeSlide, map[string]any{"slide": 3.0})
	rt.Dispatch("a", EventEndPresentation, nil)

	for _, name := range []string{"presentation-start", "slide-change", "presentation-end"} {
		if len(gw.events(name)) != 1 {
			t.Fatalf("expected one %s emit", name)
		}
	}
	for _, name := range []string{"start-presentation", "change-slide", "end-presentation"} {
		if len(gw.events(name)) != 0 {
			t.Fatalf("inbound name %s must not be echoed", name)
		}
	}
}

func TestEvictionFlushesPendingWrites(t *testing.T) {
	rt, _, store := newTestRouter(Config{WhiteboardDebounce: time.Hour})
	rt.HandleJoin("a", "room1", "alice")

	rt.Dispatch("a", EventDrawing, []any{map[string]any{"id": "s1"}})
	if len(store.savedUpdates()) != 0 {
		t.Fatal("the write must still be pending before the leave")
	}

	rt.HandleDisconnect("a")

	saves := store.savedUpdates()
	if len(saves) != 1 {
		t.Fatalf("expected the eviction to flush the pending write, got %d saves", len(saves))
	}
	if saves[0].roomID != "room1" || saves[0].update.Whiteboard == nil {
		t.Fatalf("flushed save = %+v", saves[0])
	}
}

func TestShutdownFlushesAllRooms(t *testing.T) {
	rt, _, store := newTestRouter(Config{WhiteboardDebounce: time.Hour, NotesDebounce: time.Hour})
	rt.HandleJoin("a", "room1", "alice")
	rt.HandleJoin("b", "room2", "bob")

	rt.Dispatch("a", EventDrawing, []any{map[string]any{"id": "s1"}})
	rt.Dispatch("b", EventNotesChange, map[string]any{"content": "text"})

	rt.Shutdown()

	if len(store.savedUpdates()) != 2 {
		t.Fatalf("expected both rooms flushed on shutdown, got %d", len(store.savedUpdates()))
	}
}

func TestStickyNoteLifecyclePersistsFullList(t *testing.T) {
	rt, gw, store := newTestRouter(Config{WhiteboardDebounce: 20 * time.Millisecond})
	rt.HandleJoin("a", "room1", "alice")
	gw.reset()

	rt.Dispatch("a", EventStickyNoteAdd, map[string]any{
		"note": map[string]any{"id": "n1", "text": "first", "x": 10.0, "y": 20.0},
	})
	rt.Dispatch("a", EventStickyNoteAdd, map[string]any{
		"note": map[string]any{"id": "n2", "text": "second", "x": 30.0, "y": 40.0},
	})
	rt.Dispatch("a", EventStickyNoteDelete, map[string]any{"id": "n1"})

	waitFor(t, func() bool { return len(store.savedUpdates()) > 0 }, "sticky note save")

	saves := store.savedUpdates()
	last := saves[len(saves)-1]
	if last.update.StickyNotes == nil {
		t.Fatalf("expected a sticky note update, got %+v", last.update)
	}
	notes := *last.update.StickyNotes
	if len(notes) != 1 || notes[0].ID != "n2" {
		t.Fatalf("expected only n2 to survive, got %+v", notes)
	}

	if len(gw.events("sticky-note-add")) != 2 || len(gw.events("sticky-note-delete")) != 1 {
		t.Fatal("sticky note events must be relayed under their inbound names")
	}
}

func TestRoomDataSeedsStickyNotesForFirstJoiner(t *testing.T) {
	rt, gw, store := newTestRouter(Config{WhiteboardDebounce: 20 * time.Millisecond})

	snap := core.NewRoomSnapshot("room1")
	snap.StickyNotes = []core.StickyNote{{ID: "n1", Text: "stored"}}
	store.seed(snap)

	rt.HandleJoin("a", "room1", "alice")
	gw.reset()

	// The next mutation must build on the seeded state, not start empty.
	rt.Dispatch("a", EventStickyNoteAdd, map[string]any{
		"note": map[string]any{"id": "n2", "text": "fresh"},
	})

	waitFor(t, func() bool { return len(store.savedUpdates()) > 0 }, "sticky note save")

	notes := *store.savedUpdates()[0].update.StickyNotes
	if len(notes) != 2 {
		t.Fatalf("expected stored note plus new note, got %+v", notes)
	}
}
