package filesystem

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"collabboard/core"
)

func TestRoomRoundTrip(t *testing.T) {
	s := NewStore(t.TempDir())
	ctx := context.Background()

	defaults := core.NewRoomSnapshot("room1")
	defaults.Name = "Standup"
	if _, err := s.CreateRoomIfAbsent(ctx, "room1", defaults); err != nil {
		t.Fatalf("create: %v", err)
	}

	notes := "action items"
	if err := s.SaveRoomSnapshot(ctx, "room1", &core.SnapshotUpdate{Notes: &notes}); err != nil {
		t.Fatalf("save notes: %v", err)
	}
	board := json.RawMessage(`[{"id":"s1"}]`)
	if err := s.SaveRoomSnapshot(ctx, "room1", &core.SnapshotUpdate{Whiteboard: &board}); err != nil {
		t.Fatalf("save whiteboard: %v", err)
	}

	snap, err := s.LoadRoomSnapshot(ctx, "room1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if snap.Name != "Standup" || snap.Notes != "action items" || string(snap.Whiteboard) != `[{"id":"s1"}]` {
		t.Fatalf("partial saves lost data: %+v", snap)
	}
}

func TestLoadMissingRoom(t *testing.T) {
	s := NewStore(t.TempDir())
	if _, err := s.LoadRoomSnapshot(context.Background(), "nope"); !errors.Is(err, core.ErrRoomNotFound) {
		t.Fatalf("expected ErrRoomNotFound, got %v", err)
	}
}

func TestRoomIDSanitization(t *testing.T) {
	s := NewStore(t.TempDir())
	ctx := context.Background()

	for _, bad := range []string{"", ".", "..", "../escape", "a/b"} {
		if _, err := s.LoadRoomSnapshot(ctx, bad); err == nil || errors.Is(err, core.ErrRoomNotFound) {
			t.Fatalf("expected invalid id error for %q, got %v", bad, err)
		}
	}
}

func TestListAndDeleteRooms(t *testing.T) {
	s := NewStore(t.TempDir())
	ctx := context.Background()

	s.CreateRoomIfAbsent(ctx, "room1", nil)
	s.CreateRoomIfAbsent(ctx, "room2", nil)

	rooms, err := s.ListRooms(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rooms) != 2 {
		t.Fatalf("expected 2 rooms, got %d", len(rooms))
	}

	if err := s.DeleteRoom(ctx, "room1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.DeleteRoom(ctx, "room1"); !errors.Is(err, core.ErrRoomNotFound) {
		t.Fatalf("expected ErrRoomNotFound, got %v", err)
	}
}

func TestUserPersistenceKeepsPasswordHash(t *testing.T) {
	s := NewStore(t.TempDir())
	ctx := context.Background()

	if err := s.CreateUser(ctx, &core.User{Username: "alice", Email: "a@example.com", PasswordHash: []byte("secret-hash")}); err != nil {
		t.Fatalf("create: %v", err)
	}

	found, err := s.FindUserByLogin(ctx, "ALICE")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if string(found.PasswordHash) != "secret-hash" {
		t.Fatalf("password hash lost in round trip: %q", found.PasswordHash)
	}

	err = s.CreateUser(ctx, &core.User{Username: "Alice", PasswordHash: []byte("h")})
	if !errors.Is(err, core.ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}
}
