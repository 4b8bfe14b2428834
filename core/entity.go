package core

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrUserNotFound = errors.New("user not found")
	ErrUserExists   = errors.New("user already exists")
)

type (
	// StickyNote is one note pinned to a room's board.
	StickyNote struct {
		ID    string  `json:"id"`
		Text  string  `json:"text"`
		Color string  `json:"color,omitempty"`
		X     float64 `json:"x"`
		Y     float64 `json:"y"`
	}

	RoomSettings struct {
		IsPublic       bool `json:"isPublic"`
		AllowAnonymous bool `json:"allowAnonymous"`
		MaxUsers       int  `json:"maxUsers"`
	}

	// RoomSnapshot is the durable, last-known state of a room's mutable
	// content. It bootstraps newly joining connections.
	RoomSnapshot struct {
		RoomID      string          `json:"roomId"`
		Name        string          `json:"name,omitempty"`
		Whiteboard  json.RawMessage `json:"whiteboardData"`
		Notes       string          `json:"notesData"`
		StickyNotes []StickyNote    `json:"stickyNotes,omitempty"`
		Settings    RoomSettings    `json:"settings"`
		CreatedAt   time.Time       `json:"createdAt"`
		LastUpdated time.Time       `json:"lastUpdated"`
	}

	// SnapshotUpdate is a partial room update. Only non-nil fields are
	// written; everything else keeps its stored value.
	SnapshotUpdate struct {
		Name        *string
		Whiteboard  *json.RawMessage
		Notes       *string
		StickyNotes *[]StickyNote
		Settings    *RoomSettings
	}

	// RoomInfo is the lightweight listing form of a room, without content.
	RoomInfo struct {
		RoomID      string    `json:"id"`
		Name        string    `json:"name,omitempty"`
		LastUpdated time.Time `json:"lastUpdated"`
	}

	// SnapshotStore is the durable room storage boundary. Implementations
	// must support partial-field merges so that saving whiteboard data never
	// clobbers notes and vice versa.
	SnapshotStore interface {
		// CreateRoomIfAbsent returns the stored snapshot, creating it from
		// defaults when no record exists yet.
		CreateRoomIfAbsent(ctx context.Context, roomID string, defaults *RoomSnapshot) (*RoomSnapshot, error)

		// LoadRoomSnapshot returns ErrRoomNotFound when the room has never
		// been persisted.
		LoadRoomSnapshot(ctx context.Context, roomID string) (*RoomSnapshot, error)

		// SaveRoomSnapshot upserts the fields set in update.
		SaveRoomSnapshot(ctx context.Context, roomID string, update *SnapshotUpdate) error

		ListRooms(ctx context.Context) ([]RoomInfo, error)

		DeleteRoom(ctx context.Context, roomID string) error
	}

	User struct {
		ID           string    `json:"id"`
		Username     string    `json:"username"`
		Email        string    `json:"email"`
		PasswordHash []byte    `json:"-"`
		CreatedAt    time.Time `json:"createdAt"`
	}

	// UserStore persists registered accounts. Lookup is by username or
	// email, matching the login form.
	UserStore interface {
		CreateUser(ctx context.Context, user *User) error
		FindUserByLogin(ctx context.Context, login string) (*User, error)
	}
)

// NewRoomSnapshot returns the defaults for a freshly created room.
func NewRoomSnapshot(roomID string) *RoomSnapshot {
	now := time.Now().UTC()
	return &RoomSnapshot{
		RoomID:     roomID,
		Name:       "Room " + roomID,
		Whiteboard: json.RawMessage("[]"),
		Notes:      "",
		Settings: RoomSettings{
			IsPublic:       true,
			AllowAnonymous: true,
			MaxUsers:       50,
		},
		CreatedAt:   now,
		LastUpdated: now,
	}
}

// Apply merges a partial update into the snapshot. Read-modify-write
// backends (memory, filesystem, s3) share this merge.
func (s *RoomSnapshot) Apply(update *SnapshotUpdate, now time.Time) {
	if update.Name != nil {
		s.Name = *update.Name
	}
	if update.Whiteboard != nil {
		s.Whiteboard = *update.Whiteboard
	}
	if update.Notes != nil {
		s.Notes = *update.Notes
	}
	if update.StickyNotes != nil {
		s.StickyNotes = *update.StickyNotes
	}
	if update.Settings != nil {
		s.Settings = *update.Settings
	}
	s.LastUpdated = now
}

// Info returns the listing form of the snapshot.
func (s *RoomSnapshot) Info() RoomInfo {
	return RoomInfo{RoomID: s.RoomID, Name: s.Name, LastUpdated: s.LastUpdated}
}
