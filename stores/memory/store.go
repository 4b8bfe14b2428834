package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"collabboard/core"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

// memStore keeps rooms and users in process memory. It is the fallback
// backend when no database is configured; data does not survive restarts.
type memStore struct {
	mu    sync.RWMutex
	rooms map[string]*core.RoomSnapshot
	users map[string]*core.User // keyed by user id
}

// NewStore creates a new in-memory store.
func NewStore() *memStore {
	return &memStore{
		rooms: make(map[string]*core.RoomSnapshot),
		users: make(map[string]*core.User),
	}
}

func (s *memStore) CreateRoomIfAbsent(ctx context.Context, roomID string, defaults *core.RoomSnapshot) (*core.RoomSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if snap, ok := s.rooms[roomID]; ok {
		copied := *snap
		return &copied, nil
	}

	if defaults == nil {
		defaults = core.NewRoomSnapshot(roomID)
	}
	copied := *defaults
	copied.RoomID = roomID
	s.rooms[roomID] = &copied

	logrus.WithField("room_id", roomID).Info("Room created")
	out := copied
	return &out, nil
}

func (s *memStore) LoadRoomSnapshot(ctx context.Context, roomID string) (*core.RoomSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.rooms[roomID]
	if !ok {
		return nil, core.ErrRoomNotFound
	}
	copied := *snap
	return &copied, nil
}

func (s *memStore) SaveRoomSnapshot(ctx context.Context, roomID string, update *core.SnapshotUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, ok := s.rooms[roomID]
	if !ok {
		snap = core.NewRoomSnapshot(roomID)
		s.rooms[roomID] = snap
	}
	snap.Apply(update, time.Now().UTC())

	logrus.WithField("room_id", roomID).Debug("Room snapshot saved")
	return nil
}

func (s *memStore) ListRooms(ctx context.Context) ([]core.RoomInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rooms := make([]core.RoomInfo, 0, len(s.rooms))
	for _, snap := range s.rooms {
		rooms = append(rooms, snap.Info())
	}
	return rooms, nil
}

func (s *memStore) DeleteRoom(ctx context.Context, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[roomID]; !ok {
		return core.ErrRoomNotFound
	}
	delete(s.rooms, roomID)
	return nil
}

func (s *memStore) CreateUser(ctx context.Context, user *core.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.users {
		if existing.Username == user.Username || (user.Email != "" && existing.Email == user.Email) {
			return core.ErrUserExists
		}
	}

	if user.ID == "" {
		user.ID = ulid.Make().String()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	copied := *user
	s.users[user.ID] = &copied

	logrus.WithField("username", user.Username).Info("User registered")
	return nil
}

func (s *memStore) FindUserByLogin(ctx context.Context, login string) (*core.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	login = strings.ToLower(login)
	for _, user := range s.users {
		if strings.ToLower(user.Username) == login || strings.ToLower(user.Email) == login {
			copied := *user
			return &copied, nil
		}
	}
	return nil, core.ErrUserNotFound
}
