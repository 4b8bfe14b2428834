package filesystem

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"collabboard/core"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

// fsStore keeps one JSON file per room under <base>/rooms and one per user
// under <base>/users. Partial updates are a read-modify-write of the room
// file, serialized by a store-wide lock.
type fsStore struct {
	basePath string
	mu       sync.Mutex
}

// NewStore creates a new filesystem-based store.
func NewStore(basePath string) *fsStore {
	for _, dir := range []string{basePath, filepath.Join(basePath, "rooms"), filepath.Join(basePath, "users")} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Fatalf("failed to create storage directory: %v", err)
		}
	}
	return &fsStore{basePath: basePath}
}

// roomPath rejects ids that would escape the rooms directory.
func (s *fsStore) roomPath(roomID string) (string, error) {
	if roomID == "" || roomID == "." || roomID == ".." || path.Base(roomID) != roomID {
		return "", fmt.Errorf("invalid room id %q", roomID)
	}
	return filepath.Join(s.basePath, "rooms", roomID+".json"), nil
}

func (s *fsStore) readRoom(roomID string) (*core.RoomSnapshot, error) {
	filePath, err := s.roomPath(roomID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, core.ErrRoomNotFound
		}
		return nil, err
	}
	var snap core.RoomSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode room %s: %w", roomID, err)
	}
	return &snap, nil
}

func (s *fsStore) writeRoom(snap *core.RoomSnapshot) error {
	filePath, err := s.roomPath(snap.RoomID)
	if err != nil {
		return err
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return os.WriteFile(filePath, data, 0644)
}

func (s *fsStore) CreateRoomIfAbsent(ctx context.Context, roomID string, defaults *core.RoomSnapshot) (*core.RoomSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if snap, err := s.readRoom(roomID); err == nil {
		return snap, nil
	} else if err != core.ErrRoomNotFound {
		return nil, err
	}

	if defaults == nil {
		defaults = core.NewRoomSnapshot(roomID)
	}
	snap := *defaults
	snap.RoomID = roomID
	if err := s.writeRoom(&snap); err != nil {
		return nil, err
	}
	logrus.WithField("room_id", roomID).Info("Room created")
	return &snap, nil
}

func (s *fsStore) LoadRoomSnapshot(ctx context.Context, roomID string) (*core.RoomSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readRoom(roomID)
}

func (s *fsStore) SaveRoomSnapshot(ctx context.Context, roomID string, update *core.SnapshotUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.readRoom(roomID)
	if err == core.ErrRoomNotFound {
		snap = core.NewRoomSnapshot(roomID)
	} else if err != nil {
		return err
	}

	snap.Apply(update, time.Now().UTC())
	return s.writeRoom(snap)
}

func (s *fsStore) ListRooms(ctx context.Context) ([]core.RoomInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(filepath.Join(s.basePath, "rooms"))
	if err != nil {
		return nil, err
	}

	rooms := make([]core.RoomInfo, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		roomID := strings.TrimSuffix(entry.Name(), ".json")
		snap, err := s.readRoom(roomID)
		if err != nil {
			logrus.WithError(err).WithField("room_id", roomID).Warn("Skipping unreadable room file")
			continue
		}
		rooms = append(rooms, snap.Info())
	}
	return rooms, nil
}

func (s *fsStore) DeleteRoom(ctx context.Context, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	filePath, err := s.roomPath(roomID)
	if err != nil {
		return err
	}
	if err := os.Remove(filePath); err != nil {
		if os.IsNotExist(err) {
			return core.ErrRoomNotFound
		}
		return err
	}
	return nil
}

func (s *fsStore) CreateUser(ctx context.Context, user *core.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.readUsers()
	if err != nil {
		return err
	}
	for _, existing := range users {
		if strings.EqualFold(existing.Username, user.Username) ||
			(user.Email != "" && strings.EqualFold(existing.Email, user.Email)) {
			return core.ErrUserExists
		}
	}

	if user.ID == "" {
		user.ID = ulid.Make().String()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	data, err := json.Marshal(storedUser{User: *user, PasswordHash: user.PasswordHash})
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.basePath, "users", user.ID+".json"), data, 0600)
}

func (s *fsStore) FindUserByLogin(ctx context.Context, login string) (*core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.readUsers()
	if err != nil {
		return nil, err
	}
	for _, user := range users {
		if strings.EqualFold(user.Username, login) || strings.EqualFold(user.Email, login) {
			out := user
			return &out, nil
		}
	}
	return nil, core.ErrUserNotFound
}

// storedUser re-adds the password hash that core.User hides from JSON.
type storedUser struct {
	core.User
	PasswordHash []byte `json:"passwordHash"`
}

func (s *fsStore) readUsers() ([]core.User, error) {
	entries, err := os.ReadDir(filepath.Join(s.basePath, "users"))
	if err != nil {
		return nil, err
	}

	users := make([]core.User, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.basePath, "users", entry.Name()))
		if err != nil {
			continue
		}
		var stored storedUser
		if err := json.Unmarshal(data, &stored); err != nil {
			logrus.WithError(err).WithField("file", entry.Name()).Warn("Skipping unreadable user file")
			continue
		}
		user := stored.User
		user.PasswordHash = stored.PasswordHash
		users = append(users, user)
	}
	return users, nil
}
