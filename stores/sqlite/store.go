package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"collabboard/core"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

type sqliteStore struct {
	db *sql.DB
}

// NewStore creates a new SQLite-based store.
func NewStore(dataSourceName string) *sqliteStore {
	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		log.Fatalf("failed to open sqlite database: %v", err)
	}

	roomTableStmt := `
	CREATE TABLE IF NOT EXISTS rooms (
		room_id TEXT PRIMARY KEY,
		name TEXT,
		whiteboard BLOB,
		notes TEXT,
		sticky_notes BLOB,
		settings BLOB,
		created_at DATETIME,
		last_updated DATETIME
	);`
	if _, err = db.Exec(roomTableStmt); err != nil {
		log.Fatalf("failed to create rooms table: %v", err)
	}

	userTableStmt := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL UNIQUE COLLATE NOCASE,
		email TEXT UNIQUE COLLATE NOCASE,
		password_hash BLOB NOT NULL,
		created_at DATETIME
	);`
	if _, err = db.Exec(userTableStmt); err != nil {
		log.Fatalf("failed to create users table: %v", err)
	}

	return &sqliteStore{db}
}

func (s *sqliteStore) CreateRoomIfAbsent(ctx context.Context, roomID string, defaults *core.RoomSnapshot) (*core.RoomSnapshot, error) {
	if defaults == nil {
		defaults = core.NewRoomSnapshot(roomID)
	}
	settings, err := json.Marshal(defaults.Settings)
	if err != nil {
		return nil, err
	}
	stickyNotes, err := json.Marshal(defaults.StickyNotes)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO rooms (room_id, name, whiteboard, notes, sticky_notes, settings, created_at, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(room_id) DO NOTHING`,
		roomID, defaults.Name, []byte(defaults.Whiteboard), defaults.Notes, stickyNotes, settings,
		defaults.CreatedAt, defaults.LastUpdated)
	if err != nil {
		return nil, fmt.Errorf("create room %s: %w", roomID, err)
	}
	return s.LoadRoomSnapshot(ctx, roomID)
}

func (s *sqliteStore) LoadRoomSnapshot(ctx context.Context, roomID string) (*core.RoomSnapshot, error) {
	log := logrus.WithField("room_id", roomID)

	var (
		snap        core.RoomSnapshot
		whiteboard  []byte
		stickyNotes []byte
		settings    []byte
	)
	snap.RoomID = roomID
	err := s.db.QueryRowContext(ctx, `
		SELECT name, whiteboard, notes, sticky_notes, settings, created_at, last_updated
		FROM rooms WHERE room_id = ?`, roomID).
		Scan(&snap.Name, &whiteboard, &snap.Notes, &stickyNotes, &settings, &snap.CreatedAt, &snap.LastUpdated)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, core.ErrRoomNotFound
		}
		log.WithError(err).Error("Failed to load room snapshot")
		return nil, err
	}

	snap.Whiteboard = json.RawMessage(whiteboard)
	if len(stickyNotes) > 0 {
		if err := json.Unmarshal(stickyNotes, &snap.StickyNotes); err != nil {
			return nil, fmt.Errorf("decode sticky notes for %s: %w", roomID, err)
		}
	}
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &snap.Settings); err != nil {
			return nil, fmt.Errorf("decode settings for %s: %w", roomID, err)
		}
	}
	return &snap, nil
}

func (s *sqliteStore) SaveRoomSnapshot(ctx context.Context, roomID string, update *core.SnapshotUpdate) error {
	now := time.Now().UTC()

	sets := []string{"last_updated = ?"}
	args := []any{now}

	if update.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *update.Name)
	}
	if update.Whiteboard != nil {
		sets = append(sets, "whiteboard = ?")
		args = append(args, []byte(*update.Whiteboard))
	}
	if update.Notes != nil {
		sets = append(sets, "notes = ?")
		args = append(args, *update.Notes)
	}
	if update.StickyNotes != nil {
		encoded, err := json.Marshal(*update.StickyNotes)
		if err != nil {
			return err
		}
		sets = append(sets, "sticky_notes = ?")
		args = append(args, encoded)
	}
	if update.Settings != nil {
		encoded, err := json.Marshal(*update.Settings)
		if err != nil {
			return err
		}
		sets = append(sets, "settings = ?")
		args = append(args, encoded)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Upsert: the row may not exist yet for rooms that lived only in
	// memory until their first persisted event.
	defaults := core.NewRoomSnapshot(roomID)
	defaultSettings, err := json.Marshal(defaults.Settings)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO rooms (room_id, name, whiteboard, notes, sticky_notes, settings, created_at, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(room_id) DO NOTHING`,
		roomID, defaults.Name, []byte(defaults.Whiteboard), defaults.Notes, []byte("[]"), defaultSettings, now, now); err != nil {
		return err
	}

	args = append(args, roomID)
	if _, err := tx.ExecContext(ctx,
		"UPDATE rooms SET "+strings.Join(sets, ", ")+" WHERE room_id = ?", args...); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *sqliteStore) ListRooms(ctx context.Context) ([]core.RoomInfo, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT room_id, name, last_updated FROM rooms ORDER BY last_updated DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rooms []core.RoomInfo
	for rows.Next() {
		var info core.RoomInfo
		if err := rows.Scan(&info.RoomID, &info.Name, &info.LastUpdated); err != nil {
			return nil, err
		}
		rooms = append(rooms, info)
	}
	return rooms, rows.Err()
}

func (s *sqliteStore) DeleteRoom(ctx context.Context, roomID string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM rooms WHERE room_id = ?", roomID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return core.ErrRoomNotFound
	}
	return nil
}

func (s *sqliteStore) CreateUser(ctx context.Context, user *core.User) error {
	if user.ID == "" {
		user.ID = ulid.Make().String()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	var exists int
	err := s.db.QueryRowContext(ctx,
		"SELECT 1 FROM users WHERE username = ? OR (email != '' AND email = ?)",
		user.Username, user.Email).Scan(&exists)
	if err == nil {
		return core.ErrUserExists
	}
	if err != sql.ErrNoRows {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO users (id, username, email, password_hash, created_at) VALUES (?, ?, ?, ?, ?)",
		user.ID, user.Username, user.Email, user.PasswordHash, user.CreatedAt)
	return err
}

func (s *sqliteStore) FindUserByLogin(ctx context.Context, login string) (*core.User, error) {
	var user core.User
	err := s.db.QueryRowContext(ctx,
		"SELECT id, username, email, password_hash, created_at FROM users WHERE username = ? OR email = ?",
		login, login).
		Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, core.ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}
