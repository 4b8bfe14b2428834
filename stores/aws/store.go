package aws

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"path"
	"strings"
	"sync"
	"time"

	"collabboard/core"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/oklog/ulid/v2"
)

type s3Store struct {
	s3Client *s3.Client
	bucket   string
	// Serializes the read-modify-write of SaveRoomSnapshot; S3 has no
	// conditional update primitive we can lean on here.
	mu sync.Mutex
}

// NewStore creates a new S3-based store.
func NewStore(bucketName string) *s3Store {
	cfg, err := config.LoadDefaultConfig(context.TODO())
	if err != nil {
		log.Fatalf("unable to load SDK config, %v", err)
	}

	s3Client := s3.NewFromConfig(cfg)

	return &s3Store{
		s3Client: s3Client,
		bucket:   bucketName,
	}
}

// roomKey sanitizes the id to prevent path traversal through object keys.
func roomKey(roomID string) (string, error) {
	if roomID == "" || roomID == "." || roomID == ".." || path.Base(roomID) != roomID {
		return "", fmt.Errorf("invalid room id: must be a simple name")
	}
	return path.Join("rooms", roomID+".json"), nil
}

func (s *s3Store) getRoom(ctx context.Context, roomID string) (*core.RoomSnapshot, error) {
	key, err := roomKey(roomID)
	if err != nil {
		return nil, err
	}
	resp, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, core.ErrRoomNotFound
		}
		return nil, fmt.Errorf("failed to get room %s: %v", roomID, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read room data: %v", err)
	}

	var snap core.RoomSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal room %s: %v", roomID, err)
	}
	return &snap, nil
}

func (s *s3Store) putRoom(ctx context.Context, snap *core.RoomSnapshot) error {
	key, err := roomKey(snap.RoomID)
	if err != nil {
		return err
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal room: %v", err)
	}
	_, err = s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("failed to save room %s: %v", snap.RoomID, err)
	}
	return nil
}

func (s *s3Store) CreateRoomIfAbsent(ctx context.Context, roomID string, defaults *core.RoomSnapshot) (*core.RoomSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if snap, err := s.getRoom(ctx, roomID); err == nil {
		return snap, nil
	} else if !errors.Is(err, core.ErrRoomNotFound) {
		return nil, err
	}

	if defaults == nil {
		defaults = core.NewRoomSnapshot(roomID)
	}
	snap := *defaults
	snap.RoomID = roomID
	if err := s.putRoom(ctx, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (s *s3Store) LoadRoomSnapshot(ctx context.Context, roomID string) (*core.RoomSnapshot, error) {
	return s.getRoom(ctx, roomID)
}

func (s *s3Store) SaveRoomSnapshot(ctx context.Context, roomID string, update *core.SnapshotUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.getRoom(ctx, roomID)
	if errors.Is(err, core.ErrRoomNotFound) {
		snap = core.NewRoomSnapshot(roomID)
	} else if err != nil {
		return err
	}

	snap.Apply(update, time.Now().UTC())
	return s.putRoom(ctx, snap)
}

func (s *s3Store) ListRooms(ctx context.Context) ([]core.RoomInfo, error) {
	output, err := s.s3Client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String("rooms/"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %v", err)
	}

	rooms := make([]core.RoomInfo, 0, len(output.Contents))
	for _, object := range output.Contents {
		roomID := strings.TrimSuffix(strings.TrimPrefix(*object.Key, "rooms/"), ".json")
		snap, err := s.getRoom(ctx, roomID)
		if err != nil {
			log.Printf("warn: failed to read room object %s: %v", *object.Key, err)
			continue
		}
		rooms = append(rooms, snap.Info())
	}
	return rooms, nil
}

func (s *s3Store) DeleteRoom(ctx context.Context, roomID string) error {
	key, err := roomKey(roomID)
	if err != nil {
		return err
	}
	// DeleteObject succeeds on missing keys, so probe first to report
	// not-found the same way the other backends do.
	if _, err := s.getRoom(ctx, roomID); err != nil {
		return err
	}
	_, err = s.s3Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete room %s: %v", roomID, err)
	}
	return nil
}

// storedUser re-adds the password hash that core.User hides from JSON.
type storedUser struct {
	core.User
	PasswordHash []byte `json:"passwordHash"`
}

func (s *s3Store) CreateUser(ctx context.Context, user *core.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.listUsers(ctx)
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
		return fmt.Errorf("failed to marshal user: %v", err)
	}
	_, err = s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path.Join("users", user.ID+".json")),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("failed to save user %s: %v", user.Username, err)
	}
	return nil
}

func (s *s3Store) FindUserByLogin(ctx context.Context, login string) (*core.User, error) {
	users, err := s.listUsers(ctx)
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

func (s *s3Store) listUsers(ctx context.Context) ([]core.User, error) {
	output, err := s.s3Client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String("users/"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %v", err)
	}

	users := make([]core.User, 0, len(output.Contents))
	for _, object := range output.Contents {
		resp, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    object.Key,
		})
		if err != nil {
			log.Printf("warn: failed to get object %s: %v", *object.Key, err)
			continue
		}
		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			log.Printf("warn: failed to read object body %s: %v", *object.Key, err)
			continue
		}

		var stored storedUser
		if err := json.Unmarshal(data, &stored); err != nil {
			log.Printf("warn: failed to unmarshal user %s: %v", *object.Key, err)
			continue
		}
		user := stored.User
		user.PasswordHash = stored.PasswordHash
		users = append(users, user)
	}
	return users, nil
}
