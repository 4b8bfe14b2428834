package mongodb

import (
	"context"
	"log"
	"time"

	"collabboard/core"

	"github.com/oklog/ulid/v2"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type mongoStore struct {
	rooms *mongo.Collection
	users *mongo.Collection
}

// roomDoc is the persisted shape of a room snapshot. Whiteboard scenes are
// stored as their raw JSON bytes rather than re-encoded into BSON documents.
type roomDoc struct {
	RoomID      string            `bson:"roomId"`
	Name        string            `bson:"name"`
	Whiteboard  []byte            `bson:"whiteboard"`
	Notes       string            `bson:"notes"`
	StickyNotes []core.StickyNote `bson:"stickyNotes"`
	Settings    core.RoomSettings `bson:"settings"`
	CreatedAt   time.Time         `bson:"createdAt"`
	LastUpdated time.Time         `bson:"lastUpdated"`
}

type userDoc struct {
	ID           string    `bson:"_id"`
	Username     string    `bson:"username"`
	Email        string    `bson:"email"`
	PasswordHash []byte    `bson:"passwordHash"`
	CreatedAt    time.Time `bson:"createdAt"`
}

// NewStore connects to MongoDB and prepares the collections and indexes.
func NewStore(uri string) *mongoStore {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		log.Fatalf("failed to connect to mongodb: %v", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		log.Fatalf("failed to ping mongodb: %v", err)
	}

	db := client.Database("collabboard")
	store := &mongoStore{
		rooms: db.Collection("rooms"),
		users: db.Collection("users"),
	}

	_, err = store.rooms.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "roomId", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		log.Fatalf("failed to create room index: %v", err)
	}

	_, err = store.users.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "username", Value: 1}},
			Options: options.Index().SetUnique(true).SetCollation(&options.Collation{Locale: "en", Strength: 2}),
		},
		{
			Keys: bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetUnique(true).
				SetCollation(&options.Collation{Locale: "en", Strength: 2}).
				SetPartialFilterExpression(bson.D{{Key: "email", Value: bson.D{{Key: "$gt", Value: ""}}}}),
		},
	})
	if err != nil {
		log.Fatalf("failed to create user indexes: %v", err)
	}

	return store
}

func docFromSnapshot(snap *core.RoomSnapshot) roomDoc {
	return roomDoc{
		RoomID:      snap.RoomID,
		Name:        snap.Name,
		Whiteboard:  []byte(snap.Whiteboard),
		Notes:       snap.Notes,
		StickyNotes: snap.StickyNotes,
		Settings:    snap.Settings,
		CreatedAt:   snap.CreatedAt,
		LastUpdated: snap.LastUpdated,
	}
}

func (d roomDoc) snapshot() *core.RoomSnapshot {
	return &core.RoomSnapshot{
		RoomID:      d.RoomID,
		Name:        d.Name,
		Whiteboard:  d.Whiteboard,
		Notes:       d.Notes,
		StickyNotes: d.StickyNotes,
		Settings:    d.Settings,
		CreatedAt:   d.CreatedAt,
		LastUpdated: d.LastUpdated,
	}
}

func (s *mongoStore) CreateRoomIfAbsent(ctx context.Context, roomID string, defaults *core.RoomSnapshot) (*core.RoomSnapshot, error) {
	if defaults == nil {
		defaults = core.NewRoomSnapshot(roomID)
	}
	doc := docFromSnapshot(defaults)
	doc.RoomID = roomID

	var out roomDoc
	err := s.rooms.FindOneAndUpdate(ctx,
		bson.M{"roomId": roomID},
		bson.M{"$setOnInsert": doc},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&out)
	if err != nil {
		return nil, err
	}
	return out.snapshot(), nil
}

func (s *mongoStore) LoadRoomSnapshot(ctx context.Context, roomID string) (*core.RoomSnapshot, error) {
	var doc roomDoc
	err := s.rooms.FindOne(ctx, bson.M{"roomId": roomID}).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, core.ErrRoomNotFound
		}
		return nil, err
	}
	return doc.snapshot(), nil
}

func (s *mongoStore) SaveRoomSnapshot(ctx context.Context, roomID string, update *core.SnapshotUpdate) error {
	now := time.Now().UTC()

	set := bson.M{"lastUpdated": now}
	if update.Name != nil {
		set["name"] = *update.Name
	}
	if update.Whiteboard != nil {
		set["whiteboard"] = []byte(*update.Whiteboard)
	}
	if update.Notes != nil {
		set["notes"] = *update.Notes
	}
	if update.StickyNotes != nil {
		set["stickyNotes"] = *update.StickyNotes
	}
	if update.Settings != nil {
		set["settings"] = *update.Settings
	}

	defaults := docFromSnapshot(core.NewRoomSnapshot(roomID))
	onInsert := bson.M{"roomId": roomID, "createdAt": now}
	if _, ok := set["name"]; !ok {
		onInsert["name"] = defaults.Name
	}
	if _, ok := set["whiteboard"]; !ok {
		onInsert["whiteboard"] = defaults.Whiteboard
	}
	if _, ok := set["notes"]; !ok {
		onInsert["notes"] = defaults.Notes
	}
	if _, ok := set["stickyNotes"]; !ok {
		onInsert["stickyNotes"] = []core.StickyNote{}
	}
	if _, ok := set["settings"]; !ok {
		onInsert["settings"] = defaults.Settings
	}

	_, err := s.rooms.UpdateOne(ctx,
		bson.M{"roomId": roomID},
		bson.M{"$set": set, "$setOnInsert": onInsert},
		options.Update().SetUpsert(true),
	)
	return err
}

func (s *mongoStore) ListRooms(ctx context.Context) ([]core.RoomInfo, error) {
	cursor, err := s.rooms.Find(ctx, bson.M{},
		options.Find().SetSort(bson.D{{Key: "lastUpdated", Value: -1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var rooms []core.RoomInfo
	for cursor.Next(ctx) {
		var doc roomDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		rooms = append(rooms, doc.snapshot().Info())
	}
	return rooms, cursor.Err()
}

func (s *mongoStore) DeleteRoom(ctx context.Context, roomID string) error {
	res, err := s.rooms.DeleteOne(ctx, bson.M{"roomId": roomID})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return core.ErrRoomNotFound
	}
	return nil
}

func (s *mongoStore) CreateUser(ctx context.Context, user *core.User) error {
	if user.ID == "" {
		user.ID = ulid.Make().String()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.users.InsertOne(ctx, userDoc{
		ID:           user.ID,
		Username:     user.Username,
		Email:        user.Email,
		PasswordHash: user.PasswordHash,
		CreatedAt:    user.CreatedAt,
	})
	if mongo.IsDuplicateKeyError(err) {
		return core.ErrUserExists
	}
	return err
}

func (s *mongoStore) FindUserByLogin(ctx context.Context, login string) (*core.User, error) {
	var doc userDoc
	err := s.users.FindOne(ctx,
		bson.M{"$or": bson.A{bson.M{"username": login}, bson.M{"email": login}}},
		options.FindOne().SetCollation(&options.Collation{Locale: "en", Strength: 2}),
	).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, core.ErrUserNotFound
		}
		return nil, err
	}
	return &core.User{
		ID:           doc.ID,
		Username:     doc.Username,
		Email:        doc.Email,
		PasswordHash: doc.PasswordHash,
		CreatedAt:    doc.CreatedAt,
	}, nil
}
