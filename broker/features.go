package broker

import (
	"encoding/json"
	"sync"
	"time"

	"collabboard/core"

	"github.com/oklog/ulid/v2"
)

// maxChatMessagesPerRoom caps per-room chat history; the oldest messages
// roll off first.
const maxChatMessagesPerRoom = 200

// poll pairs the client-supplied poll definition with the server-side vote
// tally. The definition stays opaque; only votes are interpreted.
type poll struct {
	id    string
	data  map[string]any
	votes map[string]int // voter -> option index
}

type roomFeatures struct {
	stickyNotes []core.StickyNote
	polls       []*poll
	chat        []map[string]any
	aiChat      []map[string]any
	files       []map[string]any
}

// Features holds the volatile per-room state behind the feature relays:
// sticky notes, polls, chat history and file metadata. Each room's state is
// owned here and evicted together with the room, never globally.
type Features struct {
	mu    sync.Mutex
	rooms map[string]*roomFeatures
}

func NewFeatures() *Features {
	return &Features{rooms: make(map[string]*roomFeatures)}
}

func (f *Features) room(roomID string) *roomFeatures {
	rf, ok := f.rooms[roomID]
	if !ok {
		rf = &roomFeatures{}
		f.rooms[roomID] = rf
	}
	return rf
}

// Evict drops all feature state for the room.
func (f *Features) Evict(roomID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rooms, roomID)
}

// StickyAdd appends a note and returns the full list for persistence.
func (f *Features) StickyAdd(roomID string, note core.StickyNote) []core.StickyNote {
	f.mu.Lock()
	defer f.mu.Unlock()
	rf := f.room(roomID)
	rf.stickyNotes = append(rf.stickyNotes, note)
	return append([]core.StickyNote(nil), rf.stickyNotes...)
}

// StickyUpdate replaces the note with a matching id, if present.
func (f *Features) StickyUpdate(roomID string, note core.StickyNote) []core.StickyNote {
	f.mu.Lock()
	defer f.mu.Unlock()
	rf := f.room(roomID)
	for i := range rf.stickyNotes {
		if rf.stickyNotes[i].ID == note.ID {
			rf.stickyNotes[i] = note
			break
		}
	}
	return append([]core.StickyNote(nil), rf.stickyNotes...)
}

// StickyDelete removes the note with the given id, if present.
func (f *Features) StickyDelete(roomID, noteID string) []core.StickyNote {
	f.mu.Lock()
	defer f.mu.Unlock()
	rf := f.room(roomID)
	for i := range rf.stickyNotes {
		if rf.stickyNotes[i].ID == noteID {
			rf.stickyNotes = append(rf.stickyNotes[:i], rf.stickyNotes[i+1:]...)
			break
		}
	}
	return append([]core.StickyNote(nil), rf.stickyNotes...)
}

// SetStickyNotes seeds the sticky-note state from a loaded snapshot.
func (f *Features) SetStickyNotes(roomID string, notes []core.StickyNote) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.room(roomID).stickyNotes = append([]core.StickyNote(nil), notes...)
}

// AddPoll stores a new poll definition.
func (f *Features) AddPoll(roomID, pollID string, data map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rf := f.room(roomID)
	rf.polls = append(rf.polls, &poll{id: pollID, data: data, votes: make(map[string]int)})
}

// Vote records a vote and returns the aggregated tally. One vote per voter;
// re-voting changes the choice. Voting on an unknown poll returns an empty
// tally, mirroring a vote racing a poll that was never stored.
func (f *Features) Vote(roomID, pollID, voter string, option int) (votes map[string]int, total int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, pl := range f.room(roomID).polls {
		if pl.id == pollID {
			pl.votes[voter] = option
			votes = make(map[string]int, len(pl.votes))
			for k, v := range pl.votes {
				votes[k] = v
			}
			return votes, len(pl.votes)
		}
	}
	return map[string]int{}, 0
}

// AddChat appends a chat message, stamping it with a server id and
// timestamp, and returns the stored copy.
func (f *Features) AddChat(roomID string, msg map[string]any) map[string]any {
	return f.addChat(roomID, msg, false)
}

// AddAIChat is AddChat for the AI assistant transcript.
func (f *Features) AddAIChat(roomID string, msg map[string]any) map[string]any {
	return f.addChat(roomID, msg, true)
}

func (f *Features) addChat(roomID string, msg map[string]any, ai bool) map[string]any {
	stored := make(map[string]any, len(msg)+2)
	for k, v := range msg {
		stored[k] = v
	}
	stored["id"] = ulid.Make().String()
	stored["timestamp"] = time.Now().UTC()

	f.mu.Lock()
	defer f.mu.Unlock()
	rf := f.room(roomID)
	history := &rf.chat
	if ai {
		history = &rf.aiChat
	}
	*history = append(*history, stored)
	if len(*history) > maxChatMessagesPerRoom {
		*history = (*history)[len(*history)-maxChatMessagesPerRoom:]
	}
	return stored
}

// ChatHistory returns the stored chat messages for a room.
func (f *Features) ChatHistory(roomID string) []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	rf, ok := f.rooms[roomID]
	if !ok {
		return nil
	}
	return append([]map[string]any(nil), rf.chat...)
}

// FileAdd records uploaded file metadata.
func (f *Features) FileAdd(roomID string, file map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rf := f.room(roomID)
	rf.files = append(rf.files, file)
}

// FileDelete removes file metadata by id.
func (f *Features) FileDelete(roomID, fileID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rf := f.room(roomID)
	for i := range rf.files {
		if id, _ := rf.files[i]["id"].(string); id == fileID {
			rf.files = append(rf.files[:i], rf.files[i+1:]...)
			return
		}
	}
}

// decodeStickyNote converts the opaque wire form of a note into the typed
// snapshot form via a JSON round trip.
func decodeStickyNote(v any) (core.StickyNote, bool) {
	raw, err := json.Marshal(v)
	if err != nil {
		return core.StickyNote{}, false
	}
	var note core.StickyNote
	if err := json.Unmarshal(raw, &note); err != nil {
		return core.StickyNote{}, false
	}
	return note, true
}
