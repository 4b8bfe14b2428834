package broker

// EventKind is the closed set of inbound real-time events. The routing
// table below is the single place that decides fan-out scope, outbound
// event names and persistence for every kind, replacing one hand-written
// handler per event.
type EventKind string

const (
	EventJoinRoom EventKind = "join-room"

	EventDrawing         EventKind = "drawing"
	EventNotesChange     EventKind = "notes-change"
	EventClearWhiteboard EventKind = "clear-whiteboard"

	EventCursorMove  EventKind = "cursor-move"
	EventCursorLeave EventKind = "cursor-leave"

	EventStickyNoteAdd    EventKind = "sticky-note-add"
	EventStickyNoteUpdate EventKind = "sticky-note-update"
	EventStickyNoteDelete EventKind = "sticky-note-delete"

	EventCreatePoll EventKind = "create-poll"
	EventVotePoll   EventKind = "vote-poll"

	EventTimerStart      EventKind = "timer-start"
	EventTimerPause      EventKind = "timer-pause"
	EventTimerReset      EventKind = "timer-reset"
	EventTimerModeChange EventKind = "timer-mode-change"
	EventTimerComplete   EventKind = "timer-complete"

	EventFileUpload EventKind = "file-upload"
	EventFileDelete EventKind = "file-delete"

	EventStartPresentation EventKind = "start-presentation"
	EventEndPresentation   EventKind = "end-presentation"
	EventChangeSlide       EventKind = "change-slide"

	EventCodeChange     EventKind = "code-change"
	EventLanguageChange EventKind = "language-change"
	EventCodeExecution  EventKind = "code-execution"

	EventChatMessage       EventKind = "chat-message"
	EventUserTyping        EventKind = "user-typing"
	EventUserStoppedTyping EventKind = "user-stopped-typing"
	EventAIChatMessage     EventKind = "ai-chat-message"

	EventVoiceMessage     EventKind = "voice-message"
	EventScreenShareStart EventKind = "screen-share-start"
	EventScreenShareStop  EventKind = "screen-share-stop"
	EventScreenShareData  EventKind = "screen-share-data"

	EventAITextRecognized   EventKind = "ai-text-recognized"
	EventEmojiReaction      EventKind = "emoji-reaction"
	EventLaserMove          EventKind = "laser-move"
	EventLaserToggle        EventKind = "laser-toggle"
	EventThemeChange        EventKind = "theme-change"
	EventExportActivity     EventKind = "export-activity"
	EventShareLinkGenerated EventKind = "share-link-generated"
	EventMindmapGenerated   EventKind = "mindmap-generated"
)

// prepareFunc optionally transforms an event before fan-out. It returns the
// outbound payload, the payload to persist (nil when the route's persist
// kind decides from the outbound payload), and whether to continue.
type prepareFunc func(rt *Router, roomID string, sender Participant, payload any) (out any, save any, ok bool)

type route struct {
	// emits lists outbound event names; empty means "same as inbound".
	emits []string
	// roomWide delivers to the sender too; the default excludes the sender.
	roomWide bool
	persist  PersistKind
	prepare  prepareFunc
}

// routes is the full routing table. Most kinds are plain sender-excluded
// relays; the exceptions carry a prepare hook or a persistence kind.
var routes = map[EventKind]route{
	EventDrawing:         {persist: PersistWhiteboard},
	EventNotesChange:     {persist: PersistNotes, prepare: prepareNotesChange},
	EventClearWhiteboard: {persist: PersistWhiteboard, prepare: prepareClearWhiteboard},

	EventCursorMove:  {emits: []string{"cursor-move", "cursor-position"}},
	EventCursorLeave: {},

	EventStickyNoteAdd:    {persist: PersistStickyNotes, prepare: prepareStickyAdd},
	EventStickyNoteUpdate: {persist: PersistStickyNotes, prepare: prepareStickyUpdate},
	EventStickyNoteDelete: {persist: PersistStickyNotes, prepare: prepareStickyDelete},

	EventCreatePoll: {emits: []string{"new-poll"}, prepare: prepareCreatePoll},
	EventVotePoll:   {emits: []string{"poll-vote"}, roomWide: true, prepare: prepareVotePoll},

	EventTimerStart:      {prepare: prepareTimerStart},
	EventTimerPause:      {},
	EventTimerReset:      {},
	EventTimerModeChange: {},
	EventTimerComplete:   {},

	EventFileUpload: {prepare: prepareFileUpload},
	EventFileDelete: {prepare: prepareFileDelete},

	EventStartPresentation: {emits: []string{"presentation-start"}},
	EventEndPresentation:   {emits: []string{"presentation-end"}},
	EventChangeSlide:       {emits: []string{"slide-change"}},

	EventCodeChange:     {},
	EventLanguageChange: {},
	EventCodeExecution:  {},

	EventChatMessage:       {prepare: prepareChatMessage},
	EventUserTyping:        {},
	EventUserStoppedTyping: {},
	EventAIChatMessage:     {prepare: prepareAIChatMessage},

	EventVoiceMessage:     {},
	EventScreenShareStart: {},
	EventScreenShareStop:  {},
	EventScreenShareData:  {},

	EventAITextRecognized:   {},
	EventEmojiReaction:      {},
	EventLaserMove:          {},
	EventLaserToggle:        {},
	EventThemeChange:        {},
	EventExportActivity:     {},
	EventShareLinkGenerated: {},
	EventMindmapGenerated:   {},
}

// InboundKinds lists every routable event kind for transport registration.
func InboundKinds() []EventKind {
	kinds := make([]EventKind, 0, len(routes))
	for kind := range routes {
		kinds = append(kinds, kind)
	}
	return kinds
}

func asMap(payload any) map[string]any {
	m, _ := payload.(map[string]any)
	return m
}

func prepareNotesChange(rt *Router, roomID string, sender Participant, payload any) (any, any, bool) {
	content, _ := asMap(payload)["content"].(string)
	return payload, content, true
}

func prepareClearWhiteboard(rt *Router, roomID string, sender Participant, payload any) (any, any, bool) {
	// The clear's empty board must win over any pending stroke write.
	return payload, []any{}, true
}

func prepareStickyAdd(rt *Router, roomID string, sender Participant, payload any) (any, any, bool) {
	note, ok := decodeStickyNote(asMap(payload)["note"])
	if !ok {
		return nil, nil, false
	}
	return payload, rt.features.StickyAdd(roomID, note), true
}

func prepareStickyUpdate(rt *Router, roomID string, sender Participant, payload any) (any, any, bool) {
	note, ok := decodeStickyNote(asMap(payload)["note"])
	if !ok {
		return nil, nil, false
	}
	return payload, rt.features.StickyUpdate(roomID, note), true
}

func prepareStickyDelete(rt *Router, roomID string, sender Participant, payload any) (any, any, bool) {
	id, _ := asMap(payload)["id"].(string)
	if id == "" {
		return nil, nil, false
	}
	return payload, rt.features.StickyDelete(roomID, id), true
}

func prepareCreatePoll(rt *Router, roomID string, sender Participant, payload any) (any, any, bool) {
	pollData, _ := asMap(payload)["poll"].(map[string]any)
	if pollData == nil {
		return nil, nil, false
	}
	pollID, _ := pollData["id"].(string)
	rt.features.AddPoll(roomID, pollID, pollData)
	return pollData, nil, true
}

func prepareVotePoll(rt *Router, roomID string, sender Participant, payload any) (any, any, bool) {
	m := asMap(payload)
	pollID, _ := m["pollId"].(string)
	voter, _ := m["voter"].(string)
	option, _ := m["optionIndex"].(float64)

	votes, total := rt.features.Vote(roomID, pollID, voter, int(option))
	return map[string]any{
		"pollId":     pollID,
		"votes":      votes,
		"totalVotes": total,
		"voter":      voter,
	}, nil, true
}

func prepareTimerStart(rt *Router, roomID string, sender Participant, payload any) (any, any, bool) {
	// timer-sync carries the raw payload; timer-start is tagged with who
	// started it.
	rt.gw.ToRoomExcept(roomID, sender.Conn, "timer-sync", payload)

	out := make(map[string]any)
	for k, v := range asMap(payload) {
		out[k] = v
	}
	// The server decides who started the timer, never the client payload.
	out["username"] = sender.Username
	return out, nil, true
}

func prepareFileUpload(rt *Router, roomID string, sender Participant, payload any) (any, any, bool) {
	if file, ok := asMap(payload)["file"].(map[string]any); ok {
		rt.features.FileAdd(roomID, file)
	}
	return payload, nil, true
}

func prepareFileDelete(rt *Router, roomID string, sender Participant, payload any) (any, any, bool) {
	if id, ok := asMap(payload)["fileId"].(string); ok {
		rt.features.FileDelete(roomID, id)
	}
	return payload, nil, true
}

func prepareChatMessage(rt *Router, roomID string, sender Participant, payload any) (any, any, bool) {
	if m := asMap(payload); m != nil {
		rt.features.AddChat(roomID, m)
	}
	return payload, nil, true
}

func prepareAIChatMessage(rt *Router, roomID string, sender Participant, payload any) (any, any, bool) {
	if m := asMap(payload); m != nil {
		rt.features.AddAIChat(roomID, m)
	}
	return payload, nil, true
}
