package rooms

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"collabboard/broker"
	"collabboard/core"
	authMiddleware "collabboard/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

type joinRequest struct {
	RoomID string `json:"roomId"`
	Name   string `json:"name"`
}

type roomListEntry struct {
	core.RoomInfo
	ActiveUsers int `json:"activeUsers"`
}

// HandleJoin ensures the room record exists before the client opens its
// socket. Returns the stored snapshot so the client can render immediately.
func HandleJoin(store core.SnapshotStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req joinRequest
		if err := render.DecodeJSON(r.Body, &req); err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Invalid request body"})
			return
		}

		req.RoomID = strings.TrimSpace(req.RoomID)
		if req.RoomID == "" {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "roomId is required"})
			return
		}

		defaults := core.NewRoomSnapshot(req.RoomID)
		if req.Name != "" {
			defaults.Name = req.Name
		}

		snap, err := store.CreateRoomIfAbsent(r.Context(), req.RoomID, defaults)
		if err != nil {
			logrus.WithError(err).WithField("room_id", req.RoomID).Error("Failed to join room")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Failed to join room"})
			return
		}

		render.JSON(w, r, snap)
	}
}

// HandleGet returns the stored snapshot of one room.
func HandleGet(store core.SnapshotStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := chi.URLParam(r, "roomID")

		snap, err := store.LoadRoomSnapshot(r.Context(), roomID)
		if err != nil {
			if errors.Is(err, core.ErrRoomNotFound) {
				render.Status(r, http.StatusNotFound)
				render.JSON(w, r, map[string]string{"error": "Room not found"})
				return
			}
			logrus.WithError(err).WithField("room_id", roomID).Error("Failed to load room")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Failed to load room"})
			return
		}

		render.JSON(w, r, snap)
	}
}

// HandleList merges stored rooms with live participant counts. Rooms that
// exist only in memory (joined but never persisted) appear with a zero
// LastUpdated.
func HandleList(store core.SnapshotStore, rt *broker.Router) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stored, err := store.ListRooms(r.Context())
		if err != nil {
			logrus.WithError(err).Error("Failed to list rooms")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Failed to list rooms"})
			return
		}

		counts := rt.ActiveRooms()
		entries := make([]roomListEntry, 0, len(stored)+len(counts))
		seen := make(map[string]bool, len(stored))
		for _, info := range stored {
			seen[info.RoomID] = true
			entries = append(entries, roomListEntry{RoomInfo: info, ActiveUsers: counts[info.RoomID]})
		}
		for roomID, count := range counts {
			if !seen[roomID] {
				entries = append(entries, roomListEntry{
					RoomInfo:    core.RoomInfo{RoomID: roomID},
					ActiveUsers: count,
				})
			}
		}

		render.JSON(w, r, entries)
	}
}

// HandleSaveWhiteboard writes the whiteboard scene directly, bypassing the
// debounce path. Used by clients that save explicitly.
func HandleSaveWhiteboard(store core.SnapshotStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := chi.URLParam(r, "roomID")

		var scene json.RawMessage
		if err := render.DecodeJSON(r.Body, &scene); err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Invalid whiteboard payload"})
			return
		}

		if err := store.SaveRoomSnapshot(r.Context(), roomID, &core.SnapshotUpdate{Whiteboard: &scene}); err != nil {
			logrus.WithError(err).WithField("room_id", roomID).Error("Failed to save whiteboard")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Failed to save whiteboard"})
			return
		}

		render.NoContent(w, r)
	}
}

// HandleSaveNotes writes the shared notes text directly.
func HandleSaveNotes(store core.SnapshotStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := chi.URLParam(r, "roomID")

		var req struct {
			Content string `json:"content"`
		}
		if err := render.DecodeJSON(r.Body, &req); err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Invalid notes payload"})
			return
		}

		if err := store.SaveRoomSnapshot(r.Context(), roomID, &core.SnapshotUpdate{Notes: &req.Content}); err != nil {
			logrus.WithError(err).WithField("room_id", roomID).Error("Failed to save notes")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Failed to save notes"})
			return
		}

		render.NoContent(w, r)
	}
}

// HandleDelete removes a room's stored record.
func HandleDelete(store core.SnapshotStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := chi.URLParam(r, "roomID")

		log := logrus.WithField("room_id", roomID)
		if claims, ok := authMiddleware.ClaimsFrom(r.Context()); ok {
			log = log.WithField("deleted_by", claims.Login)
		}

		if err := store.DeleteRoom(r.Context(), roomID); err != nil {
			if errors.Is(err, core.ErrRoomNotFound) {
				render.Status(r, http.StatusNotFound)
				render.JSON(w, r, map[string]string{"error": "Room not found"})
				return
			}
			log.WithError(err).Error("Failed to delete room")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Failed to delete room"})
			return
		}

		log.Info("Room deleted")
		render.NoContent(w, r)
	}
}
