package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"whiteboard-relay/internal/auth"
	"whiteboard-relay/internal/database"
	"whiteboard-relay/internal/services"
	ws "whiteboard-relay/internal/websocket"
	"whiteboard-relay/pkg/logger"
)

type RoomHandlers struct {
	presence *services.PresenceService
	verifier TokenVerifier
	registry *ws.Registry
}

func NewRoomHandlers(presence *services.PresenceService, verifier TokenVerifier, registry *ws.Registry) *RoomHandlers {
	return &RoomHandlers{
		presence: presence,
		verifier: verifier,
		registry: registry,
	}
}

// ServeRoom handles /rooms/{id} and /rooms/{id}/users.
func (h *RoomHandlers) ServeRoom(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if _, err := h.verifier.Verify(auth.TokenFromRequest(r)); err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) < 2 || parts[0] != "rooms" || parts[1] == "" {
		http.Error(w, "invalid path", http.StatusBadRequest)
		return
	}
	roomID := parts[1]

	switch {
	case len(parts) == 2:
		h.getRoom(w, r, roomID)
	case len(parts) == 3 && parts[2] == "users":
		h.getUsers(w, r, roomID)
	default:
		http.Error(w, "endpoint not found", http.StatusNotFound)
	}
}

func (h *RoomHandlers) getRoom(w http.ResponseWriter, r *http.Request, roomID string) {
	lookup, err := h.presence.Room(r.Context(), roomID)
	if err != nil {
		logger.Error("Get room error: %v", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	if lookup.Status == database.RoomMissing {
		http.Error(w, "room not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, lookup.Room)
}

func (h *RoomHandlers) getUsers(w http.ResponseWriter, r *http.Request, roomID string) {
	users, err := h.presence.Presence(r.Context(), roomID)
	if err != nil {
		logger.Error("Get room users error: %v", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"room_id": roomID,
		"users":   users,
		"count":   len(users),
	})
}

func (h *RoomHandlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"rooms":       h.registry.RoomCount(),
		"connections": h.registry.ConnectionCount(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
