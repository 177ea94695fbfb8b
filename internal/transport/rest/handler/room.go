package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"roomsync/internal/service"
)

// RoomHandler handles room endpoints
type RoomHandler struct {
	roomSvc *service.RoomService
}

// NewRoomHandler creates a new room handler
func NewRoomHandler(roomSvc *service.RoomService) *RoomHandler {
	return &RoomHandler{roomSvc: roomSvc}
}

// CreateRoomRequest is the request body for creating a room
type CreateRoomRequest struct {
	HostName   string `json:"hostName"`
	MaxPlayers int    `json:"maxPlayers"`
	AIBotCount int    `json:"aiBotCount"`
	Name       string `json:"name,omitempty"`
}

// Create handles POST /v1/rooms
func (h *RoomHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.HostName == "" {
		writeError(w, http.StatusBadRequest, "hostName is required")
		return
	}

	result, err := h.roomSvc.CreateRoom(r.Context(), req.HostName, req.MaxPlayers, req.AIBotCount, req.Name)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

// JoinRequest is the request body for joining a room
type JoinRequest struct {
	DisplayName string `json:"displayName"`
}

// Join handles POST /v1/rooms/{code}/join
func (h *RoomHandler) Join(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]

	var req JoinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.DisplayName == "" {
		writeError(w, http.StatusBadRequest, "displayName is required")
		return
	}

	result, err := h.roomSvc.JoinRoom(r.Context(), code, req.DisplayName)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// LeaveRequest is the request body for leaving a room
type LeaveRequest struct {
	DisplayName string `json:"displayName"`
	UserID      string `json:"userId"`
}

// Leave handles POST /v1/rooms/{code}/leave
func (h *RoomHandler) Leave(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]

	var req LeaveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.roomSvc.LeaveRoom(r.Context(), code, req.DisplayName, req.UserID); err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "left"})
}

// DisconnectRequest is the request body for the page-lifecycle beacon
type DisconnectRequest struct {
	DisplayName string `json:"displayName"`
	UserID      string `json:"userId"`
}

// Disconnect handles POST /v1/rooms/{code}/disconnect. It backs browser
// page-lifecycle beacons, so it always answers 204; the cleanup itself is
// best effort and the staleness sweep remains the correctness mechanism.
func (h *RoomHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]

	var req DisconnectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	h.roomSvc.DisconnectAndRemovePlayer(code, req.DisplayName, req.UserID)
	w.WriteHeader(http.StatusNoContent)
}

// List handles GET /v1/rooms
func (h *RoomHandler) List(w http.ResponseWriter, r *http.Request) {
	window := 30 * time.Minute
	if q := r.URL.Query().Get("window"); q != "" {
		if d, err := time.ParseDuration(q); err == nil && d > 0 {
			window = d
		}
	}

	rooms, err := h.roomSvc.ListOpenRooms(r.Context(), window)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"rooms": rooms})
}
