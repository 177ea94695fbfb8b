package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"roomsync/internal/service"
)

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeServiceError maps sentinel service errors onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrRoomNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrRoomFull), errors.Is(err, service.ErrGameStarted):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrRoomClosed):
		writeError(w, http.StatusGone, err.Error())
	case errors.Is(err, service.ErrAccessRequired):
		writeError(w, http.StatusPaymentRequired, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
