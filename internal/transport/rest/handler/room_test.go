package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"roomsync/internal/engine"
	"roomsync/internal/model"
	"roomsync/internal/service"
	"roomsync/internal/store"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	ms := store.NewMemStore()
	log := zap.NewNop()
	clk := clock.New()
	subs := engine.NewSubscriber(ms, clk, log, engine.Config{})
	svc := service.NewRoomService(ms, nil, service.AllowAll{}, service.NewAuthService(), subs, clk, log, service.Options{
		Policy: service.WaitForAck,
	})

	h := NewRoomHandler(svc)
	r := mux.NewRouter()
	r.HandleFunc("/v1/rooms", h.Create).Methods("POST")
	r.HandleFunc("/v1/rooms", h.List).Methods("GET")
	r.HandleFunc("/v1/rooms/{code}/join", h.Join).Methods("POST")
	r.HandleFunc("/v1/rooms/{code}/leave", h.Leave).Methods("POST")
	r.HandleFunc("/v1/rooms/{code}/disconnect", h.Disconnect).Methods("POST")
	return r
}

func doJSON(t *testing.T, router http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(method, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestCreateAndJoinRoomOverHTTP(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/v1/rooms", CreateRoomRequest{
		HostName:   "Ada",
		MaxPlayers: 4,
		Name:       "My Room!",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created model.CreateRoomResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "MY_ROOM", created.RoomCode)
	assert.NotEmpty(t, created.HostUserID)

	rec = doJSON(t, router, http.MethodPost, "/v1/rooms/MY_ROOM/join", JoinRequest{DisplayName: "Bea"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var joined model.JoinRoomResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &joined))
	assert.NotEmpty(t, joined.UserID)
	assert.NotEmpty(t, joined.Token)
	assert.False(t, joined.NameChanged)
}

func TestJoinMissingRoomMapsTo404(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/v1/rooms/NOPE/join", JoinRequest{DisplayName: "Bea"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFullRoomMapsTo409(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/v1/rooms", CreateRoomRequest{
		HostName:   "Ada",
		MaxPlayers: 2,
		Name:       "DUO",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/v1/rooms/DUO/join", JoinRequest{DisplayName: "Bea"})
	require.Equal(t, http.StatusOK, rec.Code)

	// Room is full and auto-started; a third, unknown player is rejected.
	rec = doJSON(t, router, http.MethodPost, "/v1/rooms/DUO/join", JoinRequest{DisplayName: "Zed"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestDisconnectBeaconRemovesPlayer(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/v1/rooms", CreateRoomRequest{
		HostName:   "Ada",
		MaxPlayers: 4,
		Name:       "GAME",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/v1/rooms/GAME/join", JoinRequest{DisplayName: "Bea"})
	require.Equal(t, http.StatusOK, rec.Code)
	var joined model.JoinRoomResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &joined))

	rec = doJSON(t, router, http.MethodPost, "/v1/rooms/GAME/disconnect", DisconnectRequest{
		DisplayName: "Bea",
		UserID:      joined.UserID,
	})
	require.Equal(t, http.StatusNoContent, rec.Code)

	// The name is free again: a rejoin gets it back without a suffix.
	rec = doJSON(t, router, http.MethodPost, "/v1/rooms/GAME/join", JoinRequest{DisplayName: "Bea"})
	require.Equal(t, http.StatusOK, rec.Code)
	var rejoined model.JoinRoomResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rejoined))
	assert.Equal(t, "Bea", rejoined.DisplayName)
	assert.False(t, rejoined.NameChanged)
	assert.NotEqual(t, joined.UserID, rejoined.UserID)
}

func TestListOpenRooms(t *testing.T) {
	router := newTestRouter(t)

	for i := 0; i < 3; i++ {
		rec := doJSON(t, router, http.MethodPost, "/v1/rooms", CreateRoomRequest{
			HostName:   "Ada",
			MaxPlayers: 4,
			Name:       fmt.Sprintf("ROOM %d", i),
		})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/rooms?window=10m", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Rooms []model.Room `json:"rooms"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Rooms, 3)
}
