package engine

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"roomsync/internal/store"
)

func playerDoc(userID, name string, token int) map[string]interface{} {
	return map[string]interface{}{
		"userId":      userID,
		"displayName": name,
		"tokenIndex":  token,
	}
}

func roomDoc(players interface{}) store.Document {
	return store.Document{
		"code":       "TEST",
		"status":     "waiting",
		"maxPlayers": 4,
		"players":    players,
	}
}

func TestDecodeRoomRepairsKeyedPlayers(t *testing.T) {
	doc := roomDoc(map[string]interface{}{
		"1": playerDoc("u_b", "Bea", 1),
		"0": playerDoc("u_a", "Ada", 0),
		"2": playerDoc("u_c", "Cy", 2),
	})

	room, repaired := DecodeRoom(doc)
	require.True(t, repaired)
	require.Len(t, room.Players, 3)
	assert.Equal(t, "u_a", room.Players[0].UserID)
	assert.Equal(t, "u_b", room.Players[1].UserID)
	assert.Equal(t, "u_c", room.Players[2].UserID)
}

func TestDecodeRoomOrderedListNotRepaired(t *testing.T) {
	doc := roomDoc([]interface{}{
		playerDoc("u_a", "Ada", 0),
		playerDoc("u_b", "Bea", 1),
	})

	room, repaired := DecodeRoom(doc)
	assert.False(t, repaired)
	require.Len(t, room.Players, 2)
	assert.Equal(t, "Ada", room.Players[0].DisplayName)
}

func TestDecodeRoomRejectsNonNumericKeys(t *testing.T) {
	doc := roomDoc(map[string]interface{}{
		"0":   playerDoc("u_a", "Ada", 0),
		"bad": playerDoc("u_b", "Bea", 1),
	})

	room, repaired := DecodeRoom(doc)
	assert.False(t, repaired)
	assert.Empty(t, room.Players)
}

func TestNormalizeNoStateYet(t *testing.T) {
	n := NewNormalizer(0, clock.NewMock(), zap.NewNop())

	room, repaired, ok := n.Normalize(store.Document{})
	assert.Nil(t, room)
	assert.False(t, repaired)
	assert.False(t, ok)
}

func TestNormalizeStabilizesFlickerInsideWindow(t *testing.T) {
	mock := clock.NewMock()
	n := NewNormalizer(400*time.Millisecond, mock, zap.NewNop())

	valid := roomDoc([]interface{}{
		playerDoc("u_a", "Ada", 0),
		playerDoc("u_b", "Bea", 1),
	})
	room, _, ok := n.Normalize(valid)
	require.True(t, ok)
	require.Len(t, room.Players, 2)

	mock.Add(100 * time.Millisecond)
	room, _, ok = n.Normalize(roomDoc([]interface{}{}))
	require.True(t, ok)
	require.Len(t, room.Players, 2, "empty snapshot inside the window keeps the last valid list")
	assert.Equal(t, "u_a", room.Players[0].UserID)
}

func TestNormalizePropagatesEmptyAfterWindow(t *testing.T) {
	mock := clock.NewMock()
	n := NewNormalizer(400*time.Millisecond, mock, zap.NewNop())

	valid := roomDoc([]interface{}{
		playerDoc("u_a", "Ada", 0),
		playerDoc("u_b", "Bea", 1),
	})
	_, _, ok := n.Normalize(valid)
	require.True(t, ok)

	mock.Add(500 * time.Millisecond)
	room, _, ok := n.Normalize(roomDoc([]interface{}{}))
	require.True(t, ok)
	assert.Empty(t, room.Players, "window expired, the sparse list is the truth")
}

func TestNormalizeSingleValidPlayerPassesThrough(t *testing.T) {
	mock := clock.NewMock()
	n := NewNormalizer(400*time.Millisecond, mock, zap.NewNop())

	room, _, ok := n.Normalize(roomDoc([]interface{}{
		playerDoc("u_a", "Ada", 0),
	}))
	require.True(t, ok)
	assert.Len(t, room.Players, 1, "no previous valid state to stabilize against")
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	doc := roomDoc([]interface{}{playerDoc("u_a", "Ada", 3)})
	doc["hostUserId"] = "u_a"
	doc["lastActivity"] = int64(1700000000000)

	room, _ := DecodeRoom(doc)
	assert.Equal(t, "TEST", room.Code)
	assert.Equal(t, "u_a", room.HostUserID)
	assert.Equal(t, time.UnixMilli(1700000000000), room.LastActivity)
	assert.Equal(t, 3, room.Players[0].TokenIndex)

	back := EncodeRoom(room)
	assert.Equal(t, "TEST", back["code"])
	assert.Equal(t, int64(1700000000000), back["lastActivity"])
}
