package engine

import (
	"sort"
	"strconv"
	"time"

	"roomsync/internal/model"
	"roomsync/internal/store"
)

// DecodeRoom converts a raw store document into a Room. It is the single
// place that tolerates the store's malformed shapes: a "players" field
// that arrives as a keyed map instead of an ordered list is rebuilt by
// sorting its keys numerically. repaired reports whether that rebuild
// happened. DecodeRoom never fails; unusable fields decode to zero values.
func DecodeRoom(doc store.Document) (*model.Room, bool) {
	room := &model.Room{
		Code:         docString(doc, "code"),
		Name:         docString(doc, "name"),
		Status:       model.RoomStatus(docString(doc, "status")),
		MaxPlayers:   docInt(doc, "maxPlayers"),
		MinPlayers:   docInt(doc, "minPlayers"),
		AIBotCount:   docInt(doc, "aiBotCount"),
		HostUserID:   docString(doc, "hostUserId"),
		CreatedAt:    docTime(doc, "createdAt"),
		LastActivity: docTime(doc, "lastActivity"),
	}

	raw, repaired := playerEntries(doc["players"])
	for _, entry := range raw {
		fields, ok := asDocument(entry)
		if !ok {
			continue
		}
		room.Players = append(room.Players, model.Player{
			UserID:      docString(fields, "userId"),
			DisplayName: docString(fields, "displayName"),
			IsHost:      docBool(fields, "isHost"),
			IsAI:        docBool(fields, "isAI"),
			TokenIndex:  docInt(fields, "tokenIndex"),
			JoinedAt:    docTime(fields, "joinedAt"),
		})
	}
	return room, repaired
}

// EncodeRoom converts a Room into the document shape written to the
// store. Timestamps are stored as unix milliseconds.
func EncodeRoom(room *model.Room) store.Document {
	return store.Document{
		"code":         room.Code,
		"name":         room.Name,
		"status":       string(room.Status),
		"maxPlayers":   room.MaxPlayers,
		"minPlayers":   room.MinPlayers,
		"aiBotCount":   room.AIBotCount,
		"hostUserId":   room.HostUserID,
		"createdAt":    room.CreatedAt.UnixMilli(),
		"lastActivity": room.LastActivity.UnixMilli(),
		"players":      EncodePlayers(room.Players),
	}
}

// EncodePlayers converts a player list into its document shape, for use
// in partial updates of the "players" field.
func EncodePlayers(players []model.Player) []interface{} {
	out := make([]interface{}, 0, len(players))
	for i := range players {
		p := &players[i]
		out = append(out, map[string]interface{}{
			"userId":      p.UserID,
			"displayName": p.DisplayName,
			"isHost":      p.IsHost,
			"isAI":        p.IsAI,
			"tokenIndex":  p.TokenIndex,
			"joinedAt":    p.JoinedAt.UnixMilli(),
		})
	}
	return out
}

// playerEntries returns the player entries in order. A keyed map whose
// keys all parse as non-negative integers is projected in numeric key
// order and flagged as repaired. Any other shape yields no entries.
func playerEntries(raw interface{}) ([]interface{}, bool) {
	switch v := raw.(type) {
	case []interface{}:
		return v, false
	case map[string]interface{}:
		return projectKeyedPlayers(store.Document(v))
	case store.Document:
		return projectKeyedPlayers(v)
	}
	return nil, false
}

func projectKeyedPlayers(m store.Document) ([]interface{}, bool) {
	keys := make([]int, 0, len(m))
	byIndex := make(map[int]interface{}, len(m))
	for k, v := range m {
		n, err := strconv.Atoi(k)
		if err != nil || n < 0 {
			return nil, false
		}
		keys = append(keys, n)
		byIndex[n] = v
	}
	sort.Ints(keys)

	out := make([]interface{}, 0, len(keys))
	for _, k := range keys {
		out = append(out, byIndex[k])
	}
	return out, len(out) > 0
}

func asDocument(v interface{}) (store.Document, bool) {
	switch m := v.(type) {
	case store.Document:
		return m, true
	case map[string]interface{}:
		return store.Document(m), true
	}
	return nil, false
}

func docString(doc store.Document, key string) string {
	s, _ := doc[key].(string)
	return s
}

func docBool(doc store.Document, key string) bool {
	b, _ := doc[key].(bool)
	return b
}

func docInt(doc store.Document, key string) int {
	switch n := doc[key].(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

func docTime(doc store.Document, key string) time.Time {
	switch v := doc[key].(type) {
	case time.Time:
		return v
	case int64:
		return time.UnixMilli(v)
	case float64:
		return time.UnixMilli(int64(v))
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		if err == nil {
			return t
		}
	}
	return time.Time{}
}
