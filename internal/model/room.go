package model

import "time"

type RoomStatus string

const (
	RoomWaiting RoomStatus = "waiting"
	RoomStarted RoomStatus = "started"
	RoomStale   RoomStatus = "stale"
	RoomClosed  RoomStatus = "closed"
)

// TokenCount is the number of board token assets available to players.
// TokenIndex is always in [0, TokenCount).
const TokenCount = 9

// Room is the shared multiplayer session record held in the document store.
// Players is ordered: insertion order is join order.
type Room struct {
	Code         string     `json:"code" bson:"code"`
	Name         string     `json:"name" bson:"name"`
	Status       RoomStatus `json:"status" bson:"status"`
	MaxPlayers   int        `json:"maxPlayers" bson:"maxPlayers"`
	MinPlayers   int        `json:"minPlayers" bson:"minPlayers"`
	AIBotCount   int        `json:"aiBotCount" bson:"aiBotCount"`
	HostUserID   string     `json:"hostUserId" bson:"hostUserId"`
	CreatedAt    time.Time  `json:"createdAt" bson:"createdAt"`
	LastActivity time.Time  `json:"lastActivity" bson:"lastActivity"`
	Players      []Player   `json:"players" bson:"players"`
}

// Player represents a participant in a room
type Player struct {
	UserID      string    `json:"userId" bson:"userId"`
	DisplayName string    `json:"displayName" bson:"displayName"`
	IsHost      bool      `json:"isHost" bson:"isHost"`
	IsAI        bool      `json:"isAI" bson:"isAI"`
	TokenIndex  int       `json:"tokenIndex" bson:"tokenIndex"`
	JoinedAt    time.Time `json:"joinedAt" bson:"joinedAt"`
}

// Valid reports whether the player entry carries enough identity to count
// toward a usable snapshot.
func (p *Player) Valid() bool {
	return p.UserID != "" && p.DisplayName != ""
}

// FindPlayer returns the index of the player with the given userId, or -1.
func (r *Room) FindPlayer(userID string) int {
	for i := range r.Players {
		if r.Players[i].UserID == userID {
			return i
		}
	}
	return -1
}

// ValidPlayerCount counts players with both a userId and a displayName.
func (r *Room) ValidPlayerCount() int {
	n := 0
	for i := range r.Players {
		if r.Players[i].Valid() {
			n++
		}
	}
	return n
}

// HumanCount counts non-AI players.
func (r *Room) HumanCount() int {
	n := 0
	for i := range r.Players {
		if !r.Players[i].IsAI {
			n++
		}
	}
	return n
}

// RoomMeta is the slim room record cached in Redis for fast existence
// probes and open-room listings.
type RoomMeta struct {
	Code         string     `json:"code"`
	Name         string     `json:"name"`
	Status       RoomStatus `json:"status"`
	HostUserID   string     `json:"hostUserId"`
	MaxPlayers   int        `json:"maxPlayers"`
	PlayerCount  int        `json:"playerCount"`
	CreatedAt    time.Time  `json:"createdAt"`
	LastActivity time.Time  `json:"lastActivity"`
}

// CreateRoomResult is returned by RoomService.CreateRoom
type CreateRoomResult struct {
	RoomCode   string `json:"roomCode"`
	HostUserID string `json:"hostUserId"`
}

// JoinRoomResult is returned by RoomService.JoinRoom
type JoinRoomResult struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	NameChanged bool   `json:"nameChanged"`
	Token       string `json:"token"`
}
