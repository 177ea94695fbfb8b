package model

import "github.com/golang-jwt/jwt/v5"

// PlayerClaims are the JWT claims for a room-scoped player session token
type PlayerClaims struct {
	RoomCode string `json:"roomCode"`
	UserID   string `json:"userId"`
	jwt.RegisteredClaims
}
