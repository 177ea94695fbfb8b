package service

import "errors"

var (
	// ErrRoomNotFound means no room exists at the requested code.
	ErrRoomNotFound = errors.New("room not found")
	// ErrRoomFull rejects a new join against a room at capacity.
	ErrRoomFull = errors.New("room full")
	// ErrGameStarted rejects a new player once the game is running.
	ErrGameStarted = errors.New("game already started")
	// ErrRoomClosed rejects joins against a closed or stale room.
	ErrRoomClosed = errors.New("room is closed")
	// ErrAccessRequired means the access gate denied the operation before
	// the store was touched.
	ErrAccessRequired = errors.New("access required")
	// ErrInvalidToken covers malformed or expired session tokens.
	ErrInvalidToken = errors.New("invalid or expired token")
)
