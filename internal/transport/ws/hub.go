package ws

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"roomsync/internal/model"
)

// MessageType defines the type of WebSocket message
type MessageType string

const (
	MsgRoomState      MessageType = "room_state"
	MsgConnectionLost MessageType = "connection_lost"
)

// Message is the WebSocket envelope format
type Message struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// RoomSubscriber is the engine surface the hub consumes (avoids an import
// cycle with the service package).
type RoomSubscriber interface {
	SubscribeRoom(roomCode string, onRoom func(*model.Room), onFatal func(error)) func()
}

// Connection represents a WebSocket connection
type Connection struct {
	RoomCode string
	UserID   string
	Send     chan []byte
	Hub      *Hub
}

type roomMessage struct {
	roomCode string
	message  *Message
	fatal    bool
}

// Hub fans engine room snapshots out to WebSocket clients. The first
// client of a room opens the single engine subscription for that room;
// the last client leaving closes it.
type Hub struct {
	engine RoomSubscriber
	log    *zap.Logger

	mu      sync.RWMutex
	conns   map[string]map[*Connection]bool
	streams map[string]func()

	register   chan *Connection
	unregister chan *Connection
	broadcast  chan *roomMessage
}

// NewHub creates a new WebSocket hub
func NewHub(engine RoomSubscriber, log *zap.Logger) *Hub {
	h := &Hub{
		engine:     engine,
		log:        log,
		conns:      make(map[string]map[*Connection]bool),
		streams:    make(map[string]func()),
		register:   make(chan *Connection),
		unregister: make(chan *Connection),
		broadcast:  make(chan *roomMessage, 256),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case conn := <-h.register:
			h.mu.Lock()
			if h.conns[conn.RoomCode] == nil {
				h.conns[conn.RoomCode] = make(map[*Connection]bool)
			}
			h.conns[conn.RoomCode][conn] = true
			first := len(h.conns[conn.RoomCode]) == 1
			h.mu.Unlock()

			h.log.Info("client connected",
				zap.String("room", conn.RoomCode),
				zap.String("user", conn.UserID))
			if first {
				h.openStream(conn.RoomCode)
			}

		case conn := <-h.unregister:
			h.mu.Lock()
			var last bool
			if conns, ok := h.conns[conn.RoomCode]; ok && conns[conn] {
				delete(conns, conn)
				close(conn.Send)
				if len(conns) == 0 {
					delete(h.conns, conn.RoomCode)
					last = true
				}
			}
			var stop func()
			if last {
				stop = h.streams[conn.RoomCode]
				delete(h.streams, conn.RoomCode)
			}
			h.mu.Unlock()

			if stop != nil {
				stop()
			}
			h.log.Info("client disconnected",
				zap.String("room", conn.RoomCode),
				zap.String("user", conn.UserID))

		case msg := <-h.broadcast:
			data, _ := json.Marshal(msg.message)

			h.mu.RLock()
			for conn := range h.conns[msg.roomCode] {
				select {
				case conn.Send <- data:
				default:
					// Drop message if buffer full
				}
			}
			h.mu.RUnlock()

			if msg.fatal {
				h.closeRoom(msg.roomCode)
			}
		}
	}
}

func (h *Hub) openStream(roomCode string) {
	stop := h.engine.SubscribeRoom(roomCode,
		func(room *model.Room) {
			payload, _ := json.Marshal(room)
			h.broadcast <- &roomMessage{
				roomCode: roomCode,
				message:  &Message{Type: MsgRoomState, Payload: payload},
			}
		},
		func(err error) {
			payload, _ := json.Marshal(map[string]string{"message": err.Error()})
			h.broadcast <- &roomMessage{
				roomCode: roomCode,
				message:  &Message{Type: MsgConnectionLost, Payload: payload},
				fatal:    true,
			}
		})

	h.mu.Lock()
	h.streams[roomCode] = stop
	h.mu.Unlock()
}

// closeRoom drops every client of a room after a fatal engine error. The
// clients are expected to refresh and reconnect.
func (h *Hub) closeRoom(roomCode string) {
	h.mu.Lock()
	conns := h.conns[roomCode]
	delete(h.conns, roomCode)
	stop := h.streams[roomCode]
	delete(h.streams, roomCode)
	h.mu.Unlock()

	if stop != nil {
		stop()
	}
	for conn := range conns {
		close(conn.Send)
	}
	h.log.Warn("room stream failed, clients dropped",
		zap.String("room", roomCode),
		zap.Int("clients", len(conns)))
}

// Register adds a connection
func (h *Hub) Register(conn *Connection) {
	h.register <- conn
}

// Unregister removes a connection
func (h *Hub) Unregister(conn *Connection) {
	h.unregister <- conn
}
