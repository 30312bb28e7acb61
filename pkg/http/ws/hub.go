// Package ws fans game-state snapshots out to WebSocket spectators. Every
// client gets every frame; there is no per-client routing because the shared
// document is the same for everyone.
package ws

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 64
)

var (
	ErrConnectionClosed = errors.New("ws: connection is closed")
	ErrSendQueueFull    = errors.New("ws: send queue is full")
)

// Hub tracks connected spectators and broadcasts frames to all of them.
type Hub struct {
	mu      sync.RWMutex
	clients map[uuid.UUID]*Connection
	last    *Message
	logger  zerolog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[uuid.UUID]*Connection),
		logger:  logger.With().Str("component", "ws").Logger(),
	}
}

// Register adds a connection and immediately replays the most recent state
// frame so late joiners do not wait for the next store push.
func (h *Hub) Register(conn *Connection) uuid.UUID {
	id := uuid.New()
	h.mu.Lock()
	h.clients[id] = conn
	last := h.last
	h.mu.Unlock()

	if last != nil {
		_ = conn.Send(*last)
	}
	h.logger.Debug().Str("client_id", id.String()).Msg("spectator connected")
	return id
}

// Unregister removes and closes a connection.
func (h *Hub) Unregister(id uuid.UUID) {
	h.mu.Lock()
	conn, ok := h.clients[id]
	delete(h.clients, id)
	h.mu.Unlock()

	if ok {
		conn.Close()
		h.logger.Debug().Str("client_id", id.String()).Msg("spectator disconnected")
	}
}

// Broadcast sends a frame to every client. State frames are remembered for
// replay to late joiners. Slow clients that cannot keep up are dropped.
func (h *Hub) Broadcast(msg Message) {
	h.mu.Lock()
	if msg.Type == TypeState {
		h.last = &msg
	}
	targets := make(map[uuid.UUID]*Connection, len(h.clients))
	for id, c := range h.clients {
		targets[id] = c
	}
	h.mu.Unlock()

	for id, conn := range targets {
		if err := conn.Send(msg); err != nil {
			h.logger.Warn().Err(err).Str("client_id", id.String()).Msg("dropping slow spectator")
			h.Unregister(id)
		}
	}
}

// Count returns the number of connected spectators.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// CloseAll disconnects every client, used during shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[uuid.UUID]*Connection)
	h.mu.Unlock()

	for _, conn := range clients {
		conn.Close()
	}
}

// Connection wraps a websocket with a buffered send queue so one stalled
// reader cannot block the broadcast path.
type Connection struct {
	conn   *websocket.Conn
	sendCh chan Message
	mu     sync.Mutex
	closed bool
	logger zerolog.Logger
}

// NewConnection wraps an upgraded websocket.
func NewConnection(conn *websocket.Conn, logger zerolog.Logger) *Connection {
	return &Connection{
		conn:   conn,
		sendCh: make(chan Message, sendBuffer),
		logger: logger,
	}
}

// Send queues a frame for delivery without blocking.
func (c *Connection) Send(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrConnectionClosed
	}
	select {
	case c.sendCh <- msg:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Close shuts the connection down once.
func (c *Connection) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.sendCh)
	c.conn.Close()
}

// WritePump drains the send queue onto the wire and keeps the connection
// alive with periodic pings. Runs until the queue closes or a write fails.
func (c *Connection) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.sendCh:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				c.logger.Debug().Err(err).Msg("write error")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ReadPump consumes client frames. Spectators only send keepalives, so the
// pump answers pings and otherwise ignores input until the peer goes away.
func (c *Connection) ReadPump() {
	defer c.conn.Close()

	c.conn.SetReadLimit(1 << 12)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.logger.Debug().Err(err).Msg("read error")
			}
			return
		}
		if msg.Type == TypePing {
			_ = c.Send(Message{Type: TypePong})
		}
	}
}
