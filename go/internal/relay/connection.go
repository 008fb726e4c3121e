package relay

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

type role int

const (
	roleController role = iota
	roleViewer
)

func (r role) String() string {
	if r == roleController {
		return "controller"
	}
	return "viewer"
}

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	ReadLimit       int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBuffer      int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		ReadLimit:       64 * 1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBuffer:      256,
		CheckOrigin: func(r *http.Request) bool {
			// Viewers are embedded in third-party pages.
			return true
		},
	}
}

// Connection is one side of a lobby: its controller or one of its viewers.
type Connection struct {
	ID          string
	Role        role
	Conn        *websocket.Conn
	Send        chan []byte
	ConnectedAt time.Time

	// userID is set once a viewer presents a valid token. Only the read
	// pump touches it.
	userID string

	lobby  *Lobby
	server *Server
	// closed is guarded by lobby.mu.
	closed bool
}

// writePump handles sending messages to the WebSocket connection
func (c *Connection) writePump() {
	cfg := c.server.cfg.Connection
	ticker := time.NewTicker(cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.server.unregister(c)
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Str("role", c.Role.String()).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
		}
	}
}

// readPump handles reading messages from the WebSocket connection
func (c *Connection) readPump() {
	cfg := c.server.cfg.Connection
	defer func() {
		c.server.unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(cfg.ReadLimit)
	c.Conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Str("role", c.Role.String()).
					Msg("unexpected WebSocket close error")
			}
			return
		}
		c.Conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))

		switch c.Role {
		case roleController:
			c.server.broadcastToViewers(c.lobby, message)
		case roleViewer:
			if out, ok := c.server.processViewerMessage(c, message); ok {
				c.server.forwardToController(c.lobby, out)
			}
		}
	}
}
