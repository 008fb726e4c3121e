// Package relay is the websocket fan-out between one controller and its
// viewers. It holds no overlay state of its own.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/chatplays/go/internal/protocol"
	"github.com/mcdev12/chatplays/go/internal/ratelimit"
	"github.com/rs/zerolog/log"
)

const lobbyTakenMessage = "Lobby already in play, please close existing game instance or wait for previous lobby to timeout"

type Config struct {
	Connection ConnectionConfig
	// TokenSecret verifies viewer tokens. When empty, viewers are anonymous
	// and nothing they send carries a requester id.
	TokenSecret []byte
	// MaxViewerMessage is the exclusive size limit of a viewer frame.
	MaxViewerMessage int
	// ViewerInterval is the minimum spacing of forwarded viewer messages.
	ViewerInterval   time.Duration
	ReservationTTL   time.Duration
	ControllerBuffer int
}

func DefaultConfig() Config {
	return Config{
		Connection:       DefaultConnectionConfig(),
		MaxViewerMessage: 1000,
		ViewerInterval:   100 * time.Millisecond,
		ReservationTTL:   time.Minute,
		ControllerBuffer: 100,
	}
}

type Server struct {
	cfg      Config
	registry *Registry
	limiter  ratelimit.Limiter
	upgrader websocket.Upgrader
	clock    clockwork.Clock
}

// NewServer builds a relay. A nil limiter uses an in-memory window of
// cfg.ViewerInterval; a shared limiter must use the same window.
func NewServer(cfg Config, limiter ratelimit.Limiter, clock clockwork.Clock) *Server {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if limiter == nil {
		limiter = ratelimit.NewInMemory(cfg.ViewerInterval, clock)
	}
	return &Server{
		cfg:      cfg,
		registry: NewRegistry(clock, cfg.ReservationTTL),
		limiter:  limiter,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.Connection.ReadBufferSize,
			WriteBufferSize: cfg.Connection.WriteBufferSize,
			CheckOrigin:     cfg.Connection.CheckOrigin,
		},
		clock: clock,
	}
}

// Run does the relay's background housekeeping until ctx ends. Today that is
// sweeping expired keys from an in-memory limiter.
func (s *Server) Run(ctx context.Context) {
	if l, ok := s.limiter.(interface{ Run(context.Context) }); ok {
		l.Run(ctx)
		return
	}
	<-ctx.Done()
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/lobby/new", s.handleNewLobby)
	mux.HandleFunc("/lobby/connect/streamer", s.handleControllerConnect)
	mux.HandleFunc("/lobby/connect", s.handleViewerConnect)
	mux.HandleFunc("/stats", s.handleStats)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte("I am online!"))
}

func (s *Server) handleNewLobby(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	user := r.URL.Query().Get("user")
	if user == "" {
		http.Error(w, "user is required", http.StatusBadRequest)
		return
	}

	key, err := s.registry.Reserve(user)
	if errors.Is(err, ErrLobbyTaken) {
		log.Warn().Str("lobby", user).Msg("lobby reservation refused, already in play")
		http.Error(w, lobbyTakenMessage, http.StatusConflict)
		return
	}
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	log.Info().Str("lobby", user).Msg("lobby reserved")
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusCreated)
	w.Write([]byte(key))
}

func (s *Server) handleControllerConnect(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("user")
	key := r.URL.Query().Get("key")
	if user == "" || key == "" {
		http.Error(w, "user and key are required", http.StatusBadRequest)
		return
	}

	conn := s.newConnection(roleController, s.cfg.ControllerBuffer)
	lobby, err := s.registry.Attach(user, key, conn)
	switch {
	case errors.Is(err, ErrLobbyNotFound):
		log.Warn().Str("lobby", user).Msg("controller tried to connect to unknown lobby")
		http.Error(w, "You dont have a lobby open", http.StatusNotFound)
		return
	case errors.Is(err, ErrWrongKey):
		log.Warn().Str("lobby", user).Msg("controller provided wrong key")
		http.Error(w, "Wrong key!", http.StatusForbidden)
		return
	case errors.Is(err, ErrLobbyTaken):
		log.Warn().Str("lobby", user).Msg("controller tried to connect but lobby is already live")
		http.Error(w, "You are already connected to this lobby", http.StatusConflict)
		return
	case err != nil:
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	conn.lobby = lobby

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Str("lobby", user).Msg("failed to upgrade controller connection")
		s.unregister(conn)
		return
	}
	conn.Conn = ws

	go conn.writePump()
	go conn.readPump()

	log.Info().
		Str("connection_id", conn.ID).
		Str("lobby", user).
		Msg("controller connected")
}

func (s *Server) handleViewerConnect(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("user")
	lobby, ok := s.registry.Live(user)
	if !ok {
		http.Error(w, "The game has not yet connected to this lobby", http.StatusNotFound)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Str("lobby", user).Msg("failed to upgrade viewer connection")
		return
	}

	conn := s.newConnection(roleViewer, s.cfg.Connection.SendBuffer)
	conn.Conn = ws
	conn.lobby = lobby

	lobby.mu.Lock()
	if lobby.controller == nil {
		lobby.mu.Unlock()
		ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "lobby closed"))
		ws.Close()
		return
	}
	lobby.viewers[conn] = struct{}{}
	count := len(lobby.viewers)
	lobby.mu.Unlock()

	go conn.writePump()
	go conn.readPump()

	log.Info().
		Str("connection_id", conn.ID).
		Str("lobby", user).
		Int("viewers", count).
		Msg("viewer connected")
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.GetStats())
}

// GetStats returns statistics about live lobbies.
func (s *Server) GetStats() map[string]interface{} {
	lobbies := s.registry.Snapshot()
	total := 0
	for _, n := range lobbies {
		total += n
	}
	return map[string]interface{}{
		"live_lobbies":  len(lobbies),
		"total_viewers": total,
		"lobbies":       lobbies,
	}
}

func (s *Server) newConnection(r role, buffer int) *Connection {
	return &Connection{
		ID:          uuid.NewString(),
		Role:        r,
		Send:        make(chan []byte, buffer),
		ConnectedAt: s.clock.Now(),
		server:      s,
	}
}

// unregister closes a connection's send queue once. Losing the controller
// closes the lobby and every viewer in it.
func (s *Server) unregister(c *Connection) {
	lobby := c.lobby
	if lobby == nil {
		return
	}

	lobby.mu.Lock()
	if c.closed {
		lobby.mu.Unlock()
		return
	}
	c.closed = true
	close(c.Send)

	var orphans []*Connection
	if c.Role == roleViewer {
		delete(lobby.viewers, c)
	} else if lobby.controller == c {
		lobby.controller = nil
		for v := range lobby.viewers {
			orphans = append(orphans, v)
		}
	}
	lobby.mu.Unlock()

	if c.Role == roleController {
		s.registry.Release(lobby)
		log.Info().Str("lobby", lobby.Identity).Int("viewers", len(orphans)).Msg("closing lobby")
		for _, v := range orphans {
			s.unregister(v)
		}
		return
	}

	if l, ok := s.limiter.(interface{ Forget(string) }); ok {
		l.Forget(c.ID)
	}
	log.Debug().Str("connection_id", c.ID).Str("lobby", lobby.Identity).Msg("viewer disconnected")
}

// broadcastToViewers fans a controller frame out. Viewers whose queue is
// full are disconnected rather than slowing everyone down.
func (s *Server) broadcastToViewers(lobby *Lobby, message []byte) {
	var slow []*Connection

	lobby.mu.RLock()
	for v := range lobby.viewers {
		if v.closed {
			continue
		}
		select {
		case v.Send <- message:
		default:
			slow = append(slow, v)
		}
	}
	lobby.mu.RUnlock()

	for _, v := range slow {
		log.Warn().
			Str("connection_id", v.ID).
			Str("lobby", lobby.Identity).
			Msg("viewer send buffer full, closing connection")
		s.unregister(v)
		v.Conn.Close()
	}
}

// forwardToController queues a viewer frame for the controller, dropping it
// when the controller is not keeping up.
func (s *Server) forwardToController(lobby *Lobby, message []byte) {
	lobby.mu.RLock()
	defer lobby.mu.RUnlock()
	ctrl := lobby.controller
	if ctrl == nil || ctrl.closed {
		return
	}
	select {
	case ctrl.Send <- message:
	default:
		log.Warn().Str("lobby", lobby.Identity).Msg("controller queue full, dropping viewer message")
	}
}

// processViewerMessage applies the relay's admission rules to one viewer
// frame and returns what should reach the controller.
func (s *Server) processViewerMessage(c *Connection, message []byte) ([]byte, bool) {
	if len(message) >= s.cfg.MaxViewerMessage {
		log.Warn().Str("connection_id", c.ID).Int("length", len(message)).Msg("viewer message too long")
		return nil, false
	}
	text := bytes.TrimSpace(message)
	if string(text) == protocol.PingText {
		return nil, false
	}

	if token, ok := extractToken(text); ok {
		if c.userID != "" || len(s.cfg.TokenSecret) == 0 {
			return nil, false
		}
		claims, err := VerifyViewerToken(token, s.cfg.TokenSecret, s.clock.Now())
		if err != nil {
			log.Info().Err(err).Str("connection_id", c.ID).Msg("viewer token refused")
			return nil, false
		}
		c.userID = claims.UserID
		log.Debug().Str("connection_id", c.ID).Str("user_id", c.userID).Msg("viewer authenticated")
		return nil, false
	}

	if len(s.cfg.TokenSecret) > 0 && c.userID == "" {
		// Unauthenticated viewers may still ask for the current state.
		if in, err := protocol.Parse(text); err != nil || in.Kind != protocol.KindHello {
			log.Debug().Str("connection_id", c.ID).Msg("dropping message from unauthenticated viewer")
			return nil, false
		}
	}

	if d := s.limiter.Allow(context.Background(), c.ID, 1); !d.Allowed {
		log.Debug().Str("connection_id", c.ID).Msg("viewer message rate limited")
		return nil, false
	}

	out, err := injectRequester(text, c.userID)
	if err != nil {
		log.Warn().Err(err).Str("connection_id", c.ID).Msg("dropping malformed viewer message")
		return nil, false
	}
	return out, true
}

func extractToken(text []byte) (string, bool) {
	if len(text) == 0 || text[0] != '{' || !bytes.Contains(text, []byte(`"jwt"`)) {
		return "", false
	}
	var msg struct {
		JWT *string `json:"jwt"`
	}
	if err := json.Unmarshal(text, &msg); err != nil || msg.JWT == nil {
		return "", false
	}
	return strings.TrimSpace(*msg.JWT), true
}

// injectRequester stamps the authenticated requester id onto an object
// frame. Any requester id the viewer supplied itself is removed.
func injectRequester(text []byte, userID string) ([]byte, error) {
	if len(text) == 0 || text[0] != '{' {
		return text, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(text, &fields); err != nil {
		return nil, err
	}
	delete(fields, protocol.RequesterField)
	if userID != "" {
		id, err := json.Marshal(userID)
		if err != nil {
			return nil, err
		}
		fields[protocol.RequesterField] = id
	}
	return json.Marshal(fields)
}
