// Package viewer is the spectator side of the overlay: a connection to the
// relay that keeps a local view of the panels current, and the drag state
// machine that turns pointer input into move proposals.
package viewer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/chatplays/go/internal/models"
	"github.com/mcdev12/chatplays/go/internal/protocol"
	"github.com/rs/zerolog/log"
)

var ErrNotOpen = errors.New("viewer connection is not open")

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "disconnected"
	}
}

type Config struct {
	RelayURL       string
	Lobby          string
	Token          string
	ReconnectDelay time.Duration
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	SendBuffer     int
}

func DefaultConfig() Config {
	return Config{
		ReconnectDelay: 10 * time.Second,
		PingInterval:   10 * time.Second,
		WriteTimeout:   10 * time.Second,
		SendBuffer:     16,
	}
}

// Session keeps one viewer connected to its lobby, reconnecting forever.
type Session struct {
	cfg   Config
	clock clockwork.Clock
	view  *ViewState

	mu    sync.Mutex
	state State
	out   chan []byte
}

func NewSession(cfg Config, clock clockwork.Clock) *Session {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Session{cfg: cfg, clock: clock, view: NewViewState()}
}

func (s *Session) View() *ViewState {
	return s.view
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	prev := s.state
	s.state = st
	s.mu.Unlock()
	if prev != st {
		log.Debug().Str("from", prev.String()).Str("to", st.String()).Msg("viewer state changed")
	}
}

// Propose sends a move proposal if the connection is open.
func (s *Session) Propose(p models.MoveProposal) error {
	msg, err := protocol.EncodeProposal(p)
	if err != nil {
		return err
	}
	return s.enqueue(msg)
}

func (s *Session) enqueue(msg []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateOpen || s.out == nil {
		return ErrNotOpen
	}
	select {
	case s.out <- msg:
		return nil
	default:
		return fmt.Errorf("viewer send queue full")
	}
}

func (s *Session) lobbyURL() (string, error) {
	u, err := url.Parse(s.cfg.RelayURL)
	if err != nil {
		return "", fmt.Errorf("parse relay url: %w", err)
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/lobby/connect"
	u.RawQuery = url.Values{"user": {s.cfg.Lobby}}.Encode()
	return u.String(), nil
}

// Run connects and reconnects until ctx ends.
func (s *Session) Run(ctx context.Context) error {
	target, err := s.lobbyURL()
	if err != nil {
		return err
	}
	for {
		s.setState(StateConnecting)
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
		if err == nil {
			err = s.serve(ctx, conn)
			s.setState(StateClosed)
		}
		if ctx.Err() != nil {
			s.setState(StateDisconnected)
			return ctx.Err()
		}
		s.setState(StateDisconnected)
		log.Info().Err(err).Dur("retry_in", s.cfg.ReconnectDelay).Msg("viewer disconnected, reconnecting")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.clock.After(s.cfg.ReconnectDelay):
		}
	}
}

func (s *Session) serve(ctx context.Context, conn *websocket.Conn) error {
	defer conn.Close()

	out := make(chan []byte, s.cfg.SendBuffer)
	s.mu.Lock()
	s.out = out
	s.state = StateOpen
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.out = nil
		s.mu.Unlock()
	}()
	log.Debug().Str("lobby", s.cfg.Lobby).Msg("viewer connected")

	write := func(msg []byte) error {
		conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
		return conn.WriteMessage(websocket.TextMessage, msg)
	}

	if s.cfg.Token != "" {
		hello, err := json.Marshal(map[string]string{"jwt": s.cfg.Token})
		if err != nil {
			return err
		}
		if err := write(hello); err != nil {
			return err
		}
	}
	if err := write(protocol.EncodeHello()); err != nil {
		return err
	}

	readErr := make(chan error, 1)
	go func() {
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			b, err := protocol.DecodeBroadcast(raw)
			if err != nil {
				log.Warn().Err(err).Msg("dropping malformed broadcast")
				continue
			}
			s.view.Apply(b)
		}
	}()

	ping := s.clock.NewTicker(s.cfg.PingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return ctx.Err()
		case err := <-readErr:
			return err
		case <-ping.Chan():
			if err := write([]byte(protocol.PingText)); err != nil {
				return err
			}
		case msg := <-out:
			if err := write(msg); err != nil {
				return err
			}
		}
	}
}
