package viewer

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/chatplays/go/internal/models"
	"github.com/mcdev12/chatplays/go/internal/protocol"
)

// fakeLobby accepts viewer sockets and hands each one to the test.
type fakeLobby struct {
	conns chan *websocket.Conn
}

func newFakeLobby(t *testing.T) (*fakeLobby, *httptest.Server) {
	t.Helper()
	f := &fakeLobby{conns: make(chan *websocket.Conn, 4)}
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/lobby/connect" || r.URL.Query().Get("user") != "555" {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		f.conns <- conn
	}))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeLobby) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-f.conns:
		t.Cleanup(func() { conn.Close() })
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("viewer never connected")
		return nil
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return string(msg)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func startSession(t *testing.T, cfg Config, clock clockwork.Clock) *Session {
	t.Helper()
	s := NewSession(cfg, clock)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return s
}

func TestSessionHandshakeAndBroadcasts(t *testing.T) {
	t.Parallel()
	lobby, srv := newFakeLobby(t)
	clock := clockwork.NewFakeClock()

	cfg := DefaultConfig()
	cfg.RelayURL = srv.URL
	cfg.Lobby = "555"
	cfg.Token = "signed.token.here"
	s := startSession(t, cfg, clock)

	relay := lobby.accept(t)
	if got := readFrame(t, relay); got != `{"jwt":"signed.token.here"}` {
		t.Fatalf("first frame %q", got)
	}
	if got := readFrame(t, relay); got != string(protocol.EncodeHello()) {
		t.Fatalf("second frame %q", got)
	}
	waitFor(t, "open", func() bool { return s.State() == StateOpen })

	canvas, _ := protocol.EncodeCanvas(models.Canvas{Width: 1920, Height: 1080})
	relay.WriteMessage(websocket.TextMessage, canvas)
	waitFor(t, "canvas", func() bool { return s.View().Canvas().Width == 1920 })

	if err := s.Propose(models.MoveProposal{SourceID: 4, X: 0.25, Y: 0.75}); err != nil {
		t.Fatalf("propose: %v", err)
	}
	if got := readFrame(t, relay); got != `{"name":"4","x":0.25,"y":0.75}` {
		t.Fatalf("proposal frame %q", got)
	}

	clock.BlockUntil(1)
	clock.Advance(cfg.PingInterval)
	if got := readFrame(t, relay); got != protocol.PingText {
		t.Fatalf("expected ping, got %q", got)
	}
}

func TestSessionReconnects(t *testing.T) {
	t.Parallel()
	lobby, srv := newFakeLobby(t)
	clock := clockwork.NewFakeClock()

	cfg := DefaultConfig()
	cfg.RelayURL = srv.URL
	cfg.Lobby = "555"
	s := startSession(t, cfg, clock)

	first := lobby.accept(t)
	readFrame(t, first)
	first.Close()

	waitFor(t, "disconnect", func() bool { return s.State() == StateDisconnected })
	if err := s.Propose(models.MoveProposal{SourceID: 1}); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("expected ErrNotOpen, got %v", err)
	}

	clock.BlockUntil(1)
	clock.Advance(cfg.ReconnectDelay)

	second := lobby.accept(t)
	if got := readFrame(t, second); got != string(protocol.EncodeHello()) {
		t.Fatalf("hello after reconnect: %q", got)
	}
}
