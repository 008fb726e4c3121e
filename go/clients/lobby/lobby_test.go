package lobby

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/websocket"
)

func TestReserveAndConnect(t *testing.T) {
	t.Parallel()
	upgrader := websocket.Upgrader{}
	reserved := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/lobby/new":
			if reserved {
				http.Error(w, "Lobby already in play", http.StatusConflict)
				return
			}
			reserved = true
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte("key-1"))
		case "/lobby/connect/streamer":
			q := r.URL.Query()
			if q.Get("user") != "555" {
				http.NotFound(w, r)
				return
			}
			if q.Get("key") != "key-1" {
				http.Error(w, "Wrong key!", http.StatusForbidden)
				return
			}
			conn, err := upgrader.Upgrade(w, r, nil)
			if err != nil {
				return
			}
			conn.WriteMessage(websocket.TextMessage, []byte("welcome"))
			conn.Close()
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	ctx := context.Background()

	key, err := c.Reserve(ctx, "555")
	if err != nil || key != "key-1" {
		t.Fatalf("reserve: %q, %v", key, err)
	}
	if _, err := c.Reserve(ctx, "555"); !errors.Is(err, ErrLobbyTaken) {
		t.Fatalf("expected ErrLobbyTaken, got %v", err)
	}

	if _, err := c.Connect(ctx, "555", "wrong"); !errors.Is(err, ErrWrongKey) {
		t.Fatalf("expected ErrWrongKey, got %v", err)
	}
	if _, err := c.Connect(ctx, "666", key); !errors.Is(err, ErrLobbyNotFound) {
		t.Fatalf("expected ErrLobbyNotFound, got %v", err)
	}

	conn, err := c.Connect(ctx, "555", key)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer conn.Close()
	_, msg, err := conn.ReadMessage()
	if err != nil || string(msg) != "welcome" {
		t.Fatalf("read: %q, %v", msg, err)
	}
}
