package relay

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
)

var testSecret = []byte("extension-secret")

type relayFixture struct {
	server *Server
	http   *httptest.Server
	clock  *clockwork.FakeClock
}

func newRelayFixture(t *testing.T, secret []byte) *relayFixture {
	t.Helper()
	clock := clockwork.NewFakeClock()
	cfg := DefaultConfig()
	cfg.TokenSecret = secret
	srv := NewServer(cfg, nil, clock)
	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)
	hs := httptest.NewServer(mux)
	t.Cleanup(hs.Close)
	return &relayFixture{server: srv, http: hs, clock: clock}
}

func (f *relayFixture) reserve(t *testing.T, user string) (int, string) {
	t.Helper()
	resp, err := http.Post(f.http.URL+"/lobby/new?user="+user, "text/plain", nil)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, strings.TrimSpace(string(body))
}

func (f *relayFixture) dial(t *testing.T, path string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.http.URL, "http") + path
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if conn != nil {
		t.Cleanup(func() { conn.Close() })
	}
	return conn, resp, err
}

func (f *relayFixture) controller(t *testing.T, user string) *websocket.Conn {
	t.Helper()
	status, key := f.reserve(t, user)
	if status != http.StatusCreated {
		t.Fatalf("reserve status %d", status)
	}
	conn, _, err := f.dial(t, "/lobby/connect/streamer?user="+user+"&key="+key)
	if err != nil {
		t.Fatalf("controller dial: %v", err)
	}
	return conn
}

func readText(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return string(msg)
}

func send(t *testing.T, conn *websocket.Conn, msg string) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestNewLobbyConflict(t *testing.T) {
	t.Parallel()
	f := newRelayFixture(t, nil)

	status, key := f.reserve(t, "streamer")
	if status != http.StatusCreated || key == "" {
		t.Fatalf("first reservation: %d %q", status, key)
	}
	status, body := f.reserve(t, "streamer")
	if status != http.StatusConflict || !strings.HasPrefix(body, "Lobby already in play") {
		t.Fatalf("second reservation: %d %q", status, body)
	}
}

func TestControllerConnectStatusCodes(t *testing.T) {
	t.Parallel()
	f := newRelayFixture(t, nil)

	if _, resp, err := f.dial(t, "/lobby/connect/streamer?user=ghost&key=x"); err == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown lobby: expected 404, got %v", resp)
	}

	_, key := f.reserve(t, "streamer")
	if _, resp, err := f.dial(t, "/lobby/connect/streamer?user=streamer&key=wrong"); err == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("wrong key: expected 403, got %v", resp)
	}
	if _, _, err := f.dial(t, "/lobby/connect/streamer?user=streamer&key="+key); err != nil {
		t.Fatalf("controller dial: %v", err)
	}
	if _, resp, err := f.dial(t, "/lobby/connect/streamer?user=streamer&key="+key); err == nil || resp.StatusCode != http.StatusConflict {
		t.Fatalf("second controller: expected 409, got %v", resp)
	}
}

func TestViewerNeedsLiveController(t *testing.T) {
	t.Parallel()
	f := newRelayFixture(t, nil)
	f.reserve(t, "streamer")
	if _, resp, err := f.dial(t, "/lobby/connect?user=streamer"); err == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 before the controller connects, got %v", resp)
	}
}

func TestRelayRoundTripWithRequesterInjection(t *testing.T) {
	t.Parallel()
	f := newRelayFixture(t, testSecret)
	ctrl := f.controller(t, "streamer")

	viewer, _, err := f.dial(t, "/lobby/connect?user=streamer")
	if err != nil {
		t.Fatalf("viewer dial: %v", err)
	}
	token := signToken(t, testSecret, "HS256", map[string]any{"user_id": "555"})
	send(t, viewer, `{"jwt":"`+token+`"}`)
	send(t, viewer, `{"name":"84","x":0.9,"y":0.5,"userId":"spoofed"}`)

	var move map[string]any
	if err := json.Unmarshal([]byte(readText(t, ctrl)), &move); err != nil {
		t.Fatalf("controller got non-JSON: %v", err)
	}
	if move["userId"] != "555" || move["name"] != "84" || move["x"] != 0.9 {
		t.Fatalf("unexpected forwarded message %v", move)
	}

	send(t, ctrl, `{"data":[{"name":84,"x":1728,"y":540,"width":"100px","height":"100px","info":"cam"}]}`)
	if got := readText(t, viewer); !strings.Contains(got, `"x":1728`) {
		t.Fatalf("viewer did not receive broadcast, got %s", got)
	}
}

func TestRelayUnauthenticatedViewerMayOnlyHello(t *testing.T) {
	t.Parallel()
	f := newRelayFixture(t, testSecret)
	ctrl := f.controller(t, "streamer")
	viewer, _, err := f.dial(t, "/lobby/connect?user=streamer")
	if err != nil {
		t.Fatalf("viewer dial: %v", err)
	}

	send(t, viewer, `{"name":"84","x":0.1,"y":0.1}`)
	send(t, viewer, `{"data":"Hello Server!"}`)
	if got := readText(t, ctrl); got != `{"data":"Hello Server!"}` {
		t.Fatalf("expected the hello to be the first forwarded frame, got %s", got)
	}
}

func TestProcessViewerMessageAdmission(t *testing.T) {
	t.Parallel()
	clock := clockwork.NewFakeClock()
	srv := NewServer(DefaultConfig(), nil, clock)
	c := srv.newConnection(roleViewer, 1)

	if _, ok := srv.processViewerMessage(c, []byte(`{"name":"1"}`)); !ok {
		t.Fatal("first message should pass")
	}
	if _, ok := srv.processViewerMessage(c, []byte(`{"name":"2"}`)); ok {
		t.Fatal("second message inside 100ms should be dropped")
	}
	if _, ok := srv.processViewerMessage(c, []byte("ping")); ok {
		t.Fatal("keep-alive should be absorbed")
	}

	clock.Advance(100 * time.Millisecond)
	big := `{"name":"3","pad":"` + strings.Repeat("x", 1000) + `"}`
	if _, ok := srv.processViewerMessage(c, []byte(big)); ok {
		t.Fatal("oversized message should be dropped")
	}
	out, ok := srv.processViewerMessage(c, []byte(`{"name":"4","userId":"spoof"}`))
	if !ok || string(out) != `{"name":"4"}` {
		t.Fatalf("expected spaced message without spoofed id, got %s, %v", out, ok)
	}
}

func TestRunSweepsUntilCancelled(t *testing.T) {
	t.Parallel()
	clock := clockwork.NewFakeClock()
	srv := NewServer(DefaultConfig(), nil, clock)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		srv.Run(ctx)
		close(done)
	}()
	// The in-memory limiter's sweep ticker.
	clock.BlockUntil(1)
	clock.Advance(time.Second)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestProcessViewerMessageTokenHandshake(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.TokenSecret = testSecret
	srv := NewServer(cfg, nil, clockwork.NewFakeClock())
	c := srv.newConnection(roleViewer, 1)

	if _, ok := srv.processViewerMessage(c, []byte(`{"jwt":"bogus"}`)); ok || c.userID != "" {
		t.Fatal("invalid token must not authenticate or be forwarded")
	}
	token := signToken(t, testSecret, "HS256", map[string]any{"user_id": "555"})
	if _, ok := srv.processViewerMessage(c, []byte(`{"jwt":"`+token+`"}`)); ok || c.userID != "555" {
		t.Fatalf("valid token should authenticate without forwarding, user %q", c.userID)
	}
	out, ok := srv.processViewerMessage(c, []byte(`{"name":"84"}`))
	if !ok || string(out) != `{"name":"84","userId":"555"}` {
		t.Fatalf("unexpected forwarded frame %s, %v", out, ok)
	}
}

func TestControllerDisconnectClosesViewers(t *testing.T) {
	t.Parallel()
	f := newRelayFixture(t, nil)
	ctrl := f.controller(t, "streamer")
	viewer, _, err := f.dial(t, "/lobby/connect?user=streamer")
	if err != nil {
		t.Fatalf("viewer dial: %v", err)
	}
	send(t, viewer, "Hello Server!")
	readText(t, ctrl)

	ctrl.Close()

	viewer.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := viewer.ReadMessage(); err == nil {
		t.Fatal("viewer should be disconnected with its controller")
	}
	if _, ok := f.server.registry.Live("streamer"); ok {
		t.Fatal("lobby should be released")
	}
}

func TestInjectRequester(t *testing.T) {
	t.Parallel()
	out, err := injectRequester([]byte(`{"name":"1","userId":"evil"}`), "")
	if err != nil || string(out) != `{"name":"1"}` {
		t.Fatalf("anonymous frame should lose its userId: %s, %v", out, err)
	}
	out, err = injectRequester([]byte("Hello Server!"), "555")
	if err != nil || string(out) != "Hello Server!" {
		t.Fatalf("text frames pass through: %s, %v", out, err)
	}
	if _, err := injectRequester([]byte(`{"name":`), "555"); err == nil {
		t.Fatal("expected error for broken JSON")
	}
}
