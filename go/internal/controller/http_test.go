package controller

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mcdev12/chatplays/go/clients/lobby"
	"github.com/mcdev12/chatplays/go/internal/scene"
)

func newOperatorMux(c *Controller) *http.ServeMux {
	mux := http.NewServeMux()
	c.RegisterRoutes(mux)
	return mux
}

func TestScreenshotEndpoint(t *testing.T) {
	t.Parallel()
	c := New(DefaultConfig(), Deps{})
	mux := newOperatorMux(c)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/screenshot?source=Camera", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("disconnected: status %d", rec.Code)
	}

	c.control = newFakeScene()

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/screenshot?source=Camera", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "png" || rec.Header().Get("Content-Type") != "image/png" {
		t.Fatalf("screenshot: %d %q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/screenshot?source=Ghost", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown source: status %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/screenshot", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing source: status %d", rec.Code)
	}
}

func TestStatusAndHealth(t *testing.T) {
	t.Parallel()
	c := New(DefaultConfig(), Deps{})
	mux := newOperatorMux(c)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("health: status %d", rec.Code)
	}

	c.setState(StateLobbyTaken, lobby.ErrLobbyTaken)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("health in error state: status %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	var st Status
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if st.State != "lobby_taken" || st.Error == "" {
		t.Fatalf("unexpected status %+v", st)
	}
}

func TestConnectEndpoint(t *testing.T) {
	t.Parallel()
	c := New(DefaultConfig(), Deps{})
	mux := newOperatorMux(c)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/connect", nil))
	if rec.Code != http.StatusConflict {
		t.Fatalf("connect while healthy: status %d", rec.Code)
	}

	c.setState(StateAuthenticationError, scene.ErrAuthentication)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/connect", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET connect: status %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/connect", nil))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("connect in error state: status %d", rec.Code)
	}
	select {
	case <-c.restart:
	default:
		t.Fatal("restart not queued")
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err   error
		state State
		fatal bool
	}{
		{scene.ErrAuthentication, StateAuthenticationError, true},
		{scene.ErrInvalidScene, StateInvalidSceneName, true},
		{lobby.ErrLobbyTaken, StateLobbyTaken, true},
		{scene.ErrDisconnected, StateDisconnected, false},
		{errors.New("dial tcp: connection refused"), StateDisconnected, false},
	}
	for _, tt := range tests {
		state, fatal := classify(tt.err)
		if state != tt.state || fatal != tt.fatal {
			t.Errorf("classify(%v) = %s, %v", tt.err, state, fatal)
		}
	}
}
