package identity

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestResolve(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		switch r.URL.Path {
		case "/twitch/id/somebody":
			w.Write([]byte("123456\n"))
		default:
			w.Write([]byte("User not found: nobody"))
		}
	}))
	defer srv.Close()

	r := NewResolver(srv.URL + "/")
	id, err := r.Resolve(context.Background(), "SomeBody")
	if err != nil || id != "123456" {
		t.Fatalf("got %q, %v", id, err)
	}
	if _, err := r.Resolve(context.Background(), "somebody"); err != nil {
		t.Fatalf("cached lookup: %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected one upstream call, got %d", calls.Load())
	}

	if _, err := r.Resolve(context.Background(), "nobody"); !errors.Is(err, ErrInvalidIdentity) {
		t.Fatalf("expected ErrInvalidIdentity, got %v", err)
	}
	if _, err := r.Resolve(context.Background(), "  "); !errors.Is(err, ErrInvalidIdentity) {
		t.Fatalf("expected ErrInvalidIdentity for empty name, got %v", err)
	}
}

func TestResolveUpstreamFailure(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewResolver(srv.URL).Resolve(context.Background(), "somebody")
	if err == nil || errors.Is(err, ErrInvalidIdentity) {
		t.Fatalf("expected a transport error, got %v", err)
	}
}
