// Package identity resolves streamer-facing display names to the stable
// external ids used for authorization.
package identity

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/mcdev12/chatplays/go/clients"
	"github.com/rs/zerolog/log"
)

const DefaultBaseURL = "https://decapi.me"

var ErrInvalidIdentity = errors.New("invalid identity")

// Resolver looks names up over HTTP and remembers successful answers.
type Resolver struct {
	*clients.BaseClient

	mu    sync.RWMutex
	cache map[string]string
}

func NewResolver(baseURL string) *Resolver {
	return &Resolver{
		BaseClient: clients.NewBaseClient(strings.TrimRight(baseURL, "/")),
		cache:      make(map[string]string),
	}
}

// Resolve returns the external id of name. Names are case-insensitive.
func (r *Resolver) Resolve(ctx context.Context, name string) (string, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return "", fmt.Errorf("%w: empty name", ErrInvalidIdentity)
	}

	r.mu.RLock()
	id, ok := r.cache[key]
	r.mu.RUnlock()
	if ok {
		return id, nil
	}

	body, err := r.Get(ctx, "/twitch/id/"+url.PathEscape(key))
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", name, err)
	}
	id = strings.TrimSpace(string(body))
	if id == "" || strings.Contains(id, "User not found") {
		return "", fmt.Errorf("%w: %q", ErrInvalidIdentity, name)
	}

	r.mu.Lock()
	r.cache[key] = id
	r.mu.Unlock()

	log.Debug().Str("name", key).Str("id", id).Msg("resolved identity")
	return id, nil
}
