package relay

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

var (
	ErrLobbyTaken    = errors.New("lobby already in play")
	ErrLobbyNotFound = errors.New("lobby not found")
	ErrWrongKey      = errors.New("wrong lobby key")
)

// Lobby is the meeting point of one controller and its viewers.
type Lobby struct {
	Identity   string
	key        string
	reservedAt time.Time

	mu         sync.RWMutex
	controller *Connection
	viewers    map[*Connection]struct{}
}

func (l *Lobby) live() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.controller != nil
}

func (l *Lobby) viewerCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.viewers)
}

// Registry tracks one lobby per controller identity.
type Registry struct {
	mu      sync.Mutex
	clock   clockwork.Clock
	ttl     time.Duration
	lobbies map[string]*Lobby
}

// NewRegistry creates a registry whose unclaimed reservations expire after
// ttl. A zero ttl keeps reservations until the controller connects.
func NewRegistry(clock clockwork.Clock, ttl time.Duration) *Registry {
	return &Registry{
		clock:   clock,
		ttl:     ttl,
		lobbies: make(map[string]*Lobby),
	}
}

// Reserve opens a lobby for identity and returns its one-time key.
func (r *Registry) Reserve(identity string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.lobbies[identity]; ok {
		if existing.live() || !r.expired(existing) {
			return "", ErrLobbyTaken
		}
		log.Info().Str("lobby", identity).Msg("replacing expired lobby reservation")
	}

	lobby := &Lobby{
		Identity:   identity,
		key:        uuid.NewString(),
		reservedAt: r.clock.Now(),
		viewers:    make(map[*Connection]struct{}),
	}
	r.lobbies[identity] = lobby
	return lobby.key, nil
}

// Attach claims a reserved lobby for a controller connection. Only one
// controller may be attached at a time.
func (r *Registry) Attach(identity, key string, conn *Connection) (*Lobby, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	lobby, ok := r.lobbies[identity]
	if !ok {
		return nil, ErrLobbyNotFound
	}
	if lobby.live() {
		return nil, ErrLobbyTaken
	}
	if r.expired(lobby) {
		delete(r.lobbies, identity)
		return nil, ErrLobbyNotFound
	}
	if key != lobby.key {
		return nil, ErrWrongKey
	}

	lobby.mu.Lock()
	lobby.controller = conn
	lobby.mu.Unlock()
	return lobby, nil
}

// Live returns the lobby of identity if a controller is attached.
func (r *Registry) Live(identity string) (*Lobby, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	lobby, ok := r.lobbies[identity]
	if !ok || !lobby.live() {
		return nil, false
	}
	return lobby, true
}

// Release removes lobby if it is still the registered one for its identity.
func (r *Registry) Release(lobby *Lobby) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.lobbies[lobby.Identity]; ok && current == lobby {
		delete(r.lobbies, lobby.Identity)
	}
}

// Snapshot returns the number of viewers per live lobby.
func (r *Registry) Snapshot() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int, len(r.lobbies))
	for id, lobby := range r.lobbies {
		if lobby.live() {
			out[id] = lobby.viewerCount()
		}
	}
	return out
}

func (r *Registry) expired(l *Lobby) bool {
	if r.ttl <= 0 || l.live() {
		return false
	}
	return !r.clock.Now().Before(l.reservedAt.Add(r.ttl))
}
