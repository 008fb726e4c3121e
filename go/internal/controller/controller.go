// Package controller is the authoritative side of the overlay. It keeps the
// scene, the operator's settings and the relay lobby in step: proposals that
// arrive through the relay are authorized, applied to the scene and the
// result is broadcast back to every viewer.
package controller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/chatplays/go/clients/obsws"
	"github.com/mcdev12/chatplays/go/internal/events"
	"github.com/mcdev12/chatplays/go/internal/models"
	"github.com/mcdev12/chatplays/go/internal/protocol"
	"github.com/mcdev12/chatplays/go/internal/scene"
	"github.com/mcdev12/chatplays/go/internal/settings"
	"github.com/rs/zerolog/log"
)

type Config struct {
	SceneName      string        `yaml:"scene_name"`
	StreamerName   string        `yaml:"streamer_name"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	MoveTimeout    time.Duration `yaml:"move_timeout"`
	SendBuffer     int           `yaml:"send_buffer"`
}

func DefaultConfig() Config {
	return Config{
		ReconnectDelay: 5 * time.Second,
		PingInterval:   10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MoveTimeout:    5 * time.Second,
		SendBuffer:     256,
	}
}

// SceneSession is an identified connection to the scene service.
type SceneSession interface {
	scene.Control
	Events() <-chan obsws.Event
	// Missed fires when scene events were dropped and the table may be stale.
	Missed() <-chan struct{}
	Done() <-chan struct{}
	Err() error
	Close() error
}

type SceneDialer func(ctx context.Context) (SceneSession, error)

// LobbyService reserves a lobby on the relay and opens the controller socket.
type LobbyService interface {
	Reserve(ctx context.Context, identity string) (string, error)
	Connect(ctx context.Context, identity, key string) (*websocket.Conn, error)
}

type Deps struct {
	DialScene SceneDialer
	Identity  settings.Resolver
	Lobby     LobbyService
	Store     settings.Store
	Publisher events.Publisher
	Clock     clockwork.Clock
}

type Controller struct {
	cfg   Config
	deps  Deps
	clock clockwork.Clock
	table  *scene.Table
	syncer *scene.Synchronizer

	reload  chan struct{}
	restart chan struct{}

	mu        sync.RWMutex
	state     State
	lastErr   error
	since     time.Time
	sceneName string
	settings  *settings.Settings
	policy    settings.Policy
	control   scene.Control
	lobbyID   string
	session   *protocol.Session
}

func New(cfg Config, deps Deps) *Controller {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Publisher == nil {
		deps.Publisher = events.NoOpPublisher{}
	}
	table := scene.NewTable()
	return &Controller{
		cfg:       cfg,
		deps:      deps,
		clock:     deps.Clock,
		table:     table,
		syncer:    scene.NewSynchronizer(table),
		reload:    make(chan struct{}, 1),
		restart:   make(chan struct{}, 1),
		since:     deps.Clock.Now(),
		sceneName: cfg.SceneName,
		settings:  settings.New(),
		session:   &protocol.Session{},
	}
}

// Status is a point-in-time summary for the operator.
type Status struct {
	State   string           `json:"state"`
	Error   string           `json:"error,omitempty"`
	Since   time.Time        `json:"since"`
	Scene   string           `json:"scene"`
	Lobby   string           `json:"lobby,omitempty"`
	Canvas  models.Canvas    `json:"canvas"`
	Sources int              `json:"sources"`
	Session protocol.Session `json:"session"`
}

func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Controller) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st := Status{
		State:   c.state.String(),
		Since:   c.since,
		Scene:   c.sceneName,
		Lobby:   c.lobbyID,
		Canvas:  c.table.Canvas(),
		Sources: len(c.table.Sources()),
		Session: *c.session,
	}
	if c.lastErr != nil {
		st.Error = c.lastErr.Error()
	}
	return st
}

func (c *Controller) setState(s State, err error) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	c.lastErr = err
	if prev != s {
		c.since = c.clock.Now()
	}
	c.mu.Unlock()

	if prev != s {
		log.Info().
			Str("from", prev.String()).
			Str("to", s.String()).
			Msg("controller state changed")
	}
}

// Reload asks a live session to re-read settings from the store. It never
// blocks; a reload already pending absorbs the request.
func (c *Controller) Reload() {
	select {
	case c.reload <- struct{}{}:
	default:
	}
}

// Restart asks a controller parked in an error state to run the connect
// chain again. It reports false when the controller is not in an error state.
func (c *Controller) Restart() bool {
	if !c.State().Failed() {
		return false
	}
	select {
	case c.restart <- struct{}{}:
	default:
	}
	return true
}

// Run drives the connect chain until ctx ends. A fatal error parks the
// controller in its error state until Restart is called; any other failure
// tears the whole chain down and starts again after ReconnectDelay.
func (c *Controller) Run(ctx context.Context) error {
	for {
		err := c.connect(ctx)
		if ctx.Err() != nil {
			c.setState(StateDisconnected, nil)
			return ctx.Err()
		}
		if st, fatal := classify(err); fatal {
			c.setState(st, err)
			log.Error().Err(err).Str("state", st.String()).Msg("controller stopped, waiting for operator")

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-c.restart:
			}
			c.setState(StateDisconnected, nil)
			log.Info().Msg("operator requested reconnect")
			continue
		}

		c.setState(StateDisconnected, err)
		log.Warn().
			Err(err).
			Dur("retry_in", c.cfg.ReconnectDelay).
			Msg("controller session ended, reconnecting")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.clock.After(c.cfg.ReconnectDelay):
		}
	}
}

func (c *Controller) connect(ctx context.Context) error {
	c.setState(StateConnectingToScene, nil)
	sess, err := c.deps.DialScene(ctx)
	if err != nil {
		return fmt.Errorf("connect to scene service: %w", err)
	}
	defer sess.Close()
	c.setState(StateSceneIdentified, nil)

	c.setState(StateFetchingSceneState, nil)
	s, err := c.loadSettings(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.settings = s
	c.control = sess
	c.mu.Unlock()
	c.syncer.Attach(sess)
	defer func() {
		c.syncer.Attach(nil)
		c.mu.Lock()
		c.control = nil
		c.mu.Unlock()
	}()

	if err := c.refresh(ctx); err != nil {
		return err
	}

	streamer, err := c.deps.Identity.Resolve(ctx, c.cfg.StreamerName)
	if err != nil {
		return fmt.Errorf("resolve streamer %q: %w", c.cfg.StreamerName, err)
	}

	c.setState(StateConnectingRelay, nil)
	key, err := c.deps.Lobby.Reserve(ctx, streamer)
	if err != nil {
		return err
	}
	conn, err := c.deps.Lobby.Connect(ctx, streamer, key)
	if err != nil {
		return err
	}
	defer conn.Close()

	c.mu.Lock()
	c.lobbyID = streamer
	c.session = &protocol.Session{}
	c.mu.Unlock()

	c.setState(StateLive, nil)
	log.Info().
		Str("lobby", streamer).
		Str("scene", c.currentScene()).
		Int("sources", len(c.table.Sources())).
		Msg("controller live")

	return c.live(ctx, sess, conn)
}

func (c *Controller) loadSettings(ctx context.Context) (*settings.Settings, error) {
	s, err := c.deps.Store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	return s, nil
}

// refresh rebuilds the source table from the scene and re-resolves the
// authorization policy from the current settings.
func (c *Controller) refresh(ctx context.Context) error {
	control := c.currentControl()
	if control == nil {
		return scene.ErrDisconnected
	}
	sceneName := c.currentScene()

	canvas, err := control.GetVideoSettings(ctx)
	if err != nil {
		return fmt.Errorf("get video settings: %w", err)
	}
	items, err := control.GetSceneItemList(ctx, sceneName)
	if err != nil {
		return fmt.Errorf("get scene items of %q: %w", sceneName, err)
	}

	s := c.currentSettings()
	policy, err := s.ResolvePolicy(ctx, c.deps.Identity)
	if err != nil {
		return fmt.Errorf("resolve permissions: %w", err)
	}

	c.table.Rebuild(sceneName, canvas, s.Join(items))
	c.mu.Lock()
	c.policy = policy
	c.mu.Unlock()

	log.Debug().
		Str("scene", sceneName).
		Float64("canvas_width", canvas.Width).
		Float64("canvas_height", canvas.Height).
		Int("sources", len(c.table.Sources())).
		Msg("source table rebuilt")
	return nil
}

func (c *Controller) currentControl() scene.Control {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.control
}

func (c *Controller) currentSettings() *settings.Settings {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.settings
}

func (c *Controller) currentPolicy() settings.Policy {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.policy
}

func (c *Controller) currentScene() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sceneName
}

func (c *Controller) currentLobby() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lobbyID
}

func (c *Controller) publish(ctx context.Context, eventType string, payload any) {
	ev, err := events.New(eventType, c.currentLobby(), payload)
	if err != nil {
		log.Error().Err(err).Msg("failed to build event")
		return
	}
	if err := c.deps.Publisher.Publish(ctx, ev); err != nil {
		log.Warn().Err(err).Str("event_type", eventType).Msg("failed to publish event")
	}
}
