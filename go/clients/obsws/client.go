// Package obsws adapts a goobs session with OBS (websocket v5) to the scene
// operations the overlay needs: reading the canvas and scene items, moving
// items and taking screenshots.
package obsws

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/andreykaipov/goobs"
	"github.com/andreykaipov/goobs/api/requests/config"
	"github.com/andreykaipov/goobs/api/requests/sceneitems"
	"github.com/andreykaipov/goobs/api/requests/sources"
	"github.com/andreykaipov/goobs/api/typedefs"
	"github.com/gorilla/websocket"
	"github.com/mcdev12/chatplays/go/internal/models"
	"github.com/mcdev12/chatplays/go/internal/scene"
	"github.com/rs/zerolog/log"
)

const closeAuthenticationFailed = 4009

type Config struct {
	// Host is host:port of the OBS websocket server.
	Host             string
	Password         string
	Subscriptions    int
	HandshakeTimeout time.Duration
	RequestTimeout   time.Duration
	// HealthInterval spaces the GetVersion calls that notice a dead session.
	HealthInterval time.Duration
	EventBuffer    int
}

func DefaultConfig() Config {
	return Config{
		Host:             "localhost:4455",
		Subscriptions:    DefaultSubscriptions,
		HandshakeTimeout: 10 * time.Second,
		RequestTimeout:   10 * time.Second,
		HealthInterval:   10 * time.Second,
		EventBuffer:      64,
	}
}

// Client is one identified session with the scene service. It implements
// scene.Control. A Client is not reusable after Done is closed.
type Client struct {
	cfg Config
	obs *goobs.Client

	mu  sync.Mutex
	err error

	events chan Event
	missed chan struct{}
	done   chan struct{}
	once   sync.Once
	drop   sync.Once
}

var _ scene.Control = (*Client)(nil)

// Dial connects and completes the Hello/Identify handshake.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.HandshakeTimeout)
		defer cancel()
	}

	type dialed struct {
		obs *goobs.Client
		err error
	}
	ch := make(chan dialed, 1)
	go func() {
		logger := log.With().Str("component", "goobs").Logger()
		obs, err := goobs.New(cfg.Host,
			goobs.WithPassword(cfg.Password),
			goobs.WithEventSubscriptions(cfg.Subscriptions),
			goobs.WithLogger(&logger),
		)
		ch <- dialed{obs: obs, err: err}
	}()

	var d dialed
	select {
	case d = <-ch:
	case <-ctx.Done():
		// The handshake may still finish; do not leak that session.
		go func() {
			if late := <-ch; late.obs != nil {
				late.obs.Disconnect()
			}
		}()
		return nil, fmt.Errorf("dial scene service: %w", ctx.Err())
	}
	if d.err != nil {
		if isAuthFailure(d.err) {
			return nil, fmt.Errorf("%v: %w", d.err, scene.ErrAuthentication)
		}
		return nil, fmt.Errorf("dial scene service: %w", d.err)
	}

	c := &Client{
		cfg:    cfg,
		obs:    d.obs,
		events: make(chan Event, cfg.EventBuffer),
		missed: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go c.forward()
	go c.watch()

	log.Info().Str("host", cfg.Host).Msg("identified with scene service")
	return c, nil
}

// Events delivers scene notifications. It is closed when the session ends.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Missed fires when events were dropped because Events was not drained.
// Repeated overflows before it is read collapse into one signal.
func (c *Client) Missed() <-chan struct{} {
	return c.missed
}

// Done is closed when the session ends; Err then reports why.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Client) Close() error {
	c.shutdown(scene.ErrDisconnected)
	return c.disconnect()
}

func (c *Client) disconnect() error {
	var err error
	c.drop.Do(func() { err = c.obs.Disconnect() })
	return err
}

func (c *Client) shutdown(err error) {
	c.once.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		close(c.done)
	})
}

func (c *Client) forward() {
	defer close(c.events)
	for {
		select {
		case <-c.done:
			return
		case raw, ok := <-c.obs.IncomingEvents:
			if !ok {
				log.Warn().Msg("scene service connection closed")
				c.shutdown(scene.ErrDisconnected)
				return
			}
			ev, ok := toEvent(raw)
			if !ok {
				continue
			}
			select {
			case c.events <- ev:
			default:
				log.Warn().Str("event_type", ev.Type).Msg("event buffer full, dropping event")
				select {
				case c.missed <- struct{}{}:
				default:
				}
			}
		}
	}
}

// watch ends the session once the scene service stops answering.
func (c *Client) watch() {
	if c.cfg.HealthInterval <= 0 {
		return
	}
	ticker := time.NewTicker(c.cfg.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			err := c.do(context.Background(), "GetVersion", func() error {
				_, err := c.obs.General.GetVersion()
				return err
			})
			if err == nil {
				continue
			}
			select {
			case <-c.done:
				return
			default:
			}
			log.Warn().Err(err).Msg("scene service stopped answering")
			c.shutdown(fmt.Errorf("%w: %v", scene.ErrDisconnected, err))
			c.disconnect()
			return
		}
	}
}

// do runs one blocking goobs request, bounded by ctx, RequestTimeout and
// the session lifetime.
func (c *Client) do(ctx context.Context, requestType string, fn func() error) error {
	select {
	case <-c.done:
		return c.Err()
	default:
	}
	if c.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()
	}

	errc := make(chan error, 1)
	go func() { errc <- fn() }()

	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("%s: %w", requestType, err)
		}
		return nil
	case <-c.done:
		return c.Err()
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", requestType, ctx.Err())
	}
}

func isAuthFailure(err error) bool {
	var ce *websocket.CloseError
	if errors.As(err, &ce) && ce.Code == closeAuthenticationFailed {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "4009") || strings.Contains(msg, "Authentication failed")
}

var notFoundStatus = regexp.MustCompile(`\b600\b|ResourceNotFound`)

// isNotFound matches the ResourceNotFound (600) request status.
func isNotFound(err error) bool {
	return err != nil && notFoundStatus.MatchString(err.Error())
}

// remarshal copies a goobs response into one of our types through JSON; the
// scene service field names are the JSON tags on both sides.
func remarshal(in, out any) error {
	raw, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func (c *Client) GetVideoSettings(ctx context.Context) (models.Canvas, error) {
	var resp *config.GetVideoSettingsResponse
	err := c.do(ctx, "GetVideoSettings", func() (err error) {
		resp, err = c.obs.Config.GetVideoSettings()
		return err
	})
	if err != nil {
		return models.Canvas{}, err
	}

	var vs struct {
		BaseWidth  float64 `json:"baseWidth"`
		BaseHeight float64 `json:"baseHeight"`
	}
	if err := remarshal(resp, &vs); err != nil {
		return models.Canvas{}, fmt.Errorf("decode video settings: %w", err)
	}
	return models.Canvas{Width: vs.BaseWidth, Height: vs.BaseHeight}, nil
}

func (c *Client) GetSceneItemList(ctx context.Context, sceneName string) ([]scene.Item, error) {
	var resp *sceneitems.GetSceneItemListResponse
	err := c.do(ctx, "GetSceneItemList", func() (err error) {
		resp, err = c.obs.SceneItems.GetSceneItemList(sceneitems.NewGetSceneItemListParams().WithSceneName(sceneName))
		return err
	})
	if isNotFound(err) {
		return nil, fmt.Errorf("scene %q: %w", sceneName, scene.ErrInvalidScene)
	}
	if err != nil {
		return nil, err
	}

	var list struct {
		SceneItems []struct {
			SceneItemID        int64            `json:"sceneItemId"`
			SourceName         string           `json:"sourceName"`
			SceneItemEnabled   bool             `json:"sceneItemEnabled"`
			SceneItemIndex     int              `json:"sceneItemIndex"`
			SceneItemTransform models.Transform `json:"sceneItemTransform"`
		} `json:"sceneItems"`
	}
	if err := remarshal(resp, &list); err != nil {
		return nil, fmt.Errorf("decode scene item list: %w", err)
	}

	items := make([]scene.Item, 0, len(list.SceneItems))
	for _, it := range list.SceneItems {
		items = append(items, scene.Item{
			ID:         models.SourceID(it.SceneItemID),
			SourceName: it.SourceName,
			Enabled:    it.SceneItemEnabled,
			Index:      it.SceneItemIndex,
			Transform:  it.SceneItemTransform,
		})
	}
	return items, nil
}

func (c *Client) getTransform(ctx context.Context, sceneName string, id models.SourceID) (*sceneitems.GetSceneItemTransformResponse, error) {
	var resp *sceneitems.GetSceneItemTransformResponse
	err := c.do(ctx, "GetSceneItemTransform", func() (err error) {
		resp, err = c.obs.SceneItems.GetSceneItemTransform(sceneitems.NewGetSceneItemTransformParams().
			WithSceneName(sceneName).
			WithSceneItemId(int(id)))
		return err
	})
	if isNotFound(err) {
		return nil, fmt.Errorf("scene item %s: %w", id, scene.ErrNotFound)
	}
	return resp, err
}

func (c *Client) GetSceneItemTransform(ctx context.Context, sceneName string, id models.SourceID) (models.Transform, error) {
	resp, err := c.getTransform(ctx, sceneName, id)
	if err != nil {
		return models.Transform{}, err
	}
	var out struct {
		SceneItemTransform models.Transform `json:"sceneItemTransform"`
	}
	if err := remarshal(resp, &out); err != nil {
		return models.Transform{}, fmt.Errorf("decode transform: %w", err)
	}
	return out.SceneItemTransform, nil
}

// SetSceneItemTransform moves an item. The rest of its current transform is
// sent back unchanged.
func (c *Client) SetSceneItemTransform(ctx context.Context, sceneName string, id models.SourceID, x, y float64) error {
	resp, err := c.getTransform(ctx, sceneName, id)
	if err != nil {
		return err
	}
	var cur struct {
		SceneItemTransform *typedefs.SceneItemTransform `json:"sceneItemTransform"`
	}
	if err := remarshal(resp, &cur); err != nil {
		return fmt.Errorf("decode transform: %w", err)
	}
	tr := cur.SceneItemTransform
	if tr == nil {
		tr = &typedefs.SceneItemTransform{}
	}
	tr.PositionX, tr.PositionY = x, y
	// Unused bounds still have to be at least one pixel.
	if tr.BoundsWidth < 1 {
		tr.BoundsWidth = 1
	}
	if tr.BoundsHeight < 1 {
		tr.BoundsHeight = 1
	}

	err = c.do(ctx, "SetSceneItemTransform", func() error {
		_, err := c.obs.SceneItems.SetSceneItemTransform(sceneitems.NewSetSceneItemTransformParams().
			WithSceneName(sceneName).
			WithSceneItemId(int(id)).
			WithSceneItemTransform(tr))
		return err
	})
	if isNotFound(err) {
		return fmt.Errorf("scene item %s: %w", id, scene.ErrNotFound)
	}
	return err
}

// GetSourceScreenshot returns a PNG of the named source.
func (c *Client) GetSourceScreenshot(ctx context.Context, sourceName string) ([]byte, error) {
	var resp *sources.GetSourceScreenshotResponse
	err := c.do(ctx, "GetSourceScreenshot", func() (err error) {
		resp, err = c.obs.Sources.GetSourceScreenshot(sources.NewGetSourceScreenshotParams().
			WithSourceName(sourceName).
			WithImageFormat("png"))
		return err
	})
	if isNotFound(err) {
		return nil, fmt.Errorf("source %q: %w", sourceName, scene.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	data := resp.ImageData
	if i := strings.Index(data, ","); i >= 0 && strings.HasPrefix(data, "data:") {
		data = data[i+1:]
	}
	img, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("decode screenshot: %w", err)
	}
	return img, nil
}
