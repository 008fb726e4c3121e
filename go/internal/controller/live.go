package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mcdev12/chatplays/go/clients/obsws"
	"github.com/mcdev12/chatplays/go/internal/authz"
	"github.com/mcdev12/chatplays/go/internal/events"
	"github.com/mcdev12/chatplays/go/internal/geometry"
	"github.com/mcdev12/chatplays/go/internal/models"
	"github.com/mcdev12/chatplays/go/internal/protocol"
	"github.com/mcdev12/chatplays/go/internal/scene"
	"github.com/rs/zerolog/log"
)

var errRelayWriterStopped = errors.New("relay writer stopped")

// link is the controller's relay socket. All writes go through one pump so
// frames leave in the order they were queued.
type link struct {
	conn         *websocket.Conn
	out          chan []byte
	writeTimeout time.Duration

	done      chan struct{}
	closeOnce sync.Once
}

func newLink(conn *websocket.Conn, cfg Config) *link {
	return &link{
		conn:         conn,
		out:          make(chan []byte, cfg.SendBuffer),
		writeTimeout: cfg.WriteTimeout,
		done:         make(chan struct{}),
	}
}

func (l *link) close() {
	l.closeOnce.Do(func() { close(l.done) })
}

// send queues a frame. Frames queued after the link closed are discarded.
func (l *link) send(msg []byte) {
	select {
	case l.out <- msg:
	case <-l.done:
	}
}

func (l *link) writePump() {
	defer l.close()
	for {
		select {
		case <-l.done:
			return
		case msg := <-l.out:
			l.conn.SetWriteDeadline(time.Now().Add(l.writeTimeout))
			if err := l.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.Error().Err(err).Msg("failed to write to relay")
				return
			}
		}
	}
}

func (l *link) readPump(frames chan<- []byte, errs chan<- error) {
	for {
		_, msg, err := l.conn.ReadMessage()
		if err != nil {
			errs <- err
			return
		}
		select {
		case frames <- msg:
		case <-l.done:
			return
		}
	}
}

func (c *Controller) live(ctx context.Context, sess SceneSession, conn *websocket.Conn) error {
	l := newLink(conn, c.cfg)
	defer l.close()

	frames := make(chan []byte)
	readErr := make(chan error, 1)
	go l.writePump()
	go l.readPump(frames, readErr)

	var moves sync.WaitGroup
	defer moves.Wait()

	ping := c.clock.NewTicker(c.cfg.PingInterval)
	defer ping.Stop()

	sceneEvents := sess.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			return fmt.Errorf("relay connection: %w", err)
		case <-l.done:
			return errRelayWriterStopped
		case <-sess.Done():
			err := sess.Err()
			if err == nil {
				err = scene.ErrDisconnected
			}
			return fmt.Errorf("scene service: %w", err)
		case raw := <-frames:
			c.handleFrame(ctx, l, raw, &moves)
		case <-ping.Chan():
			l.send([]byte(protocol.PingText))
		case ev, ok := <-sceneEvents:
			if !ok {
				sceneEvents = nil
				continue
			}
			if err := c.handleSceneEvent(ctx, l, ev); err != nil {
				return err
			}
		case <-sess.Missed():
			if err := c.resyncAll(ctx, l, "events_missed"); err != nil {
				return err
			}
		case <-c.reload:
			if err := c.reloadSettings(ctx, l); err != nil {
				return err
			}
		}
	}
}

func (c *Controller) handleFrame(ctx context.Context, l *link, raw []byte, moves *sync.WaitGroup) {
	c.mu.Lock()
	out := protocol.Dispatch(c.session, raw)
	c.mu.Unlock()

	switch out.Action {
	case protocol.ActionResync:
		c.refreshCanvas(ctx)
		c.sendResync(l)
	case protocol.ActionMove:
		// A proposal that made it this far runs to completion even if the
		// session is torn down meanwhile.
		moveCtx := context.WithoutCancel(ctx)
		moves.Add(1)
		go func() {
			defer moves.Done()
			c.handleMove(moveCtx, l, out.Proposal)
		}()
	case protocol.ActionDrop:
		log.Warn().Err(out.Err).Int("length", len(raw)).Msg("dropping malformed relay message")
	}
}

func (c *Controller) handleMove(ctx context.Context, l *link, p models.MoveProposal) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.MoveTimeout)
	defer cancel()

	logger := log.With().
		Str("source_id", p.SourceID.String()).
		Str("requester_id", p.RequesterID).
		Logger()

	src, ok := c.table.Source(p.SourceID)
	if !ok {
		logger.Debug().Msg("proposal for unknown source")
		return
	}

	decision, err := authz.Decide(p, src, c.currentPolicy())
	if err != nil {
		logger.Error().Err(err).Msg("cannot authorize proposal")
		return
	}
	if decision.Outcome == authz.RejectSilently {
		logger.Debug().Str("reason", decision.Reason).Msg("proposal rejected")
		return
	}

	// The broadcast is queued before the source is unlocked so viewers see
	// writes to one source in the order the scene applied them.
	_, err = c.syncer.Apply(ctx, c.currentScene(), p.SourceID, decision.X, decision.Y, func(res scene.Result) {
		if res.CanvasChanged {
			c.sendResync(l)
			return
		}
		msg, err := protocol.EncodePositions(protocol.NewPositionRecord(res.Source, res.Placement))
		if err != nil {
			logger.Error().Err(err).Msg("failed to encode position")
			return
		}
		l.send(msg)
	})
	switch {
	case errors.Is(err, scene.ErrDisconnected):
		logger.Warn().Err(err).Msg("scene service gone, dropping accepted proposal")
		return
	case errors.Is(err, scene.ErrStaleScene):
		logger.Info().Err(err).Msg("scene changed under proposal, dropping it")
		return
	case err != nil:
		logger.Error().Err(err).Msg("failed to apply move")
		return
	}

	logger.Debug().
		Float64("x", decision.X).
		Float64("y", decision.Y).
		Msg("move applied")

	c.publish(ctx, events.TypeMoveApplied, events.MoveApplied{
		SourceID:    p.SourceID,
		RequesterID: p.RequesterID,
		X:           decision.X,
		Y:           decision.Y,
		Clamped:     decision.X != p.X || decision.Y != p.Y,
	})
}

// resyncBundle is what a (re)joining viewer needs: canvas, bounds, info
// cards, then the position of every source a viewer may move.
func (c *Controller) resyncBundle() ([][]byte, error) {
	canvas := c.table.Canvas()
	sources := c.table.Sources()
	s := c.currentSettings()

	canvasMsg, err := protocol.EncodeCanvas(canvas)
	if err != nil {
		return nil, err
	}
	bounds := s.PublishedBounds(sources, canvas, func(src models.Source) (float64, float64) {
		p := geometry.Effective(src.Transform)
		return geometry.ToFraction(canvas, p.X, p.Y)
	})
	boundsMsg, err := protocol.EncodeBounds(bounds)
	if err != nil {
		return nil, err
	}
	infoMsg, err := protocol.EncodeInfoWindows(s.PublishedInfoCards(sources))
	if err != nil {
		return nil, err
	}

	records := make([]protocol.PositionRecord, 0, len(sources))
	for _, src := range sources {
		if !src.Movable || src.BoundaryKey == "" {
			continue
		}
		records = append(records, protocol.NewPositionRecord(src, geometry.Effective(src.Transform)))
	}
	positionsMsg, err := protocol.EncodePositions(records...)
	if err != nil {
		return nil, err
	}

	return [][]byte{canvasMsg, boundsMsg, infoMsg, positionsMsg}, nil
}

// refreshCanvas re-reads the canvas so a (re)joining viewer never gets a
// size the operator has since changed. On failure the last known canvas is
// kept.
func (c *Controller) refreshCanvas(ctx context.Context) {
	control := c.currentControl()
	if control == nil {
		return
	}
	canvas, err := control.GetVideoSettings(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("failed to refresh canvas")
		return
	}
	if canvas.Valid() && c.table.SetCanvas(canvas) {
		log.Info().
			Float64("canvas_width", canvas.Width).
			Float64("canvas_height", canvas.Height).
			Msg("canvas changed")
	}
}

func (c *Controller) sendResync(l *link) {
	bundle, err := c.resyncBundle()
	if err != nil {
		log.Error().Err(err).Msg("failed to build resync bundle")
		return
	}
	for _, msg := range bundle {
		l.send(msg)
	}
}

// resyncAll rebuilds from the scene and pushes the full state to every viewer.
func (c *Controller) resyncAll(ctx context.Context, l *link, reason string) error {
	if err := c.refresh(ctx); err != nil {
		return err
	}
	c.sendResync(l)
	c.publish(ctx, events.TypeSceneResynced, events.SceneResynced{
		Sources: len(c.table.Sources()),
		Canvas:  c.table.Canvas(),
		Reason:  reason,
	})
	return nil
}

func (c *Controller) handleSceneEvent(ctx context.Context, l *link, ev obsws.Event) error {
	switch ev.Type {
	case obsws.EventCurrentProgramSceneChanged:
		var data struct {
			SceneName string `json:"sceneName"`
		}
		if err := json.Unmarshal(ev.Data, &data); err == nil && data.SceneName != "" {
			c.switchScene(data.SceneName)
		}
		return c.resyncAll(ctx, l, ev.Type)
	case obsws.EventSceneItemEnableStateChanged, obsws.EventSceneItemCreated, obsws.EventSceneItemRemoved:
		return c.resyncAll(ctx, l, ev.Type)
	case obsws.EventCustomEvent:
		c.handleCustomEvent(ctx, l, ev.Data)
	}
	return nil
}

func (c *Controller) switchScene(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if name == c.sceneName {
		return
	}
	log.Info().Str("from", c.sceneName).Str("to", name).Msg("program scene changed")
	c.sceneName = name
}

func (c *Controller) reloadSettings(ctx context.Context, l *link) error {
	s, err := c.loadSettings(ctx)
	if err != nil {
		// Keep serving the last good settings.
		log.Error().Err(err).Msg("settings reload failed")
		return nil
	}
	c.mu.Lock()
	c.settings = s
	c.mu.Unlock()
	log.Info().Msg("settings reloaded")
	return c.resyncAll(ctx, l, "settings_changed")
}
