package scene

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mcdev12/chatplays/go/internal/geometry"
	"github.com/mcdev12/chatplays/go/internal/models"
	"github.com/rs/zerolog/log"
)

// ErrStaleScene is returned when a write names a scene other than the one the
// table holds, or the table was rebuilt while the write was in flight. In the
// second case the write reached the scene service but is not reported.
var ErrStaleScene = errors.New("scene changed during move")

// Result is the authoritative state of a source after a write.
type Result struct {
	Source    models.Source
	Placement geometry.Placement
	// CanvasChanged is set when the canvas read for this write differed from
	// the one the table held.
	CanvasChanged bool
}

// Synchronizer applies accepted moves to the scene. Writes to one source are
// serialized from the set through the re-fetch; different sources proceed in
// parallel. One Synchronizer lives as long as its table, across reconnects
// and scene switches.
type Synchronizer struct {
	table *Table
	locks *keyedLocks

	mu      sync.RWMutex
	control Control
}

func NewSynchronizer(table *Table) *Synchronizer {
	return &Synchronizer{
		table: table,
		locks: newKeyedLocks(),
	}
}

// Attach points the synchronizer at a scene service session. A nil control
// detaches it and later writes fail with ErrDisconnected.
func (s *Synchronizer) Attach(control Control) {
	s.mu.Lock()
	s.control = control
	s.mu.Unlock()
}

func (s *Synchronizer) current() Control {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.control
}

// Apply moves a source in sceneName so its visible top-left corner sits at
// the fractional point (fx, fy), then reads the transform back. The scene
// service may adjust the position it was given, so the returned placement is
// the re-fetched one. The canvas is read again on every call.
//
// onApplied, when non-nil, runs before the per-source lock is released so
// results for one source are observed in the order they were written.
func (s *Synchronizer) Apply(ctx context.Context, sceneName string, id models.SourceID, fx, fy float64, onApplied func(Result)) (Result, error) {
	unlock := s.locks.lock(id)
	defer unlock()

	control := s.current()
	if control == nil {
		return Result{}, ErrDisconnected
	}

	gen := s.table.Generation()
	if current := s.table.Scene(); current != sceneName {
		return Result{}, fmt.Errorf("source %s in %q, table holds %q: %w", id, sceneName, current, ErrStaleScene)
	}
	src, ok := s.table.Source(id)
	if !ok {
		return Result{}, fmt.Errorf("source %s: %w", id, ErrNotFound)
	}

	canvas, err := control.GetVideoSettings(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("get video settings: %w", err)
	}
	if !canvas.Valid() {
		return Result{}, fmt.Errorf("canvas %vx%v is not usable", canvas.Width, canvas.Height)
	}
	changed := s.table.SetCanvas(canvas)

	px, py := geometry.ToPixels(canvas, fx, fy)
	px, py = geometry.Anchor(src.Transform, px, py)

	if err := control.SetSceneItemTransform(ctx, sceneName, id, px, py); err != nil {
		return Result{}, fmt.Errorf("set transform for source %s: %w", id, err)
	}

	tr, err := control.GetSceneItemTransform(ctx, sceneName, id)
	if err != nil {
		return Result{}, fmt.Errorf("get transform for source %s: %w", id, err)
	}
	if !s.table.UpdateTransformAt(gen, id, tr) {
		return Result{}, fmt.Errorf("source %s in %q: %w", id, sceneName, ErrStaleScene)
	}
	src.Transform = tr

	placement := geometry.Effective(tr)
	log.Debug().
		Str("source_id", id.String()).
		Str("scene", sceneName).
		Float64("x", placement.X).
		Float64("y", placement.Y).
		Msg("source moved")

	res := Result{Source: src, Placement: placement, CanvasChanged: changed}
	if onApplied != nil {
		onApplied(res)
	}
	return res, nil
}

// keyedLocks hands out one mutex per source id and forgets it once no caller
// holds or waits on it.
type keyedLocks struct {
	mu      sync.Mutex
	entries map[models.SourceID]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{entries: make(map[models.SourceID]*lockEntry)}
}

func (k *keyedLocks) lock(id models.SourceID) func() {
	k.mu.Lock()
	e, ok := k.entries[id]
	if !ok {
		e = &lockEntry{}
		k.entries[id] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.entries, id)
		}
		k.mu.Unlock()
	}
}
