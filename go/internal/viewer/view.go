package viewer

import (
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/mcdev12/chatplays/go/internal/models"
	"github.com/mcdev12/chatplays/go/internal/protocol"
)

// ViewState is what one viewer knows about the overlay, built purely from
// controller broadcasts.
type ViewState struct {
	mu        sync.RWMutex
	canvas    models.Canvas
	bounds    map[models.SourceID]models.Boundary
	info      map[models.SourceID]models.InfoCard
	positions map[models.SourceID]protocol.PositionRecord
	order     []models.SourceID

	// snapshotNext is set by the info window message, which a resync bundle
	// always sends right before its full position snapshot.
	snapshotNext bool

	changed chan struct{}
}

func NewViewState() *ViewState {
	return &ViewState{
		bounds:    make(map[models.SourceID]models.Boundary),
		info:      make(map[models.SourceID]models.InfoCard),
		positions: make(map[models.SourceID]protocol.PositionRecord),
		changed:   make(chan struct{}, 1),
	}
}

// Changed is signalled after each applied broadcast. Signals coalesce.
func (v *ViewState) Changed() <-chan struct{} {
	return v.changed
}

// Apply folds one broadcast into the state. The snapshot that ends a resync
// replaces the known source list; any other position message updates just
// the sources it names.
func (v *ViewState) Apply(b protocol.Broadcast) {
	if b.Ping {
		return
	}

	v.mu.Lock()
	if cfg := b.Config; cfg != nil {
		if cfg.ObsSize != nil {
			v.canvas = models.Canvas{Width: cfg.ObsSize.Width, Height: cfg.ObsSize.Height}
		}
		if cfg.Bounds != nil {
			v.bounds = keyed(cfg.Bounds)
		}
		if cfg.InfoWindow != nil {
			v.info = keyed(cfg.InfoWindow)
			v.snapshotNext = true
		}
	}
	if b.Positions != nil && v.snapshotNext {
		v.positions = make(map[models.SourceID]protocol.PositionRecord, len(b.Positions))
		v.order = v.order[:0]
		v.snapshotNext = false
	}
	for _, rec := range b.Positions {
		if _, known := v.positions[rec.Name]; !known {
			v.order = append(v.order, rec.Name)
		}
		v.positions[rec.Name] = rec
	}
	v.mu.Unlock()

	select {
	case v.changed <- struct{}{}:
	default:
	}
}

func keyed[T any](in map[string]T) map[models.SourceID]T {
	out := make(map[models.SourceID]T, len(in))
	for k, val := range in {
		id, err := models.ParseSourceID(k)
		if err != nil {
			continue
		}
		out[id] = val
	}
	return out
}

func (v *ViewState) Canvas() models.Canvas {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.canvas
}

// Boundary is the client-known boundary for a source, or the full canvas.
func (v *ViewState) Boundary(id models.SourceID) models.Boundary {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if b, ok := v.bounds[id]; ok {
		return b
	}
	return FullCanvas
}

func (v *ViewState) InfoCard(id models.SourceID) (models.InfoCard, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	card, ok := v.info[id]
	return card, ok
}

// Panel converts a source's last broadcast position into canvas fractions.
func (v *ViewState) Panel(id models.SourceID) (Panel, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	rec, ok := v.positions[id]
	if !ok || !v.canvas.Valid() {
		return Panel{}, false
	}
	return Panel{
		ID:     id,
		X:      rec.X / v.canvas.Width,
		Y:      rec.Y / v.canvas.Height,
		Width:  parsePixels(rec.Width) / v.canvas.Width,
		Height: parsePixels(rec.Height) / v.canvas.Height,
	}, true
}

// Panels lists every known panel, top-most first.
func (v *ViewState) Panels() []Panel {
	v.mu.RLock()
	ids := append([]models.SourceID(nil), v.order...)
	v.mu.RUnlock()

	out := make([]Panel, 0, len(ids))
	for _, id := range ids {
		if p, ok := v.Panel(id); ok {
			out = append(out, p)
		}
	}
	return out
}

// SourceIDs returns the known ids in ascending order.
func (v *ViewState) SourceIDs() []models.SourceID {
	v.mu.RLock()
	defer v.mu.RUnlock()
	ids := make([]models.SourceID, 0, len(v.positions))
	for id := range v.positions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func parsePixels(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(s), "px"), 64)
	if err != nil {
		return 0
	}
	return v
}
