package scene

import (
	"sort"
	"sync"

	"github.com/mcdev12/chatplays/go/internal/models"
)

// Table is the controller's view of the scene: the canvas and every enabled
// source joined with its settings. It is rebuilt wholesale on each resync.
type Table struct {
	mu      sync.RWMutex
	scene   string
	canvas  models.Canvas
	sources map[models.SourceID]models.Source
	order   []models.SourceID
	// gen counts rebuilds so a write started against an older scene can be
	// told apart from one against the current scene.
	gen uint64
}

func NewTable() *Table {
	return &Table{sources: make(map[models.SourceID]models.Source)}
}

// Rebuild replaces the table contents with the items of sceneName. Disabled
// sources are dropped and the rest are ordered top-most first.
func (t *Table) Rebuild(sceneName string, canvas models.Canvas, sources []models.Source) {
	enabled := make([]models.Source, 0, len(sources))
	for _, s := range sources {
		if s.Enabled {
			enabled = append(enabled, s)
		}
	}
	sort.SliceStable(enabled, func(i, j int) bool {
		if enabled[i].Index != enabled[j].Index {
			return enabled[i].Index > enabled[j].Index
		}
		return enabled[i].ID < enabled[j].ID
	})

	byID := make(map[models.SourceID]models.Source, len(enabled))
	order := make([]models.SourceID, 0, len(enabled))
	for _, s := range enabled {
		byID[s.ID] = s
		order = append(order, s.ID)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.scene = sceneName
	t.canvas = canvas
	t.sources = byID
	t.order = order
	t.gen++
}

// Generation identifies the current rebuild.
func (t *Table) Generation() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.gen
}

// Scene names the scene the table was last rebuilt from.
func (t *Table) Scene() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.scene
}

func (t *Table) Canvas() models.Canvas {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.canvas
}

// SetCanvas records a freshly read canvas and reports whether it differs
// from the one held before.
func (t *Table) SetCanvas(c models.Canvas) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.canvas == c {
		return false
	}
	t.canvas = c
	return true
}

func (t *Table) Source(id models.SourceID) (models.Source, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.sources[id]
	return s, ok
}

// SourceByName finds a source by its scene-service name.
func (t *Table) SourceByName(name string) (models.Source, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, id := range t.order {
		if s := t.sources[id]; s.Name == name {
			return s, true
		}
	}
	return models.Source{}, false
}

// Sources returns a copy of every source, top-most first.
func (t *Table) Sources() []models.Source {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]models.Source, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.sources[id])
	}
	return out
}

// UpdateTransformAt stores tr only while the table is still at generation
// gen. A rebuild in between makes it report false and leaves the table as is.
func (t *Table) UpdateTransformAt(gen uint64, id models.SourceID, tr models.Transform) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.gen != gen {
		return false
	}
	s, ok := t.sources[id]
	if !ok {
		return false
	}
	s.Transform = tr
	t.sources[id] = s
	return true
}
