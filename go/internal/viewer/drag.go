package viewer

import (
	"math"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/chatplays/go/internal/models"
)

// DefaultDragCooldown suppresses a new drag right after a release.
const DefaultDragCooldown = 100 * time.Millisecond

// FullCanvas is the boundary a panel is held to when none was published for it.
var FullCanvas = models.Boundary{Left: 0, Top: 0, Right: 1, Bottom: 1}

type DragState int

const (
	DragIdle DragState = iota
	DragDragging
)

func (s DragState) String() string {
	if s == DragDragging {
		return "dragging"
	}
	return "idle"
}

// Panel is a source's on-screen rectangle in canvas fractions.
type Panel struct {
	ID     models.SourceID
	X      float64
	Y      float64
	Width  float64
	Height float64
}

// DragSession is one viewer's local, unconfirmed manipulation of a panel.
// Coordinates are canvas fractions. Nothing here is authoritative: the
// controller decides where the panel ends up and says so in a broadcast.
type DragSession struct {
	clock    clockwork.Clock
	cooldown time.Duration

	state       DragState
	panel       Panel
	bound       models.Boundary
	offsetX     float64
	offsetY     float64
	lastRelease time.Time
	released    bool
}

func NewDragSession(clock clockwork.Clock, cooldown time.Duration) *DragSession {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &DragSession{clock: clock, cooldown: cooldown}
}

func (d *DragSession) State() DragState {
	return d.state
}

// Position is where the dragged panel is drawn right now.
func (d *DragSession) Position() (float64, float64) {
	return d.panel.X, d.panel.Y
}

// Down starts dragging panel with the pointer at (px, py). It refuses while
// a drag is in progress or during the cooldown after a release.
func (d *DragSession) Down(panel Panel, bound models.Boundary, px, py float64) bool {
	if d.state == DragDragging {
		return false
	}
	if d.released && d.clock.Since(d.lastRelease) < d.cooldown {
		return false
	}
	d.state = DragDragging
	d.panel = panel
	d.bound = bound
	d.offsetX = px - panel.X
	d.offsetY = py - panel.Y
	return true
}

// Move follows the pointer, keeping the whole panel inside the boundary.
func (d *DragSession) Move(px, py float64) (float64, float64) {
	if d.state != DragDragging {
		return d.panel.X, d.panel.Y
	}
	d.panel.X = constrain(px-d.offsetX, d.bound.Left, d.bound.Right-d.panel.Width)
	d.panel.Y = constrain(py-d.offsetY, d.bound.Top, d.bound.Bottom-d.panel.Height)
	return d.panel.X, d.panel.Y
}

// Up ends the drag and returns the one proposal it produces.
func (d *DragSession) Up() (models.MoveProposal, bool) {
	if d.state != DragDragging {
		return models.MoveProposal{}, false
	}
	d.state = DragIdle
	d.lastRelease = d.clock.Now()
	d.released = true
	return models.MoveProposal{SourceID: d.panel.ID, X: d.panel.X, Y: d.panel.Y}, true
}

// constrain clamps v into [lo, hi]; a panel larger than its boundary sticks
// to the low edge.
func constrain(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
