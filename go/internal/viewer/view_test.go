package viewer

import (
	"testing"

	"github.com/mcdev12/chatplays/go/internal/models"
	"github.com/mcdev12/chatplays/go/internal/protocol"
)

func decoder(t *testing.T) func(raw []byte, err error) protocol.Broadcast {
	return func(raw []byte, err error) protocol.Broadcast {
		t.Helper()
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		b, err := protocol.DecodeBroadcast(raw)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		return b
	}
}

func applyBundle(t *testing.T, v *ViewState, records ...protocol.PositionRecord) {
	t.Helper()
	decode := decoder(t)
	v.Apply(decode(protocol.EncodeCanvas(models.Canvas{Width: 1000, Height: 500})))
	v.Apply(decode(protocol.EncodeBounds(map[string]models.Boundary{"2": {Left: 0, Top: 0.5, Right: 1, Bottom: 1}})))
	v.Apply(decode(protocol.EncodeInfoWindows(map[string]models.InfoCard{"1": {Title: "Cam"}})))
	v.Apply(decode(protocol.EncodePositions(records...)))
}

func TestViewStateResync(t *testing.T) {
	t.Parallel()
	v := NewViewState()
	applyBundle(t, v,
		protocol.PositionRecord{Name: 1, X: 100, Y: 50, Width: "200px", Height: "100px"},
		protocol.PositionRecord{Name: 2, X: 0, Y: 250, Width: "50px", Height: "25px"},
	)

	if c := v.Canvas(); c.Width != 1000 || c.Height != 500 {
		t.Fatalf("canvas %+v", c)
	}
	if b := v.Boundary(2); b.Top != 0.5 {
		t.Fatalf("boundary %+v", b)
	}
	if b := v.Boundary(1); b != FullCanvas {
		t.Fatalf("unbounded source should default to full canvas, got %+v", b)
	}
	if card, ok := v.InfoCard(1); !ok || card.Title != "Cam" {
		t.Fatalf("info card %+v", card)
	}

	p, ok := v.Panel(1)
	if !ok || p.X != 0.1 || p.Y != 0.1 || p.Width != 0.2 || p.Height != 0.2 {
		t.Fatalf("panel %+v", p)
	}

	panels := v.Panels()
	if len(panels) != 2 || panels[0].ID != 1 || panels[1].ID != 2 {
		t.Fatalf("panels %+v", panels)
	}

	select {
	case <-v.Changed():
	default:
		t.Fatal("no change signal")
	}
}

func TestViewStateSingleUpdateAndSnapshotReplace(t *testing.T) {
	t.Parallel()
	v := NewViewState()
	applyBundle(t, v,
		protocol.PositionRecord{Name: 1, X: 100, Y: 50, Width: "200px", Height: "100px"},
		protocol.PositionRecord{Name: 2, X: 0, Y: 250, Width: "50px", Height: "25px"},
	)

	// A move broadcast touches only its source.
	decode := decoder(t)
	v.Apply(decode(protocol.EncodePositions(protocol.PositionRecord{Name: 2, X: 500, Y: 250, Width: "50px", Height: "25px"})))
	if ids := v.SourceIDs(); len(ids) != 2 {
		t.Fatalf("ids %v", ids)
	}
	if p, _ := v.Panel(2); p.X != 0.5 {
		t.Fatalf("panel 2 %+v", p)
	}

	// The next resync drops sources that are gone, even with one left.
	applyBundle(t, v, protocol.PositionRecord{Name: 1, X: 0, Y: 0, Width: "10px", Height: "10px"})
	if ids := v.SourceIDs(); len(ids) != 1 || ids[0] != 1 {
		t.Fatalf("ids after resync %v", ids)
	}
}

func TestViewStateIgnoresPing(t *testing.T) {
	t.Parallel()
	v := NewViewState()
	v.Apply(protocol.Broadcast{Ping: true})
	select {
	case <-v.Changed():
		t.Fatal("ping should not signal a change")
	default:
	}
}
