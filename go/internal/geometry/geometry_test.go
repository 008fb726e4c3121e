package geometry

import (
	"testing"

	"github.com/mcdev12/chatplays/go/internal/models"
)

func TestEffectiveFlippedHorizontally(t *testing.T) {
	t.Parallel()
	p := Effective(models.Transform{
		SourceWidth: 400, SourceHeight: 100,
		ScaleX: -0.5, ScaleY: 1,
		PositionX: 500, PositionY: 40,
	})
	if p.Width != 200 || p.X != 300 {
		t.Fatalf("expected width 200 at x 300, got %+v", p)
	}
	if p.Height != 100 || p.Y != 40 {
		t.Fatalf("unexpected vertical placement %+v", p)
	}
}

func TestEffectiveCropAndScale(t *testing.T) {
	t.Parallel()
	p := Effective(models.Transform{
		SourceWidth: 1920, SourceHeight: 1080,
		CropLeft: 100, CropRight: 20, CropTop: 80, CropBottom: 0,
		ScaleX: 0.5, ScaleY: -0.25,
		PositionX: 10, PositionY: 600,
	})
	if p.Width != 900 || p.X != 10 {
		t.Fatalf("unexpected horizontal placement %+v", p)
	}
	if p.Height != 250 || p.Y != 350 {
		t.Fatalf("unexpected vertical placement %+v", p)
	}
}

func TestEffectiveCropLargerThanSource(t *testing.T) {
	t.Parallel()
	p := Effective(models.Transform{SourceWidth: 100, CropLeft: 80, CropRight: 60, ScaleX: 2, ScaleY: 1})
	if p.Width != 80 {
		t.Fatalf("expected absolute cropped width 80, got %v", p.Width)
	}
}

func TestPixelConversion(t *testing.T) {
	t.Parallel()
	canvas := models.Canvas{Width: 1920, Height: 1080}
	x, y := ToPixels(canvas, 0.9, 0.5)
	if x != 1728 || y != 540 {
		t.Fatalf("expected (1728, 540), got (%v, %v)", x, y)
	}
	fx, fy := ToFraction(canvas, x, y)
	if fx != 0.9 || fy != 0.5 {
		t.Fatalf("expected (0.9, 0.5), got (%v, %v)", fx, fy)
	}
	if fx, fy := ToFraction(models.Canvas{}, 10, 10); fx != 0 || fy != 0 {
		t.Fatalf("invalid canvas should map to origin, got (%v, %v)", fx, fy)
	}
}

func TestFormatPixels(t *testing.T) {
	t.Parallel()
	for in, want := range map[float64]string{200: "200px", 199.5: "199.5px", 0: "0px"} {
		if got := FormatPixels(in); got != want {
			t.Fatalf("FormatPixels(%v) = %q, want %q", in, got, want)
		}
	}
}

func TestAnchorRoundTrip(t *testing.T) {
	t.Parallel()
	tr := models.Transform{SourceWidth: 400, SourceHeight: 100, ScaleX: -0.5, ScaleY: -1}
	tr.PositionX, tr.PositionY = Anchor(tr, 300, 20)
	if tr.PositionX != 500 || tr.PositionY != 120 {
		t.Fatalf("unexpected anchor (%v, %v)", tr.PositionX, tr.PositionY)
	}
	p := Effective(tr)
	if p.X != 300 || p.Y != 20 {
		t.Fatalf("expected top-left (300, 20), got %+v", p)
	}

	plain := models.Transform{SourceWidth: 10, SourceHeight: 10, ScaleX: 1, ScaleY: 1}
	if x, y := Anchor(plain, 1728, 540); x != 1728 || y != 540 {
		t.Fatalf("unflipped anchor should be identity, got (%v, %v)", x, y)
	}
}
