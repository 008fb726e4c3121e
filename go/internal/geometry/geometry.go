// Package geometry converts scene-item transforms into on-canvas placements.
//
// This is the only place that knows how crop, scale and flip combine into a
// visible rectangle, so every caller that needs a size goes through Effective.
package geometry

import (
	"math"
	"strconv"

	"github.com/mcdev12/chatplays/go/internal/models"
)

// Placement is the visible rectangle of a source in canvas pixels.
type Placement struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

// Effective computes the rendered size of a transform and its top-left corner.
// A negative scale flips the item around its position, so the rectangle
// starts one width (or height) before it.
func Effective(t models.Transform) Placement {
	p := Placement{
		X:      t.PositionX,
		Y:      t.PositionY,
		Width:  math.Abs(t.SourceWidth-t.CropLeft-t.CropRight) * math.Abs(t.ScaleX),
		Height: math.Abs(t.SourceHeight-t.CropTop-t.CropBottom) * math.Abs(t.ScaleY),
	}
	if t.ScaleX < 0 {
		p.X = t.PositionX - p.Width
	}
	if t.ScaleY < 0 {
		p.Y = t.PositionY - p.Height
	}
	return p
}

// Anchor is the inverse of Effective for position: it returns the transform
// position that puts the visible top-left corner at (x, y).
func Anchor(t models.Transform, x, y float64) (float64, float64) {
	p := Effective(t)
	if t.ScaleX < 0 {
		x += p.Width
	}
	if t.ScaleY < 0 {
		y += p.Height
	}
	return x, y
}

// ToPixels maps a fractional point onto the canvas.
func ToPixels(c models.Canvas, fx, fy float64) (float64, float64) {
	return fx * c.Width, fy * c.Height
}

// ToFraction maps a pixel point back to canvas fractions. An invalid canvas
// yields the origin.
func ToFraction(c models.Canvas, px, py float64) (float64, float64) {
	if !c.Valid() {
		return 0, 0
	}
	return px / c.Width, py / c.Height
}

// FormatPixels renders a length the way viewers expect it, e.g. "200px".
func FormatPixels(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64) + "px"
}
