package models

import (
	"errors"
	"fmt"
	"math"
)

const (
	// BoundaryNone lets a source move anywhere on the canvas.
	BoundaryNone = "none"
	// BoundaryLocked rejects every move of a source.
	BoundaryLocked = "locked"
	// PermissionEveryone admits every requester.
	PermissionEveryone = "everyone"
)

var ErrInvalidBoundary = errors.New("invalid boundary")

// Boundary is a rectangle in canvas fractions.
type Boundary struct {
	Left   float64 `json:"left" yaml:"left"`
	Top    float64 `json:"top" yaml:"top"`
	Right  float64 `json:"right" yaml:"right"`
	Bottom float64 `json:"bottom" yaml:"bottom"`
}

// Validate checks that every edge is inside [0,1] and the rectangle is not inverted.
func (b Boundary) Validate() error {
	for _, v := range []float64{b.Left, b.Top, b.Right, b.Bottom} {
		if math.IsNaN(v) || v < 0 || v > 1 {
			return fmt.Errorf("%w: edge %v outside [0,1]", ErrInvalidBoundary, v)
		}
	}
	if b.Left > b.Right {
		return fmt.Errorf("%w: left %v > right %v", ErrInvalidBoundary, b.Left, b.Right)
	}
	if b.Top > b.Bottom {
		return fmt.Errorf("%w: top %v > bottom %v", ErrInvalidBoundary, b.Top, b.Bottom)
	}
	return nil
}

// Clamp pulls a fractional point into the rectangle.
func (b Boundary) Clamp(x, y float64) (float64, float64) {
	return clamp(x, b.Left, b.Right), clamp(y, b.Top, b.Bottom)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// PermissionSet is a named set of external viewer ids.
type PermissionSet struct {
	Name    string
	Members map[string]struct{}
}

func NewPermissionSet(name string, members ...string) PermissionSet {
	set := PermissionSet{Name: name, Members: make(map[string]struct{}, len(members))}
	for _, m := range members {
		set.Members[m] = struct{}{}
	}
	return set
}

func (p PermissionSet) Contains(id string) bool {
	if id == "" {
		return false
	}
	_, ok := p.Members[id]
	return ok
}
