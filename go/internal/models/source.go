package models

import (
	"fmt"
	"strconv"
	"strings"
)

// SourceID identifies a scene item. It is the one canonical id type used
// everywhere past the wire codec.
type SourceID int64

func (id SourceID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// ParseSourceID accepts the decimal form used on the wire and in settings keys.
func ParseSourceID(s string) (SourceID, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid source id %q: %w", s, err)
	}
	return SourceID(v), nil
}

// Transform is the raw scene-item transform reported by the scene service.
type Transform struct {
	SourceWidth  float64 `json:"sourceWidth"`
	SourceHeight float64 `json:"sourceHeight"`
	CropLeft     float64 `json:"cropLeft"`
	CropRight    float64 `json:"cropRight"`
	CropTop      float64 `json:"cropTop"`
	CropBottom   float64 `json:"cropBottom"`
	ScaleX       float64 `json:"scaleX"`
	ScaleY       float64 `json:"scaleY"`
	PositionX    float64 `json:"positionX"`
	PositionY    float64 `json:"positionY"`
}

// Source is a scene item joined with its overlay settings.
type Source struct {
	ID            SourceID  `json:"id"`
	Name          string    `json:"name"`
	Index         int       `json:"index"`
	Transform     Transform `json:"transform"`
	Enabled       bool      `json:"enabled"`
	Movable       bool      `json:"movable"`
	BoundaryKey   string    `json:"boundary_key,omitempty"`
	PermissionKey string    `json:"permission_key,omitempty"`
	Info          InfoCard  `json:"info"`
}
