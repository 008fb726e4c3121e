package scene

import (
	"context"
	"errors"

	"github.com/mcdev12/chatplays/go/internal/models"
)

var (
	ErrAuthentication = errors.New("scene service authentication failed")
	ErrInvalidScene   = errors.New("invalid scene name")
	ErrNotFound       = errors.New("scene item not found")
	ErrDisconnected   = errors.New("scene service disconnected")
)

// Item is one entry of a scene's item list.
type Item struct {
	ID         models.SourceID
	SourceName string
	Enabled    bool
	Index      int
	Transform  models.Transform
}

// Control is the subset of the scene service the overlay depends on.
type Control interface {
	GetVideoSettings(ctx context.Context) (models.Canvas, error)
	GetSceneItemList(ctx context.Context, sceneName string) ([]Item, error)
	GetSceneItemTransform(ctx context.Context, sceneName string, id models.SourceID) (models.Transform, error)
	SetSceneItemTransform(ctx context.Context, sceneName string, id models.SourceID, x, y float64) error
	GetSourceScreenshot(ctx context.Context, sourceName string) ([]byte, error)
}
