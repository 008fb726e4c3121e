package controller

import (
	"context"
	"fmt"
	"sync"

	"github.com/mcdev12/chatplays/go/clients/identity"
	"github.com/mcdev12/chatplays/go/clients/obsws"
	"github.com/mcdev12/chatplays/go/internal/models"
	"github.com/mcdev12/chatplays/go/internal/scene"
	"github.com/mcdev12/chatplays/go/internal/settings"
)

// fakeScene is an in-memory scene service session.
type fakeScene struct {
	mu          sync.Mutex
	canvas      models.Canvas
	sceneName   string
	items       []scene.Item
	screenshots map[string][]byte
	setScenes   []string

	events    chan obsws.Event
	missed    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func newFakeScene() *fakeScene {
	return &fakeScene{
		canvas:    models.Canvas{Width: 1920, Height: 1080},
		sceneName: "Main",
		items: []scene.Item{
			{ID: 1, SourceName: "Camera", Enabled: true, Index: 3, Transform: models.Transform{SourceWidth: 200, SourceHeight: 100, ScaleX: 1, ScaleY: 1, PositionX: 10, PositionY: 20}},
			{ID: 2, SourceName: "Logo", Enabled: true, Index: 2, Transform: models.Transform{SourceWidth: 50, SourceHeight: 50, ScaleX: 1, ScaleY: 1}},
			{ID: 3, SourceName: "Chat", Enabled: true, Index: 1, Transform: models.Transform{SourceWidth: 300, SourceHeight: 600, ScaleX: 1, ScaleY: 1, PositionX: 100, PositionY: 400}},
		},
		screenshots: map[string][]byte{"Camera": []byte("png")},
		events:      make(chan obsws.Event, 8),
		missed:      make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
}

func (f *fakeScene) GetVideoSettings(context.Context) (models.Canvas, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.canvas, nil
}

func (f *fakeScene) GetSceneItemList(_ context.Context, name string) ([]scene.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if name != f.sceneName {
		return nil, fmt.Errorf("scene %q: %w", name, scene.ErrInvalidScene)
	}
	return append([]scene.Item(nil), f.items...), nil
}

func (f *fakeScene) GetSceneItemTransform(_ context.Context, _ string, id models.SourceID) (models.Transform, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, it := range f.items {
		if it.ID == id {
			return it.Transform, nil
		}
	}
	return models.Transform{}, scene.ErrNotFound
}

func (f *fakeScene) SetSceneItemTransform(_ context.Context, sceneName string, id models.SourceID, x, y float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setScenes = append(f.setScenes, sceneName)
	for i := range f.items {
		if f.items[i].ID == id {
			f.items[i].Transform.PositionX = x
			f.items[i].Transform.PositionY = y
			return nil
		}
	}
	return scene.ErrNotFound
}

func (f *fakeScene) GetSourceScreenshot(_ context.Context, name string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	img, ok := f.screenshots[name]
	if !ok {
		return nil, scene.ErrNotFound
	}
	return img, nil
}

func (f *fakeScene) setEnabled(id models.SourceID, enabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.items {
		if f.items[i].ID == id {
			f.items[i].Enabled = enabled
		}
	}
}

func (f *fakeScene) setSceneName(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sceneName = name
}

func (f *fakeScene) writtenScenes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.setScenes...)
}

func (f *fakeScene) setCanvas(c models.Canvas) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.canvas = c
}

func (f *fakeScene) Events() <-chan obsws.Event { return f.events }
func (f *fakeScene) Missed() <-chan struct{}    { return f.missed }
func (f *fakeScene) Done() <-chan struct{}      { return f.done }
func (f *fakeScene) Err() error                 { return scene.ErrDisconnected }

func (f *fakeScene) Close() error {
	f.closeOnce.Do(func() { close(f.done) })
	return nil
}

type memStore struct {
	mu    sync.Mutex
	s     *settings.Settings
	saves int
}

func (m *memStore) Load(context.Context) (*settings.Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.Clone(), nil
}

func (m *memStore) Save(_ context.Context, s *settings.Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.s = s.Clone()
	m.saves++
	return nil
}

func (m *memStore) saved() (*settings.Settings, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.Clone(), m.saves
}

type mapResolver map[string]string

func (r mapResolver) Resolve(_ context.Context, name string) (string, error) {
	id, ok := r[name]
	if !ok {
		return "", fmt.Errorf("%q: %w", name, identity.ErrInvalidIdentity)
	}
	return id, nil
}

func testSettings() *settings.Settings {
	s := settings.New()
	s.Boundaries["bottom"] = models.Boundary{Left: 0, Top: 0.5, Right: 1, Bottom: 1}
	s.Sources["1"] = settings.SourceSettings{Boundary: models.BoundaryNone, Permission: models.PermissionEveryone, Movable: true, Info: models.InfoCard{Title: "Cam"}}
	s.Sources["2"] = settings.SourceSettings{Boundary: models.BoundaryLocked, Permission: models.PermissionEveryone, Movable: true}
	s.Sources["3"] = settings.SourceSettings{Boundary: "bottom", Permission: "mods", Movable: true}
	s.PermissionSets["mods"] = []string{"42"}
	return s
}
