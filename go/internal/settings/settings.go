// Package settings holds the operator's overlay configuration: named
// boundaries, per-source assignments, permission sets and info cards.
package settings

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/mcdev12/chatplays/go/internal/models"
	"github.com/mcdev12/chatplays/go/internal/scene"
	"github.com/rs/zerolog/log"
)

var (
	ErrReservedName    = errors.New("reserved name")
	ErrUnknownBoundary = errors.New("unknown boundary")
)

// Settings is keyed by the decimal form of the source id, the same key the
// viewers use.
type Settings struct {
	Boundaries     map[string]models.Boundary `yaml:"boundaries" json:"boundaries"`
	Sources        map[string]SourceSettings  `yaml:"sources" json:"sources"`
	PermissionSets map[string][]string        `yaml:"permission_sets" json:"permission_sets"`
}

type SourceSettings struct {
	Boundary   string          `yaml:"boundary" json:"boundary"`
	Permission string          `yaml:"permission" json:"permission"`
	Movable    bool            `yaml:"movable" json:"movable"`
	Info       models.InfoCard `yaml:"info" json:"info"`
}

func New() *Settings {
	s := &Settings{}
	s.ensureMaps()
	return s
}

func (s *Settings) ensureMaps() {
	if s.Boundaries == nil {
		s.Boundaries = make(map[string]models.Boundary)
	}
	if s.Sources == nil {
		s.Sources = make(map[string]SourceSettings)
	}
	if s.PermissionSets == nil {
		s.PermissionSets = make(map[string][]string)
	}
}

// Validate rejects inverted or out-of-range boundaries and assignments that
// name a boundary that does not exist.
func (s *Settings) Validate() error {
	for name, b := range s.Boundaries {
		if name == models.BoundaryNone || name == models.BoundaryLocked {
			return fmt.Errorf("boundary %q: %w", name, ErrReservedName)
		}
		if err := b.Validate(); err != nil {
			return fmt.Errorf("boundary %q: %w", name, err)
		}
	}
	if _, ok := s.PermissionSets[models.PermissionEveryone]; ok {
		return fmt.Errorf("permission set %q: %w", models.PermissionEveryone, ErrReservedName)
	}
	for key, src := range s.Sources {
		if _, err := models.ParseSourceID(key); err != nil {
			return fmt.Errorf("source key: %w", err)
		}
		switch src.Boundary {
		case "", models.BoundaryNone, models.BoundaryLocked:
		default:
			if _, ok := s.Boundaries[src.Boundary]; !ok {
				return fmt.Errorf("source %s: %w %q", key, ErrUnknownBoundary, src.Boundary)
			}
		}
	}
	return nil
}

// Clone returns a deep copy.
func (s *Settings) Clone() *Settings {
	out := New()
	for k, v := range s.Boundaries {
		out.Boundaries[k] = v
	}
	for k, v := range s.Sources {
		out.Sources[k] = v
	}
	for k, v := range s.PermissionSets {
		out.PermissionSets[k] = append([]string(nil), v...)
	}
	return out
}

// Join attaches each scene item's settings and produces the source list.
func (s *Settings) Join(items []scene.Item) []models.Source {
	out := make([]models.Source, 0, len(items))
	for _, it := range items {
		cfg := s.Sources[it.ID.String()]
		out = append(out, models.Source{
			ID:            it.ID,
			Name:          it.SourceName,
			Index:         it.Index,
			Transform:     it.Transform,
			Enabled:       it.Enabled,
			Movable:       cfg.Movable,
			BoundaryKey:   cfg.Boundary,
			PermissionKey: cfg.Permission,
			Info:          cfg.Info,
		})
	}
	return out
}

func (s *Settings) SetInfoCard(key string, card models.InfoCard) {
	s.ensureMaps()
	src := s.Sources[key]
	src.Info = card.Truncated()
	s.Sources[key] = src
}

// SetBoundary defines or replaces a named boundary.
func (s *Settings) SetBoundary(name string, b models.Boundary) error {
	if name == models.BoundaryNone || name == models.BoundaryLocked {
		return fmt.Errorf("boundary %q: %w", name, ErrReservedName)
	}
	if err := b.Validate(); err != nil {
		return fmt.Errorf("boundary %q: %w", name, err)
	}
	s.ensureMaps()
	s.Boundaries[name] = b
	return nil
}

func (s *Settings) AssignBoundary(key, name string) error {
	switch name {
	case "", models.BoundaryNone, models.BoundaryLocked:
	default:
		if _, ok := s.Boundaries[name]; !ok {
			return fmt.Errorf("%w %q", ErrUnknownBoundary, name)
		}
	}
	s.ensureMaps()
	src := s.Sources[key]
	src.Boundary = name
	s.Sources[key] = src
	return nil
}

func (s *Settings) SetMovable(key string, movable bool) {
	s.ensureMaps()
	src := s.Sources[key]
	src.Movable = movable
	s.Sources[key] = src
}

// AddPermissionMember appends a member to a set, creating the set if needed.
// Adding an existing member is a no-op.
func (s *Settings) AddPermissionMember(set, member string) error {
	if set == models.PermissionEveryone {
		return fmt.Errorf("permission set %q: %w", set, ErrReservedName)
	}
	member = strings.TrimSpace(member)
	if member == "" {
		return errors.New("empty permission member")
	}
	s.ensureMaps()
	for _, m := range s.PermissionSets[set] {
		if strings.EqualFold(m, member) {
			return nil
		}
	}
	s.PermissionSets[set] = append(s.PermissionSets[set], member)
	return nil
}

// PublishedBounds returns the boundary each source is subject to, keyed by
// source id, in the form viewers consume. Locked sources get a zero-size
// rectangle at their current position; unassigned and unconstrained sources
// are omitted.
func (s *Settings) PublishedBounds(sources []models.Source, canvas models.Canvas, position func(models.Source) (float64, float64)) map[string]models.Boundary {
	out := make(map[string]models.Boundary)
	for _, src := range sources {
		switch src.BoundaryKey {
		case "", models.BoundaryNone:
		case models.BoundaryLocked:
			if !canvas.Valid() {
				continue
			}
			x, y := position(src)
			out[src.ID.String()] = models.Boundary{Left: x, Top: y, Right: x, Bottom: y}
		default:
			if b, ok := s.Boundaries[src.BoundaryKey]; ok {
				out[src.ID.String()] = b
			}
		}
	}
	return out
}

// PublishedInfoCards returns the info card of every source that has one.
func (s *Settings) PublishedInfoCards(sources []models.Source) map[string]models.InfoCard {
	out := make(map[string]models.InfoCard)
	for _, src := range sources {
		if src.Info.Title == "" && src.Info.Description == "" {
			continue
		}
		out[src.ID.String()] = src.Info.Truncated()
	}
	return out
}

// Resolver maps a display name to an external id.
type Resolver interface {
	Resolve(ctx context.Context, name string) (string, error)
}

// Policy is the resolved form of the settings used for authorization.
type Policy struct {
	Bounds map[string]models.Boundary
	Sets   map[string]models.PermissionSet
}

func (p Policy) Boundary(name string) (models.Boundary, bool) {
	b, ok := p.Bounds[name]
	return b, ok
}

func (p Policy) PermissionSet(name string) (models.PermissionSet, bool) {
	set, ok := p.Sets[name]
	return set, ok
}

// ResolvePolicy turns permission members into external ids. Purely numeric
// members are taken as ids already; names go through r. A name that cannot
// be resolved is skipped so one typo does not lock everyone else out.
func (s *Settings) ResolvePolicy(ctx context.Context, r Resolver) (Policy, error) {
	p := Policy{
		Bounds: make(map[string]models.Boundary, len(s.Boundaries)),
		Sets:   make(map[string]models.PermissionSet, len(s.PermissionSets)),
	}
	for k, v := range s.Boundaries {
		p.Bounds[k] = v
	}

	names := make([]string, 0, len(s.PermissionSets))
	for name := range s.PermissionSets {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		ids := make([]string, 0, len(s.PermissionSets[name]))
		for _, member := range s.PermissionSets[name] {
			if isNumeric(member) || r == nil {
				ids = append(ids, member)
				continue
			}
			id, err := r.Resolve(ctx, member)
			if err != nil {
				if ctx.Err() != nil {
					return Policy{}, ctx.Err()
				}
				log.Warn().
					Err(err).
					Str("permission_set", name).
					Str("member", member).
					Msg("could not resolve permission member")
				continue
			}
			ids = append(ids, id)
		}
		p.Sets[name] = models.NewPermissionSet(name, ids...)
	}
	return p, nil
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
