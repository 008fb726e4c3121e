package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mcdev12/chatplays/go/internal/models"
	"github.com/mcdev12/chatplays/go/internal/scene"
	"github.com/mcdev12/chatplays/go/internal/settings"
	"github.com/rs/zerolog/log"
)

// customEventKey marks custom scene events addressed to the overlay.
const customEventKey = "chatPlaysObs"

var errUnknownSource = errors.New("unknown source")

type boundaryEdit struct {
	SourceName string  `json:"sourceName"`
	Left       float64 `json:"left"`
	Top        float64 `json:"top"`
	Right      float64 `json:"right"`
	Bottom     float64 `json:"bottom"`
}

// operatorCommand is the body of a custom event. Several edits may arrive
// together; they apply in field order.
type operatorCommand struct {
	EditInfoCard *struct {
		SourceName  string `json:"sourceName"`
		Title       string `json:"title"`
		Description string `json:"description"`
	} `json:"EditInfoCard"`
	EditBoundary     *boundaryEdit `json:"EditBoundary"`
	EditBoundaryData *boundaryEdit `json:"EditBoundaryData"`
	EditMovable      *struct {
		SourceName string `json:"sourceName"`
		Movable    bool   `json:"movable"`
	} `json:"EditMovable"`
	AppendToAllowList *struct {
		Set        string `json:"set"`
		SourceName string `json:"sourceName"`
		Name       string `json:"name"`
	} `json:"AppendToAllowList"`
	SaveSettings *json.RawMessage `json:"SaveSettings"`
}

// parseOperatorCommand extracts the overlay command from custom event data.
// ok is false for custom events meant for someone else.
func parseOperatorCommand(data []byte) (operatorCommand, bool, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(data, &envelope); err != nil {
		return operatorCommand{}, false, fmt.Errorf("decode custom event: %w", err)
	}
	raw, ok := envelope[customEventKey]
	if !ok {
		return operatorCommand{}, false, nil
	}
	var cmd operatorCommand
	if err := json.Unmarshal(raw, &cmd); err != nil {
		return operatorCommand{}, true, fmt.Errorf("decode %s command: %w", customEventKey, err)
	}
	return cmd, true, nil
}

// apply edits s in place. It reports whether anything changed and whether
// the operator asked for the settings to be persisted.
func (cmd operatorCommand) apply(s *settings.Settings, table *scene.Table) (changed, save bool, err error) {
	lookup := func(name string) (models.Source, error) {
		src, ok := table.SourceByName(name)
		if !ok {
			return models.Source{}, fmt.Errorf("%w %q", errUnknownSource, name)
		}
		return src, nil
	}

	if e := cmd.EditInfoCard; e != nil {
		src, err := lookup(e.SourceName)
		if err != nil {
			return changed, false, err
		}
		s.SetInfoCard(src.ID.String(), models.InfoCard{Title: e.Title, Description: e.Description})
		changed = true
	}

	for _, e := range []*boundaryEdit{cmd.EditBoundary, cmd.EditBoundaryData} {
		if e == nil {
			continue
		}
		src, err := lookup(e.SourceName)
		if err != nil {
			return changed, false, err
		}
		switch src.BoundaryKey {
		case "", models.BoundaryNone, models.BoundaryLocked:
			return changed, false, fmt.Errorf("source %q has no named boundary to edit", e.SourceName)
		}
		b := models.Boundary{Left: e.Left, Top: e.Top, Right: e.Right, Bottom: e.Bottom}
		if err := s.SetBoundary(src.BoundaryKey, b); err != nil {
			return changed, false, err
		}
		changed = true
	}

	if e := cmd.EditMovable; e != nil {
		src, err := lookup(e.SourceName)
		if err != nil {
			return changed, false, err
		}
		s.SetMovable(src.ID.String(), e.Movable)
		changed = true
	}

	if e := cmd.AppendToAllowList; e != nil {
		set := e.Set
		if set == "" && e.SourceName != "" {
			src, err := lookup(e.SourceName)
			if err != nil {
				return changed, false, err
			}
			set = src.PermissionKey
		}
		if set == "" {
			return changed, false, errors.New("allow list edit names no permission set")
		}
		if err := s.AddPermissionMember(set, e.Name); err != nil {
			return changed, false, err
		}
		changed = true
	}

	return changed, cmd.SaveSettings != nil, nil
}

func (c *Controller) handleCustomEvent(ctx context.Context, l *link, data []byte) {
	cmd, ok, err := parseOperatorCommand(data)
	if err != nil {
		log.Warn().Err(err).Msg("ignoring custom event")
		return
	}
	if !ok {
		log.Debug().Msg("custom event not addressed to the overlay")
		return
	}

	next := c.currentSettings().Clone()
	changed, save, err := cmd.apply(next, c.table)
	if err != nil {
		log.Warn().Err(err).Msg("operator command rejected")
		return
	}

	if changed {
		c.mu.Lock()
		c.settings = next
		c.mu.Unlock()
		if err := c.resyncAll(ctx, l, "operator_command"); err != nil {
			log.Error().Err(err).Msg("failed to resync after operator command")
		}
	}
	if save {
		if err := c.deps.Store.Save(ctx, next); err != nil {
			log.Error().Err(err).Msg("failed to save settings")
			return
		}
		log.Info().Msg("settings saved")
	}
}
