// Package authz decides whether a move proposal may be applied and where the
// source ends up once it is clamped to its boundary.
package authz

import (
	"errors"
	"fmt"

	"github.com/mcdev12/chatplays/go/internal/models"
)

var (
	// ErrMissingPermissionSet means a source references permission data that
	// is not configured. It is a configuration defect and is never silent.
	ErrMissingPermissionSet = errors.New("missing permission set")
	// ErrMissingBoundary means a source references a boundary that is not configured.
	ErrMissingBoundary = errors.New("missing boundary")
)

type Outcome int

const (
	Accept Outcome = iota
	RejectSilently
)

func (o Outcome) String() string {
	switch o {
	case Accept:
		return "accept"
	case RejectSilently:
		return "reject_silently"
	default:
		return "unknown"
	}
}

const (
	ReasonNotMovable   = "not movable"
	ReasonLocked       = "locked"
	ReasonNotPermitted = "not permitted"
)

// Decision is the result of evaluating a proposal. X and Y are only
// meaningful when Outcome is Accept.
type Decision struct {
	Outcome Outcome
	X       float64
	Y       float64
	Reason  string
}

// Policy exposes the boundary and permission configuration a decision needs.
type Policy interface {
	Boundary(name string) (models.Boundary, bool)
	PermissionSet(name string) (models.PermissionSet, bool)
}

// Decide evaluates a proposal for src. The checks run in a fixed order so a
// requester cannot tell a locked source from one they may not move.
func Decide(p models.MoveProposal, src models.Source, policy Policy) (Decision, error) {
	if src.BoundaryKey == "" || !src.Movable {
		return reject(ReasonNotMovable), nil
	}
	if src.BoundaryKey == models.BoundaryLocked {
		return reject(ReasonLocked), nil
	}

	if src.PermissionKey != models.PermissionEveryone {
		if src.PermissionKey == "" {
			return Decision{}, fmt.Errorf("%w: source %s has no permission assignment", ErrMissingPermissionSet, src.ID)
		}
		set, ok := policy.PermissionSet(src.PermissionKey)
		if !ok {
			return Decision{}, fmt.Errorf("%w: %q", ErrMissingPermissionSet, src.PermissionKey)
		}
		if !set.Contains(p.RequesterID) {
			return reject(ReasonNotPermitted), nil
		}
	}

	if src.BoundaryKey == models.BoundaryNone {
		return Decision{Outcome: Accept, X: p.X, Y: p.Y}, nil
	}

	bound, ok := policy.Boundary(src.BoundaryKey)
	if !ok {
		return Decision{}, fmt.Errorf("%w: %q", ErrMissingBoundary, src.BoundaryKey)
	}
	x, y := bound.Clamp(p.X, p.Y)
	return Decision{Outcome: Accept, X: x, Y: y}, nil
}

func reject(reason string) Decision {
	return Decision{Outcome: RejectSilently, Reason: reason}
}
