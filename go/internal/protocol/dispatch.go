package protocol

import "github.com/mcdev12/chatplays/go/internal/models"

type Action int

const (
	ActionIgnore Action = iota
	ActionResync
	ActionMove
	ActionDrop
)

func (a Action) String() string {
	switch a {
	case ActionResync:
		return "resync"
	case ActionMove:
		return "move"
	case ActionDrop:
		return "drop"
	default:
		return "ignore"
	}
}

// Outcome tells the controller what to do with one inbound frame. Err is
// set only for ActionDrop.
type Outcome struct {
	Action   Action
	Proposal models.MoveProposal
	Err      error
}

// Session is the per-connection protocol state of a controller's relay link.
type Session struct {
	Hellos    int
	Proposals int
	Pings     int
	Dropped   int
}

// Dispatch decodes a frame and decides the controller's reaction. It does no
// I/O; the caller performs the resync or the move.
func Dispatch(s *Session, raw []byte) Outcome {
	in, err := Parse(raw)
	if err != nil {
		s.Dropped++
		return Outcome{Action: ActionDrop, Err: err}
	}
	switch in.Kind {
	case KindHello:
		s.Hellos++
		return Outcome{Action: ActionResync}
	case KindMove:
		s.Proposals++
		return Outcome{Action: ActionMove, Proposal: in.Proposal}
	case KindPing:
		s.Pings++
	}
	return Outcome{Action: ActionIgnore}
}
