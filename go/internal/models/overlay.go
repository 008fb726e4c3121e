package models

const (
	MaxInfoTitleLength       = 64
	MaxInfoDescriptionLength = 256

	// DefaultProposalCoordinate is used when a move proposal omits x or y.
	DefaultProposalCoordinate = 0.5
)

// Canvas is the output resolution of the scene in pixels.
type Canvas struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (c Canvas) Valid() bool {
	return c.Width > 0 && c.Height > 0
}

// MoveProposal is a viewer's request to place a source at a fractional position.
type MoveProposal struct {
	SourceID    SourceID
	RequesterID string
	X           float64
	Y           float64
}

// InfoCard is the short text attached to a source.
type InfoCard struct {
	Title       string `json:"title" yaml:"title"`
	Description string `json:"description" yaml:"description"`
}

// Truncated returns the card cut down to the published length limits.
func (c InfoCard) Truncated() InfoCard {
	return InfoCard{
		Title:       truncateRunes(c.Title, MaxInfoTitleLength),
		Description: truncateRunes(c.Description, MaxInfoDescriptionLength),
	}
}

func truncateRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}

// Lobby binds a controller identity to the one-time key it reserved.
type Lobby struct {
	ControllerIdentity string `json:"controller_identity"`
	OneTimeKey         string `json:"one_time_key"`
}
