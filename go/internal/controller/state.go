package controller

import (
	"errors"

	"github.com/mcdev12/chatplays/go/clients/identity"
	"github.com/mcdev12/chatplays/go/clients/lobby"
	"github.com/mcdev12/chatplays/go/internal/scene"
)

// State is where the controller is in its connect chain.
type State int

const (
	StateDisconnected State = iota
	StateConnectingToScene
	StateSceneIdentified
	StateFetchingSceneState
	StateConnectingRelay
	StateLive

	StateAuthenticationError
	StateInvalidSceneName
	StateLobbyTaken
	StateInvalidIdentity
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnectingToScene:
		return "connecting_to_scene"
	case StateSceneIdentified:
		return "scene_identified"
	case StateFetchingSceneState:
		return "fetching_scene_state"
	case StateConnectingRelay:
		return "connecting_relay"
	case StateLive:
		return "live"
	case StateAuthenticationError:
		return "authentication_error"
	case StateInvalidSceneName:
		return "invalid_scene_name"
	case StateLobbyTaken:
		return "lobby_taken"
	case StateInvalidIdentity:
		return "invalid_identity"
	default:
		return "unknown"
	}
}

// Failed reports whether s is one of the error states that need operator action.
func (s State) Failed() bool {
	return s >= StateAuthenticationError
}

// classify maps a session error to the error state it puts the controller
// in. Errors that retrying cannot fix are fatal.
func classify(err error) (State, bool) {
	switch {
	case errors.Is(err, scene.ErrAuthentication):
		return StateAuthenticationError, true
	case errors.Is(err, scene.ErrInvalidScene):
		return StateInvalidSceneName, true
	case errors.Is(err, lobby.ErrLobbyTaken):
		return StateLobbyTaken, true
	case errors.Is(err, identity.ErrInvalidIdentity):
		return StateInvalidIdentity, true
	default:
		return StateDisconnected, false
	}
}
