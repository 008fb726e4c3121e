// Package protocol is the JSON wire format spoken between viewers, the relay
// and the controller.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/mcdev12/chatplays/go/internal/models"
)

const (
	HelloText = "Hello Server!"
	PingText  = "ping"

	// RequesterField is set by the relay on every forwarded viewer message.
	RequesterField = "userId"
)

var ErrMalformed = errors.New("malformed message")

type Kind int

const (
	KindIgnored Kind = iota
	KindHello
	KindPing
	KindMove
)

func (k Kind) String() string {
	switch k {
	case KindHello:
		return "hello"
	case KindPing:
		return "ping"
	case KindMove:
		return "move"
	default:
		return "ignored"
	}
}

// Inbound is a decoded message arriving at the controller.
type Inbound struct {
	Kind     Kind
	Proposal models.MoveProposal
}

// Parse classifies a raw frame. Hello accepts both the bare text form and
// the {"data": "Hello Server!"} envelope. Move proposals default missing
// coordinates to 0.5 and are clamped into [0,1].
func Parse(raw []byte) (Inbound, error) {
	msg := bytes.TrimSpace(raw)
	if len(msg) == 0 {
		return Inbound{}, fmt.Errorf("%w: empty frame", ErrMalformed)
	}

	switch string(msg) {
	case HelloText:
		return Inbound{Kind: KindHello}, nil
	case PingText:
		return Inbound{Kind: KindPing}, nil
	}

	switch msg[0] {
	case '"':
		var s string
		if err := json.Unmarshal(msg, &s); err != nil {
			return Inbound{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		switch s {
		case HelloText:
			return Inbound{Kind: KindHello}, nil
		case PingText:
			return Inbound{Kind: KindPing}, nil
		}
		return Inbound{}, fmt.Errorf("%w: unexpected text %q", ErrMalformed, s)
	case '{':
		return parseObject(msg)
	}
	return Inbound{}, fmt.Errorf("%w: unrecognised frame", ErrMalformed)
}

func parseObject(msg []byte) (Inbound, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(msg, &fields); err != nil {
		return Inbound{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if data, ok := fields["data"]; ok {
		var s string
		if err := json.Unmarshal(data, &s); err != nil || s != HelloText {
			return Inbound{}, fmt.Errorf("%w: unexpected data envelope", ErrMalformed)
		}
		return Inbound{Kind: KindHello}, nil
	}

	// Auth handshakes that reach the controller and legacy colour messages
	// carry nothing for it.
	if _, ok := fields["jwt"]; ok {
		return Inbound{Kind: KindIgnored}, nil
	}
	if _, ok := fields["color"]; ok {
		return Inbound{Kind: KindIgnored}, nil
	}

	name, ok := fields["name"]
	if !ok {
		return Inbound{}, fmt.Errorf("%w: no recognised fields", ErrMalformed)
	}
	id, err := decodeSourceID(name)
	if err != nil {
		return Inbound{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	x, err := decodeCoordinate(fields["x"])
	if err != nil {
		return Inbound{}, fmt.Errorf("%w: x: %v", ErrMalformed, err)
	}
	y, err := decodeCoordinate(fields["y"])
	if err != nil {
		return Inbound{}, fmt.Errorf("%w: y: %v", ErrMalformed, err)
	}
	requester, err := decodeRequester(fields[RequesterField])
	if err != nil {
		return Inbound{}, fmt.Errorf("%w: %s: %v", ErrMalformed, RequesterField, err)
	}

	return Inbound{
		Kind: KindMove,
		Proposal: models.MoveProposal{
			SourceID:    id,
			RequesterID: requester,
			X:           x,
			Y:           y,
		},
	}, nil
}

// decodeSourceID accepts both the numeric and string forms of an id.
func decodeSourceID(raw json.RawMessage) (models.SourceID, error) {
	var s string
	if len(raw) > 0 && raw[0] == '"' {
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, err
		}
	} else {
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return 0, err
		}
		s = n.String()
	}
	return models.ParseSourceID(s)
}

func decodeCoordinate(raw json.RawMessage) (float64, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return models.DefaultProposalCoordinate, nil
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("not a finite number")
	}
	return math.Min(1, math.Max(0, v)), nil
}

func decodeRequester(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		err := json.Unmarshal(raw, &s)
		return s, err
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", err
	}
	return n.String(), nil
}
