package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/mcdev12/chatplays/go/internal/geometry"
	"github.com/mcdev12/chatplays/go/internal/models"
)

// PositionRecord is the authoritative placement of one source as viewers see it.
type PositionRecord struct {
	Name   models.SourceID `json:"name"`
	X      float64         `json:"x"`
	Y      float64         `json:"y"`
	Width  string          `json:"width"`
	Height string          `json:"height"`
	Info   string          `json:"info"`
}

// NewPositionRecord builds the broadcast record for a source at placement p.
func NewPositionRecord(src models.Source, p geometry.Placement) PositionRecord {
	info := src.Info.Truncated().Title
	if info == "" {
		info = src.Name
	}
	return PositionRecord{
		Name:   src.ID,
		X:      p.X,
		Y:      p.Y,
		Width:  geometry.FormatPixels(p.Width),
		Height: geometry.FormatPixels(p.Height),
		Info:   info,
	}
}

type positionsEnvelope struct {
	Data []PositionRecord `json:"data"`
}

// EncodePositions renders a position broadcast. It is encoded once, unlike
// the configuration messages.
func EncodePositions(records ...PositionRecord) ([]byte, error) {
	if records == nil {
		records = []PositionRecord{}
	}
	data, err := json.Marshal(positionsEnvelope{Data: records})
	if err != nil {
		return nil, fmt.Errorf("encode positions: %w", err)
	}
	return data, nil
}

// CanvasSize is the payload of the obsSize configuration message.
type CanvasSize struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Config is the union of the configuration messages. Exactly one field is
// set on each message that goes out.
type Config struct {
	ObsSize    *CanvasSize                `json:"obsSize,omitempty"`
	Bounds     map[string]models.Boundary `json:"bounds,omitempty"`
	InfoWindow map[string]models.InfoCard `json:"infoWindow,omitempty"`
}

func EncodeCanvas(c models.Canvas) ([]byte, error) {
	return encodeConfig(Config{ObsSize: &CanvasSize{Width: c.Width, Height: c.Height}})
}

// EncodeBounds publishes boundary rectangles keyed by source id.
func EncodeBounds(bounds map[string]models.Boundary) ([]byte, error) {
	if bounds == nil {
		bounds = map[string]models.Boundary{}
	}
	return encodeConfigField("bounds", bounds)
}

// EncodeInfoWindows publishes info cards keyed by source id, truncated to
// the published limits.
func EncodeInfoWindows(cards map[string]models.InfoCard) ([]byte, error) {
	out := make(map[string]models.InfoCard, len(cards))
	for k, v := range cards {
		out[k] = v.Truncated()
	}
	return encodeConfigField("infoWindow", out)
}

// encodeConfig and encodeConfigField produce the double encoding deployed
// viewers parse: a JSON string whose content is the JSON object.
func encodeConfig(c Config) ([]byte, error) {
	inner, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return json.Marshal(string(inner))
}

// encodeConfigField keeps an empty map on the wire, which omitempty on
// Config would drop.
func encodeConfigField(field string, v any) ([]byte, error) {
	inner, err := json.Marshal(map[string]any{field: v})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", field, err)
	}
	return json.Marshal(string(inner))
}

// EncodeHello renders the structured hello viewers send on open.
func EncodeHello() []byte {
	return []byte(`{"data":"` + HelloText + `"}`)
}

// EncodeProposal renders a viewer move proposal.
func EncodeProposal(p models.MoveProposal) ([]byte, error) {
	data, err := json.Marshal(struct {
		Name string  `json:"name"`
		X    float64 `json:"x"`
		Y    float64 `json:"y"`
	}{Name: p.SourceID.String(), X: p.X, Y: p.Y})
	if err != nil {
		return nil, fmt.Errorf("encode proposal: %w", err)
	}
	return data, nil
}

// Broadcast is a decoded controller message as seen by a viewer.
type Broadcast struct {
	Ping      bool
	Positions []PositionRecord
	Config    *Config
}

// DecodeBroadcast parses a message fanned out by the relay.
func DecodeBroadcast(raw []byte) (Broadcast, error) {
	if string(raw) == PingText {
		return Broadcast{Ping: true}, nil
	}
	if len(raw) > 0 && raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return Broadcast{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		var cfg Config
		if err := json.Unmarshal([]byte(inner), &cfg); err != nil {
			return Broadcast{}, fmt.Errorf("%w: config: %v", ErrMalformed, err)
		}
		return Broadcast{Config: &cfg}, nil
	}

	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return Broadcast{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	var records []PositionRecord
	if err := json.Unmarshal(env.Data, &records); err != nil {
		return Broadcast{}, fmt.Errorf("%w: positions: %v", ErrMalformed, err)
	}
	return Broadcast{Positions: records}, nil
}
