package obsws

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/andreykaipov/goobs/api/events"
	"github.com/andreykaipov/goobs/api/events/subscriptions"
)

// DefaultSubscriptions covers custom events, program scene changes and
// scene item changes.
const DefaultSubscriptions = subscriptions.General | subscriptions.Scenes | subscriptions.SceneItems

// Event is an unsolicited notification from the scene service. Data holds
// the event's fields as JSON; for a CustomEvent it is the custom payload.
type Event struct {
	Type string          `json:"eventType"`
	Data json.RawMessage `json:"eventData,omitempty"`
}

// Scene service event types the overlay reacts to.
const (
	EventSceneItemEnableStateChanged = "SceneItemEnableStateChanged"
	EventSceneItemCreated            = "SceneItemCreated"
	EventSceneItemRemoved            = "SceneItemRemoved"
	EventCurrentProgramSceneChanged  = "CurrentProgramSceneChanged"
	EventCustomEvent                 = "CustomEvent"
)

var forwarded = map[string]bool{
	EventSceneItemEnableStateChanged: true,
	EventSceneItemCreated:            true,
	EventSceneItemRemoved:            true,
	EventCurrentProgramSceneChanged:  true,
	EventCustomEvent:                 true,
}

// toEvent converts a decoded goobs event. Types the overlay ignores report
// false.
func toEvent(raw any) (Event, bool) {
	name := fmt.Sprintf("%T", raw)
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	if !forwarded[name] {
		return Event{}, false
	}

	var payload any = raw
	if ce, ok := raw.(*events.CustomEvent); ok {
		payload = ce.EventData
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, false
	}
	return Event{Type: name, Data: data}, true
}
