package p2p

import (
	"encoding/json"
	"fmt"

	"github.com/uhyunpark/roundmarket/pkg/events"
)

const wireVersion = 1

// EventWire is the gossip payload: one committed market event.
type EventWire struct {
	Version int          `json:"v"`
	Origin  string       `json:"origin"` // publishing peer id
	Event   events.Event `json:"event"`
}

func encodeEvent(origin string, ev events.Event) ([]byte, error) {
	return json.Marshal(EventWire{Version: wireVersion, Origin: origin, Event: ev})
}

func decodeEvent(b []byte) (EventWire, error) {
	var w EventWire
	if err := json.Unmarshal(b, &w); err != nil {
		return EventWire{}, err
	}
	if w.Version != wireVersion {
		return EventWire{}, fmt.Errorf("unsupported wire version %d", w.Version)
	}
	return w, nil
}
