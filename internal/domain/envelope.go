package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Envelope is the wire form of an outbound event: the event body tagged
// with its kind.
type Envelope struct {
	Kind   EventKind       `json:"kind"`
	Market string          `json:"market,omitempty"`
	Time   time.Time       `json:"time"`
	Data   json.RawMessage `json:"data"`
}

// EncodeEvent wraps ev in an Envelope stamped with at.
func EncodeEvent(ev Event, at time.Time) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("domain: encode %s: %w", ev.Kind(), err)
	}
	return json.Marshal(Envelope{Kind: ev.Kind(), Market: ev.MarketName(), Time: at.UTC(), Data: data})
}

// Topic names the stream an event belongs to: "{kind}" for account-wide
// events and "{kind}:{market}" otherwise.
func Topic(ev Event) string {
	if m := ev.MarketName(); m != "" {
		return string(ev.Kind()) + ":" + m
	}
	return string(ev.Kind())
}
