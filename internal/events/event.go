// Package events fans capture events out to websocket clients and MQTT.
package events

import (
	"time"

	"github.com/ayusman/depthcam/internal/capture"
)

// Event types.
const (
	TypeTransition = "transition"
	TypeStats      = "stats"
	TypeResult     = "consumer_result"
	TypeMotion     = "motion"
)

// Event is one notification published to subscribers.
type Event struct {
	Type      string    `json:"type" msgpack:"type"`
	At        time.Time `json:"at" msgpack:"at"`
	SessionID string    `json:"session_id,omitempty" msgpack:"session_id,omitempty"`
	SensorID  string    `json:"sensor_id,omitempty" msgpack:"sensor_id,omitempty"`
	From      string    `json:"from,omitempty" msgpack:"from,omitempty"`
	To        string    `json:"to,omitempty" msgpack:"to,omitempty"`
	Error     string    `json:"error,omitempty" msgpack:"error,omitempty"`
	Data      any       `json:"data,omitempty" msgpack:"data,omitempty"`
}

// FromTransition converts a controller transition to an Event.
func FromTransition(t capture.Transition) Event {
	e := Event{
		Type:      TypeTransition,
		At:        t.At,
		SessionID: t.SessionID,
		SensorID:  t.SensorID,
		From:      t.From.String(),
		To:        t.To.String(),
	}
	if t.Err != nil {
		e.Error = t.Err.Error()
	}
	return e
}

// Publisher accepts events. Publish must not block on slow receivers.
type Publisher interface {
	Publish(e Event)
}

// Multi publishes to every non-nil publisher in order.
type Multi []Publisher

// Publish implements Publisher.
func (m Multi) Publish(e Event) {
	for _, p := range m {
		if p != nil {
			p.Publish(e)
		}
	}
}
