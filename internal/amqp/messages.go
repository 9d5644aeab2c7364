package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"ledgerlens/internal/events"
)

// EventMessage is the wire form of a ledger event on the exchange.
type EventMessage struct {
	ID        string          `json:"id"`
	Type      events.Type     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewEventMessage encodes the event payload eagerly so marshal errors
// surface before anything touches the channel.
func NewEventMessage(e events.Event) (*EventMessage, error) {
	msg := &EventMessage{ID: e.ID, Type: e.Type, Timestamp: e.Time}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	if e.Data != nil {
		data, err := json.Marshal(e.Data)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", e.Type, err)
		}
		msg.Data = data
	}
	return msg, nil
}

// ToJSON converts the message to JSON bytes
func (m *EventMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// EventMessageFromJSON decodes a delivery body.
func EventMessageFromJSON(data []byte) (*EventMessage, error) {
	var msg EventMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("event message without type")
	}
	return &msg, nil
}
