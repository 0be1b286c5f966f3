package model

import (
	"encoding/json"
	"fmt"
)

type MessageType string

const (
	MessageTypeConnectionEstablished MessageType = "pusher:connection_established"
	MessageTypeSubscribe             MessageType = "pusher:subscribe"
	MessageTypeSubscribed            MessageType = "pusher_internal:subscription_succeeded"
	MessageTypePing                  MessageType = "pusher:ping"
	MessageTypePong                  MessageType = "pusher:pong"
	MessageTypeError                 MessageType = "pusher:error"
	MessageTypeJobCreated            MessageType = "PrintJobCreated"
	MessageTypeJobCreatedDotted      MessageType = ".PrintJobCreated"
)

// --- WebSocket Messages ---

// WSMessage is one Pusher protocol frame. Data is usually a JSON document
// encoded as a string; Decode handles both forms.
type WSMessage struct {
	Event   MessageType     `json:"event"`
	Channel string          `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"` // Keep raw to parse into specific structs
}

// Decode unmarshals the frame data into v, unwrapping a string-encoded
// payload first.
func (m WSMessage) Decode(v any) error {
	if len(m.Data) == 0 {
		return fmt.Errorf("event %s has no data", m.Event)
	}
	raw := []byte(m.Data)
	if raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return fmt.Errorf("unwrap %s data: %w", m.Event, err)
		}
		raw = []byte(inner)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode %s data: %w", m.Event, err)
	}
	return nil
}

// IsJobCreated matches both the plain and the dot-prefixed event name.
func (m WSMessage) IsJobCreated() bool {
	return m.Event == MessageTypeJobCreated || m.Event == MessageTypeJobCreatedDotted
}

type ConnectionEstablished struct {
	SocketID        string `json:"socket_id"`
	ActivityTimeout int    `json:"activity_timeout"`
}

type SubscribeData struct {
	Channel string `json:"channel"`
	Auth    string `json:"auth,omitempty"`
}

type PushError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// JobCreatedEvent is the payload of PrintJobCreated: {"model":{"id":20}}.
type JobCreatedEvent struct {
	Model struct {
		ID int64 `json:"id"`
	} `json:"model"`
}

// PushSignal is what the push listener hands to the job dispatcher.
type PushSignal struct {
	CatchUp bool
	JobID   int64
}
