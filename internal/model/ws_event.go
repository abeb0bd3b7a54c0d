package model

import "encoding/json"

// WSEvent is the envelope exchanged over a live connection. Client to
// server it carries subscribe/unsubscribe/ping; server to client it
// carries fanned-out messages tagged with their channel and event name.
type WSEvent struct {
	Type    string          `json:"type"`
	Channel string          `json:"channel,omitempty"`
	Event   string          `json:"event,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}
