package model

import (
	"encoding/json"
	"time"
)

// Sender types recorded on a message row.
const (
	SenderUser   = "user"
	SenderSystem = "system"
)

// Message is one published event. The three delivery counts are NULL
// until the dispatcher has settled the fanout; reconciliation keys on
// that to detect messages that were committed but never dispatched.
type Message struct {
	ID               string          `json:"id"`
	EventName        string          `json:"event_name"`
	ChannelID        string          `json:"channel_id"`
	ChannelName      string          `json:"channel_name"`
	Payload          json.RawMessage `json:"payload,omitempty"`
	SenderType       string          `json:"sender_type"`
	SenderID         *string         `json:"sender_id,omitempty"`
	WSAudienceCount  *int            `json:"ws_audience_count,omitempty"`
	WHAudienceCount  *int            `json:"wh_audience_count,omitempty"`
	WHDeliveredCount *int            `json:"wh_delivered_count,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

// PublishRequest is the payload of POST /realtime/publish.
type PublishRequest struct {
	Channel   string          `json:"channel"`
	EventName string          `json:"event_name"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// MessageFilter narrows List queries. Zero values mean "no filter".
type MessageFilter struct {
	ChannelID string
	EventName string
	Limit     int
	Offset    int
}

// StatsFilter narrows Stats queries.
type StatsFilter struct {
	ChannelID string
	Since     time.Time
}

// EventCount is one entry of the top-events ranking.
type EventCount struct {
	EventName string `json:"event_name"`
	Count     int64  `json:"count"`
}

// Stats is the aggregate report over persisted messages.
type Stats struct {
	TotalMessages       int64        `json:"total_messages"`
	WebhookDeliveryRate float64      `json:"webhook_delivery_rate"`
	TopEvents           []EventCount `json:"top_events"`
}

// WebhookEvent is the body POSTed to each configured webhook URL.
type WebhookEvent struct {
	MessageID   string          `json:"message_id"`
	ChannelName string          `json:"channel_name"`
	EventName   string          `json:"event_name"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	SentAt      time.Time       `json:"sent_at"`
}
