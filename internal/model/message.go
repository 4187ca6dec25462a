// internal/model/message.go
package model

import "time"

type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

type MessageType string

const (
	TypeText     MessageType = "text"
	TypeImage    MessageType = "image"
	TypeVideo    MessageType = "video"
	TypeAudio    MessageType = "audio"
	TypeDocument MessageType = "document"
	TypeLocation MessageType = "location"
	TypeTemplate MessageType = "template"
	TypeEmail    MessageType = "email"
)

type MessageStatus string

const (
	StatusPending   MessageStatus = "pending"
	StatusQueued    MessageStatus = "queued"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusFailed    MessageStatus = "failed"
)

var statusRank = map[MessageStatus]int{
	StatusPending:   0,
	StatusQueued:    1,
	StatusSent:      2,
	StatusDelivered: 3,
	StatusRead:      4,
}

// CanTransition reports whether moving from -> to respects the monotonic
// status machine: stages never regress, and failed is terminal. Out-of-order
// provider webhooks that violate this are ignored, not errors.
func CanTransition(from, to MessageStatus) bool {
	if from == StatusFailed {
		return false
	}
	if to == StatusFailed {
		// A send can fail any time before it is confirmed delivered.
		return statusRank[from] < statusRank[StatusDelivered]
	}
	return statusRank[to] > statusRank[from]
}

// Content is the structured payload of a message. Exactly the fields for the
// message's type are set; Extra carries provider-specific passthrough data
// that has no canonical home.
type Content struct {
	Text string `json:"text,omitempty"`

	MediaURL  string `json:"media_url,omitempty"`
	MediaType string `json:"media_type,omitempty"`
	Caption   string `json:"caption,omitempty"`
	Filename  string `json:"filename,omitempty"`

	TemplateID string            `json:"template_id,omitempty"`
	Variables  map[string]string `json:"variables,omitempty"`

	Subject string   `json:"subject,omitempty"`
	Body    string   `json:"body,omitempty"`
	HTML    bool     `json:"html,omitempty"`
	CC      []string `json:"cc,omitempty"`
	BCC     []string `json:"bcc,omitempty"`

	Latitude  float64 `json:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty"`

	Extra map[string]any `json:"extra,omitempty"`
}

// Message is immutable append-only conversation history. ExternalID is the
// provider's own id and is unique within a conversation, which is what makes
// webhook redelivery idempotent.
type Message struct {
	ID             string        `db:"id" json:"id"`
	ConversationID string        `db:"conversation_id" json:"conversation_id"`
	ExternalID     string        `db:"external_id" json:"external_id,omitempty"`
	Direction      Direction     `db:"direction" json:"direction"`
	Type           MessageType   `db:"type" json:"type"`
	Content        Content       `db:"content" json:"content"`
	Text           string        `db:"text" json:"text,omitempty"`
	Status         MessageStatus `db:"status" json:"status"`

	ErrorCode    string `db:"error_code" json:"error_code,omitempty"`
	ErrorMessage string `db:"error_message" json:"error_message,omitempty"`

	SentAt      *time.Time `db:"sent_at" json:"sent_at,omitempty"`
	DeliveredAt *time.Time `db:"delivered_at" json:"delivered_at,omitempty"`
	ReadAt      *time.Time `db:"read_at" json:"read_at,omitempty"`
	FailedAt    *time.Time `db:"failed_at" json:"failed_at,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
