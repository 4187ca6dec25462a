// internal/model/conversation.go
package model

import "time"

type ConversationStatus string

const (
	ConversationOpen    ConversationStatus = "open"
	ConversationPending ConversationStatus = "pending"
	ConversationSnoozed ConversationStatus = "snoozed"
	ConversationClosed  ConversationStatus = "closed"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Conversation is a contiguous thread with one contact on one
// ChannelAccount. At most one conversation exists per
// (channel account, contact identifier); it is reopened, not re-created,
// when a closed thread receives new inbound activity.
type Conversation struct {
	ID          string             `db:"id" json:"id"`
	TenantID    string             `db:"tenant_id" json:"tenant_id"`
	AccountID   string             `db:"account_id" json:"account_id"`
	ChannelType ChannelType        `db:"channel_type" json:"channel_type"`
	Status      ConversationStatus `db:"status" json:"status"`
	Priority    Priority           `db:"priority" json:"priority"`

	ContactIdentifier string `db:"contact_identifier" json:"contact_identifier"`
	ContactName       string `db:"contact_name" json:"contact_name,omitempty"`
	ContactPhone      string `db:"contact_phone" json:"contact_phone,omitempty"`
	ContactEmail      string `db:"contact_email" json:"contact_email,omitempty"`

	// Weak links into the wider CRM. Lead linking happens only at
	// conversation creation time; later leads are never retro-linked.
	LeadID        string `db:"lead_id" json:"lead_id,omitempty"`
	AssignedAgent string `db:"assigned_agent" json:"assigned_agent,omitempty"`

	Tags []string `db:"tags" json:"tags,omitempty"`

	// WhatsApp free-form reply window. Every inbound message re-arms the
	// window and clears RequiresTemplate; other channels leave both zero.
	WindowExpiresAt  *time.Time `db:"window_expires_at" json:"window_expires_at,omitempty"`
	RequiresTemplate bool       `db:"requires_template" json:"requires_template"`

	MessageCount int `db:"message_count" json:"message_count"`
	UnreadCount  int `db:"unread_count" json:"unread_count"`

	LastMessageAt   *time.Time `db:"last_message_at" json:"last_message_at,omitempty"`
	LastInboundAt   *time.Time `db:"last_inbound_at" json:"last_inbound_at,omitempty"`
	LastOutboundAt  *time.Time `db:"last_outbound_at" json:"last_outbound_at,omitempty"`
	FirstResponseAt *time.Time `db:"first_response_at" json:"first_response_at,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// HasTag reports whether the conversation already carries tag.
func (c *Conversation) HasTag(tag string) bool {
	for _, t := range c.Tags {
		if t == tag {
			return true
		}
	}
	return false
}
