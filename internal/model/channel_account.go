// internal/model/channel_account.go
package model

import "time"

// ChannelType identifies the messaging surface a conversation lives on.
type ChannelType string

const (
	ChannelWhatsApp  ChannelType = "whatsapp"
	ChannelFacebook  ChannelType = "facebook"
	ChannelInstagram ChannelType = "instagram"
	ChannelSMS       ChannelType = "sms"
	ChannelEmail     ChannelType = "email"
)

// Provider keys used by the connector registry. For the Meta family the
// provider and channel type coincide; SMS fans out per gateway.
const (
	ProviderWhatsApp   = "whatsapp"
	ProviderFacebook   = "facebook"
	ProviderInstagram  = "instagram"
	ProviderBulkSMS    = "bulksms"
	ProviderClickatell = "clickatell"
	ProviderEmail365   = "email365"
)

type AccountStatus string

const (
	AccountActive   AccountStatus = "active"
	AccountInactive AccountStatus = "inactive"
	AccountError    AccountStatus = "error"
)

// ChannelAccount is one externally-addressable endpoint: a WhatsApp phone
// number id, a Facebook page, an Instagram account, an SMS sender id, or a
// mailbox. Accounts are created from configuration and deactivated, never
// deleted.
type ChannelAccount struct {
	ID           string        `db:"id" json:"id"`
	TenantID     string        `db:"tenant_id" json:"tenant_id"`
	ChannelType  ChannelType   `db:"channel_type" json:"channel_type"`
	Provider     string        `db:"provider" json:"provider"`
	ExternalID   string        `db:"external_id" json:"external_id"`
	DisplayName  string        `db:"display_name" json:"display_name"`
	SenderID     string        `db:"sender_id" json:"sender_id,omitempty"`
	EmailAddress string        `db:"email_address" json:"email_address,omitempty"`
	CredentialID string        `db:"credential_id" json:"credential_id"`
	Status       AccountStatus `db:"status" json:"status"`

	// Webhook authenticity material.
	VerifyToken   string `db:"verify_token" json:"-"`
	WebhookSecret string `db:"webhook_secret" json:"-"`

	// Daily send quota. SentToday is checked-and-incremented atomically by
	// the repository; LimitResetAt marks the next counter reset boundary.
	DailyLimit   int       `db:"daily_limit" json:"daily_limit"`
	SentToday    int       `db:"sent_today" json:"sent_today"`
	LimitResetAt time.Time `db:"limit_reset_at" json:"limit_reset_at"`

	Healthy         bool      `db:"healthy" json:"healthy"`
	HealthMessage   string    `db:"health_message" json:"health_message,omitempty"`
	LastHealthCheck *time.Time `db:"last_health_check" json:"last_health_check,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// NextResetBoundary returns the daily counter boundary following now
// (midnight UTC, matching the quota's "sent today" meaning).
func NextResetBoundary(now time.Time) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
}
