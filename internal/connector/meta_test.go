package connector

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inboxd/omnichannel-backend/internal/model"
)

const waInboundFixture = `{
  "object": "whatsapp_business_account",
  "entry": [{
    "id": "WABA_ID",
    "changes": [{
      "value": {
        "metadata": {"display_phone_number": "27600001111", "phone_number_id": "phone-1"},
        "contacts": [{"wa_id": "27821234567", "profile": {"name": "Sipho Dlamini"}}],
        "messages": [{
          "id": "wamid.abc123",
          "from": "27821234567",
          "timestamp": "1700000000",
          "type": "text",
          "text": {"body": "Hi, do you deliver?"}
        }]
      }
    }]
  }]
}`

const waStatusFixture = `{
  "object": "whatsapp_business_account",
  "entry": [{
    "changes": [{
      "value": {
        "metadata": {"phone_number_id": "phone-1"},
        "statuses": [
          {"id": "wamid.out1", "status": "delivered", "timestamp": "1700000100"},
          {"id": "wamid.out2", "status": "failed", "timestamp": "1700000200",
           "errors": [{"code": 131047, "title": "Re-engagement message"}]}
        ]
      }
    }]
  }]
}`

func waConn(secret string) *whatsappConnector {
	account := &model.ChannelAccount{
		ChannelType:   model.ChannelWhatsApp,
		Provider:      model.ProviderWhatsApp,
		ExternalID:    "phone-1",
		WebhookSecret: secret,
	}
	c, _ := newWhatsAppConnector(account, Deps{})
	return c.(*whatsappConnector)
}

func TestWhatsAppParseInbound(t *testing.T) {
	inbound, updates, err := waConn("").ParseWebhook([]byte(waInboundFixture))
	require.NoError(t, err)
	require.Len(t, inbound, 1)
	assert.Empty(t, updates)

	im := inbound[0]
	assert.Equal(t, "phone-1", im.AccountExternalID, "messages carry their entry's phone_number_id")
	assert.Equal(t, "wamid.abc123", im.ExternalID)
	assert.Equal(t, "27821234567", im.SenderID)
	assert.Equal(t, "Sipho Dlamini", im.SenderName)
	assert.Equal(t, "+27821234567", im.SenderPhone)
	assert.Equal(t, model.TypeText, im.Type)
	assert.Equal(t, "Hi, do you deliver?", im.Text)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), im.Timestamp)
}

func TestWhatsAppParseStatuses(t *testing.T) {
	inbound, updates, err := waConn("").ParseWebhook([]byte(waStatusFixture))
	require.NoError(t, err)
	assert.Empty(t, inbound)
	require.Len(t, updates, 2)

	assert.Equal(t, "wamid.out1", updates[0].ExternalID)
	assert.Equal(t, "phone-1", updates[0].AccountExternalID)
	assert.Equal(t, model.StatusDelivered, updates[0].Status)

	assert.Equal(t, "wamid.out2", updates[1].ExternalID)
	assert.Equal(t, model.StatusFailed, updates[1].Status)
	assert.Equal(t, "131047", updates[1].ErrorCode)
	assert.Equal(t, "Re-engagement message", updates[1].ErrorMessage)
}

func TestMetaSignatureVerification(t *testing.T) {
	secret := "app-secret"
	body := []byte(`{"object":"whatsapp_business_account","entry":[]}`)

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	good := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	conn := waConn(secret)
	assert.True(t, conn.VerifyWebhook(body, good))
	assert.False(t, conn.VerifyWebhook(body, "sha256=deadbeef"))
	assert.False(t, conn.VerifyWebhook([]byte(`{"tampered":true}`), good))

	// No secret configured means no check.
	assert.True(t, waConn("").VerifyWebhook(body, ""))
}

const fbInboundFixture = `{
  "object": "page",
  "entry": [{
    "id": "page-1",
    "messaging": [
      {"sender": {"id": "psid-9"}, "timestamp": 1700000000000,
       "message": {"mid": "mid.1", "text": "Is this still available?"}},
      {"sender": {"id": "page-1"}, "timestamp": 1700000001000,
       "message": {"mid": "mid.echo", "text": "yes", "is_echo": true}},
      {"sender": {"id": "psid-9"}, "timestamp": 1700000002000,
       "delivery": {"mids": ["mid.out1"]}}
    ]
  }]
}`

func TestMessengerParseSkipsEchoes(t *testing.T) {
	account := &model.ChannelAccount{
		ChannelType: model.ChannelFacebook,
		Provider:    model.ProviderFacebook,
		ExternalID:  "page-1",
	}
	c, err := newMessengerConnector(account, Deps{})
	require.NoError(t, err)

	inbound, updates, err := c.ParseWebhook([]byte(fbInboundFixture))
	require.NoError(t, err)

	require.Len(t, inbound, 1, "echo events must be skipped")
	assert.Equal(t, "page-1", inbound[0].AccountExternalID)
	assert.Equal(t, "mid.1", inbound[0].ExternalID)
	assert.Equal(t, "psid-9", inbound[0].SenderID)

	require.Len(t, updates, 1)
	assert.Equal(t, "mid.out1", updates[0].ExternalID)
	assert.Equal(t, model.StatusDelivered, updates[0].Status)
}

func TestNormalizePhone(t *testing.T) {
	cases := map[string]string{
		"+27 82 123 4567": "+27821234567",
		"0821234567":      "+27821234567",
		"27821234567":     "+27821234567",
		"0027821234567":   "+27821234567",
		"+1 (555) 010-99": "+155501099",
		"":                "",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizePhone(in), "input %q", in)
	}
}
