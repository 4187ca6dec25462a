package connector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inboxd/omnichannel-backend/internal/model"
)

type staticTokens string

func (s staticTokens) Token(ctx context.Context, credentialID string) (string, error) {
	return string(s), nil
}

func emailAccount(secret string) *model.ChannelAccount {
	return &model.ChannelAccount{
		ChannelType:   model.ChannelEmail,
		Provider:      model.ProviderEmail365,
		ExternalID:    "support@inboxd.example",
		EmailAddress:  "support@inboxd.example",
		WebhookSecret: secret,
	}
}

func TestGraphClientStateVerification(t *testing.T) {
	c, err := newEmail365Connector(emailAccount("cs-secret"), Deps{})
	require.NoError(t, err)

	good := []byte(`{"value":[{"clientState":"cs-secret","changeType":"created"}]}`)
	bad := []byte(`{"value":[{"clientState":"wrong","changeType":"created"}]}`)
	mixed := []byte(`{"value":[{"clientState":"cs-secret"},{"clientState":"wrong"}]}`)
	empty := []byte(`{"value":[]}`)

	assert.True(t, c.VerifyWebhook(good, ""))
	assert.False(t, c.VerifyWebhook(bad, ""))
	assert.False(t, c.VerifyWebhook(mixed, ""), "every notification in the batch must match")
	assert.False(t, c.VerifyWebhook(empty, ""))
}

func TestGraphParseWebhookFetchesMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]any{
			"id":             "msg-1",
			"subject":        "Quote request",
			"bodyPreview":    "Hi, I would like a quote",
			"conversationId": "thread-1",
			"from": map[string]any{
				"emailAddress": map[string]any{"name": "Anna Botha", "address": "anna@example.com"},
			},
			"body": map[string]any{"contentType": "html", "content": "<p>Hi, I would like a quote</p>"},
		})
	}))
	defer srv.Close()

	conn, err := newEmail365Connector(emailAccount(""), Deps{
		HTTPClient: srv.Client(),
		Tokens:     staticTokens("tok-1"),
		Limiters:   NewLimiterPool(),
	})
	require.NoError(t, err)
	c := conn.(*email365Connector)
	c.baseURL = srv.URL

	payload := []byte(`{"value":[{"changeType":"created","resourceData":{"id":"msg-1"}}]}`)
	inbound, updates, err := c.ParseWebhook(payload)
	require.NoError(t, err)
	assert.Empty(t, updates)
	require.Len(t, inbound, 1)

	im := inbound[0]
	assert.Equal(t, "msg-1", im.ExternalID)
	assert.Equal(t, "anna@example.com", im.SenderEmail)
	assert.Equal(t, "Anna Botha", im.SenderName)
	assert.Equal(t, model.TypeEmail, im.Type)
	assert.Equal(t, "Quote request", im.Content.Subject)
	assert.True(t, im.Content.HTML)
	assert.Equal(t, "thread-1", im.ThreadID)
}

func TestGraphParseSkipsOwnMail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"id": "msg-2",
			"from": map[string]any{
				"emailAddress": map[string]any{"address": "support@inboxd.example"},
			},
		})
	}))
	defer srv.Close()

	conn, err := newEmail365Connector(emailAccount(""), Deps{
		HTTPClient: srv.Client(),
		Tokens:     staticTokens("tok-1"),
		Limiters:   NewLimiterPool(),
	})
	require.NoError(t, err)
	c := conn.(*email365Connector)
	c.baseURL = srv.URL

	payload := []byte(`{"value":[{"changeType":"created","resourceData":{"id":"msg-2"}}]}`)
	inbound, _, err := c.ParseWebhook(payload)
	require.NoError(t, err)
	assert.Empty(t, inbound, "mail sent by the mailbox itself is not inbound")
}
