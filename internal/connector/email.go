// internal/connector/email.go
package connector

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/inboxd/omnichannel-backend/internal/model"
)

func init() {
	Register(model.ProviderEmail365, newEmail365Connector)
}

const msGraphBaseURL = "https://graph.microsoft.com/v1.0"

// email365Connector reads and sends mail through the Microsoft Graph API.
// The account's external ID is the mailbox address; change notifications
// are verified by the clientState echoed in each notification.
type email365Connector struct {
	account *model.ChannelAccount
	deps    Deps
	baseURL string
}

func newEmail365Connector(account *model.ChannelAccount, deps Deps) (Connector, error) {
	return &email365Connector{account: account, deps: deps, baseURL: msGraphBaseURL}, nil
}

func (e *email365Connector) mailbox() string {
	if e.account.EmailAddress != "" {
		return e.account.EmailAddress
	}
	return e.account.ExternalID
}

func (e *email365Connector) SendText(ctx context.Context, recipient, text string) Result {
	return e.SendEmail(ctx, recipient, EmailSpec{Subject: "", Body: text})
}

func (e *email365Connector) SendMedia(ctx context.Context, recipient string, content model.Content) Result {
	body := content.Caption
	if body == "" {
		body = content.Text
	}
	if content.MediaURL != "" {
		body += "\n\n" + content.MediaURL
	}
	return e.SendEmail(ctx, recipient, EmailSpec{Subject: content.Subject, Body: body})
}

func (e *email365Connector) SendTemplate(ctx context.Context, recipient, templateID string, vars map[string]string) Result {
	return Result{Success: false, Status: model.StatusFailed,
		ErrorCode: "unsupported", ErrorMessage: "template messages are not supported on this channel"}
}

func (e *email365Connector) SendEmail(ctx context.Context, recipient string, spec EmailSpec) Result {
	if err := e.deps.Limiters.Wait(ctx, e.account.Provider); err != nil {
		return Result{Success: false, Status: model.StatusFailed, ErrorCode: "transport", ErrorMessage: err.Error()}
	}
	tok, err := e.deps.Tokens.Token(ctx, e.account.CredentialID)
	if err != nil {
		return Result{Success: false, Status: model.StatusFailed, ErrorCode: "auth", ErrorMessage: err.Error()}
	}

	contentType := "Text"
	if spec.HTML {
		contentType = "HTML"
	}
	message := map[string]any{
		"subject": spec.Subject,
		"body":    map[string]any{"contentType": contentType, "content": spec.Body},
		"toRecipients": []map[string]any{
			{"emailAddress": map[string]any{"address": recipient}},
		},
	}
	if len(spec.CC) > 0 {
		message["ccRecipients"] = addressList(spec.CC)
	}
	if len(spec.BCC) > 0 {
		message["bccRecipients"] = addressList(spec.BCC)
	}

	raw, _ := json.Marshal(map[string]any{"message": message, "saveToSentItems": true})
	url := fmt.Sprintf("%s/users/%s/sendMail", e.baseURL, e.mailbox())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return Result{Success: false, Status: model.StatusFailed, ErrorCode: "transport", ErrorMessage: err.Error()}
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Content-Type", "application/json")
	resp, err := e.deps.HTTPClient.Do(req)
	if err != nil {
		return Result{Success: false, Status: model.StatusFailed, ErrorCode: "transport", ErrorMessage: err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		raw, _ := io.ReadAll(resp.Body)
		return graphFailure(resp.StatusCode, raw)
	}
	// sendMail returns no message ID; the Graph message surfaces later via
	// the change notification for the Sent Items folder.
	return Result{Success: true, Status: model.StatusSent}
}

func addressList(addrs []string) []map[string]any {
	out := make([]map[string]any, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, map[string]any{"emailAddress": map[string]any{"address": a}})
	}
	return out
}

// VerifyWebhook compares the notification clientState against the
// account's webhook secret.
func (e *email365Connector) VerifyWebhook(rawBody []byte, signature string) bool {
	if e.account.WebhookSecret == "" {
		return true
	}
	var wh graphNotificationBatch
	if err := json.Unmarshal(rawBody, &wh); err != nil {
		return false
	}
	for _, n := range wh.Value {
		if subtle.ConstantTimeCompare([]byte(n.ClientState), []byte(e.account.WebhookSecret)) != 1 {
			return false
		}
	}
	return len(wh.Value) > 0
}

type graphNotificationBatch struct {
	Value []struct {
		ClientState  string `json:"clientState"`
		ChangeType   string `json:"changeType"`
		Resource     string `json:"resource"`
		ResourceData struct {
			ID string `json:"id"`
		} `json:"resourceData"`
	} `json:"value"`
}

type graphMessage struct {
	ID   string `json:"id"`
	From struct {
		EmailAddress struct {
			Name    string `json:"name"`
			Address string `json:"address"`
		} `json:"emailAddress"`
	} `json:"from"`
	Subject string `json:"subject"`
	Body    struct {
		ContentType string `json:"contentType"`
		Content     string `json:"content"`
	} `json:"body"`
	BodyPreview      string    `json:"bodyPreview"`
	ConversationID   string    `json:"conversationId"`
	ReceivedDateTime time.Time `json:"receivedDateTime"`
	IsDraft          bool      `json:"isDraft"`
}

// ParseWebhook resolves each change notification into the full Graph
// message. Notifications carry only the resource path, so this does one
// GET per notification.
func (e *email365Connector) ParseWebhook(payload []byte) ([]InboundMessage, []StatusUpdate, error) {
	var wh graphNotificationBatch
	if err := json.Unmarshal(payload, &wh); err != nil {
		return nil, nil, fmt.Errorf("parse graph notification: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer cancel()

	var inbound []InboundMessage
	for _, n := range wh.Value {
		if n.ChangeType != "created" || n.ResourceData.ID == "" {
			continue
		}
		msg, err := e.fetchMessage(ctx, n.ResourceData.ID)
		if err != nil {
			return nil, nil, err
		}
		if msg == nil || msg.IsDraft {
			continue
		}
		if msg.From.EmailAddress.Address == e.mailbox() {
			// Our own outbound mail landing in Sent Items.
			continue
		}
		im := InboundMessage{
			ExternalID:  msg.ID,
			SenderID:    msg.From.EmailAddress.Address,
			SenderName:  msg.From.EmailAddress.Name,
			SenderEmail: msg.From.EmailAddress.Address,
			Type:        model.TypeEmail,
			Text:        msg.BodyPreview,
			Timestamp:   msg.ReceivedDateTime,
			ThreadID:    msg.ConversationID,
		}
		im.Content.Subject = msg.Subject
		im.Content.Body = msg.Body.Content
		im.Content.HTML = msg.Body.ContentType == "html"
		inbound = append(inbound, im)
	}
	return inbound, nil, nil
}

func (e *email365Connector) fetchMessage(ctx context.Context, id string) (*graphMessage, error) {
	tok, err := e.deps.Tokens.Token(ctx, e.account.CredentialID)
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s/users/%s/messages/%s", e.baseURL, e.mailbox(), id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err := e.deps.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("graph message fetch returned %d", resp.StatusCode)
	}
	var msg graphMessage
	if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (e *email365Connector) CheckHealth(ctx context.Context) HealthStatus {
	tok, err := e.deps.Tokens.Token(ctx, e.account.CredentialID)
	if err != nil {
		return HealthStatus{Healthy: false, Message: err.Error()}
	}
	url := fmt.Sprintf("%s/users/%s", e.baseURL, e.mailbox())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return HealthStatus{Healthy: false, Message: err.Error()}
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err := e.deps.HTTPClient.Do(req)
	if err != nil {
		return HealthStatus{Healthy: false, Message: err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return HealthStatus{Healthy: false, Message: fmt.Sprintf("graph API returned %d", resp.StatusCode)}
	}
	return HealthStatus{Healthy: true, Message: "ok"}
}
