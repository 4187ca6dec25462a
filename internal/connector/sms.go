// internal/connector/sms.go
package connector

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/inboxd/omnichannel-backend/internal/model"
)

func init() {
	Register(model.ProviderBulkSMS, newBulkSMSConnector)
	Register(model.ProviderClickatell, newClickatellConnector)
}

// SMS providers sign nothing; webhooks are verified by a shared token in
// the callback URL. The controller hands that token in as the signature.
func verifyURLToken(secret []byte, token string) bool {
	if len(secret) == 0 {
		return true
	}
	return subtle.ConstantTimeCompare(secret, []byte(token)) == 1
}

// bulksmsConnector talks to the BulkSMS JSON API with basic auth. The
// credential stores the API token ID and secret as client ID/secret.
type bulksmsConnector struct {
	account *model.ChannelAccount
	deps    Deps
	baseURL string
}

const bulksmsBaseURL = "https://api.bulksms.com/v1"

func newBulkSMSConnector(account *model.ChannelAccount, deps Deps) (Connector, error) {
	return &bulksmsConnector{account: account, deps: deps, baseURL: bulksmsBaseURL}, nil
}

func (b *bulksmsConnector) basicAuth(ctx context.Context, req *http.Request) error {
	// Token() for an api_key credential returns "id:secret".
	tok, err := b.deps.Tokens.Token(ctx, b.account.CredentialID)
	if err != nil {
		return err
	}
	id, secret, ok := strings.Cut(tok, ":")
	if !ok {
		return fmt.Errorf("bulksms credential must be id:secret")
	}
	req.SetBasicAuth(id, secret)
	return nil
}

type bulksmsMessage struct {
	ID     string `json:"id"`
	Status struct {
		Type string `json:"type"`
	} `json:"status"`
}

func (b *bulksmsConnector) SendText(ctx context.Context, recipient, text string) Result {
	if err := b.deps.Limiters.Wait(ctx, b.account.Provider); err != nil {
		return Result{Success: false, Status: model.StatusFailed, ErrorCode: "transport", ErrorMessage: err.Error()}
	}
	body, _ := json.Marshal(map[string]any{
		"to":   NormalizePhone(recipient),
		"body": text,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return Result{Success: false, Status: model.StatusFailed, ErrorCode: "transport", ErrorMessage: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	if err := b.basicAuth(ctx, req); err != nil {
		return Result{Success: false, Status: model.StatusFailed, ErrorCode: "auth", ErrorMessage: err.Error()}
	}
	resp, err := b.deps.HTTPClient.Do(req)
	if err != nil {
		return Result{Success: false, Status: model.StatusFailed, ErrorCode: "transport", ErrorMessage: err.Error()}
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return Result{Success: false, Status: model.StatusFailed,
			ErrorCode: strconv.Itoa(resp.StatusCode), ErrorMessage: strings.TrimSpace(string(raw))}
	}
	var msgs []bulksmsMessage
	if err := json.Unmarshal(raw, &msgs); err != nil || len(msgs) == 0 {
		return Result{Success: false, Status: model.StatusFailed, ErrorCode: "bad_response", ErrorMessage: "missing message ID in response"}
	}
	return Result{Success: true, ExternalID: msgs[0].ID, Status: model.StatusSent}
}

// SendMedia degrades to a text send carrying the caption and media link;
// plain SMS has no media channel.
func (b *bulksmsConnector) SendMedia(ctx context.Context, recipient string, content model.Content) Result {
	text := content.Caption
	if text == "" {
		text = content.Text
	}
	if content.MediaURL != "" {
		if text != "" {
			text += " "
		}
		text += content.MediaURL
	}
	return b.SendText(ctx, recipient, text)
}

func (b *bulksmsConnector) SendTemplate(ctx context.Context, recipient, templateID string, vars map[string]string) Result {
	return Result{Success: false, Status: model.StatusFailed,
		ErrorCode: "unsupported", ErrorMessage: "template messages are not supported on this channel"}
}

func (b *bulksmsConnector) VerifyWebhook(rawBody []byte, signature string) bool {
	return verifyURLToken([]byte(b.account.WebhookSecret), signature)
}

type bulksmsWebhookEntry struct {
	ID   string `json:"id"`
	From string `json:"from"`
	To   string `json:"to"`
	Body string `json:"body"`
	Type string `json:"type"` // RECEIVED for inbound
	// Set on delivery reports.
	StatusUpdate *struct {
		Status struct {
			Type string `json:"type"`
		} `json:"status"`
	} `json:"status_update"`
	Status *struct {
		Type string `json:"type"`
	} `json:"status"`
}

func (b *bulksmsConnector) ParseWebhook(payload []byte) ([]InboundMessage, []StatusUpdate, error) {
	var entries []bulksmsWebhookEntry
	if err := json.Unmarshal(payload, &entries); err != nil {
		// Single-object deliveries happen too.
		var one bulksmsWebhookEntry
		if err2 := json.Unmarshal(payload, &one); err2 != nil {
			return nil, nil, fmt.Errorf("parse bulksms webhook: %w", err)
		}
		entries = []bulksmsWebhookEntry{one}
	}

	now := time.Now().UTC()
	var inbound []InboundMessage
	var updates []StatusUpdate
	for _, e := range entries {
		statusType := ""
		if e.StatusUpdate != nil {
			statusType = e.StatusUpdate.Status.Type
		} else if e.Status != nil && e.Type != "RECEIVED" {
			statusType = e.Status.Type
		}
		if statusType != "" {
			st := mapBulkSMSStatus(statusType)
			if st == "" {
				continue
			}
			su := StatusUpdate{ExternalID: e.ID, Status: st, Timestamp: now}
			if st == model.StatusFailed {
				su.ErrorCode = statusType
				su.ErrorMessage = "delivery failed: " + statusType
			}
			updates = append(updates, su)
			continue
		}
		if e.From == "" || e.Body == "" {
			continue
		}
		im := InboundMessage{
			ExternalID:  e.ID,
			SenderID:    NormalizePhone(e.From),
			SenderPhone: NormalizePhone(e.From),
			Type:        model.TypeText,
			Text:        e.Body,
			Timestamp:   now,
		}
		im.Content.Text = e.Body
		inbound = append(inbound, im)
	}
	return inbound, updates, nil
}

func mapBulkSMSStatus(t string) model.MessageStatus {
	switch strings.ToUpper(t) {
	case "ACCEPTED", "SENT":
		return model.StatusSent
	case "DELIVERED":
		return model.StatusDelivered
	case "FAILED", "REJECTED", "EXPIRED":
		return model.StatusFailed
	}
	return ""
}

func (b *bulksmsConnector) CheckHealth(ctx context.Context) HealthStatus {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/profile", nil)
	if err != nil {
		return HealthStatus{Healthy: false, Message: err.Error()}
	}
	if err := b.basicAuth(ctx, req); err != nil {
		return HealthStatus{Healthy: false, Message: err.Error()}
	}
	resp, err := b.deps.HTTPClient.Do(req)
	if err != nil {
		return HealthStatus{Healthy: false, Message: err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return HealthStatus{Healthy: false, Message: fmt.Sprintf("bulksms API returned %d", resp.StatusCode)}
	}
	return HealthStatus{Healthy: true, Message: "ok"}
}

// clickatellConnector talks to the Clickatell One API with an API key.
type clickatellConnector struct {
	account *model.ChannelAccount
	deps    Deps
	baseURL string
}

const clickatellBaseURL = "https://platform.clickatell.com"

func newClickatellConnector(account *model.ChannelAccount, deps Deps) (Connector, error) {
	return &clickatellConnector{account: account, deps: deps, baseURL: clickatellBaseURL}, nil
}

type clickatellSendResponse struct {
	Messages []struct {
		APIMessageID string `json:"apiMessageId"`
		Accepted     bool   `json:"accepted"`
		Error        string `json:"error"`
	} `json:"messages"`
}

func (c *clickatellConnector) SendText(ctx context.Context, recipient, text string) Result {
	if err := c.deps.Limiters.Wait(ctx, c.account.Provider); err != nil {
		return Result{Success: false, Status: model.StatusFailed, ErrorCode: "transport", ErrorMessage: err.Error()}
	}
	key, err := c.deps.Tokens.Token(ctx, c.account.CredentialID)
	if err != nil {
		return Result{Success: false, Status: model.StatusFailed, ErrorCode: "auth", ErrorMessage: err.Error()}
	}
	body, _ := json.Marshal(map[string]any{
		"messages": []map[string]any{{
			"channel": "sms",
			"to":      strings.TrimPrefix(NormalizePhone(recipient), "+"),
			"content": text,
		}},
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/message", bytes.NewReader(body))
	if err != nil {
		return Result{Success: false, Status: model.StatusFailed, ErrorCode: "transport", ErrorMessage: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", key)
	resp, err := c.deps.HTTPClient.Do(req)
	if err != nil {
		return Result{Success: false, Status: model.StatusFailed, ErrorCode: "transport", ErrorMessage: err.Error()}
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return Result{Success: false, Status: model.StatusFailed,
			ErrorCode: strconv.Itoa(resp.StatusCode), ErrorMessage: strings.TrimSpace(string(raw))}
	}
	var out clickatellSendResponse
	if err := json.Unmarshal(raw, &out); err != nil || len(out.Messages) == 0 {
		return Result{Success: false, Status: model.StatusFailed, ErrorCode: "bad_response", ErrorMessage: "missing apiMessageId in response"}
	}
	m := out.Messages[0]
	if !m.Accepted {
		return Result{Success: false, Status: model.StatusFailed, ErrorCode: "rejected", ErrorMessage: m.Error}
	}
	return Result{Success: true, ExternalID: m.APIMessageID, Status: model.StatusSent}
}

func (c *clickatellConnector) SendMedia(ctx context.Context, recipient string, content model.Content) Result {
	text := content.Caption
	if text == "" {
		text = content.Text
	}
	if content.MediaURL != "" {
		if text != "" {
			text += " "
		}
		text += content.MediaURL
	}
	return c.SendText(ctx, recipient, text)
}

func (c *clickatellConnector) SendTemplate(ctx context.Context, recipient, templateID string, vars map[string]string) Result {
	return Result{Success: false, Status: model.StatusFailed,
		ErrorCode: "unsupported", ErrorMessage: "template messages are not supported on this channel"}
}

func (c *clickatellConnector) VerifyWebhook(rawBody []byte, signature string) bool {
	return verifyURLToken([]byte(c.account.WebhookSecret), signature)
}

type clickatellWebhook struct {
	Event string `json:"event"`

	// Inbound message fields.
	MessageID string `json:"messageId"`
	FromNo    string `json:"fromNumber"`
	Content   string `json:"content"`

	// Delivery report fields. statusCode 3 is delivered, 4 and above are
	// failure classes.
	APIMessageID string `json:"apiMessageId"`
	StatusCode   int    `json:"statusCode"`
	Status       string `json:"status"`
	Timestamp    int64  `json:"timestamp"`
}

func (c *clickatellConnector) ParseWebhook(payload []byte) ([]InboundMessage, []StatusUpdate, error) {
	var wh clickatellWebhook
	if err := json.Unmarshal(payload, &wh); err != nil {
		return nil, nil, fmt.Errorf("parse clickatell webhook: %w", err)
	}

	ts := time.Now().UTC()
	if wh.Timestamp > 0 {
		ts = time.UnixMilli(wh.Timestamp).UTC()
	}

	if wh.Event == "message" || (wh.MessageID != "" && wh.FromNo != "") {
		im := InboundMessage{
			ExternalID:  wh.MessageID,
			SenderID:    NormalizePhone(wh.FromNo),
			SenderPhone: NormalizePhone(wh.FromNo),
			Type:        model.TypeText,
			Text:        wh.Content,
			Timestamp:   ts,
		}
		im.Content.Text = wh.Content
		return []InboundMessage{im}, nil, nil
	}

	if wh.APIMessageID != "" {
		var st model.MessageStatus
		switch {
		case wh.StatusCode == 3:
			st = model.StatusDelivered
		case wh.StatusCode >= 4:
			st = model.StatusFailed
		case wh.StatusCode == 2:
			st = model.StatusSent
		default:
			return nil, nil, nil
		}
		su := StatusUpdate{ExternalID: wh.APIMessageID, Status: st, Timestamp: ts}
		if st == model.StatusFailed {
			su.ErrorCode = strconv.Itoa(wh.StatusCode)
			su.ErrorMessage = wh.Status
		}
		return nil, []StatusUpdate{su}, nil
	}

	return nil, nil, nil
}

func (c *clickatellConnector) CheckHealth(ctx context.Context) HealthStatus {
	key, err := c.deps.Tokens.Token(ctx, c.account.CredentialID)
	if err != nil {
		return HealthStatus{Healthy: false, Message: err.Error()}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/balance", nil)
	if err != nil {
		return HealthStatus{Healthy: false, Message: err.Error()}
	}
	req.Header.Set("Authorization", key)
	resp, err := c.deps.HTTPClient.Do(req)
	if err != nil {
		return HealthStatus{Healthy: false, Message: err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return HealthStatus{Healthy: false, Message: fmt.Sprintf("clickatell API returned %d", resp.StatusCode)}
	}
	return HealthStatus{Healthy: true, Message: "ok"}
}
