// internal/connector/meta.go
package connector

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/inboxd/omnichannel-backend/internal/model"
)

const graphBaseURL = "https://graph.facebook.com/v19.0"

func init() {
	Register(model.ProviderWhatsApp, newWhatsAppConnector)
	Register(model.ProviderFacebook, newMessengerConnector)
	Register(model.ProviderInstagram, newMessengerConnector)
}

// metaBase holds what WhatsApp and Messenger connectors share: Graph API
// auth, signature verification and health probing.
type metaBase struct {
	account *model.ChannelAccount
	deps    Deps
	baseURL string
}

func (m *metaBase) token(ctx context.Context) (string, error) {
	return m.deps.Tokens.Token(ctx, m.account.CredentialID)
}

// VerifyWebhook checks the X-Hub-Signature-256 header: HMAC-SHA256 of the
// raw body keyed with the app secret.
func (m *metaBase) VerifyWebhook(rawBody []byte, signature string) bool {
	if m.account.WebhookSecret == "" {
		return true
	}
	sig := strings.TrimPrefix(signature, "sha256=")
	mac := hmac.New(sha256.New, []byte(m.account.WebhookSecret))
	mac.Write(rawBody)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(sig), []byte(expected))
}

func (m *metaBase) CheckHealth(ctx context.Context) HealthStatus {
	tok, err := m.token(ctx)
	if err != nil {
		return HealthStatus{Healthy: false, Message: err.Error()}
	}
	url := fmt.Sprintf("%s/%s", m.baseURL, m.account.ExternalID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return HealthStatus{Healthy: false, Message: err.Error()}
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err := m.deps.HTTPClient.Do(req)
	if err != nil {
		return HealthStatus{Healthy: false, Message: err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return HealthStatus{Healthy: false, Message: fmt.Sprintf("graph API returned %d", resp.StatusCode)}
	}
	return HealthStatus{Healthy: true, Message: "ok"}
}

func (m *metaBase) post(ctx context.Context, url string, body any) (int, []byte, error) {
	if err := m.deps.Limiters.Wait(ctx, m.account.Provider); err != nil {
		return 0, nil, err
	}
	tok, err := m.token(ctx)
	if err != nil {
		return 0, nil, err
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return 0, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Content-Type", "application/json")
	resp, err := m.deps.HTTPClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	return resp.StatusCode, out, err
}

type graphError struct {
	Error struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

func graphFailure(status int, body []byte) Result {
	var ge graphError
	_ = json.Unmarshal(body, &ge)
	code := strconv.Itoa(ge.Error.Code)
	msg := ge.Error.Message
	if msg == "" {
		msg = fmt.Sprintf("graph API returned %d", status)
	}
	return Result{Success: false, Status: model.StatusFailed, ErrorCode: code, ErrorMessage: msg}
}

// whatsappConnector talks to the WhatsApp Cloud API. The account's
// external ID is the phone_number_id.
type whatsappConnector struct {
	metaBase
}

func newWhatsAppConnector(account *model.ChannelAccount, deps Deps) (Connector, error) {
	return &whatsappConnector{metaBase{account: account, deps: deps, baseURL: graphBaseURL}}, nil
}

type waSendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

func (w *whatsappConnector) send(ctx context.Context, body map[string]any) Result {
	url := fmt.Sprintf("%s/%s/messages", w.baseURL, w.account.ExternalID)
	status, respBody, err := w.post(ctx, url, body)
	if err != nil {
		return Result{Success: false, Status: model.StatusFailed, ErrorCode: "transport", ErrorMessage: err.Error()}
	}
	if status != http.StatusOK {
		return graphFailure(status, respBody)
	}
	var resp waSendResponse
	if err := json.Unmarshal(respBody, &resp); err != nil || len(resp.Messages) == 0 {
		return Result{Success: false, Status: model.StatusFailed, ErrorCode: "bad_response", ErrorMessage: "missing message ID in response"}
	}
	return Result{Success: true, ExternalID: resp.Messages[0].ID, Status: model.StatusSent}
}

func (w *whatsappConnector) SendText(ctx context.Context, recipient, text string) Result {
	return w.send(ctx, map[string]any{
		"messaging_product": "whatsapp",
		"to":                strings.TrimPrefix(NormalizePhone(recipient), "+"),
		"type":              "text",
		"text":              map[string]any{"body": text},
	})
}

func (w *whatsappConnector) SendMedia(ctx context.Context, recipient string, content model.Content) Result {
	kind := "image"
	switch {
	case strings.HasPrefix(content.MediaType, "video"):
		kind = "video"
	case strings.HasPrefix(content.MediaType, "audio"):
		kind = "audio"
	case strings.HasPrefix(content.MediaType, "application"):
		kind = "document"
	}
	media := map[string]any{"link": content.MediaURL}
	if content.Caption != "" && kind != "audio" {
		media["caption"] = content.Caption
	}
	return w.send(ctx, map[string]any{
		"messaging_product": "whatsapp",
		"to":                strings.TrimPrefix(NormalizePhone(recipient), "+"),
		"type":              kind,
		kind:                media,
	})
}

func (w *whatsappConnector) SendTemplate(ctx context.Context, recipient, templateID string, vars map[string]string) Result {
	template := map[string]any{
		"name":     templateID,
		"language": map[string]any{"code": "en"},
	}
	if len(vars) > 0 {
		params := make([]map[string]any, 0, len(vars))
		// Cloud API template parameters are positional: {{1}}, {{2}}, ...
		for i := 1; ; i++ {
			v, ok := vars[strconv.Itoa(i)]
			if !ok {
				break
			}
			params = append(params, map[string]any{"type": "text", "text": v})
		}
		if len(params) > 0 {
			template["components"] = []map[string]any{{"type": "body", "parameters": params}}
		}
	}
	return w.send(ctx, map[string]any{
		"messaging_product": "whatsapp",
		"to":                strings.TrimPrefix(NormalizePhone(recipient), "+"),
		"type":              "template",
		"template":          template,
	})
}

type waWebhook struct {
	Object string `json:"object"`
	Entry  []struct {
		Changes []struct {
			Value struct {
				Metadata struct {
					PhoneNumberID string `json:"phone_number_id"`
				} `json:"metadata"`
				Contacts []struct {
					WaID    string `json:"wa_id"`
					Profile struct {
						Name string `json:"name"`
					} `json:"profile"`
				} `json:"contacts"`
				Messages []struct {
					ID        string `json:"id"`
					From      string `json:"from"`
					Timestamp string `json:"timestamp"`
					Type      string `json:"type"`
					Text      *struct {
						Body string `json:"body"`
					} `json:"text"`
					Image    *waMedia `json:"image"`
					Video    *waMedia `json:"video"`
					Audio    *waMedia `json:"audio"`
					Document *waMedia `json:"document"`
					Location *struct {
						Latitude  float64 `json:"latitude"`
						Longitude float64 `json:"longitude"`
					} `json:"location"`
				} `json:"messages"`
				Statuses []struct {
					ID        string `json:"id"`
					Status    string `json:"status"`
					Timestamp string `json:"timestamp"`
					Errors    []struct {
						Code  int    `json:"code"`
						Title string `json:"title"`
					} `json:"errors"`
				} `json:"statuses"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type waMedia struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	Caption  string `json:"caption"`
	Filename string `json:"filename"`
}

func epochSeconds(s string) time.Time {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Now().UTC()
	}
	return time.Unix(n, 0).UTC()
}

func (w *whatsappConnector) ParseWebhook(payload []byte) ([]InboundMessage, []StatusUpdate, error) {
	var wh waWebhook
	if err := json.Unmarshal(payload, &wh); err != nil {
		return nil, nil, fmt.Errorf("parse whatsapp webhook: %w", err)
	}

	var inbound []InboundMessage
	var updates []StatusUpdate
	for _, entry := range wh.Entry {
		for _, change := range entry.Changes {
			v := change.Value
			names := map[string]string{}
			for _, c := range v.Contacts {
				names[c.WaID] = c.Profile.Name
			}

			for _, msg := range v.Messages {
				im := InboundMessage{
					AccountExternalID: v.Metadata.PhoneNumberID,

					ExternalID:  msg.ID,
					SenderID:    msg.From,
					SenderName:  names[msg.From],
					SenderPhone: NormalizePhone(msg.From),
					Timestamp:   epochSeconds(msg.Timestamp),
				}
				switch {
				case msg.Text != nil:
					im.Type = model.TypeText
					im.Text = msg.Text.Body
					im.Content.Text = msg.Text.Body
				case msg.Image != nil:
					fillMedia(&im, model.TypeImage, msg.Image)
				case msg.Video != nil:
					fillMedia(&im, model.TypeVideo, msg.Video)
				case msg.Audio != nil:
					fillMedia(&im, model.TypeAudio, msg.Audio)
				case msg.Document != nil:
					fillMedia(&im, model.TypeDocument, msg.Document)
				case msg.Location != nil:
					im.Type = model.TypeLocation
					im.Content.Latitude = msg.Location.Latitude
					im.Content.Longitude = msg.Location.Longitude
				default:
					im.Type = model.TypeText
					im.Text = ""
				}
				inbound = append(inbound, im)
			}

			for _, st := range v.Statuses {
				su := StatusUpdate{
					AccountExternalID: v.Metadata.PhoneNumberID,

					ExternalID: st.ID,
					Status:     mapWhatsAppStatus(st.Status),
					Timestamp:  epochSeconds(st.Timestamp),
				}
				if su.Status == "" {
					continue
				}
				if len(st.Errors) > 0 {
					su.ErrorCode = strconv.Itoa(st.Errors[0].Code)
					su.ErrorMessage = st.Errors[0].Title
				}
				updates = append(updates, su)
			}
		}
	}
	return inbound, updates, nil
}

func fillMedia(im *InboundMessage, t model.MessageType, m *waMedia) {
	im.Type = t
	im.Content.MediaURL = m.ID // Cloud API media is fetched by ID, not URL
	im.Content.MediaType = m.MimeType
	im.Content.Caption = m.Caption
	im.Content.Filename = m.Filename
	im.Text = m.Caption
}

func mapWhatsAppStatus(s string) model.MessageStatus {
	switch s {
	case "sent":
		return model.StatusSent
	case "delivered":
		return model.StatusDelivered
	case "read":
		return model.StatusRead
	case "failed":
		return model.StatusFailed
	}
	return ""
}

// messengerConnector covers Facebook pages and Instagram business accounts.
// Both use the Send API on /me/messages and the messaging webhook shape.
type messengerConnector struct {
	metaBase
}

func newMessengerConnector(account *model.ChannelAccount, deps Deps) (Connector, error) {
	return &messengerConnector{metaBase{account: account, deps: deps, baseURL: graphBaseURL}}, nil
}

type fbSendResponse struct {
	MessageID string `json:"message_id"`
}

func (c *messengerConnector) send(ctx context.Context, body map[string]any) Result {
	url := c.baseURL + "/me/messages"
	status, respBody, err := c.post(ctx, url, body)
	if err != nil {
		return Result{Success: false, Status: model.StatusFailed, ErrorCode: "transport", ErrorMessage: err.Error()}
	}
	if status != http.StatusOK {
		return graphFailure(status, respBody)
	}
	var resp fbSendResponse
	if err := json.Unmarshal(respBody, &resp); err != nil || resp.MessageID == "" {
		return Result{Success: false, Status: model.StatusFailed, ErrorCode: "bad_response", ErrorMessage: "missing message_id in response"}
	}
	return Result{Success: true, ExternalID: resp.MessageID, Status: model.StatusSent}
}

func (c *messengerConnector) SendText(ctx context.Context, recipient, text string) Result {
	return c.send(ctx, map[string]any{
		"recipient": map[string]any{"id": recipient},
		"message":   map[string]any{"text": text},
	})
}

func (c *messengerConnector) SendMedia(ctx context.Context, recipient string, content model.Content) Result {
	kind := "image"
	switch {
	case strings.HasPrefix(content.MediaType, "video"):
		kind = "video"
	case strings.HasPrefix(content.MediaType, "audio"):
		kind = "audio"
	case strings.HasPrefix(content.MediaType, "application"):
		kind = "file"
	}
	return c.send(ctx, map[string]any{
		"recipient": map[string]any{"id": recipient},
		"message": map[string]any{
			"attachment": map[string]any{
				"type":    kind,
				"payload": map[string]any{"url": content.MediaURL},
			},
		},
	})
}

// SendTemplate is not supported on Messenger; templates are a WhatsApp
// concept. Reported as a failed result so automation records it.
func (c *messengerConnector) SendTemplate(ctx context.Context, recipient, templateID string, vars map[string]string) Result {
	return Result{
		Success:      false,
		Status:       model.StatusFailed,
		ErrorCode:    "unsupported",
		ErrorMessage: "template messages are not supported on this channel",
	}
}

type fbWebhook struct {
	Object string `json:"object"`
	Entry  []struct {
		ID        string `json:"id"`
		Messaging []struct {
			Sender struct {
				ID string `json:"id"`
			} `json:"sender"`
			Timestamp int64 `json:"timestamp"`
			Message   *struct {
				MID         string `json:"mid"`
				Text        string `json:"text"`
				IsEcho      bool   `json:"is_echo"`
				Attachments []struct {
					Type    string `json:"type"`
					Payload struct {
						URL string `json:"url"`
					} `json:"payload"`
				} `json:"attachments"`
			} `json:"message"`
			Delivery *struct {
				MIDs []string `json:"mids"`
			} `json:"delivery"`
			Read *struct {
				Watermark int64 `json:"watermark"`
			} `json:"read"`
		} `json:"messaging"`
	} `json:"entry"`
}

func (c *messengerConnector) ParseWebhook(payload []byte) ([]InboundMessage, []StatusUpdate, error) {
	var wh fbWebhook
	if err := json.Unmarshal(payload, &wh); err != nil {
		return nil, nil, fmt.Errorf("parse messenger webhook: %w", err)
	}

	var inbound []InboundMessage
	var updates []StatusUpdate
	for _, entry := range wh.Entry {
		for _, ev := range entry.Messaging {
			ts := time.UnixMilli(ev.Timestamp).UTC()
			if ev.Message != nil {
				if ev.Message.IsEcho {
					continue
				}
				im := InboundMessage{
					AccountExternalID: entry.ID,

					ExternalID: ev.Message.MID,
					SenderID:   ev.Sender.ID,
					Type:       model.TypeText,
					Text:       ev.Message.Text,
					Timestamp:  ts,
				}
				im.Content.Text = ev.Message.Text
				if len(ev.Message.Attachments) > 0 {
					att := ev.Message.Attachments[0]
					switch att.Type {
					case "image":
						im.Type = model.TypeImage
					case "video":
						im.Type = model.TypeVideo
					case "audio":
						im.Type = model.TypeAudio
					default:
						im.Type = model.TypeDocument
					}
					im.Content.MediaURL = att.Payload.URL
				}
				inbound = append(inbound, im)
			}
			if ev.Delivery != nil {
				for _, mid := range ev.Delivery.MIDs {
					updates = append(updates, StatusUpdate{
						AccountExternalID: entry.ID,

						ExternalID: mid,
						Status:     model.StatusDelivered,
						Timestamp:  ts,
					})
				}
			}
		}
	}
	return inbound, updates, nil
}
