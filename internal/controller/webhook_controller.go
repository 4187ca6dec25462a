// internal/controller/webhook_controller.go
package controller

import (
	"encoding/json"
	"io"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/inboxd/omnichannel-backend/internal/metrics"
	"github.com/inboxd/omnichannel-backend/internal/model"
	"github.com/inboxd/omnichannel-backend/internal/queue"
	"github.com/inboxd/omnichannel-backend/internal/repository"
	"github.com/inboxd/omnichannel-backend/internal/service"
)

// WebhookController is the inbound gateway. It answers provider
// verification handshakes, checks signatures, and drops raw bodies onto
// the queue; nothing here parses message content.
type WebhookController struct {
	AccountRepo repository.ChannelAccountRepositoryInterface
	Connectors  service.ConnectorBuilder
	Queue       queue.Queue
}

// VerifyMeta answers the Meta subscription handshake: echo hub.challenge
// when hub.verify_token matches a known account.
func (c *WebhookController) VerifyMeta(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("hub.mode") != "subscribe" {
		http.Error(w, "unsupported mode", http.StatusBadRequest)
		return
	}
	account, err := c.AccountRepo.FindByVerifyToken(q.Get("hub.verify_token"))
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if account == nil {
		http.Error(w, "verification failed", http.StatusForbidden)
		return
	}
	log.Printf("✅ Webhook verified for account %s", account.ID)
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(q.Get("hub.challenge")))
}

// ReceiveMeta handles WhatsApp, Messenger and Instagram deliveries. Meta
// retries anything but a 200, so every structurally valid payload is
// acknowledged even when it is dropped.
func (c *WebhookController) ReceiveMeta(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "cannot read body", http.StatusBadRequest)
		return
	}

	var envelope struct {
		Object string `json:"object"`
		Entry  []struct {
			ID      string `json:"id"`
			Changes []struct {
				Value struct {
					Metadata struct {
						PhoneNumberID string `json:"phone_number_id"`
					} `json:"metadata"`
				} `json:"value"`
			} `json:"changes"`
		} `json:"entry"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	var channelType model.ChannelType
	switch envelope.Object {
	case "whatsapp_business_account":
		channelType = model.ChannelWhatsApp
	case "page":
		channelType = model.ChannelFacebook
	case "instagram":
		channelType = model.ChannelInstagram
	default:
		metrics.WebhooksRejected.WithLabelValues("meta", "unknown_object").Inc()
		w.WriteHeader(http.StatusOK)
		return
	}

	signature := r.Header.Get("X-Hub-Signature-256")
	for _, entry := range envelope.Entry {
		externalID := entry.ID
		if channelType == model.ChannelWhatsApp {
			// WhatsApp accounts are keyed by phone_number_id, not WABA ID.
			for _, change := range entry.Changes {
				if change.Value.Metadata.PhoneNumberID != "" {
					externalID = change.Value.Metadata.PhoneNumberID
					break
				}
			}
		}
		c.enqueue(channelType, externalID, body, signature)
	}
	w.WriteHeader(http.StatusOK)
}

// ReceiveSMS handles BulkSMS and Clickatell callbacks. These providers
// sign nothing; the shared token in the URL is the whole check.
func (c *WebhookController) ReceiveSMS(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	accountID := r.URL.Query().Get("account")
	token := r.URL.Query().Get("token")

	if provider != model.ProviderBulkSMS && provider != model.ProviderClickatell {
		http.Error(w, "unknown provider", http.StatusNotFound)
		return
	}
	if accountID == "" {
		http.Error(w, "missing account", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "cannot read body", http.StatusBadRequest)
		return
	}
	if !json.Valid(body) {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	c.enqueueByID(provider, accountID, body, token)
	w.WriteHeader(http.StatusOK)
}

// ReceiveEmail handles Microsoft Graph change notifications. Subscription
// validation echoes validationToken back as plain text.
func (c *WebhookController) ReceiveEmail(w http.ResponseWriter, r *http.Request) {
	if vt := r.URL.Query().Get("validationToken"); vt != "" {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(vt))
		return
	}

	accountID := r.URL.Query().Get("account")
	if accountID == "" {
		http.Error(w, "missing account", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "cannot read body", http.StatusBadRequest)
		return
	}
	if !json.Valid(body) {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	// Graph verifies via clientState inside the body; no separate header.
	c.enqueueByID(model.ProviderEmail365, accountID, body, "")

	// Graph expects 202 within 30 seconds or it retries.
	w.WriteHeader(http.StatusAccepted)
}

func (c *WebhookController) enqueue(channelType model.ChannelType, externalID string, body []byte, signature string) {
	account, err := c.AccountRepo.GetByExternal(channelType, externalID)
	if err != nil {
		log.Println("⚠️ Account lookup failed:", err)
		return
	}
	if account == nil {
		metrics.WebhooksRejected.WithLabelValues(string(channelType), "unknown_account").Inc()
		log.Printf("Dropping webhook for unknown %s account %s", channelType, externalID)
		return
	}
	c.verifyAndPublish(account, body, signature)
}

func (c *WebhookController) enqueueByID(provider, accountID string, body []byte, signature string) {
	account, err := c.AccountRepo.GetByID(accountID)
	if err != nil {
		metrics.WebhooksRejected.WithLabelValues(provider, "unknown_account").Inc()
		log.Printf("Dropping %s webhook for unknown account %s", provider, accountID)
		return
	}
	if account.Provider != provider {
		metrics.WebhooksRejected.WithLabelValues(provider, "provider_mismatch").Inc()
		return
	}
	c.verifyAndPublish(account, body, signature)
}

func (c *WebhookController) verifyAndPublish(account *model.ChannelAccount, body []byte, signature string) {
	conn, err := c.Connectors(account)
	if err != nil {
		log.Println("⚠️ No connector for account:", err)
		return
	}
	if !conn.VerifyWebhook(body, signature) {
		metrics.WebhooksRejected.WithLabelValues(account.Provider, "bad_signature").Inc()
		log.Printf("⚠️ Signature verification failed for account %s", account.ID)
		return
	}

	metrics.WebhooksReceived.WithLabelValues(account.Provider).Inc()
	err = c.Queue.Publish(queue.TopicInboundEvents, queue.IngestJob{
		AccountID: account.ID,
		Body:      json.RawMessage(body),
	})
	if err != nil {
		log.Println("⚠️ Failed to enqueue inbound event:", err)
	}
}
