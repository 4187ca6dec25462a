package controller_test

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/inboxd/omnichannel-backend/internal/connector"
	"github.com/inboxd/omnichannel-backend/internal/controller"
	"github.com/inboxd/omnichannel-backend/internal/model"
	"github.com/inboxd/omnichannel-backend/internal/queue"
	"github.com/inboxd/omnichannel-backend/internal/repository"
)

// --- Fakes ---

type recordingQueue struct {
	published []queue.IngestJob
}

func (q *recordingQueue) Publish(topic string, payload any) error {
	q.published = append(q.published, payload.(queue.IngestJob))
	return nil
}

func (q *recordingQueue) Subscribe(topic string, handler func(payload any) error) error {
	return nil
}

// verifyingConnector validates signatures the way the real Meta connector
// does, and stubs everything else.
type verifyingConnector struct {
	secret string
}

func (v *verifyingConnector) VerifyWebhook(rawBody []byte, signature string) bool {
	if v.secret == "" {
		return true
	}
	mac := hmac.New(sha256.New, []byte(v.secret))
	mac.Write(rawBody)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(signature), []byte(expected))
}

func (v *verifyingConnector) SendText(ctx context.Context, recipient, text string) connector.Result {
	return connector.Result{Success: true}
}
func (v *verifyingConnector) SendMedia(ctx context.Context, recipient string, content model.Content) connector.Result {
	return connector.Result{Success: true}
}
func (v *verifyingConnector) SendTemplate(ctx context.Context, recipient, templateID string, vars map[string]string) connector.Result {
	return connector.Result{Success: true}
}
func (v *verifyingConnector) ParseWebhook(payload []byte) ([]connector.InboundMessage, []connector.StatusUpdate, error) {
	return nil, nil, nil
}
func (v *verifyingConnector) CheckHealth(ctx context.Context) connector.HealthStatus {
	return connector.HealthStatus{Healthy: true}
}

// tokenConnector matches the SMS providers, where the shared URL token is
// compared directly instead of an HMAC.
type tokenConnector struct {
	verifyingConnector
}

func (v *tokenConnector) VerifyWebhook(rawBody []byte, signature string) bool {
	return v.secret == "" || signature == v.secret
}

func setup(t *testing.T) (*controller.WebhookController, *repository.MemoryChannelAccountRepository, *recordingQueue) {
	t.Helper()
	accounts := repository.NewMemoryChannelAccountRepository()
	q := &recordingQueue{}
	c := &controller.WebhookController{
		AccountRepo: accounts,
		Queue:       q,
		Connectors: func(a *model.ChannelAccount) (connector.Connector, error) {
			if a.ChannelType == model.ChannelSMS {
				return &tokenConnector{verifyingConnector{secret: a.WebhookSecret}}, nil
			}
			return &verifyingConnector{secret: a.WebhookSecret}, nil
		},
	}
	return c, accounts, q
}

func signed(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

const waBody = `{"object":"whatsapp_business_account","entry":[{"id":"waba","changes":[{"value":{"metadata":{"phone_number_id":"phone-1"}}}]}]}`

// --- Tests ---

func TestVerifyMetaEchoesChallenge(t *testing.T) {
	c, accounts, _ := setup(t)
	accounts.Create(&model.ChannelAccount{
		TenantID:    "t1",
		ChannelType: model.ChannelWhatsApp,
		Provider:    model.ProviderWhatsApp,
		ExternalID:  "phone-1",
		VerifyToken: "vt-123",
	})

	req := httptest.NewRequest("GET", "/webhooks/meta?hub.mode=subscribe&hub.verify_token=vt-123&hub.challenge=challenge-99", nil)
	w := httptest.NewRecorder()
	c.VerifyMeta(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w.Body.String() != "challenge-99" {
		t.Fatalf("expected challenge echo, got %q", w.Body.String())
	}
}

func TestVerifyMetaRejectsUnknownToken(t *testing.T) {
	c, _, _ := setup(t)

	req := httptest.NewRequest("GET", "/webhooks/meta?hub.mode=subscribe&hub.verify_token=nope&hub.challenge=x", nil)
	w := httptest.NewRecorder()
	c.VerifyMeta(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}

func TestReceiveMetaEnqueuesVerifiedPayload(t *testing.T) {
	c, accounts, q := setup(t)
	accounts.Create(&model.ChannelAccount{
		TenantID:      "t1",
		ChannelType:   model.ChannelWhatsApp,
		Provider:      model.ProviderWhatsApp,
		ExternalID:    "phone-1",
		WebhookSecret: "app-secret",
	})

	req := httptest.NewRequest("POST", "/webhooks/meta", bytes.NewReader([]byte(waBody)))
	req.Header.Set("X-Hub-Signature-256", signed("app-secret", []byte(waBody)))
	w := httptest.NewRecorder()
	c.ReceiveMeta(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if len(q.published) != 1 {
		t.Fatalf("expected 1 enqueued job, got %d", len(q.published))
	}
	if q.published[0].AccountID == "" {
		t.Fatal("enqueued job missing account ID")
	}
}

func TestReceiveMetaBadSignatureStill200(t *testing.T) {
	c, accounts, q := setup(t)
	accounts.Create(&model.ChannelAccount{
		TenantID:      "t1",
		ChannelType:   model.ChannelWhatsApp,
		Provider:      model.ProviderWhatsApp,
		ExternalID:    "phone-1",
		WebhookSecret: "app-secret",
	})

	req := httptest.NewRequest("POST", "/webhooks/meta", bytes.NewReader([]byte(waBody)))
	req.Header.Set("X-Hub-Signature-256", "sha256=deadbeef")
	w := httptest.NewRecorder()
	c.ReceiveMeta(w, req)

	// Meta retries non-200s forever; a forged payload is dropped silently.
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if len(q.published) != 0 {
		t.Fatalf("forged payload must not be enqueued, got %d jobs", len(q.published))
	}
}

func TestReceiveMetaInvalidJSON(t *testing.T) {
	c, _, _ := setup(t)

	req := httptest.NewRequest("POST", "/webhooks/meta", bytes.NewReader([]byte("{not json")))
	w := httptest.NewRecorder()
	c.ReceiveMeta(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid JSON, got %d", w.Code)
	}
}

func TestReceiveMetaUnknownAccountStill200(t *testing.T) {
	c, _, q := setup(t)

	req := httptest.NewRequest("POST", "/webhooks/meta", bytes.NewReader([]byte(waBody)))
	w := httptest.NewRecorder()
	c.ReceiveMeta(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if len(q.published) != 0 {
		t.Fatal("unknown account payload must not be enqueued")
	}
}

func smsRequest(target string, body string) *http.Request {
	req := httptest.NewRequest("POST", target, bytes.NewReader([]byte(body)))
	ctx := chi.NewRouteContext()
	ctx.URLParams.Add("provider", "bulksms")
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, ctx))
}

func TestReceiveSMSTokenCheck(t *testing.T) {
	c, accounts, q := setup(t)
	account := &model.ChannelAccount{
		TenantID:      "t1",
		ChannelType:   model.ChannelSMS,
		Provider:      model.ProviderBulkSMS,
		ExternalID:    "41001",
		WebhookSecret: "url-token",
	}
	accounts.Create(account)

	body := `[{"id":"in-1","from":"0821234567","body":"hi","type":"RECEIVED"}]`

	w := httptest.NewRecorder()
	c.ReceiveSMS(w, smsRequest("/webhooks/sms/bulksms?account="+account.ID+"&token=url-token", body))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if len(q.published) != 1 {
		t.Fatalf("expected 1 enqueued job, got %d", len(q.published))
	}

	// Wrong token: acknowledged but dropped.
	w = httptest.NewRecorder()
	c.ReceiveSMS(w, smsRequest("/webhooks/sms/bulksms?account="+account.ID+"&token=wrong", body))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if len(q.published) != 1 {
		t.Fatal("bad token payload must not be enqueued")
	}
}

func TestReceiveEmailValidationHandshake(t *testing.T) {
	c, _, _ := setup(t)

	req := httptest.NewRequest("POST", "/webhooks/email?validationToken=tok%20123", nil)
	w := httptest.NewRecorder()
	c.ReceiveEmail(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w.Body.String() != "tok 123" {
		t.Fatalf("expected decoded token echo, got %q", w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/plain" {
		t.Fatalf("expected text/plain, got %q", ct)
	}
}

func TestReceiveEmailEnqueues(t *testing.T) {
	c, accounts, q := setup(t)
	account := &model.ChannelAccount{
		TenantID:    "t1",
		ChannelType: model.ChannelEmail,
		Provider:    model.ProviderEmail365,
		ExternalID:  "support@inboxd.example",
	}
	accounts.Create(account)

	body := `{"value":[{"changeType":"created","resourceData":{"id":"msg-1"}}]}`
	req := httptest.NewRequest("POST", "/webhooks/email?account="+account.ID, bytes.NewReader([]byte(body)))
	w := httptest.NewRecorder()
	c.ReceiveEmail(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", w.Code)
	}
	if len(q.published) != 1 {
		t.Fatalf("expected 1 enqueued job, got %d", len(q.published))
	}
}
