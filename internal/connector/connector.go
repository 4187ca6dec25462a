// internal/connector/connector.go
//
// Provider adapters. Each connector translates between the unified message
// model and one provider API, and parses that provider's webhook payloads.
package connector

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/inboxd/omnichannel-backend/internal/model"
)

// Result is the provider's answer to a send attempt. Send failures are
// reported here rather than as Go errors so the caller can persist them.
type Result struct {
	Success      bool
	ExternalID   string
	Status       model.MessageStatus
	ErrorCode    string
	ErrorMessage string
}

// InboundMessage is one normalized message lifted out of a webhook payload.
// AccountExternalID identifies the entry the message came from; Meta batches
// entries for several accounts into one delivery, so consumers must check it
// against the account they are processing for. Empty means the provider
// addresses a single account per callback.
type InboundMessage struct {
	AccountExternalID string

	ExternalID  string
	SenderID    string
	SenderName  string
	SenderPhone string
	SenderEmail string
	Type        model.MessageType
	Content     model.Content
	Text        string
	Timestamp   time.Time
	ThreadID    string
}

// StatusUpdate is one delivery receipt lifted out of a webhook payload.
// AccountExternalID scopes it the same way as InboundMessage.
type StatusUpdate struct {
	AccountExternalID string

	ExternalID   string
	Status       model.MessageStatus
	Timestamp    time.Time
	ErrorCode    string
	ErrorMessage string
}

type HealthStatus struct {
	Healthy bool
	Message string
}

// Connector is the provider adapter contract. VerifyWebhook must be called
// on the raw request body before ParseWebhook output is trusted.
type Connector interface {
	SendText(ctx context.Context, recipient, text string) Result
	SendMedia(ctx context.Context, recipient string, content model.Content) Result
	SendTemplate(ctx context.Context, recipient, templateID string, vars map[string]string) Result
	ParseWebhook(payload []byte) ([]InboundMessage, []StatusUpdate, error)
	VerifyWebhook(rawBody []byte, signature string) bool
	CheckHealth(ctx context.Context) HealthStatus
}

// EmailSpec carries the email-only fields a plain send cannot express.
type EmailSpec struct {
	Subject string
	Body    string
	HTML    bool
	CC      []string
	BCC     []string
}

// EmailSender is implemented by connectors that can send full emails.
type EmailSender interface {
	SendEmail(ctx context.Context, recipient string, spec EmailSpec) Result
}

// TokenSource resolves a usable bearer token for a credential.
type TokenSource interface {
	Token(ctx context.Context, credentialID string) (string, error)
}

// Deps is shared wiring handed to every connector factory.
type Deps struct {
	HTTPClient *http.Client
	Tokens     TokenSource
	Limiters   *LimiterPool
}

type Factory func(account *model.ChannelAccount, deps Deps) (Connector, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register installs a factory for a provider name. Called from init.
func Register(provider string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[provider] = f
}

// ForAccount builds the connector for an account's provider.
func ForAccount(account *model.ChannelAccount, deps Deps) (Connector, error) {
	registryMu.RLock()
	f, ok := registry[account.Provider]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no connector registered for provider %q", account.Provider)
	}
	if deps.HTTPClient == nil {
		deps.HTTPClient = &http.Client{Timeout: 8 * time.Second}
	}
	if deps.Limiters == nil {
		deps.Limiters = NewLimiterPool()
	}
	return f(account, deps)
}

// LimiterPool paces outbound API calls per provider so one busy account
// cannot starve the rest of the shared provider quota.
type LimiterPool struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewLimiterPool() *LimiterPool {
	return &LimiterPool{limiters: make(map[string]*rate.Limiter)}
}

func (p *LimiterPool) Wait(ctx context.Context, provider string) error {
	p.mu.Lock()
	l, ok := p.limiters[provider]
	if !ok {
		l = rate.NewLimiter(rate.Limit(20), 40)
		p.limiters[provider] = l
	}
	p.mu.Unlock()
	return l.Wait(ctx)
}

var nonDigits = regexp.MustCompile(`[^0-9+]`)

// NormalizePhone canonicalizes a phone number to E.164. Numbers without a
// country code get the South African prefix, matching provider defaults.
func NormalizePhone(raw string) string {
	s := nonDigits.ReplaceAllString(strings.TrimSpace(raw), "")
	if s == "" {
		return ""
	}
	if strings.HasPrefix(s, "+") {
		return "+" + strings.TrimLeft(s[1:], "+")
	}
	if strings.HasPrefix(s, "00") {
		return "+" + s[2:]
	}
	if strings.HasPrefix(s, "0") && len(s) == 10 {
		return "+27" + s[1:]
	}
	return "+" + s
}
