// internal/token/manager.go
//
// OAuth token manager. Hands out usable access tokens for credentials,
// refreshing them behind a singleflight so concurrent sends never stampede
// the token endpoint.
package token

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	appErrors "github.com/inboxd/omnichannel-backend/internal/errors"
	"github.com/inboxd/omnichannel-backend/internal/metrics"
	"github.com/inboxd/omnichannel-backend/internal/model"
	"github.com/inboxd/omnichannel-backend/internal/repository"
)

// refreshBuffer is how long before expiry a token is treated as stale.
const refreshBuffer = 60 * time.Second

type Manager struct {
	Store repository.CredentialRepositoryInterface
	HTTP  *http.Client

	group singleflight.Group
	now   func() time.Time
}

func NewManager(store repository.CredentialRepositoryInterface) *Manager {
	return &Manager{
		Store: store,
		HTTP:  &http.Client{Timeout: 8 * time.Second},
		now:   time.Now,
	}
}

// Token returns a usable secret for the credential: the raw API key for
// api_key credentials, an access token for OAuth ones.
func (m *Manager) Token(ctx context.Context, credentialID string) (string, error) {
	cred, err := m.Store.Get(credentialID)
	if err != nil {
		return "", err
	}
	if cred == nil {
		return "", fmt.Errorf("credential %s not found", credentialID)
	}

	if cred.AuthType == model.AuthAPIKey {
		return cred.APIKey, nil
	}

	if cred.Status == model.CredentialInvalid {
		return "", appErrors.NewAuthentication(cred.ID, cred.LastError)
	}
	if cred.TokenValidUntil(m.now(), refreshBuffer) {
		return cred.AccessToken, nil
	}

	// Collapse concurrent refreshes for the same credential into one
	// token-endpoint call.
	v, err, _ := m.group.Do(credentialID, func() (any, error) {
		return m.refresh(ctx, credentialID)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (m *Manager) refresh(ctx context.Context, credentialID string) (string, error) {
	// Re-read inside the flight: a racer may have refreshed already.
	cred, err := m.Store.Get(credentialID)
	if err != nil {
		return "", err
	}
	if cred == nil {
		return "", fmt.Errorf("credential %s not found", credentialID)
	}
	if cred.TokenValidUntil(m.now(), refreshBuffer) {
		return cred.AccessToken, nil
	}

	form := url.Values{}
	form.Set("client_id", cred.ClientID)
	form.Set("client_secret", cred.ClientSecret)
	switch cred.AuthType {
	case model.AuthOAuthApp:
		form.Set("grant_type", "client_credentials")
		scope := cred.Scope
		if scope == "" {
			scope = "https://graph.microsoft.com/.default"
		}
		form.Set("scope", scope)
	case model.AuthOAuthRefresh:
		form.Set("grant_type", "refresh_token")
		form.Set("refresh_token", cred.RefreshToken)
		if cred.Scope != "" {
			form.Set("scope", cred.Scope)
		}
	default:
		return "", fmt.Errorf("credential %s has unknown auth type %q", cred.ID, cred.AuthType)
	}

	tokenURL := cred.TokenURL
	if tokenURL == "" {
		tokenURL = fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", cred.OAuthTenant)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	_ = m.Store.SetStatus(cred.ID, model.CredentialRefreshing, "")

	resp, err := m.HTTP.Do(req)
	if err != nil {
		metrics.TokenRefreshes.WithLabelValues("error").Inc()
		_ = m.Store.SetStatus(cred.ID, model.CredentialNoToken, err.Error())
		return "", err
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		var oerr struct {
			Error            string `json:"error"`
			ErrorDescription string `json:"error_description"`
		}
		_ = json.Unmarshal(raw, &oerr)
		// invalid_grant means the refresh token itself is dead; mark the
		// credential terminal so nothing retries with it.
		if oerr.Error == "invalid_grant" || oerr.Error == "invalid_client" {
			metrics.TokenRefreshes.WithLabelValues("invalid").Inc()
			_ = m.Store.SetStatus(cred.ID, model.CredentialInvalid, oerr.ErrorDescription)
			log.Printf("⚠️ credential %s is invalid: %s", cred.ID, oerr.Error)
			return "", appErrors.NewAuthentication(cred.ID, oerr.ErrorDescription)
		}
		metrics.TokenRefreshes.WithLabelValues("error").Inc()
		msg := fmt.Sprintf("token endpoint returned %d: %s", resp.StatusCode, oerr.Error)
		_ = m.Store.SetStatus(cred.ID, model.CredentialNoToken, msg)
		return "", fmt.Errorf("%s", msg)
	}

	var tok struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
	}
	if err := json.Unmarshal(raw, &tok); err != nil {
		metrics.TokenRefreshes.WithLabelValues("error").Inc()
		return "", fmt.Errorf("parse token response: %w", err)
	}
	if tok.AccessToken == "" {
		metrics.TokenRefreshes.WithLabelValues("error").Inc()
		return "", fmt.Errorf("token endpoint returned no access_token")
	}

	expiresAt := m.now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	if err := m.Store.UpdateTokens(cred.ID, tok.AccessToken, tok.RefreshToken, expiresAt); err != nil {
		return "", err
	}
	metrics.TokenRefreshes.WithLabelValues("ok").Inc()
	return tok.AccessToken, nil
}
