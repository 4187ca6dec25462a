// internal/model/credential.go
package model

import "time"

// Auth types a credential can carry. API-key credentials never refresh;
// oauth_app uses the client-credentials grant, oauth_refresh the
// refresh-token grant.
const (
	AuthAPIKey       = "api_key"
	AuthOAuthApp     = "oauth_app"
	AuthOAuthRefresh = "oauth_refresh"
)

type CredentialStatus string

const (
	CredentialNoToken    CredentialStatus = "no_token"
	CredentialValid      CredentialStatus = "valid"
	CredentialRefreshing CredentialStatus = "refreshing"
	CredentialInvalid    CredentialStatus = "invalid"
)

// Credential holds provider auth material for one channel account.
// Invalid is terminal until an operator replaces the secret material.
type Credential struct {
	ID       string `db:"id" json:"id"`
	TenantID string `db:"tenant_id" json:"tenant_id"`
	Provider string `db:"provider" json:"provider"`
	AuthType string `db:"auth_type" json:"auth_type"`

	APIKey       string `db:"api_key" json:"-"`
	ClientID     string `db:"client_id" json:"-"`
	ClientSecret string `db:"client_secret" json:"-"`
	OAuthTenant  string `db:"oauth_tenant" json:"-"`
	TokenURL     string `db:"token_url" json:"-"`
	Scope        string `db:"scope" json:"-"`

	AccessToken  string     `db:"access_token" json:"-"`
	RefreshToken string     `db:"refresh_token" json:"-"`
	ExpiresAt    *time.Time `db:"expires_at" json:"expires_at,omitempty"`

	Status    CredentialStatus `db:"status" json:"status"`
	LastError string           `db:"last_error" json:"last_error,omitempty"`
	CreatedAt time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt time.Time        `db:"updated_at" json:"updated_at"`
}

// TokenValidUntil reports whether the stored access token is still usable
// at now with the given safety buffer.
func (c *Credential) TokenValidUntil(now time.Time, buffer time.Duration) bool {
	if c.AccessToken == "" || c.ExpiresAt == nil {
		return false
	}
	return now.Add(buffer).Before(*c.ExpiresAt)
}
