// internal/repository/credential_repository.go
package repository

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/inboxd/omnichannel-backend/internal/model"
)

type CredentialRepositoryInterface interface {
	Create(c *model.Credential) error
	Get(id string) (*model.Credential, error)
	// UpdateTokens persists a fresh access token and, when the provider
	// rotated it, the new refresh token.
	UpdateTokens(id, accessToken, refreshToken string, expiresAt time.Time) error
	SetStatus(id string, status model.CredentialStatus, lastError string) error
}

type CredentialRepository struct {
	DB *sql.DB
}

func (r *CredentialRepository) Create(c *model.Credential) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Status == "" {
		if c.AuthType == model.AuthAPIKey {
			c.Status = model.CredentialValid
		} else {
			c.Status = model.CredentialNoToken
		}
	}
	c.CreatedAt = time.Now()
	c.UpdatedAt = c.CreatedAt

	query := `
        INSERT INTO credentials
            (id, tenant_id, provider, auth_type, api_key, client_id, client_secret,
             oauth_tenant, token_url, scope, access_token, refresh_token, expires_at,
             status, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
    `
	_, err := r.DB.Exec(query,
		c.ID, c.TenantID, c.Provider, c.AuthType, c.APIKey, c.ClientID, c.ClientSecret,
		c.OAuthTenant, c.TokenURL, c.Scope, c.AccessToken, c.RefreshToken, c.ExpiresAt,
		c.Status, c.CreatedAt, c.UpdatedAt)
	return err
}

func (r *CredentialRepository) Get(id string) (*model.Credential, error) {
	query := `
        SELECT id, tenant_id, provider, auth_type, api_key, client_id, client_secret,
               oauth_tenant, token_url, scope, access_token, refresh_token, expires_at,
               status, last_error, created_at, updated_at
        FROM credentials WHERE id=$1
    `
	var c model.Credential
	var lastErr sql.NullString
	err := r.DB.QueryRow(query, id).Scan(
		&c.ID, &c.TenantID, &c.Provider, &c.AuthType, &c.APIKey, &c.ClientID, &c.ClientSecret,
		&c.OAuthTenant, &c.TokenURL, &c.Scope, &c.AccessToken, &c.RefreshToken, &c.ExpiresAt,
		&c.Status, &lastErr, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	c.LastError = lastErr.String
	return &c, nil
}

func (r *CredentialRepository) UpdateTokens(id, accessToken, refreshToken string, expiresAt time.Time) error {
	query := `
        UPDATE credentials SET
            access_token=$2,
            refresh_token = CASE WHEN $3 <> '' THEN $3 ELSE refresh_token END,
            expires_at=$4, status='valid', last_error='', updated_at=NOW()
        WHERE id=$1
    `
	_, err := r.DB.Exec(query, id, accessToken, refreshToken, expiresAt)
	return err
}

func (r *CredentialRepository) SetStatus(id string, status model.CredentialStatus, lastError string) error {
	query := `UPDATE credentials SET status=$2, last_error=$3, updated_at=NOW() WHERE id=$1`
	_, err := r.DB.Exec(query, id, status, lastError)
	return err
}
