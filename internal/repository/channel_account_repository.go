// internal/repository/channel_account_repository.go
package repository

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	appErrors "github.com/inboxd/omnichannel-backend/internal/errors"
	"github.com/inboxd/omnichannel-backend/internal/model"
)

type ChannelAccountRepositoryInterface interface {
	Create(a *model.ChannelAccount) error
	GetByID(id string) (*model.ChannelAccount, error)
	// GetByExternal resolves the account a webhook payload belongs to,
	// e.g. by WhatsApp phone_number_id or Facebook page ID.
	GetByExternal(channelType model.ChannelType, externalID string) (*model.ChannelAccount, error)
	FindByVerifyToken(token string) (*model.ChannelAccount, error)
	List(tenantID string) ([]*model.ChannelAccount, error)

	// TryIncrementSent consumes one unit of the daily send quota. It rolls
	// the counter over at the day boundary and returns false when the
	// account is out of quota.
	TryIncrementSent(id string, now time.Time) (bool, error)
	UpdateHealth(id string, healthy bool, message string, at time.Time) error
}

type ChannelAccountRepository struct {
	DB *sql.DB
}

func (r *ChannelAccountRepository) Create(a *model.ChannelAccount) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Status == "" {
		a.Status = model.AccountActive
	}
	a.CreatedAt = time.Now()
	a.LimitResetAt = model.NextResetBoundary(a.CreatedAt)

	query := `
        INSERT INTO channel_accounts
            (id, tenant_id, channel_type, provider, external_id, display_name,
             sender_id, email_address, credential_id, status, verify_token,
             webhook_secret, daily_limit, sent_today, limit_reset_at, healthy, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,0,$14,true,$15)
    `
	_, err := r.DB.Exec(query,
		a.ID, a.TenantID, a.ChannelType, a.Provider, a.ExternalID, a.DisplayName,
		a.SenderID, a.EmailAddress, nullable(a.CredentialID), a.Status, a.VerifyToken,
		a.WebhookSecret, a.DailyLimit, a.LimitResetAt, a.CreatedAt)
	return err
}

const accountColumns = `
    id, tenant_id, channel_type, provider, external_id, display_name,
    sender_id, email_address, credential_id, status, verify_token,
    webhook_secret, daily_limit, sent_today, limit_reset_at,
    healthy, health_message, last_health_check, created_at
`

func scanAccount(row interface{ Scan(...any) error }) (*model.ChannelAccount, error) {
	var a model.ChannelAccount
	var credID, healthMsg sql.NullString
	err := row.Scan(
		&a.ID, &a.TenantID, &a.ChannelType, &a.Provider, &a.ExternalID, &a.DisplayName,
		&a.SenderID, &a.EmailAddress, &credID, &a.Status, &a.VerifyToken,
		&a.WebhookSecret, &a.DailyLimit, &a.SentToday, &a.LimitResetAt,
		&a.Healthy, &healthMsg, &a.LastHealthCheck, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	a.CredentialID = credID.String
	a.HealthMessage = healthMsg.String
	return &a, nil
}

func (r *ChannelAccountRepository) GetByID(id string) (*model.ChannelAccount, error) {
	query := `SELECT ` + accountColumns + ` FROM channel_accounts WHERE id=$1`
	a, err := scanAccount(r.DB.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, appErrors.NewAccountNotFound(id)
	}
	return a, err
}

func (r *ChannelAccountRepository) GetByExternal(channelType model.ChannelType, externalID string) (*model.ChannelAccount, error) {
	query := `SELECT ` + accountColumns + ` FROM channel_accounts WHERE channel_type=$1 AND external_id=$2`
	a, err := scanAccount(r.DB.QueryRow(query, channelType, externalID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

func (r *ChannelAccountRepository) FindByVerifyToken(token string) (*model.ChannelAccount, error) {
	query := `SELECT ` + accountColumns + ` FROM channel_accounts WHERE verify_token=$1`
	a, err := scanAccount(r.DB.QueryRow(query, token))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

func (r *ChannelAccountRepository) List(tenantID string) ([]*model.ChannelAccount, error) {
	query := `SELECT ` + accountColumns + ` FROM channel_accounts WHERE tenant_id=$1 ORDER BY created_at ASC`
	rows, err := r.DB.Query(query, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*model.ChannelAccount{}
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *ChannelAccountRepository) TryIncrementSent(id string, now time.Time) (bool, error) {
	// Counter rollover and quota check in one guarded UPDATE, so two
	// concurrent sends can never both take the last slot.
	query := `
        UPDATE channel_accounts SET
            sent_today = CASE WHEN limit_reset_at <= $2 THEN 1 ELSE sent_today + 1 END,
            limit_reset_at = CASE WHEN limit_reset_at <= $2
                THEN (date_trunc('day', $2::timestamptz) + interval '1 day')
                ELSE limit_reset_at END
        WHERE id=$1
          AND (daily_limit <= 0 OR limit_reset_at <= $2 OR sent_today < daily_limit)
    `
	res, err := r.DB.Exec(query, id, now)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *ChannelAccountRepository) UpdateHealth(id string, healthy bool, message string, at time.Time) error {
	query := `UPDATE channel_accounts SET healthy=$2, health_message=$3, last_health_check=$4 WHERE id=$1`
	_, err := r.DB.Exec(query, id, healthy, message, at)
	return err
}
