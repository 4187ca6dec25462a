// internal/repository/conversation_repository.go
package repository

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/inboxd/omnichannel-backend/internal/model"
)

type ConversationRepositoryInterface interface {
	// GetOrCreate returns the open thread for (account, contact), creating
	// it when absent. The bool is true when a new row was created.
	GetOrCreate(c *model.Conversation) (*model.Conversation, bool, error)
	GetByID(id string) (*model.Conversation, error)
	ListByAccount(accountID string, offset, limit int) ([]*model.Conversation, error)

	// ApplyInbound bumps counters and timestamps for one inbound message
	// and reopens a closed thread. window, when non-nil, resets the
	// template-free send window.
	ApplyInbound(id string, at time.Time, window *time.Time) error
	MarkOutbound(id string, at time.Time) error

	AssignAgent(id, agentID string) error
	AddTag(id, tag string) error
	LinkLead(id, leadID string) error
	UpdateStatus(id string, status model.ConversationStatus) error

	// SetContactName fills in the contact's display name when it is
	// still empty, e.g. from a later webhook carrying profile data.
	SetContactName(id, name string) error
}

type ConversationRepository struct {
	DB *sql.DB
}

func (r *ConversationRepository) GetOrCreate(c *model.Conversation) (*model.Conversation, bool, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Status == "" {
		c.Status = model.ConversationOpen
	}
	c.CreatedAt = time.Now()

	// ON CONFLICT DO NOTHING keeps concurrent webhook deliveries from
	// creating two threads for the same contact.
	query := `
        INSERT INTO conversations
            (id, tenant_id, account_id, channel_type, status, priority,
             contact_identifier, contact_name, contact_phone, contact_email,
             lead_id, tags, requires_template, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
        ON CONFLICT (account_id, contact_identifier) DO NOTHING
    `
	res, err := r.DB.Exec(query,
		c.ID, c.TenantID, c.AccountID, c.ChannelType, c.Status, c.Priority,
		c.ContactIdentifier, c.ContactName, c.ContactPhone, c.ContactEmail,
		nullable(c.LeadID), pq.Array(c.Tags), c.RequiresTemplate, c.CreatedAt)
	if err != nil {
		return nil, false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}
	if n == 1 {
		return c, true, nil
	}

	existing, err := r.getByAccountContact(c.AccountID, c.ContactIdentifier)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

const conversationColumns = `
    id, tenant_id, account_id, channel_type, status, priority,
    contact_identifier, contact_name, contact_phone, contact_email,
    lead_id, assigned_agent, tags, window_expires_at, requires_template,
    message_count, unread_count, last_message_at, last_inbound_at,
    last_outbound_at, first_response_at, created_at
`

func (r *ConversationRepository) scanConversation(row interface{ Scan(...any) error }) (*model.Conversation, error) {
	var c model.Conversation
	var leadID, agent sql.NullString
	err := row.Scan(
		&c.ID, &c.TenantID, &c.AccountID, &c.ChannelType, &c.Status, &c.Priority,
		&c.ContactIdentifier, &c.ContactName, &c.ContactPhone, &c.ContactEmail,
		&leadID, &agent, pq.Array(&c.Tags), &c.WindowExpiresAt, &c.RequiresTemplate,
		&c.MessageCount, &c.UnreadCount, &c.LastMessageAt, &c.LastInboundAt,
		&c.LastOutboundAt, &c.FirstResponseAt, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	c.LeadID = leadID.String
	c.AssignedAgent = agent.String
	return &c, nil
}

func (r *ConversationRepository) GetByID(id string) (*model.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE id=$1`
	c, err := r.scanConversation(r.DB.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

func (r *ConversationRepository) getByAccountContact(accountID, contact string) (*model.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE account_id=$1 AND contact_identifier=$2`
	c, err := r.scanConversation(r.DB.QueryRow(query, accountID, contact))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

func (r *ConversationRepository) ListByAccount(accountID string, offset, limit int) ([]*model.Conversation, error) {
	query := `SELECT ` + conversationColumns + `
        FROM conversations WHERE account_id=$1
        ORDER BY last_message_at DESC NULLS LAST LIMIT $2 OFFSET $3`
	rows, err := r.DB.Query(query, accountID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*model.Conversation{}
	for rows.Next() {
		c, err := r.scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *ConversationRepository) ApplyInbound(id string, at time.Time, window *time.Time) error {
	query := `
        UPDATE conversations SET
            status = CASE WHEN status='closed' THEN 'open' ELSE status END,
            message_count = message_count + 1,
            unread_count = unread_count + 1,
            last_message_at = $2,
            last_inbound_at = $2,
            window_expires_at = COALESCE($3, window_expires_at),
            requires_template = CASE WHEN $3 IS NOT NULL THEN false ELSE requires_template END
        WHERE id=$1
    `
	_, err := r.DB.Exec(query, id, at, window)
	return err
}

func (r *ConversationRepository) MarkOutbound(id string, at time.Time) error {
	query := `
        UPDATE conversations SET
            message_count = message_count + 1,
            last_message_at = $2,
            last_outbound_at = $2,
            first_response_at = COALESCE(first_response_at, $2)
        WHERE id=$1
    `
	_, err := r.DB.Exec(query, id, at)
	return err
}

func (r *ConversationRepository) AssignAgent(id, agentID string) error {
	_, err := r.DB.Exec(`UPDATE conversations SET assigned_agent=$2 WHERE id=$1`, id, agentID)
	return err
}

func (r *ConversationRepository) AddTag(id, tag string) error {
	// array_append only when absent keeps the tag set duplicate-free.
	query := `
        UPDATE conversations SET tags = array_append(tags, $2)
        WHERE id=$1 AND NOT ($2 = ANY(tags))
    `
	_, err := r.DB.Exec(query, id, tag)
	return err
}

func (r *ConversationRepository) LinkLead(id, leadID string) error {
	_, err := r.DB.Exec(`UPDATE conversations SET lead_id=$2 WHERE id=$1`, id, leadID)
	return err
}

func (r *ConversationRepository) SetContactName(id, name string) error {
	_, err := r.DB.Exec(`UPDATE conversations SET contact_name=$2 WHERE id=$1 AND contact_name=''`, id, name)
	return err
}

func (r *ConversationRepository) UpdateStatus(id string, status model.ConversationStatus) error {
	_, err := r.DB.Exec(`UPDATE conversations SET status=$2 WHERE id=$1`, id, status)
	return err
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
