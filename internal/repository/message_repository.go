// internal/repository/message_repository.go
package repository

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/inboxd/omnichannel-backend/internal/model"
)

type MessageRepositoryInterface interface {
	// Insert stores a message. The bool is false when a message with the
	// same (conversation_id, external_id) already exists.
	Insert(m *model.Message) (bool, error)
	GetByID(id string) (*model.Message, error)
	GetByExternalID(externalID string) (*model.Message, error)
	ListByConversation(conversationID string, offset, limit int) ([]*model.Message, error)

	// UpdateSendResult records a connector's answer for an outbound message.
	UpdateSendResult(id string, status model.MessageStatus, externalID, errCode, errMsg string, at time.Time) error

	// ApplyStatus applies a delivery receipt by provider message ID,
	// respecting the monotonic status order. Returns false when no message
	// matched or the transition was ignored.
	ApplyStatus(externalID string, status model.MessageStatus, at time.Time, errCode, errMsg string) (bool, error)
}

type MessageRepository struct {
	DB *sql.DB
}

func (r *MessageRepository) Insert(m *model.Message) (bool, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Status == "" {
		m.Status = model.StatusPending
	}
	m.CreatedAt = time.Now()

	content, err := json.Marshal(m.Content)
	if err != nil {
		return false, err
	}

	query := `
        INSERT INTO messages
            (id, conversation_id, external_id, direction, type, content, text,
             status, sent_at, delivered_at, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
        ON CONFLICT (conversation_id, external_id) WHERE external_id IS NOT NULL
        DO NOTHING
    `
	res, err := r.DB.Exec(query,
		m.ID, m.ConversationID, nullable(m.ExternalID), m.Direction, m.Type,
		content, m.Text, m.Status, m.SentAt, m.DeliveredAt, m.CreatedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

const messageColumns = `
    id, conversation_id, external_id, direction, type, content, text, status,
    error_code, error_message, sent_at, delivered_at, read_at, failed_at, created_at
`

func scanMessage(row interface{ Scan(...any) error }) (*model.Message, error) {
	var m model.Message
	var content []byte
	var externalID, errCode, errMsg sql.NullString
	err := row.Scan(
		&m.ID, &m.ConversationID, &externalID, &m.Direction, &m.Type,
		&content, &m.Text, &m.Status, &errCode, &errMsg,
		&m.SentAt, &m.DeliveredAt, &m.ReadAt, &m.FailedAt, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	m.ExternalID = externalID.String
	if len(content) > 0 {
		if err := json.Unmarshal(content, &m.Content); err != nil {
			return nil, err
		}
	}
	m.ErrorCode = errCode.String
	m.ErrorMessage = errMsg.String
	return &m, nil
}

func (r *MessageRepository) GetByID(id string) (*model.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id=$1`
	m, err := scanMessage(r.DB.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

func (r *MessageRepository) GetByExternalID(externalID string) (*model.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE external_id=$1`
	m, err := scanMessage(r.DB.QueryRow(query, externalID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

func (r *MessageRepository) ListByConversation(conversationID string, offset, limit int) ([]*model.Message, error) {
	query := `SELECT ` + messageColumns + `
        FROM messages WHERE conversation_id=$1
        ORDER BY created_at ASC LIMIT $2 OFFSET $3`
	rows, err := r.DB.Query(query, conversationID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*model.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *MessageRepository) UpdateSendResult(id string, status model.MessageStatus, externalID, errCode, errMsg string, at time.Time) error {
	query := `
        UPDATE messages SET
            status=$2,
            external_id = CASE WHEN $3 <> '' THEN $3 ELSE external_id END,
            error_code=$4, error_message=$5,
            sent_at    = CASE WHEN $2 = 'sent'   THEN $6 ELSE sent_at END,
            failed_at  = CASE WHEN $2 = 'failed' THEN $6 ELSE failed_at END
        WHERE id=$1
    `
	_, err := r.DB.Exec(query, id, status, externalID, errCode, errMsg, at)
	return err
}

// ApplyStatus mirrors model.CanTransition in SQL so receipts arriving out
// of order never move a message backwards, and failed stays terminal.
func (r *MessageRepository) ApplyStatus(externalID string, status model.MessageStatus, at time.Time, errCode, errMsg string) (bool, error) {
	query := `
        UPDATE messages SET
            status=$2,
            error_code = CASE WHEN $2='failed' THEN $4 ELSE error_code END,
            error_message = CASE WHEN $2='failed' THEN $5 ELSE error_message END,
            sent_at =      CASE WHEN $2='sent'      THEN $3 ELSE sent_at END,
            delivered_at = CASE WHEN $2='delivered' THEN $3 ELSE delivered_at END,
            read_at =      CASE WHEN $2='read'      THEN $3 ELSE read_at END,
            failed_at =    CASE WHEN $2='failed'    THEN $3 ELSE failed_at END
        WHERE external_id=$1
          AND status <> 'failed'
          AND (
            ($2 = 'failed' AND status IN ('pending','queued','sent'))
            OR (
                CASE status
                    WHEN 'pending' THEN 0 WHEN 'queued' THEN 1 WHEN 'sent' THEN 2
                    WHEN 'delivered' THEN 3 WHEN 'read' THEN 4 ELSE -1
                END
                <
                CASE $2
                    WHEN 'pending' THEN 0 WHEN 'queued' THEN 1 WHEN 'sent' THEN 2
                    WHEN 'delivered' THEN 3 WHEN 'read' THEN 4 ELSE -1
                END
            )
          )
    `
	res, err := r.DB.Exec(query, externalID, status, at, errCode, errMsg)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
