// internal/repository/automation_repository.go
package repository

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/inboxd/omnichannel-backend/internal/model"
)

type AutomationRepositoryInterface interface {
	CreateRule(r *model.AutomationRule) error
	GetRule(id string) (*model.AutomationRule, error)
	// ActiveRules returns the tenant's enabled rules for the given trigger
	// types, ordered by priority then creation time.
	ActiveRules(tenantID string, triggers []string) ([]*model.AutomationRule, error)

	// CreateExecution records a firing attempt. The bool is false when the
	// (rule, message) pair already executed.
	CreateExecution(e *model.AutomationExecution) (bool, error)
	FinishExecution(id string, status model.ExecutionStatus, result, errMsg string) error
	ExecutionsForRule(ruleID string) ([]*model.AutomationExecution, error)

	// TouchRule stamps last_triggered_at and bumps times_triggered.
	TouchRule(id string, at time.Time) error
	IncrementExecuted(id string) error
}

type AutomationRepository struct {
	DB *sql.DB
}

func (r *AutomationRepository) CreateRule(rule *model.AutomationRule) error {
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	rule.CreatedAt = time.Now()

	actions, err := json.Marshal(rule.Actions)
	if err != nil {
		return err
	}
	channels := make([]string, len(rule.Channels))
	for i, c := range rule.Channels {
		channels[i] = string(c)
	}

	query := `
        INSERT INTO automation_rules
            (id, tenant_id, name, trigger_type, keywords, channels, actions,
             priority, active, cooldown_seconds, times_triggered, times_executed, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,0,0,$11)
    `
	_, err = r.DB.Exec(query,
		rule.ID, rule.TenantID, rule.Name, rule.TriggerType,
		pq.Array(rule.Keywords), pq.Array(channels), actions,
		rule.Priority, rule.Active, rule.CooldownSeconds, rule.CreatedAt)
	return err
}

const ruleColumns = `
    id, tenant_id, name, trigger_type, keywords, channels, actions, priority,
    active, cooldown_seconds, last_triggered_at, times_triggered, times_executed, created_at
`

func scanRule(row interface{ Scan(...any) error }) (*model.AutomationRule, error) {
	var rule model.AutomationRule
	var actions []byte
	var channels []string
	err := row.Scan(
		&rule.ID, &rule.TenantID, &rule.Name, &rule.TriggerType,
		pq.Array(&rule.Keywords), pq.Array(&channels), &actions, &rule.Priority,
		&rule.Active, &rule.CooldownSeconds, &rule.LastTriggeredAt,
		&rule.TimesTriggered, &rule.TimesExecuted, &rule.CreatedAt)
	if err != nil {
		return nil, err
	}
	if len(actions) > 0 {
		if err := json.Unmarshal(actions, &rule.Actions); err != nil {
			return nil, err
		}
	}
	for _, c := range channels {
		rule.Channels = append(rule.Channels, model.ChannelType(c))
	}
	return &rule, nil
}

func (r *AutomationRepository) GetRule(id string) (*model.AutomationRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM automation_rules WHERE id=$1`
	rule, err := scanRule(r.DB.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rule, err
}

func (r *AutomationRepository) ActiveRules(tenantID string, triggers []string) ([]*model.AutomationRule, error) {
	query := `SELECT ` + ruleColumns + `
        FROM automation_rules
        WHERE tenant_id=$1 AND active AND trigger_type = ANY($2)
        ORDER BY priority ASC, created_at ASC`
	rows, err := r.DB.Query(query, tenantID, pq.Array(triggers))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*model.AutomationRule{}
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

func (r *AutomationRepository) CreateExecution(e *model.AutomationExecution) (bool, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Status == "" {
		e.Status = model.ExecutionExecuting
	}
	e.TriggeredAt = time.Now()

	// One execution per (rule, message) even when the webhook is redelivered.
	query := `
        INSERT INTO automation_executions
            (id, rule_id, conversation_id, message_id, status, triggered_at)
        VALUES ($1,$2,$3,$4,$5,$6)
        ON CONFLICT (rule_id, message_id) DO NOTHING
    `
	res, err := r.DB.Exec(query, e.ID, e.RuleID, e.ConversationID, e.MessageID, e.Status, e.TriggeredAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *AutomationRepository) FinishExecution(id string, status model.ExecutionStatus, result, errMsg string) error {
	query := `
        UPDATE automation_executions
        SET status=$2, result=$3, error_message=$4, completed_at=NOW()
        WHERE id=$1
    `
	_, err := r.DB.Exec(query, id, status, result, errMsg)
	return err
}

func (r *AutomationRepository) ExecutionsForRule(ruleID string) ([]*model.AutomationExecution, error) {
	query := `
        SELECT id, rule_id, conversation_id, message_id, status, result,
               error_message, triggered_at, completed_at
        FROM automation_executions WHERE rule_id=$1 ORDER BY triggered_at ASC
    `
	rows, err := r.DB.Query(query, ruleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*model.AutomationExecution{}
	for rows.Next() {
		var e model.AutomationExecution
		err := rows.Scan(
			&e.ID, &e.RuleID, &e.ConversationID, &e.MessageID, &e.Status,
			&e.Result, &e.ErrorMessage, &e.TriggeredAt, &e.CompletedAt)
		if err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (r *AutomationRepository) TouchRule(id string, at time.Time) error {
	query := `UPDATE automation_rules SET last_triggered_at=$2, times_triggered=times_triggered+1 WHERE id=$1`
	_, err := r.DB.Exec(query, id, at)
	return err
}

func (r *AutomationRepository) IncrementExecuted(id string) error {
	_, err := r.DB.Exec(`UPDATE automation_rules SET times_executed=times_executed+1 WHERE id=$1`, id)
	return err
}
