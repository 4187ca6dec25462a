// internal/model/automation.go
package model

import "time"

// Trigger types an automation rule can react to.
const (
	TriggerNewMessage = "new_message"
	TriggerKeyword    = "keyword"
	TriggerLeadEvent  = "lead_event"
)

// Action types executed by the automation engine. Each action must be
// individually idempotent: assign is overwrite, tag-add is set-union,
// create_lead is create-if-absent.
const (
	ActionAssignAgent  = "assign_agent"
	ActionAddTag       = "add_tag"
	ActionSendTemplate = "send_template"
	ActionCreateLead   = "create_lead"
)

// Action is one step in a rule's ordered action list.
type Action struct {
	Type       string            `json:"type" yaml:"type"`
	AgentID    string            `json:"agent_id,omitempty" yaml:"agent_id,omitempty"`
	Tag        string            `json:"tag,omitempty" yaml:"tag,omitempty"`
	TemplateID string            `json:"template_id,omitempty" yaml:"template_id,omitempty"`
	Variables  map[string]string `json:"variables,omitempty" yaml:"variables,omitempty"`
}

// AutomationRule is a tenant-scoped trigger plus an ordered action list.
// Priority makes keyword-rule ordering explicit: lower numbers run first,
// ties break on creation time.
type AutomationRule struct {
	ID          string `db:"id" json:"id" yaml:"id"`
	TenantID    string `db:"tenant_id" json:"tenant_id" yaml:"tenant_id"`
	Name        string `db:"name" json:"name" yaml:"name"`
	TriggerType string `db:"trigger_type" json:"trigger_type" yaml:"trigger_type"`

	// Keyword triggers match case-insensitive substrings of the inbound
	// text. Channels, when set, narrows the rule to those channel types.
	Keywords []string      `db:"keywords" json:"keywords,omitempty" yaml:"keywords"`
	Channels []ChannelType `db:"channels" json:"channels,omitempty" yaml:"channels"`

	Actions  []Action `db:"actions" json:"actions" yaml:"actions"`
	Priority int      `db:"priority" json:"priority" yaml:"priority"`
	Active   bool     `db:"active" json:"active" yaml:"active"`

	CooldownSeconds int        `db:"cooldown_seconds" json:"cooldown_seconds" yaml:"cooldown_seconds"`
	LastTriggeredAt *time.Time `db:"last_triggered_at" json:"last_triggered_at,omitempty" yaml:"-"`
	TimesTriggered  int        `db:"times_triggered" json:"times_triggered" yaml:"-"`
	TimesExecuted   int        `db:"times_executed" json:"times_executed" yaml:"-"`

	CreatedAt time.Time `db:"created_at" json:"created_at" yaml:"-"`
}

// MatchesChannel reports whether the rule applies to ch. An empty filter
// matches every channel.
func (r *AutomationRule) MatchesChannel(ch ChannelType) bool {
	if len(r.Channels) == 0 {
		return true
	}
	for _, c := range r.Channels {
		if c == ch {
			return true
		}
	}
	return false
}

type ExecutionStatus string

const (
	ExecutionExecuting ExecutionStatus = "executing"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionSkipped   ExecutionStatus = "skipped"
)

// AutomationExecution records one firing attempt. It is created before any
// action runs, and a (rule, message) pair executes at most once even under
// duplicate inbound delivery.
type AutomationExecution struct {
	ID             string          `db:"id" json:"id"`
	RuleID         string          `db:"rule_id" json:"rule_id"`
	ConversationID string          `db:"conversation_id" json:"conversation_id"`
	MessageID      string          `db:"message_id" json:"message_id"`
	Status         ExecutionStatus `db:"status" json:"status"`
	Result         string          `db:"result" json:"result,omitempty"`
	ErrorMessage   string          `db:"error_message" json:"error_message,omitempty"`
	TriggeredAt    time.Time       `db:"triggered_at" json:"triggered_at"`
	CompletedAt    *time.Time      `db:"completed_at" json:"completed_at,omitempty"`
}
