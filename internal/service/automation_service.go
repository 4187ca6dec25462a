// internal/service/automation_service.go
package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/inboxd/omnichannel-backend/internal/metrics"
	"github.com/inboxd/omnichannel-backend/internal/model"
	"github.com/inboxd/omnichannel-backend/internal/repository"
)

// AutomationService evaluates rules against inbound messages and runs
// their actions.
type AutomationService struct {
	RuleRepo         repository.AutomationRepositoryInterface
	ConversationRepo repository.ConversationRepositoryInterface
	LeadRepo         repository.LeadRepositoryInterface
	Outbound         *OutboundService

	now func() time.Time
}

func NewAutomationService(rules repository.AutomationRepositoryInterface, convs repository.ConversationRepositoryInterface, leads repository.LeadRepositoryInterface, outbound *OutboundService) *AutomationService {
	return &AutomationService{
		RuleRepo:         rules,
		ConversationRepo: convs,
		LeadRepo:         leads,
		Outbound:         outbound,
		now:              time.Now,
	}
}

// HandleInbound runs every matching rule for one freshly ingested message,
// in priority order. One rule failing never blocks the rules after it.
func (s *AutomationService) HandleInbound(account *model.ChannelAccount, conv *model.Conversation, msg *model.Message) error {
	rules, err := s.RuleRepo.ActiveRules(account.TenantID, []string{model.TriggerNewMessage, model.TriggerKeyword})
	if err != nil {
		return err
	}

	for _, rule := range rules {
		if !rule.MatchesChannel(account.ChannelType) {
			continue
		}
		if rule.TriggerType == model.TriggerKeyword && !matchesKeyword(rule.Keywords, msg.Text) {
			continue
		}
		if s.onCooldown(rule) {
			s.skip(rule, conv, msg, "cooldown")
			continue
		}
		s.fire(rule, conv, msg)
	}
	return nil
}

func matchesKeyword(keywords []string, text string) bool {
	if text == "" {
		return false
	}
	lower := strings.ToLower(text)
	for _, kw := range keywords {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

func (s *AutomationService) onCooldown(rule *model.AutomationRule) bool {
	if rule.CooldownSeconds <= 0 || rule.LastTriggeredAt == nil {
		return false
	}
	return s.now().Sub(*rule.LastTriggeredAt) < time.Duration(rule.CooldownSeconds)*time.Second
}

// skip records a suppressed firing so cooldown behaviour shows up in the
// execution log instead of vanishing silently.
func (s *AutomationService) skip(rule *model.AutomationRule, conv *model.Conversation, msg *model.Message, reason string) {
	exec := &model.AutomationExecution{
		RuleID:         rule.ID,
		ConversationID: conv.ID,
		MessageID:      msg.ID,
		Status:         model.ExecutionSkipped,
	}
	created, err := s.RuleRepo.CreateExecution(exec)
	if err != nil || !created {
		return
	}
	_ = s.RuleRepo.FinishExecution(exec.ID, model.ExecutionSkipped, reason, "")
	metrics.AutomationExecutions.WithLabelValues(string(model.ExecutionSkipped)).Inc()
}

// fire executes one rule against one message. Actions run in order; the
// first failure aborts the rest and marks the execution failed.
func (s *AutomationService) fire(rule *model.AutomationRule, conv *model.Conversation, msg *model.Message) {
	exec := &model.AutomationExecution{
		RuleID:         rule.ID,
		ConversationID: conv.ID,
		MessageID:      msg.ID,
	}
	created, err := s.RuleRepo.CreateExecution(exec)
	if err != nil {
		log.Println("⚠️ Failed to record automation execution:", err)
		return
	}
	if !created {
		// Already ran for this (rule, message) pair.
		return
	}

	_ = s.RuleRepo.TouchRule(rule.ID, s.now())

	for i, action := range rule.Actions {
		if err := s.runAction(action, conv, msg); err != nil {
			errMsg := fmt.Sprintf("action %d (%s): %v", i, action.Type, err)
			_ = s.RuleRepo.FinishExecution(exec.ID, model.ExecutionFailed, "", errMsg)
			metrics.AutomationExecutions.WithLabelValues(string(model.ExecutionFailed)).Inc()
			log.Printf("⚠️ Rule %s failed on conversation %s: %s", rule.Name, conv.ID, errMsg)
			return
		}
	}

	_ = s.RuleRepo.FinishExecution(exec.ID, model.ExecutionCompleted, fmt.Sprintf("%d actions", len(rule.Actions)), "")
	_ = s.RuleRepo.IncrementExecuted(rule.ID)
	metrics.AutomationExecutions.WithLabelValues(string(model.ExecutionCompleted)).Inc()
	log.Printf("✅ Rule %s completed on conversation %s", rule.Name, conv.ID)
}

func (s *AutomationService) runAction(action model.Action, conv *model.Conversation, msg *model.Message) error {
	switch action.Type {
	case model.ActionAssignAgent:
		if action.AgentID == "" {
			return fmt.Errorf("assign_agent action has no agent ID")
		}
		return s.ConversationRepo.AssignAgent(conv.ID, action.AgentID)

	case model.ActionAddTag:
		if action.Tag == "" {
			return fmt.Errorf("add_tag action has no tag")
		}
		return s.ConversationRepo.AddTag(conv.ID, action.Tag)

	case model.ActionSendTemplate:
		if s.Outbound == nil {
			return fmt.Errorf("outbound service not configured")
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		sent, err := s.Outbound.Submit(ctx, conv.ID, MessageSpec{
			Type:       model.TypeTemplate,
			TemplateID: action.TemplateID,
			Variables:  action.Variables,
		})
		if err != nil {
			return err
		}
		if sent.Status == model.StatusFailed {
			return fmt.Errorf("template send failed: %s", sent.ErrorMessage)
		}
		return nil

	case model.ActionCreateLead:
		if s.LeadRepo == nil {
			return fmt.Errorf("lead repository not configured")
		}
		if conv.LeadID != "" {
			return nil // already linked, idempotent
		}
		if existing := s.findLead(conv); existing != nil {
			conv.LeadID = existing.ID
			return s.ConversationRepo.LinkLead(conv.ID, existing.ID)
		}
		lead := &model.Lead{
			TenantID: conv.TenantID,
			Name:     conv.ContactName,
			Phone:    conv.ContactPhone,
			Email:    conv.ContactEmail,
			Source:   string(conv.ChannelType),
		}
		if lead.Name == "" {
			lead.Name = conv.ContactIdentifier
		}
		if err := s.LeadRepo.Create(lead); err != nil {
			return err
		}
		conv.LeadID = lead.ID
		return s.ConversationRepo.LinkLead(conv.ID, lead.ID)
	}
	return fmt.Errorf("unknown action type %q", action.Type)
}

func (s *AutomationService) findLead(conv *model.Conversation) *model.Lead {
	if conv.ContactPhone != "" {
		if lead, err := s.LeadRepo.FindByPhone(conv.TenantID, conv.ContactPhone); err == nil && lead != nil {
			return lead
		}
	}
	if conv.ContactEmail != "" {
		if lead, err := s.LeadRepo.FindByEmail(conv.TenantID, conv.ContactEmail); err == nil && lead != nil {
			return lead
		}
	}
	return nil
}
