// internal/service/ingest_service.go
package service

import (
	"fmt"
	"log"
	"time"

	"github.com/inboxd/omnichannel-backend/internal/connector"
	"github.com/inboxd/omnichannel-backend/internal/metrics"
	"github.com/inboxd/omnichannel-backend/internal/model"
	"github.com/inboxd/omnichannel-backend/internal/repository"
)

// whatsappWindow is the period after an inbound message during which
// free-form replies are allowed on WhatsApp.
const whatsappWindow = 24 * time.Hour

// ConnectorBuilder resolves the provider adapter for an account.
type ConnectorBuilder func(account *model.ChannelAccount) (connector.Connector, error)

// IngestService turns raw webhook bodies into conversations and messages.
type IngestService struct {
	AccountRepo      repository.ChannelAccountRepositoryInterface
	ConversationRepo repository.ConversationRepositoryInterface
	MessageRepo      repository.MessageRepositoryInterface
	LeadRepo         repository.LeadRepositoryInterface
	Connectors       ConnectorBuilder
	Automation       *AutomationService
}

// ProcessRaw parses one webhook body for the account and applies every
// message and delivery receipt in it.
func (s *IngestService) ProcessRaw(accountID string, body []byte) error {
	account, err := s.AccountRepo.GetByID(accountID)
	if err != nil {
		return err
	}

	conn, err := s.Connectors(account)
	if err != nil {
		return err
	}

	inbound, updates, err := conn.ParseWebhook(body)
	if err != nil {
		return err
	}

	// Meta batches entries for several accounts into one delivery; each
	// account's job carries the full body, so items from foreign entries
	// are skipped here. The owning account processes them in its own job.
	for _, im := range inbound {
		if im.AccountExternalID != "" && im.AccountExternalID != account.ExternalID {
			continue
		}
		if err := s.ProcessInbound(account, im); err != nil {
			return err
		}
	}
	for _, su := range updates {
		if su.AccountExternalID != "" && su.AccountExternalID != account.ExternalID {
			continue
		}
		if err := s.ApplyStatus(account, su); err != nil {
			return err
		}
	}
	return nil
}

// ProcessInbound stores one normalized inbound message: find-or-create
// the conversation, insert the message idempotently, then hand it to the
// automation engine.
func (s *IngestService) ProcessInbound(account *model.ChannelAccount, im connector.InboundMessage) error {
	if im.SenderID == "" {
		return fmt.Errorf("inbound message %s has no sender", im.ExternalID)
	}

	conv := &model.Conversation{
		TenantID:          account.TenantID,
		AccountID:         account.ID,
		ChannelType:       account.ChannelType,
		ContactIdentifier: im.SenderID,
		ContactName:       im.SenderName,
		ContactPhone:      im.SenderPhone,
		ContactEmail:      im.SenderEmail,
	}

	// Lead matching happens at conversation creation only; existing
	// conversations are never re-linked retroactively.
	if lead := s.matchLead(account.TenantID, im); lead != nil {
		conv.LeadID = lead.ID
	}

	conv, created, err := s.ConversationRepo.GetOrCreate(conv)
	if err != nil {
		return err
	}
	if created {
		log.Printf("📥 New conversation %s on %s for %s", conv.ID, account.ChannelType, im.SenderID)
	} else if conv.ContactName == "" && im.SenderName != "" {
		// Profile data often arrives only on later webhooks.
		if err := s.ConversationRepo.SetContactName(conv.ID, im.SenderName); err != nil {
			return err
		}
		conv.ContactName = im.SenderName
	}

	now := time.Now().UTC()
	msg := &model.Message{
		ConversationID: conv.ID,
		ExternalID:     im.ExternalID,
		Direction:      model.DirectionIn,
		Type:           im.Type,
		Content:        im.Content,
		Text:           im.Text,
		Status:         model.StatusDelivered,
		SentAt:         &im.Timestamp,
		DeliveredAt:    &now,
	}
	inserted, err := s.MessageRepo.Insert(msg)
	if err != nil {
		return err
	}
	if !inserted {
		// Redelivered webhook; counters and automation already ran.
		metrics.MessagesDeduplicated.WithLabelValues(string(account.ChannelType)).Inc()
		return nil
	}
	metrics.MessagesIngested.WithLabelValues(string(account.ChannelType)).Inc()

	// The window is armed from ingestion time, not the provider timestamp:
	// a delayed delivery must not shorten the reply window.
	var window *time.Time
	if account.ChannelType == model.ChannelWhatsApp {
		w := now.Add(whatsappWindow)
		window = &w
	}
	if err := s.ConversationRepo.ApplyInbound(conv.ID, im.Timestamp, window); err != nil {
		return err
	}

	if s.Automation != nil {
		if err := s.Automation.HandleInbound(account, conv, msg); err != nil {
			// Automation failures are recorded on the execution; they must
			// not fail ingestion and trigger a redelivery.
			log.Println("⚠️ Automation error:", err)
		}
	}
	return nil
}

// ApplyStatus applies one delivery receipt. Receipts for unknown messages
// and out-of-order transitions are dropped, not errors.
func (s *IngestService) ApplyStatus(account *model.ChannelAccount, su connector.StatusUpdate) error {
	applied, err := s.MessageRepo.ApplyStatus(su.ExternalID, su.Status, su.Timestamp, su.ErrorCode, su.ErrorMessage)
	if err != nil {
		return err
	}
	channel := string(account.ChannelType)
	if !applied {
		metrics.StatusUpdatesIgnored.WithLabelValues(channel).Inc()
		log.Printf("Ignoring status %s for unknown or settled message %s", su.Status, su.ExternalID)
		return nil
	}
	metrics.StatusUpdatesApplied.WithLabelValues(channel).Inc()
	return nil
}

func (s *IngestService) matchLead(tenantID string, im connector.InboundMessage) *model.Lead {
	if s.LeadRepo == nil {
		return nil
	}
	if im.SenderPhone != "" {
		if lead, err := s.LeadRepo.FindByPhone(tenantID, im.SenderPhone); err == nil && lead != nil {
			return lead
		}
	}
	if im.SenderEmail != "" {
		if lead, err := s.LeadRepo.FindByEmail(tenantID, im.SenderEmail); err == nil && lead != nil {
			return lead
		}
	}
	return nil
}
