// internal/service/outbound_service.go
package service

import (
	"context"
	"log"
	"time"

	"github.com/inboxd/omnichannel-backend/internal/connector"
	appErrors "github.com/inboxd/omnichannel-backend/internal/errors"
	"github.com/inboxd/omnichannel-backend/internal/metrics"
	"github.com/inboxd/omnichannel-backend/internal/model"
	"github.com/inboxd/omnichannel-backend/internal/repository"
)

// MessageSpec is what a caller wants sent into a conversation.
type MessageSpec struct {
	Type       model.MessageType `json:"type"`
	Text       string            `json:"text,omitempty"`
	Content    model.Content     `json:"content,omitempty"`
	TemplateID string            `json:"template_id,omitempty"`
	Variables  map[string]string `json:"variables,omitempty"`
}

// OutboundService sends agent and automation replies through the
// conversation's channel.
type OutboundService struct {
	AccountRepo      repository.ChannelAccountRepositoryInterface
	ConversationRepo repository.ConversationRepositoryInterface
	MessageRepo      repository.MessageRepositoryInterface
	Connectors       ConnectorBuilder

	now func() time.Time
}

func NewOutboundService(accounts repository.ChannelAccountRepositoryInterface, convs repository.ConversationRepositoryInterface, msgs repository.MessageRepositoryInterface, connectors ConnectorBuilder) *OutboundService {
	return &OutboundService{
		AccountRepo:      accounts,
		ConversationRepo: convs,
		MessageRepo:      msgs,
		Connectors:       connectors,
		now:              time.Now,
	}
}

// Submit validates, rate-limits and sends one outbound message. Provider
// rejections come back as a persisted failed message, not a Go error;
// errors mean nothing was sent and nothing charged against the quota.
func (s *OutboundService) Submit(ctx context.Context, conversationID string, spec MessageSpec) (*model.Message, error) {
	if spec.Type == "" {
		spec.Type = model.TypeText
	}
	if err := validateSpec(spec); err != nil {
		return nil, err
	}

	conv, err := s.ConversationRepo.GetByID(conversationID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, appErrors.NewConversationNotFound(conversationID)
	}

	account, err := s.AccountRepo.GetByID(conv.AccountID)
	if err != nil {
		return nil, err
	}
	if account.Status != model.AccountActive {
		return nil, appErrors.NewValidation("account", "account is not active")
	}

	if account.ChannelType == model.ChannelWhatsApp && spec.Type != model.TypeTemplate {
		if s.windowClosed(conv) {
			return nil, appErrors.NewWindowClosed(conv.ID)
		}
	}

	ok, err := s.AccountRepo.TryIncrementSent(account.ID, s.now())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, appErrors.NewRateLimitExceeded(account.ID, account.DailyLimit)
	}

	// Persist before calling the provider so a crash mid-send leaves an
	// auditable pending row instead of a silent gap.
	msg := &model.Message{
		ConversationID: conv.ID,
		Direction:      model.DirectionOut,
		Type:           spec.Type,
		Content:        outboundContent(spec),
		Text:           spec.Text,
		Status:         model.StatusPending,
	}
	if _, err := s.MessageRepo.Insert(msg); err != nil {
		return nil, err
	}

	conn, err := s.Connectors(account)
	if err != nil {
		return nil, err
	}

	result := s.dispatch(ctx, conn, conv, spec)

	at := s.now()
	status := model.StatusFailed
	if result.Success {
		status = result.Status
		if status == "" {
			status = model.StatusSent
		}
	}
	if err := s.MessageRepo.UpdateSendResult(msg.ID, status, result.ExternalID, result.ErrorCode, result.ErrorMessage, at); err != nil {
		return nil, err
	}
	msg.Status = status
	msg.ExternalID = result.ExternalID
	msg.ErrorCode = result.ErrorCode
	msg.ErrorMessage = result.ErrorMessage

	channel := string(account.ChannelType)
	if result.Success {
		metrics.MessagesSent.WithLabelValues(channel, "ok").Inc()
		if err := s.ConversationRepo.MarkOutbound(conv.ID, at); err != nil {
			return nil, err
		}
	} else {
		metrics.MessagesSent.WithLabelValues(channel, "failed").Inc()
		log.Printf("⚠️ Send failed on conversation %s: %s %s", conv.ID, result.ErrorCode, result.ErrorMessage)
	}
	return msg, nil
}

func (s *OutboundService) windowClosed(conv *model.Conversation) bool {
	if conv.RequiresTemplate {
		return true
	}
	return conv.WindowExpiresAt != nil && s.now().After(*conv.WindowExpiresAt)
}

func (s *OutboundService) dispatch(ctx context.Context, conn connector.Connector, conv *model.Conversation, spec MessageSpec) connector.Result {
	recipient := conv.ContactIdentifier

	switch spec.Type {
	case model.TypeTemplate:
		return conn.SendTemplate(ctx, recipient, spec.TemplateID, spec.Variables)
	case model.TypeImage, model.TypeVideo, model.TypeAudio, model.TypeDocument:
		return conn.SendMedia(ctx, recipient, spec.Content)
	case model.TypeEmail:
		sender, ok := conn.(connector.EmailSender)
		if !ok {
			return connector.Result{Success: false, Status: model.StatusFailed,
				ErrorCode: "unsupported", ErrorMessage: "channel cannot send email"}
		}
		return sender.SendEmail(ctx, recipient, connector.EmailSpec{
			Subject: spec.Content.Subject,
			Body:    spec.Content.Body,
			HTML:    spec.Content.HTML,
			CC:      spec.Content.CC,
			BCC:     spec.Content.BCC,
		})
	default:
		return conn.SendText(ctx, recipient, spec.Text)
	}
}

func validateSpec(spec MessageSpec) error {
	switch spec.Type {
	case model.TypeText:
		if spec.Text == "" {
			return appErrors.NewValidation("text", "text message has no text")
		}
	case model.TypeTemplate:
		if spec.TemplateID == "" {
			return appErrors.NewValidation("template_id", "template message has no template ID")
		}
	case model.TypeImage, model.TypeVideo, model.TypeAudio, model.TypeDocument:
		if spec.Content.MediaURL == "" {
			return appErrors.NewValidation("content.media_url", "media message has no media URL")
		}
	case model.TypeEmail:
		if spec.Content.Body == "" {
			return appErrors.NewValidation("content.body", "email has no body")
		}
	default:
		return appErrors.NewValidation("type", "unsupported message type")
	}
	return nil
}

func outboundContent(spec MessageSpec) model.Content {
	c := spec.Content
	if spec.Type == model.TypeText && c.Text == "" {
		c.Text = spec.Text
	}
	if spec.Type == model.TypeTemplate {
		c.TemplateID = spec.TemplateID
		c.Variables = spec.Variables
	}
	return c
}
