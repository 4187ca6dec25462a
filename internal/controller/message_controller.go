// internal/controller/message_controller.go
package controller

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	appErrors "github.com/inboxd/omnichannel-backend/internal/errors"
	"github.com/inboxd/omnichannel-backend/internal/repository"
	"github.com/inboxd/omnichannel-backend/internal/service"
)

type MessageController struct {
	Outbound         *service.OutboundService
	MessageRepo      repository.MessageRepositoryInterface
	ConversationRepo repository.ConversationRepositoryInterface
}

// SendMessage handles POST /conversations/{id}/messages.
func (c *MessageController) SendMessage(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")

	var spec service.MessageSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	msg, err := c.Outbound.Submit(r.Context(), conversationID, spec)
	if err != nil {
		writeOutboundError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(msg)
}

// ListMessages handles GET /conversations/{id}/messages.
func (c *MessageController) ListMessages(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")

	conv, err := c.ConversationRepo.GetByID(conversationID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if conv == nil {
		http.Error(w, "conversation not found", http.StatusNotFound)
		return
	}

	offset, limit := pagination(r, 50)
	messages, err := c.MessageRepo.ListByConversation(conversationID, offset, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"conversation_id": conversationID,
		"messages":        messages,
	})
}

func writeOutboundError(w http.ResponseWriter, err error) {
	switch err.(type) {
	case *appErrors.ErrValidation:
		http.Error(w, err.Error(), http.StatusBadRequest)
	case *appErrors.ErrWindowClosed:
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case *appErrors.ErrRateLimitExceeded:
		http.Error(w, err.Error(), http.StatusTooManyRequests)
	case *appErrors.ErrConversationNotFound, *appErrors.ErrAccountNotFound:
		http.Error(w, err.Error(), http.StatusNotFound)
	case *appErrors.ErrAuthentication:
		http.Error(w, err.Error(), http.StatusBadGateway)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
