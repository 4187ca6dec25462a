// internal/controller/conversation_controller.go
package controller

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/inboxd/omnichannel-backend/internal/model"
	"github.com/inboxd/omnichannel-backend/internal/repository"
)

type ConversationController struct {
	ConversationRepo repository.ConversationRepositoryInterface
}

func (c *ConversationController) GetConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := c.ConversationRepo.GetByID(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if conv == nil {
		http.Error(w, "conversation not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(conv)
}

// ListConversations handles GET /accounts/{id}/conversations.
func (c *ConversationController) ListConversations(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "id")
	offset, limit := pagination(r, 20)

	conversations, err := c.ConversationRepo.ListByAccount(accountID, offset, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"account_id":    accountID,
		"conversations": conversations,
	})
}

// UpdateStatus handles PATCH /conversations/{id}/status.
func (c *ConversationController) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var body struct {
		Status model.ConversationStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	switch body.Status {
	case model.ConversationOpen, model.ConversationPending, model.ConversationSnoozed, model.ConversationClosed:
	default:
		http.Error(w, "invalid status", http.StatusBadRequest)
		return
	}

	conv, err := c.ConversationRepo.GetByID(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if conv == nil {
		http.Error(w, "conversation not found", http.StatusNotFound)
		return
	}

	if err := c.ConversationRepo.UpdateStatus(id, body.Status); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	conv.Status = body.Status
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(conv)
}

func pagination(r *http.Request, defaultSize int) (offset, limit int) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultSize
	}
	return (page - 1) * pageSize, pageSize
}
