// internal/controller/account_controller.go
package controller

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	appErrors "github.com/inboxd/omnichannel-backend/internal/errors"
	"github.com/inboxd/omnichannel-backend/internal/repository"
	"github.com/inboxd/omnichannel-backend/internal/service"
)

type AccountController struct {
	AccountRepo repository.ChannelAccountRepositoryInterface
	Health      *service.HealthService
}

// ListAccounts handles GET /accounts?tenant=.
func (c *AccountController) ListAccounts(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant")
	if tenantID == "" {
		http.Error(w, "missing tenant", http.StatusBadRequest)
		return
	}
	accounts, err := c.AccountRepo.List(tenantID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"accounts": accounts})
}

// CheckHealth handles GET /accounts/{id}/health: probe the provider API
// live and record the result.
func (c *AccountController) CheckHealth(w http.ResponseWriter, r *http.Request) {
	account, err := c.Health.Check(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if _, ok := err.(*appErrors.ErrAccountNotFound); ok {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"account_id": account.ID,
		"healthy":    account.Healthy,
		"message":    account.HealthMessage,
		"checked_at": account.LastHealthCheck,
	})
}
