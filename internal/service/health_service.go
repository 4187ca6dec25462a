// internal/service/health_service.go
package service

import (
	"context"
	"time"

	"github.com/inboxd/omnichannel-backend/internal/model"
	"github.com/inboxd/omnichannel-backend/internal/repository"
)

// HealthService probes provider APIs for account credentials gone bad.
type HealthService struct {
	AccountRepo repository.ChannelAccountRepositoryInterface
	Connectors  ConnectorBuilder
}

// Check probes one account and records the outcome on it.
func (s *HealthService) Check(ctx context.Context, accountID string) (*model.ChannelAccount, error) {
	account, err := s.AccountRepo.GetByID(accountID)
	if err != nil {
		return nil, err
	}

	conn, err := s.Connectors(account)
	if err != nil {
		return nil, err
	}

	status := conn.CheckHealth(ctx)
	now := time.Now()
	if err := s.AccountRepo.UpdateHealth(account.ID, status.Healthy, status.Message, now); err != nil {
		return nil, err
	}
	account.Healthy = status.Healthy
	account.HealthMessage = status.Message
	account.LastHealthCheck = &now
	return account, nil
}
