package usecase

import (
	"context"

	"vpn-subscription-bot/internal/domain/model"
	"vpn-subscription-bot/internal/domain/ports/repository"
	"vpn-subscription-bot/internal/infra/metrics"

	"github.com/rs/zerolog"
)

// Compile-time check
var _ StatsUseCase = (*statsUC)(nil)

type StatsUseCase interface {
	SubscriptionsByStatus(ctx context.Context) (map[model.SubscriptionStatus]int, error)
}

type statsUC struct {
	subs repository.SubscriptionRepository
	log  *zerolog.Logger
}

func NewStatsUseCase(subs repository.SubscriptionRepository, logger *zerolog.Logger) *statsUC {
	return &statsUC{subs: subs, log: logger}
}

// SubscriptionsByStatus also refreshes the subscriptions gauge.
func (s *statsUC) SubscriptionsByStatus(ctx context.Context) (map[model.SubscriptionStatus]int, error) {
	counts, err := s.subs.CountByStatus(ctx, repository.NoTX)
	if err != nil {
		return nil, err
	}
	metrics.SetSubscriptionsTotal(counts)
	return counts, nil
}
