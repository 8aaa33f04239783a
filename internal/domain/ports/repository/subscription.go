package repository

import (
	"context"

	"vpn-subscription-bot/internal/domain/model"
)

type SubscriptionRepository interface {
	Save(ctx context.Context, tx Tx, s *model.Subscription) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Subscription, error)
	FindByCorrelationID(ctx context.Context, tx Tx, correlationID string) (*model.Subscription, error)
	// ListByStatus returns up to limit rows with id > afterID ordered by id.
	ListByStatus(ctx context.Context, tx Tx, status model.SubscriptionStatus, afterID string, limit int) ([]*model.Subscription, error)
	CountByStatus(ctx context.Context, tx Tx) (map[model.SubscriptionStatus]int, error)
	// TransitionStatus sets status=to only if the current status is one of
	// from, and reports whether a row changed.
	TransitionStatus(ctx context.Context, tx Tx, id string, from []model.SubscriptionStatus, to model.SubscriptionStatus) (bool, error)
}
