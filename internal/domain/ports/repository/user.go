package repository

import (
	"context"

	"vpn-subscription-bot/internal/domain/model"
)

type UserRepository interface {
	Save(ctx context.Context, tx Tx, u *model.User) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.User, error)
	FindByExternalID(ctx context.Context, tx Tx, externalID int64) (*model.User, error)
	FindByReferralCode(ctx context.Context, tx Tx, code string) (*model.User, error)
	AddBalance(ctx context.Context, tx Tx, id string, delta int64) error
	// MarkFirstPurchase flips had_first_purchase false->true and reports
	// whether this call did the flip.
	MarkFirstPurchase(ctx context.Context, tx Tx, id string) (bool, error)
	// ConsumeTrial flips has_trial_eligibility true->false and reports
	// whether this call did the flip.
	ConsumeTrial(ctx context.Context, tx Tx, id string) (bool, error)
}
