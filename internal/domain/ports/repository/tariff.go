package repository

import (
	"context"

	"vpn-subscription-bot/internal/domain/model"
)

type TariffRepository interface {
	Save(ctx context.Context, tx Tx, t *model.Tariff) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Tariff, error)
	ListActive(ctx context.Context, tx Tx) ([]*model.Tariff, error)
}
