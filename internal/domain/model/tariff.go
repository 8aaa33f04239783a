package model

import (
	"time"

	"vpn-subscription-bot/internal/domain"

	"github.com/google/uuid"
)

// Tariff is a purchasable plan. Prices are integer minor units; the price is
// copied onto each Payment so later edits never touch settled transactions.
type Tariff struct {
	ID           string
	Name         string
	DurationDays int
	Price        int64
	Currency     string
	Active       bool
	CreatedAt    time.Time
}

func NewTariff(id, name string, durationDays int, price int64, currency string) (*Tariff, error) {
	if id == "" {
		id = uuid.NewString()
	}
	if name == "" || durationDays <= 0 || price < 0 || currency == "" {
		return nil, domain.ErrInvalidArgument
	}
	return &Tariff{
		ID:           id,
		Name:         name,
		DurationDays: durationDays,
		Price:        price,
		Currency:     currency,
		Active:       true,
		CreatedAt:    time.Now(),
	}, nil
}

func (t *Tariff) Duration() time.Duration {
	return time.Duration(t.DurationDays) * 24 * time.Hour
}
