//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"vpn-subscription-bot/internal/domain/model"
)

type fixture struct {
	user   *model.User
	tariff *model.Tariff
	sub    *model.Subscription
}

func seedFixture(t *testing.T, externalID int64) fixture {
	t.Helper()
	ctx := context.Background()

	user, _ := model.NewUser("", externalID, "user", nil)
	if err := NewPostgresUserRepo(testPool).Save(ctx, nil, user); err != nil {
		t.Fatalf("failed to save user: %v", err)
	}
	tariff, _ := model.NewTariff("", "Month", 30, 10000, "RUB")
	if err := NewPostgresTariffRepo(testPool).Save(ctx, nil, tariff); err != nil {
		t.Fatalf("failed to save tariff: %v", err)
	}
	sub, _ := model.NewPendingSubscription("", user.ID, &tariff.ID, &model.GrantSnapshot{
		CorrelationID: uuid.NewString(),
		DisplayName:   "user_1",
		ExpiresAt:     time.Now().Add(-24 * time.Hour),
	})
	if err := NewPostgresSubscriptionRepo(testPool).Save(ctx, nil, sub); err != nil {
		t.Fatalf("failed to save subscription: %v", err)
	}
	return fixture{user: user, tariff: tariff, sub: sub}
}

func newPendingPayment(f fixture, externalID string) *model.Payment {
	now := time.Now()
	return &model.Payment{
		ID:             uuid.NewString(),
		UserID:         f.user.ID,
		Amount:         f.tariff.Price,
		Currency:       f.tariff.Currency,
		Method:         model.PaymentMethodGatewayRedirect,
		ExternalID:     externalID,
		Status:         model.PaymentStatusPending,
		SubscriptionID: f.sub.ID,
		TariffID:       f.tariff.ID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}
