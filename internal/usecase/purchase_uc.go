// File: internal/usecase/purchase_uc.go
package usecase

import (
	"context"
	"errors"
	"strconv"
	"time"

	"vpn-subscription-bot/internal/domain"
	"vpn-subscription-bot/internal/domain/model"
	"vpn-subscription-bot/internal/domain/ports/adapter"
	"vpn-subscription-bot/internal/domain/ports/repository"
	"vpn-subscription-bot/internal/infra/logging"
	"vpn-subscription-bot/internal/infra/metrics"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Compile-time check
var _ PurchaseUseCase = (*purchaseUC)(nil)

// PurchaseIntent is a PENDING payment together with the subscription it pays
// for and where the buyer completes checkout.
type PurchaseIntent struct {
	Payment      *model.Payment
	Subscription *model.Subscription
	CheckoutURL  string
}

type PurchaseUseCase interface {
	ListTariffs(ctx context.Context) ([]*model.Tariff, error)
	// CreateIntent opens a provider charge and records it as a PENDING
	// payment. With extendSubscriptionID empty a new PENDING subscription is
	// created; otherwise the buyer's existing subscription is renewed.
	CreateIntent(ctx context.Context, userID, tariffID string, method model.PaymentMethod, extendSubscriptionID string) (*PurchaseIntent, error)
	CreateTrial(ctx context.Context, userID string) (*model.Subscription, error)
}

type purchaseUC struct {
	users    repository.UserRepository
	tariffs  repository.TariffRepository
	subs     repository.SubscriptionRepository
	payments repository.PaymentRepository
	panel    adapter.ProvisioningAdapter
	gateways map[model.PaymentMethod]adapter.PaymentGateway
	notifier adapter.Notifier

	trialDays int
	now       func() time.Time
	log       *zerolog.Logger
}

func NewPurchaseUseCase(
	users repository.UserRepository,
	tariffs repository.TariffRepository,
	subs repository.SubscriptionRepository,
	payments repository.PaymentRepository,
	panel adapter.ProvisioningAdapter,
	gateways []adapter.PaymentGateway,
	notifier adapter.Notifier,
	trialDays int,
	logger *zerolog.Logger,
) *purchaseUC {
	byMethod := make(map[model.PaymentMethod]adapter.PaymentGateway, len(gateways))
	for _, g := range gateways {
		byMethod[g.Method()] = g
	}
	l := logger.With().Str("component", "PurchaseUC").Logger()
	return &purchaseUC{
		users:     users,
		tariffs:   tariffs,
		subs:      subs,
		payments:  payments,
		panel:     panel,
		gateways:  byMethod,
		notifier:  notifier,
		trialDays: trialDays,
		now:       func() time.Time { return time.Now().UTC() },
		log:       &l,
	}
}

func (u *purchaseUC) ListTariffs(ctx context.Context) ([]*model.Tariff, error) {
	return u.tariffs.ListActive(ctx, nil)
}

func (u *purchaseUC) CreateIntent(ctx context.Context, userID, tariffID string, method model.PaymentMethod, extendSubscriptionID string) (*PurchaseIntent, error) {
	defer logging.TraceDuration(u.log, "PurchaseUC.CreateIntent")()
	ctx = logging.WithUserID(ctx, userID)
	log := logging.With(ctx, u.log)

	gw, ok := u.gateways[method]
	if !ok {
		return nil, domain.ErrUnsupportedMethod
	}
	tariff, err := u.tariffs.FindByID(ctx, nil, tariffID)
	if err != nil {
		return nil, err
	}
	if !tariff.Active {
		return nil, domain.ErrTariffInactive
	}
	user, err := u.users.FindByID(ctx, nil, userID)
	if err != nil {
		return nil, err
	}

	sub, err := u.subscriptionFor(ctx, user, tariff, extendSubscriptionID)
	if err != nil {
		return nil, err
	}

	// The payment id exists before the charge so the provider can carry it
	// as metadata and as the idempotency key.
	paymentID := uuid.NewString()
	intent, err := gw.CreateCharge(ctx, adapter.ChargeRequest{
		PaymentID:      paymentID,
		SubscriptionID: sub.ID,
		UserID:         user.ID,
		TariffID:       tariff.ID,
		Amount:         tariff.Price,
		Currency:       tariff.Currency,
		Description:    tariff.Name + " (" + strconv.Itoa(tariff.DurationDays) + "d)",
	})
	if err != nil {
		return nil, domain.NewAdapterError(string(method), "create_charge", err)
	}

	now := u.now()
	p := &model.Payment{
		ID:             paymentID,
		UserID:         user.ID,
		Amount:         tariff.Price,
		Currency:       tariff.Currency,
		Method:         method,
		ExternalID:     intent.ExternalID,
		Status:         model.PaymentStatusPending,
		SubscriptionID: sub.ID,
		TariffID:       tariff.ID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := u.payments.Save(ctx, nil, p); err != nil {
		// The provider holds a charge with no local row; RecoverOrphans
		// re-materializes it from the charge metadata.
		logging.Anomaly(log, "orphan_charge").Err(err).
			Str("external_id", intent.ExternalID).Msg("charge created but payment not persisted")
		return nil, err
	}

	metrics.IncPayment(string(method), string(p.Status))
	log.Info().Str("payment_id", p.ID).Str("external_id", p.ExternalID).Str("method", string(method)).Msg("purchase intent created")
	return &PurchaseIntent{Payment: p, Subscription: sub, CheckoutURL: intent.CheckoutURL}, nil
}

// subscriptionFor returns the subscription a new payment will settle.
func (u *purchaseUC) subscriptionFor(ctx context.Context, user *model.User, tariff *model.Tariff, extendID string) (*model.Subscription, error) {
	if extendID != "" {
		sub, err := u.subs.FindByID(ctx, nil, extendID)
		if err != nil {
			return nil, err
		}
		if sub.UserID != user.ID {
			return nil, domain.ErrForbidden
		}
		return sub, nil
	}

	// The grant exists before payment so its correlation id can be held, but
	// with an expiry in the past it opens nothing until Confirm extends it.
	grant, err := u.panel.CreateGrant(ctx, adapter.GrantRequest{
		ExternalUserID: user.ExternalID,
		ExpiresAt:      u.now().Add(-time.Minute),
	})
	if err != nil {
		return nil, domain.NewAdapterError("panel", "create_grant", err)
	}
	tid := tariff.ID
	sub, err := model.NewPendingSubscription("", user.ID, &tid, grant)
	if err != nil {
		return nil, err
	}
	if err := u.subs.Save(ctx, nil, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

func (u *purchaseUC) CreateTrial(ctx context.Context, userID string) (*model.Subscription, error) {
	defer logging.TraceDuration(u.log, "PurchaseUC.CreateTrial")()

	user, err := u.users.FindByID(ctx, nil, userID)
	if err != nil {
		return nil, err
	}
	if !user.HasTrialEligibility {
		return nil, domain.ErrTrialUnavailable
	}

	// Flip eligibility first: a grant opened for a lost race would be free access.
	won, err := u.users.ConsumeTrial(ctx, nil, user.ID)
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, domain.ErrTrialUnavailable
	}

	expiry := u.now().Add(time.Duration(u.trialDays) * 24 * time.Hour)
	grant, err := u.panel.CreateGrant(ctx, adapter.GrantRequest{ExternalUserID: user.ExternalID, ExpiresAt: expiry})
	if err != nil {
		u.log.Error().Err(err).Str("user_id", user.ID).Msg("trial grant failed after eligibility was consumed")
		return nil, domain.NewAdapterError("panel", "create_grant", err)
	}

	sub, err := model.NewPendingSubscription("", user.ID, nil, grant)
	if err != nil {
		return nil, err
	}
	sub.Status = model.SubscriptionStatusActive
	sub.EndDate = expiry
	if err := u.subs.Save(ctx, nil, sub); err != nil {
		return nil, err
	}

	metrics.IncTrialStarted()
	if u.notifier != nil {
		if err := u.notifier.Notify(ctx, user.ExternalID, adapter.TemplateTrialStarted, map[string]string{
			"expires_at": expiry.Format("2006-01-02 15:04"),
			"access_url": sub.AccessURL,
		}); err != nil {
			u.log.Warn().Err(err).Msg("trial notification not delivered")
		}
	}
	return sub, nil
}

// IsRetryable reports whether err should be answered with "retry later".
func IsRetryable(err error) bool {
	return domain.IsAdapterError(err) || errors.Is(err, domain.ErrConcurrentUpdate)
}
