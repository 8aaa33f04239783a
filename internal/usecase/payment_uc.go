// File: internal/usecase/payment_uc.go
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
var _ PaymentUseCase = (*paymentUC)(nil)

// Sources label who drove a transition.
const (
	SourceWebhook = "webhook"
	SourceInChat  = "in_chat"
	SourceSweep   = "sweep"
	SourceOrphan  = "orphan"
	SourceAdmin   = "admin"
)

// PaymentUseCase is the payment state machine: PENDING -> SUCCEEDED | FAILED,
// each at most once. "Already processed" is reported as Transition.Applied
// == false, never as an error.
type PaymentUseCase interface {
	Confirm(ctx context.Context, paymentID, source string) (*model.Transition, error)
	Fail(ctx context.Context, paymentID, source string) (*model.Transition, error)
	// Settle applies a provider event addressed by external id. Non-terminal
	// kinds are a no-op.
	Settle(ctx context.Context, externalID string, kind model.PaymentEventKind, source string) (*model.Transition, error)
	FindByExternalID(ctx context.Context, externalID string) (*model.Payment, error)
	// CheckSettleable validates an in-chat payment before the provider
	// captures funds: it must exist and still be PENDING.
	CheckSettleable(ctx context.Context, externalID string) (*model.Payment, error)
}

type paymentUC struct {
	payments  repository.PaymentRepository
	subs      repository.SubscriptionRepository
	tariffs   repository.TariffRepository
	users     repository.UserRepository
	referrals repository.ReferralRepository
	tm        repository.TransactionManager
	panel     adapter.ProvisioningAdapter
	notifier  adapter.Notifier

	commissionPercent int
	now               func() time.Time
	log               *zerolog.Logger
}

func NewPaymentUseCase(
	payments repository.PaymentRepository,
	subs repository.SubscriptionRepository,
	tariffs repository.TariffRepository,
	users repository.UserRepository,
	referrals repository.ReferralRepository,
	tm repository.TransactionManager,
	panel adapter.ProvisioningAdapter,
	notifier adapter.Notifier,
	commissionPercent int,
	logger *zerolog.Logger,
) *paymentUC {
	l := logger.With().Str("component", "PaymentUC").Logger()
	return &paymentUC{
		payments:          payments,
		subs:              subs,
		tariffs:           tariffs,
		users:             users,
		referrals:         referrals,
		tm:                tm,
		panel:             panel,
		notifier:          notifier,
		commissionPercent: commissionPercent,
		now:               func() time.Time { return time.Now().UTC() },
		log:               &l,
	}
}

// confirmation is what Confirm needs from outside the commit transaction.
type confirmation struct {
	payment *model.Payment
	sub     *model.Subscription
	tariff  *model.Tariff
	buyer   *model.User
	expiry  time.Time
	grant   *model.GrantSnapshot
}

func (u *paymentUC) Confirm(ctx context.Context, paymentID, source string) (*model.Transition, error) {
	defer logging.TraceDuration(u.log, "PaymentUC.Confirm")()
	ctx = logging.WithPaymentID(ctx, paymentID)
	log := logging.With(ctx, u.log)

	p, err := u.payments.FindByID(ctx, nil, paymentID)
	if err != nil {
		return nil, err
	}
	if p.Status != model.PaymentStatusPending {
		metrics.IncPaymentTransition("confirm", source, "already_processed")
		return &model.Transition{Applied: false, Payment: p}, nil
	}

	c, err := u.loadConfirmation(ctx, p)
	if err != nil {
		return nil, err
	}

	// The grant is opened before the ledger commits and outside any transaction.
	// A failure here leaves the payment PENDING for redelivery.
	c.grant, err = u.provision(ctx, c)
	if err != nil {
		metrics.IncPaymentTransition("confirm", source, "adapter_error")
		log.Warn().Err(err).Msg("provisioning failed; payment left pending")
		return nil, err
	}

	var out model.Transition
	var inviter *model.User
	err = u.tm.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		won, err := u.payments.UpdateStatusIfPending(ctx, tx, p.ID, model.PaymentStatusSucceeded)
		if err != nil {
			return err
		}
		if !won {
			return nil
		}

		cur, err := u.subs.FindByID(ctx, tx, c.sub.ID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return u.violation(ctx, "subscription", c.sub.ID, "deleted while confirming payment")
			}
			return err
		}
		if !extensionStillValid(cur, c) {
			return domain.ErrConcurrentUpdate
		}
		cur.Status = model.SubscriptionStatusActive
		cur.EndDate = c.expiry
		cur.LastPaymentID = p.ID
		if c.grant != nil {
			applyGrant(cur, c.grant)
		}
		cur.UpdatedAt = u.now()
		if err := u.subs.Save(ctx, tx, cur); err != nil {
			return err
		}

		credit, inv, err := u.creditReferral(ctx, tx, p, c.buyer)
		if err != nil {
			return err
		}

		p.Status = model.PaymentStatusSucceeded
		p.UpdatedAt = u.now()
		out = model.Transition{Applied: true, Payment: p, Subscription: cur, Credit: credit}
		inviter = inv
		return nil
	})
	if err != nil {
		result := "error"
		if errors.Is(err, domain.ErrConcurrentUpdate) {
			result = "conflict"
		}
		metrics.IncPaymentTransition("confirm", source, result)
		return nil, err
	}

	if !out.Applied {
		metrics.IncPaymentTransition("confirm", source, "already_processed")
		fresh, ferr := u.payments.FindByID(ctx, nil, p.ID)
		if ferr != nil {
			fresh = p
		}
		return &model.Transition{Applied: false, Payment: fresh}, nil
	}

	metrics.IncPaymentTransition("confirm", source, "applied")
	metrics.IncPayment(string(p.Method), string(p.Status))
	metrics.AddPaymentRevenue(p.Currency, p.Amount)
	log.Info().
		Str("subscription_id", out.Subscription.ID).
		Time("end_date", out.Subscription.EndDate).
		Str("source", source).
		Msg("payment confirmed")

	u.notify(ctx, c.buyer.ExternalID, adapter.TemplatePaymentSucceeded, map[string]string{
		"tariff":     c.tariff.Name,
		"expires_at": out.Subscription.EndDate.Format("2006-01-02 15:04"),
		"access_url": out.Subscription.AccessURL,
	})
	if out.Credit != nil && inviter != nil {
		metrics.AddReferralCredit(p.Currency, out.Credit.Amount)
		u.notify(ctx, inviter.ExternalID, adapter.TemplateReferralCredited, map[string]string{
			"amount":   strconv.FormatInt(out.Credit.Amount, 10),
			"currency": p.Currency,
		})
	}
	return &out, nil
}

func (u *paymentUC) loadConfirmation(ctx context.Context, p *model.Payment) (*confirmation, error) {
	sub, err := u.subs.FindByID(ctx, nil, p.SubscriptionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, u.violation(ctx, "subscription", p.SubscriptionID, "referenced by payment "+p.ID)
		}
		return nil, err
	}
	tariff, err := u.tariffs.FindByID(ctx, nil, p.TariffID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, u.violation(ctx, "tariff", p.TariffID, "referenced by payment "+p.ID)
		}
		return nil, err
	}
	buyer, err := u.users.FindByID(ctx, nil, p.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, u.violation(ctx, "user", p.UserID, "referenced by payment "+p.ID)
		}
		return nil, err
	}
	return &confirmation{
		payment: p,
		sub:     sub,
		tariff:  tariff,
		buyer:   buyer,
		expiry:  model.NextExpiry(u.now(), sub.EndDate, tariff.DurationDays).Truncate(time.Second),
	}, nil
}

func (u *paymentUC) provision(ctx context.Context, c *confirmation) (*model.GrantSnapshot, error) {
	if c.sub.CorrelationID == "" {
		g, err := u.panel.CreateGrant(ctx, adapter.GrantRequest{
			ExternalUserID: c.buyer.ExternalID,
			Name:           c.sub.Name,
			ExpiresAt:      c.expiry,
		})
		return g, domain.NewAdapterError("panel", "create_grant", err)
	}
	g, err := u.panel.ExtendGrant(ctx, c.sub.CorrelationID, c.expiry)
	return g, domain.NewAdapterError("panel", "extend_grant", err)
}

// creditReferral pays the inviter on the buyer's first successful payment.
// MarkFirstPurchase is the guard: only the call that flips the flag credits.
func (u *paymentUC) creditReferral(ctx context.Context, tx repository.Tx, p *model.Payment, buyer *model.User) (*model.ReferralCredit, *model.User, error) {
	first, err := u.users.MarkFirstPurchase(ctx, tx, buyer.ID)
	if err != nil {
		return nil, nil, err
	}
	if !first || !buyer.Referred() {
		return nil, nil, nil
	}
	amount := model.ReferralCommission(p.Amount, u.commissionPercent)
	if amount == 0 {
		return nil, nil, nil
	}

	inviter, err := u.users.FindByID(ctx, tx, *buyer.InviterID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil, u.violation(ctx, "user", *buyer.InviterID, "inviter of "+buyer.ID)
		}
		return nil, nil, err
	}
	if err := u.users.AddBalance(ctx, tx, inviter.ID, amount); err != nil {
		return nil, nil, err
	}
	credit := &model.ReferralCredit{
		ID:        uuid.NewString(),
		InviterID: inviter.ID,
		InviteeID: buyer.ID,
		PaymentID: p.ID,
		Amount:    amount,
		CreatedAt: u.now(),
	}
	if err := u.referrals.Save(ctx, tx, credit); err != nil {
		return nil, nil, err
	}
	return credit, inviter, nil
}

func (u *paymentUC) Fail(ctx context.Context, paymentID, source string) (*model.Transition, error) {
	defer logging.TraceDuration(u.log, "PaymentUC.Fail")()
	ctx = logging.WithPaymentID(ctx, paymentID)

	p, err := u.payments.FindByID(ctx, nil, paymentID)
	if err != nil {
		return nil, err
	}
	if p.Status != model.PaymentStatusPending {
		metrics.IncPaymentTransition("fail", source, "already_processed")
		return &model.Transition{Applied: false, Payment: p}, nil
	}

	won, err := u.payments.UpdateStatusIfPending(ctx, nil, p.ID, model.PaymentStatusFailed)
	if err != nil {
		metrics.IncPaymentTransition("fail", source, "error")
		return nil, err
	}
	if !won {
		metrics.IncPaymentTransition("fail", source, "already_processed")
		fresh, ferr := u.payments.FindByID(ctx, nil, p.ID)
		if ferr != nil {
			fresh = p
		}
		return &model.Transition{Applied: false, Payment: fresh}, nil
	}
	p.Status = model.PaymentStatusFailed
	p.UpdatedAt = u.now()

	metrics.IncPaymentTransition("fail", source, "applied")
	metrics.IncPayment(string(p.Method), string(p.Status))
	logging.With(ctx, u.log).Info().Str("source", source).Msg("payment failed")

	if buyer, err := u.users.FindByID(ctx, nil, p.UserID); err == nil {
		u.notify(ctx, buyer.ExternalID, adapter.TemplatePaymentFailed, map[string]string{
			"amount":   strconv.FormatInt(p.Amount, 10),
			"currency": p.Currency,
		})
	}
	return &model.Transition{Applied: true, Payment: p}, nil
}

func (u *paymentUC) Settle(ctx context.Context, externalID string, kind model.PaymentEventKind, source string) (*model.Transition, error) {
	p, err := u.payments.FindByExternalID(ctx, nil, externalID)
	if err != nil {
		return nil, err
	}
	switch kind {
	case model.PaymentEventSucceeded:
		return u.Confirm(ctx, p.ID, source)
	case model.PaymentEventFailed:
		return u.Fail(ctx, p.ID, source)
	default:
		return &model.Transition{Applied: false, Payment: p}, nil
	}
}

func (u *paymentUC) FindByExternalID(ctx context.Context, externalID string) (*model.Payment, error) {
	return u.payments.FindByExternalID(ctx, nil, externalID)
}

func (u *paymentUC) CheckSettleable(ctx context.Context, externalID string) (*model.Payment, error) {
	p, err := u.payments.FindByExternalID(ctx, nil, externalID)
	if err != nil {
		return nil, err
	}
	if p.Status != model.PaymentStatusPending {
		return p, &domain.ValidationError{Field: "payment", Reason: "already " + string(p.Status)}
	}
	return p, nil
}

// violation logs and counts a ConsistencyViolation. These are not retried.
func (u *paymentUC) violation(ctx context.Context, entity, id, reason string) error {
	metrics.IncConsistencyViolation(entity)
	logging.Anomaly(logging.With(ctx, u.log), "consistency_violation").
		Str("entity", entity).Str("entity_id", id).Msg(reason)
	return &domain.ConsistencyViolation{Entity: entity, ID: id, Reason: reason}
}

// notify never fails the caller: the ledger transition is already committed.
func (u *paymentUC) notify(ctx context.Context, externalUserID int64, template string, params map[string]string) {
	if u.notifier == nil || externalUserID == 0 {
		return
	}
	if err := u.notifier.Notify(ctx, externalUserID, template, params); err != nil {
		u.log.Warn().Err(err).Str("template", template).Msg("notification not delivered")
	}
}

func applyGrant(s *model.Subscription, g *model.GrantSnapshot) {
	if g.CorrelationID != "" {
		s.CorrelationID = g.CorrelationID
	}
	if g.ShortID != "" {
		s.ShortID = g.ShortID
	}
	if g.AccessURL != "" {
		s.AccessURL = g.AccessURL
	}
	if g.DisplayName != "" {
		s.Name = g.DisplayName
	}
}

// extensionStillValid reports whether the expiry computed before provisioning
// still stacks on the row's current state. Another confirmation committed in
// between means the base moved and the expiry must be recomputed. Otherwise the
// row may only differ by a panel projection of this very extension.
func extensionStillValid(cur *model.Subscription, c *confirmation) bool {
	if cur.LastPaymentID != c.sub.LastPaymentID {
		return false
	}
	return sameInstant(cur.EndDate, c.sub.EndDate) || sameInstant(cur.EndDate, c.expiry)
}

// sameInstant compares timestamps at the panel's one-second resolution.
func sameInstant(a, b time.Time) bool {
	d := a.Sub(b)
	return d > -time.Second && d < time.Second
}
