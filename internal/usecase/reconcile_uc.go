// File: internal/usecase/reconcile_uc.go
package usecase

import (
	"context"
	"errors"
	"time"

	"vpn-subscription-bot/internal/domain"
	"vpn-subscription-bot/internal/domain/model"
	"vpn-subscription-bot/internal/domain/ports/adapter"
	"vpn-subscription-bot/internal/domain/ports/repository"
	"vpn-subscription-bot/internal/infra/logging"
	"vpn-subscription-bot/internal/infra/metrics"

	"github.com/rs/zerolog"
)

// Compile-time check
var _ ReconcileUseCase = (*reconcileUC)(nil)

type SweepReport struct {
	Checked   int
	Confirmed int
	Failed    int
	Pending   int
	Skipped   int
	Errors    int
}

type OrphanReport struct {
	Scanned   int
	Recovered int
	Settled   int
	Anomalies int
	Errors    int
}

// ReconcileUseCase resolves payments whose provider events never arrived.
type ReconcileUseCase interface {
	// SweepPending asks the provider about PENDING payments older than
	// staleAfter and applies any terminal status it reports.
	SweepPending(ctx context.Context, staleAfter time.Duration, limit int) (SweepReport, error)
	// RecoverOrphans re-creates payments for provider charges whose local row
	// was never written, then settles them through the normal path.
	RecoverOrphans(ctx context.Context, since time.Time) (OrphanReport, error)
}

type reconcileUC struct {
	payments repository.PaymentRepository
	subs     repository.SubscriptionRepository
	tariffs  repository.TariffRepository
	users    repository.UserRepository
	gateways map[model.PaymentMethod]adapter.PaymentGateway
	engine   PaymentUseCase
	now      func() time.Time
	log      *zerolog.Logger
}

func NewReconcileUseCase(
	payments repository.PaymentRepository,
	subs repository.SubscriptionRepository,
	tariffs repository.TariffRepository,
	users repository.UserRepository,
	gateways []adapter.PaymentGateway,
	engine PaymentUseCase,
	logger *zerolog.Logger,
) *reconcileUC {
	byMethod := make(map[model.PaymentMethod]adapter.PaymentGateway, len(gateways))
	for _, g := range gateways {
		byMethod[g.Method()] = g
	}
	l := logger.With().Str("component", "ReconcileUC").Logger()
	return &reconcileUC{
		payments: payments,
		subs:     subs,
		tariffs:  tariffs,
		users:    users,
		gateways: byMethod,
		engine:   engine,
		now:      func() time.Time { return time.Now().UTC() },
		log:      &l,
	}
}

func (u *reconcileUC) SweepPending(ctx context.Context, staleAfter time.Duration, limit int) (SweepReport, error) {
	defer logging.TraceDuration(u.log, "ReconcileUC.SweepPending")()
	var report SweepReport

	stale, err := u.payments.ListPendingOlderThan(ctx, nil, u.now().Add(-staleAfter), limit)
	if err != nil {
		return report, err
	}
	for _, p := range stale {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Checked++
		log := u.log.With().Str("payment_id", p.ID).Str("external_id", p.ExternalID).Logger()

		lookup, ok := u.gateways[p.Method].(adapter.ChargeLookup)
		if !ok {
			report.Skipped++
			continue
		}
		st, err := lookup.FetchCharge(ctx, p.ExternalID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				logging.Anomaly(&log, "charge_unknown_to_provider").Msg("pending payment has no provider charge")
			} else {
				log.Warn().Err(domain.NewAdapterError(string(p.Method), "fetch_charge", err)).Msg("charge lookup failed")
			}
			report.Errors++
			continue
		}

		if !st.Kind.Terminal() {
			report.Pending++
			continue
		}
		tr, err := u.engine.Settle(ctx, p.ExternalID, st.Kind, SourceSweep)
		if err != nil {
			log.Warn().Err(err).Str("provider_status", st.RawStatus).Msg("sweep settlement failed")
			report.Errors++
			continue
		}
		if tr.Applied {
			if st.Kind == model.PaymentEventSucceeded {
				report.Confirmed++
			} else {
				report.Failed++
			}
		}
	}

	u.log.Info().
		Int("checked", report.Checked).
		Int("confirmed", report.Confirmed).
		Int("failed", report.Failed).
		Int("errors", report.Errors).
		Msg("pending sweep finished")
	return report, nil
}

func (u *reconcileUC) RecoverOrphans(ctx context.Context, since time.Time) (OrphanReport, error) {
	defer logging.TraceDuration(u.log, "ReconcileUC.RecoverOrphans")()
	var report OrphanReport

	for method, gw := range u.gateways {
		lister, ok := gw.(adapter.ChargeLister)
		if !ok {
			continue
		}
		charges, err := lister.ListCharges(ctx, since)
		if err != nil {
			u.log.Warn().Err(domain.NewAdapterError(string(method), "list_charges", err)).Msg("charge listing failed")
			report.Errors++
			continue
		}
		for _, ch := range charges {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			report.Scanned++
			u.recoverOne(ctx, method, ch, &report)
		}
	}

	u.log.Info().
		Int("scanned", report.Scanned).
		Int("recovered", report.Recovered).
		Int("settled", report.Settled).
		Int("anomalies", report.Anomalies).
		Msg("orphan recovery finished")
	return report, nil
}

func (u *reconcileUC) recoverOne(ctx context.Context, method model.PaymentMethod, ch adapter.ChargeStatus, report *OrphanReport) {
	log := u.log.With().Str("external_id", ch.ExternalID).Logger()

	if _, err := u.payments.FindByExternalID(ctx, nil, ch.ExternalID); err == nil {
		return
	} else if !errors.Is(err, domain.ErrNotFound) {
		log.Warn().Err(err).Msg("payment lookup failed")
		report.Errors++
		return
	}

	md := ch.Metadata
	paymentID, subID, userID, tariffID := md["payment_id"], md["subscription_id"], md["user_id"], md["tariff_id"]
	if paymentID == "" || subID == "" || userID == "" || tariffID == "" {
		logging.Anomaly(&log, "orphan_without_metadata").Msg("provider charge cannot be linked to a payment")
		report.Anomalies++
		return
	}
	if existing, err := u.payments.FindByID(ctx, nil, paymentID); err == nil {
		logging.Anomaly(&log, "external_id_mismatch").
			Str("payment_id", paymentID).Str("recorded_external_id", existing.ExternalID).
			Msg("charge metadata names a payment with another external id")
		report.Anomalies++
		return
	}
	if !u.linkable(ctx, subID, userID, tariffID) {
		logging.Anomaly(&log, "orphan_dangling_reference").Str("payment_id", paymentID).Msg("charge references missing rows")
		report.Anomalies++
		return
	}

	created := ch.CreatedAt
	if created.IsZero() {
		created = u.now()
	}
	p := &model.Payment{
		ID:             paymentID,
		UserID:         userID,
		Amount:         ch.Amount,
		Currency:       ch.Currency,
		Method:         method,
		ExternalID:     ch.ExternalID,
		Status:         model.PaymentStatusPending,
		SubscriptionID: subID,
		TariffID:       tariffID,
		CreatedAt:      created,
		UpdatedAt:      u.now(),
	}
	if err := u.payments.Save(ctx, nil, p); err != nil {
		if !errors.Is(err, domain.ErrAlreadyExists) {
			log.Warn().Err(err).Msg("orphan payment not persisted")
			report.Errors++
		}
		return
	}
	report.Recovered++
	metrics.IncPaymentTransition("recover", SourceOrphan, "rematerialized")
	log.Warn().Str("payment_id", p.ID).Msg("orphan charge re-materialized as pending payment")

	if !ch.Kind.Terminal() {
		return
	}
	tr, err := u.engine.Settle(ctx, ch.ExternalID, ch.Kind, SourceOrphan)
	if err != nil {
		log.Warn().Err(err).Msg("orphan settlement failed; sweep will retry")
		report.Errors++
		return
	}
	if tr.Applied {
		report.Settled++
	}
}

func (u *reconcileUC) linkable(ctx context.Context, subID, userID, tariffID string) bool {
	sub, err := u.subs.FindByID(ctx, nil, subID)
	if err != nil || sub.UserID != userID {
		return false
	}
	if _, err := u.users.FindByID(ctx, nil, userID); err != nil {
		return false
	}
	_, err = u.tariffs.FindByID(ctx, nil, tariffID)
	return err == nil
}
