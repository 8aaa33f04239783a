// File: internal/usecase/grant_uc.go
package usecase

import (
	"context"
	"errors"

	"vpn-subscription-bot/internal/domain"
	"vpn-subscription-bot/internal/domain/model"
	"vpn-subscription-bot/internal/domain/ports/adapter"
	"vpn-subscription-bot/internal/domain/ports/repository"
	"vpn-subscription-bot/internal/infra/logging"
	"vpn-subscription-bot/internal/infra/metrics"

	"github.com/rs/zerolog"
)

// Compile-time check
var _ GrantUseCase = (*grantUC)(nil)

// SyncReport summarizes one full-sync pass.
type SyncReport struct {
	Checked   int
	Updated   int
	Disabled  int
	Unchanged int
	Failed    int
}

// GrantUseCase projects the panel's grant state onto local subscriptions.
type GrantUseCase interface {
	// HandleEvent applies a panel event and reports whether the ledger changed.
	HandleEvent(ctx context.Context, ev model.GrantEvent) (bool, error)
	// SyncActive walks ACTIVE subscriptions and corrects drift. Errors on a
	// single grant are counted, never returned.
	SyncActive(ctx context.Context, batchSize int) (SyncReport, error)
}

type grantUC struct {
	subs     repository.SubscriptionRepository
	users    repository.UserRepository
	tm       repository.TransactionManager
	panel    adapter.ProvisioningAdapter
	notifier adapter.Notifier
	log      *zerolog.Logger
}

func NewGrantUseCase(
	subs repository.SubscriptionRepository,
	users repository.UserRepository,
	tm repository.TransactionManager,
	panel adapter.ProvisioningAdapter,
	notifier adapter.Notifier,
	logger *zerolog.Logger,
) *grantUC {
	l := logger.With().Str("component", "GrantUC").Logger()
	return &grantUC{subs: subs, users: users, tm: tm, panel: panel, notifier: notifier, log: &l}
}

func (u *grantUC) HandleEvent(ctx context.Context, ev model.GrantEvent) (changed bool, err error) {
	defer func() {
		if err == nil {
			metrics.IncGrantEvent(ev.Kind.String(), changed)
		}
	}()
	log := u.log.With().Str("event", ev.Name).Str("correlation_id", ev.Snapshot.CorrelationID).Logger()

	if ev.Kind == model.GrantEventUnknown {
		log.Debug().Msg("panel event ignored")
		return false, nil
	}

	sub, err := u.subs.FindByCorrelationID(ctx, nil, ev.Snapshot.CorrelationID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			log.Warn().Msg("panel event for unknown grant")
			return false, nil
		}
		return false, err
	}

	switch ev.Kind {
	case model.GrantEventExpired:
		changed, err = u.subs.TransitionStatus(ctx, nil, sub.ID,
			[]model.SubscriptionStatus{model.SubscriptionStatusActive}, model.SubscriptionStatusDisabled)
		if err != nil {
			return false, err
		}
		if changed {
			log.Info().Str("subscription_id", sub.ID).Msg("subscription disabled by panel expiry")
			u.notifyOwner(ctx, sub, adapter.TemplateGrantExpired)
		}
		return changed, nil

	case model.GrantEventExpiring:
		if sub.Status == model.SubscriptionStatusActive {
			u.notifyOwner(ctx, sub, adapter.TemplateGrantExpiring)
		}
		return false, nil

	case model.GrantEventDeleted:
		return u.subs.TransitionStatus(ctx, nil, sub.ID, []model.SubscriptionStatus{
			model.SubscriptionStatusPending, model.SubscriptionStatusActive, model.SubscriptionStatusExpired,
		}, model.SubscriptionStatusDisabled)

	case model.GrantEventCreated, model.GrantEventModified:
		// Payloads can be late or reordered, so only the panel's current
		// state is projected.
		snap, err := u.panel.FetchGrant(ctx, sub.CorrelationID)
		if errors.Is(err, domain.ErrNotFound) {
			log.Warn().Msg("grant gone from panel; left to sync")
			return false, nil
		}
		if err != nil {
			return false, domain.NewAdapterError("panel", "fetch_grant", err)
		}
		return u.project(ctx, sub, snap)

	default:
		return false, nil
	}
}

// project copies status and expiry from the panel. PENDING subscriptions are
// only promoted by a confirmed payment, never by the panel. seen is the row as
// read before snap was fetched; a confirmation committed since then wins.
func (u *grantUC) project(ctx context.Context, seen *model.Subscription, snap *model.GrantSnapshot) (bool, error) {
	changed := false
	err := u.tm.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		cur, err := u.subs.FindByID(ctx, tx, seen.ID)
		if err != nil {
			return err
		}
		if cur.Status == model.SubscriptionStatusPending || cur.LastPaymentID != seen.LastPaymentID {
			return nil
		}
		status := snap.Status.Projection()
		if cur.Status == status && (snap.ExpiresAt.IsZero() || sameInstant(cur.EndDate, snap.ExpiresAt)) {
			return nil
		}
		cur.Status = status
		if !snap.ExpiresAt.IsZero() {
			cur.EndDate = snap.ExpiresAt
		}
		applyGrant(cur, snap)
		changed = true
		return u.subs.Save(ctx, tx, cur)
	})
	return changed, err
}

func (u *grantUC) SyncActive(ctx context.Context, batchSize int) (SyncReport, error) {
	defer logging.TraceDuration(u.log, "GrantUC.SyncActive")()
	if batchSize <= 0 {
		batchSize = 100
	}

	var report SyncReport
	after := ""
	for {
		batch, err := u.subs.ListByStatus(ctx, nil, model.SubscriptionStatusActive, after, batchSize)
		if err != nil {
			return report, err
		}
		for _, s := range batch {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			outcome := u.syncOne(ctx, s)
			metrics.IncGrantSync(outcome)
			report.Checked++
			switch outcome {
			case "updated":
				report.Updated++
			case "disabled":
				report.Disabled++
			case "unchanged":
				report.Unchanged++
			default:
				report.Failed++
			}
		}
		if len(batch) < batchSize {
			break
		}
		after = batch[len(batch)-1].ID
	}

	if counts, err := u.subs.CountByStatus(ctx, nil); err == nil {
		metrics.SetSubscriptionsTotal(counts)
	}
	u.log.Info().
		Int("checked", report.Checked).
		Int("updated", report.Updated).
		Int("disabled", report.Disabled).
		Int("failed", report.Failed).
		Msg("grant sync finished")
	return report, nil
}

func (u *grantUC) syncOne(ctx context.Context, s *model.Subscription) string {
	log := u.log.With().Str("subscription_id", s.ID).Str("correlation_id", s.CorrelationID).Logger()

	snap, err := u.panel.FetchGrant(ctx, s.CorrelationID)
	if errors.Is(err, domain.ErrNotFound) {
		ok, err := u.subs.TransitionStatus(ctx, nil, s.ID,
			[]model.SubscriptionStatus{model.SubscriptionStatusActive}, model.SubscriptionStatusDisabled)
		if err != nil {
			log.Warn().Err(err).Msg("disable missing grant failed")
			return "failed"
		}
		if ok {
			log.Info().Msg("grant missing on panel; subscription disabled")
			return "disabled"
		}
		return "unchanged"
	}
	if err != nil {
		log.Warn().Err(domain.NewAdapterError("panel", "fetch_grant", err)).Msg("grant sync skipped")
		return "failed"
	}

	changed, err := u.project(ctx, s, snap)
	if err != nil {
		log.Warn().Err(err).Msg("grant projection failed")
		return "failed"
	}
	if changed {
		log.Info().Str("status", string(snap.Status)).Time("expires_at", snap.ExpiresAt).Msg("subscription drift corrected")
		return "updated"
	}
	return "unchanged"
}

func (u *grantUC) notifyOwner(ctx context.Context, sub *model.Subscription, template string) {
	if u.notifier == nil {
		return
	}
	owner, err := u.users.FindByID(ctx, nil, sub.UserID)
	if err != nil {
		u.log.Warn().Err(err).Str("subscription_id", sub.ID).Msg("owner lookup failed; notification skipped")
		return
	}
	params := map[string]string{
		"expires_at": sub.EndDate.Format("2006-01-02 15:04"),
		"name":       sub.Name,
	}
	if err := u.notifier.Notify(ctx, owner.ExternalID, template, params); err != nil {
		u.log.Warn().Err(err).Str("template", template).Msg("notification not delivered")
	}
}
