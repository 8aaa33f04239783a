package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"vpn-subscription-bot/internal/usecase"
)

const (
	JobGrantSync      = "grant_sync"
	JobPaymentSweep   = "payment_sweep"
	JobOrphanRecovery = "orphan_recovery"
)

// GrantSyncJob pulls every active grant from the panel and corrects drift.
func GrantSyncJob(spec string, grants usecase.GrantUseCase, batchSize int, logger *zerolog.Logger) Job {
	return Job{Name: JobGrantSync, Spec: spec, Run: func(ctx context.Context) error {
		r, err := grants.SyncActive(ctx, batchSize)
		if err != nil {
			return err
		}
		logger.Info().Str("job", JobGrantSync).
			Int("checked", r.Checked).Int("updated", r.Updated).Int("disabled", r.Disabled).
			Int("unchanged", r.Unchanged).Int("failed", r.Failed).
			Msg("grant sync finished")
		return nil
	}}
}

// PaymentSweepJob asks the gateways about payments still pending after staleAfter.
func PaymentSweepJob(spec string, rec usecase.ReconcileUseCase, staleAfter time.Duration, limit int, logger *zerolog.Logger) Job {
	return Job{Name: JobPaymentSweep, Spec: spec, Run: func(ctx context.Context) error {
		r, err := rec.SweepPending(ctx, staleAfter, limit)
		if err != nil {
			return err
		}
		if r.Checked > 0 {
			logger.Info().Str("job", JobPaymentSweep).
				Int("checked", r.Checked).Int("confirmed", r.Confirmed).Int("failed", r.Failed).
				Int("pending", r.Pending).Int("errors", r.Errors).
				Msg("payment sweep finished")
		}
		return nil
	}}
}

// OrphanRecoveryJob settles provider charges that never got a local payment row.
func OrphanRecoveryJob(spec string, rec usecase.ReconcileUseCase, lookback time.Duration, logger *zerolog.Logger) Job {
	return Job{Name: JobOrphanRecovery, Spec: spec, Run: func(ctx context.Context) error {
		r, err := rec.RecoverOrphans(ctx, time.Now().Add(-lookback))
		if err != nil {
			return err
		}
		if r.Recovered > 0 || r.Anomalies > 0 {
			logger.Warn().Str("job", JobOrphanRecovery).
				Int("scanned", r.Scanned).Int("recovered", r.Recovered).Int("settled", r.Settled).
				Int("anomalies", r.Anomalies).
				Msg("orphan charges found")
		}
		return nil
	}}
}
