package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"vpn-subscription-bot/internal/config"
	"vpn-subscription-bot/internal/domain/ports/repository"
	pg "vpn-subscription-bot/internal/infra/db/postgres"
	"vpn-subscription-bot/internal/infra/db/sqlite"
	"vpn-subscription-bot/internal/infra/metrics"
	red "vpn-subscription-bot/internal/infra/redis"
)

// storage is the ledger store behind the use cases, on either driver.
type storage struct {
	users     repository.UserRepository
	tariffs   repository.TariffRepository
	subs      repository.SubscriptionRepository
	payments  repository.PaymentRepository
	referrals repository.ReferralRepository
	tm        repository.TransactionManager

	ping  func(ctx context.Context) error
	stats func()
	close func()
}

func openStorage(ctx context.Context, cfg *config.Config, cache red.RedisClient, logger *zerolog.Logger) (*storage, error) {
	st, err := openDriver(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	if cache != nil {
		st.tariffs = pg.NewTariffRepoCacheDecorator(st.tariffs, cache, cfg.Redis.TTL, logger)
	}
	return st, nil
}

func openDriver(ctx context.Context, cfg config.DatabaseConfig) (*storage, error) {
	switch cfg.Driver {
	case "sqlite":
		db, err := sqlite.Open(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("sqlite: %w", err)
		}
		if err := sqlite.Migrate(db); err != nil {
			return nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		return &storage{
			users:     sqlite.NewUserRepo(db),
			tariffs:   sqlite.NewTariffRepo(db),
			subs:      sqlite.NewSubscriptionRepo(db),
			payments:  sqlite.NewPaymentRepo(db),
			referrals: sqlite.NewReferralRepo(db),
			tm:        sqlite.NewTxManager(db),
			ping:      sqlDB.PingContext,
			stats: func() {
				s := sqlDB.Stats()
				metrics.SetDBPoolStats("sqlite", int32(s.OpenConnections), int32(s.Idle), int32(s.InUse))
			},
			close: func() { _ = sqlDB.Close() },
		}, nil

	default:
		pool, err := pg.NewPgxPool(ctx, cfg.URL, cfg.MaxConns)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		if err := pg.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		return &storage{
			users:     pg.NewPostgresUserRepo(pool),
			tariffs:   pg.NewPostgresTariffRepo(pool),
			subs:      pg.NewPostgresSubscriptionRepo(pool),
			payments:  pg.NewPaymentRepo(pool),
			referrals: pg.NewPostgresReferralRepo(pool),
			tm:        pg.NewTxManager(pool),
			ping:      pool.Ping,
			stats: func() {
				s := pool.Stat()
				metrics.SetDBPoolStats("postgres", s.TotalConns(), s.IdleConns(), s.AcquiredConns())
			},
			close: pool.Close,
		}, nil
	}
}

// reportPoolStats refreshes the pool gauges until ctx is done.
func (s *storage) reportPoolStats(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		s.stats()
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
