package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"vpn-subscription-bot/internal/domain/model"
	"vpn-subscription-bot/internal/domain/ports/repository"
	"vpn-subscription-bot/internal/infra/metrics"
	red "vpn-subscription-bot/internal/infra/redis"
)

var _ repository.TariffRepository = (*tariffRepoCacheDecorator)(nil)

const tariffListKey = "tariffs:active"

// tariffRepoCacheDecorator is a read-through Redis cache. Reads inside a
// transaction bypass it.
type tariffRepoCacheDecorator struct {
	inner  repository.TariffRepository
	cache  red.RedisClient
	ttl    time.Duration
	logger *zerolog.Logger
}

func NewTariffRepoCacheDecorator(inner repository.TariffRepository, cache red.RedisClient, ttl time.Duration, logger *zerolog.Logger) repository.TariffRepository {
	if ttl <= 0 {
		ttl = time.Hour
	}
	l := logger.With().Str("component", "tariff_cache").Logger()
	return &tariffRepoCacheDecorator{inner: inner, cache: cache, ttl: ttl, logger: &l}
}

func tariffKey(id string) string { return fmt.Sprintf("tariff:%s", id) }

func (d *tariffRepoCacheDecorator) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Tariff, error) {
	if tx != nil {
		return d.inner.FindByID(ctx, tx, id)
	}
	key := tariffKey(id)
	val, err := d.cache.Get(ctx, key)
	if err == nil {
		var t model.Tariff
		if json.Unmarshal([]byte(val), &t) == nil {
			metrics.IncCacheRequest("tariff", "hit")
			return &t, nil
		}
	} else if !errors.Is(err, red.Nil) {
		metrics.IncCacheRequest("tariff", "error")
		d.logger.Warn().Err(err).Str("key", key).Msg("cache get failed")
	}

	metrics.IncCacheRequest("tariff", "miss")
	t, err := d.inner.FindByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if b, err := json.Marshal(t); err == nil {
		_ = d.cache.Set(ctx, key, b, d.ttl)
	}
	return t, nil
}

func (d *tariffRepoCacheDecorator) ListActive(ctx context.Context, tx repository.Tx) ([]*model.Tariff, error) {
	if tx != nil {
		return d.inner.ListActive(ctx, tx)
	}
	val, err := d.cache.Get(ctx, tariffListKey)
	if err == nil {
		var ts []*model.Tariff
		if json.Unmarshal([]byte(val), &ts) == nil {
			metrics.IncCacheRequest("tariff_list", "hit")
			return ts, nil
		}
	}

	metrics.IncCacheRequest("tariff_list", "miss")
	ts, err := d.inner.ListActive(ctx, tx)
	if err != nil {
		return nil, err
	}
	if len(ts) > 0 {
		if b, err := json.Marshal(ts); err == nil {
			_ = d.cache.Set(ctx, tariffListKey, b, d.ttl)
		}
	}
	return ts, nil
}

// Save invalidates both the entry and the active list.
func (d *tariffRepoCacheDecorator) Save(ctx context.Context, tx repository.Tx, t *model.Tariff) error {
	if err := d.inner.Save(ctx, tx, t); err != nil {
		return err
	}
	if err := d.cache.Del(ctx, tariffKey(t.ID), tariffListKey); err != nil {
		d.logger.Warn().Err(err).Str("tariff_id", t.ID).Msg("cache invalidation failed")
	}
	return nil
}
