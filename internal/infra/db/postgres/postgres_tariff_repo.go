package postgres

import (
	"context"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"vpn-subscription-bot/internal/domain"
	"vpn-subscription-bot/internal/domain/model"
	"vpn-subscription-bot/internal/domain/ports/repository"
)

var _ repository.TariffRepository = (*PostgresTariffRepo)(nil)

type PostgresTariffRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresTariffRepo(pool *pgxpool.Pool) *PostgresTariffRepo {
	return &PostgresTariffRepo{pool: pool}
}

const tariffColumns = `id, name, duration_days, price, currency, active, created_at`

func scanTariff(row pgx.Row) (*model.Tariff, error) {
	var t model.Tariff
	if err := row.Scan(&t.ID, &t.Name, &t.DurationDays, &t.Price, &t.Currency, &t.Active, &t.CreatedAt); err != nil {
		return nil, mapScanErr(err)
	}
	return &t, nil
}

func (r *PostgresTariffRepo) Save(ctx context.Context, tx repository.Tx, t *model.Tariff) error {
	const q = `
INSERT INTO tariffs (` + tariffColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (id) DO UPDATE SET
  name=$2, duration_days=$3, price=$4, currency=$5, active=$6;`
	_, err := execSQL(ctx, r.pool, tx, q, t.ID, t.Name, t.DurationDays, t.Price, t.Currency, t.Active, t.CreatedAt)
	return mapWriteErr(err)
}

func (r *PostgresTariffRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Tariff, error) {
	const q = `SELECT ` + tariffColumns + ` FROM tariffs WHERE id=$1`
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	return scanTariff(row)
}

func (r *PostgresTariffRepo) ListActive(ctx context.Context, tx repository.Tx) ([]*model.Tariff, error) {
	const q = `SELECT ` + tariffColumns + ` FROM tariffs WHERE active ORDER BY price ASC, duration_days ASC;`
	rows, err := queryRows(ctx, r.pool, tx, q)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return nil, err
		}
		return nil, domain.ErrOperationFailed
	}
	defer rows.Close()

	var out []*model.Tariff
	for rows.Next() {
		t, err := scanTariff(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if rows.Err() != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}
