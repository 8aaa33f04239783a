package postgres

import (
	"context"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"vpn-subscription-bot/internal/domain"
	"vpn-subscription-bot/internal/domain/model"
	"vpn-subscription-bot/internal/domain/ports/repository"
)

var _ repository.SubscriptionRepository = (*PostgresSubscriptionRepo)(nil)

type PostgresSubscriptionRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresSubscriptionRepo(pool *pgxpool.Pool) *PostgresSubscriptionRepo {
	return &PostgresSubscriptionRepo{pool: pool}
}

const subscriptionColumns = `id, user_id, correlation_id, short_id, name, access_url, end_date, status, tariff_id, last_payment_id, created_at, updated_at`

func scanSubscription(row pgx.Row) (*model.Subscription, error) {
	var s model.Subscription
	var status string
	if err := row.Scan(&s.ID, &s.UserID, &s.CorrelationID, &s.ShortID, &s.Name, &s.AccessURL, &s.EndDate, &status, &s.TariffID, &s.LastPaymentID, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, mapScanErr(err)
	}
	s.Status = model.SubscriptionStatus(status)
	return &s, nil
}

func (r *PostgresSubscriptionRepo) Save(ctx context.Context, tx repository.Tx, s *model.Subscription) error {
	const q = `
INSERT INTO subscriptions (` + subscriptionColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,NOW())
ON CONFLICT (id) DO UPDATE SET
  correlation_id=$3, short_id=$4, name=$5, access_url=$6, end_date=$7, status=$8, tariff_id=$9, last_payment_id=$10, updated_at=NOW();`
	_, err := execSQL(ctx, r.pool, tx, q, s.ID, s.UserID, s.CorrelationID, s.ShortID, s.Name, s.AccessURL, s.EndDate, string(s.Status), s.TariffID, s.LastPaymentID, s.CreatedAt)
	return mapWriteErr(err)
}

func (r *PostgresSubscriptionRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Subscription, error) {
	q := forUpdate(`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id=$1`, tx)
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	return scanSubscription(row)
}

func (r *PostgresSubscriptionRepo) FindByCorrelationID(ctx context.Context, tx repository.Tx, correlationID string) (*model.Subscription, error) {
	q := forUpdate(`SELECT `+subscriptionColumns+` FROM subscriptions WHERE correlation_id=$1`, tx)
	row, err := pickRow(ctx, r.pool, tx, q, correlationID)
	if err != nil {
		return nil, err
	}
	return scanSubscription(row)
}

func (r *PostgresSubscriptionRepo) ListByStatus(ctx context.Context, tx repository.Tx, status model.SubscriptionStatus, afterID string, limit int) ([]*model.Subscription, error) {
	if limit <= 0 {
		limit = 100
	}
	var (
		rows pgx.Rows
		err  error
	)
	if afterID == "" {
		const q = `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE status=$1 ORDER BY id ASC LIMIT $2;`
		rows, err = queryRows(ctx, r.pool, tx, q, string(status), limit)
	} else {
		const q = `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE status=$1 AND id > $2 ORDER BY id ASC LIMIT $3;`
		rows, err = queryRows(ctx, r.pool, tx, q, string(status), afterID, limit)
	}
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return nil, err
		}
		return nil, domain.ErrOperationFailed
	}
	defer rows.Close()

	var out []*model.Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if rows.Err() != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

func (r *PostgresSubscriptionRepo) CountByStatus(ctx context.Context, tx repository.Tx) (map[model.SubscriptionStatus]int, error) {
	const q = `SELECT status, COUNT(*) FROM subscriptions GROUP BY status;`
	rows, err := queryRows(ctx, r.pool, tx, q)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return nil, err
		}
		return nil, domain.ErrOperationFailed
	}
	defer rows.Close()

	out := make(map[model.SubscriptionStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out[model.SubscriptionStatus(status)] = n
	}
	return out, rows.Err()
}

// TransitionStatus is a guarded update: it only fires when the row is in one of from.
func (r *PostgresSubscriptionRepo) TransitionStatus(ctx context.Context, tx repository.Tx, id string, from []model.SubscriptionStatus, to model.SubscriptionStatus) (bool, error) {
	if len(from) == 0 {
		return false, domain.ErrInvalidArgument
	}
	states := make([]string, len(from))
	for i, s := range from {
		states[i] = string(s)
	}
	const q = `UPDATE subscriptions SET status=$2, updated_at=NOW() WHERE id=$1 AND status = ANY($3);`
	cmd, err := execSQL(ctx, r.pool, tx, q, id, string(to), states)
	if err != nil {
		return false, mapWriteErr(err)
	}
	return cmd.RowsAffected() >= 1, nil
}
