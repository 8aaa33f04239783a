package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"vpn-subscription-bot/internal/domain"
	"vpn-subscription-bot/internal/domain/model"
	"vpn-subscription-bot/internal/domain/ports/repository"
)

var _ repository.PaymentRepository = (*paymentRepo)(nil)

type paymentRepo struct{ pool *pgxpool.Pool }

func NewPaymentRepo(pool *pgxpool.Pool) *paymentRepo {
	return &paymentRepo{pool: pool}
}

const paymentColumns = `id, user_id, amount, currency, method, external_id, status, subscription_id, tariff_id, created_at, updated_at`

func scanPayment(row pgx.Row) (*model.Payment, error) {
	p := &model.Payment{}
	var method, status string
	if err := row.Scan(&p.ID, &p.UserID, &p.Amount, &p.Currency, &method, &p.ExternalID, &status, &p.SubscriptionID, &p.TariffID, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, mapScanErr(err)
	}
	p.Method = model.PaymentMethod(method)
	p.Status = model.PaymentStatus(status)
	return p, nil
}

// Save inserts a new payment. Payments are never upserted: status moves only
// through UpdateStatusIfPending.
func (r *paymentRepo) Save(ctx context.Context, tx repository.Tx, p *model.Payment) error {
	const q = `
INSERT INTO payments (` + paymentColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11);`
	_, err := execSQL(ctx, r.pool, tx, q, p.ID, p.UserID, p.Amount, p.Currency, string(p.Method), p.ExternalID, string(p.Status), p.SubscriptionID, p.TariffID, p.CreatedAt, p.UpdatedAt)
	return mapWriteErr(err)
}

func (r *paymentRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Payment, error) {
	q := forUpdate(`SELECT `+paymentColumns+` FROM payments WHERE id=$1`, tx)
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	return scanPayment(row)
}

func (r *paymentRepo) FindByExternalID(ctx context.Context, tx repository.Tx, externalID string) (*model.Payment, error) {
	q := forUpdate(`SELECT `+paymentColumns+` FROM payments WHERE external_id=$1`, tx)
	row, err := pickRow(ctx, r.pool, tx, q, externalID)
	if err != nil {
		return nil, err
	}
	return scanPayment(row)
}

func (r *paymentRepo) ListPendingOlderThan(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.Payment, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `SELECT ` + paymentColumns + ` FROM payments WHERE status='PENDING' AND created_at < $1 ORDER BY created_at ASC LIMIT $2;`
	rows, err := queryRows(ctx, r.pool, tx, q, olderThan, limit)
	if err != nil {
		switch err {
		case domain.ErrInvalidArgument, domain.ErrInvalidExecContext:
			return nil, err
		default:
			return nil, domain.ErrOperationFailed
		}
	}
	defer rows.Close()

	var out []*model.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if rows.Err() != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

// UpdateStatusIfPending atomically updates status only when current status is PENDING.
func (r *paymentRepo) UpdateStatusIfPending(ctx context.Context, tx repository.Tx, id string, status model.PaymentStatus) (bool, error) {
	if !status.Terminal() {
		return false, domain.ErrInvalidArgument
	}
	const q = `
    UPDATE payments
       SET status = $2,
           updated_at = NOW()
     WHERE id = $1
       AND status = 'PENDING'`

	cmd, err := execSQL(ctx, r.pool, tx, q, id, string(status))
	if err != nil {
		return false, mapWriteErr(err)
	}
	return cmd.RowsAffected() >= 1, nil
}
