package postgres

import (
	"context"

	"github.com/jackc/pgx/v4/pgxpool"

	"vpn-subscription-bot/internal/domain"
	"vpn-subscription-bot/internal/domain/model"
	"vpn-subscription-bot/internal/domain/ports/repository"
)

var _ repository.ReferralRepository = (*PostgresReferralRepo)(nil)

type PostgresReferralRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresReferralRepo(pool *pgxpool.Pool) *PostgresReferralRepo {
	return &PostgresReferralRepo{pool: pool}
}

func (r *PostgresReferralRepo) Save(ctx context.Context, tx repository.Tx, c *model.ReferralCredit) error {
	const q = `
INSERT INTO referral_credits (id, inviter_id, invitee_id, payment_id, amount, created_at)
VALUES ($1,$2,$3,$4,$5,$6);`
	_, err := execSQL(ctx, r.pool, tx, q, c.ID, c.InviterID, c.InviteeID, c.PaymentID, c.Amount, c.CreatedAt)
	return mapWriteErr(err)
}

func (r *PostgresReferralRepo) ListByInviter(ctx context.Context, tx repository.Tx, inviterID string) ([]*model.ReferralCredit, error) {
	const q = `SELECT id, inviter_id, invitee_id, payment_id, amount, created_at FROM referral_credits WHERE inviter_id=$1 ORDER BY created_at ASC;`
	rows, err := queryRows(ctx, r.pool, tx, q, inviterID)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return nil, err
		}
		return nil, domain.ErrOperationFailed
	}
	defer rows.Close()

	var out []*model.ReferralCredit
	for rows.Next() {
		c := &model.ReferralCredit{}
		if err := rows.Scan(&c.ID, &c.InviterID, &c.InviteeID, &c.PaymentID, &c.Amount, &c.CreatedAt); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
