package postgres

import (
	"context"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"vpn-subscription-bot/internal/domain"
	"vpn-subscription-bot/internal/domain/model"
	"vpn-subscription-bot/internal/domain/ports/repository"
)

var _ repository.UserRepository = (*PostgresUserRepo)(nil)

type PostgresUserRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresUserRepo(pool *pgxpool.Pool) *PostgresUserRepo {
	return &PostgresUserRepo{pool: pool}
}

const userColumns = `id, external_id, username, balance, had_first_purchase, has_trial_eligibility, inviter_id, referral_code, created_at`

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	if err := row.Scan(&u.ID, &u.ExternalID, &u.Username, &u.Balance, &u.HadFirstPurchase, &u.HasTrialEligibility, &u.InviterID, &u.ReferralCode, &u.CreatedAt); err != nil {
		return nil, mapScanErr(err)
	}
	return &u, nil
}

// Save inserts a user or refreshes its username. Balance and flags are only
// changed through the guarded helpers below.
func (r *PostgresUserRepo) Save(ctx context.Context, tx repository.Tx, u *model.User) error {
	const q = `
INSERT INTO users (` + userColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (id) DO UPDATE SET username=EXCLUDED.username;`
	_, err := execSQL(ctx, r.pool, tx, q, u.ID, u.ExternalID, u.Username, u.Balance, u.HadFirstPurchase, u.HasTrialEligibility, u.InviterID, u.ReferralCode, u.CreatedAt)
	return mapWriteErr(err)
}

func (r *PostgresUserRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.User, error) {
	q := forUpdate(`SELECT `+userColumns+` FROM users WHERE id=$1`, tx)
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	return scanUser(row)
}

func (r *PostgresUserRepo) FindByExternalID(ctx context.Context, tx repository.Tx, externalID int64) (*model.User, error) {
	q := forUpdate(`SELECT `+userColumns+` FROM users WHERE external_id=$1`, tx)
	row, err := pickRow(ctx, r.pool, tx, q, externalID)
	if err != nil {
		return nil, err
	}
	return scanUser(row)
}

func (r *PostgresUserRepo) FindByReferralCode(ctx context.Context, tx repository.Tx, code string) (*model.User, error) {
	const q = `SELECT ` + userColumns + ` FROM users WHERE referral_code=$1`
	row, err := pickRow(ctx, r.pool, tx, q, code)
	if err != nil {
		return nil, err
	}
	return scanUser(row)
}

func (r *PostgresUserRepo) AddBalance(ctx context.Context, tx repository.Tx, id string, delta int64) error {
	const q = `UPDATE users SET balance = balance + $2 WHERE id=$1;`
	cmd, err := execSQL(ctx, r.pool, tx, q, id, delta)
	if err != nil {
		return mapWriteErr(err)
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *PostgresUserRepo) MarkFirstPurchase(ctx context.Context, tx repository.Tx, id string) (bool, error) {
	const q = `UPDATE users SET had_first_purchase = TRUE WHERE id=$1 AND had_first_purchase = FALSE;`
	cmd, err := execSQL(ctx, r.pool, tx, q, id)
	if err != nil {
		return false, mapWriteErr(err)
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *PostgresUserRepo) ConsumeTrial(ctx context.Context, tx repository.Tx, id string) (bool, error) {
	const q = `UPDATE users SET has_trial_eligibility = FALSE WHERE id=$1 AND has_trial_eligibility = TRUE;`
	cmd, err := execSQL(ctx, r.pool, tx, q, id)
	if err != nil {
		return false, mapWriteErr(err)
	}
	return cmd.RowsAffected() == 1, nil
}
