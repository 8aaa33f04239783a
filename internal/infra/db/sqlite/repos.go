package sqlite

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"vpn-subscription-bot/internal/domain"
	"vpn-subscription-bot/internal/domain/model"
	"vpn-subscription-bot/internal/domain/ports/repository"
)

// ---------- users ----------

var _ repository.UserRepository = (*UserRepo)(nil)

type UserRepo struct{ db *gorm.DB }

func NewUserRepo(db *gorm.DB) *UserRepo { return &UserRepo{db: db} }

func (r *UserRepo) Save(ctx context.Context, tx repository.Tx, u *model.User) error {
	q, err := conn(ctx, r.db, tx)
	if err != nil {
		return err
	}
	err = q.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"username"}),
	}).Create(toUserRow(u)).Error
	return mapWriteErr(err)
}

func (r *UserRepo) findOne(ctx context.Context, tx repository.Tx, where string, arg interface{}) (*model.User, error) {
	q, err := conn(ctx, r.db, tx)
	if err != nil {
		return nil, err
	}
	var row userRow
	if err := q.Where(where, arg).First(&row).Error; err != nil {
		return nil, mapReadErr(err)
	}
	return row.toModel(), nil
}

func (r *UserRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.User, error) {
	return r.findOne(ctx, tx, "id = ?", id)
}

func (r *UserRepo) FindByExternalID(ctx context.Context, tx repository.Tx, externalID int64) (*model.User, error) {
	return r.findOne(ctx, tx, "external_id = ?", externalID)
}

func (r *UserRepo) FindByReferralCode(ctx context.Context, tx repository.Tx, code string) (*model.User, error) {
	return r.findOne(ctx, tx, "referral_code = ?", code)
}

func (r *UserRepo) AddBalance(ctx context.Context, tx repository.Tx, id string, delta int64) error {
	q, err := conn(ctx, r.db, tx)
	if err != nil {
		return err
	}
	res := q.Model(&userRow{}).Where("id = ?", id).Update("balance", gorm.Expr("balance + ?", delta))
	if res.Error != nil {
		return mapWriteErr(res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *UserRepo) flip(ctx context.Context, tx repository.Tx, id, column string, from bool) (bool, error) {
	q, err := conn(ctx, r.db, tx)
	if err != nil {
		return false, err
	}
	res := q.Model(&userRow{}).Where("id = ? AND "+column+" = ?", id, from).Update(column, !from)
	if res.Error != nil {
		return false, mapWriteErr(res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *UserRepo) MarkFirstPurchase(ctx context.Context, tx repository.Tx, id string) (bool, error) {
	return r.flip(ctx, tx, id, "had_first_purchase", false)
}

func (r *UserRepo) ConsumeTrial(ctx context.Context, tx repository.Tx, id string) (bool, error) {
	return r.flip(ctx, tx, id, "has_trial_eligibility", true)
}

// ---------- tariffs ----------

var _ repository.TariffRepository = (*TariffRepo)(nil)

type TariffRepo struct{ db *gorm.DB }

func NewTariffRepo(db *gorm.DB) *TariffRepo { return &TariffRepo{db: db} }

func (r *TariffRepo) Save(ctx context.Context, tx repository.Tx, t *model.Tariff) error {
	q, err := conn(ctx, r.db, tx)
	if err != nil {
		return err
	}
	// Save upserts every column, including zero values such as active=false.
	return mapWriteErr(q.Save(toTariffRow(t)).Error)
}

func (r *TariffRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Tariff, error) {
	q, err := conn(ctx, r.db, tx)
	if err != nil {
		return nil, err
	}
	var row tariffRow
	if err := q.Where("id = ?", id).First(&row).Error; err != nil {
		return nil, mapReadErr(err)
	}
	return row.toModel(), nil
}

func (r *TariffRepo) ListActive(ctx context.Context, tx repository.Tx) ([]*model.Tariff, error) {
	q, err := conn(ctx, r.db, tx)
	if err != nil {
		return nil, err
	}
	var rows []tariffRow
	if err := q.Where("active = ?", true).Order("price ASC, duration_days ASC").Find(&rows).Error; err != nil {
		return nil, mapReadErr(err)
	}
	out := make([]*model.Tariff, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toModel())
	}
	return out, nil
}

// ---------- subscriptions ----------

var _ repository.SubscriptionRepository = (*SubscriptionRepo)(nil)

type SubscriptionRepo struct{ db *gorm.DB }

func NewSubscriptionRepo(db *gorm.DB) *SubscriptionRepo { return &SubscriptionRepo{db: db} }

func (r *SubscriptionRepo) Save(ctx context.Context, tx repository.Tx, s *model.Subscription) error {
	q, err := conn(ctx, r.db, tx)
	if err != nil {
		return err
	}
	return mapWriteErr(q.Save(toSubscriptionRow(s)).Error)
}

func (r *SubscriptionRepo) findOne(ctx context.Context, tx repository.Tx, where string, arg interface{}) (*model.Subscription, error) {
	q, err := conn(ctx, r.db, tx)
	if err != nil {
		return nil, err
	}
	var row subscriptionRow
	if err := q.Where(where, arg).First(&row).Error; err != nil {
		return nil, mapReadErr(err)
	}
	return row.toModel(), nil
}

func (r *SubscriptionRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Subscription, error) {
	return r.findOne(ctx, tx, "id = ?", id)
}

func (r *SubscriptionRepo) FindByCorrelationID(ctx context.Context, tx repository.Tx, correlationID string) (*model.Subscription, error) {
	return r.findOne(ctx, tx, "correlation_id = ?", correlationID)
}

func (r *SubscriptionRepo) ListByStatus(ctx context.Context, tx repository.Tx, status model.SubscriptionStatus, afterID string, limit int) ([]*model.Subscription, error) {
	if limit <= 0 {
		limit = 100
	}
	q, err := conn(ctx, r.db, tx)
	if err != nil {
		return nil, err
	}
	q = q.Where("status = ?", string(status))
	if afterID != "" {
		q = q.Where("id > ?", afterID)
	}
	var rows []subscriptionRow
	if err := q.Order("id ASC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, mapReadErr(err)
	}
	out := make([]*model.Subscription, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toModel())
	}
	return out, nil
}

func (r *SubscriptionRepo) CountByStatus(ctx context.Context, tx repository.Tx) (map[model.SubscriptionStatus]int, error) {
	q, err := conn(ctx, r.db, tx)
	if err != nil {
		return nil, err
	}
	var rows []struct {
		Status string
		N      int
	}
	if err := q.Model(&subscriptionRow{}).Select("status, COUNT(*) AS n").Group("status").Scan(&rows).Error; err != nil {
		return nil, mapReadErr(err)
	}
	out := make(map[model.SubscriptionStatus]int, len(rows))
	for _, row := range rows {
		out[model.SubscriptionStatus(row.Status)] = row.N
	}
	return out, nil
}

func (r *SubscriptionRepo) TransitionStatus(ctx context.Context, tx repository.Tx, id string, from []model.SubscriptionStatus, to model.SubscriptionStatus) (bool, error) {
	if len(from) == 0 {
		return false, domain.ErrInvalidArgument
	}
	q, err := conn(ctx, r.db, tx)
	if err != nil {
		return false, err
	}
	states := make([]string, len(from))
	for i, s := range from {
		states[i] = string(s)
	}
	res := q.Model(&subscriptionRow{}).
		Where("id = ? AND status IN ?", id, states).
		Updates(map[string]interface{}{"status": string(to), "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return false, mapWriteErr(res.Error)
	}
	return res.RowsAffected >= 1, nil
}

// ---------- payments ----------

var _ repository.PaymentRepository = (*PaymentRepo)(nil)

type PaymentRepo struct{ db *gorm.DB }

func NewPaymentRepo(db *gorm.DB) *PaymentRepo { return &PaymentRepo{db: db} }

func (r *PaymentRepo) Save(ctx context.Context, tx repository.Tx, p *model.Payment) error {
	q, err := conn(ctx, r.db, tx)
	if err != nil {
		return err
	}
	return mapWriteErr(q.Create(toPaymentRow(p)).Error)
}

func (r *PaymentRepo) findOne(ctx context.Context, tx repository.Tx, where string, arg interface{}) (*model.Payment, error) {
	q, err := conn(ctx, r.db, tx)
	if err != nil {
		return nil, err
	}
	var row paymentRow
	if err := q.Where(where, arg).First(&row).Error; err != nil {
		return nil, mapReadErr(err)
	}
	return row.toModel(), nil
}

func (r *PaymentRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Payment, error) {
	return r.findOne(ctx, tx, "id = ?", id)
}

func (r *PaymentRepo) FindByExternalID(ctx context.Context, tx repository.Tx, externalID string) (*model.Payment, error) {
	return r.findOne(ctx, tx, "external_id = ?", externalID)
}

func (r *PaymentRepo) UpdateStatusIfPending(ctx context.Context, tx repository.Tx, id string, status model.PaymentStatus) (bool, error) {
	if !status.Terminal() {
		return false, domain.ErrInvalidArgument
	}
	q, err := conn(ctx, r.db, tx)
	if err != nil {
		return false, err
	}
	res := q.Model(&paymentRow{}).
		Where("id = ? AND status = ?", id, string(model.PaymentStatusPending)).
		Updates(map[string]interface{}{"status": string(status), "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return false, mapWriteErr(res.Error)
	}
	return res.RowsAffected >= 1, nil
}

func (r *PaymentRepo) ListPendingOlderThan(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.Payment, error) {
	if limit <= 0 {
		limit = 100
	}
	q, err := conn(ctx, r.db, tx)
	if err != nil {
		return nil, err
	}
	var rows []paymentRow
	err = q.Where("status = ? AND created_at < ?", string(model.PaymentStatusPending), olderThan.UTC()).
		Order("created_at ASC").Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, mapReadErr(err)
	}
	out := make([]*model.Payment, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toModel())
	}
	return out, nil
}

// ---------- referral credits ----------

var _ repository.ReferralRepository = (*ReferralRepo)(nil)

type ReferralRepo struct{ db *gorm.DB }

func NewReferralRepo(db *gorm.DB) *ReferralRepo { return &ReferralRepo{db: db} }

func (r *ReferralRepo) Save(ctx context.Context, tx repository.Tx, c *model.ReferralCredit) error {
	q, err := conn(ctx, r.db, tx)
	if err != nil {
		return err
	}
	row := &referralCreditRow{ID: c.ID, InviterID: c.InviterID, InviteeID: c.InviteeID, PaymentID: c.PaymentID, Amount: c.Amount, CreatedAt: c.CreatedAt.UTC()}
	return mapWriteErr(q.Create(row).Error)
}

func (r *ReferralRepo) ListByInviter(ctx context.Context, tx repository.Tx, inviterID string) ([]*model.ReferralCredit, error) {
	q, err := conn(ctx, r.db, tx)
	if err != nil {
		return nil, err
	}
	var rows []referralCreditRow
	if err := q.Where("inviter_id = ?", inviterID).Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, mapReadErr(err)
	}
	out := make([]*model.ReferralCredit, 0, len(rows))
	for _, row := range rows {
		out = append(out, &model.ReferralCredit{ID: row.ID, InviterID: row.InviterID, InviteeID: row.InviteeID, PaymentID: row.PaymentID, Amount: row.Amount, CreatedAt: row.CreatedAt})
	}
	return out, nil
}
