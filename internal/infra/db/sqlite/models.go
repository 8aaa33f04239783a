package sqlite

import (
	"time"

	"vpn-subscription-bot/internal/domain/model"
)

// userRow - users
type userRow struct {
	ID                  string    `gorm:"primaryKey"`
	ExternalID          int64     `gorm:"uniqueIndex;not null"`
	Username            string    `gorm:"not null"`
	Balance             int64     `gorm:"not null"`
	HadFirstPurchase    bool      `gorm:"not null"`
	HasTrialEligibility bool      `gorm:"not null"`
	InviterID           *string   `gorm:"index"`
	ReferralCode        string    `gorm:"uniqueIndex;not null"`
	CreatedAt           time.Time `gorm:"not null"`
}

func (userRow) TableName() string { return "users" }

// tariffRow - tariffs
type tariffRow struct {
	ID           string    `gorm:"primaryKey"`
	Name         string    `gorm:"not null"`
	DurationDays int       `gorm:"not null"`
	Price        int64     `gorm:"not null"`
	Currency     string    `gorm:"not null"`
	Active       bool      `gorm:"not null;index"`
	CreatedAt    time.Time `gorm:"not null"`
}

func (tariffRow) TableName() string { return "tariffs" }

// subscriptionRow - subscriptions
type subscriptionRow struct {
	ID            string    `gorm:"primaryKey"`
	UserID        string    `gorm:"not null;index"`
	CorrelationID string    `gorm:"uniqueIndex;not null"`
	ShortID       string    `gorm:"not null"`
	Name          string    `gorm:"not null"`
	AccessURL     string    `gorm:"not null"`
	EndDate       time.Time `gorm:"not null"`
	Status        string    `gorm:"not null;index"`
	TariffID      *string
	LastPaymentID string    `gorm:"not null;default:''"`
	CreatedAt     time.Time `gorm:"not null"`
	UpdatedAt     time.Time `gorm:"not null"`
}

func (subscriptionRow) TableName() string { return "subscriptions" }

// paymentRow - payments
type paymentRow struct {
	ID             string    `gorm:"primaryKey"`
	UserID         string    `gorm:"not null;index"`
	Amount         int64     `gorm:"not null"`
	Currency       string    `gorm:"not null"`
	Method         string    `gorm:"not null"`
	ExternalID     string    `gorm:"uniqueIndex;not null"`
	Status         string    `gorm:"not null;index"`
	SubscriptionID string    `gorm:"not null;index"`
	TariffID       string    `gorm:"not null"`
	CreatedAt      time.Time `gorm:"not null;index"`
	UpdatedAt      time.Time `gorm:"not null"`
}

func (paymentRow) TableName() string { return "payments" }

// referralCreditRow - referral_credits
type referralCreditRow struct {
	ID        string    `gorm:"primaryKey"`
	InviterID string    `gorm:"not null;index"`
	InviteeID string    `gorm:"uniqueIndex;not null"`
	PaymentID string    `gorm:"uniqueIndex;not null"`
	Amount    int64     `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
}

func (referralCreditRow) TableName() string { return "referral_credits" }

func toUserRow(u *model.User) *userRow {
	return &userRow{
		ID: u.ID, ExternalID: u.ExternalID, Username: u.Username, Balance: u.Balance,
		HadFirstPurchase: u.HadFirstPurchase, HasTrialEligibility: u.HasTrialEligibility,
		InviterID: u.InviterID, ReferralCode: u.ReferralCode, CreatedAt: u.CreatedAt.UTC(),
	}
}

func (r *userRow) toModel() *model.User {
	return &model.User{
		ID: r.ID, ExternalID: r.ExternalID, Username: r.Username, Balance: r.Balance,
		HadFirstPurchase: r.HadFirstPurchase, HasTrialEligibility: r.HasTrialEligibility,
		InviterID: r.InviterID, ReferralCode: r.ReferralCode, CreatedAt: r.CreatedAt,
	}
}

func toTariffRow(t *model.Tariff) *tariffRow {
	return &tariffRow{
		ID: t.ID, Name: t.Name, DurationDays: t.DurationDays, Price: t.Price,
		Currency: t.Currency, Active: t.Active, CreatedAt: t.CreatedAt.UTC(),
	}
}

func (r *tariffRow) toModel() *model.Tariff {
	return &model.Tariff{
		ID: r.ID, Name: r.Name, DurationDays: r.DurationDays, Price: r.Price,
		Currency: r.Currency, Active: r.Active, CreatedAt: r.CreatedAt,
	}
}

func toSubscriptionRow(s *model.Subscription) *subscriptionRow {
	return &subscriptionRow{
		ID: s.ID, UserID: s.UserID, CorrelationID: s.CorrelationID, ShortID: s.ShortID,
		Name: s.Name, AccessURL: s.AccessURL, EndDate: s.EndDate.UTC(), Status: string(s.Status),
		TariffID: s.TariffID, LastPaymentID: s.LastPaymentID, CreatedAt: s.CreatedAt.UTC(), UpdatedAt: time.Now().UTC(),
	}
}

func (r *subscriptionRow) toModel() *model.Subscription {
	return &model.Subscription{
		ID: r.ID, UserID: r.UserID, CorrelationID: r.CorrelationID, ShortID: r.ShortID,
		Name: r.Name, AccessURL: r.AccessURL, EndDate: r.EndDate, Status: model.SubscriptionStatus(r.Status),
		TariffID: r.TariffID, LastPaymentID: r.LastPaymentID, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt,
	}
}

func toPaymentRow(p *model.Payment) *paymentRow {
	return &paymentRow{
		ID: p.ID, UserID: p.UserID, Amount: p.Amount, Currency: p.Currency, Method: string(p.Method),
		ExternalID: p.ExternalID, Status: string(p.Status), SubscriptionID: p.SubscriptionID,
		TariffID: p.TariffID, CreatedAt: p.CreatedAt.UTC(), UpdatedAt: p.UpdatedAt.UTC(),
	}
}

func (r *paymentRow) toModel() *model.Payment {
	return &model.Payment{
		ID: r.ID, UserID: r.UserID, Amount: r.Amount, Currency: r.Currency, Method: model.PaymentMethod(r.Method),
		ExternalID: r.ExternalID, Status: model.PaymentStatus(r.Status), SubscriptionID: r.SubscriptionID,
		TariffID: r.TariffID, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt,
	}
}
