package model

import (
	"time"

	"vpn-subscription-bot/internal/domain"

	"github.com/google/uuid"
)

type SubscriptionStatus string

const (
	SubscriptionStatusPending  SubscriptionStatus = "PENDING"
	SubscriptionStatusActive   SubscriptionStatus = "ACTIVE"
	SubscriptionStatusDisabled SubscriptionStatus = "DISABLED"
	SubscriptionStatusExpired  SubscriptionStatus = "EXPIRED"
)

func (s SubscriptionStatus) Valid() bool {
	switch s {
	case SubscriptionStatusPending, SubscriptionStatusActive, SubscriptionStatusDisabled, SubscriptionStatusExpired:
		return true
	}
	return false
}

// Subscription is the local projection of one panel grant.
// CorrelationID is the panel's user uuid; it is empty only until the grant
// has been created. LastPaymentID names the payment whose confirmation last
// moved EndDate; panel projections leave it alone.
type Subscription struct {
	ID            string
	UserID        string
	CorrelationID string
	ShortID       string
	Name          string
	AccessURL     string
	EndDate       time.Time
	Status        SubscriptionStatus
	TariffID      *string // nil for trials
	LastPaymentID string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewPendingSubscription holds a grant correlation id before its payment exists.
func NewPendingSubscription(id, userID string, tariffID *string, grant *GrantSnapshot) (*Subscription, error) {
	if id == "" {
		id = uuid.NewString()
	}
	if userID == "" || grant == nil || grant.CorrelationID == "" {
		return nil, domain.ErrInvalidArgument
	}
	now := time.Now()
	return &Subscription{
		ID:            id,
		UserID:        userID,
		CorrelationID: grant.CorrelationID,
		ShortID:       grant.ShortID,
		Name:          grant.DisplayName,
		AccessURL:     grant.AccessURL,
		EndDate:       grant.ExpiresAt,
		Status:        SubscriptionStatusPending,
		TariffID:      tariffID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

func (s *Subscription) IsTrial() bool { return s.TariffID == nil }

// NextExpiry stacks the purchased duration on top of any remaining time.
func NextExpiry(now, current time.Time, days int) time.Time {
	base := now
	if current.After(now) {
		base = current
	}
	return base.Add(time.Duration(days) * 24 * time.Hour)
}
