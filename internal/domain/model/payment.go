package model

import (
	"time"

	"vpn-subscription-bot/internal/domain"
)

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "PENDING"   // charge created at the provider, awaiting a terminal event
	PaymentStatusSucceeded PaymentStatus = "SUCCEEDED" // terminal
	PaymentStatusFailed    PaymentStatus = "FAILED"    // terminal
)

func (s PaymentStatus) Terminal() bool {
	return s == PaymentStatusSucceeded || s == PaymentStatusFailed
}

type PaymentMethod string

const (
	PaymentMethodGatewayRedirect PaymentMethod = "gateway-redirect"
	PaymentMethodPanelNative     PaymentMethod = "panel-native"
	PaymentMethodInChatPoints    PaymentMethod = "in-chat-points"
)

func ParsePaymentMethod(s string) (PaymentMethod, error) {
	switch m := PaymentMethod(s); m {
	case PaymentMethodGatewayRedirect, PaymentMethodPanelNative, PaymentMethodInChatPoints:
		return m, nil
	}
	return "", domain.ErrUnsupportedMethod
}

// Payment is one attempted charge. ExternalID is the provider's id and the
// idempotency key for inbound notifications; it is unique across payments.
type Payment struct {
	ID             string
	UserID         string
	Amount         int64 // minor units, captured from the tariff at creation
	Currency       string
	Method         PaymentMethod
	ExternalID     string
	Status         PaymentStatus
	SubscriptionID string
	TariffID       string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ReferralCredit records the one commission paid for a referred user's
// first successful payment.
type ReferralCredit struct {
	ID        string
	InviterID string
	InviteeID string
	PaymentID string
	Amount    int64
	CreatedAt time.Time
}

// ReferralCommission is floor(amount * percent / 100).
func ReferralCommission(amount int64, percent int) int64 {
	if amount <= 0 || percent <= 0 {
		return 0
	}
	return amount * int64(percent) / 100
}

// Transition is the outcome of Confirm/Fail. Applied is false when the
// payment had already left PENDING; that is a normal, idempotent result.
type Transition struct {
	Applied      bool
	Payment      *Payment
	Subscription *Subscription
	Credit       *ReferralCredit
}
