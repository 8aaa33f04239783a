package adapter

import (
	"context"
	"time"

	"vpn-subscription-bot/internal/domain/model"
)

// ChargeRequest carries what a provider needs to open a charge. The local ids
// travel as provider metadata so a charge can be traced back to its payment.
type ChargeRequest struct {
	PaymentID      string
	SubscriptionID string
	UserID         string
	TariffID       string
	Amount         int64
	Currency       string
	Description    string
	ReturnURL      string
}

type ChargeIntent struct {
	ExternalID  string
	CheckoutURL string
}

// ChargeStatus is the provider's current view of a charge.
type ChargeStatus struct {
	ExternalID string
	Kind       model.PaymentEventKind
	RawStatus  string
	Amount     int64
	Currency   string
	CreatedAt  time.Time
	Metadata   map[string]string
}

// PaymentGateway is the hex port for payment providers.
type PaymentGateway interface {
	Method() model.PaymentMethod
	// CreateCharge opens a provider-side charge. It has no local side effects.
	CreateCharge(ctx context.Context, req ChargeRequest) (ChargeIntent, error)
}

// ChargeLookup is implemented by gateways that can report a single charge.
type ChargeLookup interface {
	FetchCharge(ctx context.Context, externalID string) (ChargeStatus, error)
}

// ChargeLister is implemented by gateways that can enumerate their own charges.
type ChargeLister interface {
	ListCharges(ctx context.Context, since time.Time) ([]ChargeStatus, error)
}

// NotificationParser turns a verified raw webhook body into a notification.
type NotificationParser interface {
	ParseNotification(body []byte) (model.PaymentNotification, error)
}
