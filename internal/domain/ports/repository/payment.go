package repository

import (
	"context"
	"time"

	"vpn-subscription-bot/internal/domain/model"
)

// -----------------------------
// Payments
// -----------------------------

type PaymentRepository interface {
	// Save inserts a payment. A duplicate external id yields domain.ErrAlreadyExists.
	Save(ctx context.Context, tx Tx, p *model.Payment) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Payment, error)
	FindByExternalID(ctx context.Context, tx Tx, externalID string) (*model.Payment, error)
	// UpdateStatusIfPending is the compare-and-swap gate: it writes status
	// only when the row is still PENDING and reports whether it did.
	UpdateStatusIfPending(ctx context.Context, tx Tx, id string, status model.PaymentStatus) (bool, error)
	ListPendingOlderThan(ctx context.Context, tx Tx, olderThan time.Time, limit int) ([]*model.Payment, error)
}

// -----------------------------
// Referral credits
// -----------------------------

type ReferralRepository interface {
	// Save fails with domain.ErrAlreadyExists when the invitee or the payment
	// already has a credit.
	Save(ctx context.Context, tx Tx, c *model.ReferralCredit) error
	ListByInviter(ctx context.Context, tx Tx, inviterID string) ([]*model.ReferralCredit, error)
}
