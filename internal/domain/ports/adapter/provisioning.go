package adapter

import (
	"context"
	"time"

	"vpn-subscription-bot/internal/domain/model"
)

type GrantRequest struct {
	ExternalUserID int64
	Name           string
	ExpiresAt      time.Time
}

// ProvisioningAdapter talks to the access-control panel, the source of truth
// for whether a grant is open. FetchGrant returns domain.ErrNotFound when
// the panel has no such grant.
type ProvisioningAdapter interface {
	CreateGrant(ctx context.Context, req GrantRequest) (*model.GrantSnapshot, error)
	ExtendGrant(ctx context.Context, correlationID string, expiresAt time.Time) (*model.GrantSnapshot, error)
	FetchGrant(ctx context.Context, correlationID string) (*model.GrantSnapshot, error)
}
