package model

import (
	"strings"
	"time"

	"vpn-subscription-bot/internal/domain"

	"github.com/google/uuid"
)

// User is a buyer identified by its Telegram id. Balance holds referral
// earnings in minor currency units.
type User struct {
	ID                  string
	ExternalID          int64
	Username            string
	Balance             int64
	HadFirstPurchase    bool
	HasTrialEligibility bool
	InviterID           *string // nil for root users
	ReferralCode        string
	CreatedAt           time.Time
}

func NewUser(id string, externalID int64, username string, inviterID *string) (*User, error) {
	if id == "" {
		id = uuid.NewString()
	}
	if externalID <= 0 {
		return nil, domain.ErrInvalidArgument
	}
	if inviterID != nil && *inviterID == id {
		return nil, domain.ErrInvalidArgument
	}
	return &User{
		ID:                  id,
		ExternalID:          externalID,
		Username:            username,
		HasTrialEligibility: true,
		InviterID:           inviterID,
		ReferralCode:        NewReferralCode(),
		CreatedAt:           time.Now(),
	}, nil
}

// NewReferralCode returns a short uppercase code suitable for deep links.
func NewReferralCode() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:10])
}

func (u *User) IsZero() bool { return u == nil || u.ID == "" }

func (u *User) Referred() bool { return u != nil && u.InviterID != nil && *u.InviterID != "" }
