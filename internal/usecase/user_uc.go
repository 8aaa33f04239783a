// File: internal/usecase/user_uc.go
package usecase

import (
	"context"
	"errors"
	"strings"

	"vpn-subscription-bot/internal/domain"
	"vpn-subscription-bot/internal/domain/model"
	"vpn-subscription-bot/internal/domain/ports/repository"
	"vpn-subscription-bot/internal/infra/logging"
	"vpn-subscription-bot/internal/infra/metrics"

	"github.com/rs/zerolog"
)

// Compile-time check
var _ UserUseCase = (*userUC)(nil)

// UserUseCase registers buyers on first contact.
type UserUseCase interface {
	// Register is idempotent per external id. The referral code only counts
	// on the first call; the inviter must already exist.
	Register(ctx context.Context, externalID int64, username, referralCode string) (*model.User, bool, error)
	GetByExternalID(ctx context.Context, externalID int64) (*model.User, error)
	GetByID(ctx context.Context, id string) (*model.User, error)
	ListReferralCredits(ctx context.Context, inviterID string) ([]*model.ReferralCredit, error)
}

type userUC struct {
	users     repository.UserRepository
	referrals repository.ReferralRepository
	tm        repository.TransactionManager
	log       *zerolog.Logger
}

func NewUserUseCase(users repository.UserRepository, referrals repository.ReferralRepository, tm repository.TransactionManager, logger *zerolog.Logger) *userUC {
	l := logger.With().Str("component", "UserUC").Logger()
	return &userUC{
		users:     users,
		referrals: referrals,
		tm:        tm,
		log:       &l,
	}
}

func (u *userUC) Register(ctx context.Context, externalID int64, username, referralCode string) (*model.User, bool, error) {
	defer logging.TraceDuration(u.log, "UserUC.Register")()

	if externalID <= 0 {
		return nil, false, &domain.ValidationError{Field: "external_id", Reason: "must be positive"}
	}

	var (
		user    *model.User
		created bool
	)
	err := u.tm.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		existing, err := u.users.FindByExternalID(ctx, tx, externalID)
		if err == nil {
			if username != "" && existing.Username != username {
				existing.Username = username
				if err := u.users.Save(ctx, tx, existing); err != nil {
					return err
				}
			}
			user = existing
			return nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return err
		}

		inviterID := u.resolveInviter(ctx, tx, strings.TrimSpace(referralCode))
		nu, err := model.NewUser("", externalID, username, inviterID)
		if err != nil {
			return err
		}
		if err := u.users.Save(ctx, tx, nu); err != nil {
			return err
		}
		user, created = nu, true
		return nil
	})
	if errors.Is(err, domain.ErrAlreadyExists) {
		// Lost a registration race; the winner's row is authoritative.
		user, err = u.users.FindByExternalID(ctx, nil, externalID)
		return user, false, err
	}
	if err != nil {
		return nil, false, err
	}

	if created {
		metrics.IncUsersRegistered(user.Referred())
		u.log.Info().Str("user_id", user.ID).Bool("referred", user.Referred()).Msg("user registered")
	}
	return user, created, nil
}

func (u *userUC) resolveInviter(ctx context.Context, tx repository.Tx, code string) *string {
	if code == "" {
		return nil
	}
	inviter, err := u.users.FindByReferralCode(ctx, tx, code)
	if err != nil {
		u.log.Debug().Err(err).Str("code", code).Msg("referral code ignored")
		return nil
	}
	id := inviter.ID
	return &id
}

func (u *userUC) GetByExternalID(ctx context.Context, externalID int64) (*model.User, error) {
	return u.users.FindByExternalID(ctx, nil, externalID)
}

func (u *userUC) GetByID(ctx context.Context, id string) (*model.User, error) {
	return u.users.FindByID(ctx, nil, id)
}

func (u *userUC) ListReferralCredits(ctx context.Context, inviterID string) ([]*model.ReferralCredit, error) {
	return u.referrals.ListByInviter(ctx, nil, inviterID)
}
