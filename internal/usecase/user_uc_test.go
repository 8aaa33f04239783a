//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"testing"

	"vpn-subscription-bot/internal/domain"
)

func TestUserUseCase_Register(t *testing.T) {
	ctx := context.Background()

	t.Run("creates once and refreshes username", func(t *testing.T) {
		h := newHarness(t)
		u, created, err := h.userUC.Register(ctx, 42, "alice", "")
		if err != nil || !created {
			t.Fatalf("first register: created=%v err=%v", created, err)
		}
		if !u.HasTrialEligibility || u.ReferralCode == "" {
			t.Errorf("new user defaults not set: %+v", u)
		}

		again, created, err := h.userUC.Register(ctx, 42, "alice2", "")
		if err != nil || created {
			t.Fatalf("second register: created=%v err=%v", created, err)
		}
		if again.ID != u.ID || again.Username != "alice2" {
			t.Errorf("got %+v", again)
		}
	})

	t.Run("referral code links the inviter on first contact only", func(t *testing.T) {
		h := newHarness(t)
		inviter := h.user(t, 1, nil)
		other := h.user(t, 3, nil)

		u, _, err := h.userUC.Register(ctx, 2, "bob", inviter.ReferralCode)
		if err != nil {
			t.Fatal(err)
		}
		if !u.Referred() || *u.InviterID != inviter.ID {
			t.Fatalf("inviter not linked: %+v", u)
		}

		u, _, err = h.userUC.Register(ctx, 2, "bob", other.ReferralCode)
		if err != nil {
			t.Fatal(err)
		}
		if *u.InviterID != inviter.ID {
			t.Error("inviter must not change after registration")
		}
	})

	t.Run("unknown referral code is ignored", func(t *testing.T) {
		h := newHarness(t)
		u, created, err := h.userUC.Register(ctx, 5, "carol", "NOPE")
		if err != nil || !created {
			t.Fatalf("created=%v err=%v", created, err)
		}
		if u.Referred() {
			t.Error("user must be a root user")
		}
	})

	t.Run("rejects non-positive external id", func(t *testing.T) {
		h := newHarness(t)
		_, _, err := h.userUC.Register(ctx, 0, "x", "")
		var verr *domain.ValidationError
		if !errors.As(err, &verr) || !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("expected ValidationError, got %v", err)
		}
	})
}

func TestUserUseCase_Lookups(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	u := h.user(t, 77, nil)

	got, err := h.userUC.GetByExternalID(ctx, 77)
	if err != nil || got.ID != u.ID {
		t.Errorf("GetByExternalID: %+v %v", got, err)
	}
	if _, err := h.userUC.GetByID(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	credits, err := h.userUC.ListReferralCredits(ctx, u.ID)
	if err != nil || len(credits) != 0 {
		t.Errorf("expected no credits, got %v %v", credits, err)
	}
}
