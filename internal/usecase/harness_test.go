//go:build !integration

package usecase_test

import (
	"context"
	"testing"
	"time"

	"vpn-subscription-bot/internal/domain/model"
	"vpn-subscription-bot/internal/domain/ports/adapter"
	"vpn-subscription-bot/internal/usecase"
)

const commissionPercent = 10

// harness wires every use case over one in-memory ledger.
type harness struct {
	ledger    *memLedger
	users     *memUserRepo
	tariffs   *memTariffRepo
	subs      *memSubRepo
	payments  *memPaymentRepo
	referrals *memReferralRepo
	tm        *memTxManager

	panel    *MockPanel
	gw       *MockGateway
	notifier *MockNotifier

	userUC      usecase.UserUseCase
	purchaseUC  usecase.PurchaseUseCase
	paymentUC   usecase.PaymentUseCase
	grantUC     usecase.GrantUseCase
	reconcileUC usecase.ReconcileUseCase
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	l := newLedger()
	h := &harness{
		ledger:    l,
		users:     &memUserRepo{l},
		tariffs:   &memTariffRepo{l},
		subs:      &memSubRepo{l},
		payments:  &memPaymentRepo{l},
		referrals: &memReferralRepo{l},
		tm:        &memTxManager{l},
		panel:     NewMockPanel(),
		gw:        NewMockGateway(model.PaymentMethodGatewayRedirect),
		notifier:  &MockNotifier{},
	}
	log := newTestLogger()
	gateways := []adapter.PaymentGateway{h.gw}

	h.userUC = usecase.NewUserUseCase(h.users, h.referrals, h.tm, log)
	h.purchaseUC = usecase.NewPurchaseUseCase(h.users, h.tariffs, h.subs, h.payments, h.panel, gateways, h.notifier, 3, log)
	h.paymentUC = usecase.NewPaymentUseCase(h.payments, h.subs, h.tariffs, h.users, h.referrals, h.tm, h.panel, h.notifier, commissionPercent, log)
	h.grantUC = usecase.NewGrantUseCase(h.subs, h.users, h.tm, h.panel, h.notifier, log)
	h.reconcileUC = usecase.NewReconcileUseCase(h.payments, h.subs, h.tariffs, h.users, gateways, h.paymentUC, log)
	return h
}

func (h *harness) tariff(t *testing.T, days int, price int64) *model.Tariff {
	t.Helper()
	tr, err := model.NewTariff("", "Plan", days, price, "RUB")
	if err != nil {
		t.Fatalf("NewTariff: %v", err)
	}
	if err := h.tariffs.Save(context.Background(), nil, tr); err != nil {
		t.Fatal(err)
	}
	return tr
}

func (h *harness) user(t *testing.T, externalID int64, inviter *model.User) *model.User {
	t.Helper()
	code := ""
	if inviter != nil {
		code = inviter.ReferralCode
	}
	u, _, err := h.userUC.Register(context.Background(), externalID, "user", code)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	return u
}

func (h *harness) intent(t *testing.T, u *model.User, tr *model.Tariff, extendID string) *usecase.PurchaseIntent {
	t.Helper()
	in, err := h.purchaseUC.CreateIntent(context.Background(), u.ID, tr.ID, model.PaymentMethodGatewayRedirect, extendID)
	if err != nil {
		t.Fatalf("CreateIntent: %v", err)
	}
	return in
}

// activeSub stores an ACTIVE subscription with the given remaining time and
// a matching grant on the panel.
func (h *harness) activeSub(t *testing.T, u *model.User, tr *model.Tariff, remaining time.Duration) *model.Subscription {
	t.Helper()
	g, err := h.panel.CreateGrant(context.Background(), adapter.GrantRequest{
		ExternalUserID: u.ExternalID,
		ExpiresAt:      time.Now().UTC().Add(remaining).Truncate(time.Second),
	})
	if err != nil {
		t.Fatal(err)
	}
	tid := tr.ID
	s, err := model.NewPendingSubscription("", u.ID, &tid, g)
	if err != nil {
		t.Fatal(err)
	}
	s.Status = model.SubscriptionStatusActive
	if err := h.subs.Save(context.Background(), nil, s); err != nil {
		t.Fatal(err)
	}
	return s
}

func (h *harness) mustPayment(t *testing.T, id string) *model.Payment {
	t.Helper()
	p, err := h.payments.FindByID(context.Background(), nil, id)
	if err != nil {
		t.Fatalf("payment %s: %v", id, err)
	}
	return p
}

func (h *harness) mustSub(t *testing.T, id string) *model.Subscription {
	t.Helper()
	s, err := h.subs.FindByID(context.Background(), nil, id)
	if err != nil {
		t.Fatalf("subscription %s: %v", id, err)
	}
	return s
}

func (h *harness) mustUser(t *testing.T, id string) *model.User {
	t.Helper()
	u, err := h.users.FindByID(context.Background(), nil, id)
	if err != nil {
		t.Fatalf("user %s: %v", id, err)
	}
	return u
}

func approx(a, b time.Time) bool {
	d := a.Sub(b)
	return d > -time.Minute && d < time.Minute
}

const day = 24 * time.Hour
