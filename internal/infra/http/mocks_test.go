//go:build !integration

package http

import (
	"context"
	"encoding/hex"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"vpn-subscription-bot/internal/domain"
	"vpn-subscription-bot/internal/domain/model"
	"vpn-subscription-bot/internal/usecase"
)

func newTestLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}

func sign(secret string, body []byte) string {
	return hex.EncodeToString(Sign([]byte(secret), body))
}

// spyPaymentUC records every state machine call.
type spyPaymentUC struct {
	mu      sync.Mutex
	calls   []string
	applied map[string]bool

	SettleErr  error
	ConfirmErr error
	Payments   map[string]*model.Payment
}

var _ usecase.PaymentUseCase = (*spyPaymentUC)(nil)

func (s *spyPaymentUC) record(call string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
}

func (s *spyPaymentUC) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *spyPaymentUC) Confirm(ctx context.Context, paymentID, source string) (*model.Transition, error) {
	s.record("confirm:" + paymentID + ":" + source)
	if s.ConfirmErr != nil {
		return nil, s.ConfirmErr
	}
	return &model.Transition{Applied: true, Payment: &model.Payment{ID: paymentID, Status: model.PaymentStatusSucceeded}}, nil
}

func (s *spyPaymentUC) Fail(ctx context.Context, paymentID, source string) (*model.Transition, error) {
	s.record("fail:" + paymentID + ":" + source)
	return &model.Transition{Applied: true, Payment: &model.Payment{ID: paymentID, Status: model.PaymentStatusFailed}}, nil
}

// Settle applies each external id once, like the real engine.
func (s *spyPaymentUC) Settle(ctx context.Context, externalID string, kind model.PaymentEventKind, source string) (*model.Transition, error) {
	s.record("settle:" + externalID + ":" + kind.String())
	if s.SettleErr != nil {
		return nil, s.SettleErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.applied == nil {
		s.applied = map[string]bool{}
	}
	first := !s.applied[externalID]
	s.applied[externalID] = true
	return &model.Transition{Applied: first}, nil
}

func (s *spyPaymentUC) FindByExternalID(ctx context.Context, externalID string) (*model.Payment, error) {
	if p, ok := s.Payments[externalID]; ok {
		return p, nil
	}
	return nil, domain.ErrNotFound
}

func (s *spyPaymentUC) CheckSettleable(ctx context.Context, externalID string) (*model.Payment, error) {
	return nil, domain.ErrNotFound
}

// fakeParser reads "<external id>:<status>".
type fakeParser struct{}

func (fakeParser) ParseNotification(body []byte) (model.PaymentNotification, error) {
	s := string(body)
	for i := 0; i < len(s); i++ {
		if s[i] == ':' {
			n := model.PaymentNotification{Provider: "fake", ExternalID: s[:i], RawStatus: s[i+1:]}
			switch n.RawStatus {
			case "succeeded":
				n.Kind = model.PaymentEventSucceeded
			case "canceled":
				n.Kind = model.PaymentEventFailed
			case "pending":
				n.Kind = model.PaymentEventPending
			}
			return n, nil
		}
	}
	return model.PaymentNotification{}, &domain.ValidationError{Field: "body", Reason: "malformed"}
}

type mockGrantUC struct {
	mu     sync.Mutex
	events []model.GrantEvent
	Err    error
}

var _ usecase.GrantUseCase = (*mockGrantUC)(nil)

func (m *mockGrantUC) HandleEvent(ctx context.Context, ev model.GrantEvent) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return m.Err == nil, m.Err
}

func (m *mockGrantUC) SyncActive(ctx context.Context, batchSize int) (usecase.SyncReport, error) {
	return usecase.SyncReport{Checked: 2, Unchanged: 2}, nil
}

type mockReconcileUC struct{}

func (mockReconcileUC) SweepPending(ctx context.Context, staleAfter time.Duration, limit int) (usecase.SweepReport, error) {
	return usecase.SweepReport{Checked: 1, Confirmed: 1}, nil
}

func (mockReconcileUC) RecoverOrphans(ctx context.Context, since time.Time) (usecase.OrphanReport, error) {
	return usecase.OrphanReport{}, nil
}

type mockStatsUC struct{}

func (mockStatsUC) SubscriptionsByStatus(ctx context.Context) (map[model.SubscriptionStatus]int, error) {
	return map[model.SubscriptionStatus]int{model.SubscriptionStatusActive: 3}, nil
}

type mockUserUC struct{}

func (mockUserUC) Register(ctx context.Context, externalID int64, username, code string) (*model.User, bool, error) {
	return nil, false, nil
}

func (mockUserUC) GetByExternalID(ctx context.Context, externalID int64) (*model.User, error) {
	if externalID == 42 {
		return &model.User{ID: "u-42", ExternalID: 42, Balance: 1000}, nil
	}
	return nil, domain.ErrNotFound
}

func (mockUserUC) GetByID(ctx context.Context, id string) (*model.User, error) {
	return nil, domain.ErrNotFound
}

func (mockUserUC) ListReferralCredits(ctx context.Context, inviterID string) ([]*model.ReferralCredit, error) {
	return []*model.ReferralCredit{{ID: "c1"}}, nil
}

// countingLimiter allows the first n calls per key.
type countingLimiter struct {
	mu    sync.Mutex
	n     int
	calls map[string]int
}

func (l *countingLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.calls == nil {
		l.calls = map[string]int{}
	}
	l.calls[key]++
	return l.calls[key] <= l.n, nil
}
