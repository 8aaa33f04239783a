//go:build !integration

package telegram

import (
	"context"
	"io"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"vpn-subscription-bot/internal/domain"
	"vpn-subscription-bot/internal/domain/model"
	"vpn-subscription-bot/internal/usecase"
)

func newTestLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}

// fakeAPI records everything sent through the bot API.
type fakeAPI struct {
	mu       sync.Mutex
	sent     []tgbotapi.Chattable
	requests []tgbotapi.Chattable
	SendErr  error
	updates  chan tgbotapi.Update
}

func newFakeAPI() *fakeAPI { return &fakeAPI{updates: make(chan tgbotapi.Update, 10)} }

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, f.SendErr
}

func (f *fakeAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeAPI) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel { return f.updates }
func (f *fakeAPI) StopReceivingUpdates() {}

func (f *fakeAPI) lastText() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return ""
	}
	if m, ok := f.sent[len(f.sent)-1].(tgbotapi.MessageConfig); ok {
		return m.Text
	}
	return ""
}

// mockUserUC and mockPaymentUC follow the Func-field pattern: unset funcs
// return zero values.
type mockUserUC struct {
	RegisterFunc        func(ctx context.Context, externalID int64, username, code string) (*model.User, bool, error)
	GetByExternalIDFunc func(ctx context.Context, externalID int64) (*model.User, error)
}

var _ usecase.UserUseCase = (*mockUserUC)(nil)

func (m *mockUserUC) Register(ctx context.Context, externalID int64, username, code string) (*model.User, bool, error) {
	if m.RegisterFunc != nil {
		return m.RegisterFunc(ctx, externalID, username, code)
	}
	return &model.User{ExternalID: externalID}, true, nil
}

func (m *mockUserUC) GetByExternalID(ctx context.Context, externalID int64) (*model.User, error) {
	if m.GetByExternalIDFunc != nil {
		return m.GetByExternalIDFunc(ctx, externalID)
	}
	return nil, domain.ErrNotFound
}

func (m *mockUserUC) GetByID(ctx context.Context, id string) (*model.User, error) {
	return nil, domain.ErrNotFound
}

func (m *mockUserUC) ListReferralCredits(ctx context.Context, inviterID string) ([]*model.ReferralCredit, error) {
	return nil, nil
}

type mockPaymentUC struct {
	mu          sync.Mutex
	SettleCalls int

	ConfirmFunc         func(ctx context.Context, paymentID, source string) (*model.Transition, error)
	SettleFunc          func(ctx context.Context, externalID string, kind model.PaymentEventKind, source string) (*model.Transition, error)
	CheckSettleableFunc func(ctx context.Context, externalID string) (*model.Payment, error)
}

var _ usecase.PaymentUseCase = (*mockPaymentUC)(nil)

func (m *mockPaymentUC) Confirm(ctx context.Context, paymentID, source string) (*model.Transition, error) {
	if m.ConfirmFunc != nil {
		return m.ConfirmFunc(ctx, paymentID, source)
	}
	return &model.Transition{Applied: true, Payment: &model.Payment{ID: paymentID, Status: model.PaymentStatusSucceeded}}, nil
}

func (m *mockPaymentUC) Fail(ctx context.Context, paymentID, source string) (*model.Transition, error) {
	return &model.Transition{Applied: true, Payment: &model.Payment{ID: paymentID, Status: model.PaymentStatusFailed}}, nil
}

func (m *mockPaymentUC) Settle(ctx context.Context, externalID string, kind model.PaymentEventKind, source string) (*model.Transition, error) {
	m.mu.Lock()
	m.SettleCalls++
	m.mu.Unlock()
	if m.SettleFunc != nil {
		return m.SettleFunc(ctx, externalID, kind, source)
	}
	return &model.Transition{Applied: true}, nil
}

func (m *mockPaymentUC) FindByExternalID(ctx context.Context, externalID string) (*model.Payment, error) {
	return nil, domain.ErrNotFound
}

func (m *mockPaymentUC) CheckSettleable(ctx context.Context, externalID string) (*model.Payment, error) {
	if m.CheckSettleableFunc != nil {
		return m.CheckSettleableFunc(ctx, externalID)
	}
	return nil, domain.ErrNotFound
}

type mockGrantUC struct {
	SyncCalls int
}

var _ usecase.GrantUseCase = (*mockGrantUC)(nil)

func (m *mockGrantUC) HandleEvent(ctx context.Context, ev model.GrantEvent) (bool, error) {
	return false, nil
}

func (m *mockGrantUC) SyncActive(ctx context.Context, batchSize int) (usecase.SyncReport, error) {
	m.SyncCalls++
	return usecase.SyncReport{Checked: 3, Updated: 1}, nil
}

type mockPurchaseUC struct {
	Tariffs          []*model.Tariff
	CreateIntentFunc func(ctx context.Context, userID, tariffID string, method model.PaymentMethod, extendID string) (*usecase.PurchaseIntent, error)
	TrialErr         error
	TrialCalls       int
}

var _ usecase.PurchaseUseCase = (*mockPurchaseUC)(nil)

func (m *mockPurchaseUC) ListTariffs(ctx context.Context) ([]*model.Tariff, error) {
	return m.Tariffs, nil
}

func (m *mockPurchaseUC) CreateIntent(ctx context.Context, userID, tariffID string, method model.PaymentMethod, extendID string) (*usecase.PurchaseIntent, error) {
	if m.CreateIntentFunc != nil {
		return m.CreateIntentFunc(ctx, userID, tariffID, method, extendID)
	}
	return nil, domain.ErrNotFound
}

func (m *mockPurchaseUC) CreateTrial(ctx context.Context, userID string) (*model.Subscription, error) {
	m.TrialCalls++
	if m.TrialErr != nil {
		return nil, m.TrialErr
	}
	return &model.Subscription{ID: "trial", UserID: userID}, nil
}
