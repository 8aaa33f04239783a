package telegram

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"vpn-subscription-bot/internal/config"
	"vpn-subscription-bot/internal/domain"
	"vpn-subscription-bot/internal/domain/model"
	"vpn-subscription-bot/internal/infra/i18n"
	"vpn-subscription-bot/internal/infra/logging"
	"vpn-subscription-bot/internal/infra/metrics"
	"vpn-subscription-bot/internal/usecase"
)

const starsSource = "stars"

// Bot polls updates. It registers users on first contact and settles
// in-chat (Stars) payments: the pre-checkout answer and the successful
// payment message are the only signals the provider ever sends for them.
type Bot struct {
	api       BotAPI
	users     usecase.UserUseCase
	payments  usecase.PaymentUseCase
	purchases usecase.PurchaseUseCase
	grants    usecase.GrantUseCase
	tr        *i18n.Translator

	adminIDsMap   map[int64]struct{}
	updateWorkers int
	settleRetries int
	retryBackoff  time.Duration
	cancelPolling context.CancelFunc
	log           *zerolog.Logger
}

func NewBot(
	api BotAPI,
	cfg *config.BotConfig,
	users usecase.UserUseCase,
	payments usecase.PaymentUseCase,
	purchases usecase.PurchaseUseCase,
	grants usecase.GrantUseCase,
	tr *i18n.Translator,
	updateWorkers int,
	logger *zerolog.Logger,
) (*Bot, error) {
	if api == nil {
		return nil, errors.New("bot api is nil")
	}
	if cfg == nil {
		return nil, errors.New("bot config is nil")
	}
	if users == nil || payments == nil || purchases == nil {
		return nil, errors.New("bot use cases are nil")
	}
	if updateWorkers <= 0 {
		updateWorkers = 5
	}
	adminMap := map[int64]struct{}{}
	for _, id := range cfg.AdminIDs {
		adminMap[id] = struct{}{}
	}
	l := logger.With().Str("component", "TelegramBot").Logger()
	return &Bot{
		api:           api,
		users:         users,
		payments:      payments,
		purchases:     purchases,
		grants:        grants,
		tr:            tr,
		adminIDsMap:   adminMap,
		updateWorkers: updateWorkers,
		settleRetries: 5,
		retryBackoff:  2 * time.Second,
		log:           &l,
	}, nil
}

func (b *Bot) StartPolling(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	u.AllowedUpdates = []string{"message", "pre_checkout_query"}
	updates := b.api.GetUpdatesChan(u)

	ctx, cancel := context.WithCancel(ctx)
	b.cancelPolling = cancel

	var wg sync.WaitGroup
	updateChan := make(chan tgbotapi.Update, 100)

	for i := 0; i < b.updateWorkers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for up := range updateChan {
				if err := b.handleUpdate(ctx, up); err != nil {
					b.log.Warn().Err(err).Int("worker", id).Int("update_id", up.UpdateID).Msg("update failed")
				}
			}
		}(i)
	}

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			close(updateChan)
			wg.Wait()
			return ctx.Err()
		case up, ok := <-updates:
			if !ok {
				close(updateChan)
				wg.Wait()
				return nil
			}
			updateChan <- up
		}
	}
}

func (b *Bot) StopPolling() {
	if b.cancelPolling != nil {
		b.cancelPolling()
	}
}

func (b *Bot) handleUpdate(ctx context.Context, up tgbotapi.Update) error {
	ctx = logging.WithTraceID(ctx, uuid.NewString())
	switch {
	case up.PreCheckoutQuery != nil:
		return b.handlePreCheckout(ctx, up.PreCheckoutQuery)
	case up.Message != nil && up.Message.SuccessfulPayment != nil:
		return b.handleSuccessfulPayment(ctx, up.Message)
	case up.Message != nil && up.Message.IsCommand():
		return b.handleCommand(ctx, up.Message)
	}
	return nil
}

// handlePreCheckout approves the charge only for a PENDING payment owned by
// the paying user.
func (b *Bot) handlePreCheckout(ctx context.Context, q *tgbotapi.PreCheckoutQuery) error {
	start := time.Now()
	ctx = logging.WithExternalID(ctx, q.InvoicePayload)
	log := logging.With(ctx, b.log)

	reason := b.checkPreCheckout(ctx, q)
	answer := tgbotapi.PreCheckoutConfig{PreCheckoutQueryID: q.ID, OK: reason == nil}
	result := "approved"
	if reason != nil {
		answer.ErrorMessage = b.tr.T("stars_precheckout_rejected")
		result = "rejected"
		log.Info().Err(reason).Msg("pre-checkout rejected")
	}
	_, err := b.api.Request(answer)
	if err != nil {
		result = "error"
	}
	metrics.ObserveWebhook(starsSource+"_precheckout", result, time.Since(start).Seconds())
	return err
}

func (b *Bot) checkPreCheckout(ctx context.Context, q *tgbotapi.PreCheckoutQuery) error {
	p, err := b.payments.CheckSettleable(ctx, q.InvoicePayload)
	if err != nil {
		return err
	}
	if q.From == nil {
		return &domain.ValidationError{Field: "from", Reason: "missing payer"}
	}
	payer, err := b.users.GetByExternalID(ctx, q.From.ID)
	if err != nil {
		return err
	}
	if payer.ID != p.UserID {
		return domain.ErrForbidden
	}
	return nil
}

// handleSuccessfulPayment settles the charge. Telegram never redelivers this
// message, so retryable failures are retried here before giving up.
func (b *Bot) handleSuccessfulPayment(ctx context.Context, m *tgbotapi.Message) error {
	start := time.Now()
	sp := m.SuccessfulPayment
	ctx = logging.WithExternalID(ctx, sp.InvoicePayload)
	log := logging.With(ctx, b.log)

	var (
		tr  *model.Transition
		err error
	)
	// Safe only while Settle is idempotent: no side effect may run before its PENDING guard.
	for attempt := 0; attempt <= b.settleRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				err = ctx.Err()
			case <-time.After(b.retryBackoff * time.Duration(attempt)):
			}
			if ctx.Err() != nil {
				break
			}
		}
		tr, err = b.payments.Settle(ctx, sp.InvoicePayload, model.PaymentEventSucceeded, usecase.SourceInChat)
		if err == nil || !usecase.IsRetryable(err) {
			break
		}
		log.Warn().Err(err).Int("attempt", attempt+1).Msg("in-chat settlement failed; retrying")
	}

	switch {
	case err == nil:
		metrics.ObserveWebhook(starsSource, "ok", time.Since(start).Seconds())
		log.Info().Bool("applied", tr.Applied).Str("charge_id", sp.TelegramPaymentChargeID).Msg("in-chat payment settled")
		return nil
	case domain.IsConsistencyViolation(err) || errors.Is(err, domain.ErrNotFound):
		metrics.ObserveWebhook(starsSource, "anomaly", time.Since(start).Seconds())
	default:
		metrics.ObserveWebhook(starsSource, "error", time.Since(start).Seconds())
	}
	logging.Anomaly(log, "in_chat_settlement_stuck").Err(err).
		Str("charge_id", sp.TelegramPaymentChargeID).
		Int("total_amount", sp.TotalAmount).
		Msg("paid in chat but not settled; confirm manually")
	return err
}

func (b *Bot) send(chatID int64, text string) error {
	_, err := b.api.Send(tgbotapi.NewMessage(chatID, text))
	return err
}

func (b *Bot) render(key string, params map[string]string) string {
	text, err := b.tr.Render(key, params)
	if err != nil {
		b.log.Warn().Err(err).Str("key", key).Msg("render failed")
		return b.tr.T(key)
	}
	return text
}

func itoa(n int) string { return strconv.Itoa(n) }
