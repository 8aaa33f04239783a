package telegram

import (
	"context"
	"errors"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"vpn-subscription-bot/internal/domain/ports/adapter"
	"vpn-subscription-bot/internal/infra/i18n"
	"vpn-subscription-bot/internal/infra/metrics"
	"vpn-subscription-bot/internal/infra/worker"
)

var (
	_ adapter.Notifier = (*Notifier)(nil)
	_ adapter.Notifier = (*AsyncNotifier)(nil)
)

// Notifier renders a template and sends it as a chat message.
type Notifier struct {
	sender Sender
	tr     *i18n.Translator
	log    *zerolog.Logger
}

func NewNotifier(sender Sender, tr *i18n.Translator, logger *zerolog.Logger) *Notifier {
	l := logger.With().Str("component", "TelegramNotifier").Logger()
	return &Notifier{sender: sender, tr: tr, log: &l}
}

func (n *Notifier) Notify(ctx context.Context, externalUserID int64, template string, params map[string]string) error {
	if err := ctx.Err(); err != nil {
		metrics.IncNotification(template, "canceled")
		return err
	}
	text, err := n.tr.Render(template, params)
	if err != nil {
		metrics.IncNotification(template, "render_error")
		return err
	}
	msg := tgbotapi.NewMessage(externalUserID, text)
	msg.DisableWebPagePreview = true
	if _, err := n.sender.Send(msg); err != nil {
		metrics.IncNotification(template, "error")
		return err
	}
	metrics.IncNotification(template, "sent")
	return nil
}

// AsyncNotifier hands deliveries to a worker pool and returns immediately.
type AsyncNotifier struct {
	next    adapter.Notifier
	pool    *worker.Pool
	timeout time.Duration
	log     *zerolog.Logger
}

func NewAsyncNotifier(next adapter.Notifier, pool *worker.Pool, timeout time.Duration, logger *zerolog.Logger) *AsyncNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	l := logger.With().Str("component", "AsyncNotifier").Logger()
	return &AsyncNotifier{next: next, pool: pool, timeout: timeout, log: &l}
}

// Notify detaches from the caller's context: the delivery outlives the
// request that triggered it.
func (a *AsyncNotifier) Notify(_ context.Context, externalUserID int64, template string, params map[string]string) error {
	err := a.pool.Submit(func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, a.timeout)
		defer cancel()
		if err := a.next.Notify(ctx, externalUserID, template, params); err != nil {
			a.log.Warn().Err(err).Int64("tg_id", externalUserID).Str("template", template).Msg("notification failed")
		}
		return nil
	})
	if errors.Is(err, worker.ErrQueueFull) {
		metrics.IncNotification(template, "dropped")
	}
	return err
}
