package telegram

import (
	"context"

	"github.com/rs/zerolog"

	"vpn-subscription-bot/internal/domain/ports/adapter"
	"vpn-subscription-bot/internal/infra/metrics"
)

var _ adapter.Notifier = (*NoopNotifier)(nil)

// NoopNotifier logs notifications instead of sending them. Used when no bot
// token is configured.
type NoopNotifier struct {
	log *zerolog.Logger
}

func NewNoopNotifier(logger *zerolog.Logger) *NoopNotifier {
	l := logger.With().Str("component", "NoopNotifier").Logger()
	return &NoopNotifier{log: &l}
}

func (n *NoopNotifier) Notify(ctx context.Context, externalUserID int64, template string, params map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n.log.Info().Int64("tg_id", externalUserID).Str("template", template).Interface("params", params).Msg("[noop-telegram] notification")
	metrics.IncNotification(template, "noop")
	return nil
}
