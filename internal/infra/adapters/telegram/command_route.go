package telegram

import (
	"context"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"vpn-subscription-bot/internal/domain/model"
	"vpn-subscription-bot/internal/infra/metrics"
	"vpn-subscription-bot/internal/usecase"
)

type commandHandler func(ctx context.Context, message *tgbotapi.Message) error

func (b *Bot) commandRoutes() map[string]commandHandler {
	return map[string]commandHandler{
		"start": b.handleStartCommand,
		"help":  b.handleHelpCommand,
		"plans": b.handlePlansCommand,
		"buy":   b.handleBuyCommand,
		"renew": b.handleRenewCommand,
		"trial": b.handleTrialCommand,

		"confirm": b.adminOnly(b.handleConfirmCommand),
		"fail":    b.adminOnly(b.handleFailCommand),
		"sync":    b.adminOnly(b.handleSyncCommand),
	}
}

func (b *Bot) handleCommand(ctx context.Context, message *tgbotapi.Message) error {
	h, ok := b.commandRoutes()[message.Command()]
	if !ok {
		return nil
	}
	return h(ctx, message)
}

func (b *Bot) adminOnly(next commandHandler) commandHandler {
	return func(ctx context.Context, message *tgbotapi.Message) error {
		if message.From == nil {
			return nil
		}
		if _, isAdmin := b.adminIDsMap[message.From.ID]; !isAdmin {
			metrics.IncAdminCommand("/"+message.Command(), "unauthorized")
			return b.send(message.Chat.ID, b.tr.T("error_unauthorized"))
		}
		metrics.IncAdminCommand("/"+message.Command(), "authorized")
		return next(ctx, message)
	}
}

// handleStartCommand registers the sender. A deep link "/start <code>"
// carries the inviter's referral code.
func (b *Bot) handleStartCommand(ctx context.Context, message *tgbotapi.Message) error {
	if message.From == nil {
		return nil
	}
	code := strings.TrimSpace(message.CommandArguments())
	if _, _, err := b.users.Register(ctx, message.From.ID, message.From.UserName, code); err != nil {
		b.log.Warn().Err(err).Int64("tg_id", message.From.ID).Msg("registration failed")
		return b.send(message.Chat.ID, b.tr.T("error_generic"))
	}
	return b.send(message.Chat.ID, b.tr.T("welcome"))
}

func (b *Bot) handleHelpCommand(ctx context.Context, message *tgbotapi.Message) error {
	return b.send(message.Chat.ID, b.tr.T("help"))
}

func (b *Bot) handleConfirmCommand(ctx context.Context, message *tgbotapi.Message) error {
	return b.resolvePayment(ctx, message, b.payments.Confirm)
}

func (b *Bot) handleFailCommand(ctx context.Context, message *tgbotapi.Message) error {
	return b.resolvePayment(ctx, message, b.payments.Fail)
}

func (b *Bot) resolvePayment(ctx context.Context, message *tgbotapi.Message, op func(ctx context.Context, paymentID, source string) (*model.Transition, error)) error {
	paymentID := strings.TrimSpace(message.CommandArguments())
	if paymentID == "" {
		return b.send(message.Chat.ID, b.render("admin_usage", map[string]string{"command": message.Command(), "args": "<payment_id>"}))
	}
	tr, err := op(ctx, paymentID, usecase.SourceAdmin)
	if err != nil {
		return b.send(message.Chat.ID, err.Error())
	}
	return b.send(message.Chat.ID, b.render("admin_payment_result", map[string]string{
		"payment_id": paymentID,
		"status":     string(tr.Payment.Status),
		"applied":    strconv.FormatBool(tr.Applied),
	}))
}

func (b *Bot) handleSyncCommand(ctx context.Context, message *tgbotapi.Message) error {
	if b.grants == nil {
		return b.send(message.Chat.ID, b.tr.T("error_generic"))
	}
	report, err := b.grants.SyncActive(ctx, 0)
	if err != nil {
		return b.send(message.Chat.ID, err.Error())
	}
	return b.send(message.Chat.ID, b.render("admin_sync_result", map[string]string{
		"checked":  itoa(report.Checked),
		"updated":  itoa(report.Updated),
		"disabled": itoa(report.Disabled),
		"failed":   itoa(report.Failed),
	}))
}
