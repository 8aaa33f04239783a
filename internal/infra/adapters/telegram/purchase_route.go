package telegram

import (
	"context"
	"errors"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"vpn-subscription-bot/internal/domain"
	"vpn-subscription-bot/internal/domain/model"
	"vpn-subscription-bot/internal/infra/adapters/payment"
)

// paymentMethodArg maps the optional method argument of /buy and /renew.
func paymentMethodArg(arg string) model.PaymentMethod {
	switch strings.ToLower(arg) {
	case "stars":
		return model.PaymentMethodInChatPoints
	case "panel":
		return model.PaymentMethodPanelNative
	default:
		return model.PaymentMethodGatewayRedirect
	}
}

func (b *Bot) handlePlansCommand(ctx context.Context, message *tgbotapi.Message) error {
	tariffs, err := b.purchases.ListTariffs(ctx)
	if err != nil {
		b.log.Error().Err(err).Msg("list tariffs")
		return b.send(message.Chat.ID, b.tr.T("error_generic"))
	}
	if len(tariffs) == 0 {
		return b.send(message.Chat.ID, b.tr.T("plans_empty"))
	}
	var sb strings.Builder
	sb.WriteString(b.tr.T("plans_header"))
	for _, t := range tariffs {
		sb.WriteString("\n")
		sb.WriteString(b.render("plans_line", map[string]string{
			"id":       t.ID,
			"name":     t.Name,
			"days":     itoa(t.DurationDays),
			"price":    payment.FormatMinor(t.Price),
			"currency": t.Currency,
		}))
	}
	return b.send(message.Chat.ID, sb.String())
}

// handleBuyCommand: /buy <tariff_id> [card|stars]
func (b *Bot) handleBuyCommand(ctx context.Context, message *tgbotapi.Message) error {
	args := strings.Fields(message.CommandArguments())
	if len(args) == 0 {
		return b.send(message.Chat.ID, b.render("admin_usage", map[string]string{"command": "buy", "args": "<tariff_id> [card|stars]"}))
	}
	method := model.PaymentMethodGatewayRedirect
	if len(args) > 1 {
		method = paymentMethodArg(args[1])
	}
	return b.startPurchase(ctx, message, args[0], method, "")
}

// handleRenewCommand: /renew <subscription_id> <tariff_id> [card|stars]
func (b *Bot) handleRenewCommand(ctx context.Context, message *tgbotapi.Message) error {
	args := strings.Fields(message.CommandArguments())
	if len(args) < 2 {
		return b.send(message.Chat.ID, b.render("admin_usage", map[string]string{"command": "renew", "args": "<subscription_id> <tariff_id> [card|stars]"}))
	}
	method := model.PaymentMethodGatewayRedirect
	if len(args) > 2 {
		method = paymentMethodArg(args[2])
	}
	return b.startPurchase(ctx, message, args[1], method, args[0])
}

func (b *Bot) startPurchase(ctx context.Context, message *tgbotapi.Message, tariffID string, method model.PaymentMethod, extendID string) error {
	if message.From == nil {
		return nil
	}
	u, err := b.users.GetByExternalID(ctx, message.From.ID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return b.send(message.Chat.ID, b.tr.T("welcome"))
		}
		return b.send(message.Chat.ID, b.tr.T("error_generic"))
	}
	intent, err := b.purchases.CreateIntent(ctx, u.ID, tariffID, method, extendID)
	switch {
	case err == nil:
		return b.send(message.Chat.ID, b.render("checkout_link", map[string]string{
			"url":        intent.CheckoutURL,
			"payment_id": intent.Payment.ID,
		}))
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrTariffInactive):
		return b.send(message.Chat.ID, b.tr.T("plans_unknown"))
	case errors.Is(err, domain.ErrUnsupportedMethod):
		return b.send(message.Chat.ID, b.tr.T("method_unavailable"))
	case errors.Is(err, domain.ErrForbidden):
		return b.send(message.Chat.ID, b.tr.T("error_unauthorized"))
	default:
		b.log.Error().Err(err).Str("tariff_id", tariffID).Msg("create purchase intent")
		return b.send(message.Chat.ID, b.tr.T("error_generic"))
	}
}

func (b *Bot) handleTrialCommand(ctx context.Context, message *tgbotapi.Message) error {
	if message.From == nil {
		return nil
	}
	u, err := b.users.GetByExternalID(ctx, message.From.ID)
	if err != nil {
		return b.send(message.Chat.ID, b.tr.T("welcome"))
	}
	// trial_started is delivered by the notifier
	if _, err := b.purchases.CreateTrial(ctx, u.ID); err != nil {
		if errors.Is(err, domain.ErrTrialUnavailable) {
			return b.send(message.Chat.ID, b.tr.T("trial_unavailable"))
		}
		b.log.Error().Err(err).Msg("create trial")
		return b.send(message.Chat.ID, b.tr.T("error_generic"))
	}
	return nil
}
