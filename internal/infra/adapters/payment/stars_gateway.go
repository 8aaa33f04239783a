// File: internal/infra/adapters/payment/stars_gateway.go
package payment

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"vpn-subscription-bot/internal/domain/model"
	"vpn-subscription-bot/internal/domain/ports/adapter"
	"vpn-subscription-bot/internal/infra/metrics"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/oklog/ulid/v2"
)

var _ adapter.PaymentGateway = (*StarsGateway)(nil)

const (
	starsName     = "stars"
	starsCurrency = "XTR"
)

// InvoiceAPI is the slice of tgbotapi.BotAPI used to open invoices.
type InvoiceAPI interface {
	MakeRequest(endpoint string, params tgbotapi.Params) (*tgbotapi.APIResponse, error)
}

// StarsGateway sells tariffs for Telegram Stars. The invoice payload is the
// payment's external id; settlement arrives through the bot's update stream.
type StarsGateway struct {
	api          InvoiceAPI
	minorPerStar float64
	title        string
	now          func() time.Time
}

func NewStarsGateway(api InvoiceAPI, minorPerStar float64, title string) (*StarsGateway, error) {
	if api == nil {
		return nil, errors.New("stars: bot api is required")
	}
	if minorPerStar <= 0 {
		return nil, errors.New("stars: minor_per_star must be positive")
	}
	if title == "" {
		title = "VPN subscription"
	}
	return &StarsGateway{api: api, minorPerStar: minorPerStar, title: title, now: time.Now}, nil
}

func (g *StarsGateway) Name() string                { return starsName }
func (g *StarsGateway) Method() model.PaymentMethod { return model.PaymentMethodInChatPoints }

// Stars converts a price in minor units into whole stars, rounding up.
func (g *StarsGateway) Stars(amount int64) int {
	n := int(math.Ceil(float64(amount) / g.minorPerStar))
	if n < 1 {
		n = 1
	}
	return n
}

func (g *StarsGateway) CreateCharge(ctx context.Context, req adapter.ChargeRequest) (_ adapter.ChargeIntent, err error) {
	start := time.Now()
	defer func() {
		metrics.ObserveAdapterCall(starsName, "create_charge", time.Since(start).Milliseconds(), err == nil)
	}()
	if err := ctx.Err(); err != nil {
		return adapter.ChargeIntent{}, err
	}

	payload := ulid.MustNew(ulid.Timestamp(g.now()), rand.Reader).String()
	description := req.Description
	if description == "" {
		description = g.title
	}

	params := tgbotapi.Params{}
	params["title"] = g.title
	params["description"] = description
	params["payload"] = payload
	params["currency"] = starsCurrency
	if err := params.AddInterface("prices", []tgbotapi.LabeledPrice{{Label: g.title, Amount: g.Stars(req.Amount)}}); err != nil {
		return adapter.ChargeIntent{}, err
	}

	resp, err := g.api.MakeRequest("createInvoiceLink", params)
	if err != nil {
		return adapter.ChargeIntent{}, fmt.Errorf("stars: createInvoiceLink: %w", err)
	}
	var link string
	if err := json.Unmarshal(resp.Result, &link); err != nil || link == "" {
		return adapter.ChargeIntent{}, fmt.Errorf("stars: unexpected invoice link response")
	}
	return adapter.ChargeIntent{ExternalID: payload, CheckoutURL: link}, nil
}
