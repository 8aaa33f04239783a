// File: internal/infra/adapters/payment/noop_payment.go
package payment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"vpn-subscription-bot/internal/domain"
	"vpn-subscription-bot/internal/domain/model"
	"vpn-subscription-bot/internal/domain/ports/adapter"
)

var (
	_ adapter.PaymentGateway = (*NoopPaymentGateway)(nil)
	_ adapter.ChargeLookup   = (*NoopPaymentGateway)(nil)
	_ adapter.ChargeLister   = (*NoopPaymentGateway)(nil)
)

// NoopPaymentGateway is an in-memory gateway for dev mode and tests. Charges
// stay pending until Settle is called.
type NoopPaymentGateway struct {
	mu      sync.Mutex
	seq     int64
	method  model.PaymentMethod
	charges map[string]*adapter.ChargeStatus
}

func NewNoopPaymentGateway(method model.PaymentMethod) *NoopPaymentGateway {
	if method == "" {
		method = model.PaymentMethodGatewayRedirect
	}
	return &NoopPaymentGateway{
		method:  method,
		charges: make(map[string]*adapter.ChargeStatus),
	}
}

func (g *NoopPaymentGateway) Name() string                { return "noop" }
func (g *NoopPaymentGateway) Method() model.PaymentMethod { return g.method }

func (g *NoopPaymentGateway) next() string {
	g.seq++
	return fmt.Sprintf("noop-%d", g.seq)
}

func (g *NoopPaymentGateway) CreateCharge(ctx context.Context, req adapter.ChargeRequest) (adapter.ChargeIntent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := g.next()
	g.charges[id] = &adapter.ChargeStatus{
		ExternalID: id,
		Kind:       model.PaymentEventPending,
		RawStatus:  "pending",
		Amount:     req.Amount,
		Currency:   req.Currency,
		CreatedAt:  time.Now().UTC(),
		Metadata: map[string]string{
			"payment_id":      req.PaymentID,
			"subscription_id": req.SubscriptionID,
			"user_id":         req.UserID,
			"tariff_id":       req.TariffID,
		},
	}
	return adapter.ChargeIntent{ExternalID: id, CheckoutURL: "https://example.test/pay/" + id}, nil
}

// Settle moves a charge to a terminal state, as a provider would after checkout.
func (g *NoopPaymentGateway) Settle(externalID string, kind model.PaymentEventKind) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.charges[externalID]
	if !ok {
		return domain.ErrNotFound
	}
	c.Kind = kind
	c.RawStatus = kind.String()
	return nil
}

func (g *NoopPaymentGateway) FetchCharge(ctx context.Context, externalID string) (adapter.ChargeStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.charges[externalID]
	if !ok {
		return adapter.ChargeStatus{}, domain.ErrNotFound
	}
	return *c, nil
}

func (g *NoopPaymentGateway) ListCharges(ctx context.Context, since time.Time) ([]adapter.ChargeStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]adapter.ChargeStatus, 0, len(g.charges))
	for _, c := range g.charges {
		if !c.CreatedAt.Before(since) {
			out = append(out, *c)
		}
	}
	return out, nil
}
