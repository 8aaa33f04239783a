// File: internal/infra/adapters/payment/yookassa_gateway.go
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"vpn-subscription-bot/internal/domain"
	"vpn-subscription-bot/internal/domain/model"
	"vpn-subscription-bot/internal/domain/ports/adapter"
	"vpn-subscription-bot/internal/infra/metrics"
)

var (
	_ adapter.PaymentGateway     = (*YooKassaGateway)(nil)
	_ adapter.ChargeLookup       = (*YooKassaGateway)(nil)
	_ adapter.ChargeLister       = (*YooKassaGateway)(nil)
	_ adapter.NotificationParser = (*YooKassaGateway)(nil)
)

const yookassaName = "yookassa"

// YooKassaGateway implements the redirect checkout flow over the YooKassa v3 REST API.
type YooKassaGateway struct {
	shopID    string
	secretKey string
	baseURL   string
	returnURL string
	client    *http.Client
}

func NewYooKassaGateway(shopID, secretKey, baseURL, returnURL string, timeout time.Duration) (*YooKassaGateway, error) {
	if shopID == "" || secretKey == "" {
		return nil, errors.New("yookassa: shop id and secret key are required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("yookassa: invalid base url: %w", err)
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &YooKassaGateway{
		shopID:    shopID,
		secretKey: secretKey,
		baseURL:   strings.TrimRight(baseURL, "/"),
		returnURL: returnURL,
		client:    &http.Client{Timeout: timeout},
	}, nil
}

func (g *YooKassaGateway) Name() string                { return yookassaName }
func (g *YooKassaGateway) Method() model.PaymentMethod { return model.PaymentMethodGatewayRedirect }

type ykAmount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type ykPayment struct {
	ID           string            `json:"id"`
	Status       string            `json:"status"`
	Amount       ykAmount          `json:"amount"`
	CreatedAt    time.Time         `json:"created_at"`
	Metadata     map[string]string `json:"metadata"`
	Confirmation struct {
		Type            string `json:"type"`
		ConfirmationURL string `json:"confirmation_url"`
	} `json:"confirmation"`
}

// CreateCharge calls POST /v3/payments. The local payment id is the
// Idempotence-Key, so a retried request never opens a second charge.
func (g *YooKassaGateway) CreateCharge(ctx context.Context, req adapter.ChargeRequest) (adapter.ChargeIntent, error) {
	returnURL := req.ReturnURL
	if returnURL == "" {
		returnURL = g.returnURL
	}
	payload := map[string]any{
		"amount":  ykAmount{Value: FormatMinor(req.Amount), Currency: req.Currency},
		"capture": true,
		"confirmation": map[string]string{
			"type":       "redirect",
			"return_url": returnURL,
		},
		"description": req.Description,
		"metadata": map[string]string{
			"payment_id":      req.PaymentID,
			"subscription_id": req.SubscriptionID,
			"user_id":         req.UserID,
			"tariff_id":       req.TariffID,
		},
	}
	var out ykPayment
	if err := g.do(ctx, "create_charge", http.MethodPost, "/v3/payments", req.PaymentID, payload, &out); err != nil {
		return adapter.ChargeIntent{}, err
	}
	if out.ID == "" || out.Confirmation.ConfirmationURL == "" {
		return adapter.ChargeIntent{}, errors.New("yookassa: response without id or confirmation url")
	}
	return adapter.ChargeIntent{ExternalID: out.ID, CheckoutURL: out.Confirmation.ConfirmationURL}, nil
}

// FetchCharge calls GET /v3/payments/{id}.
func (g *YooKassaGateway) FetchCharge(ctx context.Context, externalID string) (adapter.ChargeStatus, error) {
	var out ykPayment
	if err := g.do(ctx, "fetch_charge", http.MethodGet, "/v3/payments/"+url.PathEscape(externalID), "", nil, &out); err != nil {
		return adapter.ChargeStatus{}, err
	}
	return out.toStatus(), nil
}

// ListCharges walks GET /v3/payments?created_at.gte=... following next_cursor.
func (g *YooKassaGateway) ListCharges(ctx context.Context, since time.Time) ([]adapter.ChargeStatus, error) {
	var out []adapter.ChargeStatus
	cursor := ""
	for page := 0; page < 50; page++ {
		q := url.Values{}
		q.Set("created_at.gte", since.UTC().Format(time.RFC3339))
		q.Set("limit", "100")
		if cursor != "" {
			q.Set("cursor", cursor)
		}
		var resp struct {
			Items      []ykPayment `json:"items"`
			NextCursor string      `json:"next_cursor"`
		}
		if err := g.do(ctx, "list_charges", http.MethodGet, "/v3/payments?"+q.Encode(), "", nil, &resp); err != nil {
			return nil, err
		}
		for _, it := range resp.Items {
			out = append(out, it.toStatus())
		}
		if resp.NextCursor == "" {
			return out, nil
		}
		cursor = resp.NextCursor
	}
	return out, nil
}

// ParseNotification decodes a YooKassa webhook body:
// {"type":"notification","event":"payment.succeeded","object":{...}}
func (g *YooKassaGateway) ParseNotification(body []byte) (model.PaymentNotification, error) {
	var n struct {
		Type   string    `json:"type"`
		Event  string    `json:"event"`
		Object ykPayment `json:"object"`
	}
	if err := json.Unmarshal(body, &n); err != nil {
		return model.PaymentNotification{}, fmt.Errorf("yookassa: decode notification: %w", err)
	}
	if n.Object.ID == "" {
		return model.PaymentNotification{}, errors.New("yookassa: notification without object id")
	}
	return model.PaymentNotification{
		Provider:   yookassaName,
		ExternalID: n.Object.ID,
		Kind:       yookassaKind(n.Object.Status),
		RawStatus:  n.Object.Status,
	}, nil
}

func (p ykPayment) toStatus() adapter.ChargeStatus {
	amount, _ := ParseMinor(p.Amount.Value)
	return adapter.ChargeStatus{
		ExternalID: p.ID,
		Kind:       yookassaKind(p.Status),
		RawStatus:  p.Status,
		Amount:     amount,
		Currency:   p.Amount.Currency,
		CreatedAt:  p.CreatedAt,
		Metadata:   p.Metadata,
	}
}

func yookassaKind(status string) model.PaymentEventKind {
	switch status {
	case "succeeded":
		return model.PaymentEventSucceeded
	case "canceled", "failed":
		return model.PaymentEventFailed
	case "pending", "waiting_for_capture":
		return model.PaymentEventPending
	default:
		return model.PaymentEventUnknown
	}
}

func (g *YooKassaGateway) do(ctx context.Context, op, method, path, idempotenceKey string, body any, out any) (err error) {
	start := time.Now()
	defer func() {
		metrics.ObserveAdapterCall(yookassaName, op, time.Since(start).Milliseconds(), err == nil)
	}()

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, rdr)
	if err != nil {
		return err
	}
	req.SetBasicAuth(g.shopID, g.secretKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotenceKey != "" {
		req.Header.Set("Idempotence-Key", idempotenceKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("yookassa: %s: %w", path, domain.ErrNotFound)
	}
	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("yookassa: %s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// FormatMinor renders minor units as a decimal with two places: 10050 -> "100.50".
func FormatMinor(v int64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// ParseMinor is the inverse of FormatMinor.
func ParseMinor(s string) (int64, error) {
	whole, frac, _ := strings.Cut(strings.TrimSpace(s), ".")
	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, err
	}
	if len(frac) > 2 {
		frac = frac[:2]
	}
	for len(frac) < 2 {
		frac += "0"
	}
	f, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, err
	}
	if strings.HasPrefix(whole, "-") {
		return w*100 - f, nil
	}
	return w*100 + f, nil
}
