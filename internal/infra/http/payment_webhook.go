package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"vpn-subscription-bot/internal/domain"
	"vpn-subscription-bot/internal/domain/model"
	"vpn-subscription-bot/internal/infra/logging"
	"vpn-subscription-bot/internal/infra/metrics"
	"vpn-subscription-bot/internal/usecase"
)

// NotificationParser decodes a verified provider callback.
type NotificationParser interface {
	ParseNotification(body []byte) (model.PaymentNotification, error)
}

// PaymentProvider binds a provider name in the route to how its deliveries
// are authenticated and decoded.
type PaymentProvider struct {
	Name            string
	SignatureHeader string
	Verifier        Verifier
	Parser          NotificationParser
}

// PaymentWebhook is the ingress for payment provider callbacks.
type PaymentWebhook struct {
	providers map[string]PaymentProvider
	engine    usecase.PaymentUseCase
	maxBody   int64
	log       *zerolog.Logger
}

func NewPaymentWebhook(engine usecase.PaymentUseCase, providers []PaymentProvider, maxBody int64, logger *zerolog.Logger) *PaymentWebhook {
	byName := make(map[string]PaymentProvider, len(providers))
	for _, p := range providers {
		byName[p.Name] = p
	}
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	l := logger.With().Str("component", "PaymentWebhook").Logger()
	return &PaymentWebhook{providers: byName, engine: engine, maxBody: maxBody, log: &l}
}

func (h *PaymentWebhook) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "provider")
	body, err := io.ReadAll(io.LimitReader(r.Body, h.maxBody+1))
	if err != nil || int64(len(body)) > h.maxBody {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	sig := ""
	if p, ok := h.providers[name]; ok && p.SignatureHeader != "" {
		sig = r.Header.Get(p.SignatureHeader)
	}
	w.WriteHeader(h.Handle(r.Context(), name, body, sig, r.RemoteAddr))
}

// Handle returns the status code to answer the provider with: 403 for a
// failed check, 400 for a malformed body, 200 for anything the provider
// should stop retrying and 5xx for anything it should retry.
func (h *PaymentWebhook) Handle(ctx context.Context, provider string, rawBody []byte, signature, remoteAddr string) int {
	start := time.Now()
	code, result := h.handle(ctx, provider, rawBody, signature, remoteAddr)
	metrics.ObserveWebhook(provider, result, time.Since(start).Seconds())
	return code
}

func (h *PaymentWebhook) handle(ctx context.Context, provider string, rawBody []byte, signature, remoteAddr string) (int, string) {
	log := logging.With(ctx, h.log).With().Str("provider", provider).Logger()

	p, ok := h.providers[provider]
	if !ok {
		return http.StatusNotFound, "unknown_provider"
	}
	if p.Verifier == nil || !p.Verifier.Verify(rawBody, signature, remoteAddr) {
		log.Warn().Str("remote", remoteAddr).Msg("webhook rejected")
		return http.StatusForbidden, "forbidden"
	}

	n, err := p.Parser.ParseNotification(rawBody)
	if err != nil {
		log.Warn().Err(err).Msg("malformed webhook body")
		return http.StatusBadRequest, "malformed"
	}
	ctx = logging.WithExternalID(ctx, n.ExternalID)
	log = log.With().Str("external_id", n.ExternalID).Str("status", n.RawStatus).Logger()

	if !n.Kind.Terminal() {
		log.Debug().Msg("non-terminal notification acknowledged")
		return http.StatusOK, "noop"
	}

	tr, err := h.engine.Settle(ctx, n.ExternalID, n.Kind, usecase.SourceWebhook)
	switch {
	case err == nil:
		if tr.Applied {
			return http.StatusOK, "applied"
		}
		return http.StatusOK, "duplicate"
	case errors.Is(err, domain.ErrNotFound):
		logging.Anomaly(&log, "webhook_payment_not_found").Msg("provider reported a charge with no local payment")
		return http.StatusOK, "not_found"
	case domain.IsConsistencyViolation(err):
		// Already logged and counted by the engine; a retry cannot fix it.
		return http.StatusOK, "consistency_violation"
	case usecase.IsRetryable(err):
		log.Warn().Err(err).Msg("settlement deferred; provider will retry")
		return http.StatusServiceUnavailable, "retry"
	default:
		log.Error().Err(err).Msg("settlement failed")
		return http.StatusInternalServerError, "error"
	}
}
