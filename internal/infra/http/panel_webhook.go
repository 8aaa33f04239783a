package http

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"vpn-subscription-bot/internal/domain/model"
	"vpn-subscription-bot/internal/infra/logging"
	"vpn-subscription-bot/internal/infra/metrics"
	"vpn-subscription-bot/internal/usecase"
)

const PanelSignatureHeader = "X-Remnawave-Signature"

// GrantEventParser decodes a verified panel callback.
type GrantEventParser func(body []byte) (model.GrantEvent, error)

// PanelWebhook is the ingress for provisioning panel events.
type PanelWebhook struct {
	verifier Verifier
	parse    GrantEventParser
	grants   usecase.GrantUseCase
	maxBody  int64
	log      *zerolog.Logger
}

func NewPanelWebhook(grants usecase.GrantUseCase, verifier Verifier, parse GrantEventParser, maxBody int64, logger *zerolog.Logger) *PanelWebhook {
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	l := logger.With().Str("component", "PanelWebhook").Logger()
	return &PanelWebhook{verifier: verifier, parse: parse, grants: grants, maxBody: maxBody, log: &l}
}

func (h *PanelWebhook) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, h.maxBody+1))
	if err != nil || int64(len(body)) > h.maxBody {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	w.WriteHeader(h.Handle(r.Context(), body, r.Header.Get(PanelSignatureHeader)))
}

func (h *PanelWebhook) Handle(ctx context.Context, rawBody []byte, signature string) int {
	start := time.Now()
	code, result := h.handle(ctx, rawBody, signature)
	metrics.ObserveWebhook("panel", result, time.Since(start).Seconds())
	return code
}

func (h *PanelWebhook) handle(ctx context.Context, rawBody []byte, signature string) (int, string) {
	log := logging.With(ctx, h.log)
	if h.verifier == nil || !h.verifier.Verify(rawBody, signature, "") {
		log.Warn().Msg("panel webhook rejected")
		return http.StatusForbidden, "forbidden"
	}
	ev, err := h.parse(rawBody)
	if err != nil {
		log.Warn().Err(err).Msg("malformed panel webhook")
		return http.StatusBadRequest, "malformed"
	}
	if ev.Kind == model.GrantEventUnknown {
		log.Debug().Str("event", ev.Name).Msg("unsupported panel event acknowledged")
		return http.StatusOK, "noop"
	}
	changed, err := h.grants.HandleEvent(ctx, ev)
	if err != nil {
		log.Error().Err(err).Str("event", ev.Name).Msg("panel event failed")
		return http.StatusInternalServerError, "error"
	}
	if changed {
		return http.StatusOK, "applied"
	}
	return http.StatusOK, "unchanged"
}
