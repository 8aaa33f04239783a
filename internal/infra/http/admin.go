package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"vpn-subscription-bot/internal/domain"
	"vpn-subscription-bot/internal/domain/model"
	"vpn-subscription-bot/internal/infra/metrics"
	red "vpn-subscription-bot/internal/infra/redis"
	"vpn-subscription-bot/internal/usecase"
)

const (
	loginLimit  = 5
	loginWindow = time.Minute
)

// AdminAPI is the operator surface: sessions, manual payment resolution and
// on-demand reconciliation.
type AdminAPI struct {
	auth      *AuthManager
	limiter   RateLimiter
	payments  usecase.PaymentUseCase
	grants    usecase.GrantUseCase
	reconcile usecase.ReconcileUseCase
	stats     usecase.StatsUseCase
	users     usecase.UserUseCase
	cfg       AdminOptions
	log       *zerolog.Logger
}

type AdminOptions struct {
	SyncBatchSize int
	StaleAfter    time.Duration
	SweepLimit    int
}

func NewAdminAPI(
	auth *AuthManager,
	limiter RateLimiter,
	payments usecase.PaymentUseCase,
	grants usecase.GrantUseCase,
	reconcile usecase.ReconcileUseCase,
	stats usecase.StatsUseCase,
	users usecase.UserUseCase,
	opts AdminOptions,
	logger *zerolog.Logger,
) *AdminAPI {
	if opts.SweepLimit <= 0 {
		opts.SweepLimit = 500
	}
	l := logger.With().Str("component", "AdminAPI").Logger()
	return &AdminAPI{
		auth: auth, limiter: limiter, payments: payments, grants: grants,
		reconcile: reconcile, stats: stats, users: users, cfg: opts, log: &l,
	}
}

func (a *AdminAPI) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/session", a.handleSession)
	r.Group(func(r chi.Router) {
		r.Use(a.auth.Require)
		r.Get("/payments", a.handlePaymentByExternalID)
		r.Post("/payments/{id}/confirm", a.handleResolve("confirm"))
		r.Post("/payments/{id}/fail", a.handleResolve("fail"))
		r.Post("/payments/sweep", a.handleSweep)
		r.Post("/grants/sync", a.handleSync)
		r.Get("/users/{externalID}", a.handleUser)
		r.Get("/stats", a.handleStats)
	})
	return r
}

func (a *AdminAPI) handleSession(w http.ResponseWriter, r *http.Request) {
	if a.limiter != nil {
		ok, err := a.limiter.Allow(r.Context(), red.AdminLoginKey(clientIP(r.RemoteAddr)), loginLimit, loginWindow)
		if err != nil {
			a.log.Warn().Err(err).Msg("rate limiter unavailable")
		} else if !ok {
			metrics.IncAdminCommand("session", "rate_limited")
			writeError(w, http.StatusTooManyRequests, "too many attempts")
			return
		}
	}
	if !a.auth.CheckKey(r.Header.Get(AdminKeyHeader)) {
		metrics.IncAdminCommand("session", "unauthorized")
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	token, exp, err := a.auth.Mint()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	metrics.IncAdminCommand("session", "authorized")
	writeJSON(w, http.StatusOK, map[string]any{"token": token, "expires_at": exp.UTC()})
}

func (a *AdminAPI) handlePaymentByExternalID(w http.ResponseWriter, r *http.Request) {
	ext := r.URL.Query().Get("external_id")
	if ext == "" {
		writeError(w, http.StatusBadRequest, "external_id is required")
		return
	}
	p, err := a.payments.FindByExternalID(r.Context(), ext)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, paymentView(p))
}

func (a *AdminAPI) handleResolve(op string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		var (
			tr  *model.Transition
			err error
		)
		if op == "confirm" {
			tr, err = a.payments.Confirm(r.Context(), id, usecase.SourceAdmin)
		} else {
			tr, err = a.payments.Fail(r.Context(), id, usecase.SourceAdmin)
		}
		if err != nil {
			metrics.IncAdminCommand(op, "error")
			a.writeDomainError(w, err)
			return
		}
		metrics.IncAdminCommand(op, "ok")
		a.log.Info().Str("payment_id", id).Str("op", op).Bool("applied", tr.Applied).Msg("manual payment resolution")
		out := map[string]any{"applied": tr.Applied, "payment": paymentView(tr.Payment)}
		if tr.Subscription != nil {
			out["subscription"] = subscriptionView(tr.Subscription)
		}
		if tr.Credit != nil {
			out["referral_credit"] = tr.Credit.Amount
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func (a *AdminAPI) handleSweep(w http.ResponseWriter, r *http.Request) {
	report, err := a.reconcile.SweepPending(r.Context(), a.cfg.StaleAfter, a.cfg.SweepLimit)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	metrics.IncAdminCommand("sweep", "ok")
	writeJSON(w, http.StatusOK, report)
}

func (a *AdminAPI) handleSync(w http.ResponseWriter, r *http.Request) {
	report, err := a.grants.SyncActive(r.Context(), a.cfg.SyncBatchSize)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	metrics.IncAdminCommand("sync", "ok")
	writeJSON(w, http.StatusOK, report)
}

func (a *AdminAPI) handleUser(w http.ResponseWriter, r *http.Request) {
	extID, err := strconv.ParseInt(chi.URLParam(r, "externalID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid external id")
		return
	}
	u, err := a.users.GetByExternalID(r.Context(), extID)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	credits, err := a.users.ListReferralCredits(r.Context(), u.ID)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":                 u.ID,
		"external_id":        u.ExternalID,
		"username":           u.Username,
		"balance":            u.Balance,
		"had_first_purchase": u.HadFirstPurchase,
		"trial_available":    u.HasTrialEligibility,
		"referral_code":      u.ReferralCode,
		"inviter_id":         u.InviterID,
		"referral_credits":   len(credits),
	})
}

func (a *AdminAPI) handleStats(w http.ResponseWriter, r *http.Request) {
	counts, err := a.stats.SubscriptionsByStatus(r.Context())
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"subscriptions": counts})
}

func (a *AdminAPI) writeDomainError(w http.ResponseWriter, err error) {
	var verr *domain.ValidationError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Error())
	case domain.IsConsistencyViolation(err):
		writeError(w, http.StatusConflict, err.Error())
	case usecase.IsRetryable(err):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		a.log.Error().Err(err).Msg("admin request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func paymentView(p *model.Payment) map[string]any {
	return map[string]any{
		"id":              p.ID,
		"user_id":         p.UserID,
		"amount":          p.Amount,
		"currency":        p.Currency,
		"method":          p.Method,
		"external_id":     p.ExternalID,
		"status":          p.Status,
		"subscription_id": p.SubscriptionID,
		"tariff_id":       p.TariffID,
		"created_at":      p.CreatedAt,
	}
}

func subscriptionView(s *model.Subscription) map[string]any {
	return map[string]any{
		"id":             s.ID,
		"status":         s.Status,
		"end_date":       s.EndDate,
		"correlation_id": s.CorrelationID,
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
