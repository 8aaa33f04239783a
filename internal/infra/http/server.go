package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"vpn-subscription-bot/internal/config"
)

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

type Handlers struct {
	Payments *PaymentWebhook
	Panel    *PanelWebhook
	Admin    *AdminAPI // nil disables the admin API
	Health   map[string]HealthCheck
}

func NewRouter(cfg config.HTTPConfig, h Handlers, logger *zerolog.Logger) chi.Router {
	r := chi.NewRouter()
	if cfg.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(TraceID(), RequestLog(logger), Recover(logger), Timeout(cfg.RequestTimeout))

	r.Get("/health", healthHandler(h.Health))
	r.Handle("/metrics", promhttp.Handler())
	if h.Payments != nil {
		r.Method(http.MethodPost, "/payments/{provider}", h.Payments)
	}
	if h.Panel != nil {
		r.Method(http.MethodPost, "/panel/webhook", h.Panel)
	}
	if h.Admin != nil {
		r.Mount("/api/v1/admin", h.Admin.Routes())
	}
	return r
}

func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		status := http.StatusOK
		out := map[string]string{}
		for name, check := range checks {
			if err := check(ctx); err != nil {
				status = http.StatusServiceUnavailable
				out[name] = err.Error()
				continue
			}
			out[name] = "ok"
		}
		writeJSON(w, status, out)
	}
}

type Server struct {
	srv *http.Server
	log *zerolog.Logger
}

func NewServer(cfg config.HTTPConfig, handler http.Handler, logger *zerolog.Logger) *Server {
	l := logger.With().Str("component", "HTTPServer").Logger()
	return &Server{
		srv: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      cfg.RequestTimeout + 5*time.Second,
		},
		log: &l,
	}
}

// Start blocks until the server stops. A graceful shutdown returns nil.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.srv.Addr).Msg("http server listening")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
