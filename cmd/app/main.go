package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"vpn-subscription-bot/internal/config"
	"vpn-subscription-bot/internal/domain/model"
	"vpn-subscription-bot/internal/domain/ports/adapter"
	"vpn-subscription-bot/internal/infra/adapters/panel"
	payAdapters "vpn-subscription-bot/internal/infra/adapters/payment"
	tele "vpn-subscription-bot/internal/infra/adapters/telegram"
	httpapi "vpn-subscription-bot/internal/infra/http"
	"vpn-subscription-bot/internal/infra/i18n"
	"vpn-subscription-bot/internal/infra/logging"
	"vpn-subscription-bot/internal/infra/metrics"
	red "vpn-subscription-bot/internal/infra/redis"
	"vpn-subscription-bot/internal/infra/scheduler"
	"vpn-subscription-bot/internal/infra/worker"
	"vpn-subscription-bot/internal/usecase"
)

// Set with -ldflags "-X main.version=... -X main.commit=...".
var (
	version = "dev"
	commit  = "none"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (no-op gateway, console logs)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("exit")
	}
}

func run(cfg *config.Config, logger *zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)
	dev := cfg.Runtime.Dev
	logger.Info().
		Str("version", version).
		Str("commit", commit).
		Bool("dev", dev).
		Str("panel_url", cfg.Panel.BaseURL).
		Str("panel_token", logging.Redact(cfg.Panel.Token, dev)).
		Str("yookassa_key", logging.Redact(cfg.Payment.YooKassa.SecretKey, dev)).
		Msg("starting")

	// ---- Redis (optional) ----
	var (
		cache   red.RedisClient
		locker  red.Locker = red.NoopLocker{}
		limiter httpapi.RateLimiter
		health  = map[string]httpapi.HealthCheck{}
	)
	if cfg.Redis.URL != "" {
		rc, err := red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer rc.Close()
		cache = rc
		locker = red.NewLocker(rc)
		limiter = red.NewRateLimiter(rc)
		health["redis"] = rc.Ping
	} else {
		logger.Warn().Msg("redis not configured; job locks are process-local")
	}

	// ---- Ledger store ----
	st, err := openStorage(ctx, cfg, cache, logger)
	if err != nil {
		return err
	}
	defer st.close()
	health["database"] = st.ping
	go st.reportPoolStats(ctx, 15*time.Second)

	// ---- Telegram ----
	var botAPI *tgbotapi.BotAPI
	if cfg.Bot.Token != "" {
		botAPI, err = tgbotapi.NewBotAPI(cfg.Bot.Token)
		if err != nil {
			return fmt.Errorf("telegram: %w", err)
		}
		logger.Info().Str("username", botAPI.Self.UserName).Msg("telegram authorized")
	}

	tr, err := i18n.NewTranslator(i18n.LocalesFS, cfg.Bot.Language)
	if err != nil {
		return fmt.Errorf("i18n: %w", err)
	}

	pool := worker.NewPool(cfg.Notifier.Workers, logger)
	pool.Start(ctx)
	defer pool.Stop()

	var notifier adapter.Notifier = tele.NewNoopNotifier(logger)
	if botAPI != nil {
		notifier = tele.NewAsyncNotifier(tele.NewNotifier(botAPI, tr, logger), pool, 10*time.Second, logger)
	}

	// ---- Provisioning ----
	panelClient, err := panel.NewRemnawaveClient(cfg.Panel.BaseURL, cfg.Panel.Token, cfg.Panel.UserPrefix, cfg.Panel.Zones, cfg.Panel.Timeout, logger)
	if err != nil {
		return err
	}

	// ---- Gateways ----
	gateways, providers, err := buildGateways(cfg, botAPI, tr)
	if err != nil {
		return err
	}
	if len(gateways) == 0 {
		return errors.New("no payment gateway enabled")
	}

	// ---- Use cases ----
	userUC := usecase.NewUserUseCase(st.users, st.referrals, st.tm, logger)
	paymentUC := usecase.NewPaymentUseCase(st.payments, st.subs, st.tariffs, st.users, st.referrals, st.tm,
		panelClient, notifier, cfg.Referral.CommissionPercent, logger)
	purchaseUC := usecase.NewPurchaseUseCase(st.users, st.tariffs, st.subs, st.payments, panelClient, gateways,
		notifier, cfg.Trial.Days, logger)
	grantUC := usecase.NewGrantUseCase(st.subs, st.users, st.tm, panelClient, notifier, logger)
	reconcileUC := usecase.NewReconcileUseCase(st.payments, st.subs, st.tariffs, st.users, gateways, paymentUC, logger)
	statsUC := usecase.NewStatsUseCase(st.subs, logger)

	// ---- HTTP ----
	handlers := httpapi.Handlers{
		Payments: httpapi.NewPaymentWebhook(paymentUC, providers, cfg.HTTP.MaxBodyBytes, logger),
		Panel: httpapi.NewPanelWebhook(grantUC, httpapi.NewHMACVerifier(cfg.Panel.WebhookSecret),
			panel.ParseWebhook, cfg.HTTP.MaxBodyBytes, logger),
		Health: health,
	}
	if cfg.Admin.APIKey != "" {
		auth := httpapi.NewAuthManager(cfg.Admin.APIKey, cfg.Admin.JWTSecret, cfg.Admin.TTL)
		handlers.Admin = httpapi.NewAdminAPI(auth, limiter, paymentUC, grantUC, reconcileUC, statsUC, userUC,
			httpapi.AdminOptions{
				SyncBatchSize: cfg.Scheduler.BatchSize,
				StaleAfter:    cfg.Scheduler.StaleAfter,
				SweepLimit:    cfg.Scheduler.BatchSize,
			}, logger)
	}
	server := httpapi.NewServer(cfg.HTTP, httpapi.NewRouter(cfg.HTTP, handlers, logger), logger)
	srvErr := make(chan error, 1)
	go func() { srvErr <- server.Start() }()

	// ---- Scheduler ----
	sched := scheduler.NewScheduler(locker, cfg.Scheduler.LockTTL, logger)
	for _, job := range []scheduler.Job{
		scheduler.GrantSyncJob(cfg.Scheduler.GrantSyncCron, grantUC, cfg.Scheduler.BatchSize, logger),
		scheduler.PaymentSweepJob(cfg.Scheduler.PaymentSweepCron, reconcileUC, cfg.Scheduler.StaleAfter, cfg.Scheduler.BatchSize, logger),
		scheduler.OrphanRecoveryJob(cfg.Scheduler.OrphanRecoveryCron, reconcileUC, cfg.Scheduler.OrphanLookback, logger),
	} {
		if err := sched.Add(job); err != nil {
			return err
		}
	}
	sched.Start(ctx)

	// ---- Bot ----
	var bot *tele.Bot
	if botAPI != nil {
		bot, err = tele.NewBot(botAPI, &cfg.Bot, userUC, paymentUC, purchaseUC, grantUC, tr, 8, logger)
		if err != nil {
			return err
		}
		go func() {
			if err := bot.StartPolling(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Msg("telegram polling stopped")
			}
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown requested")
	case err := <-srvErr:
		if err != nil {
			logger.Error().Err(err).Msg("http server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if bot != nil {
		bot.StopPolling()
	}
	sched.Stop()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown")
	}
	logger.Info().Msg("stopped")
	return nil
}

// buildGateways returns the enabled gateways and the webhook providers
// that settle them over HTTP.
func buildGateways(cfg *config.Config, botAPI *tgbotapi.BotAPI, tr *i18n.Translator) ([]adapter.PaymentGateway, []httpapi.PaymentProvider, error) {
	var (
		gateways  []adapter.PaymentGateway
		providers []httpapi.PaymentProvider
	)

	if yk := cfg.Payment.YooKassa; yk.Enabled {
		g, err := payAdapters.NewYooKassaGateway(yk.ShopID, yk.SecretKey, yk.BaseURL, yk.ReturnURL, yk.Timeout)
		if err != nil {
			return nil, nil, err
		}
		verifier, err := yookassaVerifier(yk)
		if err != nil {
			return nil, nil, err
		}
		gateways = append(gateways, g)
		providers = append(providers, httpapi.PaymentProvider{
			Name:            g.Name(),
			SignatureHeader: "X-Signature",
			Verifier:        verifier,
			Parser:          g,
		})
	}

	if cfg.Payment.Stars.Enabled {
		if botAPI == nil {
			return nil, nil, errors.New("stars: bot.token is required")
		}
		title := cfg.Payment.Stars.InvoiceTitle
		if title == "" {
			title = tr.T("stars_invoice_title")
		}
		g, err := payAdapters.NewStarsGateway(botAPI, cfg.Payment.Stars.MinorPerStar, title)
		if err != nil {
			return nil, nil, err
		}
		gateways = append(gateways, g)
	}

	if (cfg.Payment.Dev || cfg.Runtime.Dev) && !cfg.Payment.YooKassa.Enabled {
		gateways = append(gateways, payAdapters.NewNoopPaymentGateway(model.PaymentMethodGatewayRedirect))
	}
	return gateways, providers, nil
}

// yookassaVerifier checks the HMAC signature when a secret is configured and
// the source address otherwise.
func yookassaVerifier(cfg config.YooKassaConfig) (httpapi.Verifier, error) {
	cidrs := cfg.AllowedIPs
	if len(cidrs) == 0 {
		cidrs = httpapi.YooKassaNetworks
	}
	ips, err := httpapi.NewIPAllowlistVerifier(cidrs)
	if err != nil {
		return nil, fmt.Errorf("yookassa allowed_ips: %w", err)
	}
	if cfg.WebhookSecret == "" {
		return ips, nil
	}
	return httpapi.AllVerifier{ips, httpapi.NewHMACVerifier(cfg.WebhookSecret)}, nil
}
