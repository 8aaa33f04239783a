// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type BotConfig struct {
	Token    string  `yaml:"token"`
	Username string  `yaml:"username"`
	AdminIDs []int64 `yaml:"admin_ids"`
	Language string  `yaml:"language"`
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type HTTPConfig struct {
	Port           int           `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxBodyBytes   int64         `yaml:"max_body_bytes"`
	TrustProxy     bool          `yaml:"trust_proxy"` // take the client address from X-Forwarded-For / X-Real-IP
}

type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // postgres | sqlite
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"` // empty disables the cache and job locks
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type YooKassaConfig struct {
	Enabled       bool          `yaml:"enabled"`
	ShopID        string        `yaml:"shop_id"`
	SecretKey     string        `yaml:"secret_key"`
	BaseURL       string        `yaml:"base_url"`
	ReturnURL     string        `yaml:"return_url"`
	WebhookSecret string        `yaml:"webhook_secret"` // optional HMAC key, checked on top of the IP allowlist
	AllowedIPs    []string      `yaml:"allowed_ips"`
	Timeout       time.Duration `yaml:"timeout"`
}

type StarsConfig struct {
	Enabled      bool    `yaml:"enabled"`
	MinorPerStar float64 `yaml:"minor_per_star"` // price in minor units of one star
	InvoiceTitle string  `yaml:"invoice_title"`
}

type PaymentConfig struct {
	YooKassa YooKassaConfig `yaml:"yookassa"`
	Stars    StarsConfig    `yaml:"stars"`
	Dev      bool           `yaml:"dev"` // registers the no-op gateway
}

type PanelConfig struct {
	BaseURL       string        `yaml:"base_url"`
	Token         string        `yaml:"token"`
	WebhookSecret string        `yaml:"webhook_secret"`
	Zones         []string      `yaml:"zones"` // internal squad uuids; empty attaches all
	Timeout       time.Duration `yaml:"timeout"`
	UserPrefix    string        `yaml:"user_prefix"`
}

type ReferralConfig struct {
	CommissionPercent int `yaml:"commission_percent"`
}

type TrialConfig struct {
	Days int `yaml:"days"`
}

type SchedulerConfig struct {
	GrantSyncCron      string        `yaml:"grant_sync_cron"`
	PaymentSweepCron   string        `yaml:"payment_sweep_cron"`
	OrphanRecoveryCron string        `yaml:"orphan_recovery_cron"`
	BatchSize          int           `yaml:"batch_size"`
	StaleAfter         time.Duration `yaml:"stale_after"`
	OrphanLookback     time.Duration `yaml:"orphan_lookback"`
	LockTTL            time.Duration `yaml:"lock_ttl"`
}

type AdminConfig struct {
	APIKey    string        `yaml:"api_key"`
	JWTSecret string        `yaml:"jwt_secret"`
	TTL       time.Duration `yaml:"ttl"`
}

type NotifierConfig struct {
	Workers int `yaml:"workers"`
}

type Config struct {
	Bot       BotConfig       `yaml:"bot"`
	Log       LogConfig       `yaml:"log"`
	HTTP      HTTPConfig      `yaml:"http"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Payment   PaymentConfig   `yaml:"payment"`
	Panel     PanelConfig     `yaml:"panel"`
	Referral  ReferralConfig  `yaml:"referral"`
	Trial     TrialConfig     `yaml:"trial"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Admin     AdminConfig     `yaml:"admin"`
	Notifier  NotifierConfig  `yaml:"notifier"`

	Runtime RuntimeConfig `yaml:"-"`
}

func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b, dev)
}

// Parse decodes YAML, applies defaults and validates.
func Parse(b []byte, dev bool) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	cfg.Runtime.Dev = dev
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Bot.Language == "" {
		cfg.Bot.Language = "en"
	}
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 8080
	}
	if cfg.HTTP.RequestTimeout <= 0 {
		cfg.HTTP.RequestTimeout = 30 * time.Second
	}
	if cfg.HTTP.MaxBodyBytes <= 0 {
		cfg.HTTP.MaxBodyBytes = 1 << 20
	}
	cfg.Database.Driver = strings.ToLower(strings.TrimSpace(cfg.Database.Driver))
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}
	cfg.Redis.TTL = normalizeTTL(cfg.Redis.TTL)

	if cfg.Payment.YooKassa.BaseURL == "" {
		cfg.Payment.YooKassa.BaseURL = "https://api.yookassa.ru"
	}
	if cfg.Payment.YooKassa.Timeout <= 0 {
		cfg.Payment.YooKassa.Timeout = 15 * time.Second
	}
	if cfg.Payment.Stars.MinorPerStar <= 0 {
		cfg.Payment.Stars.MinorPerStar = 100
	}
	if cfg.Panel.Timeout <= 0 {
		cfg.Panel.Timeout = 15 * time.Second
	}
	if cfg.Panel.UserPrefix == "" {
		cfg.Panel.UserPrefix = "user"
	}
	if cfg.Referral.CommissionPercent == 0 {
		cfg.Referral.CommissionPercent = 10
	}
	if cfg.Trial.Days <= 0 {
		cfg.Trial.Days = 3
	}

	if cfg.Scheduler.GrantSyncCron == "" {
		cfg.Scheduler.GrantSyncCron = "@every 30m"
	}
	if cfg.Scheduler.PaymentSweepCron == "" {
		cfg.Scheduler.PaymentSweepCron = "@every 5m"
	}
	if cfg.Scheduler.OrphanRecoveryCron == "" {
		cfg.Scheduler.OrphanRecoveryCron = "@every 1h"
	}
	if cfg.Scheduler.BatchSize <= 0 {
		cfg.Scheduler.BatchSize = 100
	}
	if cfg.Scheduler.StaleAfter <= 0 {
		cfg.Scheduler.StaleAfter = 10 * time.Minute
	}
	if cfg.Scheduler.OrphanLookback <= 0 {
		cfg.Scheduler.OrphanLookback = 24 * time.Hour
	}
	if cfg.Scheduler.LockTTL <= 0 {
		cfg.Scheduler.LockTTL = 10 * time.Minute
	}
	if cfg.Admin.TTL <= 0 {
		cfg.Admin.TTL = 30 * time.Minute
	}
	if cfg.Notifier.Workers <= 0 {
		cfg.Notifier.Workers = 4
	}
}

func (cfg *Config) validate() error {
	// Minimal validation
	if cfg.Database.URL == "" {
		return errors.New("database.url is required")
	}
	if cfg.Database.Driver != "postgres" && cfg.Database.Driver != "sqlite" {
		return fmt.Errorf("database.driver %q is not supported", cfg.Database.Driver)
	}
	if cfg.Panel.BaseURL == "" {
		return errors.New("panel.base_url is required")
	}
	if cfg.Referral.CommissionPercent < 0 || cfg.Referral.CommissionPercent > 100 {
		return errors.New("referral.commission_percent must be within 0..100")
	}
	if cfg.Payment.YooKassa.Enabled && (cfg.Payment.YooKassa.ShopID == "" || cfg.Payment.YooKassa.SecretKey == "") {
		return errors.New("payment.yookassa.shop_id and secret_key are required when enabled")
	}
	if cfg.Payment.Stars.Enabled && cfg.Bot.Token == "" {
		return errors.New("bot.token is required for payment.stars")
	}
	if cfg.Admin.APIKey != "" && len(cfg.Admin.JWTSecret) < 16 {
		return errors.New("admin.jwt_secret must be at least 16 bytes when admin.api_key is set")
	}
	return nil
}

func normalizeTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Hour
	}
	return d
}
