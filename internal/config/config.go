package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"

	"posdesk/backend/internal/domain"
)

type Config struct {
	Port          string `envconfig:"PORT" default:"8080"`
	AllowedOrigin string `envconfig:"ALLOWED_ORIGIN" default:"http://127.0.0.1:3000"`
	LogFormat     string `envconfig:"LOG_FORMAT" default:"text"`

	DatabaseURL  string `envconfig:"DATABASE_URL"`
	SnapshotPath string `envconfig:"SNAPSHOT_PATH" default:"data/posdesk.json"`

	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	AuthSecret string `envconfig:"AUTH_SECRET"`
	ManagerPIN string `envconfig:"MANAGER_PIN"`

	DefaultCurrency string `envconfig:"DEFAULT_CURRENCY" default:"IQD"`
	USDRate         string `envconfig:"USD_RATE" default:"1"`
	IQDRate         string `envconfig:"IQD_RATE" default:"1310"`

	ReportCacheTTL time.Duration `envconfig:"REPORT_CACHE_TTL" default:"30s"`
	DraftSweepSpec string        `envconfig:"DRAFT_SWEEP_SPEC" default:"@every 1h"`
	DraftMaxAge    time.Duration `envconfig:"DRAFT_MAX_AGE" default:"24h"`
	LockTTL        time.Duration `envconfig:"LOCK_TTL" default:"15s"`
}

// Load reads an optional .env file and then the process environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, err
	}
	cfg.AuthSecret = strings.TrimSpace(cfg.AuthSecret)
	cfg.ManagerPIN = strings.TrimSpace(cfg.ManagerPIN)
	cfg.DefaultCurrency = strings.ToUpper(strings.TrimSpace(cfg.DefaultCurrency))

	if _, err := cfg.Currency(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

// Currency parses the configured exchange rates.
func (c Config) Currency() (domain.CurrencySettings, error) {
	usd, err := decimal.NewFromString(c.USDRate)
	if err != nil || !usd.IsPositive() {
		return domain.CurrencySettings{}, fmt.Errorf("USD_RATE must be a positive number")
	}
	iqd, err := decimal.NewFromString(c.IQDRate)
	if err != nil || !iqd.IsPositive() {
		return domain.CurrencySettings{}, fmt.Errorf("IQD_RATE must be a positive number")
	}
	return domain.CurrencySettings{
		DefaultCurrency: c.DefaultCurrency,
		USDRate:         usd,
		IQDRate:         iqd,
	}, nil
}

// StaticCurrency serves fixed currency defaults read at boot.
type StaticCurrency struct {
	Settings domain.CurrencySettings
}

func (s StaticCurrency) Defaults(_ context.Context) (domain.CurrencySettings, error) {
	return s.Settings, nil
}

func NewLogger(cfg Config) *slog.Logger {
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{AddSource: true}))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{AddSource: true}))
}
