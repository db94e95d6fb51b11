// Package config loads runtime configuration from the environment, an
// optional .env file and an optional YAML rates file.
package config

import (
	stderrors "errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"

	"github.com/devbridge/marketplace/internal/app/services/commission"
	"github.com/devbridge/marketplace/pkg/logger"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"

	LeadStorePrimary  = "primary"
	LeadStoreSupabase = "supabase"
)

// Config is the full runtime configuration.
type Config struct {
	Server   ServerConfig
	Store    StoreConfig
	Database DatabaseConfig
	Supabase SupabaseConfig
	Redis    RedisConfig
	NATS     NATSConfig
	Webhook  WebhookConfig
	Payments PaymentsConfig
	Auth     AuthConfig
	Logging  logger.LoggingConfig
	Engine   EngineConfig
}

type ServerConfig struct {
	Addr            string        `env:"HTTP_ADDR,default=:8080"`
	ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT,default=15s"`
	WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT,default=30s"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT,default=20s"`
	CORSOrigins     string        `env:"HTTP_CORS_ORIGINS"`
}

// AllowedOrigins splits CORSOrigins on commas.
func (s ServerConfig) AllowedOrigins() []string {
	return splitList(s.CORSOrigins)
}

type StoreConfig struct {
	Backend   string `env:"STORE_BACKEND,default=memory"`
	LeadStore string `env:"LEAD_STORE,default=primary"`
}

type DatabaseConfig struct {
	DSN             string        `env:"DATABASE_URL"`
	MaxOpenConns    int           `env:"DATABASE_MAX_OPEN_CONNS,default=20"`
	MaxIdleConns    int           `env:"DATABASE_MAX_IDLE_CONNS,default=5"`
	ConnMaxLifetime time.Duration `env:"DATABASE_CONN_MAX_LIFETIME,default=30m"`
	AutoMigrate     bool          `env:"DATABASE_AUTO_MIGRATE,default=false"`
}

type SupabaseConfig struct {
	URL        string        `env:"SUPABASE_URL"`
	ServiceKey string        `env:"SUPABASE_SERVICE_ROLE_KEY"`
	Timeout    time.Duration `env:"SUPABASE_TIMEOUT,default=10s"`
}

type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB,default=0"`
}

type NATSConfig struct {
	URL           string `env:"NATS_URL"`
	SubjectPrefix string `env:"NATS_SUBJECT_PREFIX,default=marketplace"`
}

type WebhookConfig struct {
	URL     string        `env:"NOTIFY_WEBHOOK_URL"`
	Token   string        `env:"NOTIFY_WEBHOOK_TOKEN"`
	Timeout time.Duration `env:"NOTIFY_WEBHOOK_TIMEOUT,default=5s"`
}

type PaymentsConfig struct {
	BaseURL        string        `env:"PAYMENT_GATEWAY_URL"`
	APIKey         string        `env:"PAYMENT_GATEWAY_API_KEY"`
	CallbackSecret string        `env:"PAYMENT_CALLBACK_SECRET"`
	CallbackURL    string        `env:"PAYMENT_CALLBACK_URL"`
	Currency       string        `env:"PAYMENT_CURRENCY,default=USD"`
	Timeout        time.Duration `env:"PAYMENT_GATEWAY_TIMEOUT,default=10s"`
}

// Sandbox reports whether deposits use the local sandbox gateway.
func (p PaymentsConfig) Sandbox() bool { return p.BaseURL == "" }

type AuthConfig struct {
	JWTSecret          string  `env:"AUTH_JWT_SECRET"`
	ClaimRatePerSecond float64 `env:"CLAIM_RATE_PER_SECOND,default=2"`
	ClaimBurst         int     `env:"CLAIM_RATE_BURST,default=5"`
}

// EngineConfig holds the business constants. Rates is filled from
// RatesFile when one is configured and from the defaults otherwise.
type EngineConfig struct {
	RatesFile         string        `env:"ENGINE_RATES_FILE"`
	CapBps            int64         `env:"ENGINE_CAP_BPS,default=3500"`
	LeadCapacity      int           `env:"ENGINE_LEAD_CAPACITY,default=3"`
	MatchLimit        int           `env:"ENGINE_MATCH_LIMIT,default=5"`
	IdempotencyTTL    time.Duration `env:"IDEMPOTENCY_TTL,default=24h"`
	PoolStatsSchedule string        `env:"POOL_STATS_SCHEDULE,default=@every 1m"`

	Rates commission.RateTable
}

// Load reads envFile when it exists, decodes the environment, applies the
// rates file and validates the result.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !stderrors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !stderrors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	cfg.Engine.Rates = commission.DefaultRates()

	if cfg.Engine.RatesFile != "" {
		file, err := LoadRatesFile(cfg.Engine.RatesFile)
		if err != nil {
			return nil, err
		}
		file.Apply(&cfg.Engine)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() {
	c.Store.Backend = strings.ToLower(strings.TrimSpace(c.Store.Backend))
	c.Store.LeadStore = strings.ToLower(strings.TrimSpace(c.Store.LeadStore))
	c.Supabase.URL = strings.TrimRight(strings.TrimSpace(c.Supabase.URL), "/")
}

// Validate reports the first configuration error.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_BACKEND=postgres")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.Store.Backend)
	}

	switch c.Store.LeadStore {
	case LeadStorePrimary:
	case LeadStoreSupabase:
		if c.Supabase.URL == "" || c.Supabase.ServiceKey == "" {
			return fmt.Errorf("SUPABASE_URL and SUPABASE_SERVICE_ROLE_KEY are required when LEAD_STORE=supabase")
		}
	default:
		return fmt.Errorf("unknown LEAD_STORE %q", c.Store.LeadStore)
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("AUTH_JWT_SECRET is required")
	}
	if !c.Payments.Sandbox() && c.Payments.CallbackSecret == "" {
		return fmt.Errorf("PAYMENT_CALLBACK_SECRET is required with a real payment gateway")
	}
	return c.Engine.Validate()
}

// Validate checks business constants.
func (e EngineConfig) Validate() error {
	if e.CapBps <= 0 || e.CapBps > commission.BasisPoints {
		return fmt.Errorf("cap must be within (0, %d] basis points, got %d", commission.BasisPoints, e.CapBps)
	}
	if e.LeadCapacity <= 0 {
		return fmt.Errorf("lead capacity must be positive, got %d", e.LeadCapacity)
	}
	if e.MatchLimit <= 0 {
		return fmt.Errorf("match limit must be positive, got %d", e.MatchLimit)
	}
	if len(e.Rates) == 0 {
		return fmt.Errorf("rate table is empty")
	}
	for tier, r := range e.Rates {
		if r.OverrideBps > 0 && r.DirectBps == 0 {
			return fmt.Errorf("tier %s: override without a direct rate", tier)
		}
	}
	return nil
}

// Calculator builds the commission calculator for these constants.
func (e EngineConfig) Calculator() (*commission.Calculator, error) {
	return commission.New(e.Rates, e.CapBps)
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
