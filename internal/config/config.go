package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	env "github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	DatabaseURL        string `env:"DATABASE_URL,required"`
	ServiceTokenSecret string `env:"SERVICE_TOKEN_SECRET,required"`
	Port               int    `env:"PORT" envDefault:"8080"`
	LogLevel           string `env:"LOG_LEVEL" envDefault:"info"`
	AppEnv             string `env:"APP_ENV" envDefault:"production"`

	// Empty admits any service holding a valid token.
	AllowedServices []string `env:"ALLOWED_SERVICES" envSeparator:","`

	PlatformFeePct        decimal.Decimal `env:"PLATFORM_FEE_PCT" envDefault:"0.10"`
	ReferralCommissionPct decimal.Decimal `env:"REFERRAL_COMMISSION_PCT" envDefault:"0.10"`
	AgentCommissionPct    decimal.Decimal `env:"AGENT_COMMISSION_PCT" envDefault:"0.20"`
	ClearingWindow        time.Duration   `env:"CLEARING_WINDOW" envDefault:"168h"`
	SettlementCurrency    string          `env:"SETTLEMENT_CURRENCY" envDefault:"GBP"`

	RabbitMQURL         string        `env:"RABBITMQ_URL"`
	SettlementExchange  string        `env:"SETTLEMENT_EXCHANGE" envDefault:"settlement_events"`
	OutboxPollInterval  time.Duration `env:"OUTBOX_POLL_INTERVAL" envDefault:"2s"`
	OutboxBatchSize     int           `env:"OUTBOX_BATCH_SIZE" envDefault:"50"`
	OutboxMaxAttempts   int           `env:"OUTBOX_MAX_ATTEMPTS" envDefault:"10"`
	OutboxPurgeSchedule string        `env:"OUTBOX_PURGE_SCHEDULE" envDefault:"@daily"`
	OutboxRetention     time.Duration `env:"OUTBOX_RETENTION" envDefault:"720h"`

	DBMaxOpenConns     int `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	DBMaxIdleConns     int `env:"DB_MAX_IDLE_CONNS" envDefault:"10"`
	DBConnMaxLifetimeS int `env:"DB_CONN_MAX_LIFETIME_S" envDefault:"300"`
	DBConnMaxIdleTimeS int `env:"DB_CONN_MAX_IDLE_TIME_S" envDefault:"60"`
}

var ErrInvalidConfig = errors.New("invalid config")

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config.Load: dotenv: %w", err)
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	one := decimal.NewFromInt(1)
	pcts := map[string]decimal.Decimal{
		"PLATFORM_FEE_PCT":        c.PlatformFeePct,
		"REFERRAL_COMMISSION_PCT": c.ReferralCommissionPct,
		"AGENT_COMMISSION_PCT":    c.AgentCommissionPct,
	}
	for name, p := range pcts {
		if p.IsNegative() || p.GreaterThan(one) {
			return fmt.Errorf("%w: %s must be within [0, 1], got %s", ErrInvalidConfig, name, p)
		}
	}

	total := c.PlatformFeePct.Add(c.ReferralCommissionPct).Add(c.AgentCommissionPct)
	if total.GreaterThan(one) {
		return fmt.Errorf("%w: commission percentages sum to %s", ErrInvalidConfig, total)
	}
	if c.ClearingWindow <= 0 {
		return fmt.Errorf("%w: CLEARING_WINDOW must be positive", ErrInvalidConfig)
	}
	switch c.SettlementCurrency {
	case "GBP", "USD", "EUR":
	default:
		return fmt.Errorf("%w: unsupported SETTLEMENT_CURRENCY %q", ErrInvalidConfig, c.SettlementCurrency)
	}
	if c.OutboxBatchSize <= 0 || c.OutboxMaxAttempts <= 0 {
		return fmt.Errorf("%w: outbox batch size and max attempts must be positive", ErrInvalidConfig)
	}
	if c.OutboxPollInterval <= 0 || c.OutboxRetention <= 0 {
		return fmt.Errorf("%w: outbox poll interval and retention must be positive", ErrInvalidConfig)
	}
	return nil
}
