package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"

	"github.com/xenking/bundle-pricing/internal/domain/apportion"
	"github.com/xenking/bundle-pricing/internal/domain/money"
	"github.com/xenking/bundle-pricing/internal/domain/orderline"
)

// Config holds the complete application configuration, loadable from
// environment variables (BUNDLE_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (BUNDLE_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	MaxBodyBytes int64  `default:"1048576" usage:"Maximum request body size in bytes" flag:"max-body-bytes"`
	Pricing      PricingConfig
	Idempotency  IdempotencyConfig
	Graceful     GracefulConfig
}

// IdempotencyConfig controls Idempotency-Key handling on order placement.
// Keys are ignored when RedisURL is empty.
type IdempotencyConfig struct {
	RedisURL string        `usage:"Redis URL for idempotency keys (BUNDLE_IDEMPOTENCY_REDIS_URL or REDIS_URL)" flag:"redis-url"`
	TTL      time.Duration `default:"24h" usage:"How long an idempotency key is remembered"`
}

// PricingConfig controls how carts are materialized.
type PricingConfig struct {
	Currency    string `default:"USD" usage:"Currency for requests that name none"`
	ZeroWeights string `default:"spread" usage:"All-zero constituent weights: spread or reject" flag:"zero-weights"`
	MaxDepth    int    `default:"32" usage:"Maximum bundle nesting depth" flag:"max-depth"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables and YAML
// config files, then validates it.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "BUNDLE",
		Files:     []string{"config.yaml", "/etc/bundle-pricing/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first unusable setting.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database URL is required: set BUNDLE_DATABASE_URL or DATABASE_URL")
	}
	if c.MaxBodyBytes <= 0 {
		return errors.Errorf("max body bytes must be positive, got %d", c.MaxBodyBytes)
	}
	if c.Idempotency.RedisURL != "" && c.Idempotency.TTL <= 0 {
		return errors.Errorf("idempotency TTL must be positive, got %s", c.Idempotency.TTL)
	}
	if _, err := c.Pricing.DefaultCurrency(); err != nil {
		return err
	}
	if _, err := c.Pricing.Options(); err != nil {
		return err
	}
	return nil
}

// Options resolves the default currency and materializer options.
func (p PricingConfig) Options() ([]orderline.Option, error) {
	policy, err := apportion.ParseZeroWeightPolicy(p.ZeroWeights)
	if err != nil {
		return nil, errors.Wrap(err, "pricing zero weights")
	}
	if p.MaxDepth <= 0 {
		return nil, errors.Errorf("pricing max depth must be positive, got %d", p.MaxDepth)
	}
	return []orderline.Option{
		orderline.WithZeroWeightPolicy(policy),
		orderline.WithMaxDepth(p.MaxDepth),
	}, nil
}

// DefaultCurrency resolves the configured currency code.
func (p PricingConfig) DefaultCurrency() (money.Currency, error) {
	cur, err := money.Lookup(p.Currency)
	if err != nil {
		return money.Currency{}, errors.Wrap(err, "pricing currency")
	}
	return cur, nil
}

// applyPlatformDefaults maps DATABASE_URL, REDIS_URL and PORT, as set by
// most hosting platforms, onto the BUNDLE_ configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if c.Idempotency.RedisURL == "" {
		c.Idempotency.RedisURL = os.Getenv("REDIS_URL")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
