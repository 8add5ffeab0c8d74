package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Config holds the complete application configuration, loadable from
// environment variables (KART_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (KART_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	Backend     BackendConfig
	Processor   ProcessorConfig
	Pricing     PricingConfig
	Checkout    CheckoutConfig
	Session     SessionConfig
	Menu        MenuConfig
	Kafka       KafkaConfig
	Receipts    ReceiptsConfig
	RateLimit   RateLimitConfig
	CORS        CORSConfig
	Graceful    GracefulConfig
}

// BackendConfig points at the storefront backend.
type BackendConfig struct {
	URL     string        `default:"http://localhost:4000" usage:"Storefront backend base URL" flag:"backend-url"`
	Timeout time.Duration `default:"10s" usage:"Per-request backend timeout" flag:"backend-timeout"`
}

// ProcessorConfig points at the payment processor.
type ProcessorConfig struct {
	URL     string        `default:"https://api.stripe.com" usage:"Payment processor base URL" flag:"processor-url"`
	APIKey  string        `usage:"Payment processor API key (KART_PROCESSOR_APIKEY)" flag:"processor-api-key"`
	Timeout time.Duration `default:"15s" usage:"Per-request processor timeout" flag:"processor-timeout"`
}

// PricingConfig holds the fee schedule. Amounts are decimal strings.
type PricingConfig struct {
	DeliveryFee string `default:"2.00" usage:"Flat delivery fee for non-empty carts" flag:"delivery-fee"`
	TaxRate     string `default:"0.08" usage:"Tax rate applied to the subtotal" flag:"tax-rate"`
	Currency    string `default:"usd" usage:"Payment intent currency"`
}

// CheckoutConfig controls the checkout state machine.
type CheckoutConfig struct {
	CallTimeout      time.Duration `default:"15s" usage:"Bound on each payment or submission call" flag:"checkout-call-timeout"`
	ClearGrace       time.Duration `default:"2s" usage:"Delay before the cart is cleared after confirmation" flag:"checkout-clear-grace"`
	AuthorizationTTL time.Duration `default:"10m" usage:"How long a card authorization may be reused on retry" flag:"authorization-ttl"`
	DeliveryWindow   string        `default:"25-35 minutes" usage:"Estimated delivery window shown on confirmation"`
}

// SessionConfig controls storefront sessions.
type SessionConfig struct {
	Pepper  string        `usage:"HMAC pepper for session token hashing (KART_SESSION_PEPPER)" flag:"session-pepper"`
	IdleTTL time.Duration `default:"30m" usage:"Evict idle sessions after this long" flag:"session-idle-ttl"`
}

// MenuConfig controls the catalog cache.
type MenuConfig struct {
	RefreshInterval time.Duration `default:"5m" usage:"Menu refresh interval" flag:"menu-refresh"`
}

// KafkaConfig controls checkout event publishing.
type KafkaConfig struct {
	Enabled bool     `default:"false" usage:"Publish checkout events to Kafka" flag:"kafka-enabled"`
	Brokers []string `default:"localhost:9092" usage:"Kafka brokers"`
	Topic   string   `default:"kart.checkout.events" usage:"Checkout events topic"`
}

// ReceiptsConfig controls receipt archiving.
type ReceiptsConfig struct {
	Enabled  bool   `default:"false" usage:"Archive confirmation receipts to S3" flag:"receipts-enabled"`
	Bucket   string `usage:"Receipt bucket"`
	Prefix   string `default:"receipts" usage:"Receipt key prefix"`
	Region   string `usage:"Receipt bucket region"`
	Endpoint string `usage:"S3-compatible endpoint override"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "KART",
		Files:     []string{"config.yaml", "/etc/kart/config.yaml"},
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

// Validate checks settings that have no usable default.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database URL is required: set KART_DATABASE_URL or DATABASE_URL")
	}
	if c.Backend.URL == "" {
		return errors.New("backend URL is required")
	}
	if _, err := decimal.NewFromString(c.Pricing.DeliveryFee); err != nil {
		return errors.Wrap(err, "parse delivery fee")
	}
	if _, err := decimal.NewFromString(c.Pricing.TaxRate); err != nil {
		return errors.Wrap(err, "parse tax rate")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return errors.New("kafka brokers are required when kafka is enabled")
	}
	if c.Receipts.Enabled && c.Receipts.Bucket == "" {
		return errors.New("receipt bucket is required when receipts are enabled")
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's KART_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
