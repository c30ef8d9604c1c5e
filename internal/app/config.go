package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/xenking/feast/internal/domain/pricing"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the complete application configuration, loadable from
// environment variables (FEAST_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address" validate:"required"`
	DatabaseURL string `usage:"PostgreSQL connection URL (FEAST_DATABASE_URL or DATABASE_URL)" flag:"database-url" validate:"required"`
	Redis       RedisConfig
	Rabbit      RabbitConfig
	Gateway     GatewayConfig
	Pricing     PricingConfig
	Auth        AuthConfig
	Jobs        JobsConfig
	RateLimit   RateLimitConfig
	CORS        CORSConfig
	Graceful    GracefulConfig
}

// RedisConfig enables the cross-instance payment finalization lock. Without
// a URL the lock is process-local.
type RedisConfig struct {
	URL string `usage:"Redis URL for distributed locks (FEAST_REDIS_URL or REDIS_URL)" flag:"redis-url" validate:"omitempty,url"`
}

// RabbitConfig enables publishing order status events.
type RabbitConfig struct {
	URL      string `usage:"AMQP URL for order events; empty disables publishing" flag:"rabbit-url" validate:"omitempty,url"`
	Exchange string `default:"feast.orders" usage:"Topic exchange for order events"`
}

// GatewayConfig holds payment gateway credentials.
type GatewayConfig struct {
	BaseURL  string        `usage:"Payment gateway API base URL" flag:"gateway-url" validate:"required,url"`
	KeyID    string        `usage:"Payment gateway key id" validate:"required"`
	Secret   string        `usage:"Payment gateway secret, also signs payment callbacks" validate:"required"`
	Currency string        `default:"INR" usage:"ISO currency code charged" validate:"len=3,uppercase"`
	Timeout  time.Duration `default:"10s" usage:"Gateway request timeout"`
	LockTTL  time.Duration `default:"30s" usage:"Payment finalization lock lifetime" flag:"payment-lock-ttl"`
}

// PricingConfig sets the platform tax and delivery fee policy.
type PricingConfig struct {
	TaxRate               string `default:"5" usage:"Tax percentage applied to the subtotal" validate:"numeric"`
	DeliveryFee           string `default:"40" usage:"Flat delivery fee" validate:"numeric"`
	FreeDeliveryThreshold string `default:"0" usage:"Subtotal at which delivery becomes free; 0 disables" validate:"numeric"`
}

// AuthConfig holds authentication secrets.
type AuthConfig struct {
	JWTSecret    string `usage:"HS256 secret for customer bearer tokens" flag:"jwt-secret" validate:"required,min=32"`
	Issuer       string `usage:"Expected token issuer; empty skips the check"`
	Audience     string `usage:"Expected token audience; empty skips the check"`
	APIKeyPepper string `usage:"HMAC pepper for API key hashing (FEAST_AUTH_API_KEY_PEPPER)" flag:"api-key-pepper" validate:"required"`
}

// JobsConfig controls background jobs.
type JobsConfig struct {
	CheckoutTTL   time.Duration `default:"30m" usage:"Unpaid checkouts older than this are abandoned" flag:"checkout-ttl" validate:"gt=0"`
	SweepInterval time.Duration `default:"1m" usage:"How often abandoned checkouts are swept" flag:"sweep-interval" validate:"gt=0"`
}

// RateLimitConfig controls the per-client token bucket rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window" validate:"gt=0"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration" validate:"gt=0"`
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
		EnvPrefix: "FEAST",
		Files:     []string{"config.yaml", "/etc/feast/config.yaml"},
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

// Validate checks field constraints.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return errors.Wrap(err, "invalid config")
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's FEAST_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if c.Redis.URL == "" {
		c.Redis.URL = os.Getenv("REDIS_URL")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}

// Policies builds the pricing policies described by the config.
func (p PricingConfig) Policies() (pricing.PercentageTax, pricing.ThresholdDeliveryFee, error) {
	rate, err := decimal.NewFromString(p.TaxRate)
	if err != nil {
		return pricing.PercentageTax{}, pricing.ThresholdDeliveryFee{}, errors.Wrap(err, "tax rate")
	}
	fee, err := decimal.NewFromString(p.DeliveryFee)
	if err != nil {
		return pricing.PercentageTax{}, pricing.ThresholdDeliveryFee{}, errors.Wrap(err, "delivery fee")
	}
	threshold, err := decimal.NewFromString(p.FreeDeliveryThreshold)
	if err != nil {
		return pricing.PercentageTax{}, pricing.ThresholdDeliveryFee{}, errors.Wrap(err, "free delivery threshold")
	}
	if rate.IsNegative() || fee.IsNegative() || threshold.IsNegative() {
		return pricing.PercentageTax{}, pricing.ThresholdDeliveryFee{}, errors.New("pricing values must not be negative")
	}
	return pricing.PercentageTax{Rate: rate}, pricing.ThresholdDeliveryFee{Amount: fee, FreeAbove: threshold}, nil
}
