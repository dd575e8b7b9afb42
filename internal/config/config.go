package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	Port          string
	PublicBaseURL string
	Env           string
	LogLevel      string
	DatabaseURL   string
	DBTxTimeout   time.Duration
	MaxDBConns    int
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// Payment processor
	StripeSecretKey     string
	StripeWebhookSecret string
	StripeAPIURL        string
	CheckoutSuccessURL  string
	CheckoutCancelURL   string
	Currency            string
	AllowFakePayments   bool

	// Reservation TTLs
	ImmediateTTL          time.Duration
	DelayedTTL            time.Duration
	DelayedPaymentMethods []string

	// Gateway retry policy
	GatewayMaxAttempts    int
	GatewayBaseDelay      time.Duration
	GatewayMaxDelay       time.Duration
	GatewayAttemptTimeout time.Duration
	RefundTimeout         time.Duration

	// Checkout velocity guard
	CheckoutMaxPerContact int
	CheckoutWindow        time.Duration

	// Background work
	SweepSchedule     string
	OutboxInterval    time.Duration
	OutboxBatchSize   int
	OutboxMaxAttempts int

	// Collaborators
	CalendarBaseURL  string
	CalendarAPIToken string
	NotifyQueueURL   string

	// SendGrid Email Configuration
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string
	SESFromEmail      string

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	AdminJWTSecret     string
	RateLimitRPS       float64
	RateLimitBurst     int
	CORSAllowedOrigins []string
}

// Load reads configuration from environment variables, after merging an
// optional .env file (existing variables win).
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Port:          getEnv("PORT", "8080"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", ""),
		Env:           getEnv("ENV", "development"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		DBTxTimeout:   getEnvAsDuration("DB_TX_TIMEOUT", 5*time.Second),
		MaxDBConns:    getEnvAsInt("DB_MAX_CONNS", 10),
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		StripeSecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
		StripeAPIURL:        getEnv("STRIPE_API_URL", ""),
		CheckoutSuccessURL:  getEnv("CHECKOUT_SUCCESS_URL", ""),
		CheckoutCancelURL:   getEnv("CHECKOUT_CANCEL_URL", ""),
		Currency:            strings.ToLower(getEnv("CURRENCY", "usd")),
		AllowFakePayments:   getEnvAsBool("ALLOW_FAKE_PAYMENTS", false),

		ImmediateTTL:          getEnvAsDuration("IMMEDIATE_TTL", 30*time.Minute),
		DelayedTTL:            getEnvAsDuration("DELAYED_TTL", 7*24*time.Hour),
		DelayedPaymentMethods: getEnvAsList("DELAYED_PAYMENT_METHODS", []string{"oxxo", "boleto", "konbini", "customer_balance", "sepa_debit", "us_bank_account", "bacs_debit"}),

		GatewayMaxAttempts:    getEnvAsInt("GATEWAY_MAX_ATTEMPTS", 4),
		GatewayBaseDelay:      getEnvAsDuration("GATEWAY_BASE_DELAY", 200*time.Millisecond),
		GatewayMaxDelay:       getEnvAsDuration("GATEWAY_MAX_DELAY", 5*time.Second),
		GatewayAttemptTimeout: getEnvAsDuration("GATEWAY_ATTEMPT_TIMEOUT", 10*time.Second),
		RefundTimeout:         getEnvAsDuration("REFUND_TIMEOUT", 30*time.Second),

		CheckoutMaxPerContact: getEnvAsInt("CHECKOUT_MAX_PER_CONTACT", 5),
		CheckoutWindow:        getEnvAsDuration("CHECKOUT_WINDOW", time.Hour),

		SweepSchedule:     getEnv("SWEEP_SCHEDULE", "@every 1m"),
		OutboxInterval:    getEnvAsDuration("OUTBOX_INTERVAL", 2*time.Second),
		OutboxBatchSize:   getEnvAsInt("OUTBOX_BATCH_SIZE", 25),
		OutboxMaxAttempts: getEnvAsInt("OUTBOX_MAX_ATTEMPTS", 8),

		CalendarBaseURL:  getEnv("CALENDAR_BASE_URL", ""),
		CalendarAPIToken: getEnv("CALENDAR_API_TOKEN", ""),
		NotifyQueueURL:   getEnv("NOTIFY_QUEUE_URL", ""),

		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "Bookings"),
		SESFromEmail:      getEnv("SES_FROM_EMAIL", ""),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		AdminJWTSecret:     getEnv("ADMIN_JWT_SECRET", ""),
		RateLimitRPS:       getEnvAsFloat("RATE_LIMIT_RPS", 10),
		RateLimitBurst:     getEnvAsInt("RATE_LIMIT_BURST", 20),
		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", nil),
	}
}

// Validate reports configuration that would leave the core unable to run.
func (c *Config) Validate() error {
	var missing []string
	if strings.TrimSpace(c.DatabaseURL) == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if !c.AllowFakePayments {
		if c.StripeSecretKey == "" {
			missing = append(missing, "STRIPE_SECRET_KEY")
		}
		if c.StripeWebhookSecret == "" {
			missing = append(missing, "STRIPE_WEBHOOK_SECRET")
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("config: missing required settings: %s", strings.Join(missing, ", "))
	}
	if c.AllowFakePayments && c.IsProduction() {
		return fmt.Errorf("config: ALLOW_FAKE_PAYMENTS cannot be enabled in production")
	}
	if c.ImmediateTTL <= 0 || c.DelayedTTL < c.ImmediateTTL {
		return fmt.Errorf("config: DELAYED_TTL (%s) must be >= IMMEDIATE_TTL (%s) > 0", c.DelayedTTL, c.ImmediateTTL)
	}
	return nil
}

// IsProduction reports whether ENV names a production deployment.
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Env))
	return env == "production" || env == "prod"
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma separated value, dropping blanks.
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.ToLower(strings.TrimSpace(part)); part != "" {
			out = append(out, part)
		}
	}
	return out
}
