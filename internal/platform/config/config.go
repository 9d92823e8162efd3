package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	defaultEnvFile          = ".env"
	defaultPort             = "8080"
	defaultReadTimeout      = 15 * time.Second
	defaultWriteTimeout     = 30 * time.Second
	defaultIdleTimeout      = 120 * time.Second
	defaultMaxOpenConns     = 25
	defaultMaxIdleConns     = 5
	defaultConnMaxLifetime  = 30 * time.Minute
	defaultOrderEventsTopic = "order-events"
	defaultNotifyTopic      = "notifications"
	defaultRateLimitPerMin  = 120
	defaultCurrency         = "USD"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Events     EventsConfig
	Pricing    PricingConfig
	Payments   PaymentsConfig
	Loyalty    LoyaltyConfig
	RateLimits RateLimitConfig
	Features   FeatureFlags
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DatabaseConfig stores the Postgres connection settings.
type DatabaseConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	AutoMigrate     bool
	LogSQL          bool
}

// EventsConfig describes the Kafka broker list and topic layout. An empty
// broker list disables publishing.
type EventsConfig struct {
	Brokers            []string
	OrderEventsTopic   string
	NotificationsTopic string
}

// Enabled reports whether event publishing is configured.
func (c EventsConfig) Enabled() bool {
	return len(c.Brokers) > 0
}

// PricingConfig carries the tunable pricing knobs.
type PricingConfig struct {
	Currency                string
	TaxRate                 decimal.Decimal
	FreeShippingSaleMinimum decimal.Decimal
}

// PaymentsConfig carries the marketplace fee rates applied at settlement.
type PaymentsConfig struct {
	PlatformFeeRate   decimal.Decimal
	ProcessingFeeRate decimal.Decimal
}

// LoyaltyConfig carries the rewards program knobs.
type LoyaltyConfig struct {
	PointsPerUnit        int
	CurrencyUnitsPerSlab int
	RedemptionCost       int
}

// RateLimitConfig controls request throttling.
type RateLimitConfig struct {
	DefaultPerMinute int
}

// FeatureFlags toggle optional behaviour without redeploying.
type FeatureFlags struct {
	EnableCoupons bool
	EnableLoyalty bool
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment lookups. Values
// in the map take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from os.Getenv, relying only on provided maps and .env files.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// Load assembles the application configuration by combining defaults, .env
// overrides, and environment variables.
func Load(opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}

	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if options.envMap != nil {
			if value, ok := options.envMap[key]; ok {
				return value, true
			}
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		if dotEnvValues != nil {
			if value, ok := dotEnvValues[key]; ok {
				return value, true
			}
		}
		return "", false
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         stringWithDefault(lookup, "API_SERVER_PORT", defaultPort),
			ReadTimeout:  durationWithDefault(lookup, "API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: durationWithDefault(lookup, "API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  durationWithDefault(lookup, "API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Database: DatabaseConfig{
			DSN:             stringWithDefault(lookup, "API_DATABASE_DSN", ""),
			MaxOpenConns:    intWithDefault(lookup, "API_DATABASE_MAX_OPEN_CONNS", defaultMaxOpenConns),
			MaxIdleConns:    intWithDefault(lookup, "API_DATABASE_MAX_IDLE_CONNS", defaultMaxIdleConns),
			ConnMaxLifetime: durationWithDefault(lookup, "API_DATABASE_CONN_MAX_LIFETIME", defaultConnMaxLifetime),
			AutoMigrate:     boolWithDefault(lookup, "API_DATABASE_AUTO_MIGRATE", false),
			LogSQL:          boolWithDefault(lookup, "API_DATABASE_LOG_SQL", false),
		},
		Events: EventsConfig{
			Brokers:            csvWithDefault(lookup, "API_KAFKA_BROKERS"),
			OrderEventsTopic:   stringWithDefault(lookup, "API_KAFKA_ORDER_EVENTS_TOPIC", defaultOrderEventsTopic),
			NotificationsTopic: stringWithDefault(lookup, "API_KAFKA_NOTIFICATIONS_TOPIC", defaultNotifyTopic),
		},
		Pricing: PricingConfig{
			Currency:                stringWithDefault(lookup, "API_PRICING_CURRENCY", defaultCurrency),
			TaxRate:                 decimalWithDefault(lookup, "API_PRICING_TAX_RATE", decimal.NewFromFloat(0.025)),
			FreeShippingSaleMinimum: decimalWithDefault(lookup, "API_PRICING_FREE_SHIPPING_SALE_MIN", decimal.NewFromInt(30)),
		},
		Payments: PaymentsConfig{
			PlatformFeeRate:   decimalWithDefault(lookup, "API_PAYMENTS_PLATFORM_FEE_RATE", decimal.NewFromFloat(0.035)),
			ProcessingFeeRate: decimalWithDefault(lookup, "API_PAYMENTS_PROCESSING_FEE_RATE", decimal.NewFromFloat(0.02)),
		},
		Loyalty: LoyaltyConfig{
			PointsPerUnit:        intWithDefault(lookup, "API_LOYALTY_POINTS_PER_UNIT", 10),
			CurrencyUnitsPerSlab: intWithDefault(lookup, "API_LOYALTY_CURRENCY_UNITS_PER_SLAB", 30),
			RedemptionCost:       intWithDefault(lookup, "API_LOYALTY_REDEMPTION_COST", 100),
		},
		RateLimits: RateLimitConfig{
			DefaultPerMinute: intWithDefault(lookup, "API_RATELIMIT_DEFAULT_PER_MIN", defaultRateLimitPerMin),
		},
		Features: FeatureFlags{
			EnableCoupons: boolWithDefault(lookup, "API_FEATURE_COUPONS", true),
			EnableLoyalty: boolWithDefault(lookup, "API_FEATURE_LOYALTY", true),
		},
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func validateConfig(cfg Config) error {
	var missing []string

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	if strings.TrimSpace(cfg.Database.DSN) == "" {
		missing = append(missing, "Database.DSN")
	}
	if cfg.Pricing.TaxRate.IsNegative() {
		missing = append(missing, "Pricing.TaxRate")
	}
	if cfg.Payments.PlatformFeeRate.IsNegative() {
		missing = append(missing, "Payments.PlatformFeeRate")
	}
	if cfg.Payments.ProcessingFeeRate.IsNegative() {
		missing = append(missing, "Payments.ProcessingFeeRate")
	}
	if cfg.Loyalty.PointsPerUnit <= 0 {
		missing = append(missing, "Loyalty.PointsPerUnit")
	}
	if cfg.Loyalty.CurrencyUnitsPerSlab <= 0 {
		missing = append(missing, "Loyalty.CurrencyUnitsPerSlab")
	}
	if cfg.Events.Enabled() {
		if strings.TrimSpace(cfg.Events.OrderEventsTopic) == "" {
			missing = append(missing, "Events.OrderEventsTopic")
		}
		if strings.TrimSpace(cfg.Events.NotificationsTopic) == "" {
			missing = append(missing, "Events.NotificationsTopic")
		}
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	file, err := os.Open(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	values := make(map[string]string)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "export ") {
			line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if key == "" {
			continue
		}
		value = strings.Trim(value, "\"'")
		values[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && value != "" {
		return value
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		d, err := time.ParseDuration(value)
		if err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func boolWithDefault(lookup func(string) (string, bool), key string, fallback bool) bool {
	if value, ok := lookup(key); ok && value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return fallback
}

func csvWithDefault(lookup func(string) (string, bool), key string) []string {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func decimalWithDefault(lookup func(string) (string, bool), key string, fallback decimal.Decimal) decimal.Decimal {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		if parsed, err := decimal.NewFromString(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return fallback
}
