// Package config loads storefront settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	r "github.com/fjod/go_cart/storefront/internal/repository"
	"github.com/fjod/go_cart/storefront/internal/service"
	"github.com/fjod/go_cart/storefront/pkg/telemetry"
	"github.com/shopspring/decimal"
)

const (
	StorageDriverPostgres = "postgres"
	StorageDriverMemory   = "memory"
)

type Config struct {
	HTTPPort        string
	GRPCPort        string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	LogLevel        string

	StorageDriver string
	DB            r.Credentials

	// RedisAddr empty disables the settings cache.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	SettingsTTL   time.Duration

	// KafkaBrokers empty disables publishing and the payment consumer.
	KafkaBrokers       []string
	NotificationsTopic string
	PaymentsTopic      string
	PaymentsGroupID    string

	DefaultSettings domain.Settings
	Checkout        service.CheckoutOptions
	AdminToken      string

	Telemetry telemetry.Config
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getList(key, defaultValue string) []string {
	var out []string
	for _, v := range strings.Split(getEnv(key, defaultValue), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// Load reads the environment. Invalid numeric values are reported rather
// than silently replaced with defaults.
func Load() (*Config, error) {
	var errs []string
	intVar := func(key, def string) int {
		v, err := strconv.Atoi(getEnv(key, def))
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid %s: %v", key, err))
		}
		return v
	}
	durationVar := func(key, def string) time.Duration {
		v, err := time.ParseDuration(getEnv(key, def))
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid %s: %v", key, err))
		}
		return v
	}
	decimalVar := func(key, def string) decimal.Decimal {
		v, err := decimal.NewFromString(getEnv(key, def))
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid %s: %v", key, err))
		} else if v.IsNegative() {
			errs = append(errs, fmt.Sprintf("invalid %s: must not be negative", key))
		}
		return v
	}
	floatVar := func(key, def string) float64 {
		v, err := strconv.ParseFloat(getEnv(key, def), 64)
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid %s: %v", key, err))
		}
		return v
	}

	cfg := &Config{
		HTTPPort:        getEnv("HTTP_PORT", "8080"),
		GRPCPort:        getEnv("GRPC_PORT", "50060"),
		RequestTimeout:  durationVar("REQUEST_TIMEOUT", "30s"),
		ShutdownTimeout: durationVar("SHUTDOWN_TIMEOUT", "10s"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),

		StorageDriver: getEnv("STORAGE_DRIVER", StorageDriverPostgres),
		DB: r.Credentials{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              intVar("DB_PORT", "5432"),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", "postgres"),
			DBName:            getEnv("DB_NAME", "ecommerce"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MigrationsDirPath: getEnv("MIGRATIONS_PATH", "./internal/repository/migrations"),
		},

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       intVar("REDIS_DB", "0"),
		SettingsTTL:   durationVar("SETTINGS_CACHE_TTL", "1m"),

		KafkaBrokers:       getList("KAFKA_BROKERS", ""),
		NotificationsTopic: getEnv("KAFKA_NOTIFICATIONS_TOPIC", "order-notifications"),
		PaymentsTopic:      getEnv("KAFKA_PAYMENTS_TOPIC", "payment-events"),
		PaymentsGroupID:    getEnv("KAFKA_PAYMENTS_GROUP", "storefront"),

		DefaultSettings: domain.Settings{
			TaxRate:               decimalVar("DEFAULT_TAX_RATE", "0"),
			FreeShippingThreshold: decimalVar("DEFAULT_FREE_SHIPPING_THRESHOLD", "0"),
			FlatShippingCost:      decimalVar("DEFAULT_FLAT_SHIPPING_COST", "0"),
			Currency:              getEnv("DEFAULT_CURRENCY", "USD"),
		},
		Checkout: service.CheckoutOptions{
			ShippingMethods: getList("SHIPPING_METHODS", "standard,express"),
			PaymentMethods:  getList("PAYMENT_METHODS", "card,paypal"),
		},
		AdminToken: getEnv("ADMIN_TOKEN", ""),

		Telemetry: telemetry.Config{
			Enabled:     getEnv("OTEL_ENABLED", "false") == "true",
			ServiceName: getEnv("OTEL_SERVICE_NAME", "storefront"),
			Environment: getEnv("ENVIRONMENT", "development"),
			Endpoint:    getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			SampleRatio: floatVar("OTEL_SAMPLE_RATIO", "1"),
		},
	}

	switch cfg.StorageDriver {
	case StorageDriverPostgres, StorageDriverMemory:
	default:
		errs = append(errs, fmt.Sprintf("invalid STORAGE_DRIVER %q", cfg.StorageDriver))
	}
	if len(cfg.Checkout.ShippingMethods) == 0 || len(cfg.Checkout.PaymentMethods) == 0 {
		errs = append(errs, "SHIPPING_METHODS and PAYMENT_METHODS must not be empty")
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}
