package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig
	Store    StoreConfig
	Database DatabaseConfig
	Redis    RedisConfig
	NewRelic NewRelicConfig
	Log      LogConfig
	Fare     FareConfig
	Dispatch DispatchConfig
	Expiry   ExpiryConfig
	Retry    RetryConfig
	Maps     MapsConfig
	Events   EventsConfig
	Stripe   StripeConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Ride store backends.
const (
	StoreBackendPostgres = "postgres"
	StoreBackendMemory   = "memory"
)

// StoreConfig selects the ride store backend.
type StoreConfig struct {
	Backend string
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	Migrate  bool
}

// DSN renders the lib/pq connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int

	// SessionTTL bounds how long a driver session outlives its last write.
	SessionTTL time.Duration
}

// NewRelicConfig holds New Relic configuration.
type NewRelicConfig struct {
	AppName    string
	LicenseKey string
	Enabled    bool
}

// LogConfig holds logger configuration.
type LogConfig struct {
	Level  string
	Format string // json or text
}

// FareConfig holds pricing constants.
type FareConfig struct {
	BaseFare       float64
	PerMile        float64
	MilesPerDegree float64
}

// DispatchConfig controls ride request fan-out.
type DispatchConfig struct {
	Concurrency int
	SendTimeout time.Duration
	RadiusKm    float64 // 0 sends to every available driver
}

// ExpiryConfig controls cancellation of stale pending rides.
type ExpiryConfig struct {
	Enabled    bool
	PendingTTL time.Duration
	Interval   time.Duration
}

// RetryConfig bounds store retries on transient failures.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// MapsConfig holds directions provider settings.
type MapsConfig struct {
	APIKey   string
	Timeout  time.Duration
	CacheTTL time.Duration
}

// EventsConfig selects the outbound event bus: "none", "kafka" or "nsq".
type EventsConfig struct {
	Backend      string
	KafkaBrokers []string
	KafkaTopic   string
	NSQAddr      string
	NSQTopic     string
}

// StripeConfig holds card payment settings.
type StripeConfig struct {
	SecretKey     string
	Currency      string
	PaymentMethod string // stored payment method charged for card rides
}

func setDefaults(v *viper.Viper) {
	defaults := map[string]any{
		"SERVER_PORT":           "8080",
		"SERVER_READ_TIMEOUT":   "10s",
		"SERVER_WRITE_TIMEOUT":  "10s",
		"STORE_BACKEND":         "postgres",
		"DB_HOST":               "localhost",
		"DB_PORT":               "5432",
		"DB_USER":               "postgres",
		"DB_PASSWORD":           "postgres",
		"DB_NAME":               "ride_hailing",
		"DB_SSLMODE":            "disable",
		"DB_MIGRATE":            true,
		"REDIS_ENABLED":         true,
		"REDIS_ADDR":            "localhost:6379",
		"REDIS_PASSWORD":        "",
		"REDIS_DB":              0,
		"REDIS_SESSION_TTL":     "2m",
		"NEW_RELIC_APP_NAME":    "ride-lifecycle-service",
		"NEW_RELIC_LICENSE_KEY": "",
		"NEW_RELIC_ENABLED":     false,
		"LOG_LEVEL":             "info",
		"LOG_FORMAT":            "json",
		"FARE_BASE":             5.0,
		"FARE_PER_MILE":         2.0,
		"FARE_MILES_PER_DEGREE": 69.0,
		"DISPATCH_CONCURRENCY":  16,
		"DISPATCH_SEND_TIMEOUT": "2s",
		"DISPATCH_RADIUS_KM":    0.0,
		"EXPIRY_ENABLED":        true,
		"EXPIRY_PENDING_TTL":    "10m",
		"EXPIRY_INTERVAL":       "30s",
		"RETRY_MAX":             3,
		"RETRY_BASE_DELAY":      "50ms",
		"RETRY_MAX_DELAY":       "1s",
		"GOOGLE_MAPS_API_KEY":   "",
		"MAPS_TIMEOUT":          "2s",
		"MAPS_CACHE_TTL":        "30s",
		"EVENTS_BACKEND":        "none",
		"KAFKA_BROKERS":         "localhost:9092",
		"KAFKA_TOPIC":           "ride-lifecycle",
		"NSQ_ADDR":              "localhost:4150",
		"NSQ_TOPIC":             "ride-lifecycle",
		"STRIPE_SECRET_KEY":     "",
		"STRIPE_CURRENCY":       "usd",
		"STRIPE_PAYMENT_METHOD": "pm_card_visa",
	}
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)
	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:         v.GetString("SERVER_PORT"),
			ReadTimeout:  v.GetDuration("SERVER_READ_TIMEOUT"),
			WriteTimeout: v.GetDuration("SERVER_WRITE_TIMEOUT"),
		},
		Store: StoreConfig{
			Backend: strings.ToLower(v.GetString("STORE_BACKEND")),
		},
		Database: DatabaseConfig{
			Host:     v.GetString("DB_HOST"),
			Port:     v.GetString("DB_PORT"),
			User:     v.GetString("DB_USER"),
			Password: v.GetString("DB_PASSWORD"),
			DBName:   v.GetString("DB_NAME"),
			SSLMode:  v.GetString("DB_SSLMODE"),
			Migrate:  v.GetBool("DB_MIGRATE"),
		},
		Redis: RedisConfig{
			Enabled:  v.GetBool("REDIS_ENABLED"),
			Addr:     v.GetString("REDIS_ADDR"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),

			SessionTTL: v.GetDuration("REDIS_SESSION_TTL"),
		},
		NewRelic: NewRelicConfig{
			AppName:    v.GetString("NEW_RELIC_APP_NAME"),
			LicenseKey: v.GetString("NEW_RELIC_LICENSE_KEY"),
			Enabled:    v.GetBool("NEW_RELIC_ENABLED"),
		},
		Log: LogConfig{
			Level:  v.GetString("LOG_LEVEL"),
			Format: strings.ToLower(v.GetString("LOG_FORMAT")),
		},
		Fare: FareConfig{
			BaseFare:       v.GetFloat64("FARE_BASE"),
			PerMile:        v.GetFloat64("FARE_PER_MILE"),
			MilesPerDegree: v.GetFloat64("FARE_MILES_PER_DEGREE"),
		},
		Dispatch: DispatchConfig{
			Concurrency: v.GetInt("DISPATCH_CONCURRENCY"),
			SendTimeout: v.GetDuration("DISPATCH_SEND_TIMEOUT"),
			RadiusKm:    v.GetFloat64("DISPATCH_RADIUS_KM"),
		},
		Expiry: ExpiryConfig{
			Enabled:    v.GetBool("EXPIRY_ENABLED"),
			PendingTTL: v.GetDuration("EXPIRY_PENDING_TTL"),
			Interval:   v.GetDuration("EXPIRY_INTERVAL"),
		},
		Retry: RetryConfig{
			MaxRetries: v.GetInt("RETRY_MAX"),
			BaseDelay:  v.GetDuration("RETRY_BASE_DELAY"),
			MaxDelay:   v.GetDuration("RETRY_MAX_DELAY"),
		},
		Maps: MapsConfig{
			APIKey:   v.GetString("GOOGLE_MAPS_API_KEY"),
			Timeout:  v.GetDuration("MAPS_TIMEOUT"),
			CacheTTL: v.GetDuration("MAPS_CACHE_TTL"),
		},
		Events: EventsConfig{
			Backend:      strings.ToLower(v.GetString("EVENTS_BACKEND")),
			KafkaBrokers: splitList(v.GetString("KAFKA_BROKERS")),
			KafkaTopic:   v.GetString("KAFKA_TOPIC"),
			NSQAddr:      v.GetString("NSQ_ADDR"),
			NSQTopic:     v.GetString("NSQ_TOPIC"),
		},
		Stripe: StripeConfig{
			SecretKey:     v.GetString("STRIPE_SECRET_KEY"),
			Currency:      v.GetString("STRIPE_CURRENCY"),
			PaymentMethod: v.GetString("STRIPE_PAYMENT_METHOD"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	if c.Store.Backend != StoreBackendPostgres && c.Store.Backend != StoreBackendMemory {
		errs = append(errs, fmt.Errorf("STORE_BACKEND must be postgres or memory, got %q", c.Store.Backend))
	}
	switch c.Events.Backend {
	case "none", "kafka", "nsq":
	default:
		errs = append(errs, fmt.Errorf("EVENTS_BACKEND must be none, kafka or nsq, got %q", c.Events.Backend))
	}
	if c.Events.Backend == "kafka" && len(c.Events.KafkaBrokers) == 0 {
		errs = append(errs, errors.New("KAFKA_BROKERS is required for the kafka events backend"))
	}
	if c.Fare.MilesPerDegree <= 0 {
		errs = append(errs, errors.New("FARE_MILES_PER_DEGREE must be positive"))
	}
	if c.Fare.BaseFare < 0 || c.Fare.PerMile < 0 {
		errs = append(errs, errors.New("FARE_BASE and FARE_PER_MILE must not be negative"))
	}
	if c.Dispatch.Concurrency <= 0 {
		errs = append(errs, errors.New("DISPATCH_CONCURRENCY must be positive"))
	}
	if c.Expiry.Enabled && (c.Expiry.PendingTTL <= 0 || c.Expiry.Interval <= 0) {
		errs = append(errs, errors.New("EXPIRY_PENDING_TTL and EXPIRY_INTERVAL must be positive"))
	}
	if c.Retry.MaxRetries < 0 {
		errs = append(errs, errors.New("RETRY_MAX must not be negative"))
	}
	return errors.Join(errs...)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
