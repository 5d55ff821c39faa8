package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App           AppConfig
	Storage       StorageConfig
	Reservation   ReservationConfig
	Events        EventsConfig
	Observability ObservabilityConfig
}

type AppConfig struct {
	Name    string
	Port    int
	Timeout time.Duration
}

type StorageConfig struct {
	SQLiteFile    string
	MaxConnection int
}

type ReservationConfig struct {
	HoldDuration  time.Duration // how long an unconfirmed hold survives
	SweepInterval time.Duration // cadence of the expiry sweeper
	LockTimeout   time.Duration // bound on product lock acquisition
}

type EventsConfig struct {
	Enabled        bool
	Brokers        []string
	Topic          string
	BreakerTimeout time.Duration
	BreakerRatio   float64
}

type ObservabilityConfig struct {
	LogLevel       string
	LogFormat      string // "json" or "text"
	MetricsEnabled bool
	MetricsPort    int
	TracingEnabled bool
	ZipkinEndpoint string
}

// DefaultConfig returns configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:    "stock-ledger",
			Port:    8080,
			Timeout: 30 * time.Second,
		},
		Storage: StorageConfig{
			SQLiteFile:    "data/inventory.db",
			MaxConnection: 25,
		},
		Reservation: ReservationConfig{
			HoldDuration:  15 * time.Minute,
			SweepInterval: 60 * time.Second,
			LockTimeout:   5 * time.Second,
		},
		Events: EventsConfig{
			Enabled:        true,
			Brokers:        []string{"localhost:9092"},
			Topic:          "inventory-events",
			BreakerTimeout: 10 * time.Second,
			BreakerRatio:   0.5,
		},
		Observability: ObservabilityConfig{
			LogLevel:       "info",
			LogFormat:      "json",
			MetricsEnabled: true,
			MetricsPort:    9090,
			TracingEnabled: false,
			ZipkinEndpoint: "http://localhost:9411/api/v2/spans",
		},
	}
}

// LoadConfig loads configuration from YAML file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath != "" {
		viper.SetConfigFile(configPath)
		if err := viper.ReadInConfig(); err != nil {
			return nil, err
		}
		if err := viper.Unmarshal(cfg); err != nil {
			return nil, err
		}
	}

	// Environment variable overrides
	viper.SetEnvPrefix("APP")
	viper.AutomaticEnv()

	if sqliteFile := os.Getenv("APP_STORAGE_SQLITE_FILE"); sqliteFile != "" {
		cfg.Storage.SQLiteFile = sqliteFile
	}
	if brokers := os.Getenv("APP_EVENTS_BROKERS"); brokers != "" {
		cfg.Events.Brokers = strings.Split(brokers, ",")
	}
	if topic := os.Getenv("APP_EVENTS_TOPIC"); topic != "" {
		cfg.Events.Topic = topic
	}
	if enabled := os.Getenv("APP_EVENTS_ENABLED"); enabled != "" {
		cfg.Events.Enabled = enabled == "true"
	}
	if hold := os.Getenv("APP_RESERVATION_HOLD_DURATION"); hold != "" {
		if d, err := time.ParseDuration(hold); err == nil {
			cfg.Reservation.HoldDuration = d
		}
	}
	if sweep := os.Getenv("APP_RESERVATION_SWEEP_INTERVAL"); sweep != "" {
		if d, err := time.ParseDuration(sweep); err == nil {
			cfg.Reservation.SweepInterval = d
		}
	}
	if port := os.Getenv("APP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.App.Port = p
		}
	}
	if logLevel := os.Getenv("APP_LOG_LEVEL"); logLevel != "" {
		cfg.Observability.LogLevel = logLevel
	}
	if tracingEnabled := os.Getenv("APP_TRACING_ENABLED"); tracingEnabled != "" {
		cfg.Observability.TracingEnabled = tracingEnabled == "true"
	}
	if zipkinEndpoint := os.Getenv("APP_ZIPKIN_ENDPOINT"); zipkinEndpoint != "" {
		cfg.Observability.ZipkinEndpoint = zipkinEndpoint
	}

	return cfg, nil
}
