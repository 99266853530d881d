package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds all configuration for the platform
type Config struct {
	Server   ServerConfig
	Mongo    MongoConfig
	Binance  BinanceConfig
	Ingest   IngestConfig
	Postgres DatabaseConfig
	Kafka    KafkaConfig
	Logging  LoggingConfig
}

// ServerConfig holds query server specific configuration
type ServerConfig struct {
	Port         string        `validate:"required,numeric"`
	ReadTimeout  time.Duration `validate:"gt=0"`
	WriteTimeout time.Duration `validate:"gt=0"`
	IdleTimeout  time.Duration `validate:"gt=0"`

	// Per client IP; 0 disables rate limiting
	RequestsPerMinute int `validate:"min=0"`
	Burst             int `validate:"min=1"`
}

// MongoConfig holds the candle store configuration
type MongoConfig struct {
	Host            string `validate:"required"`
	Port            int    `validate:"min=1,max=65535"`
	Database        string `validate:"required"`
	User            string
	Password        string
	Collection      string        `validate:"required"`
	ConnectTimeout  time.Duration `validate:"gt=0"`
	MaxRetryElapsed time.Duration `validate:"gt=0"`
}

// BinanceConfig holds upstream market data API configuration
type BinanceConfig struct {
	HistoricalURL string `validate:"required,url"`
	// StreamURL is carried for deployments that set it; nothing consumes it.
	StreamURL string
	PageSize  int           `validate:"min=1,max=1000"`
	PageDelay time.Duration `validate:"gte=500ms"`
	Timeout   time.Duration `validate:"gt=0"`
}

// IngestConfig holds the parameters of one ingestion run
type IngestConfig struct {
	Symbols      []string `validate:"required,min=1,dive,required"`
	Interval     string   `validate:"required,oneof=1s 1m 3m 5m 15m 30m 1h 2h 4h 6h 8h 12h 1d 3d 1w 1M"`
	LookbackDays int      `validate:"min=1"`
}

// DatabaseConfig holds relational database configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// KafkaConfig holds Kafka specific configuration
type KafkaConfig struct {
	Brokers string
	Topic   string
}

// LoggingConfig holds logging specific configuration
type LoggingConfig struct {
	Level  string `validate:"oneof=debug info warn error"`
	Format string `validate:"oneof=json console"`
}

// BrokerList splits the comma-separated broker string
func (k KafkaConfig) BrokerList() []string {
	var out []string
	for _, b := range strings.Split(k.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// envBindings maps config keys onto the deployment's environment variable names
var envBindings = map[string]string{
	"server.port":           "SERVER_PORT",
	"mongo.host":            "MONGO_HOST",
	"mongo.port":            "MONGO_PORT",
	"mongo.database":        "MONGO_DB",
	"mongo.user":            "MONGO_USER",
	"mongo.password":        "MONGO_PASSWORD",
	"mongo.collection":      "MONGO_COLLECTION",
	"binance.historicalUrl": "URL_HISTORIQUE",
	"binance.streamUrl":     "URL_STREAM",
	"ingest.symbols":        "INGEST_SYMBOLS",
	"ingest.interval":       "INGEST_INTERVAL",
	"ingest.lookbackDays":   "INGEST_LOOKBACK_DAYS",
	"postgres.host":         "DB_HOST",
	"postgres.port":         "POSTGRES_PORT",
	"postgres.user":         "POSTGRES_USER",
	"postgres.password":     "POSTGRES_PASSWORD",
	"postgres.dbName":       "POSTGRES_DB",
	"kafka.brokers":         "KAFKA_BROKERS",
	"kafka.topic":           "KAFKA_TOPIC",
	"logging.level":         "LOG_LEVEL",
	"logging.format":        "LOG_FORMAT",
}

// LoadConfig loads the configuration from an optional file and environment
// variables. An empty path or a missing file falls back to defaults + env.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Read config file
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
	}

	// Environment variables override
	v.AutomaticEnv()
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Ingest.Symbols = NormalizeSymbols(cfg.Ingest.Symbols)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks presence, types and ranges of the loaded values
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// NormalizeSymbols trims, upper-cases and splits symbol lists, dropping empties
func NormalizeSymbols(symbols []string) []string {
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		// A single env value may still hold the whole comma-separated list
		for _, part := range strings.Split(s, ",") {
			if part = strings.ToUpper(strings.TrimSpace(part)); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// setDefaults sets default values for configuration
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.readTimeout", "10s")
	v.SetDefault("server.writeTimeout", "10s")
	v.SetDefault("server.idleTimeout", "120s")
	v.SetDefault("server.requestsPerMinute", 600)
	v.SetDefault("server.burst", 50)

	// Mongo defaults
	v.SetDefault("mongo.host", "localhost")
	v.SetDefault("mongo.port", 27017)
	v.SetDefault("mongo.database", "crypto_data")
	v.SetDefault("mongo.collection", "historical_daily_data")
	v.SetDefault("mongo.connectTimeout", "10s")
	v.SetDefault("mongo.maxRetryElapsed", "30s")

	// Binance defaults
	v.SetDefault("binance.historicalUrl", "https://api.binance.com/api/v3/klines")
	v.SetDefault("binance.pageSize", 1000)
	v.SetDefault("binance.pageDelay", "500ms")
	v.SetDefault("binance.timeout", "30s")

	// Ingestion defaults
	v.SetDefault("ingest.symbols", []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"})
	v.SetDefault("ingest.interval", "1d")
	v.SetDefault("ingest.lookbackDays", 730)

	// Postgres defaults
	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", "5432")
	v.SetDefault("postgres.user", "postgres")
	v.SetDefault("postgres.sslMode", "disable")

	// Kafka defaults
	v.SetDefault("kafka.topic", "ingestion-events")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}
