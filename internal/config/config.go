// Package config handles application configuration from environment variables
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/mbd888/fraudscore/internal/logging"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "text" or "json"

	// Storage. Both are optional: without DATABASE_URL the stores are
	// in-memory, without REDIS_URL velocity is counted from the store.
	DatabaseURL string
	RedisURL    string

	// Model service
	PredictorURL     string // empty disables the model
	PredictorTimeout time.Duration
	BreakerThreshold int
	BreakerCooldown  time.Duration

	// Verdict fan-out
	KafkaBrokers string // comma-separated; empty disables publishing
	KafkaTopic   string

	// GeoIP (MaxMind .mmdb files, optional)
	GeoIPCityDB string
	GeoIPASNDB  string

	// Tracing
	OTLPEndpoint string

	// Scoring
	RulesFile        string // optional YAML rule thresholds
	RecalcInterval   time.Duration
	BatchMaxSize     int
	BatchConcurrency int

	// HTTP hardening
	RateLimitRPM   int // 0 disables
	RateLimitBurst int
	CORSOrigins    []string
	ShutdownDrain  time.Duration
}

const (
	DefaultPort             = "8080"
	DefaultEnv              = "development"
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "text"
	DefaultPredictorTimeout = 3 * time.Second
	DefaultBreakerThreshold = 5
	DefaultBreakerCooldown  = 30 * time.Second
	DefaultKafkaTopic       = "scored_transactions"
	DefaultRecalcInterval   = 15 * time.Minute
	DefaultBatchMaxSize     = 100
	DefaultBatchConcurrency = 8
	DefaultRateLimitRPM     = 6000
	DefaultRateLimitBurst   = 200
	DefaultShutdownDrain    = 5 * time.Second
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:             getEnv("PORT", DefaultPort),
		Env:              getEnv("ENV", DefaultEnv),
		LogLevel:         getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:        getEnv("LOG_FORMAT", DefaultLogFormat),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		RedisURL:         os.Getenv("REDIS_URL"),
		PredictorURL:     os.Getenv("PREDICTOR_URL"),
		PredictorTimeout: getEnvDuration("PREDICTOR_TIMEOUT", DefaultPredictorTimeout),
		BreakerThreshold: getEnvInt("BREAKER_THRESHOLD", DefaultBreakerThreshold),
		BreakerCooldown:  getEnvDuration("BREAKER_COOLDOWN", DefaultBreakerCooldown),
		KafkaBrokers:     os.Getenv("KAFKA_BROKERS"),
		KafkaTopic:       getEnv("KAFKA_TOPIC", DefaultKafkaTopic),
		GeoIPCityDB:      os.Getenv("GEOIP_CITY_DB"),
		GeoIPASNDB:       os.Getenv("GEOIP_ASN_DB"),
		OTLPEndpoint:     os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		RulesFile:        os.Getenv("RULES_FILE"),
		RecalcInterval:   getEnvDuration("RECALC_INTERVAL", DefaultRecalcInterval),
		BatchMaxSize:     getEnvInt("BATCH_MAX_SIZE", DefaultBatchMaxSize),
		BatchConcurrency: getEnvInt("BATCH_CONCURRENCY", DefaultBatchConcurrency),
		RateLimitRPM:     getEnvInt("RATE_LIMIT_RPM", DefaultRateLimitRPM),
		RateLimitBurst:   getEnvInt("RATE_LIMIT_BURST", DefaultRateLimitBurst),
		CORSOrigins:      getEnvList("CORS_ORIGINS"),
		ShutdownDrain:    getEnvDuration("SHUTDOWN_DRAIN", DefaultShutdownDrain),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if _, err := strconv.Atoi(c.Port); err != nil {
		errs = append(errs, fmt.Errorf("PORT must be numeric, got %q", c.Port))
	}
	if _, ok := logging.ParseLevel(c.LogLevel); !ok {
		errs = append(errs, fmt.Errorf("LOG_LEVEL must be debug, info, warn or error, got %q", c.LogLevel))
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.LogFormat))
	}
	if c.PredictorTimeout <= 0 {
		errs = append(errs, errors.New("PREDICTOR_TIMEOUT must be positive"))
	}
	if c.BreakerThreshold < 1 {
		errs = append(errs, errors.New("BREAKER_THRESHOLD must be at least 1"))
	}
	if c.BatchMaxSize < 1 {
		errs = append(errs, errors.New("BATCH_MAX_SIZE must be at least 1"))
	}
	if c.BatchConcurrency < 1 {
		errs = append(errs, errors.New("BATCH_CONCURRENCY must be at least 1"))
	}
	if c.RecalcInterval <= 0 {
		errs = append(errs, errors.New("RECALC_INTERVAL must be positive"))
	}
	if c.RateLimitRPM < 0 || c.RateLimitBurst < 0 {
		errs = append(errs, errors.New("RATE_LIMIT_RPM and RATE_LIMIT_BURST must not be negative"))
	}
	if c.KafkaBrokers != "" && c.KafkaTopic == "" {
		errs = append(errs, errors.New("KAFKA_TOPIC is required when KAFKA_BROKERS is set"))
	}
	return errors.Join(errs...)
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
