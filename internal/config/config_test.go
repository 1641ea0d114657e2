package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allKeys = []string{
	"PORT", "ENV", "LOG_LEVEL", "LOG_FORMAT", "DATABASE_URL", "REDIS_URL",
	"PREDICTOR_URL", "PREDICTOR_TIMEOUT", "BREAKER_THRESHOLD", "BREAKER_COOLDOWN",
	"KAFKA_BROKERS", "KAFKA_TOPIC", "GEOIP_CITY_DB", "GEOIP_ASN_DB",
	"OTEL_EXPORTER_OTLP_ENDPOINT", "RULES_FILE", "RECALC_INTERVAL",
	"BATCH_MAX_SIZE", "BATCH_CONCURRENCY", "RATE_LIMIT_RPM", "RATE_LIMIT_BURST",
	"CORS_ORIGINS", "SHUTDOWN_DRAIN",
}

// clearEnv blanks every key so the host environment cannot leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range allKeys {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultEnv, cfg.Env)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Empty(t, cfg.DatabaseURL)
	assert.Empty(t, cfg.PredictorURL)
	assert.Equal(t, 3*time.Second, cfg.PredictorTimeout)
	assert.Equal(t, "scored_transactions", cfg.KafkaTopic)
	assert.Equal(t, 15*time.Minute, cfg.RecalcInterval)
	assert.Equal(t, 100, cfg.BatchMaxSize)
	assert.Equal(t, 8, cfg.BatchConcurrency)
	assert.Nil(t, cfg.CORSOrigins)
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())
}

func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("ENV", "production")
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("PREDICTOR_URL", "http://model:5000")
	t.Setenv("PREDICTOR_TIMEOUT", "750ms")
	t.Setenv("BREAKER_COOLDOWN", "1m")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("BATCH_MAX_SIZE", "25")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example ,")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, 750*time.Millisecond, cfg.PredictorTimeout)
	assert.Equal(t, time.Minute, cfg.BreakerCooldown)
	assert.Equal(t, "k1:9092,k2:9092", cfg.KafkaBrokers)
	assert.Equal(t, 25, cfg.BatchMaxSize)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
}

func TestLoad_UnparseableFallsBackToDefault(t *testing.T) {
	clearEnv(t)
	t.Setenv("PREDICTOR_TIMEOUT", "soon")
	t.Setenv("BATCH_MAX_SIZE", "lots")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultPredictorTimeout, cfg.PredictorTimeout)
	assert.Equal(t, DefaultBatchMaxSize, cfg.BatchMaxSize)
}

func TestLoad_Invalid(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "http")
	t.Setenv("LOG_LEVEL", "chatty")
	t.Setenv("BATCH_CONCURRENCY", "0")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PORT")
	assert.Contains(t, err.Error(), "LOG_LEVEL")
	assert.Contains(t, err.Error(), "BATCH_CONCURRENCY")
}

func TestValidate_KafkaNeedsTopic(t *testing.T) {
	cfg := &Config{
		Port: "8080", LogLevel: "info", LogFormat: "text",
		PredictorTimeout: time.Second, BreakerThreshold: 1,
		BatchMaxSize: 1, BatchConcurrency: 1, RecalcInterval: time.Minute,
		KafkaBrokers: "k:9092",
	}
	assert.ErrorContains(t, cfg.Validate(), "KAFKA_TOPIC")

	cfg.KafkaTopic = "verdicts"
	assert.NoError(t, cfg.Validate())
}
