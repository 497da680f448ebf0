package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"

	"github.com/noah-isme/backend-groupbuy/internal/ratelimit"
)

// Archive modes control how finalized batches leave engine memory.
const (
	ArchiveSync  = "sync"
	ArchiveAsync = "async"
	ArchiveOff   = "off"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	JWTSecret          string
	JWTIssuer          string
	JWTAudience        string
	JWTClockSkew       time.Duration
	AllowGuests        bool
	CORSAllowedOrigins []string
	IdempotencyTTL     time.Duration
	LockTTL            time.Duration
	LockRetryBackoff   time.Duration
	UpsertRateLimit    string
	UpsertRateWindow   time.Duration
	UpsertRateMax      int
	RateLimitStrategy  string
	HistoryLimit       int
	MaxQuantity        int
	MaxBatchQuantity   int
	ArchiveMode        string
	QueueConcurrency   int
	BodyLimitBytes     int64
	AuditEnabled       bool
	AuditSamplingRate  float64
	WebhookURL         string
	WebhookSecret      string
	WebhookTopics      []string
	WebhookTimeout     time.Duration
	Obs                ObsConfig
}

// ObsConfig groups logging, metrics and tracing settings.
type ObsConfig struct {
	LogFormat        string
	LogLevel         string
	MetricsNamespace string
	EnablePrometheus bool
	EnableTracing    bool
	TracingExporter  string
	OTLPEndpoint     string
	SamplingRatio    float64
	MetricsBuckets   string
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        strings.TrimSpace(k.String("DATABASE_URL")),
		RedisURL:           strings.TrimSpace(k.String("REDIS_URL")),
		JWTSecret:          k.String("JWT_SECRET"),
		JWTIssuer:          valueOrDefault(k.String("JWT_ISSUER"), "groupbuy"),
		JWTAudience:        valueOrDefault(k.String("JWT_AUDIENCE"), "groupbuy-clients"),
		JWTClockSkew:       parseDuration(k.String("JWT_CLOCK_SKEW"), "30s"),
		AllowGuests:        parseBoolDefault(k.String("ALLOW_GUESTS"), true),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		IdempotencyTTL:     parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),
		LockTTL:            parseDuration(k.String("LOCK_TTL"), "10s"),
		LockRetryBackoff:   parseDuration(k.String("LOCK_RETRY_BACKOFF"), "50ms"),
		UpsertRateLimit:    valueOrDefault(k.String("UPSERT_RATE_LIMIT"), "20-S"),
		RateLimitStrategy:  strings.ToLower(valueOrDefault(k.String("RATE_LIMIT_STRATEGY"), "fixed")),
		HistoryLimit:       parseInt(k.String("HISTORY_LIMIT"), 50),
		MaxQuantity:        parseInt(k.String("MAX_CONTRIBUTION_QUANTITY"), 1_000_000),
		MaxBatchQuantity:   parseInt(k.String("MAX_BATCH_QUANTITY"), 100_000_000),
		ArchiveMode:        strings.ToLower(valueOrDefault(k.String("ARCHIVE_MODE"), ArchiveSync)),
		QueueConcurrency:   parseInt(k.String("QUEUE_CONCURRENCY"), 5),
		AuditEnabled:       parseBoolDefault(k.String("AUDIT_ENABLED"), true),
		AuditSamplingRate:  parseFloat(k.String("AUDIT_SAMPLING_RATE"), 1.0),
		BodyLimitBytes:     int64(parseInt(k.String("BODY_LIMIT_BYTES"), 1<<20)),
		WebhookURL:         strings.TrimSpace(k.String("WEBHOOK_URL")),
		WebhookSecret:      k.String("WEBHOOK_SECRET"),
		WebhookTopics:      splitAndTrim(k.String("WEBHOOK_TOPICS")),
		WebhookTimeout:     parseDuration(k.String("WEBHOOK_TIMEOUT"), "5s"),
		Obs: ObsConfig{
			LogFormat:        valueOrDefault(k.String("OBS_LOG_FORMAT"), "json"),
			LogLevel:         valueOrDefault(k.String("OBS_LOG_LEVEL"), "info"),
			MetricsNamespace: valueOrDefault(k.String("OBS_METRICS_NAMESPACE"), "groupbuy"),
			EnablePrometheus: parseBoolDefault(k.String("OBS_ENABLE_PROMETHEUS"), true),
			EnableTracing:    parseBoolDefault(k.String("OBS_ENABLE_TRACING"), false),
			TracingExporter:  valueOrDefault(k.String("OBS_TRACING_EXPORTER"), "otlp"),
			OTLPEndpoint:     strings.TrimSpace(k.String("OBS_OTLP_ENDPOINT")),
			SamplingRatio:    parseFloat(k.String("OBS_TRACING_SAMPLING_RATIO"), 1.0),
			MetricsBuckets:   k.String("OBS_METRICS_BUCKETS_MS"),
		},
	}

	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	window, max, err := ratelimit.ParseRate(cfg.UpsertRateLimit)
	if err != nil {
		return nil, fmt.Errorf("UPSERT_RATE_LIMIT: %w", err)
	}
	cfg.UpsertRateWindow, cfg.UpsertRateMax = window, max

	if cfg.RateLimitStrategy != "fixed" && cfg.RateLimitStrategy != "sliding" {
		return nil, fmt.Errorf("RATE_LIMIT_STRATEGY must be fixed or sliding: %q", cfg.RateLimitStrategy)
	}

	switch cfg.ArchiveMode {
	case ArchiveSync:
		if cfg.DatabaseURL == "" {
			cfg.ArchiveMode = ArchiveOff
		}
	case ArchiveAsync:
		if cfg.RedisURL == "" {
			return nil, errors.New("ARCHIVE_MODE=async requires REDIS_URL")
		}
	case ArchiveOff:
	default:
		return nil, fmt.Errorf("ARCHIVE_MODE must be one of sync, async, off: %q", cfg.ArchiveMode)
	}
	if cfg.WebhookURL != "" && cfg.WebhookSecret == "" {
		return nil, errors.New("WEBHOOK_SECRET is required when WEBHOOK_URL is set")
	}
	if cfg.WebhookURL != "" && cfg.RedisURL == "" {
		return nil, errors.New("WEBHOOK_URL requires REDIS_URL for queued delivery")
	}
	if cfg.MaxQuantity <= 0 || cfg.MaxBatchQuantity <= 0 {
		return nil, errors.New("MAX_CONTRIBUTION_QUANTITY and MAX_BATCH_QUANTITY must be positive")
	}
	if cfg.MaxQuantity > cfg.MaxBatchQuantity {
		return nil, errors.New("MAX_CONTRIBUTION_QUANTITY must not exceed MAX_BATCH_QUANTITY")
	}
	if cfg.HistoryLimit < 0 {
		return nil, errors.New("HISTORY_LIMIT must not be negative")
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseBoolDefault(value string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func parseInt(value string, fallback int) int {
	v, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return v
}

func parseFloat(value string, fallback float64) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return v
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
