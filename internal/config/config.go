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
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	MigrateOnStart     bool
	CORSAllowedOrigins []string

	Auth    AuthConfig
	Review  ReviewConfig
	HTTP    HTTPConfig
	Lock    LockConfig
	CRM     CRMConfig
	Queue   QueueConfig
	Circuit CircuitConfig
	Audit   AuditConfig
	Obs     ObsConfig
}

// AuthConfig describes how access tokens from the hosted auth provider are verified.
type AuthConfig struct {
	JWTSecret   string
	JWTIssuer   string
	JWTAudience string
	AdminRoles  []string
	ClockSkew   time.Duration
}

// ReviewConfig tunes review caching.
type ReviewConfig struct {
	CacheTTL time.Duration
	Debounce time.Duration
}

// HTTPConfig holds request guards.
type HTTPConfig struct {
	RateLimitWindow time.Duration
	RateLimitMax    int
	BodyLimitBytes  int64
	IdempotencyTTL  time.Duration
	ShutdownTimeout time.Duration
}

// LockConfig tunes the per-cohort save lock.
type LockConfig struct {
	TTL          time.Duration
	RetryBackoff time.Duration
	MaxWait      time.Duration
}

// CRMConfig points the sync worker at the CRM endpoint.
type CRMConfig struct {
	Endpoint    string
	APIKey      string
	Timeout     time.Duration
	MaxAttempts int

	// IntakeRateLimit caps lead submissions per caller per RateLimitWindow.
	IntakeRateLimit int
}

// QueueConfig tunes the Redis task queue.
type QueueConfig struct {
	Prefix       string
	Concurrency  int
	MaxAttempts  int
	RetryBase    time.Duration
	PollInterval time.Duration
}

// CircuitConfig tunes the CRM circuit breaker.
type CircuitConfig struct {
	MinRequests  int
	FailureRatio float64
	OpenFor      time.Duration
}

// AuditConfig controls the fee configuration audit trail.
type AuditConfig struct {
	Enabled      bool
	SamplingRate float64
}

// ObsConfig toggles logging, metrics and tracing.
type ObsConfig struct {
	LogFormat        string
	LogLevel         string
	MetricsEnabled   bool
	MetricsNamespace string
	MetricsBuckets   string
	TracingEnabled   bool
	TracingExporter  string
	OTLPEndpoint     string
	SamplingRatio    float64
	ServiceName      string
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
		DatabaseURL:        k.String("DATABASE_URL"),
		RedisURL:           k.String("REDIS_URL"),
		MigrateOnStart:     parseBool(k.String("MIGRATE_ON_START"), false),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		Auth: AuthConfig{
			JWTSecret:   k.String("AUTH_JWT_SECRET"),
			JWTIssuer:   strings.TrimSpace(k.String("AUTH_JWT_ISSUER")),
			JWTAudience: valueOrDefault(k.String("AUTH_JWT_AUDIENCE"), "authenticated"),
			AdminRoles:  splitAndTrim(valueOrDefault(k.String("AUTH_ADMIN_ROLES"), "admin,fee_admin")),
			ClockSkew:   parseDuration(k.String("AUTH_CLOCK_SKEW"), "30s"),
		},
		Review: ReviewConfig{
			CacheTTL: parseDuration(k.String("REVIEW_CACHE_TTL"), "10m"),
			Debounce: parseDuration(k.String("REVIEW_DEBOUNCE"), "500ms"),
		},
		HTTP: HTTPConfig{
			RateLimitWindow: parseDuration(k.String("RATE_LIMIT_WINDOW"), "1m"),
			RateLimitMax:    parseInt(k.String("RATE_LIMIT_MAX"), 120),
			BodyLimitBytes:  int64(parseInt(k.String("BODY_LIMIT_BYTES"), 1<<20)),
			IdempotencyTTL:  parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),
			ShutdownTimeout: parseDuration(k.String("SHUTDOWN_TIMEOUT"), "15s"),
		},
		Lock: LockConfig{
			TTL:          parseDuration(k.String("LOCK_TTL"), "10s"),
			RetryBackoff: parseDuration(k.String("LOCK_RETRY_BACKOFF"), "50ms"),
			MaxWait:      parseDuration(k.String("LOCK_MAX_WAIT"), "3s"),
		},
		CRM: CRMConfig{
			Endpoint:    strings.TrimSpace(k.String("CRM_ENDPOINT")),
			APIKey:      k.String("CRM_API_KEY"),
			Timeout:     parseDuration(k.String("CRM_TIMEOUT"), "5s"),
			MaxAttempts: parseInt(k.String("CRM_MAX_ATTEMPTS"), 3),

			IntakeRateLimit: parseInt(k.String("CRM_INTAKE_RATE_LIMIT"), 20),
		},
		Queue: QueueConfig{
			Prefix:       valueOrDefault(k.String("QUEUE_PREFIX"), "fee"),
			Concurrency:  parseInt(k.String("QUEUE_CONCURRENCY"), 4),
			MaxAttempts:  parseInt(k.String("QUEUE_MAX_ATTEMPTS"), 8),
			RetryBase:    parseDuration(k.String("QUEUE_RETRY_BASE"), "2s"),
			PollInterval: parseDuration(k.String("QUEUE_POLL_INTERVAL"), "250ms"),
		},
		Circuit: CircuitConfig{
			MinRequests:  parseInt(k.String("CIRCUIT_MIN_REQUESTS"), 10),
			FailureRatio: parseFloat(k.String("CIRCUIT_FAILURE_RATIO"), 0.5),
			OpenFor:      parseDuration(k.String("CIRCUIT_OPEN_FOR"), "30s"),
		},
		Audit: AuditConfig{
			Enabled:      parseBool(k.String("AUDIT_ENABLED"), true),
			SamplingRate: parseFloat(k.String("AUDIT_SAMPLING_RATE"), 1.0),
		},
		Obs: ObsConfig{
			LogFormat:        valueOrDefault(k.String("OBS_LOG_FORMAT"), "json"),
			LogLevel:         valueOrDefault(k.String("OBS_LOG_LEVEL"), "info"),
			MetricsEnabled:   parseBool(k.String("OBS_ENABLE_PROMETHEUS"), true),
			MetricsNamespace: valueOrDefault(k.String("OBS_METRICS_NAMESPACE"), "feereview"),
			MetricsBuckets:   k.String("OBS_HTTP_BUCKETS"),
			TracingEnabled:   parseBool(k.String("OBS_ENABLE_TRACING"), false),
			TracingExporter:  valueOrDefault(k.String("OBS_TRACING_EXPORTER"), "otlp"),
			OTLPEndpoint:     strings.TrimSpace(k.String("OBS_OTLP_ENDPOINT")),
			SamplingRatio:    parseFloat(k.String("OBS_TRACING_SAMPLING_RATIO"), 1.0),
			ServiceName:      valueOrDefault(k.String("OBS_SERVICE_NAME"), "fee-review-api"),
		},
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
		return nil, errors.New("AUTH_JWT_SECRET is required")
	}
	if cfg.Circuit.FailureRatio <= 0 || cfg.Circuit.FailureRatio > 1 {
		return nil, fmt.Errorf("CIRCUIT_FAILURE_RATIO must be in (0,1], got %v", cfg.Circuit.FailureRatio)
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
		return strings.TrimSpace(value)
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

func parseBool(value string, fallback bool) bool {
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
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func parseFloat(value string, fallback float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

// MustLoad behaves like Load but panics on error.
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
