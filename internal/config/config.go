// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// GRPCAddr is the address the management gRPC server listens on (e.g. :8080).
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// HTTPAddr is the address of the realtime websocket listener (e.g. :8081).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// DatabaseURL is the Postgres DSN.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// RedisURL backs the job queues, the dashboard cache and realtime pub/sub.
	RedisURL string `mapstructure:"REDIS_URL"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
	// AppBaseURL is used to build links inside notifications and emails.
	AppBaseURL string `mapstructure:"APP_BASE_URL"`

	// BackgroundJobsEnabled toggles every queue. When false the null queue is used and workers do not start.
	BackgroundJobsEnabled bool `mapstructure:"BACKGROUND_JOBS_ENABLED"`
	// QueueConcurrency is the number of workers per named queue.
	QueueConcurrency int `mapstructure:"QUEUE_CONCURRENCY"`
	// JobMaxAttempts is the retry ceiling after which a job is marked failed.
	JobMaxAttempts  int    `mapstructure:"JOB_MAX_ATTEMPTS"`
	JobPollInterval string `mapstructure:"JOB_POLL_INTERVAL"`
	// JobVisibilityTimeout is the lease after which an active job whose worker died goes back to waiting.
	JobVisibilityTimeout string `mapstructure:"JOB_VISIBILITY_TIMEOUT"`

	DashboardCacheTTL string `mapstructure:"DASHBOARD_CACHE_TTL"`

	// WebhookTimeout bounds every outbound webhook POST.
	WebhookTimeout string `mapstructure:"WEBHOOK_TIMEOUT"`
	// WebhookSecretKey is an optional 32-byte hex key sealing webhook signing secrets at rest.
	WebhookSecretKey string `mapstructure:"WEBHOOK_SECRET_KEY"`

	SequenceSweepSchedule string `mapstructure:"SEQUENCE_SWEEP_SCHEDULE"`
	SequenceSweepBatch    int    `mapstructure:"SEQUENCE_SWEEP_BATCH"`
	TokenCleanupSchedule  string `mapstructure:"TOKEN_CLEANUP_SCHEDULE"`
	// SessionRetention keeps expired or revoked sessions this long before token cleanup deletes them.
	SessionRetention string `mapstructure:"SESSION_RETENTION"`

	// JWTPrivateKey is the PEM-encoded private key (RSA or ECDSA) or path to file. Only cmd/seed signs tokens.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	// JWTPublicKey is the PEM-encoded public key or path to file used to validate access tokens.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	JWTIssuer    string `mapstructure:"JWT_ISSUER"`
	JWTAudience  string `mapstructure:"JWT_AUDIENCE"`
	JWTAccessTTL string `mapstructure:"JWT_ACCESS_TTL"`

	SMTPHost     string `mapstructure:"SMTP_HOST"`
	SMTPPort     int    `mapstructure:"SMTP_PORT"`
	SMTPUser     string `mapstructure:"SMTP_USER"`
	SMTPPassword string `mapstructure:"SMTP_PASSWORD"`
	SMTPFrom     string `mapstructure:"SMTP_FROM"`
	SMTPFromName string `mapstructure:"SMTP_FROM_NAME"`

	// KafkaBrokers is a comma-separated list of Kafka broker addresses; when set the domain event log is written to Kafka.
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// EventLogKafkaTopic is the Kafka topic for the domain event log.
	EventLogKafkaTopic string `mapstructure:"EVENT_LOG_KAFKA_TOPIC"`
	// LokiURL, when set, receives every domain event as a log line (e.g. http://localhost:3100).
	LokiURL string `mapstructure:"LOKI_URL"`

	OTLPEndpoint    string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPInsecure    bool   `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	OTelServiceName string `mapstructure:"OTEL_SERVICE_NAME"`

	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("GRPC_ADDR", ":8080")
	v.SetDefault("HTTP_ADDR", ":8081")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_URL", "redis://localhost:6379/0")
	v.SetDefault("APP_ENV", "")
	v.SetDefault("APP_BASE_URL", "http://localhost:3000")
	v.SetDefault("BACKGROUND_JOBS_ENABLED", true)
	v.SetDefault("QUEUE_CONCURRENCY", 5)
	v.SetDefault("JOB_MAX_ATTEMPTS", 5)
	v.SetDefault("JOB_POLL_INTERVAL", "1s")
	v.SetDefault("JOB_VISIBILITY_TIMEOUT", "5m")
	v.SetDefault("DASHBOARD_CACHE_TTL", "300s")
	v.SetDefault("WEBHOOK_TIMEOUT", "10s")
	v.SetDefault("WEBHOOK_SECRET_KEY", "")
	v.SetDefault("SEQUENCE_SWEEP_SCHEDULE", "@every 1m")
	v.SetDefault("SEQUENCE_SWEEP_BATCH", 100)
	v.SetDefault("TOKEN_CLEANUP_SCHEDULE", "@daily")
	v.SetDefault("SESSION_RETENTION", "0s")
	v.SetDefault("JWT_PRIVATE_KEY", "")
	v.SetDefault("JWT_PUBLIC_KEY", "")
	v.SetDefault("JWT_ISSUER", "flowcrm-auth")
	v.SetDefault("JWT_AUDIENCE", "flowcrm-api")
	v.SetDefault("JWT_ACCESS_TTL", "15m")
	v.SetDefault("SMTP_HOST", "")
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("SMTP_USER", "")
	v.SetDefault("SMTP_PASSWORD", "")
	v.SetDefault("SMTP_FROM", "no-reply@flowcrm.local")
	v.SetDefault("SMTP_FROM_NAME", "FlowCRM")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("EVENT_LOG_KAFKA_TOPIC", "flowcrm-domain-events")
	v.SetDefault("LOKI_URL", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("OTEL_SERVICE_NAME", "flowcrm")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.GRPCAddr == "" {
		return nil, errors.New("config: GRPC_ADDR must be set")
	}
	if cfg.QueueConcurrency < 1 || cfg.QueueConcurrency > 64 {
		return nil, errors.New("config: QUEUE_CONCURRENCY must be between 1 and 64")
	}
	if cfg.JobMaxAttempts < 1 || cfg.JobMaxAttempts > 25 {
		return nil, errors.New("config: JOB_MAX_ATTEMPTS must be between 1 and 25")
	}
	if cfg.WebhookSecretKey != "" {
		if b, err := hex.DecodeString(cfg.WebhookSecretKey); err != nil || len(b) != 32 {
			return nil, errors.New("config: WEBHOOK_SECRET_KEY must be 64 hex characters")
		}
	}
	if cfg.SequenceSweepBatch <= 0 {
		cfg.SequenceSweepBatch = 100
	}

	return &cfg, nil
}

// AccessTTL parses JWTAccessTTL as a time.Duration. Returns 15m if unset or invalid.
func (c *Config) AccessTTL() time.Duration {
	return parseDuration(c.JWTAccessTTL, 15*time.Minute)
}

// PollInterval returns how often an idle worker polls its queue. Defaults to 1s.
func (c *Config) PollInterval() time.Duration {
	return parseDuration(c.JobPollInterval, time.Second)
}

// VisibilityTimeout returns the job lease length. Defaults to 5m.
func (c *Config) VisibilityTimeout() time.Duration {
	return parseDuration(c.JobVisibilityTimeout, 5*time.Minute)
}

// CacheTTL returns the dashboard cache TTL. Defaults to 300s.
func (c *Config) CacheTTL() time.Duration {
	return parseDuration(c.DashboardCacheTTL, 300*time.Second)
}

// SessionRetentionDuration returns the grace period before dead sessions are deleted.
// Unset, invalid or negative values mean none.
func (c *Config) SessionRetentionDuration() time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(c.SessionRetention))
	if err != nil || d < 0 {
		return 0
	}
	return d
}

// WebhookTimeoutDuration returns the fixed timeout for webhook deliveries. Defaults to 10s.
func (c *Config) WebhookTimeoutDuration() time.Duration {
	return parseDuration(c.WebhookTimeout, 10*time.Second)
}

// WebhookSecretKeyBytes returns the decoded at-rest key, or nil when none is configured.
func (c *Config) WebhookSecretKeyBytes() []byte {
	if c == nil || c.WebhookSecretKey == "" {
		return nil
	}
	b, err := hex.DecodeString(c.WebhookSecretKey)
	if err != nil {
		return nil
	}
	return b
}

// HasSMTP reports whether an SMTP relay is configured for outbound email.
func (c *Config) HasSMTP() bool {
	return c != nil && c.SMTPHost != ""
}

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// An empty list disables the Kafka event log sink.
func (c *Config) KafkaBrokersList() []string {
	if c == nil || c.KafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.KafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
