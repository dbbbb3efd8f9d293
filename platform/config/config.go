// Package config provides application configuration loading.
// This is part of the platform layer and contains no business logic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// DatabaseConfig provides database connection settings.
type DatabaseConfig interface {
	GetDatabaseURL() string
}

// JWTConfig provides JWT validation settings for middleware.
type JWTConfig interface {
	GetJWTAccessSecret() string
}

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetCORSAllowAll() bool
	GetCORSOrigins() []string
	GetCORSAllowCreds() bool
	GetIngestRateLimit() float64
	GetIngestRateBurst() int
}

// SchedulerConfig provides Redis/asynq settings for background processing.
type SchedulerConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
	GetAsynqQueueName() string
	GetAsynqConcurrency() int
	GetDispatchInterval() time.Duration
	GetLeaseSweepInterval() time.Duration
}

// OutboxTarget is a configured webhook destination.
type OutboxTarget struct {
	Name string
	URL  string
}

// OutboxConfig provides settings for the webhook outbox.
type OutboxConfig interface {
	GetWebhookSigningSecret() string
	GetOutboxTargets() []OutboxTarget
	GetOutboxLeadTargets() []string
	GetOutboxMaxAttempts() int
	GetOutboxBackoffBase() time.Duration
	GetOutboxBackoffMax() time.Duration
	GetOutboxHTTPTimeout() time.Duration
	GetOutboxBatchSize() int
	GetOutboxVisibilityTimeout() time.Duration
	GetOutboxConcurrency() int
	GetOutboxFailFast4xx() bool
	GetOutboxArchiveBucket() string
}

// JobsConfig provides settings for the job lease API used by n8n.
type JobsConfig interface {
	GetN8NToken() string
	GetN8NHMACSecret() string
	GetJobLeaseTTL() time.Duration
	GetSignatureWindow() time.Duration
}

// WebhookConfig provides settings for inbound n8n callbacks.
type WebhookConfig interface {
	GetWebhookSigningSecret() string
	GetSignatureWindow() time.Duration
}

// QdrantConfig provides settings for Qdrant vector database.
type QdrantConfig interface {
	GetQdrantURL() string
	GetQdrantAPIKey() string
	GetQdrantCollection() string
	IsQdrantEnabled() bool
}

// EmbeddingConfig provides settings for the embedding provider.
type EmbeddingConfig interface {
	GetEmbeddingAPIURL() string
	GetEmbeddingAPIKey() string
	GetGeminiAPIKey() string
	GetGeminiEmbeddingModel() string
	IsEmbeddingEnabled() bool
}

// MinIOConfig provides settings for MinIO S3-compatible storage.
type MinIOConfig interface {
	GetMinIOEndpoint() string
	GetMinIOAccessKey() string
	GetMinIOSecretKey() string
	GetMinIOUseSSL() bool
	GetMinIOMaxFileSize() int64
	IsMinIOEnabled() bool
}

// SMTPConfig provides settings for operational alert emails.
type SMTPConfig interface {
	GetSMTPHost() string
	GetSMTPPort() int
	GetSMTPUsername() string
	GetSMTPPassword() string
	GetEmailFromName() string
	GetEmailFromAddress() string
	GetAlertEmailTo() string
	IsAlertEmailEnabled() bool
}

// IMAPConfig provides settings for the email ingestion poller.
type IMAPConfig interface {
	GetIMAPHost() string
	GetIMAPPort() int
	GetIMAPUsername() string
	GetIMAPPassword() string
	GetIMAPFolder() string
	GetIMAPPollInterval() time.Duration
	GetIMAPOrganizationSlug() string
	IsIMAPEnabled() bool
}

// FeatureFlagConfig points at the optional YAML feature flag file.
type FeatureFlagConfig interface {
	GetFeatureFlagsFile() string
}

// PhoneConfig provides the default region for phone normalization.
type PhoneConfig interface {
	GetPhoneDefaultRegion() string
}

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds all application configuration values.
type Config struct {
	Env              string
	HTTPAddr         string
	DatabaseURL      string
	MigrationsDir    string
	JWTAccessSecret  string
	CORSAllowAll     bool
	CORSOrigins      []string
	CORSAllowCreds   bool
	IngestRateLimit  float64
	IngestRateBurst  int
	RedisURL         string
	RedisTLSInsecure bool
	AsynqQueueName   string
	AsynqConcurrency int

	DispatchInterval   time.Duration
	LeaseSweepInterval time.Duration

	WebhookSigningSecret    string
	OutboxTargets           []OutboxTarget
	OutboxLeadTargets       []string
	OutboxMaxAttempts       int
	OutboxBackoffBase       time.Duration
	OutboxBackoffMax        time.Duration
	OutboxHTTPTimeout       time.Duration
	OutboxBatchSize         int
	OutboxVisibilityTimeout time.Duration
	OutboxConcurrency       int
	OutboxFailFast4xx       bool
	OutboxArchiveBucket     string

	N8NToken        string
	N8NHMACSecret   string
	JobLeaseTTL     time.Duration
	SignatureWindow time.Duration

	QdrantURL            string
	QdrantAPIKey         string
	QdrantCollection     string
	EmbeddingAPIURL      string
	EmbeddingAPIKey      string
	GeminiAPIKey         string
	GeminiEmbeddingModel string

	MinIOEndpoint    string
	MinIOAccessKey   string
	MinIOSecretKey   string
	MinIOUseSSL      bool
	MinIOMaxFileSize int64

	SMTPHost         string
	SMTPPort         int
	SMTPUsername     string
	SMTPPassword     string
	EmailFromName    string
	EmailFromAddress string
	AlertEmailTo     string

	IMAPHost             string
	IMAPPort             int
	IMAPUsername         string
	IMAPPassword         string
	IMAPFolder           string
	IMAPPollInterval     time.Duration
	IMAPOrganizationSlug string

	FeatureFlagsFile   string
	PhoneDefaultRegion string
}

// =============================================================================
// Interface Implementations
// =============================================================================

// DatabaseConfig implementation
func (c *Config) GetDatabaseURL() string { return c.DatabaseURL }

// JWTConfig implementation
func (c *Config) GetJWTAccessSecret() string { return c.JWTAccessSecret }

// HTTPConfig implementation
func (c *Config) GetHTTPAddr() string         { return c.HTTPAddr }
func (c *Config) GetCORSAllowAll() bool       { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string    { return c.CORSOrigins }
func (c *Config) GetCORSAllowCreds() bool     { return c.CORSAllowCreds }
func (c *Config) GetIngestRateLimit() float64 { return c.IngestRateLimit }
func (c *Config) GetIngestRateBurst() int     { return c.IngestRateBurst }

// SchedulerConfig implementation
func (c *Config) GetRedisURL() string                  { return c.RedisURL }
func (c *Config) GetRedisTLSInsecure() bool            { return c.RedisTLSInsecure }
func (c *Config) GetAsynqQueueName() string            { return c.AsynqQueueName }
func (c *Config) GetAsynqConcurrency() int             { return c.AsynqConcurrency }
func (c *Config) GetDispatchInterval() time.Duration   { return c.DispatchInterval }
func (c *Config) GetLeaseSweepInterval() time.Duration { return c.LeaseSweepInterval }

// OutboxConfig implementation
func (c *Config) GetWebhookSigningSecret() string           { return c.WebhookSigningSecret }
func (c *Config) GetOutboxTargets() []OutboxTarget          { return c.OutboxTargets }
func (c *Config) GetOutboxLeadTargets() []string            { return c.OutboxLeadTargets }
func (c *Config) GetOutboxMaxAttempts() int                 { return c.OutboxMaxAttempts }
func (c *Config) GetOutboxBackoffBase() time.Duration       { return c.OutboxBackoffBase }
func (c *Config) GetOutboxBackoffMax() time.Duration        { return c.OutboxBackoffMax }
func (c *Config) GetOutboxHTTPTimeout() time.Duration       { return c.OutboxHTTPTimeout }
func (c *Config) GetOutboxBatchSize() int                   { return c.OutboxBatchSize }
func (c *Config) GetOutboxVisibilityTimeout() time.Duration { return c.OutboxVisibilityTimeout }
func (c *Config) GetOutboxConcurrency() int                 { return c.OutboxConcurrency }
func (c *Config) GetOutboxFailFast4xx() bool                { return c.OutboxFailFast4xx }
func (c *Config) GetOutboxArchiveBucket() string            { return c.OutboxArchiveBucket }

// JobsConfig implementation
func (c *Config) GetN8NToken() string               { return c.N8NToken }
func (c *Config) GetN8NHMACSecret() string          { return c.N8NHMACSecret }
func (c *Config) GetJobLeaseTTL() time.Duration     { return c.JobLeaseTTL }
func (c *Config) GetSignatureWindow() time.Duration { return c.SignatureWindow }

// QdrantConfig implementation
func (c *Config) GetQdrantURL() string        { return c.QdrantURL }
func (c *Config) GetQdrantAPIKey() string     { return c.QdrantAPIKey }
func (c *Config) GetQdrantCollection() string { return c.QdrantCollection }
func (c *Config) IsQdrantEnabled() bool {
	return c.QdrantURL != "" && c.QdrantCollection != ""
}

// EmbeddingConfig implementation
func (c *Config) GetEmbeddingAPIURL() string      { return c.EmbeddingAPIURL }
func (c *Config) GetEmbeddingAPIKey() string      { return c.EmbeddingAPIKey }
func (c *Config) GetGeminiAPIKey() string         { return c.GeminiAPIKey }
func (c *Config) GetGeminiEmbeddingModel() string { return c.GeminiEmbeddingModel }
func (c *Config) IsEmbeddingEnabled() bool {
	return c.EmbeddingAPIURL != "" || c.GeminiAPIKey != ""
}

// MinIOConfig implementation
func (c *Config) GetMinIOEndpoint() string   { return c.MinIOEndpoint }
func (c *Config) GetMinIOAccessKey() string  { return c.MinIOAccessKey }
func (c *Config) GetMinIOSecretKey() string  { return c.MinIOSecretKey }
func (c *Config) GetMinIOUseSSL() bool       { return c.MinIOUseSSL }
func (c *Config) GetMinIOMaxFileSize() int64 { return c.MinIOMaxFileSize }
func (c *Config) IsMinIOEnabled() bool       { return c.MinIOEndpoint != "" }

// SMTPConfig implementation
func (c *Config) GetSMTPHost() string         { return c.SMTPHost }
func (c *Config) GetSMTPPort() int            { return c.SMTPPort }
func (c *Config) GetSMTPUsername() string     { return c.SMTPUsername }
func (c *Config) GetSMTPPassword() string     { return c.SMTPPassword }
func (c *Config) GetEmailFromName() string    { return c.EmailFromName }
func (c *Config) GetEmailFromAddress() string { return c.EmailFromAddress }
func (c *Config) GetAlertEmailTo() string     { return c.AlertEmailTo }
func (c *Config) IsAlertEmailEnabled() bool {
	return c.SMTPHost != "" && c.AlertEmailTo != "" && c.EmailFromAddress != ""
}

// IMAPConfig implementation
func (c *Config) GetIMAPHost() string                { return c.IMAPHost }
func (c *Config) GetIMAPPort() int                   { return c.IMAPPort }
func (c *Config) GetIMAPUsername() string            { return c.IMAPUsername }
func (c *Config) GetIMAPPassword() string            { return c.IMAPPassword }
func (c *Config) GetIMAPFolder() string              { return c.IMAPFolder }
func (c *Config) GetIMAPPollInterval() time.Duration { return c.IMAPPollInterval }
func (c *Config) GetIMAPOrganizationSlug() string    { return c.IMAPOrganizationSlug }
func (c *Config) IsIMAPEnabled() bool {
	return c.IMAPHost != "" && c.IMAPUsername != ""
}

// FeatureFlagConfig implementation
func (c *Config) GetFeatureFlagsFile() string { return c.FeatureFlagsFile }

// PhoneConfig implementation
func (c *Config) GetPhoneDefaultRegion() string { return c.PhoneDefaultRegion }

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	corsOrigins := splitCSV(getEnv("CORS_ORIGINS", "http://localhost:4200"))
	corsAllowAll := strings.EqualFold(getEnv("CORS_ALLOW_ALL", "false"), "true")
	if containsWildcard(corsOrigins) {
		corsAllowAll = true
	}

	targets := outboxTargetsFromEnv(splitCSV(getEnv("OUTBOX_TARGETS", "n8n,hubspot,katalyst")))

	cfg := &Config{
		Env:              getEnv("APP_ENV", "development"),
		HTTPAddr:         getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:      getEnv("DATABASE_URL", ""),
		MigrationsDir:    getEnv("MIGRATIONS_DIR", "migrations"),
		JWTAccessSecret:  getEnv("JWT_ACCESS_SECRET", ""),
		CORSAllowAll:     corsAllowAll,
		CORSOrigins:      corsOrigins,
		CORSAllowCreds:   strings.EqualFold(getEnv("CORS_ALLOW_CREDENTIALS", "false"), "true"),
		IngestRateLimit:  mustFloat(getEnv("INGEST_RATE_PER_SECOND", "5")),
		IngestRateBurst:  mustInt(getEnv("INGEST_RATE_BURST", "20")),
		RedisURL:         getEnv("REDIS_URL", ""),
		RedisTLSInsecure: strings.EqualFold(getEnv("REDIS_TLS_INSECURE", "false"), "true"),
		AsynqQueueName:   getEnv("ASYNQ_QUEUE", "default"),
		AsynqConcurrency: mustInt(getEnv("ASYNQ_CONCURRENCY", "10")),

		DispatchInterval:   mustDuration(getEnv("OUTBOX_DISPATCH_INTERVAL", "30s")),
		LeaseSweepInterval: mustDuration(getEnv("JOB_LEASE_SWEEP_INTERVAL", "1m")),

		WebhookSigningSecret:    getEnv("WEBHOOK_SIGNING_SECRET", ""),
		OutboxTargets:           targets,
		OutboxLeadTargets:       splitCSV(getEnv("OUTBOX_LEAD_TARGETS", "n8n,hubspot,katalyst")),
		OutboxMaxAttempts:       mustInt(getEnv("OUTBOX_MAX_ATTEMPTS", "3")),
		OutboxBackoffBase:       mustDuration(getEnv("OUTBOX_BACKOFF_BASE", "1m")),
		OutboxBackoffMax:        mustDuration(getEnv("OUTBOX_BACKOFF_MAX", "15m")),
		OutboxHTTPTimeout:       mustDuration(getEnv("OUTBOX_HTTP_TIMEOUT", "30s")),
		OutboxBatchSize:         mustInt(getEnv("OUTBOX_BATCH_SIZE", "50")),
		OutboxVisibilityTimeout: mustDuration(getEnv("OUTBOX_VISIBILITY_TIMEOUT", "2m")),
		OutboxConcurrency:       mustInt(getEnv("OUTBOX_CONCURRENCY", "1")),
		OutboxFailFast4xx:       strings.EqualFold(getEnv("OUTBOX_FAIL_FAST_4XX", "false"), "true"),
		OutboxArchiveBucket:     getEnv("OUTBOX_ARCHIVE_BUCKET", "outbox-dead-letters"),

		N8NToken:        getEnv("N8N_TOKEN", ""),
		N8NHMACSecret:   getEnv("N8N_HMAC_SECRET", ""),
		JobLeaseTTL:     mustDuration(getEnv("JOB_LEASE_TTL", "10m")),
		SignatureWindow: mustDuration(getEnv("SIGNATURE_WINDOW", "5m")),

		QdrantURL:            getEnv("QDRANT_URL", ""),
		QdrantAPIKey:         getEnv("QDRANT_API_KEY", ""),
		QdrantCollection:     getEnv("QDRANT_COLLECTION", "properties"),
		EmbeddingAPIURL:      getEnv("EMBEDDING_API_URL", ""),
		EmbeddingAPIKey:      getEnv("EMBEDDING_API_KEY", ""),
		GeminiAPIKey:         getEnv("GEMINI_API_KEY", ""),
		GeminiEmbeddingModel: getEnv("GEMINI_EMBEDDING_MODEL", "text-embedding-004"),

		MinIOEndpoint:    getEnv("MINIO_ENDPOINT", ""),
		MinIOAccessKey:   getEnv("MINIO_ACCESS_KEY", ""),
		MinIOSecretKey:   getEnv("MINIO_SECRET_KEY", ""),
		MinIOUseSSL:      strings.EqualFold(getEnv("MINIO_USE_SSL", "false"), "true"),
		MinIOMaxFileSize: mustInt64(getEnv("MINIO_MAX_FILE_SIZE", "10485760")),

		SMTPHost:         getEnv("SMTP_HOST", ""),
		SMTPPort:         mustInt(getEnv("SMTP_PORT", "587")),
		SMTPUsername:     getEnv("SMTP_USERNAME", ""),
		SMTPPassword:     getEnv("SMTP_PASSWORD", ""),
		EmailFromName:    getEnv("EMAIL_FROM_NAME", "Estate Portal"),
		EmailFromAddress: getEnv("EMAIL_FROM_ADDRESS", ""),
		AlertEmailTo:     getEnv("ALERT_EMAIL_TO", ""),

		IMAPHost:             getEnv("IMAP_HOST", ""),
		IMAPPort:             mustInt(getEnv("IMAP_PORT", "993")),
		IMAPUsername:         getEnv("IMAP_USERNAME", ""),
		IMAPPassword:         getEnv("IMAP_PASSWORD", ""),
		IMAPFolder:           getEnv("IMAP_FOLDER", "INBOX"),
		IMAPPollInterval:     mustDuration(getEnv("IMAP_POLL_INTERVAL", "1m")),
		IMAPOrganizationSlug: getEnv("IMAP_ORGANIZATION_SLUG", ""),

		FeatureFlagsFile:   getEnv("FEATURE_FLAGS_FILE", ""),
		PhoneDefaultRegion: getEnv("PHONE_DEFAULT_REGION", "PH"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.JWTAccessSecret == "" {
		return fmt.Errorf("JWT_ACCESS_SECRET is required")
	}
	if c.CORSAllowAll && c.CORSAllowCreds {
		return fmt.Errorf("CORS_ALLOW_CREDENTIALS cannot be true when CORS_ALLOW_ALL is true")
	}
	if len(c.OutboxTargets) > 0 && c.WebhookSigningSecret == "" {
		return fmt.Errorf("WEBHOOK_SIGNING_SECRET is required when outbox targets are configured")
	}
	if c.OutboxMaxAttempts < 1 {
		return fmt.Errorf("OUTBOX_MAX_ATTEMPTS must be at least 1")
	}
	if c.OutboxBackoffBase <= 0 || c.OutboxBackoffMax < c.OutboxBackoffBase {
		return fmt.Errorf("OUTBOX_BACKOFF_BASE must be positive and not exceed OUTBOX_BACKOFF_MAX")
	}
	if c.JobLeaseTTL <= 0 {
		return fmt.Errorf("JOB_LEASE_TTL must be a positive duration")
	}
	if c.SignatureWindow <= 0 {
		return fmt.Errorf("SIGNATURE_WINDOW must be a positive duration")
	}
	return nil
}

// outboxTargetsFromEnv resolves OUTBOX_TARGET_<NAME>_URL for each requested target.
// Targets without a URL are left out, which disables delivery to them.
func outboxTargetsFromEnv(names []string) []OutboxTarget {
	targets := make([]OutboxTarget, 0, len(names))
	for _, name := range names {
		key := "OUTBOX_TARGET_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_")) + "_URL"
		url := strings.TrimSpace(getEnv(key, ""))
		if url == "" {
			continue
		}
		targets = append(targets, OutboxTarget{Name: strings.ToLower(name), URL: url})
	}
	return targets
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func mustDuration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}

func mustInt(value string) int {
	result, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0
	}
	return result
}

func mustInt64(value string) int64 {
	result, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0
	}
	return result
}

func mustFloat(value string) float64 {
	result, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0
	}
	return result
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	results := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			results = append(results, trimmed)
		}
	}
	return results
}

func containsWildcard(values []string) bool {
	for _, value := range values {
		if value == "*" {
			return true
		}
	}
	return false
}
