// Package config handles application configuration.
package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jmylchreest/postforge-api/internal/crypto"
)

// Config holds all application configuration.
type Config struct {
	// Server settings
	Port    int
	BaseURL string

	// Database
	DatabaseURL string

	// Authentication
	JWTSecret     string
	JWTIssuer     string
	EncryptionKey []byte // 32-byte key for AES-256-GCM encryption

	// Stripe
	StripeSecretKey     string
	StripeWebhookSecret string

	// LLM providers
	OpenAIAPIKey      string
	OpenAIBaseURL     string
	AnthropicAPIKey   string
	AnthropicBaseURL  string
	OpenRouterAPIKey  string
	OpenRouterBaseURL string
	GenerationTimeout time.Duration
	DefaultProvider   string

	// Quota
	Quota QuotaConfig

	// Publishing
	PublishMaxAttempts       int
	PublishBaseBackoff       time.Duration
	PublishMaxBackoff        time.Duration
	PublishAttemptTimeout    time.Duration
	PublishInlineRetryWindow time.Duration
	PublishRatePerMinute     int
	FacebookGraphURL         string
	TikTokAPIURL             string

	// Redis (optional; shared outbound rate limiting)
	RedisURL string

	// CORS
	CORSOrigins []string

	// Object Storage (Tigris/S3-compatible)
	StorageEnabled   bool
	StorageEndpoint  string // AWS_ENDPOINT_URL_S3
	StorageAccessKey string // AWS_ACCESS_KEY_ID
	StorageSecretKey string // AWS_SECRET_ACCESS_KEY
	StorageBucket    string // Bucket name (one per environment)
	StorageRegion    string // Region (auto for Tigris)
	PricingKey       string // Object key for model pricing overrides

	// Worker
	WorkerPollInterval        time.Duration // How often to poll for due items (default 5s)
	WorkerConcurrency         int           // Number of concurrent pollers (default 3)
	WorkerShutdownGracePeriod time.Duration // Max time to wait for running dispatches during shutdown

	// Cleanup
	CleanupInterval     time.Duration
	StaleReservationAge time.Duration // Unsettled quota holds older than this are released
	MediaRetention      time.Duration // Generated media older than this is deleted (0 keeps forever)

	// Tracing
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnvInt("PORT", 8080),
		BaseURL:     getEnv("BASE_URL", "http://localhost:8080"),
		DatabaseURL: getEnv("DATABASE_URL", "file:postforge.db?_journal=WAL&_timeout=5000"),
		JWTSecret:   getEnv("JWT_SECRET", ""),
		JWTIssuer:   getEnv("JWT_ISSUER", ""),

		StripeSecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),

		OpenAIAPIKey:      getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:     getEnv("OPENAI_BASE_URL", ""),
		AnthropicAPIKey:   getEnv("ANTHROPIC_API_KEY", ""),
		AnthropicBaseURL:  getEnv("ANTHROPIC_BASE_URL", ""),
		OpenRouterAPIKey:  getEnv("OPENROUTER_API_KEY", ""),
		OpenRouterBaseURL: getEnv("OPENROUTER_BASE_URL", ""),
		GenerationTimeout: getEnvDuration("GENERATION_TIMEOUT", 60*time.Second),
		DefaultProvider:   getEnv("LLM_DEFAULT_PROVIDER", "openai"),

		Quota: QuotaConfig{
			DefaultAllotment: getEnvInt64("QUOTA_DEFAULT_ALLOTMENT", 100000),
			PlanAllotments:   parsePlanAllotments(getEnv("QUOTA_PLAN_ALLOTMENTS", "")),
		},

		PublishMaxAttempts:       getEnvInt("PUBLISH_MAX_ATTEMPTS", 5),
		PublishBaseBackoff:       getEnvDuration("PUBLISH_BASE_BACKOFF", 2*time.Second),
		PublishMaxBackoff:        getEnvDuration("PUBLISH_MAX_BACKOFF", 10*time.Minute),
		PublishAttemptTimeout:    getEnvDuration("PUBLISH_ATTEMPT_TIMEOUT", 30*time.Second),
		PublishInlineRetryWindow: getEnvDuration("PUBLISH_INLINE_RETRY_WINDOW", 15*time.Second),
		PublishRatePerMinute:     getEnvInt("PUBLISH_RATE_PER_MINUTE", 30),
		FacebookGraphURL:         getEnv("FACEBOOK_GRAPH_URL", "https://graph.facebook.com/v19.0"),
		TikTokAPIURL:             getEnv("TIKTOK_API_URL", "https://open.tiktokapis.com"),

		RedisURL: getEnv("REDIS_URL", ""),

		CORSOrigins: getEnvSlice("CORS_ORIGINS", []string{"http://localhost:3000"}),

		// BUCKET_NAME is set automatically by `fly storage create`
		StorageEndpoint:  getEnv("AWS_ENDPOINT_URL_S3", ""),
		StorageAccessKey: getEnv("AWS_ACCESS_KEY_ID", ""),
		StorageSecretKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
		StorageBucket:    getEnvWithFallback("BUCKET_NAME", "STORAGE_BUCKET", ""),
		StorageRegion:    getEnv("AWS_REGION", "auto"),
		PricingKey:       getEnv("PRICING_CONFIG_KEY", "config/model_pricing.json"),

		WorkerPollInterval:        getEnvDuration("WORKER_POLL_INTERVAL", 5*time.Second),
		WorkerConcurrency:         getEnvInt("WORKER_CONCURRENCY", 3),
		WorkerShutdownGracePeriod: getEnvDuration("WORKER_SHUTDOWN_GRACE_PERIOD", 2*time.Minute),

		CleanupInterval:     getEnvDuration("CLEANUP_INTERVAL", time.Hour),
		StaleReservationAge: getEnvDuration("STALE_RESERVATION_AGE", 10*time.Minute),
		MediaRetention:      getEnvDuration("MEDIA_RETENTION", 30*24*time.Hour),

		TracingEnabled:    getEnvBool("TRACING_ENABLED", false),
		OTLPEndpoint:      getEnv("OTLP_ENDPOINT", "localhost:4317"),
		TracingSampleRate: getEnvFloat("TRACING_SAMPLE_RATE", 1.0),
	}

	cfg.StorageEnabled = cfg.StorageBucket != "" && cfg.StorageEndpoint != ""

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.PublishMaxAttempts < 1 {
		return nil, fmt.Errorf("PUBLISH_MAX_ATTEMPTS must be at least 1")
	}
	if cfg.WorkerConcurrency < 1 {
		cfg.WorkerConcurrency = 1
	}

	// Set up encryption key (derive from JWT secret if not explicitly set)
	encKeyStr := getEnv("ENCRYPTION_KEY", "")
	if encKeyStr != "" {
		decoded, err := base64.StdEncoding.DecodeString(encKeyStr)
		if err != nil || len(decoded) != 32 {
			return nil, fmt.Errorf("ENCRYPTION_KEY must be a base64-encoded 32-byte key")
		}
		cfg.EncryptionKey = decoded
	} else {
		key, err := deriveEncryptionKey(cfg.JWTSecret)
		if err != nil {
			return nil, err
		}
		cfg.EncryptionKey = key
	}

	return cfg, nil
}

// RedisEnabled returns true if a shared Redis is configured.
func (c *Config) RedisEnabled() bool {
	return c.RedisURL != ""
}

// leaseMargin pads leases for bookkeeping around the publish calls.
const leaseMargin = 30 * time.Second

// AttemptLease is how long a claimed publish attempt stays reserved.
// It outlives the attempt timeout so a live attempt is never re-claimed.
func (c *Config) AttemptLease() time.Duration {
	return c.PublishAttemptTimeout + leaseMargin
}

// ItemLease is how long a claimed item stays reserved. One dispatch pass can
// run every attempt inline, each followed by up to the inline retry window.
func (c *Config) ItemLease() time.Duration {
	n := c.PublishMaxAttempts
	if n < 1 {
		n = 1
	}
	return time.Duration(n)*(c.PublishAttemptTimeout+c.PublishInlineRetryWindow) + leaseMargin
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.ParseInt(value, 10, 64); err == nil {
			return v
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.ParseFloat(value, 64); err == nil {
			return v
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		lower := strings.ToLower(value)
		return lower == "true" || lower == "1" || lower == "yes"
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return defaultValue
}

func getEnvWithFallback(primary, fallback, defaultValue string) string {
	if value := os.Getenv(primary); value != "" {
		return value
	}
	if value := os.Getenv(fallback); value != "" {
		return value
	}
	return defaultValue
}

// deriveEncryptionKey creates a 32-byte AES-256 key from the JWT secret.
func deriveEncryptionKey(secret string) ([]byte, error) {
	return crypto.DeriveKey(secret, "postforge-api-encryption-key-v1", "aes-256-gcm-credential-sealing")
}
