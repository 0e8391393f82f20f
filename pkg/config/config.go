package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/openlot/openlot/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Media         MediaConfig
	Identity      IdentityConfig
	Sync          SyncConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	URL         string
	ReplicaURLs string
	MaxConns    int
	MinConns    int
	Timeout     time.Duration
	MaxLifetime time.Duration
	MaxIdleTime time.Duration
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// MediaConfig holds S3 object storage configuration for listing media
type MediaConfig struct {
	S3Endpoint     string
	S3Region       string
	S3Bucket       string
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool
}

// IdentityConfig holds external identity provider configuration
type IdentityConfig struct {
	// Management API
	BaseURL        string
	APIKey         string
	RequestTimeout time.Duration

	// OAuth2 client-credentials token source for the management API.
	// When TokenURL is set it takes precedence over the static APIKey.
	ClientID     string
	ClientSecret string
	TokenURL     string

	// Session token verification
	IssuerURL string
	Audience  string
}

// SyncConfig holds role synchronization configuration
type SyncConfig struct {
	// Cron expression for the outbox reconciler
	ReconcileSchedule string
	OutboxBatchSize   int
	ProfileCacheSize  int
	ProfileCacheTTL   time.Duration
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("OPENLOT_HOST", "0.0.0.0"),
			Port:            getEnv("OPENLOT_PORT", "8080"),
			ReadTimeout:     getEnvDuration("OPENLOT_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("OPENLOT_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("OPENLOT_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("OPENLOT_SHUTDOWN_TIMEOUT", 30*time.Second),
			HealthPort:      getEnv("OPENLOT_HEALTH_PORT", "9090"),
		},
		Database: DatabaseConfig{
			URL:         getEnv("OPENLOT_POSTGRES_URL", ""),
			ReplicaURLs: getEnv("OPENLOT_POSTGRES_REPLICA_URLS", ""),
			MaxConns:    getEnvInt("OPENLOT_POSTGRES_MAX_CONNS", 25),
			MinConns:    getEnvInt("OPENLOT_POSTGRES_MIN_CONNS", 5),
			Timeout:     getEnvDuration("OPENLOT_POSTGRES_TIMEOUT", 10*time.Second),
			MaxLifetime: getEnvDuration("OPENLOT_POSTGRES_MAX_LIFETIME", 30*time.Minute),
			MaxIdleTime: getEnvDuration("OPENLOT_POSTGRES_MAX_IDLE_TIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			Addr:     getEnv("OPENLOT_REDIS_ADDR", ""),
			Password: getEnv("OPENLOT_REDIS_PASSWORD", ""),
			DB:       getEnvInt("OPENLOT_REDIS_DB", 0),
		},
		Media: MediaConfig{
			S3Endpoint:     getEnv("OPENLOT_S3_ENDPOINT", ""),
			S3Region:       getEnv("OPENLOT_S3_REGION", "us-east-1"),
			S3Bucket:       getEnv("OPENLOT_S3_BUCKET", ""),
			S3AccessKey:    getEnv("OPENLOT_S3_ACCESS_KEY", ""),
			S3SecretKey:    getEnv("OPENLOT_S3_SECRET_KEY", ""),
			S3UsePathStyle: getEnvBool("OPENLOT_S3_USE_PATH_STYLE", false),
		},
		Identity: IdentityConfig{
			BaseURL:        getEnv("OPENLOT_IDENTITY_BASE_URL", ""),
			APIKey:         getEnv("OPENLOT_IDENTITY_API_KEY", ""),
			RequestTimeout: getEnvDuration("OPENLOT_IDENTITY_TIMEOUT", 5*time.Second),
			ClientID:       getEnv("OPENLOT_IDENTITY_CLIENT_ID", ""),
			ClientSecret:   getEnv("OPENLOT_IDENTITY_CLIENT_SECRET", ""),
			TokenURL:       getEnv("OPENLOT_IDENTITY_TOKEN_URL", ""),
			IssuerURL:      getEnv("OPENLOT_IDENTITY_ISSUER_URL", ""),
			Audience:       getEnv("OPENLOT_IDENTITY_AUDIENCE", ""),
		},
		Sync: SyncConfig{
			ReconcileSchedule: getEnv("OPENLOT_SYNC_RECONCILE_SCHEDULE", "*/5 * * * *"),
			OutboxBatchSize:   getEnvInt("OPENLOT_SYNC_OUTBOX_BATCH", 50),
			ProfileCacheSize:  getEnvInt("OPENLOT_SYNC_PROFILE_CACHE_SIZE", 1024),
			ProfileCacheTTL:   getEnvDuration("OPENLOT_SYNC_PROFILE_CACHE_TTL", 5*time.Minute),
		},
		Observability: ObservabilityConfig{
			LogLevel:           observability.ParseLogLevel(getEnv("OPENLOT_LOG_LEVEL", "info")),
			MetricsEnabled:     getEnvBool("OPENLOT_METRICS_ENABLED", true),
			OTelEnabled:        getEnvBool("OPENLOT_OTEL_ENABLED", false),
			OTelEndpoint:       getEnv("OPENLOT_OTEL_ENDPOINT", "localhost:4317"),
			OTelServiceName:    getEnv("OPENLOT_OTEL_SERVICE_NAME", "openlot-api"),
			OTelServiceVersion: getEnv("OPENLOT_OTEL_SERVICE_VERSION", "1.0.0"),
			OTelInsecure:       getEnvBool("OPENLOT_OTEL_INSECURE", true),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Database.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}

	if c.Identity.BaseURL == "" {
		return fmt.Errorf("identity provider base URL is required")
	}
	if c.Identity.IssuerURL == "" {
		return fmt.Errorf("identity provider issuer URL is required")
	}
	if c.Identity.APIKey == "" && c.Identity.TokenURL == "" {
		return fmt.Errorf("identity provider credentials are required (API key or OAuth2 token URL)")
	}
	if c.Identity.TokenURL != "" && (c.Identity.ClientID == "" || c.Identity.ClientSecret == "") {
		return fmt.Errorf("identity OAuth2 client id and secret are required when token URL is set")
	}

	if c.Media.S3Bucket != "" && c.Media.S3Region == "" {
		return fmt.Errorf("S3 region is required when media bucket is configured")
	}

	if c.Observability.OTelEnabled && c.Observability.OTelEndpoint == "" {
		return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
