package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/gatekeeper/pkg/audit"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
	"github.com/platinummonkey/gatekeeper/pkg/rbac"
	"github.com/platinummonkey/gatekeeper/pkg/roles"
	"github.com/platinummonkey/gatekeeper/pkg/session"
	"github.com/platinummonkey/gatekeeper/pkg/storage"
)

// Config holds all application configuration
type Config struct {
	// Storage configuration
	Storage storage.Config

	// Session configuration
	Session SessionConfig

	// Role policy
	Roles RolesConfig

	// Engine tuning
	Engine EngineConfig

	// Observability configuration
	Observability ObservabilityConfig

	// Audit trail configuration
	Audit AuditConfig
}

// SessionConfig holds session lifetime settings
type SessionConfig struct {
	NormalTTL    time.Duration
	EscalatedTTL time.Duration

	// RedisPrefix namespaces session keys; sessions are only persisted
	// when Storage.RedisURL is set
	RedisPrefix string
}

// RolesConfig bounds custom role levels and admin capability
type RolesConfig struct {
	CustomLevelMin int
	CustomLevelMax int
	AdminThreshold int
	AdminDomains   []string

	// AdminGating keeps admin-capable roles out of normal sessions
	AdminGating bool
}

// EngineConfig holds snapshot settings
type EngineConfig struct {
	MemoSize int
	MaxDepth int

	// RefreshSchedule is a cron spec for periodic reloads, empty disables
	RefreshSchedule string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool
	MetricsAddr    string

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
	OTelSampleRatio    float64
}

// AuditConfig holds audit trail settings
type AuditConfig struct {
	Enabled  bool
	Path     string
	MaxSize  int64
	MaxFiles int
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Storage:       loadStorageConfig(),
		Session:       loadSessionConfig(),
		Roles:         loadRolesConfig(),
		Engine:        loadEngineConfig(),
		Observability: loadObservabilityConfig(),
		Audit:         loadAuditConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadStorageConfig loads storage configuration from environment
func loadStorageConfig() storage.Config {
	cfg := storage.DefaultConfig()

	if storageType := getEnv("GATEKEEPER_STORAGE_TYPE", ""); storageType != "" {
		cfg.Type = storageType
	}
	if path := getEnv("GATEKEEPER_SNAPSHOT_PATH", ""); path != "" {
		cfg.SnapshotPath = path
	}

	// PostgreSQL config
	if pgURL := getEnv("GATEKEEPER_POSTGRES_URL", ""); pgURL != "" {
		cfg.PostgresURL = pgURL
	}
	if maxConns := getEnvInt("GATEKEEPER_POSTGRES_MAX_CONNS", 0); maxConns > 0 {
		cfg.PostgresMaxConns = maxConns
	}
	if minConns := getEnvInt("GATEKEEPER_POSTGRES_MIN_CONNS", 0); minConns > 0 {
		cfg.PostgresMinConns = minConns
	}
	if timeout := getEnvDuration("GATEKEEPER_POSTGRES_TIMEOUT", 0); timeout > 0 {
		cfg.PostgresTimeout = timeout
	}

	// Redis config
	if redisURL := getEnv("GATEKEEPER_REDIS_URL", ""); redisURL != "" {
		cfg.RedisURL = redisURL
	}
	if redisPassword := getEnv("GATEKEEPER_REDIS_PASSWORD", ""); redisPassword != "" {
		cfg.RedisPassword = redisPassword
	}
	if redisDB := getEnvInt("GATEKEEPER_REDIS_DB", -1); redisDB >= 0 {
		cfg.RedisDB = redisDB
	}
	if redisMaxRetries := getEnvInt("GATEKEEPER_REDIS_MAX_RETRIES", 0); redisMaxRetries > 0 {
		cfg.RedisMaxRetries = redisMaxRetries
	}
	if redisPoolSize := getEnvInt("GATEKEEPER_REDIS_POOL_SIZE", 0); redisPoolSize > 0 {
		cfg.RedisPoolSize = redisPoolSize
	}

	return cfg
}

func loadSessionConfig() SessionConfig {
	return SessionConfig{
		NormalTTL:    getEnvDuration("GATEKEEPER_SESSION_TTL", session.DefaultNormalTTL),
		EscalatedTTL: getEnvDuration("GATEKEEPER_ESCALATED_SESSION_TTL", session.DefaultEscalatedTTL),
		RedisPrefix:  getEnv("GATEKEEPER_SESSION_PREFIX", "gatekeeper:session:"),
	}
}

func loadRolesConfig() RolesConfig {
	policy := roles.DefaultPolicy()
	return RolesConfig{
		CustomLevelMin: getEnvInt("GATEKEEPER_CUSTOM_LEVEL_MIN", policy.CustomLevelMin),
		CustomLevelMax: getEnvInt("GATEKEEPER_CUSTOM_LEVEL_MAX", policy.CustomLevelMax),
		AdminThreshold: getEnvInt("GATEKEEPER_ADMIN_THRESHOLD", policy.AdminThreshold),
		AdminDomains:   getEnvList("GATEKEEPER_ADMIN_DOMAINS", policy.AdminDomains),
		AdminGating:    getEnvBool("GATEKEEPER_ADMIN_GATING", true),
	}
}

func loadEngineConfig() EngineConfig {
	return EngineConfig{
		MemoSize:        getEnvInt("GATEKEEPER_MEMO_SIZE", roles.DefaultMemoSize),
		MaxDepth:        getEnvInt("GATEKEEPER_MAX_DEPARTMENT_DEPTH", 64),
		RefreshSchedule: getEnv("GATEKEEPER_REFRESH_SCHEDULE", ""),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("GATEKEEPER_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("GATEKEEPER_METRICS_ENABLED", true),
		MetricsAddr:        getEnv("GATEKEEPER_METRICS_ADDR", ":9090"),
		OTelEnabled:        getEnvBool("GATEKEEPER_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("GATEKEEPER_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("GATEKEEPER_OTEL_SERVICE_NAME", observability.DefaultServiceName),
		OTelServiceVersion: getEnv("GATEKEEPER_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("GATEKEEPER_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("GATEKEEPER_OTEL_SAMPLE_RATIO", 1),
	}
}

func loadAuditConfig() AuditConfig {
	def := audit.DefaultFileLoggerConfig()
	return AuditConfig{
		Enabled:  getEnvBool("GATEKEEPER_AUDIT_ENABLED", false),
		Path:     getEnv("GATEKEEPER_AUDIT_PATH", def.BasePath),
		MaxSize:  getEnvInt64("GATEKEEPER_AUDIT_MAX_SIZE", def.MaxSize),
		MaxFiles: getEnvInt("GATEKEEPER_AUDIT_MAX_FILES", def.MaxFiles),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Storage.Type {
	case "snapshot":
		if c.Storage.SnapshotPath == "" {
			return fmt.Errorf("snapshot path is required for snapshot storage")
		}
	case "postgres":
		if c.Storage.PostgresURL == "" {
			return fmt.Errorf("postgres URL is required for postgres storage")
		}
	default:
		return fmt.Errorf("invalid storage type: %s (must be snapshot or postgres)", c.Storage.Type)
	}

	if c.Session.NormalTTL <= 0 || c.Session.EscalatedTTL <= 0 {
		return fmt.Errorf("session TTLs must be positive")
	}
	if c.Session.EscalatedTTL > c.Session.NormalTTL {
		return fmt.Errorf("escalated session TTL %s exceeds normal TTL %s", c.Session.EscalatedTTL, c.Session.NormalTTL)
	}

	r := c.Roles
	if r.CustomLevelMin < 0 || r.CustomLevelMin > r.CustomLevelMax {
		return fmt.Errorf("invalid custom level range %d..%d", r.CustomLevelMin, r.CustomLevelMax)
	}
	if r.CustomLevelMax >= r.AdminThreshold {
		return fmt.Errorf("custom level max %d must be below admin threshold %d", r.CustomLevelMax, r.AdminThreshold)
	}

	if c.Engine.MemoSize <= 0 {
		return fmt.Errorf("memo size must be positive")
	}
	if c.Engine.MaxDepth <= 0 {
		return fmt.Errorf("max department depth must be positive")
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
		if c.Observability.OTelSampleRatio < 0 || c.Observability.OTelSampleRatio > 1 {
			return fmt.Errorf("OpenTelemetry sample ratio must be within 0..1")
		}
	}

	if c.Audit.Enabled && c.Audit.Path == "" {
		return fmt.Errorf("audit path is required when audit is enabled")
	}

	return nil
}

// EngineOptions returns the engine configuration
func (c *Config) EngineOptions() rbac.Config {
	return rbac.Config{
		MemoSize: c.Engine.MemoSize,
		MaxDepth: c.Engine.MaxDepth,
		Policy: roles.Policy{
			CustomLevelMin: c.Roles.CustomLevelMin,
			CustomLevelMax: c.Roles.CustomLevelMax,
			AdminThreshold: c.Roles.AdminThreshold,
			AdminDomains:   c.Roles.AdminDomains,
		},
		AdminGating:  c.Roles.AdminGating,
		NormalTTL:    c.Session.NormalTTL,
		EscalatedTTL: c.Session.EscalatedTTL,
	}
}

// OTel returns the OpenTelemetry configuration
func (c *Config) OTel() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        c.Observability.OTelEnabled,
		Endpoint:       c.Observability.OTelEndpoint,
		ServiceName:    c.Observability.OTelServiceName,
		ServiceVersion: c.Observability.OTelServiceVersion,
		Insecure:       c.Observability.OTelInsecure,
		SampleRatio:    c.Observability.OTelSampleRatio,
	}
}

// AuditLogger returns the audit file logger configuration
func (c *Config) AuditLogger() audit.FileLoggerConfig {
	return audit.FileLoggerConfig{
		BasePath: c.Audit.Path,
		MaxSize:  c.Audit.MaxSize,
		MaxFiles: c.Audit.MaxFiles,
	}
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

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
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

// getEnvList returns a comma separated environment variable or a default
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
