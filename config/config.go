package config

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/upb/sensor-gateway/services/authorization"
	"github.com/upb/sensor-gateway/services/revocation"
)

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Security      SecurityConfig
	Upstream      UpstreamConfig
	Bootstrap     BootstrapConfig
	Audit         AuditConfig
	Observability ObservabilityConfig
	Environment   string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	TLS             struct {
		Enabled  bool
		CertFile string
		KeyFile  string
	}
}

// DatabaseConfig holds PostgreSQL database configuration.
// When ConnectionString (from DATABASE_URL) is set, it takes precedence over individual fields.
type DatabaseConfig struct {
	ConnectionString string // From DATABASE_URL when set
	Host             string
	Port             int
	User             string
	Password         string
	Database         string
	SSLMode          string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
}

// RedisConfig holds the Redis connection used by the redis revocation backend
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// SecurityConfig holds the request security pipeline settings
type SecurityConfig struct {
	RateLimit          RateLimitConfig
	Lockout            LockoutConfig
	Token              TokenConfig
	Revocation         RevocationConfig
	PrincipalCache     PrincipalCacheConfig
	AccessRules        []authorization.Rule
	PublicPaths        []string
	WebSocketPath      string
	CORSAllowedOrigins []string
	TrustProxyHeaders  bool
}

// RateLimitConfig holds fixed-window limiter settings
type RateLimitConfig struct {
	Limit              int
	Burst              int
	Window             time.Duration
	CleanupInterval    time.Duration
	EmergencyThreshold int
	ExemptPaths        []string
}

// LockoutConfig holds failed-authentication lockout settings
type LockoutConfig struct {
	MaxFailedAttempts int
	Duration          time.Duration
	SweepInterval     time.Duration
}

// TokenConfig holds bearer token settings
type TokenConfig struct {
	Secret    string
	TTL       time.Duration
	Issuer    string
	ClockSkew time.Duration
}

// RevocationConfig selects and tunes the revocation backend
type RevocationConfig struct {
	Backend       string
	LookupTimeout time.Duration
	SweepInterval time.Duration
}

// PrincipalCacheConfig tunes the resolved-principal cache. A zero TTL disables it.
type PrincipalCacheConfig struct {
	TTL  time.Duration
	Size int
}

// UpstreamConfig holds the sensor API the gateway forwards to
type UpstreamConfig struct {
	SensorAPIURL string
	Timeout      time.Duration
}

// BootstrapConfig seeds an administrator principal at startup
type BootstrapConfig struct {
	AdminUser         string
	AdminPasswordHash string
}

// AuditConfig sizes the asynchronous security event writer
type AuditConfig struct {
	BufferSize  int
	WorkerCount int
}

// ObservabilityConfig holds monitoring and logging configuration
type ObservabilityConfig struct {
	LogLevel       string
	LogFormat      string // json or console
	MetricsEnabled bool
}

const (
	defaultPublicPaths = "/api/auth/login,/api/auth/refresh,/api/auth/reset,/api/auth/register,/docs,/healthz,/readyz,/metrics"
	defaultExemptPaths = "/healthz,/readyz,/metrics"
)

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	_ = godotenv.Load(".env")

	rules, err := authorization.ParseRules(getEnv("ACCESS_RULES", "/api/admin=ROLE_ADMIN"))
	if err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			TLS: struct {
				Enabled  bool
				CertFile string
				KeyFile  string
			}{
				Enabled:  getEnvAsBool("TLS_ENABLED", false),
				CertFile: getEnv("TLS_CERT_FILE", "certs/cert.pem"),
				KeyFile:  getEnv("TLS_KEY_FILE", "certs/key.pem"),
			},
		},
		Database: loadDatabaseConfig(),
		Redis: RedisConfig{
			Addr:      getEnv("REDIS_ADDR", ""),
			Password:  getEnv("REDIS_PASSWORD", ""),
			DB:        getEnvAsInt("REDIS_DB", 0),
			KeyPrefix: getEnv("REDIS_KEY_PREFIX", revocation.DefaultKeyPrefix),
		},
		Security: SecurityConfig{
			RateLimit: RateLimitConfig{
				Limit:              getEnvAsInt("RATE_LIMIT", 60),
				Burst:              getEnvAsInt("RATE_LIMIT_BURST", 10),
				Window:             getEnvAsDuration("RATE_LIMIT_WINDOW", time.Minute),
				CleanupInterval:    getEnvAsDuration("RATE_LIMIT_CLEANUP_INTERVAL", 5*time.Minute),
				EmergencyThreshold: getEnvAsInt("RATE_LIMIT_EMERGENCY_THRESHOLD", 100000),
				ExemptPaths:        getEnvAsList("RATE_LIMIT_EXEMPT_PATHS", defaultExemptPaths),
			},
			Lockout: LockoutConfig{
				MaxFailedAttempts: getEnvAsInt("LOCKOUT_MAX_FAILED_ATTEMPTS", 5),
				Duration:          getEnvAsDuration("LOCKOUT_DURATION", 15*time.Minute),
				SweepInterval:     getEnvAsDuration("LOCKOUT_SWEEP_INTERVAL", time.Minute),
			},
			Token: TokenConfig{
				Secret:    getEnv("TOKEN_SECRET", ""),
				TTL:       getEnvAsDuration("TOKEN_TTL", time.Hour),
				Issuer:    getEnv("TOKEN_ISSUER", "sensor-gateway"),
				ClockSkew: getEnvAsDuration("TOKEN_CLOCK_SKEW", 60*time.Second),
			},
			Revocation: RevocationConfig{
				Backend:       getEnv("REVOCATION_BACKEND", revocation.BackendMemory),
				LookupTimeout: getEnvAsDuration("REVOCATION_LOOKUP_TIMEOUT", 2*time.Second),
				SweepInterval: getEnvAsDuration("REVOCATION_SWEEP_INTERVAL", 5*time.Minute),
			},
			PrincipalCache: PrincipalCacheConfig{
				TTL:  getEnvAsDuration("PRINCIPAL_CACHE_TTL", 0),
				Size: getEnvAsInt("PRINCIPAL_CACHE_SIZE", 10000),
			},
			AccessRules:        rules,
			PublicPaths:        getEnvAsList("PUBLIC_PATHS", defaultPublicPaths),
			WebSocketPath:      getEnv("WEBSOCKET_PATH", "/ws/live"),
			CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
			TrustProxyHeaders:  getEnvAsBool("TRUST_PROXY_HEADERS", true),
		},
		Upstream: UpstreamConfig{
			SensorAPIURL: getEnv("SENSOR_API_URL", ""),
			Timeout:      getEnvAsDuration("SENSOR_API_TIMEOUT", 30*time.Second),
		},
		Bootstrap: BootstrapConfig{
			AdminUser:         getEnv("BOOTSTRAP_ADMIN_USER", ""),
			AdminPasswordHash: getEnv("BOOTSTRAP_ADMIN_PASSWORD_HASH", ""),
		},
		Audit: AuditConfig{
			BufferSize:  getEnvAsInt("AUDIT_BUFFER_SIZE", 10000),
			WorkerCount: getEnvAsInt("AUDIT_WORKERS", 2),
		},
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", "json"),
			MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
		},
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
	sec := c.Security

	if sec.Token.Secret == "" {
		return fmt.Errorf("TOKEN_SECRET is required")
	}
	if sec.Token.TTL <= 0 {
		return fmt.Errorf("token ttl must be positive")
	}
	if sec.RateLimit.Limit <= 0 {
		return fmt.Errorf("rate limit must be positive")
	}
	if sec.RateLimit.Burst < 0 {
		return fmt.Errorf("rate limit burst cannot be negative")
	}
	if sec.RateLimit.Window <= 0 {
		return fmt.Errorf("rate limit window must be positive")
	}
	if sec.Lockout.MaxFailedAttempts <= 0 {
		return fmt.Errorf("lockout max failed attempts must be positive")
	}
	if sec.Lockout.Duration <= 0 {
		return fmt.Errorf("lockout duration must be positive")
	}

	backend, err := revocation.ValidateBackend(sec.Revocation.Backend)
	if err != nil {
		return err
	}
	c.Security.Revocation.Backend = backend
	switch backend {
	case revocation.BackendRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("REDIS_ADDR is required for the redis revocation backend")
		}
	case revocation.BackendPostgres:
		if !c.Database.Configured() {
			return fmt.Errorf("database configuration required for the postgres revocation backend: set DATABASE_URL or DB_HOST")
		}
	}

	if c.Database.Configured() && c.Database.ConnectionString == "" {
		if c.Database.User == "" {
			return fmt.Errorf("database user is required")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	}

	if c.Upstream.SensorAPIURL != "" {
		u, err := url.Parse(c.Upstream.SensorAPIURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("SENSOR_API_URL must be an absolute URL")
		}
	} else if c.IsProduction() {
		return fmt.Errorf("SENSOR_API_URL is required in production")
	}

	if (c.Bootstrap.AdminUser == "") != (c.Bootstrap.AdminPasswordHash == "") {
		return fmt.Errorf("BOOTSTRAP_ADMIN_USER and BOOTSTRAP_ADMIN_PASSWORD_HASH must be set together")
	}

	if c.Observability.LogLevel == "" {
		return fmt.Errorf("log level is required")
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// Configured reports whether a database was configured at all
func (c *DatabaseConfig) Configured() bool {
	return c.ConnectionString != "" || c.Host != ""
}

// DSN returns the PostgreSQL connection string.
// Uses ConnectionString (from DATABASE_URL) when set; otherwise builds from individual fields.
func (c *DatabaseConfig) DSN() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LogString returns a safe string for logging (no password). Parses ConnectionString when set.
func (c *DatabaseConfig) LogString() string {
	if c.ConnectionString != "" {
		u, err := url.Parse(c.ConnectionString)
		if err == nil {
			port := u.Port()
			if port == "" {
				port = "5432"
			}
			return fmt.Sprintf("host=%s port=%s database=%s", u.Hostname(), port, strings.TrimPrefix(u.Path, "/"))
		}
		return "host=<from DATABASE_URL>"
	}
	return fmt.Sprintf("host=%s port=%d database=%s", c.Host, c.Port, c.Database)
}

// SecretBytes returns the decoded length of the token secret, or -1 when it is not base64.
func (c *TokenConfig) SecretBytes() int {
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if b, err := enc.DecodeString(strings.TrimSpace(c.Secret)); err == nil {
			return len(b)
		}
	}
	return -1
}

// loadDatabaseConfig loads database config from DATABASE_URL or DB_* env vars.
// An empty DB_HOST leaves the database unconfigured.
func loadDatabaseConfig() DatabaseConfig {
	dbURL := getEnv("DATABASE_URL", "")
	if dbURL != "" {
		return DatabaseConfig{
			ConnectionString: dbURL,
			MaxOpenConns:     getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:     getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime:  getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		}
	}
	return DatabaseConfig{
		Host:            getEnv("DB_HOST", ""),
		Port:            getEnvAsInt("DB_PORT", 5432),
		User:            getEnv("DB_USER", "gateway"),
		Password:        getEnv("DB_PASSWORD", ""),
		Database:        getEnv("DB_NAME", "sensor_gateway"),
		SSLMode:         getEnv("DB_SSLMODE", "disable"),
		MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Helper functions

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 8080)
func getPort() int {
	if value := os.Getenv("PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	if value := os.Getenv("SERVER_PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	return 8080
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList splits a comma separated value, dropping blanks
func getEnvAsList(key, defaultValue string) []string {
	var out []string
	for _, item := range strings.Split(getEnv(key, defaultValue), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
