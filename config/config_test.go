package config

import (
	"context"
	"encoding/base64"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/sensor-gateway/services/authorization"
)

var testSecret = base64.StdEncoding.EncodeToString([]byte(strings.Repeat("k", 64)))

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		envVars map[string]string
		wantErr bool
		check   func(*testing.T, *Config)
	}{
		{
			name: "default configuration",
			envVars: map[string]string{
				"TOKEN_SECRET": testSecret,
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "development", cfg.Environment)
				assert.Equal(t, "0.0.0.0", cfg.Server.Host)
				assert.Equal(t, 8080, cfg.Server.Port)
				assert.False(t, cfg.Server.TLS.Enabled)
				assert.False(t, cfg.Database.Configured())

				rl := cfg.Security.RateLimit
				assert.Equal(t, 60, rl.Limit)
				assert.Equal(t, 10, rl.Burst)
				assert.Equal(t, time.Minute, rl.Window)
				assert.Equal(t, 5*time.Minute, rl.CleanupInterval)
				assert.Equal(t, 100000, rl.EmergencyThreshold)
				assert.Equal(t, []string{"/healthz", "/readyz", "/metrics"}, rl.ExemptPaths)

				assert.Equal(t, 5, cfg.Security.Lockout.MaxFailedAttempts)
				assert.Equal(t, 15*time.Minute, cfg.Security.Lockout.Duration)

				assert.Equal(t, time.Hour, cfg.Security.Token.TTL)
				assert.Equal(t, "sensor-gateway", cfg.Security.Token.Issuer)
				assert.Equal(t, 60*time.Second, cfg.Security.Token.ClockSkew)

				assert.Equal(t, "memory", cfg.Security.Revocation.Backend)
				assert.Equal(t, 2*time.Second, cfg.Security.Revocation.LookupTimeout)

				assert.Equal(t, []authorization.Rule{{Prefix: "/api/admin", Roles: []string{"ROLE_ADMIN"}}}, cfg.Security.AccessRules)
				assert.Contains(t, cfg.Security.PublicPaths, "/api/auth/login")
				assert.Contains(t, cfg.Security.PublicPaths, "/docs")
				assert.Equal(t, "/ws/live", cfg.Security.WebSocketPath)
				assert.Equal(t, []string{"http://localhost:3000"}, cfg.Security.CORSAllowedOrigins)
				assert.True(t, cfg.Security.TrustProxyHeaders)

				assert.Empty(t, cfg.Upstream.SensorAPIURL)
				assert.Equal(t, 10000, cfg.Audit.BufferSize)
				assert.Equal(t, "info", cfg.Observability.LogLevel)
				assert.Equal(t, "json", cfg.Observability.LogFormat)
			},
		},
		{
			name: "production configuration",
			envVars: map[string]string{
				"ENVIRONMENT":        "production",
				"PORT":               "9000",
				"TOKEN_SECRET":       testSecret,
				"DATABASE_URL":       "postgres://gw:pw@db.internal:5433/gateway?sslmode=require",
				"REVOCATION_BACKEND": "POSTGRES",
				"SENSOR_API_URL":     "http://sensor-api:8081",
			},
			check: func(t *testing.T, cfg *Config) {
				assert.True(t, cfg.IsProduction())
				assert.False(t, cfg.IsDevelopment())
				assert.Equal(t, 9000, cfg.Server.Port)
				assert.True(t, cfg.Database.Configured())
				assert.Equal(t, "postgres", cfg.Security.Revocation.Backend)
				assert.Equal(t, "host=db.internal port=5433 database=gateway", cfg.Database.LogString())
				assert.Equal(t, "http://sensor-api:8081", cfg.Upstream.SensorAPIURL)
			},
		},
		{
			name: "custom security settings",
			envVars: map[string]string{
				"TOKEN_SECRET":         testSecret,
				"RATE_LIMIT":           "100",
				"RATE_LIMIT_BURST":     "0",
				"RATE_LIMIT_WINDOW":    "30s",
				"LOCKOUT_DURATION":     "5m",
				"ACCESS_RULES":         "/api/admin=ROLE_ADMIN;/api/sensors=ROLE_OPERATOR|ROLE_VIEWER",
				"PUBLIC_PATHS":         "/api/auth/login, /healthz ,,",
				"CORS_ALLOWED_ORIGINS": "https://a.example.com,https://b.example.com",
				"TRUST_PROXY_HEADERS":  "false",
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 100, cfg.Security.RateLimit.Limit)
				assert.Equal(t, 0, cfg.Security.RateLimit.Burst)
				assert.Equal(t, 30*time.Second, cfg.Security.RateLimit.Window)
				assert.Equal(t, 5*time.Minute, cfg.Security.Lockout.Duration)
				assert.Len(t, cfg.Security.AccessRules, 2)
				assert.Equal(t, []string{"/api/auth/login", "/healthz"}, cfg.Security.PublicPaths)
				assert.Len(t, cfg.Security.CORSAllowedOrigins, 2)
				assert.False(t, cfg.Security.TrustProxyHeaders)
			},
		},
		{
			name: "redis backend",
			envVars: map[string]string{
				"TOKEN_SECRET":       testSecret,
				"REVOCATION_BACKEND": "redis",
				"REDIS_ADDR":         "localhost:6379",
				"REDIS_DB":           "2",
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "redis", cfg.Security.Revocation.Backend)
				assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
				assert.Equal(t, 2, cfg.Redis.DB)
				assert.Equal(t, "sensor-gateway:revoked:", cfg.Redis.KeyPrefix)
			},
		},
		{
			name:    "missing token secret",
			envVars: map[string]string{},
			wantErr: true,
		},
		{
			name: "redis backend without address",
			envVars: map[string]string{
				"TOKEN_SECRET":       testSecret,
				"REVOCATION_BACKEND": "redis",
			},
			wantErr: true,
		},
		{
			name: "postgres backend without database",
			envVars: map[string]string{
				"TOKEN_SECRET":       testSecret,
				"REVOCATION_BACKEND": "postgres",
			},
			wantErr: true,
		},
		{
			name: "unknown backend",
			envVars: map[string]string{
				"TOKEN_SECRET":       testSecret,
				"REVOCATION_BACKEND": "etcd",
			},
			wantErr: true,
		},
		{
			name: "invalid access rules",
			envVars: map[string]string{
				"TOKEN_SECRET": testSecret,
				"ACCESS_RULES": "api/admin=ROLE_ADMIN",
			},
			wantErr: true,
		},
		{
			name: "production without upstream",
			envVars: map[string]string{
				"ENVIRONMENT":  "production",
				"TOKEN_SECRET": testSecret,
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Clear environment
			os.Clearenv()

			// Set test environment variables
			for k, v := range tt.envVars {
				os.Setenv(k, v)
			}

			cfg, err := New(context.Background())

			if tt.wantErr {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, cfg)

			if tt.check != nil {
				tt.check(t, cfg)
			}
		})
	}
}

func validConfig() *Config {
	return &Config{
		Environment: "development",
		Security: SecurityConfig{
			RateLimit:  RateLimitConfig{Limit: 60, Burst: 10, Window: time.Minute},
			Lockout:    LockoutConfig{MaxFailedAttempts: 5, Duration: 15 * time.Minute},
			Token:      TokenConfig{Secret: testSecret, TTL: time.Hour},
			Revocation: RevocationConfig{Backend: "memory"},
		},
		Observability: ObservabilityConfig{LogLevel: "info"},
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
		errMsg  string
	}{
		{
			name:   "valid development config",
			mutate: func(*Config) {},
		},
		{
			name:    "zero rate limit",
			mutate:  func(c *Config) { c.Security.RateLimit.Limit = 0 },
			wantErr: true,
			errMsg:  "rate limit must be positive",
		},
		{
			name:    "negative burst",
			mutate:  func(c *Config) { c.Security.RateLimit.Burst = -1 },
			wantErr: true,
			errMsg:  "burst cannot be negative",
		},
		{
			name:    "zero lockout attempts",
			mutate:  func(c *Config) { c.Security.Lockout.MaxFailedAttempts = 0 },
			wantErr: true,
			errMsg:  "lockout max failed attempts",
		},
		{
			name:    "zero token ttl",
			mutate:  func(c *Config) { c.Security.Token.TTL = 0 },
			wantErr: true,
			errMsg:  "token ttl must be positive",
		},
		{
			name: "database host without user",
			mutate: func(c *Config) {
				c.Database = DatabaseConfig{Host: "localhost", Database: "db"}
			},
			wantErr: true,
			errMsg:  "database user is required",
		},
		{
			name:    "relative upstream url",
			mutate:  func(c *Config) { c.Upstream.SensorAPIURL = "sensor-api:8081" },
			wantErr: true,
			errMsg:  "SENSOR_API_URL must be an absolute URL",
		},
		{
			name:    "bootstrap user without hash",
			mutate:  func(c *Config) { c.Bootstrap.AdminUser = "admin" },
			wantErr: true,
			errMsg:  "must be set together",
		},
		{
			name:    "empty log level",
			mutate:  func(c *Config) { c.Observability.LogLevel = "" },
			wantErr: true,
			errMsg:  "log level is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()

			if tt.wantErr {
				assert.Error(t, err)
				if tt.errMsg != "" {
					assert.Contains(t, err.Error(), tt.errMsg)
				}
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_IsProduction(t *testing.T) {
	tests := []struct {
		name        string
		environment string
		want        bool
	}{
		{"production", "production", true},
		{"prod", "prod", true},
		{"development", "development", false},
		{"staging", "staging", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Environment: tt.environment}
			assert.Equal(t, tt.want, cfg.IsProduction())
		})
	}
}

func TestConfig_IsDevelopment(t *testing.T) {
	tests := []struct {
		name        string
		environment string
		want        bool
	}{
		{"development", "development", true},
		{"dev", "dev", true},
		{"production", "production", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Environment: tt.environment}
			assert.Equal(t, tt.want, cfg.IsDevelopment())
		})
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	cfg := DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "testuser",
		Password: "testpass",
		Database: "testdb",
		SSLMode:  "disable",
	}

	expected := "host=localhost port=5432 user=testuser password=testpass dbname=testdb sslmode=disable"
	assert.Equal(t, expected, cfg.DSN())
	assert.NotContains(t, cfg.LogString(), "testpass")

	withURL := DatabaseConfig{ConnectionString: "postgres://u:p@h/db"}
	assert.Equal(t, "postgres://u:p@h/db", withURL.DSN())
	assert.Equal(t, "host=h port=5432 database=db", withURL.LogString())
}

func TestServerConfig_Address(t *testing.T) {
	cfg := ServerConfig{
		Host: "0.0.0.0",
		Port: 8080,
	}

	assert.Equal(t, "0.0.0.0:8080", cfg.Address())
}

func TestTokenConfig_SecretBytes(t *testing.T) {
	assert.Equal(t, 64, (&TokenConfig{Secret: testSecret}).SecretBytes())
	assert.Equal(t, 3, (&TokenConfig{Secret: "YWJj"}).SecretBytes())
	assert.Equal(t, -1, (&TokenConfig{Secret: "not base64!"}).SecretBytes())
}

func TestGetEnvAsInt(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		value        string
		defaultValue int
		want         int
	}{
		{"valid int", "TEST_INT", "42", 10, 42},
		{"empty value", "TEST_INT", "", 10, 10},
		{"invalid int", "TEST_INT", "not-a-number", 10, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Clearenv()
			if tt.value != "" {
				os.Setenv(tt.key, tt.value)
			}
			got := getEnvAsInt(tt.key, tt.defaultValue)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGetEnvAsBool(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		value        string
		defaultValue bool
		want         bool
	}{
		{"true", "TEST_BOOL", "true", false, true},
		{"false", "TEST_BOOL", "false", true, false},
		{"empty value", "TEST_BOOL", "", true, true},
		{"invalid bool", "TEST_BOOL", "not-a-bool", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Clearenv()
			if tt.value != "" {
				os.Setenv(tt.key, tt.value)
			}
			got := getEnvAsBool(tt.key, tt.defaultValue)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGetEnvAsDuration(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		value        string
		defaultValue time.Duration
		want         time.Duration
	}{
		{"valid duration", "TEST_DURATION", "30s", 10 * time.Second, 30 * time.Second},
		{"empty value", "TEST_DURATION", "", 10 * time.Second, 10 * time.Second},
		{"invalid duration", "TEST_DURATION", "not-a-duration", 10 * time.Second, 10 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Clearenv()
			if tt.value != "" {
				os.Setenv(tt.key, tt.value)
			}
			got := getEnvAsDuration(tt.key, tt.defaultValue)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGetEnvAsList(t *testing.T) {
	os.Clearenv()
	assert.Equal(t, []string{"a", "b"}, getEnvAsList("TEST_LIST", "a,b"))

	os.Setenv("TEST_LIST", " x , ,y,")
	assert.Equal(t, []string{"x", "y"}, getEnvAsList("TEST_LIST", "a"))
}
