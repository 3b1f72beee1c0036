package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/sensor-gateway/services"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestCorrelation(t *testing.T) {
	var seen string
	handler := Correlation(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestIDFromContext(r.Context())
	}))

	t.Run("inbound id is kept", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(CorrelationHeader, "abc-123_X")
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		assert.Equal(t, "abc-123_X", seen)
		assert.Equal(t, "abc-123_X", w.Header().Get(CorrelationHeader))
	})

	t.Run("missing id is generated", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		assert.Len(t, seen, 36)
		assert.Equal(t, seen, w.Header().Get(CorrelationHeader))
	})

	t.Run("malformed id is replaced", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(CorrelationHeader, "bad id\r\ninjected")
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		assert.NotContains(t, seen, "injected")
		assert.Len(t, seen, 36)
	})

	t.Run("oversized id is replaced", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(CorrelationHeader, strings.Repeat("a", 129))
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		assert.Len(t, seen, 36)
	})
}

func TestClientKeyResolver(t *testing.T) {
	tests := []struct {
		name    string
		trust   bool
		remote  string
		headers map[string]string
		want    string
	}{
		{name: "socket address", remote: "198.51.100.4:5555", want: "198.51.100.4"},
		{name: "ipv6 socket address", remote: "[2001:db8::1]:443", want: "2001:db8::1"},
		{name: "remote without port", remote: "198.51.100.4", want: "198.51.100.4"},
		{name: "empty remote", remote: "", want: "unknown"},
		{
			name:    "forwarded ignored when untrusted",
			remote:  "10.0.0.1:1",
			headers: map[string]string{"X-Forwarded-For": "203.0.113.9"},
			want:    "10.0.0.1",
		},
		{
			name:    "first forwarded entry",
			trust:   true,
			remote:  "10.0.0.1:1",
			headers: map[string]string{"X-Forwarded-For": " 203.0.113.9 , 10.1.1.1"},
			want:    "203.0.113.9",
		},
		{
			name:    "real ip fallback",
			trust:   true,
			remote:  "10.0.0.1:1",
			headers: map[string]string{"X-Real-IP": "203.0.113.10"},
			want:    "203.0.113.10",
		},
		{
			name:    "forwarded wins over real ip",
			trust:   true,
			remote:  "10.0.0.1:1",
			headers: map[string]string{"X-Forwarded-For": "203.0.113.9", "X-Real-IP": "203.0.113.10"},
			want:    "203.0.113.9",
		},
		{
			name:    "hostile characters are replaced",
			trust:   true,
			remote:  "10.0.0.1:1",
			headers: map[string]string{"X-Real-IP": "1.2.3.4<script>"},
			want:    "1.2.3.4_script_",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}

			assert.Equal(t, tt.want, NewClientKeyResolver(tt.trust).Resolve(req))
		})
	}

	t.Run("key length is capped", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Real-IP", strings.Repeat("a", 200))

		key := NewClientKeyResolver(true).Resolve(req)
		assert.Len(t, key, maxClientKeyLength)
	})
}

func TestGetClientKeyFromContext_Default(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Equal(t, "unknown", GetClientKeyFromContext(req.Context()))
	assert.Nil(t, GetIdentityFromContext(req.Context()))
	assert.Empty(t, GetRequestIDFromContext(req.Context()))
}

func TestIdentity_HasRole(t *testing.T) {
	id := &Identity{Roles: []string{"ROLE_VIEWER"}}
	assert.True(t, id.HasRole("ROLE_VIEWER"))
	assert.False(t, id.HasRole("ROLE_ADMIN"))
}

func TestAccessLogMiddleware_Log(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	m := NewAccessLogMiddleware(zap.New(core))

	handler := Correlation(m.Log(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/missing":
			w.WriteHeader(http.StatusNotFound)
		case "/boom":
			w.WriteHeader(http.StatusBadGateway)
		default:
			_, _ = w.Write([]byte("ok"))
		}
	})))

	for _, path := range []string{"/ok", "/missing", "/boom"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set(CorrelationHeader, "req-1")
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, zapcore.ErrorLevel, entries[2].Level)

	fields := entries[0].ContextMap()
	assert.Equal(t, "req-1", fields["request_id"])
	assert.Equal(t, int64(200), fields["status"])
	assert.Equal(t, int64(2), fields["bytes"])
}

func TestAccessLogMiddleware_Recover(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	m := NewAccessLogMiddleware(zap.New(core))

	t.Run("panic becomes 500", func(t *testing.T) {
		handler := m.Recover(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			panic("kaboom")
		}))
		w := httptest.NewRecorder()

		assert.NotPanics(t, func() {
			handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		})

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Contains(t, w.Body.String(), "internal_error")
		assert.NotContains(t, w.Body.String(), "kaboom")
		assert.Equal(t, 1, logs.FilterMessage("panic recovered").Len())
	})

	t.Run("committed response is left alone", func(t *testing.T) {
		handler := m.Recover(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusAccepted)
			panic("late")
		}))
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.Equal(t, http.StatusAccepted, w.Code)
		assert.Empty(t, w.Body.String())
	})

	t.Run("abort handler propagates", func(t *testing.T) {
		handler := m.Recover(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			panic(http.ErrAbortHandler)
		}))

		assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
			handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
		})
	})
}

func TestWriteServiceError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		retryAfter time.Duration
		wantStatus int
		wantCode   string
		wantHeader map[string]string
	}{
		{
			name:       "rate limit with retry",
			err:        services.ErrRateLimitExceeded,
			retryAfter: 1500 * time.Millisecond,
			wantStatus: http.StatusTooManyRequests,
			wantCode:   "rate_limit_exceeded",
			wantHeader: map[string]string{"Retry-After": "2"},
		},
		{
			name:       "lockout with retry",
			err:        services.ErrClientLocked,
			retryAfter: 90 * time.Second,
			wantStatus: http.StatusTooManyRequests,
			wantCode:   "too_many_failed_attempts",
			wantHeader: map[string]string{"Retry-After": "90"},
		},
		{
			name:       "unauthorized sets challenge",
			err:        services.ErrTokenExpired.Wrap(errors.New("exp")),
			wantStatus: http.StatusUnauthorized,
			wantCode:   "token_expired",
			wantHeader: map[string]string{"WWW-Authenticate": `Bearer realm="sensor-gateway"`},
		},
		{
			name:       "forbidden",
			err:        services.ErrInsufficientRole,
			wantStatus: http.StatusForbidden,
			wantCode:   "insufficient_role",
		},
		{
			name:       "plain error is internal",
			err:        errors.New("db password leaked here"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   "internal_error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()

			derr := WriteServiceError(w, tt.err, tt.retryAfter)

			assert.Equal(t, tt.wantCode, derr.Code)
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Contains(t, w.Body.String(), `"error":"`+tt.wantCode+`"`)
			assert.NotContains(t, w.Body.String(), "leaked")
			for k, v := range tt.wantHeader {
				assert.Equal(t, v, w.Header().Get(k))
			}
		})
	}
}

func TestSetSecurityHeaders(t *testing.T) {
	h := http.Header{}
	SetSecurityHeaders(h)

	assert.Len(t, h, 4)
	assert.Equal(t, "nosniff", h.Get("X-Content-Type-Options"))
}

func TestMatchesPath(t *testing.T) {
	prefixes := []string{"/api/auth/login", "/docs/", ""}

	assert.True(t, matchesPath("/api/auth/login", prefixes))
	assert.True(t, matchesPath("/docs/swagger.json", prefixes))
	assert.True(t, matchesPath("/docs/", prefixes))
	assert.False(t, matchesPath("/api/auth/login2", prefixes))
	assert.False(t, matchesPath("/", prefixes))
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"", ""},
		{"Bearer abc", "abc"},
		{"bearer  abc ", "abc"},
		{"Basic abc", ""},
		{"Bearer", ""},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		assert.Equal(t, tt.want, BearerToken(req), tt.header)
	}
}
