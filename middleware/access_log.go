package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/upb/sensor-gateway/internal/observability"
	"github.com/upb/sensor-gateway/utils"
	"go.uber.org/zap"
)

// AccessLogMiddleware logs one line per request and recovers panics from
// downstream handlers into a generic 500.
type AccessLogMiddleware struct {
	logger *zap.Logger
}

// NewAccessLogMiddleware creates a new AccessLogMiddleware
func NewAccessLogMiddleware(logger *zap.Logger) *AccessLogMiddleware {
	return &AccessLogMiddleware{logger: logger}
}

// Log writes the access log line after the request completes
func (m *AccessLogMiddleware) Log(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := observability.NewStatusWriter(w)
		ctx, rl := withRequestLog(r.Context())

		next.ServeHTTP(sw, r.WithContext(ctx))

		clientKey, subject := rl.fields()
		if clientKey == "" {
			clientKey = unknownClientKey
		}
		fields := []zap.Field{
			zap.String("request_id", GetRequestIDFromContext(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", sw.Status()),
			zap.Int("bytes", sw.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("client_key", clientKey),
		}
		if subject != "" {
			fields = append(fields, zap.String("subject", subject))
		}

		switch {
		case sw.Status() >= 500:
			m.logger.Error("request completed", fields...)
		case sw.Status() >= 400:
			m.logger.Warn("request completed", fields...)
		default:
			m.logger.Info("request completed", fields...)
		}
	})
}

// Recover turns a panic into a 500 with the standard error body
func (m *AccessLogMiddleware) Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := observability.NewStatusWriter(w)
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}

			m.logger.Error("panic recovered",
				zap.String("request_id", GetRequestIDFromContext(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("panic", fmt.Sprint(rec)),
				zap.Stack("stack"))

			if !sw.Committed() {
				_ = utils.WriteInternalServerError(sw, "An internal error occurred")
			}
		}()

		next.ServeHTTP(sw, r)
	})
}
