package middleware

import (
	"context"
	"sync"
	"time"
)

// Context key type to avoid collisions
type contextKey string

const (
	// RequestIDKey is the context key for the correlation id
	RequestIDKey contextKey = "request_id"

	// IdentityKey is the context key for the authenticated identity
	IdentityKey contextKey = "identity"

	// ClientKeyKey is the context key for the resolved client key
	ClientKeyKey contextKey = "client_key"

	requestLogKey contextKey = "request_log"
)

// Identity is attached to requests that passed authentication
type Identity struct {
	Subject          string    `json:"subject"`
	Roles            []string  `json:"roles"`
	ClientKey        string    `json:"client_key"`
	TokenFingerprint string    `json:"-"`
	ExpiresAt        time.Time `json:"expires_at"`
}

// HasRole returns true if the identity holds role
func (i *Identity) HasRole(role string) bool {
	for _, r := range i.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// GetRequestIDFromContext retrieves the request ID from context
func GetRequestIDFromContext(ctx context.Context) string {
	if val := ctx.Value(RequestIDKey); val != nil {
		if requestID, ok := val.(string); ok {
			return requestID
		}
	}
	return ""
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetIdentityFromContext retrieves the authenticated identity from context
func GetIdentityFromContext(ctx context.Context) *Identity {
	if val := ctx.Value(IdentityKey); val != nil {
		if identity, ok := val.(*Identity); ok {
			return identity
		}
	}
	return nil
}

// WithIdentity adds an authenticated identity to the context
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, IdentityKey, identity)
}

// GetClientKeyFromContext retrieves the client key, or "unknown" when unset
func GetClientKeyFromContext(ctx context.Context) string {
	if val := ctx.Value(ClientKeyKey); val != nil {
		if key, ok := val.(string); ok && key != "" {
			return key
		}
	}
	return unknownClientKey
}

// WithClientKey adds the client key to the context
func WithClientKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, ClientKeyKey, key)
}

// requestLog collects fields resolved below the access log middleware.
// Handlers further down only see derived contexts, so they write here.
type requestLog struct {
	mu        sync.Mutex
	clientKey string
	subject   string
}

func withRequestLog(ctx context.Context) (context.Context, *requestLog) {
	rl := &requestLog{}
	return context.WithValue(ctx, requestLogKey, rl), rl
}

func requestLogFromContext(ctx context.Context) *requestLog {
	rl, _ := ctx.Value(requestLogKey).(*requestLog)
	return rl
}

// noteClientKey records key for the access log line, if one is being written
func noteClientKey(ctx context.Context, key string) {
	if rl := requestLogFromContext(ctx); rl != nil {
		rl.mu.Lock()
		rl.clientKey = key
		rl.mu.Unlock()
	}
}

// noteSubject records subject for the access log line, if one is being written
func noteSubject(ctx context.Context, subject string) {
	if rl := requestLogFromContext(ctx); rl != nil && subject != "" {
		rl.mu.Lock()
		rl.subject = subject
		rl.mu.Unlock()
	}
}

func (rl *requestLog) fields() (clientKey, subject string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.clientKey, rl.subject
}
