package middleware

import (
	"net"
	"net/http"
	"strings"
)

const (
	unknownClientKey   = "unknown"
	maxClientKeyLength = 64
)

// ClientKeyResolver derives the per-client key used for throttling and lockout
type ClientKeyResolver struct {
	trustProxyHeaders bool
}

// NewClientKeyResolver creates a resolver. With trustProxyHeaders set,
// X-Forwarded-For and X-Real-IP take precedence over the socket address.
func NewClientKeyResolver(trustProxyHeaders bool) *ClientKeyResolver {
	return &ClientKeyResolver{trustProxyHeaders: trustProxyHeaders}
}

// Resolve returns a sanitized, never empty client key for r
func (c *ClientKeyResolver) Resolve(r *http.Request) string {
	if c.trustProxyHeaders {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if key := sanitizeClientKey(first); key != "" {
				return key
			}
		}
		if key := sanitizeClientKey(r.Header.Get("X-Real-IP")); key != "" {
			return key
		}
	}

	host := r.RemoteAddr
	if h, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		host = h
	}
	if key := sanitizeClientKey(host); key != "" {
		return key
	}
	return unknownClientKey
}

// sanitizeClientKey keeps [A-Za-z0-9.:_-], replaces other runes with '_' and
// caps the length.
func sanitizeClientKey(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	var b strings.Builder
	for _, r := range raw {
		if b.Len() >= maxClientKeyLength {
			break
		}
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == ':', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
