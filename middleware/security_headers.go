package middleware

import "net/http"

var securityHeaders = map[string]string{
	"X-Content-Type-Options":    "nosniff",
	"X-Frame-Options":           "DENY",
	"X-XSS-Protection":          "1; mode=block",
	"Strict-Transport-Security": "max-age=31536000; includeSubDomains",
}

// SetSecurityHeaders writes the hardening headers attached to authenticated responses
func SetSecurityHeaders(h http.Header) {
	for k, v := range securityHeaders {
		h.Set(k, v)
	}
}

// DeleteSecurityHeaders removes the hardening headers from h
func DeleteSecurityHeaders(h http.Header) {
	for k := range securityHeaders {
		h.Del(k)
	}
}
