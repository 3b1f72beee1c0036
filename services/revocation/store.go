// Package revocation records tokens invalidated before their natural expiry.
//
// Entries are keyed by a fingerprint of the raw token and live no longer than
// the token itself. Three backends share the Store interface: an in-process
// map (default), Redis, and Postgres (repositories/postgres).
package revocation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Backend names accepted by REVOCATION_BACKEND
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Store records and looks up revoked token fingerprints
type Store interface {
	// Revoke marks fingerprint as revoked for ttl. A non-positive ttl is a no-op.
	Revoke(ctx context.Context, fingerprint string, ttl time.Duration) error
	// IsRevoked reports whether fingerprint has an unexpired revocation entry.
	IsRevoked(ctx context.Context, fingerprint string) (bool, error)
}

// Pinger is implemented by stores with a remote backend to check
type Pinger interface {
	Ping(ctx context.Context) error
}

// Fingerprint returns the lowercase hex SHA-256 of the raw token
func Fingerprint(rawToken string) string {
	sum := sha256.Sum256([]byte(rawToken))
	return hex.EncodeToString(sum[:])
}

// ShortFingerprint returns a prefix suitable for log lines
func ShortFingerprint(fingerprint string) string {
	if len(fingerprint) > 12 {
		return fingerprint[:12]
	}
	return fingerprint
}

// ValidateBackend normalizes and checks a backend name
func ValidateBackend(name string) (string, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	switch name {
	case "":
		return BackendMemory, nil
	case BackendMemory, BackendRedis, BackendPostgres:
		return name, nil
	default:
		return "", fmt.Errorf("unknown revocation backend %q", name)
	}
}
