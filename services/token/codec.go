// Package token issues and parses the gateway's signed bearer tokens.
//
// Tokens are HS512 JWTs carrying the subject, a sorted role set, issue and
// expiry times, the configured issuer and a random token id. Parsing is pure:
// it performs no I/O and fails only with ErrMalformed, ErrExpired or
// ErrSignatureInvalid so callers can map every failure deterministically.
package token

import (
	"encoding/base64"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// MinSecretBytes is the minimum decoded length of the signing secret.
const MinSecretBytes = 64

// DefaultClockSkew is the leeway applied to expiry and issued-at checks.
const DefaultClockSkew = 60 * time.Second

var (
	ErrMalformed        = errors.New("token malformed")
	ErrExpired          = errors.New("token expired")
	ErrSignatureInvalid = errors.New("token signature invalid")
	ErrWeakSecret       = fmt.Errorf("token secret must decode to at least %d bytes", MinSecretBytes)
)

// Config holds the codec settings
type Config struct {
	// Secret is base64 encoded (standard or URL alphabet, padded or not).
	Secret    string
	Issuer    string
	TTL       time.Duration
	ClockSkew time.Duration
}

// Claims is the validated content of a token
type Claims struct {
	Subject   string
	Roles     []string
	IssuedAt  time.Time
	ExpiresAt time.Time
	ID        string
}

// Remaining returns how long the token stays valid after now
func (c *Claims) Remaining(now time.Time) time.Duration {
	return c.ExpiresAt.Sub(now)
}

type tokenClaims struct {
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// Codec signs and verifies tokens with a symmetric key derived once at construction
type Codec struct {
	key       []byte
	issuer    string
	ttl       time.Duration
	clockSkew time.Duration
	parser    *jwt.Parser
	now       func() time.Time
}

// NewCodec decodes the secret and builds the parser. A secret shorter than
// MinSecretBytes returns ErrWeakSecret.
func NewCodec(cfg Config) (*Codec, error) {
	key, err := decodeSecret(cfg.Secret)
	if err != nil {
		return nil, err
	}
	if len(key) < MinSecretBytes {
		return nil, fmt.Errorf("%w: got %d bytes", ErrWeakSecret, len(key))
	}
	if cfg.TTL <= 0 {
		return nil, errors.New("token ttl must be positive")
	}
	if cfg.ClockSkew < 0 {
		return nil, errors.New("token clock skew cannot be negative")
	}

	c := &Codec{
		key:       key,
		issuer:    cfg.Issuer,
		ttl:       cfg.TTL,
		clockSkew: cfg.ClockSkew,
		now:       time.Now,
	}
	c.parser = c.newParser()
	return c, nil
}

func (c *Codec) newParser() *jwt.Parser {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS512.Alg()}),
		jwt.WithLeeway(c.clockSkew),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(func() time.Time { return c.now() }),
	}
	if c.issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.issuer))
	}
	return jwt.NewParser(opts...)
}

func decodeSecret(secret string) ([]byte, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, fmt.Errorf("%w: secret is empty", ErrWeakSecret)
	}
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	} {
		if key, err := enc.DecodeString(secret); err == nil {
			return key, nil
		}
	}
	return nil, errors.New("token secret is not valid base64")
}

// DefaultTTL returns the configured token lifetime
func (c *Codec) DefaultTTL() time.Duration {
	return c.ttl
}

// Issue signs a token for subject with the given roles. A zero ttl uses the
// configured default.
func (c *Codec) Issue(subject string, roles []string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(subject) == "" {
		return "", errors.New("token subject is required")
	}
	if ttl == 0 {
		ttl = c.ttl
	}
	if ttl < 0 {
		return "", errors.New("token ttl must be positive")
	}

	now := c.now().UTC().Truncate(time.Second)
	claims := tokenClaims{
		Roles: normalizeRoles(roles),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString(c.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Parse verifies raw and returns its claims
func (c *Codec) Parse(raw string) (*Claims, error) {
	if raw == "" || strings.Count(raw, ".") != 2 {
		return nil, ErrMalformed
	}

	var tc tokenClaims
	_, err := c.parser.ParseWithClaims(raw, &tc, func(*jwt.Token) (interface{}, error) {
		return c.key, nil
	})
	if err != nil {
		return nil, classify(err)
	}
	if tc.Subject == "" || tc.IssuedAt == nil {
		return nil, fmt.Errorf("%w: missing subject or issued-at", ErrMalformed)
	}

	return &Claims{
		Subject:   tc.Subject,
		Roles:     normalizeRoles(tc.Roles),
		IssuedAt:  tc.IssuedAt.Time,
		ExpiresAt: tc.ExpiresAt.Time,
		ID:        tc.ID,
	}, nil
}

// classify maps jwt library errors onto the package sentinels
func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable),
		errors.Is(err, jwt.ErrSignatureInvalid):
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", ErrExpired, err)
	default:
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
}

// ValidateSubject compares the token subject with the expected principal,
// ignoring case.
func (c *Codec) ValidateSubject(claims *Claims, expected string) bool {
	if claims == nil || expected == "" {
		return false
	}
	return strings.EqualFold(claims.Subject, expected)
}

// normalizeRoles trims, deduplicates and sorts roles so the signed claim is deterministic
func normalizeRoles(roles []string) []string {
	seen := make(map[string]struct{}, len(roles))
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}
