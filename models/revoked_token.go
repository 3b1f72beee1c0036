package models

import "time"

// RevokedToken is a persisted revocation entry keyed by token fingerprint
type RevokedToken struct {
	TokenHash string    `json:"token_hash" db:"token_hash"`
	ExpiresAt time.Time `json:"expires_at" db:"expires_at"`
	RevokedAt time.Time `json:"revoked_at" db:"revoked_at"`
}

// TableName returns the table name for the RevokedToken model
func (RevokedToken) TableName() string {
	return "revoked_tokens"
}

// NewRevokedToken creates an entry that lapses after ttl
func NewRevokedToken(tokenHash string, ttl time.Duration) *RevokedToken {
	now := time.Now().UTC()
	return &RevokedToken{
		TokenHash: tokenHash,
		ExpiresAt: now.Add(ttl),
		RevokedAt: now,
	}
}

// Expired reports whether the entry is past its expiry at now
func (r *RevokedToken) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}
