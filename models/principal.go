package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Well-known roles
const (
	RoleAdmin    = "ROLE_ADMIN"
	RoleOperator = "ROLE_OPERATOR"
	RoleViewer   = "ROLE_VIEWER"
)

// Principal is an account that can obtain gateway tokens
type Principal struct {
	ID           uuid.UUID `json:"id" db:"id"`
	Subject      string    `json:"subject" db:"subject"`
	PasswordHash string    `json:"-" db:"password_hash"`
	Roles        []string  `json:"roles" db:"roles"`
	Enabled      bool      `json:"enabled" db:"enabled"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the Principal model
func (Principal) TableName() string {
	return "principals"
}

// NewPrincipal creates an enabled principal. Subjects are stored lower-cased.
func NewPrincipal(subject, passwordHash string, roles []string) *Principal {
	now := time.Now().UTC()
	return &Principal{
		ID:           uuid.New(),
		Subject:      NormalizeSubject(subject),
		PasswordHash: passwordHash,
		Roles:        roles,
		Enabled:      true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// NormalizeSubject returns the canonical form of a principal identifier
func NormalizeSubject(subject string) string {
	return strings.ToLower(strings.TrimSpace(subject))
}

// HasRole returns true if the principal holds role
func (p *Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsAdmin returns true if the principal has the admin role
func (p *Principal) IsAdmin() bool {
	return p.HasRole(RoleAdmin)
}
