package repositories

import (
	"context"
	"errors"

	"github.com/upb/sensor-gateway/models"
)

// ErrNotFound is returned when a lookup matches no row
var ErrNotFound = errors.New("not found")

// TransactionManager runs work inside a database transaction
type TransactionManager interface {
	// InTransaction executes fn within a transaction.
	// Commits if fn succeeds, rolls back on error.
	InTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// PrincipalRepository handles principal data operations
type PrincipalRepository interface {
	// Create creates a new principal
	Create(ctx context.Context, principal *models.Principal) error

	// GetBySubject retrieves a principal by its normalized subject.
	// Returns ErrNotFound when no principal matches.
	GetBySubject(ctx context.Context, subject string) (*models.Principal, error)

	// SetEnabled enables or disables a principal
	SetEnabled(ctx context.Context, subject string, enabled bool) error
}

// SecurityEventRepository handles the security audit trail
type SecurityEventRepository interface {
	// Insert inserts a new security event
	Insert(ctx context.Context, event *models.SecurityEvent) error

	// ListRecent returns the newest events first
	ListRecent(ctx context.Context, limit int) ([]*models.SecurityEvent, error)
}

// Repositories holds all repository instances
type Repositories struct {
	Principals     PrincipalRepository
	SecurityEvents SecurityEventRepository
}
