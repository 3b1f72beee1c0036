package principal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/upb/sensor-gateway/models"
	"github.com/upb/sensor-gateway/repositories"
)

// MemoryRepository is an in-process PrincipalRepository used when no database is configured
type MemoryRepository struct {
	mu         sync.RWMutex
	principals map[string]*models.Principal
}

var _ repositories.PrincipalRepository = (*MemoryRepository)(nil)

// NewMemoryRepository creates an empty repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{principals: make(map[string]*models.Principal)}
}

// Create stores a copy of p
func (r *MemoryRepository) Create(_ context.Context, p *models.Principal) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := models.NormalizeSubject(p.Subject)
	if _, exists := r.principals[key]; exists {
		return fmt.Errorf("principal %q already exists", key)
	}
	cp := *p
	cp.Roles = append([]string(nil), p.Roles...)
	r.principals[key] = &cp
	return nil
}

// GetBySubject returns a copy of the stored principal
func (r *MemoryRepository) GetBySubject(_ context.Context, subject string) (*models.Principal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.principals[models.NormalizeSubject(subject)]
	if !ok {
		return nil, fmt.Errorf("principal %q: %w", subject, repositories.ErrNotFound)
	}
	cp := *p
	cp.Roles = append([]string(nil), p.Roles...)
	return &cp, nil
}

// SetEnabled enables or disables a principal
func (r *MemoryRepository) SetEnabled(_ context.Context, subject string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.principals[models.NormalizeSubject(subject)]
	if !ok {
		return fmt.Errorf("principal %q: %w", subject, repositories.ErrNotFound)
	}
	p.Enabled = enabled
	p.UpdatedAt = time.Now().UTC()
	return nil
}
