// Package principal authenticates gateway accounts and resolves token subjects.
package principal

import (
	"context"
	"errors"
	"fmt"

	"github.com/upb/sensor-gateway/models"
	"github.com/upb/sensor-gateway/repositories"
	"github.com/upb/sensor-gateway/services"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// dummyHash is compared against when the subject does not exist, so unknown
// and known subjects cost the same bcrypt work.
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// PrincipalService looks up principals and verifies their passwords
type PrincipalService struct {
	repo   repositories.PrincipalRepository
	tx     repositories.TransactionManager
	cache  *Cache
	logger *zap.Logger
}

// NewPrincipalService creates a service over repo. tx may be nil when the
// repository has no transactional backend.
func NewPrincipalService(repo repositories.PrincipalRepository, tx repositories.TransactionManager, logger *zap.Logger) *PrincipalService {
	return &PrincipalService{repo: repo, tx: tx, logger: logger}
}

// Authenticate verifies a subject/password pair.
// Unknown subjects and wrong passwords both yield ErrInvalidCredentials.
func (s *PrincipalService) Authenticate(ctx context.Context, subject, password string) (*models.Principal, error) {
	p, err := s.repo.GetBySubject(ctx, subject)
	if err != nil && !errors.Is(err, repositories.ErrNotFound) {
		return nil, services.WrapInternal("principal lookup", err)
	}

	hash := dummyHash
	if p != nil {
		hash = p.PasswordHash
	}
	cmpErr := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))

	if p == nil || cmpErr != nil {
		return nil, services.ErrInvalidCredentials
	}
	if !p.Enabled {
		return nil, services.ErrPrincipalDisabled
	}
	return p, nil
}

// WithCache makes Resolve serve repeated lookups from c
func (s *PrincipalService) WithCache(c *Cache) *PrincipalService {
	s.cache = c
	return s
}

// Resolve returns the enabled principal for a token subject
func (s *PrincipalService) Resolve(ctx context.Context, subject string) (*models.Principal, error) {
	var p *models.Principal
	if s.cache != nil {
		p = s.cache.Get(subject)
	}
	if p == nil {
		var err error
		p, err = s.repo.GetBySubject(ctx, subject)
		if err != nil {
			if errors.Is(err, repositories.ErrNotFound) {
				return nil, services.ErrPrincipalNotFound
			}
			return nil, services.WrapInternal("principal lookup", err)
		}
		if s.cache != nil {
			s.cache.Set(p)
		}
	}
	if !p.Enabled {
		return nil, services.ErrPrincipalDisabled
	}
	return p, nil
}

// EnsureAdmin creates an administrator with passwordHash unless subject already exists
func (s *PrincipalService) EnsureAdmin(ctx context.Context, subject, passwordHash string) (bool, error) {
	if _, err := bcrypt.Cost([]byte(passwordHash)); err != nil {
		return false, fmt.Errorf("bootstrap admin password hash: %w", err)
	}

	created := false
	seed := func(ctx context.Context) error {
		existing, err := s.repo.GetBySubject(ctx, subject)
		if err == nil {
			if !existing.IsAdmin() {
				s.logger.Warn("bootstrap admin subject exists without admin role",
					zap.String("subject", existing.Subject))
			}
			return nil
		}
		if !errors.Is(err, repositories.ErrNotFound) {
			return err
		}
		if err := s.repo.Create(ctx, models.NewPrincipal(subject, passwordHash, []string{models.RoleAdmin})); err != nil {
			return err
		}
		created = true
		return nil
	}

	var err error
	if s.tx != nil {
		err = s.tx.InTransaction(ctx, seed)
	} else {
		err = seed(ctx)
	}
	if err != nil {
		return false, fmt.Errorf("failed to seed bootstrap admin: %w", err)
	}

	if created {
		s.logger.Info("bootstrap admin created", zap.String("subject", models.NormalizeSubject(subject)))
	}
	return created, nil
}
