package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/upb/sensor-gateway/models"
	"github.com/upb/sensor-gateway/repositories"
	"go.uber.org/zap"
)

// PrincipalRepository implements the repositories.PrincipalRepository interface
type PrincipalRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewPrincipalRepository creates a new principal repository
func NewPrincipalRepository(db *DB, logger *zap.Logger) repositories.PrincipalRepository {
	return &PrincipalRepository{db: db, logger: logger}
}

// Create creates a new principal
func (r *PrincipalRepository) Create(ctx context.Context, p *models.Principal) error {
	query := `
		INSERT INTO principals (id, subject, password_hash, roles, enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		p.ID,
		p.Subject,
		p.PasswordHash,
		pq.Array(p.Roles),
		p.Enabled,
		p.CreatedAt,
		p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create principal: %w", err)
	}

	r.logger.Debug("principal created", zap.String("subject", p.Subject))
	return nil
}

// GetBySubject retrieves a principal by subject
func (r *PrincipalRepository) GetBySubject(ctx context.Context, subject string) (*models.Principal, error) {
	query := `
		SELECT id, subject, password_hash, roles, enabled, created_at, updated_at
		FROM principals
		WHERE subject = $1
	`

	executor := GetExecutor(ctx, r.db)
	p := &models.Principal{}
	err := executor.QueryRowContext(ctx, query, models.NormalizeSubject(subject)).Scan(
		&p.ID,
		&p.Subject,
		&p.PasswordHash,
		pq.Array(&p.Roles),
		&p.Enabled,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("principal %q: %w", subject, repositories.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get principal: %w", err)
	}

	return p, nil
}

// SetEnabled enables or disables a principal
func (r *PrincipalRepository) SetEnabled(ctx context.Context, subject string, enabled bool) error {
	query := `UPDATE principals SET enabled = $2, updated_at = $3 WHERE subject = $1`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query, models.NormalizeSubject(subject), enabled, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to update principal: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("principal %q: %w", subject, repositories.ErrNotFound)
	}

	r.logger.Debug("principal updated", zap.String("subject", subject), zap.Bool("enabled", enabled))
	return nil
}
