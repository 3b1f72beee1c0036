package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/upb/sensor-gateway/models"
	"github.com/upb/sensor-gateway/repositories"
	"go.uber.org/zap"
)

// SecurityEventRepository implements the repositories.SecurityEventRepository interface
type SecurityEventRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewSecurityEventRepository creates a new security event repository
func NewSecurityEventRepository(db *DB, logger *zap.Logger) repositories.SecurityEventRepository {
	return &SecurityEventRepository{db: db, logger: logger}
}

// Insert inserts a new security event
func (r *SecurityEventRepository) Insert(ctx context.Context, e *models.SecurityEvent) error {
	query := `
		INSERT INTO security_events (
			id, event_type, client_key, subject, method, path,
			correlation_id, reason, status, occurred_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		e.ID,
		string(e.Type),
		e.ClientKey,
		e.Subject,
		e.Method,
		e.Path,
		e.CorrelationID,
		e.Reason,
		e.Status,
		e.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert security event: %w", err)
	}

	r.logger.Debug("security event inserted",
		zap.String("id", e.ID.String()),
		zap.String("type", string(e.Type)))
	return nil
}

// ListRecent returns the newest events first
func (r *SecurityEventRepository) ListRecent(ctx context.Context, limit int) ([]*models.SecurityEvent, error) {
	query := `
		SELECT id, event_type, client_key, subject, method, path,
		       correlation_id, reason, status, occurred_at
		FROM security_events
		ORDER BY occurred_at DESC
		LIMIT $1
	`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list security events: %w", err)
	}
	defer rows.Close()

	var events []*models.SecurityEvent
	for rows.Next() {
		e := &models.SecurityEvent{}
		var eventType string
		var subject sql.NullString
		if err := rows.Scan(
			&e.ID,
			&eventType,
			&e.ClientKey,
			&subject,
			&e.Method,
			&e.Path,
			&e.CorrelationID,
			&e.Reason,
			&e.Status,
			&e.OccurredAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan security event: %w", err)
		}
		e.Type = models.SecurityEventType(eventType)
		if subject.Valid {
			e.Subject = &subject.String
		}
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating security events: %w", err)
	}
	return events, nil
}
