package audit

import (
	"context"
	"sync"

	"github.com/upb/sensor-gateway/models"
	"github.com/upb/sensor-gateway/repositories"
	"go.uber.org/zap"
)

// RingRepository keeps the newest events in memory and mirrors each one to
// the log. Used when no database is configured.
type RingRepository struct {
	mu     sync.Mutex
	events []*models.SecurityEvent
	next   int
	full   bool
	logger *zap.Logger
}

var _ repositories.SecurityEventRepository = (*RingRepository)(nil)

// NewRingRepository creates a repository holding at most capacity events
func NewRingRepository(capacity int, logger *zap.Logger) *RingRepository {
	if capacity <= 0 {
		capacity = 1000
	}
	return &RingRepository{
		events: make([]*models.SecurityEvent, capacity),
		logger: logger,
	}
}

// Insert implements repositories.SecurityEventRepository
func (r *RingRepository) Insert(_ context.Context, e *models.SecurityEvent) error {
	fields := []zap.Field{
		zap.String("event_type", string(e.Type)),
		zap.String("client_key", e.ClientKey),
		zap.String("method", e.Method),
		zap.String("path", e.Path),
		zap.String("request_id", e.CorrelationID),
		zap.String("reason", e.Reason),
		zap.Int("status", e.Status),
	}
	if e.Subject != nil {
		fields = append(fields, zap.String("subject", *e.Subject))
	}
	r.logger.Info("security event", fields...)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[r.next] = e
	r.next = (r.next + 1) % len(r.events)
	if r.next == 0 {
		r.full = true
	}
	return nil
}

// ListRecent implements repositories.SecurityEventRepository
func (r *RingRepository) ListRecent(_ context.Context, limit int) ([]*models.SecurityEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	size := r.next
	if r.full {
		size = len(r.events)
	}
	if limit <= 0 || limit > size {
		limit = size
	}

	out := make([]*models.SecurityEvent, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (r.next - i + len(r.events)) % len(r.events)
		out = append(out, r.events[idx])
	}
	return out, nil
}
