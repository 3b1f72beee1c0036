package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/upb/sensor-gateway/internal/observability"
	"github.com/upb/sensor-gateway/models"
	"github.com/upb/sensor-gateway/repositories"
	"go.uber.org/zap"
)

// AuditService writes security events asynchronously
type AuditService struct {
	repo          repositories.SecurityEventRepository
	logger        *zap.Logger
	eventChan     chan *models.SecurityEvent
	workerCount   int
	bufferSize    int
	insertTimeout time.Duration
	wg            sync.WaitGroup
	mu            sync.RWMutex
	started       bool
	stopped       bool
}

// Config holds configuration for the AuditService
type Config struct {
	BufferSize  int // Size of the event buffer channel
	WorkerCount int // Number of concurrent workers
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		BufferSize:  10000,
		WorkerCount: 2,
	}
}

// NewAuditService creates a new AuditService instance
func NewAuditService(repo repositories.SecurityEventRepository, logger *zap.Logger, config Config) *AuditService {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultConfig().BufferSize
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = DefaultConfig().WorkerCount
	}

	return &AuditService{
		repo:          repo,
		logger:        logger,
		eventChan:     make(chan *models.SecurityEvent, config.BufferSize),
		workerCount:   config.WorkerCount,
		bufferSize:    config.BufferSize,
		insertTimeout: 5 * time.Second,
	}
}

// Start starts the background workers
func (s *AuditService) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("audit service already started")
	}

	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.started = true
	s.logger.Info("started audit service",
		zap.Int("worker_count", s.workerCount),
		zap.Int("buffer_size", s.bufferSize))

	return nil
}

// Stop stops accepting events and waits up to timeout for queued events to be written
func (s *AuditService) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return fmt.Errorf("audit service not running")
	}
	s.stopped = true
	close(s.eventChan)
	s.mu.Unlock()

	s.logger.Info("stopping audit service", zap.Int("pending_events", len(s.eventChan)))

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("audit service stopped gracefully")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("audit service stop timeout after %v", timeout)
	}
}

// Record queues event without blocking. A full buffer drops the event.
func (s *AuditService) Record(event *models.SecurityEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.started || s.stopped {
		observability.AuditEventsDroppedTotal.Inc()
		s.logger.Debug("audit service not running, dropping event", zap.String("type", string(event.Type)))
		return
	}

	select {
	case s.eventChan <- event:
		observability.AuditQueueDepth.Set(float64(len(s.eventChan)))
	default:
		observability.AuditEventsDroppedTotal.Inc()
		s.logger.Warn("audit event channel full, dropping event",
			zap.String("type", string(event.Type)),
			zap.String("request_id", event.CorrelationID))
	}
}

// Recent returns the newest stored events
func (s *AuditService) Recent(ctx context.Context, limit int) ([]*models.SecurityEvent, error) {
	return s.repo.ListRecent(ctx, limit)
}

func (s *AuditService) worker(id int) {
	defer s.wg.Done()

	s.logger.Debug("audit worker started", zap.Int("worker_id", id))

	for event := range s.eventChan {
		observability.AuditQueueDepth.Set(float64(len(s.eventChan)))
		if err := s.processEvent(event); err != nil {
			s.logger.Error("failed to process audit event",
				zap.Int("worker_id", id),
				zap.Error(err),
				zap.String("type", string(event.Type)),
				zap.String("request_id", event.CorrelationID))
		}
	}

	s.logger.Debug("audit worker stopped", zap.Int("worker_id", id))
}

func (s *AuditService) processEvent(event *models.SecurityEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.insertTimeout)
	defer cancel()

	if err := s.repo.Insert(ctx, event); err != nil {
		return fmt.Errorf("failed to insert security event: %w", err)
	}
	return nil
}
