// Package lockout tracks consecutive authentication failures per client key
// and enforces a timed lockout once a client reaches the failure limit.
package lockout

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Config holds lockout settings
type Config struct {
	MaxFailedAttempts int
	Duration          time.Duration
	SweepInterval     time.Duration
}

// Validate checks the lockout settings
func (c Config) Validate() error {
	if c.MaxFailedAttempts <= 0 {
		return errors.New("lockout max failed attempts must be positive")
	}
	if c.Duration <= 0 {
		return errors.New("lockout duration must be positive")
	}
	return nil
}

type record struct {
	count        atomic.Int64
	firstFailure time.Time
}

// LockoutService holds one failure record per client key. Lock state is
// derived from (count, age) on every query.
type LockoutService struct {
	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	records sync.Map // clientKey -> *record

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewLockoutService creates a new LockoutService instance
func NewLockoutService(cfg Config, logger *zap.Logger) (*LockoutService, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = cfg.Duration
	}
	return &LockoutService{
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}, nil
}

func (s *LockoutService) expired(r *record, now time.Time) bool {
	return now.Sub(r.firstFailure) >= s.cfg.Duration
}

// RecordFailure counts one authentication failure for clientKey and returns
// the failure count in the current window. A failure that races with Clear
// lands on the removed record and is not counted.
func (s *LockoutService) RecordFailure(clientKey string) int {
	for {
		now := s.now()
		fresh := &record{firstFailure: now}
		v, loaded := s.records.LoadOrStore(clientKey, fresh)
		r := v.(*record)
		if loaded && s.expired(r, now) {
			// stale window: drop it and start over with a fresh record
			s.records.CompareAndDelete(clientKey, r)
			continue
		}
		count := r.count.Add(1)
		if s.expired(r, s.now()) {
			// window ended while counting, possibly evicted by Sweep
			s.records.CompareAndDelete(clientKey, r)
			continue
		}
		if count == int64(s.cfg.MaxFailedAttempts) {
			s.logger.Warn("client locked out after repeated authentication failures",
				zap.String("client_key", clientKey),
				zap.Int64("failures", count),
				zap.Duration("lockout_duration", s.cfg.Duration))
		}
		return int(count)
	}
}

// IsLocked reports whether clientKey has reached the failure limit within
// the lockout duration. An expired record is evicted.
func (s *LockoutService) IsLocked(clientKey string) bool {
	v, ok := s.records.Load(clientKey)
	if !ok {
		return false
	}
	r := v.(*record)
	if s.expired(r, s.now()) {
		s.records.CompareAndDelete(clientKey, r)
		return false
	}
	return r.count.Load() >= int64(s.cfg.MaxFailedAttempts)
}

// RetryAfter returns how long clientKey stays locked, or 0 when it is not locked
func (s *LockoutService) RetryAfter(clientKey string) time.Duration {
	v, ok := s.records.Load(clientKey)
	if !ok {
		return 0
	}
	r := v.(*record)
	if r.count.Load() < int64(s.cfg.MaxFailedAttempts) {
		return 0
	}
	if remaining := r.firstFailure.Add(s.cfg.Duration).Sub(s.now()); remaining > 0 {
		return remaining
	}
	return 0
}

// Failures returns the current failure count for clientKey
func (s *LockoutService) Failures(clientKey string) int {
	v, ok := s.records.Load(clientKey)
	if !ok {
		return 0
	}
	r := v.(*record)
	if s.expired(r, s.now()) {
		return 0
	}
	return int(r.count.Load())
}

// Clear removes the failure record for clientKey. It is a no-op when no record exists.
func (s *LockoutService) Clear(clientKey string) {
	s.records.Delete(clientKey)
}

// Sweep evicts every record older than the lockout duration and returns the
// number removed.
func (s *LockoutService) Sweep() int {
	now := s.now()
	removed := 0
	s.records.Range(func(key, value any) bool {
		r := value.(*record)
		if s.expired(r, now) && s.records.CompareAndDelete(key, r) {
			removed++
		}
		return true
	})
	return removed
}

// Start launches the background sweep. It runs until ctx is cancelled or
// Stop is called.
func (s *LockoutService) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.SweepInterval)
		defer ticker.Stop()

		s.logger.Info("started lockout sweep worker", zap.Duration("interval", s.cfg.SweepInterval))
		for {
			select {
			case <-ticker.C:
				if n := s.Sweep(); n > 0 {
					s.logger.Debug("evicted expired lockout records", zap.Int("count", n))
				}
			case <-ctx.Done():
				s.logger.Info("stopping lockout sweep worker")
				return
			}
		}
	}()
}

// Stop halts the sweep worker and waits for it to exit
func (s *LockoutService) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		s.wg.Wait()
	}
}
