package revocation

import (
	"context"
	"sync"
	"time"

	"github.com/upb/sensor-gateway/models"
	"go.uber.org/zap"
)

// MemoryStore keeps revocations in process. Expired entries are ignored on
// lookup and pruned by Sweep.
type MemoryStore struct {
	entries sync.Map // fingerprint -> *models.RevokedToken
	logger  *zap.Logger
	now     func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-process store
func NewMemoryStore(logger *zap.Logger) *MemoryStore {
	return &MemoryStore{logger: logger, now: time.Now}
}

// Revoke implements Store
func (s *MemoryStore) Revoke(_ context.Context, fingerprint string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	now := s.now().UTC()
	s.entries.Store(fingerprint, &models.RevokedToken{
		TokenHash: fingerprint,
		ExpiresAt: now.Add(ttl),
		RevokedAt: now,
	})
	return nil
}

// IsRevoked implements Store
func (s *MemoryStore) IsRevoked(_ context.Context, fingerprint string) (bool, error) {
	v, ok := s.entries.Load(fingerprint)
	if !ok {
		return false, nil
	}
	if v.(*models.RevokedToken).Expired(s.now()) {
		s.entries.CompareAndDelete(fingerprint, v)
		return false, nil
	}
	return true, nil
}

// Sweep removes expired entries and returns how many were removed
func (s *MemoryStore) Sweep() int {
	now := s.now()
	removed := 0
	s.entries.Range(func(key, value any) bool {
		if value.(*models.RevokedToken).Expired(now) && s.entries.CompareAndDelete(key, value) {
			removed++
		}
		return true
	})
	return removed
}

// Len returns the number of stored entries, expired or not
func (s *MemoryStore) Len() int {
	n := 0
	s.entries.Range(func(any, any) bool {
		n++
		return true
	})
	return n
}

// Start prunes expired entries every interval until ctx is cancelled or Stop is called
func (s *MemoryStore) Start(ctx context.Context, interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil || interval <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if n := s.Sweep(); n > 0 {
					s.logger.Debug("pruned expired revocations", zap.Int("count", n))
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the sweep worker
func (s *MemoryStore) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		s.wg.Wait()
	}
}
