package postgres

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/upb/sensor-gateway/services/revocation"
	"go.uber.org/zap"
)

// RevocationStore implements revocation.Store on the revoked_tokens table.
// Expiry is computed by the database clock.
type RevocationStore struct {
	db     *DB
	logger *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var (
	_ revocation.Store  = (*RevocationStore)(nil)
	_ revocation.Pinger = (*RevocationStore)(nil)
)

// NewRevocationStore creates a Postgres backed revocation store
func NewRevocationStore(db *DB, logger *zap.Logger) *RevocationStore {
	return &RevocationStore{db: db, logger: logger}
}

// Revoke upserts the fingerprint, extending its expiry if already present
func (s *RevocationStore) Revoke(ctx context.Context, fingerprint string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}

	query := `
		INSERT INTO revoked_tokens (token_hash, expires_at, revoked_at)
		VALUES ($1, now() + ($2 * interval '1 second'), now())
		ON CONFLICT (token_hash) DO UPDATE
		SET expires_at = GREATEST(revoked_tokens.expires_at, EXCLUDED.expires_at)
	`

	seconds := int64(math.Ceil(ttl.Seconds()))
	if _, err := GetExecutor(ctx, s.db).ExecContext(ctx, query, fingerprint, seconds); err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}

	s.logger.Debug("token revoked",
		zap.String("fingerprint", revocation.ShortFingerprint(fingerprint)),
		zap.Int64("ttl_seconds", seconds))
	return nil
}

// IsRevoked reports whether an unexpired row exists for fingerprint
func (s *RevocationStore) IsRevoked(ctx context.Context, fingerprint string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM revoked_tokens WHERE token_hash = $1 AND expires_at > now())`

	var revoked bool
	if err := GetExecutor(ctx, s.db).QueryRowContext(ctx, query, fingerprint).Scan(&revoked); err != nil {
		return false, fmt.Errorf("failed to look up revocation: %w", err)
	}
	return revoked, nil
}

// DeleteExpired removes rows past their expiry and returns how many were removed
func (s *RevocationStore) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := GetExecutor(ctx, s.db).ExecContext(ctx, `DELETE FROM revoked_tokens WHERE expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired revocations: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows, nil
}

// Ping implements revocation.Pinger
func (s *RevocationStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Start runs DeleteExpired every interval until ctx is cancelled or Stop is called
func (s *RevocationStore) Start(ctx context.Context, interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil || interval <= 0 {
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := s.DeleteExpired(ctx)
				if err != nil {
					s.logger.Warn("revocation sweep failed", zap.Error(err))
					continue
				}
				if n > 0 {
					s.logger.Debug("pruned expired revocations", zap.Int64("removed", n))
				}
			}
		}
	}()
}

// Stop halts the sweep goroutine and waits for it to exit
func (s *RevocationStore) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		s.wg.Wait()
	}
}
