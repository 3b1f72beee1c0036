package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/upb/sensor-gateway/internal/observability"
	"go.uber.org/zap"
)

// Outcome is the admission decision for a single request
type Outcome int

const (
	// Allow means the client is within its base limit
	Allow Outcome = iota
	// Burst means the client exceeded the base limit but is within the burst allowance
	Burst
	// Reject means the client exceeded limit + burst for the current window
	Reject
)

// String returns the metric label for the outcome
func (o Outcome) String() string {
	switch o {
	case Allow:
		return "allow"
	case Burst:
		return "burst"
	default:
		return "reject"
	}
}

// Decision is the result of Admit
type Decision struct {
	Outcome    Outcome
	Count      int64
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Allowed reports whether the request should be forwarded
func (d Decision) Allowed() bool {
	return d.Outcome != Reject
}

// Config holds the limiter settings
type Config struct {
	Limit              int
	Burst              int
	Window             time.Duration
	CleanupInterval    time.Duration
	EmergencyThreshold int
}

// Validate checks the limiter settings
func (c Config) Validate() error {
	if c.Limit <= 0 {
		return errors.New("rate limit must be positive")
	}
	if c.Burst < 0 {
		return errors.New("rate limit burst cannot be negative")
	}
	if c.Window <= 0 {
		return errors.New("rate limit window must be positive")
	}
	if c.EmergencyThreshold <= 0 {
		return errors.New("rate limit emergency threshold must be positive")
	}
	return nil
}

// RateLimitService is a fixed-window limiter keyed by client key.
// Counters are cleared for every client at once when the window ticks,
// independent of when each client's first request arrived.
type RateLimitService struct {
	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	counters    sync.Map // clientKey -> *atomic.Int64
	size        atomic.Int64
	windowStart atomic.Int64 // unix nanos

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRateLimitService creates a new RateLimitService instance
func NewRateLimitService(cfg Config, logger *zap.Logger) (*RateLimitService, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = cfg.Window
	}
	s := &RateLimitService{
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
	s.windowStart.Store(s.now().UnixNano())
	return s, nil
}

// Admit counts one request for clientKey and classifies it against the
// current window.
func (s *RateLimitService) Admit(clientKey string) Decision {
	counter := s.counter(clientKey)
	count := counter.Add(1)

	d := Decision{
		Count: count,
		Limit: s.cfg.Limit,
	}
	limit := int64(s.cfg.Limit)
	switch {
	case count <= limit:
		d.Outcome = Allow
		d.Remaining = int(limit - count)
	case count <= limit+int64(s.cfg.Burst):
		d.Outcome = Burst
		s.logger.Debug("client in burst allowance",
			zap.String("client_key", clientKey),
			zap.Int64("count", count),
			zap.Int("limit", s.cfg.Limit))
	default:
		d.Outcome = Reject
		d.RetryAfter = s.untilReset()
	}

	observability.RateLimitDecisionsTotal.WithLabelValues(d.Outcome.String()).Inc()
	return d
}

func (s *RateLimitService) counter(clientKey string) *atomic.Int64 {
	if v, ok := s.counters.Load(clientKey); ok {
		return v.(*atomic.Int64)
	}
	v, loaded := s.counters.LoadOrStore(clientKey, new(atomic.Int64))
	if !loaded {
		s.size.Add(1)
	}
	return v.(*atomic.Int64)
}

// untilReset returns the time left in the current window, at least one second.
func (s *RateLimitService) untilReset() time.Duration {
	start := time.Unix(0, s.windowStart.Load())
	left := start.Add(s.cfg.Window).Sub(s.now())
	if left < time.Second {
		return time.Second
	}
	return left
}

// Reset clears every counter and starts a new window.
func (s *RateLimitService) Reset() {
	s.counters.Clear()
	s.size.Store(0)
	s.windowStart.Store(s.now().UnixNano())
	observability.RateLimitTrackedClients.Set(0)
}

// EmergencySweep clears the whole table when it tracks more clients than the
// emergency threshold. It returns true when a sweep happened.
func (s *RateLimitService) EmergencySweep() bool {
	size := s.size.Load()
	observability.RateLimitTrackedClients.Set(float64(size))
	if size <= int64(s.cfg.EmergencyThreshold) {
		return false
	}

	s.counters.Clear()
	s.size.Store(0)
	observability.RateLimitEmergencySweepsTotal.Inc()
	observability.RateLimitTrackedClients.Set(0)
	s.logger.Warn("rate limit table exceeded emergency threshold, cleared",
		zap.Int64("tracked_clients", size),
		zap.Int("threshold", s.cfg.EmergencyThreshold))
	return true
}

// Size returns the number of tracked client keys
func (s *RateLimitService) Size() int {
	return int(s.size.Load())
}

// Limit returns the configured base limit
func (s *RateLimitService) Limit() int {
	return s.cfg.Limit
}

// Start launches the window reset and emergency sweep workers. They run
// until ctx is cancelled or Stop is called.
func (s *RateLimitService) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.Reset()

	s.wg.Add(2)
	go s.runTicker(ctx, s.cfg.Window, "window reset", func() { s.Reset() })
	go s.runTicker(ctx, s.cfg.CleanupInterval, "emergency sweep", func() { s.EmergencySweep() })

	s.logger.Info("started rate limit workers",
		zap.Int("limit", s.cfg.Limit),
		zap.Int("burst", s.cfg.Burst),
		zap.Duration("window", s.cfg.Window),
		zap.Duration("cleanup_interval", s.cfg.CleanupInterval))
}

// Stop halts the background workers and waits for them to exit
func (s *RateLimitService) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		s.wg.Wait()
	}
}

func (s *RateLimitService) runTicker(ctx context.Context, interval time.Duration, name string, fn func()) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			fn()
		case <-ctx.Done():
			s.logger.Info("stopping rate limit worker", zap.String("worker", name))
			return
		}
	}
}
