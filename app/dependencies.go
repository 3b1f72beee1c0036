package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/upb/sensor-gateway/config"
	"github.com/upb/sensor-gateway/handlers"
	"github.com/upb/sensor-gateway/middleware"
	"github.com/upb/sensor-gateway/repositories"
	"github.com/upb/sensor-gateway/repositories/postgres"
	"github.com/upb/sensor-gateway/services/audit"
	"github.com/upb/sensor-gateway/services/authorization"
	"github.com/upb/sensor-gateway/services/lockout"
	"github.com/upb/sensor-gateway/services/principal"
	"github.com/upb/sensor-gateway/services/ratelimit"
	"github.com/upb/sensor-gateway/services/revocation"
	"github.com/upb/sensor-gateway/services/token"
	"go.uber.org/zap"
)

// ringCapacity bounds the in-process security event history used without a database
const ringCapacity = 1000

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	DB     *postgres.DB
	Logger *zap.Logger

	// Repository Factory, nil without a database
	RepoFactory *postgres.RepositoryFactory

	// Repositories
	Principals     repositories.PrincipalRepository
	SecurityEvents repositories.SecurityEventRepository
	TxManager      repositories.TransactionManager

	// Security components
	RateLimiter *ratelimit.RateLimitService
	Lockout     *lockout.LockoutService
	Tokens      *token.Codec
	Revocation  revocation.Store
	Authorizer  *authorization.Authorizer
	Subjects    *principal.PrincipalService
	Audit       *audit.AuditService
	Pipeline    *middleware.SecurityPipeline

	// PrincipalCache is nil unless PRINCIPAL_CACHE_TTL is set
	PrincipalCache *principal.Cache

	// Upstream
	Proxy *handlers.ProxyHandler

	revocationSweeper sweeper
	redisStore        *revocation.RedisStore

	mu      sync.Mutex
	cancel  context.CancelFunc
	started bool
}

// sweeper is a revocation store with its own expiry worker
type sweeper interface {
	Start(ctx context.Context, interval time.Duration)
	Stop()
}

// NewDependencies creates and wires up all application dependencies.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if cfg.Database.Configured() {
		if err := deps.initDatabase(ctx, cfg); err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
	}

	deps.initRepositories()

	if err := deps.initSecurity(cfg); err != nil {
		deps.closeStores()
		return nil, fmt.Errorf("failed to initialize security pipeline: %w", err)
	}

	if err := deps.initRevocation(ctx, cfg); err != nil {
		deps.closeStores()
		return nil, fmt.Errorf("failed to initialize revocation store: %w", err)
	}

	if err := deps.bootstrapAdmin(ctx, cfg); err != nil {
		deps.closeStores()
		return nil, fmt.Errorf("failed to bootstrap admin: %w", err)
	}

	proxy, err := handlers.NewProxyHandler(cfg.Upstream.SensorAPIURL, cfg.Upstream.Timeout, logger)
	if err != nil {
		deps.closeStores()
		return nil, fmt.Errorf("failed to initialize upstream proxy: %w", err)
	}
	deps.Proxy = proxy
	if cfg.Upstream.SensorAPIURL == "" {
		logger.Warn("SENSOR_API_URL not set, proxied routes will answer 503")
	}

	deps.Pipeline = middleware.NewSecurityPipeline(middleware.PipelineConfig{
		PublicPaths:          cfg.Security.PublicPaths,
		RateLimitExemptPaths: cfg.Security.RateLimit.ExemptPaths,
		WebSocketPath:        cfg.Security.WebSocketPath,
		AllowedOrigins:       cfg.Security.CORSAllowedOrigins,
		LookupTimeout:        cfg.Security.Revocation.LookupTimeout,
		TrustProxyHeaders:    cfg.Security.TrustProxyHeaders,
	}, middleware.PipelineComponents{
		Limiter:    deps.RateLimiter,
		Lockout:    deps.Lockout,
		Tokens:     deps.Tokens,
		Revocation: deps.Revocation,
		Subjects:   deps.Subjects,
		Authorizer: deps.Authorizer,
		Audit:      deps.Audit,
	}, logger)

	logger.Info("all dependencies initialized successfully",
		zap.String("revocation_backend", cfg.Security.Revocation.Backend),
		zap.Bool("database", deps.DB != nil),
		zap.Int("access_rules", len(cfg.Security.AccessRules)))
	return deps, nil
}

// initDatabase opens the PostgreSQL pool and ensures the schema exists
func (d *Dependencies) initDatabase(ctx context.Context, cfg *config.Config) error {
	factory, err := postgres.NewRepositoryFactory(cfg.Database, d.Logger)
	if err != nil {
		return fmt.Errorf("failed to create repository factory: %w", err)
	}

	d.RepoFactory = factory
	d.DB = factory.GetDB()

	if err := d.DB.InitSchema(ctx); err != nil {
		_ = factory.Close()
		d.RepoFactory, d.DB = nil, nil
		return err
	}
	return nil
}

// initRepositories selects Postgres or in-process repositories
func (d *Dependencies) initRepositories() {
	if d.RepoFactory != nil {
		repos := d.RepoFactory.NewRepositories()
		d.Principals = repos.Principals
		d.SecurityEvents = repos.SecurityEvents
		d.TxManager = d.RepoFactory.GetTransactionManager()
		d.Logger.Info("repositories initialized", zap.String("backend", "postgres"))
		return
	}

	d.Principals = principal.NewMemoryRepository()
	d.SecurityEvents = audit.NewRingRepository(ringCapacity, d.Logger)
	d.Logger.Warn("no database configured, principals and security events are kept in memory")
}

func (d *Dependencies) initSecurity(cfg *config.Config) error {
	sec := cfg.Security

	limiter, err := ratelimit.NewRateLimitService(ratelimit.Config{
		Limit:              sec.RateLimit.Limit,
		Burst:              sec.RateLimit.Burst,
		Window:             sec.RateLimit.Window,
		CleanupInterval:    sec.RateLimit.CleanupInterval,
		EmergencyThreshold: sec.RateLimit.EmergencyThreshold,
	}, d.Logger)
	if err != nil {
		return err
	}

	lock, err := lockout.NewLockoutService(lockout.Config{
		MaxFailedAttempts: sec.Lockout.MaxFailedAttempts,
		Duration:          sec.Lockout.Duration,
		SweepInterval:     sec.Lockout.SweepInterval,
	}, d.Logger)
	if err != nil {
		return err
	}

	codec, err := token.NewCodec(token.Config{
		Secret:    sec.Token.Secret,
		Issuer:    sec.Token.Issuer,
		TTL:       sec.Token.TTL,
		ClockSkew: sec.Token.ClockSkew,
	})
	if err != nil {
		return err
	}

	d.RateLimiter = limiter
	d.Lockout = lock
	d.Tokens = codec
	d.Authorizer = authorization.NewAuthorizer(sec.AccessRules)
	d.Subjects = principal.NewPrincipalService(d.Principals, d.TxManager, d.Logger)
	if pc := sec.PrincipalCache; pc.TTL > 0 {
		d.PrincipalCache = principal.NewCache(pc.Size, pc.TTL)
		d.Subjects.WithCache(d.PrincipalCache)
	}
	d.Audit = audit.NewAuditService(d.SecurityEvents, d.Logger, audit.Config{
		BufferSize:  cfg.Audit.BufferSize,
		WorkerCount: cfg.Audit.WorkerCount,
	})
	return nil
}

// initRevocation builds the store named by REVOCATION_BACKEND
func (d *Dependencies) initRevocation(ctx context.Context, cfg *config.Config) error {
	backend, err := revocation.ValidateBackend(cfg.Security.Revocation.Backend)
	if err != nil {
		return err
	}

	switch backend {
	case revocation.BackendRedis:
		store := revocation.NewRedisStore(revocation.RedisConfig{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := store.Ping(pingCtx); err != nil {
			_ = store.Close()
			return err
		}
		d.redisStore = store
		d.Revocation = store

	case revocation.BackendPostgres:
		if d.RepoFactory == nil {
			return errors.New("postgres revocation backend requires a database")
		}
		store := d.RepoFactory.RevocationStore()
		d.revocationSweeper = store
		d.Revocation = store

	default:
		store := revocation.NewMemoryStore(d.Logger)
		d.revocationSweeper = store
		d.Revocation = store
	}

	d.Logger.Info("revocation store initialized", zap.String("backend", backend))
	return nil
}

// bootstrapAdmin seeds the configured administrator once
func (d *Dependencies) bootstrapAdmin(ctx context.Context, cfg *config.Config) error {
	if cfg.Bootstrap.AdminUser == "" {
		if d.RepoFactory == nil {
			d.Logger.Warn("no database and no BOOTSTRAP_ADMIN_USER, nobody can log in")
		}
		return nil
	}

	if _, err := d.Subjects.EnsureAdmin(ctx, cfg.Bootstrap.AdminUser, cfg.Bootstrap.AdminPasswordHash); err != nil {
		return err
	}
	return nil
}

// Start launches every background worker. Workers stop when ctx is
// cancelled or Close is called.
func (d *Dependencies) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return errors.New("dependencies already started")
	}
	if err := d.Audit.Start(); err != nil {
		return err
	}

	ctx, d.cancel = context.WithCancel(ctx)
	d.RateLimiter.Start(ctx)
	d.Lockout.Start(ctx)
	if d.revocationSweeper != nil {
		d.revocationSweeper.Start(ctx, d.Config.Security.Revocation.SweepInterval)
	}
	if d.PrincipalCache != nil {
		go d.PrincipalCache.Run(ctx, d.Config.Security.PrincipalCache.TTL)
	}

	d.started = true
	d.Logger.Info("background workers started")
	return nil
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	d.mu.Lock()
	if d.started {
		d.cancel()
		d.RateLimiter.Stop()
		d.Lockout.Stop()
		if d.revocationSweeper != nil {
			d.revocationSweeper.Stop()
		}

		timeout := 5 * time.Second
		if deadline, ok := ctx.Deadline(); ok {
			timeout = time.Until(deadline)
		}
		if err := d.Audit.Stop(timeout); err != nil {
			errs = append(errs, fmt.Errorf("failed to drain audit events: %w", err))
		}
		d.started = false
	}
	d.mu.Unlock()

	errs = append(errs, d.closeStores()...)

	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %w", errors.Join(errs...))
	}
	return nil
}

func (d *Dependencies) closeStores() []error {
	var errs []error
	if d.redisStore != nil {
		if err := d.redisStore.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close redis: %w", err))
		}
		d.redisStore = nil
	}
	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
		d.RepoFactory = nil
	}
	return errs
}

// ReadinessChecks returns the backends /readyz should probe
func (d *Dependencies) ReadinessChecks() map[string]handlers.Pinger {
	checks := make(map[string]handlers.Pinger)
	if d.DB != nil {
		checks["database"] = d.DB
	}
	if p, ok := d.Revocation.(revocation.Pinger); ok {
		checks["revocation"] = p
	}
	return checks
}
