package middleware

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/upb/sensor-gateway/internal/observability"
	"github.com/upb/sensor-gateway/models"
	"github.com/upb/sensor-gateway/services"
	"github.com/upb/sensor-gateway/services/authorization"
	"github.com/upb/sensor-gateway/services/ratelimit"
	"github.com/upb/sensor-gateway/services/revocation"
	"github.com/upb/sensor-gateway/services/token"
	"go.uber.org/zap"
)

// RateLimiter admits or rejects one request for a client key
type RateLimiter interface {
	Admit(clientKey string) ratelimit.Decision
}

// LockoutTracker counts authentication failures per client key
type LockoutTracker interface {
	RecordFailure(clientKey string) int
	IsLocked(clientKey string) bool
	RetryAfter(clientKey string) time.Duration
	Clear(clientKey string)
}

// TokenValidator parses bearer tokens
type TokenValidator interface {
	Parse(raw string) (*token.Claims, error)
	ValidateSubject(claims *token.Claims, expected string) bool
}

// SubjectResolver loads the enabled principal behind a token subject
type SubjectResolver interface {
	Resolve(ctx context.Context, subject string) (*models.Principal, error)
}

// RoleAuthorizer checks granted roles against the path rules
type RoleAuthorizer interface {
	Check(path string, granted []string) (authorization.Rule, bool)
}

// EventRecorder accepts security events without blocking
type EventRecorder interface {
	Record(event *models.SecurityEvent)
}

// PipelineConfig holds the path classes and timeouts of the security pipeline
type PipelineConfig struct {
	PublicPaths          []string
	RateLimitExemptPaths []string
	WebSocketPath        string
	AllowedOrigins       []string
	LookupTimeout        time.Duration
	TrustProxyHeaders    bool
}

// PipelineComponents are the stateful collaborators of the pipeline
type PipelineComponents struct {
	Limiter    RateLimiter
	Lockout    LockoutTracker
	Tokens     TokenValidator
	Revocation revocation.Store
	Subjects   SubjectResolver
	Authorizer RoleAuthorizer
	Audit      EventRecorder
}

// SecurityPipeline throttles, authenticates and authorizes every request
// before it reaches a handler.
type SecurityPipeline struct {
	cfg        PipelineConfig
	c          PipelineComponents
	clientKeys *ClientKeyResolver
	origins    map[string]struct{}
	logger     *zap.Logger
}

// NewSecurityPipeline creates a new SecurityPipeline
func NewSecurityPipeline(cfg PipelineConfig, c PipelineComponents, logger *zap.Logger) *SecurityPipeline {
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = 2 * time.Second
	}
	origins := make(map[string]struct{}, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		origins[strings.TrimRight(o, "/")] = struct{}{}
	}
	return &SecurityPipeline{
		cfg:        cfg,
		c:          c,
		clientKeys: NewClientKeyResolver(cfg.TrustProxyHeaders),
		origins:    origins,
		logger:     logger,
	}
}

// rejection describes why a request was stopped
type rejection struct {
	err        *services.DomainError
	clientKey  string
	subject    string
	retryAfter time.Duration
	eventType  models.SecurityEventType
}

// Handler wraps next with the pipeline
func (p *SecurityPipeline) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		clientKey := p.clientKeys.Resolve(r)
		noteClientKey(r.Context(), clientKey)

		if p.cfg.WebSocketPath != "" && matchesPath(r.URL.Path, []string{p.cfg.WebSocketPath}) {
			if isUpgrade(r) && !p.originAllowed(r.Header.Get("Origin")) {
				p.reject(w, r, rejection{
					err:       services.ErrOriginNotAllowed,
					clientKey: clientKey,
					eventType: models.EventOriginRejected,
				})
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		r = r.WithContext(WithClientKey(r.Context(), clientKey))

		if !matchesPath(r.URL.Path, p.cfg.RateLimitExemptPaths) {
			d := p.c.Limiter.Admit(clientKey)
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			if !d.Allowed() {
				p.reject(w, r, rejection{
					err:        services.ErrRateLimitExceeded,
					clientKey:  clientKey,
					retryAfter: d.RetryAfter,
					eventType:  models.EventRateLimited,
				})
				return
			}
		}

		if p.c.Lockout.IsLocked(clientKey) {
			observability.LockoutRejectionsTotal.Inc()
			p.reject(w, r, rejection{
				err:        services.ErrClientLocked,
				clientKey:  clientKey,
				retryAfter: p.c.Lockout.RetryAfter(clientKey),
				eventType:  models.EventClientLocked,
			})
			return
		}

		if matchesPath(r.URL.Path, p.cfg.PublicPaths) {
			next.ServeHTTP(w, r)
			return
		}

		identity, rej := p.authenticate(r, clientKey)
		if rej != nil {
			p.reject(w, r, *rej)
			return
		}

		if rule, ok := p.c.Authorizer.Check(r.URL.Path, identity.Roles); !ok {
			observability.AuthorizationDeniedTotal.WithLabelValues(rule.Prefix).Inc()
			p.reject(w, r, rejection{
				err:       services.ErrInsufficientRole,
				clientKey: clientKey,
				subject:   identity.Subject,
				eventType: models.EventAuthorizationDenied,
			})
			return
		}

		SetSecurityHeaders(w.Header())
		p.c.Lockout.Clear(clientKey)
		noteSubject(r.Context(), identity.Subject)

		p.logger.Debug("request authenticated",
			zap.String("request_id", GetRequestIDFromContext(r.Context())),
			zap.String("subject", identity.Subject),
			zap.Strings("roles", identity.Roles))

		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
	})
}

// authenticate runs token extraction and verification for a pipeline request
func (p *SecurityPipeline) authenticate(r *http.Request, clientKey string) (*Identity, *rejection) {
	raw := BearerToken(r)
	if raw == "" {
		return nil, authRejection(services.ErrMissingCredential, clientKey, "")
	}

	identity, subject, err := p.verify(r.Context(), raw)
	if err != nil {
		return nil, authRejection(err, clientKey, subject)
	}
	identity.ClientKey = clientKey
	return identity, nil
}

// Verify checks revocation, signature, expiry and the principal behind raw.
// The returned identity has no client key.
func (p *SecurityPipeline) Verify(ctx context.Context, raw string) (*Identity, error) {
	identity, _, err := p.verify(ctx, raw)
	if err != nil {
		return nil, err
	}
	return identity, nil
}

// verify also returns the token subject once known, for logging
func (p *SecurityPipeline) verify(ctx context.Context, raw string) (*Identity, string, *services.DomainError) {
	fingerprint := revocation.Fingerprint(raw)
	lookupCtx, cancel := context.WithTimeout(ctx, p.cfg.LookupTimeout)
	revoked, err := p.c.Revocation.IsRevoked(lookupCtx, fingerprint)
	cancel()
	if err != nil {
		return nil, "", services.ErrInternal.Wrap(err)
	}
	if revoked {
		return nil, "", services.ErrTokenRevoked
	}

	claims, err := p.c.Tokens.Parse(raw)
	if err != nil {
		return nil, "", ClassifyTokenError(err)
	}

	principal, err := p.c.Subjects.Resolve(ctx, claims.Subject)
	if err != nil {
		return nil, claims.Subject, services.AsDomainError(err)
	}
	// the directory must hand back the principal the token names
	if !p.c.Tokens.ValidateSubject(claims, principal.Subject) {
		return nil, claims.Subject, services.ErrSubjectMismatch
	}

	return &Identity{
		Subject:          principal.Subject,
		Roles:            append([]string(nil), principal.Roles...),
		TokenFingerprint: fingerprint,
		ExpiresAt:        claims.ExpiresAt,
	}, claims.Subject, nil
}

func authRejection(err *services.DomainError, clientKey, subject string) *rejection {
	eventType := models.EventAuthFailure
	if services.IsInternalError(err) {
		eventType = models.EventInternalError
	}
	return &rejection{err: err, clientKey: clientKey, subject: subject, eventType: eventType}
}

// reject records the failure and writes the minimal body
func (p *SecurityPipeline) reject(w http.ResponseWriter, r *http.Request, rej rejection) {
	requestID := GetRequestIDFromContext(r.Context())
	fields := []zap.Field{
		zap.String("request_id", requestID),
		zap.String("client_key", rej.clientKey),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("reason", rej.err.Code),
		zap.Int("status", rej.err.Status()),
	}
	if rej.subject != "" {
		fields = append(fields, zap.String("subject", rej.subject))
		noteSubject(r.Context(), rej.subject)
	}

	if services.IsAuthenticationFailure(rej.err) {
		failures := p.c.Lockout.RecordFailure(rej.clientKey)
		observability.AuthFailuresTotal.WithLabelValues(rej.err.Code).Inc()
		fields = append(fields, zap.Int("failures", failures))
	}

	if services.IsInternalError(rej.err) {
		p.logger.Error("request rejected", append(fields, zap.Error(rej.err.Unwrap()))...)
	} else {
		p.logger.Warn("request rejected", fields...)
	}

	if p.c.Audit != nil {
		p.c.Audit.Record(models.NewSecurityEvent(rej.eventType, rej.clientKey).
			WithRequest(r.Method, r.URL.Path, requestID).
			WithSubject(rej.subject).
			WithOutcome(rej.err.Code, rej.err.Status()))
	}

	WriteServiceError(w, rej.err, rej.retryAfter)
}

func (p *SecurityPipeline) originAllowed(origin string) bool {
	if origin == "" {
		return false
	}
	_, ok := p.origins[strings.TrimRight(origin, "/")]
	return ok
}

// ClassifyTokenError maps codec failures onto the public error taxonomy
func ClassifyTokenError(err error) *services.DomainError {
	switch {
	case errors.Is(err, token.ErrExpired):
		return services.ErrTokenExpired.Wrap(err)
	case errors.Is(err, token.ErrSignatureInvalid):
		return services.ErrSignatureInvalid.Wrap(err)
	default:
		return services.ErrMalformedToken.Wrap(err)
	}
}

// matchesPath reports whether path equals one of prefixes or lies below it
func matchesPath(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if p == "" {
			continue
		}
		if path == p || strings.HasPrefix(path, strings.TrimSuffix(p, "/")+"/") {
			return true
		}
	}
	return false
}

func isUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

// BearerToken returns the raw bearer token of r, or ""
func BearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
