package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/upb/sensor-gateway/internal/observability"
	"github.com/upb/sensor-gateway/middleware"
	"github.com/upb/sensor-gateway/models"
	"github.com/upb/sensor-gateway/services"
	"github.com/upb/sensor-gateway/services/revocation"
	"github.com/upb/sensor-gateway/utils"
	"go.uber.org/zap"
)

// LoginRequest is the body of POST /api/auth/login
type LoginRequest struct {
	Username string `json:"username" validate:"required,subject"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

// RefreshRequest is the body of POST /api/auth/refresh
type RefreshRequest struct {
	Token string `json:"token" validate:"required,jwt"`
}

// TokenResponse is returned by login and refresh
type TokenResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresIn   int64     `json:"expires_in"`
	ExpiresAt   time.Time `json:"expires_at"`
	Subject     string    `json:"subject"`
	Roles       []string  `json:"roles"`
}

// Authenticator verifies login credentials
type Authenticator interface {
	Authenticate(ctx context.Context, subject, password string) (*models.Principal, error)
}

// TokenIssuer signs new tokens
type TokenIssuer interface {
	Issue(subject string, roles []string, ttl time.Duration) (string, error)
	DefaultTTL() time.Duration
}

// TokenVerifier runs the full token check used by the security pipeline
type TokenVerifier interface {
	Verify(ctx context.Context, raw string) (*middleware.Identity, error)
}

// FailureTracker records authentication failures per client key
type FailureTracker interface {
	RecordFailure(clientKey string) int
	Clear(clientKey string)
}

// AuthHandlerDeps bundles the collaborators of AuthHandler
type AuthHandlerDeps struct {
	Principals    Authenticator
	Tokens        TokenIssuer
	Verifier      TokenVerifier
	Revocation    revocation.Store
	Lockout       FailureTracker
	Audit         middleware.EventRecorder
	LookupTimeout time.Duration
}

// AuthHandler serves login, refresh and logout
type AuthHandler struct {
	deps   AuthHandlerDeps
	now    func() time.Time
	logger *zap.Logger
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(deps AuthHandlerDeps, logger *zap.Logger) *AuthHandler {
	if deps.LookupTimeout <= 0 {
		deps.LookupTimeout = 2 * time.Second
	}
	return &AuthHandler{deps: deps, now: time.Now, logger: logger}
}

// HandleLogin handles POST /api/auth/login
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)
	clientKey := middleware.GetClientKeyFromContext(ctx)

	var req LoginRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	p, err := h.deps.Principals.Authenticate(ctx, req.Username, req.Password)
	if errors.Is(err, services.ErrPrincipalDisabled) {
		// disabled accounts are indistinguishable from bad passwords at login
		err = services.ErrInvalidCredentials.Wrap(err)
	}
	if err != nil {
		h.fail(w, r, err, models.EventLoginFailed, req.Username)
		return
	}

	resp, err := h.issue(p.Subject, p.Roles)
	if err != nil {
		HandleServiceError(w, r, services.WrapInternal("issue token", err), h.logger)
		return
	}

	h.deps.Lockout.Clear(clientKey)
	h.record(r, models.EventLoginSucceeded, p.Subject, "", http.StatusOK)
	h.logger.Info("login succeeded",
		zap.String("request_id", requestID),
		zap.String("subject", p.Subject),
		zap.String("client_key", clientKey))

	_ = utils.WriteOK(w, resp)
}

// HandleRefresh handles POST /api/auth/refresh. The presented token must
// pass every pipeline check and is revoked once the new one is issued.
func (h *AuthHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req RefreshRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	identity, err := h.deps.Verifier.Verify(ctx, req.Token)
	if err != nil {
		h.fail(w, r, err, models.EventAuthFailure, "")
		return
	}

	resp, err := h.issue(identity.Subject, identity.Roles)
	if err != nil {
		HandleServiceError(w, r, services.WrapInternal("issue token", err), h.logger)
		return
	}
	if err := h.revoke(ctx, identity); err != nil {
		HandleServiceError(w, r, services.WrapInternal("revoke refreshed token", err), h.logger)
		return
	}

	h.deps.Lockout.Clear(middleware.GetClientKeyFromContext(ctx))
	h.record(r, models.EventTokenRefreshed, identity.Subject, "", http.StatusOK)
	h.logger.Info("token refreshed",
		zap.String("request_id", middleware.GetRequestIDFromContext(ctx)),
		zap.String("subject", identity.Subject),
		zap.String("revoked", revocation.ShortFingerprint(identity.TokenFingerprint)))

	_ = utils.WriteOK(w, resp)
}

// HandleLogout handles POST /api/auth/logout. It revokes the token that
// authenticated the request for the rest of its lifetime.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity := middleware.GetIdentityFromContext(ctx)
	if identity == nil {
		_ = utils.WriteUnauthorized(w, "")
		return
	}

	if err := h.revoke(ctx, identity); err != nil {
		HandleServiceError(w, r, services.WrapInternal("revoke token", err), h.logger)
		return
	}

	h.record(r, models.EventTokenRevoked, identity.Subject, "", http.StatusNoContent)
	h.logger.Info("token revoked",
		zap.String("request_id", middleware.GetRequestIDFromContext(ctx)),
		zap.String("subject", identity.Subject),
		zap.String("fingerprint", revocation.ShortFingerprint(identity.TokenFingerprint)))

	utils.WriteNoContent(w)
}

func (h *AuthHandler) issue(subject string, roles []string) (*TokenResponse, error) {
	ttl := h.deps.Tokens.DefaultTTL()
	issuedAt := h.now().UTC().Truncate(time.Second)

	raw, err := h.deps.Tokens.Issue(subject, roles, ttl)
	if err != nil {
		return nil, err
	}
	return &TokenResponse{
		AccessToken: raw,
		TokenType:   "Bearer",
		ExpiresIn:   int64(ttl / time.Second),
		ExpiresAt:   issuedAt.Add(ttl),
		Subject:     subject,
		Roles:       roles,
	}, nil
}

// revoke blacklists the identity's token until it would have expired anyway
func (h *AuthHandler) revoke(ctx context.Context, identity *middleware.Identity) error {
	ttl := identity.ExpiresAt.Sub(h.now())
	if ttl <= 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, h.deps.LookupTimeout)
	defer cancel()
	if err := h.deps.Revocation.Revoke(ctx, identity.TokenFingerprint, ttl); err != nil {
		return err
	}
	observability.TokensRevokedTotal.Inc()
	return nil
}

// fail writes err and, for authentication failures, counts it against the client
func (h *AuthHandler) fail(w http.ResponseWriter, r *http.Request, err error, eventType models.SecurityEventType, subject string) {
	derr := services.AsDomainError(err)
	if services.IsAuthenticationFailure(derr) {
		clientKey := middleware.GetClientKeyFromContext(r.Context())
		failures := h.deps.Lockout.RecordFailure(clientKey)
		observability.AuthFailuresTotal.WithLabelValues(derr.Code).Inc()
		h.logger.Warn("authentication failed",
			zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())),
			zap.String("client_key", clientKey),
			zap.String("reason", derr.Code),
			zap.Int("failures", failures))
	} else if services.IsInternalError(derr) {
		eventType = models.EventInternalError
	}

	h.record(r, eventType, subject, derr.Code, derr.Status())
	HandleServiceError(w, r, err, h.logger)
}

func (h *AuthHandler) record(r *http.Request, eventType models.SecurityEventType, subject, reason string, status int) {
	if h.deps.Audit == nil {
		return
	}
	h.deps.Audit.Record(models.NewSecurityEvent(eventType, middleware.GetClientKeyFromContext(r.Context())).
		WithRequest(r.Method, r.URL.Path, middleware.GetRequestIDFromContext(r.Context())).
		WithSubject(subject).
		WithOutcome(reason, status))
}
