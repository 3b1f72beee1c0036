package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/upb/sensor-gateway/middleware"
	"github.com/upb/sensor-gateway/models"
	"github.com/upb/sensor-gateway/services"
	"github.com/upb/sensor-gateway/utils"
	"go.uber.org/zap"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
)

type securityEventsResponse struct {
	Data []*models.SecurityEvent `json:"data"`
}

// EventLister returns the most recent security events
type EventLister interface {
	Recent(ctx context.Context, limit int) ([]*models.SecurityEvent, error)
}

// IdentityHandler serves the caller's identity and the security event feed
type IdentityHandler struct {
	events EventLister
	logger *zap.Logger
}

// NewIdentityHandler creates a new IdentityHandler
func NewIdentityHandler(events EventLister, logger *zap.Logger) *IdentityHandler {
	return &IdentityHandler{events: events, logger: logger}
}

// HandleMe handles GET /api/me
func (h *IdentityHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentityFromContext(r.Context())
	if identity == nil {
		_ = utils.WriteUnauthorized(w, "")
		return
	}
	_ = utils.WriteOK(w, identity)
}

// HandleListSecurityEvents handles GET /api/admin/security-events?limit=N
func (h *IdentityHandler) HandleListSecurityEvents(w http.ResponseWriter, r *http.Request) {
	limit := defaultEventLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxEventLimit {
			_ = utils.WriteError(w, http.StatusBadRequest, services.ErrInvalidInput.Code,
				"limit must be between 1 and "+strconv.Itoa(maxEventLimit), nil)
			return
		}
		limit = n
	}

	events, err := h.events.Recent(r.Context(), limit)
	if err != nil {
		HandleServiceError(w, r, services.WrapInternal("list security events", err), h.logger)
		return
	}
	if events == nil {
		events = []*models.SecurityEvent{}
	}

	_ = utils.WriteJSON(w, http.StatusOK, securityEventsResponse{Data: events})
}
