package models

import (
	"time"

	"github.com/google/uuid"
)

// SecurityEventType classifies an entry in the security audit trail
type SecurityEventType string

const (
	EventRateLimited         SecurityEventType = "rate_limited"
	EventClientLocked        SecurityEventType = "client_locked"
	EventAuthFailure         SecurityEventType = "auth_failure"
	EventAuthorizationDenied SecurityEventType = "authorization_denied"
	EventOriginRejected      SecurityEventType = "origin_rejected"
	EventLoginSucceeded      SecurityEventType = "login_succeeded"
	EventLoginFailed         SecurityEventType = "login_failed"
	EventTokenRefreshed      SecurityEventType = "token_refreshed"
	EventTokenRevoked        SecurityEventType = "token_revoked"
	EventInternalError       SecurityEventType = "internal_error"
)

// SecurityEvent is one decision taken by the security pipeline or auth endpoints
type SecurityEvent struct {
	ID            uuid.UUID         `json:"id" db:"id"`
	Type          SecurityEventType `json:"type" db:"event_type"`
	ClientKey     string            `json:"client_key" db:"client_key"`
	Subject       *string           `json:"subject,omitempty" db:"subject"`
	Method        string            `json:"method" db:"method"`
	Path          string            `json:"path" db:"path"`
	CorrelationID string            `json:"correlation_id" db:"correlation_id"`
	Reason        string            `json:"reason,omitempty" db:"reason"`
	Status        int               `json:"status" db:"status"`
	OccurredAt    time.Time         `json:"occurred_at" db:"occurred_at"`
}

// TableName returns the table name for the SecurityEvent model
func (SecurityEvent) TableName() string {
	return "security_events"
}

// NewSecurityEvent creates a new SecurityEvent instance
func NewSecurityEvent(eventType SecurityEventType, clientKey string) *SecurityEvent {
	return &SecurityEvent{
		ID:         uuid.New(),
		Type:       eventType,
		ClientKey:  clientKey,
		OccurredAt: time.Now().UTC(),
	}
}

// WithRequest sets the request coordinates
func (e *SecurityEvent) WithRequest(method, path, correlationID string) *SecurityEvent {
	e.Method = method
	e.Path = path
	e.CorrelationID = correlationID
	return e
}

// WithSubject sets the principal the event concerns
func (e *SecurityEvent) WithSubject(subject string) *SecurityEvent {
	if subject != "" {
		e.Subject = &subject
	}
	return e
}

// WithOutcome sets the reason code and HTTP status
func (e *SecurityEvent) WithOutcome(reason string, status int) *SecurityEvent {
	e.Reason = reason
	e.Status = status
	return e
}

// IsFailure reports whether the event records a rejected request
func (e *SecurityEvent) IsFailure() bool {
	return e.Status >= 400
}
