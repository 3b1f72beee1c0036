package middleware

import (
	"net/http"
	"time"

	"github.com/upb/sensor-gateway/services"
	"github.com/upb/sensor-gateway/utils"
)

// WriteServiceError writes the minimal error body for err and returns the
// DomainError it was mapped to. Errors that are not DomainErrors become a
// generic 500.
func WriteServiceError(w http.ResponseWriter, err error, retryAfter time.Duration) *services.DomainError {
	derr := services.AsDomainError(err)

	switch {
	case services.IsRateLimitError(derr):
		_ = utils.WriteTooManyRequests(w, derr.Code, derr.Message, retryAfter)
	case derr.Status() == http.StatusUnauthorized:
		w.Header().Set("WWW-Authenticate", `Bearer realm="sensor-gateway"`)
		_ = utils.WriteError(w, http.StatusUnauthorized, derr.Code, derr.Message, nil)
	default:
		_ = utils.WriteError(w, derr.Status(), derr.Code, derr.Message, nil)
	}
	return derr
}
