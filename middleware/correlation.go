package middleware

import (
	"net/http"
	"regexp"

	"github.com/google/uuid"
)

// CorrelationHeader carries the request correlation id in both directions
const CorrelationHeader = "X-Correlation-Id"

var correlationIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// Correlation accepts a well-formed inbound correlation id or generates one,
// stores it in the request context and echoes it on the response.
func Correlation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(CorrelationHeader)
		if !correlationIDPattern.MatchString(id) {
			id = uuid.NewString()
		}

		w.Header().Set(CorrelationHeader, id)
		next.ServeHTTP(w, r.WithContext(WithRequestID(r.Context(), id)))
	})
}
