package middleware

import (
	"net/http"

	"github.com/startdusk/filebox/internal/logger"
)

const (
	// CorrelationIDHeader is the HTTP header for correlation ID
	CorrelationIDHeader = "X-Correlation-ID"

	maxCorrelationIDLength = 128
)

// CorrelationID propagates the caller's X-Correlation-ID or mints a new one,
// stores it in the request context and echoes it on the response.
func CorrelationID() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			correlationID := r.Header.Get(CorrelationIDHeader)
			if correlationID == "" || len(correlationID) > maxCorrelationIDLength {
				correlationID = logger.GenerateCorrelationID()
			}

			r = r.WithContext(logger.WithCorrelationID(r.Context(), correlationID))
			w.Header().Set(CorrelationIDHeader, correlationID)

			next.ServeHTTP(w, r)
		})
	}
}
