package middleware

import (
	"net/http"
	"time"

	"github.com/startdusk/filebox/internal/logger"
)

// Logging logs each request on arrival and on completion. Completion is
// logged at warn for 4xx and error for 5xx.
func Logging() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := NewResponseWriter(w)
			log := logger.FromContext(r.Context(), "http")

			log.Debug("incoming request", logger.Fields{
				"method":         r.Method,
				"path":           r.URL.Path,
				"remote_ip":      ClientIP(r),
				"user_agent":     r.UserAgent(),
				"protocol":       r.Proto,
				"content_length": r.ContentLength,
			})

			next.ServeHTTP(rw, r)

			fields := logger.Fields{
				"method":        r.Method,
				"path":          r.URL.Path,
				"status":        rw.StatusCode(),
				"duration_ms":   time.Since(start).Milliseconds(),
				"response_size": rw.BytesWritten(),
				"remote_ip":     ClientIP(r),
			}

			const message = "request completed"
			switch status := rw.StatusCode(); {
			case status >= 500:
				log.Error(message, fields)
			case status >= 400:
				log.Warn(message, fields)
			default:
				log.Info(message, fields)
			}
		})
	}
}
