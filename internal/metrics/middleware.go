package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/startdusk/filebox/internal/middleware"
)

// Middleware returns a metrics collection middleware. Requests are labelled
// with the chi route pattern so box codes do not explode label cardinality.
func Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}

			IncActiveRequests()
			defer DecActiveRequests()

			start := time.Now()

			requestSize := int(r.ContentLength)
			if requestSize < 0 {
				requestSize = 0
			}

			wrapped := middleware.NewResponseWriter(w)
			next.ServeHTTP(wrapped, r)

			RecordHTTPRequest(
				r.Method,
				routeLabel(r),
				strconv.Itoa(wrapped.StatusCode()),
				time.Since(start),
				requestSize,
				wrapped.BytesWritten(),
			)
		})
	}
}

func routeLabel(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}
