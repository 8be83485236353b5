package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/startdusk/filebox/internal/logger"
)

// Recovery converts a handler panic into a 500 JSON response. If the
// handler already started writing, the response is left as is.
func Recovery() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rw := NewResponseWriter(w)

			defer func() {
				err := recover()
				if err == nil {
					return
				}
				if err == http.ErrAbortHandler {
					panic(err)
				}

				logger.FromContext(r.Context(), "recovery").Error("panic recovered", logger.Fields{
					"error":     fmt.Sprintf("%v", err),
					"stack":     string(debug.Stack()),
					"method":    r.Method,
					"path":      r.URL.Path,
					"remote_ip": ClientIP(r),
				})

				if rw.Written() {
					return
				}
				WriteError(rw, r, http.StatusInternalServerError, "internal_server_error", "internal server error")
			}()

			next.ServeHTTP(rw, r)
		})
	}
}
