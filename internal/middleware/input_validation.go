package middleware

import (
	"net/http"
	"strings"

	"github.com/startdusk/filebox/internal/config"
	"github.com/startdusk/filebox/internal/logger"
)

// InputValidation rejects requests with a disallowed method, an overlong
// path or a blocked user agent, and caps the request body size.
func InputValidation(cfg *config.SecurityConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log := logger.FromContext(r.Context(), "middleware.input_validation")

			if len(cfg.AllowedMethods) > 0 && !isMethodAllowed(r.Method, cfg.AllowedMethods) {
				log.Warn("method not allowed", logger.Fields{
					"method": r.Method,
					"path":   r.URL.Path,
				})
				WriteError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "HTTP method not allowed")
				return
			}

			if cfg.MaxURLPathLength > 0 && len(r.URL.Path) > cfg.MaxURLPathLength {
				log.Warn("URL path too long", logger.Fields{
					"path_length": len(r.URL.Path),
					"max_length":  cfg.MaxURLPathLength,
				})
				WriteError(w, r, http.StatusRequestURITooLong, "uri_too_long", "Request URI exceeds maximum length")
				return
			}

			if len(cfg.BlockedUserAgents) > 0 {
				userAgent := r.UserAgent()
				if isUserAgentBlocked(userAgent, cfg.BlockedUserAgents) {
					log.Warn("blocked user agent", logger.Fields{
						"user_agent": userAgent,
						"path":       r.URL.Path,
					})
					WriteError(w, r, http.StatusForbidden, "forbidden", "Access denied")
					return
				}
			}

			if cfg.MaxRequestBodySize > 0 && r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, cfg.MaxRequestBodySize)
			}

			next.ServeHTTP(w, r)
		})
	}
}

func isMethodAllowed(method string, allowedMethods []string) bool {
	for _, allowed := range allowedMethods {
		if strings.EqualFold(allowed, method) {
			return true
		}
	}
	return false
}

func isUserAgentBlocked(userAgent string, blockedAgents []string) bool {
	userAgent = strings.ToLower(userAgent)
	for _, blocked := range blockedAgents {
		if blocked != "" && strings.Contains(userAgent, strings.ToLower(blocked)) {
			return true
		}
	}
	return false
}
