package middleware

import (
	"net/http"
	"strconv"
	"strings"
)

// CORSConfig holds the cross-origin policy for the browser client.
type CORSConfig struct {
	// AllowedOrigins lists exact origins. "*" allows any origin.
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposedHeaders   []string
	AllowCredentials bool
	// MaxAge is the preflight cache lifetime in seconds.
	MaxAge int
}

// DefaultCORSConfig allows the filebox web client to create and pick up
// boxes and to read the rate limit headers.
func DefaultCORSConfig(origins []string, maxAge int) CORSConfig {
	return CORSConfig{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost},
		AllowedHeaders:   []string{"Authorization", "Accept", "Content-Type", CorrelationIDHeader},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After", "Content-Disposition", CorrelationIDHeader},
		AllowCredentials: true,
		MaxAge:           maxAge,
	}
}

// CORS answers preflight requests itself and decorates actual requests from
// allowed origins.
func CORS(cfg CORSConfig) func(http.Handler) http.Handler {
	origins := make(map[string]bool, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		origins[strings.ToLower(o)] = true
	}
	headers := make(map[string]bool, len(cfg.AllowedHeaders))
	for _, h := range cfg.AllowedHeaders {
		headers[strings.ToLower(h)] = true
	}
	methods := strings.Join(cfg.AllowedMethods, ", ")
	exposed := strings.Join(cfg.ExposedHeaders, ", ")

	originAllowed := func(origin string) bool {
		if origin == "" {
			return false
		}
		return origins["*"] || origins[strings.ToLower(origin)]
	}

	headersAllowed := func(requested string) bool {
		if headers["*"] {
			return true
		}
		for _, h := range strings.Split(requested, ",") {
			if !headers[strings.ToLower(strings.TrimSpace(h))] {
				return false
			}
		}
		return true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			h := w.Header()

			if originAllowed(origin) {
				h.Set("Access-Control-Allow-Origin", origin)
				h.Add("Vary", "Origin")
				if cfg.AllowCredentials {
					h.Set("Access-Control-Allow-Credentials", "true")
				}
			}

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				if isMethodAllowed(r.Header.Get("Access-Control-Request-Method"), cfg.AllowedMethods) {
					h.Set("Access-Control-Allow-Methods", methods)
				}
				if req := r.Header.Get("Access-Control-Request-Headers"); req != "" && headersAllowed(req) {
					h.Set("Access-Control-Allow-Headers", req)
				}
				if cfg.MaxAge > 0 {
					h.Set("Access-Control-Max-Age", strconv.Itoa(cfg.MaxAge))
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}

			if exposed != "" && originAllowed(origin) {
				h.Set("Access-Control-Expose-Headers", exposed)
			}
			next.ServeHTTP(w, r)
		})
	}
}
