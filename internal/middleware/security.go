package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/startdusk/filebox/internal/config"
)

// SecurityConfig contains security middleware configuration
type SecurityConfig struct {
	EnableHSTS            bool
	HSTSMaxAge            int
	HSTSIncludeSubdomains bool
	HSTSPreload           bool

	ContentSecurityPolicy string
	FrameOptions          string // DENY, SAMEORIGIN
	ContentTypeNosniff    bool
	ReferrerPolicy        string

	// ServerVersion is echoed in the Filebox-Version header when set.
	ServerVersion string
}

// Security returns a middleware that adds security headers to responses
func Security(cfg *SecurityConfig) func(http.Handler) http.Handler {
	var hsts string
	if cfg.EnableHSTS {
		hsts = buildHSTSHeader(cfg)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			if hsts != "" {
				h.Set("Strict-Transport-Security", hsts)
			}
			if cfg.ContentSecurityPolicy != "" {
				h.Set("Content-Security-Policy", cfg.ContentSecurityPolicy)
			}
			if cfg.FrameOptions != "" {
				h.Set("X-Frame-Options", cfg.FrameOptions)
			}
			if cfg.ContentTypeNosniff {
				h.Set("X-Content-Type-Options", "nosniff")
			}
			if cfg.ReferrerPolicy != "" {
				h.Set("Referrer-Policy", cfg.ReferrerPolicy)
			}
			if cfg.ServerVersion != "" {
				h.Set("Filebox-Version", cfg.ServerVersion)
			}

			next.ServeHTTP(w, r)
		})
	}
}

func buildHSTSHeader(cfg *SecurityConfig) string {
	parts := []string{"max-age=" + strconv.Itoa(cfg.HSTSMaxAge)}
	if cfg.HSTSIncludeSubdomains {
		parts = append(parts, "includeSubDomains")
	}
	if cfg.HSTSPreload {
		parts = append(parts, "preload")
	}
	return strings.Join(parts, "; ")
}

// NewSecurityConfigFromConfig creates a SecurityConfig from the main config
func NewSecurityConfigFromConfig(cfg *config.Config) *SecurityConfig {
	return &SecurityConfig{
		EnableHSTS:            cfg.Security.EnableHSTS,
		HSTSMaxAge:            cfg.Security.HSTSMaxAge,
		HSTSIncludeSubdomains: cfg.Security.HSTSIncludeSubdomains,
		HSTSPreload:           cfg.Security.HSTSPreload,
		ContentSecurityPolicy: cfg.Security.ContentSecurityPolicy,
		FrameOptions:          cfg.Security.FrameOptions,
		ContentTypeNosniff:    cfg.Security.ContentTypeNosniff,
		ReferrerPolicy:        cfg.Security.ReferrerPolicy,
		ServerVersion:         cfg.Server.Version,
	}
}
