package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/startdusk/filebox/internal/config"
	"github.com/startdusk/filebox/internal/filebox"
	"github.com/startdusk/filebox/internal/health"
	"github.com/startdusk/filebox/internal/logger"
	"github.com/startdusk/filebox/internal/metrics"
	"github.com/startdusk/filebox/internal/middleware"
	"github.com/startdusk/filebox/internal/ratelimit"
	"github.com/startdusk/filebox/internal/tracing"
)

// legacyHealthMessage is the body of GET /health.
const legacyHealthMessage = "I'm OK."

// Server represents the filebox HTTP server
type Server struct {
	config        *config.Config
	healthManager *health.Manager
	boxes         *filebox.Service
	limiter       *ratelimit.Limiter
	sweeper       *filebox.Sweeper
	logger        *logger.ComponentLogger

	mu         sync.Mutex
	httpServer *http.Server
	addr       net.Addr
}

// Option customises a Server.
type Option func(*Server)

// WithLimiter enables the per-IP gates. Without it requests are not limited.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(s *Server) {
		s.limiter = l
	}
}

// WithSweeper runs sw for the lifetime of Run.
func WithSweeper(sw *filebox.Sweeper) Option {
	return func(s *Server) {
		s.sweeper = sw
	}
}

// New creates a new server instance and registers store health checks on
// healthMgr.
func New(cfg *config.Config, healthMgr *health.Manager, boxes *filebox.Service, opts ...Option) *Server {
	s := &Server{
		config:        cfg,
		healthManager: healthMgr,
		boxes:         boxes,
		logger:        logger.Get().WithComponent("server"),
	}
	for _, opt := range opts {
		opt(s)
	}

	// Counters fail open, so an unreachable counter store only degrades.
	healthMgr.Register("box_store", health.PingChecker("box_store", boxes.Ping, health.StatusUnhealthy))
	if s.limiter != nil {
		healthMgr.Register("counter_store", health.PingChecker("counter_store", s.limiter.Ping, health.StatusDegraded))
	}
	return s
}

// Run serves until ctx is cancelled, then shuts down gracefully within the
// configured timeout.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:           s.config.Server.Addr,
		Handler:        s.Handler(),
		ReadTimeout:    s.config.Server.ReadTimeout,
		WriteTimeout:   s.config.Server.WriteTimeout,
		IdleTimeout:    s.config.Server.IdleTimeout,
		MaxHeaderBytes: s.config.Server.MaxHeaderBytes,
	}
	if s.config.Server.TLSEnabled {
		srv.TLSConfig = tlsConfig()
	}

	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", srv.Addr, err)
	}

	s.mu.Lock()
	s.httpServer = srv
	s.addr = ln.Addr()
	s.mu.Unlock()

	if s.sweeper != nil {
		s.sweeper.Start()
		defer s.sweeper.Stop()
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", logger.Fields{
			"addr": ln.Addr().String(),
			"tls":  s.config.Server.TLSEnabled,
		})

		var err error
		if s.config.Server.TLSEnabled {
			err = srv.ServeTLS(ln, s.config.Server.TLSCertFile, s.config.Server.TLSKeyFile)
		} else {
			err = srv.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
			return
		}
		errChan <- nil
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutdown requested", logger.Fields{
		"timeout": s.config.Server.ShutdownTimeout.String(),
	})

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		return err
	}

	s.logger.Info("server shutdown complete")
	return <-errChan
}

// Addr returns the listening address once Run has started, or nil.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}

// Handler builds the router with the full middleware stack.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Order: Recovery -> CorrelationID -> Logging -> Metrics -> Tracing ->
	// Security -> CORS -> InputValidation -> route
	stack := middleware.NewChain(
		middleware.Recovery(),
		middleware.CorrelationID(),
		middleware.Logging(),
	)
	if s.config.Observability.MetricsEnabled {
		stack = stack.Append(metrics.Middleware())
	}
	stack = stack.Append(
		tracing.Middleware(),
		middleware.Security(middleware.NewSecurityConfigFromConfig(s.config)),
		middleware.CORS(middleware.DefaultCORSConfig(s.config.Security.AllowedOrigins, s.config.Security.CORSMaxAge)),
		middleware.InputValidation(&s.config.Security),
	)
	r.Use(stack.Then)

	obs := s.config.Observability
	r.Get(obs.HealthPath, s.healthManager.HealthHandler())
	r.Get(obs.ReadinessPath, s.healthManager.ReadinessHandler())
	r.Get(obs.LivenessPath, s.healthManager.LivenessHandler())
	r.Method(http.MethodGet, "/health", health.NewVisitCounter(legacyHealthMessage))
	if obs.MetricsEnabled {
		r.Method(http.MethodGet, obs.MetricsPath, metrics.Handler())
	}

	guard, upload := s.gates()
	filebox.NewHandler(s.boxes).Routes(r, guard, upload)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, r, http.StatusNotFound, "not_found", "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})

	return r
}

// gates returns the code-guessing and upload middlewares, or nils when rate
// limiting is off. Both share one limiter and client key.
func (s *Server) gates() (guard, upload func(http.Handler) http.Handler) {
	rl := s.config.RateLimit
	if !rl.Enabled || s.limiter == nil {
		return nil, nil
	}

	keys := ratelimit.NewKeyGenerator(rl.ClientIPHeader, rl.TrustForwarded)

	guessGate := &ratelimit.Gate{
		Limiter: s.limiter,
		Limit:   int64(rl.VisitErrorLimit),
		Field:   ratelimit.FieldVisitError,
		Trigger: ratelimit.TriggerOnFailure,
		KeyFunc: keys.Key,
	}
	uploadGate := &ratelimit.Gate{
		Limiter: s.limiter,
		Limit:   int64(rl.UploadLimit),
		Field:   ratelimit.FieldUpload,
		Trigger: ratelimit.TriggerOnAttempt,
		KeyFunc: keys.Key,
	}
	return guessGate.Middleware(), uploadGate.Middleware()
}

func tlsConfig() *tls.Config {
	return &tls.Config{
		MinVersion: tls.VersionTLS12,
		CurvePreferences: []tls.CurveID{
			tls.CurveP256,
			tls.X25519,
		},
		CipherSuites: []uint16{
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
		},
	}
}
