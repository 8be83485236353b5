package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/startdusk/filebox/internal/config"
	"github.com/startdusk/filebox/internal/filebox"
	"github.com/startdusk/filebox/internal/health"
	"github.com/startdusk/filebox/internal/logger"
	"github.com/startdusk/filebox/internal/metrics"
	"github.com/startdusk/filebox/internal/ratelimit"
	"github.com/startdusk/filebox/internal/server"
	"github.com/startdusk/filebox/internal/tracing"
)

var (
	configFile = flag.String("config", "", "Path to configuration file")
	version    = "0.1.0"
	buildTime  = "unknown"
	gitCommit  = "unknown"
)

func main() {
	flag.Parse()

	fmt.Printf("filebox v%s (commit: %s, built: %s)\n", version, gitCommit, buildTime)

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logOutput, closeLog, err := openLogOutput(cfg.Logging.Output)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open log file: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()

	logLevel, err := logger.ParseLevel(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid log level: %v\n", err)
		os.Exit(1)
	}
	logger.Init(logLevel, cfg.Logging.Format, logOutput)

	log := logger.Get().WithComponent("main")
	log.Info("starting filebox", logger.Fields{
		"version":    version,
		"git_commit": gitCommit,
		"build_time": buildTime,
	})

	if len(cfg.Logging.SanitizePatterns) > 0 {
		if err := logger.Get().SetSanitizePatterns(cfg.Logging.SanitizePatterns); err != nil {
			log.Error("failed to set sanitize patterns", logger.Fields{"error": err.Error()})
			os.Exit(1)
		}
	}
	for component, levelStr := range cfg.Logging.ComponentLevels {
		level, err := logger.ParseLevel(levelStr)
		if err != nil {
			log.Warn("invalid component log level", logger.Fields{
				"component": component,
				"level":     levelStr,
				"error":     err.Error(),
			})
			continue
		}
		logger.Get().SetComponentLevel(component, level)
	}

	if err := run(cfg, log); err != nil {
		log.Error("filebox stopped with error", logger.Fields{"error": err.Error()})
		os.Exit(1)
	}
	log.Info("filebox stopped")
}

func run(cfg *config.Config, log *logger.ComponentLogger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Observability.MetricsEnabled {
		metrics.Init()
	}

	if err := tracing.Init(&tracing.Config{
		Enabled:        cfg.Observability.TracingEnabled,
		Endpoint:       cfg.Observability.TracingEndpoint,
		Insecure:       cfg.Observability.TracingInsecure,
		ServiceName:    "filebox",
		ServiceVersion: version,
		Environment:    cfg.Observability.Environment,
		SampleRate:     cfg.Observability.TracingSampleRate,
	}); err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracing.Shutdown(shutdownCtx); err != nil {
			log.Warn("tracing shutdown failed", logger.Fields{"error": err.Error()})
		}
	}()

	if err := os.MkdirAll(cfg.Box.UploadPath, 0o755); err != nil {
		return fmt.Errorf("create upload dir: %w", err)
	}

	boxes, err := openBoxStore(ctx, cfg.Box)
	if err != nil {
		return err
	}
	defer boxes.Close()

	healthMgr := health.NewManager()
	healthMgr.Register("config", health.ConfigChecker(func() bool {
		return config.Get() != nil
	}))

	opts := []server.Option{
		server.WithSweeper(filebox.NewSweeper(boxes, cfg.Box.UploadPath, cfg.Box.CleanupInterval, nil)),
	}
	if cfg.RateLimit.Enabled {
		counters, err := ratelimit.NewStore(ctx, &cfg.RateLimit)
		if err != nil {
			return fmt.Errorf("open counter store: %w", err)
		}
		limiter := ratelimit.NewLimiter(counters, ratelimit.WithResetDays(cfg.RateLimit.ResetDaysAhead))
		defer limiter.Close()
		opts = append(opts, server.WithLimiter(limiter))
	}

	log.Info("configuration loaded successfully", logger.Fields{
		"addr":               cfg.Server.Addr,
		"tls_enabled":        cfg.Server.TLSEnabled,
		"box_backend":        cfg.Box.Backend,
		"rate_limit_enabled": cfg.RateLimit.Enabled,
		"rate_limit_backend": cfg.RateLimit.Backend,
	})

	srv := server.New(cfg, healthMgr, filebox.NewService(boxes, cfg.Box), opts...)
	return srv.Run(ctx)
}

func openBoxStore(ctx context.Context, cfg config.BoxConfig) (filebox.Store, error) {
	switch cfg.Backend {
	case "memory", "":
		return filebox.NewMemoryStore(), nil
	case "postgres":
		store, err := filebox.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open box store: %w", err)
		}
		if cfg.AutoMigrate {
			if err := store.Migrate(ctx); err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("migrate box store: %w", err)
			}
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported box backend: %s", cfg.Backend)
	}
}

func openLogOutput(output string) (*os.File, func(), error) {
	switch output {
	case "stdout", "":
		return os.Stdout, func() {}, nil
	case "stderr":
		return os.Stderr, func() {}, nil
	default:
		f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, err
		}
		return f, func() { _ = f.Close() }, nil
	}
}
