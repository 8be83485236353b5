package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete filebox server configuration
type Config struct {
	Server        ServerConfig        `yaml:"server" json:"server"`
	Logging       LoggingConfig       `yaml:"logging" json:"logging"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit" json:"rate_limit"`
	Box           BoxConfig           `yaml:"box" json:"box"`
	Security      SecurityConfig      `yaml:"security" json:"security"`
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Addr            string        `yaml:"addr" json:"addr"`
	TLSEnabled      bool          `yaml:"tls_enabled" json:"tls_enabled"`
	TLSCertFile     string        `yaml:"tls_cert_file" json:"tls_cert_file"`
	TLSKeyFile      string        `yaml:"tls_key_file" json:"tls_key_file"`
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	MaxHeaderBytes  int           `yaml:"max_header_bytes" json:"max_header_bytes"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
	Version         string        `yaml:"version" json:"version"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level            string            `yaml:"level" json:"level"`
	Format           string            `yaml:"format" json:"format"` // json or text
	Output           string            `yaml:"output" json:"output"` // stdout, stderr, or file path
	SanitizePatterns []string          `yaml:"sanitize_patterns" json:"sanitize_patterns"`
	ComponentLevels  map[string]string `yaml:"component_levels" json:"component_levels"`
}

// RateLimitConfig configures the per-IP daily counters guarding box
// lookups and uploads.
type RateLimitConfig struct {
	Enabled         bool          `yaml:"enabled" json:"enabled"`
	Backend         string        `yaml:"backend" json:"backend"` // memory, redis or dynamodb
	RedisAddr       string        `yaml:"redis_addr" json:"redis_addr"`
	RedisPassword   string        `yaml:"redis_password" json:"redis_password"`
	RedisDB         int           `yaml:"redis_db" json:"redis_db"`
	RedisAtomic     bool          `yaml:"redis_atomic" json:"redis_atomic"`
	DynamoDBTable   string        `yaml:"dynamodb_table" json:"dynamodb_table"`
	DynamoDBRegion  string        `yaml:"dynamodb_region" json:"dynamodb_region"`
	VisitErrorLimit int           `yaml:"visit_error_limit" json:"visit_error_limit"`
	UploadLimit     int           `yaml:"upload_limit" json:"upload_limit"`
	ResetDaysAhead  int           `yaml:"reset_days_ahead" json:"reset_days_ahead"`
	ClientIPHeader  string        `yaml:"client_ip_header" json:"client_ip_header"`
	TrustForwarded  bool          `yaml:"trust_forwarded_for" json:"trust_forwarded_for"`
	SweepInterval   time.Duration `yaml:"sweep_interval" json:"sweep_interval"`
	Breaker         BreakerConfig `yaml:"breaker" json:"breaker"`
}

// BreakerConfig configures the circuit breaker placed in front of remote
// counter stores.
type BreakerConfig struct {
	Enabled          bool          `yaml:"enabled" json:"enabled"`
	FailureThreshold int           `yaml:"failure_threshold" json:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold" json:"success_threshold"`
	Timeout          time.Duration `yaml:"timeout" json:"timeout"`
	MaxRequests      int           `yaml:"max_requests" json:"max_requests"`
}

// BoxConfig configures box storage and retention.
type BoxConfig struct {
	Backend         string        `yaml:"backend" json:"backend"` // memory or postgres
	DatabaseURL     string        `yaml:"database_url" json:"database_url"`
	AutoMigrate     bool          `yaml:"auto_migrate" json:"auto_migrate"`
	UploadPath      string        `yaml:"upload_path" json:"upload_path"`
	MaxFileSize     int64         `yaml:"max_file_size" json:"max_file_size"` // bytes
	MaxNameLength   int           `yaml:"max_name_length" json:"max_name_length"`
	MaxTextLength   int           `yaml:"max_text_length" json:"max_text_length"`
	MaxDurationDays int           `yaml:"max_duration_days" json:"max_duration_days"`
	CodeLength      int           `yaml:"code_length" json:"code_length"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" json:"cleanup_interval"`
}

// SecurityConfig contains security configuration
type SecurityConfig struct {
	// HSTS (HTTP Strict Transport Security)
	EnableHSTS            bool `yaml:"enable_hsts" json:"enable_hsts"`
	HSTSMaxAge            int  `yaml:"hsts_max_age" json:"hsts_max_age"`
	HSTSIncludeSubdomains bool `yaml:"hsts_include_subdomains" json:"hsts_include_subdomains"`
	HSTSPreload           bool `yaml:"hsts_preload" json:"hsts_preload"`

	// Security Headers
	ContentSecurityPolicy string `yaml:"content_security_policy" json:"content_security_policy"`
	FrameOptions          string `yaml:"frame_options" json:"frame_options"` // DENY, SAMEORIGIN
	ContentTypeNosniff    bool   `yaml:"content_type_nosniff" json:"content_type_nosniff"`
	ReferrerPolicy        string `yaml:"referrer_policy" json:"referrer_policy"`

	// CORS
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`
	CORSMaxAge     int      `yaml:"cors_max_age" json:"cors_max_age"` // seconds

	// Input Validation
	MaxRequestBodySize int64    `yaml:"max_request_body_size" json:"max_request_body_size"` // bytes
	MaxURLPathLength   int      `yaml:"max_url_path_length" json:"max_url_path_length"`
	AllowedMethods     []string `yaml:"allowed_methods" json:"allowed_methods"`
	BlockedUserAgents  []string `yaml:"blocked_user_agents" json:"blocked_user_agents"`
}

// ObservabilityConfig contains observability configuration
type ObservabilityConfig struct {
	MetricsEnabled    bool    `yaml:"metrics_enabled" json:"metrics_enabled"`
	MetricsPath       string  `yaml:"metrics_path" json:"metrics_path"`
	HealthPath        string  `yaml:"health_path" json:"health_path"`
	ReadinessPath     string  `yaml:"readiness_path" json:"readiness_path"`
	LivenessPath      string  `yaml:"liveness_path" json:"liveness_path"`
	TracingEnabled    bool    `yaml:"tracing_enabled" json:"tracing_enabled"`
	TracingEndpoint   string  `yaml:"tracing_endpoint" json:"tracing_endpoint"`
	TracingInsecure   bool    `yaml:"tracing_insecure" json:"tracing_insecure"`
	TracingSampleRate float64 `yaml:"tracing_sample_rate" json:"tracing_sample_rate"`
	Environment       string  `yaml:"environment" json:"environment"`
}

var (
	globalConfig *Config
	configMu     sync.RWMutex
)

// Load loads configuration from file with environment variable overrides
func Load(configPath string) (*Config, error) {
	cfg := &Config{}
	cfg.setDefaults()

	if configPath != "" {
		if err := loadFromFile(configPath, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	configMu.Lock()
	globalConfig = cfg
	configMu.Unlock()

	return cfg, nil
}

// Get returns the global configuration
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}

// Default returns a configuration populated with defaults only.
func Default() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

func (c *Config) setDefaults() {
	c.Server.Addr = ":8888"
	c.Server.ReadTimeout = 30 * time.Second
	c.Server.WriteTimeout = 60 * time.Second
	c.Server.IdleTimeout = 120 * time.Second
	c.Server.MaxHeaderBytes = 1 << 20 // 1 MB
	c.Server.ShutdownTimeout = 30 * time.Second
	c.Server.Version = "0.1"

	c.Logging.Level = "info"
	c.Logging.Format = "json"
	c.Logging.Output = "stdout"

	c.RateLimit.Enabled = true
	c.RateLimit.Backend = "memory"
	c.RateLimit.VisitErrorLimit = 5
	c.RateLimit.UploadLimit = 5
	c.RateLimit.ResetDaysAhead = 1
	c.RateLimit.ClientIPHeader = "X-Real-IP"
	c.RateLimit.SweepInterval = time.Minute
	c.RateLimit.Breaker.Enabled = true
	c.RateLimit.Breaker.FailureThreshold = 5
	c.RateLimit.Breaker.SuccessThreshold = 2
	c.RateLimit.Breaker.Timeout = 30 * time.Second
	c.RateLimit.Breaker.MaxRequests = 3

	c.Box.Backend = "memory"
	c.Box.AutoMigrate = true
	c.Box.UploadPath = "./upload"
	c.Box.MaxFileSize = 100 << 20 // 100 MB
	c.Box.MaxNameLength = 50
	c.Box.MaxTextLength = 2000
	c.Box.MaxDurationDays = 29
	c.Box.CodeLength = 5
	c.Box.CleanupInterval = time.Hour

	c.Observability.MetricsEnabled = true
	c.Observability.MetricsPath = "/metrics"
	c.Observability.HealthPath = "/_health"
	c.Observability.ReadinessPath = "/_health/ready"
	c.Observability.LivenessPath = "/_health/live"
	c.Observability.TracingEnabled = false
	c.Observability.TracingSampleRate = 1.0
	c.Observability.Environment = "development"

	c.Security.EnableHSTS = false
	c.Security.HSTSMaxAge = 31536000 // 1 year
	c.Security.HSTSIncludeSubdomains = true
	c.Security.ContentSecurityPolicy = "default-src 'self'"
	c.Security.FrameOptions = "DENY"
	c.Security.ContentTypeNosniff = true
	c.Security.ReferrerPolicy = "strict-origin-when-cross-origin"
	c.Security.AllowedOrigins = []string{"http://localhost:5173", "http://127.0.0.1:5173"}
	c.Security.CORSMaxAge = 3600
	c.Security.MaxRequestBodySize = 110 << 20 // upload limit plus multipart overhead
	c.Security.MaxURLPathLength = 2048
	c.Security.AllowedMethods = []string{"GET", "POST", "OPTIONS", "HEAD"}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server address is required")
	}
	if c.Server.TLSEnabled {
		if c.Server.TLSCertFile == "" {
			return fmt.Errorf("TLS enabled but cert file not specified")
		}
		if c.Server.TLSKeyFile == "" {
			return fmt.Errorf("TLS enabled but key file not specified")
		}
		if _, err := os.Stat(c.Server.TLSCertFile); os.IsNotExist(err) {
			return fmt.Errorf("TLS cert file does not exist: %s", c.Server.TLSCertFile)
		}
		if _, err := os.Stat(c.Server.TLSKeyFile); os.IsNotExist(err) {
			return fmt.Errorf("TLS key file does not exist: %s", c.Server.TLSKeyFile)
		}
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("read timeout must be positive")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("write timeout must be positive")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true, "fatal": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("invalid log format: %s (must be 'json' or 'text')", c.Logging.Format)
	}

	if c.RateLimit.Enabled {
		switch c.RateLimit.Backend {
		case "memory":
		case "redis":
			if c.RateLimit.RedisAddr == "" {
				return fmt.Errorf("rate limit backend is redis but redis address not specified")
			}
		case "dynamodb":
			if c.RateLimit.DynamoDBTable == "" {
				return fmt.Errorf("rate limit backend is dynamodb but table not specified")
			}
		default:
			return fmt.Errorf("invalid rate limit backend: %s (must be 'memory', 'redis' or 'dynamodb')", c.RateLimit.Backend)
		}
		if c.RateLimit.VisitErrorLimit <= 0 {
			return fmt.Errorf("visit error limit must be positive")
		}
		if c.RateLimit.UploadLimit <= 0 {
			return fmt.Errorf("upload limit must be positive")
		}
		if c.RateLimit.ResetDaysAhead < 1 {
			return fmt.Errorf("reset days ahead must be at least 1")
		}
		if c.RateLimit.SweepInterval <= 0 {
			return fmt.Errorf("sweep interval must be positive")
		}
		if c.RateLimit.Breaker.Enabled {
			if c.RateLimit.Breaker.FailureThreshold <= 0 || c.RateLimit.Breaker.SuccessThreshold <= 0 {
				return fmt.Errorf("circuit breaker thresholds must be positive")
			}
			if c.RateLimit.Breaker.Timeout <= 0 {
				return fmt.Errorf("circuit breaker timeout must be positive")
			}
		}
	}

	switch c.Box.Backend {
	case "memory":
	case "postgres":
		if c.Box.DatabaseURL == "" {
			return fmt.Errorf("box backend is postgres but database url not specified")
		}
	default:
		return fmt.Errorf("invalid box backend: %s (must be 'memory' or 'postgres')", c.Box.Backend)
	}
	if c.Box.UploadPath == "" {
		return fmt.Errorf("upload path is required")
	}
	if c.Box.CodeLength < 4 {
		return fmt.Errorf("code length must be at least 4")
	}
	if c.Box.MaxDurationDays < 1 {
		return fmt.Errorf("max duration days must be at least 1")
	}
	if c.Box.CleanupInterval <= 0 {
		return fmt.Errorf("cleanup interval must be positive")
	}

	if c.Observability.TracingSampleRate < 0 || c.Observability.TracingSampleRate > 1 {
		return fmt.Errorf("tracing sample rate must be between 0 and 1")
	}

	return nil
}

// loadFromFile loads configuration from a file (YAML or JSON)
func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config file format: %s (use .yaml, .yml, or .json)", ext)
	}

	return nil
}

// applyEnvOverrides applies FILEBOX_-prefixed overrides, then the unprefixed
// variables the service has always read (DATABASE_URL, HTTP_SERVER_ADDR,
// UPLOAD_FILE_PATH, REDIS_CONN_ADDR, GRACEFUL_SHUTDOWN_TIMEOUT_SEC).
func applyEnvOverrides(cfg *Config) error {
	prefix := "FILEBOX_"

	if val := os.Getenv(prefix + "ADDR"); val != "" {
		cfg.Server.Addr = val
	}
	if val := os.Getenv(prefix + "TLS_ENABLED"); val != "" {
		enabled, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("invalid TLS_ENABLED: %w", err)
		}
		cfg.Server.TLSEnabled = enabled
	}
	if val := os.Getenv(prefix + "TLS_CERT_FILE"); val != "" {
		cfg.Server.TLSCertFile = val
	}
	if val := os.Getenv(prefix + "TLS_KEY_FILE"); val != "" {
		cfg.Server.TLSKeyFile = val
	}

	if val := os.Getenv(prefix + "LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	if val := os.Getenv(prefix + "LOG_FORMAT"); val != "" {
		cfg.Logging.Format = val
	}
	if val := os.Getenv(prefix + "LOG_OUTPUT"); val != "" {
		cfg.Logging.Output = val
	}

	if val := os.Getenv(prefix + "RATELIMIT_ENABLED"); val != "" {
		enabled, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("invalid RATELIMIT_ENABLED: %w", err)
		}
		cfg.RateLimit.Enabled = enabled
	}
	if val := os.Getenv(prefix + "RATELIMIT_BACKEND"); val != "" {
		cfg.RateLimit.Backend = val
	}
	if val := os.Getenv(prefix + "REDIS_ADDR"); val != "" {
		cfg.RateLimit.RedisAddr = val
	}
	if val := os.Getenv(prefix + "REDIS_PASSWORD"); val != "" {
		cfg.RateLimit.RedisPassword = val
	}
	if val := os.Getenv(prefix + "DYNAMODB_TABLE"); val != "" {
		cfg.RateLimit.DynamoDBTable = val
	}
	if val := os.Getenv(prefix + "DYNAMODB_REGION"); val != "" {
		cfg.RateLimit.DynamoDBRegion = val
	}
	if val := os.Getenv(prefix + "VISIT_ERROR_LIMIT"); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid VISIT_ERROR_LIMIT: %w", err)
		}
		cfg.RateLimit.VisitErrorLimit = n
	}
	if val := os.Getenv(prefix + "UPLOAD_LIMIT"); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid UPLOAD_LIMIT: %w", err)
		}
		cfg.RateLimit.UploadLimit = n
	}

	if val := os.Getenv(prefix + "BOX_BACKEND"); val != "" {
		cfg.Box.Backend = val
	}
	if val := os.Getenv(prefix + "TRACING_ENDPOINT"); val != "" {
		cfg.Observability.TracingEnabled = true
		cfg.Observability.TracingEndpoint = val
	}

	if val := os.Getenv("HTTP_SERVER_ADDR"); val != "" {
		cfg.Server.Addr = val
	}
	if val := os.Getenv("DATABASE_URL"); val != "" {
		cfg.Box.Backend = "postgres"
		cfg.Box.DatabaseURL = val
	}
	if val := os.Getenv("UPLOAD_FILE_PATH"); val != "" {
		cfg.Box.UploadPath = val
	}
	if val := os.Getenv("REDIS_CONN_ADDR"); val != "" {
		cfg.RateLimit.Backend = "redis"
		cfg.RateLimit.RedisAddr = strings.TrimPrefix(val, "redis://")
	}
	if val := os.Getenv("GRACEFUL_SHUTDOWN_TIMEOUT_SEC"); val != "" {
		secs, err := strconv.ParseUint(val, 10, 32)
		if err != nil {
			return fmt.Errorf("invalid GRACEFUL_SHUTDOWN_TIMEOUT_SEC: %w", err)
		}
		cfg.Server.ShutdownTimeout = time.Duration(secs) * time.Second
	}

	return nil
}
