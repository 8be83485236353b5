// Package logger provides structured, component-scoped logging on top of
// log/slog. Entries carry an optional component name and correlation id and
// sensitive field values can be redacted by key pattern.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Level represents a log level
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

// String returns the string representation of the log level
func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	case FatalLevel:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// slogLevel maps a Level onto the slog scale. Fatal sits above slog's Error.
func (l Level) slogLevel() slog.Level {
	switch l {
	case DebugLevel:
		return slog.LevelDebug
	case WarnLevel:
		return slog.LevelWarn
	case ErrorLevel:
		return slog.LevelError
	case FatalLevel:
		return slog.LevelError + 4
	default:
		return slog.LevelInfo
	}
}

func levelFromSlog(l slog.Level) Level {
	switch {
	case l >= slog.LevelError+4:
		return FatalLevel
	case l >= slog.LevelError:
		return ErrorLevel
	case l >= slog.LevelWarn:
		return WarnLevel
	case l >= slog.LevelInfo:
		return InfoLevel
	default:
		return DebugLevel
	}
}

// ParseLevel parses a string into a Level
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return DebugLevel, nil
	case "info":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	case "fatal":
		return FatalLevel, nil
	default:
		return InfoLevel, fmt.Errorf("invalid log level: %s", s)
	}
}

// Fields is a map of log fields
type Fields map[string]interface{}

// Logger filters entries by global and per-component level and hands the
// survivors to a slog handler.
type Logger struct {
	level            Level
	componentLevels  map[string]Level
	sanitizePatterns []*regexp.Regexp
	handler          *slog.Logger
	mu               sync.RWMutex
}

// Entry is the JSON shape of a single log line.
type Entry struct {
	Timestamp     string                 `json:"timestamp"`
	Level         string                 `json:"level"`
	Component     string                 `json:"component,omitempty"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
	Message       string                 `json:"message"`
	Fields        map[string]interface{} `json:"fields,omitempty"`
}

var (
	globalLogger *Logger
	loggerMu     sync.RWMutex
)

// New creates a logger writing json or text lines to output.
func New(level Level, format string, output io.Writer) *Logger {
	opts := &slog.HandlerOptions{
		// Filtering happens in shouldLog so component levels can go below
		// the global level.
		Level:       slog.LevelDebug,
		ReplaceAttr: replaceAttr,
	}

	var h slog.Handler
	if format == "json" {
		h = slog.NewJSONHandler(output, opts)
	} else {
		h = slog.NewTextHandler(output, opts)
	}

	return &Logger{
		level:           level,
		componentLevels: make(map[string]Level),
		handler:         slog.New(h),
	}
}

// replaceAttr renames slog's builtin keys to the entry shape above.
func replaceAttr(groups []string, a slog.Attr) slog.Attr {
	if len(groups) > 0 {
		return a
	}
	switch a.Key {
	case slog.TimeKey:
		return slog.String("timestamp", a.Value.Time().UTC().Format(time.RFC3339))
	case slog.LevelKey:
		if lvl, ok := a.Value.Any().(slog.Level); ok {
			return slog.String(slog.LevelKey, levelFromSlog(lvl).String())
		}
	case slog.MessageKey:
		a.Key = "message"
	}
	return a
}

// Init initializes the global logger
func Init(level Level, format string, output io.Writer) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	globalLogger = New(level, format, output)
}

// Get returns the global logger. Before Init it returns an info-level JSON
// logger on stderr.
func Get() *Logger {
	loggerMu.RLock()
	l := globalLogger
	loggerMu.RUnlock()
	if l != nil {
		return l
	}

	loggerMu.Lock()
	defer loggerMu.Unlock()
	if globalLogger == nil {
		globalLogger = New(InfoLevel, "json", os.Stderr)
	}
	return globalLogger
}

// SetLevel sets the log level
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// SetComponentLevel sets the log level for a specific component
func (l *Logger) SetComponentLevel(component string, level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.componentLevels[component] = level
}

// SetSanitizePatterns sets the regex patterns for field sanitization
func (l *Logger) SetSanitizePatterns(patterns []string) error {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("invalid sanitize pattern %s: %w", pattern, err)
		}
		compiled = append(compiled, re)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.sanitizePatterns = compiled
	return nil
}

func (l *Logger) shouldLog(level Level, component string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if componentLevel, ok := l.componentLevels[component]; ok {
		return level >= componentLevel
	}
	return level >= l.level
}

// sanitizeFields redacts values whose key matches a sanitize pattern,
// keeping the last four characters of long strings.
func (l *Logger) sanitizeFields(fields Fields) Fields {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if len(l.sanitizePatterns) == 0 {
		return fields
	}

	sanitized := make(Fields, len(fields))
	for k, v := range fields {
		redact := false
		for _, pattern := range l.sanitizePatterns {
			if pattern.MatchString(k) {
				redact = true
				break
			}
		}

		if !redact {
			sanitized[k] = v
			continue
		}
		if str, ok := v.(string); ok && len(str) > 4 {
			sanitized[k] = "***" + str[len(str)-4:]
		} else {
			sanitized[k] = "***"
		}
	}

	return sanitized
}

func (l *Logger) log(level Level, component, correlationID, message string, fields Fields) {
	if !l.shouldLog(level, component) {
		return
	}

	attrs := make([]slog.Attr, 0, 3)
	if component != "" {
		attrs = append(attrs, slog.String("component", component))
	}
	if correlationID != "" {
		attrs = append(attrs, slog.String("correlation_id", correlationID))
	}
	if len(fields) > 0 {
		attrs = append(attrs, fieldsGroup(l.sanitizeFields(fields)))
	}

	l.handler.LogAttrs(context.Background(), level.slogLevel(), message, attrs...)
}

// fieldsGroup renders fields as a "fields" group with stable key order.
func fieldsGroup(fields Fields) slog.Attr {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	args := make([]any, 0, len(keys))
	for _, k := range keys {
		v := fields[k]
		if err, ok := v.(error); ok {
			v = err.Error()
		}
		args = append(args, slog.Any(k, v))
	}
	return slog.Group("fields", args...)
}

// Debug logs a debug message
func (l *Logger) Debug(message string, fields ...Fields) {
	l.log(DebugLevel, "", "", message, mergeFields(fields...))
}

// Info logs an info message
func (l *Logger) Info(message string, fields ...Fields) {
	l.log(InfoLevel, "", "", message, mergeFields(fields...))
}

// Warn logs a warning message
func (l *Logger) Warn(message string, fields ...Fields) {
	l.log(WarnLevel, "", "", message, mergeFields(fields...))
}

// Error logs an error message
func (l *Logger) Error(message string, fields ...Fields) {
	l.log(ErrorLevel, "", "", message, mergeFields(fields...))
}

// Fatal logs a fatal message and exits
func (l *Logger) Fatal(message string, fields ...Fields) {
	l.log(FatalLevel, "", "", message, mergeFields(fields...))
	os.Exit(1)
}

// WithComponent creates a component logger
func (l *Logger) WithComponent(component string) *ComponentLogger {
	return &ComponentLogger{
		logger:    l,
		component: component,
	}
}

// ComponentLogger is a logger for a specific component
type ComponentLogger struct {
	logger    *Logger
	component string
}

func (cl *ComponentLogger) Debug(message string, fields ...Fields) {
	cl.logger.log(DebugLevel, cl.component, "", message, mergeFields(fields...))
}

func (cl *ComponentLogger) Info(message string, fields ...Fields) {
	cl.logger.log(InfoLevel, cl.component, "", message, mergeFields(fields...))
}

func (cl *ComponentLogger) Warn(message string, fields ...Fields) {
	cl.logger.log(WarnLevel, cl.component, "", message, mergeFields(fields...))
}

func (cl *ComponentLogger) Error(message string, fields ...Fields) {
	cl.logger.log(ErrorLevel, cl.component, "", message, mergeFields(fields...))
}

func (cl *ComponentLogger) Fatal(message string, fields ...Fields) {
	cl.logger.log(FatalLevel, cl.component, "", message, mergeFields(fields...))
	os.Exit(1)
}

// WithCorrelationID creates a logger with correlation ID
func (cl *ComponentLogger) WithCorrelationID(correlationID string) *ContextLogger {
	return &ContextLogger{
		logger:        cl.logger,
		component:     cl.component,
		correlationID: correlationID,
	}
}

// ContextLogger is a component logger bound to one request's correlation id.
type ContextLogger struct {
	logger        *Logger
	component     string
	correlationID string
}

func (ctx *ContextLogger) Debug(message string, fields ...Fields) {
	ctx.logger.log(DebugLevel, ctx.component, ctx.correlationID, message, mergeFields(fields...))
}

func (ctx *ContextLogger) Info(message string, fields ...Fields) {
	ctx.logger.log(InfoLevel, ctx.component, ctx.correlationID, message, mergeFields(fields...))
}

func (ctx *ContextLogger) Warn(message string, fields ...Fields) {
	ctx.logger.log(WarnLevel, ctx.component, ctx.correlationID, message, mergeFields(fields...))
}

func (ctx *ContextLogger) Error(message string, fields ...Fields) {
	ctx.logger.log(ErrorLevel, ctx.component, ctx.correlationID, message, mergeFields(fields...))
}

func (ctx *ContextLogger) Fatal(message string, fields ...Fields) {
	ctx.logger.log(FatalLevel, ctx.component, ctx.correlationID, message, mergeFields(fields...))
	os.Exit(1)
}

func mergeFields(fields ...Fields) Fields {
	if len(fields) == 0 {
		return Fields{}
	}
	if len(fields) == 1 {
		return fields[0]
	}

	result := make(Fields)
	for _, f := range fields {
		for k, v := range f {
			result[k] = v
		}
	}
	return result
}

type contextKey string

const correlationIDKey contextKey = "correlation_id"

// WithCorrelationID adds a correlation ID to the context
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, correlationIDKey, correlationID)
}

// GetCorrelationID retrieves the correlation ID from the context
func GetCorrelationID(ctx context.Context) string {
	if correlationID, ok := ctx.Value(correlationIDKey).(string); ok {
		return correlationID
	}
	return ""
}

// FromContext creates a logger from context with correlation ID
func FromContext(ctx context.Context, component string) *ContextLogger {
	return &ContextLogger{
		logger:        Get(),
		component:     component,
		correlationID: GetCorrelationID(ctx),
	}
}

// GenerateCorrelationID returns a random UUIDv4 string.
func GenerateCorrelationID() string {
	return uuid.NewString()
}

func Debug(message string, fields ...Fields) { Get().Debug(message, fields...) }
func Info(message string, fields ...Fields)  { Get().Info(message, fields...) }
func Warn(message string, fields ...Fields)  { Get().Warn(message, fields...) }
func Error(message string, fields ...Fields) { Get().Error(message, fields...) }
func Fatal(message string, fields ...Fields) { Get().Fatal(message, fields...) }
