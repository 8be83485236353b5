package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/startdusk/filebox/internal/logger"
	"github.com/startdusk/filebox/internal/middleware"
	"github.com/startdusk/filebox/internal/tracing"
)

// Trigger decides when a Gate records an admitted request.
type Trigger int

const (
	// TriggerOnFailure records only when the handler answered 4xx. Success
	// is free; 5xx, a cancelled request or a panic record nothing.
	TriggerOnFailure Trigger = iota
	// TriggerOnAttempt records every admitted request once the handler
	// returns, whatever its status. A cancelled request or a panic records
	// nothing.
	TriggerOnAttempt
)

func (t Trigger) String() string {
	switch t {
	case TriggerOnFailure:
		return "on_failure"
	case TriggerOnAttempt:
		return "on_attempt"
	default:
		return "unknown"
	}
}

const defaultRecordTimeout = 5 * time.Second

// Gate enforces one daily limit around a handler.
type Gate struct {
	Limiter *Limiter
	Limit   int64
	Field   Field
	Trigger Trigger
	// KeyFunc resolves the client key. Requests without a key pass through
	// unlimited.
	KeyFunc KeyFunc
	// RecordTimeout bounds the post-handler increment, which runs detached
	// from the request context. Zero means five seconds.
	RecordTimeout time.Duration
}

// denialResponse is the body of a 403 written by a Gate.
type denialResponse struct {
	middleware.ErrorResponse
	Field   string `json:"field"`
	Limit   int64  `json:"limit"`
	ResetAt string `json:"reset_at"`
}

// Middleware returns g.Wrap for use in a middleware chain.
func (g *Gate) Middleware() func(http.Handler) http.Handler {
	return g.Wrap
}

// Wrap returns a handler that checks the limit before next and records the
// outcome after it.
func (g *Gate) Wrap(next http.Handler) http.Handler {
	log := logger.Get().WithComponent("ratelimit.gate")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, ok := g.KeyFunc(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		d := g.Limiter.Check(r.Context(), key, g.Limit, g.Field)
		setLimitHeaders(w, d)

		if !d.Allowed {
			log.WithCorrelationID(logger.GetCorrelationID(r.Context())).Warn("daily limit reached", logger.Fields{
				"key":    key,
				"field":  g.Field.String(),
				"limit":  d.Limit,
				"count":  d.Count,
				"path":   r.URL.Path,
				"method": r.Method,
			})
			tracing.AddEvent(r.Context(), "rate_limit.denied",
				attribute.String("filebox.field", g.Field.String()),
				attribute.Int64("filebox.limit", d.Limit),
			)
			g.deny(w, r, d)
			return
		}

		rw := middleware.NewResponseWriter(w)
		next.ServeHTTP(rw, r)

		if !g.shouldRecord(r.Context(), rw.StatusCode()) {
			return
		}

		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), g.recordTimeout())
		defer cancel()

		if _, err := g.Limiter.Record(ctx, key, g.Field); err != nil {
			log.WithCorrelationID(logger.GetCorrelationID(r.Context())).Error("failed to record attempt", logger.Fields{
				"key":     key,
				"field":   g.Field.String(),
				"trigger": g.Trigger.String(),
				"error":   err,
			})
		}
	})
}

func (g *Gate) shouldRecord(ctx context.Context, status int) bool {
	// The outcome of a cancelled request is unknown.
	if ctx.Err() != nil {
		return false
	}
	switch g.Trigger {
	case TriggerOnAttempt:
		return true
	case TriggerOnFailure:
		return status >= 400 && status < 500
	default:
		return false
	}
}

func (g *Gate) recordTimeout() time.Duration {
	if g.RecordTimeout > 0 {
		return g.RecordTimeout
	}
	return defaultRecordTimeout
}

func (g *Gate) deny(w http.ResponseWriter, r *http.Request, d Decision) {
	retryAfter := int64(d.ResetAt.Sub(g.Limiter.opts.now()) / time.Second)
	if retryAfter < 0 {
		retryAfter = 0
	}
	w.Header().Set("Retry-After", strconv.FormatInt(retryAfter, 10))

	resp := denialResponse{
		ErrorResponse: middleware.ErrorResponse{
			Code:          http.StatusForbidden,
			Error:         "rate_limit_exceeded",
			Message:       "daily limit reached, try again after " + d.ResetAt.Format(time.RFC3339),
			CorrelationID: logger.GetCorrelationID(r.Context()),
		},
		Field:   g.Field.String(),
		Limit:   d.Limit,
		ResetAt: d.ResetAt.Format(time.RFC3339),
	}
	if err := middleware.WriteJSONStatus(w, http.StatusForbidden, resp); err != nil {
		logger.Get().WithComponent("ratelimit.gate").Error("failed to encode denial", logger.Fields{
			"error": err,
		})
	}
}

func setLimitHeaders(w http.ResponseWriter, d Decision) {
	remaining := d.Remaining
	if !d.Allowed {
		remaining = 0
	}
	w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(d.Limit, 10))
	w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
}
