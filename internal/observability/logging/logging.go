// Package logging wraps github.com/rs/zerolog into the process-wide
// structured logger, with request-scoped context propagation and an HTTP
// middleware mirroring the shape of the coordinator's other middleware.
package logging

import (
	"context"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"vlog/internal/observability/metrics"
)

// Config controls the level, format and destination of the process logger.
type Config struct {
	Level  string
	Writer io.Writer
	Format string
}

// LogFormat selects between structured JSON and human-readable console
// output.
type LogFormat string

const (
	FormatJSON    LogFormat = "json"
	FormatConsole LogFormat = "console"
)

// Init builds a logger from cfg and installs it as zerolog's package-level
// default.
func Init(cfg Config) zerolog.Logger {
	logger := New(cfg)
	zerolog.DefaultContextLogger = &logger
	return logger
}

// New builds a zerolog.Logger from cfg without touching global state.
func New(cfg Config) zerolog.Logger {
	writer := cfg.Writer
	if writer == nil {
		writer = os.Stdout
	}
	var w io.Writer = writer
	if LogFormat(strings.ToLower(strings.TrimSpace(cfg.Format))) == FormatConsole {
		w = zerolog.ConsoleWriter{Out: writer, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(parseLevel(cfg.Level)).With().Timestamp().Logger()
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "info", "":
		return zerolog.InfoLevel
	default:
		return zerolog.InfoLevel
	}
}

// WithComponent returns a logger annotated with a "component" field.
func WithComponent(logger zerolog.Logger, component string) zerolog.Logger {
	return logger.With().Str("component", component).Logger()
}

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	workerIDKey  contextKey = "worker_id"
)

// ContextWithRequestID stores a non-empty request ID on ctx.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	if strings.TrimSpace(id) == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext retrieves a request ID previously stored on ctx.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(requestIDKey).(string)
	return v, ok && v != ""
}

// ContextWithWorkerID stores a non-empty worker ID on ctx.
func ContextWithWorkerID(ctx context.Context, id string) context.Context {
	if strings.TrimSpace(id) == "" {
		return ctx
	}
	return context.WithValue(ctx, workerIDKey, id)
}

// WorkerIDFromContext retrieves a worker ID previously stored on ctx.
func WorkerIDFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(workerIDKey).(string)
	return v, ok && v != ""
}

// WithContext annotates logger with whatever request/worker IDs ctx holds.
func WithContext(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	lc := logger.With()
	if id, ok := RequestIDFromContext(ctx); ok {
		lc = lc.Str("request_id", id)
	}
	if id, ok := WorkerIDFromContext(ctx); ok {
		lc = lc.Str("worker_id", id)
	}
	return lc.Logger()
}

// RequestLoggerConfig configures the HTTP access-log middleware.
type RequestLoggerConfig struct {
	Logger            zerolog.Logger
	DisableRemoteAddr bool
	AdditionalFields  func(*http.Request, int, time.Duration) map[string]any
}

// RequestLogger returns middleware logging one line per completed request:
// method, path, status, duration, and (unless disabled) remote address.
func RequestLogger(cfg RequestLoggerConfig) func(http.Handler) http.Handler {
	base := cfg.Logger

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			recorder := metrics.NewResponseRecorder(w)
			start := time.Now()
			next.ServeHTTP(recorder, r)
			duration := time.Since(start)

			evt := WithContext(r.Context(), base).Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", recorder.Status()).
				Int64("duration_ms", duration.Milliseconds())

			if !cfg.DisableRemoteAddr {
				evt = evt.Str("remote_addr", r.RemoteAddr)
			}
			if cfg.AdditionalFields != nil {
				for k, v := range cfg.AdditionalFields(r, recorder.Status(), duration) {
					evt = evt.Interface(k, v)
				}
			}
			evt.Msg("request completed")
		})
	}
}
