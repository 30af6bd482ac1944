package coordinator

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"vlog/internal/observability/logging"
)

const requestIDHeader = "X-Request-ID"

// requestIDMiddleware tags every request with a request_id (caller-supplied
// via X-Request-ID or freshly generated), propagates it through the request
// context and the response header, and attaches a request-scoped logger so
// downstream handlers, the audit log and event-bus publishes can all
// reference the same id.
func requestIDMiddleware(base zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := strings.TrimSpace(r.Header.Get(requestIDHeader))
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set(requestIDHeader, id)

			ctx := logging.ContextWithRequestID(r.Context(), id)
			scoped := logging.WithContext(ctx, base)
			ctx = scoped.WithContext(ctx)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// loggerFromRequest returns the request-scoped logger attached by
// requestIDMiddleware; outside that chain it returns whatever zerolog.Ctx
// yields for a context without a logger (zerolog's default context logger,
// disabled unless one has been set).
func loggerFromRequest(r *http.Request) zerolog.Logger {
	return *zerolog.Ctx(r.Context())
}

func requestID(r *http.Request) string {
	id, _ := logging.RequestIDFromContext(r.Context())
	return id
}
