package coordinator

import (
	"context"
	"net/http"

	"vlog/internal/apierr"
	"vlog/internal/apikeys"
)

type workerIDContextKey struct{}

// workerAuth validates the X-Worker-API-Key header against the apikeys
// issuer and stashes the owning worker_id in the request context for
// handlers and the audit log.
func workerAuth(issuer *apikeys.Issuer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-Worker-API-Key")
			if key == "" {
				writeError(w, r, loggerFromRequest(r), apierr.New(apierr.AuthRequired, "missing worker api key"))
				return
			}
			workerID, err := issuer.Verify(r.Context(), key)
			if err != nil {
				writeError(w, r, loggerFromRequest(r), apierr.New(apierr.AuthDenied, "invalid worker api key"))
				return
			}
			ctx := context.WithValue(r.Context(), workerIDContextKey{}, workerID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func workerIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(workerIDContextKey{}).(string)
	return id
}
