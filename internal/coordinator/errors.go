package coordinator

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"vlog/internal/apierr"
)

// safeDetail holds the user-facing status code and message for each error
// kind, per spec.md §7. Original errors are never echoed to the client;
// they are logged at WARNING with full context by writeError.
var safeDetail = map[apierr.Kind]struct {
	status int
	detail string
}{
	apierr.NotFound:           {http.StatusNotFound, "not found"},
	apierr.Validation:         {http.StatusBadRequest, "validation failed"},
	apierr.AuthRequired:       {http.StatusUnauthorized, "authentication required"},
	apierr.AuthDenied:         {http.StatusForbidden, "not authorized"},
	apierr.RateLimited:        {http.StatusTooManyRequests, "rate limited"},
	apierr.ClaimLost:          {http.StatusConflict, "claim lost"},
	apierr.TransientStorage:   {http.StatusServiceUnavailable, "storage temporarily unavailable"},
	apierr.TransientBus:       {http.StatusServiceUnavailable, "event bus temporarily unavailable"},
	apierr.Internal:           {http.StatusInternalServerError, "internal error"},
	apierr.StorageUnavailable: {http.StatusServiceUnavailable, "storage unavailable"},
}

// errorResponse is the `{detail, error}` JSON body spec.md §4.3 requires on
// rate-limit and other error responses.
type errorResponse struct {
	Detail string `json:"detail"`
	Error  string `json:"error"`
}

// writeError maps err to a status code and a sanitized client message.
// Validation errors carry their own Detail through untouched (it was
// already constructed as safe-to-show by the caller); every other kind uses
// the fixed table above. The original error is always logged.
func writeError(w http.ResponseWriter, r *http.Request, log zerolog.Logger, err error) {
	kind := apierr.Of(err)
	entry, ok := safeDetail[kind]
	if !ok {
		entry = safeDetail[apierr.Internal]
	}

	detail := entry.detail
	if kind == apierr.Validation {
		if ae, isAPIErr := err.(*apierr.Error); isAPIErr && ae.Detail != "" {
			detail = ae.Detail
		}
	}

	log.Warn().
		Err(err).
		Str("kind", string(kind)).
		Str("path", r.URL.Path).
		Str("request_id", requestID(r)).
		Msg("request failed")

	if kind == apierr.RateLimited {
		w.Header().Set("Retry-After", "1")
	}
	if kind == apierr.StorageUnavailable {
		w.Header().Set("Retry-After", "30")
	}

	writeJSON(w, entry.status, errorResponse{Detail: detail, Error: string(kind)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
