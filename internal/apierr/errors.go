// Package apierr defines the transport-independent error taxonomy from
// spec.md §7. Catalog, event bus, coordinator and agent code all construct
// *apierr.Error values; a single boundary translator (internal/coordinator's
// errors.go) maps a Kind to an HTTP status and a sanitized client message.
package apierr

import "fmt"

// Kind is one of the error kinds from spec.md §7.
type Kind string

const (
	NotFound          Kind = "not_found"
	Validation        Kind = "validation"
	AuthRequired      Kind = "auth_required"
	AuthDenied        Kind = "auth_denied"
	RateLimited       Kind = "rate_limited"
	ClaimLost         Kind = "claim_lost"
	TransientStorage  Kind = "transient_storage"
	TransientBus      Kind = "transient_bus"
	Internal          Kind = "internal"
	StorageUnavailable Kind = "storage_unavailable"
)

// Error wraps an underlying cause with a Kind used for status-code mapping
// and response sanitization, plus an optional caller-facing detail that is
// already considered safe to show (e.g. "slug must be lowercase").
type Error struct {
	Kind    Kind
	Detail  string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
	}
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error with the given kind and safe detail string.
func New(kind Kind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

// Wrap builds an *Error with the given kind wrapping an internal cause. The
// cause is never shown to clients directly; the boundary sanitizer decides
// what to surface.
func Wrap(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Cause: cause}
}

// Of extracts the Kind of err if it is (or wraps) an *Error, defaulting to
// Internal otherwise.
func Of(err error) Kind {
	var e *Error
	if as(err, &e) {
		return e.Kind
	}
	return Internal
}

func as(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
