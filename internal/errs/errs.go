// Package errs defines the error-kind taxonomy from spec.md §7. Errors are
// tagged by kind rather than modeled as a type hierarchy, so callers can
// branch on Kind(err) the way the gateway stamps error_kind into its JSON
// error responses.
package errs

import "errors"

// Kind identifies one of the named error categories from spec.md §7.
type Kind string

const (
	KindConfiguration          Kind = "Configuration"
	KindTimeout                Kind = "Timeout"
	KindRateLimited            Kind = "RateLimited"
	KindUpstream5xx            Kind = "Upstream5xx"
	KindMalformed              Kind = "Malformed"
	KindUniverseFloorBreached  Kind = "UniverseFloorBreached"
	KindLockContended          Kind = "LockContended"
	KindScoringSkipped         Kind = "ScoringSkipped"
	KindCacheUnavailable       Kind = "CacheUnavailable"
	KindQueueUnavailable       Kind = "QueueUnavailable"
	KindJobTimeout             Kind = "JobTimeout"
	KindAuditUnavailable       Kind = "AuditUnavailable"
)

// Error is a kind-tagged error that wraps an underlying cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New builds a kind-tagged error.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds a kind-tagged error around a cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the Kind from err, if err is (or wraps) an *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
