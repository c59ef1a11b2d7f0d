package access

import "errors"

// Reason classes surfaced to callers. Handlers map these with errors.Is and
// never forward the wrapped internal detail.
var (
	ErrUnauthenticated     = errors.New("unauthenticated")
	ErrForbidden           = errors.New("forbidden")
	ErrValidation          = errors.New("validation error")
	ErrBlocked             = errors.New("blocked")
	ErrAuditFailure        = errors.New("audit failure")
	ErrPartialFailure      = errors.New("partial failure")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrInvalidOperation    = errors.New("invalid operation")
	ErrNotFound            = errors.New("not found")
)

// Reason returns the stable reason class for err, or "internal".
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrValidation):
		return "validation_error"
	case errors.Is(err, ErrBlocked):
		return "blocked"
	case errors.Is(err, ErrAuditFailure):
		return "audit_failure"
	case errors.Is(err, ErrPartialFailure):
		return "partial_failure"
	case errors.Is(err, ErrUpstreamUnavailable):
		return "upstream_unavailable"
	case errors.Is(err, ErrInvalidOperation):
		return "invalid_operation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "internal"
	}
}
