package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrInvalidCredentials indicates token authentication failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrCrossCompanyRef indicates an entity reference crossing company
	// boundaries. Always a caller bug, never retried.
	ErrCrossCompanyRef = errors.New("reference crosses company boundary")
)

// UserSafeMessage returns a message safe to surface to callers. Known domain
// errors pass through; anything else is replaced so internals do not leak.
func UserSafeMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrInvalidCredentials),
		errors.Is(err, ErrCrossCompanyRef),
		errors.Is(err, ErrIdempotencyConflict):
		return err.Error()
	default:
		return "internal error"
	}
}
