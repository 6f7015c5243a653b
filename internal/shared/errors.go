package shared

import "errors"

// Error kinds shared by every package. Callers wrap them with context and
// match with errors.Is; the HTTP layer maps each kind to a status code.
var (
	// ErrUnauthenticated indicates the caller identity could not be established.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrForbidden indicates the resolved role may not perform the action.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidArgument indicates rejected input.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates a uniqueness or state conflict.
	ErrConflict = errors.New("conflict")
	// ErrUnavailable indicates a transient storage or transport failure.
	ErrUnavailable = errors.New("unavailable")
)

// Retryable reports whether err is a transient failure worth retrying on read paths.
func Retryable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
