package store

import "errors"

// Storage errors. Adapters wrap these so callers can test with errors.Is.
var (
	// ErrConflict indicates the resource changed between read and write.
	// The client's retry loop recovers from this automatically.
	ErrConflict = errors.New("store: revision conflict")

	// ErrNotFound indicates the resource does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrTimeout indicates a write deadline expired with the outcome
	// unknown. It is distinct from ErrConflict: the commit may or may not
	// have landed, so callers must not assume either.
	ErrTimeout = errors.New("store: operation timed out")
)

// IsConflict reports whether err is a revision conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsTimeout reports whether err is an inconclusive timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}
