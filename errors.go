package commitdb

import (
	"errors"
	"fmt"
)

// Client errors. Validation failures are reported by the schema package;
// storage failures by the store package and its adapters.
var (
	// ErrNotFound indicates an update or delete targeted an id that does
	// not exist in the collection.
	ErrNotFound = errors.New("commitdb: document not found")

	// ErrConflictExhausted indicates a write kept losing the revision race
	// and ran out of retries. The operation can be attempted again later.
	ErrConflictExhausted = errors.New("commitdb: write conflict retries exhausted")
)

// ConflictExhaustedError carries the details of an exhausted retry loop.
// It unwraps to ErrConflictExhausted.
type ConflictExhaustedError struct {
	Collection string
	Attempts   int
}

func (e *ConflictExhaustedError) Error() string {
	return fmt.Sprintf("commitdb: collection %q: gave up after %d conflicting write attempts", e.Collection, e.Attempts)
}

func (e *ConflictExhaustedError) Unwrap() error {
	return ErrConflictExhausted
}

// IsNotFound reports whether err is a missing-document error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
