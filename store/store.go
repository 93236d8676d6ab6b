// Package store defines the conditional storage port the document store
// client writes through.
//
// The backing store for a collection is a single file-like resource with
// read-with-revision and write-if-unchanged semantics. A Git content API is
// the reference backend; an object store with ETag-conditional PUT or an
// in-memory compare-and-swap map satisfy the same contract.
package store

import "context"

// Revision is an opaque token for the last-known state of a resource,
// e.g. a Git blob SHA or an ETag. It is compared only for equality.
type Revision string

// NoRevision marks a resource that does not exist yet. Writing with
// NoRevision as the expected revision creates the resource.
const NoRevision Revision = ""

// CredentialValidator is implemented by adapters that can check their
// credentials with a cheap call. The client checks for it during warm-up;
// a failure is logged, never fatal.
type CredentialValidator interface {
	ValidateCredentials(ctx context.Context) error
}

// Conditional is the port implemented by storage adapters.
//
// Write is atomic at the single-resource granularity: either the whole new
// content is committed and a new revision returned, or nothing changes.
type Conditional interface {
	// Read fetches the current content and revision of a resource.
	// A resource that does not exist yet yields (nil, NoRevision, nil);
	// callers treat that as an empty collection, not an error.
	Read(ctx context.Context, path string) ([]byte, Revision, error)

	// Write persists new content if the resource still matches expected.
	// Returns ErrConflict (possibly wrapped) when another writer committed
	// in between; the caller re-reads and retries.
	Write(ctx context.Context, path string, data []byte, expected Revision, message string) (Revision, error)
}
