// Package memorystore provides an in-memory implementation of the
// conditional store port. It backs tests and can serve as an ephemeral
// backend for local development.
package memorystore

import (
	"context"
	"fmt"
	"sync"

	"github.com/custodia-labs/commitdb/store"
)

// Ensure Store implements the interface.
var _ store.Conditional = (*Store)(nil)

type resource struct {
	data []byte
	rev  store.Revision
}

// Store is an in-memory conditional store with compare-and-swap writes.
// Revisions are monotonic counters scoped per resource.
type Store struct {
	mu        sync.RWMutex
	resources map[string]resource
	commits   uint64
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{resources: make(map[string]resource)}
}

// Read fetches the current content and revision of a resource.
func (s *Store) Read(_ context.Context, path string) ([]byte, store.Revision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res, ok := s.resources[path]
	if !ok {
		return nil, store.NoRevision, nil
	}
	data := make([]byte, len(res.data))
	copy(data, res.data)
	return data, res.rev, nil
}

// Write persists new content if the resource still matches expected.
func (s *Store) Write(_ context.Context, path string, data []byte, expected store.Revision, _ string) (store.Revision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := store.NoRevision
	if res, ok := s.resources[path]; ok {
		current = res.rev
	}
	if current != expected {
		return store.NoRevision, fmt.Errorf("write %q: expected revision %q, found %q: %w",
			path, expected, current, store.ErrConflict)
	}

	s.commits++
	rev := store.Revision(fmt.Sprintf("rev-%d", s.commits))
	stored := make([]byte, len(data))
	copy(stored, data)
	s.resources[path] = resource{data: stored, rev: rev}
	return rev, nil
}

// Len returns the number of stored resources.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.resources)
}
