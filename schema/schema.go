// Package schema defines per-collection document schemas and the
// validation/normalization rules applied before anything is committed.
//
// A Schema carries three pieces of metadata: required fields, a field→type
// map, and default values. Schemas are static configuration, loaded once at
// construction time and never mutated afterwards.
package schema

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// ErrUnknownCollection indicates no schema is registered for a collection.
var ErrUnknownCollection = errors.New("schema: unknown collection")

// FieldType is the closed set of value kinds a schema can declare.
type FieldType string

// Field types.
const (
	String  FieldType = "string"
	Number  FieldType = "number"
	Boolean FieldType = "boolean"
	Array   FieldType = "array"
)

// ParseFieldType converts a type name from configuration into a FieldType.
func ParseFieldType(name string) (FieldType, error) {
	switch FieldType(name) {
	case String, Number, Boolean, Array:
		return FieldType(name), nil
	default:
		return "", fmt.Errorf("schema: unknown field type %q", name)
	}
}

// Default is a value injected for a field that is absent at creation time.
// It is either a literal or a rule evaluated per call. Rules matter for
// time-based defaults: a Schema is long-lived, so "now" must be the moment
// of insertion, not the moment the schema was built.
type Default struct {
	literal any
	fn      func() any
}

// Literal returns a Default that always yields v.
func Literal(v any) Default {
	return Default{literal: v}
}

// Rule returns a Default computed by fn at preparation time.
func Rule(fn func() any) Default {
	return Default{fn: fn}
}

// Now returns a Default yielding the current UTC time in RFC3339 format,
// evaluated when a document is prepared.
func Now() Default {
	return Rule(func() any {
		return time.Now().UTC().Format(time.RFC3339)
	})
}

// Value resolves the default to a concrete value.
func (d Default) Value() any {
	if d.fn != nil {
		return d.fn()
	}
	return d.literal
}

// Schema describes the documents accepted into one collection.
type Schema struct {
	// Required lists fields that must be present and non-empty at creation.
	Required []string

	// Types maps field names to their declared kinds. Fields not listed
	// are accepted as-is.
	Types map[string]FieldType

	// Defaults maps field names to values injected when absent at creation.
	Defaults map[string]Default
}

// Registry holds the schema for every known collection.
// Read-only after construction.
type Registry struct {
	schemas map[string]Schema
}

// NewRegistry creates a registry from a collection→schema map.
func NewRegistry(schemas map[string]Schema) *Registry {
	copied := make(map[string]Schema, len(schemas))
	for name, s := range schemas {
		copied[name] = s
	}
	return &Registry{schemas: copied}
}

// Describe returns the schema for a collection.
// Returns ErrUnknownCollection if the collection is not registered.
func (r *Registry) Describe(collection string) (Schema, error) {
	s, ok := r.schemas[collection]
	if !ok {
		return Schema{}, fmt.Errorf("%w: %q", ErrUnknownCollection, collection)
	}
	return s, nil
}

// Has reports whether a collection is registered.
func (r *Registry) Has(collection string) bool {
	_, ok := r.schemas[collection]
	return ok
}

// Collections returns the registered collection names, sorted.
func (r *Registry) Collections() []string {
	names := make([]string, 0, len(r.schemas))
	for name := range r.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
