package schema

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// Mode selects which validation rules Prepare applies.
type Mode int

// Preparation modes.
const (
	// Create injects defaults and enforces required fields.
	Create Mode = iota

	// Update checks only the fields the caller supplied; required fields
	// the caller did not touch are left alone (partial update semantics).
	Update
)

// ErrorKind classifies a ValidationError.
type ErrorKind string

// Validation error kinds.
const (
	MissingRequiredField ErrorKind = "missing required field"
	TypeMismatch         ErrorKind = "type mismatch"
)

// ValidationError reports why a document was rejected. It is returned
// before any backend call is attempted, so callers can correct the input
// without paying for a round trip.
type ValidationError struct {
	Kind     ErrorKind
	Field    string
	Expected FieldType
	Actual   string
}

func (e *ValidationError) Error() string {
	if e.Kind == TypeMismatch {
		return fmt.Sprintf("schema: %s: field %q expects %s, got %s", e.Kind, e.Field, e.Expected, e.Actual)
	}
	return fmt.Sprintf("schema: %s: %q", e.Kind, e.Field)
}

// Prepare validates and normalizes a candidate document against a schema.
//
// In Create mode it injects defaults for absent fields (rule defaults are
// evaluated now, not at schema construction), then enforces required fields,
// then type-checks every declared field. In Update mode only supplied fields
// are type-checked, but supplying a required field as null/empty is still an
// error.
//
// The input map is never mutated; the returned document is a fresh copy with
// defaults merged and unambiguous coercions applied.
func Prepare(s Schema, doc map[string]any, mode Mode) (map[string]any, error) {
	out := make(map[string]any, len(doc)+len(s.Defaults))
	for k, v := range doc {
		out[k] = v
	}

	if mode == Create {
		for field, def := range s.Defaults {
			if _, ok := out[field]; !ok {
				out[field] = def.Value()
			}
		}
		for _, field := range s.Required {
			if isEmpty(out[field]) {
				return nil, &ValidationError{Kind: MissingRequiredField, Field: field}
			}
		}
	} else {
		for _, field := range s.Required {
			if v, ok := out[field]; ok && isEmpty(v) {
				return nil, &ValidationError{Kind: MissingRequiredField, Field: field}
			}
		}
	}

	for field, want := range s.Types {
		value, ok := out[field]
		if !ok || value == nil {
			continue
		}
		coerced, err := checkType(field, want, value)
		if err != nil {
			return nil, err
		}
		out[field] = coerced
	}

	return out, nil
}

// checkType verifies value against the declared kind, applying only
// unambiguous coercions (form inputs arrive as strings).
func checkType(field string, want FieldType, value any) (any, error) {
	switch want {
	case String:
		if s, ok := value.(string); ok {
			return s, nil
		}
	case Number:
		switch v := value.(type) {
		case float64:
			return v, nil
		case float32:
			return float64(v), nil
		case int:
			return float64(v), nil
		case int32:
			return float64(v), nil
		case int64:
			return float64(v), nil
		case string:
			if n, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				return n, nil
			}
		}
	case Boolean:
		switch v := value.(type) {
		case bool:
			return v, nil
		case string:
			switch strings.TrimSpace(v) {
			case "true":
				return true, nil
			case "false":
				return false, nil
			}
		}
	case Array:
		k := reflect.ValueOf(value).Kind()
		if k == reflect.Slice || k == reflect.Array {
			return value, nil
		}
	}
	return nil, &ValidationError{
		Kind:     TypeMismatch,
		Field:    field,
		Expected: want,
		Actual:   fmt.Sprintf("%T", value),
	}
}

// isEmpty reports whether a value counts as absent for required-field
// purposes: missing, nil, or a blank string.
func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	return false
}
