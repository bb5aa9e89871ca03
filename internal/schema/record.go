package schema

import (
	"fmt"
	"strings"
)

// Record is a decoded parameter set.
//
// It holds exactly the declared fields that were present in the input.
// Absent optional fields have no key.
type Record map[string]string

// Get returns the value of a field, or "" when it is absent.
func (r Record) Get(name string) string {
	return r[name]
}

// Lookup returns the value of a field and whether it was present.
func (r Record) Lookup(name string) (string, bool) {
	v, ok := r[name]
	return v, ok
}

// Optional returns a pointer to the field value, or nil when absent.
func (r Record) Optional(name string) *string {
	if v, ok := r[name]; ok {
		return &v
	}
	return nil
}

// GetOr returns the field value, or fallback when the field is absent.
//
// A present empty string is returned as is.
func (r Record) GetOr(name, fallback string) string {
	if v, ok := r[name]; ok {
		return v
	}
	return fallback
}

// Reason tells why a field failed to decode.
type Reason string

const (
	ReasonMissing Reason = "missing"
	ReasonInvalid Reason = "invalid"
)

// Failure describes one field that did not satisfy its schema.
type Failure struct {
	// Path is the field name.
	Path string `json:"path"`

	// Expected is the leaf shape the value had to match.
	Expected string `json:"expected"`

	Reason Reason `json:"reason"`

	// Schema is the shape of the schema that declared the field.
	Schema string `json:"schema"`
}

// DecodeError is returned when an input does not satisfy a schema.
type DecodeError struct {
	Failures []Failure `json:"failures"`
}

func (e *DecodeError) Error() string {
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = fmt.Sprintf("%s: %s, expected %s", f.Path, f.Reason, f.Expected)
	}
	return "invalid parameters: " + strings.Join(parts, "; ")
}

// Paths returns the offending field names in order.
func (e *DecodeError) Paths() []string {
	paths := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		paths[i] = f.Path
	}
	return paths
}

// ConflictError reports fields declared incompatibly by intersected schemas.
type ConflictError struct {
	Fields []string
	Schema string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflicting declarations of %s in %s", strings.Join(e.Fields, ", "), e.Schema)
}
