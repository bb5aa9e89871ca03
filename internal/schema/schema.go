// Package schema contains small composable decoders for request parameters.
//
// A Schema turns the raw, untyped parameters of a request (path segments or
// query values) into a Record that holds only the fields the schema declares,
// or fails with a DecodeError listing every offending field.
//
// Schemas are built from one leaf type (String) and three combinators:
//   - Exact: every declared field must be present and valid.
//   - Partial: declared fields may be absent; present ones must be valid.
//   - Intersect: the input must satisfy every member; the result is the
//     union of the members' fields.
//
// Decoding is pure: the same input always yields the same outcome.
package schema

import (
	"sort"
	"strings"
)

// Input is the raw parameter set of a request.
//
// Path segments are single-valued. Query parameters may repeat, which is why
// each key maps to a slice (url.Values converts directly).
type Input map[string][]string

// Type is a leaf decoder for the value of a single field.
//
// The interface is sealed: String is the only leaf the routes need.
type Type interface {
	// Name is the shape reported to callers when a value does not match.
	Name() string

	decode(values []string) (string, bool)
}

type stringType struct{}

func (stringType) Name() string { return "string" }

// A repeated query key arrives as several values and is an array, not a
// string. Nothing is coerced.
func (stringType) decode(values []string) (string, bool) {
	if len(values) != 1 {
		return "", false
	}
	return values[0], true
}

// String succeeds iff the field holds exactly one string value.
var String Type = stringType{}

// Props declares the fields of an Exact or Partial schema.
type Props map[string]Type

// Field is a single declared field of a schema.
type Field struct {
	Name     string
	Type     Type
	Optional bool
}

type kind uint8

const (
	kindExact kind = iota
	kindPartial
	kindIntersection
)

// Schema is a decoder over an Input.
//
// It is a closed sum over exact, partial and intersection shapes. The zero
// value is an exact schema with no fields and accepts any input.
type Schema struct {
	kind    kind
	fields  []Field
	members []Schema
}

// Exact returns a schema that requires every field in props.
func Exact(props Props) Schema {
	return Schema{kind: kindExact, fields: sortedFields(props, false)}
}

// Partial returns a schema whose fields are all optional.
//
// An absent field is satisfied and simply missing from the Record; it is
// never reported as invalid.
func Partial(props Props) Schema {
	return Schema{kind: kindPartial, fields: sortedFields(props, true)}
}

// Intersect returns a schema satisfied only when every member is.
//
// Members that declare the same field with a different type or optionality
// conflict. Intersect does not fail on that; Check reports it so callers can
// reject the configuration before serving traffic.
func Intersect(members ...Schema) Schema {
	return Schema{kind: kindIntersection, members: members}
}

func sortedFields(props Props, optional bool) []Field {
	fields := make([]Field, 0, len(props))
	for name, t := range props {
		fields = append(fields, Field{Name: name, Type: t, Optional: optional})
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].Name < fields[j].Name })
	return fields
}

// Decode validates in and returns the decoded Record.
//
// On failure the returned error is a *DecodeError carrying every missing or
// invalid field, not just the first.
func (s Schema) Decode(in Input) (Record, error) {
	rec := Record{}
	var failures []Failure

	s.decodeInto(in, rec, &failures)

	if len(failures) > 0 {
		return nil, &DecodeError{Failures: dedupe(failures)}
	}
	return rec, nil
}

func (s Schema) decodeInto(in Input, rec Record, failures *[]Failure) {
	if s.kind == kindIntersection {
		for _, m := range s.members {
			m.decodeInto(in, rec, failures)
		}
		return
	}

	for _, f := range s.fields {
		values, present := in[f.Name]
		if !present {
			if !f.Optional {
				*failures = append(*failures, Failure{
					Path:     f.Name,
					Expected: f.Type.Name(),
					Reason:   ReasonMissing,
					Schema:   s.String(),
				})
			}
			continue
		}

		v, ok := f.Type.decode(values)
		if !ok {
			*failures = append(*failures, Failure{
				Path:     f.Name,
				Expected: f.Type.Name(),
				Reason:   ReasonInvalid,
				Schema:   s.String(),
			})
			continue
		}
		rec[f.Name] = v
	}
}

// Fields returns the declared fields, flattened across intersections.
//
// A field declared identically by several members appears once.
func (s Schema) Fields() []Field {
	seen := map[string]bool{}
	var out []Field
	s.walk(func(f Field) {
		if seen[f.Name] {
			return
		}
		seen[f.Name] = true
		out = append(out, f)
	})
	return out
}

func (s Schema) walk(fn func(Field)) {
	if s.kind == kindIntersection {
		for _, m := range s.members {
			m.walk(fn)
		}
		return
	}
	for _, f := range s.fields {
		fn(f)
	}
}

// String renders the schema shape, e.g. "{ serviceName: string }".
func (s Schema) String() string {
	switch s.kind {
	case kindIntersection:
		parts := make([]string, len(s.members))
		for i, m := range s.members {
			parts[i] = m.String()
		}
		return "(" + strings.Join(parts, " & ") + ")"
	default:
		parts := make([]string, len(s.fields))
		for i, f := range s.fields {
			parts[i] = f.Name + ": " + f.Type.Name()
		}
		body := "{ " + strings.Join(parts, ", ") + " }"
		if s.kind == kindPartial {
			return "Partial<" + body + ">"
		}
		return body
	}
}

// Check reports conflicting field declarations inside s.
//
// Two declarations of the same field conflict when their types or their
// optionality differ. The returned error is a *ConflictError, or nil.
func Check(s Schema) error {
	declared := map[string]Field{}
	var conflicts []string

	s.walk(func(f Field) {
		prev, ok := declared[f.Name]
		if !ok {
			declared[f.Name] = f
			return
		}
		if prev.Type.Name() != f.Type.Name() || prev.Optional != f.Optional {
			conflicts = append(conflicts, f.Name)
		}
	})

	if len(conflicts) == 0 {
		return nil
	}
	sort.Strings(conflicts)
	return &ConflictError{Fields: conflicts, Schema: s.String()}
}

func dedupe(failures []Failure) []Failure {
	seen := make(map[string]bool, len(failures))
	out := failures[:0]
	for _, f := range failures {
		key := f.Path + "\x00" + string(f.Reason)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, f)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}
