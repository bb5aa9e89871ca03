package schema

// Codec pairs a Schema with a builder producing a typed value.
//
// The builder only runs on a successfully decoded Record, so it can read
// required fields with Record.Get without checking for presence.
type Codec[T any] struct {
	schema Schema
	build  func(Record) T
}

// Typed returns a Codec decoding inputs with s and building T from the result.
func Typed[T any](s Schema, build func(Record) T) Codec[T] {
	return Codec[T]{schema: s, build: build}
}

// Schema returns the underlying schema.
func (c Codec[T]) Schema() Schema {
	return c.schema
}

// Decode validates in and builds the typed value.
func (c Codec[T]) Decode(in Input) (T, error) {
	var zero T

	rec, err := c.schema.Decode(in)
	if err != nil {
		return zero, err
	}
	if c.build == nil {
		return zero, nil
	}
	return c.build(rec), nil
}
