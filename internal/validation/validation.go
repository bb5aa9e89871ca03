// Package validation shapes parameter validation failures into the
// field-level errors clients receive.
//
// Route parameters are checked by the schema package; this package turns
// its failures into *errs.HTTPError values. Configuration structs are
// checked with go-playground/validator and reported the same way.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/deppfellow/apm-transactions/internal/errs"
	"github.com/deppfellow/apm-transactions/internal/schema"
	"github.com/go-playground/validator/v10"
)

// Location names where a parameter came from.
type Location string

const (
	LocationPath  Location = "path"
	LocationQuery Location = "query"
)

// ParameterError converts a schema decode failure into a 400
// PARAMETER_DECODE_ERROR with one field error per offending parameter.
//
// Errors that are not *schema.DecodeError are returned unchanged.
func ParameterError(loc Location, err error) error {
	var decErr *schema.DecodeError
	if !errors.As(err, &decErr) {
		return err
	}

	fieldErrors := make([]errs.FieldError, 0, len(decErr.Failures))
	for _, f := range decErr.Failures {
		fieldErrors = append(fieldErrors, errs.FieldError{
			Field:  f.Path,
			Error:  failureMessage(f),
			Schema: f.Schema,
		})
	}

	msg := fmt.Sprintf("Invalid %s parameters", loc)
	return errs.NewParameterDecodeError(msg, fieldErrors).WithCause(err)
}

// PathSegmentError reports a path segment whose escaping is malformed as a
// decode failure of that parameter.
func PathSegmentError(name string, err error) error {
	return errs.NewParameterDecodeError("Invalid path parameters", []errs.FieldError{
		{Field: name, Error: "must be a validly escaped path segment"},
	}).WithCause(err)
}

func failureMessage(f schema.Failure) string {
	switch f.Reason {
	case schema.ReasonMissing:
		return fmt.Sprintf("is required (expected %s)", f.Expected)
	case schema.ReasonInvalid:
		return fmt.Sprintf("must be a single %s value", f.Expected)
	default:
		return fmt.Sprintf("%s: %s", f.Path, f.Reason)
	}
}

var validate = validator.New()

// Struct validates v against its `validate` tags and returns a readable
// error listing every failing field, or nil.
func Struct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err
	}

	fieldErrors := FieldErrors(validationErrors)
	parts := make([]string, len(fieldErrors))
	for i, fe := range fieldErrors {
		parts[i] = fe.Field + " " + fe.Error
	}
	return fmt.Errorf("validation failed: %s", strings.Join(parts, "; "))
}

// FieldErrors converts validator errors into user-friendly field errors.
func FieldErrors(validationErrors validator.ValidationErrors) []errs.FieldError {
	fieldErrors := make([]errs.FieldError, 0, len(validationErrors))

	for _, err := range validationErrors {
		var msg string

		switch err.Tag() {
		case "required":
			msg = "is required"

		case "min":
			if err.Type().Kind() == reflect.String {
				msg = fmt.Sprintf("must be at least %s characters", err.Param())
			} else {
				msg = fmt.Sprintf("must be at least %s", err.Param())
			}

		case "max":
			if err.Type().Kind() == reflect.String {
				msg = fmt.Sprintf("must not exceed %s characters", err.Param())
			} else {
				msg = fmt.Sprintf("must not exceed %s", err.Param())
			}

		case "oneof":
			msg = fmt.Sprintf("must be one of: %s", err.Param())

		case "gt":
			msg = fmt.Sprintf("must be greater than %s", err.Param())

		case "hostname_port":
			msg = "must be a host:port address"

		case "dive":
			msg = "some items are invalid"

		default:
			if err.Param() != "" {
				msg = fmt.Sprintf("%s:%s", err.Tag(), err.Param())
			} else {
				msg = err.Tag()
			}
		}

		fieldErrors = append(fieldErrors, errs.FieldError{
			Field: err.Namespace(),
			Error: msg,
		})
	}

	return fieldErrors
}
