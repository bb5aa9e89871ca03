// Package errs defines the error shapes returned by the API.
//
// Every failure a request can hit ends up as an *HTTPError before it is
// written, so clients always receive the same JSON structure:
//
//	{ "code": "PARAMETER_DECODE_ERROR", "message": "...", "status": 400,
//	  "override": false, "errors": [{ "field": "start", "error": "is required" }] }
//
// Codes distinguish "your input was malformed" (4xx) from "we could not
// serve this request" (5xx).
package errs

import "strings"

// FieldError is a field-level error, one per offending parameter.
//
//	{ "field": "transactionType", "error": "is required (expected string)" }
type FieldError struct {
	Field string `json:"field"`
	Error string `json:"error"`
	// Schema is the declared shape the field violated, set for parameter
	// decode errors.
	Schema string `json:"schema,omitempty"`
}

// ActionType is a string-based enum describing what the client should do.
type ActionType string

const (
	// ActionTypeRetry tells the client the same request may succeed later.
	ActionTypeRetry ActionType = "retry"
)

// Action is an optional "what to do next" hint for the client.
type Action struct {
	Type    ActionType `json:"type"`
	Message string     `json:"message"`
	Value   string     `json:"value"`
}

// HTTPError is the error type written to API responses.
//
// Fields:
//   - Code: machine-friendly error code (e.g. "INVALID_TIME_RANGE").
//   - Message: human-friendly message.
//   - Status: HTTP status code.
//   - Override: whether the frontend may show Message verbatim.
//   - Errors: per-field failures (parameter decoding).
//   - Action: optional client instruction.
type HTTPError struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Status   int    `json:"status"`
	Override bool   `json:"override"`

	Errors []FieldError `json:"errors"`

	Action *Action `json:"action"`

	// cause is the underlying error, kept for logs and errors.Is/As.
	cause error
}

func (e *HTTPError) Error() string {
	return e.Message
}

// Is matches any *HTTPError target, which lets errors.Is(err, &HTTPError{})
// detect an already-shaped error anywhere in a chain.
func (e *HTTPError) Is(target error) bool {
	_, ok := target.(*HTTPError)
	return ok
}

// Unwrap returns the error that caused this HTTPError, if any.
func (e *HTTPError) Unwrap() error {
	return e.cause
}

// ClientFault reports whether the caller can fix the request (4xx).
func (e *HTTPError) ClientFault() bool {
	return e.Status >= 400 && e.Status < 500
}

// WithMessage returns a copy of the error with Message replaced.
func (e *HTTPError) WithMessage(message string) *HTTPError {
	c := *e
	c.Message = message
	return &c
}

// WithCause returns a copy of the error wrapping cause.
func (e *HTTPError) WithCause(cause error) *HTTPError {
	c := *e
	c.cause = cause
	return &c
}

// MakeUpperCaseWithUnderscores converts "Bad Request" into "BAD_REQUEST".
func MakeUpperCaseWithUnderscores(str string) string {
	return strings.ToUpper(strings.ReplaceAll(str, " ", "_"))
}
