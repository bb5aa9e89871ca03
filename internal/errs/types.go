package errs

import (
	"net/http"
)

// Error codes returned by the API, beyond the generic status-text codes.
const (
	// CodeParameterDecode: path or query parameters failed schema validation.
	CodeParameterDecode = "PARAMETER_DECODE_ERROR"

	// CodeInvalidTimeRange: start/end are unparseable or start is after end.
	CodeInvalidTimeRange = "INVALID_TIME_RANGE"

	// CodeInvalidUIFilters: the uiFilters encoding is malformed.
	CodeInvalidUIFilters = "INVALID_UI_FILTERS"

	// CodeSearchUnavailable: no search client could be acquired.
	CodeSearchUnavailable = "SEARCH_BACKEND_UNAVAILABLE"

	// CodeSearchUnauthorized: no search client may be issued to the caller.
	CodeSearchUnauthorized = "SEARCH_BACKEND_UNAUTHORIZED"

	// CodeAggregationFailed: the aggregation query failed.
	CodeAggregationFailed = "AGGREGATION_FAILED"

	// CodeAggregationTimeout: the aggregation query ran out of time.
	CodeAggregationTimeout = "AGGREGATION_TIMEOUT"
)

// NewBadRequestError creates a 400 Bad Request HTTPError.
//
// This supports extra payload:
//   - code: optional custom code string (if nil, defaults to "BAD_REQUEST")
//   - errors: optional slice of field errors
//   - action: optional client instruction
func NewBadRequestError(message string, override bool, code *string, errors []FieldError, action *Action) *HTTPError {
	formattedCode := MakeUpperCaseWithUnderscores(http.StatusText(http.StatusBadRequest))
	if code != nil {
		formattedCode = *code
	}

	return &HTTPError{
		Code:     formattedCode,
		Message:  message,
		Status:   http.StatusBadRequest,
		Override: override,
		Errors:   errors,
		Action:   action,
	}
}

// NewNotFoundError creates a 404 Not Found HTTPError.
func NewNotFoundError(message string, override bool, code *string) *HTTPError {
	formattedCode := MakeUpperCaseWithUnderscores(http.StatusText(http.StatusNotFound))
	if code != nil {
		formattedCode = *code
	}

	return &HTTPError{
		Code:     formattedCode,
		Message:  message,
		Status:   http.StatusNotFound,
		Override: override,
	}
}

// NewInternalServerError creates a generic 500 Internal Server Error.
//
// The message is the status text; the real cause only goes to the logs.
func NewInternalServerError() *HTTPError {
	return &HTTPError{
		Code:     MakeUpperCaseWithUnderscores(http.StatusText(http.StatusInternalServerError)),
		Message:  http.StatusText(http.StatusInternalServerError),
		Status:   http.StatusInternalServerError,
		Override: false,
	}
}

// NewParameterDecodeError creates the 400 returned when path or query
// parameters do not match their schema. fieldErrors lists every offending
// field.
func NewParameterDecodeError(message string, fieldErrors []FieldError) *HTTPError {
	code := CodeParameterDecode
	return NewBadRequestError(message, true, &code, fieldErrors, nil)
}

// NewInvalidTimeRangeError creates the 400 returned for a bad start/end pair.
func NewInvalidTimeRangeError(message string, fieldErrors []FieldError) *HTTPError {
	code := CodeInvalidTimeRange
	return NewBadRequestError(message, true, &code, fieldErrors, nil)
}

// NewInvalidUIFiltersError creates the 400 returned for a malformed uiFilters value.
func NewInvalidUIFiltersError(message string) *HTTPError {
	code := CodeInvalidUIFilters
	return NewBadRequestError(message, true, &code, []FieldError{{Field: "uiFilters", Error: message}}, nil)
}

// NewServiceUnavailableError creates a 503 for backend conditions the caller
// cannot fix, such as an unreachable search cluster.
func NewServiceUnavailableError(code, message string) *HTTPError {
	return &HTTPError{
		Code:     code,
		Message:  message,
		Status:   http.StatusServiceUnavailable,
		Override: false,
		Action: &Action{
			Type:    ActionTypeRetry,
			Message: "The search backend is not available, try again later",
		},
	}
}

// NewGatewayTimeoutError creates a 504 for backend queries that ran out of time.
func NewGatewayTimeoutError(code, message string) *HTTPError {
	return &HTTPError{
		Code:     code,
		Message:  message,
		Status:   http.StatusGatewayTimeout,
		Override: false,
	}
}

// NewAggregationError creates the 500 returned when an aggregation fails.
func NewAggregationError(message string) *HTTPError {
	return &HTTPError{
		Code:     CodeAggregationFailed,
		Message:  message,
		Status:   http.StatusInternalServerError,
		Override: false,
	}
}

// ValidationError converts a generic validation error into a 400 Bad Request HTTPError.
func ValidationError(err error) *HTTPError {
	return NewBadRequestError("Validation failed: "+err.Error(), false, nil, nil, nil).WithCause(err)
}

// NewTooManyRequestsError creates a 429 for callers over their rate limit.
func NewTooManyRequestsError() *HTTPError {
	return &HTTPError{
		Code:     MakeUpperCaseWithUnderscores(http.StatusText(http.StatusTooManyRequests)),
		Message:  "Rate limit exceeded",
		Status:   http.StatusTooManyRequests,
		Override: false,
		Action: &Action{
			Type:    ActionTypeRetry,
			Message: "Slow down and try again later",
		},
	}
}
