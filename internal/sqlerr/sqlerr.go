// Package sqlerr translates search backend errors into API errors.
//
// It recognises ClickHouse server exceptions by code, context errors and
// the search package sentinels, and maps them onto *errs.HTTPError values
// without leaking backend details to clients.
package sqlerr

import (
	"errors"

	"github.com/ClickHouse/clickhouse-go/v2"
)

// Code is a coarse category of backend failure.
type Code string

const (
	Timeout      Code = "timeout"
	Unavailable  Code = "unavailable"
	Unauthorized Code = "unauthorized"
	Overloaded   Code = "overloaded"
	BadQuery     Code = "bad_query"
	Other        Code = "other"
)

// ClickHouse server error codes this package distinguishes.
const (
	codeUnknownIdentifier    int32 = 47
	codeUnknownTable         int32 = 60
	codeSyntaxError          int32 = 62
	codeTimeoutExceeded      int32 = 159
	codeTooSlow              int32 = 160
	codeUnknownUser          int32 = 192
	codeWrongPassword        int32 = 193
	codeQuotaExceeded        int32 = 201
	codeTooManyQueries       int32 = 202
	codeNoFreeConnection     int32 = 203
	codeSocketTimeout        int32 = 209
	codeNetworkError         int32 = 210
	codeMemoryLimitExceeded  int32 = 241
	codeAllConnectionsFailed int32 = 279
	codeQueryWasCancelled    int32 = 394
	codeAccessDenied         int32 = 497
	codeAuthenticationFailed int32 = 516
)

// Error is a classified backend failure.
type Error struct {
	Code Code

	// ServerCode and ServerName describe the ClickHouse exception, if any.
	ServerCode int32
	ServerName string
	Message    string

	driverErr error
}

func (e *Error) Error() string {
	if e.ServerName != "" {
		return e.ServerName + ": " + e.Message
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.driverErr
}

// ErrCode reports the category of err.
func ErrCode(err error) Code {
	var sqlErr *Error
	if errors.As(err, &sqlErr) {
		return sqlErr.Code
	}
	var exc *clickhouse.Exception
	if errors.As(err, &exc) {
		return MapCode(exc.Code)
	}
	return Other
}

// ConvertException classifies a ClickHouse server exception.
func ConvertException(src *clickhouse.Exception) *Error {
	return &Error{
		Code:       MapCode(src.Code),
		ServerCode: src.Code,
		ServerName: src.Name,
		Message:    src.Message,
		driverErr:  src,
	}
}

// MapCode maps a ClickHouse error code to a Code.
func MapCode(code int32) Code {
	switch code {
	case codeTimeoutExceeded, codeTooSlow, codeSocketTimeout:
		return Timeout
	case codeNetworkError, codeAllConnectionsFailed:
		return Unavailable
	case codeUnknownUser, codeWrongPassword, codeAccessDenied, codeAuthenticationFailed:
		return Unauthorized
	case codeQuotaExceeded, codeTooManyQueries, codeNoFreeConnection, codeMemoryLimitExceeded:
		return Overloaded
	case codeUnknownIdentifier, codeUnknownTable, codeSyntaxError:
		return BadQuery
	case codeQueryWasCancelled:
		return Timeout
	default:
		return Other
	}
}
