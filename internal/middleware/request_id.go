package middleware

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

const (
	// RequestIDHeader carries the correlation id between the proxy, this
	// API and the log lines of both.
	RequestIDHeader = "X-Request-ID"

	// RequestIDKey stores the id in the echo context.
	RequestIDKey = "request_id"

	// maxRequestIDLength bounds ids accepted from upstream. Longer ones are
	// replaced; they would otherwise end up verbatim in every log line and
	// trace attribute of the request.
	maxRequestIDLength = 128
)

// RequestID makes sure every request carries a correlation id.
//
// Behavior:
//   - an incoming X-Request-ID made of printable ASCII and at most
//     maxRequestIDLength bytes is kept, so ids issued by the proxy survive
//   - anything else (absent, oversized, control characters) is replaced
//     with a fresh UUID
//   - the id is stored in the echo context and sent back on the response
func RequestID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			requestID := c.Request().Header.Get(RequestIDHeader)
			if !validRequestID(requestID) {
				requestID = uuid.NewString()
			}

			c.Set(RequestIDKey, requestID)

			// Set before next runs so error responses written by the global
			// error handler carry it too.
			c.Response().Header().Set(RequestIDHeader, requestID)

			return next(c)
		}
	}
}

func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 0x21 || id[i] > 0x7e {
			return false
		}
	}
	return true
}

// GetRequestID returns the request id, or "" if RequestID did not run.
func GetRequestID(c echo.Context) string {
	if requestID, ok := c.Get(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}
