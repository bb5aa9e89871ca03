package middleware

import (
	"github.com/deppfellow/apm-transactions/internal/logger"
	"github.com/deppfellow/apm-transactions/internal/search"
	"github.com/labstack/echo/v4"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/rs/zerolog"
)

const (
	// UserIDKey stores the caller's user name in the echo context.
	UserIDKey = "user_id"

	// LoggerKey stores the request-scoped logger in the echo context.
	LoggerKey = "logger"
)

// ContextEnhancer builds a request-scoped logger carrying the request id,
// method, route, client ip, trace ids and user.
//
// The logger is stored in the echo context and, through zerolog's
// WithContext, in the request's context.Context where zerolog.Ctx finds it.
type ContextEnhancer struct {
	logger *zerolog.Logger
}

func NewContextEnhancer(logger *zerolog.Logger) *ContextEnhancer {
	return &ContextEnhancer{logger: logger}
}

// EnhanceContext must run after RequestID, tracing and Identify.
func (ce *ContextEnhancer) EnhanceContext() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()

			contextLogger := ce.logger.With().
				Str("request_id", GetRequestID(c)).
				Str("method", c.Request().Method).
				Str("path", c.Path()).
				Str("ip", c.RealIP()).
				Logger()

			if txn := newrelic.FromContext(ctx); txn != nil {
				contextLogger = logger.WithTraceContext(contextLogger, txn)
			}

			if user := search.IdentityFrom(ctx).User; user != "" {
				contextLogger = contextLogger.With().Str("user_id", user).Logger()
			}

			c.Set(LoggerKey, &contextLogger)
			c.SetRequest(c.Request().WithContext(contextLogger.WithContext(ctx)))

			return next(c)
		}
	}
}

// GetLogger returns the request-scoped logger, or a no-op logger if
// EnhanceContext did not run.
func GetLogger(c echo.Context) *zerolog.Logger {
	if l, ok := c.Get(LoggerKey).(*zerolog.Logger); ok {
		return l
	}

	l := zerolog.Nop()
	return &l
}

// GetUserID returns the caller's user name, or "".
func GetUserID(c echo.Context) string {
	if userID, ok := c.Get(UserIDKey).(string); ok {
		return userID
	}
	return ""
}
