package middleware

import (
	"context"
	"net/http"

	"github.com/deppfellow/apm-transactions/internal/errs"
	"github.com/deppfellow/apm-transactions/internal/server"
	"github.com/deppfellow/apm-transactions/internal/sqlerr"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// GlobalMiddlewares groups the global middleware and the error handler.
type GlobalMiddlewares struct {
	server *server.Server
}

func NewGlobalMiddlewares(s *server.Server) *GlobalMiddlewares {
	return &GlobalMiddlewares{
		server: s,
	}
}

// CORS allows the configured browser origins.
func (global *GlobalMiddlewares) CORS() echo.MiddlewareFunc {
	return middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: global.server.Config.Server.CORSAllowedOrigins,
	})
}

// RequestLogger writes one "API" log line per request, with a level chosen
// from the final status.
func (global *GlobalMiddlewares) RequestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:     true,
		LogStatus:  true,
		LogError:   true,
		LogLatency: true,
		LogHost:    true,
		LogMethod:  true,
		LogURIPath: true,

		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			// The error handler has not written the response yet when the
			// handler returned an error, so v.Status may still read 200.
			// See https://github.com/labstack/echo/issues/2310#issuecomment-1288196898
			statusCode := v.Status
			if v.Error != nil {
				statusCode = responseStatus(c, v.Error)
			}

			logger := GetLogger(c)

			var e *zerolog.Event
			switch {
			case statusCode >= 500:
				e = logger.Error().Err(v.Error)
			case statusCode >= 400:
				e = logger.Warn()
			default:
				e = logger.Info()
			}

			if requestID := GetRequestID(c); requestID != "" {
				e = e.Str("request_id", requestID)
			}
			if userID := GetUserID(c); userID != "" {
				e = e.Str("user_id", userID)
			}

			e.
				Dur("latency", v.Latency).
				Int("status", statusCode).
				Str("method", v.Method).
				Str("uri", v.URI).
				Str("host", v.Host).
				Str("ip", c.RealIP()).
				Str("user_agent", c.Request().UserAgent()).
				Msg("API")

			return nil
		},
	})
}

// Recover turns handler panics into 500 responses.
func (global *GlobalMiddlewares) Recover() echo.MiddlewareFunc {
	return middleware.Recover()
}

// Secure sets the standard security headers.
func (global *GlobalMiddlewares) Secure() echo.MiddlewareFunc {
	return middleware.Secure()
}

// RequestTimeout bounds every request's context by the configured timeout.
// Backend queries observe the deadline and fail with 504. A zero timeout
// disables it.
func (global *GlobalMiddlewares) RequestTimeout() echo.MiddlewareFunc {
	timeout := global.server.Config.Server.RequestTimeout
	if timeout <= 0 {
		return func(next echo.HandlerFunc) echo.HandlerFunc {
			return next
		}
	}

	return middleware.ContextTimeoutWithConfig(middleware.ContextTimeoutConfig{
		Timeout: timeout,
		ErrorHandler: func(err error, c echo.Context) error {
			if errors.Is(err, context.DeadlineExceeded) {
				return errs.NewGatewayTimeoutError(errs.CodeAggregationTimeout, "The request timed out").WithCause(err)
			}
			return err
		},
	})
}

// GlobalErrorHandler is the only writer of error responses. Nothing is
// written for requests the client gave up on.
func (global *GlobalMiddlewares) GlobalErrorHandler(err error, c echo.Context) {
	logger := GetLogger(c)

	if errors.Is(err, context.Canceled) {
		logger.Debug().Err(err).Msg("request cancelled by client")
		return
	}

	resp := classify(err)

	event := logger.Error().Stack()
	if resp.ClientFault() {
		event = logger.Warn()
	}
	event.
		Err(err).
		Int("status", resp.Status).
		Str("error_code", resp.Code).
		Msg(resp.Message)

	if !c.Response().Committed {
		_ = c.JSON(resp.Status, resp)
	}
}

// classify maps err to the response written for it. Echo's routing errors
// keep their status and backend errors go through sqlerr.
func classify(err error) *errs.HTTPError {
	var httpErr *errs.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr
	}

	var echoErr *echo.HTTPError
	if errors.As(err, &echoErr) {
		if echoErr.Code == http.StatusNotFound {
			return errs.NewNotFoundError("Route not found", false, nil)
		}

		message, ok := echoErr.Message.(string)
		if !ok {
			message = http.StatusText(echoErr.Code)
		}
		return &errs.HTTPError{
			Code:    errs.MakeUpperCaseWithUnderscores(http.StatusText(echoErr.Code)),
			Message: message,
			Status:  echoErr.Code,
		}
	}

	if errors.As(sqlerr.HandleError(err), &httpErr) {
		return httpErr
	}
	return errs.NewInternalServerError()
}
