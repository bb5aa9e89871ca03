package middleware

import (
	"github.com/deppfellow/apm-transactions/internal/errs"
	"github.com/labstack/echo/v4"
	"github.com/newrelic/go-agent/v3/integrations/nrecho-v4"
	"github.com/newrelic/go-agent/v3/integrations/nrpkgerrors"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/pkg/errors"
)

// ServiceNameParam is the path parameter naming the APM service a request
// is about. It is copied onto the New Relic transaction so traces of this
// API can be filtered by the service being looked at.
const ServiceNameParam = "serviceName"

// TracingMiddleware owns the New Relic middleware.
//
// It has two layers:
//  1. NewRelicMiddleware starts the transaction and puts it in the request
//     context, which is what newrelic.FromContext relies on further down
//  2. EnhanceTracing decorates that transaction with request attributes
//
// nrApp is nil when New Relic is disabled, and both layers are then no-ops.
type TracingMiddleware struct {
	nrApp *newrelic.Application
}

func NewTracingMiddleware(nrApp *newrelic.Application) *TracingMiddleware {
	return &TracingMiddleware{nrApp: nrApp}
}

// NewRelicMiddleware starts a New Relic transaction per request.
func (tm *TracingMiddleware) NewRelicMiddleware() echo.MiddlewareFunc {
	if tm.nrApp == nil {
		return func(next echo.HandlerFunc) echo.HandlerFunc {
			return next
		}
	}
	return nrecho.Middleware(tm.nrApp)
}

// EnhanceTracing adds request attributes to the transaction.
//
// Before the handler:
//   - client IP and user agent
//   - request id and forwarded user, when the earlier middlewares set them
//
// After the handler:
//   - the APM service named in the path (only known once routing ran)
//   - the response status
//
// Errors classified as *errs.HTTPError are noticed by the route pipeline,
// which knows whether they are client faults. Only unclassified errors,
// such as a panic turned into an error by Recover, are noticed here.
func (tm *TracingMiddleware) EnhanceTracing() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			txn := newrelic.FromContext(c.Request().Context())
			if txn == nil {
				return next(c)
			}

			txn.AddAttribute("http.real_ip", c.RealIP())
			txn.AddAttribute("http.user_agent", c.Request().UserAgent())
			if requestID := GetRequestID(c); requestID != "" {
				txn.AddAttribute("request.id", requestID)
			}
			if userID := GetUserID(c); userID != "" {
				txn.AddAttribute("user.id", userID)
			}

			err := next(c)

			if service := c.Param(ServiceNameParam); service != "" {
				txn.AddAttribute("apm.service_name", service)
			}

			var httpErr *errs.HTTPError
			if err != nil && !errors.As(err, &httpErr) {
				txn.NoticeError(nrpkgerrors.Wrap(err))
			}

			txn.AddAttribute("http.status_code", c.Response().Status)
			return err
		}
	}
}
