package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/deppfellow/apm-transactions/internal/errs"
	"github.com/deppfellow/apm-transactions/internal/metrics"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

// MetricsMiddleware records Prometheus request metrics.
type MetricsMiddleware struct{}

func NewMetricsMiddleware() *MetricsMiddleware {
	return &MetricsMiddleware{}
}

// Record counts requests and their latency by route template. Unmatched
// routes are reported under a single label to bound cardinality.
func (m *MetricsMiddleware) Record() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			done := metrics.TrackActiveRequest(c.Request().Method)
			defer done()

			err := next(c)

			path := c.Path()
			if path == "" {
				path = "unmatched"
			}
			metrics.RecordHTTPRequest(c.Request().Method, path, strconv.Itoa(responseStatus(c, err)), time.Since(start))

			return err
		}
	}
}

// responseStatus is the status the error handler will write for err.
func responseStatus(c echo.Context, err error) int {
	if err == nil {
		return c.Response().Status
	}

	var httpErr *errs.HTTPError
	var echoErr *echo.HTTPError
	switch {
	case errors.As(err, &httpErr):
		return httpErr.Status
	case errors.As(err, &echoErr):
		return echoErr.Code
	default:
		return http.StatusInternalServerError
	}
}
