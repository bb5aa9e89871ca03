package middleware

import (
	"net/http"

	"github.com/deppfellow/apm-transactions/internal/config"
	"github.com/deppfellow/apm-transactions/internal/errs"
	"github.com/deppfellow/apm-transactions/internal/metrics"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/newrelic/go-agent/v3/newrelic"
	"golang.org/x/time/rate"
)

// RateLimitMiddleware limits requests per client ip with an in-memory store.
type RateLimitMiddleware struct {
	cfg   config.RateLimitConfig
	nrApp *newrelic.Application
}

func NewRateLimitMiddleware(cfg config.RateLimitConfig, nrApp *newrelic.Application) *RateLimitMiddleware {
	return &RateLimitMiddleware{cfg: cfg, nrApp: nrApp}
}

// Limit returns the limiter, or a pass-through when rate limiting is off.
// System endpoints are never limited.
func (r *RateLimitMiddleware) Limit(skip middleware.Skipper) echo.MiddlewareFunc {
	if !r.cfg.Enabled {
		return func(next echo.HandlerFunc) echo.HandlerFunc {
			return next
		}
	}

	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Skipper: skip,
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(r.cfg.Rate),
			Burst:     r.cfg.Burst,
			ExpiresIn: r.cfg.ExpiresIn,
		}),
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return errs.NewBadRequestError("Cannot identify client", false, nil, nil, nil).WithCause(err)
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			r.RecordRateLimitHit(c.Path())
			GetLogger(c).Warn().
				Str("client", identifier).
				Int("status", http.StatusTooManyRequests).
				Msg("rate limit exceeded")
			return errs.NewTooManyRequestsError().WithCause(err)
		},
	})
}

// RecordRateLimitHit counts a rejected request and records a New Relic
// custom event when APM is on.
func (r *RateLimitMiddleware) RecordRateLimitHit(endpoint string) {
	metrics.RecordRateLimitHit(endpoint)

	if r.nrApp != nil {
		r.nrApp.RecordCustomEvent("RateLimitHit", map[string]any{
			"endpoint": endpoint,
		})
	}
}
