package middleware

import (
	"github.com/deppfellow/apm-transactions/internal/server"
)

// Middlewares groups all middleware components used by the HTTP server, so
// they are built once during router setup.
type Middlewares struct {
	Global          *GlobalMiddlewares
	Identity        *IdentityMiddleware
	ContextEnhancer *ContextEnhancer
	Tracing         *TracingMiddleware
	RateLimit       *RateLimitMiddleware
	Metrics         *MetricsMiddleware
}

// NewMiddlewares constructs all middleware components. Tracing degrades to
// a no-op when New Relic is not configured.
func NewMiddlewares(s *server.Server) *Middlewares {
	nrApp := s.LoggerService.GetApplication()

	return &Middlewares{
		Global:          NewGlobalMiddlewares(s),
		Identity:        NewIdentityMiddleware(),
		ContextEnhancer: NewContextEnhancer(s.Logger),
		Tracing:         NewTracingMiddleware(nrApp),
		RateLimit:       NewRateLimitMiddleware(s.Config.RateLimit, nrApp),
		Metrics:         NewMetricsMiddleware(),
	}
}
