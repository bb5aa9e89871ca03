// Package router initializes the HTTP router (using Echo).
//
// It registers the middlewares, the system routes and the API routes
// declared by the handlers.
package router

import (
	"github.com/deppfellow/apm-transactions/internal/handler"
	"github.com/deppfellow/apm-transactions/internal/metrics"
	"github.com/deppfellow/apm-transactions/internal/middleware"
	"github.com/deppfellow/apm-transactions/internal/route"
	"github.com/deppfellow/apm-transactions/internal/server"
	"github.com/deppfellow/apm-transactions/internal/setup"
	"github.com/deppfellow/apm-transactions/internal/uifilters"
	"github.com/labstack/echo/v4"
)

// NewRouter builds the echo instance serving the API. It fails when the
// declared routes are inconsistent.
func NewRouter(s *server.Server, h *handler.Handlers) (*echo.Echo, error) {
	mw := middleware.NewMiddlewares(s)

	router := echo.New()
	router.HideBanner = true
	router.HidePort = true
	router.JSONSerializer = JSONSerializer{}
	router.HTTPErrorHandler = mw.Global.GlobalErrorHandler

	router.Use(
		middleware.RequestID(),
		mw.Tracing.NewRelicMiddleware(),
		mw.Identity.Identify(),
		mw.Tracing.EnhanceTracing(),
		mw.ContextEnhancer.EnhanceContext(),
		mw.Global.RequestLogger(),
		mw.Metrics.Record(),
		mw.Global.Recover(),
		mw.Global.CORS(),
		mw.Global.Secure(),
		mw.RateLimit.Limit(isSystemRoute),
		mw.Global.RequestTimeout(),
	)

	registerSystemRoutes(router, h)

	registry := route.NewRegistry()
	if err := registry.Register(h.Routes()...); err != nil {
		return nil, err
	}
	registry.Mount(router, setup.NewBuilder(s.Search, uifilters.NewDecoder()), metrics.RouteObserver{})

	return router, nil
}
