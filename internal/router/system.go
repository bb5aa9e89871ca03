package router

import (
	"github.com/deppfellow/apm-transactions/internal/handler"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	statusPath  = "/status"
	metricsPath = "/metrics"
)

func registerSystemRoutes(r *echo.Echo, h *handler.Handlers) {
	r.GET(statusPath, h.Health.CheckHealth)
	r.GET(metricsPath, echo.WrapHandler(promhttp.Handler()))
}

func isSystemRoute(c echo.Context) bool {
	p := c.Path()
	return p == statusPath || p == metricsPath
}
