package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
)

const healthCheckTimeout = 5 * time.Second

// Pinger checks connectivity to the search backend.
type Pinger interface {
	Ping(ctx context.Context) error
}

// BreakerStater reports the search circuit breaker state.
type BreakerStater interface {
	State() gobreaker.State
}

// HealthHandler reports whether the service can reach ClickHouse.
type HealthHandler struct {
	env     string
	db      Pinger
	breaker BreakerStater
	nrApp   *newrelic.Application
}

// NewHealthHandler returns a HealthHandler. nrApp may be nil.
func NewHealthHandler(env string, db Pinger, breaker BreakerStater, nrApp *newrelic.Application) *HealthHandler {
	return &HealthHandler{env: env, db: db, breaker: breaker, nrApp: nrApp}
}

// CheckHealth returns 200 when ClickHouse answers a ping and 503 otherwise.
// The breaker state is reported but does not affect the status.
func (h *HealthHandler) CheckHealth(c echo.Context) error {
	start := time.Now()

	logger := zerolog.Ctx(c.Request().Context()).With().
		Str("operation", "health_check").
		Logger()

	checks := map[string]any{}
	response := map[string]any{
		"status":      "healthy",
		"timestamp":   time.Now().UTC(),
		"environment": h.env,
		"checks":      checks,
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), healthCheckTimeout)
	defer cancel()

	dbStart := time.Now()
	if err := h.db.Ping(ctx); err != nil {
		checks["clickhouse"] = map[string]any{
			"status":        "unhealthy",
			"response_time": time.Since(dbStart).String(),
			"error":         err.Error(),
		}
		response["status"] = "unhealthy"

		logger.Error().
			Err(err).
			Dur("response_time", time.Since(dbStart)).
			Msg("clickhouse health check failed")

		if h.nrApp != nil {
			h.nrApp.RecordCustomEvent("HealthCheckError", map[string]any{
				"check_type":       "clickhouse",
				"operation":        "health_check",
				"response_time_ms": time.Since(dbStart).Milliseconds(),
				"error_message":    err.Error(),
			})
		}
	} else {
		checks["clickhouse"] = map[string]any{
			"status":        "healthy",
			"response_time": time.Since(dbStart).String(),
		}
	}

	if h.breaker != nil {
		checks["search_breaker"] = map[string]any{"state": h.breaker.State().String()}
	}

	if response["status"] != "healthy" {
		logger.Warn().Dur("total_duration", time.Since(start)).Msg("health check failed")
		return c.JSON(http.StatusServiceUnavailable, response)
	}

	logger.Debug().Dur("total_duration", time.Since(start)).Msg("health check passed")
	return c.JSON(http.StatusOK, response)
}
