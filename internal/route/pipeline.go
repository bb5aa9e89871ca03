package route

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/deppfellow/apm-transactions/internal/errs"
	"github.com/deppfellow/apm-transactions/internal/schema"
	"github.com/deppfellow/apm-transactions/internal/validation"
	"github.com/labstack/echo/v4"
	"github.com/newrelic/go-agent/v3/integrations/nrpkgerrors"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/rs/zerolog"
)

// Outcomes reported to the Observer.
const (
	OutcomeSuccess  = "success"
	OutcomeCanceled = "canceled"
)

// Observer records the outcome of every routed request.
type Observer interface {
	ObserveRoute(route, outcome string, duration time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveRoute(string, string, time.Duration) {}

// serve is the request pipeline shared by all routes.
//
// Error responses are written by the echo error handler; serve only returns
// them. When the client went away nothing is written at all.
func serve(rt Route, setups SetupBuilder, obs Observer) echo.HandlerFunc {
	name := rt.RouteMethod() + " " + rt.RoutePath()

	return func(c echo.Context) error {
		start := time.Now()
		ctx := c.Request().Context()

		txn := newrelic.FromContext(ctx)
		if txn != nil {
			txn.AddAttribute("handler.name", rt.RoutePath())
		}

		logger := zerolog.Ctx(ctx).With().
			Str("operation", "route").
			Str("route", rt.RoutePath()).
			Logger()

		in, err := extract(c)
		if err != nil {
			logger.Warn().Err(err).Str("stage", string(StageDecodePath)).Msg("request failed")
			obs.ObserveRoute(name, string(StageDecodePath)+"_error", time.Since(start))
			return err
		}

		var tm timings
		result, stage, err := rt.run(ctx, in, setups, &tm)
		total := time.Since(start)

		if isCanceled(ctx, err) {
			logger.Info().
				Str("stage", string(stage)).
				Dur("total_duration", total).
				Msg("request cancelled by client")
			obs.ObserveRoute(name, OutcomeCanceled, total)
			return nil
		}

		if err != nil {
			err = shape(stage, err)

			var httpErr *errs.HTTPError
			event := logger.Error()
			if errors.As(err, &httpErr) && httpErr.ClientFault() {
				event = logger.Warn()
			}
			event.
				Err(err).
				Str("stage", string(stage)).
				Dur("decode_duration", tm.decode).
				Dur("setup_duration", tm.setup).
				Dur("handler_duration", tm.handler).
				Dur("total_duration", total).
				Msg("request failed")

			if txn != nil {
				txn.AddAttribute("route.stage", string(stage))
				txn.AddAttribute("total.duration_ms", total.Milliseconds())
				if httpErr == nil || !httpErr.ClientFault() {
					txn.NoticeError(nrpkgerrors.Wrap(err))
				}
			}

			obs.ObserveRoute(name, string(stage)+"_error", total)
			return err
		}

		if txn != nil {
			txn.AddAttribute("handler.status", "success")
			txn.AddAttribute("handler.duration_ms", tm.handler.Milliseconds())
			txn.AddAttribute("total.duration_ms", total.Milliseconds())
		}

		logger.Info().
			Dur("decode_duration", tm.decode).
			Dur("setup_duration", tm.setup).
			Dur("handler_duration", tm.handler).
			Dur("total_duration", total).
			Msg("request completed successfully")

		obs.ObserveRoute(name, OutcomeSuccess, total)
		return c.JSON(http.StatusOK, result)
	}
}

// extract reads the raw path and query parameters.
//
// echo matches on URL.RawPath when the request has one, and then hands out
// escaped values; otherwise they are already decoded and are used as is.
func extract(c echo.Context) (input, error) {
	names, values := c.ParamNames(), c.ParamValues()
	escaped := c.Request().URL.RawPath != ""

	path := make(schema.Input, len(names))
	for i, n := range names {
		if i >= len(values) {
			break
		}
		v := values[i]
		if escaped {
			unescaped, err := url.PathUnescape(v)
			if err != nil {
				return input{}, validation.PathSegmentError(n, err)
			}
			v = unescaped
		}
		path[n] = []string{v}
	}

	return input{path: path, query: schema.Input(c.QueryParams())}, nil
}

func isCanceled(ctx context.Context, err error) bool {
	if errors.Is(ctx.Err(), context.Canceled) {
		return true
	}
	return err != nil && errors.Is(err, context.Canceled)
}

// shape turns errors that are not already HTTP errors into one.
func shape(stage Stage, err error) error {
	if errors.Is(err, &errs.HTTPError{}) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errs.NewGatewayTimeoutError(errs.CodeAggregationTimeout, "The request timed out").WithCause(err)
	}
	if stage == StageHandler {
		return errs.NewAggregationError("Failed to compute aggregation").WithCause(err)
	}
	return errs.NewInternalServerError().WithCause(err)
}
