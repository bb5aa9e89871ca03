package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/deppfellow/apm-transactions/internal/config"
	"github.com/deppfellow/apm-transactions/internal/metrics"
	"github.com/deppfellow/apm-transactions/internal/search"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
)

const breakerName = "search"

// Selecter is the subset of driver.Conn used to run read queries.
type Selecter interface {
	Select(ctx context.Context, dest any, query string, args ...any) error
}

// Factory hands out search clients scoped to a caller. All clients share
// one connection pool and one circuit breaker.
type Factory struct {
	conn          Selecter
	breaker       *gobreaker.CircuitBreaker[any]
	anonymous     bool
	slowThreshold time.Duration
	log           *zerolog.Logger
}

// NewFactory returns a Factory issuing queries on conn.
func NewFactory(conn Selecter, cfg *config.Config, logger *zerolog.Logger) *Factory {
	bc := cfg.Search.Breaker

	metrics.SetBreakerState(breakerName, stateToFloat(gobreaker.StateClosed))

	breaker := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: bc.MaxRequests,
		Interval:    bc.Interval,
		Timeout:     bc.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < bc.MinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= bc.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("search circuit breaker state changed")
			metrics.SetBreakerState(name, stateToFloat(to))
		},
		// Callers going away is not a backend failure.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})

	return &Factory{
		conn:          conn,
		breaker:       breaker,
		anonymous:     cfg.Search.AllowAnonymous,
		slowThreshold: cfg.Observability.Logging.SlowQueryThreshold,
		log:           logger,
	}
}

// ClientFor implements search.Factory. It fails fast while the breaker is
// open, and refuses anonymous callers unless they are allowed.
func (f *Factory) ClientFor(ctx context.Context, identity search.Identity) (search.Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if identity.Anonymous() && !f.anonymous {
		return nil, fmt.Errorf("%w: request has no forwarded user", search.ErrUnauthorized)
	}
	if f.breaker.State() == gobreaker.StateOpen {
		return nil, fmt.Errorf("%w: circuit breaker open", search.ErrUnavailable)
	}

	return &scopedClient{factory: f, principal: identity.Principal()}, nil
}

// State reports the breaker state.
func (f *Factory) State() gobreaker.State {
	return f.breaker.State()
}

type scopedClient struct {
	factory   *Factory
	principal string
}

// Select runs query attributed to the client's principal.
func (c *scopedClient) Select(ctx context.Context, dest any, query string, args ...any) error {
	op := search.OperationFrom(ctx)

	ctx = clickhouse.Context(ctx,
		clickhouse.WithQueryID(uuid.NewString()),
		clickhouse.WithQuotaKey(c.principal),
		clickhouse.WithSettings(clickhouse.Settings{
			"log_comment": c.principal + ":" + op,
		}),
	)

	start := time.Now()
	_, err := c.factory.breaker.Execute(func() (any, error) {
		return nil, c.factory.conn.Select(ctx, dest, query, args...)
	})
	duration := time.Since(start)

	metrics.RecordQuery(op, duration, err)

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", search.ErrUnavailable, err)
	}

	if c.factory.slowThreshold > 0 && duration > c.factory.slowThreshold {
		zerolog.Ctx(ctx).Warn().
			Str("operation", op).
			Str("principal", c.principal).
			Dur("duration", duration).
			Msg("slow search query")
	}

	return err
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
