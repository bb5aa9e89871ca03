// Package setup builds the per-request context shared by every aggregation
// call of one request: the time window, the UI filters and a search client
// scoped to the caller.
package setup

import (
	"context"
	"errors"
	"time"

	"github.com/deppfellow/apm-transactions/internal/errs"
	"github.com/deppfellow/apm-transactions/internal/search"
	"github.com/deppfellow/apm-transactions/internal/uifilters"
	"github.com/rs/zerolog"
)

// Setup is the normalized context of one request. It is never shared
// between requests.
type Setup struct {
	TimeRange TimeRange
	UIFilters []uifilters.Filter
	Client    search.Client
}

// Request carries the raw inputs Build needs.
type Request struct {
	Start     string
	End       string
	UIFilters string
	Identity  search.Identity
}

// Builder creates a Setup per request.
type Builder struct {
	factory search.Factory
	filters uifilters.Decoder
	now     func() time.Time
}

// NewBuilder returns a Builder acquiring clients from factory.
func NewBuilder(factory search.Factory, filters uifilters.Decoder) *Builder {
	return &Builder{
		factory: factory,
		filters: filters,
		now:     time.Now,
	}
}

// WithClock returns a copy of b resolving relative bounds against now.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	c := *b
	c.now = now
	return &c
}

// Build validates the caller input before acquiring a client, so bad input
// never reaches the backend.
func (b *Builder) Build(ctx context.Context, req Request) (*Setup, error) {
	logger := zerolog.Ctx(ctx)

	tr, err := ParseTimeRange(req.Start, req.End, b.now())
	if err != nil {
		return nil, timeRangeError(err)
	}

	filters, err := b.filters.Decode(req.UIFilters)
	if err != nil {
		return nil, errs.NewInvalidUIFiltersError(err.Error()).WithCause(err)
	}

	client, err := b.factory.ClientFor(ctx, req.Identity)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		logger.Warn().
			Err(err).
			Str("principal", req.Identity.Principal()).
			Msg("failed to acquire search client")

		if errors.Is(err, search.ErrUnauthorized) {
			return nil, errs.NewServiceUnavailableError(errs.CodeSearchUnauthorized,
				"The search backend refused the request credentials").WithCause(err)
		}
		return nil, errs.NewServiceUnavailableError(errs.CodeSearchUnavailable,
			"The search backend is unavailable").WithCause(err)
	}

	logger.Debug().
		Int64("start", tr.Start).
		Int64("end", tr.End).
		Int("ui_filters", len(filters)).
		Msg("request setup built")

	return &Setup{
		TimeRange: tr,
		UIFilters: filters,
		Client:    client,
	}, nil
}

func timeRangeError(err error) error {
	var boundErr *BoundError
	if errors.As(err, &boundErr) && errors.Is(err, ErrOutOfRange) {
		return errs.NewInvalidTimeRangeError("Invalid time range", []errs.FieldError{
			{Field: boundErr.Field, Error: "must be between the years 0000 and 9999"},
		}).WithCause(err)
	}
	if errors.As(err, &boundErr) {
		return errs.NewInvalidTimeRangeError("Invalid time range", []errs.FieldError{
			{Field: boundErr.Field, Error: "must be a timestamp, epoch milliseconds or date math"},
		}).WithCause(err)
	}
	return errs.NewInvalidTimeRangeError("Invalid time range: start must not be after end", []errs.FieldError{
		{Field: "start", Error: "must not be after end"},
	}).WithCause(err)
}
