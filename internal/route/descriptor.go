// Package route declares API endpoints and runs their request pipeline.
//
// A Descriptor binds a path template to a path schema, a query schema and a
// handler. Descriptors are collected in a Registry at startup and mounted on
// an echo instance. For every request the pipeline decodes the path, then the
// query, then builds the request setup, and only then calls the handler.
package route

import (
	"context"
	"net/http"
	"time"

	"github.com/deppfellow/apm-transactions/internal/schema"
	"github.com/deppfellow/apm-transactions/internal/search"
	"github.com/deppfellow/apm-transactions/internal/setup"
	"github.com/deppfellow/apm-transactions/internal/validation"
)

// HandlerFunc serves a request whose parameters have been decoded.
// Its result is written as JSON with no envelope.
type HandlerFunc[P, Q any] func(ctx context.Context, path P, query Q, s *setup.Setup) (any, error)

// Descriptor declares one endpoint.
type Descriptor[P, Q any] struct {
	// Path is the template, with {name} placeholders for path parameters.
	Path string

	// Method defaults to GET.
	Method string

	PathParams  schema.Codec[P]
	QueryParams schema.Codec[Q]

	Handler HandlerFunc[P, Q]
}

// Route is a type-erased Descriptor.
type Route interface {
	RouteMethod() string
	RoutePath() string
	PathSchema() schema.Schema
	QuerySchema() schema.Schema

	run(ctx context.Context, in input, setups SetupBuilder, tm *timings) (any, Stage, error)
}

// SetupBuilder builds the per-request setup.
type SetupBuilder interface {
	Build(ctx context.Context, req setup.Request) (*setup.Setup, error)
}

// Stage names a step of the request pipeline.
type Stage string

const (
	StageDecodePath  Stage = "decode_path"
	StageDecodeQuery Stage = "decode_query"
	StageSetup       Stage = "setup"
	StageHandler     Stage = "handler"
)

type input struct {
	path  schema.Input
	query schema.Input
}

type timings struct {
	decode  time.Duration
	setup   time.Duration
	handler time.Duration
}

func (d Descriptor[P, Q]) RouteMethod() string {
	if d.Method == "" {
		return http.MethodGet
	}
	return d.Method
}

func (d Descriptor[P, Q]) RoutePath() string        { return d.Path }
func (d Descriptor[P, Q]) PathSchema() schema.Schema  { return d.PathParams.Schema() }
func (d Descriptor[P, Q]) QuerySchema() schema.Schema { return d.QueryParams.Schema() }

func (d Descriptor[P, Q]) run(ctx context.Context, in input, setups SetupBuilder, tm *timings) (any, Stage, error) {
	decodeStart := time.Now()

	// Path first: a request for an unknown service shape is rejected before
	// its query is even looked at.
	path, err := d.PathParams.Decode(in.path)
	if err != nil {
		tm.decode = time.Since(decodeStart)
		return nil, StageDecodePath, validation.ParameterError(validation.LocationPath, err)
	}

	query, err := d.QueryParams.Decode(in.query)
	tm.decode = time.Since(decodeStart)
	if err != nil {
		return nil, StageDecodeQuery, validation.ParameterError(validation.LocationQuery, err)
	}

	// Setup reads the shared fragments straight from the raw query. They
	// were validated as single strings above, so first() sees one value.
	setupStart := time.Now()
	s, err := setups.Build(ctx, setup.Request{
		Start:     first(in.query, "start"),
		End:       first(in.query, "end"),
		UIFilters: first(in.query, "uiFilters"),
		Identity:  search.IdentityFrom(ctx),
	})
	tm.setup = time.Since(setupStart)
	if err != nil {
		return nil, StageSetup, err
	}

	// The result is returned untouched; serve writes it as the body.
	handlerStart := time.Now()
	result, err := d.Handler(ctx, path, query, s)
	tm.handler = time.Since(handlerStart)
	if err != nil {
		return nil, StageHandler, err
	}
	return result, StageHandler, nil
}

func first(in schema.Input, key string) string {
	if v := in[key]; len(v) > 0 {
		return v[0]
	}
	return ""
}
