package middleware

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/deppfellow/apm-transactions/internal/config"
	"github.com/deppfellow/apm-transactions/internal/errs"
	"github.com/deppfellow/apm-transactions/internal/search"
	"github.com/deppfellow/apm-transactions/internal/server"
	"github.com/goccy/go-json"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(buf *bytes.Buffer) *server.Server {
	cfg := config.DefaultConfig()
	logger := zerolog.New(buf)
	return &server.Server{Config: &cfg, Logger: &logger}
}

func TestIdentifyAndEnhanceContext(t *testing.T) {
	var buf bytes.Buffer
	s := newTestServer(&buf)

	e := echo.New()
	e.Use(RequestID(), NewIdentityMiddleware().Identify(), NewContextEnhancer(s.Logger).EnhanceContext())

	var got search.Identity
	e.GET("/x", func(c echo.Context) error {
		ctx := c.Request().Context()
		got = search.IdentityFrom(ctx)
		zerolog.Ctx(ctx).Info().Msg("inside")
		return c.NoContent(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(ForwardedUserHeader, "elastic")
	req.Header.Set(RequestIDHeader, "req-1")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "req-1", rec.Header().Get(RequestIDHeader))
	assert.Equal(t, "elastic", got.User)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "req-1", line["request_id"])
	assert.Equal(t, "elastic", line["user_id"])
	assert.Equal(t, "/x", line["path"])
}

func TestRequestIDReplacesUnusableIDs(t *testing.T) {
	cases := []struct {
		name  string
		in    string
		keeps bool
	}{
		{name: "upstream id", in: "kibana-7f3a", keeps: true},
		{name: "absent", in: ""},
		{name: "oversized", in: strings.Repeat("a", maxRequestIDLength+1)},
		{name: "control characters", in: "abc\tdef"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := echo.New()
			e.Use(RequestID())

			var seen string
			e.GET("/x", func(c echo.Context) error {
				seen = GetRequestID(c)
				return c.NoContent(http.StatusNoContent)
			})

			req := httptest.NewRequest(http.MethodGet, "/x", nil)
			if tc.in != "" {
				req.Header.Set(RequestIDHeader, tc.in)
			}
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))
			if tc.keeps {
				assert.Equal(t, tc.in, seen)
			} else {
				assert.NotEqual(t, tc.in, seen)
				assert.Len(t, seen, 36)
			}
		})
	}
}

func TestIdentifyFallsBackToBasicAuth(t *testing.T) {
	e := echo.New()
	e.Use(NewIdentityMiddleware().Identify())

	var got search.Identity
	e.GET("/x", func(c echo.Context) error {
		got = search.IdentityFrom(c.Request().Context())
		return nil
	})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.SetBasicAuth("kibana", "secret")
	e.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "kibana", got.User)
}

func errorResponse(t *testing.T, err error) (*httptest.ResponseRecorder, errs.HTTPError) {
	t.Helper()

	var buf bytes.Buffer
	global := NewGlobalMiddlewares(newTestServer(&buf))

	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/x", nil), rec)
	global.GlobalErrorHandler(err, c)

	var body errs.HTTPError
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestGlobalErrorHandlerWritesHTTPError(t *testing.T) {
	rec, body := errorResponse(t, errs.NewInvalidUIFiltersError("bad filters"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, errs.CodeInvalidUIFilters, body.Code)
	assert.True(t, body.Override)
	assert.Len(t, body.Errors, 1)
}

func TestGlobalErrorHandlerMapsRouteNotFound(t *testing.T) {
	rec, body := errorResponse(t, echo.ErrNotFound)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Route not found", body.Message)
}

func TestGlobalErrorHandlerClassifiesBackendErrors(t *testing.T) {
	rec, body := errorResponse(t, context.DeadlineExceeded)
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	assert.Equal(t, errs.CodeAggregationTimeout, body.Code)

	rec, body = errorResponse(t, errors.New("unexpected"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, errs.CodeAggregationFailed, body.Code)
}

func TestGlobalErrorHandlerWritesNothingWhenCancelled(t *testing.T) {
	rec, _ := errorResponse(t, context.Canceled)
	assert.Zero(t, rec.Body.Len())
}

func TestRateLimitDeniesOverBurst(t *testing.T) {
	rl := NewRateLimitMiddleware(config.RateLimitConfig{Enabled: true, Rate: 0.001, Burst: 1}, nil)

	var buf bytes.Buffer
	global := NewGlobalMiddlewares(newTestServer(&buf))

	e := echo.New()
	e.HTTPErrorHandler = global.GlobalErrorHandler
	e.Use(rl.Limit(nil))
	e.GET("/x", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) })

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusNoContent, http.StatusTooManyRequests}, codes)
}

func TestRateLimitDisabledPassesThrough(t *testing.T) {
	rl := NewRateLimitMiddleware(config.RateLimitConfig{}, nil)

	e := echo.New()
	e.Use(rl.Limit(nil))
	e.GET("/x", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) })

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
		assert.Equal(t, http.StatusNoContent, rec.Code)
	}
}

func TestResponseStatus(t *testing.T) {
	c := echo.New().NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())

	assert.Equal(t, http.StatusTooManyRequests, responseStatus(c, errs.NewTooManyRequestsError()))
	assert.Equal(t, http.StatusMethodNotAllowed, responseStatus(c, echo.ErrMethodNotAllowed))
	assert.Equal(t, http.StatusInternalServerError, responseStatus(c, errors.New("x")))
}
