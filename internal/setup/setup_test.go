package setup

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/deppfellow/apm-transactions/internal/errs"
	"github.com/deppfellow/apm-transactions/internal/search"
	"github.com/deppfellow/apm-transactions/internal/uifilters"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockFactory struct {
	mock.Mock
}

func (m *mockFactory) ClientFor(ctx context.Context, identity search.Identity) (search.Client, error) {
	args := m.Called(ctx, identity)
	client, _ := args.Get(0).(search.Client)
	return client, args.Error(1)
}

type stubClient struct{}

func (stubClient) Select(ctx context.Context, dest any, query string, args ...any) error {
	return nil
}

func newBuilder(f search.Factory) *Builder {
	return NewBuilder(f, uifilters.NewDecoder()).WithClock(func() time.Time { return fixedNow })
}

func httpError(t *testing.T, err error) *errs.HTTPError {
	t.Helper()
	var httpErr *errs.HTTPError
	require.ErrorAs(t, err, &httpErr)
	return httpErr
}

func TestBuild(t *testing.T) {
	identity := search.Identity{User: "elastic"}
	f := &mockFactory{}
	f.On("ClientFor", mock.Anything, identity).Return(stubClient{}, nil).Once()

	s, err := newBuilder(f).Build(context.Background(), Request{
		Start:     "now-15m",
		End:       "now",
		UIFilters: `{"environment":"production"}`,
		Identity:  identity,
	})
	require.NoError(t, err)

	assert.Equal(t, fixedNow.Add(-15*time.Minute).UnixMilli(), s.TimeRange.Start)
	assert.Equal(t, fixedNow.UnixMilli(), s.TimeRange.End)
	assert.Equal(t, []uifilters.Filter{{Field: "service.environment", Values: []string{"production"}}}, s.UIFilters)
	assert.Equal(t, stubClient{}, s.Client)
	f.AssertExpectations(t)
}

func TestBuildAbsentFiltersYieldEmptySequence(t *testing.T) {
	f := &mockFactory{}
	f.On("ClientFor", mock.Anything, mock.Anything).Return(stubClient{}, nil)

	s, err := newBuilder(f).Build(context.Background(), Request{Start: "now-1h", End: "now"})
	require.NoError(t, err)
	assert.NotNil(t, s.UIFilters)
	assert.Empty(t, s.UIFilters)
}

func TestBuildRejectsEndBeforeStartWithoutBackendCall(t *testing.T) {
	f := &mockFactory{}

	_, err := newBuilder(f).Build(context.Background(), Request{Start: "now", End: "now-1h"})
	httpErr := httpError(t, err)

	assert.Equal(t, errs.CodeInvalidTimeRange, httpErr.Code)
	assert.Equal(t, http.StatusBadRequest, httpErr.Status)
	f.AssertNotCalled(t, "ClientFor", mock.Anything, mock.Anything)
}

func TestBuildRejectsUnparseableBound(t *testing.T) {
	f := &mockFactory{}

	_, err := newBuilder(f).Build(context.Background(), Request{Start: "last tuesday", End: "now"})
	httpErr := httpError(t, err)

	assert.Equal(t, errs.CodeInvalidTimeRange, httpErr.Code)
	require.Len(t, httpErr.Errors, 1)
	assert.Equal(t, "start", httpErr.Errors[0].Field)
	f.AssertNotCalled(t, "ClientFor", mock.Anything, mock.Anything)
}

func TestBuildRejectsBoundPastYear9999(t *testing.T) {
	f := &mockFactory{}

	_, err := newBuilder(f).Build(context.Background(), Request{Start: "1970-01-01", End: "now+9000y"})
	httpErr := httpError(t, err)

	assert.Equal(t, errs.CodeInvalidTimeRange, httpErr.Code)
	require.Len(t, httpErr.Errors, 1)
	assert.Equal(t, "end", httpErr.Errors[0].Field)
	assert.Contains(t, httpErr.Errors[0].Error, "9999")
	f.AssertNotCalled(t, "ClientFor", mock.Anything, mock.Anything)
}

func TestBuildRejectsMalformedFilters(t *testing.T) {
	f := &mockFactory{}

	_, err := newBuilder(f).Build(context.Background(), Request{Start: "now-1h", End: "now", UIFilters: "{nope"})
	httpErr := httpError(t, err)

	assert.Equal(t, errs.CodeInvalidUIFilters, httpErr.Code)
	assert.ErrorIs(t, err, uifilters.ErrMalformed)
	f.AssertNotCalled(t, "ClientFor", mock.Anything, mock.Anything)
}

func TestBuildMapsFactoryFailures(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code string
	}{
		{name: "unavailable", err: search.ErrUnavailable, code: errs.CodeSearchUnavailable},
		{name: "unauthorized", err: search.ErrUnauthorized, code: errs.CodeSearchUnauthorized},
		{name: "unknown", err: errors.New("dial tcp: refused"), code: errs.CodeSearchUnavailable},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := &mockFactory{}
			f.On("ClientFor", mock.Anything, mock.Anything).Return(nil, tc.err)

			_, err := newBuilder(f).Build(context.Background(), Request{Start: "now-1h", End: "now"})
			httpErr := httpError(t, err)

			assert.Equal(t, tc.code, httpErr.Code)
			assert.Equal(t, http.StatusServiceUnavailable, httpErr.Status)
			assert.ErrorIs(t, err, tc.err)
		})
	}
}

func TestBuildReturnsContextErrorWhenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := &mockFactory{}
	f.On("ClientFor", mock.Anything, mock.Anything).Return(nil, context.Canceled)

	_, err := newBuilder(f).Build(ctx, Request{Start: "now-1h", End: "now"})
	assert.ErrorIs(t, err, context.Canceled)
}
