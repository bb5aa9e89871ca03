package repository

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/deppfellow/apm-transactions/internal/errs"
	"github.com/deppfellow/apm-transactions/internal/search"
	"github.com/deppfellow/apm-transactions/internal/setup"
	"github.com/deppfellow/apm-transactions/internal/uifilters"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockClient struct {
	mock.Mock
}

func (m *mockClient) Select(ctx context.Context, dest any, query string, args ...any) error {
	called := m.Called(search.OperationFrom(ctx), query, args)
	if fill, ok := called.Get(1).(func(any)); ok && fill != nil {
		fill(dest)
	}
	return called.Error(0)
}

func newSetup(client search.Client, filters ...uifilters.Filter) *setup.Setup {
	if filters == nil {
		filters = []uifilters.Filter{}
	}
	return &setup.Setup{
		TimeRange: setup.TimeRange{Start: 1000, End: 2000},
		UIFilters: filters,
		Client:    client,
	}
}

func newRepo() *TransactionRepository {
	return NewTransactionRepository("apm_transactions", "apm_span_breakdown")
}

func TestWindowAddsRangeAndFilters(t *testing.T) {
	s := newSetup(nil,
		uifilters.Filter{Field: "service.environment", Values: []string{"production"}},
		uifilters.Filter{Field: "host.hostname", Values: []string{"a", "b"}},
	)

	w, err := window(s)
	require.NoError(t, err)

	assert.Equal(t, "WHERE timestamp >= fromUnixTimestamp64Milli(?) AND timestamp <= fromUnixTimestamp64Milli(?)"+
		" AND service_environment = ? AND host_hostname IN (?)", w.String())
	assert.Equal(t, []any{int64(1000), int64(2000), "production", []string{"a", "b"}}, w.args)
}

func TestWindowRejectsUnknownField(t *testing.T) {
	_, err := window(newSetup(nil, uifilters.Filter{Field: "1=1; DROP", Values: []string{"x"}}))
	assert.Error(t, err)
}

func TestTopGroupsScansRows(t *testing.T) {
	client := &mockClient{}
	client.On("Select", "group_list", mock.MatchedBy(func(q string) bool {
		return assert.Contains(t, q, "FROM apm_transactions") &&
			assert.Contains(t, q, "service_name = ? AND transaction_type = ?") &&
			assert.Contains(t, q, "LIMIT 100")
	}), []any{int64(1000), int64(2000), "opbeans-node", "request"}).
		Return(nil, func(dest any) {
			*dest.(*[]GroupRow) = []GroupRow{{Name: "GET /api", Count: 3}}
		}).Once()

	rows, err := newRepo().TopGroups(context.Background(), newSetup(client), GroupQuery{
		ServiceName:     "opbeans-node",
		TransactionType: "request",
		Limit:           100,
	})
	require.NoError(t, err)
	assert.Equal(t, []GroupRow{{Name: "GET /api", Count: 3}}, rows)
	client.AssertExpectations(t)
}

func TestChartQueryOmitsUnsetFields(t *testing.T) {
	client := &mockClient{}
	client.On("Select", "charts_latency", mock.MatchedBy(func(q string) bool {
		return assert.NotContains(t, q, "transaction_type") &&
			assert.Contains(t, q, "INTERVAL 60 SECOND")
	}), []any{int64(1000), int64(2000), "opbeans-node"}).Return(nil, nil).Once()

	_, err := newRepo().LatencyBuckets(context.Background(), newSetup(client), ChartQuery{ServiceName: "opbeans-node"}, 60)
	require.NoError(t, err)
	client.AssertExpectations(t)
}

func TestSampleDurationNotFound(t *testing.T) {
	client := &mockClient{}
	client.On("Select", "distribution_sample", mock.Anything,
		[]any{int64(1000), int64(2000), "svc", "request", "GET /", "tx", "trace"}).Return(nil, nil).Once()

	_, ok, err := newRepo().SampleDuration(context.Background(), newSetup(client),
		DistributionQuery{ServiceName: "svc", TransactionType: "request", TransactionName: "GET /"}, "tx", "trace")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAvgDurationByCountryRestrictsToPageLoads(t *testing.T) {
	client := &mockClient{}
	client.On("Select", "avg_duration_by_country", mock.MatchedBy(func(q string) bool {
		return assert.Contains(t, q, "client_geo_country_iso_code != ''")
	}), []any{int64(1000), int64(2000), "web", PageLoadType}).Return(nil, nil).Once()

	_, err := newRepo().AvgDurationByCountry(context.Background(), newSetup(client), CountryQuery{ServiceName: "web"})
	require.NoError(t, err)
	client.AssertExpectations(t)
}

func TestBackendErrorsAreTranslated(t *testing.T) {
	client := &mockClient{}
	client.On("Select", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("boom"), nil)

	_, err := newRepo().BreakdownTotals(context.Background(), newSetup(client),
		BreakdownQuery{ServiceName: "svc", TransactionType: "request"})

	var httpErr *errs.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusInternalServerError, httpErr.Status)
	assert.Equal(t, errs.CodeAggregationFailed, httpErr.Code)
}

func TestCancellationPassesThrough(t *testing.T) {
	client := &mockClient{}
	client.On("Select", mock.Anything, mock.Anything, mock.Anything).Return(context.Canceled, nil)

	_, err := newRepo().DurationBuckets(context.Background(), newSetup(client),
		DistributionQuery{ServiceName: "svc", TransactionType: "request", TransactionName: "GET /"}, 1000, 10)
	assert.ErrorIs(t, err, context.Canceled)
}
