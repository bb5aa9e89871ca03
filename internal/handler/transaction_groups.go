package handler

import (
	"context"

	"github.com/deppfellow/apm-transactions/internal/route"
	"github.com/deppfellow/apm-transactions/internal/schema"
	"github.com/deppfellow/apm-transactions/internal/service"
	"github.com/deppfellow/apm-transactions/internal/setup"
)

// TransactionAggregator computes the transaction-group aggregations.
// *service.TransactionService implements it.
type TransactionAggregator interface {
	GroupList(ctx context.Context, args service.GroupListArgs, s *setup.Setup) ([]service.TransactionGroup, error)
	Charts(ctx context.Context, args service.ChartsArgs, s *setup.Setup) (*service.ChartsResult, error)
	Distribution(ctx context.Context, args service.DistributionArgs, s *setup.Setup) (*service.DistributionResult, error)
	Breakdown(ctx context.Context, args service.BreakdownArgs, s *setup.Setup) (*service.BreakdownResult, error)
	AvgDurationByCountry(ctx context.Context, args service.AvgDurationByCountryArgs, s *setup.Setup) ([]service.CountryDuration, error)
}

const transactionGroupsPath = "/api/apm/services/{serviceName}/transaction_groups"

// Query fragments shared by every transaction-group route.
var (
	uiFiltersParams = schema.Partial(schema.Props{"uiFilters": schema.String})
	rangeParams     = schema.Exact(schema.Props{"start": schema.String, "end": schema.String})
)

// ServicePath holds the path parameters of a transaction-group route.
type ServicePath struct {
	ServiceName string
}

var servicePath = schema.Typed(
	schema.Exact(schema.Props{"serviceName": schema.String}),
	func(r schema.Record) ServicePath {
		return ServicePath{ServiceName: r.Get("serviceName")}
	},
)

// GroupListQuery is the query of GET .../transaction_groups.
//
// transactionType is required; the list is always of top transactions of
// that type.
type GroupListQuery struct {
	TransactionType string
}

var groupListQuery = schema.Typed(
	schema.Intersect(
		schema.Exact(schema.Props{"transactionType": schema.String}),
		uiFiltersParams,
		rangeParams,
	),
	func(r schema.Record) GroupListQuery {
		return GroupListQuery{TransactionType: r.Get("transactionType")}
	},
)

// ChartsQuery is the query of GET .../transaction_groups/charts.
//
// Both fields are optional. nil means the parameter was absent, which
// widens the chart to every type or every name of the service.
type ChartsQuery struct {
	TransactionType *string
	TransactionName *string
}

var chartsQuery = schema.Typed(
	schema.Intersect(
		schema.Partial(schema.Props{"transactionType": schema.String, "transactionName": schema.String}),
		uiFiltersParams,
		rangeParams,
	),
	func(r schema.Record) ChartsQuery {
		return ChartsQuery{
			TransactionType: r.Optional("transactionType"),
			TransactionName: r.Optional("transactionName"),
		}
	},
)

// DistributionQuery is the query of GET .../transaction_groups/distribution.
//
// TransactionID and TraceID select the sample whose bucket is marked. Absent
// parameters decode to "" and the aggregator then marks nothing.
type DistributionQuery struct {
	TransactionType string
	TransactionName string
	TransactionID   string
	TraceID         string
}

var distributionQuery = schema.Typed(
	schema.Intersect(
		schema.Exact(schema.Props{"transactionType": schema.String, "transactionName": schema.String}),
		schema.Partial(schema.Props{"transactionId": schema.String, "traceId": schema.String}),
		uiFiltersParams,
		rangeParams,
	),
	func(r schema.Record) DistributionQuery {
		return DistributionQuery{
			TransactionType: r.Get("transactionType"),
			TransactionName: r.Get("transactionName"),
			TransactionID:   r.GetOr("transactionId", ""),
			TraceID:         r.GetOr("traceId", ""),
		}
	},
)

// BreakdownQuery is the query of GET .../transaction_groups/breakdown.
type BreakdownQuery struct {
	TransactionType string
	TransactionName *string
}

var breakdownQuery = schema.Typed(
	schema.Intersect(
		schema.Exact(schema.Props{"transactionType": schema.String}),
		schema.Partial(schema.Props{"transactionName": schema.String}),
		uiFiltersParams,
		rangeParams,
	),
	func(r schema.Record) BreakdownQuery {
		return BreakdownQuery{
			TransactionType: r.Get("transactionType"),
			TransactionName: r.Optional("transactionName"),
		}
	},
)

// AvgDurationByCountryQuery is the query of
// GET .../transaction_groups/avg_duration_by_country. The aggregation is
// always over page-load transactions, so there is no type parameter.
type AvgDurationByCountryQuery struct {
	TransactionName *string
}

var avgDurationByCountryQuery = schema.Typed(
	schema.Intersect(
		uiFiltersParams,
		rangeParams,
		schema.Partial(schema.Props{"transactionName": schema.String}),
	),
	func(r schema.Record) AvgDurationByCountryQuery {
		return AvgDurationByCountryQuery{TransactionName: r.Optional("transactionName")}
	},
)

// TransactionGroupsHandler serves the transaction-group endpoints of a
// service. Each one forwards its decoded parameters and the request setup
// to the aggregator and returns the result as is.
type TransactionGroupsHandler struct {
	aggregator TransactionAggregator
}

func NewTransactionGroupsHandler(aggregator TransactionAggregator) *TransactionGroupsHandler {
	return &TransactionGroupsHandler{aggregator: aggregator}
}

// Routes returns the route descriptors to register.
func (h *TransactionGroupsHandler) Routes() []route.Route {
	return []route.Route{
		route.Descriptor[ServicePath, GroupListQuery]{
			Path:        transactionGroupsPath,
			PathParams:  servicePath,
			QueryParams: groupListQuery,
			Handler:     h.groupList,
		},
		route.Descriptor[ServicePath, ChartsQuery]{
			Path:        transactionGroupsPath + "/charts",
			PathParams:  servicePath,
			QueryParams: chartsQuery,
			Handler:     h.charts,
		},
		route.Descriptor[ServicePath, DistributionQuery]{
			Path:        transactionGroupsPath + "/distribution",
			PathParams:  servicePath,
			QueryParams: distributionQuery,
			Handler:     h.distribution,
		},
		route.Descriptor[ServicePath, BreakdownQuery]{
			Path:        transactionGroupsPath + "/breakdown",
			PathParams:  servicePath,
			QueryParams: breakdownQuery,
			Handler:     h.breakdown,
		},
		route.Descriptor[ServicePath, AvgDurationByCountryQuery]{
			Path:        transactionGroupsPath + "/avg_duration_by_country",
			PathParams:  servicePath,
			QueryParams: avgDurationByCountryQuery,
			Handler:     h.avgDurationByCountry,
		},
	}
}

func (h *TransactionGroupsHandler) groupList(ctx context.Context, p ServicePath, q GroupListQuery, s *setup.Setup) (any, error) {
	return h.aggregator.GroupList(ctx, service.GroupListArgs{
		Type:            service.TopTransactions,
		ServiceName:     p.ServiceName,
		TransactionType: q.TransactionType,
	}, s)
}

func (h *TransactionGroupsHandler) charts(ctx context.Context, p ServicePath, q ChartsQuery, s *setup.Setup) (any, error) {
	return h.aggregator.Charts(ctx, service.ChartsArgs{
		ServiceName:     p.ServiceName,
		TransactionType: q.TransactionType,
		TransactionName: q.TransactionName,
	}, s)
}

func (h *TransactionGroupsHandler) distribution(ctx context.Context, p ServicePath, q DistributionQuery, s *setup.Setup) (any, error) {
	return h.aggregator.Distribution(ctx, service.DistributionArgs{
		ServiceName:     p.ServiceName,
		TransactionType: q.TransactionType,
		TransactionName: q.TransactionName,
		TransactionID:   q.TransactionID,
		TraceID:         q.TraceID,
	}, s)
}

func (h *TransactionGroupsHandler) breakdown(ctx context.Context, p ServicePath, q BreakdownQuery, s *setup.Setup) (any, error) {
	return h.aggregator.Breakdown(ctx, service.BreakdownArgs{
		ServiceName:     p.ServiceName,
		TransactionType: q.TransactionType,
		TransactionName: q.TransactionName,
	}, s)
}

func (h *TransactionGroupsHandler) avgDurationByCountry(ctx context.Context, p ServicePath, q AvgDurationByCountryQuery, s *setup.Setup) (any, error) {
	return h.aggregator.AvgDurationByCountry(ctx, service.AvgDurationByCountryArgs{
		ServiceName:     p.ServiceName,
		TransactionName: q.TransactionName,
	}, s)
}
