package repository

import (
	"context"
	"fmt"

	"github.com/deppfellow/apm-transactions/internal/search"
	"github.com/deppfellow/apm-transactions/internal/setup"
	"github.com/deppfellow/apm-transactions/internal/sqlerr"
	"github.com/rs/zerolog"
)

// PageLoadType is the transaction type recorded by browser agents for
// initial page loads.
const PageLoadType = "page-load"

// MaxBreakdownKinds caps the span kinds reported by a breakdown.
const MaxBreakdownKinds = 20

// TransactionRepository queries transaction events and span breakdown
// metrics.
type TransactionRepository struct {
	transactions string
	breakdown    string
}

// NewTransactionRepository returns a repository reading the given tables.
func NewTransactionRepository(transactionsTable, breakdownTable string) *TransactionRepository {
	return &TransactionRepository{
		transactions: transactionsTable,
		breakdown:    breakdownTable,
	}
}

// GroupQuery selects the transactions of one service and type.
type GroupQuery struct {
	ServiceName     string
	TransactionType string
	Limit           int
}

// GroupRow is the aggregate of one transaction name.
type GroupRow struct {
	Name string `ch:"name"`

	// Sample ids are of the most recent sampled transaction of the group, and
	// empty when none of its transactions was sampled.
	SampleTransactionID string `ch:"sample_transaction_id"`
	SampleTraceID       string `ch:"sample_trace_id"`

	// Durations are in microseconds.
	P95         float64 `ch:"p95"`
	AvgDuration float64 `ch:"avg_duration"`

	Count         uint64  `ch:"transaction_count"`
	TotalDuration float64 `ch:"total_duration"`
}

// TopGroups returns transaction names ordered by total time spent.
func (r *TransactionRepository) TopGroups(ctx context.Context, s *setup.Setup, q GroupQuery) ([]GroupRow, error) {
	w, err := window(s)
	if err != nil {
		return nil, sqlerr.HandleError(err)
	}
	w.eq("service_name", q.ServiceName).eq("transaction_type", q.TransactionType)

	query := fmt.Sprintf(`
		SELECT
			transaction_name AS name,
			argMaxIf(transaction_id, timestamp, transaction_sampled) AS sample_transaction_id,
			argMaxIf(trace_id, timestamp, transaction_sampled) AS sample_trace_id,
			quantile(0.95)(toFloat64(duration_us)) AS p95,
			avg(toFloat64(duration_us)) AS avg_duration,
			count() AS transaction_count,
			toFloat64(sum(duration_us)) AS total_duration
		FROM %s
		%s
		GROUP BY name
		ORDER BY total_duration DESC, name
		LIMIT %d`, r.transactions, w, q.Limit)

	var rows []GroupRow
	if err := run(ctx, s, "group_list", &rows, query, w.args); err != nil {
		return nil, err
	}
	return rows, nil
}

// ChartQuery selects the transactions plotted by the charts endpoint.
// Nil fields are not filtered on.
type ChartQuery struct {
	ServiceName     string
	TransactionType *string
	TransactionName *string
}

// LatencyRow holds the latency aggregates of one time bucket.
type LatencyRow struct {
	Key   int64   `ch:"key"`
	Avg   float64 `ch:"avg"`
	P95   float64 `ch:"p95"`
	P99   float64 `ch:"p99"`
	Count uint64  `ch:"doc_count"`
}

// LatencyBuckets returns latency aggregates per bucket of bucketSeconds.
// Keys are bucket starts in epoch milliseconds.
func (r *TransactionRepository) LatencyBuckets(ctx context.Context, s *setup.Setup, q ChartQuery, bucketSeconds int64) ([]LatencyRow, error) {
	w, err := chartWindow(s, q)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT
			%s AS key,
			avg(toFloat64(duration_us)) AS avg,
			quantile(0.95)(toFloat64(duration_us)) AS p95,
			quantile(0.99)(toFloat64(duration_us)) AS p99,
			count() AS doc_count
		FROM %s
		%s
		GROUP BY key
		ORDER BY key`, bucketKey(bucketSeconds), r.transactions, w)

	var rows []LatencyRow
	if err := run(ctx, s, "charts_latency", &rows, query, w.args); err != nil {
		return nil, err
	}
	return rows, nil
}

// ResultRow counts the transactions of one result in one time bucket.
type ResultRow struct {
	Key    int64  `ch:"key"`
	Result string `ch:"result"`
	Count  uint64 `ch:"doc_count"`
}

// ResultBuckets returns transaction counts per result and bucket.
func (r *TransactionRepository) ResultBuckets(ctx context.Context, s *setup.Setup, q ChartQuery, bucketSeconds int64) ([]ResultRow, error) {
	w, err := chartWindow(s, q)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT
			%s AS key,
			transaction_result AS result,
			count() AS doc_count
		FROM %s
		%s
		GROUP BY key, result
		ORDER BY result, key`, bucketKey(bucketSeconds), r.transactions, w)

	var rows []ResultRow
	if err := run(ctx, s, "charts_throughput", &rows, query, w.args); err != nil {
		return nil, err
	}
	return rows, nil
}

func chartWindow(s *setup.Setup, q ChartQuery) (*where, error) {
	w, err := window(s)
	if err != nil {
		return nil, sqlerr.HandleError(err)
	}
	w.eq("service_name", q.ServiceName).
		eqOpt("transaction_type", q.TransactionType).
		eqOpt("transaction_name", q.TransactionName)
	return w, nil
}

// DistributionQuery selects the transactions of one transaction group.
type DistributionQuery struct {
	ServiceName     string
	TransactionType string
	TransactionName string
}

// DurationStats summarizes the durations of a transaction group.
type DurationStats struct {
	MaxDuration float64 `ch:"max_duration"`
	Total       uint64  `ch:"total"`
}

// DurationStats returns the largest duration and the number of transactions.
func (r *TransactionRepository) DurationStats(ctx context.Context, s *setup.Setup, q DistributionQuery) (DurationStats, error) {
	w, err := distributionWindow(s, q)
	if err != nil {
		return DurationStats{}, err
	}

	query := fmt.Sprintf(`
		SELECT
			toFloat64(max(duration_us)) AS max_duration,
			count() AS total
		FROM %s
		%s`, r.transactions, w)

	var rows []DurationStats
	if err := run(ctx, s, "distribution_stats", &rows, query, w.args); err != nil {
		return DurationStats{}, err
	}
	if len(rows) == 0 {
		return DurationStats{}, nil
	}
	return rows[0], nil
}

// DurationBucketRow is one histogram bucket. The id slices are parallel.
type DurationBucketRow struct {
	Key            int64    `ch:"key"`
	Count          uint64   `ch:"doc_count"`
	TransactionIDs []string `ch:"transaction_ids"`
	TraceIDs       []string `ch:"trace_ids"`
}

// DurationBuckets returns a duration histogram with buckets of bucketSize
// microseconds, sampling up to samples sampled transactions per bucket.
func (r *TransactionRepository) DurationBuckets(ctx context.Context, s *setup.Setup, q DistributionQuery, bucketSize int64, samples int) ([]DurationBucketRow, error) {
	w, err := distributionWindow(s, q)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT
			toInt64(intDiv(duration_us, %[1]d) * %[1]d) AS key,
			count() AS doc_count,
			groupArrayIf(%[2]d)(transaction_id, transaction_sampled) AS transaction_ids,
			groupArrayIf(%[2]d)(trace_id, transaction_sampled) AS trace_ids
		FROM %[3]s
		%[4]s
		GROUP BY key
		ORDER BY key`, bucketSize, samples, r.transactions, w)

	var rows []DurationBucketRow
	if err := run(ctx, s, "distribution_buckets", &rows, query, w.args); err != nil {
		return nil, err
	}
	return rows, nil
}

// SampleDuration looks up the duration of one transaction. ok is false
// when it is not in the window.
func (r *TransactionRepository) SampleDuration(ctx context.Context, s *setup.Setup, q DistributionQuery, transactionID, traceID string) (duration float64, ok bool, err error) {
	w, err := distributionWindow(s, q)
	if err != nil {
		return 0, false, err
	}
	w.eq("transaction_id", transactionID).eq("trace_id", traceID)

	query := fmt.Sprintf(`
		SELECT toFloat64(duration_us) AS duration
		FROM %s
		%s
		LIMIT 1`, r.transactions, w)

	var rows []struct {
		Duration float64 `ch:"duration"`
	}
	if err := run(ctx, s, "distribution_sample", &rows, query, w.args); err != nil {
		return 0, false, err
	}
	if len(rows) == 0 {
		return 0, false, nil
	}
	return rows[0].Duration, true, nil
}

func distributionWindow(s *setup.Setup, q DistributionQuery) (*where, error) {
	w, err := window(s)
	if err != nil {
		return nil, sqlerr.HandleError(err)
	}
	w.eq("service_name", q.ServiceName).
		eq("transaction_type", q.TransactionType).
		eq("transaction_name", q.TransactionName)
	return w, nil
}

// BreakdownQuery selects the span breakdown of a service's transactions.
type BreakdownQuery struct {
	ServiceName     string
	TransactionType string
	TransactionName *string
}

// BreakdownRow is the self time spent in one span kind.
type BreakdownRow struct {
	Name  string  `ch:"name"`
	Total float64 `ch:"total"`
}

// BreakdownBucketRow is the self time of one span kind in one time bucket.
type BreakdownBucketRow struct {
	Key   int64   `ch:"key"`
	Name  string  `ch:"name"`
	Total float64 `ch:"total"`
}

// spanKind names app spans by type and external spans by subtype.
const spanKind = "if(span_subtype != '', span_subtype, span_type)"

// BreakdownTotals returns the span kinds with the most self time.
func (r *TransactionRepository) BreakdownTotals(ctx context.Context, s *setup.Setup, q BreakdownQuery) ([]BreakdownRow, error) {
	w, err := breakdownWindow(s, q)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT
			%s AS name,
			toFloat64(sum(self_time_sum_us)) AS total
		FROM %s
		%s
		GROUP BY name
		ORDER BY total DESC, name
		LIMIT %d`, spanKind, r.breakdown, w, MaxBreakdownKinds)

	var rows []BreakdownRow
	if err := run(ctx, s, "breakdown_totals", &rows, query, w.args); err != nil {
		return nil, err
	}
	return rows, nil
}

// BreakdownBuckets returns self time per span kind and bucket.
func (r *TransactionRepository) BreakdownBuckets(ctx context.Context, s *setup.Setup, q BreakdownQuery, bucketSeconds int64) ([]BreakdownBucketRow, error) {
	w, err := breakdownWindow(s, q)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT
			%s AS key,
			%s AS name,
			toFloat64(sum(self_time_sum_us)) AS total
		FROM %s
		%s
		GROUP BY key, name
		ORDER BY key, name`, bucketKey(bucketSeconds), spanKind, r.breakdown, w)

	var rows []BreakdownBucketRow
	if err := run(ctx, s, "breakdown_timeseries", &rows, query, w.args); err != nil {
		return nil, err
	}
	return rows, nil
}

func breakdownWindow(s *setup.Setup, q BreakdownQuery) (*where, error) {
	w, err := window(s)
	if err != nil {
		return nil, sqlerr.HandleError(err)
	}
	w.eq("service_name", q.ServiceName).
		eq("transaction_type", q.TransactionType).
		eqOpt("transaction_name", q.TransactionName)
	return w, nil
}

// CountryQuery selects the page loads of a service.
type CountryQuery struct {
	ServiceName     string
	TransactionName *string
}

// CountryRow is the average page-load duration of one country.
type CountryRow struct {
	Key      string  `ch:"key"`
	DocCount uint64  `ch:"doc_count"`
	Value    float64 `ch:"value"`
}

// AvgDurationByCountry averages page-load durations per client country.
func (r *TransactionRepository) AvgDurationByCountry(ctx context.Context, s *setup.Setup, q CountryQuery) ([]CountryRow, error) {
	w, err := window(s)
	if err != nil {
		return nil, sqlerr.HandleError(err)
	}
	w.eq("service_name", q.ServiceName).
		eq("transaction_type", PageLoadType).
		eqOpt("transaction_name", q.TransactionName).
		add("client_geo_country_iso_code != ''")

	query := fmt.Sprintf(`
		SELECT
			client_geo_country_iso_code AS key,
			count() AS doc_count,
			avg(toFloat64(duration_us)) AS value
		FROM %s
		%s
		GROUP BY key
		ORDER BY key`, r.transactions, w)

	var rows []CountryRow
	if err := run(ctx, s, "avg_duration_by_country", &rows, query, w.args); err != nil {
		return nil, err
	}
	return rows, nil
}

// bucketKey renders the epoch-millisecond start of a timestamp's bucket.
func bucketKey(bucketSeconds int64) string {
	return fmt.Sprintf("toInt64(toUnixTimestamp(toStartOfInterval(timestamp, INTERVAL %d SECOND))) * 1000", bucketSeconds)
}

func run(ctx context.Context, s *setup.Setup, op string, dest any, query string, args []any) error {
	zerolog.Ctx(ctx).Debug().Str("operation", op).Msg("running search query")

	if err := s.Client.Select(search.WithOperation(ctx, op), dest, query, args...); err != nil {
		return sqlerr.HandleError(err)
	}
	return nil
}
