package service

import (
	"context"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/deppfellow/apm-transactions/internal/repository"
	"github.com/deppfellow/apm-transactions/internal/setup"
	"github.com/deppfellow/apm-transactions/internal/sqlerr"
)

const (
	// TopTransactions groups a service's transactions of one type by name.
	TopTransactions = "top_transactions"

	// groupLimit caps the number of groups in a group list.
	groupLimit = 100

	distributionBuckets = 50
	bucketSamples       = 10
)

// TransactionStore runs the queries behind the transaction aggregations.
type TransactionStore interface {
	TopGroups(ctx context.Context, s *setup.Setup, q repository.GroupQuery) ([]repository.GroupRow, error)
	LatencyBuckets(ctx context.Context, s *setup.Setup, q repository.ChartQuery, bucketSeconds int64) ([]repository.LatencyRow, error)
	ResultBuckets(ctx context.Context, s *setup.Setup, q repository.ChartQuery, bucketSeconds int64) ([]repository.ResultRow, error)
	DurationStats(ctx context.Context, s *setup.Setup, q repository.DistributionQuery) (repository.DurationStats, error)
	DurationBuckets(ctx context.Context, s *setup.Setup, q repository.DistributionQuery, bucketSize int64, samples int) ([]repository.DurationBucketRow, error)
	SampleDuration(ctx context.Context, s *setup.Setup, q repository.DistributionQuery, transactionID, traceID string) (float64, bool, error)
	BreakdownTotals(ctx context.Context, s *setup.Setup, q repository.BreakdownQuery) ([]repository.BreakdownRow, error)
	BreakdownBuckets(ctx context.Context, s *setup.Setup, q repository.BreakdownQuery, bucketSeconds int64) ([]repository.BreakdownBucketRow, error)
	AvgDurationByCountry(ctx context.Context, s *setup.Setup, q repository.CountryQuery) ([]repository.CountryRow, error)
}

// TransactionService computes the transaction-group aggregations.
// Durations are in microseconds.
type TransactionService struct {
	store TransactionStore
}

func NewTransactionService(store TransactionStore) *TransactionService {
	return &TransactionService{store: store}
}

// Coordinate is one point of a time series. Y is nil for empty buckets.
type Coordinate struct {
	X int64    `json:"x"`
	Y *float64 `json:"y"`
}

type GroupListArgs struct {
	Type            string
	ServiceName     string
	TransactionType string
}

type TransactionSample struct {
	TransactionID string `json:"transactionId"`
	TraceID       string `json:"traceId"`
}

type TransactionGroup struct {
	Name                  string             `json:"name"`
	Sample                *TransactionSample `json:"sample"`
	P95                   float64            `json:"p95"`
	AverageResponseTime   float64            `json:"averageResponseTime"`
	TransactionsPerMinute float64            `json:"transactionsPerMinute"`
	Impact                float64            `json:"impact"`
}

// GroupList returns the transaction groups of a service ordered by impact,
// the share of total time a group accounts for scaled to 0..100.
func (ts *TransactionService) GroupList(ctx context.Context, args GroupListArgs, s *setup.Setup) ([]TransactionGroup, error) {
	if args.Type != TopTransactions {
		return nil, sqlerr.HandleError(fmt.Errorf("unknown transaction group type %q", args.Type))
	}

	rows, err := ts.store.TopGroups(ctx, s, repository.GroupQuery{
		ServiceName:     args.ServiceName,
		TransactionType: args.TransactionType,
		Limit:           groupLimit,
	})
	if err != nil {
		return nil, err
	}

	minSum, maxSum := math.Inf(1), math.Inf(-1)
	for _, r := range rows {
		minSum = math.Min(minSum, r.TotalDuration)
		maxSum = math.Max(maxSum, r.TotalDuration)
	}

	minutes := float64(s.TimeRange.Millis()) / float64(time.Minute.Milliseconds())
	groups := make([]TransactionGroup, 0, len(rows))
	for _, r := range rows {
		g := TransactionGroup{
			Name:                r.Name,
			P95:                 r.P95,
			AverageResponseTime: r.AvgDuration,
		}
		if r.SampleTransactionID != "" {
			g.Sample = &TransactionSample{TransactionID: r.SampleTransactionID, TraceID: r.SampleTraceID}
		}
		if minutes > 0 {
			g.TransactionsPerMinute = float64(r.Count) / minutes
		}
		if maxSum > minSum {
			g.Impact = (r.TotalDuration - minSum) / (maxSum - minSum) * 100
		}
		groups = append(groups, g)
	}

	slices.SortStableFunc(groups, func(a, b TransactionGroup) int {
		switch {
		case a.Impact > b.Impact:
			return -1
		case a.Impact < b.Impact:
			return 1
		}
		return 0
	})
	return groups, nil
}

// ChartsArgs narrows the charts. Nil fields are not filtered on.
type ChartsArgs struct {
	ServiceName     string
	TransactionType *string
	TransactionName *string
}

type ResponseTimes struct {
	Avg []Coordinate `json:"avg"`
	P95 []Coordinate `json:"p95"`
	P99 []Coordinate `json:"p99"`
}

// TPMBucket is the throughput of one transaction result.
type TPMBucket struct {
	Key        string       `json:"key"`
	DataPoints []Coordinate `json:"dataPoints"`
	Avg        float64      `json:"avg"`
}

type APMTimeseries struct {
	ResponseTimes      ResponseTimes `json:"responseTimes"`
	TPMBuckets         []TPMBucket   `json:"tpmBuckets"`
	OverallAvgDuration *float64      `json:"overallAvgDuration"`
}

type ChartsResult struct {
	APMTimeseries APMTimeseries `json:"apmTimeseries"`
}

// Charts returns latency and throughput time series.
func (ts *TransactionService) Charts(ctx context.Context, args ChartsArgs, s *setup.Setup) (*ChartsResult, error) {
	size := bucketSize(s.TimeRange)
	seconds := int64(size / time.Second)
	q := repository.ChartQuery{
		ServiceName:     args.ServiceName,
		TransactionType: args.TransactionType,
		TransactionName: args.TransactionName,
	}

	latency, err := ts.store.LatencyBuckets(ctx, s, q, seconds)
	if err != nil {
		return nil, err
	}
	results, err := ts.store.ResultBuckets(ctx, s, q, seconds)
	if err != nil {
		return nil, err
	}

	present := make(map[int64]struct{})
	for _, r := range latency {
		present[r.Key] = struct{}{}
	}
	for _, r := range results {
		present[r.Key] = struct{}{}
	}
	keys := mergeKeys(bucketKeys(s.TimeRange, size), present)

	byKey := make(map[int64]repository.LatencyRow, len(latency))
	var total, weighted float64
	for _, r := range latency {
		byKey[r.Key] = r
		total += float64(r.Count)
		weighted += r.Avg * float64(r.Count)
	}

	rt := ResponseTimes{
		Avg: make([]Coordinate, 0, len(keys)),
		P95: make([]Coordinate, 0, len(keys)),
		P99: make([]Coordinate, 0, len(keys)),
	}
	for _, k := range keys {
		r, ok := byKey[k]
		if !ok {
			rt.Avg = append(rt.Avg, Coordinate{X: k})
			rt.P95 = append(rt.P95, Coordinate{X: k})
			rt.P99 = append(rt.P99, Coordinate{X: k})
			continue
		}
		rt.Avg = append(rt.Avg, Coordinate{X: k, Y: ptr(r.Avg)})
		rt.P95 = append(rt.P95, Coordinate{X: k, Y: ptr(r.P95)})
		rt.P99 = append(rt.P99, Coordinate{X: k, Y: ptr(r.P99)})
	}

	result := &ChartsResult{APMTimeseries: APMTimeseries{
		ResponseTimes: rt,
		TPMBuckets:    tpmBuckets(results, keys, size),
	}}
	if total > 0 {
		result.APMTimeseries.OverallAvgDuration = ptr(weighted / total)
	}
	return result, nil
}

// tpmBuckets converts per-bucket counts into transactions per minute,
// one series per result.
func tpmBuckets(rows []repository.ResultRow, keys []int64, size time.Duration) []TPMBucket {
	perMinute := float64(time.Minute) / float64(size)

	counts := make(map[string]map[int64]uint64)
	var order []string
	for _, r := range rows {
		if _, ok := counts[r.Result]; !ok {
			counts[r.Result] = make(map[int64]uint64)
			order = append(order, r.Result)
		}
		counts[r.Result][r.Key] += r.Count
	}
	slices.Sort(order)

	buckets := make([]TPMBucket, 0, len(order))
	for _, result := range order {
		b := TPMBucket{Key: result, DataPoints: make([]Coordinate, 0, len(keys))}
		var sum float64
		for _, k := range keys {
			v := float64(counts[result][k]) * perMinute
			sum += v
			b.DataPoints = append(b.DataPoints, Coordinate{X: k, Y: ptr(v)})
		}
		if len(keys) > 0 {
			b.Avg = sum / float64(len(keys))
		}
		buckets = append(buckets, b)
	}
	return buckets
}

// DistributionArgs selects one transaction group. TransactionID and TraceID
// are "" when the caller has no sample to highlight; narrowing applies only
// when both are non-empty.
type DistributionArgs struct {
	ServiceName     string
	TransactionType string
	TransactionName string
	TransactionID   string
	TraceID         string
}

type DistributionBucket struct {
	Key      int64               `json:"key"`
	Count    uint64              `json:"count"`
	Samples  []TransactionSample `json:"samples"`
	Selected bool                `json:"selected,omitempty"`
}

type DistributionResult struct {
	NoHits     bool                 `json:"noHits"`
	Buckets    []DistributionBucket `json:"buckets"`
	BucketSize int64                `json:"bucketSize"`
	TotalHits  uint64               `json:"totalHits"`
}

// Distribution returns the duration histogram of a transaction group. When
// a sample is named, its bucket is marked and lists the sample first.
func (ts *TransactionService) Distribution(ctx context.Context, args DistributionArgs, s *setup.Setup) (*DistributionResult, error) {
	q := repository.DistributionQuery{
		ServiceName:     args.ServiceName,
		TransactionType: args.TransactionType,
		TransactionName: args.TransactionName,
	}

	stats, err := ts.store.DurationStats(ctx, s, q)
	if err != nil {
		return nil, err
	}
	if stats.Total == 0 {
		return &DistributionResult{NoHits: true, Buckets: []DistributionBucket{}}, nil
	}

	size := max(int64(stats.MaxDuration)/distributionBuckets, 1)
	rows, err := ts.store.DurationBuckets(ctx, s, q, size, bucketSamples)
	if err != nil {
		return nil, err
	}

	byKey := make(map[int64]repository.DurationBucketRow, len(rows))
	for _, r := range rows {
		byKey[r.Key] = r
	}

	buckets := make([]DistributionBucket, 0, len(rows))
	for k := int64(0); k <= int64(stats.MaxDuration); k += size {
		r := byKey[k]
		b := DistributionBucket{Key: k, Count: r.Count, Samples: make([]TransactionSample, 0, len(r.TransactionIDs))}
		for i, id := range r.TransactionIDs {
			if i < len(r.TraceIDs) {
				b.Samples = append(b.Samples, TransactionSample{TransactionID: id, TraceID: r.TraceIDs[i]})
			}
		}
		buckets = append(buckets, b)
	}

	if args.TransactionID != "" && args.TraceID != "" {
		duration, ok, err := ts.store.SampleDuration(ctx, s, q, args.TransactionID, args.TraceID)
		if err != nil {
			return nil, err
		}
		if ok {
			markSample(buckets, size, duration, TransactionSample{TransactionID: args.TransactionID, TraceID: args.TraceID})
		}
	}

	return &DistributionResult{
		Buckets:    buckets,
		BucketSize: size,
		TotalHits:  stats.Total,
	}, nil
}

func markSample(buckets []DistributionBucket, size int64, duration float64, sample TransactionSample) {
	i := int(int64(duration) / size)
	if i >= len(buckets) {
		return
	}

	b := &buckets[i]
	b.Selected = true
	b.Samples = slices.DeleteFunc(b.Samples, func(s TransactionSample) bool { return s == sample })
	b.Samples = slices.Insert(b.Samples, 0, sample)
}

// BreakdownArgs selects the span breakdown. A nil TransactionName covers
// every transaction of the type.
type BreakdownArgs struct {
	ServiceName     string
	TransactionType string
	TransactionName *string
}

// BreakdownKPI is the share of self time spent in one span kind, 0..1.
type BreakdownKPI struct {
	Name       string  `json:"name"`
	Percentage float64 `json:"percentage"`
}

type BreakdownSeries struct {
	Name string       `json:"name"`
	Data []Coordinate `json:"data"`
}

type BreakdownResult struct {
	KPIs       []BreakdownKPI    `json:"kpis"`
	Timeseries []BreakdownSeries `json:"timeseries"`
}

// Breakdown returns where the transactions spend their time, overall and
// per time bucket.
func (ts *TransactionService) Breakdown(ctx context.Context, args BreakdownArgs, s *setup.Setup) (*BreakdownResult, error) {
	q := repository.BreakdownQuery{
		ServiceName:     args.ServiceName,
		TransactionType: args.TransactionType,
		TransactionName: args.TransactionName,
	}

	totals, err := ts.store.BreakdownTotals(ctx, s, q)
	if err != nil {
		return nil, err
	}

	result := &BreakdownResult{KPIs: []BreakdownKPI{}, Timeseries: []BreakdownSeries{}}
	if len(totals) == 0 {
		return result, nil
	}

	var sum float64
	for _, t := range totals {
		sum += t.Total
	}
	for _, t := range totals {
		kpi := BreakdownKPI{Name: t.Name}
		if sum > 0 {
			kpi.Percentage = t.Total / sum
		}
		result.KPIs = append(result.KPIs, kpi)
	}

	size := bucketSize(s.TimeRange)
	rows, err := ts.store.BreakdownBuckets(ctx, s, q, int64(size/time.Second))
	if err != nil {
		return nil, err
	}

	bucketTotals := make(map[int64]float64)
	values := make(map[string]map[int64]float64)
	present := make(map[int64]struct{})
	for _, r := range rows {
		bucketTotals[r.Key] += r.Total
		if values[r.Name] == nil {
			values[r.Name] = make(map[int64]float64)
		}
		values[r.Name][r.Key] += r.Total
		present[r.Key] = struct{}{}
	}
	keys := mergeKeys(bucketKeys(s.TimeRange, size), present)

	for _, kpi := range result.KPIs {
		series := BreakdownSeries{Name: kpi.Name, Data: make([]Coordinate, 0, len(keys))}
		for _, k := range keys {
			c := Coordinate{X: k}
			if t := bucketTotals[k]; t > 0 {
				c.Y = ptr(values[kpi.Name][k] / t)
			}
			series.Data = append(series.Data, c)
		}
		result.Timeseries = append(result.Timeseries, series)
	}
	return result, nil
}

type AvgDurationByCountryArgs struct {
	ServiceName     string
	TransactionName *string
}

type CountryDuration struct {
	Key      string  `json:"key"`
	DocCount uint64  `json:"docCount"`
	Value    float64 `json:"value"`
}

// AvgDurationByCountry returns the average page-load duration per client
// country, ordered by country code.
func (ts *TransactionService) AvgDurationByCountry(ctx context.Context, args AvgDurationByCountryArgs, s *setup.Setup) ([]CountryDuration, error) {
	rows, err := ts.store.AvgDurationByCountry(ctx, s, repository.CountryQuery{
		ServiceName:     args.ServiceName,
		TransactionName: args.TransactionName,
	})
	if err != nil {
		return nil, err
	}

	out := make([]CountryDuration, 0, len(rows))
	for _, r := range rows {
		out = append(out, CountryDuration{Key: r.Key, DocCount: r.DocCount, Value: r.Value})
	}
	return out, nil
}

func ptr[T any](v T) *T {
	return &v
}
