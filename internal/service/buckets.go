package service

import (
	"slices"
	"time"

	"github.com/deppfellow/apm-transactions/internal/setup"
)

// targetBuckets is the number of time buckets a chart aims for.
const targetBuckets = 100

var niceIntervals = []time.Duration{
	time.Second,
	5 * time.Second,
	10 * time.Second,
	30 * time.Second,
	time.Minute,
	5 * time.Minute,
	10 * time.Minute,
	30 * time.Minute,
	time.Hour,
	3 * time.Hour,
	12 * time.Hour,
	24 * time.Hour,
	7 * 24 * time.Hour,
	30 * 24 * time.Hour,
	365 * 24 * time.Hour,
}

// bucketSize returns the smallest nice interval splitting tr into at most
// targetBuckets buckets. Past the largest nice interval it grows in whole
// multiples of it.
func bucketSize(tr setup.TimeRange) time.Duration {
	rough := tr.Millis() / targetBuckets
	for _, d := range niceIntervals {
		if d.Milliseconds() >= rough {
			return d
		}
	}

	largest := niceIntervals[len(niceIntervals)-1]
	step := largest.Milliseconds()
	n := (rough + step - 1) / step
	return time.Duration(n) * largest
}

// bucketKeys lists the bucket starts covering tr, in epoch milliseconds.
func bucketKeys(tr setup.TimeRange, size time.Duration) []int64 {
	step := size.Milliseconds()
	// Floor toward negative infinity so pre-epoch starts keep their bucket.
	first := tr.Start - ((tr.Start%step)+step)%step

	keys := make([]int64, 0, (tr.End-first)/step+1)
	for k := first; k <= tr.End; k += step {
		keys = append(keys, k)
	}
	return keys
}

// mergeKeys adds the keys of extra missing from keys, keeping them sorted.
func mergeKeys(keys []int64, extra map[int64]struct{}) []int64 {
	seen := make(map[int64]struct{}, len(keys))
	for _, k := range keys {
		seen[k] = struct{}{}
	}
	for k := range extra {
		if _, ok := seen[k]; !ok {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys
}
