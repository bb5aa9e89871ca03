package setup

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// TimeRange is an inclusive window in epoch milliseconds.
type TimeRange struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// StartTime returns Start as a UTC time.
func (r TimeRange) StartTime() time.Time {
	return time.UnixMilli(r.Start).UTC()
}

// EndTime returns End as a UTC time.
func (r TimeRange) EndTime() time.Time {
	return time.UnixMilli(r.End).UTC()
}

// Millis is the length of the window in milliseconds.
func (r TimeRange) Millis() int64 {
	return r.End - r.Start
}

// Duration is the length of the window. Windows longer than a
// time.Duration can hold saturate at math.MaxInt64.
func (r TimeRange) Duration() time.Duration {
	ms := r.Millis()
	if ms > math.MaxInt64/int64(time.Millisecond) {
		return math.MaxInt64
	}
	return time.Duration(ms) * time.Millisecond
}

// Bounds accepted for either end of a window. Keeping both inside four-digit
// years keeps End-Start far from int64 overflow.
var (
	minBound = time.Date(0, time.January, 1, 0, 0, 0, 0, time.UTC)
	maxBound = time.Date(9999, time.December, 31, 23, 59, 59, 999e6, time.UTC)
)

// BoundError reports a time bound that could not be parsed.
type BoundError struct {
	Field string
	Value string
	Err   error
}

func (e *BoundError) Error() string {
	return fmt.Sprintf("%s: cannot parse %q: %v", e.Field, e.Value, e.Err)
}

func (e *BoundError) Unwrap() error { return e.Err }

// OrderError reports a window whose start is after its end.
type OrderError struct {
	Start, End int64
}

func (e *OrderError) Error() string {
	return fmt.Sprintf("start (%d) is after end (%d)", e.Start, e.End)
}

// ParseTimeRange parses both bounds relative to now and checks their order.
func ParseTimeRange(start, end string, now time.Time) (TimeRange, error) {
	s, err := ParseBound(start, now, false)
	if err != nil {
		return TimeRange{}, &BoundError{Field: "start", Value: start, Err: err}
	}
	e, err := ParseBound(end, now, true)
	if err != nil {
		return TimeRange{}, &BoundError{Field: "end", Value: end, Err: err}
	}

	if err := checkBound(s); err != nil {
		return TimeRange{}, &BoundError{Field: "start", Value: start, Err: err}
	}
	if err := checkBound(e); err != nil {
		return TimeRange{}, &BoundError{Field: "end", Value: end, Err: err}
	}

	r := TimeRange{Start: s.UnixMilli(), End: e.UnixMilli()}
	if r.Start > r.End {
		return TimeRange{}, &OrderError{Start: r.Start, End: r.End}
	}
	return r, nil
}

// ErrOutOfRange is wrapped by a BoundError whose value parsed but lies
// outside the supported years.
var ErrOutOfRange = errors.New("outside the years 0000 to 9999")

func checkBound(t time.Time) error {
	if t.Before(minBound) || t.After(maxBound) {
		return ErrOutOfRange
	}
	return nil
}

var absoluteLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseBound parses a single time bound.
//
// Accepted forms:
//   - epoch milliseconds: 1572620400000
//   - absolute timestamps: 2019-11-01T15:00:00Z, 2019-11-01
//   - date math anchored on now: now, now-15m, now-1d/d, now/w
//   - date math anchored on a timestamp: 2019-11-01T00:00:00Z||+1d
//
// A rounding suffix floors the value, or ceils it to the last millisecond of
// the unit when roundUp is set.
func ParseBound(v string, now time.Time, roundUp bool) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, fmt.Errorf("empty value")
	}

	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}

	var anchor time.Time
	var expr string
	switch {
	case strings.HasPrefix(v, "now"):
		anchor = now.UTC()
		expr = v[len("now"):]
	case strings.Contains(v, "||"):
		parts := strings.SplitN(v, "||", 2)
		t, err := parseAbsolute(parts[0])
		if err != nil {
			return time.Time{}, err
		}
		anchor = t
		expr = parts[1]
	default:
		return parseAbsolute(v)
	}

	return applyMath(anchor, expr, roundUp)
}

func parseAbsolute(v string) (time.Time, error) {
	for _, layout := range absoluteLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("not a timestamp, epoch millis or date math expression")
}

func applyMath(t time.Time, expr string, roundUp bool) (time.Time, error) {
	for i := 0; i < len(expr); {
		op := expr[i]
		i++

		switch op {
		case '/':
			if i >= len(expr) {
				return time.Time{}, fmt.Errorf("missing unit after /")
			}
			unit := expr[i]
			i++
			rounded, err := round(t, unit, roundUp)
			if err != nil {
				return time.Time{}, err
			}
			t = rounded

		case '+', '-':
			j := i
			for j < len(expr) && expr[j] >= '0' && expr[j] <= '9' {
				j++
			}
			n := 1
			if j > i {
				parsed, err := strconv.Atoi(expr[i:j])
				if err != nil {
					return time.Time{}, err
				}
				n = parsed
			}
			if j >= len(expr) {
				return time.Time{}, fmt.Errorf("missing unit after %c%d", op, n)
			}
			if op == '-' {
				n = -n
			}
			shifted, err := add(t, n, expr[j])
			if err != nil {
				return time.Time{}, err
			}
			t = shifted
			i = j + 1

		default:
			return time.Time{}, fmt.Errorf("unexpected %q in date math", op)
		}
	}
	return t, nil
}

func add(t time.Time, n int, unit byte) (time.Time, error) {
	switch unit {
	case 'y':
		return t.AddDate(n, 0, 0), nil
	case 'M':
		return t.AddDate(0, n, 0), nil
	case 'w':
		return t.AddDate(0, 0, 7*n), nil
	case 'd':
		return t.AddDate(0, 0, n), nil
	case 'h', 'H':
		return t.Add(time.Duration(n) * time.Hour), nil
	case 'm':
		return t.Add(time.Duration(n) * time.Minute), nil
	case 's':
		return t.Add(time.Duration(n) * time.Second), nil
	}
	return time.Time{}, fmt.Errorf("unknown unit %q", unit)
}

func round(t time.Time, unit byte, up bool) (time.Time, error) {
	var floor time.Time
	switch unit {
	case 'y':
		floor = time.Date(t.Year(), 1, 1, 0, 0, 0, 0, time.UTC)
	case 'M':
		floor = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	case 'w':
		// Weeks start on Monday.
		offset := (int(t.Weekday()) + 6) % 7
		floor = time.Date(t.Year(), t.Month(), t.Day()-offset, 0, 0, 0, 0, time.UTC)
	case 'd':
		floor = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	case 'h', 'H':
		floor = t.Truncate(time.Hour)
	case 'm':
		floor = t.Truncate(time.Minute)
	case 's':
		floor = t.Truncate(time.Second)
	default:
		return time.Time{}, fmt.Errorf("unknown unit %q", unit)
	}

	if !up {
		return floor, nil
	}
	next, err := add(floor, 1, unit)
	if err != nil {
		return time.Time{}, err
	}
	return next.Add(-time.Millisecond), nil
}
