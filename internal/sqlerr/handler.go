package sqlerr

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/deppfellow/apm-transactions/internal/errs"
	"github.com/deppfellow/apm-transactions/internal/search"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// humanizeName turns MEMORY_LIMIT_EXCEEDED into "Memory Limit Exceeded".
func humanizeName(name string) string {
	if name == "" {
		return ""
	}
	return cases.Title(language.English).String(strings.ToLower(strings.ReplaceAll(name, "_", " ")))
}

func unavailable(err error) error {
	return errs.NewServiceUnavailableError(errs.CodeSearchUnavailable, "The search backend is unavailable").WithCause(err)
}

func unauthorized(err error) error {
	return errs.NewServiceUnavailableError(errs.CodeSearchUnauthorized,
		"The search backend refused the request credentials").WithCause(err)
}

func timeout(err error) error {
	return errs.NewGatewayTimeoutError(errs.CodeAggregationTimeout, "The aggregation timed out").WithCause(err)
}

// HandleError converts a backend error into an application error.
//
// Output:
//   - already an *errs.HTTPError: returned unchanged
//   - context.Canceled: returned unchanged, the caller is gone
//   - deadlines and server timeouts: 504 AGGREGATION_TIMEOUT
//   - unreachable or overloaded backend: 503 SEARCH_BACKEND_UNAVAILABLE
//   - refused credentials: 503 SEARCH_BACKEND_UNAUTHORIZED
//   - anything else: 500 AGGREGATION_FAILED
func HandleError(err error) error {
	if err == nil {
		return nil
	}

	var httpErr *errs.HTTPError
	if errors.As(err, &httpErr) {
		return err
	}

	switch {
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return timeout(err)
	case errors.Is(err, search.ErrUnauthorized):
		return unauthorized(err)
	case errors.Is(err, search.ErrUnavailable):
		return unavailable(err)
	}

	var exc *clickhouse.Exception
	if errors.As(err, &exc) {
		sqlErr := ConvertException(exc)

		switch sqlErr.Code {
		case Timeout:
			return timeout(err)
		case Unavailable, Overloaded:
			return unavailable(err)
		case Unauthorized:
			return unauthorized(err)
		default:
			msg := "Failed to compute aggregation"
			if name := humanizeName(sqlErr.ServerName); name != "" {
				msg += " (" + name + ")"
			}
			return errs.NewAggregationError(msg).WithCause(err)
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return timeout(err)
		}
		return unavailable(err)
	}

	return errs.NewAggregationError("Failed to compute aggregation").WithCause(err)
}
