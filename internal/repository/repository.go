// Package repository holds the read queries run against the search backend.
//
// Every method takes the request's *setup.Setup: queries are bounded by its
// time range, narrowed by its UI filters and issued through its scoped
// client. Backend errors are translated with sqlerr before they are returned.
package repository

import (
	"fmt"
	"strings"

	"github.com/deppfellow/apm-transactions/internal/config"
	"github.com/deppfellow/apm-transactions/internal/setup"
	"github.com/deppfellow/apm-transactions/internal/uifilters"
)

// Repositories is a container for all repository instances.
type Repositories struct {
	Transactions *TransactionRepository
}

// NewRepositories constructs the repository container.
func NewRepositories(cfg *config.Config) *Repositories {
	return &Repositories{
		Transactions: NewTransactionRepository(cfg.Search.TransactionsTable, cfg.Search.BreakdownTable),
	}
}

// filterColumns maps filterable document fields to table columns.
var filterColumns = func() map[string]string {
	m := make(map[string]string)
	for _, f := range uifilters.Fields() {
		m[f] = strings.ReplaceAll(f, ".", "_")
	}
	return m
}()

// where accumulates AND-ed predicates with positional arguments.
type where struct {
	conds []string
	args  []any
}

// window starts a predicate set bounded by the setup's time range and
// narrowed by its UI filters.
func window(s *setup.Setup) (*where, error) {
	w := &where{}
	w.add("timestamp >= fromUnixTimestamp64Milli(?)", s.TimeRange.Start)
	w.add("timestamp <= fromUnixTimestamp64Milli(?)", s.TimeRange.End)

	for _, f := range s.UIFilters {
		col, ok := filterColumns[f.Field]
		if !ok {
			return nil, fmt.Errorf("no column for filter field %q", f.Field)
		}
		if len(f.Values) == 1 {
			w.add(col+" = ?", f.Values[0])
		} else {
			w.add(col+" IN (?)", f.Values)
		}
	}
	return w, nil
}

func (w *where) add(cond string, args ...any) *where {
	w.conds = append(w.conds, cond)
	w.args = append(w.args, args...)
	return w
}

// eq adds col = value.
func (w *where) eq(col string, value string) *where {
	return w.add(col+" = ?", value)
}

// eqOpt adds col = *value when value is set.
func (w *where) eqOpt(col string, value *string) *where {
	if value != nil {
		w.eq(col, *value)
	}
	return w
}

func (w *where) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return "WHERE " + strings.Join(w.conds, " AND ")
}
