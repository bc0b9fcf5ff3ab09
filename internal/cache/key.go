package cache

import (
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Query names used in cache keys.
const (
	QueryAggregate        = "aggregate"
	QueryDetail           = "detail"
	QueryDetailByCategory = "detail_by_category"
	QueryBreakdown        = "breakdown"
	QueryOrders           = "orders"
	QueryDateRange        = "date_range"
)

// Key identifies a cached query result by the full tuple of its parameters.
type Key struct {
	Query      string
	Metric     string // canonical metric expression
	Kind       domain.AggregationKind
	Reference  time.Time
	WindowDays int
	Group      string // extra grouping dimension or row limit
}

// NewKey builds a key for a metric query. The metric is identified by its
// canonical form so structurally equal expressions share entries.
func NewKey(query string, m domain.Metric, kind domain.AggregationKind, p domain.Period) Key {
	k := Key{
		Query:      query,
		Kind:       kind,
		Reference:  p.Reference,
		WindowDays: p.Days,
	}
	if m != nil {
		k.Metric = m.Canonical()
	}
	return k
}

// WithGroup returns a copy of k with the grouping dimension set.
func (k Key) WithGroup(group string) Key {
	k.Group = group
	return k
}

// String renders the key. The reference time is reduced to its calendar day.
func (k Key) String() string {
	var b strings.Builder
	b.WriteString(k.Query)
	b.WriteString("|")
	b.WriteString(k.Metric)
	b.WriteString("|")
	if k.Kind.Valid() {
		b.WriteString(k.Kind.String())
	}
	b.WriteString("|")
	if !k.Reference.IsZero() {
		b.WriteString(domain.Day(k.Reference).Format(domain.DateLayout))
	}
	b.WriteString("|")
	b.WriteString(strconv.Itoa(k.WindowDays))
	b.WriteString("|")
	b.WriteString(k.Group)
	return b.String()
}
