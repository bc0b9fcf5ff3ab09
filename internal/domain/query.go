package domain

import (
	"fmt"
	"strings"
	"time"
)

// AggregationKind is the reduction applied to a metric over a window.
type AggregationKind int

const (
	// Sum adds the metric over the window. Empty windows yield null.
	Sum AggregationKind = iota + 1

	// CountDistinct counts distinct non-null metric values. Empty windows yield 0.
	CountDistinct

	// Average is the arithmetic mean of non-null metric values. Empty windows yield null.
	Average
)

// ParseAggregationKind parses the wire name of an aggregation kind.
func ParseAggregationKind(s string) (AggregationKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sum":
		return Sum, nil
	case "count_distinct":
		return CountDistinct, nil
	case "avg", "average":
		return Average, nil
	default:
		return 0, fmt.Errorf("%w: unsupported aggregation kind %q", ErrInvalidParameter, s)
	}
}

// String returns the wire name of the kind.
func (k AggregationKind) String() string {
	switch k {
	case Sum:
		return "sum"
	case CountDistinct:
		return "count_distinct"
	case Average:
		return "avg"
	default:
		return fmt.Sprintf("AggregationKind(%d)", int(k))
	}
}

// Valid reports whether k is one of the supported kinds.
func (k AggregationKind) Valid() bool {
	return k == Sum || k == CountDistinct || k == Average
}

// MarshalText implements encoding.TextMarshaler.
func (k AggregationKind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("%w: unsupported aggregation kind %d", ErrInvalidParameter, int(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *AggregationKind) UnmarshalText(text []byte) error {
	parsed, err := ParseAggregationKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// DateLayout is the wire format of reference dates.
const DateLayout = "2006-01-02"

// WindowChoices are the analysis windows offered by the dashboard.
var WindowChoices = []int{7, 28, 90, 365}

// DefaultWindowDays is the analysis window used when none is given.
const DefaultWindowDays = 28

// MaxWindowDays caps the window length at one hundred years. It keeps the
// previous window start, D-2W, inside the range of time.Time.
const MaxWindowDays = 36500

// Day truncates t to its calendar day in UTC.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Range is a half-open timestamp interval [From, To).
type Range struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Contains reports whether t falls inside the range.
func (r Range) Contains(t time.Time) bool {
	return !t.Before(r.From) && t.Before(r.To)
}

// Period is a reference day and a window length in days.
//
// The current window is the calendar days [D-W, D] and the previous window is
// [D-2W, D-W). The boundary day D-W belongs to the current window only, so the
// two windows cover [D-2W, D] exactly once.
type Period struct {
	Reference time.Time
	Days      int
}

// NewPeriod validates the window length and normalises the reference day.
func NewPeriod(reference time.Time, days int) (Period, error) {
	if days <= 0 {
		return Period{}, fmt.Errorf("%w: window must be a positive number of days, got %d", ErrInvalidParameter, days)
	}
	if days > MaxWindowDays {
		return Period{}, fmt.Errorf("%w: window must be at most %d days, got %d", ErrInvalidParameter, MaxWindowDays, days)
	}
	if reference.IsZero() {
		return Period{}, fmt.Errorf("%w: reference date is required", ErrInvalidParameter)
	}
	return Period{Reference: Day(reference), Days: days}, nil
}

// Current returns the range of the current window.
func (p Period) Current() Range {
	d := Day(p.Reference)
	return Range{From: d.AddDate(0, 0, -p.Days), To: d.AddDate(0, 0, 1)}
}

// Previous returns the range of the window immediately before Current.
func (p Period) Previous() Range {
	d := Day(p.Reference)
	return Range{From: d.AddDate(0, 0, -2*p.Days), To: d.AddDate(0, 0, -p.Days)}
}

// Span returns the union of Previous and Current.
func (p Period) Span() Range {
	return Range{From: p.Previous().From, To: p.Current().To}
}

// Point is one aggregated value of a daily series.
type Point struct {
	Date  time.Time `json:"date"`
	Value *float64  `json:"value"`
}

// CategoryPoint is one aggregated value of a daily series split by category.
type CategoryPoint struct {
	Date     time.Time `json:"date"`
	Category *string   `json:"category"`
	Value    *float64  `json:"value"`
}

// CategoryStat is one cell of the category/sub-category cross-tab.
type CategoryStat struct {
	Category    *string  `json:"category"`
	SubCategory *string  `json:"subCategory"`
	OrderCount  int64    `json:"orderCount"`
	MeanProfit  *float64 `json:"meanProfit"`
}
