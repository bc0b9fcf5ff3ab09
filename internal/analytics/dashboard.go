package analytics

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metric"
)

// KPI is one headline card: a comparison, its delta and a sparkline of the
// current window.
type KPI struct {
	Name      string                 `json:"name"`
	Metric    string                 `json:"metric"`
	Kind      domain.AggregationKind `json:"kind"`
	Current   *float64               `json:"current"`
	Previous  *float64               `json:"previous"`
	Delta     *float64               `json:"delta"`
	Sparkline []domain.Point         `json:"sparkline"`

	// Error is set when the card could not be computed in full
	Error string `json:"error,omitempty"`
}

var (
	ordersMetric      = metric.MustParse(metric.Orders)
	salesMetric       = metric.MustParse(metric.Sales)
	profitMetric      = metric.MustParse(metric.Profit)
	profitRatioMetric = metric.MustParse(metric.ProfitRatio)
	rowsMetric        = metric.MustParse("row_id")
)

// KPIs computes the four headline cards: Number Orders, Total Sales, Total Profit
// and Profit Ratio.
//
// The profit ratio comparison is 100 * sum(profit) / sum(sales) per window, while
// its sparkline averages the per-row ratio for each day.
//
// Only an invalid period fails the call. A card whose queries fail carries the
// reason in its Error field and the other cards are still returned.
func (s *Service) KPIs(ctx context.Context, reference time.Time, days int) ([]KPI, error) {
	ctx, span := tracer.Start(ctx, "analytics.KPIs",
		trace.WithAttributes(attribute.Int("window_days", days)),
	)
	defer span.End()

	p, err := s.Period(ctx, reference, days)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	orders := s.card(ctx, "Number Orders", ordersMetric, domain.CountDistinct, p)
	sales := s.card(ctx, "Total Sales", salesMetric, domain.Sum, p)
	profit := s.card(ctx, "Total Profit", profitMetric, domain.Sum, p)

	profitRatio := KPI{
		Name:   "Profit Ratio",
		Metric: profitRatioMetric.Canonical(),
		Kind:   domain.Average,
	}
	if sales.failed == nil && profit.failed == nil {
		ratio := Comparison{
			Current:  percentOf(profit.Current, sales.Current),
			Previous: percentOf(profit.Previous, sales.Previous),
		}
		profitRatio.Current = ratio.Current
		profitRatio.Previous = ratio.Previous
		profitRatio.Delta = ratio.Delta()
	} else {
		profitRatio.Error = "profit ratio needs both Total Sales and Total Profit"
	}
	spark, err := s.Detail(ctx, profitRatioMetric, domain.Average, p.Reference, p.Days)
	if err != nil {
		profitRatio.Error = err.Error()
	}
	profitRatio.Sparkline = spark

	cards := []KPI{orders.KPI, sales.KPI, profit.KPI, profitRatio}
	for _, k := range cards {
		if k.Error != "" {
			span.AddEvent("card failed", trace.WithAttributes(
				attribute.String("card", k.Name),
				attribute.String("error", k.Error),
			))
		}
	}
	return cards, nil
}

// cardResult is a KPI plus the error that kept its comparison from being computed.
type cardResult struct {
	KPI
	failed error
}

func (s *Service) card(ctx context.Context, name string, m domain.Metric, kind domain.AggregationKind, p domain.Period) cardResult {
	res := cardResult{KPI: KPI{
		Name:   name,
		Metric: m.Canonical(),
		Kind:   kind,
	}}

	cmp, err := s.Aggregate(ctx, m, kind, p.Reference, p.Days)
	if err != nil {
		res.failed = err
		res.Error = err.Error()
	} else {
		res.Current = cmp.Current
		res.Previous = cmp.Previous
		res.Delta = cmp.Delta()
	}

	spark, err := s.Detail(ctx, m, kind, p.Reference, p.Days)
	if err != nil {
		if res.Error == "" {
			res.Error = err.Error()
		}
		return res
	}
	res.Sparkline = spark
	return res
}

// percentOf returns 100 * part / whole, nil when undefined.
func percentOf(part, whole *float64) *float64 {
	if part == nil || whole == nil || *whole == 0 {
		return nil
	}
	v := 100 * *part / *whole
	return &v
}

// Dashboard is everything one page render needs.
type Dashboard struct {
	Reference     string                 `json:"reference"`
	WindowDays    int                    `json:"windowDays"`
	KPIs          []KPI                  `json:"kpis"`
	CategoryTrend []domain.CategoryPoint `json:"categoryTrend"`
	Breakdown     []domain.CategoryStat  `json:"breakdown"`
	Orders        []*domain.Order        `json:"orders"`

	// Errors maps a widget name to the reason it could not be computed
	Errors map[string]string `json:"errors,omitempty"`
}

// Dashboard computes every widget for one reference date and window. An invalid
// period fails the call; a failing widget is reported in Errors and the rest of
// the dashboard is still returned.
func (s *Service) Dashboard(ctx context.Context, reference time.Time, days int) (*Dashboard, error) {
	ctx, span := tracer.Start(ctx, "analytics.Dashboard",
		trace.WithAttributes(attribute.Int("window_days", days)),
	)
	defer span.End()

	p, err := s.Period(ctx, reference, days)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	d := &Dashboard{
		Reference:  p.Reference.Format(domain.DateLayout),
		WindowDays: p.Days,
	}
	fail := func(widget string, err error) {
		if d.Errors == nil {
			d.Errors = make(map[string]string)
		}
		d.Errors[widget] = err.Error()
		span.RecordError(err, trace.WithAttributes(attribute.String("widget", widget)))
	}

	// Requests run one after another within a render
	if d.KPIs, err = s.KPIs(ctx, p.Reference, p.Days); err != nil {
		fail("kpis", err)
	}
	for _, k := range d.KPIs {
		if k.Error != "" {
			fail("kpis."+k.Name, errors.New(k.Error))
		}
	}
	if d.CategoryTrend, err = s.DetailByCategory(ctx, rowsMetric, domain.CountDistinct, p.Reference, p.Days); err != nil {
		fail("categoryTrend", err)
	}
	if d.Breakdown, err = s.CategoryBreakdown(ctx, p.Reference, p.Days); err != nil {
		fail("breakdown", err)
	}
	if d.Orders, err = s.Orders(ctx, p.Reference, p.Days); err != nil {
		fail("orders", err)
	}

	return d, nil
}
