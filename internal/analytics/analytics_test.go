package analytics

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metric"
	"github.com/opensource-finance/kestrel/internal/repository"
)

func strPtr(s string) *string     { return &s }
func floatPtr(f float64) *float64 { return &f }

func day(s string) time.Time {
	t, err := time.Parse(domain.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func order(id int64, date, category, sub string, sales, profit float64) *domain.Order {
	d := day(date)
	return &domain.Order{
		RowID:        id,
		OrderID:      fmt.Sprintf("CA-%s-%d", date, id),
		OrderDate:    d,
		ShipDate:     d.AddDate(0, 0, 2),
		CustomerID:   "CU-" + category,
		CustomerName: "Customer " + category,
		ProductID:    "PR-" + sub,
		ProductName:  sub,
		Category:     strPtr(category),
		SubCategory:  strPtr(sub),
		Sales:        floatPtr(sales),
		Quantity:     1,
		Discount:     floatPtr(0),
		Profit:       floatPtr(profit),
	}
}

// countingRepository counts the queries reaching the data source.
type countingRepository struct {
	domain.Repository
	aggregates atomic.Int32
	details    atomic.Int32
}

func (r *countingRepository) Aggregate(ctx context.Context, m domain.Metric, kind domain.AggregationKind, rg domain.Range) (*float64, error) {
	r.aggregates.Add(1)
	return r.Repository.Aggregate(ctx, m, kind, rg)
}

func (r *countingRepository) Detail(ctx context.Context, m domain.Metric, kind domain.AggregationKind, rg domain.Range) ([]domain.Point, error) {
	r.details.Add(1)
	return r.Repository.Detail(ctx, m, kind, rg)
}

func newTestRepository(t *testing.T, orders []*domain.Order) *repository.SQLRepository {
	t.Helper()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "analytics-test.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	if len(orders) > 0 {
		if err := repo.LoadOrders(context.Background(), orders); err != nil {
			t.Fatalf("LoadOrders failed: %v", err)
		}
	}
	return repo
}

func newTestService(t *testing.T, orders []*domain.Order) (*Service, *countingRepository) {
	t.Helper()
	repo := &countingRepository{Repository: newTestRepository(t, orders)}
	c := cache.NewMemoryCache()
	t.Cleanup(func() { c.Close() })
	return NewService(repo, c, domain.AnalyticsConfig{ResultTTL: time.Minute, OrderLimit: 100}), repo
}

func scenarioOrders() []*domain.Order {
	return []*domain.Order{
		order(1, "2024-01-01", "Furniture", "Chairs", 100, 10),
		order(2, "2024-01-10", "Furniture", "Tables", 200, 30),
		order(3, "2024-02-15", "Office", "Paper", 50, 5),
	}
}

func TestDelta(t *testing.T) {
	tests := []struct {
		name     string
		current  float64
		previous float64
		want     float64
	}{
		{"Unchanged", 250, 250, 0},
		{"UnchangedNegative", -40, -40, 0},
		{"Growth", 200, 100, 50},
		{"Decline", 100, 200, -100},
		{"FromZero", 300, 0, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Delta(tt.current, tt.previous)
			if err != nil {
				t.Fatalf("Delta failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("Delta(%g, %g) = %g, want %g", tt.current, tt.previous, got, tt.want)
			}
		})
	}

	t.Run("ZeroCurrent", func(t *testing.T) {
		got, err := Delta(0, 0)
		if !errors.Is(err, domain.ErrDivisionUndefined) {
			t.Errorf("expected ErrDivisionUndefined, got %v", err)
		}
		if !math.IsNaN(got) {
			t.Errorf("expected NaN, got %g", got)
		}

		got, err = Delta(0, 5)
		if !errors.Is(err, domain.ErrDivisionUndefined) || !math.IsInf(got, -1) {
			t.Errorf("expected -Inf and ErrDivisionUndefined, got %g, %v", got, err)
		}

		got, err = Delta(0, -5)
		if !errors.Is(err, domain.ErrDivisionUndefined) || !math.IsInf(got, 1) {
			t.Errorf("expected +Inf and ErrDivisionUndefined, got %g, %v", got, err)
		}
	})
}

func TestComparisonDelta(t *testing.T) {
	if d := (Comparison{Current: floatPtr(300)}).Delta(); d != nil {
		t.Errorf("expected nil delta for null previous, got %g", *d)
	}
	if d := (Comparison{Previous: floatPtr(300)}).Delta(); d != nil {
		t.Errorf("expected nil delta for null current, got %g", *d)
	}
	if d := (Comparison{Current: floatPtr(0), Previous: floatPtr(3)}).Delta(); d != nil {
		t.Errorf("expected nil delta for zero current, got %g", *d)
	}
	d := (Comparison{Current: floatPtr(200), Previous: floatPtr(150)}).Delta()
	if d == nil || *d != 25 {
		t.Errorf("expected delta 25, got %v", d)
	}
}

func TestAggregateScenario(t *testing.T) {
	svc, _ := newTestService(t, scenarioOrders())
	ctx := context.Background()
	sales := metric.MustParse(metric.Sales)

	cmp, err := svc.Aggregate(ctx, sales, domain.Sum, day("2024-01-31"), 30)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	if cmp.Current == nil || *cmp.Current != 300 {
		t.Errorf("expected current 300, got %v", cmp.Current)
	}
	if cmp.Previous != nil {
		t.Errorf("expected null previous, got %g", *cmp.Previous)
	}
	if cmp.Delta() != nil {
		t.Error("expected undefined delta against a null previous value")
	}
}

func TestBoundaryDay(t *testing.T) {
	// Reference 2024-01-31 with a 21 day window puts 2024-01-10 on the boundary
	svc, _ := newTestService(t, scenarioOrders())
	ctx := context.Background()

	cmp, err := svc.Aggregate(ctx, metric.MustParse(metric.Sales), domain.Sum, day("2024-01-31"), 21)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	if cmp.Current == nil || *cmp.Current != 200 {
		t.Errorf("expected the boundary day in the current window (200), got %v", cmp.Current)
	}
	if cmp.Previous == nil || *cmp.Previous != 100 {
		t.Errorf("expected only 2024-01-01 in the previous window (100), got %v", cmp.Previous)
	}
}

func TestEmptyWindow(t *testing.T) {
	svc, _ := newTestService(t, scenarioOrders())
	ctx := context.Background()
	ref := day("2024-02-08")

	count, err := svc.Aggregate(ctx, metric.MustParse(metric.Orders), domain.CountDistinct, ref, 3)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	if count.Current == nil || *count.Current != 0 || count.Previous == nil || *count.Previous != 0 {
		t.Errorf("expected (0, 0) for count_distinct, got %+v", count)
	}

	for _, kind := range []domain.AggregationKind{domain.Sum, domain.Average} {
		cmp, err := svc.Aggregate(ctx, metric.MustParse(metric.Sales), kind, ref, 3)
		if err != nil {
			t.Fatalf("Aggregate(%s) failed: %v", kind, err)
		}
		if cmp.Current != nil || cmp.Previous != nil {
			t.Errorf("expected (null, null) for %s, got %+v", kind, cmp)
		}
	}

	points, err := svc.Detail(ctx, metric.MustParse(metric.Sales), domain.Sum, ref, 3)
	if err != nil {
		t.Fatalf("Detail failed: %v", err)
	}
	if len(points) != 0 {
		t.Errorf("expected no points, got %d", len(points))
	}
}

// generatedOrders spreads orders over 120 days with a few null measures.
func generatedOrders() []*domain.Order {
	categories := []string{"Furniture", "Office Supplies", "Technology"}
	start := day("2023-09-01")
	var orders []*domain.Order
	for i := 0; i < 150; i++ {
		date := start.AddDate(0, 0, (i*7)%120).Format(domain.DateLayout)
		cat := categories[i%len(categories)]
		o := order(int64(i+1), date, cat, fmt.Sprintf("Sub-%d", i%5), float64(10+i%37)*1.25, float64(i%11-4)*2.5)
		o.CustomerID = fmt.Sprintf("CU-%d", i%17)
		if i%13 == 0 {
			o.Profit = nil
		}
		if i%19 == 0 {
			o.Sales = nil
		}
		orders = append(orders, o)
	}
	return orders
}

// scan reduces a column over the orders in r without touching the database.
func scan(orders []*domain.Order, column string, kind domain.AggregationKind, r domain.Range) *float64 {
	var values []float64
	distinct := make(map[string]bool)
	for _, o := range orders {
		if !r.Contains(o.OrderDate) {
			continue
		}
		switch column {
		case metric.Sales:
			if o.Sales != nil {
				values = append(values, *o.Sales)
			}
		case metric.Profit:
			if o.Profit != nil {
				values = append(values, *o.Profit)
			}
		case metric.Customers:
			distinct[o.CustomerID] = true
		}
	}

	switch kind {
	case domain.CountDistinct:
		n := float64(len(distinct))
		return &n
	case domain.Sum, domain.Average:
		if len(values) == 0 {
			return nil
		}
		total := 0.0
		for _, v := range values {
			total += v
		}
		if kind == domain.Average {
			total /= float64(len(values))
		}
		return &total
	}
	return nil
}

func closeTo(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return math.Abs(*a-*b) <= 1e-9*math.Max(1, math.Abs(*b))
}

func TestAggregateMatchesFullScan(t *testing.T) {
	orders := generatedOrders()
	svc, _ := newTestService(t, orders)
	ctx := context.Background()

	cases := []struct {
		column string
		kind   domain.AggregationKind
	}{
		{metric.Sales, domain.Sum},
		{metric.Sales, domain.Average},
		{metric.Profit, domain.Sum},
		{metric.Profit, domain.Average},
		{metric.Customers, domain.CountDistinct},
	}
	references := []string{"2023-09-01", "2023-10-15", "2023-11-30", "2023-12-29"}

	for _, c := range cases {
		for _, ref := range references {
			for _, days := range domain.WindowChoices[:3] {
				name := fmt.Sprintf("%s/%s/%s/%d", c.column, c.kind, ref, days)
				t.Run(name, func(t *testing.T) {
					cmp, err := svc.Aggregate(ctx, metric.MustParse(c.column), c.kind, day(ref), days)
					if err != nil {
						t.Fatalf("Aggregate failed: %v", err)
					}
					p, _ := domain.NewPeriod(day(ref), days)

					if want := scan(orders, c.column, c.kind, p.Current()); !closeTo(cmp.Current, want) {
						t.Errorf("current = %v, full scan = %v", cmp.Current, want)
					}
					if want := scan(orders, c.column, c.kind, p.Previous()); !closeTo(cmp.Previous, want) {
						t.Errorf("previous = %v, full scan = %v", cmp.Previous, want)
					}
				})
			}
		}
	}
}

func TestWindowsCoverSpanOnce(t *testing.T) {
	orders := generatedOrders()
	repo := newTestRepository(t, orders)
	svc := NewService(repo, nil, domain.AnalyticsConfig{})
	ctx := context.Background()
	sales := metric.MustParse(metric.Sales)

	value := func(v *float64) float64 {
		if v == nil {
			return 0
		}
		return *v
	}

	for _, ref := range []string{"2023-09-20", "2023-10-31", "2023-12-01"} {
		for _, days := range []int{1, 7, 28, 45} {
			t.Run(fmt.Sprintf("%s/%d", ref, days), func(t *testing.T) {
				cmp, err := svc.Aggregate(ctx, sales, domain.Sum, day(ref), days)
				if err != nil {
					t.Fatalf("Aggregate failed: %v", err)
				}
				p, _ := domain.NewPeriod(day(ref), days)
				span, err := repo.Aggregate(ctx, sales, domain.Sum, p.Span())
				if err != nil {
					t.Fatalf("Aggregate over span failed: %v", err)
				}

				got := value(cmp.Current) + value(cmp.Previous)
				if math.Abs(got-value(span)) > 1e-9 {
					t.Errorf("current + previous = %g, span = %g", got, value(span))
				}
			})
		}
	}
}

func TestCategoryBreakdown(t *testing.T) {
	svc, _ := newTestService(t, scenarioOrders())
	ctx := context.Background()

	stats, err := svc.CategoryBreakdown(ctx, day("2024-02-15"), 45)
	if err != nil {
		t.Fatalf("CategoryBreakdown failed: %v", err)
	}

	type row struct {
		category string
		count    int64
		mean     float64
	}
	got := make(map[string]row)
	perCategory := make(map[string][]domain.CategoryStat)
	for _, s := range stats {
		perCategory[*s.Category] = append(perCategory[*s.Category], s)
	}
	for category, cells := range perCategory {
		var count int64
		var total float64
		for _, c := range cells {
			count += c.OrderCount
			total += *c.MeanProfit * float64(c.OrderCount)
		}
		got[category] = row{category, count, total / float64(count)}
	}

	want := map[string]row{
		"Furniture": {"Furniture", 2, 20.0},
		"Office":    {"Office", 1, 5.0},
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d categories, got %d: %+v", len(want), len(got), got)
	}
	for k, w := range want {
		if got[k] != w {
			t.Errorf("category %s: expected %+v, got %+v", k, w, got[k])
		}
	}
}

func TestCategoryBreakdownSingleSubCategory(t *testing.T) {
	orders := []*domain.Order{
		order(1, "2024-01-01", "Furniture", "Chairs", 100, 10),
		order(2, "2024-01-10", "Furniture", "Chairs", 200, 30),
		order(3, "2024-01-12", "Office", "Paper", 50, 5),
	}
	svc, _ := newTestService(t, orders)

	stats, err := svc.CategoryBreakdown(context.Background(), day("2024-01-31"), 30)
	if err != nil {
		t.Fatalf("CategoryBreakdown failed: %v", err)
	}

	got := make([]string, 0, len(stats))
	for _, s := range stats {
		got = append(got, fmt.Sprintf("%s/%s/%d/%.1f", *s.Category, *s.SubCategory, s.OrderCount, *s.MeanProfit))
	}
	sort.Strings(got)

	want := []string{"Furniture/Chairs/2/20.0", "Office/Paper/1/5.0"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestDetail(t *testing.T) {
	svc, _ := newTestService(t, scenarioOrders())
	ctx := context.Background()

	points, err := svc.Detail(ctx, metric.MustParse(metric.Sales), domain.Sum, day("2024-01-31"), 30)
	if err != nil {
		t.Fatalf("Detail failed: %v", err)
	}
	if len(points) != 2 {
		t.Fatalf("expected 2 points, got %d", len(points))
	}
	if !points[0].Date.Equal(day("2024-01-01")) || *points[0].Value != 100 {
		t.Errorf("unexpected first point %+v", points[0])
	}
	if !points[1].Date.Equal(day("2024-01-10")) || *points[1].Value != 200 {
		t.Errorf("unexpected second point %+v", points[1])
	}

	byCategory, err := svc.DetailByCategory(ctx, metric.MustParse("row_id"), domain.CountDistinct, day("2024-02-15"), 45)
	if err != nil {
		t.Fatalf("DetailByCategory failed: %v", err)
	}
	if len(byCategory) != 3 {
		t.Fatalf("expected 3 (date, category) rows, got %d", len(byCategory))
	}
	if *byCategory[2].Category != "Office" || *byCategory[2].Value != 1 {
		t.Errorf("unexpected last row %+v", byCategory[2])
	}
}

func TestInvalidParameters(t *testing.T) {
	svc, _ := newTestService(t, scenarioOrders())
	ctx := context.Background()
	sales := metric.MustParse(metric.Sales)

	tests := []struct {
		name string
		run  func() error
		want error
	}{
		{"ZeroWindow", func() error {
			_, err := svc.Aggregate(ctx, sales, domain.Sum, day("2024-01-31"), 0)
			return err
		}, domain.ErrInvalidParameter},
		{"NegativeWindow", func() error {
			_, err := svc.Detail(ctx, sales, domain.Sum, day("2024-01-31"), -7)
			return err
		}, domain.ErrInvalidParameter},
		{"WindowOverflowsDates", func() error {
			_, err := svc.Aggregate(ctx, sales, domain.Sum, day("2024-01-31"), 1<<62)
			return err
		}, domain.ErrInvalidParameter},
		{"MaxIntWindow", func() error {
			_, err := svc.Aggregate(ctx, sales, domain.Sum, day("2024-01-31"), math.MaxInt64)
			return err
		}, domain.ErrInvalidParameter},
		{"WindowAboveCeiling", func() error {
			_, err := svc.Detail(ctx, sales, domain.Sum, day("2024-01-31"), domain.MaxWindowDays+1)
			return err
		}, domain.ErrInvalidParameter},
		{"UnknownKind", func() error {
			_, err := svc.Aggregate(ctx, sales, domain.AggregationKind(42), day("2024-01-31"), 7)
			return err
		}, domain.ErrInvalidParameter},
		{"ReferenceTooLate", func() error {
			_, err := svc.Aggregate(ctx, sales, domain.Sum, day("2025-06-01"), 7)
			return err
		}, domain.ErrInvalidParameter},
		{"ReferenceTooEarly", func() error {
			_, err := svc.CategoryBreakdown(ctx, day("2020-01-01"), 28)
			return err
		}, domain.ErrInvalidParameter},
		{"TextSum", func() error {
			_, err := svc.Aggregate(ctx, metric.MustParse(metric.Orders), domain.Sum, day("2024-01-31"), 7)
			return err
		}, domain.ErrQueryFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.run(); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}

	t.Run("ReferenceWithinOneWindow", func(t *testing.T) {
		if _, err := svc.Aggregate(ctx, sales, domain.Sum, day("2024-02-22"), 7); err != nil {
			t.Errorf("expected a reference one window past the data to be accepted, got %v", err)
		}
	})
}

func TestResultCache(t *testing.T) {
	svc, repo := newTestService(t, scenarioOrders())
	ctx := context.Background()

	first, err := svc.Aggregate(ctx, metric.MustParse("100 * profit / sales"), domain.Average, day("2024-01-31"), 30)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	queries := repo.aggregates.Load()
	if queries != 2 {
		t.Fatalf("expected 2 window queries on a miss, got %d", queries)
	}

	// Structurally equal expression, different text
	second, err := svc.Aggregate(ctx, metric.MustParse("(100*profit)/sales"), domain.Average, day("2024-01-31"), 30)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	if repo.aggregates.Load() != queries {
		t.Errorf("expected a cache hit, repository saw %d more queries", repo.aggregates.Load()-queries)
	}
	if !closeTo(first.Current, second.Current) || !closeTo(first.Previous, second.Previous) {
		t.Errorf("expected identical results, got %+v and %+v", first, second)
	}

	if _, err := svc.Aggregate(ctx, metric.MustParse("100 * profit / sales"), domain.Average, day("2024-01-31"), 28); err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	if repo.aggregates.Load() != queries+2 {
		t.Errorf("expected a different window to miss the cache")
	}

	_, _ = svc.Detail(ctx, metric.MustParse(metric.Sales), domain.Sum, day("2024-01-31"), 30)
	_, _ = svc.Detail(ctx, metric.MustParse(metric.Sales), domain.Sum, day("2024-01-31"), 30)
	if repo.details.Load() != 1 {
		t.Errorf("expected one detail query, got %d", repo.details.Load())
	}
}

func TestKPIs(t *testing.T) {
	orders := scenarioOrders()
	orders = append(orders, order(4, "2023-12-20", "Office", "Paper", 400, 20))
	svc, _ := newTestService(t, orders)

	kpis, err := svc.KPIs(context.Background(), day("2024-01-31"), 30)
	if err != nil {
		t.Fatalf("KPIs failed: %v", err)
	}
	if len(kpis) != 4 {
		t.Fatalf("expected 4 cards, got %d", len(kpis))
	}

	byName := make(map[string]KPI)
	for _, k := range kpis {
		byName[k.Name] = k
	}

	orderCard := byName["Number Orders"]
	if *orderCard.Current != 2 || *orderCard.Previous != 1 || *orderCard.Delta != 50 {
		t.Errorf("unexpected Number Orders card %+v", orderCard)
	}

	sales := byName["Total Sales"]
	if *sales.Current != 300 || *sales.Previous != 400 {
		t.Errorf("unexpected Total Sales card %+v", sales)
	}
	if want := 100 * (300.0 - 400.0) / 300.0; math.Abs(*sales.Delta-want) > 1e-9 {
		t.Errorf("expected sales delta %g, got %g", want, *sales.Delta)
	}
	if len(sales.Sparkline) != 2 {
		t.Errorf("expected 2 sparkline points, got %d", len(sales.Sparkline))
	}

	ratio := byName["Profit Ratio"]
	if math.Abs(*ratio.Current-100*40.0/300.0) > 1e-9 || math.Abs(*ratio.Previous-5) > 1e-9 {
		t.Errorf("unexpected Profit Ratio card current=%v previous=%v", *ratio.Current, *ratio.Previous)
	}
	if len(ratio.Sparkline) != 2 || math.Abs(*ratio.Sparkline[1].Value-15) > 1e-9 {
		t.Errorf("unexpected Profit Ratio sparkline %+v", ratio.Sparkline)
	}
}

func TestDashboard(t *testing.T) {
	svc, _ := newTestService(t, scenarioOrders())
	ctx := context.Background()

	d, err := svc.Dashboard(ctx, day("2024-01-31"), 30)
	if err != nil {
		t.Fatalf("Dashboard failed: %v", err)
	}
	if d.Reference != "2024-01-31" || d.WindowDays != 30 {
		t.Errorf("unexpected header %s/%d", d.Reference, d.WindowDays)
	}
	if len(d.Errors) != 0 {
		t.Errorf("expected no widget errors, got %v", d.Errors)
	}
	if len(d.KPIs) != 4 || len(d.Breakdown) != 2 || len(d.Orders) != 2 || len(d.CategoryTrend) != 2 {
		t.Errorf("unexpected widget sizes kpis=%d breakdown=%d orders=%d trend=%d",
			len(d.KPIs), len(d.Breakdown), len(d.Orders), len(d.CategoryTrend))
	}

	if _, err := svc.Dashboard(ctx, day("2024-01-31"), 0); !errors.Is(err, domain.ErrInvalidParameter) {
		t.Errorf("expected ErrInvalidParameter for a zero window, got %v", err)
	}
}

// brokenBreakdown fails the cross-tab query only.
type brokenBreakdown struct {
	domain.Repository
}

func (brokenBreakdown) CategoryBreakdown(ctx context.Context, r domain.Range) ([]domain.CategoryStat, error) {
	return nil, fmt.Errorf("%w: connection reset", domain.ErrQueryFailure)
}

func TestDashboardWidgetFailure(t *testing.T) {
	repo := brokenBreakdown{newTestRepository(t, scenarioOrders())}
	svc := NewService(repo, cache.NewMemoryCache(), domain.AnalyticsConfig{})

	d, err := svc.Dashboard(context.Background(), day("2024-01-31"), 30)
	if err != nil {
		t.Fatalf("Dashboard failed: %v", err)
	}
	if _, ok := d.Errors["breakdown"]; !ok {
		t.Errorf("expected breakdown error, got %v", d.Errors)
	}
	if len(d.KPIs) != 4 {
		t.Errorf("expected the other widgets to render, got %d cards", len(d.KPIs))
	}
}

// failingMetric fails aggregates or daily series for a single metric.
type failingMetric struct {
	domain.Repository
	canonical string
	aggregate bool
}

func (r failingMetric) Aggregate(ctx context.Context, m domain.Metric, kind domain.AggregationKind, rg domain.Range) (*float64, error) {
	if r.aggregate && m.Canonical() == r.canonical {
		return nil, fmt.Errorf("%w: statement timeout", domain.ErrQueryFailure)
	}
	return r.Repository.Aggregate(ctx, m, kind, rg)
}

func (r failingMetric) Detail(ctx context.Context, m domain.Metric, kind domain.AggregationKind, rg domain.Range) ([]domain.Point, error) {
	if !r.aggregate && m.Canonical() == r.canonical {
		return nil, fmt.Errorf("%w: statement timeout", domain.ErrQueryFailure)
	}
	return r.Repository.Detail(ctx, m, kind, rg)
}

func TestKPIsCardFailure(t *testing.T) {
	ctx := context.Background()

	cardsByName := func(t *testing.T, repo domain.Repository) map[string]KPI {
		t.Helper()
		svc := NewService(repo, cache.NewMemoryCache(), domain.AnalyticsConfig{})
		kpis, err := svc.KPIs(ctx, day("2024-01-31"), 30)
		if err != nil {
			t.Fatalf("KPIs failed: %v", err)
		}
		if len(kpis) != 4 {
			t.Fatalf("expected 4 cards, got %d", len(kpis))
		}
		byName := make(map[string]KPI)
		for _, k := range kpis {
			byName[k.Name] = k
		}
		return byName
	}

	t.Run("SparklineFailureStaysOnItsCard", func(t *testing.T) {
		repo := failingMetric{
			Repository: newTestRepository(t, scenarioOrders()),
			canonical:  profitRatioMetric.Canonical(),
		}
		cards := cardsByName(t, repo)

		for _, name := range []string{"Number Orders", "Total Sales", "Total Profit"} {
			k := cards[name]
			if k.Error != "" || k.Current == nil || len(k.Sparkline) == 0 {
				t.Errorf("expected %s to render, got %+v", name, k)
			}
		}
		ratio := cards["Profit Ratio"]
		if ratio.Error == "" || ratio.Sparkline != nil {
			t.Errorf("expected Profit Ratio to carry its error, got %+v", ratio)
		}
		if ratio.Current == nil {
			t.Error("expected Profit Ratio comparison to survive a sparkline failure")
		}
	})

	t.Run("InputFailureBlanksRatio", func(t *testing.T) {
		repo := failingMetric{
			Repository: newTestRepository(t, scenarioOrders()),
			canonical:  salesMetric.Canonical(),
			aggregate:  true,
		}
		cards := cardsByName(t, repo)

		sales := cards["Total Sales"]
		if sales.Error == "" || sales.Current != nil {
			t.Errorf("expected Total Sales to fail, got %+v", sales)
		}
		if len(sales.Sparkline) == 0 {
			t.Error("expected Total Sales sparkline to render")
		}
		if cards["Total Profit"].Error != "" || cards["Number Orders"].Error != "" {
			t.Errorf("expected the other cards to render, got %+v", cards)
		}
		ratio := cards["Profit Ratio"]
		if ratio.Error == "" || ratio.Current != nil || ratio.Delta != nil {
			t.Errorf("expected Profit Ratio without a comparison, got %+v", ratio)
		}
	})

	t.Run("DashboardListsFailedCards", func(t *testing.T) {
		repo := failingMetric{
			Repository: newTestRepository(t, scenarioOrders()),
			canonical:  profitRatioMetric.Canonical(),
		}
		svc := NewService(repo, cache.NewMemoryCache(), domain.AnalyticsConfig{})
		d, err := svc.Dashboard(ctx, day("2024-01-31"), 30)
		if err != nil {
			t.Fatalf("Dashboard failed: %v", err)
		}
		if _, ok := d.Errors["kpis.Profit Ratio"]; !ok {
			t.Errorf("expected the failed card in Errors, got %v", d.Errors)
		}
		if _, ok := d.Errors["kpis"]; ok {
			t.Errorf("expected the card set itself to succeed, got %v", d.Errors)
		}
	})

	t.Run("InvalidPeriodFailsCall", func(t *testing.T) {
		svc, _ := newTestService(t, scenarioOrders())
		if _, err := svc.KPIs(ctx, day("2024-01-31"), 0); !errors.Is(err, domain.ErrInvalidParameter) {
			t.Errorf("expected ErrInvalidParameter, got %v", err)
		}
	})
}
