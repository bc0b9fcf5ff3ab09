// Package analytics answers the dashboard's period-comparison questions:
// aggregates over the current and previous windows, daily series and the
// category cross-tab. Every result goes through the result cache.
package analytics

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
)

var tracer = otel.Tracer("kestrel-analytics")

// Service runs window queries against the repository and memoizes the results.
type Service struct {
	repo       domain.Repository
	cache      domain.Cache
	ttl        time.Duration
	orderLimit int
}

// NewService creates a new analytics service. A nil cache disables memoization.
func NewService(repo domain.Repository, c domain.Cache, cfg domain.AnalyticsConfig) *Service {
	ttl := cfg.ResultTTL
	if ttl <= 0 {
		ttl = domain.DefaultResultTTL
	}
	return &Service{
		repo:       repo,
		cache:      c,
		ttl:        ttl,
		orderLimit: cfg.OrderLimit,
	}
}

// OrderLimit is the most order rows Orders returns, zero when uncapped.
func (s *Service) OrderLimit() int {
	return s.orderLimit
}

// Bounds are the earliest and latest order dates, nil when there are no orders.
type Bounds struct {
	Min *time.Time `json:"min"`
	Max *time.Time `json:"max"`
}

// DateRange returns the observed order date bounds.
func (s *Service) DateRange(ctx context.Context) (Bounds, error) {
	ctx, span := tracer.Start(ctx, "analytics.DateRange")
	defer span.End()

	key := cache.Key{Query: cache.QueryDateRange}
	return cache.GetOrCompute(ctx, s.cache, key, s.ttl, func(ctx context.Context) (Bounds, error) {
		lo, hi, err := s.repo.DateRange(ctx)
		if err != nil {
			return Bounds{}, err
		}
		return Bounds{Min: lo, Max: hi}, nil
	})
}

// Period validates a request's reference date and window. The reference date
// must lie within the observed data range widened by one window on each side.
func (s *Service) Period(ctx context.Context, reference time.Time, days int) (domain.Period, error) {
	p, err := domain.NewPeriod(reference, days)
	if err != nil {
		return domain.Period{}, err
	}

	bounds, err := s.DateRange(ctx)
	if err != nil {
		return domain.Period{}, err
	}
	if bounds.Min == nil || bounds.Max == nil {
		return p, nil
	}

	lo := domain.Day(*bounds.Min).AddDate(0, 0, -days)
	hi := domain.Day(*bounds.Max).AddDate(0, 0, days)
	if p.Reference.Before(lo) || p.Reference.After(hi) {
		return domain.Period{}, fmt.Errorf("%w: reference date %s is outside the data range %s to %s",
			domain.ErrInvalidParameter,
			p.Reference.Format(domain.DateLayout),
			bounds.Min.Format(domain.DateLayout),
			bounds.Max.Format(domain.DateLayout),
		)
	}
	return p, nil
}

// Aggregate reduces metric over the current and the previous window.
func (s *Service) Aggregate(ctx context.Context, m domain.Metric, kind domain.AggregationKind, reference time.Time, days int) (Comparison, error) {
	ctx, span := s.start(ctx, "analytics.Aggregate", m, kind, days)
	defer span.End()

	if err := checkMetric(m, kind); err != nil {
		return Comparison{}, err
	}
	p, err := s.Period(ctx, reference, days)
	if err != nil {
		return Comparison{}, err
	}

	key := cache.NewKey(cache.QueryAggregate, m, kind, p)
	return cache.GetOrCompute(ctx, s.cache, key, s.ttl, func(ctx context.Context) (Comparison, error) {
		current, err := s.repo.Aggregate(ctx, m, kind, p.Current())
		if err != nil {
			return Comparison{}, err
		}
		previous, err := s.repo.Aggregate(ctx, m, kind, p.Previous())
		if err != nil {
			return Comparison{}, err
		}
		return Comparison{Current: current, Previous: previous}, nil
	})
}

// Detail returns the daily series of metric over the current window.
// Days without orders are absent.
func (s *Service) Detail(ctx context.Context, m domain.Metric, kind domain.AggregationKind, reference time.Time, days int) ([]domain.Point, error) {
	ctx, span := s.start(ctx, "analytics.Detail", m, kind, days)
	defer span.End()

	if err := checkMetric(m, kind); err != nil {
		return nil, err
	}
	p, err := s.Period(ctx, reference, days)
	if err != nil {
		return nil, err
	}

	key := cache.NewKey(cache.QueryDetail, m, kind, p)
	return cache.GetOrCompute(ctx, s.cache, key, s.ttl, func(ctx context.Context) ([]domain.Point, error) {
		return s.repo.Detail(ctx, m, kind, p.Current())
	})
}

// DetailByCategory returns the daily series of metric over the current window,
// one value per (date, category).
func (s *Service) DetailByCategory(ctx context.Context, m domain.Metric, kind domain.AggregationKind, reference time.Time, days int) ([]domain.CategoryPoint, error) {
	ctx, span := s.start(ctx, "analytics.DetailByCategory", m, kind, days)
	defer span.End()

	if err := checkMetric(m, kind); err != nil {
		return nil, err
	}
	p, err := s.Period(ctx, reference, days)
	if err != nil {
		return nil, err
	}

	key := cache.NewKey(cache.QueryDetailByCategory, m, kind, p).WithGroup("category")
	return cache.GetOrCompute(ctx, s.cache, key, s.ttl, func(ctx context.Context) ([]domain.CategoryPoint, error) {
		return s.repo.DetailByCategory(ctx, m, kind, p.Current())
	})
}

// CategoryBreakdown returns order count and mean profit per (category, sub_category)
// in the current window. Groups without orders are absent.
func (s *Service) CategoryBreakdown(ctx context.Context, reference time.Time, days int) ([]domain.CategoryStat, error) {
	ctx, span := tracer.Start(ctx, "analytics.CategoryBreakdown",
		trace.WithAttributes(attribute.Int("window_days", days)),
	)
	defer span.End()

	p, err := s.Period(ctx, reference, days)
	if err != nil {
		return nil, err
	}

	key := cache.NewKey(cache.QueryBreakdown, nil, 0, p).WithGroup("category,sub_category")
	return cache.GetOrCompute(ctx, s.cache, key, s.ttl, func(ctx context.Context) ([]domain.CategoryStat, error) {
		return s.repo.CategoryBreakdown(ctx, p.Current())
	})
}

// Orders returns the order rows of the current window, newest first, capped at
// the configured order limit.
func (s *Service) Orders(ctx context.Context, reference time.Time, days int) ([]*domain.Order, error) {
	ctx, span := tracer.Start(ctx, "analytics.Orders",
		trace.WithAttributes(attribute.Int("window_days", days)),
	)
	defer span.End()

	p, err := s.Period(ctx, reference, days)
	if err != nil {
		return nil, err
	}

	key := cache.NewKey(cache.QueryOrders, nil, 0, p).WithGroup(strconv.Itoa(s.orderLimit))
	return cache.GetOrCompute(ctx, s.cache, key, s.ttl, func(ctx context.Context) ([]*domain.Order, error) {
		return s.repo.Orders(ctx, p.Current(), s.orderLimit)
	})
}

func (s *Service) start(ctx context.Context, name string, m domain.Metric, kind domain.AggregationKind, days int) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{
		attribute.String("kind", kind.String()),
		attribute.Int("window_days", days),
	}
	if m != nil {
		attrs = append(attrs, attribute.String("metric", m.Canonical()))
	}
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// checkMetric rejects reductions the data source cannot evaluate.
func checkMetric(m domain.Metric, kind domain.AggregationKind) error {
	if m == nil {
		return fmt.Errorf("%w: metric is required", domain.ErrInvalidParameter)
	}
	if !kind.Valid() {
		return fmt.Errorf("%w: unsupported aggregation kind %s", domain.ErrInvalidParameter, kind)
	}
	if kind != domain.CountDistinct && !m.Numeric() {
		return fmt.Errorf("%w: cannot %s non-numeric metric %q", domain.ErrQueryFailure, kind, m.Canonical())
	}
	return nil
}
