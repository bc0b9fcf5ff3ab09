package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

const rangePredicate = "order_date >= ? AND order_date < ?"

// aggregateSQL renders the reduction of metric for kind.
func aggregateSQL(metric domain.Metric, kind domain.AggregationKind) (string, error) {
	if metric == nil {
		return "", fmt.Errorf("%w: metric is required", domain.ErrInvalidParameter)
	}

	switch kind {
	case domain.Sum:
		return "SUM(" + metric.SQL() + ")", nil
	case domain.CountDistinct:
		return "COUNT(DISTINCT " + metric.SQL() + ")", nil
	case domain.Average:
		return "AVG(" + metric.SQL() + ")", nil
	default:
		return "", fmt.Errorf("%w: unsupported aggregation kind %s", domain.ErrInvalidParameter, kind)
	}
}

// Aggregate reduces metric over the rows whose order date falls in rg.
func (r *SQLRepository) Aggregate(ctx context.Context, metric domain.Metric, kind domain.AggregationKind, rg domain.Range) (*float64, error) {
	agg, err := aggregateSQL(metric, kind)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE %s
	`, agg, domain.TableName, rangePredicate)

	var value sql.NullFloat64
	if err := r.db.QueryRowContext(ctx, r.rebind(query), rg.From, rg.To).Scan(&value); err != nil {
		return nil, queryFailure("aggregate "+kind.String(), err)
	}

	return nullFloat(value), nil
}

// Detail returns one value per distinct order date in rg, ascending.
func (r *SQLRepository) Detail(ctx context.Context, metric domain.Metric, kind domain.AggregationKind, rg domain.Range) ([]domain.Point, error) {
	agg, err := aggregateSQL(metric, kind)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT order_date, %s
		FROM %s
		WHERE %s
		GROUP BY order_date
		ORDER BY order_date
	`, agg, domain.TableName, rangePredicate)

	rows, err := r.db.QueryContext(ctx, r.rebind(query), rg.From, rg.To)
	if err != nil {
		return nil, queryFailure("detail "+kind.String(), err)
	}
	defer rows.Close()

	points := make([]domain.Point, 0)
	for rows.Next() {
		var day time.Time
		var value sql.NullFloat64

		if err := rows.Scan(&day, &value); err != nil {
			return nil, queryFailure("detail scan", err)
		}

		points = append(points, domain.Point{
			Date:  day.UTC(),
			Value: nullFloat(value),
		})
	}

	if err := rows.Err(); err != nil {
		return nil, queryFailure("detail rows", err)
	}
	return points, nil
}

// DetailByCategory returns one value per (order date, category) in rg,
// ordered by date then category.
func (r *SQLRepository) DetailByCategory(ctx context.Context, metric domain.Metric, kind domain.AggregationKind, rg domain.Range) ([]domain.CategoryPoint, error) {
	agg, err := aggregateSQL(metric, kind)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT order_date, category, %s
		FROM %s
		WHERE %s
		GROUP BY order_date, category
		ORDER BY order_date, category
	`, agg, domain.TableName, rangePredicate)

	rows, err := r.db.QueryContext(ctx, r.rebind(query), rg.From, rg.To)
	if err != nil {
		return nil, queryFailure("detail by category "+kind.String(), err)
	}
	defer rows.Close()

	points := make([]domain.CategoryPoint, 0)
	for rows.Next() {
		var day time.Time
		var category sql.NullString
		var value sql.NullFloat64

		if err := rows.Scan(&day, &category, &value); err != nil {
			return nil, queryFailure("detail by category scan", err)
		}

		points = append(points, domain.CategoryPoint{
			Date:     day.UTC(),
			Category: nullString(category),
			Value:    nullFloat(value),
		})
	}

	if err := rows.Err(); err != nil {
		return nil, queryFailure("detail by category rows", err)
	}
	return points, nil
}

// CategoryBreakdown returns order count and mean profit per (category, sub_category)
// for the groups that have at least one order in rg.
func (r *SQLRepository) CategoryBreakdown(ctx context.Context, rg domain.Range) ([]domain.CategoryStat, error) {
	query := fmt.Sprintf(`
		SELECT category, sub_category, COUNT(*), AVG(profit)
		FROM %s
		WHERE %s
		GROUP BY category, sub_category
		ORDER BY category, sub_category
	`, domain.TableName, rangePredicate)

	rows, err := r.db.QueryContext(ctx, r.rebind(query), rg.From, rg.To)
	if err != nil {
		return nil, queryFailure("category breakdown", err)
	}
	defer rows.Close()

	stats := make([]domain.CategoryStat, 0)
	for rows.Next() {
		var category, subCategory sql.NullString
		var count int64
		var meanProfit sql.NullFloat64

		if err := rows.Scan(&category, &subCategory, &count, &meanProfit); err != nil {
			return nil, queryFailure("category breakdown scan", err)
		}

		stats = append(stats, domain.CategoryStat{
			Category:    nullString(category),
			SubCategory: nullString(subCategory),
			OrderCount:  count,
			MeanProfit:  nullFloat(meanProfit),
		})
	}

	if err := rows.Err(); err != nil {
		return nil, queryFailure("category breakdown rows", err)
	}
	return stats, nil
}

// orderColumns is the select list matching scanOrder.
var orderColumns = strings.Join(domain.ColumnNames(), ", ")

// Orders returns the order rows in rg, newest first.
func (r *SQLRepository) Orders(ctx context.Context, rg domain.Range, limit int) ([]*domain.Order, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE %s
		ORDER BY order_date DESC, row_id DESC
	`, orderColumns, domain.TableName, rangePredicate)
	if limit > 0 {
		query += fmt.Sprintf("LIMIT %d", limit)
	}

	rows, err := r.db.QueryContext(ctx, r.rebind(query), rg.From, rg.To)
	if err != nil {
		return nil, queryFailure("orders", err)
	}
	defer rows.Close()

	orders := make([]*domain.Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, queryFailure("orders scan", err)
		}
		orders = append(orders, o)
	}

	if err := rows.Err(); err != nil {
		return nil, queryFailure("orders rows", err)
	}
	return orders, nil
}

// DateRange returns the earliest and latest order dates.
// Both are nil when the table is empty.
func (r *SQLRepository) DateRange(ctx context.Context) (*time.Time, *time.Time, error) {
	// ORDER BY + LIMIT keeps the column's declared type, which MIN/MAX lose on SQLite.
	bound := func(direction string) (*time.Time, error) {
		query := fmt.Sprintf(`
			SELECT order_date
			FROM %s
			ORDER BY order_date %s
			LIMIT 1
		`, domain.TableName, direction)

		var t time.Time
		err := r.db.QueryRowContext(ctx, query).Scan(&t)
		if err == sql.ErrNoRows {
			return nil, nil
		}
		if err != nil {
			return nil, queryFailure("date range", err)
		}
		t = t.UTC()
		return &t, nil
	}

	lo, err := bound("ASC")
	if err != nil {
		return nil, nil, err
	}
	hi, err := bound("DESC")
	if err != nil {
		return nil, nil, err
	}
	return lo, hi, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(s scanner) (*domain.Order, error) {
	var o domain.Order
	var (
		shipMode, segment, countryRegion, city, stateProvince sql.NullString
		postalCode, region, category, subCategory             sql.NullString
		sales, discount, profit                               sql.NullFloat64
	)

	if err := s.Scan(
		&o.RowID, &o.OrderID, &o.OrderDate, &o.ShipDate, &shipMode,
		&o.CustomerID, &o.CustomerName, &segment, &countryRegion, &city,
		&stateProvince, &postalCode, &region, &o.ProductID, &category,
		&subCategory, &o.ProductName, &sales, &o.Quantity, &discount,
		&profit,
	); err != nil {
		return nil, err
	}

	o.OrderDate = o.OrderDate.UTC()
	o.ShipDate = o.ShipDate.UTC()
	o.ShipMode = nullString(shipMode)
	o.Segment = nullString(segment)
	o.CountryRegion = nullString(countryRegion)
	o.City = nullString(city)
	o.StateProvince = nullString(stateProvince)
	o.PostalCode = nullString(postalCode)
	o.Region = nullString(region)
	o.Category = nullString(category)
	o.SubCategory = nullString(subCategory)
	o.Sales = nullFloat(sales)
	o.Discount = nullFloat(discount)
	o.Profit = nullFloat(profit)

	return &o, nil
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
