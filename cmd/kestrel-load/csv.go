package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// dateLayouts are the order date formats found in spreadsheet exports.
var dateLayouts = []string{
	domain.DateLayout,
	"1/2/2006",
	"01/02/2006",
	"2006-01-02 15:04:05",
	time.RFC3339,
}

var headerReplacer = strings.NewReplacer(" ", "_", "/", "_", "-", "_")

// normalizeHeader maps a spreadsheet header such as "Sub-Category" or
// "Country/Region" to its column name.
func normalizeHeader(h string) string {
	h = strings.TrimPrefix(h, "\ufeff")
	return headerReplacer.Replace(strings.ToLower(strings.TrimSpace(h)))
}

// row reads the cells of one record by column name.
type row struct {
	index  map[string]int
	record []string
	line   int
}

func (r row) cell(column string) string {
	i, ok := r.index[column]
	if !ok || i >= len(r.record) {
		return ""
	}
	return strings.TrimSpace(r.record[i])
}

func (r row) text(column string) *string {
	v := r.cell(column)
	if v == "" {
		return nil
	}
	return &v
}

func (r row) real(column string) (*float64, error) {
	v := r.cell(column)
	if v == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(strings.ReplaceAll(v, ",", ""), 64)
	if err != nil {
		return nil, fmt.Errorf("line %d: %s: %w", r.line, column, err)
	}
	return &f, nil
}

func (r row) integer(column string) (int64, error) {
	v := r.cell(column)
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return n, nil
	}
	// Spreadsheet exports sometimes write integers as 2.0
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f != math.Trunc(f) {
		return 0, fmt.Errorf("line %d: %s: invalid integer %q", r.line, column, v)
	}
	return int64(f), nil
}

func (r row) date(column string) (time.Time, error) {
	v := r.cell(column)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("line %d: %s: unrecognised date %q", r.line, column, v)
}

// requiredColumns must appear in the header. row_id is optional and numbered
// from 1 when absent.
var requiredColumns = []string{
	"order_id", "order_date", "ship_date", "customer_id", "customer_name",
	"product_id", "product_name", "quantity",
}

// readOrders parses a CSV export of the superstore spreadsheet.
func readOrders(src io.Reader) ([]*domain.Order, error) {
	reader := csv.NewReader(src)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	index := make(map[string]int, len(header))
	for i, col := range header {
		name := normalizeHeader(col)
		if _, ok := domain.LookupColumn(name); !ok {
			continue
		}
		index[name] = i
	}
	for _, col := range requiredColumns {
		if _, ok := index[col]; !ok {
			return nil, fmt.Errorf("missing column %q in header", col)
		}
	}

	var orders []*domain.Order
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		o, err := parseOrder(row{index: index, record: record, line: line}, int64(len(orders)+1))
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}

	return orders, nil
}

func parseOrder(r row, fallbackID int64) (*domain.Order, error) {
	var err error
	o := &domain.Order{
		RowID:         fallbackID,
		OrderID:       r.cell("order_id"),
		CustomerID:    r.cell("customer_id"),
		CustomerName:  r.cell("customer_name"),
		ProductID:     r.cell("product_id"),
		ProductName:   r.cell("product_name"),
		ShipMode:      r.text("ship_mode"),
		Segment:       r.text("segment"),
		CountryRegion: r.text("country_region"),
		City:          r.text("city"),
		StateProvince: r.text("state_province"),
		PostalCode:    r.text("postal_code"),
		Region:        r.text("region"),
		Category:      r.text("category"),
		SubCategory:   r.text("sub_category"),
	}

	if r.cell("row_id") != "" {
		if o.RowID, err = r.integer("row_id"); err != nil {
			return nil, err
		}
	}
	if o.OrderDate, err = r.date("order_date"); err != nil {
		return nil, err
	}
	if o.ShipDate, err = r.date("ship_date"); err != nil {
		return nil, err
	}
	if o.Quantity, err = r.integer("quantity"); err != nil {
		return nil, err
	}
	if o.Sales, err = r.real("sales"); err != nil {
		return nil, err
	}
	if o.Discount, err = r.real("discount"); err != nil {
		return nil, err
	}
	if o.Profit, err = r.real("profit"); err != nil {
		return nil, err
	}

	return o, nil
}
