package domain

import (
	"time"
)

// TableName is the order table populated by the dataset loader.
const TableName = "superstore"

// Order is one line item of the superstore dataset.
// Rows are immutable once loaded.
type Order struct {
	// Surrogate key, no business meaning
	RowID int64 `json:"rowId"`

	// Identifiers
	OrderID    string `json:"orderId"`
	CustomerID string `json:"customerId"`
	ProductID  string `json:"productId"`

	// Temporal (ShipDate >= OrderDate is assumed, never enforced)
	OrderDate time.Time `json:"orderDate"`
	ShipDate  time.Time `json:"shipDate"`

	// Categorical attributes
	ShipMode      *string `json:"shipMode"`
	Segment       *string `json:"segment"`
	CountryRegion *string `json:"countryRegion"`
	City          *string `json:"city"`
	StateProvince *string `json:"stateProvince"`
	PostalCode    *string `json:"postalCode"`
	Region        *string `json:"region"`
	Category      *string `json:"category"`
	SubCategory   *string `json:"subCategory"`

	// Descriptive
	CustomerName string `json:"customerName"`
	ProductName  string `json:"productName"`

	// Measures
	Sales    *float64 `json:"sales"`
	Quantity int64    `json:"quantity"`
	Discount *float64 `json:"discount"`
	Profit   *float64 `json:"profit"`
}

// ColumnType is the storage class of a superstore column.
type ColumnType string

const (
	ColumnText      ColumnType = "text"
	ColumnReal      ColumnType = "real"
	ColumnInteger   ColumnType = "integer"
	ColumnTimestamp ColumnType = "timestamp"
)

// Numeric reports whether values of the column can be summed or averaged.
func (t ColumnType) Numeric() bool {
	return t == ColumnReal || t == ColumnInteger
}

// Column describes one column of the superstore table.
type Column struct {
	Name     string
	Type     ColumnType
	Nullable bool
}

// Columns lists the superstore columns in table order.
var Columns = []Column{
	{Name: "row_id", Type: ColumnInteger},
	{Name: "order_id", Type: ColumnText},
	{Name: "order_date", Type: ColumnTimestamp},
	{Name: "ship_date", Type: ColumnTimestamp},
	{Name: "ship_mode", Type: ColumnText, Nullable: true},
	{Name: "customer_id", Type: ColumnText},
	{Name: "customer_name", Type: ColumnText},
	{Name: "segment", Type: ColumnText, Nullable: true},
	{Name: "country_region", Type: ColumnText, Nullable: true},
	{Name: "city", Type: ColumnText, Nullable: true},
	{Name: "state_province", Type: ColumnText, Nullable: true},
	{Name: "postal_code", Type: ColumnText, Nullable: true},
	{Name: "region", Type: ColumnText, Nullable: true},
	{Name: "product_id", Type: ColumnText},
	{Name: "category", Type: ColumnText, Nullable: true},
	{Name: "sub_category", Type: ColumnText, Nullable: true},
	{Name: "product_name", Type: ColumnText},
	{Name: "sales", Type: ColumnReal, Nullable: true},
	{Name: "quantity", Type: ColumnInteger},
	{Name: "discount", Type: ColumnReal, Nullable: true},
	{Name: "profit", Type: ColumnReal, Nullable: true},
}

// LookupColumn returns the column with the given name.
func LookupColumn(name string) (Column, bool) {
	for _, c := range Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// ColumnNames returns the column names in table order.
func ColumnNames() []string {
	names := make([]string, len(Columns))
	for i, c := range Columns {
		names[i] = c.Name
	}
	return names
}
