package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// LoadOrders inserts orders in a single transaction.
// Only the dataset loader writes to the table.
func (r *SQLRepository) LoadOrders(ctx context.Context, orders []*domain.Order) error {
	if len(orders) == 0 {
		return nil
	}
	return r.inTx(ctx, "load orders", func(tx *sql.Tx) error {
		return r.insertOrders(ctx, tx, orders, nil)
	})
}

// ReplaceOrders swaps the table contents for orders in one transaction.
// On any failure the previous rows are left in place. progress, when
// non-nil, is called after each inserted row.
func (r *SQLRepository) ReplaceOrders(ctx context.Context, orders []*domain.Order, progress func(int)) error {
	for _, o := range orders {
		if err := validateOrder(o); err != nil {
			return err
		}
	}
	return r.inTx(ctx, "replace orders", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+domain.TableName); err != nil {
			return queryFailure("replace orders", err)
		}
		return r.insertOrders(ctx, tx, orders, progress)
	})
}

// Truncate removes every order.
func (r *SQLRepository) Truncate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM "+domain.TableName); err != nil {
		return queryFailure("truncate", err)
	}
	return nil
}

func (r *SQLRepository) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return queryFailure(op, err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return queryFailure(op+" commit", err)
	}
	return nil
}

func (r *SQLRepository) insertOrders(ctx context.Context, tx *sql.Tx, orders []*domain.Order, progress func(int)) error {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(domain.Columns)), ", ")
	query := fmt.Sprintf(`
		INSERT INTO %s (%s) VALUES (%s)
	`, domain.TableName, orderColumns, placeholders)

	stmt, err := tx.PrepareContext(ctx, r.rebind(query))
	if err != nil {
		return queryFailure("load orders", err)
	}
	defer stmt.Close()

	for _, o := range orders {
		if err := validateOrder(o); err != nil {
			return err
		}

		_, err := stmt.ExecContext(ctx,
			o.RowID, o.OrderID, o.OrderDate.UTC(), o.ShipDate.UTC(), o.ShipMode,
			o.CustomerID, o.CustomerName, o.Segment, o.CountryRegion, o.City,
			o.StateProvince, o.PostalCode, o.Region, o.ProductID, o.Category,
			o.SubCategory, o.ProductName, o.Sales, o.Quantity, o.Discount,
			o.Profit,
		)
		if err != nil {
			return queryFailure(fmt.Sprintf("load order row %d", o.RowID), err)
		}
		if progress != nil {
			progress(1)
		}
	}
	return nil
}

func validateOrder(o *domain.Order) error {
	switch {
	case o == nil:
		return fmt.Errorf("%w: nil order", ErrInvalidInput)
	case o.RowID <= 0:
		return fmt.Errorf("%w: row_id must be positive", ErrInvalidInput)
	case o.OrderID == "" || o.CustomerID == "" || o.ProductID == "":
		return fmt.Errorf("%w: row %d: order_id, customer_id and product_id are required", ErrInvalidInput, o.RowID)
	case o.OrderDate.IsZero() || o.ShipDate.IsZero():
		return fmt.Errorf("%w: row %d: order_date and ship_date are required", ErrInvalidInput, o.RowID)
	}
	return nil
}
