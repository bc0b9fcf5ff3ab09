package repository

import (
	"fmt"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// columnTypes maps column storage classes to each dialect's SQL types.
var columnTypes = map[string]map[domain.ColumnType]string{
	"sqlite": {
		domain.ColumnText:      "TEXT",
		domain.ColumnReal:      "REAL",
		domain.ColumnInteger:   "INTEGER",
		domain.ColumnTimestamp: "TIMESTAMP",
	},
	"postgres": {
		domain.ColumnText:      "TEXT",
		domain.ColumnReal:      "DOUBLE PRECISION",
		domain.ColumnInteger:   "BIGINT",
		domain.ColumnTimestamp: "TIMESTAMP",
	},
	"mysql": {
		domain.ColumnText:      "VARCHAR(255)",
		domain.ColumnReal:      "DOUBLE",
		domain.ColumnInteger:   "BIGINT",
		domain.ColumnTimestamp: "DATETIME",
	},
}

// Schemas returns the DDL statements for the superstore table in order.
// Tables created by an external loader are left untouched.
func Schemas(driver string) []string {
	types, ok := columnTypes[driver]
	if !ok {
		types = columnTypes["sqlite"]
	}

	defs := make([]string, 0, len(domain.Columns)+2)
	for _, c := range domain.Columns {
		def := "    " + c.Name + " " + types[c.Type]
		switch {
		case c.Name == "row_id":
			def += " PRIMARY KEY"
		case !c.Nullable:
			def += " NOT NULL"
		}
		defs = append(defs, def)
	}

	if driver == "mysql" {
		// MySQL has no CREATE INDEX IF NOT EXISTS
		defs = append(defs, "    INDEX idx_superstore_order_date (order_date)")
		return []string{createTable(defs)}
	}

	return []string{
		createTable(defs),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_superstore_order_date ON %s(order_date)", domain.TableName),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_superstore_category ON %s(category, sub_category)", domain.TableName),
	}
}

func createTable(defs []string) string {
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n%s\n)", domain.TableName, strings.Join(defs, ",\n"))
}
