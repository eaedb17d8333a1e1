package mssql

import (
	"context"
	"fmt"
	"strings"

	"github.com/faucetdb/kevd/internal/model"
)

// columnRow holds the result of querying INFORMATION_SCHEMA.COLUMNS.
type columnRow struct {
	ColumnName string `db:"column_name"`
	DataType   string `db:"data_type"`
	Position   int    `db:"ordinal_position"`
}

// TableColumns returns the columns of table in ordinal order, or an empty
// slice when the table does not exist.
func (c *MSSQLConnector) TableColumns(ctx context.Context, table string) ([]model.Column, error) {
	const query = `SELECT
			COLUMN_NAME AS column_name,
			DATA_TYPE AS data_type,
			ORDINAL_POSITION AS ordinal_position
		FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = @p1 AND TABLE_NAME = @p2
		ORDER BY ORDINAL_POSITION`

	var rows []columnRow
	if err := c.db.SelectContext(ctx, &rows, query, c.schemaName, table); err != nil {
		return nil, fmt.Errorf("introspect table %q: %w", table, err)
	}

	cols := make([]model.Column, len(rows))
	for i, r := range rows {
		cols[i] = model.Column{
			Name:     r.ColumnName,
			Position: r.Position,
			Type:     mapMSSQLType(r.DataType),
			DBType:   r.DataType,
		}
	}
	return cols, nil
}

// mapMSSQLType maps an INFORMATION_SCHEMA DATA_TYPE to the inferred type
// family it can hold.
func mapMSSQLType(dataType string) model.ColumnType {
	switch strings.ToLower(dataType) {
	case "tinyint", "smallint", "int", "bigint":
		return model.TypeInteger
	case "float", "real", "decimal", "numeric":
		return model.TypeFloat
	default:
		return model.TypeText
	}
}
