package mysql

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
func (c *MySQLConnector) TableColumns(ctx context.Context, table string) ([]model.Column, error) {
	query := `SELECT
			COLUMN_NAME AS column_name,
			DATA_TYPE AS data_type,
			ORDINAL_POSITION AS ordinal_position
		FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
		ORDER BY ORDINAL_POSITION`
	args := []interface{}{c.schemaName, table}
	if c.schemaName == "" {
		query = strings.Replace(query, "TABLE_SCHEMA = ?", "TABLE_SCHEMA = DATABASE()", 1)
		args = args[1:]
	}

	var rows []columnRow
	if err := c.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("introspect table %q: %w", table, err)
	}

	cols := make([]model.Column, len(rows))
	for i, r := range rows {
		cols[i] = model.Column{
			Name:     r.ColumnName,
			Position: r.Position,
			Type:     mapMySQLType(r.DataType),
			DBType:   r.DataType,
		}
	}
	return cols, nil
}

// mapMySQLType maps an INFORMATION_SCHEMA DATA_TYPE to the inferred type
// family it can hold.
func mapMySQLType(dataType string) model.ColumnType {
	switch strings.ToLower(dataType) {
	case "tinyint", "smallint", "mediumint", "int", "integer", "bigint":
		return model.TypeInteger
	case "float", "double", "real", "decimal", "numeric":
		return model.TypeFloat
	default:
		return model.TypeText
	}
}
