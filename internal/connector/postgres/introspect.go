package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/faucetdb/kevd/internal/model"
)

// columnRow holds the result of querying information_schema.columns.
type columnRow struct {
	ColumnName string `db:"column_name"`
	DataType   string `db:"data_type"`
	Position   int    `db:"ordinal_position"`
}

// TableColumns returns the columns of table in ordinal order, or an empty
// slice when the table does not exist.
func (c *PostgresConnector) TableColumns(ctx context.Context, table string) ([]model.Column, error) {
	const query = `SELECT column_name, data_type, ordinal_position
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position`

	var rows []columnRow
	if err := c.db.SelectContext(ctx, &rows, query, c.schemaName, table); err != nil {
		return nil, fmt.Errorf("introspect table %q: %w", table, err)
	}

	cols := make([]model.Column, len(rows))
	for i, r := range rows {
		cols[i] = model.Column{
			Name:     r.ColumnName,
			Position: r.Position,
			Type:     mapPostgresType(r.DataType),
			DBType:   r.DataType,
		}
	}
	return cols, nil
}

// mapPostgresType maps an information_schema data_type to the inferred type
// family it can hold.
func mapPostgresType(dataType string) model.ColumnType {
	switch strings.ToLower(dataType) {
	case "smallint", "integer", "bigint":
		return model.TypeInteger
	case "real", "double precision", "numeric", "decimal":
		return model.TypeFloat
	default:
		return model.TypeText
	}
}
