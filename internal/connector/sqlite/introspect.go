package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/faucetdb/kevd/internal/model"
)

// tableInfoRow holds a row from pragma_table_info().
type tableInfoRow struct {
	CID  int    `db:"cid"`
	Name string `db:"name"`
	Type string `db:"type"`
}

// TableColumns returns the columns of table in declaration order, or an empty
// slice when the table does not exist.
func (c *SQLiteConnector) TableColumns(ctx context.Context, table string) ([]model.Column, error) {
	const query = `SELECT cid, name, type FROM pragma_table_info(?) ORDER BY cid`

	var rows []tableInfoRow
	if err := c.db.SelectContext(ctx, &rows, query, table); err != nil {
		return nil, fmt.Errorf("introspect table %q: %w", table, err)
	}

	cols := make([]model.Column, len(rows))
	for i, r := range rows {
		cols[i] = model.Column{
			Name:     r.Name,
			Position: r.CID + 1,
			Type:     mapSQLiteType(r.Type),
			DBType:   r.Type,
		}
	}
	return cols, nil
}

// mapSQLiteType follows SQLite's type affinity rules.
func mapSQLiteType(declType string) model.ColumnType {
	upper := strings.ToUpper(declType)
	switch {
	case strings.Contains(upper, "INT"):
		return model.TypeInteger
	case strings.Contains(upper, "REAL"), strings.Contains(upper, "FLOA"), strings.Contains(upper, "DOUB"):
		return model.TypeFloat
	default:
		return model.TypeText
	}
}
