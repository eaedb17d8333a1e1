package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/faucetdb/kevd/internal/connector"
	"github.com/faucetdb/kevd/internal/model"
)

// BuildSelect constructs a SELECT query using ? placeholders.
// SQLite requires LIMIT when OFFSET is used; LIMIT -1 means unbounded.
func (c *SQLiteConnector) BuildSelect(_ context.Context, req connector.SelectRequest) (string, []interface{}, error) {
	if req.Table == "" {
		return "", nil, fmt.Errorf("table name is required")
	}

	var b strings.Builder
	args := append([]interface{}(nil), req.FilterArgs...)

	b.WriteString("SELECT ")
	if len(req.Fields) > 0 {
		quoted := make([]string, len(req.Fields))
		for i, f := range req.Fields {
			quoted[i] = c.QuoteIdentifier(f)
		}
		b.WriteString(strings.Join(quoted, ", "))
	} else {
		b.WriteString("*")
	}

	b.WriteString(" FROM ")
	b.WriteString(c.QuoteIdentifier(req.Table))

	if req.Filter != "" {
		b.WriteString(" WHERE ")
		b.WriteString(req.Filter)
	}

	if req.Order != "" {
		b.WriteString(" ORDER BY ")
		b.WriteString(req.Order)
	}

	switch {
	case req.Limit > 0:
		b.WriteString(" LIMIT ?")
		args = append(args, req.Limit)
	case req.Offset > 0:
		b.WriteString(" LIMIT -1")
	}

	if req.Offset > 0 {
		b.WriteString(" OFFSET ?")
		args = append(args, req.Offset)
	}

	return b.String(), args, nil
}

// BuildInsert constructs a multi-row INSERT. Values are bound in column order.
func (c *SQLiteConnector) BuildInsert(_ context.Context, req connector.InsertRequest) (string, []interface{}, error) {
	if req.Table == "" {
		return "", nil, fmt.Errorf("table name is required")
	}
	if len(req.Columns) == 0 {
		return "", nil, fmt.Errorf("at least one column is required")
	}
	if len(req.Rows) == 0 {
		return "", nil, fmt.Errorf("at least one row is required")
	}
	if n := len(req.Rows) * len(req.Columns); n > maxParameters {
		return "", nil, fmt.Errorf("insert needs %d parameters, limit is %d", n, maxParameters)
	}

	var b strings.Builder
	args := make([]interface{}, 0, len(req.Rows)*len(req.Columns))

	b.WriteString("INSERT INTO ")
	b.WriteString(c.QuoteIdentifier(req.Table))

	quotedCols := make([]string, len(req.Columns))
	for i, col := range req.Columns {
		quotedCols[i] = c.QuoteIdentifier(col)
	}
	b.WriteString(" (")
	b.WriteString(strings.Join(quotedCols, ", "))
	b.WriteString(") VALUES ")

	rowPlaceholder := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(req.Columns)), ", ") + ")"
	for rowIdx, row := range req.Rows {
		if len(row) != len(req.Columns) {
			return "", nil, fmt.Errorf("row %d has %d values, want %d", rowIdx, len(row), len(req.Columns))
		}
		if rowIdx > 0 {
			b.WriteString(", ")
		}
		b.WriteString(rowPlaceholder)
		args = append(args, row...)
	}

	return b.String(), args, nil
}

// BuildDeleteAll constructs a DELETE that removes every row of table.
func (c *SQLiteConnector) BuildDeleteAll(_ context.Context, table string) (string, error) {
	if table == "" {
		return "", fmt.Errorf("table name is required")
	}
	return "DELETE FROM " + c.QuoteIdentifier(table), nil
}

// BuildCount constructs a SELECT COUNT(*) query with optional filtering.
func (c *SQLiteConnector) BuildCount(_ context.Context, req connector.CountRequest) (string, []interface{}, error) {
	if req.Table == "" {
		return "", nil, fmt.Errorf("table name is required")
	}

	var b strings.Builder
	b.WriteString("SELECT COUNT(*) FROM ")
	b.WriteString(c.QuoteIdentifier(req.Table))

	if req.Filter != "" {
		b.WriteString(" WHERE ")
		b.WriteString(req.Filter)
	}

	return b.String(), req.FilterArgs, nil
}

// CreateTable creates the table if it does not already exist.
func (c *SQLiteConnector) CreateTable(ctx context.Context, def model.TableSchema) error {
	if def.Name == "" {
		return fmt.Errorf("table name is required")
	}
	if len(def.Columns) == 0 {
		return fmt.Errorf("at least one column is required")
	}

	if _, err := c.db.ExecContext(ctx, c.createTableSQL(def)); err != nil {
		return fmt.Errorf("create table %q: %w", def.Name, err)
	}
	return nil
}

func (c *SQLiteConnector) createTableSQL(def model.TableSchema) string {
	var b strings.Builder
	b.WriteString("CREATE TABLE IF NOT EXISTS ")
	b.WriteString(c.QuoteIdentifier(def.Name))
	b.WriteString(" (\n")
	for i, col := range def.Columns {
		if i > 0 {
			b.WriteString(",\n")
		}
		b.WriteString("  ")
		b.WriteString(c.QuoteIdentifier(col.Name))
		b.WriteString(" ")
		b.WriteString(c.ColumnType(col.Type))
	}
	b.WriteString("\n)")
	return b.String()
}

// DropTable drops table if it exists.
func (c *SQLiteConnector) DropTable(ctx context.Context, table string) error {
	if table == "" {
		return fmt.Errorf("table name is required")
	}

	if _, err := c.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+c.QuoteIdentifier(table)); err != nil {
		return fmt.Errorf("drop table %q: %w", table, err)
	}
	return nil
}

// SwapTable replaces table with staging in one transaction.
func (c *SQLiteConnector) SwapTable(ctx context.Context, staging, table string) error {
	if staging == "" || table == "" {
		return fmt.Errorf("table name is required")
	}
	err := connector.ExecTx(ctx, c.db,
		"DROP TABLE IF EXISTS "+c.QuoteIdentifier(table),
		"ALTER TABLE "+c.QuoteIdentifier(staging)+" RENAME TO "+c.QuoteIdentifier(table),
	)
	if err != nil {
		return fmt.Errorf("swap %q into %q: %w", staging, table, err)
	}
	return nil
}

// ColumnType maps an inferred column type to a SQLite declared type.
func (c *SQLiteConnector) ColumnType(t model.ColumnType) string {
	switch t {
	case model.TypeInteger:
		return "INTEGER"
	case model.TypeFloat:
		return "REAL"
	default:
		return "TEXT"
	}
}

// Migrations returns the DDL for the credential table.
func (c *SQLiteConnector) Migrations() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS api_keys (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			key_hash TEXT UNIQUE NOT NULL,
			key_prefix TEXT NOT NULL,
			app_name TEXT NOT NULL,
			is_active INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			last_used_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_api_keys_prefix ON api_keys(key_prefix)`,
	}
}
