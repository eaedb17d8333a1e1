package mysql

import (
	"context"
	"fmt"
	"strings"

	"github.com/faucetdb/kevd/internal/connector"
	"github.com/faucetdb/kevd/internal/model"
)

// maxLimit is used as the row count when only an offset is requested; MySQL
// has no OFFSET without LIMIT.
const maxLimit = "18446744073709551615"

// BuildSelect constructs a SELECT query from the given request using
// MySQL ? placeholders.
func (c *MySQLConnector) BuildSelect(_ context.Context, req connector.SelectRequest) (string, []interface{}, error) {
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
	b.WriteString(c.qualified(req.Table))

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
		b.WriteString(" LIMIT " + maxLimit)
	}

	if req.Offset > 0 {
		b.WriteString(" OFFSET ?")
		args = append(args, req.Offset)
	}

	return b.String(), args, nil
}

// BuildInsert constructs a multi-row INSERT. Values are bound in column order.
func (c *MySQLConnector) BuildInsert(_ context.Context, req connector.InsertRequest) (string, []interface{}, error) {
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
	b.WriteString(c.qualified(req.Table))

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
// TRUNCATE would commit implicitly, so DELETE is used.
func (c *MySQLConnector) BuildDeleteAll(_ context.Context, table string) (string, error) {
	if table == "" {
		return "", fmt.Errorf("table name is required")
	}
	return "DELETE FROM " + c.qualified(table), nil
}

// BuildCount constructs a SELECT COUNT(*) query with optional filtering.
func (c *MySQLConnector) BuildCount(_ context.Context, req connector.CountRequest) (string, []interface{}, error) {
	if req.Table == "" {
		return "", nil, fmt.Errorf("table name is required")
	}

	var b strings.Builder
	b.WriteString("SELECT COUNT(*) FROM ")
	b.WriteString(c.qualified(req.Table))

	if req.Filter != "" {
		b.WriteString(" WHERE ")
		b.WriteString(req.Filter)
	}

	return b.String(), req.FilterArgs, nil
}

// CreateTable creates the table if it does not already exist.
func (c *MySQLConnector) CreateTable(ctx context.Context, def model.TableSchema) error {
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

func (c *MySQLConnector) createTableSQL(def model.TableSchema) string {
	var b strings.Builder
	b.WriteString("CREATE TABLE IF NOT EXISTS ")
	b.WriteString(c.qualified(def.Name))
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
	b.WriteString("\n) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4")
	return b.String()
}

// DropTable drops table if it exists.
func (c *MySQLConnector) DropTable(ctx context.Context, table string) error {
	if table == "" {
		return fmt.Errorf("table name is required")
	}

	if _, err := c.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+c.qualified(table)); err != nil {
		return fmt.Errorf("drop table %q: %w", table, err)
	}
	return nil
}

// SwapTable replaces table with staging. MySQL commits DDL implicitly, so
// this cannot share a transaction; RENAME TABLE exchanges both names in one
// atomic statement instead, and the old table is dropped afterwards.
func (c *MySQLConnector) SwapTable(ctx context.Context, staging, table string) error {
	if staging == "" || table == "" {
		return fmt.Errorf("table name is required")
	}
	existing, err := c.TableColumns(ctx, table)
	if err != nil {
		return err
	}
	if len(existing) == 0 {
		if _, err := c.db.ExecContext(ctx, "RENAME TABLE "+c.qualified(staging)+" TO "+c.qualified(table)); err != nil {
			return fmt.Errorf("swap %q into %q: %w", staging, table, err)
		}
		return nil
	}

	old := table + "_old"
	stmts := []string{
		"DROP TABLE IF EXISTS " + c.qualified(old),
		"RENAME TABLE " + c.qualified(table) + " TO " + c.qualified(old) + ", " +
			c.qualified(staging) + " TO " + c.qualified(table),
		"DROP TABLE " + c.qualified(old),
	}
	for _, stmt := range stmts {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("swap %q into %q: %w", staging, table, err)
		}
	}
	return nil
}

// ColumnType maps an inferred column type to a MySQL type. Text columns use
// a binary collation so identifier lookups match exactly.
func (c *MySQLConnector) ColumnType(t model.ColumnType) string {
	switch t {
	case model.TypeInteger:
		return "BIGINT"
	case model.TypeFloat:
		return "DOUBLE"
	default:
		return "TEXT COLLATE utf8mb4_bin"
	}
}

// Migrations returns the DDL for the credential table. app_name uses a
// binary collation so lookups are case-sensitive.
func (c *MySQLConnector) Migrations() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS api_keys (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			key_hash VARCHAR(64) NOT NULL UNIQUE,
			key_prefix VARCHAR(16) NOT NULL,
			app_name VARCHAR(255) CHARACTER SET utf8mb4 COLLATE utf8mb4_bin NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at DATETIME(6) NOT NULL,
			last_used_at DATETIME(6) NULL,
			INDEX idx_api_keys_prefix (key_prefix)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	}
}
