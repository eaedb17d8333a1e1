package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/faucetdb/kevd/internal/connector"
	"github.com/faucetdb/kevd/internal/model"
)

// BuildSelect constructs a SELECT query from the given request.
// It quotes all identifiers, applies field selection, filtering, ordering,
// and pagination using PostgreSQL $N parameter placeholders.
func (c *PostgresConnector) BuildSelect(_ context.Context, req connector.SelectRequest) (string, []interface{}, error) {
	if req.Table == "" {
		return "", nil, fmt.Errorf("table name is required")
	}

	var b strings.Builder
	args := append([]interface{}(nil), req.FilterArgs...)
	paramIdx := len(args) + 1

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

	if req.Limit > 0 {
		b.WriteString(fmt.Sprintf(" LIMIT $%d", paramIdx))
		args = append(args, req.Limit)
		paramIdx++
	}

	if req.Offset > 0 {
		b.WriteString(fmt.Sprintf(" OFFSET $%d", paramIdx))
		args = append(args, req.Offset)
	}

	return b.String(), args, nil
}

// BuildInsert constructs a multi-row INSERT. Values are bound in column order.
func (c *PostgresConnector) BuildInsert(_ context.Context, req connector.InsertRequest) (string, []interface{}, error) {
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
	paramIdx := 1

	b.WriteString("INSERT INTO ")
	b.WriteString(c.qualified(req.Table))

	b.WriteString(" (")
	quotedCols := make([]string, len(req.Columns))
	for i, col := range req.Columns {
		quotedCols[i] = c.QuoteIdentifier(col)
	}
	b.WriteString(strings.Join(quotedCols, ", "))
	b.WriteString(")")

	b.WriteString(" VALUES ")
	for rowIdx, row := range req.Rows {
		if len(row) != len(req.Columns) {
			return "", nil, fmt.Errorf("row %d has %d values, want %d", rowIdx, len(row), len(req.Columns))
		}
		if rowIdx > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for colIdx, v := range row {
			if colIdx > 0 {
				b.WriteString(", ")
			}
			b.WriteString(fmt.Sprintf("$%d", paramIdx))
			args = append(args, v)
			paramIdx++
		}
		b.WriteString(")")
	}

	return b.String(), args, nil
}

// BuildDeleteAll constructs a DELETE that removes every row of table.
// DELETE is used instead of TRUNCATE so it stays inside the caller's
// transaction on every driver.
func (c *PostgresConnector) BuildDeleteAll(_ context.Context, table string) (string, error) {
	if table == "" {
		return "", fmt.Errorf("table name is required")
	}
	return "DELETE FROM " + c.qualified(table), nil
}

// BuildCount constructs a SELECT COUNT(*) query with optional filtering.
func (c *PostgresConnector) BuildCount(_ context.Context, req connector.CountRequest) (string, []interface{}, error) {
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

// CreateTable creates the table if it does not already exist. All catalog
// columns are nullable.
func (c *PostgresConnector) CreateTable(ctx context.Context, def model.TableSchema) error {
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

func (c *PostgresConnector) createTableSQL(def model.TableSchema) string {
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
	b.WriteString("\n)")
	return b.String()
}

// DropTable drops table if it exists.
func (c *PostgresConnector) DropTable(ctx context.Context, table string) error {
	if table == "" {
		return fmt.Errorf("table name is required")
	}

	if _, err := c.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+c.qualified(table)); err != nil {
		return fmt.Errorf("drop table %q: %w", table, err)
	}
	return nil
}

// SwapTable replaces table with staging in one transaction.
func (c *PostgresConnector) SwapTable(ctx context.Context, staging, table string) error {
	if staging == "" || table == "" {
		return fmt.Errorf("table name is required")
	}
	err := connector.ExecTx(ctx, c.db,
		"DROP TABLE IF EXISTS "+c.qualified(table),
		"ALTER TABLE "+c.qualified(staging)+" RENAME TO "+c.QuoteIdentifier(table),
	)
	if err != nil {
		return fmt.Errorf("swap %q into %q: %w", staging, table, err)
	}
	return nil
}

// ColumnType maps an inferred column type to a PostgreSQL type.
func (c *PostgresConnector) ColumnType(t model.ColumnType) string {
	switch t {
	case model.TypeInteger:
		return "BIGINT"
	case model.TypeFloat:
		return "DOUBLE PRECISION"
	default:
		return "TEXT"
	}
}

// Migrations returns the DDL for the credential table.
func (c *PostgresConnector) Migrations() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS api_keys (
			id BIGSERIAL PRIMARY KEY,
			key_hash TEXT UNIQUE NOT NULL,
			key_prefix TEXT NOT NULL,
			app_name TEXT NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			last_used_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_api_keys_prefix ON api_keys(key_prefix)`,
	}
}
