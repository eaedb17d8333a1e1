package mssql

import (
	"context"
	"fmt"
	"strings"

	"github.com/faucetdb/kevd/internal/connector"
	"github.com/faucetdb/kevd/internal/model"
)

// BuildSelect constructs a SELECT query from the given request.
// It quotes all identifiers using brackets, applies field selection,
// filtering, ordering, and pagination using SQL Server OFFSET/FETCH NEXT
// syntax with @pN parameter placeholders.
func (c *MSSQLConnector) BuildSelect(_ context.Context, req connector.SelectRequest) (string, []interface{}, error) {
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
	} else if req.Offset > 0 || req.Limit > 0 {
		// SQL Server requires ORDER BY for OFFSET/FETCH NEXT
		b.WriteString(" ORDER BY (SELECT NULL)")
	}

	if req.Offset > 0 || req.Limit > 0 {
		b.WriteString(fmt.Sprintf(" OFFSET @p%d ROWS", paramIdx))
		args = append(args, req.Offset)
		paramIdx++

		if req.Limit > 0 {
			b.WriteString(fmt.Sprintf(" FETCH NEXT @p%d ROWS ONLY", paramIdx))
			args = append(args, req.Limit)
		}
	}

	return b.String(), args, nil
}

// BuildInsert constructs a multi-row INSERT. Values are bound in column order.
func (c *MSSQLConnector) BuildInsert(_ context.Context, req connector.InsertRequest) (string, []interface{}, error) {
	if req.Table == "" {
		return "", nil, fmt.Errorf("table name is required")
	}
	if len(req.Columns) == 0 {
		return "", nil, fmt.Errorf("at least one column is required")
	}
	if len(req.Rows) == 0 {
		return "", nil, fmt.Errorf("at least one row is required")
	}
	if len(req.Rows) > maxInsertRows {
		return "", nil, fmt.Errorf("insert of %d rows exceeds the %d row limit", len(req.Rows), maxInsertRows)
	}
	if n := len(req.Rows) * len(req.Columns); n > maxParameters {
		return "", nil, fmt.Errorf("insert needs %d parameters, limit is %d", n, maxParameters)
	}

	var b strings.Builder
	args := make([]interface{}, 0, len(req.Rows)*len(req.Columns))
	paramIdx := 1

	b.WriteString("INSERT INTO ")
	b.WriteString(c.qualified(req.Table))

	quotedCols := make([]string, len(req.Columns))
	for i, col := range req.Columns {
		quotedCols[i] = c.QuoteIdentifier(col)
	}
	b.WriteString(" (")
	b.WriteString(strings.Join(quotedCols, ", "))
	b.WriteString(") VALUES ")

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
			b.WriteString(fmt.Sprintf("@p%d", paramIdx))
			args = append(args, v)
			paramIdx++
		}
		b.WriteString(")")
	}

	return b.String(), args, nil
}

// BuildDeleteAll constructs a DELETE that removes every row of table.
func (c *MSSQLConnector) BuildDeleteAll(_ context.Context, table string) (string, error) {
	if table == "" {
		return "", fmt.Errorf("table name is required")
	}
	return "DELETE FROM " + c.qualified(table), nil
}

// BuildCount constructs a SELECT COUNT(*) query with optional filtering.
func (c *MSSQLConnector) BuildCount(_ context.Context, req connector.CountRequest) (string, []interface{}, error) {
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

// CreateTable creates the table unless an object with that name exists.
func (c *MSSQLConnector) CreateTable(ctx context.Context, def model.TableSchema) error {
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

func (c *MSSQLConnector) createTableSQL(def model.TableSchema) string {
	var b strings.Builder
	b.WriteString("IF OBJECT_ID(")
	b.WriteString(c.objectName(def.Name))
	b.WriteString(", N'U') IS NULL CREATE TABLE ")
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
func (c *MSSQLConnector) DropTable(ctx context.Context, table string) error {
	if table == "" {
		return fmt.Errorf("table name is required")
	}

	if _, err := c.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+c.qualified(table)); err != nil {
		return fmt.Errorf("drop table %q: %w", table, err)
	}
	return nil
}

// SwapTable replaces table with staging in one transaction.
func (c *MSSQLConnector) SwapTable(ctx context.Context, staging, table string) error {
	if staging == "" || table == "" {
		return fmt.Errorf("table name is required")
	}
	err := connector.ExecTx(ctx, c.db,
		"DROP TABLE IF EXISTS "+c.qualified(table),
		"EXEC sp_rename "+c.objectName(staging)+", N'"+strings.ReplaceAll(table, "'", "''")+"', N'OBJECT'",
	)
	if err != nil {
		return fmt.Errorf("swap %q into %q: %w", staging, table, err)
	}
	return nil
}

// ColumnType maps an inferred column type to a SQL Server type. Text columns
// use a case-sensitive collation so identifier lookups match exactly.
func (c *MSSQLConnector) ColumnType(t model.ColumnType) string {
	switch t {
	case model.TypeInteger:
		return "BIGINT"
	case model.TypeFloat:
		return "FLOAT"
	default:
		return "NVARCHAR(MAX) COLLATE Latin1_General_CS_AS"
	}
}

// Migrations returns the DDL for the credential table.
func (c *MSSQLConnector) Migrations() []string {
	return []string{
		`IF OBJECT_ID(N'api_keys', N'U') IS NULL
		CREATE TABLE api_keys (
			id BIGINT IDENTITY(1,1) PRIMARY KEY,
			key_hash VARCHAR(64) NOT NULL UNIQUE,
			key_prefix VARCHAR(16) NOT NULL,
			app_name NVARCHAR(255) COLLATE Latin1_General_CS_AS NOT NULL,
			is_active BIT NOT NULL DEFAULT 1,
			created_at DATETIME2 NOT NULL,
			last_used_at DATETIME2 NULL
		)`,
		`IF NOT EXISTS (SELECT 1 FROM sys.indexes WHERE name = 'idx_api_keys_prefix')
		CREATE INDEX idx_api_keys_prefix ON api_keys(key_prefix)`,
	}
}
