package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/faucetdb/kevd/internal/connector"
	"github.com/faucetdb/kevd/internal/model"
)

var (
	// ErrNotLoaded is returned by queries before the first successful refresh.
	ErrNotLoaded = errors.New("catalog has not been loaded")
	// ErrUnknownColumn is returned when a configured filter column is not part
	// of the loaded table.
	ErrUnknownColumn = errors.New("column not present in catalog")
)

// Config names the catalog table and its filter columns.
type Config struct {
	Table        string
	IDColumn     string
	VendorColumn string
}

// Page bounds a row listing. Zero values mean no bound.
type Page struct {
	Limit  int
	Offset int
}

// Catalog answers read queries over the loaded catalog table.
type Catalog struct {
	conn connector.Connector
	cfg  Config
}

// New creates a Catalog reading through conn.
func New(conn connector.Connector, cfg Config) *Catalog {
	return &Catalog{conn: conn, cfg: cfg}
}

// Table returns the catalog table name.
func (c *Catalog) Table() string { return c.cfg.Table }

// IDColumn returns the identifier column name.
func (c *Catalog) IDColumn() string { return c.cfg.IDColumn }

// VendorColumn returns the vendor column name.
func (c *Catalog) VendorColumn() string { return c.cfg.VendorColumn }

// Columns returns the loaded table's columns, or ErrNotLoaded.
func (c *Catalog) Columns(ctx context.Context) ([]model.Column, error) {
	cols, err := c.conn.TableColumns(ctx, c.cfg.Table)
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, ErrNotLoaded
	}
	return cols, nil
}

// IDs returns the identifier column of every row.
func (c *Catalog) IDs(ctx context.Context) ([]model.Row, error) {
	return c.selectRows(ctx, connector.SelectRequest{
		Table:  c.cfg.Table,
		Fields: []string{c.cfg.IDColumn},
	}, c.cfg.IDColumn)
}

// All returns every column of the rows within page.
func (c *Catalog) All(ctx context.Context, page Page) ([]model.Row, error) {
	req := connector.SelectRequest{
		Table:  c.cfg.Table,
		Limit:  page.Limit,
		Offset: page.Offset,
	}
	if page.Limit > 0 || page.Offset > 0 {
		req.Order = c.conn.QuoteIdentifier(c.cfg.IDColumn)
		return c.selectRows(ctx, req, c.cfg.IDColumn)
	}
	return c.selectRows(ctx, req)
}

// Count returns the number of rows in the catalog.
func (c *Catalog) Count(ctx context.Context) (int64, error) {
	query, args, err := c.conn.BuildCount(ctx, connector.CountRequest{Table: c.cfg.Table})
	if err != nil {
		return 0, err
	}
	var n int64
	if err := c.conn.DB().QueryRowxContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, c.classify(ctx, fmt.Errorf("count catalog: %w", err))
	}
	return n, nil
}

// ByID returns the rows whose identifier equals id exactly.
func (c *Catalog) ByID(ctx context.Context, id string) ([]model.Row, error) {
	return c.selectRows(ctx, connector.SelectRequest{
		Table:      c.cfg.Table,
		Filter:     c.conn.QuoteIdentifier(c.cfg.IDColumn) + " = " + c.conn.ParameterPlaceholder(1),
		FilterArgs: []interface{}{id},
	}, c.cfg.IDColumn)
}

// ByVendor returns the rows whose vendor column equals vendor, ignoring case.
func (c *Catalog) ByVendor(ctx context.Context, vendor string) ([]model.Row, error) {
	return c.selectRows(ctx, connector.SelectRequest{
		Table:      c.cfg.Table,
		Filter:     "LOWER(" + c.conn.QuoteIdentifier(c.cfg.VendorColumn) + ") = LOWER(" + c.conn.ParameterPlaceholder(1) + ")",
		FilterArgs: []interface{}{vendor},
	}, c.cfg.VendorColumn)
}

func (c *Catalog) selectRows(ctx context.Context, req connector.SelectRequest, needed ...string) ([]model.Row, error) {
	query, args, err := c.conn.BuildSelect(ctx, req)
	if err != nil {
		return nil, err
	}

	rows, err := c.conn.DB().QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, c.classify(ctx, fmt.Errorf("query catalog: %w", err), needed...)
	}
	defer rows.Close()

	out := make([]model.Row, 0)
	for rows.Next() {
		row := make(map[string]interface{})
		if err := rows.MapScan(row); err != nil {
			return nil, fmt.Errorf("scan catalog row: %w", err)
		}
		out = append(out, cleanRow(row))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate catalog rows: %w", err)
	}
	return out, nil
}

// classify maps a query failure caused by a missing table or column to
// ErrNotLoaded or ErrUnknownColumn. Other errors are returned unchanged.
func (c *Catalog) classify(ctx context.Context, err error, needed ...string) error {
	cols, lookupErr := c.conn.TableColumns(ctx, c.cfg.Table)
	if lookupErr != nil {
		return err
	}
	if len(cols) == 0 {
		return ErrNotLoaded
	}
	have := make(map[string]bool, len(cols))
	for _, col := range cols {
		have[col.Name] = true
	}
	for _, name := range needed {
		if !have[name] {
			return fmt.Errorf("%w: %s", ErrUnknownColumn, name)
		}
	}
	return err
}

// cleanRow converts []byte scan values into strings so they serialize as
// text rather than base64.
func cleanRow(m map[string]interface{}) model.Row {
	for k, v := range m {
		if b, ok := v.([]byte); ok {
			m[k] = string(b)
		}
	}
	return model.Row(m)
}
