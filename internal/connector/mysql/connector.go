// Package mysql implements the MySQL connector using go-sql-driver/mysql.
package mysql

import (
	"context"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/faucetdb/kevd/internal/connector"
)

// maxParameters is the prepared statement placeholder limit.
const maxParameters = 65535

// MySQLConnector implements connector.Connector for MySQL databases.
type MySQLConnector struct {
	db         *sqlx.DB
	schemaName string
}

// New creates a new MySQLConnector with default settings.
func New() connector.Connector {
	return &MySQLConnector{}
}

// Connect establishes a connection to the MySQL database using the provided
// configuration. It configures connection pool settings and resolves the
// database name used to qualify tables.
func (c *MySQLConnector) Connect(cfg connector.ConnectionConfig) error {
	db, err := connector.OpenPool("mysql", connector.SanitizeDSN("mysql", cfg.DSN), cfg)
	if err != nil {
		return err
	}

	if cfg.SchemaName != "" {
		c.schemaName = cfg.SchemaName
	}

	// If no schema name provided, query the current database name
	if c.schemaName == "" {
		var dbName string
		if err := db.Get(&dbName, "SELECT DATABASE()"); err == nil && dbName != "" {
			c.schemaName = dbName
		}
	}

	c.db = db
	return nil
}

// Disconnect closes the database connection pool.
func (c *MySQLConnector) Disconnect() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Ping verifies the database connection is alive.
func (c *MySQLConnector) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// DB returns the underlying sqlx.DB connection pool.
func (c *MySQLConnector) DB() *sqlx.DB {
	return c.db
}

// DriverName returns the driver identifier for MySQL.
func (c *MySQLConnector) DriverName() string { return "mysql" }

// QuoteIdentifier wraps a SQL identifier in backticks, escaping any
// embedded backticks to prevent SQL injection.
func (c *MySQLConnector) QuoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// ParameterPlaceholder returns a MySQL-style positional parameter
// placeholder (?). MySQL ignores the index.
func (c *MySQLConnector) ParameterPlaceholder(_ int) string {
	return "?"
}

// MaxParameters returns the placeholder limit per statement.
func (c *MySQLConnector) MaxParameters() int { return maxParameters }

func (c *MySQLConnector) qualified(table string) string {
	if c.schemaName == "" {
		return c.QuoteIdentifier(table)
	}
	return c.QuoteIdentifier(c.schemaName) + "." + c.QuoteIdentifier(table)
}
