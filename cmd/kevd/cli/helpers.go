package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/faucetdb/kevd/internal/catalog"
	"github.com/faucetdb/kevd/internal/config"
	"github.com/faucetdb/kevd/internal/connector"
	"github.com/faucetdb/kevd/internal/connector/mssql"
	"github.com/faucetdb/kevd/internal/connector/mysql"
	"github.com/faucetdb/kevd/internal/connector/postgres"
	"github.com/faucetdb/kevd/internal/connector/sqlite"
	"github.com/faucetdb/kevd/internal/feed"
	"github.com/faucetdb/kevd/internal/store"
)

// newRegistry creates a connector registry with all supported database drivers registered.
func newRegistry() *connector.Registry {
	registry := connector.NewRegistry()
	registry.RegisterDriver("postgres", func() connector.Connector { return postgres.New() })
	registry.RegisterDriver("mysql", func() connector.Connector { return mysql.New() })
	registry.RegisterDriver("mssql", func() connector.Connector { return mssql.New() })
	registry.RegisterDriver("sqlite", func() connector.Connector { return sqlite.New() })
	return registry
}

// app bundles the configuration, logger and migrated store every command
// that touches the database needs.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	conn   connector.Connector
	store  *store.Store
}

// openApp loads the configuration, connects to the database and applies the
// credential table migrations. Logs always go to stderr so stdout stays
// clean for command output and the MCP stdio transport.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger := config.NewLogger(cfg.Logging, os.Stderr, devMode)

	connCfg, err := cfg.Database.ConnectionConfig()
	if err != nil {
		return nil, fmt.Errorf("database config: %w", err)
	}
	conn, err := newRegistry().Open(connCfg)
	if err != nil {
		return nil, err
	}
	logger.Debug("connected to database", "driver", connCfg.Driver)

	st := store.New(conn)
	if err := st.Migrate(ctx); err != nil {
		conn.Disconnect()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &app{cfg: cfg, logger: logger, conn: conn, store: st}, nil
}

func (a *app) Close() {
	if err := a.conn.Disconnect(); err != nil {
		a.logger.Warn("disconnect failed", "error", err)
	}
}

// catalog returns the read side over the configured table.
func (a *app) catalog() *catalog.Catalog {
	return catalog.New(a.conn, catalog.Config{
		Table:        a.cfg.Catalog.Table,
		IDColumn:     a.cfg.Catalog.IDColumn,
		VendorColumn: a.cfg.Catalog.VendorColumn,
	})
}

// loader returns a Loader that downloads the configured feed.
func (a *app) loader() (*catalog.Loader, error) {
	fetcher, err := feed.NewFetcher(feed.FetcherConfig{
		URL:           a.cfg.Feed.URL,
		Timeout:       a.cfg.Feed.Timeout,
		TempDir:       a.cfg.Feed.TempDir,
		AllowInsecure: a.cfg.Feed.AllowInsecure,
		UserAgent:     "kevd/" + versionString(),
	}, &http.Client{}, a.logger)
	if err != nil {
		return nil, fmt.Errorf("feed config: %w", err)
	}
	return catalog.NewLoader(a.conn, fetcher, catalog.LoaderConfig{
		Table:     a.cfg.Catalog.Table,
		BatchSize: a.cfg.Catalog.BatchSize,
		Timeout:   a.cfg.Refresh.Timeout,
	}, a.logger), nil
}

// versionString returns a display version string.
func versionString() string {
	if appVersion == "" || appVersion == "dev" {
		return "dev"
	}
	if strings.HasPrefix(appVersion, "v") {
		return appVersion
	}
	return "v" + appVersion
}
