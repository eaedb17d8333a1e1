// Package config loads and validates kevd settings from flags, environment
// and an optional YAML file.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/faucetdb/kevd/internal/connector"
	"github.com/faucetdb/kevd/internal/feed"
	"github.com/faucetdb/kevd/internal/sqlident"
)

// EnvPrefix is prepended to every environment variable, e.g.
// KEVD_SERVER_PORT for server.port.
const EnvPrefix = "KEVD"

// Config is the effective kevd configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Feed     FeedConfig     `mapstructure:"feed" yaml:"feed"`
	Catalog  CatalogConfig  `mapstructure:"catalog" yaml:"catalog"`
	Refresh  RefreshConfig  `mapstructure:"refresh" yaml:"refresh"`
	Auth     AuthConfig     `mapstructure:"auth" yaml:"auth"`
	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging"`
}

// ServerConfig controls the HTTP server behavior.
type ServerConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	MaxBodySize     int64         `mapstructure:"max_body_size" yaml:"max_body_size"`
	CORSOrigins     []string      `mapstructure:"cors_origins" yaml:"cors_origins"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig selects the relational store. DSN, when set, takes
// precedence over the discrete connection fields.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver" yaml:"driver"`
	DSN             string        `mapstructure:"dsn" yaml:"dsn"`
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	User            string        `mapstructure:"user" yaml:"user"`
	Password        string        `mapstructure:"password" yaml:"password"`
	Name            string        `mapstructure:"name" yaml:"name"`
	SSLMode         string        `mapstructure:"sslmode" yaml:"sslmode"`
	Schema          string        `mapstructure:"schema" yaml:"schema"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time" yaml:"conn_max_idle_time"`
}

// ConnectionConfig converts the database settings into connector parameters.
func (d DatabaseConfig) ConnectionConfig() (connector.ConnectionConfig, error) {
	dsn := d.DSN
	if dsn == "" {
		var err error
		dsn, err = connector.BuildDSN(d.Driver, connector.DSNParts{
			Host:     d.Host,
			Port:     d.Port,
			User:     d.User,
			Password: d.Password,
			Database: d.Name,
			SSLMode:  d.SSLMode,
		})
		if err != nil {
			return connector.ConnectionConfig{}, err
		}
	}
	return connector.ConnectionConfig{
		Driver:          d.Driver,
		DSN:             dsn,
		SchemaName:      d.Schema,
		MaxOpenConns:    d.MaxOpenConns,
		MaxIdleConns:    d.MaxIdleConns,
		ConnMaxLifetime: d.ConnMaxLifetime,
		ConnMaxIdleTime: d.ConnMaxIdleTime,
	}, nil
}

// FeedConfig controls the KEV download.
type FeedConfig struct {
	URL           string        `mapstructure:"url" yaml:"url"`
	Timeout       time.Duration `mapstructure:"timeout" yaml:"timeout"`
	TempDir       string        `mapstructure:"temp_dir" yaml:"temp_dir"`
	AllowInsecure bool          `mapstructure:"allow_insecure" yaml:"allow_insecure"`
}

// CatalogConfig names the catalog table and the columns the query surface
// filters on.
type CatalogConfig struct {
	Table        string `mapstructure:"table" yaml:"table"`
	IDColumn     string `mapstructure:"id_column" yaml:"id_column"`
	VendorColumn string `mapstructure:"vendor_column" yaml:"vendor_column"`
	BatchSize    int    `mapstructure:"batch_size" yaml:"batch_size"`
}

// RefreshConfig controls when the catalog is reloaded.
type RefreshConfig struct {
	OnStartup bool          `mapstructure:"on_startup" yaml:"on_startup"`
	Interval  time.Duration `mapstructure:"interval" yaml:"interval"`
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// AuthConfig controls API key enforcement.
type AuthConfig struct {
	RequireKeyForIssuance bool `mapstructure:"require_key_for_issuance" yaml:"require_key_for_issuance"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// MaxBatchSize bounds catalog.batch_size; SQL Server rejects larger
// multi-row inserts.
const MaxBatchSize = 1000

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ShutdownTimeout: 30 * time.Second,
			RequestTimeout:  30 * time.Second,
			MaxBodySize:     1 << 20,
			CORSOrigins:     []string{"*"},
		},
		Database: DatabaseConfig{
			Driver:          "postgres",
			Host:            "localhost",
			Name:            "kev",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			ConnMaxIdleTime: time.Minute,
		},
		Feed: FeedConfig{
			URL:     feed.DefaultURL,
			Timeout: 60 * time.Second,
		},
		Catalog: CatalogConfig{
			Table:        "kev",
			IDColumn:     "cveID",
			VendorColumn: "vendorProject",
			BatchSize:    500,
		},
		Refresh: RefreshConfig{
			OnStartup: true,
			Timeout:   5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// legacyEnv lists environment variable names honored in addition to the
// KEVD_ prefixed ones.
var legacyEnv = map[string]string{
	"database.host":     "DB_HOST",
	"database.port":     "DB_PORT",
	"database.user":     "DB_USER",
	"database.password": "DB_PASSWORD",
	"database.name":     "DB_NAME",
}

// SetDefaults registers defaults and environment bindings on v.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("server.request_timeout", d.Server.RequestTimeout)
	v.SetDefault("server.max_body_size", d.Server.MaxBodySize)
	v.SetDefault("server.cors_origins", d.Server.CORSOrigins)

	v.SetDefault("database.driver", d.Database.Driver)
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.host", d.Database.Host)
	v.SetDefault("database.port", 0)
	v.SetDefault("database.user", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", d.Database.Name)
	v.SetDefault("database.sslmode", d.Database.SSLMode)
	v.SetDefault("database.schema", "")
	v.SetDefault("database.max_open_conns", d.Database.MaxOpenConns)
	v.SetDefault("database.max_idle_conns", d.Database.MaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", d.Database.ConnMaxLifetime)
	v.SetDefault("database.conn_max_idle_time", d.Database.ConnMaxIdleTime)

	v.SetDefault("feed.url", d.Feed.URL)
	v.SetDefault("feed.timeout", d.Feed.Timeout)
	v.SetDefault("feed.temp_dir", "")
	v.SetDefault("feed.allow_insecure", false)

	v.SetDefault("catalog.table", d.Catalog.Table)
	v.SetDefault("catalog.id_column", d.Catalog.IDColumn)
	v.SetDefault("catalog.vendor_column", d.Catalog.VendorColumn)
	v.SetDefault("catalog.batch_size", d.Catalog.BatchSize)

	v.SetDefault("refresh.on_startup", d.Refresh.OnStartup)
	v.SetDefault("refresh.interval", d.Refresh.Interval)
	v.SetDefault("refresh.timeout", d.Refresh.Timeout)

	v.SetDefault("auth.require_key_for_issuance", false)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		envKey := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		v.BindEnv(key, envKey, legacy)
	}
}

// Load decodes and validates the configuration held by v. SetDefaults must
// have been called on v.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Server.MaxBodySize <= 0 {
		return fmt.Errorf("server.max_body_size must be positive")
	}
	switch c.Database.Driver {
	case "postgres", "mysql", "mssql", "sqlite":
	default:
		return fmt.Errorf("database.driver %q is not supported (postgres, mysql, mssql, sqlite)", c.Database.Driver)
	}
	if c.Database.Port < 0 || c.Database.Port > 65535 {
		return fmt.Errorf("database.port %d out of range", c.Database.Port)
	}
	if c.Feed.URL == "" {
		return fmt.Errorf("feed.url is required")
	}
	if c.Feed.Timeout <= 0 {
		return fmt.Errorf("feed.timeout must be positive")
	}
	if err := sqlident.ValidateIdentifier(c.Catalog.Table); err != nil {
		return fmt.Errorf("catalog.table: %w", err)
	}
	for key, name := range map[string]string{
		"catalog.id_column":     c.Catalog.IDColumn,
		"catalog.vendor_column": c.Catalog.VendorColumn,
	} {
		if err := sqlident.ValidateColumnName(name); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	if c.Catalog.Table == "api_keys" {
		return fmt.Errorf("catalog.table must not be the credential table")
	}
	if c.Catalog.BatchSize < 1 || c.Catalog.BatchSize > MaxBatchSize {
		return fmt.Errorf("catalog.batch_size must be between 1 and %d", MaxBatchSize)
	}
	if c.Refresh.Interval < 0 {
		return fmt.Errorf("refresh.interval must not be negative")
	}
	if c.Refresh.Timeout <= 0 {
		return fmt.Errorf("refresh.timeout must be positive")
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q must be debug, info, warn or error", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q must be text or json", c.Logging.Format)
	}
	return nil
}

// Redacted returns a copy safe to print: the password and any explicit DSN
// are masked.
func (c Config) Redacted() Config {
	const mask = "********"
	if c.Database.Password != "" {
		c.Database.Password = mask
	}
	if c.Database.DSN != "" {
		c.Database.DSN = mask
	}
	c.Server.CORSOrigins = append([]string(nil), c.Server.CORSOrigins...)
	return c
}
