package connector

import (
	"fmt"
	"net"
	"net/url"
	"strconv"

	mysqldriver "github.com/go-sql-driver/mysql"
)

// DSNParts are the discrete connection settings used when no explicit DSN is
// configured.
type DSNParts struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// DefaultPort returns the conventional port for a driver, or 0 when the
// driver is not network based.
func DefaultPort(driver string) int {
	switch driver {
	case "postgres":
		return 5432
	case "mysql":
		return 3306
	case "mssql":
		return 1433
	default:
		return 0
	}
}

// BuildDSN assembles a driver-specific DSN from discrete parts. For sqlite
// the database is a file path; an empty path selects an in-memory database.
func BuildDSN(driver string, p DSNParts) (string, error) {
	port := p.Port
	if port == 0 {
		port = DefaultPort(driver)
	}
	addr := net.JoinHostPort(p.Host, strconv.Itoa(port))

	switch driver {
	case "postgres":
		u := url.URL{
			Scheme: "postgres",
			User:   url.UserPassword(p.User, p.Password),
			Host:   addr,
			Path:   "/" + p.Database,
		}
		if p.SSLMode != "" {
			u.RawQuery = url.Values{"sslmode": {p.SSLMode}}.Encode()
		}
		return u.String(), nil

	case "mysql":
		cfg := mysqldriver.NewConfig()
		cfg.User = p.User
		cfg.Passwd = p.Password
		cfg.Net = "tcp"
		cfg.Addr = addr
		cfg.DBName = p.Database
		cfg.ParseTime = true
		return cfg.FormatDSN(), nil

	case "mssql":
		u := url.URL{
			Scheme:   "sqlserver",
			User:     url.UserPassword(p.User, p.Password),
			Host:     addr,
			RawQuery: url.Values{"database": {p.Database}}.Encode(),
		}
		return u.String(), nil

	case "sqlite":
		if p.Database == "" || p.Database == ":memory:" {
			return ":memory:", nil
		}
		return p.Database + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", nil

	default:
		return "", fmt.Errorf("unsupported driver: %s", driver)
	}
}
