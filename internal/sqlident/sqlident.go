// Package sqlident validates SQL identifiers and values taken from the feed
// before they reach generated DDL and DML. Connectors always quote
// identifiers, so column names from the feed header only need to be
// representable; configured table names are held to the stricter
// unquoted-identifier rules.
package sqlident

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxIdentifierLength is the longest identifier accepted. PostgreSQL silently
// truncates identifiers beyond 63 bytes, so longer names are rejected.
const MaxIdentifierLength = 63

// identifierRegex validates SQL identifiers (column names, table names).
// Must start with a letter or underscore, followed by alphanumeric or underscore.
var identifierRegex = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// sqlReservedWords contains SQL keywords that cannot be used as identifiers.
var sqlReservedWords = map[string]bool{
	"SELECT": true, "INSERT": true, "UPDATE": true, "DELETE": true,
	"DROP": true, "CREATE": true, "ALTER": true, "TRUNCATE": true,
	"EXEC": true, "EXECUTE": true, "UNION": true, "INTO": true,
	"FROM": true, "WHERE": true, "TABLE": true, "DATABASE": true,
	"GRANT": true, "REVOKE": true, "INDEX": true, "VIEW": true,
	"PROCEDURE": true, "FUNCTION": true, "TRIGGER": true, "SCHEMA": true,
	"ORDER": true, "GROUP": true, "KEY": true, "PRIMARY": true,
}

// ValidateIdentifier ensures a SQL identifier (column name, table name) is safe.
// It rejects empty strings, overlong strings, strings that don't match the
// identifier pattern, and SQL reserved words.
func ValidateIdentifier(name string) error {
	if len(name) == 0 {
		return fmt.Errorf("identifier cannot be empty")
	}
	if len(name) > MaxIdentifierLength {
		return fmt.Errorf("identifier too long (max %d chars): %q", MaxIdentifierLength, name)
	}
	if !identifierRegex.MatchString(name) {
		return fmt.Errorf("invalid identifier %q: must match [a-zA-Z_][a-zA-Z0-9_]*", name)
	}
	if sqlReservedWords[strings.ToUpper(name)] {
		return fmt.Errorf("identifier %q is a SQL reserved word", name)
	}
	return nil
}

// ValidateColumnName checks a column name that is always used quoted. Any
// printable name works, including reserved words and names with spaces; only
// empty, overlong, non-UTF-8 and NUL-containing names are rejected.
func ValidateColumnName(name string) error {
	if len(name) == 0 {
		return fmt.Errorf("column name cannot be empty")
	}
	if len(name) > MaxIdentifierLength {
		return fmt.Errorf("column name too long (max %d bytes): %q", MaxIdentifierLength, name)
	}
	if !utf8.ValidString(name) || strings.IndexByte(name, 0) >= 0 {
		return fmt.Errorf("invalid column name %q", name)
	}
	return nil
}

// ValidateColumnNames validates a header's column names. Names must also be
// unique, compared case-insensitively since MySQL and SQL Server treat column
// names that way.
func ValidateColumnNames(names []string) error {
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if err := ValidateColumnName(name); err != nil {
			return err
		}
		key := strings.ToLower(name)
		if seen[key] {
			return fmt.Errorf("duplicate column name %q", name)
		}
		seen[key] = true
	}
	return nil
}

// SanitizeValue removes null bytes, which PostgreSQL rejects in text values.
func SanitizeValue(val string) string {
	if strings.IndexByte(val, 0) < 0 {
		return val
	}
	return strings.ReplaceAll(val, "\x00", "")
}
