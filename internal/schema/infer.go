// Package schema infers catalog column types from sample feed values.
//
// Types are inferred from the first data record only. Later records that do
// not fit the inferred type are passed to the database as-is, and the
// database's coercion rules decide whether they are stored or rejected.
package schema

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/faucetdb/kevd/internal/model"
)

var (
	integerRegex = regexp.MustCompile(`^\d+$`)
	floatRegex   = regexp.MustCompile(`^\d*\.\d+$`)
)

// InferType returns the column type for a single sample value.
func InferType(sample string) model.ColumnType {
	if strings.TrimSpace(sample) == "" {
		return model.TypeText
	}
	switch {
	case integerRegex.MatchString(sample):
		return model.TypeInteger
	case floatRegex.MatchString(sample):
		return model.TypeFloat
	default:
		return model.TypeText
	}
}

// InferColumns builds the ordered column list for a header, sampling each
// column's type from the first record. Columns missing from the sample are
// TEXT.
func InferColumns(header []string, first map[string]string) []model.Column {
	cols := make([]model.Column, len(header))
	for i, name := range header {
		cols[i] = model.Column{
			Name:     name,
			Position: i + 1,
			Type:     InferType(first[name]),
		}
	}
	return cols
}

// Coerce converts a raw feed value into the value bound for insertion into a
// column of type t. Empty values become NULL. Only values with the shape
// InferType accepts for t are converted; anything else (including "inf",
// "NaN", exponents and hex floats) is returned unchanged.
func Coerce(t model.ColumnType, raw string) interface{} {
	if raw == "" {
		return nil
	}
	switch t {
	case model.TypeInteger:
		if !integerRegex.MatchString(raw) {
			break
		}
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return n
		}
	case model.TypeFloat:
		if !integerRegex.MatchString(raw) && !floatRegex.MatchString(raw) {
			break
		}
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return f
		}
	}
	return raw
}

// SameColumns reports whether two column sets have the same names and types
// in the same order. Column types are compared only when both sides carry
// one.
func SameColumns(a, b []model.Column) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Name != b[i].Name {
			return false
		}
		if a[i].Type != "" && b[i].Type != "" && a[i].Type != b[i].Type {
			return false
		}
	}
	return true
}
