package openapi

import "github.com/faucetdb/kevd/internal/model"

// TypeMapping is an OpenAPI type/format pair.
type TypeMapping struct {
	Type   string // OpenAPI type: string, integer, number
	Format string // OpenAPI format: int64, double, or empty
}

// MapColumnType maps an inferred catalog column type to its OpenAPI type.
// Unknown types map to string.
func MapColumnType(t model.ColumnType) TypeMapping {
	switch t {
	case model.TypeInteger:
		return TypeMapping{Type: "integer", Format: "int64"}
	case model.TypeFloat:
		return TypeMapping{Type: "number", Format: "double"}
	default:
		return TypeMapping{Type: "string"}
	}
}
