package model

// ColumnType is the primitive type inferred for a catalog column.
type ColumnType string

const (
	TypeInteger ColumnType = "INTEGER"
	TypeFloat   ColumnType = "FLOAT"
	TypeText    ColumnType = "TEXT"
)

// Column describes a single catalog column. Type holds the inferred type;
// DBType, when set, is the type name reported by the database.
type Column struct {
	Name     string     `json:"name"`
	Position int        `json:"position"`
	Type     ColumnType `json:"type"`
	DBType   string     `json:"db_type,omitempty"`
}

// TableSchema describes the structure of the catalog table.
type TableSchema struct {
	Name    string   `json:"name"`
	Columns []Column `json:"columns"`
}

// ColumnNames returns the column names in position order.
func (t TableSchema) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// Row is a single catalog record as returned by the query surface.
type Row map[string]interface{}
