package postgres

import (
	"context"
	"reflect"
	"strings"
	"testing"

	"github.com/faucetdb/kevd/internal/connector"
	"github.com/faucetdb/kevd/internal/model"
)

// newTestConnector creates a PostgresConnector with a known schema name
// and no database connection, suitable for testing query building methods.
func newTestConnector() *PostgresConnector {
	return &PostgresConnector{schemaName: "public"}
}

// ---------------------------------------------------------------------------
// BuildSelect tests
// ---------------------------------------------------------------------------

func TestBuildSelect(t *testing.T) {
	tests := []struct {
		name     string
		req      connector.SelectRequest
		wantSQL  string
		wantArgs []interface{}
		wantErr  bool
	}{
		{
			name:    "empty table returns error",
			req:     connector.SelectRequest{},
			wantErr: true,
		},
		{
			name:    "select all",
			req:     connector.SelectRequest{Table: "kev"},
			wantSQL: `SELECT * FROM "public"."kev"`,
		},
		{
			name:    "single field keeps case",
			req:     connector.SelectRequest{Table: "kev", Fields: []string{"cveID"}},
			wantSQL: `SELECT "cveID" FROM "public"."kev"`,
		},
		{
			name: "filter with args",
			req: connector.SelectRequest{
				Table:      "kev",
				Filter:     `"cveID" = $1`,
				FilterArgs: []interface{}{"CVE-2021-44228"},
			},
			wantSQL:  `SELECT * FROM "public"."kev" WHERE "cveID" = $1`,
			wantArgs: []interface{}{"CVE-2021-44228"},
		},
		{
			name: "limit and offset numbered after filter args",
			req: connector.SelectRequest{
				Table:      "kev",
				Filter:     `LOWER("vendorProject") = LOWER($1)`,
				FilterArgs: []interface{}{"apache"},
				Order:      `"cveID"`,
				Limit:      10,
				Offset:     20,
			},
			wantSQL:  `SELECT * FROM "public"."kev" WHERE LOWER("vendorProject") = LOWER($1) ORDER BY "cveID" LIMIT $2 OFFSET $3`,
			wantArgs: []interface{}{"apache", 10, 20},
		},
		{
			name:     "limit only",
			req:      connector.SelectRequest{Table: "kev", Limit: 5},
			wantSQL:  `SELECT * FROM "public"."kev" LIMIT $1`,
			wantArgs: []interface{}{5},
		},
	}

	c := newTestConnector()
	ctx := context.Background()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, args, err := c.BuildSelect(ctx, tt.req)

			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if sql != tt.wantSQL {
				t.Errorf("SQL mismatch\n  got:  %s\n  want: %s", sql, tt.wantSQL)
			}
			if !reflect.DeepEqual(args, tt.wantArgs) {
				t.Errorf("args mismatch\n  got:  %v\n  want: %v", args, tt.wantArgs)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// BuildInsert tests
// ---------------------------------------------------------------------------

func TestBuildInsert(t *testing.T) {
	tests := []struct {
		name     string
		req      connector.InsertRequest
		wantSQL  string
		wantArgs []interface{}
		wantErr  bool
	}{
		{
			name:    "empty table returns error",
			req:     connector.InsertRequest{Columns: []string{"a"}, Rows: [][]interface{}{{1}}},
			wantErr: true,
		},
		{
			name:    "no rows returns error",
			req:     connector.InsertRequest{Table: "kev", Columns: []string{"a"}},
			wantErr: true,
		},
		{
			name:    "ragged row returns error",
			req:     connector.InsertRequest{Table: "kev", Columns: []string{"a", "b"}, Rows: [][]interface{}{{1}}},
			wantErr: true,
		},
		{
			name: "multi-row insert keeps column order",
			req: connector.InsertRequest{
				Table:   "kev",
				Columns: []string{"cveID", "score", "notes"},
				Rows: [][]interface{}{
					{"CVE-1", int64(9), nil},
					{"CVE-2", 7.5, "x"},
				},
			},
			wantSQL:  `INSERT INTO "public"."kev" ("cveID", "score", "notes") VALUES ($1, $2, $3), ($4, $5, $6)`,
			wantArgs: []interface{}{"CVE-1", int64(9), nil, "CVE-2", 7.5, "x"},
		},
	}

	c := newTestConnector()
	ctx := context.Background()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, args, err := c.BuildInsert(ctx, tt.req)

			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if sql != tt.wantSQL {
				t.Errorf("SQL mismatch\n  got:  %s\n  want: %s", sql, tt.wantSQL)
			}
			if !reflect.DeepEqual(args, tt.wantArgs) {
				t.Errorf("args mismatch\n  got:  %v\n  want: %v", args, tt.wantArgs)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// BuildCount / BuildDeleteAll tests
// ---------------------------------------------------------------------------

func TestBuildCount(t *testing.T) {
	c := newTestConnector()
	sql, args, err := c.BuildCount(context.Background(), connector.CountRequest{Table: "kev"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := `SELECT COUNT(*) FROM "public"."kev"`; sql != want {
		t.Errorf("got %s, want %s", sql, want)
	}
	if args != nil {
		t.Errorf("expected nil args, got %v", args)
	}

	if _, _, err := c.BuildCount(context.Background(), connector.CountRequest{}); err == nil {
		t.Error("expected error for empty table")
	}
}

func TestBuildDeleteAll(t *testing.T) {
	c := newTestConnector()
	sql, err := c.BuildDeleteAll(context.Background(), "kev")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := `DELETE FROM "public"."kev"`; sql != want {
		t.Errorf("got %s, want %s", sql, want)
	}
}

// ---------------------------------------------------------------------------
// DDL tests
// ---------------------------------------------------------------------------

func TestCreateTableSQL(t *testing.T) {
	c := newTestConnector()
	got := c.createTableSQL(model.TableSchema{
		Name: "kev",
		Columns: []model.Column{
			{Name: "cveID", Type: model.TypeText},
			{Name: "count", Type: model.TypeInteger},
			{Name: "score", Type: model.TypeFloat},
		},
	})
	want := "CREATE TABLE IF NOT EXISTS \"public\".\"kev\" (\n  \"cveID\" TEXT,\n  \"count\" BIGINT,\n  \"score\" DOUBLE PRECISION\n)"
	if got != want {
		t.Errorf("SQL mismatch\n  got:  %s\n  want: %s", got, want)
	}
}

func TestMapPostgresType(t *testing.T) {
	tests := map[string]model.ColumnType{
		"bigint":            model.TypeInteger,
		"integer":           model.TypeInteger,
		"double precision":  model.TypeFloat,
		"text":              model.TypeText,
		"character varying": model.TypeText,
	}
	c := newTestConnector()
	for dbType, want := range tests {
		if got := mapPostgresType(dbType); got != want {
			t.Errorf("mapPostgresType(%q) = %s, want %s", dbType, got, want)
		}
		// Every type we create must map back to the type it was created for.
		if got := mapPostgresType(c.ColumnType(want)); got != want {
			t.Errorf("round trip of %s gave %s", want, got)
		}
	}
}

// ---------------------------------------------------------------------------
// Dialect-specific behavior tests
// ---------------------------------------------------------------------------

func TestPostgresDialect(t *testing.T) {
	c := newTestConnector()

	t.Run("QuoteIdentifier escapes embedded double quotes", func(t *testing.T) {
		got := c.QuoteIdentifier(`my"table`)
		want := `"my""table"`
		if got != want {
			t.Errorf("got %s, want %s", got, want)
		}
	})

	t.Run("ParameterPlaceholder returns dollar-numbered placeholders", func(t *testing.T) {
		indices := []int{1, 2, 10}
		for i, want := range []string{"$1", "$2", "$10"} {
			if got := c.ParameterPlaceholder(indices[i]); got != want {
				t.Errorf("ParameterPlaceholder(%d) = %s, want %s", indices[i], got, want)
			}
		}
	})

	t.Run("DriverName", func(t *testing.T) {
		if c.DriverName() != "postgres" {
			t.Errorf("got %s", c.DriverName())
		}
	})

	t.Run("Migrations create api_keys", func(t *testing.T) {
		m := c.Migrations()
		if len(m) == 0 || !strings.Contains(m[0], "api_keys") {
			t.Errorf("unexpected migrations: %v", m)
		}
	})
}
