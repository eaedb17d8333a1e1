package mysql

import (
	"context"
	"reflect"
	"strings"
	"testing"

	"github.com/faucetdb/kevd/internal/connector"
	"github.com/faucetdb/kevd/internal/model"
)

func newTestConnector() *MySQLConnector {
	return &MySQLConnector{schemaName: "kev"}
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
			wantSQL: "SELECT * FROM `kev`.`kev`",
		},
		{
			name: "filter, order, limit and offset",
			req: connector.SelectRequest{
				Table:      "kev",
				Fields:     []string{"cveID"},
				Filter:     "LOWER(`vendorProject`) = LOWER(?)",
				FilterArgs: []interface{}{"Microsoft"},
				Order:      "`cveID`",
				Limit:      10,
				Offset:     5,
			},
			wantSQL:  "SELECT `cveID` FROM `kev`.`kev` WHERE LOWER(`vendorProject`) = LOWER(?) ORDER BY `cveID` LIMIT ? OFFSET ?",
			wantArgs: []interface{}{"Microsoft", 10, 5},
		},
		{
			name:     "offset without limit",
			req:      connector.SelectRequest{Table: "kev", Offset: 5},
			wantSQL:  "SELECT * FROM `kev`.`kev` LIMIT 18446744073709551615 OFFSET ?",
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

func TestBuildSelectWithoutSchema(t *testing.T) {
	c := &MySQLConnector{}
	sql, _, err := c.BuildSelect(context.Background(), connector.SelectRequest{Table: "kev"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := "SELECT * FROM `kev`"; sql != want {
		t.Errorf("got %s, want %s", sql, want)
	}
}

// ---------------------------------------------------------------------------
// BuildInsert tests
// ---------------------------------------------------------------------------

func TestBuildInsert(t *testing.T) {
	c := newTestConnector()
	sql, args, err := c.BuildInsert(context.Background(), connector.InsertRequest{
		Table:   "kev",
		Columns: []string{"cveID", "notes"},
		Rows:    [][]interface{}{{"CVE-1", nil}, {"CVE-2", "n"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	wantSQL := "INSERT INTO `kev`.`kev` (`cveID`, `notes`) VALUES (?, ?), (?, ?)"
	if sql != wantSQL {
		t.Errorf("SQL mismatch\n  got:  %s\n  want: %s", sql, wantSQL)
	}
	wantArgs := []interface{}{"CVE-1", nil, "CVE-2", "n"}
	if !reflect.DeepEqual(args, wantArgs) {
		t.Errorf("args mismatch\n  got:  %v\n  want: %v", args, wantArgs)
	}
}

func TestBuildInsertErrors(t *testing.T) {
	c := newTestConnector()
	ctx := context.Background()
	reqs := map[string]connector.InsertRequest{
		"no table":   {Columns: []string{"a"}, Rows: [][]interface{}{{1}}},
		"no columns": {Table: "kev", Rows: [][]interface{}{{1}}},
		"no rows":    {Table: "kev", Columns: []string{"a"}},
		"ragged row": {Table: "kev", Columns: []string{"a", "b"}, Rows: [][]interface{}{{1, 2}, {3}}},
	}
	for name, req := range reqs {
		t.Run(name, func(t *testing.T) {
			if _, _, err := c.BuildInsert(ctx, req); err == nil {
				t.Error("expected error")
			}
		})
	}
}

// ---------------------------------------------------------------------------
// DDL and dialect tests
// ---------------------------------------------------------------------------

func TestCreateTableSQL(t *testing.T) {
	c := newTestConnector()
	got := c.createTableSQL(model.TableSchema{
		Name: "kev",
		Columns: []model.Column{
			{Name: "cveID", Type: model.TypeText},
			{Name: "n", Type: model.TypeInteger},
			{Name: "f", Type: model.TypeFloat},
		},
	})
	want := "CREATE TABLE IF NOT EXISTS `kev`.`kev` (\n  `cveID` TEXT COLLATE utf8mb4_bin,\n  `n` BIGINT,\n  `f` DOUBLE\n) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4"
	if got != want {
		t.Errorf("SQL mismatch\n  got:  %s\n  want: %s", got, want)
	}
}

func TestMySQLDialect(t *testing.T) {
	c := newTestConnector()

	if got := c.QuoteIdentifier("my`table"); got != "`my``table`" {
		t.Errorf("QuoteIdentifier = %s", got)
	}
	if got := c.ParameterPlaceholder(7); got != "?" {
		t.Errorf("ParameterPlaceholder = %s", got)
	}
	sql, err := c.BuildDeleteAll(context.Background(), "kev")
	if err != nil || sql != "DELETE FROM `kev`.`kev`" {
		t.Errorf("BuildDeleteAll = %q, %v", sql, err)
	}
	for _, ct := range []model.ColumnType{model.TypeInteger, model.TypeFloat, model.TypeText} {
		if got := mapMySQLType(strings.Fields(strings.ToLower(c.ColumnType(ct)))[0]); got != ct {
			t.Errorf("round trip of %s gave %s", ct, got)
		}
	}
	if m := c.Migrations(); !strings.Contains(m[0], "utf8mb4_bin") {
		t.Error("api_keys.app_name must use a binary collation")
	}
}
