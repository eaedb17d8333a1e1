package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/faucetdb/kevd/internal/connector"
	"github.com/faucetdb/kevd/internal/connector/sqlite"
	"github.com/faucetdb/kevd/internal/feed"
	"github.com/faucetdb/kevd/internal/model"
)

const sampleFeed = "cveID,vendorProject,product,score,count,notes\n" +
	"CVE-2021-44228,Apache,Log4j,10.0,3,log4shell\n" +
	"CVE-2023-0001,Microsoft,Exchange,9.8,1,\n" +
	"CVE-2023-0002,apache,Struts,8.1,2,struts\n"

// stubSource writes the current body to a fresh temp file on every fetch.
type stubSource struct {
	mu    sync.Mutex
	dir   string
	body  string
	err   error
	paths []string
}

func (s *stubSource) set(body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.body = body
}

func (s *stubSource) Fetch(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	f, err := os.CreateTemp(s.dir, "kev-*.csv")
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := io.WriteString(f, s.body); err != nil {
		return "", err
	}
	s.paths = append(s.paths, f.Name())
	return f.Name(), nil
}

func (s *stubSource) lastPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paths[len(s.paths)-1]
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestConn(t *testing.T) connector.Connector {
	t.Helper()
	conn := sqlite.New()
	if err := conn.Connect(connector.ConnectionConfig{Driver: "sqlite", DSN: ":memory:"}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { conn.Disconnect() })
	return conn
}

type testEnv struct {
	conn    connector.Connector
	source  *stubSource
	loader  *Loader
	catalog *Catalog
}

func newTestEnv(t *testing.T, body string) *testEnv {
	t.Helper()
	conn := newTestConn(t)
	src := &stubSource{dir: t.TempDir(), body: body}
	return &testEnv{
		conn:   conn,
		source: src,
		loader: NewLoader(conn, src, LoaderConfig{Table: "kev", BatchSize: 2}, discardLogger()),
		catalog: New(conn, Config{
			Table:        "kev",
			IDColumn:     "cveID",
			VendorColumn: "vendorProject",
		}),
	}
}

func (e *testEnv) mustRefresh(t *testing.T) int {
	t.Helper()
	n, err := e.loader.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	return n
}

func (e *testEnv) mustCount(t *testing.T) int64 {
	t.Helper()
	n, err := e.catalog.Count(context.Background())
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	return n
}

// ---------------------------------------------------------------------------
// Loader tests
// ---------------------------------------------------------------------------

func TestRefreshLoadsAllRecords(t *testing.T) {
	env := newTestEnv(t, sampleFeed)

	if n := env.mustRefresh(t); n != 3 {
		t.Fatalf("Refresh returned %d, want 3", n)
	}
	if n := env.mustCount(t); n != 3 {
		t.Errorf("Count = %d, want 3", n)
	}

	cols, err := env.catalog.Columns(context.Background())
	if err != nil {
		t.Fatalf("Columns: %v", err)
	}
	got := make(map[string]model.ColumnType, len(cols))
	for _, c := range cols {
		got[c.Name] = c.Type
	}
	want := map[string]model.ColumnType{
		"cveID":         model.TypeText,
		"vendorProject": model.TypeText,
		"product":       model.TypeText,
		"score":         model.TypeFloat,
		"count":         model.TypeInteger,
		"notes":         model.TypeText,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("columns mismatch (-want +got):\n%s", diff)
	}

	if _, err := os.Stat(env.source.lastPath()); !os.IsNotExist(err) {
		t.Errorf("feed file should be removed after success, stat err = %v", err)
	}

	st := env.loader.Status()
	if st.RecordCount != 3 || st.LastError != "" || st.LastSuccess.IsZero() {
		t.Errorf("unexpected status: %+v", st)
	}
}

func TestRefreshReplacesRows(t *testing.T) {
	env := newTestEnv(t, sampleFeed)
	env.mustRefresh(t)

	env.source.set("cveID,vendorProject,product,score,count,notes\n" +
		"CVE-2024-0001,Fortinet,FortiOS,9.1,7,x\n")
	if n := env.mustRefresh(t); n != 1 {
		t.Fatalf("Refresh returned %d, want 1", n)
	}
	if n := env.mustCount(t); n != 1 {
		t.Errorf("Count = %d, want 1", n)
	}
}

func TestRefreshEmptyFeedKeepsTable(t *testing.T) {
	env := newTestEnv(t, sampleFeed)
	env.mustRefresh(t)

	env.source.set("cveID,vendorProject,product,score,count,notes\n")
	_, err := env.loader.Refresh(context.Background())
	if !errors.Is(err, ErrEmptyFeed) {
		t.Fatalf("expected ErrEmptyFeed, got %v", err)
	}
	var ie *IngestionError
	if !errors.As(err, &ie) || ie.Stage != StageValidate {
		t.Errorf("expected validate stage, got %v", err)
	}

	if n := env.mustCount(t); n != 3 {
		t.Errorf("prior table should be untouched, count = %d", n)
	}
	if _, err := os.Stat(env.source.lastPath()); err != nil {
		t.Errorf("feed file should be kept after failure: %v", err)
	}
	if st := env.loader.Status(); st.LastError == "" || st.RecordCount != 3 {
		t.Errorf("unexpected status: %+v", st)
	}
}

func TestRefreshEmptyFeedCreatesNoTable(t *testing.T) {
	env := newTestEnv(t, "cveID,vendorProject\n")
	if _, err := env.loader.Refresh(context.Background()); !errors.Is(err, ErrEmptyFeed) {
		t.Fatalf("expected ErrEmptyFeed, got %v", err)
	}
	if _, err := env.catalog.Count(context.Background()); !errors.Is(err, ErrNotLoaded) {
		t.Errorf("expected ErrNotLoaded, got %v", err)
	}
}

func TestRefreshStages(t *testing.T) {
	t.Run("fetch", func(t *testing.T) {
		env := newTestEnv(t, sampleFeed)
		env.source.err = errors.New("connection refused")
		_, err := env.loader.Refresh(context.Background())
		var ie *IngestionError
		if !errors.As(err, &ie) || ie.Stage != StageFetch {
			t.Fatalf("expected fetch stage, got %v", err)
		}
	})

	t.Run("parse", func(t *testing.T) {
		env := newTestEnv(t, "cveID,cveID\nCVE-1,CVE-1\n")
		_, err := env.loader.Refresh(context.Background())
		var ie *IngestionError
		if !errors.As(err, &ie) || ie.Stage != StageParse {
			t.Fatalf("expected parse stage, got %v", err)
		}
	})
}

func TestRefreshSchemaDrift(t *testing.T) {
	env := newTestEnv(t, sampleFeed)
	env.mustRefresh(t)

	env.source.set("cveID,vendorProject,dateAdded\n" +
		"CVE-2024-1,Ivanti,2024-01-10\n" +
		"CVE-2024-2,Citrix,2024-01-11\n")
	if n := env.mustRefresh(t); n != 2 {
		t.Fatalf("Refresh returned %d, want 2", n)
	}

	cols, err := env.catalog.Columns(context.Background())
	if err != nil {
		t.Fatalf("Columns: %v", err)
	}
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	if diff := cmp.Diff([]string{"cveID", "vendorProject", "dateAdded"}, names); diff != "" {
		t.Errorf("columns mismatch (-want +got):\n%s", diff)
	}
}

func TestRefreshTypeDrift(t *testing.T) {
	env := newTestEnv(t, "cveID,vendorProject,score\nCVE-1,a,7\n")
	env.mustRefresh(t)

	env.source.set("cveID,vendorProject,score\nCVE-1,a,7.5\n")
	env.mustRefresh(t)

	rows, err := env.catalog.ByID(context.Background(), "CVE-1")
	if err != nil {
		t.Fatalf("ByID: %v", err)
	}
	if len(rows) != 1 || rows[0]["score"] != 7.5 {
		t.Errorf("expected score 7.5 after type change, got %v", rows)
	}
}

// failingInsert makes every BuildInsert fail once fail is set.
type failingInsert struct {
	connector.Connector
	fail bool
}

func (f *failingInsert) BuildInsert(ctx context.Context, req connector.InsertRequest) (string, []interface{}, error) {
	if f.fail {
		return "", nil, errors.New("insert rejected")
	}
	return f.Connector.BuildInsert(ctx, req)
}

func TestRefreshDriftFailureKeepsTable(t *testing.T) {
	env := newTestEnv(t, sampleFeed)
	conn := &failingInsert{Connector: env.conn}
	env.loader = NewLoader(conn, env.source, LoaderConfig{Table: "kev", BatchSize: 2}, discardLogger())
	env.mustRefresh(t)

	conn.fail = true
	env.source.set("cveID,vendorProject,dateAdded\nCVE-2024-1,Ivanti,2024-01-10\n")
	_, err := env.loader.Refresh(context.Background())
	var ie *IngestionError
	if !errors.As(err, &ie) || ie.Stage != StageStore {
		t.Fatalf("expected store stage error, got %v", err)
	}

	if n := env.mustCount(t); n != 3 {
		t.Errorf("count after failed drift refresh = %d, want 3", n)
	}
	cols, err := env.conn.TableColumns(context.Background(), "kev")
	if err != nil {
		t.Fatalf("TableColumns: %v", err)
	}
	if len(cols) != 6 {
		t.Errorf("expected the original 6 columns, got %d", len(cols))
	}
	staging, err := env.conn.TableColumns(context.Background(), "kev"+StagingSuffix)
	if err != nil {
		t.Fatalf("TableColumns: %v", err)
	}
	if len(staging) != 0 {
		t.Errorf("staging table left behind with %d columns", len(staging))
	}
}

func TestRefreshNonNumericFloatStaysEncodable(t *testing.T) {
	env := newTestEnv(t, "cveID,vendorProject,score\n"+
		"CVE-1,Apache,7.5\n"+
		"CVE-2,Apache,inf\n"+
		"CVE-3,Apache,NaN\n"+
		"CVE-4,Apache,0x1p3\n")
	if n := env.mustRefresh(t); n != 4 {
		t.Fatalf("Refresh returned %d, want 4", n)
	}

	rows, err := env.catalog.All(context.Background(), Page{})
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if _, err := json.Marshal(rows); err != nil {
		t.Fatalf("rows are not JSON encodable: %v", err)
	}

	got, err := env.catalog.ByID(context.Background(), "CVE-2")
	if err != nil {
		t.Fatalf("ByID: %v", err)
	}
	if len(got) != 1 || got[0]["score"] != "inf" {
		t.Errorf("expected score stored as text \"inf\", got %v", got)
	}
}

func TestRefreshReservedAndSpacedColumns(t *testing.T) {
	env := newTestEnv(t, "cveID,vendorProject,key,Due Date\n"+
		"CVE-1,Apache,k1,2024-01-01\n"+
		"CVE-2,Ivanti,k2,2024-02-01\n")
	if n := env.mustRefresh(t); n != 2 {
		t.Fatalf("Refresh returned %d, want 2", n)
	}

	rows, err := env.catalog.ByVendor(context.Background(), "ivanti")
	if err != nil {
		t.Fatalf("ByVendor: %v", err)
	}
	if len(rows) != 1 || rows[0]["key"] != "k2" || rows[0]["Due Date"] != "2024-02-01" {
		t.Errorf("unexpected rows %v", rows)
	}
}

func TestRefreshEmptyValuesAreNull(t *testing.T) {
	env := newTestEnv(t, sampleFeed)
	env.mustRefresh(t)

	rows, err := env.catalog.ByID(context.Background(), "CVE-2023-0001")
	if err != nil {
		t.Fatalf("ByID: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if v, ok := rows[0]["notes"]; !ok || v != nil {
		t.Errorf("notes = %#v, want nil", v)
	}
}

func TestRefreshConcurrent(t *testing.T) {
	env := newTestEnv(t, sampleFeed)

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := env.loader.Refresh(context.Background()); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent refresh: %v", err)
	}
	if n := env.mustCount(t); n != 3 {
		t.Errorf("Count = %d, want 3", n)
	}
}

func TestRefreshIgnoresCallerCancel(t *testing.T) {
	env := newTestEnv(t, sampleFeed)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := env.loader.Refresh(ctx); err != nil {
		t.Fatalf("Refresh should not observe caller cancellation: %v", err)
	}
	if n := env.mustCount(t); n != 3 {
		t.Errorf("Count = %d, want 3", n)
	}
}

func TestRefreshFromHTTPSFeed(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/csv")
		io.WriteString(w, sampleFeed)
	}))
	defer srv.Close()

	dir := t.TempDir()
	fetcher, err := feed.NewFetcher(feed.FetcherConfig{URL: srv.URL, TempDir: dir}, srv.Client(), discardLogger())
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}

	conn := newTestConn(t)
	loader := NewLoader(conn, fetcher, LoaderConfig{Table: "kev", BatchSize: 500}, discardLogger())
	if n, err := loader.Refresh(context.Background()); err != nil || n != 3 {
		t.Fatalf("Refresh = %d, %v; want 3, nil", n, err)
	}

	left, _ := filepath.Glob(filepath.Join(dir, "*"))
	if len(left) != 0 {
		t.Errorf("expected spool directory to be empty, found %v", left)
	}
}

func TestBatchSizeHonorsParameterLimit(t *testing.T) {
	conn := newTestConn(t)
	l := NewLoader(conn, &stubSource{}, LoaderConfig{Table: "kev", BatchSize: 1000}, discardLogger())

	if got := l.batchSize(6); got != 1000 {
		t.Errorf("batchSize(6) = %d, want 1000", got)
	}
	if got, want := l.batchSize(100), conn.MaxParameters()/100; got != want {
		t.Errorf("batchSize(100) = %d, want %d", got, want)
	}
	if got := l.batchSize(conn.MaxParameters() * 2); got != 1 {
		t.Errorf("batchSize over limit = %d, want 1", got)
	}
}

// ---------------------------------------------------------------------------
// Query tests
// ---------------------------------------------------------------------------

func TestQueriesBeforeLoad(t *testing.T) {
	env := newTestEnv(t, sampleFeed)
	ctx := context.Background()

	if _, err := env.catalog.Count(ctx); !errors.Is(err, ErrNotLoaded) {
		t.Errorf("Count: expected ErrNotLoaded, got %v", err)
	}
	if _, err := env.catalog.IDs(ctx); !errors.Is(err, ErrNotLoaded) {
		t.Errorf("IDs: expected ErrNotLoaded, got %v", err)
	}
	if _, err := env.catalog.Columns(ctx); !errors.Is(err, ErrNotLoaded) {
		t.Errorf("Columns: expected ErrNotLoaded, got %v", err)
	}
}

func TestIDs(t *testing.T) {
	env := newTestEnv(t, sampleFeed)
	env.mustRefresh(t)

	rows, err := env.catalog.IDs(context.Background())
	if err != nil {
		t.Fatalf("IDs: %v", err)
	}
	var ids []string
	for _, r := range rows {
		if len(r) != 1 {
			t.Errorf("expected only the id column, got %v", r)
		}
		ids = append(ids, r["cveID"].(string))
	}
	sort.Strings(ids)
	want := []string{"CVE-2021-44228", "CVE-2023-0001", "CVE-2023-0002"}
	if diff := cmp.Diff(want, ids); diff != "" {
		t.Errorf("ids mismatch (-want +got):\n%s", diff)
	}
}

func TestAllWithPage(t *testing.T) {
	env := newTestEnv(t, sampleFeed)
	env.mustRefresh(t)
	ctx := context.Background()

	all, err := env.catalog.All(ctx, Page{})
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(all) != 3 || len(all[0]) != 6 {
		t.Errorf("expected 3 rows of 6 columns, got %v", all)
	}

	page, err := env.catalog.All(ctx, Page{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("All page: %v", err)
	}
	if len(page) != 1 || page[0]["cveID"] != "CVE-2023-0001" {
		t.Errorf("unexpected page: %v", page)
	}
}

func TestByIDIsExact(t *testing.T) {
	env := newTestEnv(t, sampleFeed)
	env.mustRefresh(t)
	ctx := context.Background()

	rows, err := env.catalog.ByID(ctx, "CVE-2021-44228")
	if err != nil {
		t.Fatalf("ByID: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	want := model.Row{
		"cveID":         "CVE-2021-44228",
		"vendorProject": "Apache",
		"product":       "Log4j",
		"score":         10.0,
		"count":         int64(3),
		"notes":         "log4shell",
	}
	if diff := cmp.Diff(want, rows[0]); diff != "" {
		t.Errorf("row mismatch (-want +got):\n%s", diff)
	}

	rows, err = env.catalog.ByID(ctx, "cve-2021-44228")
	if err != nil {
		t.Fatalf("ByID: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("identifier match must be case-sensitive, got %v", rows)
	}
}

func TestByVendorIgnoresCase(t *testing.T) {
	env := newTestEnv(t, sampleFeed)
	env.mustRefresh(t)

	rows, err := env.catalog.ByVendor(context.Background(), "APACHE")
	if err != nil {
		t.Fatalf("ByVendor: %v", err)
	}
	if len(rows) != 2 {
		t.Errorf("expected 2 apache rows, got %d", len(rows))
	}

	rows, err = env.catalog.ByVendor(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("ByVendor: %v", err)
	}
	if rows == nil || len(rows) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", rows)
	}
}

func TestUnknownColumn(t *testing.T) {
	env := newTestEnv(t, "cveID,product\nCVE-1,x\n")
	env.mustRefresh(t)

	if _, err := env.catalog.ByVendor(context.Background(), "x"); !errors.Is(err, ErrUnknownColumn) {
		t.Errorf("expected ErrUnknownColumn, got %v", err)
	}
}
