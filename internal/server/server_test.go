package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/faucetdb/kevd/internal/catalog"
	"github.com/faucetdb/kevd/internal/connector"
	"github.com/faucetdb/kevd/internal/connector/sqlite"
	"github.com/faucetdb/kevd/internal/model"
	"github.com/faucetdb/kevd/internal/service"
	"github.com/faucetdb/kevd/internal/store"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

const testFeed = "cveID,vendorProject,product\n" +
	"CVE-2021-44228,Apache,Log4j\n" +
	"CVE-2017-5638,Apache,Struts\n" +
	"CVE-2023-23397,Microsoft,Outlook\n"

// countingSource serves testFeed and counts fetches.
type countingSource struct {
	dir     string
	fetches atomic.Int32
}

func (s *countingSource) Fetch(context.Context) (string, error) {
	s.fetches.Add(1)
	path := filepath.Join(s.dir, "feed.csv")
	return path, os.WriteFile(path, []byte(testFeed), 0o600)
}

// testEnv holds all the shared state for integration tests.
type testEnv struct {
	server  *Server
	authSvc *service.AuthService
	source  *countingSource
	key     string
}

// newTestEnv wires a Server to an in-memory SQLite store and issues one key
// for app "scanner".
func newTestEnv(t *testing.T, mutate ...func(*Config)) *testEnv {
	t.Helper()

	conn := sqlite.New()
	if err := conn.Connect(connector.ConnectionConfig{Driver: "sqlite", DSN: ":memory:"}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { conn.Disconnect() })

	st := store.New(conn)
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	src := &countingSource{dir: t.TempDir()}
	authSvc := service.NewAuthService(st)
	deps := Deps{
		Store:   st,
		Auth:    authSvc,
		Catalog: catalog.New(conn, catalog.Config{Table: "kev", IDColumn: "cveID", VendorColumn: "vendorProject"}),
		Loader:  catalog.NewLoader(conn, src, catalog.LoaderConfig{Table: "kev", BatchSize: 100}, logger),
	}

	cfg := DefaultConfig()
	cfg.ShutdownTimeout = 2 * time.Second
	for _, m := range mutate {
		m(&cfg)
	}

	key, _, err := authSvc.IssueKey(context.Background(), "scanner")
	if err != nil {
		t.Fatalf("IssueKey: %v", err)
	}

	return &testEnv{server: New(cfg, deps, logger), authSvc: authSvc, source: src, key: key}
}

// do sends a request through the router. When authed is true the test key
// and app name are attached as headers.
func (e *testEnv) do(t *testing.T, method, path string, authed bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if authed {
		req.Header.Set("X-API-Key", e.key)
		req.Header.Set("App-Name", "scanner")
	}
	rr := httptest.NewRecorder()
	e.server.ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) load(t *testing.T) {
	t.Helper()
	if rr := e.do(t, "POST", "/update-kev", true); rr.Code != http.StatusOK {
		t.Fatalf("refresh: %d %s", rr.Code, rr.Body.String())
	}
}

// ---------------------------------------------------------------------------
// Routing and auth
// ---------------------------------------------------------------------------

func TestProtectedRoutesRequireKey(t *testing.T) {
	env := newTestEnv(t)
	routes := []struct{ method, path string }{
		{"GET", "/"},
		{"GET", "/count"},
		{"GET", "/cve"},
		{"GET", "/cve/CVE-2021-44228"},
		{"GET", "/apache"},
		{"POST", "/update-kev"},
	}
	for _, rt := range routes {
		rr := env.do(t, rt.method, rt.path, false)
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("%s %s without key = %d, want 401", rt.method, rt.path, rr.Code)
		}
	}
	if env.source.fetches.Load() != 0 {
		t.Error("unauthenticated refresh must not fetch the feed")
	}
}

func TestPublicRoutes(t *testing.T) {
	env := newTestEnv(t)
	for _, path := range []string{"/healthz", "/readyz", "/openapi.json"} {
		if rr := env.do(t, "GET", path, false); rr.Code != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, rr.Code)
		}
	}
}

func TestEndToEnd(t *testing.T) {
	env := newTestEnv(t)

	// Before the first refresh the catalog is absent.
	if rr := env.do(t, "GET", "/count", true); rr.Code != http.StatusNotFound {
		t.Errorf("count before load = %d, want 404", rr.Code)
	}

	env.load(t)

	rr := env.do(t, "GET", "/count", true)
	var count model.CountResponse
	json.Unmarshal(rr.Body.Bytes(), &count)
	if rr.Code != http.StatusOK || count.Count != 3 {
		t.Errorf("count = %d %s", rr.Code, rr.Body.String())
	}

	rr = env.do(t, "GET", "/microsoft", true)
	var rows []map[string]interface{}
	json.Unmarshal(rr.Body.Bytes(), &rows)
	if len(rows) != 1 || rows[0]["product"] != "Outlook" {
		t.Errorf("vendor lookup = %s", rr.Body.String())
	}

	rr = env.do(t, "GET", "/cve/CVE-2017-5638", true)
	rows = nil
	json.Unmarshal(rr.Body.Bytes(), &rows)
	if len(rows) != 1 || rows[0]["product"] != "Struts" {
		t.Errorf("cve lookup = %s", rr.Body.String())
	}
}

func TestAuthUpdatesLastUsed(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, "GET", "/healthz", true)

	creds, _ := env.authSvc.List(context.Background())
	if len(creds) != 1 || creds[0].LastUsedAt != nil {
		t.Fatalf("public routes must not touch the key: %+v", creds)
	}

	env.do(t, "GET", "/count", true)
	creds, _ = env.authSvc.List(context.Background())
	if creds[0].LastUsedAt == nil {
		t.Error("authenticated request should set last_used_at")
	}
}

func TestKeyIssuanceOpenByDefault(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest("POST", "/api-keys", strings.NewReader(`{"app_name":"newapp"}`))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	env.server.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rr.Code, rr.Body.String())
	}
	var resp model.APIKeyResponse
	json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp.AppName != "newapp" || resp.APIKey == "" {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestKeyIssuanceGated(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.RequireKeyForIssuance = true })

	req := httptest.NewRequest("POST", "/api-keys", nil)
	req.Header.Set("App-Name", "scanner")
	rr := httptest.NewRecorder()
	env.server.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("gated issuance without key = %d, want 401", rr.Code)
	}

	if rr := env.do(t, "POST", "/api-keys", true); rr.Code != http.StatusCreated {
		t.Errorf("gated issuance with key = %d, want 201", rr.Code)
	}
}

func TestRequestIDAndCORS(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "GET", "/healthz", false)
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID on every response")
	}

	req := httptest.NewRequest("OPTIONS", "/count", nil)
	req.Header.Set("Origin", "https://dashboard.example.com")
	req.Header.Set("Access-Control-Request-Method", "GET")
	req.Header.Set("Access-Control-Request-Headers", "X-API-Key, App-Name")
	rr = httptest.NewRecorder()
	env.server.ServeHTTP(rr, req)

	if got := rr.Header().Get("Access-Control-Allow-Origin"); got == "" {
		t.Errorf("preflight should allow the origin, headers: %v", rr.Header())
	}
}

func TestOpenAPIReflectsLoadedColumns(t *testing.T) {
	env := newTestEnv(t)
	env.load(t)

	rr := env.do(t, "GET", "/openapi.json", false)
	var doc struct {
		Components struct {
			Schemas map[string]struct {
				Properties map[string]interface{} `json:"properties"`
			} `json:"schemas"`
		} `json:"components"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	props := doc.Components.Schemas["KevRecord"].Properties
	for _, col := range []string{"cveID", "vendorProject", "product"} {
		if _, ok := props[col]; !ok {
			t.Errorf("KevRecord is missing %s", col)
		}
	}
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

func TestServeShutsDownOnCancel(t *testing.T) {
	env := newTestEnv(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- env.server.Serve(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/healthz"
	var resp *http.Response
	for i := 0; i < 50; i++ {
		if resp, err = http.Get(url); err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("server never became reachable: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestPeriodicRefresh(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.RefreshInterval = 20 * time.Millisecond })
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- env.server.Serve(ctx, ln) }()

	deadline := time.Now().Add(3 * time.Second)
	for env.source.fetches.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done

	if n := env.source.fetches.Load(); n < 2 {
		t.Errorf("expected at least 2 periodic refreshes, got %d", n)
	}
}
