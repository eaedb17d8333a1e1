package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/faucetdb/kevd/internal/catalog"
	"github.com/faucetdb/kevd/internal/handler"
	"github.com/faucetdb/kevd/internal/openapi"
	"github.com/faucetdb/kevd/internal/server/middleware"
	"github.com/faucetdb/kevd/internal/service"
	"github.com/faucetdb/kevd/internal/store"
)

// Config holds the HTTP server configuration.
type Config struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	RequestTimeout  time.Duration // bounds read endpoints
	CORSOrigins     []string
	MaxBodySize     int64 // bytes
	// RequireKeyForIssuance puts POST /api-keys behind the auth gate.
	RequireKeyForIssuance bool
	// RefreshInterval reloads the catalog periodically while serving. Zero
	// disables periodic refresh.
	RefreshInterval time.Duration
	Version         string
}

// DefaultConfig returns a Config with sensible production defaults.
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            8080,
		ShutdownTimeout: 30 * time.Second,
		RequestTimeout:  30 * time.Second,
		CORSOrigins:     []string{"*"},
		MaxBodySize:     1 << 20, // 1MB
	}
}

// Deps are the services the HTTP surface is built on.
type Deps struct {
	Store   *store.Store
	Auth    *service.AuthService
	Catalog *catalog.Catalog
	Loader  *catalog.Loader
}

// Server is the top-level HTTP server for kevd. It owns the Chi router and
// the services behind it.
type Server struct {
	cfg        Config
	deps       Deps
	router     chi.Router
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a new Server, wires up all routes and middleware, and returns
// it ready to listen. Call ListenAndServe to start accepting connections.
func New(cfg Config, deps Deps, logger *slog.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// --- Global middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", middleware.HeaderAPIKey, middleware.HeaderAppName, middleware.HeaderRequestID},
		ExposedHeaders: []string{middleware.HeaderRequestID},
		MaxAge:         300,
	}))
	r.Use(chimw.Compress(5))

	catHandler := handler.NewCatalogHandler(s.deps.Catalog)
	keyHandler := handler.NewKeyHandler(s.deps.Auth, s.cfg.MaxBodySize, s.logger)
	sysHandler := handler.NewSystemHandler(s.deps.Loader, s.deps.Store)
	requireKey := middleware.Authenticate(s.deps.Auth, s.cfg.MaxBodySize, s.logger)

	// --- Probes and API description (no auth required) ---
	r.Get("/healthz", sysHandler.Healthz)
	r.Get("/readyz", sysHandler.Readyz)
	r.Get("/openapi.json", s.handleOpenAPI)

	// --- Key issuance ---
	if s.cfg.RequireKeyForIssuance {
		r.With(requireKey).Post("/api-keys", keyHandler.CreateKey)
	} else {
		r.Post("/api-keys", keyHandler.CreateKey)
	}

	// --- Authenticated API ---
	r.Group(func(r chi.Router) {
		r.Use(requireKey)

		// Refresh has its own timeout and outlives the request.
		r.Post("/update-kev", sysHandler.Refresh)

		r.Group(func(r chi.Router) {
			if s.cfg.RequestTimeout > 0 {
				r.Use(chimw.Timeout(s.cfg.RequestTimeout))
			}
			r.Get("/", catHandler.ListAll)
			r.Get("/count", catHandler.Count)
			r.Get("/cve", catHandler.ListIDs)
			r.Get("/cve/{cveID}", catHandler.GetByID)
			// Static routes above always win over this catch-all.
			r.Get("/{vendor}", catHandler.ListByVendor)
		})
	})

	s.router = r
}

// handleOpenAPI serves the API description with the record schema taken
// from the loaded catalog table.
func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	cols, err := s.deps.Catalog.Columns(r.Context())
	if err != nil && !errors.Is(err, catalog.ErrNotLoaded) {
		s.logger.Warn("openapi: catalog introspection failed", "error", err)
	}

	doc := openapi.Generate(openapi.Options{
		Version:                 s.cfg.Version,
		IDColumn:                s.deps.Catalog.IDColumn(),
		VendorColumn:            s.deps.Catalog.VendorColumn(),
		KeyIssuanceRequiresAuth: s.cfg.RequireKeyForIssuance,
	}, cols)

	b, err := doc.MarshalJSON()
	if err != nil {
		http.Error(w, `{"error":{"code":500,"message":"failed to render OpenAPI document"}}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(b)
}

// ListenAndServe listens on the configured address and serves until ctx is
// cancelled or a SIGINT or SIGTERM is received.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled or a shutdown
// signal arrives, then drains in-flight requests within the shutdown
// timeout. The periodic refresh, when configured, runs for the same span.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Listen for shutdown signals
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if s.cfg.RefreshInterval > 0 {
		go s.refreshLoop(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server listen: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	s.logger.Info("server stopped")
	return nil
}

// refreshLoop reloads the catalog every RefreshInterval until ctx ends.
// Failures are logged and the next tick tries again.
func (s *Server) refreshLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RefreshInterval)
	defer ticker.Stop()

	s.logger.Info("periodic refresh enabled", "interval", s.cfg.RefreshInterval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.deps.Loader.Refresh(ctx); err != nil {
				s.logger.Error("periodic refresh failed", "error", err)
			}
		}
	}
}

// Router returns the underlying Chi router, useful for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ServeHTTP implements http.Handler, delegating to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
