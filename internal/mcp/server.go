// Package mcp exposes the KEV catalog to agent clients over the Model
// Context Protocol.
package mcp

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/faucetdb/kevd/internal/catalog"
	"github.com/faucetdb/kevd/internal/model"
	"github.com/faucetdb/kevd/internal/server/middleware"
)

// Catalog is the read side of the KEV catalog.
type Catalog interface {
	All(ctx context.Context, page catalog.Page) ([]model.Row, error)
	Count(ctx context.Context) (int64, error)
	ByID(ctx context.Context, id string) ([]model.Row, error)
	ByVendor(ctx context.Context, vendor string) ([]model.Row, error)
	Columns(ctx context.Context) ([]model.Column, error)
}

// Loader reloads the catalog and reports the last outcome.
type Loader interface {
	Refresh(ctx context.Context) (int, error)
	Status() catalog.Status
}

// MCPServer wraps the mcp-go server with the KEV tools and resources.
type MCPServer struct {
	catalog Catalog
	loader  Loader
	logger  *slog.Logger
	server  *server.MCPServer
}

// NewMCPServer creates an MCPServer pre-loaded with all kevd tools and
// resources. The returned server is ready to serve over stdio or HTTP.
func NewMCPServer(cat Catalog, loader Loader, version string, logger *slog.Logger) *MCPServer {
	s := &MCPServer{
		catalog: cat,
		loader:  loader,
		logger:  logger,
	}

	mcpServer := server.NewMCPServer(
		"kevd",
		version,
		server.WithResourceCapabilities(true, false),
		server.WithToolCapabilities(true),
	)

	s.registerTools(mcpServer)
	s.registerResources(mcpServer)

	s.server = mcpServer
	return s
}

// Server returns the underlying mcp-go MCPServer instance.
func (s *MCPServer) Server() *server.MCPServer {
	return s.server
}

// ServeStdio serves MCP over stdin/stdout for clients that launch kevd as a
// subprocess. Logs must not go to stdout in this mode.
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server in stdio mode")
	return server.ServeStdio(s.server)
}

// HTTPHandler returns the Streamable HTTP transport behind the same API key
// gate as the REST surface.
func (s *MCPServer) HTTPHandler(auth middleware.Authenticator, maxBodySize int64) http.Handler {
	gate := middleware.Authenticate(auth, maxBodySize, s.logger)
	return gate(server.NewStreamableHTTPServer(s.server))
}

// ListenAndServeHTTP serves HTTPHandler on addr (e.g. ":3001") until ctx is
// done.
func (s *MCPServer) ListenAndServeHTTP(ctx context.Context, addr string, auth middleware.Authenticator, maxBodySize int64) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.HTTPHandler(auth, maxBodySize),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	s.logger.Info("MCP HTTP server starting", "addr", addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func readOnlyAnnotation() mcp.ToolAnnotation {
	return mcp.ToolAnnotation{
		ReadOnlyHint: boolPtr(true),
	}
}

func mutatingAnnotation() mcp.ToolAnnotation {
	return mcp.ToolAnnotation{
		ReadOnlyHint:   boolPtr(false),
		IdempotentHint: boolPtr(true),
	}
}

func boolPtr(b bool) *bool {
	return &b
}
