package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/faucetdb/kevd/internal/catalog"
	"github.com/faucetdb/kevd/internal/model"
)

const (
	schemaURI = "kev://schema"
	statusURI = "kev://status"
)

// registerResources adds read-only context documents for agent clients.
func (s *MCPServer) registerResources(srv *server.MCPServer) {
	srv.AddResource(
		mcp.NewResource(
			schemaURI,
			"KEV Catalog Columns",
			mcp.WithResourceDescription("Columns of the loaded KEV catalog with their inferred types."),
			mcp.WithMIMEType("application/json"),
		),
		s.handleSchemaResource,
	)

	srv.AddResource(
		mcp.NewResource(
			statusURI,
			"KEV Refresh Status",
			mcp.WithResourceDescription("Outcome of the most recent catalog refresh."),
			mcp.WithMIMEType("application/json"),
		),
		s.handleStatusResource,
	)
}

func (s *MCPServer) handleSchemaResource(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	cols, err := s.catalog.Columns(ctx)
	if err != nil && !errors.Is(err, catalog.ErrNotLoaded) {
		return nil, fmt.Errorf("failed to read catalog columns: %w", err)
	}
	if cols == nil {
		cols = []model.Column{}
	}
	return jsonResource(schemaURI, cols)
}

func (s *MCPServer) handleStatusResource(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return jsonResource(statusURI, s.loader.Status())
}

func jsonResource(uri string, v interface{}) ([]mcp.ResourceContents, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", uri, err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
}
