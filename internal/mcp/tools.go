package mcp

import (
	"context"
	"errors"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/faucetdb/kevd/internal/catalog"
)

const (
	defaultListLimit = 25
	maxListLimit     = 1000
)

// registerTools registers all kevd MCP tools on the given server.
func (s *MCPServer) registerTools(srv *server.MCPServer) {
	srv.AddTool(
		mcp.NewTool("kev_count",
			mcp.WithDescription("Return the number of vulnerabilities in the CISA Known Exploited Vulnerabilities catalog."),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
		),
		s.handleCount,
	)

	srv.AddTool(
		mcp.NewTool("kev_lookup_cve",
			mcp.WithDescription(
				"Look up a CVE in the KEV catalog. The identifier must match exactly, "+
					"e.g. CVE-2021-44228. An empty result means the CVE is not known to be exploited.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("cve_id",
				mcp.Required(),
				mcp.Description("CVE identifier, e.g. CVE-2021-44228"),
			),
		),
		s.handleLookupCVE,
	)

	srv.AddTool(
		mcp.NewTool("kev_by_vendor",
			mcp.WithDescription("List KEV entries for a vendor or project. Matching ignores case."),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("vendor",
				mcp.Required(),
				mcp.Description("Vendor or project name, e.g. Microsoft"),
			),
		),
		s.handleByVendor,
	)

	srv.AddTool(
		mcp.NewTool("kev_list",
			mcp.WithDescription("Page through the KEV catalog ordered by CVE identifier."),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithNumber("limit",
				mcp.Description("Maximum number of entries to return (default 25, max 1000)"),
			),
			mcp.WithNumber("offset",
				mcp.Description("Number of entries to skip"),
			),
		),
		s.handleList,
	)

	srv.AddTool(
		mcp.NewTool("kev_refresh",
			mcp.WithDescription(
				"Download the current KEV feed and replace the catalog with it. "+
					"Returns the number of entries loaded.",
			),
			mcp.WithToolAnnotation(mutatingAnnotation()),
		),
		s.handleRefresh,
	)
}

func (s *MCPServer) handleCount(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	n, err := s.catalog.Count(ctx)
	if err != nil {
		return catalogError("count the catalog", err)
	}
	return successJSON(map[string]int64{"count": n})
}

func (s *MCPServer) handleLookupCVE(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requireString(request, "cve_id")
	if err != nil {
		return toolError("%v", err)
	}
	rows, err := s.catalog.ByID(ctx, id)
	if err != nil {
		return catalogError("look up "+id, err)
	}
	return successJSON(map[string]interface{}{
		"cve_id":    id,
		"exploited": len(rows) > 0,
		"records":   rows,
	})
}

func (s *MCPServer) handleByVendor(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	vendor, err := requireString(request, "vendor")
	if err != nil {
		return toolError("%v", err)
	}
	rows, err := s.catalog.ByVendor(ctx, vendor)
	if err != nil {
		return catalogError("list vendor "+vendor, err)
	}
	return successJSON(map[string]interface{}{
		"vendor":  vendor,
		"count":   len(rows),
		"records": rows,
	})
}

func (s *MCPServer) handleList(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	page := catalog.Page{
		Limit:  clamp(optionalInt(request, "limit", defaultListLimit), 1, maxListLimit),
		Offset: max(optionalInt(request, "offset", 0), 0),
	}
	rows, err := s.catalog.All(ctx, page)
	if err != nil {
		return catalogError("list the catalog", err)
	}
	return successJSON(map[string]interface{}{
		"limit":   page.Limit,
		"offset":  page.Offset,
		"records": rows,
	})
}

func (s *MCPServer) handleRefresh(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	n, err := s.loader.Refresh(ctx)
	if err != nil {
		s.logger.Error("mcp refresh failed", "error", err)
		return toolError("Refresh failed: %v", err)
	}
	return successJSON(map[string]interface{}{
		"message":     "KEV catalog updated",
		"recordCount": n,
	})
}

// catalogError turns a catalog failure into a tool error the agent can act on.
func catalogError(action string, err error) (*mcp.CallToolResult, error) {
	if errors.Is(err, catalog.ErrNotLoaded) {
		return toolError("The KEV catalog has not been loaded yet. Call kev_refresh first.")
	}
	return toolError("Failed to %s: %v", action, err)
}
