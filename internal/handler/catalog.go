package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/faucetdb/kevd/internal/catalog"
	"github.com/faucetdb/kevd/internal/model"
)

// CatalogReader is the read side of the catalog.
type CatalogReader interface {
	IDs(ctx context.Context) ([]model.Row, error)
	All(ctx context.Context, page catalog.Page) ([]model.Row, error)
	Count(ctx context.Context) (int64, error)
	ByID(ctx context.Context, id string) ([]model.Row, error)
	ByVendor(ctx context.Context, vendor string) ([]model.Row, error)
}

// CatalogHandler serves the read endpoints over the KEV table.
type CatalogHandler struct {
	catalog CatalogReader
}

// NewCatalogHandler creates a new CatalogHandler.
func NewCatalogHandler(c CatalogReader) *CatalogHandler {
	return &CatalogHandler{catalog: c}
}

// ListIDs returns the identifier column of every row.
// GET /cve
func (h *CatalogHandler) ListIDs(w http.ResponseWriter, r *http.Request) {
	rows, err := h.catalog.IDs(r.Context())
	if err != nil {
		writeCatalogError(w, err, "Failed to list CVE IDs")
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// ListAll returns every row with all columns.
// GET /
func (h *CatalogHandler) ListAll(w http.ResponseWriter, r *http.Request) {
	rows, err := h.catalog.All(r.Context(), catalog.Page{})
	if err != nil {
		writeCatalogError(w, err, "Failed to list catalog")
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// Count returns the number of rows.
// GET /count
func (h *CatalogHandler) Count(w http.ResponseWriter, r *http.Request) {
	n, err := h.catalog.Count(r.Context())
	if err != nil {
		writeCatalogError(w, err, "Failed to count catalog")
		return
	}
	writeJSON(w, http.StatusOK, model.CountResponse{Count: n})
}

// GetByID returns the rows whose identifier matches exactly.
// GET /cve/{cveID}
func (h *CatalogHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "cveID")
	rows, err := h.catalog.ByID(r.Context(), id)
	if err != nil {
		writeCatalogError(w, err, "Failed to look up "+id)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// ListByVendor returns the rows whose vendor matches, ignoring case.
// GET /{vendor}
func (h *CatalogHandler) ListByVendor(w http.ResponseWriter, r *http.Request) {
	vendor := chi.URLParam(r, "vendor")
	rows, err := h.catalog.ByVendor(r.Context(), vendor)
	if err != nil {
		writeCatalogError(w, err, "Failed to list vendor "+vendor)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}
