package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/faucetdb/kevd/internal/model"
)

// Refresher reloads the catalog.
type Refresher interface {
	Refresh(ctx context.Context) (int, error)
}

// Pinger reports whether the store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SystemHandler serves the refresh trigger and the health probes.
type SystemHandler struct {
	refresher Refresher
	store     Pinger
}

// NewSystemHandler creates a new SystemHandler.
func NewSystemHandler(refresher Refresher, store Pinger) *SystemHandler {
	return &SystemHandler{refresher: refresher, store: store}
}

// Refresh downloads the feed and replaces the catalog. The refresh completes
// even if the client disconnects.
// POST /update-kev
func (h *SystemHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	n, err := h.refresher.Refresh(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, model.RefreshResponse{
		Message:     "KEV catalog updated",
		RecordCount: n,
	})
}

// Healthz reports that the process is serving.
// GET /healthz
func (h *SystemHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readyz reports whether the store is reachable.
// GET /readyz
func (h *SystemHandler) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		writeError(w, http.StatusServiceUnavailable, "Store unreachable: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
